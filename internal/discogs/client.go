// Package discogs is the second metadata client: release lookups that add
// single-format evidence and official-video evidence on top of the
// release-group signal.
package discogs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/llehouerou/airwave/internal/apicache"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/titles"
)

const (
	defaultBaseURL = "https://api.discogs.com"

	maxRetries        = 3
	timeoutSafeRetry  = 1
	initialBackoff    = 300 * time.Millisecond
	timeoutSafeBudget = 30 * time.Second

	// A video counts as a match only when its cleaned title is at least
	// this similar to the track title.
	videoMatchRatio = 0.50

	// Search results fetched in detail per lookup. Discogs allows 60
	// requests per minute; more than a handful per track starves the scan.
	maxDetailFetches = 3

	durationTolerance = 2 // seconds
)

// Client provides access to the Discogs API using a personal token.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter

	releases *apicache.Cache[string, *Release]
}

// NewClient creates a Discogs client. token is a personal access token;
// userAgent identifies the application as Discogs requires.
func NewClient(token, userAgent string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
		releases:   apicache.New[string, *Release](apicache.DefaultMaxEntries),
	}
}

// FindRelease looks up a release containing (title, artist). durationSec
// disambiguates when > 0: a tracklist entry matches on normalized title or
// on duration within two seconds. ok is false on miss or failure.
func (c *Client) FindRelease(ctx context.Context, title, artist string, durationSec int) (*Release, bool) {
	key := "release:" + titles.Normalize(artist) + ":" + titles.Normalize(title)
	rel, err := c.releases.GetOrFill(key, func() (*Release, error) {
		return c.searchRelease(ctx, title, artist, durationSec)
	})
	if err != nil {
		logging.Info().Str("api", "metadata_b").Str("endpoint", "database search").
			Str("artist", artist).Str("title", title).Str("reason", err.Error()).
			Msg("lookup failed")
		return nil, false
	}
	if rel == nil {
		return nil, false
	}
	return rel, true
}

// IsSingle reports whether the track was released as a single: single
// format or descriptor, a 1-2 track release, a 1-2 track promo, or a
// master grouping with a single-format release. durationSec disambiguates
// the tracklist match when > 0.
func (c *Client) IsSingle(ctx context.Context, title, artist string, durationSec int, albumCtx Context) bool {
	rel, ok := c.FindRelease(ctx, title, artist, durationSec)
	if !ok {
		return false
	}
	return releaseIsSingle(rel)
}

// HasOfficialVideo reports whether the release carries an official (or
// lyric) video for the track. Live-flavored videos only match when the
// album context is live; remix-flavored videos never match.
func (c *Client) HasOfficialVideo(ctx context.Context, title, artist string, durationSec int, albumCtx Context) bool {
	rel, ok := c.FindRelease(ctx, title, artist, durationSec)
	if !ok {
		return false
	}
	for i := range rel.Videos {
		if videoMatches(&rel.Videos[i], title, albumCtx) {
			return true
		}
	}
	return false
}

// ContextFromAlbum infers the recording context from the album title and
// release notes.
func ContextFromAlbum(albumTitle, notes string) Context {
	combined := albumTitle + " " + notes
	return Context{
		IsLive:      titles.IsLiveTitle(combined),
		IsUnplugged: strings.Contains(strings.ToLower(combined), "unplugged"),
	}
}

func (c *Client) searchRelease(ctx context.Context, title, artist string, durationSec int) (*Release, error) {
	params := url.Values{}
	params.Set("track", title)
	params.Set("artist", artist)
	params.Set("type", "release")
	params.Set("per_page", "10")

	var search searchResponse
	endpoint := fmt.Sprintf("%s/database/search?%s", c.baseURL, params.Encode())
	if err := c.getJSON(ctx, endpoint, &search); err != nil {
		return nil, err
	}

	fetched := 0
	for i := range search.Results {
		if fetched >= maxDetailFetches {
			break
		}
		fetched++

		var detail releaseResponse
		endpoint := fmt.Sprintf("%s/releases/%d", c.baseURL, search.Results[i].ID)
		if err := c.getJSON(ctx, endpoint, &detail); err != nil {
			return nil, err
		}
		rel := convertRelease(&detail)
		if trackInRelease(rel, title, durationSec) {
			rel.MasterSingle = masterFlaggedSingle(rel.MasterID, search.Results)
			return rel, nil
		}
	}
	return nil, nil
}

func convertRelease(r *releaseResponse) *Release {
	rel := &Release{
		ID:       r.ID,
		Title:    r.Title,
		Year:     r.Year,
		Country:  r.Country,
		MasterID: r.MasterID,
	}
	if len(r.Labels) > 0 {
		rel.Label = r.Labels[0].Name
	}
	for _, f := range r.Formats {
		rel.Formats = append(rel.Formats, Format{Name: f.Name, Qty: f.Qty, Descriptions: f.Descriptions})
	}
	for _, t := range r.Tracklist {
		rel.Tracklist = append(rel.Tracklist, ReleaseTrack{Title: t.Title, Duration: t.Duration})
	}
	for _, v := range r.Videos {
		rel.Videos = append(rel.Videos, Video{Title: v.Title, Description: v.Description, URI: v.URI})
	}
	return rel
}

// trackInRelease reports whether the release tracklist contains the track,
// by normalized title or by duration within tolerance.
func trackInRelease(rel *Release, title string, durationSec int) bool {
	want := titles.Normalize(title)
	for _, t := range rel.Tracklist {
		if titles.Normalize(t.Title) == want {
			return true
		}
		if durationSec > 0 {
			if secs, ok := parseDuration(t.Duration); ok && abs(secs-durationSec) <= durationTolerance {
				return true
			}
		}
	}
	return false
}

// masterFlaggedSingle reports whether any search result under the same
// master grouping carries a single format. The track's own release may be
// the album, while the grouping also holds the 7" single.
func masterFlaggedSingle(masterID int, results []searchResult) bool {
	if masterID == 0 {
		return false
	}
	for i := range results {
		if results[i].MasterID != masterID {
			continue
		}
		for _, f := range results[i].Format {
			if strings.Contains(strings.ToLower(f), "single") {
				return true
			}
		}
	}
	return false
}

func releaseIsSingle(rel *Release) bool {
	if rel.MasterSingle {
		return true
	}
	promo := false
	for _, f := range rel.Formats {
		if strings.Contains(strings.ToLower(f.Name), "single") {
			return true
		}
		for _, d := range f.Descriptions {
			lower := strings.ToLower(d)
			if strings.Contains(lower, "single") || strings.Contains(lower, "maxi-single") {
				return true
			}
			if strings.Contains(lower, "promo") {
				promo = true
			}
		}
	}
	n := len(rel.Tracklist)
	if n >= 1 && n <= 2 {
		return true
	}
	if promo && n <= 2 {
		return true
	}
	return false
}

func videoMatches(v *Video, trackTitle string, albumCtx Context) bool {
	combined := strings.ToLower(v.Title + " " + v.Description)
	if !strings.Contains(combined, "official") && !strings.Contains(combined, "lyric") {
		return false
	}
	if strings.Contains(combined, "remix") {
		return false
	}
	if containsWord(combined, "live") && !albumCtx.IsLive && !albumCtx.IsUnplugged {
		return false
	}
	cleaned := cleanVideoTitle(v.Title)
	return titles.Similarity(cleaned, titles.Normalize(trackTitle)) >= videoMatchRatio
}

// cleanVideoTitle strips the decoration video titles carry, e.g.
// "Artist - Song (Official Music Video)" becomes "artist song".
func cleanVideoTitle(s string) string {
	lower := strings.ToLower(s)
	for _, noise := range []string{
		"official music video", "official video", "official audio",
		"lyric video", "official lyric video", "official", "video", "hd", "4k",
	} {
		lower = strings.ReplaceAll(lower, noise, " ")
	}
	return titles.Normalize(lower)
}

// containsWord matches whole words only, so "Alive" does not read as
// live-flavored.
func containsWord(s, word string) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if f == word {
			return true
		}
	}
	return false
}

func parseDuration(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, false
	}
	mins, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return mins*60 + secs, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// getJSON performs an authorized GET with rate limiting, retry and
// backoff. Same retry policy as the other metadata client: 5xx retried
// with doubling backoff, 4xx fails immediately, 429 honors Retry-After
// within the caller's budget.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	retries := maxRetries
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeoutSafeBudget {
		retries = timeoutSafeRetry
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Authorization", "Discogs token="+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			wait := retryAfter(resp)
			if deadline, ok := ctx.Deadline(); ok && time.Now().Add(wait).After(deadline) {
				return fmt.Errorf("rate limited, retry-after %s exceeds budget", wait)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			lastErr = fmt.Errorf("server returned status 429")
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		default:
			resp.Body.Close()
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("request failed after %d attempts: %w", retries+1, lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return time.Second
}
