// Package musicbrainz is the first metadata client: release-group lookups
// that confirm (or deny) a track's single status, guarded against version
// mismatches such as live or remix release-groups.
package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/llehouerou/airwave/internal/apicache"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/titles"
)

const (
	defaultBaseURL = "https://musicbrainz.org/ws/2"

	// Retry configuration. The timeout-safe variant applies automatically
	// when the caller's deadline is tight.
	maxRetries        = 3
	timeoutSafeRetry  = 1
	initialBackoff    = 300 * time.Millisecond
	timeoutSafeBudget = 30 * time.Second
)

// Client provides access to the MusicBrainz API. MusicBrainz allows one
// request per second per client; the limiter enforces that globally.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter

	groups  *apicache.Cache[string, []ReleaseGroup]
	lookups *apicache.Cache[string, *ReleaseGroup]
}

// NewClient creates a MusicBrainz client. userAgent identifies this
// application as required by the MusicBrainz terms of service.
func NewClient(userAgent string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		groups:     apicache.New[string, []ReleaseGroup](apicache.DefaultMaxEntries),
		lookups:    apicache.New[string, *ReleaseGroup](apicache.DefaultMaxEntries),
	}
}

// IsSingle reports whether a qualifying release-group marks (title, artist)
// as a single. Version tokens extracted from the track title must match the
// candidate's exactly: "Song (Live)" never matches a studio single "Song".
func (c *Client) IsSingle(ctx context.Context, title, artist string) bool {
	groups, ok := c.searchReleaseGroups(ctx, title, artist)
	if !ok {
		return false
	}
	trackTokens := titles.VersionTokens(title)
	want := titles.Normalize(title)

	for i := range groups {
		g := &groups[i]
		if titles.Normalize(g.Title) != want {
			continue
		}
		if !titles.SameVersionTokens(titles.VersionTokens(g.Title), trackTokens) {
			continue
		}
		if rejectedSecondary(g.SecondaryTypes, trackTokens) {
			continue
		}
		switch g.PrimaryType {
		case "Single":
			return true
		case "EP":
			// An EP only counts when it is named after the track itself.
			return true
		}
	}
	return false
}

// LiveVersionExists reports whether a live release-group of (title, artist)
// exists. Used to confirm live tracks, which are otherwise never singles.
func (c *Client) LiveVersionExists(ctx context.Context, title, artist string) bool {
	groups, ok := c.searchReleaseGroups(ctx, titles.BaseTitle(title), artist)
	if !ok {
		return false
	}
	base := titles.Normalize(titles.BaseTitle(title))
	for i := range groups {
		g := &groups[i]
		if titles.Normalize(titles.BaseTitle(g.Title)) != base {
			continue
		}
		if hasSecondary(g.SecondaryTypes, "Live") {
			return true
		}
		if _, ok := titles.VersionTokens(g.Title)["live"]; ok {
			return true
		}
	}
	return false
}

// ReleaseGroup fetches a release-group by mbid. ok is false when the
// lookup failed or the id is unknown.
func (c *Client) ReleaseGroup(ctx context.Context, mbid string) (*ReleaseGroup, bool) {
	g, err := c.lookups.GetOrFill("rg:"+mbid, func() (*ReleaseGroup, error) {
		var result releaseGroupResult
		endpoint := fmt.Sprintf("%s/release-group/%s?fmt=json", c.baseURL, url.PathEscape(mbid))
		if err := c.getJSON(ctx, endpoint, &result); err != nil {
			return nil, err
		}
		return &ReleaseGroup{
			ID:               result.ID,
			Title:            result.Title,
			PrimaryType:      result.PrimaryType,
			SecondaryTypes:   result.SecondaryTypes,
			FirstReleaseDate: result.FirstReleaseDate,
			Artist:           extractArtist(result.ArtistCredit),
		}, nil
	})
	if err != nil {
		logging.Info().Str("api", "metadata_a").Str("endpoint", "release-group lookup").
			Str("mbid", mbid).Str("reason", err.Error()).Msg("lookup failed")
		return nil, false
	}
	if g == nil || g.ID == "" {
		return nil, false
	}
	return g, true
}

// searchReleaseGroups queries release-groups for a title restricted by
// artist. Failures are logged and reported as a miss.
func (c *Client) searchReleaseGroups(ctx context.Context, title, artist string) ([]ReleaseGroup, bool) {
	key := "search:" + titles.Normalize(artist) + ":" + titles.Normalize(title)
	groups, err := c.groups.GetOrFill(key, func() ([]ReleaseGroup, error) {
		params := url.Values{}
		params.Set("query", fmt.Sprintf("releasegroup:%q AND artist:%q", title, artist))
		params.Set("fmt", "json")
		params.Set("limit", "25")

		var result searchResponse
		endpoint := fmt.Sprintf("%s/release-group?%s", c.baseURL, params.Encode())
		if err := c.getJSON(ctx, endpoint, &result); err != nil {
			return nil, err
		}

		wantArtist := titles.Normalize(artist)
		groups := make([]ReleaseGroup, 0, len(result.ReleaseGroups))
		for i := range result.ReleaseGroups {
			r := &result.ReleaseGroups[i]
			credited := extractArtist(r.ArtistCredit)
			if credited != "" && titles.Normalize(credited) != wantArtist {
				continue
			}
			groups = append(groups, ReleaseGroup{
				ID:               r.ID,
				Title:            r.Title,
				PrimaryType:      r.PrimaryType,
				SecondaryTypes:   r.SecondaryTypes,
				FirstReleaseDate: r.FirstReleaseDate,
				Artist:           credited,
				Score:            r.Score,
			})
		}
		return groups, nil
	})
	if err != nil {
		logging.Info().Str("api", "metadata_a").Str("endpoint", "release-group search").
			Str("artist", artist).Str("title", title).Str("reason", err.Error()).
			Msg("lookup failed")
		return nil, false
	}
	return groups, true
}

// rejectedSecondary implements the secondary-type guard: Live, Remix and
// Compilation release-groups are rejected unless the track's own version
// tokens require them.
func rejectedSecondary(secondary []string, trackTokens map[string]struct{}) bool {
	for _, s := range secondary {
		switch s {
		case "Live":
			if _, ok := trackTokens["live"]; !ok {
				return true
			}
		case "Remix":
			if _, ok := trackTokens["remix"]; !ok {
				return true
			}
		case "Compilation":
			return true
		}
	}
	return false
}

func hasSecondary(secondary []string, want string) bool {
	for _, s := range secondary {
		if s == want {
			return true
		}
	}
	return false
}

// getJSON performs a GET with rate limiting, retry and backoff, decoding
// the response into out. 5xx responses are retried with doubling backoff;
// 4xx responses fail immediately. 429 honors Retry-After when the
// caller's budget allows.
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
		req.Header.Set("Accept", "application/json")

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
