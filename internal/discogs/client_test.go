package discogs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/llehouerou/airwave/internal/apicache"
)

func testClient(t *testing.T, release releaseResponse) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Discogs token=secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/database/search"):
			resp := searchResponse{Results: []searchResult{{ID: release.ID, Title: release.Title}}}
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				t.Fatalf("encode search: %v", err)
			}
		case strings.HasPrefix(r.URL.Path, "/releases/"):
			if err := json.NewEncoder(w).Encode(release); err != nil {
				t.Fatalf("encode release: %v", err)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient("secret", "airwave-test/0.1")
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func singleRelease(trackTitle string) releaseResponse {
	return releaseResponse{
		ID:    101,
		Title: "Pink Floyd - " + trackTitle,
		Year:  1979,
		Formats: []formatResult{
			{Name: "Vinyl", Qty: "1", Descriptions: []string{`7"`, "Single", "45 RPM"}},
		},
		Tracklist: []trackResult{
			{Title: trackTitle, Duration: "3:51"},
			{Title: "One of My Turns", Duration: "3:35"},
		},
	}
}

func TestFindReleaseByTitle(t *testing.T) {
	c := testClient(t, singleRelease("Another Brick in the Wall"))

	rel, ok := c.FindRelease(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0)
	if !ok {
		t.Fatal("expected release found")
	}
	if rel.ID != 101 || rel.Year != 1979 {
		t.Errorf("unexpected release %+v", rel)
	}
}

func TestFindReleaseByDuration(t *testing.T) {
	c := testClient(t, singleRelease("Another Brick in the Wall, Part 2"))

	// Title differs but 3:51 is within 2s of 230s.
	rel, ok := c.FindRelease(context.Background(), "Another Brick in the Wall", "Pink Floyd", 230)
	if !ok || rel == nil {
		t.Fatal("expected duration match")
	}
}

func TestFindReleaseNoTrackMatch(t *testing.T) {
	c := testClient(t, singleRelease("Comfortably Numb"))

	if _, ok := c.FindRelease(context.Background(), "Mother", "Pink Floyd", 0); ok {
		t.Error("release without the track must not match")
	}
}

func TestIsSingleFormatDescriptor(t *testing.T) {
	c := testClient(t, singleRelease("Another Brick in the Wall"))

	if !c.IsSingle(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{}) {
		t.Error("expected single by format descriptor")
	}
}

func TestIsSingleTwoTrackRelease(t *testing.T) {
	rel := singleRelease("Another Brick in the Wall")
	rel.Formats = []formatResult{{Name: "Vinyl", Qty: "1"}}
	c := testClient(t, rel)

	if !c.IsSingle(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{}) {
		t.Error("expected a two-track release to count as single")
	}
}

func TestIsSingleFullAlbumRejected(t *testing.T) {
	rel := releaseResponse{
		ID:      102,
		Title:   "Pink Floyd - The Wall",
		Formats: []formatResult{{Name: "Vinyl", Qty: "2", Descriptions: []string{"LP", "Album"}}},
		Tracklist: []trackResult{
			{Title: "In the Flesh?"}, {Title: "The Thin Ice"}, {Title: "Mother"},
			{Title: "Goodbye Blue Sky"}, {Title: "Empty Spaces"},
		},
	}
	c := testClient(t, rel)

	if c.IsSingle(context.Background(), "Mother", "Pink Floyd", 0, Context{}) {
		t.Error("album release must not count as single")
	}
}

func TestIsSingleMasterGroupingFlag(t *testing.T) {
	album := releaseResponse{
		ID:       301,
		Title:    "Pink Floyd - The Wall",
		MasterID: 777,
		Formats:  []formatResult{{Name: "Vinyl", Qty: "2", Descriptions: []string{"LP", "Album"}}},
		Tracklist: []trackResult{
			{Title: "In the Flesh?"}, {Title: "The Thin Ice"}, {Title: "Mother"},
			{Title: "Goodbye Blue Sky"}, {Title: "Empty Spaces"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/database/search"):
			resp := searchResponse{Results: []searchResult{
				{ID: 301, Title: album.Title, MasterID: 777},
				{ID: 302, Title: "Pink Floyd - Mother", MasterID: 777, Format: []string{"Vinyl", "Single"}},
			}}
			_ = json.NewEncoder(w).Encode(resp)
		case r.URL.Path == "/releases/301":
			_ = json.NewEncoder(w).Encode(album)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient("secret", "airwave-test/0.1")
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	// The album release itself is no single, but its master grouping
	// also holds a single-format release.
	if !c.IsSingle(context.Background(), "Mother", "Pink Floyd", 0, Context{}) {
		t.Error("a single-format release under the same master must flag the track")
	}
}

func TestHasOfficialVideo(t *testing.T) {
	rel := singleRelease("Another Brick in the Wall")
	rel.Videos = []videoResult{
		{Title: "Pink Floyd - Another Brick in the Wall (Official Music Video)", URI: "https://example.com/v"},
	}
	c := testClient(t, rel)

	if !c.HasOfficialVideo(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{}) {
		t.Error("expected official video match")
	}
}

func TestHasOfficialVideoRejectsLiveFlavor(t *testing.T) {
	rel := singleRelease("Another Brick in the Wall")
	rel.Videos = []videoResult{
		{Title: "Pink Floyd - Another Brick in the Wall (Official Live Video)"},
	}
	c := testClient(t, rel)

	if c.HasOfficialVideo(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{}) {
		t.Error("live video must not match a studio album context")
	}
	c.releases = apicache.New[string, *Release](0)
	if !c.HasOfficialVideo(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{IsLive: true}) {
		t.Error("live video should match a live album context")
	}
}

func TestHasOfficialVideoAliveTitleNotLiveFlavored(t *testing.T) {
	rel := singleRelease("Still Alive")
	rel.Videos = []videoResult{
		{Title: "Still Alive (Official Music Video)"},
	}
	c := testClient(t, rel)

	if !c.HasOfficialVideo(context.Background(), "Still Alive", "Pink Floyd", 0, Context{}) {
		t.Error("a title containing Alive must not be treated as live-flavored")
	}
}

func TestHasOfficialVideoRejectsRemix(t *testing.T) {
	rel := singleRelease("Another Brick in the Wall")
	rel.Videos = []videoResult{
		{Title: "Pink Floyd - Another Brick in the Wall (Official Remix Video)"},
	}
	c := testClient(t, rel)

	if c.HasOfficialVideo(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{}) {
		t.Error("remix video must never match")
	}
}

func TestHasOfficialVideoRejectsUnrelatedTitle(t *testing.T) {
	rel := singleRelease("Another Brick in the Wall")
	rel.Videos = []videoResult{
		{Title: "Interview with the Band (Official)"},
	}
	c := testClient(t, rel)

	if c.HasOfficialVideo(context.Background(), "Another Brick in the Wall", "Pink Floyd", 0, Context{}) {
		t.Error("unrelated video title must not match")
	}
}

func TestContextFromAlbum(t *testing.T) {
	if got := ContextFromAlbum("Pulse (Live)", ""); !got.IsLive {
		t.Error("expected live context")
	}
	if got := ContextFromAlbum("MTV Unplugged in New York", ""); !got.IsUnplugged || !got.IsLive {
		t.Error("expected unplugged and live context")
	}
	if got := ContextFromAlbum("The Wall", ""); got.IsLive || got.IsUnplugged {
		t.Error("expected studio context")
	}
}

func TestReleaseCached(t *testing.T) {
	var searches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/database/search") {
			searches.Add(1)
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/database/search"):
			resp := searchResponse{Results: []searchResult{{ID: 101}}}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			_ = json.NewEncoder(w).Encode(singleRelease("Money"))
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient("secret", "airwave-test/0.1")
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, ok := c.FindRelease(ctx, "Money", "Pink Floyd", 0); !ok {
			t.Fatal("expected release")
		}
	}
	if got := searches.Load(); got != 1 {
		t.Errorf("expected one upstream search, got %d", got)
	}
}
