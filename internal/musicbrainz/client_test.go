package musicbrainz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("airwave-test/0.1")
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c, srv
}

func searchHandler(t *testing.T, groups []releaseGroupResult) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "airwave-test/0.1" {
			t.Errorf("unexpected user agent %q", got)
		}
		if err := json.NewEncoder(w).Encode(searchResponse{ReleaseGroups: groups}); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}
}

func rg(title, primary string, secondary ...string) releaseGroupResult {
	return releaseGroupResult{
		ID:             "rg-" + title,
		Title:          title,
		PrimaryType:    primary,
		SecondaryTypes: secondary,
		ArtistCredit:   []artistCredit{{Name: "Pink Floyd"}},
	}
}

func TestIsSingleMatchesSingleReleaseGroup(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money", "Single"),
	}))

	if !c.IsSingle(context.Background(), "Money", "Pink Floyd") {
		t.Error("expected single release-group to confirm")
	}
}

func TestIsSingleRejectsAlbumOnly(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money", "Album"),
	}))

	if c.IsSingle(context.Background(), "Money", "Pink Floyd") {
		t.Error("album release-group must not confirm a single")
	}
}

func TestIsSingleVersionGuard(t *testing.T) {
	// The library track is a live variant; only a studio single exists.
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money", "Single"),
	}))

	if c.IsSingle(context.Background(), "Money (Live in Wacken 2022)", "Pink Floyd") {
		t.Error("live track must not match a studio single release-group")
	}
}

func TestIsSingleLiveVariantMatchesLiveSingle(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money (Live)", "Single", "Live"),
	}))

	if !c.IsSingle(context.Background(), "Money (Live)", "Pink Floyd") {
		t.Error("live track should match a live single release-group")
	}
}

func TestIsSingleRejectsRemixSecondary(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money", "Single", "Remix"),
	}))

	if c.IsSingle(context.Background(), "Money", "Pink Floyd") {
		t.Error("remix release-group must not confirm a plain track")
	}
}

func TestIsSingleRejectsOtherArtist(t *testing.T) {
	group := rg("Money", "Single")
	group.ArtistCredit = []artistCredit{{Name: "Some Cover Band"}}
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{group}))

	if c.IsSingle(context.Background(), "Money", "Pink Floyd") {
		t.Error("release-group credited to another artist must not confirm")
	}
}

func TestIsSingleAcceptsEponymousEP(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money", "EP"),
	}))

	if !c.IsSingle(context.Background(), "Money", "Pink Floyd") {
		t.Error("eponymous EP should confirm a single")
	}
}

func TestLiveVersionExists(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money (Live)", "Album", "Live"),
	}))

	if !c.LiveVersionExists(context.Background(), "Money (Live at Pompeii)", "Pink Floyd") {
		t.Error("expected live release-group to be found")
	}
}

func TestLiveVersionExistsNoLiveGroup(t *testing.T) {
	c, _ := testClient(t, searchHandler(t, []releaseGroupResult{
		rg("Money", "Album"),
	}))

	if c.LiveVersionExists(context.Background(), "Money (Live)", "Pink Floyd") {
		t.Error("studio-only release-groups must not confirm a live version")
	}
}

func TestReleaseGroupLookup(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(releaseGroupResult{
			ID:               "abc-123",
			Title:            "The Dark Side of the Moon",
			PrimaryType:      "Album",
			FirstReleaseDate: "1973-03-01",
			ArtistCredit:     []artistCredit{{Name: "Pink Floyd"}},
		}); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	})

	g, ok := c.ReleaseGroup(context.Background(), "abc-123")
	if !ok {
		t.Fatal("expected lookup to succeed")
	}
	if g.Title != "The Dark Side of the Moon" || g.FirstReleaseDate != "1973-03-01" {
		t.Errorf("unexpected release group %+v", g)
	}
	if g.Artist != "Pink Floyd" {
		t.Errorf("expected artist credit extracted, got %q", g.Artist)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewEncoder(w).Encode(searchResponse{}); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	})

	var out searchResponse
	if err := c.getJSON(context.Background(), c.baseURL+"/release-group?fmt=json", &out); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestGetJSONNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	var out searchResponse
	if err := c.getJSON(context.Background(), c.baseURL+"/release-group?fmt=json", &out); err == nil {
		t.Fatal("expected error on 400")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}
}

func TestGetJSONTightDeadlineLimitsRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/release-group?fmt=json", &out); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("tight deadline allows a single retry, got %d attempts", got)
	}
}

func TestSearchResultsAreCached(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := json.NewEncoder(w).Encode(searchResponse{ReleaseGroups: []releaseGroupResult{
			rg("Money", "Single"),
		}}); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if !c.IsSingle(ctx, "Money", "Pink Floyd") {
			t.Fatal("expected single")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected one upstream call, got %d", got)
	}
}
