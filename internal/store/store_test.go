package store

import (
	"context"
	"testing"
	"time"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertArtistCaseInsensitive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id1, err := s.UpsertArtist(ctx, "The Beatles")
	if err != nil {
		t.Fatalf("upsert artist: %v", err)
	}
	id2, err := s.UpsertArtist(ctx, "the beatles")
	if err != nil {
		t.Fatalf("upsert artist again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same artist id, got %d and %d", id1, id2)
	}

	a, err := s.ArtistByName("THE BEATLES")
	if err != nil {
		t.Fatalf("artist by name: %v", err)
	}
	if a == nil {
		t.Fatal("expected artist")
	}
	if a.Name != "The Beatles" {
		t.Errorf("expected first-import casing to win, got %q", a.Name)
	}
}

func TestUpsertAlbumScopedToArtist(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	beatles, _ := s.UpsertArtist(ctx, "The Beatles")
	floyd, _ := s.UpsertArtist(ctx, "Pink Floyd")

	a1, err := s.UpsertAlbum(ctx, beatles, "Greatest Hits")
	if err != nil {
		t.Fatalf("upsert album: %v", err)
	}
	a2, err := s.UpsertAlbum(ctx, floyd, "Greatest Hits")
	if err != nil {
		t.Fatalf("upsert album: %v", err)
	}
	if a1 == a2 {
		t.Error("same-named albums of different artists must be distinct")
	}

	again, _ := s.UpsertAlbum(ctx, beatles, "greatest hits")
	if again != a1 {
		t.Errorf("expected album id %d, got %d", a1, again)
	}
}

func TestSetArtistMetaMergesIDs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, _ := s.UpsertArtist(ctx, "Pink Floyd")
	if err := s.SetArtistMeta(ctx, id, ExternalIDs{Popularity: "sp-123"}, []string{"progressive rock"}); err != nil {
		t.Fatalf("set artist meta: %v", err)
	}
	if err := s.SetArtistMeta(ctx, id, ExternalIDs{MetadataA: "mb-456"}, nil); err != nil {
		t.Fatalf("set artist meta: %v", err)
	}

	a, err := s.ArtistByName("Pink Floyd")
	if err != nil {
		t.Fatalf("artist by name: %v", err)
	}
	if a.ExternalIDs.Popularity != "sp-123" {
		t.Errorf("popularity id lost on second update: %+v", a.ExternalIDs)
	}
	if a.ExternalIDs.MetadataA != "mb-456" {
		t.Errorf("metadata id missing: %+v", a.ExternalIDs)
	}
	if len(a.Genres) != 1 || a.Genres[0] != "progressive rock" {
		t.Errorf("genres lost: %v", a.Genres)
	}
}

func TestSaveArtistStats(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, _ := s.UpsertArtist(ctx, "Pink Floyd")
	err := s.SaveArtistStats(ctx, id, ArtistStats{Mean: 55.5, Median: 60, Stddev: 12.3, TrackCount: 42})
	if err != nil {
		t.Fatalf("save artist stats: %v", err)
	}

	a, _ := s.ArtistByName("Pink Floyd")
	if a.PopMean == nil || *a.PopMean != 55.5 {
		t.Errorf("expected mean 55.5, got %v", a.PopMean)
	}
	if a.PopMedian == nil || *a.PopMedian != 60 {
		t.Errorf("expected median 60, got %v", a.PopMedian)
	}
	if a.TrackCount != 42 {
		t.Errorf("expected 42 tracks, got %d", a.TrackCount)
	}
	if a.StatsUpdatedAt.IsZero() {
		t.Error("expected stats timestamp")
	}
}

func TestSetAlbumMetaKeepsExistingOnZero(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	artistID, _ := s.UpsertArtist(ctx, "The Beatles")
	albumID, _ := s.UpsertAlbum(ctx, artistID, "Abbey Road")

	err := s.SetAlbumMeta(ctx, albumID, AlbumMeta{
		ReleaseDate: "1969-09-26",
		Year:        1969,
		AlbumType:   "album",
		TrackCount:  17,
		CoverURL:    "http://covers/abbey-road.jpg",
		Genres:      []string{"rock"},
		ExternalIDs: ExternalIDs{MetadataA: "mb-rg-1"},
	})
	if err != nil {
		t.Fatalf("set album meta: %v", err)
	}
	// A later partial update must not blank earlier fields.
	if err := s.SetAlbumMeta(ctx, albumID, AlbumMeta{ExternalIDs: ExternalIDs{MetadataB: "dg-9"}}); err != nil {
		t.Fatalf("set album meta: %v", err)
	}

	a, err := s.AlbumByID(albumID)
	if err != nil {
		t.Fatalf("album by id: %v", err)
	}
	if a.Year != 1969 || a.AlbumType != "album" || a.CoverURL == "" {
		t.Errorf("earlier fields lost: %+v", a)
	}
	if a.ExternalIDs.MetadataA != "mb-rg-1" || a.ExternalIDs.MetadataB != "dg-9" {
		t.Errorf("external ids not merged: %+v", a.ExternalIDs)
	}
	if a.LastScanned.IsZero() {
		t.Error("expected last_scanned to be set")
	}

	byName, err := s.AlbumByName("the beatles", "ABBEY ROAD")
	if err != nil {
		t.Fatalf("album by name: %v", err)
	}
	if byName == nil || byName.ID != albumID {
		t.Error("album lookup by name failed")
	}
}

func TestLovedFlags(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.UpsertTrack(ctx, &Track{Title: "Hey Jude", Artist: "The Beatles", Album: "1", Duration: 431})
	if err != nil {
		t.Fatalf("upsert track: %v", err)
	}

	if err := s.SetTrackLoved(ctx, "alice", id, true); err != nil {
		t.Fatalf("love track: %v", err)
	}
	loved, err := s.IsTrackLoved("alice", id)
	if err != nil {
		t.Fatalf("is loved: %v", err)
	}
	if !loved {
		t.Error("expected track to be loved")
	}

	ids, err := s.LovedTrackIDs("alice")
	if err != nil {
		t.Fatalf("loved ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("expected [%d], got %v", id, ids)
	}

	if err := s.SetTrackLoved(ctx, "alice", id, false); err != nil {
		t.Fatalf("unlove track: %v", err)
	}
	loved, _ = s.IsTrackLoved("alice", id)
	if loved {
		t.Error("expected track to be unloved")
	}
}

func TestExternalIDsRoundTrip(t *testing.T) {
	ids := ExternalIDs{Popularity: "sp", Scrobbles: "lf", MetadataA: "mb", MetadataB: "dg"}
	out := unmarshalIDs(marshalIDs(ids))
	if out != ids {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if marshalIDs(ExternalIDs{}) != "{}" {
		t.Errorf("empty ids should marshal to {}, got %s", marshalIDs(ExternalIDs{}))
	}
}

func TestWasScannedWithin(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	s.now = func() time.Time { return base }

	err := s.RecordScan(ctx, ScanEntry{
		Artist: "Pink Floyd", Album: "Animals",
		ScanType: ScanPopularity, Status: StatusCompleted, TracksProcessed: 5,
	})
	if err != nil {
		t.Fatalf("record scan: %v", err)
	}

	s.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	ok, err := s.WasScannedWithin("Pink Floyd", "Animals", ScanPopularity, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("was scanned: %v", err)
	}
	if !ok {
		t.Error("scan 10 days ago should count inside a 30 day window")
	}

	s.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }
	ok, _ = s.WasScannedWithin("Pink Floyd", "Animals", ScanPopularity, 30*24*time.Hour)
	if ok {
		t.Error("scan 40 days ago should fall outside a 30 day window")
	}

	ok, _ = s.WasScannedWithin("Pink Floyd", "Animals", ScanLibraryImport, 30*24*time.Hour)
	if ok {
		t.Error("other scan types must not match")
	}
}

func TestRecordScanOneCompletedPerDay(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	morning := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	evening := time.Date(2026, 3, 10, 21, 0, 0, 0, time.Local)
	nextDay := time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)

	entry := ScanEntry{Artist: "The Beatles", Album: "Abbey Road", ScanType: ScanPopularity}

	e := entry
	e.Status = StatusCompleted
	e.Timestamp = morning
	e.TracksProcessed = 10
	if err := s.RecordScan(ctx, e); err != nil {
		t.Fatalf("record scan: %v", err)
	}

	e.Timestamp = evening
	e.TracksProcessed = 17
	if err := s.RecordScan(ctx, e); err != nil {
		t.Fatalf("record scan: %v", err)
	}

	// An error entry the same day is a separate row.
	e.Status = StatusError
	e.Timestamp = evening.Add(time.Hour)
	if err := s.RecordScan(ctx, e); err != nil {
		t.Fatalf("record scan: %v", err)
	}

	// A completed entry the next day is a separate row again.
	e.Status = StatusCompleted
	e.Timestamp = nextDay
	if err := s.RecordScan(ctx, e); err != nil {
		t.Fatalf("record scan: %v", err)
	}

	entries, err := s.RecentScans(50)
	if err != nil {
		t.Fatalf("recent scans: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (merged completed, error, next-day completed), got %d", len(entries))
	}

	completedToday := 0
	for _, got := range entries {
		if got.Status == StatusCompleted && got.Timestamp.Day() == 10 {
			completedToday++
			if got.TracksProcessed != 17 {
				t.Errorf("expected the later completed entry to win, got %d tracks", got.TracksProcessed)
			}
		}
	}
	if completedToday != 1 {
		t.Errorf("expected exactly one completed entry for the day, got %d", completedToday)
	}
}
