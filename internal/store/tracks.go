package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llehouerou/airwave/internal/db"
)

const trackColumns = `id, album_id, library_id, title, artist, album, duration, isrc, path,
	external_ids, popularity, stars, is_single, single_confidence, single_sources,
	album_z, artist_z, alternate_take, base_track_id, last_popularity_lookup, last_scanned`

// durationTolerance is the window, in seconds, within which two durations
// are considered the same recording.
const durationTolerance = 2

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*Track, error) {
	var (
		t            Track
		albumID      sql.NullInt64
		externalIDs  string
		sources      string
		albumZ       sql.NullFloat64
		artistZ      sql.NullFloat64
		baseTrackID  sql.NullInt64
		lastLookup   sql.NullInt64
		lastScanned  int64
		isSingle     int
		alternate    int
	)
	err := row.Scan(
		&t.ID, &albumID, &t.LibraryID, &t.Title, &t.Artist, &t.Album,
		&t.Duration, &t.ISRC, &t.Path,
		&externalIDs, &t.Popularity, &t.Stars, &isSingle, &t.SingleConfidence, &sources,
		&albumZ, &artistZ, &alternate, &baseTrackID, &lastLookup, &lastScanned,
	)
	if err != nil {
		return nil, err
	}
	t.AlbumID = albumID.Int64
	t.ExternalIDs = unmarshalIDs(externalIDs)
	t.SingleSources = unmarshalStrings(sources)
	t.IsSingle = isSingle != 0
	t.AlternateTake = alternate != 0
	if albumZ.Valid {
		t.AlbumZ = &albumZ.Float64
	}
	if artistZ.Valid {
		t.ArtistZ = &artistZ.Float64
	}
	if baseTrackID.Valid {
		t.BaseTrackID = &baseTrackID.Int64
	}
	if lastLookup.Valid {
		t.LastPopularityLookup = time.Unix(lastLookup.Int64, 0)
	}
	if lastScanned > 0 {
		t.LastScanned = time.Unix(lastScanned, 0)
	}
	return &t, nil
}

// TrackByID returns the track with the given id, or nil when absent.
func (s *Store) TrackByID(id int64) (*Track, error) {
	row := s.db.QueryRow(`SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query track %d: %w", id, err)
	}
	return t, nil
}

// TrackByContentKey returns the track matching the content key
// (artist, album, title, duration±2s), or nil when absent.
func (s *Store) TrackByContentKey(artist, album, title string, duration int) (*Track, error) {
	return trackByContentKey(s.db, artist, album, title, duration)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func trackByContentKey(q querier, artist, album, title string, duration int) (*Track, error) {
	row := q.QueryRow(`
SELECT `+trackColumns+`
FROM tracks
WHERE artist_lc = ? AND album_lc = ? AND title_lc = ?
	AND ABS(duration - ?) <= ?
ORDER BY ABS(duration - ?) ASC, id ASC
LIMIT 1`,
		lc(artist), lc(album), lc(title), duration, durationTolerance, duration)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query track by content key: %w", err)
	}
	return t, nil
}

func lc(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// qualityScore ranks two rows that share a content key. The richer row wins
// a merge; ties go to the more recently scanned row.
func qualityScore(t *Track) int {
	score := 0
	if t.ExternalIDs.MetadataA != "" {
		score += 500
	}
	if t.ExternalIDs.MetadataB != "" {
		score += 200
	}
	if t.Path != "" {
		score += 200
	}
	if t.Duration > 0 {
		score += 50
	}
	if t.Popularity > 0 {
		score += 30
	}
	if t.IsSingle {
		score += 20
	}
	if t.Stars > 0 {
		score += 10
	}
	return score
}

// mergeInto folds loser into winner. Winner fields stay unless empty;
// library ids and paths churn on re-import, so the newest scan owns them.
func mergeInto(winner, loser *Track) {
	newest, other := winner, loser
	if loser.LastScanned.After(winner.LastScanned) {
		newest, other = loser, winner
	}
	if newest.LibraryID != "" {
		winner.LibraryID = newest.LibraryID
	} else {
		winner.LibraryID = other.LibraryID
	}
	if newest.Path != "" {
		winner.Path = newest.Path
	} else if winner.Path == "" {
		winner.Path = other.Path
	}
	if newest.AlbumID != 0 {
		winner.AlbumID = newest.AlbumID
	} else if winner.AlbumID == 0 {
		winner.AlbumID = other.AlbumID
	}
	if winner.Duration == 0 {
		winner.Duration = loser.Duration
	}
	if winner.ISRC == "" {
		winner.ISRC = loser.ISRC
	}
	if winner.ExternalIDs.Popularity == "" {
		winner.ExternalIDs.Popularity = loser.ExternalIDs.Popularity
	}
	if winner.ExternalIDs.Scrobbles == "" {
		winner.ExternalIDs.Scrobbles = loser.ExternalIDs.Scrobbles
	}
	if winner.ExternalIDs.MetadataA == "" {
		winner.ExternalIDs.MetadataA = loser.ExternalIDs.MetadataA
	}
	if winner.ExternalIDs.MetadataB == "" {
		winner.ExternalIDs.MetadataB = loser.ExternalIDs.MetadataB
	}
	if winner.Popularity == 0 && loser.Popularity > 0 {
		winner.Popularity = loser.Popularity
	}
	if winner.Stars == 0 {
		winner.Stars = loser.Stars
	}
	if winner.SingleConfidence == "" || winner.SingleConfidence == ConfidenceNone {
		if loser.SingleConfidence == ConfidenceMedium || loser.SingleConfidence == ConfidenceHigh {
			winner.IsSingle = loser.IsSingle
			winner.SingleConfidence = loser.SingleConfidence
			winner.SingleSources = loser.SingleSources
		}
	}
	if winner.AlbumZ == nil {
		winner.AlbumZ = loser.AlbumZ
	}
	if winner.ArtistZ == nil {
		winner.ArtistZ = loser.ArtistZ
	}
	if !winner.AlternateTake {
		winner.AlternateTake = loser.AlternateTake
	}
	if winner.BaseTrackID == nil {
		winner.BaseTrackID = loser.BaseTrackID
	}
	if loser.LastPopularityLookup.After(winner.LastPopularityLookup) {
		winner.LastPopularityLookup = loser.LastPopularityLookup
	}
	if loser.LastScanned.After(winner.LastScanned) {
		winner.LastScanned = loser.LastScanned
	}
}

// UpsertTrack inserts t, or merges it into the existing track sharing its
// content key. It returns the id of the surviving row.
func (s *Store) UpsertTrack(ctx context.Context, t *Track) (int64, error) {
	if t.SingleConfidence == "" {
		t.SingleConfidence = ConfidenceNone
	}
	if t.LastScanned.IsZero() {
		t.LastScanned = s.now()
	}
	var id int64
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := trackByContentKey(tx, t.Artist, t.Album, t.Title, t.Duration)
		if err != nil {
			return err
		}
		if existing == nil {
			id, err = insertTrack(tx, t)
			return err
		}

		incoming := *t
		var merged Track
		incomingScore, existingScore := qualityScore(&incoming), qualityScore(existing)
		if incomingScore > existingScore ||
			(incomingScore == existingScore && incoming.LastScanned.After(existing.LastScanned)) {
			merged = incoming
			mergeInto(&merged, existing)
		} else {
			merged = *existing
			mergeInto(&merged, &incoming)
		}
		merged.ID = existing.ID
		id = existing.ID
		return updateTrack(tx, &merged)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert track %q: %w", t.Title, err)
	}
	return id, nil
}

func insertTrack(tx *sql.Tx, t *Track) (int64, error) {
	res, err := tx.Exec(`
INSERT INTO tracks (album_id, library_id, title, artist, album, title_lc, artist_lc, album_lc,
	duration, isrc, path, external_ids, popularity, stars, is_single, single_confidence,
	single_sources, album_z, artist_z, alternate_take, base_track_id,
	last_popularity_lookup, last_scanned)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.ToNullInt64(t.AlbumID), t.LibraryID, t.Title, t.Artist, t.Album,
		lc(t.Title), lc(t.Artist), lc(t.Album),
		t.Duration, t.ISRC, t.Path, marshalIDs(t.ExternalIDs),
		t.Popularity, t.Stars, boolToInt(t.IsSingle), t.SingleConfidence,
		marshalStrings(t.SingleSources),
		db.ToNullFloat64(t.AlbumZ), db.ToNullFloat64(t.ArtistZ),
		boolToInt(t.AlternateTake), nullableID(t.BaseTrackID),
		nullableUnix(t.LastPopularityLookup), t.LastScanned.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert track: %w", err)
	}
	return res.LastInsertId()
}

func updateTrack(tx *sql.Tx, t *Track) error {
	_, err := tx.Exec(`
UPDATE tracks SET album_id = ?, library_id = ?, title = ?, artist = ?, album = ?,
	title_lc = ?, artist_lc = ?, album_lc = ?,
	duration = ?, isrc = ?, path = ?, external_ids = ?, popularity = ?, stars = ?,
	is_single = ?, single_confidence = ?, single_sources = ?, album_z = ?, artist_z = ?,
	alternate_take = ?, base_track_id = ?, last_popularity_lookup = ?, last_scanned = ?
WHERE id = ?`,
		db.ToNullInt64(t.AlbumID), t.LibraryID, t.Title, t.Artist, t.Album,
		lc(t.Title), lc(t.Artist), lc(t.Album),
		t.Duration, t.ISRC, t.Path, marshalIDs(t.ExternalIDs),
		t.Popularity, t.Stars, boolToInt(t.IsSingle), t.SingleConfidence,
		marshalStrings(t.SingleSources),
		db.ToNullFloat64(t.AlbumZ), db.ToNullFloat64(t.ArtistZ),
		boolToInt(t.AlternateTake), nullableID(t.BaseTrackID),
		nullableUnix(t.LastPopularityLookup), t.LastScanned.Unix(),
		t.ID)
	if err != nil {
		return fmt.Errorf("update track %d: %w", t.ID, err)
	}
	return nil
}

// PopularityUpdate carries the per-track result of a popularity lookup.
type PopularityUpdate struct {
	TrackID      int64
	Popularity   float64 // clamped to [0,100] on write
	AlbumZ       *float64
	ArtistZ      *float64
	PopularityID string
	ISRC         string
	LookedUp     time.Time
}

// BatchUpdatePopularity writes one batch of popularity results atomically.
// last_popularity_lookup never moves backwards.
func (s *Store) BatchUpdatePopularity(ctx context.Context, updates []PopularityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		for _, u := range updates {
			pop := u.Popularity
			if pop < 0 {
				pop = 0
			}
			if pop > 100 {
				pop = 100
			}
			lookedUp := u.LookedUp
			if lookedUp.IsZero() {
				lookedUp = s.now()
			}
			_, err := tx.Exec(`
UPDATE tracks SET popularity = ?, album_z = ?, artist_z = ?,
	isrc = CASE WHEN isrc = '' THEN ? ELSE isrc END,
	last_popularity_lookup = MAX(COALESCE(last_popularity_lookup, 0), ?)
WHERE id = ?`,
				pop, db.ToNullFloat64(u.AlbumZ), db.ToNullFloat64(u.ArtistZ),
				u.ISRC, lookedUp.Unix(), u.TrackID)
			if err != nil {
				return fmt.Errorf("update popularity for track %d: %w", u.TrackID, err)
			}
			if u.PopularityID != "" {
				if err := setExternalID(tx, u.TrackID, func(ids *ExternalIDs) {
					ids.Popularity = u.PopularityID
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch update popularity: %w", err)
	}
	return nil
}

// SingleUpdate carries the per-track result of single detection and rating.
type SingleUpdate struct {
	TrackID       int64
	IsSingle      bool
	Confidence    string
	Sources       []string
	Stars         int
	AlternateTake bool
	BaseTrackID   *int64
	MetadataAID   string
	MetadataBID   string
}

// BatchUpdateSingles writes one batch of detection and rating results
// atomically.
func (s *Store) BatchUpdateSingles(ctx context.Context, updates []SingleUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		for _, u := range updates {
			conf := u.Confidence
			if conf == "" {
				conf = ConfidenceNone
			}
			isSingle := u.IsSingle
			if conf == ConfidenceNone {
				isSingle = false
			}
			stars := u.Stars
			if stars < 0 {
				stars = 0
			}
			if stars > 5 {
				stars = 5
			}
			sources := append([]string(nil), u.Sources...)
			sort.Strings(sources)
			_, err := tx.Exec(`
UPDATE tracks SET is_single = ?, single_confidence = ?, single_sources = ?, stars = ?,
	alternate_take = ?, base_track_id = ?
WHERE id = ?`,
				boolToInt(isSingle), conf, marshalStrings(sources), stars,
				boolToInt(u.AlternateTake), nullableID(u.BaseTrackID), u.TrackID)
			if err != nil {
				return fmt.Errorf("update single for track %d: %w", u.TrackID, err)
			}
			if u.MetadataAID != "" || u.MetadataBID != "" {
				if err := setExternalID(tx, u.TrackID, func(ids *ExternalIDs) {
					if u.MetadataAID != "" {
						ids.MetadataA = u.MetadataAID
					}
					if u.MetadataBID != "" {
						ids.MetadataB = u.MetadataBID
					}
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch update singles: %w", err)
	}
	return nil
}

func setExternalID(tx *sql.Tx, trackID int64, set func(*ExternalIDs)) error {
	var raw string
	if err := tx.QueryRow(`SELECT external_ids FROM tracks WHERE id = ?`, trackID).Scan(&raw); err != nil {
		return fmt.Errorf("read external ids for track %d: %w", trackID, err)
	}
	ids := unmarshalIDs(raw)
	set(&ids)
	if _, err := tx.Exec(`UPDATE tracks SET external_ids = ? WHERE id = ?`, marshalIDs(ids), trackID); err != nil {
		return fmt.Errorf("write external ids for track %d: %w", trackID, err)
	}
	return nil
}

// DedupTracks merges tracks that share a content key, keeping the
// higher-quality row and re-pointing loved flags and alternate-take links.
// It returns the number of rows removed.
func (s *Store) DedupTracks(ctx context.Context) (int, error) {
	removed := 0
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.Query(`
SELECT ` + trackColumns + `
FROM tracks
ORDER BY artist_lc, album_lc, title_lc, duration, id`)
		if err != nil {
			return fmt.Errorf("query tracks: %w", err)
		}
		defer rows.Close()

		type group struct {
			key    string
			tracks []*Track
		}
		var groups []group
		for rows.Next() {
			t, err := scanTrack(rows)
			if err != nil {
				return fmt.Errorf("scan track: %w", err)
			}
			key := lc(t.Artist) + "\x00" + lc(t.Album) + "\x00" + lc(t.Title)
			if len(groups) == 0 || groups[len(groups)-1].key != key {
				groups = append(groups, group{key: key})
			}
			g := &groups[len(groups)-1]
			g.tracks = append(g.tracks, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, g := range groups {
			if len(g.tracks) < 2 {
				continue
			}
			// Tracks are duration-sorted: chain rows whose durations sit
			// within the tolerance window into one cluster.
			cluster := []*Track{g.tracks[0]}
			flush := func() error {
				if len(cluster) < 2 {
					return nil
				}
				n, err := mergeCluster(tx, cluster)
				removed += n
				return err
			}
			for _, t := range g.tracks[1:] {
				prev := cluster[len(cluster)-1]
				if t.Duration-prev.Duration <= durationTolerance {
					cluster = append(cluster, t)
					continue
				}
				if err := flush(); err != nil {
					return err
				}
				cluster = []*Track{t}
			}
			if err := flush(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("dedup tracks: %w", err)
	}
	return removed, nil
}

func mergeCluster(tx *sql.Tx, cluster []*Track) (int, error) {
	winner := cluster[0]
	for _, t := range cluster[1:] {
		ws, ts := qualityScore(winner), qualityScore(t)
		if ts > ws || (ts == ws && t.LastScanned.After(winner.LastScanned)) {
			winner = t
		}
	}
	removed := 0
	for _, t := range cluster {
		if t.ID == winner.ID {
			continue
		}
		mergeInto(winner, t)
		if _, err := tx.Exec(`UPDATE OR IGNORE loved_tracks SET track_id = ? WHERE track_id = ?`, winner.ID, t.ID); err != nil {
			return removed, fmt.Errorf("repoint loved tracks: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM loved_tracks WHERE track_id = ?`, t.ID); err != nil {
			return removed, fmt.Errorf("drop duplicate loved rows: %w", err)
		}
		if _, err := tx.Exec(`UPDATE tracks SET base_track_id = ? WHERE base_track_id = ?`, winner.ID, t.ID); err != nil {
			return removed, fmt.Errorf("repoint alternate takes: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM tracks WHERE id = ?`, t.ID); err != nil {
			return removed, fmt.Errorf("delete duplicate track %d: %w", t.ID, err)
		}
		removed++
	}
	if winner.BaseTrackID != nil && *winner.BaseTrackID == winner.ID {
		winner.BaseTrackID = nil
	}
	if err := updateTrack(tx, winner); err != nil {
		return removed, err
	}
	return removed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
