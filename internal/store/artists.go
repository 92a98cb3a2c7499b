package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/llehouerou/airwave/internal/db"
)

// UpsertArtist inserts the artist by case-insensitive name and returns its
// id. The display casing of the first import wins.
func (s *Store) UpsertArtist(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT id FROM artists WHERE name_lc = ?`, lc(name)).Scan(&id)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}
		res, err := tx.Exec(`INSERT INTO artists (name, name_lc) VALUES (?, ?)`, name, lc(name))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("upsert artist %q: %w", name, err)
	}
	return id, nil
}

// ArtistByName returns the artist with the given name, or nil when absent.
func (s *Store) ArtistByName(name string) (*Artist, error) {
	row := s.db.QueryRow(`
SELECT id, name, genres, external_ids, pop_mean, pop_median, pop_stddev, track_count, stats_updated_at
FROM artists
WHERE name_lc = ?`, lc(name))
	var (
		a         Artist
		genres    string
		ids       string
		mean      sql.NullFloat64
		median    sql.NullFloat64
		stddev    sql.NullFloat64
		updatedAt sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.Name, &genres, &ids, &mean, &median, &stddev, &a.TrackCount, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query artist %q: %w", name, err)
	}
	a.Genres = unmarshalStrings(genres)
	a.ExternalIDs = unmarshalIDs(ids)
	if mean.Valid {
		a.PopMean = &mean.Float64
	}
	if median.Valid {
		a.PopMedian = &median.Float64
	}
	if stddev.Valid {
		a.PopStddev = &stddev.Float64
	}
	if updatedAt.Valid {
		a.StatsUpdatedAt = time.Unix(updatedAt.Int64, 0)
	}
	return &a, nil
}

// AllArtistNames lists every artist name, ordered case-insensitively.
func (s *Store) AllArtistNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM artists ORDER BY name_lc`)
	if err != nil {
		return nil, fmt.Errorf("query artist names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetArtistMeta stores cached external ids and genres for an artist.
// Empty values leave the stored ones untouched.
func (s *Store) SetArtistMeta(ctx context.Context, artistID int64, ids ExternalIDs, genres []string) error {
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		var rawIDs, rawGenres string
		err := tx.QueryRow(`SELECT external_ids, genres FROM artists WHERE id = ?`, artistID).
			Scan(&rawIDs, &rawGenres)
		if err != nil {
			return err
		}
		merged := unmarshalIDs(rawIDs)
		if ids.Popularity != "" {
			merged.Popularity = ids.Popularity
		}
		if ids.Scrobbles != "" {
			merged.Scrobbles = ids.Scrobbles
		}
		if ids.MetadataA != "" {
			merged.MetadataA = ids.MetadataA
		}
		if ids.MetadataB != "" {
			merged.MetadataB = ids.MetadataB
		}
		outGenres := rawGenres
		if len(genres) > 0 {
			outGenres = marshalStrings(genres)
		}
		_, err = tx.Exec(`UPDATE artists SET external_ids = ?, genres = ? WHERE id = ?`,
			marshalIDs(merged), outGenres, artistID)
		return err
	})
	if err != nil {
		return fmt.Errorf("set artist meta %d: %w", artistID, err)
	}
	return nil
}

// SaveArtistStats persists the aggregate popularity statistics of an artist.
func (s *Store) SaveArtistStats(ctx context.Context, artistID int64, stats ArtistStats) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE artists SET pop_mean = ?, pop_median = ?, pop_stddev = ?, track_count = ?, stats_updated_at = ?
WHERE id = ?`,
		stats.Mean, stats.Median, stats.Stddev, stats.TrackCount, s.now().Unix(), artistID)
	if err != nil {
		return fmt.Errorf("save artist stats %d: %w", artistID, err)
	}
	return nil
}

// UpsertAlbum inserts the album by (artist id, case-insensitive name) and
// returns its id.
func (s *Store) UpsertAlbum(ctx context.Context, artistID int64, name string) (int64, error) {
	var id int64
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT id FROM albums WHERE artist_id = ? AND name_lc = ?`,
			artistID, lc(name)).Scan(&id)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}
		res, err := tx.Exec(`INSERT INTO albums (artist_id, name, name_lc) VALUES (?, ?, ?)`,
			artistID, name, lc(name))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("upsert album %q: %w", name, err)
	}
	return id, nil
}

// AlbumMeta is the enrichment captured for an album during a scan.
type AlbumMeta struct {
	ReleaseDate string
	Year        int
	AlbumType   string
	TrackCount  int
	DiscCount   int
	CoverURL    string
	Genres      []string
	ExternalIDs ExternalIDs
}

// SetAlbumMeta stores scan enrichment for an album. Zero fields leave the
// stored values untouched.
func (s *Store) SetAlbumMeta(ctx context.Context, albumID int64, meta AlbumMeta) error {
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		a, err := albumByID(tx, albumID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("album %d not found", albumID)
		}
		if meta.ReleaseDate != "" {
			a.ReleaseDate = meta.ReleaseDate
		}
		if meta.Year != 0 {
			a.Year = meta.Year
		}
		if meta.AlbumType != "" {
			a.AlbumType = meta.AlbumType
		}
		if meta.TrackCount != 0 {
			a.TrackCount = meta.TrackCount
		}
		if meta.DiscCount != 0 {
			a.DiscCount = meta.DiscCount
		}
		if meta.CoverURL != "" {
			a.CoverURL = meta.CoverURL
		}
		if len(meta.Genres) > 0 {
			a.Genres = meta.Genres
		}
		if meta.ExternalIDs.Popularity != "" {
			a.ExternalIDs.Popularity = meta.ExternalIDs.Popularity
		}
		if meta.ExternalIDs.Scrobbles != "" {
			a.ExternalIDs.Scrobbles = meta.ExternalIDs.Scrobbles
		}
		if meta.ExternalIDs.MetadataA != "" {
			a.ExternalIDs.MetadataA = meta.ExternalIDs.MetadataA
		}
		if meta.ExternalIDs.MetadataB != "" {
			a.ExternalIDs.MetadataB = meta.ExternalIDs.MetadataB
		}
		_, err = tx.Exec(`
UPDATE albums SET release_date = ?, year = ?, album_type = ?, track_count = ?, disc_count = ?,
	cover_url = ?, genres = ?, external_ids = ?, last_scanned = ?
WHERE id = ?`,
			a.ReleaseDate, a.Year, a.AlbumType, a.TrackCount, a.DiscCount,
			a.CoverURL, marshalStrings(a.Genres), marshalIDs(a.ExternalIDs),
			s.now().Unix(), albumID)
		return err
	})
	if err != nil {
		return fmt.Errorf("set album meta %d: %w", albumID, err)
	}
	return nil
}

// AlbumByName returns the album for (artist, name), or nil when absent.
func (s *Store) AlbumByName(artist, name string) (*Album, error) {
	var id int64
	err := s.db.QueryRow(`
SELECT al.id
FROM albums al
JOIN artists ar ON ar.id = al.artist_id
WHERE ar.name_lc = ? AND al.name_lc = ?`, lc(artist), lc(name)).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query album %q / %q: %w", artist, name, err)
	}
	return s.AlbumByID(id)
}

// AlbumByID returns the album with the given id, or nil when absent.
func (s *Store) AlbumByID(id int64) (*Album, error) {
	a, err := albumByID(s.db, id)
	if err != nil {
		return nil, fmt.Errorf("query album %d: %w", id, err)
	}
	return a, nil
}

func albumByID(q querier, id int64) (*Album, error) {
	row := q.QueryRow(`
SELECT al.id, al.artist_id, ar.name, al.name, al.release_date, al.year, al.album_type,
	al.track_count, al.disc_count, al.cover_url, al.genres, al.external_ids, al.last_scanned
FROM albums al
JOIN artists ar ON ar.id = al.artist_id
WHERE al.id = ?`, id)
	var (
		a           Album
		genres      string
		ids         string
		lastScanned sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ArtistID, &a.Artist, &a.Name, &a.ReleaseDate, &a.Year,
		&a.AlbumType, &a.TrackCount, &a.DiscCount, &a.CoverURL, &genres, &ids, &lastScanned)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Genres = unmarshalStrings(genres)
	a.ExternalIDs = unmarshalIDs(ids)
	if lastScanned.Valid {
		a.LastScanned = time.Unix(lastScanned.Int64, 0)
	}
	return &a, nil
}
