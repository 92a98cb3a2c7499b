package store

import (
	"fmt"
)

// AlbumTracks returns the tracks of (artist, album), ordered by title.
func (s *Store) AlbumTracks(artist, album string) ([]*Track, error) {
	rows, err := s.db.Query(`
SELECT `+trackColumns+`
FROM tracks
WHERE artist_lc = ? AND album_lc = ?
ORDER BY title_lc, id`, lc(artist), lc(album))
	if err != nil {
		return nil, fmt.Errorf("query album tracks: %w", err)
	}
	defer rows.Close()
	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan album track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// ArtistTracks returns every track of the artist across all albums.
func (s *Store) ArtistTracks(artist string) ([]*Track, error) {
	rows, err := s.db.Query(`
SELECT `+trackColumns+`
FROM tracks
WHERE artist_lc = ?
ORDER BY album_lc, title_lc, id`, lc(artist))
	if err != nil {
		return nil, fmt.Errorf("query artist tracks: %w", err)
	}
	defer rows.Close()
	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artist track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// ArtistAlbumNames lists the distinct album names of an artist, ordered
// case-insensitively.
func (s *Store) ArtistAlbumNames(artist string) ([]string, error) {
	rows, err := s.db.Query(`
SELECT album, MIN(id)
FROM tracks
WHERE artist_lc = ? AND album_lc != ''
GROUP BY album_lc
ORDER BY album_lc`, lc(artist))
	if err != nil {
		return nil, fmt.Errorf("query artist albums: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FiveStarCount returns how many tracks of the artist carry five stars.
func (s *Store) FiveStarCount(artist string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tracks WHERE artist_lc = ? AND stars = 5`,
		lc(artist)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count five-star tracks: %w", err)
	}
	return n, nil
}

// ArtistTrackCount returns the number of tracks of the artist.
func (s *Store) ArtistTrackCount(artist string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tracks WHERE artist_lc = ?`,
		lc(artist)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count artist tracks: %w", err)
	}
	return n, nil
}

// TrackCount returns the total number of tracks.
func (s *Store) TrackCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tracks: %w", err)
	}
	return n, nil
}

// SinglesForArtist returns the artist's tracks classified as singles.
func (s *Store) SinglesForArtist(artist string) ([]*Track, error) {
	rows, err := s.db.Query(`
SELECT `+trackColumns+`
FROM tracks
WHERE artist_lc = ? AND is_single = 1
ORDER BY popularity DESC, title_lc`, lc(artist))
	if err != nil {
		return nil, fmt.Errorf("query singles: %w", err)
	}
	defer rows.Close()
	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan single: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
