package store

import (
	"context"
	"fmt"
)

// SetTrackLoved marks or unmarks a track as loved by a user. Loved flags
// are user data: scans never touch them.
func (s *Store) SetTrackLoved(ctx context.Context, user string, trackID int64, loved bool) error {
	var err error
	if loved {
		_, err = s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO loved_tracks (user, track_id, loved_at) VALUES (?, ?, ?)`,
			user, trackID, s.now().Unix())
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM loved_tracks WHERE user = ? AND track_id = ?`,
			user, trackID)
	}
	if err != nil {
		return fmt.Errorf("set track loved: %w", err)
	}
	return nil
}

// IsTrackLoved reports whether the user loves the track.
func (s *Store) IsTrackLoved(user string, trackID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM loved_tracks WHERE user = ? AND track_id = ?`,
		user, trackID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query track loved: %w", err)
	}
	return n > 0, nil
}

// LovedTrackIDs returns the ids of every track the user loves.
func (s *Store) LovedTrackIDs(user string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT track_id FROM loved_tracks WHERE user = ? ORDER BY track_id`, user)
	if err != nil {
		return nil, fmt.Errorf("query loved tracks: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAlbumLoved marks or unmarks an album as loved by a user.
func (s *Store) SetAlbumLoved(ctx context.Context, user string, albumID int64, loved bool) error {
	var err error
	if loved {
		_, err = s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO loved_albums (user, album_id, loved_at) VALUES (?, ?, ?)`,
			user, albumID, s.now().Unix())
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM loved_albums WHERE user = ? AND album_id = ?`,
			user, albumID)
	}
	if err != nil {
		return fmt.Errorf("set album loved: %w", err)
	}
	return nil
}

// SetArtistLoved marks or unmarks an artist as loved by a user.
func (s *Store) SetArtistLoved(ctx context.Context, user string, artistID int64, loved bool) error {
	var err error
	if loved {
		_, err = s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO loved_artists (user, artist_id, loved_at) VALUES (?, ?, ?)`,
			user, artistID, s.now().Unix())
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM loved_artists WHERE user = ? AND artist_id = ?`,
			user, artistID)
	}
	if err != nil {
		return fmt.Errorf("set artist loved: %w", err)
	}
	return nil
}
