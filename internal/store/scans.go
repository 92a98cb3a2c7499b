package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/llehouerou/airwave/internal/db"
)

// RecordScan appends a scan-history entry. A completed entry replaces an
// earlier completed entry for the same album, scan type and local day, so an
// album keeps at most one completed row per type per day.
func (s *Store) RecordScan(ctx context.Context, e ScanEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	err := db.WithTxContext(ctx, s.db, func(tx *sql.Tx) error {
		if e.Status == StatusCompleted {
			dayStart := time.Date(e.Timestamp.Year(), e.Timestamp.Month(), e.Timestamp.Day(),
				0, 0, 0, 0, e.Timestamp.Location())
			dayEnd := dayStart.Add(24 * time.Hour)
			var id int64
			err := tx.QueryRow(`
SELECT id FROM scan_history
WHERE artist = ? AND album = ? AND scan_type = ? AND status = ?
	AND timestamp >= ? AND timestamp < ?
ORDER BY timestamp DESC LIMIT 1`,
				e.Artist, e.Album, e.ScanType, StatusCompleted,
				dayStart.Unix(), dayEnd.Unix()).Scan(&id)
			if err == nil {
				_, err = tx.Exec(`UPDATE scan_history SET timestamp = ?, tracks_processed = ? WHERE id = ?`,
					e.Timestamp.Unix(), e.TracksProcessed, id)
				return err
			}
			if err != sql.ErrNoRows {
				return err
			}
		}
		_, err := tx.Exec(`
INSERT INTO scan_history (artist, album, scan_type, timestamp, tracks_processed, status)
VALUES (?, ?, ?, ?, ?, ?)`,
			e.Artist, e.Album, e.ScanType, e.Timestamp.Unix(), e.TracksProcessed, e.Status)
		return err
	})
	if err != nil {
		return fmt.Errorf("record scan %s/%s: %w", e.Artist, e.Album, err)
	}
	return nil
}

// LastCompletedScan returns the timestamp of the most recent completed scan
// of the given type for (artist, album). ok is false when none exists.
func (s *Store) LastCompletedScan(artist, album, scanType string) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRow(`
SELECT timestamp FROM scan_history
WHERE artist = ? AND album = ? AND scan_type = ? AND status = ?
ORDER BY timestamp DESC LIMIT 1`,
		artist, album, scanType, StatusCompleted).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last scan: %w", err)
	}
	return time.Unix(ts, 0), true, nil
}

// WasScannedWithin reports whether (artist, album) completed a scan of the
// given type within the window.
func (s *Store) WasScannedWithin(artist, album, scanType string, window time.Duration) (bool, error) {
	last, ok, err := s.LastCompletedScan(artist, album, scanType)
	if err != nil || !ok {
		return false, err
	}
	return s.now().Sub(last) < window, nil
}

// RecentScans returns the latest scan-history entries, newest first.
func (s *Store) RecentScans(limit int) ([]ScanEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
SELECT id, artist, album, scan_type, timestamp, tracks_processed, status
FROM scan_history
ORDER BY timestamp DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()
	var entries []ScanEntry
	for rows.Next() {
		var (
			e  ScanEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Artist, &e.Album, &e.ScanType, &ts, &e.TracksProcessed, &e.Status); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
