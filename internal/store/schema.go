package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 3

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_lc TEXT NOT NULL UNIQUE,
	genres TEXT NOT NULL DEFAULT '[]',
	external_ids TEXT NOT NULL DEFAULT '{}',
	pop_mean REAL,
	pop_median REAL,
	pop_stddev REAL,
	track_count INTEGER NOT NULL DEFAULT 0,
	stats_updated_at INTEGER
);

CREATE TABLE IF NOT EXISTS albums (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	name_lc TEXT NOT NULL,
	release_date TEXT NOT NULL DEFAULT '',
	year INTEGER NOT NULL DEFAULT 0,
	album_type TEXT NOT NULL DEFAULT '',
	track_count INTEGER NOT NULL DEFAULT 0,
	disc_count INTEGER NOT NULL DEFAULT 0,
	cover_url TEXT NOT NULL DEFAULT '',
	genres TEXT NOT NULL DEFAULT '[]',
	external_ids TEXT NOT NULL DEFAULT '{}',
	last_scanned INTEGER,
	UNIQUE(artist_id, name_lc)
);

CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	album_id INTEGER REFERENCES albums(id) ON DELETE SET NULL,
	library_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	artist TEXT NOT NULL,
	album TEXT NOT NULL,
	title_lc TEXT NOT NULL,
	artist_lc TEXT NOT NULL,
	album_lc TEXT NOT NULL,
	duration INTEGER NOT NULL DEFAULT 0,
	isrc TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	external_ids TEXT NOT NULL DEFAULT '{}',
	popularity REAL NOT NULL DEFAULT 0,
	stars INTEGER NOT NULL DEFAULT 0,
	is_single INTEGER NOT NULL DEFAULT 0,
	single_confidence TEXT NOT NULL DEFAULT 'none',
	single_sources TEXT NOT NULL DEFAULT '[]',
	album_z REAL,
	artist_z REAL,
	alternate_take INTEGER NOT NULL DEFAULT 0,
	base_track_id INTEGER REFERENCES tracks(id) ON DELETE SET NULL,
	last_popularity_lookup INTEGER,
	last_scanned INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tracks_content_key
	ON tracks(artist_lc, album_lc, title_lc);
CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist_lc);
CREATE INDEX IF NOT EXISTS idx_tracks_library_id ON tracks(library_id);

CREATE TABLE IF NOT EXISTS scan_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artist TEXT NOT NULL,
	album TEXT NOT NULL,
	scan_type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	tracks_processed INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_history_album
	ON scan_history(artist, album, scan_type, status);

CREATE TABLE IF NOT EXISTS loved_tracks (
	user TEXT NOT NULL,
	track_id INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
	loved_at INTEGER NOT NULL,
	PRIMARY KEY (user, track_id)
);

CREATE TABLE IF NOT EXISTS loved_albums (
	user TEXT NOT NULL,
	album_id INTEGER NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
	loved_at INTEGER NOT NULL,
	PRIMARY KEY (user, album_id)
);

CREATE TABLE IF NOT EXISTS loved_artists (
	user TEXT NOT NULL,
	artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
	loved_at INTEGER NOT NULL,
	PRIMARY KEY (user, artist_id)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	migrate(db)
	return nil
}

// migrate applies additive column migrations for databases created by older
// versions. Errors are ignored: the column already exists on current schemas.
func migrate(db *sql.DB) {
	_, _ = db.Exec(`ALTER TABLE tracks ADD COLUMN isrc TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE tracks ADD COLUMN alternate_take INTEGER NOT NULL DEFAULT 0`)
	_, _ = db.Exec(`ALTER TABLE tracks ADD COLUMN base_track_id INTEGER REFERENCES tracks(id) ON DELETE SET NULL`)
	_, _ = db.Exec(`ALTER TABLE albums ADD COLUMN cover_url TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE albums ADD COLUMN genres TEXT NOT NULL DEFAULT '[]'`)
	_, _ = db.Exec(`ALTER TABLE artists ADD COLUMN stats_updated_at INTEGER`)
}
