// Package store persists the scanned catalog: artists, albums, tracks,
// scan history and loved flags. It owns deduplication and the batched
// result writes of the popularity scan.
package store

import (
	"database/sql"
	"time"

	json "github.com/goccy/go-json"

	"github.com/llehouerou/airwave/internal/db"
)

// Confidence levels of the single classification.
const (
	ConfidenceNone   = "none"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Scan types recorded in scan history.
const (
	ScanLibraryImport = "library_import"
	ScanPopularity    = "popularity"
	ScanBeetsImport   = "beets_import"
)

// Scan statuses.
const (
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusSkipped     = "skipped"
	StatusInterrupted = "interrupted"
)

// ExternalIDs carries the per-service identifiers of a row as a strict JSON
// document: {"popularity": …, "scrobbles": …, "metadata_a": …, "metadata_b": …}.
type ExternalIDs struct {
	Popularity string `json:"popularity,omitempty"`
	Scrobbles  string `json:"scrobbles,omitempty"`
	MetadataA  string `json:"metadata_a,omitempty"`
	MetadataB  string `json:"metadata_b,omitempty"`
}

// Artist is a catalog artist with cached external IDs and aggregate
// popularity statistics.
type Artist struct {
	ID          int64
	Name        string
	Genres      []string
	ExternalIDs ExternalIDs

	// Aggregate popularity statistics, refreshed by the scan.
	PopMean        *float64
	PopMedian      *float64
	PopStddev      *float64
	TrackCount     int
	StatsUpdatedAt time.Time
}

// Album is identified by (artist, album name).
type Album struct {
	ID          int64
	ArtistID    int64
	Artist      string
	Name        string
	ReleaseDate string
	Year        int
	AlbumType   string // album|ep|single|compilation
	TrackCount  int
	DiscCount   int
	CoverURL    string
	Genres      []string
	ExternalIDs ExternalIDs
	LastScanned time.Time
}

// Track is a catalog track. Identity comes from the opaque library id; the
// content key (artist_lc, album_lc, title_lc, duration±2s) deduplicates
// re-imports.
type Track struct {
	ID        int64
	AlbumID   int64
	LibraryID string
	Title     string
	Artist    string
	Album     string
	Duration  int // seconds
	ISRC      string
	Path      string

	ExternalIDs ExternalIDs

	Popularity       float64 // 0..100
	Stars            int     // 0..5
	IsSingle         bool
	SingleConfidence string // none|medium|high
	SingleSources    []string
	AlbumZ           *float64
	ArtistZ          *float64
	AlternateTake    bool
	BaseTrackID      *int64

	LastPopularityLookup time.Time // zero means never looked up
	LastScanned          time.Time
}

// ScanEntry is one scan-history row.
type ScanEntry struct {
	ID              int64
	Artist          string
	Album           string
	ScanType        string
	Timestamp       time.Time
	TracksProcessed int
	Status          string
}

// ArtistStats are the persisted aggregate popularity statistics of an
// artist. Reliable only when TrackCount >= 10.
type ArtistStats struct {
	Mean       float64
	Median     float64
	Stddev     float64
	TrackCount int
}

// Store wraps the sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path and applies schema migrations.
func Open(path string) (*Store, error) {
	sqlDB, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &Store{db: sqlDB, now: time.Now}, nil
}

// New wraps an already opened database. Used by tests.
func New(sqlDB *sql.DB) (*Store, error) {
	if err := initSchema(sqlDB); err != nil {
		return nil, err
	}
	return &Store{db: sqlDB, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only integrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func marshalIDs(v ExternalIDs) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalIDs(s string) ExternalIDs {
	var v ExternalIDs
	if s == "" {
		return v
	}
	_ = json.Unmarshal([]byte(s), &v)
	return v
}
