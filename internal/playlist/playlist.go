// Package playlist emits Navidrome smart playlists (.nsp files) for
// artists whose scan produced enough rated tracks.
package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/llehouerou/airwave/internal/logging"
)

// Thresholds for playlist emission.
const (
	minFiveStarTracks = 10  // five-star playlist
	minTotalTracks    = 100 // top-percentile fallback
	topFraction       = 10  // fallback keeps the top 1/10 by rating
)

// Writer emits playlists into a directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir. The directory is created on
// first emission.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// rule is one criterion of a smart playlist match block.
type rule map[string]map[string]any

type smartPlaylist struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
	All     []rule `json:"all"`
	Sort    string `json:"sort"`
	Order   string `json:"order"`
	Limit   int    `json:"limit,omitempty"`
}

// Emit writes the essentials playlist for an artist, given its five-star
// and total track counts. With at least ten five-star tracks the playlist
// matches rating 5 exactly; a large catalog without them falls back to the
// top tenth by rating. Small catalogs emit nothing. The file is replaced
// atomically, so re-scans are idempotent.
func (w *Writer) Emit(artist string, fiveStar, total int) (bool, error) {
	var pl smartPlaylist
	switch {
	case fiveStar >= minFiveStarTracks:
		pl = smartPlaylist{
			Name:    artist + " — Essentials",
			Comment: fmt.Sprintf("Top tracks of %s", artist),
			All: []rule{
				{"is": {"albumartist": artist}},
				{"is": {"rating": 5}},
			},
			Sort:  "title",
			Order: "asc",
		}
	case total >= minTotalTracks:
		pl = smartPlaylist{
			Name:    artist + " — Essentials",
			Comment: fmt.Sprintf("Top tracks of %s", artist),
			All: []rule{
				{"is": {"albumartist": artist}},
			},
			Sort:  "rating",
			Order: "desc",
			Limit: (total + topFraction - 1) / topFraction,
		}
	default:
		return false, nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return false, fmt.Errorf("create playlist dir: %w", err)
	}

	path := filepath.Join(w.dir, fileName(artist))
	data, err := json.MarshalIndent(pl, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal playlist: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write playlist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("replace playlist: %w", err)
	}

	logging.Debug().Str("artist", artist).Str("path", path).
		Int("five_star", fiveStar).Int("total", total).Msg("playlist written")
	return true, nil
}

// fileName builds "<artist> - Essentials.nsp" with path separators
// stripped from the artist name.
func fileName(artist string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, artist)
	return safe + " - Essentials.nsp"
}
