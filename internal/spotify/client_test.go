package spotify

import (
	"testing"

	"github.com/zmb3/spotify/v2"
)

func fullTrack(title, artist, albumName, albumType string, popularity, durationMS int) spotify.FullTrack {
	var tr spotify.FullTrack
	tr.ID = "track-id"
	tr.Name = title
	tr.Artists = []spotify.SimpleArtist{{Name: artist}}
	tr.Album.Name = albumName
	tr.Album.AlbumType = albumType
	tr.Album.ReleaseDate = "1979-11-30"
	tr.Popularity = spotify.Numeric(popularity)
	tr.Duration = spotify.Numeric(durationMS)
	tr.ExternalIDs = map[string]string{"isrc": "GBDD87900001"}
	return tr
}

func TestConvertTracksFiltersByArtist(t *testing.T) {
	results := []spotify.FullTrack{
		fullTrack("Another Brick in the Wall", "Pink Floyd", "The Wall", "Album", 85, 231000),
		fullTrack("Another Brick in the Wall", "Some Cover Band", "Tribute", "compilation", 12, 229000),
	}

	cands := convertTracks(results, "pink floyd")
	if len(cands) != 1 {
		t.Fatalf("expected cover-band result filtered out, got %d candidates", len(cands))
	}
	c := cands[0]
	if c.AlbumType != "album" {
		t.Errorf("expected lowercased album type, got %q", c.AlbumType)
	}
	if c.Popularity != 85 || c.DurationMS != 231000 {
		t.Errorf("unexpected candidate %+v", c)
	}
	if c.ISRC != "GBDD87900001" {
		t.Errorf("expected ISRC captured, got %q", c.ISRC)
	}
	if c.ReleaseDate != "1979-11-30" {
		t.Errorf("expected release date captured, got %q", c.ReleaseDate)
	}
}

func TestConvertTracksEmptyInput(t *testing.T) {
	if got := convertTracks(nil, "anyone"); len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}
