// Package spotify is the popularity client: it resolves artist ids and
// searches tracks for their 0-100 popularity and album type via the
// Spotify Web API under OAuth2 client credentials.
package spotify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/llehouerou/airwave/internal/apicache"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/titles"
)

const searchLimit = 20

// Candidate is one track search result. AlbumType is one of
// album|single|ep|compilation as reported by the service.
type Candidate struct {
	ID          string
	Title       string
	AlbumType   string
	AlbumName   string
	Popularity  int // 0..100
	DurationMS  int
	ISRC        string
	ReleaseDate string
	CoverURL    string
}

// Client wraps the Spotify Web API with process-lifetime caches.
type Client struct {
	api *spotify.Client

	artists  *apicache.Cache[string, string]
	searches *apicache.Cache[string, []Candidate]
	genres   *apicache.Cache[string, []string]
}

// New authenticates with client credentials. The returned client refreshes
// its token automatically.
func New(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	// Fetch a token eagerly so bad credentials fail at startup, not
	// mid-scan.
	if _, err := cc.Token(ctx); err != nil {
		return nil, fmt.Errorf("spotify auth: %w", err)
	}

	httpClient := cc.Client(ctx)
	api := spotify.New(httpClient, spotify.WithRetry(true))
	return newWithAPI(api), nil
}

func newWithAPI(api *spotify.Client) *Client {
	return &Client{
		api:      api,
		artists:  apicache.New[string, string](apicache.DefaultMaxEntries),
		searches: apicache.New[string, []Candidate](apicache.DefaultMaxEntries),
		genres:   apicache.New[string, []string](apicache.DefaultMaxEntries),
	}
}

// FindArtistID resolves an artist name to a service id. ok is false when
// the artist is unknown or the lookup failed.
func (c *Client) FindArtistID(ctx context.Context, name string) (string, bool) {
	key := "artist:" + titles.Normalize(name)
	id, err := c.artists.GetOrFill(key, func() (string, error) {
		result, err := c.api.Search(ctx, name, spotify.SearchTypeArtist, spotify.Limit(searchLimit))
		if err != nil {
			return "", err
		}
		if result.Artists == nil {
			return "", nil
		}
		want := titles.Normalize(name)
		for i := range result.Artists.Artists {
			a := &result.Artists.Artists[i]
			if titles.Normalize(a.Name) == want {
				return string(a.ID), nil
			}
		}
		return "", nil
	})
	if err != nil {
		logging.Info().Str("api", "popularity").Str("endpoint", "artist search").
			Str("artist", name).Str("reason", err.Error()).Msg("lookup failed")
		return "", false
	}
	return id, id != ""
}

// SearchTrack returns the candidates for (title, artist), filtered to
// results credited to the same artist. album narrows the cache key but not
// the query; callers match album names themselves.
func (c *Client) SearchTrack(ctx context.Context, title, artist, album string) []Candidate {
	key := "search:" + titles.Normalize(artist) + ":" + titles.Normalize(title) + ":" + titles.Normalize(album)
	cands, err := c.searches.GetOrFill(key, func() ([]Candidate, error) {
		query := fmt.Sprintf("track:%q artist:%q", title, artist)
		result, err := c.api.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(searchLimit))
		if err != nil {
			return nil, err
		}
		if result.Tracks == nil {
			return nil, nil
		}
		return convertTracks(result.Tracks.Tracks, artist), nil
	})
	if err != nil {
		logging.Info().Str("api", "popularity").Str("endpoint", "track search").
			Str("artist", artist).Str("title", title).Str("reason", err.Error()).
			Msg("lookup failed")
		return nil
	}
	return cands
}

// ArtistGenres returns the genre tags of an artist id.
func (c *Client) ArtistGenres(ctx context.Context, id string) []string {
	if id == "" {
		return nil
	}
	genres, err := c.genres.GetOrFill("genres:"+id, func() ([]string, error) {
		artist, err := c.api.GetArtist(ctx, spotify.ID(id))
		if err != nil {
			return nil, err
		}
		return artist.Genres, nil
	})
	if err != nil {
		logging.Info().Str("api", "popularity").Str("endpoint", "artist").
			Str("id", id).Str("reason", err.Error()).Msg("lookup failed")
		return nil
	}
	return genres
}

// convertTracks keeps results whose artist credit matches the requested
// artist under normalization.
func convertTracks(results []spotify.FullTrack, artist string) []Candidate {
	want := titles.Normalize(artist)
	candidates := make([]Candidate, 0, len(results))
	for i := range results {
		tr := &results[i]
		if !artistMatches(tr, want) {
			continue
		}
		c := Candidate{
			ID:          string(tr.ID),
			Title:       tr.Name,
			AlbumType:   strings.ToLower(tr.Album.AlbumType),
			AlbumName:   tr.Album.Name,
			Popularity:  int(tr.Popularity),
			DurationMS:  int(tr.Duration),
			ISRC:        tr.ExternalIDs["isrc"],
			ReleaseDate: tr.Album.ReleaseDate,
		}
		if len(tr.Album.Images) > 0 {
			c.CoverURL = tr.Album.Images[0].URL
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func artistMatches(tr *spotify.FullTrack, want string) bool {
	for _, a := range tr.Artists {
		if titles.Normalize(a.Name) == want {
			return true
		}
	}
	return false
}
