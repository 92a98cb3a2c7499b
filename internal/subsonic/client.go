// Package subsonic talks to the Subsonic-compatible music server the
// scanner enriches. The pipeline depends on four operations only: listing
// artists, albums and tracks, and pushing star ratings back.
package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec // Subsonic token auth mandates md5(password+salt)
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/llehouerou/airwave/internal/logging"
)

const (
	apiVersion = "1.16.1"
	clientName = "airwave"
)

// Library is the music-server surface the pipeline consumes.
type Library interface {
	Ping(ctx context.Context) error
	ListArtists(ctx context.Context) ([]Artist, error)
	ListAlbums(ctx context.Context, artistID string) ([]Album, error)
	ListTracks(ctx context.Context, albumID string) ([]Track, error)
	ApplyRating(ctx context.Context, trackID string, stars int) error
}

// Client implements Library against the Subsonic REST API.
type Client struct {
	baseURL     string
	username    string
	password    string
	musicFolder string
	salt        string

	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Library = (*Client)(nil)

// New creates a client for the server at baseURL. musicFolder optionally
// restricts artist listing to the named server-side music folder.
func New(baseURL, username, password, musicFolder string) *Client {
	return &Client{
		baseURL:     baseURL,
		username:    username,
		password:    password,
		musicFolder: musicFolder,
		salt:        newSalt(),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     rate.NewLimiter(10, 10),
	}
}

func newSalt() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "airwavesalt"
	}
	return hex.EncodeToString(buf)
}

// authParams builds the token-auth query parameters:
// t = md5(password + salt), s = salt.
func (c *Client) authParams() url.Values {
	sum := md5.Sum([]byte(c.password + c.salt)) //nolint:gosec // protocol requirement
	params := url.Values{}
	params.Set("u", c.username)
	params.Set("t", hex.EncodeToString(sum[:]))
	params.Set("s", c.salt)
	params.Set("v", apiVersion)
	params.Set("c", clientName)
	params.Set("f", "json")
	return params
}

func (c *Client) get(ctx context.Context, verb string, extra url.Values) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := c.authParams()
	for key, vals := range extra {
		for _, v := range vals {
			params.Add(key, v)
		}
	}
	reqURL := fmt.Sprintf("%s/rest/%s.view?%s", c.baseURL, verb, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Response.Status != "ok" {
		if e := env.Response.Error; e != nil {
			return nil, fmt.Errorf("server error %d: %s", e.Code, e.Message)
		}
		return nil, fmt.Errorf("server status %q", env.Response.Status)
	}
	return &env, nil
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "ping", nil)
	if err != nil {
		return fmt.Errorf("ping %s: %w", c.baseURL, err)
	}
	return nil
}

// ListArtists returns every artist, flattened from the server's index
// groups. When a music folder is configured, only that folder is listed.
func (c *Client) ListArtists(ctx context.Context) ([]Artist, error) {
	params := url.Values{}
	if c.musicFolder != "" {
		id, err := c.findMusicFolder(ctx, c.musicFolder)
		if err != nil {
			return nil, err
		}
		if id >= 0 {
			params.Set("musicFolderId", strconv.Itoa(id))
		}
	}

	env, err := c.get(ctx, "getArtists", params)
	if err != nil {
		return nil, fmt.Errorf("list artists: %w", err)
	}
	if env.Response.Artists == nil {
		return nil, nil
	}
	var artists []Artist
	for _, idx := range env.Response.Artists.Index {
		for _, a := range idx.Artists {
			artists = append(artists, Artist{ID: a.ID, Name: a.Name, AlbumCount: a.AlbumCount})
		}
	}
	return artists, nil
}

// findMusicFolder resolves a folder name to its id, or -1 when the server
// does not know it (the filter is then skipped with a warning).
func (c *Client) findMusicFolder(ctx context.Context, name string) (int, error) {
	env, err := c.get(ctx, "getMusicFolders", nil)
	if err != nil {
		return -1, fmt.Errorf("list music folders: %w", err)
	}
	if env.Response.MusicFolders != nil {
		for _, f := range env.Response.MusicFolders.Folders {
			if f.Name == name {
				return f.ID, nil
			}
		}
	}
	logging.Warn().Str("folder", name).Msg("music folder not found on server, listing all")
	return -1, nil
}

// ListAlbums returns the albums of an artist.
func (c *Client) ListAlbums(ctx context.Context, artistID string) ([]Album, error) {
	params := url.Values{}
	params.Set("id", artistID)
	env, err := c.get(ctx, "getArtist", params)
	if err != nil {
		return nil, fmt.Errorf("list albums for artist %s: %w", artistID, err)
	}
	if env.Response.Artist == nil {
		return nil, nil
	}
	albums := make([]Album, 0, len(env.Response.Artist.Albums))
	for _, a := range env.Response.Artist.Albums {
		albums = append(albums, Album{
			ID:       a.ID,
			ArtistID: a.ArtistID,
			Artist:   a.Artist,
			Name:     a.Name,
			Year:     a.Year,
			Genre:    a.Genre,
			CoverArt: a.CoverArt,
			Songs:    a.SongCount,
		})
	}
	return albums, nil
}

// ListTracks returns the songs of an album.
func (c *Client) ListTracks(ctx context.Context, albumID string) ([]Track, error) {
	params := url.Values{}
	params.Set("id", albumID)
	env, err := c.get(ctx, "getAlbum", params)
	if err != nil {
		return nil, fmt.Errorf("list tracks for album %s: %w", albumID, err)
	}
	if env.Response.Album == nil {
		return nil, nil
	}
	tracks := make([]Track, 0, len(env.Response.Album.Songs))
	for _, s := range env.Response.Album.Songs {
		tracks = append(tracks, Track{
			ID:       s.ID,
			AlbumID:  s.AlbumID,
			Title:    s.Title,
			Artist:   s.Artist,
			Album:    s.Album,
			Duration: s.Duration,
			Path:     s.Path,
			Year:     s.Year,
			Genre:    s.Genre,
		})
	}
	return tracks, nil
}

// ApplyRating pushes a 0-5 star rating for a track.
func (c *Client) ApplyRating(ctx context.Context, trackID string, stars int) error {
	if stars < 0 || stars > 5 {
		return fmt.Errorf("invalid rating %d for track %s", stars, trackID)
	}
	params := url.Values{}
	params.Set("id", trackID)
	params.Set("rating", strconv.Itoa(stars))
	if _, err := c.get(ctx, "setRating", params); err != nil {
		return fmt.Errorf("set rating for track %s: %w", trackID, err)
	}
	return nil
}
