// Package lastfm is the scrobbles client: per-track global playcounts and
// community tags from the Last.fm API.
package lastfm

import (
	"context"
	"fmt"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/llehouerou/airwave/internal/apicache"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/titles"
)

// Tag is a community tag with its weight.
type Tag struct {
	Name  string
	Count int
}

// TrackInfo is the scrobble signal for one track.
type TrackInfo struct {
	Playcount int
	MBID      string
	Tags      []Tag
}

// Client wraps the Last.fm API with a process-lifetime cache. Call spacing
// and the daily quota are enforced by the caller's rate limiter.
type Client struct {
	api   *lastfm.Api
	cache *apicache.Cache[string, *TrackInfo]
}

// New creates a client with the given API credentials. No user session is
// needed; track.getInfo is an unauthenticated method.
func New(apiKey, sharedSecret string) *Client {
	return &Client{
		api:   lastfm.New(apiKey, sharedSecret),
		cache: apicache.New[string, *TrackInfo](apicache.DefaultMaxEntries),
	}
}

// TrackInfo returns playcount and tags for (artist, title). ok is false
// when the track is unknown or the lookup failed; the scan continues with
// the remaining signals.
func (c *Client) TrackInfo(ctx context.Context, artist, title string) (*TrackInfo, bool) {
	key := "track:" + titles.Normalize(artist) + ":" + titles.Normalize(title)
	info, err := c.cache.GetOrFill(key, func() (*TrackInfo, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.fetchTrackInfo(artist, title)
	})
	if err != nil {
		logging.Info().Str("api", "scrobbles").Str("endpoint", "track.getInfo").
			Str("artist", artist).Str("title", title).Str("reason", err.Error()).
			Msg("lookup failed")
		return nil, false
	}
	if info == nil {
		return nil, false
	}
	return info, true
}

func (c *Client) fetchTrackInfo(artist, title string) (*TrackInfo, error) {
	result, err := c.api.Track.GetInfo(lastfm.P{
		"artist": artist,
		"track":  title,
	})
	if err != nil {
		return nil, fmt.Errorf("track.getInfo: %w", err)
	}

	info := &TrackInfo{MBID: result.Mbid}
	if result.PlayCount != "" {
		_, _ = fmt.Sscanf(result.PlayCount, "%d", &info.Playcount) //nolint:errcheck // parse failure means count stays 0
	}

	tags, err := c.api.Track.GetTopTags(lastfm.P{
		"artist": artist,
		"track":  title,
	})
	if err != nil {
		// Playcount alone is still a usable signal.
		logging.Debug().Str("artist", artist).Str("title", title).Err(err).
			Msg("track.getTopTags failed")
		return info, nil
	}
	for _, t := range tags.Tags {
		count := 0
		if t.Count != "" {
			_, _ = fmt.Sscanf(t.Count, "%d", &count) //nolint:errcheck // parse failure means count stays 0
		}
		info.Tags = append(info.Tags, Tag{Name: t.Name, Count: count})
	}
	return info, nil
}

// TopTagNames returns the tag names ordered as delivered by the service.
func (i *TrackInfo) TopTagNames(limit int) []string {
	if i == nil {
		return nil
	}
	names := make([]string, 0, len(i.Tags))
	for _, t := range i.Tags {
		if limit > 0 && len(names) >= limit {
			break
		}
		names = append(names, t.Name)
	}
	return names
}
