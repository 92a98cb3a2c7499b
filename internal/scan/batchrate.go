package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/llehouerou/airwave/internal/detect"
	"github.com/llehouerou/airwave/internal/discogs"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/rating"
	"github.com/llehouerou/airwave/internal/store"
	"github.com/llehouerou/airwave/internal/titles"
)

// BatchRate recomputes detection and star ratings offline from the stored
// popularity data. No external service is called: previously gathered
// evidence is reconstructed from the persisted source sets.
func (p *Pipeline) BatchRate(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{}

	names, err := p.deps.Store.AllArtistNames()
	if err != nil {
		return report, fmt.Errorf("load artists: %w", err)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	for _, artist := range names {
		if opts.Artist != "" && !strings.EqualFold(artist, opts.Artist) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Artists++

		if err := p.batchRateArtist(ctx, artist, opts, report); err != nil {
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			logging.Err(err).Str("artist", artist).Msg("batch re-rate failed")
		}
	}
	return report, nil
}

func (p *Pipeline) batchRateArtist(ctx context.Context, artist string, opts Options, report *Report) error {
	albums, err := p.deps.Store.ArtistAlbumNames(artist)
	if err != nil {
		return err
	}
	sort.Slice(albums, func(i, j int) bool {
		return strings.ToLower(albums[i]) < strings.ToLower(albums[j])
	})

	artistStats := p.refreshArtistStats(ctx, artist, opts.DryRun)

	for _, album := range albums {
		if opts.Album != "" && !strings.EqualFold(album, opts.Album) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := p.deps.Store.AlbumTracks(artist, album)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		tracks := make([]store.Track, len(rows))
		for i, r := range rows {
			tracks[i] = *r
		}
		sort.SliceStable(tracks, func(i, j int) bool {
			return tracks[i].Popularity > tracks[j].Popularity
		})

		prep := detect.Preprocess(tracks)
		albumStats := detect.ComputeAlbumStats(tracks, prep)
		underperforming := detect.Underperforming(albumStats, artistStats)
		albumCtx := discogs.ContextFromAlbum(album, "")
		flags := detect.Flags{VideoOnlyMedium: p.deps.Config.Features.VideoOnlyMedium}

		updates := make([]store.SingleUpdate, 0, len(tracks))
		pushes := map[string]int{}
		for i := range tracks {
			t := &tracks[i]
			ev := evidenceFromStored(t)
			ev.AlbumLive = albumCtx.IsLive || albumCtx.IsUnplugged

			res := detect.Detect(t, prep, albumStats, artistStats, ev, flags)
			excluded := prep.IsExcluded(t.ID)
			band := rating.BandRating(t, tracks, prep)

			var artistZ float64
			if artistStats.Reliable() {
				artistZ = artistStats.Z(t.Popularity)
			}
			stars := rating.Rate(band, res, excluded, underperforming, artistZ)

			var baseID *int64
			if id, ok := prep.AlternateOf[t.ID]; ok {
				baseID = &id
			}
			updates = append(updates, store.SingleUpdate{
				TrackID:       t.ID,
				IsSingle:      res.IsSingle,
				Confidence:    res.Confidence,
				Sources:       res.Sources,
				Stars:         stars,
				AlternateTake: baseID != nil,
				BaseTrackID:   baseID,
			})
			if res.IsSingle {
				report.SinglesDetected++
			}
			if stars != t.Stars && t.LibraryID != "" {
				pushes[t.LibraryID] = stars
			}
		}

		if opts.DryRun {
			logging.Info().Str("artist", artist).Str("album", album).
				Int("rating_changes", len(pushes)).Msg("dry run, skipping writes")
			report.TracksProcessed += len(tracks)
			continue
		}

		if err := p.withStoreRetry(func() error {
			return p.deps.Store.BatchUpdateSingles(ctx, updates)
		}); err != nil {
			return fmt.Errorf("write singles batch: %w", err)
		}
		for libraryID, stars := range pushes {
			if err := p.deps.Library.ApplyRating(ctx, libraryID, stars); err != nil {
				logging.Err(err).Str("track", libraryID).Int("stars", stars).Msg("rating push failed")
				continue
			}
			report.RatingsPushed++
		}
		report.TracksProcessed += len(tracks)
		report.AlbumsCompleted++
	}

	if !opts.DryRun {
		p.emitPlaylist(artist)
	}
	return nil
}

// evidenceFromStored rebuilds detector evidence from the sources persisted
// by an earlier online scan.
func evidenceFromStored(t *store.Track) detect.Evidence {
	var ev detect.Evidence
	for _, s := range t.SingleSources {
		switch s {
		case detect.SourceMetadataASingle:
			ev.MetadataASingle = true
		case detect.SourceMetadataBSingle:
			ev.MetadataBSingle = true
		case detect.SourceMetadataBVideo:
			ev.MetadataBVideo = true
		case detect.SourcePopularitySingle:
			ev.PopularityAlbumType = "single"
			ev.PopularityAlbumName = t.Title
		}
	}
	// A live track that was classified before must have been confirmed.
	if titles.IsLiveTitle(t.Title) && t.IsSingle {
		ev.LiveConfirmed = true
	}
	return ev
}
