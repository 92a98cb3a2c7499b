// Package scan runs the two-phase enrichment pipeline: library import from
// the music server, then the popularity scan that fetches external signals,
// detects singles, rates tracks and pushes ratings back.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/llehouerou/airwave/internal/config"
	"github.com/llehouerou/airwave/internal/detect"
	"github.com/llehouerou/airwave/internal/discogs"
	"github.com/llehouerou/airwave/internal/lastfm"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/playlist"
	"github.com/llehouerou/airwave/internal/ratelimit"
	"github.com/llehouerou/airwave/internal/rating"
	"github.com/llehouerou/airwave/internal/spotify"
	"github.com/llehouerou/airwave/internal/store"
	"github.com/llehouerou/airwave/internal/subsonic"
	"github.com/llehouerou/airwave/internal/titles"
)

// popularityFreshness is how long a positive lookup result stays fresh;
// tracks looked up more recently are not re-fetched unless forced.
const popularityFreshness = 24 * time.Hour

// storeRetryDelay is the single-retry backoff for store writes.
const storeRetryDelay = 50 * time.Millisecond

// PopularityClient is the track-popularity service surface.
type PopularityClient interface {
	FindArtistID(ctx context.Context, name string) (string, bool)
	SearchTrack(ctx context.Context, title, artist, album string) []spotify.Candidate
	ArtistGenres(ctx context.Context, id string) []string
}

// ScrobblesClient is the playcount service surface.
type ScrobblesClient interface {
	TrackInfo(ctx context.Context, artist, title string) (*lastfm.TrackInfo, bool)
}

// MetadataAClient is the release-group service surface.
type MetadataAClient interface {
	IsSingle(ctx context.Context, title, artist string) bool
	LiveVersionExists(ctx context.Context, title, artist string) bool
}

// MetadataBClient is the release-database service surface. durationSec
// disambiguates the release tracklist match when > 0.
type MetadataBClient interface {
	IsSingle(ctx context.Context, title, artist string, durationSec int, albumCtx discogs.Context) bool
	HasOfficialVideo(ctx context.Context, title, artist string, durationSec int, albumCtx discogs.Context) bool
}

// Deps wires the pipeline. Popularity, Scrobbles and MetadataB may be nil
// when unconfigured; MetadataA and the rest are required.
type Deps struct {
	Store      *store.Store
	Library    subsonic.Library
	Popularity PopularityClient
	Scrobbles  ScrobblesClient
	MetadataA  MetadataAClient
	MetadataB  MetadataBClient
	Limiter    *ratelimit.Limiter
	Playlists  *playlist.Writer
	Config     *config.Config
}

// Options filter and modify a single run.
type Options struct {
	Artist           string
	Album            string
	ResumeFromArtist string
	Force            bool
	DryRun           bool
}

// Report totals one run.
type Report struct {
	Artists         int
	AlbumsCompleted int
	AlbumsSkipped   int
	AlbumsFailed    int
	TracksProcessed int
	TracksLookedUp  int
	SinglesDetected int
	RatingsPushed   int
	Started         time.Time
	Finished        time.Time
}

// Pipeline executes scans against one Store and one library.
type Pipeline struct {
	deps Deps

	semPopularity *semaphore.Weighted
	semScrobbles  *semaphore.Weighted
	semMetadataA  *semaphore.Weighted
	semMetadataB  *semaphore.Weighted

	mu          sync.Mutex
	artistCache map[string]artistIDs // keyed by lowercased artist name
}

type artistIDs struct {
	popularityID string
	genres       []string
}

// New builds a pipeline from its dependencies.
func New(deps Deps) *Pipeline {
	cc := deps.Config.Concurrency
	return &Pipeline{
		deps:          deps,
		semPopularity: semaphore.NewWeighted(int64(cc.Popularity)),
		semScrobbles:  semaphore.NewWeighted(int64(cc.Scrobbles)),
		semMetadataA:  semaphore.NewWeighted(int64(cc.MetadataA)),
		semMetadataB:  semaphore.NewWeighted(int64(cc.MetadataB)),
		artistCache:   map[string]artistIDs{},
	}
}

// Run executes a full scan: library import, then the popularity scan.
// Only startup failures and cancellation return an error; per-album
// failures are recorded in scan history and the run continues.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	if err := p.importLibrary(ctx, opts, report); err != nil {
		return report, err
	}
	if err := p.scanPopularity(ctx, opts, report); err != nil {
		return report, err
	}
	return report, nil
}

// importLibrary mirrors the music server into the store: identity fields
// only, enrichment comes later.
func (p *Pipeline) importLibrary(ctx context.Context, opts Options, report *Report) error {
	artists, err := p.deps.Library.ListArtists(ctx)
	if err != nil {
		return fmt.Errorf("list artists: %w", err)
	}

	for _, artist := range artists {
		if opts.Artist != "" && !strings.EqualFold(artist.Name, opts.Artist) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.importArtist(ctx, artist, opts); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logging.Err(err).Str("artist", artist.Name).Msg("library import failed for artist")
		}
	}
	return nil
}

func (p *Pipeline) importArtist(ctx context.Context, artist subsonic.Artist, opts Options) error {
	artistID, err := p.deps.Store.UpsertArtist(ctx, artist.Name)
	if err != nil {
		return err
	}

	albums, err := p.deps.Library.ListAlbums(ctx, artist.ID)
	if err != nil {
		return err
	}
	for _, album := range albums {
		if opts.Album != "" && !strings.EqualFold(album.Name, opts.Album) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		tracks, err := p.deps.Library.ListTracks(ctx, album.ID)
		if err != nil {
			logging.Err(err).Str("artist", artist.Name).Str("album", album.Name).
				Msg("library import failed for album")
			p.recordScan(ctx, artist.Name, album.Name, store.ScanLibraryImport, store.StatusError, 0)
			continue
		}

		albumID, err := p.deps.Store.UpsertAlbum(ctx, artistID, album.Name)
		if err != nil {
			return err
		}
		n := 0
		for i := range tracks {
			t := &tracks[i]
			_, err := p.deps.Store.UpsertTrack(ctx, &store.Track{
				AlbumID:   albumID,
				LibraryID: t.ID,
				Title:     t.Title,
				Artist:    artist.Name,
				Album:     album.Name,
				Duration:  t.Duration,
				Path:      t.Path,
			})
			if err != nil {
				logging.Err(err).Str("track", t.Title).Msg("track upsert failed")
				continue
			}
			n++
		}
		// An album the server lists without tracks was not imported.
		status := store.StatusCompleted
		if n == 0 {
			status = store.StatusSkipped
		}
		p.recordScan(ctx, artist.Name, album.Name, store.ScanLibraryImport, status, n)
	}
	return nil
}

// scanPopularity runs the enrichment phase over the imported catalog.
func (p *Pipeline) scanPopularity(ctx context.Context, opts Options, report *Report) error {
	names, err := p.deps.Store.AllArtistNames()
	if err != nil {
		return fmt.Errorf("load artists: %w", err)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	resuming := opts.ResumeFromArtist != ""
	for _, name := range names {
		if opts.Artist != "" && !strings.EqualFold(name, opts.Artist) {
			continue
		}
		if resuming {
			if strings.EqualFold(name, opts.ResumeFromArtist) {
				resuming = false
			} else {
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		report.Artists++
		if err := p.scanArtist(ctx, name, opts, report); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logging.Err(err).Str("artist", name).Msg("artist scan failed")
		}
	}
	return nil
}

func (p *Pipeline) scanArtist(ctx context.Context, artist string, opts Options, report *Report) error {
	albums, err := p.deps.Store.ArtistAlbumNames(artist)
	if err != nil {
		return err
	}
	sort.Slice(albums, func(i, j int) bool {
		return strings.ToLower(albums[i]) < strings.ToLower(albums[j])
	})

	summary := struct{ completed, skipped, failed int }{}
	for _, album := range albums {
		if opts.Album != "" && !strings.EqualFold(album, opts.Album) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		switch err := p.scanAlbum(ctx, artist, album, opts, report); {
		case err == nil:
			summary.completed++
		case errors.Is(err, errAlbumSkipped):
			summary.skipped++
			report.AlbumsSkipped++
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			summary.failed++
			report.AlbumsFailed++
			logging.Err(err).Str("artist", artist).Str("album", album).Msg("album scan error")
			p.recordScan(ctx, artist, album, store.ScanPopularity, store.StatusError, 0)
		}
	}

	logging.Info().Str("artist", artist).
		Int("completed", summary.completed).Int("skipped", summary.skipped).
		Int("failed", summary.failed).Msg("artist scan finished")

	if !opts.DryRun {
		p.emitPlaylist(artist)
	}
	return nil
}

var errAlbumSkipped = errors.New("album skipped")

func (p *Pipeline) scanAlbum(ctx context.Context, artist, album string, opts Options, report *Report) error {
	skipWindow := time.Duration(p.deps.Config.Features.AlbumSkipDays) * 24 * time.Hour
	if !opts.Force && !p.deps.Config.Features.Force {
		scanned, err := p.deps.Store.WasScannedWithin(artist, album, store.ScanPopularity, skipWindow)
		if err != nil {
			return err
		}
		if scanned {
			logging.Info().Str("artist", artist).Str("album", album).Msg("album skipped, recently scanned")
			p.recordScan(ctx, artist, album, store.ScanPopularity, store.StatusSkipped, 0)
			return errAlbumSkipped
		}
	}

	rows, err := p.deps.Store.AlbumTracks(artist, album)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errAlbumSkipped
	}
	tracks := make([]store.Track, len(rows))
	for i, r := range rows {
		tracks[i] = *r
	}

	ids := p.resolveArtist(ctx, artist)
	force := opts.Force || p.deps.Config.Features.Force

	results, interrupted := p.fetchSignals(ctx, tracks, force, report)

	// Album statistics need popularity-descending order.
	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].Popularity > tracks[j].Popularity
	})
	prep := detect.Preprocess(tracks)
	albumStats := detect.ComputeAlbumStats(tracks, prep)
	artistStats := p.refreshArtistStats(ctx, artist, opts.DryRun)
	underperforming := detect.Underperforming(albumStats, artistStats)

	albumCtx := discogs.ContextFromAlbum(album, "")
	evidence := p.fetchEvidence(ctx, tracks, prep, albumStats, artistStats, albumCtx)

	popUpdates := make([]store.PopularityUpdate, 0, len(tracks))
	singleUpdates := make([]store.SingleUpdate, 0, len(tracks))
	pushes := map[string]int{} // library id -> stars

	flags := detect.Flags{VideoOnlyMedium: p.deps.Config.Features.VideoOnlyMedium}
	for i := range tracks {
		t := &tracks[i]
		ev := evidence[t.ID]
		ev.AlbumLive = albumCtx.IsLive || albumCtx.IsUnplugged
		if r, ok := results[t.ID]; ok {
			ev.PopularityAlbumType = strings.ToLower(r.albumType)
			ev.PopularityAlbumName = r.albumName
		}

		res := detect.Detect(t, prep, albumStats, artistStats, ev, flags)
		excluded := prep.IsExcluded(t.ID)
		band := rating.BandRating(t, tracks, prep)

		var artistZ float64
		var artistZPtr *float64
		if artistStats.Reliable() {
			artistZ = artistStats.Z(t.Popularity)
			artistZPtr = &artistZ
		}
		stars := rating.Rate(band, res, excluded, underperforming, artistZ)

		if r, ok := results[t.ID]; ok {
			var albumZPtr *float64
			if albumStats.Count > 0 && t.Popularity > 0 {
				z := albumStats.Z(t.Popularity)
				albumZPtr = &z
			}
			popUpdates = append(popUpdates, store.PopularityUpdate{
				TrackID:      t.ID,
				Popularity:   t.Popularity,
				AlbumZ:       albumZPtr,
				ArtistZ:      artistZPtr,
				PopularityID: r.popularityID,
				ISRC:         r.isrc,
				LookedUp:     r.lookedUp,
			})
		}

		var baseID *int64
		if id, ok := prep.AlternateOf[t.ID]; ok {
			baseID = &id
		}
		update := store.SingleUpdate{
			TrackID:       t.ID,
			IsSingle:      res.IsSingle,
			Confidence:    res.Confidence,
			Sources:       res.Sources,
			Stars:         stars,
			AlternateTake: baseID != nil,
			BaseTrackID:   baseID,
		}
		if r, ok := results[t.ID]; ok {
			update.MetadataAID = r.scrobbleMBID
		}
		singleUpdates = append(singleUpdates, update)

		if res.IsSingle {
			report.SinglesDetected++
		}
		if stars != t.Stars && t.LibraryID != "" {
			pushes[t.LibraryID] = stars
		}
	}

	if opts.DryRun {
		logging.Info().Str("artist", artist).Str("album", album).
			Int("tracks", len(tracks)).Int("rating_changes", len(pushes)).
			Msg("dry run, skipping writes")
		report.TracksProcessed += len(tracks)
		report.AlbumsCompleted++
		return interrupted
	}

	// Write order matters for restart safety: popularity, singles, library
	// push, then the history row that marks the album done. On
	// cancellation the results gathered so far still get flushed, so the
	// writes run detached from the dead run context.
	writeCtx := ctx
	if interrupted != nil {
		writeCtx = context.WithoutCancel(ctx)
	}
	if err := p.withStoreRetry(func() error {
		return p.deps.Store.BatchUpdatePopularity(writeCtx, popUpdates)
	}); err != nil {
		return fmt.Errorf("write popularity batch: %w", err)
	}
	if err := p.withStoreRetry(func() error {
		return p.deps.Store.BatchUpdateSingles(writeCtx, singleUpdates)
	}); err != nil {
		return fmt.Errorf("write singles batch: %w", err)
	}
	p.updateAlbumMeta(writeCtx, artist, album, tracks, results, ids)
	for libraryID, stars := range pushes {
		if err := p.deps.Library.ApplyRating(writeCtx, libraryID, stars); err != nil {
			logging.Err(err).Str("track", libraryID).Int("stars", stars).Msg("rating push failed")
			continue
		}
		report.RatingsPushed++
	}

	if interrupted != nil {
		p.recordScan(writeCtx, artist, album, store.ScanPopularity, store.StatusInterrupted, len(tracks))
		return interrupted
	}
	p.recordScan(ctx, artist, album, store.ScanPopularity, store.StatusCompleted, len(tracks))
	logging.Info().Str("artist", artist).Str("album", album).
		Int("tracks", len(tracks)).Msg("album completed")
	report.TracksProcessed += len(tracks)
	report.AlbumsCompleted++
	return nil
}

// trackResult is what the signal fetch produced for one track.
type trackResult struct {
	popularityID string
	isrc         string
	scrobbleMBID string
	albumType    string
	albumName    string
	releaseDate  string
	coverURL     string
	tags         []string
	lookedUp     time.Time
}

// fetchSignals gathers Spotify and Last.fm data for every track needing a
// lookup and recomputes popularity scores in place. The returned error is
// non-nil only on cancellation; in-flight lookups finish first.
func (p *Pipeline) fetchSignals(ctx context.Context, tracks []store.Track, force bool, report *Report) (map[int64]*trackResult, error) {
	results := make(map[int64]*trackResult, len(tracks))
	timeout := p.deps.Config.Timeout()
	now := time.Now()

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range tracks {
		t := &tracks[i]
		if titles.ContainsVersionKeyword(t.Title) {
			continue
		}
		fresh := !t.LastPopularityLookup.IsZero() &&
			now.Sub(t.LastPopularityLookup) < popularityFreshness &&
			t.Popularity > 0
		if fresh && !force {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(t *store.Track) {
			defer wg.Done()
			res := p.fetchTrack(ctx, t, timeout)
			if res == nil {
				return
			}
			mu.Lock()
			results[t.ID] = res
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	report.TracksLookedUp += len(results)
	return results, ctx.Err()
}

// fetchTrack queries the popularity and scrobble services for one track
// and updates its score. Returns nil when no lookup happened at all.
func (p *Pipeline) fetchTrack(ctx context.Context, t *store.Track, timeout time.Duration) *trackResult {
	var (
		wg        sync.WaitGroup
		candidate *spotify.Candidate
		info      *lastfm.TrackInfo
	)

	if p.deps.Popularity != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.semPopularity.Acquire(ctx, 1); err != nil {
				return
			}
			defer p.semPopularity.Release(1)
			if !p.deps.Limiter.WaitIfNeeded(ctx, ratelimit.APIPopularity, timeout) {
				logging.Info().Str("track", t.Title).Msg("popularity lookup skipped, rate limited")
				return
			}
			p.deps.Limiter.Record(ratelimit.APIPopularity)

			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			candidate = bestCandidate(p.deps.Popularity.SearchTrack(callCtx, t.Title, t.Artist, t.Album), t)
		}()
	}

	if p.deps.Scrobbles != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.semScrobbles.Acquire(ctx, 1); err != nil {
				return
			}
			defer p.semScrobbles.Release(1)
			if !p.deps.Limiter.WaitIfNeeded(ctx, ratelimit.APIScrobbles, timeout) {
				logging.Info().Str("track", t.Title).Msg("scrobble lookup skipped, rate limited")
				return
			}
			p.deps.Limiter.Record(ratelimit.APIScrobbles)

			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			info, _ = p.deps.Scrobbles.TrackInfo(callCtx, t.Artist, t.Title)
		}()
	}
	wg.Wait()

	if candidate == nil && info == nil {
		return nil
	}

	res := &trackResult{lookedUp: time.Now()}
	var sig signals
	if candidate != nil {
		pop := candidate.Popularity
		sig.SpotifyPopularity = &pop
		sig.ReleaseDate = candidate.ReleaseDate
		res.popularityID = candidate.ID
		res.isrc = candidate.ISRC
		res.albumType = candidate.AlbumType
		res.albumName = candidate.AlbumName
		res.releaseDate = candidate.ReleaseDate
		res.coverURL = candidate.CoverURL
	}
	if info != nil {
		pc := info.Playcount
		sig.Playcount = &pc
		res.scrobbleMBID = info.MBID
		res.tags = info.TopTagNames(3)
	}

	t.Popularity = score(sig, p.deps.Config.Weights, p.deps.Config.AgeDecay, time.Now())
	t.LastPopularityLookup = res.lookedUp
	return res
}

// bestCandidate picks the title-matched candidate with the highest
// popularity, preferring album releases over compilations.
func bestCandidate(cands []spotify.Candidate, t *store.Track) *spotify.Candidate {
	want := titles.Normalize(t.Title)
	var best *spotify.Candidate
	for i := range cands {
		c := &cands[i]
		if titles.Normalize(c.Title) != want {
			continue
		}
		if best == nil || c.Popularity > best.Popularity {
			best = c
		}
	}
	return best
}

// fetchEvidence runs the metadata fan-out for detector candidates:
// non-excluded tracks that skipped neither lookup phase, plus live tracks
// needing confirmation.
func (p *Pipeline) fetchEvidence(ctx context.Context, tracks []store.Track, prep detect.Prep,
	albumStats detect.AlbumStats, artistStats detect.ArtistStats, albumCtx discogs.Context) map[int64]detect.Evidence {

	timeout := p.deps.Config.Timeout()
	evidence := make(map[int64]detect.Evidence, len(tracks))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range tracks {
		t := &tracks[i]
		if prep.IsExcluded(t.ID) {
			continue
		}
		isLive := titles.IsLiveTitle(t.Title) || albumCtx.IsLive || albumCtx.IsUnplugged
		if _, skip := prep.KeywordSkip[t.ID]; skip && !isLive {
			continue
		}
		// Tracks far below the artist's level cannot be promoted anyway;
		// skip the metadata round-trips for them.
		if artistStats.Reliable() && t.Popularity > 0 && artistStats.Z(t.Popularity) < -1.5 {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(t *store.Track, isLive bool) {
			defer wg.Done()
			ev := p.fetchTrackEvidence(ctx, t, isLive, albumCtx, timeout)
			mu.Lock()
			evidence[t.ID] = ev
			mu.Unlock()
		}(t, isLive)
	}
	wg.Wait()
	return evidence
}

func (p *Pipeline) fetchTrackEvidence(ctx context.Context, t *store.Track, isLive bool,
	albumCtx discogs.Context, timeout time.Duration) detect.Evidence {

	var ev detect.Evidence
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.semMetadataA.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.semMetadataA.Release(1)
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ev.MetadataASingle = p.deps.MetadataA.IsSingle(callCtx, t.Title, t.Artist)
		if isLive {
			ev.LiveConfirmed = p.deps.MetadataA.LiveVersionExists(callCtx, t.Title, t.Artist)
		}
	}()

	if p.deps.MetadataB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.semMetadataB.Acquire(ctx, 1); err != nil {
				return
			}
			defer p.semMetadataB.Release(1)
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ev.MetadataBSingle = p.deps.MetadataB.IsSingle(callCtx, t.Title, t.Artist, t.Duration, albumCtx)
			ev.MetadataBVideo = p.deps.MetadataB.HasOfficialVideo(callCtx, t.Title, t.Artist, t.Duration, albumCtx)
		}()
	}
	wg.Wait()
	return ev
}

// updateAlbumMeta stores the enrichment captured during the scan: album
// type, release date and cover from the most popular matched track, plus
// the genres unioned from the artist lookup and the scrobble tags.
func (p *Pipeline) updateAlbumMeta(ctx context.Context, artist, album string,
	tracks []store.Track, results map[int64]*trackResult, ids artistIDs) {

	genres := mergeGenres(ids.genres, tracks, results)
	meta := store.AlbumMeta{TrackCount: len(tracks), Genres: genres}
	for i := range tracks { // popularity-descending, first hit wins
		r, ok := results[tracks[i].ID]
		if !ok {
			continue
		}
		meta.AlbumType = strings.ToLower(r.albumType)
		meta.ReleaseDate = r.releaseDate
		meta.CoverURL = r.coverURL
		break
	}
	if meta.AlbumType == "" && len(meta.Genres) == 0 {
		return
	}

	row, err := p.deps.Store.AlbumByName(artist, album)
	if err != nil || row == nil {
		return
	}
	if err := p.deps.Store.SetAlbumMeta(ctx, row.ID, meta); err != nil {
		logging.Err(err).Str("artist", artist).Str("album", album).Msg("album meta update failed")
	}

	if len(genres) > len(ids.genres) {
		if ar, err := p.deps.Store.ArtistByName(artist); err == nil && ar != nil {
			if err := p.deps.Store.SetArtistMeta(ctx, ar.ID, ar.ExternalIDs, genres); err != nil {
				logging.Err(err).Str("artist", artist).Msg("artist genre update failed")
			}
		}
	}
}

// mergeGenres unions the artist genres with the per-track scrobble tags,
// case-insensitively, preserving first-seen order.
func mergeGenres(base []string, tracks []store.Track, results map[int64]*trackResult) []string {
	seen := make(map[string]struct{}, len(base))
	var out []string
	add := func(g string) {
		key := strings.ToLower(strings.TrimSpace(g))
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	for _, g := range base {
		add(g)
	}
	for i := range tracks {
		if r, ok := results[tracks[i].ID]; ok {
			for _, g := range r.tags {
				add(g)
			}
		}
	}
	return out
}

// resolveArtist looks up and caches the artist's external IDs and genres,
// persisting them on first resolution.
func (p *Pipeline) resolveArtist(ctx context.Context, artist string) artistIDs {
	key := strings.ToLower(artist)
	p.mu.Lock()
	if ids, ok := p.artistCache[key]; ok {
		p.mu.Unlock()
		return ids
	}
	p.mu.Unlock()

	var ids artistIDs
	if p.deps.Popularity != nil && p.deps.Limiter.WaitIfNeeded(ctx, ratelimit.APIPopularity, p.deps.Config.Timeout()) {
		p.deps.Limiter.Record(ratelimit.APIPopularity)
		callCtx, cancel := context.WithTimeout(ctx, p.deps.Config.Timeout())
		defer cancel()
		if id, ok := p.deps.Popularity.FindArtistID(callCtx, artist); ok {
			ids.popularityID = id
			ids.genres = p.deps.Popularity.ArtistGenres(callCtx, id)
		}
	}

	if ids.popularityID != "" {
		if row, err := p.deps.Store.ArtistByName(artist); err == nil && row != nil {
			meta := row.ExternalIDs
			meta.Popularity = ids.popularityID
			if err := p.deps.Store.SetArtistMeta(ctx, row.ID, meta, ids.genres); err != nil {
				logging.Err(err).Str("artist", artist).Msg("persist artist meta failed")
			}
		}
	}

	p.mu.Lock()
	p.artistCache[key] = ids
	p.mu.Unlock()
	return ids
}

// refreshArtistStats recomputes and persists the artist's aggregate
// popularity statistics.
func (p *Pipeline) refreshArtistStats(ctx context.Context, artist string, dryRun bool) detect.ArtistStats {
	rows, err := p.deps.Store.ArtistTracks(artist)
	if err != nil {
		logging.Err(err).Str("artist", artist).Msg("artist stats query failed")
		return detect.ArtistStats{}
	}
	tracks := make([]store.Track, len(rows))
	for i, r := range rows {
		tracks[i] = *r
	}
	stats := detect.ComputeArtistStats(tracks)

	if !dryRun && stats.Count > 0 {
		if row, err := p.deps.Store.ArtistByName(artist); err == nil && row != nil {
			err := p.deps.Store.SaveArtistStats(ctx, row.ID, store.ArtistStats{
				Mean: stats.Mean, Median: stats.Median, Stddev: stats.Stddev, TrackCount: stats.Count,
			})
			if err != nil {
				logging.Err(err).Str("artist", artist).Msg("persist artist stats failed")
			}
		}
	}
	return stats
}

func (p *Pipeline) emitPlaylist(artist string) {
	if p.deps.Playlists == nil || !p.deps.Config.Playlists.Enabled {
		return
	}
	fiveStar, err := p.deps.Store.FiveStarCount(artist)
	if err != nil {
		logging.Err(err).Str("artist", artist).Msg("five-star count failed")
		return
	}
	total, err := p.deps.Store.ArtistTrackCount(artist)
	if err != nil {
		logging.Err(err).Str("artist", artist).Msg("track count failed")
		return
	}
	if _, err := p.deps.Playlists.Emit(artist, fiveStar, total); err != nil {
		logging.Err(err).Str("artist", artist).Msg("playlist emission failed")
	}
}

// recordScan writes a history row, retrying once. History failures are
// logged, never fatal.
func (p *Pipeline) recordScan(ctx context.Context, artist, album, scanType, status string, tracks int) {
	err := p.withStoreRetry(func() error {
		return p.deps.Store.RecordScan(ctx, store.ScanEntry{
			Artist:          artist,
			Album:           album,
			ScanType:        scanType,
			Status:          status,
			TracksProcessed: tracks,
		})
	})
	if err != nil {
		logging.Err(err).Str("artist", artist).Str("album", album).Msg("scan history write failed")
	}
}

func (p *Pipeline) withStoreRetry(fn func() error) error {
	if err := fn(); err != nil {
		time.Sleep(storeRetryDelay)
		return fn()
	}
	return nil
}
