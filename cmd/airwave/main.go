// Command airwave scans a Subsonic-compatible music library, enriches it
// with popularity and metadata signals, and writes star ratings back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llehouerou/airwave/internal/config"
	"github.com/llehouerou/airwave/internal/discogs"
	"github.com/llehouerou/airwave/internal/lastfm"
	"github.com/llehouerou/airwave/internal/logging"
	"github.com/llehouerou/airwave/internal/musicbrainz"
	"github.com/llehouerou/airwave/internal/playlist"
	"github.com/llehouerou/airwave/internal/ratelimit"
	"github.com/llehouerou/airwave/internal/scan"
	"github.com/llehouerou/airwave/internal/spotify"
	"github.com/llehouerou/airwave/internal/store"
	"github.com/llehouerou/airwave/internal/subsonic"
)

// Exit codes.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitConnectivity = 2
)

type cliFlags struct {
	artist     string
	album      string
	resumeFrom string
	batchrate  bool
	dryRun     bool
	force      bool
	perpetual  bool
	verbose    bool
	dedup      bool
	history    int
}

func main() {
	os.Exit(run())
}

func run() int {
	var fl cliFlags
	flag.StringVar(&fl.artist, "artist", "", "scan only this artist")
	flag.StringVar(&fl.album, "album", "", "scan only this album")
	flag.StringVar(&fl.resumeFrom, "resume-from", "", "resume the scan at this artist")
	flag.BoolVar(&fl.batchrate, "batchrate", false, "recompute ratings from stored data, no API calls")
	flag.BoolVar(&fl.dryRun, "dry-run", false, "log what would change without writing")
	flag.BoolVar(&fl.force, "force", false, "rescan albums even when recently scanned")
	flag.BoolVar(&fl.perpetual, "perpetual", false, "keep scanning on an interval")
	flag.BoolVar(&fl.verbose, "verbose", false, "log debug detail to the console")
	flag.BoolVar(&fl.dedup, "dedup", false, "merge duplicate tracks and exit")
	flag.IntVar(&fl.history, "history", 0, "print the last N scan history rows and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}
	if fl.force {
		cfg.Features.Force = true
	}
	if fl.verbose {
		cfg.Features.Verbose = true
	}
	if fl.perpetual {
		cfg.Features.Perpetual = true
	}

	if err := logging.Init(logging.Config{
		Dir:     cfg.LogPath,
		Verbose: cfg.Features.Verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return exitConfigError
	}
	defer logging.Close()

	if err := cfg.Validate(); err != nil {
		logging.Error().Err(err).Msg("invalid configuration")
		return exitConfigError
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logging.Error().Err(err).Str("path", cfg.DBPath).Msg("open database")
		return exitConfigError
	}
	defer st.Close()

	switch {
	case fl.dedup:
		return runDedup(st)
	case fl.history > 0:
		return runHistory(st, fl.history)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	library := subsonic.New(cfg.Library.BaseURL, cfg.Library.Username, cfg.Library.Token, cfg.Library.MusicFolder)

	if err := waitForLibrary(ctx, library, cfg); err != nil {
		logging.Error().Err(err).Str("url", cfg.Library.BaseURL).Msg("library unreachable")
		return exitConnectivity
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg, st, library)
	if err != nil {
		logging.Error().Err(err).Msg("startup failed")
		return exitConfigError
	}
	defer cleanup()

	opts := scan.Options{
		Artist:           fl.artist,
		Album:            fl.album,
		ResumeFromArtist: fl.resumeFrom,
		Force:            cfg.Features.Force,
		DryRun:           fl.dryRun,
	}

	if fl.batchrate || cfg.Features.Batchrate {
		report, err := pipeline.BatchRate(ctx, opts)
		printReport(report)
		if err != nil && !errors.Is(err, context.Canceled) {
			return exitConfigError
		}
		return exitOK
	}

	if cfg.Features.Perpetual {
		return runPerpetual(ctx, pipeline, library, cfg, opts)
	}

	report, err := pipeline.Run(ctx, opts)
	printReport(report)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("scan failed")
		return exitConfigError
	}
	return exitOK
}

// buildPipeline constructs the external clients and the pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, st *store.Store, library subsonic.Library) (*scan.Pipeline, func(), error) {
	deps := scan.Deps{
		Store:     st,
		Library:   library,
		MetadataA: musicbrainz.NewClient(cfg.API.MetadataA.UserAgent),
		Config:    cfg,
	}

	if cfg.API.Popularity.Enabled {
		sp, err := spotify.New(ctx, cfg.API.Popularity.ClientID, cfg.API.Popularity.ClientSecret)
		if err != nil {
			return nil, nil, fmt.Errorf("popularity client: %w", err)
		}
		deps.Popularity = sp
	}
	if cfg.HasScrobbles() {
		deps.Scrobbles = lastfm.New(cfg.API.Scrobbles.APIKey, cfg.API.Scrobbles.SharedSecret)
	}
	if cfg.HasMetadataB() {
		deps.MetadataB = discogs.NewClient(cfg.API.MetadataB.Token, cfg.API.MetadataA.UserAgent)
	}

	limits := ratelimit.DefaultConfig()
	if cfg.RateLimits.PopularityWindowLimit > 0 {
		limits.PopularityWindowLimit = cfg.RateLimits.PopularityWindowLimit
	}
	if cfg.RateLimits.PopularityWindowSeconds > 0 {
		limits.PopularityWindow = time.Duration(cfg.RateLimits.PopularityWindowSeconds) * time.Second
	}
	if cfg.RateLimits.PopularityDailyLimit > 0 {
		limits.PopularityDailyLimit = cfg.RateLimits.PopularityDailyLimit
	}
	if cfg.RateLimits.ScrobblesDailyLimit > 0 {
		limits.ScrobblesDailyLimit = cfg.RateLimits.ScrobblesDailyLimit
	}
	if cfg.RateLimits.FlushEvery > 0 {
		limits.FlushEvery = cfg.RateLimits.FlushEvery
	}
	limiter := ratelimit.New(limits, filepath.Join(filepath.Dir(cfg.DBPath), "ratelimits.json"))
	deps.Limiter = limiter

	if cfg.Playlists.Enabled && cfg.Playlists.Path != "" {
		deps.Playlists = playlist.NewWriter(cfg.Playlists.Path)
	}

	return scan.New(deps), limiter.Close, nil
}

// waitForLibrary pings the music server. In perpetual mode connectivity
// failures retry with backoff instead of exiting.
func waitForLibrary(ctx context.Context, library subsonic.Library, cfg *config.Config) error {
	err := library.Ping(ctx)
	if err == nil || !cfg.Features.Perpetual {
		return err
	}

	backoff := time.Minute
	for {
		logging.Warn().Err(err).Dur("retry_in", backoff).Msg("library unreachable, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if err = library.Ping(ctx); err == nil {
			return nil
		}
		if backoff < 15*time.Minute {
			backoff *= 2
		}
	}
}

// runPerpetual loops scans on the configured interval until cancelled.
func runPerpetual(ctx context.Context, pipeline *scan.Pipeline, library subsonic.Library, cfg *config.Config, opts scan.Options) int {
	interval := time.Duration(cfg.PerpetualIntervalHrs) * time.Hour
	for {
		report, err := pipeline.Run(ctx, opts)
		printReport(report)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return exitOK
			}
			logging.Error().Err(err).Msg("scan failed, will retry next interval")
		}
		// Resume only applies to the first pass.
		opts.ResumeFromArtist = ""

		logging.Info().Dur("interval", interval).Msg("sleeping until next scan")
		select {
		case <-ctx.Done():
			return exitOK
		case <-time.After(interval):
		}
		if err := waitForLibrary(ctx, library, cfg); err != nil {
			return exitOK // only cancellation escapes the retry loop
		}
	}
}

func runDedup(st *store.Store) int {
	merged, err := st.DedupTracks(context.Background())
	if err != nil {
		logging.Error().Err(err).Msg("dedup failed")
		return exitConfigError
	}
	fmt.Printf("merged %s duplicate track(s)\n", humanize.Comma(int64(merged)))
	return exitOK
}

func runHistory(st *store.Store, limit int) int {
	entries, err := st.RecentScans(limit)
	if err != nil {
		logging.Error().Err(err).Msg("history query failed")
		return exitConfigError
	}
	for _, e := range entries {
		fmt.Printf("%s  %-12s %-11s %4d  %s - %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.ScanType, e.Status,
			e.TracksProcessed, e.Artist, e.Album)
	}
	return exitOK
}

func printReport(report *scan.Report) {
	if report == nil {
		return
	}
	elapsed := report.Finished.Sub(report.Started).Round(time.Second)
	fmt.Printf("scanned %s artist(s): %s album(s) completed, %s skipped, %s failed\n",
		humanize.Comma(int64(report.Artists)),
		humanize.Comma(int64(report.AlbumsCompleted)),
		humanize.Comma(int64(report.AlbumsSkipped)),
		humanize.Comma(int64(report.AlbumsFailed)))
	fmt.Printf("%s track(s) processed, %s looked up, %s single(s) detected, %s rating(s) pushed in %s\n",
		humanize.Comma(int64(report.TracksProcessed)),
		humanize.Comma(int64(report.TracksLookedUp)),
		humanize.Comma(int64(report.SinglesDetected)),
		humanize.Comma(int64(report.RatingsPushed)),
		elapsed)
}
