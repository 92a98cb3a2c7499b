// Package detect classifies tracks as singles from popularity statistics
// and prefetched metadata evidence. The detector does no I/O: the scan
// pipeline gathers all external signals first and hands them in as
// Evidence.
package detect

import (
	"math"
	"sort"
	"strings"

	"github.com/llehouerou/airwave/internal/store"
	"github.com/llehouerou/airwave/internal/titles"
)

// Source identifiers recorded on detected singles.
const (
	SourcePopularityStandout = "popularity_standout"
	SourcePopularitySingle   = "popularity_single"
	SourceMetadataASingle    = "metadata_a_single"
	SourceMetadataBSingle    = "metadata_b_single"
	SourceMetadataBVideo     = "metadata_b_video"
	SourceZScoreMetadata     = "zscore_metadata"
)

// standoutMargin is the popularity lead over the album mean that alone
// marks a track as a high-confidence single.
const standoutMargin = 6.0

// zThresholdSlack relaxes the top-half z comparison.
const zThresholdSlack = 0.3

// reliableArtistTracks is the minimum sample size for artist statistics.
const reliableArtistTracks = 10

// underperformingRatio: an album whose median falls below this fraction
// of the artist median is underperforming.
const underperformingRatio = 0.6

// Evidence carries the prefetched external signals for one track. The
// popularity fields come from the best title-matched search candidate and
// are empty when none matched.
type Evidence struct {
	PopularityAlbumType string // album|single|ep|compilation
	PopularityAlbumName string
	MetadataASingle     bool
	MetadataBSingle     bool
	MetadataBVideo      bool

	// AlbumLive marks the containing album as a live recording.
	// LiveConfirmed means a metadata service confirmed a live version of
	// this exact track; without it live tracks are never singles.
	AlbumLive     bool
	LiveConfirmed bool
}

// Flags are the feature toggles the detector honors.
type Flags struct {
	// VideoOnlyMedium lets an official video alone reach medium
	// confidence. Off by default: a video needs a second source.
	VideoOnlyMedium bool
}

// Result is the classification for one track.
type Result struct {
	IsSingle   bool
	Confidence string // store.ConfidenceNone|Medium|High
	Sources    []string
}

// Prep holds the per-album preprocessing outcome, keyed by track ID.
type Prep struct {
	Excluded    map[int64]struct{}
	AlternateOf map[int64]int64 // suffixed track -> base track
	KeywordSkip map[int64]struct{}
}

// IsExcluded reports whether a track is excluded from statistics and
// promotions.
func (p Prep) IsExcluded(trackID int64) bool {
	_, ok := p.Excluded[trackID]
	return ok
}

// Preprocess runs the per-album filters over tracks ordered by popularity
// descending:
//   - trailing-parenthesis exclusion: at least two consecutive tracks at
//     the tail with parenthesized titles, on albums of three or more
//     tracks, are excluded from statistics;
//   - alternate takes: a suffixed track sharing a base title with another
//     album track is linked to it and excluded;
//   - keyword skip: titles with version keywords never go to the
//     popularity or scrobble services.
func Preprocess(albumTracks []store.Track) Prep {
	prep := Prep{
		Excluded:    map[int64]struct{}{},
		AlternateOf: map[int64]int64{},
		KeywordSkip: map[int64]struct{}{},
	}

	if len(albumTracks) >= 3 {
		tail := 0
		for i := len(albumTracks) - 1; i >= 0; i-- {
			if !titles.HasTrailingParen(albumTracks[i].Title) {
				break
			}
			tail++
		}
		if tail >= 2 {
			for i := len(albumTracks) - tail; i < len(albumTracks); i++ {
				prep.Excluded[albumTracks[i].ID] = struct{}{}
			}
		}
	}

	byBase := map[string]int64{}
	for i := range albumTracks {
		t := &albumTracks[i]
		if !titles.HasTrailingParen(t.Title) {
			byBase[titles.Normalize(t.Title)] = t.ID
		}
	}
	for i := range albumTracks {
		t := &albumTracks[i]
		if !titles.HasTrailingParen(t.Title) {
			continue
		}
		base := titles.Normalize(titles.BaseTitle(t.Title))
		if baseID, ok := byBase[base]; ok && baseID != t.ID {
			prep.AlternateOf[t.ID] = baseID
			prep.Excluded[t.ID] = struct{}{}
		}
	}

	for i := range albumTracks {
		if titles.ContainsVersionKeyword(albumTracks[i].Title) {
			prep.KeywordSkip[albumTracks[i].ID] = struct{}{}
		}
	}
	return prep
}

// AlbumStats are the popularity statistics of one album, computed over
// non-excluded tracks with popularity > 0.
type AlbumStats struct {
	Mean       float64
	Median     float64
	Stddev     float64
	MeanTop50Z float64
	Count      int // tracks contributing to the statistics
	AlbumSize  int // all album tracks
}

// ComputeAlbumStats derives the album statistics used by classification.
func ComputeAlbumStats(albumTracks []store.Track, prep Prep) AlbumStats {
	stats := AlbumStats{AlbumSize: len(albumTracks)}

	pops := make([]float64, 0, len(albumTracks))
	for i := range albumTracks {
		t := &albumTracks[i]
		if prep.IsExcluded(t.ID) || t.Popularity <= 0 {
			continue
		}
		pops = append(pops, t.Popularity)
	}
	stats.Count = len(pops)
	if stats.Count == 0 {
		return stats
	}

	stats.Mean = mean(pops)
	stats.Median = median(pops)
	stats.Stddev = stddev(pops, stats.Mean)

	// Mean z of the top half, selected without a full sort.
	k := (len(pops) + 1) / 2
	top := topK(pops, k)
	sum := 0.0
	for _, p := range top {
		sum += stats.Z(p)
	}
	stats.MeanTop50Z = sum / float64(len(top))
	return stats
}

// Z is the album z-score of a popularity value. Zero when the spread is
// zero or the statistics are empty.
func (s AlbumStats) Z(pop float64) float64 {
	if s.Stddev == 0 || s.Count == 0 {
		return 0
	}
	return (pop - s.Mean) / s.Stddev
}

// ArtistStats are the cross-album popularity statistics of one artist.
type ArtistStats struct {
	Mean   float64
	Median float64
	Stddev float64
	Count  int
}

// Reliable reports whether the sample is large enough to act on.
func (s ArtistStats) Reliable() bool {
	return s.Count >= reliableArtistTracks
}

// Z is the artist z-score of a popularity value.
func (s ArtistStats) Z(pop float64) float64 {
	if s.Stddev == 0 || s.Count == 0 {
		return 0
	}
	return (pop - s.Mean) / s.Stddev
}

// ComputeArtistStats derives artist statistics over all the artist's
// tracks, with the same version filter as the album statistics.
func ComputeArtistStats(artistTracks []store.Track) ArtistStats {
	pops := make([]float64, 0, len(artistTracks))
	for i := range artistTracks {
		t := &artistTracks[i]
		if t.Popularity <= 0 || titles.ContainsVersionKeyword(t.Title) {
			continue
		}
		pops = append(pops, t.Popularity)
	}
	stats := ArtistStats{Count: len(pops)}
	if stats.Count == 0 {
		return stats
	}
	stats.Mean = mean(pops)
	stats.Median = median(pops)
	stats.Stddev = stddev(pops, stats.Mean)
	return stats
}

// Underperforming reports whether an album sits well below the artist's
// usual level. Disabled when the artist sample is unreliable.
func Underperforming(album AlbumStats, artist ArtistStats) bool {
	if !artist.Reliable() || artist.Median == 0 {
		return false
	}
	return album.Median < underperformingRatio*artist.Median
}

// Detect classifies one track. albumTracks statistics and evidence must
// already be computed; see Evidence for the contract.
func Detect(track *store.Track, prep Prep, album AlbumStats, artist ArtistStats, ev Evidence, flags Flags) Result {
	metadataConfirmed := ev.MetadataASingle || ev.MetadataBSingle || ev.MetadataBVideo

	// Artist sanity: a below-average track needs metadata backing.
	if artist.Reliable() && track.Popularity < artist.Mean && !metadataConfirmed {
		return none()
	}

	// Live tracks are singles only when a live version is confirmed.
	if titles.IsLiveTitle(track.Title) || ev.AlbumLive {
		if !ev.LiveConfirmed {
			return none()
		}
		return Result{IsSingle: true, Confidence: store.ConfidenceMedium, Sources: liveSources(ev)}
	}

	var high, medium []string

	if album.Count > 0 && track.Popularity >= album.Mean+standoutMargin {
		high = append(high, SourcePopularityStandout)
	}
	if ev.MetadataBSingle {
		high = append(high, SourceMetadataBSingle)
	}

	popularitySingle := (ev.PopularityAlbumType == "single" || ev.PopularityAlbumType == "ep") &&
		!titles.IsLiveTitle(ev.PopularityAlbumName) &&
		!containsWord(ev.PopularityAlbumName, "remix")
	if popularitySingle {
		medium = append(medium, SourcePopularitySingle)
	}
	if ev.MetadataASingle {
		medium = append(medium, SourceMetadataASingle)
	}
	if ev.MetadataBVideo {
		medium = append(medium, SourceMetadataBVideo)
	}
	anyMetadata := popularitySingle || ev.MetadataASingle || ev.MetadataBSingle || ev.MetadataBVideo
	if album.Count > 0 && anyMetadata && album.Z(track.Popularity) >= album.MeanTop50Z-zThresholdSlack {
		medium = append(medium, SourceZScoreMetadata)
	}

	if len(high) > 0 {
		return Result{IsSingle: true, Confidence: store.ConfidenceHigh, Sources: dedupe(append(high, medium...))}
	}

	// A video with no other evidence stays below medium unless enabled.
	if !flags.VideoOnlyMedium && len(medium) == 1 && medium[0] == SourceMetadataBVideo {
		return none()
	}

	if len(medium) == 0 {
		return none()
	}
	sources := dedupe(medium)

	// On real albums a lone popularity hint is not enough.
	if len(sources) == 1 && sources[0] == SourcePopularitySingle && album.AlbumSize > 3 {
		return none()
	}
	return Result{IsSingle: true, Confidence: store.ConfidenceMedium, Sources: sources}
}

func none() Result {
	return Result{Confidence: store.ConfidenceNone}
}

// liveSources names the services that confirmed the live version. The
// live lookup itself runs against the release-group service, so that is
// the fallback attribution.
func liveSources(ev Evidence) []string {
	var sources []string
	if ev.MetadataASingle {
		sources = append(sources, SourceMetadataASingle)
	}
	if ev.MetadataBSingle {
		sources = append(sources, SourceMetadataBSingle)
	}
	if len(sources) == 0 {
		sources = []string{SourceMetadataASingle}
	}
	return sources
}

func containsWord(s, word string) bool {
	for _, w := range strings.Fields(titles.Normalize(s)) {
		if w == word {
			return true
		}
	}
	return false
}

func dedupe(sources []string) []string {
	seen := map[string]struct{}{}
	out := sources[:0]
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}
