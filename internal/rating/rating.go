// Package rating turns popularity bands and single detections into star
// ratings.
package rating

import (
	"sort"

	"github.com/llehouerou/airwave/internal/detect"
	"github.com/llehouerou/airwave/internal/store"
)

// BandRating assigns the baseline stars for a track: non-excluded album
// tracks sorted by popularity descending are split into four contiguous
// bands of roughly equal size, 4 stars down to 1. Tracks with zero
// popularity always get 1 star.
func BandRating(track *store.Track, albumTracks []store.Track, prep detect.Prep) int {
	if track.Popularity <= 0 {
		return 1
	}

	pops := make([]float64, 0, len(albumTracks))
	for i := range albumTracks {
		t := &albumTracks[i]
		if prep.IsExcluded(t.ID) && t.ID != track.ID {
			continue
		}
		pops = append(pops, t.Popularity)
	}
	if len(pops) == 0 {
		return 1
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(pops)))

	// Rank of the track within the band population. Excluded tracks rank
	// against the bands without shifting them.
	rank := len(pops) - 1
	for i, p := range pops {
		if p <= track.Popularity {
			rank = i
			break
		}
	}

	n := len(pops)
	band := rank * 4 / n // 0..3, top band first
	return 4 - band
}

// Rate applies detection promotions and album-level downgrades on top of
// the band rating.
func Rate(band int, det detect.Result, excluded, underperforming bool, artistZ float64) int {
	// Excluded tracks keep their band rating no matter what was detected.
	if excluded {
		return band
	}

	stars := band
	switch det.Confidence {
	case store.ConfidenceHigh:
		stars = 5
	case store.ConfidenceMedium:
		if len(det.Sources) >= 2 {
			stars = 5
		} else {
			stars = band + 1
			if stars > 4 {
				stars = 4
			}
		}
	}

	// A weak album drags its five-star tracks down unless the evidence is
	// broad or the track stands out for the artist overall.
	if underperforming && artistZ < 0 && stars == 5 && len(det.Sources) < 2 {
		stars = 4
	}
	return stars
}
