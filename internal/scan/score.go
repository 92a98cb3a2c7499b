package scan

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/llehouerou/airwave/internal/config"
)

// signals are the raw inputs of the popularity score. A nil field means
// the corresponding service returned nothing.
type signals struct {
	SpotifyPopularity *int    // 0..100
	Playcount         *int    // last.fm global playcount
	ReleaseDate       string  // "2006", "2006-01" or "2006-01-02"
}

// score blends the available signals into a 0..100 popularity score.
// Weights of missing signals are redistributed over the present ones; with
// nothing present the score is 0.
func score(sig signals, w config.Weights, decay config.AgeDecayConfig, now time.Time) float64 {
	type part struct {
		weight float64
		value  float64
	}
	var parts []part

	if sig.SpotifyPopularity != nil {
		parts = append(parts, part{w.Spotify, float64(*sig.SpotifyPopularity)})
	}
	if sig.Playcount != nil {
		parts = append(parts, part{w.Scrobbles, scrobbleScore(*sig.Playcount)})
	}
	if age, ok := releaseAgeYears(sig.ReleaseDate, now); ok {
		parts = append(parts, part{w.Age, ageScore(age, decay)})
	}
	if len(parts) == 0 {
		return 0
	}

	totalWeight := 0.0
	for _, p := range parts {
		totalWeight += p.weight
	}
	if totalWeight <= 0 {
		return 0
	}

	s := 0.0
	for _, p := range parts {
		s += p.weight / totalWeight * p.value
	}
	return clamp(s, 0, 100)
}

// scrobbleScore maps a global playcount onto 0..100 logarithmically: 10^8
// scrobbles saturate the scale.
func scrobbleScore(playcount int) float64 {
	if playcount < 1 {
		playcount = 1
	}
	return clamp(12.5*math.Log10(float64(playcount)), 0, 100)
}

// ageScore maps release age onto 0..100, newer scoring higher.
func ageScore(ageYears float64, decay config.AgeDecayConfig) float64 {
	if ageYears < 0 {
		ageYears = 0
	}
	switch decay.Mode {
	case "linear":
		return clamp(100-(100/(2*decay.HalfLifeYears))*ageYears, 0, 100)
	default:
		return clamp(100*math.Pow(0.5, ageYears/decay.HalfLifeYears), 0, 100)
	}
}

// releaseAgeYears parses the partial dates the services report.
func releaseAgeYears(release string, now time.Time) (float64, bool) {
	release = strings.TrimSpace(release)
	if release == "" {
		return 0, false
	}

	var ref time.Time
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, release); err == nil {
			ref = t
			break
		}
	}
	if ref.IsZero() {
		// Some sources report bare years with noise around them.
		if year, err := strconv.Atoi(release[:min(4, len(release))]); err == nil && year > 1000 {
			ref = time.Date(year, 7, 1, 0, 0, 0, 0, time.UTC)
		} else {
			return 0, false
		}
	}
	return now.Sub(ref).Hours() / (24 * 365.25), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
