package scan

import (
	"math"
	"testing"
	"time"

	"github.com/llehouerou/airwave/internal/config"
)

var testWeights = config.Weights{Spotify: 0.3, Scrobbles: 0.5, Age: 0.2}

func expDecay() config.AgeDecayConfig {
	return config.AgeDecayConfig{Mode: "exponential", HalfLifeYears: 5}
}

func intPtr(v int) *int { return &v }

func TestScoreAllSignals(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	got := score(signals{
		SpotifyPopularity: intPtr(80),
		Playcount:         intPtr(1000000), // L = 12.5*6 = 75
		ReleaseDate:       "2021-08-01",    // 5 years -> A = 50
	}, testWeights, expDecay(), now)

	want := 0.3*80 + 0.5*75 + 0.2*50
	if math.Abs(got-want) > 0.5 {
		t.Errorf("expected score ~%v, got %v", want, got)
	}
}

func TestScoreRenormalizesMissingSignals(t *testing.T) {
	now := time.Now()
	got := score(signals{SpotifyPopularity: intPtr(80)}, testWeights, expDecay(), now)
	if got != 80 {
		t.Errorf("lone signal takes full weight, expected 80, got %v", got)
	}

	got = score(signals{
		SpotifyPopularity: intPtr(80),
		Playcount:         intPtr(1000000),
	}, testWeights, expDecay(), now)
	want := (0.3*80 + 0.5*75) / 0.8
	if math.Abs(got-want) > 0.5 {
		t.Errorf("expected renormalized score ~%v, got %v", want, got)
	}
}

func TestScoreNoSignals(t *testing.T) {
	if got := score(signals{}, testWeights, expDecay(), time.Now()); got != 0 {
		t.Errorf("no signals must score 0, got %v", got)
	}
}

func TestScrobbleScoreClamping(t *testing.T) {
	if got := scrobbleScore(0); got != 0 {
		t.Errorf("zero playcount scores 0, got %v", got)
	}
	if got := scrobbleScore(1); got != 0 {
		t.Errorf("single play scores 0, got %v", got)
	}
	if got := scrobbleScore(2000000000); got != 100 {
		t.Errorf("huge playcounts clamp at 100, got %v", got)
	}
}

func TestAgeScoreExponential(t *testing.T) {
	decay := expDecay()
	if got := ageScore(0, decay); got != 100 {
		t.Errorf("new release scores 100, got %v", got)
	}
	if got := ageScore(5, decay); math.Abs(got-50) > 0.01 {
		t.Errorf("one half-life scores 50, got %v", got)
	}
	if got := ageScore(10, decay); math.Abs(got-25) > 0.01 {
		t.Errorf("two half-lives score 25, got %v", got)
	}
}

func TestAgeScoreLinear(t *testing.T) {
	decay := config.AgeDecayConfig{Mode: "linear", HalfLifeYears: 5}
	if got := ageScore(5, decay); math.Abs(got-50) > 0.01 {
		t.Errorf("linear half-life scores 50, got %v", got)
	}
	if got := ageScore(20, decay); got != 0 {
		t.Errorf("linear decay floors at 0, got %v", got)
	}
}

func TestReleaseAgeYearsFormats(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		release string
		years   float64
	}{
		{"2016-08-01", 10},
		{"2016-08", 10},
		{"2016", 10.6}, // bare years parse as January
	} {
		got, ok := releaseAgeYears(tc.release, now)
		if !ok {
			t.Fatalf("%q: expected parse", tc.release)
		}
		if math.Abs(got-tc.years) > 0.15 {
			t.Errorf("%q: expected ~%v years, got %v", tc.release, tc.years, got)
		}
	}

	if _, ok := releaseAgeYears("", now); ok {
		t.Error("empty release date must not parse")
	}
	if _, ok := releaseAgeYears("unknown", now); ok {
		t.Error("garbage must not parse")
	}
}
