package ratelimit

import (
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/llehouerou/airwave/internal/logging"
)

// persistedState is the JSON document flushed beside the database. Losing
// up to FlushEvery records in a crash under-counts slightly, which the
// real APIs tolerate.
type persistedState struct {
	PopularityDailyCount int      `json:"popularity_daily_count"`
	ScrobblesDailyCount  int      `json:"scrobbles_daily_count"`
	LastResetDate        string   `json:"last_reset_date"`
	PopularityWindow     []string `json:"popularity_window"`
}

func (l *Limiter) loadState() {
	if l.statePath == "" {
		return
	}
	data, err := os.ReadFile(l.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", l.statePath).Msg("cannot read rate-limit state")
		}
		return
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		logging.Warn().Err(err).Str("path", l.statePath).Msg("cannot parse rate-limit state")
		return
	}
	l.lastReset = st.LastResetDate
	l.daily[APIPopularity] = st.PopularityDailyCount
	l.daily[APIScrobbles] = st.ScrobblesDailyCount
	for _, raw := range st.PopularityWindow {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			l.window = append(l.window, ts)
		}
	}
	l.pruneWindowLocked()
	l.resetDailyLocked()
}

// flushLocked writes the state file. Persistence failures are logged and
// otherwise ignored; the limiter keeps working from memory.
func (l *Limiter) flushLocked() {
	l.sinceFlush = 0
	if l.statePath == "" {
		return
	}
	l.pruneWindowLocked()
	st := persistedState{
		PopularityDailyCount: l.daily[APIPopularity],
		ScrobblesDailyCount:  l.daily[APIScrobbles],
		LastResetDate:        l.lastReset,
		PopularityWindow:     make([]string, 0, len(l.window)),
	}
	for _, ts := range l.window {
		st.PopularityWindow = append(st.PopularityWindow, ts.Format(time.RFC3339Nano))
	}
	data, err := json.Marshal(st)
	if err != nil {
		logging.Warn().Err(err).Msg("cannot marshal rate-limit state")
		return
	}
	tmp := l.statePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(l.statePath), 0o755); err != nil {
		logging.Warn().Err(err).Msg("cannot create rate-limit state dir")
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Warn().Err(err).Str("path", tmp).Msg("cannot write rate-limit state")
		return
	}
	if err := os.Rename(tmp, l.statePath); err != nil {
		logging.Warn().Err(err).Str("path", l.statePath).Msg("cannot replace rate-limit state")
	}
}
