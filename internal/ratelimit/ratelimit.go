// Package ratelimit gates outgoing calls to the popularity and scrobble
// APIs. It combines a rolling request window with persisted daily quotas,
// so restarts never reset a day's budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/llehouerou/airwave/internal/logging"
)

// API identifies a rate-limited external service.
type API string

const (
	APIPopularity API = "popularity"
	APIScrobbles  API = "scrobbles"
)

// Reasons returned by Check when a call is not allowed.
const (
	ReasonWindowLimit = "window limit reached"
	ReasonDailyQuota  = "daily quota exhausted"
	ReasonSpacing     = "minimum request spacing"
)

// Config holds the limiter quotas.
type Config struct {
	PopularityWindowLimit   int           // requests per rolling window
	PopularityWindow        time.Duration // rolling window size
	PopularityDailyLimit    int
	ScrobblesMinSpacing     time.Duration // minimum gap between scrobble calls
	ScrobblesDailyLimit     int
	FlushEvery              int // records between state flushes
}

// DefaultConfig returns the documented external quotas.
func DefaultConfig() Config {
	return Config{
		PopularityWindowLimit: 250,
		PopularityWindow:      30 * time.Second,
		PopularityDailyLimit:  500000,
		ScrobblesMinSpacing:   time.Second,
		ScrobblesDailyLimit:   50000,
		FlushEvery:            50,
	}
}

// Limiter tracks request counts per API. All methods are safe for
// concurrent use. The limiter never returns errors to callers; a denied
// call is a decision, not a failure.
type Limiter struct {
	mu  sync.Mutex
	cfg Config

	window        []time.Time // popularity requests inside the rolling window
	daily         map[API]int
	lastReset     string // local date "2006-01-02" of the last daily reset
	lastScrobble  time.Time
	sinceFlush    int
	statePath     string

	now func() time.Time
}

// New creates a limiter and loads persisted state from statePath when the
// file exists. An empty statePath disables persistence.
func New(cfg Config, statePath string) *Limiter {
	if cfg.PopularityWindow <= 0 {
		cfg.PopularityWindow = 30 * time.Second
	}
	if cfg.ScrobblesMinSpacing <= 0 {
		cfg.ScrobblesMinSpacing = time.Second
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 50
	}
	l := &Limiter{
		cfg:       cfg,
		daily:     map[API]int{},
		statePath: statePath,
		now:       time.Now,
	}
	l.loadState()
	return l
}

// Check reports whether a call to api is currently allowed, with a reason
// when it is not. It does not consume a token.
func (l *Limiter) Check(api API) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(api)
}

func (l *Limiter) checkLocked(api API) (bool, string) {
	l.resetDailyLocked()
	l.pruneWindowLocked()

	switch api {
	case APIPopularity:
		if l.daily[APIPopularity] >= l.cfg.PopularityDailyLimit {
			return false, ReasonDailyQuota
		}
		if len(l.window) >= l.cfg.PopularityWindowLimit {
			return false, ReasonWindowLimit
		}
	case APIScrobbles:
		if l.daily[APIScrobbles] >= l.cfg.ScrobblesDailyLimit {
			return false, ReasonDailyQuota
		}
		if !l.lastScrobble.IsZero() && l.now().Sub(l.lastScrobble) < l.cfg.ScrobblesMinSpacing {
			return false, ReasonSpacing
		}
	}
	return true, ""
}

// Record consumes a token for api and flushes state every FlushEvery
// records. Call it after the request has actually been issued.
func (l *Limiter) Record(api API) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetDailyLocked()
	now := l.now()
	switch api {
	case APIPopularity:
		l.window = append(l.window, now)
	case APIScrobbles:
		l.lastScrobble = now
	}
	l.daily[api]++
	l.sinceFlush++
	if l.sinceFlush >= l.cfg.FlushEvery {
		l.flushLocked()
	}
}

// WaitIfNeeded blocks until a call to api is allowed, up to maxWait. It
// returns false immediately when the daily quota is exhausted: sleeping
// past midnight is never useful. Context cancellation also returns false.
func (l *Limiter) WaitIfNeeded(ctx context.Context, api API, maxWait time.Duration) bool {
	deadline := l.now().Add(maxWait)
	for {
		l.mu.Lock()
		ok, reason := l.checkLocked(api)
		var wait time.Duration
		if !ok && reason != ReasonDailyQuota {
			wait = l.retryAfterLocked(api)
		}
		l.mu.Unlock()

		if ok {
			return true
		}
		if reason == ReasonDailyQuota {
			return false
		}
		if remaining := deadline.Sub(l.now()); wait > remaining {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// retryAfterLocked estimates how long until the next slot opens.
func (l *Limiter) retryAfterLocked(api API) time.Duration {
	const minWait = 50 * time.Millisecond
	switch api {
	case APIPopularity:
		if len(l.window) == 0 {
			return minWait
		}
		wait := l.cfg.PopularityWindow - l.now().Sub(l.window[0])
		if wait < minWait {
			wait = minWait
		}
		return wait
	case APIScrobbles:
		wait := l.cfg.ScrobblesMinSpacing - l.now().Sub(l.lastScrobble)
		if wait < minWait {
			wait = minWait
		}
		return wait
	}
	return minWait
}

// DailyCount returns today's recorded calls for api.
func (l *Limiter) DailyCount(api API) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyLocked()
	return l.daily[api]
}

// Close flushes persisted state.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *Limiter) pruneWindowLocked() {
	cutoff := l.now().Add(-l.cfg.PopularityWindow)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

func (l *Limiter) resetDailyLocked() {
	today := l.now().Format("2006-01-02")
	if l.lastReset == today {
		return
	}
	if l.lastReset != "" {
		logging.Debug().
			Str("previous", l.lastReset).
			Int("popularity", l.daily[APIPopularity]).
			Int("scrobbles", l.daily[APIScrobbles]).
			Msg("resetting daily rate-limit counters")
	}
	l.lastReset = today
	l.daily = map[API]int{}
}
