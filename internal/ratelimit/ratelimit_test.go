package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLimiter(cfg Config, statePath string) (*Limiter, *time.Time) {
	l := New(cfg, statePath)
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestWindowLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PopularityWindowLimit = 3
	l, now := testLimiter(cfg, "")

	for i := 0; i < 3; i++ {
		ok, reason := l.Check(APIPopularity)
		if !ok {
			t.Fatalf("call %d denied: %s", i, reason)
		}
		l.Record(APIPopularity)
	}
	ok, reason := l.Check(APIPopularity)
	if ok {
		t.Fatal("expected window limit to deny fourth call")
	}
	if reason != ReasonWindowLimit {
		t.Errorf("expected %q, got %q", ReasonWindowLimit, reason)
	}

	// Entries older than the window are pruned lazily on Check.
	*now = now.Add(31 * time.Second)
	if ok, reason := l.Check(APIPopularity); !ok {
		t.Errorf("expected expired window to allow, got %q", reason)
	}
}

func TestDailyQuota(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PopularityDailyLimit = 2
	cfg.PopularityWindowLimit = 100
	l, now := testLimiter(cfg, "")

	l.Record(APIPopularity)
	l.Record(APIPopularity)
	ok, reason := l.Check(APIPopularity)
	if ok || reason != ReasonDailyQuota {
		t.Fatalf("expected daily quota denial, got ok=%v reason=%q", ok, reason)
	}

	// Quota never sleeps: WaitIfNeeded must refuse immediately.
	start := time.Now()
	if l.WaitIfNeeded(context.Background(), APIPopularity, 5*time.Second) {
		t.Fatal("expected WaitIfNeeded to refuse on daily quota")
	}
	if time.Since(start) > time.Second {
		t.Error("WaitIfNeeded slept on an exhausted daily quota")
	}

	// New calendar day resets the counter.
	*now = now.Add(24 * time.Hour)
	if ok, _ := l.Check(APIPopularity); !ok {
		t.Error("expected quota reset on new day")
	}
	if l.DailyCount(APIPopularity) != 0 {
		t.Errorf("expected zero daily count, got %d", l.DailyCount(APIPopularity))
	}
}

func TestScrobblesSpacing(t *testing.T) {
	l, now := testLimiter(DefaultConfig(), "")

	l.Record(APIScrobbles)
	ok, reason := l.Check(APIScrobbles)
	if ok || reason != ReasonSpacing {
		t.Fatalf("expected spacing denial, got ok=%v reason=%q", ok, reason)
	}
	*now = now.Add(1100 * time.Millisecond)
	if ok, _ := l.Check(APIScrobbles); !ok {
		t.Error("expected spacing to allow after one second")
	}
}

func TestWaitIfNeededHonorsCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PopularityWindowLimit = 1
	l := New(cfg, "")
	l.Record(APIPopularity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if l.WaitIfNeeded(ctx, APIPopularity, time.Minute) {
		t.Fatal("expected cancelled context to refuse")
	}
}

func TestStatePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit_state.json")
	cfg := DefaultConfig()
	cfg.FlushEvery = 1

	l, _ := testLimiter(cfg, path)
	l.Record(APIPopularity)
	l.Record(APIScrobbles)
	l.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected state file: %v", err)
	}

	restored, _ := testLimiter(cfg, path)
	if got := restored.DailyCount(APIPopularity); got != 1 {
		t.Errorf("expected popularity daily count 1 after restart, got %d", got)
	}
	if got := restored.DailyCount(APIScrobbles); got != 1 {
		t.Errorf("expected scrobbles daily count 1 after restart, got %d", got)
	}
}

func TestMissingStateFileStartsClean(t *testing.T) {
	l := New(DefaultConfig(), filepath.Join(t.TempDir(), "absent.json"))
	if got := l.DailyCount(APIPopularity); got != 0 {
		t.Errorf("expected clean state, got %d", got)
	}
}
