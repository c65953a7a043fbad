package live

import (
	"context"
	"sync"
	"time"
)

// limiter enforces a per-identity sliding window over comment
// timestamps. The ledger is process-local and garbage-collected on a
// fixed interval.
type limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	ledger map[string][]time.Time
}

func newLimiter(max int, window time.Duration) *limiter {
	return &limiter{
		max:    max,
		window: window,
		ledger: make(map[string][]time.Time),
	}
}

// allow records an attempt and reports whether it fits in the rolling
// window.
func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := l.ledger[key][:0]
	for _, t := range l.ledger[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.ledger[key] = recent
		return false
	}
	l.ledger[key] = append(recent, now)
	return true
}

// startJanitor drops stale ledger entries on the given interval until
// the context is cancelled.
func (l *limiter) startJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.gc(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *limiter) gc(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	for key, times := range l.ledger {
		recent := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(l.ledger, key)
			continue
		}
		l.ledger[key] = recent
	}
}
