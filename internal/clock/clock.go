package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by every worker. Deadlines and expiry checks
// go through Now so tests can move time without waiting.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *time.Ticker
	NewTimer(d time.Duration) *time.Timer
}

type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }
func (Real) NewTimer(d time.Duration) *time.Timer   { return time.NewTimer(d) }

// Fake reports a settable wall time. Tickers and timers still run on real
// time, which keeps worker loops responsive in tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }
func (f *Fake) NewTimer(d time.Duration) *time.Timer   { return time.NewTimer(d) }

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, c Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
