package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrorBackoff is how long a worker pauses after a failed tick.
const ErrorBackoff = time.Second

// Every runs fn every interval until ctx is cancelled. A tick that returns an
// error or panics is logged and followed by ErrorBackoff before the next one.
func Every(ctx context.Context, c Clock, log zerolog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := c.NewTicker(interval)
	defer ticker.Stop()

	log = log.With().Str("worker", name).Logger()
	log.Debug().Dur("interval", interval).Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := runTick(ctx, fn); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("worker tick failed")
				if !Sleep(ctx, c, ErrorBackoff) {
					return
				}
			}
		}
	}
}

func runTick(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// DayLedger persists the last UTC day a daily job completed.
type DayLedger interface {
	LastJobRun(ctx context.Context, job string) (string, error)
	MarkJobRun(ctx context.Context, job, day string) error
}

// DayGuard lets an hourly or minutely worker run a job once per UTC day.
// Completed days are kept in the ledger, so a restart skips a day that
// already ran and catches up on one that did not.
type DayGuard struct {
	Job    string
	Ledger DayLedger

	last string
}

// Run calls fn unless today already completed. The day is recorded only
// after fn succeeds; a failure is retried on the next tick.
func (g *DayGuard) Run(ctx context.Context, now time.Time, fn func(context.Context) error) error {
	day := now.UTC().Format("2006-01-02")
	if g.last == "" && g.Ledger != nil {
		last, err := g.Ledger.LastJobRun(ctx, g.Job)
		if err != nil {
			return fmt.Errorf("load last %s run: %w", g.Job, err)
		}
		g.last = last
	}
	if day <= g.last {
		return nil
	}
	if err := fn(ctx); err != nil {
		return err
	}
	g.last = day
	if g.Ledger != nil {
		if err := g.Ledger.MarkJobRun(ctx, g.Job, day); err != nil {
			return fmt.Errorf("record %s run: %w", g.Job, err)
		}
	}
	return nil
}
