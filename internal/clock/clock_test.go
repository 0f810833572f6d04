package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RecoversFromPanicsAndErrors(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Every(ctx, Real{}, zerolog.Nop(), "test", 5*time.Millisecond, func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("failed")
			}
			return nil
		})
	}()

	g.Eventually(calls.Load, 5*time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 3))
	cancel()
	g.Eventually(done, time.Second).Should(BeClosed())
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, Real{}, time.Hour))
	assert.True(t, Sleep(context.Background(), Real{}, time.Millisecond))
}

func TestFake_Advance(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())
	assert.Equal(t, start.Add(time.Minute), f.Advance(time.Minute))
}

type dayLedger map[string]string

func (l dayLedger) LastJobRun(_ context.Context, job string) (string, error) { return l[job], nil }

func (l dayLedger) MarkJobRun(_ context.Context, job, day string) error {
	l[job] = day
	return nil
}

func TestDayGuard(t *testing.T) {
	ctx := context.Background()
	ledger := dayLedger{}
	runs := 0
	job := func(context.Context) error { runs++; return nil }
	day1 := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)

	g := &DayGuard{Job: "reset", Ledger: ledger}
	require.NoError(t, g.Run(ctx, day1, job))
	require.NoError(t, g.Run(ctx, day1.Add(30*time.Second), job))
	assert.Equal(t, 1, runs, "once per day")
	assert.Equal(t, "2024-05-01", ledger["reset"])

	require.NoError(t, g.Run(ctx, day1.Add(2*time.Minute), job))
	require.NoError(t, g.Run(ctx, day1.Add(3*time.Minute), job))
	assert.Equal(t, 2, runs)
}

func TestDayGuard_RestartResumesFromLedger(t *testing.T) {
	ctx := context.Background()
	ledger := dayLedger{"reset": "2024-05-01"}
	runs := 0
	job := func(context.Context) error { runs++; return nil }

	restarted := &DayGuard{Job: "reset", Ledger: ledger}
	require.NoError(t, restarted.Run(ctx, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), job))
	assert.Zero(t, runs, "day already ran before the restart")

	// A process restarted every day still runs each day's job.
	restarted = &DayGuard{Job: "reset", Ledger: ledger}
	require.NoError(t, restarted.Run(ctx, time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC), job))
	assert.Equal(t, 1, runs)
	assert.Equal(t, "2024-05-02", ledger["reset"])
}

func TestDayGuard_FailedRunRetries(t *testing.T) {
	ctx := context.Background()
	ledger := dayLedger{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := &DayGuard{Job: "decay", Ledger: ledger}

	err := g.Run(ctx, now, func(context.Context) error { return errors.New("db down") })
	assert.Error(t, err)
	assert.Empty(t, ledger["decay"])

	runs := 0
	require.NoError(t, g.Run(ctx, now.Add(time.Minute), func(context.Context) error { runs++; return nil }))
	assert.Equal(t, 1, runs)
}
