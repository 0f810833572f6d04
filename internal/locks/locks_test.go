package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_TimesOutWhileHeld(t *testing.T) {
	pl := New()
	require.True(t, pl.TryLock("p1", 10*time.Millisecond))

	start := time.Now()
	assert.False(t, pl.TryLock("p1", 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	pl.Unlock("p1")
	assert.True(t, pl.TryLock("p1", 10*time.Millisecond))
	pl.Unlock("p1")
	assert.Equal(t, 0, pl.Held())
}

func TestLock_ContextCancelled(t *testing.T) {
	pl := New()
	require.NoError(t, pl.Lock(context.Background(), "p1"))
	defer pl.Unlock("p1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pl.Lock(ctx, "p1"), context.Canceled)
}

func TestAcquireAll_ReleasesOnFailure(t *testing.T) {
	pl := New()
	require.True(t, pl.TryLock("c", time.Millisecond))

	release, ok := pl.AcquireAll([]string{"d", "a", "c", "b"}, 10*time.Millisecond)
	assert.False(t, ok)
	release()

	// a and b were taken before c failed and must be free again.
	assert.True(t, pl.TryLock("a", time.Millisecond))
	assert.True(t, pl.TryLock("b", time.Millisecond))
	assert.True(t, pl.TryLock("d", time.Millisecond))
	pl.Unlock("a")
	pl.Unlock("b")
	pl.Unlock("d")
	pl.Unlock("c")
	assert.Equal(t, 0, pl.Held())
}

func TestAcquireAll_DuplicatesAndRelease(t *testing.T) {
	pl := New()
	release, ok := pl.AcquireAll([]string{"x", "y", "x"}, 10*time.Millisecond)
	require.True(t, ok)
	assert.False(t, pl.TryLock("x", time.Millisecond))
	release()
	assert.True(t, pl.TryLock("x", time.Millisecond))
	pl.Unlock("x")
}

func TestAcquireAll_OpposingOrdersDoNotDeadlock(t *testing.T) {
	pl := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if release, ok := pl.AcquireAll([]string{"a", "b", "c"}, time.Second); ok {
				mu.Lock()
				acquired++
				mu.Unlock()
				release()
			}
		}()
		go func() {
			defer wg.Done()
			if release, ok := pl.AcquireAll([]string{"c", "b", "a"}, time.Second); ok {
				mu.Lock()
				acquired++
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, acquired)
	assert.Equal(t, 0, pl.Held())
}
