package locks

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"
)

const shardCount = 32

// PlayerLocks owns one mutex per player ID, spread across shards so lookups
// do not contend on a single map lock. Mutexes are channel based so an
// acquisition can give up after a timeout.
type PlayerLocks struct {
	shards [shardCount]*shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func New() *PlayerLocks {
	pl := &PlayerLocks{}
	for i := range pl.shards {
		pl.shards[i] = &shard{locks: make(map[string]*entry)}
	}
	return pl
}

func (pl *PlayerLocks) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return pl.shards[h.Sum32()%shardCount]
}

func (s *shard) acquireRef(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[id]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		s.locks[id] = e
	}
	e.refs++
	return e
}

func (s *shard) releaseRef(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.locks, id)
	}
}

// Lock blocks until the player's mutex is held or ctx is done.
func (pl *PlayerLocks) Lock(ctx context.Context, id string) error {
	s := pl.shardFor(id)
	e := s.acquireRef(id)
	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.releaseRef(id)
		return ctx.Err()
	}
}

// TryLock waits at most timeout for the player's mutex.
func (pl *PlayerLocks) TryLock(id string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return pl.Lock(ctx, id) == nil
}

// Unlock releases a mutex taken with Lock or TryLock.
func (pl *PlayerLocks) Unlock(id string) {
	s := pl.shardFor(id)
	s.mu.Lock()
	e, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.ch:
	default:
		return
	}
	s.releaseRef(id)
}

// AcquireAll takes the mutexes of every ID in sorted order, waiting at most
// perLock for each. On failure everything already taken is released and ok
// is false. Duplicate IDs are locked once.
func (pl *PlayerLocks) AcquireAll(ids []string, perLock time.Duration) (release func(), ok bool) {
	ordered := pie.Unique(ids)
	sort.Strings(ordered)

	held := make([]string, 0, len(ordered))
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			pl.Unlock(held[i])
		}
		held = held[:0]
	}
	for _, id := range ordered {
		if !pl.TryLock(id, perLock) {
			release()
			return func() {}, false
		}
		held = append(held, id)
	}
	return release, true
}

// Held reports the number of player mutexes currently referenced.
func (pl *PlayerLocks) Held() int {
	n := 0
	for _, s := range pl.shards {
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
