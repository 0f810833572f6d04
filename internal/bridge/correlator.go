package bridge

import (
	"fmt"
	"sync"
	"time"

	"rbw-core/internal/models"
)

type result struct {
	msg Message
	err error
}

type pendingRequest struct {
	msgType  string
	deadline time.Time
	done     chan result
}

// correlator maps request IDs to waiting callers. Entries leave the table
// exactly once: on a matching response, on expiry or on shutdown.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingRequest)}
}

func (c *correlator) add(id, msgType string, deadline time.Time) (<-chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, models.ErrShutdown
	}
	p := &pendingRequest{msgType: msgType, deadline: deadline, done: make(chan result, 1)}
	c.pending[id] = p
	return p.done, nil
}

// complete hands msg to the waiter for its request ID. It reports false when
// nothing is waiting.
func (c *correlator) complete(id string, msg Message) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- result{msg: msg}
	return true
}

func (c *correlator) cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// expire fails every entry whose deadline is at or before now.
func (c *correlator) expire(now time.Time) int {
	c.mu.Lock()
	var expired []*pendingRequest
	for id, p := range c.pending {
		if !now.Before(p.deadline) {
			expired = append(expired, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		p.done <- result{err: fmt.Errorf("%s: %w", p.msgType, models.ErrTimeout)}
	}
	return len(expired)
}

func (c *correlator) closeAll() int {
	c.mu.Lock()
	c.closed = true
	all := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, p := range all {
		p.done <- result{err: fmt.Errorf("%s: %w", p.msgType, models.ErrShutdown)}
	}
	return len(all)
}

func (c *correlator) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
