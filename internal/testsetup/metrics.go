package testsetup

import (
	"sync"
	"time"

	"rbw-core/internal/metrics"
)

// Metrics counts calls by name and label so tests can assert on outcomes.
type Metrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMetrics() *Metrics {
	return &Metrics{counts: map[string]int{}}
}

func (m *Metrics) inc(key string) {
	m.mu.Lock()
	m.counts[key]++
	m.mu.Unlock()
}

// Count returns how often key was recorded, e.g. "warp:success" or "batch:partial".
func (m *Metrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *Metrics) QueueSize(string, int) {}

func (m *Metrics) BatchEmitted(_ string, partial bool) {
	if partial {
		m.inc("batch:partial")
		return
	}
	m.inc("batch:full")
}

func (m *Metrics) MatchCreated(_ string, kind string) { m.inc("match:" + kind) }
func (m *Metrics) WarpOutcome(outcome string)         { m.inc("warp:" + outcome) }

func (m *Metrics) BridgeRequest(msgType, outcome string, _ time.Duration) {
	m.inc("bridge:" + msgType + ":" + outcome)
}

func (m *Metrics) BridgeClients(int) {}

func (m *Metrics) ScoringOutcome(op, outcome string) { m.inc(op + ":" + outcome) }
func (m *Metrics) SanctionExpired(kind string)       { m.inc("expired:" + kind) }

var _ metrics.Metrics = (*Metrics)(nil)
