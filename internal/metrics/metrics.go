package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics interface {
	QueueSize(queueID string, players int)
	BatchEmitted(queueID string, partial bool)
	MatchCreated(queueID string, kind string)
	WarpOutcome(outcome string)
	BridgeRequest(msgType, outcome string, elapsed time.Duration)
	BridgeClients(n int)
	ScoringOutcome(op, outcome string)
	SanctionExpired(kind string)
}

func NewMetrics(registry *prometheus.Registry) Metrics {
	return setupPrometheusMetrics(registry)
}

// Noop discards everything.
type Noop struct{}

func (Noop) QueueSize(string, int)                       {}
func (Noop) BatchEmitted(string, bool)                   {}
func (Noop) MatchCreated(string, string)                 {}
func (Noop) WarpOutcome(string)                          {}
func (Noop) BridgeRequest(string, string, time.Duration) {}
func (Noop) BridgeClients(int)                           {}
func (Noop) ScoringOutcome(string, string)               {}
func (Noop) SanctionExpired(string)                      {}
