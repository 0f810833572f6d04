package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	queueSize        prometheus.GaugeVec
	batchesEmitted   prometheus.CounterVec
	matchesCreated   prometheus.CounterVec
	warpOutcomes     prometheus.CounterVec
	bridgeRequests   prometheus.HistogramVec
	bridgeClients    prometheus.Gauge
	scoringOutcomes  prometheus.CounterVec
	sanctionsExpired prometheus.CounterVec
}

func setupPrometheusMetrics(registry *prometheus.Registry) prometheusMetrics {
	factory := promauto.With(registry)

	queueSize := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rbw_queue_players",
			Help: "Number of players waiting in each queue",
		}, []string{"queue"})

	batchesEmitted := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbw_queue_batches_total",
			Help: "Batches handed to the match builder",
		}, []string{"queue", "partial"})

	matchesCreated := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbw_matches_created_total",
			Help: "Matches persisted by the match builder",
		}, []string{"queue", "kind"})

	warpOutcomes := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbw_warp_attempts_total",
			Help: "Warp attempts by outcome",
		}, []string{"outcome"})

	//nolint:promlinter
	bridgeRequests := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rbw_bridge_request_duration_ms",
			Help:    "Bridge request round-trip time in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"type", "outcome"})

	bridgeClients := factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "rbw_bridge_clients",
			Help: "Connected game-server bridge clients",
		})

	scoringOutcomes := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbw_scoring_total",
			Help: "Scoring and voiding calls by outcome",
		}, []string{"op", "outcome"})

	sanctionsExpired := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbw_sanctions_expired_total",
			Help: "Bans and mutes resolved by the expiry workers",
		}, []string{"kind"})

	return prometheusMetrics{
		queueSize:        *queueSize,
		batchesEmitted:   *batchesEmitted,
		matchesCreated:   *matchesCreated,
		warpOutcomes:     *warpOutcomes,
		bridgeRequests:   *bridgeRequests,
		bridgeClients:    bridgeClients,
		scoringOutcomes:  *scoringOutcomes,
		sanctionsExpired: *sanctionsExpired,
	}
}

func (m prometheusMetrics) QueueSize(queueID string, players int) {
	m.queueSize.With(prometheus.Labels{"queue": queueID}).Set(float64(players))
}

func (m prometheusMetrics) BatchEmitted(queueID string, partial bool) {
	m.batchesEmitted.With(prometheus.Labels{"queue": queueID, "partial": strconv.FormatBool(partial)}).Inc()
}

func (m prometheusMetrics) MatchCreated(queueID, kind string) {
	m.matchesCreated.With(prometheus.Labels{"queue": queueID, "kind": kind}).Inc()
}

func (m prometheusMetrics) WarpOutcome(outcome string) {
	m.warpOutcomes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m prometheusMetrics) BridgeRequest(msgType, outcome string, elapsed time.Duration) {
	m.bridgeRequests.With(prometheus.Labels{"type": msgType, "outcome": outcome}).Observe(float64(elapsed.Milliseconds()))
}

func (m prometheusMetrics) BridgeClients(n int) {
	m.bridgeClients.Set(float64(n))
}

func (m prometheusMetrics) ScoringOutcome(op, outcome string) {
	m.scoringOutcomes.With(prometheus.Labels{"op": op, "outcome": outcome}).Inc()
}

func (m prometheusMetrics) SanctionExpired(kind string) {
	m.sanctionsExpired.With(prometheus.Labels{"kind": kind}).Inc()
}
