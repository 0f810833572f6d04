package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_Registered(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.QueueSize("q1", 3)
	m.BatchEmitted("q1", true)
	m.MatchCreated("q1", "ranked")
	m.WarpOutcome("success")
	m.BridgeRequest("check_player", "ok", 12*time.Millisecond)
	m.BridgeClients(2)
	m.ScoringOutcome("score", "ok")
	m.SanctionExpired("ban")

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"rbw_queue_players",
		"rbw_queue_batches_total",
		"rbw_matches_created_total",
		"rbw_warp_attempts_total",
		"rbw_bridge_request_duration_ms",
		"rbw_bridge_clients",
		"rbw_scoring_total",
		"rbw_sanctions_expired_total",
	} {
		assert.True(t, names[want], want)
	}
}
