package matchmaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/bridge"
	"rbw-core/internal/testsetup"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []bridge.QueueStatus
}

func (p *recordingPublisher) Broadcast(msgType string, payload interface{}) (int, error) {
	if msgType != bridge.TypeQueueStatus {
		return 0, nil
	}
	p.mu.Lock()
	p.sent = append(p.sent, payload.(bridge.QueueStatus))
	p.mu.Unlock()
	return 1, nil
}

func (p *recordingPublisher) last() (bridge.QueueStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return bridge.QueueStatus{}, false
	}
	return p.sent[len(p.sent)-1], true
}

func TestStatus_BroadcastsAfterMembershipChange(t *testing.T) {
	g := testsetup.WithGomega(t)
	cfg := testConfig()
	cfg.StatusInterval = 20 * time.Millisecond
	h := newHarness(t, cfg)
	pub := &recordingPublisher{}
	h.engine.SetStatusPublisher(pub)
	h.f.Queue("q4", 4)
	h.f.Player("A", 100)
	require.NoError(t, h.engine.Start(context.Background()))

	h.join(t, "A", "q4")

	g.Eventually(func() []string {
		s, ok := pub.last()
		if !ok {
			return nil
		}
		return s.Queues["q4"].Players
	}).Should(gomega.ConsistOf("a"))

	s, _ := pub.last()
	g.Expect(s.Queues["q4"].Capacity).To(gomega.Equal(4))
	g.Expect(s.Queues["q4"].EloRange.Max).To(gomega.Equal(5000))
}
