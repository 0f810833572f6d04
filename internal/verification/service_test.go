package verification

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/audit"
	"rbw-core/internal/bridge"
	"rbw-core/internal/clock"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
	"rbw-core/internal/testsetup"
)

func newService(t *testing.T, clk clock.Clock) (*Service, *testsetup.Fixtures) {
	f := testsetup.NewFixtures(t)
	log := testsetup.Logger(t)
	svc := NewService(Config{CodeTTL: 5 * time.Minute, JanitorInterval: time.Minute}, f.Store, audit.New(f.Store, clk, log), clk, log)
	return svc, f
}

func TestIssueConfirm(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	svc, f := newService(t, clk)
	ctx := context.Background()
	f.Player("P", 1000)

	pv, err := svc.Issue(ctx, "P", "  Notch ")
	require.NoError(t, err)
	assert.Len(t, pv.Code, codeLength)
	assert.Equal(t, strings.ToUpper(pv.Code), pv.Code)
	assert.Equal(t, "Notch", pv.IGN)
	assert.Equal(t, clk.Now().Add(5*time.Minute), pv.ExpiresAt)

	_, err = svc.Confirm(ctx, "notch", "", "WRONG1")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	_, ok := svc.Pending("NOTCH")
	assert.True(t, ok)

	p, err := svc.Confirm(ctx, "NOTCH", "uuid-notch", strings.ToLower(pv.Code))
	require.NoError(t, err)
	assert.Equal(t, "Notch", p.IGN)
	assert.Equal(t, "uuid-notch", p.UUID)

	_, err = svc.Confirm(ctx, "Notch", "", pv.Code)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIssueRules(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	svc, f := newService(t, clk)
	ctx := context.Background()
	f.Player("P", 1000)
	f.Player("Q", 1000)

	_, err := svc.Issue(ctx, "P", " ")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = svc.Issue(ctx, "ghost", "Someone")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.Issue(ctx, "P", "q")
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = svc.Issue(ctx, "P", "First")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "P", "Second")
	require.NoError(t, err)
	_, ok := svc.Pending("first")
	assert.False(t, ok)
	_, ok = svc.Pending("second")
	assert.True(t, ok)
}

func TestCodeExpires(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	svc, f := newService(t, clk)
	ctx := context.Background()
	f.Player("P", 1000)
	f.Player("Q", 1000)

	pv, err := svc.Issue(ctx, "P", "Late")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "Q", "Early")
	require.NoError(t, err)
	clk.Advance(5 * time.Minute)

	_, err = svc.Confirm(ctx, "Late", "", pv.Code)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, svc.Prune())
	assert.Equal(t, "p", f.GetPlayer("P").IGN)
}

func TestVerifyOverBridge(t *testing.T) {
	svc, f := newService(t, clock.Real{})
	g := testsetup.WithGomega(t)
	ctx := context.Background()
	f.Player("P", 1000)

	b := bridge.New(bridge.Config{
		Path:            "/rbw/websocket",
		PingInterval:    time.Second,
		PongTimeout:     time.Second,
		WriteTimeout:    time.Second,
		JanitorInterval: 10 * time.Millisecond,
		RequestTimeout:  time.Second,
		MaxMessageBytes: 1 << 16,
	}, clock.Real{}, metrics.Noop{}, zerolog.Nop())
	svc.RegisterHandlers(b)
	b.Start()
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		_ = b.Shutdown(context.Background())
		srv.Close()
	})

	peer := testsetup.DialPeer(t, srv, "/rbw/websocket", nil)
	g.Eventually(b.Clients, time.Second, 5*time.Millisecond).Should(gomega.Equal(1))

	pv, err := svc.Issue(ctx, "P", "Steve")
	require.NoError(t, err)

	peer.Send(testsetup.Frame{"type": bridge.TypeVerify, "request_id": "v-1", "ign": "Steve", "code": "AAAAAA"})
	g.Eventually(func() int { return len(peer.Received(bridge.TypeVerifyFailure)) }, time.Second, 10*time.Millisecond).Should(gomega.Equal(1))
	assert.Equal(t, "the code is incorrect", peer.Received(bridge.TypeVerifyFailure)[0]["message"])

	peer.Send(testsetup.Frame{"type": bridge.TypeVerify, "request_id": "v-2", "ign": "Steve", "uuid": "uuid-steve", "code": pv.Code})
	g.Eventually(func() int { return len(peer.Received(bridge.TypeVerifySuccess)) }, time.Second, 10*time.Millisecond).Should(gomega.Equal(1))
	assert.Equal(t, "v-2", peer.Received(bridge.TypeVerifySuccess)[0].RequestID())
	assert.Equal(t, "Steve", f.GetPlayer("P").IGN)
}
