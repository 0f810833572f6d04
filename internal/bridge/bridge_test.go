package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/clock"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
)

func testConfig() Config {
	return Config{
		Path:            "/rbw/websocket",
		PingInterval:    time.Second,
		PongTimeout:     time.Second,
		WriteTimeout:    time.Second,
		JanitorInterval: 10 * time.Millisecond,
		RequestTimeout:  time.Second,
		MaxMessageBytes: 1 << 16,
	}
}

func startBridge(t *testing.T) (*Bridge, *httptest.Server) {
	t.Helper()
	b := New(testConfig(), clock.Real{}, metrics.Noop{}, zerolog.Nop())
	b.Start()
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		_ = b.Shutdown(context.Background())
		srv.Close()
	})
	return b, srv
}

func dialPeer(t *testing.T, b *Bridge, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	before := b.Clients()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	NewWithT(t).Eventually(b.Clients, time.Second, 5*time.Millisecond).Should(Equal(before + 1))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (map[string]interface{}, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame, nil
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestRequest_RoundTrip(t *testing.T) {
	b, srv := startBridge(t)
	peer := dialPeer(t, b, srv)

	go func() {
		conn := peer
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{
			"type":       TypePlayerStatus,
			"request_id": req["request_id"],
			"ign":        req["ign"],
			"online":     true,
		})
	}()

	msg, err := b.Request(context.Background(), TypeCheckPlayer, CheckPlayer{IGN: "Steve"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypePlayerStatus, msg.Type)

	var status PlayerStatus
	require.NoError(t, msg.Decode(&status))
	assert.True(t, status.Online)
	assert.Equal(t, "Steve", status.IGN)
	assert.Equal(t, 0, b.corr.size())
}

func TestRequest_TimesOutViaJanitor(t *testing.T) {
	b, srv := startBridge(t)
	dialPeer(t, b, srv)

	start := time.Now()
	_, err := b.Request(context.Background(), TypeCheckPlayer, CheckPlayer{IGN: "Steve"}, 50*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, b.corr.size())
}

func TestRequest_NoClients(t *testing.T) {
	b, _ := startBridge(t)
	_, err := b.Request(context.Background(), TypeCheckPlayer, CheckPlayer{IGN: "Steve"}, time.Second)
	assert.ErrorIs(t, err, ErrNoClients)
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestDispatch_StaleResponseDropped(t *testing.T) {
	b, srv := startBridge(t)
	peer := dialPeer(t, b, srv)

	writeFrame(t, peer, map[string]interface{}{
		"type":       TypePlayerStatus,
		"request_id": "never-issued",
		"ign":        "Steve",
		"online":     true,
	})

	_, err := readFrame(t, peer, 150*time.Millisecond)
	require.Error(t, err, "no reply is sent for a stale response")

	assert.Equal(t, 1, b.Clients(), "connection survives")
}

func TestDispatch_UnknownType(t *testing.T) {
	b, srv := startBridge(t)
	peer := dialPeer(t, b, srv)

	writeFrame(t, peer, map[string]interface{}{"type": "bogus", "request_id": "r1"})
	frame, err := readFrame(t, peer, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeError, frame["type"])
	assert.Equal(t, "r1", frame["request_id"])
	assert.Equal(t, "validation", frame["code"])
}

func TestRegister_ValidatesAndReplies(t *testing.T) {
	b, srv := startBridge(t)

	var handled atomic.Int32
	Register(b, TypeCallCmd, func(ctx context.Context, req CallCmd, msg Message) (*Reply, error) {
		handled.Add(1)
		return &Reply{Type: TypeCallSuccess, Payload: CallResult{RequesterIGN: req.RequesterIGN, TargetIGN: req.TargetIGN}}, nil
	})
	peer := dialPeer(t, b, srv)

	writeFrame(t, peer, map[string]interface{}{"type": TypeCallCmd, "request_id": "bad", "requester_ign": "A"})
	frame, err := readFrame(t, peer, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeError, frame["type"])
	assert.Equal(t, "bad", frame["request_id"])
	assert.Equal(t, "validation", frame["code"])
	assert.Equal(t, int32(0), handled.Load())

	writeFrame(t, peer, map[string]interface{}{"type": TypeCallCmd, "request_id": "good", "requester_ign": "A", "target_ign": "B"})
	frame, err = readFrame(t, peer, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeCallSuccess, frame["type"])
	assert.Equal(t, "good", frame["request_id"])
	assert.Equal(t, "B", frame["target_ign"])
	assert.Equal(t, int32(1), handled.Load())
}

func TestHandlerError_MapsKind(t *testing.T) {
	b, srv := startBridge(t)
	Register(b, TypeVoiding, func(ctx context.Context, req Voiding, msg Message) (*Reply, error) {
		return nil, models.ErrNotFound
	})
	peer := dialPeer(t, b, srv)

	writeFrame(t, peer, map[string]interface{}{"type": TypeVoiding, "request_id": "v1", "gameid": "ABC123"})
	frame, err := readFrame(t, peer, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "not_found", frame["code"])
}

func TestBroadcast_ReachesAllClients(t *testing.T) {
	b, srv := startBridge(t)
	p1 := dialPeer(t, b, srv)
	p2 := dialPeer(t, b, srv)

	n, err := b.Broadcast(TypeQueueStatus, QueueStatus{Queues: map[string]QueueStatusEntry{
		"q1": {Players: []string{"A"}, EloRange: EloRange{Min: 0, Max: 100}, Capacity: 4},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, p := range []*websocket.Conn{p1, p2} {
		frame, err := readFrame(t, p, time.Second)
		require.NoError(t, err)
		assert.Equal(t, TypeQueueStatus, frame["type"])
		_, hasID := frame["request_id"]
		assert.False(t, hasID)
	}
}

func TestSendFireAndForget(t *testing.T) {
	b, srv := startBridge(t)
	p := dialPeer(t, b, srv)

	require.NoError(t, b.SendFireAndForget(TypeVoiding, map[string]string{"gameid": "ABC123"}))
	frame, err := readFrame(t, p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeVoiding, frame["type"])
	assert.Equal(t, "ABC123", frame["gameid"])

	assert.Error(t, b.SendFireAndForget(TypeVoiding, make(chan int)))
}

func TestShutdown_FailsPendingAndClosesClients(t *testing.T) {
	b := New(testConfig(), clock.Real{}, metrics.Noop{}, zerolog.Nop())
	b.Start()
	srv := httptest.NewServer(b)
	defer srv.Close()
	peer := dialPeer(t, b, srv)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), TypeCheckPlayer, CheckPlayer{IGN: "Steve"}, 10*time.Second)
		errCh <- err
	}()
	NewWithT(t).Eventually(b.corr.size, time.Second, 5*time.Millisecond).Should(Equal(1))

	require.NoError(t, b.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, models.ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("pending request was not failed")
	}

	var closeErr *websocket.CloseError
	for {
		_, err := readFrame(t, peer, time.Second)
		if err != nil {
			require.ErrorAs(t, err, &closeErr)
			break
		}
	}
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, shutdownReason, closeErr.Text)

	_, err := b.Request(context.Background(), TypeCheckPlayer, CheckPlayer{IGN: "x"}, time.Second)
	assert.ErrorIs(t, err, models.ErrShutdown)
}

func TestEncodeFrame_FlattensPayload(t *testing.T) {
	frame, err := encodeFrame(TypeWarpPlayers, "req-1", WarpPlayers{GameID: "ABC123", Map: "Aquarium", IsRanked: true})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, TypeWarpPlayers, decoded["type"])
	assert.Equal(t, "req-1", decoded["request_id"])
	assert.Equal(t, "ABC123", decoded["game_id"])
	assert.Equal(t, true, decoded["is_ranked"])
}
