package testsetup

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Frame is a decoded bridge frame.
type Frame map[string]interface{}

func (f Frame) Type() string {
	s, _ := f["type"].(string)
	return s
}

func (f Frame) RequestID() string {
	s, _ := f["request_id"].(string)
	return s
}

// Responder answers a frame received from the core with zero or more frames.
// Replies should carry the incoming request_id when they answer a request.
type Responder func(in Frame) []Frame

// GamePeer is a fake game server connected to a bridge endpoint.
type GamePeer struct {
	t    *testing.T
	conn *websocket.Conn

	mu       sync.Mutex
	received []Frame
	respond  Responder
	writeMu  sync.Mutex
}

// DialPeer connects to srv at path and starts answering with respond.
func DialPeer(t *testing.T, srv *httptest.Server, path string, respond Responder) *GamePeer {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	p := &GamePeer{t: t, conn: conn, respond: respond}
	go p.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

func (p *GamePeer) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		p.mu.Lock()
		p.received = append(p.received, f)
		respond := p.respond
		p.mu.Unlock()
		if respond == nil {
			continue
		}
		for _, out := range respond(f) {
			p.Send(out)
		}
	}
}

func (p *GamePeer) SetResponder(r Responder) {
	p.mu.Lock()
	p.respond = r
	p.mu.Unlock()
}

// Send writes one frame to the core.
func (p *GamePeer) Send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		p.t.Errorf("encode frame: %v", err)
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.t.Logf("peer write: %v", err)
	}
}

// Received returns the frames of msgType seen so far, all frames when empty.
func (p *GamePeer) Received(msgType string) []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Frame
	for _, f := range p.received {
		if msgType == "" || f.Type() == msgType {
			out = append(out, f)
		}
	}
	return out
}
