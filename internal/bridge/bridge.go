// Package bridge is the WebSocket endpoint game servers connect to. It
// correlates request/response pairs by request_id, fans out broadcasts and
// dispatches incoming frames to typed handlers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rbw-core/internal/clock"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
)

// ErrNoClients is returned by Request when no game server is connected.
var ErrNoClients = fmt.Errorf("no bridge clients connected: %w", models.ErrTransient)

const shutdownReason = "server shutting down"

type Config struct {
	Path            string
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	JanitorInterval time.Duration
	RequestTimeout  time.Duration
	MaxMessageBytes int64
	// Authenticate, when set, admits an upgrade request and returns the
	// client name used in logs.
	Authenticate func(r *http.Request) (string, error)
}

// Reply is sent back to the client that issued the handled message.
type Reply struct {
	Type    string
	Payload interface{}
}

type HandlerFunc func(ctx context.Context, msg Message) (*Reply, error)

type Bridge struct {
	cfg     Config
	hub     *Hub
	corr    *correlator
	clock   clock.Clock
	metrics metrics.Metrics
	log     zerolog.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closing  bool
	inflight sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *Bridge {
	log = log.With().Str("component", "bridge").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:     cfg,
		hub:     NewHub(log, m.BridgeClients),
		corr:    newCorrelator(),
		clock:   clk,
		metrics: m,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // game servers are not browsers
			},
		},
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the hub and the correlation janitor until Shutdown.
func (b *Bridge) Start() {
	go b.hub.Run(b.ctx)
	go clock.Every(b.ctx, b.clock, b.log, "bridge-janitor", b.cfg.JanitorInterval, func(context.Context) error {
		if n := b.corr.expire(b.clock.Now()); n > 0 {
			b.log.Debug().Int("expired", n).Msg("bridge requests timed out")
		}
		return nil
	})
	b.log.Info().Str("path", b.cfg.Path).Msg("bridge started")
}

// Shutdown stops accepting connections, fails pending requests with
// ErrShutdown, closes every client and waits for running handlers.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	failed := b.corr.closeAll()
	b.hub.CloseAll(shutdownReason)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.log.Info().Int("failed_requests", failed).Msg("bridge stopped")
	return nil
}

func (b *Bridge) Clients() int {
	return b.hub.Count()
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	closing := b.closing
	b.mu.RUnlock()
	if closing {
		http.Error(w, shutdownReason, http.StatusServiceUnavailable)
		return
	}

	name := r.RemoteAddr
	if b.cfg.Authenticate != nil {
		n, err := b.cfg.Authenticate(r)
		if err != nil {
			b.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("bridge client rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		name = n
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("bridge upgrade failed")
		return
	}

	client := &Client{
		hub:  b.hub,
		conn: conn,
		id:   uuid.NewString()[:8],
		name: name,
		send: make(chan []byte, 256),
	}
	select {
	case b.hub.register <- client:
	case <-b.hub.done:
		conn.Close()
		return
	}

	go client.writePump(b.cfg.PingInterval, b.cfg.WriteTimeout)
	go client.readPump(b.cfg.MaxMessageBytes, b.cfg.PingInterval+b.cfg.PongTimeout, b.dispatch)
}

// Handle registers h for msgType, replacing any previous handler.
func (b *Bridge) Handle(msgType string, h HandlerFunc) {
	b.mu.Lock()
	b.handlers[msgType] = h
	b.mu.Unlock()
}

// Register decodes and validates frames of msgType into T before calling fn.
func Register[T Validatable](b *Bridge, msgType string, fn func(ctx context.Context, req T, msg Message) (*Reply, error)) {
	b.Handle(msgType, func(ctx context.Context, msg Message) (*Reply, error) {
		var req T
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return fn(ctx, req, msg)
	})
}

// Request broadcasts msgType with a fresh request_id and waits for the first
// response carrying that ID. A zero timeout uses the configured default.
func (b *Bridge) Request(ctx context.Context, msgType string, payload interface{}, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	start := time.Now()
	requestID := uuid.NewString()

	frame, err := encodeFrame(msgType, requestID, payload)
	if err != nil {
		return Message{}, err
	}
	done, err := b.corr.add(requestID, msgType, b.clock.Now().Add(timeout))
	if err != nil {
		return Message{}, err
	}

	if b.hub.Broadcast(frame) == 0 {
		b.corr.cancel(requestID)
		b.metrics.BridgeRequest(msgType, "no_clients", time.Since(start))
		return Message{}, ErrNoClients
	}

	select {
	case res := <-done:
		outcome := "ok"
		if res.err != nil {
			outcome = models.KindOf(res.err)
		}
		b.metrics.BridgeRequest(msgType, outcome, time.Since(start))
		return res.msg, res.err
	case <-ctx.Done():
		b.corr.cancel(requestID)
		b.metrics.BridgeRequest(msgType, "cancelled", time.Since(start))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, fmt.Errorf("%s: %w", msgType, models.ErrTimeout)
		}
		return Message{}, ctx.Err()
	}
}

// SendFireAndForget broadcasts msgType without expecting a response.
func (b *Bridge) SendFireAndForget(msgType string, payload interface{}) error {
	_, err := b.Broadcast(msgType, payload)
	return err
}

// Broadcast sends msgType to every client and returns how many were connected.
func (b *Bridge) Broadcast(msgType string, payload interface{}) (int, error) {
	frame, err := encodeFrame(msgType, "", payload)
	if err != nil {
		return 0, err
	}
	return b.hub.Broadcast(frame), nil
}

func (b *Bridge) dispatch(c *Client, frame []byte) {
	msg, err := decodeFrame(frame)
	if err != nil {
		if msg.RequestID != "" {
			b.replyError(c, msg.RequestID, err)
			return
		}
		b.log.Warn().Err(err).Str("client_id", c.id).Msg("malformed bridge frame dropped")
		return
	}

	if msg.RequestID != "" && b.corr.complete(msg.RequestID, msg) {
		return
	}

	b.mu.RLock()
	h, ok := b.handlers[msg.Type]
	closing := b.closing
	if ok && !closing {
		b.inflight.Add(1)
	}
	b.mu.RUnlock()

	if closing {
		return
	}
	if !ok {
		if responseTypes[msg.Type] {
			b.log.Debug().Str("type", msg.Type).Str("request_id", msg.RequestID).Msg("stale bridge response dropped")
			return
		}
		if msg.RequestID != "" {
			b.replyError(c, msg.RequestID, models.Invalid("type", "unknown message type "+msg.Type))
			return
		}
		b.log.Warn().Str("type", msg.Type).Msg("unknown bridge message dropped")
		return
	}

	go b.handle(c, h, msg)
}

func (b *Bridge) handle(c *Client, h HandlerFunc, msg Message) {
	defer b.inflight.Done()
	log := b.log.With().Str("type", msg.Type).Str("request_id", msg.RequestID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("bridge handler panicked")
			if msg.RequestID != "" {
				b.replyError(c, msg.RequestID, fmt.Errorf("internal error: %w", models.ErrFatal))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.RequestTimeout)
	defer cancel()

	reply, err := h(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Msg("bridge handler failed")
		if msg.RequestID != "" {
			b.replyError(c, msg.RequestID, err)
		}
		return
	}
	if reply == nil {
		return
	}
	frame, err := encodeFrame(reply.Type, msg.RequestID, reply.Payload)
	if err != nil {
		log.Error().Err(err).Msg("encode bridge reply")
		return
	}
	if !b.hub.SendTo(c, frame) {
		log.Warn().Str("client_id", c.id).Msg("bridge reply not delivered")
	}
}

func (b *Bridge) replyError(c *Client, requestID string, err error) {
	reply := ErrorReply{Code: models.KindOf(err), Message: err.Error()}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		reply.Fields = verr.Fields
	}
	frame, encErr := encodeFrame(TypeError, requestID, reply)
	if encErr != nil {
		return
	}
	b.hub.SendTo(c, frame)
}
