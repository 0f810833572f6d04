// Package eventbus connects the core to the chat-platform client over NATS.
// Outbound host operations are request/reply; voice-state changes and
// notices flow as published events.
package eventbus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"rbw-core/internal/models"
)

type Config struct {
	URL            string
	Name           string
	SubjectPrefix  string
	RequestTimeout time.Duration
}

// Event is the envelope published on every subject.
type Event struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ReplyEnvelope is what the chat client answers to a request.
type ReplyEnvelope struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventBus wraps a NATS connection. With no URL configured it runs in
// local-only mode: publishes are dropped and requests fail with
// ErrNotConfigured.
type EventBus struct {
	machineID string
	conn      *nats.Conn
	cfg       Config
	log       zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func generateMachineID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func Connect(cfg Config, log zerolog.Logger) (*EventBus, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	eb := &EventBus{
		machineID: generateMachineID(),
		cfg:       cfg,
		log:       log.With().Str("component", "eventbus").Logger(),
	}
	if cfg.URL == "" {
		eb.log.Warn().Msg("no NATS url configured, running in local-only mode")
		return eb, nil
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			eb.log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			eb.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	eb.conn = conn
	eb.log.Info().Str("machine_id", eb.machineID).Str("url", cfg.URL).Msg("event bus connected")
	return eb, nil
}

func (eb *EventBus) MachineID() string {
	return eb.machineID
}

// Connected reports whether a broker connection exists.
func (eb *EventBus) Connected() bool {
	return eb.conn != nil && eb.conn.IsConnected()
}

// Subject joins parts under the configured prefix.
func (eb *EventBus) Subject(parts ...string) string {
	all := append([]string{eb.cfg.SubjectPrefix}, parts...)
	return strings.Join(all, ".")
}

func (eb *EventBus) encode(v interface{}) ([]byte, error) {
	var data json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Event{Origin: eb.machineID, Data: data})
}

// Publish sends v on subject without waiting for anyone.
func (eb *EventBus) Publish(subject string, v interface{}) error {
	if eb.conn == nil {
		return nil
	}
	payload, err := eb.encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := eb.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w: %v", subject, models.ErrTransient, err)
	}
	return nil
}

// Request sends req on subject and decodes the reply data into resp, which
// may be nil.
func (eb *EventBus) Request(ctx context.Context, subject string, req, resp interface{}) error {
	if eb.conn == nil {
		return fmt.Errorf("request %s: %w", subject, models.ErrNotConfigured)
	}
	payload, err := eb.encode(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eb.cfg.RequestTimeout)
		defer cancel()
	}
	msg, err := eb.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("request %s: %w", subject, models.ErrTimeout)
		}
		return fmt.Errorf("request %s: %w: %v", subject, models.ErrTransient, err)
	}

	var reply ReplyEnvelope
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode reply on %s: %w", subject, err)
	}
	if !reply.OK {
		return fmt.Errorf("request %s: %s: %w", subject, reply.Error, replyKind(reply.Code))
	}
	if resp != nil && len(reply.Data) > 0 {
		if err := json.Unmarshal(reply.Data, resp); err != nil {
			return fmt.Errorf("decode reply data on %s: %w", subject, err)
		}
	}
	return nil
}

func replyKind(code string) error {
	switch code {
	case "not_found":
		return models.ErrNotFound
	case "permission_denied":
		return models.ErrPermissionDenied
	case "validation":
		return models.ErrValidation
	}
	return models.ErrTransient
}

// Subscribe delivers the data of every event on subject published by
// another machine.
func (eb *EventBus) Subscribe(subject string, fn func(data []byte)) error {
	if eb.conn == nil {
		return nil
	}
	sub, err := eb.conn.Subscribe(subject, func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			eb.log.Warn().Err(err).Str("subject", m.Subject).Msg("failed to decode event")
			return
		}
		if ev.Origin == eb.machineID {
			return
		}
		fn(ev.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	eb.mu.Lock()
	eb.subs = append(eb.subs, sub)
	eb.mu.Unlock()
	return nil
}

// Close drains subscriptions and closes the connection.
func (eb *EventBus) Close() {
	if eb.conn == nil {
		return
	}
	eb.mu.Lock()
	for _, sub := range eb.subs {
		_ = sub.Unsubscribe()
	}
	eb.subs = nil
	eb.mu.Unlock()

	if err := eb.conn.Drain(); err != nil {
		eb.conn.Close()
	}
	eb.log.Info().Msg("event bus closed")
}
