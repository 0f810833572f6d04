package host

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"rbw-core/internal/eventbus"
)

// NATS forwards every host operation to the chat client as a request on
// <prefix>.host.<op>.
type NATS struct {
	bus *eventbus.EventBus
	log zerolog.Logger
}

func NewNATS(bus *eventbus.EventBus, log zerolog.Logger) *NATS {
	return &NATS{bus: bus, log: log.With().Str("component", "host").Logger()}
}

type moveRequest struct {
	PlayerID   string `json:"playerId"`
	ChannelRef string `json:"channelRef,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type channelRef struct {
	Ref string `json:"ref"`
}

type grantRequest struct {
	Ref   string `json:"ref"`
	Grant Grant  `json:"grant"`
}

type rolesRequest struct {
	PlayerID string   `json:"playerId"`
	RoleRefs []string `json:"roleRefs"`
}

func (h *NATS) MoveToLobby(ctx context.Context, playerID, reason string) error {
	return h.bus.Request(ctx, h.bus.Subject("host", "lobby", "move"), moveRequest{PlayerID: playerID, Reason: reason}, nil)
}

func (h *NATS) MoveToVoice(ctx context.Context, playerID, ref string) error {
	return h.bus.Request(ctx, h.bus.Subject("host", "voice", "move"), moveRequest{PlayerID: playerID, ChannelRef: ref}, nil)
}

func (h *NATS) Occupants(ctx context.Context, ref string) ([]string, error) {
	var out struct {
		PlayerIDs []string `json:"playerIds"`
	}
	if err := h.bus.Request(ctx, h.bus.Subject("host", "voice", "occupants"), channelRef{Ref: ref}, &out); err != nil {
		return nil, err
	}
	return out.PlayerIDs, nil
}

func (h *NATS) ChannelOf(ctx context.Context, playerID string) (string, error) {
	var out channelRef
	if err := h.bus.Request(ctx, h.bus.Subject("host", "voice", "locate"), moveRequest{PlayerID: playerID}, &out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

func (h *NATS) CreateChannel(ctx context.Context, spec ChannelSpec) (string, error) {
	var out channelRef
	if err := h.bus.Request(ctx, h.bus.Subject("host", "channels", "create"), spec, &out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

func (h *NATS) DeleteChannel(ctx context.Context, ref string) error {
	return h.bus.Request(ctx, h.bus.Subject("host", "channels", "delete"), channelRef{Ref: ref}, nil)
}

func (h *NATS) GrantAccess(ctx context.Context, ref string, g Grant) error {
	return h.bus.Request(ctx, h.bus.Subject("host", "channels", "grant"), grantRequest{Ref: ref, Grant: g}, nil)
}

func (h *NATS) AddRoles(ctx context.Context, playerID string, roleRefs []string) error {
	if len(roleRefs) == 0 {
		return nil
	}
	return h.bus.Request(ctx, h.bus.Subject("host", "roles", "add"), rolesRequest{PlayerID: playerID, RoleRefs: roleRefs}, nil)
}

func (h *NATS) RemoveRoles(ctx context.Context, playerID string, roleRefs []string) error {
	if len(roleRefs) == 0 {
		return nil
	}
	return h.bus.Request(ctx, h.bus.Subject("host", "roles", "remove"), rolesRequest{PlayerID: playerID, RoleRefs: roleRefs}, nil)
}

// Notify publishes without waiting; presentation is best-effort.
func (h *NATS) Notify(_ context.Context, n Notice) error {
	return h.bus.Publish(h.bus.Subject("host", "notice"), n)
}

// SubscribeVoiceEvents delivers voice-state changes published by the chat client.
func (h *NATS) SubscribeVoiceEvents(fn func(VoiceEvent)) error {
	return h.bus.Subscribe(h.bus.Subject("events", "voice"), func(data []byte) {
		var ev VoiceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			h.log.Warn().Err(err).Msg("malformed voice event")
			return
		}
		fn(ev)
	})
}

var _ Host = (*NATS)(nil)
