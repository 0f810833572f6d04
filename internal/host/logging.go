package host

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logging is a Host that only logs. It stands in when no chat client is
// attached, so the core can run headless against game servers.
type Logging struct {
	log  zerolog.Logger
	next atomic.Int64
}

func NewLogging(log zerolog.Logger) *Logging {
	return &Logging{log: log.With().Str("component", "host").Str("mode", "logging").Logger()}
}

func (h *Logging) MoveToLobby(_ context.Context, playerID, reason string) error {
	h.log.Info().Str("player_id", playerID).Str("reason", reason).Msg("move to lobby")
	return nil
}

func (h *Logging) MoveToVoice(_ context.Context, playerID, ref string) error {
	h.log.Info().Str("player_id", playerID).Str("channel", ref).Msg("move to voice")
	return nil
}

func (h *Logging) Occupants(context.Context, string) ([]string, error) {
	return nil, nil
}

func (h *Logging) ChannelOf(context.Context, string) (string, error) {
	return "", nil
}

func (h *Logging) CreateChannel(_ context.Context, spec ChannelSpec) (string, error) {
	ref := fmt.Sprintf("local-%s-%d", spec.Kind, h.next.Add(1))
	h.log.Info().Str("name", spec.Name).Str("ref", ref).Int("grants", len(spec.Grants)).Msg("create channel")
	return ref, nil
}

func (h *Logging) DeleteChannel(_ context.Context, ref string) error {
	h.log.Info().Str("ref", ref).Msg("delete channel")
	return nil
}

func (h *Logging) GrantAccess(_ context.Context, ref string, g Grant) error {
	h.log.Info().Str("ref", ref).Str("player_id", g.PlayerID).Msg("grant access")
	return nil
}

func (h *Logging) AddRoles(_ context.Context, playerID string, roleRefs []string) error {
	h.log.Info().Str("player_id", playerID).Strs("roles", roleRefs).Msg("add roles")
	return nil
}

func (h *Logging) RemoveRoles(_ context.Context, playerID string, roleRefs []string) error {
	h.log.Info().Str("player_id", playerID).Strs("roles", roleRefs).Msg("remove roles")
	return nil
}

func (h *Logging) Notify(_ context.Context, n Notice) error {
	h.log.Info().Str("kind", n.Kind).Str("match_id", n.MatchID).Str("channel", n.ChannelRef).Msg(n.Text)
	return nil
}

var _ Host = (*Logging)(nil)
