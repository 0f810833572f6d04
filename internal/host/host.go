// Package host declares what the core needs from the chat platform. The
// chat client itself lives outside this process.
package host

import (
	"context"
)

type LobbyMover interface {
	// MoveToLobby moves a player out of a queue room, telling them why.
	MoveToLobby(ctx context.Context, playerID, reason string) error
}

type VoiceMover interface {
	MoveToVoice(ctx context.Context, playerID, channelRef string) error
}

type VoiceDirectory interface {
	Occupants(ctx context.Context, channelRef string) ([]string, error)
	// ChannelOf returns the voice room the player is in, or "".
	ChannelOf(ctx context.Context, playerID string) (string, error)
}

type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

type Capability string

const (
	CapView    Capability = "view"
	CapSend    Capability = "send"
	CapConnect Capability = "connect"
	CapSpeak   Capability = "speak"
)

// Grant sets one player's permission overrides on a channel.
type Grant struct {
	PlayerID string       `json:"playerId"`
	Allow    []Capability `json:"allow,omitempty"`
	Deny     []Capability `json:"deny,omitempty"`
}

type ChannelSpec struct {
	Name     string      `json:"name"`
	Kind     ChannelKind `json:"kind"`
	Category string      `json:"category,omitempty"`
	Grants   []Grant     `json:"grants,omitempty"`
}

type ChannelManager interface {
	CreateChannel(ctx context.Context, spec ChannelSpec) (string, error)
	DeleteChannel(ctx context.Context, ref string) error
	GrantAccess(ctx context.Context, ref string, g Grant) error
}

type RoleManager interface {
	AddRoles(ctx context.Context, playerID string, roleRefs []string) error
	RemoveRoles(ctx context.Context, playerID string, roleRefs []string) error
}

// Notice kinds understood by the presentation layer.
const (
	NoticeWarpFailed    = "warp_failed"
	NoticeWarpExhausted = "warp_exhausted"
	NoticeMatchCreated  = "match_created"
	NoticeMatchScored   = "match_scored"
	NoticeMatchVoided   = "match_voided"
	NoticeSanctionEnded = "sanction_ended"
	NoticeStrikeAction  = "strike_action"
	NoticePartyInvite   = "party_invite"
	NoticePartyDisband  = "party_disbanded"
)

type Notice struct {
	Kind       string            `json:"kind"`
	ChannelRef string            `json:"channelRef,omitempty"`
	PlayerIDs  []string          `json:"playerIds,omitempty"`
	MatchID    string            `json:"matchId,omitempty"`
	Text       string            `json:"text"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type PresentationSink interface {
	Notify(ctx context.Context, n Notice) error
}

// VoiceEvent reports a player moving between voice rooms. Either ref may be
// empty when the player joined or left voice entirely.
type VoiceEvent struct {
	PlayerID string `json:"playerId"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// Host is the full set of platform operations.
type Host interface {
	LobbyMover
	VoiceMover
	VoiceDirectory
	ChannelManager
	RoleManager
	PresentationSink
}
