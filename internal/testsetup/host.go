package testsetup

import (
	"context"
	"fmt"
	"sync"

	"github.com/elliotchance/pie/v2"

	"rbw-core/internal/host"
)

type LobbyMove struct {
	PlayerID string
	Reason   string
}

type VoiceMove struct {
	PlayerID   string
	ChannelRef string
}

// FakeHost records every platform call and serves voice occupancy from a
// table the test controls.
type FakeHost struct {
	mu        sync.Mutex
	next      int
	lobby     []LobbyMove
	voice     []VoiceMove
	channels  map[string]host.ChannelSpec
	deleted   []string
	grants    map[string][]host.Grant
	roles     map[string][]string
	notices   []host.Notice
	occupants map[string][]string

	// FailCreate makes CreateChannel fail for channels of that kind.
	FailCreate map[host.ChannelKind]bool
}

func NewFakeHost() *FakeHost {
	return &FakeHost{
		channels:   map[string]host.ChannelSpec{},
		grants:     map[string][]host.Grant{},
		roles:      map[string][]string{},
		occupants:  map[string][]string{},
		FailCreate: map[host.ChannelKind]bool{},
	}
}

func (h *FakeHost) SetOccupants(ref string, playerIDs ...string) {
	h.mu.Lock()
	h.occupants[ref] = append([]string(nil), playerIDs...)
	h.mu.Unlock()
}

func (h *FakeHost) MoveToLobby(_ context.Context, playerID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lobby = append(h.lobby, LobbyMove{PlayerID: playerID, Reason: reason})
	for ref, ids := range h.occupants {
		h.occupants[ref] = pie.FilterNot(ids, func(id string) bool { return id == playerID })
	}
	return nil
}

func (h *FakeHost) MoveToVoice(_ context.Context, playerID, ref string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voice = append(h.voice, VoiceMove{PlayerID: playerID, ChannelRef: ref})
	for r, ids := range h.occupants {
		h.occupants[r] = pie.FilterNot(ids, func(id string) bool { return id == playerID })
	}
	h.occupants[ref] = append(h.occupants[ref], playerID)
	return nil
}

func (h *FakeHost) Occupants(_ context.Context, ref string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.occupants[ref]...), nil
}

func (h *FakeHost) ChannelOf(_ context.Context, playerID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ref, ids := range h.occupants {
		if pie.Contains(ids, playerID) {
			return ref, nil
		}
	}
	return "", nil
}

func (h *FakeHost) CreateChannel(_ context.Context, spec host.ChannelSpec) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailCreate[spec.Kind] {
		return "", fmt.Errorf("create %s channel refused", spec.Kind)
	}
	h.next++
	ref := fmt.Sprintf("%s-%d", spec.Kind, h.next)
	h.channels[ref] = spec
	return ref, nil
}

func (h *FakeHost) DeleteChannel(_ context.Context, ref string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, ref)
	h.deleted = append(h.deleted, ref)
	return nil
}

func (h *FakeHost) GrantAccess(_ context.Context, ref string, g host.Grant) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grants[ref] = append(h.grants[ref], g)
	return nil
}

func (h *FakeHost) AddRoles(_ context.Context, playerID string, roleRefs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roles[playerID] = pie.Unique(append(h.roles[playerID], roleRefs...))
	return nil
}

func (h *FakeHost) RemoveRoles(_ context.Context, playerID string, roleRefs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roles[playerID] = pie.FilterNot(h.roles[playerID], func(r string) bool { return pie.Contains(roleRefs, r) })
	return nil
}

func (h *FakeHost) Notify(_ context.Context, n host.Notice) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
	return nil
}

func (h *FakeHost) LobbyMoves() []LobbyMove {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LobbyMove(nil), h.lobby...)
}

func (h *FakeHost) VoiceMoves() []VoiceMove {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]VoiceMove(nil), h.voice...)
}

// Channels returns the live channels keyed by ref.
func (h *FakeHost) Channels() map[string]host.ChannelSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]host.ChannelSpec, len(h.channels))
	for k, v := range h.channels {
		out[k] = v
	}
	return out
}

func (h *FakeHost) Deleted() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deleted...)
}

func (h *FakeHost) Grants(ref string) []host.Grant {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Grant(nil), h.grants[ref]...)
}

func (h *FakeHost) Roles(playerID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.roles[playerID]...)
}

func (h *FakeHost) Notices() []host.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Notice(nil), h.notices...)
}

// NoticesOf filters recorded notices by kind.
func (h *FakeHost) NoticesOf(kind string) []host.Notice {
	return pie.Filter(h.Notices(), func(n host.Notice) bool { return n.Kind == kind })
}

var _ host.Host = (*FakeHost)(nil)
