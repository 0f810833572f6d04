package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rbw-core/internal/bridge"
	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/models"
)

type WarpState string

const (
	WarpRunning   WarpState = "warping"
	WarpActive    WarpState = "active"
	WarpFailed    WarpState = "failed"
	WarpExhausted WarpState = "exhausted"
)

// Warp outcomes reported to metrics.
const (
	outcomeSuccess       = "success"
	outcomeArenaNotFound = "arena_not_found"
	outcomeOffline       = "offline_players"
	outcomeTimeout       = "timeout"
	outcomeNoClients     = "no_clients"
	outcomeError         = "error"
)

// WarpStatus is a snapshot of the in-memory warp of one match.
type WarpStatus struct {
	MatchID  string    `json:"matchId"`
	State    WarpState `json:"state"`
	Attempts int       `json:"attempts"`
	Offline  []string  `json:"offline,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

type warp struct {
	status WarpStatus
}

// StartWarp begins the warp protocol in the background. It is a no-op while
// a warp for the match is already running.
func (c *Coordinator) StartWarp(_ context.Context, matchID string) {
	if c.ctx.Err() != nil {
		return
	}
	if !c.claim(matchID) {
		c.log.Debug().Str("match_id", matchID).Msg("warp already running")
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runWarp(c.ctx, matchID)
	}()
}

// Retry re-enters the warp protocol for a match still pending.
func (c *Coordinator) Retry(ctx context.Context, matchID string) error {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("match %s: %w", matchID, err)
	}
	if m.State != models.MatchPending {
		return fmt.Errorf("match %s is %s: %w", m.ID, m.State, models.ErrConflict)
	}
	if !c.claim(m.ID) {
		return fmt.Errorf("match %s is already warping: %w", m.ID, models.ErrConflict)
	}
	c.log.Info().Str("match_id", m.ID).Msg("warp retry requested")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runWarp(c.ctx, m.ID)
	}()
	return nil
}

// Warp returns the current warp snapshot for a match.
func (c *Coordinator) Warp(matchID string) (WarpStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.warps[matchID]
	if !ok {
		return WarpStatus{}, false
	}
	s := w.status
	s.Offline = append([]string(nil), s.Offline...)
	return s, true
}

func (c *Coordinator) claim(matchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.warps[matchID]; ok && w.status.State == WarpRunning {
		return false
	}
	c.warps[matchID] = &warp{status: WarpStatus{MatchID: matchID, State: WarpRunning}}
	return true
}

func (c *Coordinator) update(matchID string, fn func(*WarpStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.warps[matchID]; ok {
		fn(&w.status)
	}
}

func (c *Coordinator) forget(matchID string) {
	c.mu.Lock()
	delete(c.warps, matchID)
	c.mu.Unlock()
}

func (c *Coordinator) runWarp(ctx context.Context, matchID string) {
	log := c.log.With().Str("match_id", matchID).Logger()

	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		log.Error().Err(err).Msg("warp aborted: match unavailable")
		c.update(matchID, func(s *WarpStatus) { s.State, s.Reason = WarpFailed, err.Error() })
		return
	}
	payload, err := c.warpPayload(ctx, m)
	if err != nil {
		log.Error().Err(err).Msg("warp aborted: players unavailable")
		c.update(matchID, func(s *WarpStatus) { s.State, s.Reason = WarpFailed, err.Error() })
		return
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		c.update(matchID, func(s *WarpStatus) { s.Attempts = attempt })

		outcome, offline, reason := c.attempt(ctx, payload)
		c.metrics.WarpOutcome(outcome)
		log.Info().Int("attempt", attempt).Str("outcome", outcome).Strs("offline", offline).Msg("warp attempt finished")

		switch outcome {
		case outcomeSuccess:
			c.update(matchID, func(s *WarpStatus) { s.State, s.Offline, s.Reason = WarpActive, nil, "" })
			return
		case outcomeArenaNotFound:
			c.update(matchID, func(s *WarpStatus) { s.State, s.Reason = WarpFailed, reason })
			c.notify(ctx, m, host.NoticeWarpFailed, fmt.Sprintf("Game %s could not start: %s", m.ID, reason))
			return
		}
		c.update(matchID, func(s *WarpStatus) { s.Offline, s.Reason = offline, reason })

		if ctx.Err() != nil {
			return
		}
		if attempt < c.cfg.MaxAttempts && !clock.Sleep(ctx, c.clock, c.cfg.RetryDelay) {
			return
		}
	}

	c.update(matchID, func(s *WarpStatus) { s.State = WarpExhausted })
	status, _ := c.Warp(matchID)
	text := fmt.Sprintf("Game %s could not be warped after %d attempts (%s). Staff can retry the game.", m.ID, c.cfg.MaxAttempts, status.Reason)
	c.notify(ctx, m, host.NoticeWarpExhausted, text)
	log.Warn().Int("attempts", c.cfg.MaxAttempts).Msg("warp attempts exhausted, match left pending")
}

// attempt sends one warp request and classifies the answer.
func (c *Coordinator) attempt(ctx context.Context, payload bridge.WarpPlayers) (outcome string, offline []string, reason string) {
	resp, err := c.bridge.Request(ctx, bridge.TypeWarpPlayers, payload, c.cfg.WarpTimeout)
	switch {
	case errors.Is(err, bridge.ErrNoClients):
		return outcomeNoClients, nil, "no game server connected"
	case errors.Is(err, models.ErrTimeout):
		return outcomeTimeout, nil, "game server did not answer"
	case err != nil:
		return outcomeError, nil, err.Error()
	}

	switch resp.Type {
	case bridge.TypeWarpSuccess:
		return outcomeSuccess, nil, ""
	case bridge.TypeWarpFailedArenaNotFound:
		var msg bridge.WarpFailedArenaNotFound
		_ = resp.Decode(&msg)
		return outcomeArenaNotFound, nil, fmt.Sprintf("no arena available for map %s", orMap(msg.Map, payload.Map))
	case bridge.TypeWarpFailedOfflinePlayers:
		var msg bridge.WarpFailedOfflinePlayers
		if err := resp.Decode(&msg); err != nil {
			return outcomeError, nil, err.Error()
		}
		return outcomeOffline, msg.OfflinePlayers, "offline: " + strings.Join(msg.OfflinePlayers, ", ")
	case bridge.TypeError:
		var msg bridge.ErrorReply
		_ = resp.Decode(&msg)
		return outcomeError, nil, msg.Message
	}
	return outcomeError, nil, "unexpected reply " + resp.Type
}

func (c *Coordinator) warpPayload(ctx context.Context, m *models.Match) (bridge.WarpPlayers, error) {
	players, err := c.store.GetPlayers(ctx, m.Players())
	if err != nil {
		return bridge.WarpPlayers{}, err
	}
	team := func(ids []string) ([]bridge.WarpPlayer, error) {
		out := make([]bridge.WarpPlayer, 0, len(ids))
		for _, id := range ids {
			p, ok := players[id]
			if !ok {
				return nil, fmt.Errorf("player %s: %w", id, models.ErrNotFound)
			}
			out = append(out, bridge.WarpPlayer{IGN: p.IGN, UUID: p.UUID})
		}
		return out, nil
	}
	team1, err := team(m.Team1)
	if err != nil {
		return bridge.WarpPlayers{}, err
	}
	team2, err := team(m.Team2)
	if err != nil {
		return bridge.WarpPlayers{}, err
	}
	return bridge.WarpPlayers{
		GameID:   m.ID,
		Map:      m.Map,
		IsRanked: m.Kind == models.MatchRanked,
		Team1:    team1,
		Team2:    team2,
	}, nil
}

func orMap(reported, requested string) string {
	if reported != "" {
		return reported
	}
	return requested
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
