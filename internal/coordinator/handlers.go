package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rbw-core/internal/bridge"
	"rbw-core/internal/host"
	"rbw-core/internal/models"
)

// RegisterHandlers binds the game lifecycle message types on b.
func (c *Coordinator) RegisterHandlers(b *bridge.Bridge) {
	bridge.Register(b, bridge.TypeScoring, func(ctx context.Context, req bridge.Scoring, _ bridge.Message) (*bridge.Reply, error) {
		_, err := c.HandleScoring(ctx, req)
		return nil, err
	})
	bridge.Register(b, bridge.TypeVoiding, func(ctx context.Context, req bridge.Voiding, _ bridge.Message) (*bridge.Reply, error) {
		_, err := c.HandleVoiding(ctx, req)
		return nil, err
	})
	bridge.Register(b, bridge.TypeRetryGame, func(ctx context.Context, req bridge.RetryGame, _ bridge.Message) (*bridge.Reply, error) {
		return nil, c.Retry(ctx, strings.ToUpper(strings.TrimSpace(req.GameID)))
	})
	bridge.Register(b, bridge.TypeCallCmd, func(ctx context.Context, req bridge.CallCmd, _ bridge.Message) (*bridge.Reply, error) {
		return c.handleCall(ctx, req), nil
	})
	bridge.Register(b, bridge.TypeQueueFromIngame, func(ctx context.Context, req bridge.QueueFromIngame, _ bridge.Message) (*bridge.Reply, error) {
		return c.handleQueueFromIngame(ctx, req), nil
	})
}

// handleCall lets the requester join the voice room of the target's team.
func (c *Coordinator) handleCall(ctx context.Context, req bridge.CallCmd) *bridge.Reply {
	fail := func(reason string) *bridge.Reply {
		return &bridge.Reply{Type: bridge.TypeCallFailure, Payload: bridge.CallResult{RequesterIGN: req.RequesterIGN, TargetIGN: req.TargetIGN, Reason: reason}}
	}

	requester, err := c.store.FindPlayerByIGN(ctx, req.RequesterIGN)
	if err != nil {
		return fail("you are not registered")
	}
	target, err := c.store.FindPlayerByIGN(ctx, req.TargetIGN)
	if err != nil {
		return fail(req.TargetIGN + " is not registered")
	}
	m, err := c.liveMatchOf(ctx, target.ID)
	if err != nil {
		return fail(req.TargetIGN + " is not in a game")
	}
	res, err := c.store.GetResources(ctx, m.ID)
	if err != nil {
		return fail("game rooms are not available")
	}
	ref := res.Team1VoiceRef
	if m.TeamOf(target.ID) == 2 {
		ref = res.Team2VoiceRef
	}
	if ref == "" {
		return fail("game rooms are not available")
	}

	grant := host.Grant{PlayerID: requester.ID, Allow: []host.Capability{host.CapView, host.CapConnect, host.CapSpeak}}
	if requester.Muted {
		grant.Allow = []host.Capability{host.CapView, host.CapConnect}
		grant.Deny = []host.Capability{host.CapSpeak}
	}
	if err := c.platform.GrantAccess(ctx, ref, grant); err != nil {
		c.log.Warn().Err(err).Str("match_id", m.ID).Str("player_id", requester.ID).Msg("call grant failed")
		return fail("could not open the room")
	}
	if err := c.platform.MoveToVoice(ctx, requester.ID, ref); err != nil {
		c.log.Debug().Err(err).Str("player_id", requester.ID).Msg("call move skipped")
	}
	c.log.Info().Str("match_id", m.ID).Str("requester", requester.ID).Str("target", target.ID).Msg("call granted")
	return &bridge.Reply{Type: bridge.TypeCallSuccess, Payload: bridge.CallResult{RequesterIGN: req.RequesterIGN, TargetIGN: req.TargetIGN}}
}

// liveMatchOf returns the newest pending or submitted match with the player.
func (c *Coordinator) liveMatchOf(ctx context.Context, playerID string) (*models.Match, error) {
	matches, err := c.store.FindMatches(ctx, models.MatchQuery{States: []models.MatchState{models.MatchPending, models.MatchSubmitted}})
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if matches[i].TeamOf(playerID) != 0 {
			return &matches[i], nil
		}
	}
	return nil, models.ErrNotFound
}

// handleQueueFromIngame moves the player into the queue's voice room; the
// resulting voice event performs the actual admission.
func (c *Coordinator) handleQueueFromIngame(ctx context.Context, req bridge.QueueFromIngame) *bridge.Reply {
	fail := func(msg string) *bridge.Reply {
		return &bridge.Reply{Type: bridge.TypeQueueJoinError, Payload: bridge.QueueJoinResult{IGN: req.IGN, Message: msg}}
	}

	p, err := c.store.FindPlayerByIGN(ctx, req.IGN)
	if err != nil {
		return fail("you are not registered")
	}
	q, err := c.queueByName(ctx, req.QueueType)
	if errors.Is(err, models.ErrNotFound) {
		return fail(fmt.Sprintf("unknown queue %q", req.QueueType))
	}
	if err != nil {
		c.log.Error().Err(err).Msg("queue lookup failed")
		return fail("queues are unavailable")
	}
	if !q.Enabled {
		return fail(q.Name + " is closed")
	}
	if err := c.platform.MoveToVoice(ctx, p.ID, q.ChannelRef); err != nil {
		c.log.Debug().Err(err).Str("player_id", p.ID).Str("queue_id", q.ID).Msg("in-game queue move failed")
		return fail("join any voice channel first")
	}
	return &bridge.Reply{Type: bridge.TypeQueueJoinSuccess, Payload: bridge.QueueJoinResult{IGN: req.IGN, QueueID: q.ID}}
}

func (c *Coordinator) queueByName(ctx context.Context, name string) (models.Queue, error) {
	queues, err := c.registry.Queues(ctx)
	if err != nil {
		return models.Queue{}, err
	}
	for _, q := range queues {
		if strings.EqualFold(q.Name, name) || q.ID == name {
			return q, nil
		}
	}
	return models.Queue{}, models.ErrNotFound
}
