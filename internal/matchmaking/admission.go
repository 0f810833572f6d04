package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rbw-core/internal/bridge"
	"rbw-core/internal/models"
)

// OnlineChecker reports whether an in-game name is connected to a game server.
type OnlineChecker interface {
	IsOnline(ctx context.Context, ign string) (bool, error)
}

// check validates every player against the queue and returns the first
// rejection reason, or "" when all may queue.
func (e *Engine) check(ctx context.Context, q models.Queue, playerIDs []string) (string, error) {
	players, err := e.store.GetPlayers(ctx, playerIDs)
	if err != nil {
		return "", fmt.Errorf("load players: %w", err)
	}
	for _, id := range playerIDs {
		p, ok := players[id]
		if !ok {
			return fmt.Sprintf("<@%s> is not registered", id), nil
		}
		switch {
		case p.Banned:
			return fmt.Sprintf("%s is banned", p.DisplayName), nil
		case p.Frozen:
			return fmt.Sprintf("%s is frozen for a screenshare", p.DisplayName), nil
		case p.Rating < q.MinRating || p.Rating > q.MaxRating:
			return fmt.Sprintf("%s's rating %d is outside this queue's range %d-%d", p.DisplayName, p.Rating, q.MinRating, q.MaxRating), nil
		}
	}
	if !e.cfg.RequireOnline || e.online == nil {
		return "", nil
	}
	for _, id := range playerIDs {
		p := players[id]
		if p.IGN == "" {
			return fmt.Sprintf("%s has no linked in-game name", p.DisplayName), nil
		}
		online, err := e.isOnline(ctx, p.IGN)
		if err != nil {
			e.log.Warn().Err(err).Str("ign", p.IGN).Msg("online check failed, treating as offline")
		}
		if !online {
			return fmt.Sprintf("%s is not online in game", p.IGN), nil
		}
	}
	return "", nil
}

func (e *Engine) isOnline(ctx context.Context, ign string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OnlineCheckTimeout)
	defer cancel()
	return e.online.IsOnline(ctx, ign)
}

// Requester is the bridge call used for presence checks.
type Requester interface {
	Request(ctx context.Context, msgType string, payload interface{}, timeout time.Duration) (bridge.Message, error)
}

// BridgeOnline asks connected game servers with check_player. No reply,
// no servers or a timeout all count as offline.
type BridgeOnline struct {
	bridge  Requester
	timeout time.Duration
}

func NewBridgeOnline(b Requester, timeout time.Duration) *BridgeOnline {
	return &BridgeOnline{bridge: b, timeout: timeout}
}

func (o *BridgeOnline) IsOnline(ctx context.Context, ign string) (bool, error) {
	msg, err := o.bridge.Request(ctx, bridge.TypeCheckPlayer, bridge.CheckPlayer{IGN: ign}, o.timeout)
	if errors.Is(err, bridge.ErrNoClients) || errors.Is(err, models.ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if msg.Type != bridge.TypePlayerStatus {
		return false, fmt.Errorf("check_player: unexpected reply %q", msg.Type)
	}
	var status bridge.PlayerStatus
	if err := msg.Decode(&status); err != nil {
		return false, err
	}
	return status.Online, nil
}
