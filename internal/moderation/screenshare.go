package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rbw-core/internal/audit"
	"rbw-core/internal/bridge"
	"rbw-core/internal/models"
)

const frozenReason = "frozen for a screenshare"

// StartScreenshare freezes the target until the screenshare is closed.
// Frozen players are moved out of voice and cannot queue.
func (s *Service) StartScreenshare(ctx context.Context, targetID, requesterID, reason string, automatic bool) (*models.Screenshare, error) {
	if err := s.locks.Lock(ctx, targetID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(targetID)

	if _, err := s.store.GetPlayer(ctx, targetID); err != nil {
		return nil, fmt.Errorf("player %s: %w", targetID, err)
	}
	if _, err := s.store.FindOpenScreenshare(ctx, targetID); err == nil {
		return nil, fmt.Errorf("player %s is already being screenshared: %w", targetID, models.ErrConflict)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	ss := &models.Screenshare{
		ID:          uuid.NewString(),
		TargetID:    targetID,
		RequesterID: requesterID,
		Reason:      reason,
		State:       models.ScreenshareOpen,
		Automatic:   automatic,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.InsertScreenshare(ctx, ss); err != nil {
		return nil, fmt.Errorf("store screenshare: %w", err)
	}
	frozen := true
	if err := s.store.UpdatePlayer(ctx, targetID, models.PlayerPatch{Frozen: &frozen}); err != nil {
		return nil, fmt.Errorf("freeze player: %w", err)
	}
	s.setRoles(ctx, models.BindingFrozen, targetID, true)
	if err := s.platform.MoveToLobby(ctx, targetID, frozenReason); err != nil {
		s.log.Warn().Err(err).Str("player_id", targetID).Msg("move to lobby failed")
	}

	s.audit.Record(audit.EventScreenshare, requesterID, targetID, map[string]string{"reason": reason})
	s.log.Info().Str("player_id", targetID).Str("requester_id", requesterID).Bool("automatic", automatic).Msg("screenshare started")
	return ss, nil
}

// CloseScreenshare ends the open screenshare of the target and unfreezes it.
func (s *Service) CloseScreenshare(ctx context.Context, targetID, closedBy string, state models.ScreenshareState) error {
	if state == models.ScreenshareOpen {
		return models.Invalid("state", "must be a closing state")
	}
	if err := s.locks.Lock(ctx, targetID); err != nil {
		return err
	}
	defer s.locks.Unlock(targetID)

	ss, err := s.store.FindOpenScreenshare(ctx, targetID)
	if err != nil {
		return fmt.Errorf("open screenshare for %s: %w", targetID, err)
	}
	ok, err := s.store.CloseScreenshare(ctx, ss.ID, state, closedBy, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("screenshare %s already closed: %w", ss.ID, models.ErrConflict)
	}
	frozen := false
	if err := s.store.UpdatePlayer(ctx, targetID, models.PlayerPatch{Frozen: &frozen}); err != nil {
		return fmt.Errorf("unfreeze player: %w", err)
	}
	s.setRoles(ctx, models.BindingFrozen, targetID, false)

	s.audit.Record(audit.EventScreenshareDone, closedBy, targetID, map[string]string{"state": string(state)})
	s.log.Info().Str("player_id", targetID).Str("state", string(state)).Msg("screenshare closed")
	return nil
}

// RegisterHandlers binds the in-game screenshare messages on b.
func (s *Service) RegisterHandlers(b *bridge.Bridge) {
	bridge.Register(b, bridge.TypeAutoSS, func(ctx context.Context, req bridge.AutoSS, _ bridge.Message) (*bridge.Reply, error) {
		target, err := s.store.FindPlayerByIGN(ctx, req.TargetIGN)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", req.TargetIGN, err)
		}
		requester := models.SystemActor
		if req.RequesterIGN != "" {
			if p, err := s.store.FindPlayerByIGN(ctx, req.RequesterIGN); err == nil {
				requester = p.ID
			}
		}
		_, err = s.StartScreenshare(ctx, target.ID, requester, req.Reason, true)
		return nil, err
	})
	bridge.Register(b, bridge.TypeScreenshareDontLog, func(ctx context.Context, req bridge.ScreenshareDontLog, _ bridge.Message) (*bridge.Reply, error) {
		target, err := s.store.FindPlayerByIGN(ctx, req.TargetIGN)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", req.TargetIGN, err)
		}
		closer := models.SystemActor
		if req.RequesterIGN != "" {
			if p, err := s.store.FindPlayerByIGN(ctx, req.RequesterIGN); err == nil {
				closer = p.ID
			}
		}
		return nil, s.CloseScreenshare(ctx, target.ID, closer, models.ScreenshareDontLog)
	})
}
