package moderation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rbw-core/internal/audit"
	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/models"
)

type StrikeResult struct {
	Strike *models.Sanction `json:"strike"`
	Count  int              `json:"count"`
	Action string           `json:"action"`
	Ban    *models.Sanction `json:"ban,omitempty"`
}

// Strike records a strike and applies the action configured for the new count.
func (s *Service) Strike(ctx context.Context, playerID, staffID, reason string) (*StrikeResult, error) {
	if err := s.locks.Lock(ctx, playerID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(playerID)

	p, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	now := s.clock.Now()
	count := p.StrikesCount + 1
	strike := &models.Sanction{
		ID:           uuid.NewString(),
		Kind:         models.SanctionStrike,
		PlayerID:     playerID,
		Reason:       reason,
		StartedAt:    now,
		ExpiresAt:    now.Add(s.cfg.StrikeDecay),
		StaffID:      staffID,
		StrikeNumber: count,
	}
	if err := s.store.InsertSanction(ctx, strike); err != nil {
		return nil, fmt.Errorf("store strike: %w", err)
	}
	stamp := models.StrikeStamp{Date: now, Reason: reason, Staff: staffID}
	if err := s.store.UpdatePlayer(ctx, playerID, models.PlayerPatch{StrikesCount: &count, LatestStrike: &stamp}); err != nil {
		return nil, fmt.Errorf("count strike: %w", err)
	}

	action := s.strikes.For(count)
	res := &StrikeResult{Strike: strike, Count: count, Action: action.String()}
	if !action.Warn && action.Ban > 0 {
		res.Ban, err = s.apply(ctx, models.SanctionBan, playerID, staffID, fmt.Sprintf("strike %d: %s", count, reason), action.Ban)
		if err != nil {
			return nil, err
		}
	}

	s.audit.Record(audit.EventStrike, staffID, playerID, map[string]string{
		"reason": reason,
		"count":  strconv.Itoa(count),
		"action": res.Action,
	})
	n := host.Notice{
		Kind:      host.NoticeStrikeAction,
		PlayerIDs: []string{playerID},
		Text:      fmt.Sprintf("Strike %d: %s (%s)", count, reason, res.Action),
		Fields:    map[string]string{"count": strconv.Itoa(count), "action": res.Action},
	}
	if err := s.platform.Notify(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("player_id", playerID).Msg("notify failed")
	}
	s.log.Info().Str("player_id", playerID).Int("count", count).Str("action", res.Action).Msg("strike recorded")
	return res, nil
}

// RunStrikeDecay clears stale strikes once per UTC day.
func (s *Service) RunStrikeDecay(ctx context.Context) {
	guard := &clock.DayGuard{Job: "strike-decay", Ledger: s.store}
	clock.Every(ctx, s.clock, s.log, guard.Job, s.cfg.DailyCheckInterval, func(ctx context.Context) error {
		return guard.Run(ctx, s.clock.Now(), func(ctx context.Context) error {
			_, err := s.DecayStrikes(ctx)
			return err
		})
	})
}

// DecayStrikes zeroes the strike count of players whose latest strike is
// older than StrikeDecay and marks their strike rows removed.
func (s *Service) DecayStrikes(ctx context.Context) (int, error) {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.StrikeDecay)
	players, err := s.store.FindPlayers(ctx, models.PlayerQuery{LatestStrikeBefore: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("find struck players: %w", err)
	}
	cleared := 0
	for _, p := range players {
		ok, err := s.decayPlayer(ctx, p.ID, cutoff, now)
		if err != nil {
			s.log.Error().Err(err).Str("player_id", p.ID).Msg("strike decay failed")
			continue
		}
		if ok {
			cleared++
		}
	}
	if cleared > 0 {
		s.log.Info().Int("players", cleared).Msg("strikes decayed")
	}
	return cleared, nil
}

func (s *Service) decayPlayer(ctx context.Context, playerID string, cutoff, now time.Time) (bool, error) {
	if err := s.locks.Lock(ctx, playerID); err != nil {
		return false, err
	}
	defer s.locks.Unlock(playerID)

	p, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return false, err
	}
	if p.StrikesCount == 0 || p.LatestStrike == nil || !p.LatestStrike.Date.Before(cutoff) {
		return false, nil
	}
	if _, err := s.store.MarkStrikesRemoved(ctx, playerID, models.SystemActor, now); err != nil {
		return false, err
	}
	zero := 0
	if err := s.store.UpdatePlayer(ctx, playerID, models.PlayerPatch{StrikesCount: &zero}); err != nil {
		return false, err
	}
	s.audit.Record(audit.EventStrikesDecayed, models.SystemActor, playerID, map[string]string{"strikes": strconv.Itoa(p.StrikesCount)})
	return true, nil
}
