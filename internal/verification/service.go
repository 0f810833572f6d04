// Package verification binds in-game names to players with short-lived
// codes confirmed from inside the game.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"rbw-core/internal/audit"
	"rbw-core/internal/bridge"
	"rbw-core/internal/clock"
	"rbw-core/internal/models"
	"rbw-core/internal/store"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

type Config struct {
	CodeTTL         time.Duration
	JanitorInterval time.Duration
}

type Service struct {
	cfg   Config
	store store.Players
	audit *audit.Logger
	clock clock.Clock
	log   zerolog.Logger

	mu sync.Mutex
	// pending is keyed by lower-cased IGN; a player holds at most one code.
	pending map[string]models.PendingVerification
}

func NewService(cfg Config, s store.Players, a *audit.Logger, clk clock.Clock, log zerolog.Logger) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	return &Service{
		cfg:     cfg,
		store:   s,
		audit:   a,
		clock:   clk,
		log:     log.With().Str("component", "verification").Logger(),
		pending: make(map[string]models.PendingVerification),
	}
}

// Issue draws a code the player must type in game as the given IGN.
// A previous code of the same player is replaced.
func (s *Service) Issue(ctx context.Context, playerID, ign string) (models.PendingVerification, error) {
	ign = strings.TrimSpace(ign)
	if ign == "" {
		return models.PendingVerification{}, models.Invalid("ign", "is required")
	}
	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return models.PendingVerification{}, fmt.Errorf("player %s: %w", playerID, err)
	}
	if owner, err := s.store.FindPlayerByIGN(ctx, ign); err == nil && owner.ID != playerID {
		return models.PendingVerification{}, fmt.Errorf("ign %s is linked to another player: %w", ign, models.ErrConflict)
	}

	code, err := gonanoid.Generate(codeAlphabet, codeLength)
	if err != nil {
		return models.PendingVerification{}, fmt.Errorf("generate code: %w", err)
	}
	pv := models.PendingVerification{
		PlayerID:  playerID,
		Code:      code,
		IGN:       ign,
		ExpiresAt: s.clock.Now().Add(s.cfg.CodeTTL),
	}

	s.mu.Lock()
	for key, other := range s.pending {
		if other.PlayerID == playerID {
			delete(s.pending, key)
		}
	}
	s.pending[strings.ToLower(ign)] = pv
	s.mu.Unlock()

	s.log.Info().Str("player_id", playerID).Str("ign", ign).Time("expires_at", pv.ExpiresAt).Msg("verification issued")
	return pv, nil
}

// Confirm checks a code typed in game and links the IGN and UUID to the
// player on success. A wrong code leaves the pending entry in place.
func (s *Service) Confirm(ctx context.Context, ign, uuid, code string) (*models.Player, error) {
	key := strings.ToLower(strings.TrimSpace(ign))

	s.mu.Lock()
	pv, ok := s.pending[key]
	if ok && !s.clock.Now().Before(pv.ExpiresAt) {
		delete(s.pending, key)
		ok = false
	}
	if ok && !strings.EqualFold(pv.Code, strings.TrimSpace(code)) {
		s.mu.Unlock()
		return nil, fmt.Errorf("wrong verification code: %w", models.ErrPermissionDenied)
	}
	delete(s.pending, key)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending verification for %s: %w", ign, models.ErrNotFound)
	}

	patch := models.PlayerPatch{IGN: &pv.IGN}
	if uuid != "" {
		patch.UUID = &uuid
	}
	if err := s.store.UpdatePlayer(ctx, pv.PlayerID, patch); err != nil {
		return nil, fmt.Errorf("link ign: %w", err)
	}
	p, err := s.store.GetPlayer(ctx, pv.PlayerID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(audit.EventIGNVerified, pv.PlayerID, pv.PlayerID, map[string]string{"ign": pv.IGN})
	s.log.Info().Str("player_id", pv.PlayerID).Str("ign", pv.IGN).Msg("ign verified")
	return p, nil
}

// Pending returns the live code for ign, if any.
func (s *Service) Pending(ign string) (models.PendingVerification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pv, ok := s.pending[strings.ToLower(ign)]
	if !ok || !s.clock.Now().Before(pv.ExpiresAt) {
		return models.PendingVerification{}, false
	}
	return pv, true
}

// RunJanitor drops expired codes until ctx is done.
func (s *Service) RunJanitor(ctx context.Context) {
	clock.Every(ctx, s.clock, s.log, "verification-janitor", s.cfg.JanitorInterval, func(context.Context) error {
		s.Prune()
		return nil
	})
}

// Prune removes expired codes and reports how many were dropped.
func (s *Service) Prune() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, pv := range s.pending {
		if !now.Before(pv.ExpiresAt) {
			delete(s.pending, key)
			n++
		}
	}
	return n
}

// RegisterHandlers binds the in-game verify command on b.
func (s *Service) RegisterHandlers(b *bridge.Bridge) {
	bridge.Register(b, bridge.TypeVerify, func(ctx context.Context, req bridge.Verify, _ bridge.Message) (*bridge.Reply, error) {
		if _, err := s.Confirm(ctx, req.IGN, req.UUID, req.Code); err != nil {
			s.log.Info().Err(err).Str("ign", req.IGN).Msg("verification rejected")
			return &bridge.Reply{Type: bridge.TypeVerifyFailure, Payload: bridge.VerifyResult{IGN: req.IGN, Message: failureMessage(err)}}, nil
		}
		return &bridge.Reply{Type: bridge.TypeVerifySuccess, Payload: bridge.VerifyResult{IGN: req.IGN}}, nil
	})
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "no verification is pending for this name"
	case errors.Is(err, models.ErrPermissionDenied):
		return "the code is incorrect"
	case errors.Is(err, models.ErrConflict):
		return "this name is already linked to another account"
	default:
		return "verification failed"
	}
}
