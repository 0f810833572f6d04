// Package moderation owns bans, mutes, strikes and screenshares, and the
// workers that lift them when they run out.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rbw-core/internal/audit"
	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/locks"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
	"rbw-core/internal/registry"
	"rbw-core/internal/store"
)

type Config struct {
	ExpiryInterval time.Duration
	StrikeDecay    time.Duration
	StrikeActions  map[string]string
	// DailyCheckInterval is how often the strike decay worker looks at the clock.
	DailyCheckInterval time.Duration
}

type Store interface {
	store.Players
	store.Sanctions
	store.Screenshares
	store.JobRuns
}

type Platform interface {
	host.RoleManager
	host.LobbyMover
	host.PresentationSink
}

// restriction describes how a timed sanction shows on the player.
type restriction struct {
	binding   string
	flag      func(on bool) models.PlayerPatch
	event     string
	liftEvent string
}

var restrictions = map[models.SanctionKind]restriction{
	models.SanctionBan: {
		binding:   models.BindingBanned,
		flag:      func(on bool) models.PlayerPatch { return models.PlayerPatch{Banned: &on} },
		event:     audit.EventBan,
		liftEvent: audit.EventUnban,
	},
	models.SanctionMute: {
		binding:   models.BindingMuted,
		flag:      func(on bool) models.PlayerPatch { return models.PlayerPatch{Muted: &on} },
		event:     audit.EventMute,
		liftEvent: audit.EventUnmute,
	},
}

type Service struct {
	cfg      Config
	strikes  StrikeTable
	store    Store
	registry *registry.Registry
	locks    *locks.PlayerLocks
	platform Platform
	audit    *audit.Logger
	clock    clock.Clock
	metrics  metrics.Metrics
	log      zerolog.Logger
}

func NewService(cfg Config, s Store, reg *registry.Registry, pl *locks.PlayerLocks, platform Platform, a *audit.Logger, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) (*Service, error) {
	table, err := ParseStrikeActions(cfg.StrikeActions)
	if err != nil {
		return nil, fmt.Errorf("strike actions: %w", err)
	}
	if cfg.StrikeDecay <= 0 {
		cfg.StrikeDecay = 30 * 24 * time.Hour
	}
	return &Service{
		cfg:      cfg,
		strikes:  table,
		store:    s,
		registry: reg,
		locks:    pl,
		platform: platform,
		audit:    a,
		clock:    clk,
		metrics:  m,
		log:      log.With().Str("component", "moderation").Logger(),
	}, nil
}

func (s *Service) Ban(ctx context.Context, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error) {
	return s.sanction(ctx, models.SanctionBan, playerID, staffID, reason, d)
}

func (s *Service) Mute(ctx context.Context, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error) {
	return s.sanction(ctx, models.SanctionMute, playerID, staffID, reason, d)
}

func (s *Service) Unban(ctx context.Context, playerID, staffID, reason string) error {
	return s.lift(ctx, models.SanctionBan, playerID, staffID, reason)
}

func (s *Service) Unmute(ctx context.Context, playerID, staffID, reason string) error {
	return s.lift(ctx, models.SanctionMute, playerID, staffID, reason)
}

// Active returns the player's unexpired, unresolved sanctions of kind.
func (s *Service) Active(ctx context.Context, kind models.SanctionKind, playerID string) ([]models.Sanction, error) {
	now := s.clock.Now()
	return s.store.FindSanctions(ctx, kind, models.SanctionQuery{PlayerID: playerID, ActiveAt: &now})
}

func (s *Service) sanction(ctx context.Context, kind models.SanctionKind, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error) {
	if d <= 0 {
		return nil, models.Invalid("duration", "must be positive")
	}
	if err := s.locks.Lock(ctx, playerID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(playerID)

	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	active, err := s.Active(ctx, kind, playerID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("player %s already has an active %s: %w", playerID, kind, models.ErrConflict)
	}
	return s.apply(ctx, kind, playerID, staffID, reason, d)
}

// apply records the sanction and restricts the player. The caller holds the
// player lock.
func (s *Service) apply(ctx context.Context, kind models.SanctionKind, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error) {
	r := restrictions[kind]
	now := s.clock.Now()
	sn := &models.Sanction{
		ID:              uuid.NewString(),
		Kind:            kind,
		PlayerID:        playerID,
		Reason:          reason,
		StartedAt:       now,
		DurationSeconds: int64(d / time.Second),
		ExpiresAt:       now.Add(d),
		StaffID:         staffID,
	}
	if err := s.store.InsertSanction(ctx, sn); err != nil {
		return nil, fmt.Errorf("store %s: %w", kind, err)
	}
	if err := s.store.UpdatePlayer(ctx, playerID, r.flag(true)); err != nil {
		return nil, fmt.Errorf("flag player: %w", err)
	}
	s.setRoles(ctx, r.binding, playerID, true)

	s.audit.Record(r.event, staffID, playerID, map[string]string{"reason": reason, "duration": d.String()})
	s.log.Info().Str("kind", string(kind)).Str("player_id", playerID).Str("staff_id", staffID).Dur("duration", d).Msg("sanction applied")
	return sn, nil
}

func (s *Service) lift(ctx context.Context, kind models.SanctionKind, playerID, staffID, reason string) error {
	if err := s.locks.Lock(ctx, playerID); err != nil {
		return err
	}
	defer s.locks.Unlock(playerID)

	active, err := s.Active(ctx, kind, playerID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return fmt.Errorf("player %s has no active %s: %w", playerID, kind, models.ErrNotFound)
	}
	now := s.clock.Now()
	for _, sn := range active {
		if _, err := s.store.ResolveSanction(ctx, kind, sn.ID, staffID, reason, now); err != nil {
			return fmt.Errorf("resolve %s %s: %w", kind, sn.ID, err)
		}
	}
	if err := s.unrestrict(ctx, kind, playerID); err != nil {
		return err
	}
	s.audit.Record(restrictions[kind].liftEvent, staffID, playerID, map[string]string{"reason": reason})
	s.log.Info().Str("kind", string(kind)).Str("player_id", playerID).Str("staff_id", staffID).Msg("sanction lifted")
	return nil
}

// unrestrict clears the flag and roles unless another sanction of the same
// kind is still running. The caller holds the player lock.
func (s *Service) unrestrict(ctx context.Context, kind models.SanctionKind, playerID string) error {
	remaining, err := s.Active(ctx, kind, playerID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	r := restrictions[kind]
	if err := s.store.UpdatePlayer(ctx, playerID, r.flag(false)); err != nil {
		return fmt.Errorf("unflag player: %w", err)
	}
	s.setRoles(ctx, r.binding, playerID, false)
	return nil
}

func (s *Service) setRoles(ctx context.Context, binding, playerID string, add bool) {
	roles, err := s.registry.RolesFor(ctx, binding)
	if err != nil {
		s.log.Warn().Err(err).Str("binding", binding).Msg("role binding unavailable")
		return
	}
	if len(roles) == 0 {
		return
	}
	if add {
		err = s.platform.AddRoles(ctx, playerID, roles)
	} else {
		err = s.platform.RemoveRoles(ctx, playerID, roles)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("binding", binding).Str("player_id", playerID).Bool("add", add).Msg("role update failed")
	}
}

// RunBanExpiry resolves ended bans every ExpiryInterval until ctx ends.
func (s *Service) RunBanExpiry(ctx context.Context) {
	s.runExpiry(ctx, models.SanctionBan)
}

// RunMuteExpiry resolves ended mutes every ExpiryInterval until ctx ends.
func (s *Service) RunMuteExpiry(ctx context.Context) {
	s.runExpiry(ctx, models.SanctionMute)
}

func (s *Service) runExpiry(ctx context.Context, kind models.SanctionKind) {
	clock.Every(ctx, s.clock, s.log, string(kind)+"-expiry", s.cfg.ExpiryInterval, func(ctx context.Context) error {
		return s.ExpireSanctions(ctx, kind)
	})
}

// ExpireSanctions resolves every sanction of kind whose time is up.
func (s *Service) ExpireSanctions(ctx context.Context, kind models.SanctionKind) error {
	now := s.clock.Now()
	expired, err := s.store.FindSanctions(ctx, kind, models.SanctionQuery{ExpiredAt: &now})
	if err != nil {
		return fmt.Errorf("find expired %s: %w", kind, err)
	}
	for _, sn := range expired {
		if err := s.expire(ctx, sn, now); err != nil {
			s.log.Error().Err(err).Str("kind", string(kind)).Str("sanction_id", sn.ID).Msg("expiry failed")
		}
	}
	return nil
}

func (s *Service) expire(ctx context.Context, sn models.Sanction, now time.Time) error {
	if err := s.locks.Lock(ctx, sn.PlayerID); err != nil {
		return err
	}
	defer s.locks.Unlock(sn.PlayerID)

	ok, err := s.store.ResolveSanction(ctx, sn.Kind, sn.ID, models.SystemActor, "expired", now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.unrestrict(ctx, sn.Kind, sn.PlayerID); err != nil {
		return err
	}
	s.metrics.SanctionExpired(string(sn.Kind))
	n := host.Notice{
		Kind:      host.NoticeSanctionEnded,
		PlayerIDs: []string{sn.PlayerID},
		Text:      fmt.Sprintf("Your %s has expired", sn.Kind),
		Fields:    map[string]string{"kind": string(sn.Kind), "reason": sn.Reason},
	}
	if err := s.platform.Notify(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("player_id", sn.PlayerID).Msg("notify failed")
	}
	s.log.Info().Str("kind", string(sn.Kind)).Str("player_id", sn.PlayerID).Msg("sanction expired")
	return nil
}
