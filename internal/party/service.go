// Package party manages co-queuing groups: invites, membership, leadership,
// ignore lists and the inactivity sweep.
package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/rs/zerolog"

	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/models"
	"rbw-core/internal/store"
)

type Config struct {
	SizeMax         int
	InviteTimeout   time.Duration
	InactiveTimeout time.Duration
	SweepInterval   time.Duration
}

type Store interface {
	store.Players
	store.Parties
}

type Platform interface {
	host.VoiceMover
	host.PresentationSink
}

// Disband reasons.
const (
	ReasonLeaderLeft = "the leader left the party"
	ReasonDisbanded  = "the leader disbanded the party"
	ReasonInactive   = "the party was inactive"
)

type Service struct {
	cfg      Config
	store    Store
	platform Platform
	clock    clock.Clock
	log      zerolog.Logger

	// mu serializes every party mutation.
	mu sync.Mutex
}

func NewService(cfg Config, s Store, platform Platform, clk clock.Clock, log zerolog.Logger) *Service {
	if cfg.SizeMax <= 0 {
		cfg.SizeMax = 4
	}
	return &Service{
		cfg:      cfg,
		store:    s,
		platform: platform,
		clock:    clk,
		log:      log.With().Str("component", "party").Logger(),
	}
}

// Get returns the party the player belongs to.
func (s *Service) Get(ctx context.Context, playerID string) (*models.Party, error) {
	return s.store.FindPartyByMember(ctx, playerID)
}

func (s *Service) Create(ctx context.Context, leaderID string) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx, leaderID)
}

func (s *Service) create(ctx context.Context, leaderID string) (*models.Party, error) {
	leader, err := s.store.GetPlayer(ctx, leaderID)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", leaderID, err)
	}
	if err := s.ensureFree(ctx, leaderID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	p := &models.Party{
		ID:              leaderID,
		LeaderID:        leaderID,
		Members:         []string{leaderID},
		AggregateRating: leader.Rating,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := s.store.SaveParty(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Str("party_id", p.ID).Msg("party created")
	return p, nil
}

// Invite offers the target a seat in the leader's party, creating the party
// when the leader has none.
func (s *Service) Invite(ctx context.Context, leaderID, targetID string) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leaderID == targetID {
		return nil, models.Invalid("target", "cannot invite yourself")
	}
	p, err := s.store.FindPartyByMember(ctx, leaderID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if p, err = s.create(ctx, leaderID); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case p.LeaderID != leaderID:
		return nil, fmt.Errorf("only the leader can invite: %w", models.ErrPermissionDenied)
	}

	target, err := s.store.GetPlayer(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", targetID, err)
	}
	if err := s.ensureFree(ctx, targetID); err != nil {
		return nil, err
	}
	if !target.Settings.AllowPartyInvites {
		return nil, fmt.Errorf("%s does not accept party invites: %w", target.DisplayName, models.ErrPolicyViolation)
	}
	if pie.Contains(target.Settings.PartyIgnores, leaderID) {
		return nil, fmt.Errorf("%s is ignoring you: %w", target.DisplayName, models.ErrPolicyViolation)
	}
	if len(p.Members) >= s.cfg.SizeMax {
		return nil, fmt.Errorf("party is full (%d): %w", s.cfg.SizeMax, models.ErrPolicyViolation)
	}

	now := s.clock.Now()
	p.Invites = pie.Filter(p.Invites, func(inv models.PartyInvite) bool {
		return inv.PlayerID != targetID && now.Before(inv.ExpiresAt)
	})
	p.Invites = append(p.Invites, models.PartyInvite{PlayerID: targetID, ExpiresAt: now.Add(s.cfg.InviteTimeout)})
	p.LastActivityAt = now
	if err := s.store.SaveParty(ctx, p); err != nil {
		return nil, err
	}

	s.notify(ctx, host.Notice{
		Kind:      host.NoticePartyInvite,
		PlayerIDs: []string{targetID},
		Text:      fmt.Sprintf("You have been invited to %s's party", leaderID),
		Fields:    map[string]string{"partyId": p.ID, "expiresIn": s.cfg.InviteTimeout.String()},
	})
	s.log.Info().Str("party_id", p.ID).Str("player_id", targetID).Msg("party invite sent")
	return p, nil
}

// Accept joins the player to the party of leaderID if a live invite exists.
func (s *Service) Accept(ctx context.Context, playerID, leaderID string) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.GetParty(ctx, leaderID)
	if err != nil {
		return nil, fmt.Errorf("party %s: %w", leaderID, err)
	}
	now := s.clock.Now()
	if _, ok := p.PendingInvite(playerID, now); !ok {
		return nil, fmt.Errorf("no pending invite from %s: %w", leaderID, models.ErrNotFound)
	}
	if err := s.ensureFree(ctx, playerID); err != nil {
		return nil, err
	}
	if len(p.Members) >= s.cfg.SizeMax {
		return nil, fmt.Errorf("party is full (%d): %w", s.cfg.SizeMax, models.ErrPolicyViolation)
	}

	p.Members = append(p.Members, playerID)
	p.Invites = pie.Filter(p.Invites, func(inv models.PartyInvite) bool { return inv.PlayerID != playerID })
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Str("party_id", p.ID).Str("player_id", playerID).Msg("party invite accepted")
	return p, nil
}

func (s *Service) Kick(ctx context.Context, leaderID, targetID string) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.leaderParty(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	if targetID == leaderID {
		return nil, models.Invalid("target", "the leader cannot kick themselves")
	}
	if !p.HasMember(targetID) {
		return nil, fmt.Errorf("%s is not in the party: %w", targetID, models.ErrNotFound)
	}
	p.Members = pie.FilterNot(p.Members, func(id string) bool { return id == targetID })
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Str("party_id", p.ID).Str("player_id", targetID).Msg("party member kicked")
	return p, nil
}

// Leave removes the player from their party. A leader leaving disbands it.
func (s *Service) Leave(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.FindPartyByMember(ctx, playerID)
	if err != nil {
		return fmt.Errorf("party of %s: %w", playerID, err)
	}
	if p.LeaderID == playerID {
		return s.disband(ctx, p, ReasonLeaderLeft)
	}
	p.Members = pie.FilterNot(p.Members, func(id string) bool { return id == playerID })
	if err := s.save(ctx, p); err != nil {
		return err
	}
	s.log.Info().Str("party_id", p.ID).Str("player_id", playerID).Msg("party member left")
	return nil
}

func (s *Service) Disband(ctx context.Context, leaderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.leaderParty(ctx, leaderID)
	if err != nil {
		return err
	}
	return s.disband(ctx, p, ReasonDisbanded)
}

// PromoteLeader hands leadership to another member. The party ID follows
// the leader, so the record is re-keyed.
func (s *Service) PromoteLeader(ctx context.Context, leaderID, newLeaderID string) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.leaderParty(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	if newLeaderID == leaderID {
		return nil, models.Invalid("target", "already the leader")
	}
	if !p.HasMember(newLeaderID) {
		return nil, fmt.Errorf("%s is not in the party: %w", newLeaderID, models.ErrNotFound)
	}

	oldID := p.ID
	p.ID = newLeaderID
	p.LeaderID = newLeaderID
	p.Members = append([]string{newLeaderID}, pie.FilterNot(p.Members, func(id string) bool { return id == newLeaderID })...)
	p.Invites = nil
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	if err := s.store.DeleteParty(ctx, oldID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	s.log.Info().Str("party_id", p.ID).Str("previous_leader", leaderID).Msg("party leader promoted")
	return p, nil
}

func (s *Service) SetPrivate(ctx context.Context, leaderID string, private bool) (*models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.leaderParty(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	p.IsPrivate = private
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddIgnore blocks party invites from targetID.
func (s *Service) AddIgnore(ctx context.Context, playerID, targetID string) error {
	if playerID == targetID {
		return models.Invalid("target", "cannot ignore yourself")
	}
	if _, err := s.store.GetPlayer(ctx, targetID); err != nil {
		return fmt.Errorf("player %s: %w", targetID, err)
	}
	return s.store.UpdatePlayer(ctx, playerID, models.PlayerPatch{AddIgnore: targetID})
}

func (s *Service) RemoveIgnore(ctx context.Context, playerID, targetID string) error {
	return s.store.UpdatePlayer(ctx, playerID, models.PlayerPatch{RemoveIgnore: targetID})
}

// WarpMembersTo moves every member into the voice room ref and returns who
// could be moved.
func (s *Service) WarpMembersTo(ctx context.Context, leaderID, ref string) ([]string, error) {
	s.mu.Lock()
	p, err := s.leaderParty(ctx, leaderID)
	if err == nil {
		p.LastActivityAt = s.clock.Now()
		err = s.store.SaveParty(ctx, p)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var moved []string
	for _, id := range p.Members {
		if err := s.platform.MoveToVoice(ctx, id, ref); err != nil {
			s.log.Debug().Err(err).Str("player_id", id).Msg("party warp skipped member")
			continue
		}
		moved = append(moved, id)
	}
	return moved, nil
}

// RunAutoDisband disbands inactive parties every SweepInterval until ctx ends.
func (s *Service) RunAutoDisband(ctx context.Context) {
	clock.Every(ctx, s.clock, s.log, "party-auto-disband", s.cfg.SweepInterval, func(ctx context.Context) error {
		_, err := s.DisbandInactive(ctx)
		return err
	})
}

func (s *Service) DisbandInactive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.cfg.InactiveTimeout)
	parties, err := s.store.FindParties(ctx, models.PartyQuery{InactiveBefore: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("find inactive parties: %w", err)
	}
	n := 0
	for i := range parties {
		if err := s.disband(ctx, &parties[i], ReasonInactive); err != nil {
			s.log.Error().Err(err).Str("party_id", parties[i].ID).Msg("auto-disband failed")
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) disband(ctx context.Context, p *models.Party, reason string) error {
	if err := s.store.DeleteParty(ctx, p.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	s.notify(ctx, host.Notice{
		Kind:      host.NoticePartyDisband,
		PlayerIDs: p.Members,
		Text:      "Your party was disbanded: " + reason,
		Fields:    map[string]string{"partyId": p.ID},
	})
	s.log.Info().Str("party_id", p.ID).Str("reason", reason).Int("members", len(p.Members)).Msg("party disbanded")
	return nil
}

func (s *Service) leaderParty(ctx context.Context, leaderID string) (*models.Party, error) {
	p, err := s.store.FindPartyByMember(ctx, leaderID)
	if err != nil {
		return nil, fmt.Errorf("party of %s: %w", leaderID, err)
	}
	if p.LeaderID != leaderID {
		return nil, fmt.Errorf("only the leader can do that: %w", models.ErrPermissionDenied)
	}
	return p, nil
}

func (s *Service) ensureFree(ctx context.Context, playerID string) error {
	_, err := s.store.FindPartyByMember(ctx, playerID)
	if err == nil {
		return fmt.Errorf("%s is already in a party: %w", playerID, models.ErrConflict)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// save refreshes the aggregate rating and activity stamp before storing.
func (s *Service) save(ctx context.Context, p *models.Party) error {
	players, err := s.store.GetPlayers(ctx, p.Members)
	if err != nil {
		return err
	}
	total := 0
	for _, pl := range players {
		total += pl.Rating
	}
	if len(players) > 0 {
		p.AggregateRating = total / len(players)
	}
	p.LastActivityAt = s.clock.Now()
	return s.store.SaveParty(ctx, p)
}

func (s *Service) notify(ctx context.Context, n host.Notice) {
	if err := s.platform.Notify(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("kind", n.Kind).Msg("notify failed")
	}
}
