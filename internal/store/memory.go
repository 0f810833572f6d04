package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"

	"rbw-core/internal/models"
)

// Memory is an in-process Store used by tests and the memory backend. All
// reads return copies so callers can never mutate stored state.
type Memory struct {
	mu sync.RWMutex

	players      map[string]*models.Player
	bands        []models.RankBand
	queues       map[string]models.Queue
	bindings     map[string]models.PermissionBinding
	parties      map[string]*models.Party
	matches      map[string]*models.Match
	resources    map[string]models.MatchResources
	recentGames  map[int64]*models.RecentGame
	sanctions    map[models.SanctionKind]map[string]*models.Sanction
	screenshares map[string]*models.Screenshare
	booster      *models.Booster
	counters     map[string]int64
	jobRuns      map[string]string
	audit        []models.AuditEntry

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		players:     make(map[string]*models.Player),
		queues:      make(map[string]models.Queue),
		bindings:    make(map[string]models.PermissionBinding),
		parties:     make(map[string]*models.Party),
		matches:     make(map[string]*models.Match),
		resources:   make(map[string]models.MatchResources),
		recentGames: make(map[int64]*models.RecentGame),
		sanctions: map[models.SanctionKind]map[string]*models.Sanction{
			models.SanctionBan:    {},
			models.SanctionMute:   {},
			models.SanctionStrike: {},
		},
		screenshares: make(map[string]*models.Screenshare),
		counters:     make(map[string]int64),
		jobRuns:      make(map[string]string),
		now:          time.Now,
	}
}

func (s *Memory) Ping(context.Context) error { return nil }

func clonePlayer(p *models.Player) *models.Player {
	cp := *p
	cp.Settings.OwnedThemes = append([]string(nil), p.Settings.OwnedThemes...)
	cp.Settings.PartyIgnores = append([]string(nil), p.Settings.PartyIgnores...)
	cp.Ledger = append([]models.LedgerEntry(nil), p.Ledger...)
	if p.LatestStrike != nil {
		ls := *p.LatestStrike
		cp.LatestStrike = &ls
	}
	return &cp
}

func cloneParty(p *models.Party) *models.Party {
	cp := *p
	cp.Members = append([]string(nil), p.Members...)
	cp.Invites = append([]models.PartyInvite(nil), p.Invites...)
	return &cp
}

func cloneMatch(m *models.Match) *models.Match {
	cp := *m
	cp.Team1 = append([]string(nil), m.Team1...)
	cp.Team2 = append([]string(nil), m.Team2...)
	if m.MVPs != nil {
		cp.MVPs = append([]string{}, m.MVPs...)
	}
	return &cp
}

// ---- players ----

func (s *Memory) GetPlayer(_ context.Context, id string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clonePlayer(p), nil
}

func (s *Memory) GetPlayers(_ context.Context, ids []string) (map[string]*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Player, len(ids))
	for _, id := range ids {
		if p, ok := s.players[id]; ok {
			out[id] = clonePlayer(p)
		}
	}
	return out, nil
}

func (s *Memory) FindPlayerByIGN(_ context.Context, ign string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower := strings.ToLower(ign)
	for _, p := range s.players {
		if p.IGNLower == lower && lower != "" {
			return clonePlayer(p), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Memory) FindPlayers(_ context.Context, q models.PlayerQuery) ([]models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Player{}
	for _, p := range s.players {
		if len(q.IDs) > 0 && !pie.Contains(q.IDs, p.ID) {
			continue
		}
		if q.MinRating > 0 && p.Rating < q.MinRating {
			continue
		}
		if q.LastGameBefore != nil && (p.LastGameAt == nil || !p.LastGameAt.Before(*q.LastGameBefore)) {
			continue
		}
		if q.LatestStrikeBefore != nil &&
			(p.StrikesCount <= 0 || p.LatestStrike == nil || !p.LatestStrike.Date.Before(*q.LatestStrikeBefore)) {
			continue
		}
		out = append(out, *clonePlayer(p))
	}

	if q.SortByRating {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Rating != out[j].Rating {
				return out[i].Rating > out[j].Rating
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Memory) InsertPlayer(_ context.Context, p *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("%w: player %s exists", models.ErrConflict, p.ID)
	}
	p.IGNLower = strings.ToLower(p.IGN)
	if p.IGNLower != "" {
		for _, other := range s.players {
			if other.IGNLower == p.IGNLower {
				return fmt.Errorf("%w: ign %s taken", models.ErrConflict, p.IGN)
			}
		}
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.players[p.ID] = clonePlayer(p)
	return nil
}

func (s *Memory) ApplyPlayerDelta(_ context.Context, id string, d models.PlayerDelta) (models.PlayerStats, models.PlayerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return models.PlayerStats{}, models.PlayerStats{}, models.ErrNotFound
	}
	before := p.PlayerStats
	if d.Key != "" {
		if _, ok := p.Applied(d.Key); ok {
			return before, before, models.ErrAlreadyApplied
		}
	}
	p.PlayerStats = d.Apply(before)
	if d.Key != "" {
		p.Ledger = append(p.Ledger, models.LedgerEntry{Key: d.Key, Rating: p.Rating - before.Rating})
		if n := len(p.Ledger) - models.LedgerSize; n > 0 {
			p.Ledger = append([]models.LedgerEntry(nil), p.Ledger[n:]...)
		}
	}
	if d.LastGameAt != nil {
		t := *d.LastGameAt
		p.LastGameAt = &t
	}
	p.UpdatedAt = s.now()
	return before, p.PlayerStats, nil
}

func (s *Memory) UpdatePlayer(_ context.Context, id string, patch models.PlayerPatch) error {
	if patch.AddIgnore != "" && patch.RemoveIgnore != "" {
		return models.Invalid("ignore", "add and remove cannot be combined")
	}
	if patch.Settings != nil && (patch.AddIgnore != "" || patch.RemoveIgnore != "") {
		return models.Invalid("settings", "cannot be combined with ignore changes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return models.ErrNotFound
	}
	if patch.IGN != nil {
		lower := strings.ToLower(*patch.IGN)
		for _, other := range s.players {
			if other.ID != id && lower != "" && other.IGNLower == lower {
				return fmt.Errorf("%w: ign %s taken", models.ErrConflict, *patch.IGN)
			}
		}
		p.IGN = *patch.IGN
		p.IGNLower = lower
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.UUID != nil {
		p.UUID = *patch.UUID
	}
	if patch.Banned != nil {
		p.Banned = *patch.Banned
	}
	if patch.Muted != nil {
		p.Muted = *patch.Muted
	}
	if patch.Frozen != nil {
		p.Frozen = *patch.Frozen
	}
	if patch.StrikesCount != nil {
		p.StrikesCount = *patch.StrikesCount
	}
	if patch.LatestStrike != nil {
		ls := *patch.LatestStrike
		p.LatestStrike = &ls
	}
	if patch.Settings != nil {
		p.Settings = *patch.Settings
		p.Settings.OwnedThemes = append([]string(nil), patch.Settings.OwnedThemes...)
		p.Settings.PartyIgnores = append([]string(nil), patch.Settings.PartyIgnores...)
	}
	if patch.AddIgnore != "" && !pie.Contains(p.Settings.PartyIgnores, patch.AddIgnore) {
		p.Settings.PartyIgnores = append(p.Settings.PartyIgnores, patch.AddIgnore)
	}
	if patch.RemoveIgnore != "" {
		p.Settings.PartyIgnores = pie.FilterNot(p.Settings.PartyIgnores, func(v string) bool { return v == patch.RemoveIgnore })
	}
	p.UpdatedAt = s.now()
	return nil
}

func (s *Memory) ResetDailyRatings(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.players {
		if p.DailyRating != 0 {
			p.DailyRating = 0
			n++
		}
	}
	return n, nil
}

func (s *Memory) DecayRatings(_ context.Context, value, threshold int, inactiveBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.players {
		if p.Rating <= threshold {
			continue
		}
		if p.LastGameAt != nil && !p.LastGameAt.Before(inactiveBefore) {
			continue
		}
		p.Rating -= value
		if p.Rating < threshold {
			p.Rating = threshold
		}
		p.UpdatedAt = s.now()
		n++
	}
	return n, nil
}

// ---- settings ----

func (s *Memory) ListBands(context.Context) ([]models.RankBand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.RankBand{}, s.bands...)
	sort.Slice(out, func(i, j int) bool { return out[i].MinRating < out[j].MinRating })
	return out, nil
}

func (s *Memory) ReplaceBands(_ context.Context, bands []models.RankBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bands = append([]models.RankBand(nil), bands...)
	return nil
}

func (s *Memory) ListQueues(context.Context) ([]models.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) UpsertQueue(_ context.Context, q *models.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.ID] = *q
	return nil
}

func (s *Memory) DeleteQueue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.queues, id)
	return nil
}

func (s *Memory) ListBindings(context.Context) ([]models.PermissionBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PermissionBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		b.RoleRefs = append([]string(nil), b.RoleRefs...)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Memory) UpsertBinding(_ context.Context, b *models.PermissionBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	cp.RoleRefs = append([]string(nil), b.RoleRefs...)
	s.bindings[b.Key] = cp
	return nil
}

// ---- parties ----

func (s *Memory) GetParty(_ context.Context, id string) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parties[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneParty(p), nil
}

func (s *Memory) FindPartyByMember(_ context.Context, playerID string) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.parties {
		if p.HasMember(playerID) {
			return cloneParty(p), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Memory) FindParties(_ context.Context, q models.PartyQuery) ([]models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Party{}
	for _, p := range s.parties {
		if q.InactiveBefore != nil && !p.LastActivityAt.Before(*q.InactiveBefore) {
			continue
		}
		out = append(out, *cloneParty(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Memory) SaveParty(_ context.Context, p *models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties[p.ID] = cloneParty(p)
	return nil
}

func (s *Memory) DeleteParty(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.parties, id)
	return nil
}

// ---- matches ----

func (s *Memory) InsertMatch(_ context.Context, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("%w: match %s exists", models.ErrConflict, m.ID)
	}
	s.matches[m.ID] = cloneMatch(m)
	return nil
}

func (s *Memory) GetMatch(_ context.Context, id string) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneMatch(m), nil
}

func (s *Memory) TransitionMatch(_ context.Context, id string, from []models.MatchState, to models.MatchState, patch models.MatchPatch) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !pie.Contains(from, m.State) {
		return nil, fmt.Errorf("%w: match %s is %s", models.ErrConflict, id, m.State)
	}
	m.State = to
	if patch.EndedAt != nil {
		t := *patch.EndedAt
		m.EndedAt = &t
	}
	if patch.WinningTeam != 0 {
		m.WinningTeam = patch.WinningTeam
	}
	if patch.MVPs != nil {
		m.MVPs = append([]string{}, patch.MVPs...)
	}
	if patch.SubmittedBy != "" {
		m.SubmittedBy = patch.SubmittedBy
	}
	if patch.ScoredBy != "" {
		m.ScoredBy = patch.ScoredBy
	}
	if patch.VoidedBy != "" {
		m.VoidedBy = patch.VoidedBy
	}
	if patch.VoidReason != "" {
		m.VoidReason = patch.VoidReason
	}
	return cloneMatch(m), nil
}

func (s *Memory) FindMatches(_ context.Context, q models.MatchQuery) ([]models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Match{}
	for _, m := range s.matches {
		if len(q.States) > 0 && !pie.Contains(q.States, m.State) {
			continue
		}
		out = append(out, *cloneMatch(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Memory) InsertResources(_ context.Context, r *models.MatchResources) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.MatchID]; ok {
		return fmt.Errorf("%w: resources for %s exist", models.ErrConflict, r.MatchID)
	}
	s.resources[r.MatchID] = *r
	return nil
}

func (s *Memory) GetResources(_ context.Context, matchID string) (*models.MatchResources, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[matchID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (s *Memory) ListResources(context.Context) ([]models.MatchResources, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MatchResources, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out, nil
}

func (s *Memory) DeleteResources(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[matchID]; !ok {
		return models.ErrNotFound
	}
	delete(s.resources, matchID)
	return nil
}

// ---- recent games ----

func (s *Memory) InsertRecentGames(_ context.Context, rows []models.RecentGame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if _, ok := s.recentGames[r.ID]; ok {
			return fmt.Errorf("%w: recent game %d exists", models.ErrConflict, r.ID)
		}
		for _, existing := range s.recentGames {
			if existing.MatchID == r.MatchID && existing.PlayerID == r.PlayerID {
				return fmt.Errorf("%w: recent game for %s/%s exists", models.ErrConflict, r.MatchID, r.PlayerID)
			}
		}
	}
	for _, r := range rows {
		row := r
		s.recentGames[r.ID] = &row
	}
	return nil
}

func (s *Memory) FindRecentGames(_ context.Context, q models.RecentGameQuery) ([]models.RecentGame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.RecentGame{}
	for _, r := range s.recentGames {
		if q.MatchID != "" && r.MatchID != q.MatchID {
			continue
		}
		if q.PlayerID != "" && r.PlayerID != q.PlayerID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Memory) UpdateRecentGame(_ context.Context, id int64, from []models.GameResult, patch models.RecentGamePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recentGames[id]
	if !ok {
		return models.ErrNotFound
	}
	if len(from) > 0 && !pie.Contains(from, r.Result) {
		return fmt.Errorf("%w: recent game %d is %s", models.ErrConflict, id, r.Result)
	}
	if patch.Result != "" {
		r.Result = patch.Result
	}
	if patch.RatingDelta != nil {
		r.RatingDelta = *patch.RatingDelta
	}
	if patch.IsMVP != nil {
		r.IsMVP = *patch.IsMVP
	}
	if patch.Applied != nil {
		r.Applied = *patch.Applied
	}
	if patch.AppliedDelta != nil {
		r.AppliedDelta = *patch.AppliedDelta
	}
	if patch.Kills != nil {
		r.Kills = *patch.Kills
	}
	if patch.Deaths != nil {
		r.Deaths = *patch.Deaths
	}
	if patch.BedsBroken != nil {
		r.BedsBroken = *patch.BedsBroken
	}
	return nil
}

// ---- sanctions ----

func (s *Memory) sanctionMap(kind models.SanctionKind) (map[string]*models.Sanction, error) {
	m, ok := s.sanctions[kind]
	if !ok {
		return nil, models.Invalid("kind", fmt.Sprintf("unknown sanction kind %q", kind))
	}
	return m, nil
}

func (s *Memory) InsertSanction(_ context.Context, sanction *models.Sanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.sanctionMap(sanction.Kind)
	if err != nil {
		return err
	}
	if _, ok := m[sanction.ID]; ok {
		return fmt.Errorf("%w: sanction %s exists", models.ErrConflict, sanction.ID)
	}
	cp := *sanction
	m[sanction.ID] = &cp
	return nil
}

func (s *Memory) FindSanctions(_ context.Context, kind models.SanctionKind, q models.SanctionQuery) ([]models.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.sanctionMap(kind)
	if err != nil {
		return nil, err
	}
	out := []models.Sanction{}
	for _, sn := range m {
		if q.PlayerID != "" && sn.PlayerID != q.PlayerID {
			continue
		}
		if q.ActiveAt != nil {
			if kind == models.SanctionStrike {
				if sn.Removed {
					continue
				}
			} else if sn.Resolved || !sn.ExpiresAt.After(*q.ActiveAt) {
				continue
			}
		}
		if q.ExpiredAt != nil && (sn.Resolved || sn.ExpiresAt.After(*q.ExpiredAt)) {
			continue
		}
		out = append(out, *sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Memory) ResolveSanction(_ context.Context, kind models.SanctionKind, id, by, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.sanctionMap(kind)
	if err != nil {
		return false, err
	}
	sn, ok := m[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if sn.Resolved {
		return false, nil
	}
	sn.Resolved = true
	sn.ResolvedAt = &at
	sn.ResolvedBy = by
	sn.ResolvedReason = reason
	return true, nil
}

func (s *Memory) MarkStrikesRemoved(_ context.Context, playerID, by string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sn := range s.sanctions[models.SanctionStrike] {
		if sn.PlayerID != playerID || sn.Removed {
			continue
		}
		sn.Removed = true
		sn.RemovedAt = &at
		sn.RemovedBy = by
		n++
	}
	return n, nil
}

// ---- screenshares ----

func (s *Memory) InsertScreenshare(_ context.Context, ss *models.Screenshare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.screenshares[ss.ID]; ok {
		return fmt.Errorf("%w: screenshare %s exists", models.ErrConflict, ss.ID)
	}
	cp := *ss
	s.screenshares[ss.ID] = &cp
	return nil
}

func (s *Memory) FindOpenScreenshare(_ context.Context, targetID string) (*models.Screenshare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Screenshare
	for _, ss := range s.screenshares {
		if ss.TargetID != targetID || ss.State != models.ScreenshareOpen {
			continue
		}
		if latest == nil || ss.CreatedAt.After(latest.CreatedAt) {
			latest = ss
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Memory) CloseScreenshare(_ context.Context, id string, state models.ScreenshareState, by string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.screenshares[id]
	if !ok || ss.State != models.ScreenshareOpen {
		return false, nil
	}
	ss.State = state
	ss.ClosedAt = &at
	ss.ClosedBy = by
	return true, nil
}

// ---- booster / counters / audit ----

func (s *Memory) GetBooster(context.Context) (*models.Booster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.booster == nil {
		return nil, models.ErrNotFound
	}
	cp := *s.booster
	return &cp, nil
}

func (s *Memory) SetBooster(_ context.Context, b *models.Booster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	cp.ID = boosterID
	s.booster = &cp
	return nil
}

func (s *Memory) IncrementCounter(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *Memory) LastJobRun(_ context.Context, job string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobRuns[job], nil
}

func (s *Memory) MarkJobRun(_ context.Context, job, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobRuns[job] = day
	return nil
}

func (s *Memory) InsertAudit(_ context.Context, e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.audit = append(s.audit, cp)
	return nil
}

// AuditEntries returns a copy of the audit log in insertion order.
func (s *Memory) AuditEntries() []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditEntry(nil), s.audit...)
}
