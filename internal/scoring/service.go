// Package scoring applies match outcomes to player ratings and stats, and
// reverts them when a match is voided.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

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
	// DefaultMultiplier applies when no booster is set.
	DefaultMultiplier float64
	// FloorDaily keeps dailyRating from going below zero on a loss.
	FloorDaily bool
	Decay      DecayConfig
	// DailyCheckInterval is how often the daily jobs look at the clock.
	DailyCheckInterval time.Duration
}

type DecayConfig struct {
	Enabled     bool
	Value       int
	Threshold   int
	InactiveFor time.Duration
}

type Store interface {
	store.Players
	store.Matches
	store.RecentGames
	store.Boosters
	store.JobRuns
}

// Outcome is a match result keyed by player ID.
type Outcome struct {
	MatchID     string
	WinningTeam int
	MVPs        []string
	BedBreakers []string
	Stats       map[string]models.PlayerGameStats
	Actor       string
}

type PlayerResult struct {
	PlayerID string `json:"playerId"`
	Team     int    `json:"team"`
	Won      bool   `json:"won"`
	MVP      bool   `json:"mvp"`
	// Delta is the computed change; Applied is what the rating actually moved.
	Delta   int `json:"delta"`
	Applied int `json:"applied"`
	Rating  int `json:"rating"`
}

type Result struct {
	Match      *models.Match  `json:"match"`
	Multiplier float64        `json:"multiplier"`
	Players    []PlayerResult `json:"players"`
}

type Service struct {
	cfg        Config
	store      Store
	registry   *registry.Registry
	locks      *locks.PlayerLocks
	calculator *Calculator
	platform   host.PresentationSink
	audit      *audit.Logger
	clock      clock.Clock
	metrics    metrics.Metrics
	log        zerolog.Logger

	// matchMu serializes Score/Void per match.
	matchMu sync.Map
}

func NewService(cfg Config, s Store, reg *registry.Registry, pl *locks.PlayerLocks, platform host.PresentationSink, a *audit.Logger, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *Service {
	if cfg.DefaultMultiplier <= 0 {
		cfg.DefaultMultiplier = 1
	}
	return &Service{
		cfg:        cfg,
		store:      s,
		registry:   reg,
		locks:      pl,
		calculator: NewCalculator(),
		platform:   platform,
		audit:      a,
		clock:      clk,
		metrics:    m,
		log:        log.With().Str("component", "scoring").Logger(),
	}
}

func (s *Service) lockMatch(id string) func() {
	v, _ := s.matchMu.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Multiplier returns the live booster, or the configured default.
func (s *Service) Multiplier(ctx context.Context) (float64, error) {
	b, err := s.store.GetBooster(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return s.cfg.DefaultMultiplier, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load booster: %w", err)
	}
	if b.ExpiresAt != nil && !s.clock.Now().Before(*b.ExpiresAt) {
		return s.cfg.DefaultMultiplier, nil
	}
	if b.Multiplier <= 0 {
		return s.cfg.DefaultMultiplier, nil
	}
	return b.Multiplier, nil
}

// SetBooster sets the global multiplier. A zero duration never expires.
func (s *Service) SetBooster(ctx context.Context, multiplier float64, actor string, duration time.Duration) (*models.Booster, error) {
	if !pie.Contains(models.ValidBoosterMultipliers, multiplier) {
		return nil, models.Invalid("multiplier", fmt.Sprintf("must be one of %v", models.ValidBoosterMultipliers))
	}
	now := s.clock.Now()
	b := &models.Booster{Multiplier: multiplier, SetBy: actor, SetAt: now}
	if duration > 0 {
		exp := now.Add(duration)
		b.ExpiresAt = &exp
	}
	if err := s.store.SetBooster(ctx, b); err != nil {
		return nil, fmt.Errorf("store booster: %w", err)
	}
	s.audit.Record(audit.EventBooster, actor, "booster", map[string]string{
		"multiplier": strconv.FormatFloat(multiplier, 'f', -1, 64),
		"duration":   duration.String(),
	})
	s.log.Info().Float64("multiplier", multiplier).Dur("duration", duration).Str("actor", actor).Msg("booster set")
	return b, nil
}

// Submit marks a pending match as submitted for staff review.
func (s *Service) Submit(ctx context.Context, matchID, actor string) (*models.Match, error) {
	unlock := s.lockMatch(matchID)
	defer unlock()

	m, err := s.store.TransitionMatch(ctx, matchID, []models.MatchState{models.MatchPending}, models.MatchSubmitted, models.MatchPatch{SubmittedBy: actor})
	if err != nil {
		return nil, fmt.Errorf("submit match %s: %w", matchID, err)
	}
	rows, err := s.store.FindRecentGames(ctx, models.RecentGameQuery{MatchID: matchID})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		err := s.store.UpdateRecentGame(ctx, r.ID, []models.GameResult{models.ResultPending}, models.RecentGamePatch{Result: models.ResultSubmitted})
		if err != nil && !errors.Is(err, models.ErrConflict) {
			return nil, err
		}
	}
	s.audit.Record(audit.EventMatchSubmitted, actor, matchID, nil)
	s.log.Info().Str("match_id", matchID).Str("actor", actor).Msg("match submitted")
	return m, nil
}

// Score applies the outcome to every player and marks the match scored.
// Calling it again for a match left half-applied by an earlier failure
// finishes the remaining players without double counting.
func (s *Service) Score(ctx context.Context, o Outcome) (*Result, error) {
	unlock := s.lockMatch(o.MatchID)
	defer unlock()

	res, err := s.score(ctx, o)
	if err != nil {
		s.metrics.ScoringOutcome("score", models.KindOf(err))
		return nil, err
	}
	s.metrics.ScoringOutcome("score", "ok")
	return res, nil
}

func (s *Service) score(ctx context.Context, o Outcome) (*Result, error) {
	if o.WinningTeam != 1 && o.WinningTeam != 2 {
		return nil, models.Invalid("winningTeam", "must be 1 or 2")
	}
	m, err := s.store.GetMatch(ctx, o.MatchID)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", o.MatchID, err)
	}
	if m.State != models.MatchPending && m.State != models.MatchSubmitted {
		return nil, fmt.Errorf("match %s is %s: %w", m.ID, m.State, models.ErrConflict)
	}
	multiplier, err := s.Multiplier(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.rowsByPlayer(ctx, m)
	if err != nil {
		return nil, err
	}

	mvps := pie.Filter(o.MVPs, func(id string) bool { return m.TeamOf(id) != 0 })
	log := s.log.With().Str("match_id", m.ID).Logger()

	results := make([]PlayerResult, len(m.Players()))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range m.Players() {
		i, id := i, id
		g.Go(func() error {
			r, err := s.scorePlayer(gctx, m, rows[id], id, o, mvps, multiplier)
			if err != nil {
				return fmt.Errorf("player %s: %w", id, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("scoring interrupted, rerun to finish")
		return nil, err
	}

	now := s.clock.Now()
	m, err = s.store.TransitionMatch(ctx, m.ID, []models.MatchState{models.MatchPending, models.MatchSubmitted}, models.MatchScored, models.MatchPatch{
		EndedAt:     &now,
		WinningTeam: o.WinningTeam,
		MVPs:        mvps,
		ScoredBy:    o.Actor,
	})
	if err != nil {
		return nil, fmt.Errorf("mark match %s scored: %w", o.MatchID, err)
	}

	s.audit.Record(audit.EventMatchScored, o.Actor, m.ID, map[string]string{
		"winningTeam": strconv.Itoa(o.WinningTeam),
		"multiplier":  strconv.FormatFloat(multiplier, 'f', -1, 64),
	})
	s.notify(ctx, m, host.NoticeMatchScored, fmt.Sprintf("Game %s scored: team %d wins", m.ID, o.WinningTeam))
	log.Info().Int("winning_team", o.WinningTeam).Float64("multiplier", multiplier).Msg("match scored")
	return &Result{Match: m, Multiplier: multiplier, Players: results}, nil
}

// scorePlayer finalizes the player's RecentGame row before touching the
// counters, then marks the row applied. A row already finalized but not
// applied is resumed with its recorded delta; the counter write is keyed by
// row so a resume never applies it twice.
func (s *Service) scorePlayer(ctx context.Context, m *models.Match, row *models.RecentGame, id string, o Outcome, mvps []string, multiplier float64) (PlayerResult, error) {
	if err := s.locks.Lock(ctx, id); err != nil {
		return PlayerResult{}, err
	}
	defer s.locks.Unlock(id)

	team := m.TeamOf(id)
	won := team == o.WinningTeam
	res := PlayerResult{PlayerID: id, Team: team, Won: won, MVP: won && pie.Contains(mvps, id)}

	if row == nil {
		return res, fmt.Errorf("no history row for match %s: %w", m.ID, models.ErrNotFound)
	}
	if row.Result == models.ResultWin || row.Result == models.ResultLose {
		res.Delta = row.RatingDelta
		if row.Applied {
			res.Applied = row.AppliedDelta
			return res, nil
		}
	} else {
		p, err := s.store.GetPlayer(ctx, id)
		if err != nil {
			return res, err
		}
		if m.Kind == models.MatchRanked {
			band, err := s.registry.BandFor(ctx, p.Rating)
			if err != nil {
				return res, err
			}
			res.Delta = s.calculator.RatingDelta(band, won, res.MVP, multiplier)
		}
		stats := o.Stats[id]
		result := models.ResultLose
		if won {
			result = models.ResultWin
		}
		beds := stats.BedsBroken
		if beds == 0 && pie.Contains(o.BedBreakers, id) {
			beds = 1
		}
		applied := false
		err = s.store.UpdateRecentGame(ctx, row.ID, []models.GameResult{models.ResultPending, models.ResultSubmitted}, models.RecentGamePatch{
			Result:      result,
			RatingDelta: &res.Delta,
			IsMVP:       &res.MVP,
			Applied:     &applied,
			Kills:       &stats.Kills,
			Deaths:      &stats.Deaths,
			BedsBroken:  &beds,
		})
		if err != nil {
			return res, fmt.Errorf("finalize history: %w", err)
		}
		row.Result, row.Kills, row.Deaths, row.BedsBroken = result, stats.Kills, stats.Deaths, beds
	}

	now := s.clock.Now()
	d := models.PlayerDelta{
		Rating:      res.Delta,
		DailyRating: res.Delta,
		FloorDaily:  s.cfg.FloorDaily,
		Kills:       row.Kills,
		Deaths:      row.Deaths,
		BedsBroken:  row.BedsBroken,
		Scored:      1,
		LastGameAt:  &now,
	}
	if won {
		d.Wins, d.Streak = 1, models.StreakWin
		if res.MVP {
			d.MVPs = 1
		}
	} else {
		d.Losses, d.Streak = 1, models.StreakLose
	}
	d.Key = models.ScoreKey(row.ID)
	before, after, err := s.store.ApplyPlayerDelta(ctx, id, d)
	switch {
	case errors.Is(err, models.ErrAlreadyApplied):
		// Counters landed on an earlier run that failed to mark the row.
		p, err := s.store.GetPlayer(ctx, id)
		if err != nil {
			return res, err
		}
		res.Applied, _ = p.Applied(d.Key)
		res.Rating = p.Rating
	case err != nil:
		return res, fmt.Errorf("apply stats: %w", err)
	default:
		res.Applied = after.Rating - before.Rating
		res.Rating = after.Rating
	}

	applied := true
	if err := s.store.UpdateRecentGame(ctx, row.ID, nil, models.RecentGamePatch{Applied: &applied, AppliedDelta: &res.Applied}); err != nil {
		return res, fmt.Errorf("mark history applied: %w", err)
	}
	return res, nil
}

// Void reverts a scored match's rating and win/loss changes, counts the
// match as voided for every player and marks it voided. Streaks and MVP
// counts are left as they are.
func (s *Service) Void(ctx context.Context, matchID, actor, reason string) (*models.Match, error) {
	unlock := s.lockMatch(matchID)
	defer unlock()

	m, err := s.void(ctx, matchID, actor, reason)
	if err != nil {
		s.metrics.ScoringOutcome("void", models.KindOf(err))
		return nil, err
	}
	s.metrics.ScoringOutcome("void", "ok")
	return m, nil
}

func (s *Service) void(ctx context.Context, matchID, actor, reason string) (*models.Match, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", matchID, err)
	}
	if m.State == models.MatchVoided {
		return nil, fmt.Errorf("match %s is already voided: %w", m.ID, models.ErrConflict)
	}
	rows, err := s.rowsByPlayer(ctx, m)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range m.Players() {
		id := id
		row := rows[id]
		if row == nil {
			continue
		}
		g.Go(func() error {
			if err := s.voidPlayer(gctx, row); err != nil {
				return fmt.Errorf("player %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	m, err = s.store.TransitionMatch(ctx, m.ID, []models.MatchState{models.MatchPending, models.MatchSubmitted, models.MatchScored}, models.MatchVoided, models.MatchPatch{
		EndedAt:    &now,
		VoidedBy:   actor,
		VoidReason: reason,
	})
	if err != nil {
		return nil, fmt.Errorf("mark match %s voided: %w", matchID, err)
	}

	s.audit.Record(audit.EventMatchVoided, actor, m.ID, map[string]string{"reason": reason})
	s.notify(ctx, m, host.NoticeMatchVoided, fmt.Sprintf("Game %s voided: %s", m.ID, orNone(reason)))
	s.log.Info().Str("match_id", m.ID).Str("actor", actor).Str("reason", reason).Msg("match voided")
	return m, nil
}

// voidPlayer reverts what scoring applied for the row, then flips the row
// to voided. The revert is keyed by row, so a rerun after either write
// fails finishes the job without reverting twice.
func (s *Service) voidPlayer(ctx context.Context, row *models.RecentGame) error {
	if row.Result == models.ResultVoided {
		return nil
	}
	if err := s.locks.Lock(ctx, row.PlayerID); err != nil {
		return err
	}
	defer s.locks.Unlock(row.PlayerID)

	d := models.PlayerDelta{Voided: 1, Key: models.VoidKey(row.ID)}
	if row.Result == models.ResultWin || row.Result == models.ResultLose {
		applied, ok, err := s.scoredDelta(ctx, row)
		if err != nil {
			return err
		}
		if ok {
			d.Rating = -applied
			d.DailyRating = -applied
			d.Kills = -row.Kills
			d.Deaths = -row.Deaths
			d.BedsBroken = -row.BedsBroken
			d.Scored = -1
			if row.Result == models.ResultWin {
				d.Wins = -1
			} else {
				d.Losses = -1
			}
		}
	}
	_, _, err := s.store.ApplyPlayerDelta(ctx, row.PlayerID, d)
	if err != nil && !errors.Is(err, models.ErrAlreadyApplied) {
		s.log.Error().Err(err).Str("player_id", row.PlayerID).Str("match_id", row.MatchID).Int("delta", d.Rating).Msg("void counters not reverted")
		return fmt.Errorf("revert stats: %w", err)
	}

	notApplied := false
	err = s.store.UpdateRecentGame(ctx, row.ID, []models.GameResult{row.Result}, models.RecentGamePatch{
		Result:  models.ResultVoided,
		Applied: &notApplied,
	})
	if errors.Is(err, models.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("void history: %w", err)
	}
	return nil
}

// scoredDelta reports the rating change scoring applied for row. The
// player's ledger wins; rows older than the ledger fall back to the mark.
func (s *Service) scoredDelta(ctx context.Context, row *models.RecentGame) (int, bool, error) {
	p, err := s.store.GetPlayer(ctx, row.PlayerID)
	if err != nil {
		return 0, false, err
	}
	if applied, ok := p.Applied(models.ScoreKey(row.ID)); ok {
		return applied, true, nil
	}
	if row.Applied {
		return row.AppliedDelta, true, nil
	}
	return 0, false, nil
}

func (s *Service) rowsByPlayer(ctx context.Context, m *models.Match) (map[string]*models.RecentGame, error) {
	rows, err := s.store.FindRecentGames(ctx, models.RecentGameQuery{MatchID: m.ID})
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", m.ID, err)
	}
	out := make(map[string]*models.RecentGame, len(rows))
	for i := range rows {
		out[rows[i].PlayerID] = &rows[i]
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, m *models.Match, kind, text string) {
	n := host.Notice{Kind: kind, MatchID: m.ID, PlayerIDs: m.Players(), Text: text}
	if res, err := s.store.GetResources(ctx, m.ID); err == nil {
		n.ChannelRef = res.TextChannelRef
	}
	if err := s.platform.Notify(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("match_id", m.ID).Msg("notify failed")
	}
}

func orNone(s string) string {
	if s == "" {
		return "no reason given"
	}
	return s
}
