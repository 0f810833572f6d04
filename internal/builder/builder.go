// Package builder turns a queue batch into a persisted match with its
// rooms, per-player history rows and a warp request.
package builder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/matchmaking"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
	"rbw-core/internal/store"
)

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 6
)

type Config struct {
	Maps          []string
	GamesCategory string
	// IDAttempts bounds match ID draws before giving up.
	IDAttempts int
}

type Store interface {
	store.Players
	store.Matches
	store.RecentGames
	store.Counters
}

type Platform interface {
	host.LobbyMover
	host.VoiceMover
	host.ChannelManager
	host.PresentationSink
}

// Warper starts the warp protocol for a freshly built match.
type Warper interface {
	StartWarp(ctx context.Context, matchID string)
}

type Builder struct {
	cfg      Config
	store    Store
	platform Platform
	warper   Warper
	clock    clock.Clock
	metrics  metrics.Metrics
	log      zerolog.Logger

	newID func() (string, error)

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, s Store, platform Platform, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *Builder {
	if cfg.IDAttempts <= 0 {
		cfg.IDAttempts = 16
	}
	return &Builder{
		cfg:      cfg,
		store:    s,
		platform: platform,
		clock:    clk,
		metrics:  m,
		log:      log.With().Str("component", "builder").Logger(),
		newID:    NewMatchID,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetWarper registers the coordinator that warps built matches.
func (b *Builder) SetWarper(w Warper) {
	b.warper = w
}

// NewMatchID draws a 6-character uppercase alphanumeric ID.
func NewMatchID() (string, error) {
	return gonanoid.Generate(idAlphabet, idLength)
}

// HandleBatch is the matchmaking.BatchHandler. Players of a batch that
// cannot be built are sent back to the lobby.
func (b *Builder) HandleBatch(ctx context.Context, batch matchmaking.Batch) {
	m, err := b.Build(ctx, batch)
	if err != nil {
		b.log.Error().Err(err).Str("queue_id", batch.Queue.ID).Strs("players", batch.Players).Msg("match creation failed")
		for _, id := range batch.Players {
			if err := b.platform.MoveToLobby(ctx, id, "match creation failed, please queue again"); err != nil {
				b.log.Warn().Err(err).Str("player_id", id).Msg("move to lobby failed")
			}
		}
		return
	}
	if b.warper != nil {
		b.warper.StartWarp(ctx, m.ID)
	}
}

// Build splits teams, allocates the match ID, persists the match with one
// pending RecentGame per player and then provisions rooms. A match whose
// history cannot be written is voided before any room is created.
func (b *Builder) Build(ctx context.Context, batch matchmaking.Batch) (*models.Match, error) {
	players, err := b.store.GetPlayers(ctx, batch.Players)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}

	b.rngMu.Lock()
	team1, team2 := SplitTeams(batch.Players, batch.Parties, b.rng)
	mapName := ""
	if len(b.cfg.Maps) > 0 {
		mapName = b.cfg.Maps[b.rng.Intn(len(b.cfg.Maps))]
	}
	b.rngMu.Unlock()

	// History row IDs come first so a counter failure leaves nothing behind.
	seqs, err := b.allocateRows(ctx, len(team1)+len(team2))
	if err != nil {
		return nil, fmt.Errorf("allocate history rows: %w", err)
	}

	now := b.clock.Now()
	m := &models.Match{
		QueueID:   batch.Queue.ID,
		Team1:     team1,
		Team2:     team2,
		State:     models.MatchPending,
		Kind:      batch.Queue.Kind(),
		Map:       mapName,
		Partial:   batch.Partial,
		CreatedAt: now,
	}
	if err := b.insertWithFreshID(ctx, m); err != nil {
		return nil, err
	}
	log := b.log.With().Str("match_id", m.ID).Logger()

	if err := b.insertRecentGames(ctx, m, seqs); err != nil {
		b.abandon(ctx, m, log)
		return nil, fmt.Errorf("match %s history: %w", m.ID, err)
	}

	res := b.provision(ctx, m, players, log)
	if err := b.store.InsertResources(ctx, res); err != nil {
		log.Error().Err(err).Msg("persist match resources")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range m.Players() {
		id := id
		g.Go(func() error {
			_, _, err := b.store.ApplyPlayerDelta(gctx, id, models.PlayerDelta{GamesPlayed: 1, LastGameAt: &now})
			if err != nil {
				return fmt.Errorf("player %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("increment games played")
	}

	b.movePlayers(ctx, m, res, log)
	if res.TextChannelRef != "" {
		_ = b.platform.Notify(ctx, host.Notice{
			Kind:       host.NoticeMatchCreated,
			ChannelRef: res.TextChannelRef,
			MatchID:    m.ID,
			PlayerIDs:  m.Players(),
			Text:       fmt.Sprintf("Game %s created on %s", m.ID, orUnknown(m.Map)),
			Fields:     map[string]string{"kind": string(m.Kind), "queue": m.QueueID},
		})
	}

	b.metrics.MatchCreated(m.QueueID, string(m.Kind))
	log.Info().Strs("team1", m.Team1).Strs("team2", m.Team2).Str("map", m.Map).Bool("partial", m.Partial).Msg("match created")
	return m, nil
}

// insertWithFreshID draws IDs until the store accepts one.
func (b *Builder) insertWithFreshID(ctx context.Context, m *models.Match) error {
	for attempt := 0; attempt < b.cfg.IDAttempts; attempt++ {
		id, err := b.newID()
		if err != nil {
			return fmt.Errorf("draw match id: %w", err)
		}
		m.ID = id
		err = b.store.InsertMatch(ctx, m)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return fmt.Errorf("insert match: %w", err)
		}
		b.log.Debug().Str("match_id", id).Msg("match id taken, redrawing")
	}
	m.ID = ""
	return models.ErrIDAllocationExhausted
}

func (b *Builder) allocateRows(ctx context.Context, n int) ([]int64, error) {
	seqs := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		seq, err := b.store.IncrementCounter(ctx, store.CounterRecentGames)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

func (b *Builder) insertRecentGames(ctx context.Context, m *models.Match, seqs []int64) error {
	rows := make([]models.RecentGame, 0, len(seqs))
	for i, id := range m.Players() {
		rows = append(rows, models.RecentGame{
			ID:       seqs[i],
			PlayerID: id,
			MatchID:  m.ID,
			Team:     m.TeamOf(id),
			Result:   models.ResultPending,
			Kind:     m.Kind,
			At:       m.CreatedAt,
		})
	}
	return b.store.InsertRecentGames(ctx, rows)
}

// abandon voids a match whose setup failed after it was persisted. No rooms
// exist yet, so nothing is left for the sweeper.
func (b *Builder) abandon(ctx context.Context, m *models.Match, log zerolog.Logger) {
	now := b.clock.Now()
	_, err := b.store.TransitionMatch(ctx, m.ID, []models.MatchState{models.MatchPending}, models.MatchVoided, models.MatchPatch{
		EndedAt:    &now,
		VoidedBy:   models.SystemActor,
		VoidReason: "match setup failed",
	})
	if err != nil {
		log.Error().Err(err).Msg("void abandoned match")
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "an unknown map"
	}
	return s
}
