// Package coordinator drives a match after it is built: it warps the
// players into an arena, retries failed warps, feeds game results into
// scoring and cleans up rooms of finished matches.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rbw-core/internal/bridge"
	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
	"rbw-core/internal/registry"
	"rbw-core/internal/scoring"
	"rbw-core/internal/store"
)

// GameServerActor is recorded as the actor of results reported in game.
const GameServerActor = "game-server"

type Config struct {
	WarpTimeout time.Duration
	// MaxAttempts includes the first try.
	MaxAttempts   int
	RetryDelay    time.Duration
	SweepInterval time.Duration
}

type Store interface {
	store.Players
	store.Matches
}

// Requester sends a correlated request to the connected game servers.
type Requester interface {
	Request(ctx context.Context, msgType string, payload interface{}, timeout time.Duration) (bridge.Message, error)
}

// Scorer applies and reverts match outcomes.
type Scorer interface {
	Score(ctx context.Context, o scoring.Outcome) (*scoring.Result, error)
	Void(ctx context.Context, matchID, actor, reason string) (*models.Match, error)
}

type Platform interface {
	host.VoiceMover
	host.VoiceDirectory
	host.ChannelManager
	host.PresentationSink
}

type Coordinator struct {
	cfg      Config
	store    Store
	registry *registry.Registry
	bridge   Requester
	scorer   Scorer
	platform Platform
	clock    clock.Clock
	metrics  metrics.Metrics
	log      zerolog.Logger

	mu    sync.Mutex
	warps map[string]*warp

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, s Store, reg *registry.Registry, b Requester, scorer Scorer, platform Platform, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		store:    s,
		registry: reg,
		bridge:   b,
		scorer:   scorer,
		platform: platform,
		clock:    clk,
		metrics:  m,
		log:      log.With().Str("component", "coordinator").Logger(),
		warps:    make(map[string]*warp),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the room sweeper until Stop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		clock.Every(c.ctx, c.clock, c.log, "channel-sweep", c.cfg.SweepInterval, c.SweepChannels)
	}()
	c.log.Info().Dur("sweep_interval", c.cfg.SweepInterval).Msg("coordinator started")
}

// Stop cancels running warps and the sweeper and waits for them.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// HandleScoring maps a game server report onto player IDs and scores the match.
func (c *Coordinator) HandleScoring(ctx context.Context, msg bridge.Scoring) (*scoring.Result, error) {
	m, err := c.store.GetMatch(ctx, msg.GameID)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", msg.GameID, err)
	}
	players, err := c.store.GetPlayers(ctx, m.Players())
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	byIGN := make(map[string]string, len(players))
	for id, p := range players {
		byIGN[p.IGNLower] = id
	}

	stats := make(map[string]models.PlayerGameStats, len(msg.Players))
	for ign, s := range msg.Players {
		id, ok := byIGN[lower(ign)]
		if !ok {
			c.log.Warn().Str("match_id", m.ID).Str("ign", ign).Msg("scoring reports a player outside the match")
			continue
		}
		stats[id] = s
	}

	mvps := c.resolveIGNs(byIGN, msg.MVPs)
	if len(mvps) == 0 {
		mvps = scoring.DefaultMVPs(stats)
	}

	res, err := c.scorer.Score(ctx, scoring.Outcome{
		MatchID:     m.ID,
		WinningTeam: msg.WinningTeamNumber,
		MVPs:        mvps,
		BedBreakers: c.resolveIGNs(byIGN, msg.BedsBroken),
		Stats:       stats,
		Actor:       GameServerActor,
	})
	if err != nil {
		return nil, err
	}
	c.forget(m.ID)
	return res, nil
}

func (c *Coordinator) HandleVoiding(ctx context.Context, msg bridge.Voiding) (*models.Match, error) {
	m, err := c.scorer.Void(ctx, msg.GameID, GameServerActor, msg.Reason)
	if err != nil {
		return nil, err
	}
	c.forget(m.ID)
	return m, nil
}

func (c *Coordinator) resolveIGNs(byIGN map[string]string, igns []string) []string {
	var out []string
	for _, ign := range igns {
		if id, ok := byIGN[lower(ign)]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SweepChannels deletes the rooms of scored, voided or missing matches once
// their voice channels are empty.
func (c *Coordinator) SweepChannels(ctx context.Context) error {
	all, err := c.store.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("list match resources: %w", err)
	}
	for i := range all {
		res := &all[i]
		m, err := c.store.GetMatch(ctx, res.MatchID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return err
		case !m.State.Terminal():
			continue
		}

		empty, err := c.voiceEmpty(ctx, res)
		if err != nil {
			c.log.Warn().Err(err).Str("match_id", res.MatchID).Msg("voice occupancy unavailable")
			continue
		}
		if !empty {
			continue
		}
		c.deleteRooms(ctx, res)
	}
	return nil
}

func (c *Coordinator) voiceEmpty(ctx context.Context, res *models.MatchResources) (bool, error) {
	for _, ref := range res.VoiceRefs() {
		occ, err := c.platform.Occupants(ctx, ref)
		if err != nil {
			return false, err
		}
		if len(occ) > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (c *Coordinator) deleteRooms(ctx context.Context, res *models.MatchResources) {
	refs := res.VoiceRefs()
	if res.TextChannelRef != "" {
		refs = append(refs, res.TextChannelRef)
	}
	for _, ref := range refs {
		if err := c.platform.DeleteChannel(ctx, ref); err != nil {
			c.log.Warn().Err(err).Str("match_id", res.MatchID).Str("channel", ref).Msg("delete channel failed")
		}
	}
	if err := c.store.DeleteResources(ctx, res.MatchID); err != nil && !errors.Is(err, models.ErrNotFound) {
		c.log.Warn().Err(err).Str("match_id", res.MatchID).Msg("delete match resources failed")
		return
	}
	c.log.Info().Str("match_id", res.MatchID).Int("channels", len(refs)).Msg("match rooms cleaned up")
}

func (c *Coordinator) notify(ctx context.Context, m *models.Match, kind, text string) {
	n := host.Notice{Kind: kind, MatchID: m.ID, PlayerIDs: m.Players(), Text: text}
	if res, err := c.store.GetResources(ctx, m.ID); err == nil {
		n.ChannelRef = res.TextChannelRef
	}
	if err := c.platform.Notify(ctx, n); err != nil {
		c.log.Warn().Err(err).Str("match_id", m.ID).Msg("notify failed")
	}
}
