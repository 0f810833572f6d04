// Package app assembles the core process from its components.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"rbw-core/internal/audit"
	"rbw-core/internal/auth"
	"rbw-core/internal/bridge"
	"rbw-core/internal/builder"
	"rbw-core/internal/clock"
	"rbw-core/internal/config"
	"rbw-core/internal/coordinator"
	"rbw-core/internal/db"
	"rbw-core/internal/eventbus"
	"rbw-core/internal/handlers"
	"rbw-core/internal/host"
	"rbw-core/internal/locks"
	"rbw-core/internal/logger"
	"rbw-core/internal/matchmaking"
	"rbw-core/internal/metrics"
	"rbw-core/internal/middleware"
	"rbw-core/internal/moderation"
	"rbw-core/internal/party"
	"rbw-core/internal/registry"
	"rbw-core/internal/scoring"
	"rbw-core/internal/store"
	"rbw-core/internal/verification"
)

// Module provides every component of the core. Invoking Wire and Workers
// connects them and schedules their background loops; the HTTP server is
// left to the caller.
var Module = fx.Options(
	fx.Provide(LoadConfig),
	fx.Provide(NewLogger),
	fx.Provide(NewClock),
	fx.Provide(NewMetrics),
	fx.Provide(NewStore),
	fx.Provide(NewPlatform),
	fx.Provide(NewRegistry),
	fx.Provide(locks.New),
	fx.Provide(NewAudit),
	fx.Provide(NewJWT),
	// core services
	fx.Provide(NewBridge),
	fx.Provide(NewEngine),
	fx.Provide(NewBuilder),
	fx.Provide(NewScoring),
	fx.Provide(NewCoordinator),
	fx.Provide(NewModeration),
	fx.Provide(NewParty),
	fx.Provide(NewVerification),
	// http
	fx.Provide(NewRateLimiter),
	fx.Provide(NewRouter),
	fx.Invoke(Wire),
	fx.Invoke(Workers),
)

func LoadConfig() (*config.Config, error) {
	return config.Load(config.GetEnv())
}

func NewLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel)
}

func NewClock() clock.Clock {
	return clock.Real{}
}

func NewMetrics() (*prometheus.Registry, metrics.Metrics) {
	reg := prometheus.NewRegistry()
	return reg, metrics.NewMetrics(reg)
}

// NewStore opens the configured backend. The mongo backend is indexed on
// start and disconnected on stop.
func NewStore(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.Store.Backend == "memory" {
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return store.NewMemory(), nil
	}

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			mongodb.EnsureIndexes(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return mongodb.Close(ctx)
		},
	})
	return store.NewMongo(mongodb), nil
}

// Platform is the chat host plus, when it arrives over NATS, the voice
// event feed.
type Platform struct {
	host.Host
	voice *host.NATS
}

// NewPlatform reaches the chat client over NATS when a URL is configured
// and otherwise only logs platform operations.
func NewPlatform(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (*Platform, error) {
	if cfg.NATS.URL == "" {
		log.Warn().Msg("no NATS url configured; platform operations are only logged")
		return &Platform{Host: host.NewLogging(log)}, nil
	}

	bus, err := eventbus.Connect(eventbusConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			bus.Close()
			return nil
		},
	})
	nats := host.NewNATS(bus, log)
	return &Platform{Host: nats, voice: nats}, nil
}

func NewRegistry(s store.Store, log zerolog.Logger) *registry.Registry {
	return registry.New(s, log)
}

func NewAudit(s store.Store, clk clock.Clock, log zerolog.Logger) *audit.Logger {
	return audit.New(s, clk, log)
}

func NewJWT(cfg *config.Config, log zerolog.Logger) *auth.JWTService {
	if cfg.Auth.StaffSecret == "" {
		log.Warn().Msg("no staff secret configured; staff API will reject every request")
	}
	return auth.NewJWTService(cfg.Auth.StaffSecret, cfg.Auth.BridgeSecret)
}

func NewBridge(cfg *config.Config, jwt *auth.JWTService, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *bridge.Bridge {
	bc := bridgeConfig(cfg)
	if jwt.BridgeAuthEnabled() {
		bc.Authenticate = jwt.AuthenticateBridge
	}
	return bridge.New(bc, clk, m, log)
}

func NewEngine(cfg *config.Config, s store.Store, reg *registry.Registry, pl *locks.PlayerLocks, p *Platform, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *matchmaking.Engine {
	return matchmaking.NewEngine(engineConfig(cfg), s, reg, pl, p, clk, m, log)
}

func NewBuilder(cfg *config.Config, s store.Store, p *Platform, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *builder.Builder {
	return builder.New(builderConfig(cfg), s, p, clk, m, log)
}

func NewScoring(cfg *config.Config, s store.Store, reg *registry.Registry, pl *locks.PlayerLocks, p *Platform, a *audit.Logger, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *scoring.Service {
	return scoring.NewService(scoringConfig(cfg), s, reg, pl, p, a, clk, m, log)
}

func NewCoordinator(cfg *config.Config, s store.Store, reg *registry.Registry, b *bridge.Bridge, sc *scoring.Service, p *Platform, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *coordinator.Coordinator {
	return coordinator.New(coordinatorConfig(cfg), s, reg, b, sc, p, clk, m, log)
}

func NewModeration(cfg *config.Config, s store.Store, reg *registry.Registry, pl *locks.PlayerLocks, p *Platform, a *audit.Logger, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) (*moderation.Service, error) {
	return moderation.NewService(moderationConfig(cfg), s, reg, pl, p, a, clk, m, log)
}

func NewParty(cfg *config.Config, s store.Store, p *Platform, clk clock.Clock, log zerolog.Logger) *party.Service {
	return party.NewService(partyConfig(cfg), s, p, clk, log)
}

func NewVerification(cfg *config.Config, s store.Store, a *audit.Logger, clk clock.Clock, log zerolog.Logger) *verification.Service {
	return verification.NewService(verificationConfig(cfg), s, a, clk, log)
}

func NewRateLimiter(clk clock.Clock) *middleware.RateLimiter {
	return middleware.NewRateLimiter(clk)
}

// RouterParams gathers the router's dependencies.
type RouterParams struct {
	fx.In

	Store        store.Store
	Registry     *registry.Registry
	Prometheus   *prometheus.Registry
	JWT          *auth.JWTService
	Limiter      *middleware.RateLimiter
	Bridge       *bridge.Bridge
	Engine       *matchmaking.Engine
	Scoring      *scoring.Service
	Coordinator  *coordinator.Coordinator
	Moderation   *moderation.Service
	Party        *party.Service
	Verification *verification.Service
}

func NewRouter(p RouterParams) *handlers.Router {
	return &handlers.Router{
		Matchmaking:  handlers.NewMatchmakingHandler(p.Engine, p.Registry),
		Leaderboard:  handlers.NewLeaderboardHandler(p.Store),
		Matches:      handlers.NewMatchHandler(p.Scoring, p.Coordinator, p.Store),
		Moderation:   handlers.NewModerationHandler(p.Moderation),
		Parties:      handlers.NewPartyHandler(p.Party),
		Verification: handlers.NewVerificationHandler(p.Verification),
		Auth:         middleware.NewAuthMiddleware(p.JWT),
		Limiter:      p.Limiter,
		Bridge:       p.Bridge,
		Store:        p.Store,
		Registry:     p.Prometheus,
	}
}

// WireParams gathers the components Wire connects.
type WireParams struct {
	fx.In

	Config       *config.Config
	Log          zerolog.Logger
	Platform     *Platform
	Bridge       *bridge.Bridge
	Engine       *matchmaking.Engine
	Builder      *builder.Builder
	Coordinator  *coordinator.Coordinator
	Moderation   *moderation.Service
	Verification *verification.Service
}

// Wire connects the pipeline: engine batches go to the builder, built
// matches to the warp coordinator, and bridge messages to their services.
func Wire(p WireParams) error {
	p.Builder.SetWarper(p.Coordinator)
	p.Engine.SetBatchHandler(p.Builder.HandleBatch)
	p.Engine.SetStatusPublisher(p.Bridge)
	if p.Config.Queue.RequireOnline {
		p.Engine.SetOnlineChecker(matchmaking.NewBridgeOnline(p.Bridge, p.Config.Queue.OnlineCheckTimeout.D()))
	}

	p.Coordinator.RegisterHandlers(p.Bridge)
	p.Moderation.RegisterHandlers(p.Bridge)
	p.Verification.RegisterHandlers(p.Bridge)

	if p.Platform.voice == nil {
		return nil
	}
	return p.Platform.voice.SubscribeVoiceEvents(func(ev host.VoiceEvent) {
		if err := p.Engine.HandleVoiceEvent(context.Background(), ev); err != nil {
			p.Log.Warn().Err(err).Str("player_id", ev.PlayerID).Msg("voice event not handled")
		}
	})
}

// WorkerParams gathers the components with background loops.
type WorkerParams struct {
	fx.In

	Lifecycle    fx.Lifecycle
	Config       *config.Config
	Log          zerolog.Logger
	Bridge       *bridge.Bridge
	Engine       *matchmaking.Engine
	Coordinator  *coordinator.Coordinator
	Scoring      *scoring.Service
	Moderation   *moderation.Service
	Party        *party.Service
	Verification *verification.Service
	Limiter      *middleware.RateLimiter
}

// Workers starts the bridge, the matchmaking engine and the coordinator,
// and runs the periodic jobs until the application stops. Matchmaking stops
// before the coordinator, and the bridge goes last.
func Workers(p WorkerParams) {
	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Bridge.Start()
			p.Coordinator.Start()
			if err := p.Engine.Start(ctx); err != nil {
				return err
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			group, runCtx = errgroup.WithContext(runCtx)
			jobs := map[string]func(context.Context){
				"ban-expiry":           p.Moderation.RunBanExpiry,
				"mute-expiry":          p.Moderation.RunMuteExpiry,
				"strike-decay":         p.Moderation.RunStrikeDecay,
				"party-auto-disband":   p.Party.RunAutoDisband,
				"daily-rating-reset":   p.Scoring.RunDailyReset,
				"rating-decay":         p.Scoring.RunDecay,
				"verification-janitor": p.Verification.RunJanitor,
			}
			for name, run := range jobs {
				name, run := name, run
				group.Go(func() error {
					run(runCtx)
					p.Log.Debug().Str("job", name).Msg("job stopped")
					return nil
				})
			}
			group.Go(func() error {
				p.Limiter.Run(runCtx, middleware.CleanupInterval, p.Log)
				return nil
			})
			p.Log.Info().Int("jobs", len(jobs)+1).Msg("background jobs started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Engine.Stop()
			p.Coordinator.Stop()
			if cancel != nil {
				cancel()
			}
			var errs []error
			if group != nil {
				errs = append(errs, group.Wait())
			}
			errs = append(errs, p.Bridge.Shutdown(ctx))
			return errors.Join(errs...)
		},
	})
}
