package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"rbw-core/internal/auth"
	"rbw-core/internal/middleware"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	FrontendURL string
	BridgePath  string
}

type Router struct {
	Matchmaking  *MatchmakingHandler
	Leaderboard  *LeaderboardHandler
	Matches      *MatchHandler
	Moderation   *ModerationHandler
	Parties      *PartyHandler
	Verification *VerificationHandler

	Auth     *middleware.AuthMiddleware
	Limiter  *middleware.RateLimiter
	Bridge   http.Handler
	Store    Pinger
	Registry *prometheus.Registry
}

// Handler assembles every route behind the shared middleware chain.
func (rt *Router) Handler(cfg RouterConfig, log zerolog.Logger) http.Handler {
	router := mux.NewRouter()

	// Bridge endpoint for game servers
	if rt.Bridge != nil {
		bridge := rt.Limiter.RateLimitMiddleware(middleware.BridgeUpgradeLimit, middleware.IPKeyFunc("bridge"))(rt.Bridge)
		router.Handle(cfg.BridgePath, bridge)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.SecurityHeaders)

	// Public routes
	public := api.NewRoute().Subrouter()
	public.Use(rt.Limiter.RateLimitMiddleware(middleware.PublicReadLimit, middleware.IPKeyFunc("public")))
	public.HandleFunc("/queues", rt.Matchmaking.GetQueues).Methods("GET")
	public.HandleFunc("/bands", rt.Matchmaking.GetBands).Methods("GET")
	public.HandleFunc("/leaderboard", rt.Leaderboard.GetLeaderboard).Methods("GET")
	public.HandleFunc("/players/{ign}", rt.Leaderboard.GetPlayer).Methods("GET")
	public.HandleFunc("/matches/{matchId}", rt.Matches.GetMatch).Methods("GET")
	public.HandleFunc("/booster", rt.Matches.GetBooster).Methods("GET")

	staff := api.PathPrefix("/staff").Subrouter()
	staff.Use(rt.Limiter.RateLimitMiddleware(middleware.StaffActionLimit, middleware.IPKeyFunc("staff")))

	// Scoring staff
	scoring := staff.NewRoute().Subrouter()
	scoring.Use(rt.Auth.RequireStaff(auth.RoleScorer))
	scoring.HandleFunc("/matches/{matchId}/retry", rt.Matches.RetryWarp).Methods("POST")
	scoring.HandleFunc("/matches/{matchId}/submit", rt.Matches.Submit).Methods("POST")
	scoring.HandleFunc("/matches/{matchId}/score", rt.Matches.Score).Methods("POST")
	scoring.HandleFunc("/matches/{matchId}/void", rt.Matches.Void).Methods("POST")

	// Moderators
	mod := staff.NewRoute().Subrouter()
	mod.Use(rt.Auth.RequireStaff(auth.RoleModerator))
	mod.HandleFunc("/players/{playerId}/ban", rt.Moderation.Ban).Methods("POST")
	mod.HandleFunc("/players/{playerId}/ban", rt.Moderation.Unban).Methods("DELETE")
	mod.HandleFunc("/players/{playerId}/mute", rt.Moderation.Mute).Methods("POST")
	mod.HandleFunc("/players/{playerId}/mute", rt.Moderation.Unmute).Methods("DELETE")
	mod.HandleFunc("/players/{playerId}/sanctions", rt.Moderation.GetSanctions).Methods("GET")
	mod.HandleFunc("/players/{playerId}/strikes", rt.Moderation.Strike).Methods("POST")
	mod.HandleFunc("/players/{playerId}/screenshare", rt.Moderation.StartScreenshare).Methods("POST")
	mod.HandleFunc("/players/{playerId}/screenshare", rt.Moderation.CloseScreenshare).Methods("DELETE")
	mod.HandleFunc("/players/{playerId}/verification", rt.Verification.Issue).Methods("POST")

	// Admins
	admin := staff.NewRoute().Subrouter()
	admin.Use(rt.Auth.RequireStaff(auth.RoleAdmin))
	admin.HandleFunc("/bands", rt.Matchmaking.PutBands).Methods("PUT")
	admin.HandleFunc("/queues", rt.Matchmaking.ListQueues).Methods("GET")
	admin.HandleFunc("/queues/{queueId}", rt.Matchmaking.PutQueue).Methods("PUT")
	admin.HandleFunc("/queues/{queueId}", rt.Matchmaking.DeleteQueue).Methods("DELETE")
	admin.HandleFunc("/booster", rt.Matches.SetBooster).Methods("PUT")

	// Chat client acting for players
	parties := api.PathPrefix("/parties/{playerId}").Subrouter()
	parties.Use(rt.Auth.RequireStaff(auth.RoleChat))
	parties.HandleFunc("", rt.Parties.Get).Methods("GET")
	parties.HandleFunc("", rt.Parties.Disband).Methods("DELETE")
	parties.HandleFunc("/invite", rt.Parties.Invite).Methods("POST")
	parties.HandleFunc("/accept/{leaderId}", rt.Parties.Accept).Methods("POST")
	parties.HandleFunc("/kick", rt.Parties.Kick).Methods("POST")
	parties.HandleFunc("/promote", rt.Parties.Promote).Methods("POST")
	parties.HandleFunc("/leave", rt.Parties.Leave).Methods("POST")
	parties.HandleFunc("/privacy", rt.Parties.SetPrivate).Methods("PUT")
	parties.HandleFunc("/ignores", rt.Parties.AddIgnore).Methods("POST")
	parties.HandleFunc("/ignores/{targetId}", rt.Parties.RemoveIgnore).Methods("DELETE")

	if rt.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if rt.Store != nil {
			if err := rt.Store.Ping(ctx); err != nil {
				respondWithError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	return middleware.RequestID(log)(corsHandler.Handler(router))
}
