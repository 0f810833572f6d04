// Package store is the typed persistence layer. Every component depends on
// the narrow interface it needs; Mongo and Memory implement all of them.
package store

import (
	"context"
	"time"

	"rbw-core/internal/models"
)

type Players interface {
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	GetPlayers(ctx context.Context, ids []string) (map[string]*models.Player, error)
	FindPlayerByIGN(ctx context.Context, ign string) (*models.Player, error)
	FindPlayers(ctx context.Context, q models.PlayerQuery) ([]models.Player, error)
	InsertPlayer(ctx context.Context, p *models.Player) error
	// ApplyPlayerDelta is an atomic read-modify-write. It returns the stats
	// before and after the change. A keyed delta already in the player's
	// ledger returns models.ErrAlreadyApplied without writing.
	ApplyPlayerDelta(ctx context.Context, id string, d models.PlayerDelta) (before, after models.PlayerStats, err error)
	UpdatePlayer(ctx context.Context, id string, patch models.PlayerPatch) error
	ResetDailyRatings(ctx context.Context) (int64, error)
	// DecayRatings lowers every player above threshold whose last game is older
	// than inactiveBefore by value, never below threshold.
	DecayRatings(ctx context.Context, value, threshold int, inactiveBefore time.Time) (int64, error)
}

type Settings interface {
	ListBands(ctx context.Context) ([]models.RankBand, error)
	ReplaceBands(ctx context.Context, bands []models.RankBand) error
	ListQueues(ctx context.Context) ([]models.Queue, error)
	UpsertQueue(ctx context.Context, q *models.Queue) error
	DeleteQueue(ctx context.Context, id string) error
	ListBindings(ctx context.Context) ([]models.PermissionBinding, error)
	UpsertBinding(ctx context.Context, b *models.PermissionBinding) error
}

type Parties interface {
	GetParty(ctx context.Context, id string) (*models.Party, error)
	FindPartyByMember(ctx context.Context, playerID string) (*models.Party, error)
	FindParties(ctx context.Context, q models.PartyQuery) ([]models.Party, error)
	SaveParty(ctx context.Context, p *models.Party) error
	DeleteParty(ctx context.Context, id string) error
}

type Matches interface {
	// InsertMatch fails with ErrConflict when the ID is taken.
	InsertMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	// TransitionMatch moves a match from one of the from states to to. It
	// fails with ErrConflict when the match is in any other state.
	TransitionMatch(ctx context.Context, id string, from []models.MatchState, to models.MatchState, patch models.MatchPatch) (*models.Match, error)
	FindMatches(ctx context.Context, q models.MatchQuery) ([]models.Match, error)

	InsertResources(ctx context.Context, r *models.MatchResources) error
	GetResources(ctx context.Context, matchID string) (*models.MatchResources, error)
	ListResources(ctx context.Context) ([]models.MatchResources, error)
	DeleteResources(ctx context.Context, matchID string) error
}

type RecentGames interface {
	InsertRecentGames(ctx context.Context, rows []models.RecentGame) error
	FindRecentGames(ctx context.Context, q models.RecentGameQuery) ([]models.RecentGame, error)
	// UpdateRecentGame applies patch when the row's result is one of from,
	// failing with ErrConflict otherwise. An empty from matches any result.
	UpdateRecentGame(ctx context.Context, id int64, from []models.GameResult, patch models.RecentGamePatch) error
}

type Sanctions interface {
	InsertSanction(ctx context.Context, s *models.Sanction) error
	FindSanctions(ctx context.Context, kind models.SanctionKind, q models.SanctionQuery) ([]models.Sanction, error)
	// ResolveSanction marks an unresolved record resolved. It reports false
	// when the record was already resolved.
	ResolveSanction(ctx context.Context, kind models.SanctionKind, id, by, reason string, at time.Time) (bool, error)
	MarkStrikesRemoved(ctx context.Context, playerID, by string, at time.Time) (int64, error)
}

type Screenshares interface {
	InsertScreenshare(ctx context.Context, s *models.Screenshare) error
	FindOpenScreenshare(ctx context.Context, targetID string) (*models.Screenshare, error)
	CloseScreenshare(ctx context.Context, id string, state models.ScreenshareState, by string, at time.Time) (bool, error)
}

type Boosters interface {
	GetBooster(ctx context.Context) (*models.Booster, error)
	SetBooster(ctx context.Context, b *models.Booster) error
}

type Counters interface {
	// IncrementCounter returns the next value of a strictly monotonic counter.
	IncrementCounter(ctx context.Context, name string) (int64, error)
}

// JobRuns persists the last UTC day ("2006-01-02") each daily job completed.
type JobRuns interface {
	// LastJobRun returns "" for a job that never ran.
	LastJobRun(ctx context.Context, job string) (string, error)
	MarkJobRun(ctx context.Context, job, day string) error
}

type AuditLog interface {
	InsertAudit(ctx context.Context, e *models.AuditEntry) error
}

type Store interface {
	Players
	Settings
	Parties
	Matches
	RecentGames
	Sanctions
	Screenshares
	Boosters
	Counters
	JobRuns
	AuditLog
	Ping(ctx context.Context) error
}

// Counter names.
const (
	CounterRecentGames = "recentgames"
)

const boosterID = "global"

var (
	_ Store = (*Mongo)(nil)
	_ Store = (*Memory)(nil)
)
