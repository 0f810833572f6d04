package testsetup

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rbw-core/internal/models"
	"rbw-core/internal/registry"
	"rbw-core/internal/store"
)

// Fixtures seeds the in-memory store and registry.
type Fixtures struct {
	t        *testing.T
	Store    *store.Memory
	Registry *registry.Registry
}

func NewFixtures(t *testing.T) *Fixtures {
	s := store.NewMemory()
	return &Fixtures{t: t, Store: s, Registry: registry.New(s, Logger(t))}
}

// DefaultBands is a three-band table covering [0, inf).
func DefaultBands() []models.RankBand {
	return []models.RankBand{
		{ID: "coal", Name: "Coal", MinRating: 0, MaxRating: 100, WinDelta: 30, LoseDelta: -5, MVPBonus: 5},
		{ID: "iron", Name: "Iron", MinRating: 100, MaxRating: 2000, WinDelta: 25, LoseDelta: -20, MVPBonus: 5},
		{ID: "diamond", Name: "Diamond", MinRating: 2000, WinDelta: 15, LoseDelta: -30, MVPBonus: 3},
	}
}

func (f *Fixtures) Bands(bands ...models.RankBand) {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	_, err := f.Registry.ConfigureBands(context.Background(), bands)
	require.NoError(f.t, err)
}

// Player registers a player whose IGN is the lowercased ID.
func (f *Fixtures) Player(id string, rating int) *models.Player {
	p := &models.Player{
		ID:          id,
		DisplayName: id,
		IGN:         strings.ToLower(id),
		UUID:        "uuid-" + strings.ToLower(id),
		PlayerStats: models.PlayerStats{Rating: rating, PeakRating: rating},
		Settings:    models.PlayerSettings{AllowPartyInvites: true},
	}
	require.NoError(f.t, f.Store.InsertPlayer(context.Background(), p))
	return p
}

func (f *Fixtures) Queue(id string, maxPlayers int) models.Queue {
	q := models.Queue{
		ID:         id,
		ChannelRef: "vc-" + id,
		Name:       id,
		MaxPlayers: maxPlayers,
		MinRating:  0,
		MaxRating:  5000,
		Enabled:    true,
	}
	require.NoError(f.t, f.Registry.UpsertQueue(context.Background(), q))
	return q
}

// Party stores a party led by the first member.
func (f *Fixtures) Party(members ...string) *models.Party {
	p := &models.Party{ID: members[0], LeaderID: members[0], Members: members}
	require.NoError(f.t, f.Store.SaveParty(context.Background(), p))
	return p
}

func (f *Fixtures) GetPlayer(id string) *models.Player {
	p, err := f.Store.GetPlayer(context.Background(), id)
	require.NoError(f.t, err)
	return p
}
