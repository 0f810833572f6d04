package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/models"
	"rbw-core/internal/store"
)

func testBands() []models.RankBand {
	return []models.RankBand{
		{ID: "silver", MinRating: 100, MaxRating: 200, WinDelta: 20, LoseDelta: -15, MVPBonus: 5},
		{ID: "bronze", MinRating: 0, MaxRating: 100, WinDelta: 25, LoseDelta: -10, MVPBonus: 5},
		{ID: "gold", MinRating: 200, MaxRating: 0, WinDelta: 15, LoseDelta: -20, MVPBonus: 5},
	}
}

func TestBandFor_Boundaries(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemory(), zerolog.Nop())
	_, err := r.ConfigureBands(ctx, testBands())
	require.NoError(t, err)

	tests := []struct {
		rating int
		want   string
	}{
		{0, "bronze"},
		{99, "bronze"},
		{100, "silver"}, // max of bronze is exclusive
		{199, "silver"},
		{200, "gold"},
		{1_000_000, "gold"},
	}
	for _, tt := range tests {
		b, err := r.BandFor(ctx, tt.rating)
		require.NoError(t, err, tt.rating)
		assert.Equal(t, tt.want, b.ID, "rating %d", tt.rating)
	}
}

func TestBandFor_NotConfigured(t *testing.T) {
	r := New(store.NewMemory(), zerolog.Nop())
	_, err := r.BandFor(context.Background(), 50)
	assert.ErrorIs(t, err, models.ErrNotConfigured)
}

func TestConfigureBands_RejectsGapsAndOverlaps(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemory(), zerolog.Nop())

	gap := []models.RankBand{
		{ID: "a", MinRating: 0, MaxRating: 100, WinDelta: 1, LoseDelta: -1},
		{ID: "b", MinRating: 150, MaxRating: 0, WinDelta: 1, LoseDelta: -1},
	}
	_, err := r.ConfigureBands(ctx, gap)
	assert.ErrorIs(t, err, models.ErrValidation)

	overlap := []models.RankBand{
		{ID: "a", MinRating: 0, MaxRating: 100, WinDelta: 1, LoseDelta: -1},
		{ID: "b", MinRating: 50, MaxRating: 0, WinDelta: 1, LoseDelta: -1},
	}
	_, err = r.ConfigureBands(ctx, overlap)
	assert.ErrorIs(t, err, models.ErrValidation)

	notZero := []models.RankBand{
		{ID: "a", MinRating: 10, MaxRating: 0, WinDelta: 1, LoseDelta: -1},
	}
	_, err = r.ConfigureBands(ctx, notZero)
	assert.ErrorIs(t, err, models.ErrValidation)

	closedTop := []models.RankBand{
		{ID: "a", MinRating: 0, MaxRating: 100, WinDelta: 1, LoseDelta: -1},
	}
	_, err = r.ConfigureBands(ctx, closedTop)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBands_ReadThrough(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.ReplaceBands(ctx, testBands()))

	r := New(s, zerolog.Nop())
	bands, err := r.Bands(ctx)
	require.NoError(t, err)
	require.Len(t, bands, 3)
	assert.Equal(t, "bronze", bands[0].ID, "bands are sorted by minRating")
}

func TestQueues_InvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemory(), zerolog.Nop())

	_, err := r.Queue(ctx, "q1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, r.UpsertQueue(ctx, models.Queue{ID: "q1", MaxPlayers: 4, MinRating: 0, MaxRating: 1000, Enabled: true}))
	q, err := r.Queue(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 4, q.MaxPlayers)
	assert.Equal(t, "q1", q.ChannelRef)

	err = r.UpsertQueue(ctx, models.Queue{ID: "q2", MaxPlayers: 3, MinRating: 0, MaxRating: 10})
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, r.DeleteQueue(ctx, "q1"))
	_, err = r.Queue(ctx, "q1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRolesFor(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemory(), zerolog.Nop())

	roles, err := r.RolesFor(ctx, models.BindingBanned)
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, r.SetBinding(ctx, models.BindingBanned, []string{"role-banned"}))
	roles, err = r.RolesFor(ctx, models.BindingBanned)
	require.NoError(t, err)
	assert.Equal(t, []string{"role-banned"}, roles)
}
