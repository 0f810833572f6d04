package party

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/models"
	"rbw-core/internal/testsetup"
)

type harness struct {
	svc   *Service
	f     *testsetup.Fixtures
	host  *testsetup.FakeHost
	clock *clock.Fake
}

func newHarness(t *testing.T) *harness {
	f := testsetup.NewFixtures(t)
	h := testsetup.NewFakeHost()
	clk := clock.NewFake(time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC))
	svc := NewService(Config{
		SizeMax:         3,
		InviteTimeout:   time.Minute,
		InactiveTimeout: 30 * time.Minute,
		SweepInterval:   time.Minute,
	}, f.Store, h, clk, testsetup.Logger(t))
	return &harness{svc: svc, f: f, host: h, clock: clk}
}

func (h *harness) join(t *testing.T, leader string, members ...string) {
	ctx := context.Background()
	for _, m := range members {
		_, err := h.svc.Invite(ctx, leader, m)
		require.NoError(t, err)
		_, err = h.svc.Accept(ctx, m, leader)
		require.NoError(t, err)
	}
}

func TestInviteAccept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.f.Player("L", 1000)
	h.f.Player("M", 1200)

	p, err := h.svc.Invite(ctx, "L", "M")
	require.NoError(t, err)
	assert.Equal(t, "L", p.ID)
	require.Len(t, h.host.NoticesOf(host.NoticePartyInvite), 1)
	assert.Equal(t, []string{"M"}, h.host.NoticesOf(host.NoticePartyInvite)[0].PlayerIDs)

	p, err = h.svc.Accept(ctx, "M", "L")
	require.NoError(t, err)
	assert.Equal(t, []string{"L", "M"}, p.Members)
	assert.Equal(t, 1100, p.AggregateRating)
	assert.Empty(t, p.Invites)

	_, err = h.svc.Accept(ctx, "M", "L")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInviteRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"L", "A", "B", "C", "Shy", "Grump", "Other"} {
		h.f.Player(id, 1000)
	}
	shy := false
	require.NoError(t, h.f.Store.UpdatePlayer(ctx, "Shy", models.PlayerPatch{Settings: &models.PlayerSettings{AllowPartyInvites: shy}}))
	require.NoError(t, h.svc.AddIgnore(ctx, "Grump", "L"))
	_, err := h.svc.Create(ctx, "Other")
	require.NoError(t, err)

	_, err = h.svc.Invite(ctx, "L", "L")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.svc.Invite(ctx, "L", "Shy")
	assert.ErrorIs(t, err, models.ErrPolicyViolation)
	_, err = h.svc.Invite(ctx, "L", "Grump")
	assert.ErrorIs(t, err, models.ErrPolicyViolation)
	_, err = h.svc.Invite(ctx, "L", "Other")
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = h.svc.Invite(ctx, "L", "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)

	h.join(t, "L", "A", "B")
	_, err = h.svc.Invite(ctx, "L", "C")
	assert.ErrorIs(t, err, models.ErrPolicyViolation)
	_, err = h.svc.Invite(ctx, "A", "C")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	require.NoError(t, h.svc.RemoveIgnore(ctx, "Grump", "L"))
	assert.Empty(t, h.f.GetPlayer("Grump").Settings.PartyIgnores)
}

func TestInviteExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.f.Player("L", 1000)
	h.f.Player("M", 1000)

	_, err := h.svc.Invite(ctx, "L", "M")
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	_, err = h.svc.Accept(ctx, "M", "L")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLeaderLeavingDisbands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"L", "A", "B"} {
		h.f.Player(id, 1000)
	}
	h.join(t, "L", "A", "B")

	require.NoError(t, h.svc.Leave(ctx, "A"))
	p, err := h.svc.Get(ctx, "L")
	require.NoError(t, err)
	assert.Equal(t, []string{"L", "B"}, p.Members)

	require.NoError(t, h.svc.Leave(ctx, "L"))
	_, err = h.svc.Get(ctx, "B")
	assert.ErrorIs(t, err, models.ErrNotFound)
	notices := h.host.NoticesOf(host.NoticePartyDisband)
	require.Len(t, notices, 1)
	assert.ElementsMatch(t, []string{"L", "B"}, notices[0].PlayerIDs)
}

func TestKickPromotePrivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"L", "A", "B"} {
		h.f.Player(id, 1000)
	}
	h.join(t, "L", "A", "B")

	_, err := h.svc.Kick(ctx, "A", "B")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	p, err := h.svc.Kick(ctx, "L", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"L", "A"}, p.Members)

	p, err = h.svc.PromoteLeader(ctx, "L", "A")
	require.NoError(t, err)
	assert.Equal(t, "A", p.ID)
	assert.Equal(t, "A", p.LeaderID)
	assert.Equal(t, []string{"A", "L"}, p.Members)
	_, err = h.f.Store.GetParty(ctx, "L")
	assert.ErrorIs(t, err, models.ErrNotFound)

	p, err = h.svc.SetPrivate(ctx, "A", true)
	require.NoError(t, err)
	assert.True(t, p.IsPrivate)
	_, err = h.svc.SetPrivate(ctx, "L", false)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestWarpMembersTo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.f.Player("L", 1000)
	h.f.Player("A", 1000)
	h.join(t, "L", "A")

	moved, err := h.svc.WarpMembersTo(ctx, "L", "vc-4v4")
	require.NoError(t, err)
	assert.Equal(t, []string{"L", "A"}, moved)
	assert.Len(t, h.host.VoiceMoves(), 2)
}

func TestDisbandInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"L", "A", "K", "B"} {
		h.f.Player(id, 1000)
	}
	h.join(t, "L", "A")
	h.clock.Advance(20 * time.Minute)
	h.join(t, "K", "B")
	h.clock.Advance(15 * time.Minute)

	n, err := h.svc.DisbandInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.svc.Get(ctx, "A")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = h.svc.Get(ctx, "B")
	assert.NoError(t, err)
}

// Random operation sequences never leave an empty or leaderless party, nor
// a player in two parties.
func TestPartyInvariants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
		h.f.Player(ids[i], 1000+i)
	}
	rng := rand.New(rand.NewSource(7))
	pick := func() string { return ids[rng.Intn(len(ids))] }

	for step := 0; step < 500; step++ {
		a, b := pick(), pick()
		switch rng.Intn(6) {
		case 0:
			_, _ = h.svc.Invite(ctx, a, b)
		case 1:
			if p, err := h.svc.Get(ctx, b); err == nil {
				_, _ = h.svc.Accept(ctx, a, p.LeaderID)
			}
		case 2:
			_ = h.svc.Leave(ctx, a)
		case 3:
			_, _ = h.svc.Kick(ctx, a, b)
		case 4:
			_, _ = h.svc.PromoteLeader(ctx, a, b)
		case 5:
			_ = h.svc.Disband(ctx, a)
		}

		parties, err := h.f.Store.FindParties(ctx, models.PartyQuery{})
		require.NoError(t, err)
		seen := map[string]string{}
		for _, p := range parties {
			require.NotEmpty(t, p.Members, "step %d", step)
			require.Equal(t, p.ID, p.LeaderID, "step %d", step)
			require.Contains(t, p.Members, p.LeaderID, "step %d", step)
			require.LessOrEqual(t, len(p.Members), 3, "step %d", step)
			for _, m := range p.Members {
				other, dup := seen[m]
				require.False(t, dup, "step %d: %s in %s and %s", step, m, other, p.ID)
				seen[m] = p.ID
			}
		}
	}
}
