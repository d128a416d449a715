package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	pol := func(id string, fx city.Effects) catalog.Policy {
		return catalog.Policy{
			ID:        id,
			Category:  catalog.CategoryEconomy,
			Title:     "Policy " + id,
			NewsFlash: "Policy " + id + " passes",
			Effects:   fx,
		}
	}
	cat, err := catalog.New(
		[]catalog.Policy{
			pol("A", city.Effects{city.Economy: 10}),
			pol("B", city.Effects{city.Welfare: -20}),
			pol("C", city.Effects{city.Security: 5}),
			pol("D", city.Effects{city.Environment: -60}),
			pol("E", city.Effects{city.Education: 3}),
			pol("F", city.Effects{city.HumanRights: -3}),
			pol("N", nil),
		},
		[]catalog.Ideology{
			{ID: "i_eco", Name: "Growth", Coefficients: map[city.Dimension]float64{city.Economy: 0.2}},
			{ID: "i_wel", Name: "Care", Coefficients: map[city.Dimension]float64{city.Welfare: 0.2}},
			{ID: "i_half", Name: "Moderate", Coefficients: map[city.Dimension]float64{city.Economy: 0.1}},
		},
	)
	require.NoError(t, err)
	return cat
}

func newRoom(t *testing.T, rules Rules) (*Room, *catalog.Catalog) {
	t.Helper()
	cat := testCatalog(t)
	require.NoError(t, rules.Validate())
	return New("room-1", 7, rules, cat, epoch), cat
}

// seated returns a room in VOTING with n players p1..pn, p1 hosting.
func seated(t *testing.T, n int, rules Rules) (*Room, *catalog.Catalog) {
	t.Helper()
	r, cat := newRoom(t, rules)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%d", i)
		_, _, err := r.Join(id, "caller-"+id, "Player "+id, cat)
		require.NoError(t, err)
		if i > 1 {
			require.NoError(t, r.SetReady(id, true))
		}
	}
	require.NoError(t, r.Start("p1"))
	return r, cat
}

func requireCode(t *testing.T, want apperr.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, apperr.CodeOf(err), err.Error())
}

func TestNewRoom(t *testing.T) {
	t.Parallel()
	r, cat := newRoom(t, DefaultRules())

	assert.Equal(t, Lobby, r.Phase)
	assert.Equal(t, 0, r.Turn)
	assert.Equal(t, 10, r.MaxTurns)
	assert.Equal(t, city.Start(0, 0), r.CityParams)
	assert.ElementsMatch(t, cat.PolicyIDs(), r.DeckIDs)
	assert.Equal(t, cat.Digest(), r.CatalogDigest)

	again := New("room-2", 7, DefaultRules(), cat, epoch)
	assert.Equal(t, r.DeckIDs, again.DeckIDs, "same seed deals the same deck")
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	r, cat := seated(t, 2, DefaultRules())
	require.NoError(t, r.CastVote("p1", r.CurrentPolicyIDs[0]))
	_, _, err := r.Resolve(true, cat)
	require.NoError(t, err)

	c := r.Clone()
	c.Votes["p2"] = "X"
	c.Players[0].DisplayName = "changed"
	c.LastResult.Tally["X"] = 9
	c.DeckIDs[0] = "X"

	assert.Empty(t, r.Votes["p2"])
	assert.Equal(t, "Player p1", r.Players[0].DisplayName)
	assert.NotContains(t, r.LastResult.Tally, "X")
	assert.NotEqual(t, "X", r.DeckIDs[0])
}

func TestJoin(t *testing.T) {
	t.Parallel()
	r, cat := newRoom(t, DefaultRules())

	p1, existing, err := r.Join("p1", "alice", "  Alice ", cat)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.True(t, p1.IsHost)
	assert.Equal(t, "Alice", p1.DisplayName)
	assert.Equal(t, 0, p1.JoinedSeq)

	p2, _, err := r.Join("p2", "bob", "Bob", cat)
	require.NoError(t, err)
	assert.False(t, p2.IsHost)
	assert.Equal(t, 1, p2.JoinedSeq)

	t.Run("replay returns the existing player", func(t *testing.T) {
		again, existing, err := r.Join("p9", "alice", "Someone else", cat)
		require.NoError(t, err)
		assert.True(t, existing)
		assert.Equal(t, p1, again)
		assert.Len(t, r.Players, 2)
	})

	t.Run("validation", func(t *testing.T) {
		_, _, err := r.Join("p3", "", "Carol", cat)
		requireCode(t, apperr.CodeUnauthenticated, err)
		_, _, err = r.Join("p3", "carol", "   ", cat)
		requireCode(t, apperr.CodeInvalidArgument, err)
		_, _, err = r.Join("p3", "carol", "abcdefghijklmnopqrstuvwxyzabcdefg", cat)
		requireCode(t, apperr.CodeInvalidArgument, err)
		assert.Len(t, r.Players, 2)
	})

	t.Run("full room", func(t *testing.T) {
		_, _, err := r.Join("p3", "carol", "Carol", cat)
		require.NoError(t, err)
		_, _, err = r.Join("p4", "dave", "Dave", cat)
		require.NoError(t, err)
		_, _, err = r.Join("p5", "erin", "Erin", cat)
		requireCode(t, apperr.CodeResourceExhausted, err)
	})
}

func TestJoinOutsideLobby(t *testing.T) {
	t.Parallel()
	r, cat := seated(t, 2, DefaultRules())

	_, _, err := r.Join("p3", "caller-p3", "Late", cat)
	requireCode(t, apperr.CodeInvalidTransition, err)

	p, existing, err := r.Join("p-other", "caller-p2", "Player p2", cat)
	require.NoError(t, err, "replays are answered in any phase")
	assert.True(t, existing)
	assert.Equal(t, "p2", p.ID)
}

func TestIdeologyDraw(t *testing.T) {
	t.Parallel()

	t.Run("without replacement hands out distinct ideologies", func(t *testing.T) {
		r, cat := newRoom(t, DefaultRules())
		seen := map[string]bool{}
		for i := 1; i <= 3; i++ {
			p, _, err := r.Join(fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i), "P", cat)
			require.NoError(t, err)
			assert.False(t, seen[p.IdeologyID], "ideology %s dealt twice", p.IdeologyID)
			seen[p.IdeologyID] = true
		}
		// Every ideology is taken; the fourth draws from the full set.
		p, _, err := r.Join("p4", "c4", "P", cat)
		require.NoError(t, err)
		assert.Contains(t, cat.IdeologyIDs(), p.IdeologyID)
	})

	t.Run("with replacement draws from the full set", func(t *testing.T) {
		rules := DefaultRules()
		rules.IdeologyDraw = DrawWithReplacement
		rules.MaxPlayers = 40
		r, cat := newRoom(t, rules)
		counts := map[string]int{}
		for i := 0; i < 40; i++ {
			p, _, err := r.Join(fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i), "P", cat)
			require.NoError(t, err)
			counts[p.IdeologyID]++
		}
		for id := range counts {
			assert.Contains(t, cat.IdeologyIDs(), id)
		}
		shared := false
		for _, n := range counts {
			shared = shared || n > 1
		}
		assert.True(t, shared, "40 players over 3 ideologies must share")
	})

	t.Run("draws replay from the seed", func(t *testing.T) {
		a, cat := newRoom(t, DefaultRules())
		b := New("room-1", 7, DefaultRules(), cat, epoch)
		for i := 0; i < 3; i++ {
			pa, _, err := a.Join(fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i), "P", cat)
			require.NoError(t, err)
			pb, _, err := b.Join(fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i), "P", cat)
			require.NoError(t, err)
			assert.Equal(t, pa.IdeologyID, pb.IdeologyID)
		}
	})
}

func TestLeave(t *testing.T) {
	t.Parallel()

	t.Run("host hands over to the earliest joiner", func(t *testing.T) {
		r, cat := newRoom(t, DefaultRules())
		for _, id := range []string{"p1", "p2", "p3"} {
			_, _, err := r.Join(id, "c-"+id, id, cat)
			require.NoError(t, err)
		}
		require.NoError(t, r.Leave("p1"))
		host, ok := r.Host()
		require.True(t, ok)
		assert.Equal(t, "p2", host.ID)
		assert.Len(t, r.Players, 2)
	})

	t.Run("leaving mid-game drops the vote", func(t *testing.T) {
		r, _ := seated(t, 3, DefaultRules())
		require.NoError(t, r.CastVote("p2", r.CurrentPolicyIDs[0]))
		require.NoError(t, r.Leave("p2"))
		assert.False(t, r.HasVoted("p2"))
		assert.Equal(t, 0, r.VotedCount())
	})

	t.Run("last player leaving empties the room", func(t *testing.T) {
		r, cat := newRoom(t, DefaultRules())
		_, _, err := r.Join("p1", "c1", "Solo", cat)
		require.NoError(t, err)
		require.NoError(t, r.Leave("p1"))
		assert.True(t, r.Empty())
		_, ok := r.Host()
		assert.False(t, ok)
	})

	t.Run("unknown player", func(t *testing.T) {
		r, _ := newRoom(t, DefaultRules())
		requireCode(t, apperr.CodeNotFound, r.Leave("ghost"))
	})
}

func TestReady(t *testing.T) {
	t.Parallel()
	r, cat := newRoom(t, DefaultRules())
	_, _, err := r.Join("p1", "c1", "One", cat)
	require.NoError(t, err)

	ready, err := r.ToggleReady("p1")
	require.NoError(t, err)
	assert.True(t, ready)
	ready, err = r.ToggleReady("p1")
	require.NoError(t, err)
	assert.False(t, ready)

	requireCode(t, apperr.CodeNotFound, r.SetReady("ghost", true))

	v, _ := seated(t, 2, DefaultRules())
	requireCode(t, apperr.CodeInvalidTransition, v.SetReady("p2", false))
}
