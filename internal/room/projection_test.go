package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewKeepsSecrets(t *testing.T) {
	t.Parallel()
	r, cat := seated(t, 3, DefaultRules())
	r.CurrentPolicyIDs = []string{"A", "B", "C"}
	require.NoError(t, r.CastVote("p1", "C"))

	p1, _ := r.Player("p1")

	own := r.View(cat, "p1")
	require.NotNil(t, own.Me)
	require.NotNil(t, own.Me.Ideology)
	assert.Equal(t, p1.IdeologyID, own.Me.Ideology.ID)
	assert.Equal(t, "C", own.Me.CurrentVote)
	assert.True(t, own.Me.HasVoted)

	other := r.View(cat, "p2")
	require.NotNil(t, other.Me)
	assert.Empty(t, other.Me.CurrentVote)
	for _, p := range other.Players {
		if p.ID == "p1" {
			assert.True(t, p.HasVoted, "others see that p1 voted")
		}
	}

	raw, err := json.Marshal(other)
	require.NoError(t, err)
	body := string(raw)
	assert.NotContains(t, body, p1.IdeologyID)
	assert.NotContains(t, body, `"effects"`)
	assert.NotContains(t, body, `"voteDetails"`)
	assert.NotContains(t, body, `"currentVote"`)
	assert.NotContains(t, body, `"callerId"`)
	assert.NotContains(t, body, `"deckIds"`)

	spectator := r.View(cat, "")
	assert.Nil(t, spectator.Me)
	assert.Len(t, spectator.Players, 3)
}

func TestViewDisclosesAfterResolution(t *testing.T) {
	t.Parallel()
	r, cat := seated(t, 2, DefaultRules())
	r.CurrentPolicyIDs = []string{"A", "B", "C"}
	require.NoError(t, r.CastVote("p1", "A"))

	assert.Nil(t, r.View(cat, "p2").LastResult)

	require.NoError(t, r.CastVote("p2", "B"))
	_, _, err := r.Resolve(false, cat)
	require.NoError(t, err)

	v := r.View(cat, "p2")
	require.NotNil(t, v.LastResult)
	assert.Equal(t, "A", v.LastResult.PassedPolicyID)
	assert.Equal(t, "A", v.LastResult.VoteDetails["p1"])
	assert.Equal(t, []string{"A"}, []string{v.PassedPolicies[0].ID})
	assert.Nil(t, v.Scores)

	v.LastResult.VoteDetails["p1"] = "tampered"
	assert.Equal(t, "A", r.LastResult.VoteDetails["p1"], "views do not alias the room")
}

func TestViewScoresOnlyWhenFinished(t *testing.T) {
	t.Parallel()
	rules := DefaultRules()
	rules.MaxTurns = 1
	r, cat := seated(t, 2, rules)
	resolved(t, r, "N")

	v := r.View(cat, "p1")
	assert.True(t, v.IsGameOver)
	assert.Nil(t, v.Scores)

	_, err := r.NextTurn(cat)
	require.NoError(t, err)
	v = r.View(cat, "p1")
	assert.Len(t, v.Scores, 2)
	assert.NotNil(t, v.LastResult)
	assert.Empty(t, v.CurrentPolicies)
}

func TestViewCanStart(t *testing.T) {
	t.Parallel()
	r := lobby(t, DefaultRules(), "p1", "p2")
	assert.False(t, r.View(testCatalog(t), "p1").CanStart)
	require.NoError(t, r.SetReady("p2", true))
	assert.True(t, r.View(testCatalog(t), "p1").CanStart)
}
