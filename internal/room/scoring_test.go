package room

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

func TestScoreRanks(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t)
	params := city.Start(0, 0)

	players := []Player{
		{ID: "late", DisplayName: "Late", JoinedSeq: 2, IdeologyID: "i_half"},
		{ID: "second", DisplayName: "Second", JoinedSeq: 1, IdeologyID: "i_wel"},
		{ID: "first", DisplayName: "First", JoinedSeq: 0, IdeologyID: "i_eco"},
	}
	got := Score(players, params, cat)

	var order []string
	var ranks []int
	for _, s := range got {
		order = append(order, s.PlayerID)
		ranks = append(ranks, s.Rank)
	}
	assert.Equal(t, []string{"first", "second", "late"}, order)
	assert.Equal(t, []int{1, 1, 3}, ranks)
	assert.Equal(t, "Care", got[1].IdeologyName)
}

func TestScoreIsDeterministic(t *testing.T) {
	t.Parallel()
	cat := catalog.Default()
	params := city.Params{Economy: 73, Welfare: 12, Education: 55, Environment: 91, Security: 4, HumanRights: 60}

	var players []Player
	for i, id := range cat.IdeologyIDs() {
		players = append(players, Player{ID: id, JoinedSeq: i, IdeologyID: id})
	}
	assert.Equal(t, Score(players, params, cat), Score(players, params, cat))
}

func TestPointsUseHundredths(t *testing.T) {
	t.Parallel()
	params := city.Start(0, 0)
	// 0.1 + 0.2 is not 0.3 in floating point; in hundredths it is.
	a := Points(map[city.Dimension]float64{city.Economy: 0.1, city.Welfare: 0.2}, params)
	b := Points(map[city.Dimension]float64{city.Economy: 0.3}, params)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(1500), a)
	assert.Equal(t, int64(-500), Points(map[city.Dimension]float64{city.Security: -0.1}, params))
}

func TestScoreUnknownIdeology(t *testing.T) {
	t.Parallel()
	got := Score([]Player{{ID: "p", IdeologyID: "gone"}}, city.Start(0, 0), testCatalog(t))
	assert.Len(t, got, 1)
	assert.Zero(t, got[0].Score)
	assert.Equal(t, 1, got[0].Rank)
}
