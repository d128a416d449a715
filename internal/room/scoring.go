package room

import (
	"math"
	"sort"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// Score ranks players against the final city state. Each score is the dot
// product of the player's ideology coefficients and the params, computed in
// hundredths so equal scores compare exactly. Players are ordered by score
// descending, then by join order, and ranked with standard competition
// ranking: [10, 10, 5] ranks as [1, 1, 3].
func Score(players []Player, params city.Params, cat *catalog.Catalog) []PlayerScore {
	type line struct {
		PlayerScore
		points int64
		seq    int
	}

	lines := make([]line, 0, len(players))
	for _, p := range players {
		l := line{
			PlayerScore: PlayerScore{
				PlayerID:    p.ID,
				DisplayName: p.DisplayName,
				IdeologyID:  p.IdeologyID,
			},
			seq: p.JoinedSeq,
		}
		if ideo, ok := cat.Ideology(p.IdeologyID); ok {
			l.IdeologyName = ideo.Name
			l.points = Points(ideo.Coefficients, params)
		}
		l.Score = float64(l.points) / 100
		lines = append(lines, l)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].points != lines[j].points {
			return lines[i].points > lines[j].points
		}
		return lines[i].seq < lines[j].seq
	})

	out := make([]PlayerScore, len(lines))
	for i, l := range lines {
		l.Rank = i + 1
		if i > 0 && l.points == lines[i-1].points {
			l.Rank = out[i-1].Rank
		}
		out[i] = l.PlayerScore
	}
	return out
}

// Points returns an ideology's score in hundredths of a point.
func Points(coefficients map[city.Dimension]float64, params city.Params) int64 {
	var total int64
	for _, d := range city.Dimensions {
		c := int64(math.Round(coefficients[d] * 100))
		total += c * int64(params.Get(d))
	}
	return total
}
