package room

import (
	"time"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// PublicPlayer is what every member may see about a player.
type PublicPlayer struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	IsHost         bool   `json:"isHost"`
	IsReady        bool   `json:"isReady"`
	HasVoted       bool   `json:"hasVoted"`
	IsPetitionUsed bool   `json:"isPetitionUsed"`
}

// IdeologyView is a player's own ideology as shown to them.
type IdeologyView struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	Coefficients map[city.Dimension]float64 `json:"coefficients"`
}

// OwnerPlayer is a player's own record: the public fields plus their
// ideology and current vote.
type OwnerPlayer struct {
	PublicPlayer
	Ideology    *IdeologyView `json:"ideology,omitempty"`
	CurrentVote string        `json:"currentVote,omitempty"`
}

// View is one caller's picture of a room. It is the only room shape that
// leaves the server.
type View struct {
	ID          string      `json:"id"`
	Version     int64       `json:"version"`
	Phase       Phase       `json:"phase"`
	Turn        int         `json:"turn"`
	MaxTurns    int         `json:"maxTurns"`
	CityParams  city.Params `json:"cityParams"`
	IsCollapsed bool        `json:"isCollapsed"`
	IsGameOver  bool        `json:"isGameOver"`

	CurrentPolicies []catalog.Option `json:"currentPolicies"`
	PassedPolicies  []catalog.Option `json:"passedPolicies"`

	Me         *OwnerPlayer   `json:"me,omitempty"`
	Players    []PublicPlayer `json:"players"`
	VotedCount int            `json:"votedCount"`
	CanStart   bool           `json:"canStart"`

	LastResult *VoteResult   `json:"lastResult,omitempty"`
	Scores     []PlayerScore `json:"scores,omitempty"`

	Rules     Rules     `json:"rules"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public projects a player for any reader.
func (r *Room) Public(p Player) PublicPlayer {
	return PublicPlayer{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		IsHost:         p.IsHost,
		IsReady:        p.IsReady,
		HasVoted:       r.HasVoted(p.ID),
		IsPetitionUsed: p.IsPetitionUsed,
	}
}

// Owner projects a player for themselves.
func (r *Room) Owner(p Player, cat *catalog.Catalog) OwnerPlayer {
	out := OwnerPlayer{
		PublicPlayer: r.Public(p),
		CurrentVote:  r.Votes[p.ID],
	}
	if ideo, ok := cat.Ideology(p.IdeologyID); ok {
		out.Ideology = &IdeologyView{
			ID:           ideo.ID,
			Name:         ideo.Name,
			Description:  ideo.Description,
			Coefficients: ideo.Coefficients,
		}
	}
	return out
}

// View builds the room as seen by callerPlayerID. Unknown or empty callers
// get the spectator view with no owner record. Policy effects appear only
// inside a disclosed VoteResult, and the vote map only after resolution.
func (r *Room) View(cat *catalog.Catalog, callerPlayerID string) View {
	v := View{
		ID:              r.ID,
		Version:         r.Version,
		Phase:           r.Phase,
		Turn:            r.Turn,
		MaxTurns:        r.MaxTurns,
		CityParams:      r.CityParams,
		IsCollapsed:     r.IsCollapsed,
		IsGameOver:      r.Phase == Finished || (r.Phase == Result && r.IsGameOver()),
		CurrentPolicies: r.options(cat, r.CurrentPolicyIDs),
		PassedPolicies:  r.options(cat, r.PassedPolicyIDs),
		Players:         make([]PublicPlayer, 0, len(r.Players)),
		VotedCount:      r.VotedCount(),
		Rules:           r.Rules,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.Phase == Lobby {
		v.CanStart, _ = r.CanStart()
	}

	for _, p := range r.Players {
		v.Players = append(v.Players, r.Public(p))
		if callerPlayerID != "" && p.ID == callerPlayerID {
			own := r.Owner(p, cat)
			v.Me = &own
		}
	}

	if (r.Phase == Result || r.Phase == Finished) && r.LastResult != nil {
		v.LastResult = r.Clone().LastResult
	}
	if r.Phase == Finished {
		v.Scores = append([]PlayerScore{}, r.Scores...)
	}
	return v
}

func (r *Room) options(cat *catalog.Catalog, ids []string) []catalog.Option {
	out := make([]catalog.Option, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.LookupPolicy(cat, id); ok {
			out = append(out, p.Option())
		}
	}
	return out
}
