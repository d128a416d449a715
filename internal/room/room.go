// Package room implements the room lifecycle: the phase state machine,
// membership, vote tally and resolution, end-of-game scoring and the
// player-facing projections of a room.
//
// Every operation validates its guards before touching state, so a failed
// call leaves the room exactly as it was. Callers persist the room with a
// version compare-and-swap after each successful operation.
package room

import (
	"math/rand"
	"time"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// Phase is a room's position in the game lifecycle.
type Phase string

const (
	Lobby    Phase = "LOBBY"
	Voting   Phase = "VOTING"
	Result   Phase = "RESULT"
	Finished Phase = "FINISHED"
)

// Player is one member's canonical record. It is never sent to clients
// directly; see PublicPlayer and OwnerPlayer.
type Player struct {
	ID             string `json:"id"`
	CallerID       string `json:"callerId"`
	DisplayName    string `json:"displayName"`
	IsHost         bool   `json:"isHost"`
	IsReady        bool   `json:"isReady"`
	IsPetitionUsed bool   `json:"isPetitionUsed"`
	JoinedSeq      int    `json:"joinedSeq"`
	IdeologyID     string `json:"ideologyId"`
}

// VoteResult is the disclosure record of one resolved turn.
type VoteResult struct {
	Turn              int               `json:"turn"`
	PassedPolicyID    string            `json:"passedPolicyId"`
	PassedPolicyTitle string            `json:"passedPolicyTitle"`
	ActualEffects     city.Effects      `json:"actualEffects"`
	NewsFlash         string            `json:"newsFlash"`
	VoteDetails       map[string]string `json:"voteDetails"`
	Tally             map[string]int    `json:"tally"`
	// CityImageURL is filled in after the fact when a city image was drawn.
	CityImageURL string `json:"cityImageUrl,omitempty"`
}

// PlayerScore is one line of the final standings.
type PlayerScore struct {
	PlayerID     string  `json:"playerId"`
	DisplayName  string  `json:"displayName"`
	IdeologyID   string  `json:"ideologyId"`
	IdeologyName string  `json:"ideologyName"`
	Score        float64 `json:"score"`
	Rank         int     `json:"rank"`
}

// Room is the aggregate root of one game.
type Room struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`

	Phase       Phase       `json:"phase"`
	Turn        int         `json:"turn"`
	MaxTurns    int         `json:"maxTurns"`
	CityParams  city.Params `json:"cityParams"`
	IsCollapsed bool        `json:"isCollapsed"`

	CurrentPolicyIDs []string          `json:"currentPolicyIds"`
	DeckIDs          []string          `json:"deckIds"`
	DiscardIDs       []string          `json:"discardIds"`
	PassedPolicyIDs  []string          `json:"passedPolicyIds"`
	Votes            map[string]string `json:"votes"`
	LastResult       *VoteResult       `json:"lastResult,omitempty"`

	Players []Player `json:"players"`
	NextSeq int      `json:"nextSeq"`

	// Policies drafted by approved petitions in this room, keyed by id.
	PetitionPolicies map[string]catalog.Policy `json:"petitionPolicies,omitempty"`

	Scores []PlayerScore `json:"scores,omitempty"`

	Rules         Rules     `json:"rules"`
	CatalogDigest string    `json:"catalogDigest"`
	Seed          int64     `json:"seed"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// New creates a room in LOBBY with a freshly shuffled deck.
func New(id string, seed int64, rules Rules, cat *catalog.Catalog, now time.Time) *Room {
	r := &Room{
		ID:               id,
		Phase:            Lobby,
		MaxTurns:         rules.MaxTurns,
		CityParams:       city.Start(seed, rules.StartJitter),
		CurrentPolicyIDs: []string{},
		DiscardIDs:       []string{},
		PassedPolicyIDs:  []string{},
		Votes:            map[string]string{},
		Players:          []Player{},
		Rules:            rules,
		CatalogDigest:    cat.Digest(),
		Seed:             seed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.DeckIDs = cat.PolicyIDs()
	rng := r.rng(saltDeck)
	rng.Shuffle(len(r.DeckIDs), func(i, j int) {
		r.DeckIDs[i], r.DeckIDs[j] = r.DeckIDs[j], r.DeckIDs[i]
	})
	return r
}

const (
	saltDeck      = 1 << 20
	saltJoin      = 1 << 24
	saltReshuffle = 1 << 28
)

// rng returns a generator derived from the room seed, so replaying a room
// from the same seed deals the same cards.
func (r *Room) rng(salt int64) *rand.Rand {
	return rand.New(rand.NewSource(r.Seed*31 + salt))
}

// Clone returns a deep copy. Operations run on a clone so a failed write
// never leaks a half-applied change.
func (r *Room) Clone() *Room {
	out := *r
	out.CurrentPolicyIDs = append([]string{}, r.CurrentPolicyIDs...)
	out.DeckIDs = append([]string{}, r.DeckIDs...)
	out.DiscardIDs = append([]string{}, r.DiscardIDs...)
	out.PassedPolicyIDs = append([]string{}, r.PassedPolicyIDs...)
	out.Votes = copyStrings(r.Votes)
	out.Players = append([]Player{}, r.Players...)
	if r.LastResult != nil {
		lr := *r.LastResult
		lr.ActualEffects = r.LastResult.ActualEffects.Clone()
		lr.VoteDetails = copyStrings(r.LastResult.VoteDetails)
		lr.Tally = make(map[string]int, len(r.LastResult.Tally))
		for k, v := range r.LastResult.Tally {
			lr.Tally[k] = v
		}
		out.LastResult = &lr
	}
	if r.PetitionPolicies != nil {
		out.PetitionPolicies = make(map[string]catalog.Policy, len(r.PetitionPolicies))
		for k, p := range r.PetitionPolicies {
			p.Effects = p.Effects.Clone()
			out.PetitionPolicies[k] = p
		}
	}
	if r.Scores != nil {
		out.Scores = append([]PlayerScore{}, r.Scores...)
	}
	return &out
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Player returns the member with the given player id.
func (r *Room) Player(id string) (Player, bool) {
	i := r.playerIndex(id)
	if i < 0 {
		return Player{}, false
	}
	return r.Players[i], true
}

// PlayerByCaller returns the member joined under the given caller identity.
func (r *Room) PlayerByCaller(callerID string) (Player, bool) {
	for _, p := range r.Players {
		if p.CallerID == callerID {
			return p, true
		}
	}
	return Player{}, false
}

func (r *Room) playerIndex(id string) int {
	for i, p := range r.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Host returns the current host, if any player remains.
func (r *Room) Host() (Player, bool) {
	for _, p := range r.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

// Empty reports whether every player has left. Empty rooms can be reaped.
func (r *Room) Empty() bool {
	return len(r.Players) == 0
}

// HasVoted reports whether the player has a vote in for the current turn.
func (r *Room) HasVoted(playerID string) bool {
	return r.Votes[playerID] != ""
}

// VotedCount returns how many current players have voted this turn.
func (r *Room) VotedCount() int {
	n := 0
	for _, p := range r.Players {
		if r.HasVoted(p.ID) {
			n++
		}
	}
	return n
}

// AllVoted reports whether every registered player has voted.
func (r *Room) AllVoted() bool {
	return len(r.Players) > 0 && r.VotedCount() == len(r.Players)
}

// IsGameOver reports whether the next transition out of RESULT finishes the game.
func (r *Room) IsGameOver() bool {
	return r.IsCollapsed || r.Turn >= r.MaxTurns
}

// LookupPolicy resolves a policy id against this room's petition policies
// first, then the catalog.
func (r *Room) LookupPolicy(cat *catalog.Catalog, id string) (catalog.Policy, bool) {
	if p, ok := r.PetitionPolicies[id]; ok {
		p.Effects = p.Effects.Clone()
		return p, true
	}
	return cat.Policy(id)
}

func (r *Room) onBallot(policyID string) bool {
	for _, id := range r.CurrentPolicyIDs {
		if id == policyID {
			return true
		}
	}
	return false
}

func (r *Room) requireMember(playerID string) (int, error) {
	i := r.playerIndex(playerID)
	if i < 0 {
		return -1, apperr.Newf(apperr.CodeNotFound, "player %s is not in room %s", playerID, r.ID)
	}
	return i, nil
}

func (r *Room) invalid(op string) error {
	return apperr.InvalidTransition(op, string(r.Phase))
}

// Summary is the admin-facing digest of a room.
type Summary struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	Turn      int       `json:"turn"`
	MaxTurns  int       `json:"maxTurns"`
	Players   int       `json:"players"`
	Voted     int       `json:"voted"`
	Collapsed bool      `json:"collapsed"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summarize returns the room's admin digest.
func (r *Room) Summarize() Summary {
	return Summary{
		ID:        r.ID,
		Phase:     r.Phase,
		Turn:      r.Turn,
		MaxTurns:  r.MaxTurns,
		Players:   len(r.Players),
		Voted:     r.VotedCount(),
		Collapsed: r.IsCollapsed,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
