package room

import "fmt"

// StartGate decides who must be ready before the host can start.
type StartGate string

const (
	// GateAllReady requires every non-host player to be ready. The host's
	// start request counts as the host's own readiness.
	GateAllReady StartGate = "all_ready"
	// GateHostOverride lets the host start regardless of readiness.
	GateHostOverride StartGate = "host_override"
)

// DeckExhaustion decides what happens when the deck cannot fill a ballot.
type DeckExhaustion string

const (
	// DeckReshuffle shuffles the discards back under the deck. If the pool is
	// still too small the game ends early.
	DeckReshuffle DeckExhaustion = "reshuffle"
	// DeckEndEarly finishes the game as soon as a ballot cannot be filled.
	DeckEndEarly DeckExhaustion = "end_early"
	// DeckFail refuses the next turn with a resource-exhausted error.
	DeckFail DeckExhaustion = "fail"
)

// IdeologyDraw decides whether two players may share an ideology.
type IdeologyDraw string

const (
	// DrawWithoutReplacement hands out distinct ideologies until every one is
	// taken, then draws from the full set again.
	DrawWithoutReplacement IdeologyDraw = "without_replacement"
	DrawWithReplacement    IdeologyDraw = "with_replacement"
)

// PetitionConsumption decides when a player's one petition is spent.
type PetitionConsumption string

const (
	ConsumeOnAttempt  PetitionConsumption = "on_attempt"
	ConsumeOnApproval PetitionConsumption = "on_approval"
)

// Rules are the per-room game settings. A copy is stored on every room so a
// rules change never alters a game in progress.
type Rules struct {
	StartGate           StartGate           `json:"startGate" yaml:"startGate"`
	DeckExhaustion      DeckExhaustion      `json:"deckExhaustion" yaml:"deckExhaustion"`
	IdeologyDraw        IdeologyDraw        `json:"ideologyDraw" yaml:"ideologyDraw"`
	PetitionConsumption PetitionConsumption `json:"petitionConsumption" yaml:"petitionConsumption"`
	MinPlayers          int                 `json:"minPlayers" yaml:"minPlayers"`
	MaxPlayers          int                 `json:"maxPlayers" yaml:"maxPlayers"`
	MaxTurns            int                 `json:"maxTurns" yaml:"maxTurns"`
	BallotSize          int                 `json:"ballotSize" yaml:"ballotSize"`
	StartJitter         int                 `json:"startJitter" yaml:"startJitter"`
}

// DefaultRules returns the standard game settings.
func DefaultRules() Rules {
	return Rules{
		StartGate:           GateAllReady,
		DeckExhaustion:      DeckReshuffle,
		IdeologyDraw:        DrawWithoutReplacement,
		PetitionConsumption: ConsumeOnAttempt,
		MinPlayers:          2,
		MaxPlayers:          4,
		MaxTurns:            10,
		BallotSize:          3,
		StartJitter:         0,
	}
}

// Validate checks that every rule has a known value and sane bounds.
func (r Rules) Validate() error {
	switch r.StartGate {
	case GateAllReady, GateHostOverride:
	default:
		return fmt.Errorf("unknown startGate %q", r.StartGate)
	}
	switch r.DeckExhaustion {
	case DeckReshuffle, DeckEndEarly, DeckFail:
	default:
		return fmt.Errorf("unknown deckExhaustion %q", r.DeckExhaustion)
	}
	switch r.IdeologyDraw {
	case DrawWithoutReplacement, DrawWithReplacement:
	default:
		return fmt.Errorf("unknown ideologyDraw %q", r.IdeologyDraw)
	}
	switch r.PetitionConsumption {
	case ConsumeOnAttempt, ConsumeOnApproval:
	default:
		return fmt.Errorf("unknown petitionConsumption %q", r.PetitionConsumption)
	}
	if r.MinPlayers < 1 {
		return fmt.Errorf("minPlayers must be at least 1")
	}
	if r.MaxPlayers < r.MinPlayers {
		return fmt.Errorf("maxPlayers (%d) below minPlayers (%d)", r.MaxPlayers, r.MinPlayers)
	}
	if r.MaxTurns < 1 {
		return fmt.Errorf("maxTurns must be at least 1")
	}
	if r.BallotSize < 1 {
		return fmt.Errorf("ballotSize must be at least 1")
	}
	if r.StartJitter < 0 || r.StartJitter > 40 {
		return fmt.Errorf("startJitter must be within [0, 40]")
	}
	return nil
}
