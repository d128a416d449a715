package room

import (
	"strconv"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
)

// Start moves LOBBY → VOTING. Only the host may start, the room must hold at
// least MinPlayers and the start gate must pass. The turn-1 ballot is drawn
// from the deck and all votes are cleared.
func (r *Room) Start(callerPlayerID string) error {
	if r.Phase != Lobby {
		return r.invalid("start")
	}
	p, ok := r.Player(callerPlayerID)
	if !ok || !p.IsHost {
		return apperr.New(apperr.CodeUnauthorized, "only the host can start the game")
	}
	if ok, reason := r.CanStart(); !ok {
		return apperr.WithMetadata(apperr.CodeInvalidTransition, "cannot start: "+reason,
			map[string]string{"operation": "start", "phase": string(r.Phase), "reason": reason})
	}
	if len(r.DeckIDs) < r.Rules.BallotSize {
		return apperr.New(apperr.CodeResourceExhausted, "deck is smaller than one ballot")
	}

	r.drawBallot()
	r.Turn = 1
	r.Votes = map[string]string{}
	r.LastResult = nil
	r.Phase = Voting
	return nil
}

// NextTurn leaves RESULT. If the city collapsed or the last turn was played
// the room finishes and is scored; otherwise the next ballot is drawn and
// the room returns to VOTING. finished reports which branch was taken.
func (r *Room) NextTurn(cat *catalog.Catalog) (finished bool, err error) {
	if r.Phase != Result {
		return false, r.invalid("advance turn")
	}
	if r.IsGameOver() {
		r.finish(cat)
		return true, nil
	}

	if len(r.DeckIDs) < r.Rules.BallotSize {
		switch r.Rules.DeckExhaustion {
		case DeckFail:
			return false, apperr.WithMetadata(apperr.CodeResourceExhausted, "deck exhausted",
				map[string]string{"deck": strconv.Itoa(len(r.DeckIDs)), "ballotSize": strconv.Itoa(r.Rules.BallotSize)})
		case DeckEndEarly:
			r.finish(cat)
			return true, nil
		default:
			r.reshuffle()
			if len(r.DeckIDs) < r.Rules.BallotSize {
				r.finish(cat)
				return true, nil
			}
		}
	}

	r.drawBallot()
	r.Turn++
	r.Votes = map[string]string{}
	r.LastResult = nil
	r.Phase = Voting
	return false, nil
}

// drawBallot moves the top BallotSize cards of the deck onto the ballot.
// Callers check the deck is large enough.
func (r *Room) drawBallot() {
	n := r.Rules.BallotSize
	r.CurrentPolicyIDs = append([]string{}, r.DeckIDs[:n]...)
	r.DeckIDs = append([]string{}, r.DeckIDs[n:]...)
}

// reshuffle shuffles the discards and puts them under the remaining deck.
func (r *Room) reshuffle() {
	pile := append([]string{}, r.DiscardIDs...)
	rng := r.rng(saltReshuffle + int64(r.Turn))
	rng.Shuffle(len(pile), func(i, j int) { pile[i], pile[j] = pile[j], pile[i] })
	r.DeckIDs = append(r.DeckIDs, pile...)
	r.DiscardIDs = []string{}
}

// finish freezes the room and computes the standings. It runs once: the
// phase guard in NextTurn keeps it from being reached again.
func (r *Room) finish(cat *catalog.Catalog) {
	r.Scores = Score(r.Players, r.CityParams, cat)
	r.CurrentPolicyIDs = []string{}
	r.Phase = Finished
}
