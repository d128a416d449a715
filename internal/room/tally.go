package room

import (
	"sort"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// AdjournedNewsFlash is the headline of a turn in which nobody voted.
const AdjournedNewsFlash = "The council adjourned without a quorum. No policy passed this term."

// CastVote records a player's choice for the current turn. Re-voting
// overwrites the earlier choice.
func (r *Room) CastVote(playerID, policyID string) error {
	if r.Phase != Voting {
		return r.invalid("vote")
	}
	if _, err := r.requireMember(playerID); err != nil {
		return err
	}
	if !r.onBallot(policyID) {
		return apperr.WithMetadata(apperr.CodeNotFound, "policy is not on the current ballot",
			map[string]string{"policyId": policyID})
	}
	r.Votes[playerID] = policyID
	return nil
}

// Resolve tallies the current turn and moves VOTING → RESULT.
//
// Without force every registered player must have voted. Missing votes count
// as abstentions. The ballot policy with the strictly highest count passes;
// ties go to the lowest policy id. If nobody voted, no policy passes and the
// city is unchanged.
//
// Resolve is idempotent: in RESULT or FINISHED it returns the stored result
// with fresh=false and changes nothing.
func (r *Room) Resolve(force bool, cat *catalog.Catalog) (res *VoteResult, fresh bool, err error) {
	if (r.Phase == Result || r.Phase == Finished) && r.LastResult != nil {
		return r.LastResult, false, nil
	}
	if r.Phase != Voting {
		return nil, false, r.invalid("resolve")
	}
	if !force && !r.AllVoted() {
		return nil, false, apperr.WithMetadata(apperr.CodeInvalidTransition, "waiting for votes",
			map[string]string{"operation": "resolve", "phase": string(r.Phase), "reason": "not all players have voted"})
	}

	tally := r.Tally()
	winner := Winner(r.CurrentPolicyIDs, tally)

	res = &VoteResult{
		Turn:        r.Turn,
		VoteDetails: make(map[string]string, len(r.Votes)),
		Tally:       tally,
	}
	for _, p := range r.Players {
		if v := r.Votes[p.ID]; v != "" {
			res.VoteDetails[p.ID] = v
		}
	}

	if winner == "" {
		res.ActualEffects = city.Zero()
		res.NewsFlash = AdjournedNewsFlash
	} else {
		policy, ok := r.LookupPolicy(cat, winner)
		if !ok {
			return nil, false, apperr.Newf(apperr.CodeNotFound, "policy %s missing from catalog", winner)
		}
		res.PassedPolicyID = policy.ID
		res.PassedPolicyTitle = policy.Title
		res.ActualEffects = policy.Effects.Bounded(city.Ceiling)
		res.NewsFlash = policy.NewsFlash
		r.CityParams = r.CityParams.Apply(policy.Effects)
		r.IsCollapsed = r.CityParams.Collapsed()
		r.PassedPolicyIDs = append(r.PassedPolicyIDs, policy.ID)
	}

	for _, id := range r.CurrentPolicyIDs {
		if id != winner {
			r.DiscardIDs = append(r.DiscardIDs, id)
		}
	}
	r.LastResult = res
	r.Phase = Result
	return res, true, nil
}

// Tally counts the current votes per ballot policy. Every ballot policy is
// present, with zero if nobody chose it.
func (r *Room) Tally() map[string]int {
	tally := make(map[string]int, len(r.CurrentPolicyIDs))
	for _, id := range r.CurrentPolicyIDs {
		tally[id] = 0
	}
	for _, p := range r.Players {
		v := r.Votes[p.ID]
		if _, ok := tally[v]; ok && v != "" {
			tally[v]++
		}
	}
	return tally
}

// Winner picks the ballot policy with the most votes. Ties go to the lowest
// policy id in byte order. It returns "" when no policy received a vote. The
// result depends only on the counts, never on the order votes arrived.
func Winner(ballot []string, tally map[string]int) string {
	ids := append([]string{}, ballot...)
	sort.Strings(ids)

	best, bestCount := "", 0
	for _, id := range ids {
		if c := tally[id]; c > bestCount {
			best, bestCount = id, c
		}
	}
	return best
}
