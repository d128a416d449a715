package room

import (
	"strings"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// PetitionEffectLimit bounds every delta of a drafted petition policy.
const PetitionEffectLimit = 30

// PetitionIDPrefix marks policies drafted by petitions.
const PetitionIDPrefix = "petition_"

// PetitionOutcome is the reviewed result of one petition, ready to commit.
// An approved outcome carries either the id of an existing policy or a
// drafted policy.
type PetitionOutcome struct {
	Approved bool
	PolicyID string
	Draft    *catalog.Policy
	Message  string
}

// CheckPetition reports whether the player may petition now. It is called
// before the oracle is consulted and again, through CommitPetition, after.
func (r *Room) CheckPetition(playerID string) error {
	if r.Phase != Voting {
		return r.invalid("petition")
	}
	i, err := r.requireMember(playerID)
	if err != nil {
		return err
	}
	if r.Players[i].IsPetitionUsed {
		return apperr.New(apperr.CodeResourceExhausted, "petition already used")
	}
	return nil
}

// CommitPetition applies a reviewed petition. turn is the turn the petition
// was filed in; if the room has moved on since, the outcome is discarded and
// the petition is not spent.
//
// An approved policy is added to the ballot if it is not already there.
// Under ConsumeOnAttempt the petition is spent either way; under
// ConsumeOnApproval only when approved. It returns the id of the policy on
// the ballot, or "" when declined.
func (r *Room) CommitPetition(playerID string, turn int, out PetitionOutcome, cat *catalog.Catalog) (string, error) {
	if err := r.CheckPetition(playerID); err != nil {
		return "", err
	}
	if r.Turn != turn {
		return "", apperr.WithMetadata(apperr.CodeInvalidTransition, "turn moved on while the petition was reviewed",
			map[string]string{"operation": "petition", "phase": string(r.Phase)})
	}
	i := r.playerIndex(playerID)

	policyID := ""
	if out.Approved {
		switch {
		case out.Draft != nil:
			draft := *out.Draft
			draft.Effects = draft.Effects.Bounded(PetitionEffectLimit)
			if r.PetitionPolicies == nil {
				r.PetitionPolicies = map[string]catalog.Policy{}
			}
			r.PetitionPolicies[draft.ID] = draft
			policyID = draft.ID
		default:
			if _, ok := r.LookupPolicy(cat, out.PolicyID); !ok {
				return "", apperr.Newf(apperr.CodeNotFound, "policy %s not found", out.PolicyID)
			}
			policyID = out.PolicyID
		}
		if !r.onBallot(policyID) {
			r.CurrentPolicyIDs = append(r.CurrentPolicyIDs, policyID)
			r.removeFromDeck(policyID)
		}
	}

	if out.Approved || r.Rules.PetitionConsumption == ConsumeOnAttempt {
		r.Players[i].IsPetitionUsed = true
	}
	return policyID, nil
}

// removeFromDeck keeps a petitioned catalog card from being dealt again.
// A card already discarded leaves the discard pile too, so it is discarded
// at most once when it loses.
func (r *Room) removeFromDeck(policyID string) {
	r.DeckIDs = without(r.DeckIDs, policyID)
	r.DiscardIDs = without(r.DiscardIDs, policyID)
}

func without(ids []string, policyID string) []string {
	for i, id := range ids {
		if id == policyID {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// DraftPolicy builds a petition policy. Effects are limited to
// PetitionEffectLimit and an unknown category is replaced by the one for the
// dimension the policy moves most.
func DraftPolicy(id, title, description, newsFlash string, category catalog.Category, effects city.Effects) catalog.Policy {
	fx := effects.Bounded(PetitionEffectLimit)
	if !category.Valid() {
		category = catalog.CategoryOf(dominant(fx))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Citizen petition"
	}
	if strings.TrimSpace(newsFlash) == "" {
		newsFlash = "The council adopts a measure brought by citizen petition: " + title + "."
	}
	return catalog.Policy{
		ID:          id,
		Category:    category,
		Title:       title,
		Description: strings.TrimSpace(description),
		NewsFlash:   newsFlash,
		Effects:     fx,
	}
}

func dominant(fx city.Effects) city.Dimension {
	best, bestAbs := city.Economy, -1
	for _, d := range city.Dimensions {
		v := fx[d]
		if v < 0 {
			v = -v
		}
		if v > bestAbs {
			best, bestAbs = d, v
		}
	}
	return best
}
