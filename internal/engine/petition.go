package engine

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/petition"
	"github.com/talgya/city-council/internal/room"
)

// MaxPetitionLength caps petition text, in runes.
const MaxPetitionLength = 500

// PetitionResult answers a petition.
type PetitionResult struct {
	Approved bool   `json:"approved"`
	PolicyID string `json:"policyId,omitempty"`
	Message  string `json:"message"`
}

// Petition files the caller's once-per-game petition. The oracle is asked
// between two store operations, never inside one: the room is read and
// checked, the oracle decides, and the outcome is committed with a fresh
// compare-and-swap that re-checks the phase, the turn and the petition flag.
func (s *Service) Petition(ctx context.Context, roomID, callerID, text string) (res PetitionResult, err error) {
	ctx, span := s.span(ctx, "Petition", roomID)
	defer func() { finish(span, err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return PetitionResult{}, apperr.New(apperr.CodeInvalidArgument, "petition text is required")
	}
	if utf8.RuneCountInString(text) > MaxPetitionLength {
		return PetitionResult{}, apperr.Newf(apperr.CodeInvalidArgument, "petition text is limited to %d characters", MaxPetitionLength)
	}

	cur, err := s.store.Get(ctx, roomID)
	if err != nil {
		return PetitionResult{}, err
	}
	p, err := member(cur, callerID)
	if err != nil {
		return PetitionResult{}, err
	}
	if err := cur.CheckPetition(p.ID); err != nil {
		return PetitionResult{}, err
	}
	turn := cur.Turn

	verdict := petition.Review(ctx, s.oracle, s.petitionRequest(cur, text), s.timeout)
	out := s.outcome(cur, verdict)

	var policyID string
	_, err = s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		id, err := r.CommitPetition(p.ID, turn, out, s.cat)
		if err != nil {
			return false, err
		}
		policyID = id
		return out.Approved || r.Rules.PetitionConsumption == room.ConsumeOnAttempt, nil
	})
	if err != nil {
		return PetitionResult{}, err
	}

	slog.Info("petition reviewed", "room", roomID, "player", p.ID, "turn", turn, "approved", out.Approved, "policy", policyID)
	return PetitionResult{Approved: out.Approved, PolicyID: policyID, Message: out.Message}, nil
}

// petitionRequest gathers what the oracle may see: the ballot as options,
// the already disclosed passed policies and the city.
func (s *Service) petitionRequest(r *room.Room, text string) petition.Request {
	v := r.View(s.cat, "")
	passed := make([]catalog.Policy, 0, len(r.PassedPolicyIDs))
	for _, id := range r.PassedPolicyIDs {
		if pol, ok := r.LookupPolicy(s.cat, id); ok {
			passed = append(passed, pol)
		}
	}
	return petition.Request{
		RoomID: r.ID,
		Text:   text,
		Ballot: v.CurrentPolicies,
		Passed: passed,
		Params: r.CityParams,
	}
}

// outcome turns a verdict into something the room can commit. An approval
// naming a policy the room cannot find is declined rather than failed.
func (s *Service) outcome(r *room.Room, v petition.Verdict) room.PetitionOutcome {
	if !v.Approved {
		return room.PetitionOutcome{Message: v.Message}
	}
	if v.Draft != nil {
		d := v.Draft
		pol := room.DraftPolicy(s.newPetitionID(), d.Title, d.Description, d.NewsFlash, d.Category, d.Effects)
		return room.PetitionOutcome{Approved: true, Draft: &pol, Message: v.Message}
	}
	if _, ok := r.LookupPolicy(s.cat, v.PolicyID); !ok {
		slog.Warn("petition approved an unknown policy", "room", r.ID, "policy", v.PolicyID, "code", apperr.CodeExternalFailure)
		return room.PetitionOutcome{Message: petition.MsgIncomplete}
	}
	return room.PetitionOutcome{Approved: true, PolicyID: v.PolicyID, Message: v.Message}
}
