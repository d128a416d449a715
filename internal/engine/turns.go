package engine

import (
	"context"
	"log/slog"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/city"
	"github.com/talgya/city-council/internal/room"
)

// VoteOutcome answers a vote. When the vote was the last one missing the
// turn is resolved on the spot and Result carries the resolution.
type VoteOutcome struct {
	Success    bool           `json:"success"`
	AllVoted   bool           `json:"allVoted"`
	Resolved   bool           `json:"resolved"`
	IsGameOver bool           `json:"isGameOver"`
	Result     *ResolveResult `json:"result,omitempty"`
}

// Vote records the caller's ballot choice and resolves the turn once every
// player has voted. A failed resolution does not undo the vote; the turn is
// left for a later resolve call.
func (s *Service) Vote(ctx context.Context, roomID, callerID, policyID string) (out VoteOutcome, err error) {
	ctx, span := s.span(ctx, "Vote", roomID)
	defer func() { finish(span, err) }()

	if policyID == "" {
		return VoteOutcome{}, apperr.New(apperr.CodeInvalidArgument, "policyId is required")
	}
	r, err := s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		p, err := member(r, callerID)
		if err != nil {
			return false, err
		}
		if r.Votes[p.ID] == policyID && r.Phase == room.Voting {
			return false, nil
		}
		return true, r.CastVote(p.ID, policyID)
	})
	if err != nil {
		return VoteOutcome{}, err
	}

	out = VoteOutcome{Success: true, AllVoted: r.Phase == room.Voting && r.AllVoted()}
	if !out.AllVoted {
		return out, nil
	}
	res, err := s.resolve(ctx, roomID, false, func(*room.Room) error { return nil })
	if err != nil {
		slog.Warn("automatic resolve failed", "room", roomID, "code", apperr.CodeOf(err), "error", err)
		return out, nil
	}
	out.Resolved = true
	out.IsGameOver = res.IsGameOver
	out.Result = &res
	return out, nil
}

// ResolveResult answers a resolution.
type ResolveResult struct {
	Status     room.Phase       `json:"status"`
	LastResult *room.VoteResult `json:"lastResult"`
	CityParams city.Params      `json:"cityParams"`
	IsGameOver bool             `json:"isGameOver"`
}

// Resolve tallies the current turn. force skips the wait for missing votes
// and is reserved for the host. Repeated calls return the cached result to
// any member, forced or not.
func (s *Service) Resolve(ctx context.Context, roomID, callerID string, force bool) (res ResolveResult, err error) {
	ctx, span := s.span(ctx, "Resolve", roomID)
	defer func() { finish(span, err) }()

	return s.resolve(ctx, roomID, force, func(r *room.Room) error {
		p, err := member(r, callerID)
		if err != nil {
			return err
		}
		if force && !p.IsHost && r.Phase == room.Voting {
			return apperr.New(apperr.CodeUnauthorized, "only the host can force a resolution")
		}
		return nil
	})
}

// ForceResolve resolves a turn on behalf of an operator, without waiting for
// missing votes.
func (s *Service) ForceResolve(ctx context.Context, roomID string) (res ResolveResult, err error) {
	ctx, span := s.span(ctx, "ForceResolve", roomID)
	defer func() { finish(span, err) }()

	return s.resolve(ctx, roomID, true, func(*room.Room) error { return nil })
}

// resolve coalesces concurrent resolutions of one room. Callers that share
// a flight all see the single VoteResult the winning write produced.
func (s *Service) resolve(ctx context.Context, roomID string, force bool, allow func(*room.Room) error) (ResolveResult, error) {
	// Authorization is per caller, so it runs before joining the flight.
	cur, err := s.store.Get(ctx, roomID)
	if err != nil {
		return ResolveResult{}, err
	}
	if err := allow(cur); err != nil {
		return ResolveResult{}, err
	}

	key := roomID
	if force {
		key += "/force"
	}
	v, err, shared := s.resolves.Do(key, func() (any, error) {
		// The flight outlives the caller that started it.
		ctx := context.WithoutCancel(ctx)
		var fresh bool
		r, err := s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
			_, f, err := r.Resolve(force, s.cat)
			fresh = f
			return f, err
		})
		if err != nil {
			return nil, err
		}
		if fresh {
			res := r.LastResult
			slog.Info("turn resolved",
				"room", roomID,
				"turn", res.Turn,
				"passed", res.PassedPolicyID,
				"votes", len(res.VoteDetails),
				"forced", force,
				"collapsed", r.IsCollapsed,
			)
			s.paintLater(r)
		}
		return r, nil
	})
	if err != nil {
		return ResolveResult{}, err
	}
	if shared {
		slog.Debug("resolve coalesced", "room", roomID)
	}
	r := v.(*room.Room)
	return ResolveResult{
		Status:     r.Phase,
		LastResult: cloneResult(r.LastResult),
		CityParams: r.CityParams,
		IsGameOver: r.Phase == room.Finished || (r.Phase == room.Result && r.IsGameOver()),
	}, nil
}

// NextResult answers a turn advance.
type NextResult struct {
	Status room.Phase `json:"status"`
	Turn   int        `json:"turn"`
}

// NextTurn leaves RESULT. Any member may advance.
func (s *Service) NextTurn(ctx context.Context, roomID, callerID string) (res NextResult, err error) {
	ctx, span := s.span(ctx, "NextTurn", roomID)
	defer func() { finish(span, err) }()

	return s.next(ctx, roomID, func(r *room.Room) error {
		_, err := member(r, callerID)
		return err
	})
}

// ForceNext advances a room on behalf of an operator.
func (s *Service) ForceNext(ctx context.Context, roomID string) (res NextResult, err error) {
	ctx, span := s.span(ctx, "ForceNext", roomID)
	defer func() { finish(span, err) }()

	return s.next(ctx, roomID, func(*room.Room) error { return nil })
}

func (s *Service) next(ctx context.Context, roomID string, allow func(*room.Room) error) (NextResult, error) {
	var finished bool
	r, err := s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		if err := allow(r); err != nil {
			return false, err
		}
		f, err := r.NextTurn(s.cat)
		finished = f
		return true, err
	})
	if err != nil {
		return NextResult{}, err
	}
	if finished {
		slog.Info("game finished", "room", roomID, "turns", r.Turn, "collapsed", r.IsCollapsed, "players", len(r.Players))
	} else {
		slog.Debug("turn advanced", "room", roomID, "turn", r.Turn)
	}
	return NextResult{Status: r.Phase, Turn: r.Turn}, nil
}

func cloneResult(res *room.VoteResult) *room.VoteResult {
	if res == nil {
		return nil
	}
	out := *res
	out.ActualEffects = res.ActualEffects.Clone()
	out.VoteDetails = make(map[string]string, len(res.VoteDetails))
	for k, v := range res.VoteDetails {
		out.VoteDetails[k] = v
	}
	out.Tally = make(map[string]int, len(res.Tally))
	for k, v := range res.Tally {
		out.Tally[k] = v
	}
	return &out
}
