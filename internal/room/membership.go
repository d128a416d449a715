package room

import (
	"strconv"
	"strings"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
)

const maxDisplayName = 32

// Join adds a player under the given caller identity. A repeated join by the
// same caller returns the existing record with existing=true and changes
// nothing, in any phase.
func (r *Room) Join(playerID, callerID, displayName string, cat *catalog.Catalog) (p Player, existing bool, err error) {
	if callerID == "" {
		return Player{}, false, apperr.New(apperr.CodeUnauthenticated, "caller identity required")
	}
	if prev, ok := r.PlayerByCaller(callerID); ok {
		return prev, true, nil
	}
	if r.Phase != Lobby {
		return Player{}, false, r.invalid("join")
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		return Player{}, false, apperr.New(apperr.CodeInvalidArgument, "display name required")
	}
	if len([]rune(name)) > maxDisplayName {
		return Player{}, false, apperr.Newf(apperr.CodeInvalidArgument, "display name longer than %d characters", maxDisplayName)
	}
	if len(r.Players) >= r.Rules.MaxPlayers {
		return Player{}, false, apperr.WithMetadata(apperr.CodeResourceExhausted, "room is full",
			map[string]string{"maxPlayers": strconv.Itoa(r.Rules.MaxPlayers)})
	}

	ideologyID, err := r.drawIdeology(cat)
	if err != nil {
		return Player{}, false, err
	}

	p = Player{
		ID:          playerID,
		CallerID:    callerID,
		DisplayName: name,
		IsHost:      len(r.Players) == 0,
		JoinedSeq:   r.NextSeq,
		IdeologyID:  ideologyID,
	}
	r.NextSeq++
	r.Players = append(r.Players, p)
	return p, false, nil
}

func (r *Room) drawIdeology(cat *catalog.Catalog) (string, error) {
	all := cat.IdeologyIDs()
	if len(all) == 0 {
		return "", apperr.New(apperr.CodeResourceExhausted, "catalog has no ideologies")
	}

	pool := all
	if r.Rules.IdeologyDraw == DrawWithoutReplacement {
		taken := make(map[string]bool, len(r.Players))
		for _, p := range r.Players {
			taken[p.IdeologyID] = true
		}
		var free []string
		for _, id := range all {
			if !taken[id] {
				free = append(free, id)
			}
		}
		if len(free) > 0 {
			pool = free
		}
	}

	rng := r.rng(saltJoin + int64(r.NextSeq))
	return pool[rng.Intn(len(pool))], nil
}

// Leave removes a player. A departing host hands the role to the
// earliest-joined remaining player. Leaving mid-game forfeits: the player's
// vote is dropped and they are left out of the final standings.
func (r *Room) Leave(playerID string) error {
	if r.Phase == Finished {
		return r.invalid("leave")
	}
	i, err := r.requireMember(playerID)
	if err != nil {
		return err
	}

	wasHost := r.Players[i].IsHost
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	delete(r.Votes, playerID)

	if wasHost && len(r.Players) > 0 {
		// Players stay in join order, so the first is the earliest joiner.
		r.Players[0].IsHost = true
	}
	return nil
}

// SetReady sets a player's ready flag. Only allowed in LOBBY.
func (r *Room) SetReady(playerID string, ready bool) error {
	if r.Phase != Lobby {
		return r.invalid("set ready")
	}
	i, err := r.requireMember(playerID)
	if err != nil {
		return err
	}
	r.Players[i].IsReady = ready
	return nil
}

// ToggleReady flips a player's ready flag and returns the new value.
func (r *Room) ToggleReady(playerID string) (bool, error) {
	if r.Phase != Lobby {
		return false, r.invalid("set ready")
	}
	i, err := r.requireMember(playerID)
	if err != nil {
		return false, err
	}
	r.Players[i].IsReady = !r.Players[i].IsReady
	return r.Players[i].IsReady, nil
}

// CanStart reports whether the start gate is satisfied, with the reason if not.
func (r *Room) CanStart() (bool, string) {
	if len(r.Players) < r.Rules.MinPlayers {
		return false, "not enough players"
	}
	if r.Rules.StartGate == GateAllReady {
		for _, p := range r.Players {
			if !p.IsHost && !p.IsReady {
				return false, "not all players are ready"
			}
		}
	}
	return true, ""
}
