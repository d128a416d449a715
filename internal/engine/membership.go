package engine

import (
	"context"
	"log/slog"

	"github.com/talgya/city-council/internal/persistence"
	"github.com/talgya/city-council/internal/room"
)

// CreateResult answers a room creation.
type CreateResult struct {
	RoomID   string     `json:"roomId"`
	PlayerID string     `json:"playerId"`
	Status   room.Phase `json:"status"`
}

// CreateRoom opens a room with the caller as host.
func (s *Service) CreateRoom(ctx context.Context, callerID, displayName string) (res CreateResult, err error) {
	ctx, span := s.span(ctx, "CreateRoom", "")
	defer func() { finish(span, err) }()

	now := s.now()
	r := room.New(s.newID(), s.seeds.Seed(ctx), s.rules, s.cat, now)
	host, _, err := r.Join(s.newID(), callerID, displayName, s.cat)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.store.Create(ctx, r); err != nil {
		return CreateResult{}, err
	}

	slog.Info("room created", "room", r.ID, "host", host.ID, "seed", r.Seed)
	return CreateResult{RoomID: r.ID, PlayerID: host.ID, Status: r.Phase}, nil
}

// Join adds the caller to a room, or returns their existing player id.
func (s *Service) Join(ctx context.Context, roomID, callerID, displayName string) (playerID string, err error) {
	ctx, span := s.span(ctx, "Join", roomID)
	defer func() { finish(span, err) }()

	newID := s.newID()
	_, err = s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		p, existing, err := r.Join(newID, callerID, displayName, s.cat)
		if err != nil {
			return false, err
		}
		playerID = p.ID
		return !existing, nil
	})
	if err != nil {
		return "", err
	}
	slog.Info("player joined", "room", roomID, "player", playerID)
	return playerID, nil
}

// Leave removes the caller from a room.
func (s *Service) Leave(ctx context.Context, roomID, callerID string) (err error) {
	ctx, span := s.span(ctx, "Leave", roomID)
	defer func() { finish(span, err) }()

	var left room.Player
	r, err := s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		p, err := member(r, callerID)
		if err != nil {
			return false, err
		}
		left = p
		return true, r.Leave(p.ID)
	})
	if err != nil {
		return err
	}
	slog.Info("player left", "room", roomID, "player", left.ID, "phase", r.Phase, "remaining", len(r.Players))
	return nil
}

// ToggleReady flips the caller's ready flag.
func (s *Service) ToggleReady(ctx context.Context, roomID, callerID string) (ready bool, err error) {
	ctx, span := s.span(ctx, "ToggleReady", roomID)
	defer func() { finish(span, err) }()

	_, err = s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		p, err := member(r, callerID)
		if err != nil {
			return false, err
		}
		ready, err = r.ToggleReady(p.ID)
		return true, err
	})
	return ready, err
}

// StartResult answers a game start.
type StartResult struct {
	Status           room.Phase `json:"status"`
	Turn             int        `json:"turn"`
	CurrentPolicyIDs []string   `json:"currentPolicyIds"`
}

// Start begins the game. Only the host may start.
func (s *Service) Start(ctx context.Context, roomID, callerID string) (res StartResult, err error) {
	ctx, span := s.span(ctx, "Start", roomID)
	defer func() { finish(span, err) }()

	r, err := s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
		p, err := member(r, callerID)
		if err != nil {
			return false, err
		}
		return true, r.Start(p.ID)
	})
	if err != nil {
		return StartResult{}, err
	}
	slog.Info("game started", "room", roomID, "players", len(r.Players))
	return StartResult{Status: r.Phase, Turn: r.Turn, CurrentPolicyIDs: r.CurrentPolicyIDs}, nil
}

// View returns the room as the caller may see it. Callers who are not
// members get the spectator view.
func (s *Service) View(ctx context.Context, roomID, callerID string) (v room.View, err error) {
	ctx, span := s.span(ctx, "View", roomID)
	defer func() { finish(span, err) }()

	r, err := s.store.Get(ctx, roomID)
	if err != nil {
		return room.View{}, err
	}
	playerID := ""
	if p, ok := r.PlayerByCaller(callerID); ok && callerID != "" {
		playerID = p.ID
	}
	return r.View(s.cat, playerID), nil
}

// MyRooms lists the live rooms the caller has joined.
func (s *Service) MyRooms(ctx context.Context, callerID string) ([]persistence.CallerRoom, error) {
	out, err := s.store.RoomsForCaller(ctx, callerID)
	if out == nil && err == nil {
		out = []persistence.CallerRoom{}
	}
	return out, err
}
