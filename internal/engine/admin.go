package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/llm"
	"github.com/talgya/city-council/internal/persistence"
	"github.com/talgya/city-council/internal/room"
)

// Rooms lists every live room for operators.
func (s *Service) Rooms(ctx context.Context) ([]room.Summary, error) {
	out, err := s.store.List(ctx)
	if out == nil && err == nil {
		out = []room.Summary{}
	}
	return out, err
}

// Archives lists archived rooms, most recently finished first.
func (s *Service) Archives(ctx context.Context) ([]persistence.ArchiveInfo, error) {
	return s.store.Archives(ctx)
}

// Reap deletes a room nobody is left in. Watchers are told with version 0.
// The delete only succeeds against the version that was found empty, so a
// join landing in between makes Reap fail with Conflict.
func (s *Service) Reap(ctx context.Context, roomID string) (err error) {
	ctx, span := s.span(ctx, "Reap", roomID)
	defer func() { finish(span, err) }()

	r, err := s.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.Empty() {
		return apperr.WithMetadata(apperr.CodeInvalidTransition, "room still has players",
			map[string]string{"operation": "reap", "phase": string(r.Phase), "players": fmt.Sprint(len(r.Players))})
	}
	if err := s.store.Delete(ctx, roomID, r.Version); err != nil {
		return err
	}
	s.hub.Publish(roomID, 0)
	slog.Info("room reaped", "room", roomID, "phase", r.Phase, "age", humanize.Time(r.CreatedAt))
	return nil
}

// Archive moves a finished room to compressed storage and returns the
// archived size in bytes. The chronicle is written first so it survives.
func (s *Service) Archive(ctx context.Context, roomID string) (size int, err error) {
	ctx, span := s.span(ctx, "Archive", roomID)
	defer func() { finish(span, err) }()

	if _, err := s.Chronicle(ctx, roomID); err != nil {
		return 0, err
	}
	size, err = s.store.Archive(ctx, roomID)
	if err != nil {
		return 0, err
	}
	s.hub.Publish(roomID, 0)
	slog.Info("room archived", "room", roomID, "size", humanize.Bytes(uint64(size)))
	return size, nil
}

// Chronicle returns the epilogue of a finished room, live or archived. It is
// written once per room and cached.
func (s *Service) Chronicle(ctx context.Context, roomID string) (c llm.Chronicle, err error) {
	ctx, span := s.span(ctx, "Chronicle", roomID)
	defer func() { finish(span, err) }()

	s.chronMu.Lock()
	c, ok := s.chronicles[roomID]
	s.chronMu.Unlock()
	if ok {
		return c, nil
	}

	v, err, _ := s.chronGroup.Do(roomID, func() (any, error) {
		r, err := s.store.Get(ctx, roomID)
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			r, err = s.store.LoadArchive(ctx, roomID)
		}
		if err != nil {
			return nil, err
		}
		if r.Phase != room.Finished {
			return nil, apperr.InvalidTransition("chronicle", string(r.Phase))
		}

		c := llm.GenerateChronicle(ctx, s.llm, s.chronicleData(r))
		s.chronMu.Lock()
		s.chronicles[roomID] = c
		s.chronMu.Unlock()
		return c, nil
	})
	if err != nil {
		return llm.Chronicle{}, err
	}
	return v.(llm.Chronicle), nil
}

func (s *Service) chronicleData(r *room.Room) llm.ChronicleData {
	passed := make([]catalog.Policy, 0, len(r.PassedPolicyIDs))
	for _, id := range r.PassedPolicyIDs {
		if p, ok := r.LookupPolicy(s.cat, id); ok {
			passed = append(passed, p)
		}
	}
	standings := make([]string, 0, len(r.Scores))
	for _, sc := range r.Scores {
		standings = append(standings, fmt.Sprintf("%s (%s), %.1f", sc.DisplayName, sc.IdeologyName, sc.Score))
	}
	return llm.ChronicleData{
		RoomID:    r.ID,
		Turns:     r.Turn,
		MaxTurns:  r.MaxTurns,
		Collapsed: r.IsCollapsed,
		Params:    r.CityParams,
		Passed:    passed,
		Standings: standings,
	}
}
