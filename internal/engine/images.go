package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/room"
)

// ImagePath is where the API serves the city image of one turn.
func ImagePath(roomID string, turn int) string {
	return fmt.Sprintf("/api/v1/rooms/%s/images/%d", roomID, turn)
}

// CityImage returns the PNG drawn after a turn's resolution.
func (s *Service) CityImage(ctx context.Context, roomID string, turn int) ([]byte, error) {
	return s.store.Image(ctx, roomID, turn)
}

// paintLater draws the city in the background once a policy has passed. A
// failure only costs the image; the result itself is already committed.
func (s *Service) paintLater(r *room.Room) {
	if s.painter == nil || r.LastResult == nil || r.LastResult.PassedPolicyID == "" {
		return
	}
	roomID, turn, params := r.ID, r.LastResult.Turn, r.CityParams
	passed := make([]catalog.Policy, 0, len(r.PassedPolicyIDs))
	for _, id := range r.PassedPolicyIDs {
		if p, ok := r.LookupPolicy(s.cat, id); ok {
			passed = append(passed, p)
		}
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.imageTimeout)
		defer cancel()

		png, err := s.painter.Paint(ctx, params, passed)
		if err != nil {
			slog.Warn("city image failed", "room", roomID, "turn", turn, "code", apperr.CodeExternalFailure, "error", err)
			return
		}
		if err := s.store.SaveImage(ctx, roomID, turn, png); err != nil {
			slog.Warn("city image not stored", "room", roomID, "turn", turn, "error", err)
			return
		}

		url := ImagePath(roomID, turn)
		_, err = s.mutate(ctx, roomID, func(r *room.Room) (bool, error) {
			lr := r.LastResult
			if lr == nil || lr.Turn != turn || lr.CityImageURL != "" {
				return false, nil
			}
			lr.CityImageURL = url
			return true, nil
		})
		if err != nil {
			slog.Debug("city image not linked", "room", roomID, "turn", turn, "error", err)
			return
		}
		slog.Info("city image stored", "room", roomID, "turn", turn, "size", humanize.Bytes(uint64(len(png))))
	}()
}
