package steward

import (
	"context"
	"log/slog"
	"net/http"
)

// Steward runs observe → triage → act cycles.
type Steward struct {
	Observer   *Observer
	Actor      *Actor
	Memory     *CycleMemory
	Thresholds Thresholds
}

// Cycle runs one cycle and records it. A failed observation records nothing.
func (s *Steward) Cycle(ctx context.Context) (CycleRecord, error) {
	snap, err := s.Observer.Observe(ctx)
	if err != nil {
		return CycleRecord{}, err
	}
	plan := Triage(snap, s.Thresholds)
	slog.Info("observation complete", "rooms", len(snap.Rooms), "planned", len(plan))

	rec := CycleRecord{At: snap.At, Rooms: len(snap.Rooms), Planned: len(plan)}
	for _, act := range plan {
		res, err := s.Actor.Act(ctx, act)
		if err != nil {
			rec.Failed++
			slog.Error("action failed", "kind", act.Kind, "room", act.RoomID, "error", err)
			continue
		}
		if res.Status != http.StatusOK {
			slog.Info("action skipped", "kind", act.Kind, "room", act.RoomID, "status", res.Status, "reason", res.Body)
			continue
		}
		rec.Done++
		rec.Actions = append(rec.Actions, string(act.Kind)+" "+act.RoomID)
		slog.Info("action executed", "kind", act.Kind, "room", act.RoomID, "why", act.Reason)
	}

	if s.Memory != nil {
		s.Memory.Record(rec)
		s.Memory.Save()
	}
	return rec, nil
}
