package steward

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/city-council/internal/room"
)

// Kind names a steward action.
type Kind string

const (
	KindResolve Kind = "resolve"
	KindNext    Kind = "next"
	KindReap    Kind = "reap"
	KindArchive Kind = "archive"
)

// Thresholds decide when a room counts as stalled.
type Thresholds struct {
	VoteTimeout   time.Duration // VOTING idle this long is force resolved
	ResultTimeout time.Duration // RESULT idle this long is advanced
	ArchiveAfter  time.Duration // FINISHED this long is archived
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoteTimeout:   10 * time.Minute,
		ResultTimeout: 5 * time.Minute,
		ArchiveAfter:  24 * time.Hour,
	}
}

// Action is one admin call the steward wants to make.
type Action struct {
	Kind   Kind   `json:"kind"`
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// Triage plans the actions for a snapshot. It is deterministic: the same
// snapshot always yields the same plan, oldest room first.
func Triage(snap *Snapshot, th Thresholds) []Action {
	rooms := append([]room.Summary{}, snap.Rooms...)
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].UpdatedAt.Before(rooms[j].UpdatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})

	var plan []Action
	for _, r := range rooms {
		idle := snap.At.Sub(r.UpdatedAt)
		since := humanize.RelTime(r.UpdatedAt, snap.At, "ago", "from now")

		switch {
		case r.Phase == room.Finished:
			if idle >= th.ArchiveAfter {
				plan = append(plan, Action{Kind: KindArchive, RoomID: r.ID, Reason: "finished " + since})
			}
		case r.Players == 0:
			plan = append(plan, Action{Kind: KindReap, RoomID: r.ID, Reason: "empty since " + since})
		case r.Phase == room.Voting && idle >= th.VoteTimeout:
			plan = append(plan, Action{Kind: KindResolve, RoomID: r.ID, Reason: "votes stalled since " + since})
		case r.Phase == room.Result && idle >= th.ResultTimeout:
			plan = append(plan, Action{Kind: KindNext, RoomID: r.ID, Reason: "result shown since " + since})
		}
	}
	return plan
}
