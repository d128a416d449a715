package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/room"
)

// Memory is an in-process store with the same semantics as DB. Rooms are
// kept encoded so callers never share state with the store.
type Memory struct {
	mu       sync.Mutex
	rooms    map[string][]byte
	versions map[string]int64
	archives map[string][]byte
	infos    map[string]ArchiveInfo
	images   map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms:    map[string][]byte{},
		versions: map[string]int64{},
		archives: map[string][]byte{},
		infos:    map[string]ArchiveInfo{},
		images:   map[string][]byte{},
	}
}

func (m *Memory) Create(_ context.Context, r *room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; ok {
		return fmt.Errorf("insert room %s: already exists", r.ID)
	}
	r.Version = 1
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.ID, err)
	}
	m.rooms[r.ID] = doc
	m.versions[r.ID] = 1
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*room.Room, error) {
	m.mu.Lock()
	doc, ok := m.rooms[id]
	m.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}
	var r room.Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &r, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, r *room.Room, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	actual, ok := m.versions[r.ID]
	if !ok {
		return notFound(r.ID)
	}
	if actual != expected {
		return conflict(r.ID, expected, actual)
	}
	next := *r
	next.Version = expected + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.ID, err)
	}
	m.rooms[r.ID] = doc
	m.versions[r.ID] = next.Version
	r.Version = next.Version
	return nil
}

func (m *Memory) List(ctx context.Context) ([]room.Summary, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]room.Summary, 0, len(ids))
	for _, id := range ids {
		r, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r.Summarize())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	actual, ok := m.versions[id]
	if !ok {
		return notFound(id)
	}
	if actual != expected {
		return conflict(id, expected, actual)
	}
	delete(m.rooms, id)
	delete(m.versions, id)
	for key := range m.images {
		if strings.HasPrefix(key, id+"/") {
			delete(m.images, key)
		}
	}
	return nil
}

func (m *Memory) RoomsForCaller(ctx context.Context, callerID string) ([]CallerRoom, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var out []CallerRoom
	for _, id := range ids {
		r, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		if p, ok := r.PlayerByCaller(callerID); ok {
			out = append(out, CallerRoom{RoomID: r.ID, PlayerID: p.ID, Phase: string(r.Phase)})
		}
	}
	return out, nil
}

func (m *Memory) Archive(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.rooms[id]
	if !ok {
		return 0, notFound(id)
	}
	var head struct {
		Phase     room.Phase `json:"phase"`
		UpdatedAt time.Time  `json:"updatedAt"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return 0, fmt.Errorf("decode room %s: %w", id, err)
	}
	if head.Phase != room.Finished {
		return 0, apperr.InvalidTransition("archive", string(head.Phase))
	}
	blob, err := compress(doc)
	if err != nil {
		return 0, fmt.Errorf("compress room %s: %w", id, err)
	}
	m.archives[id] = blob
	m.infos[id] = ArchiveInfo{RoomID: id, FinishedAt: head.UpdatedAt, Size: len(blob)}
	delete(m.rooms, id)
	delete(m.versions, id)
	return len(blob), nil
}

func (m *Memory) LoadArchive(_ context.Context, id string) (*room.Room, error) {
	m.mu.Lock()
	blob, ok := m.archives[id]
	m.mu.Unlock()
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "archive %s not found", id)
	}
	doc, err := decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("decompress archive %s: %w", id, err)
	}
	var r room.Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", id, err)
	}
	return &r, nil
}

func (m *Memory) Archives(context.Context) ([]ArchiveInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ArchiveInfo, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].FinishedAt.After(out[j].FinishedAt)
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, nil
}

func imageKey(roomID string, turn int) string {
	return roomID + "/" + strconv.Itoa(turn)
}

func (m *Memory) SaveImage(_ context.Context, roomID string, turn int, png []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[imageKey(roomID, turn)] = append([]byte(nil), png...)
	return nil
}

func (m *Memory) Image(_ context.Context, roomID string, turn int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	png, ok := m.images[imageKey(roomID, turn)]
	if !ok {
		return nil, imageNotFound(roomID, turn)
	}
	return append([]byte(nil), png...), nil
}
