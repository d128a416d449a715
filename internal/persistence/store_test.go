package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/room"
)

type store interface {
	Create(ctx context.Context, r *room.Room) error
	Get(ctx context.Context, id string) (*room.Room, error)
	CompareAndSwap(ctx context.Context, r *room.Room, expected int64) error
	List(ctx context.Context) ([]room.Summary, error)
	Delete(ctx context.Context, id string, expected int64) error
	RoomsForCaller(ctx context.Context, callerID string) ([]CallerRoom, error)
	Archive(ctx context.Context, id string) (int, error)
	LoadArchive(ctx context.Context, id string) (*room.Room, error)
	Archives(ctx context.Context) ([]ArchiveInfo, error)
	SaveImage(ctx context.Context, roomID string, turn int, png []byte) error
	Image(ctx context.Context, roomID string, turn int) ([]byte, error)
}

var (
	_ store = (*DB)(nil)
	_ store = (*Memory)(nil)
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "council.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func stores(t *testing.T) map[string]func(*testing.T) store {
	return map[string]func(*testing.T) store{
		"sqlite": func(t *testing.T) store { return openDB(t) },
		"memory": func(*testing.T) store { return NewMemory() },
	}
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRoom(t *testing.T, id string) *room.Room {
	t.Helper()
	cat := catalog.Default()
	r := room.New(id, 11, room.DefaultRules(), cat, created)
	_, _, err := r.Join("p1", "alice", "Alice", cat)
	require.NoError(t, err)
	_, _, err = r.Join("p2", "bob", "Bob", cat)
	require.NoError(t, err)
	return r
}

func TestCreateGet(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			r := sampleRoom(t, "r1")
			require.NoError(t, s.Create(ctx, r))
			assert.Equal(t, int64(1), r.Version)

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.Equal(t, r.DeckIDs, got.DeckIDs)
			assert.Len(t, got.Players, 2)
			assert.True(t, r.CreatedAt.Equal(got.CreatedAt))

			_, err = s.Get(ctx, "missing")
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
		})
	}
}

func TestCompareAndSwap(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, sampleRoom(t, "r1")))

			a, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			b, err := s.Get(ctx, "r1")
			require.NoError(t, err)

			require.NoError(t, a.SetReady("p2", true))
			require.NoError(t, s.CompareAndSwap(ctx, a, a.Version))
			assert.Equal(t, int64(2), a.Version)

			require.NoError(t, b.Leave("p2"))
			err = s.CompareAndSwap(ctx, b, b.Version)
			require.Error(t, err)
			assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
			assert.True(t, apperr.IsRetryable(err))

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
			assert.Len(t, got.Players, 2, "the losing write left no trace")
			p2, _ := got.Player("p2")
			assert.True(t, p2.IsReady)

			ghost := sampleRoom(t, "ghost")
			err = s.CompareAndSwap(ctx, ghost, 1)
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
		})
	}
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, sampleRoom(t, "r1")))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r, err := s.Get(ctx, "r1")
					if !assert.NoError(t, err) {
						return
					}
					if r.Version != 1 {
						return
					}
					r.Turn++
					if s.CompareAndSwap(ctx, r, 1) == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
			assert.Equal(t, 1, got.Turn)
		})
	}
}

func TestListDeleteCallers(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, sampleRoom(t, "r1")))
			r2 := sampleRoom(t, "r2")
			r2.CreatedAt = created.Add(time.Minute)
			require.NoError(t, s.Create(ctx, r2))

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "r1", list[0].ID)
			assert.Equal(t, 2, list[0].Players)
			assert.Equal(t, room.Lobby, list[0].Phase)

			mine, err := s.RoomsForCaller(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, mine, 2)
			assert.Equal(t, "p1", mine[0].PlayerID)

			assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(s.Delete(ctx, "r1", 0)), "stale version")
			require.NoError(t, s.Delete(ctx, "r1", 1))
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(s.Delete(ctx, "r1", 1)))

			mine, err = s.RoomsForCaller(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "r2", mine[0].RoomID)
		})
	}
}

func TestArchive(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			r := sampleRoom(t, "r1")
			require.NoError(t, s.Create(ctx, r))

			_, err := s.Archive(ctx, "r1")
			assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err), "live games stay live")

			r.Phase = room.Finished
			require.NoError(t, s.CompareAndSwap(ctx, r, r.Version))

			size, err := s.Archive(ctx, "r1")
			require.NoError(t, err)
			assert.Positive(t, size)

			_, err = s.Get(ctx, "r1")
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

			back, err := s.LoadArchive(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, room.Finished, back.Phase)
			assert.Equal(t, r.DeckIDs, back.DeckIDs)

			_, err = s.LoadArchive(ctx, "nope")
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
		})
	}
}

func TestMetaAndArchiveListing(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	v, err := db.GetMeta(ctx, "catalog_digest")
	require.NoError(t, err)
	assert.Empty(t, v)
	require.NoError(t, db.SaveMeta(ctx, "catalog_digest", "abc"))
	v, err = db.GetMeta(ctx, "catalog_digest")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	r := sampleRoom(t, "r1")
	r.Phase = room.Finished
	require.NoError(t, db.Create(ctx, r))
	_, err = db.Archive(ctx, "r1")
	require.NoError(t, err)

	list, err := db.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].RoomID)
	assert.True(t, created.Equal(list[0].FinishedAt))
}

func TestCompressRoundTrip(t *testing.T) {
	doc := []byte(`{"id":"r1","phase":"FINISHED"}`)
	blob, err := compress(doc)
	require.NoError(t, err)
	back, err := decompress(blob)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func TestImages(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, sampleRoom(t, "r1")))

			_, err := s.Image(ctx, "r1", 1)
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

			require.NoError(t, s.SaveImage(ctx, "r1", 1, []byte("first")))
			require.NoError(t, s.SaveImage(ctx, "r1", 1, []byte("redrawn")))
			require.NoError(t, s.SaveImage(ctx, "r1", 2, []byte("second")))
			png, err := s.Image(ctx, "r1", 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("redrawn"), png)

			require.NoError(t, s.Delete(ctx, "r1", 1))
			_, err = s.Image(ctx, "r1", 2)
			assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err), "images go with the room")
		})
	}
}
