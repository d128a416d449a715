// Package persistence provides SQLite-based room storage.
//
// Each room is one JSON document guarded by a version column. Writers
// compare-and-swap on the version, so two concurrent operations on the same
// room can never both commit.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/room"
)

// DB wraps a SQLite connection for room persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite has a single writer; one connection keeps transactions from
	// tripping over each other's locks.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		phase TEXT NOT NULL,
		doc TEXT NOT NULL,
		player_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS caller_rooms (
		caller_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		PRIMARY KEY (caller_id, room_id)
	);

	CREATE TABLE IF NOT EXISTS archives (
		room_id TEXT PRIMARY KEY,
		finished_at INTEGER NOT NULL,
		size INTEGER NOT NULL,
		blob BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS images (
		room_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		png BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (room_id, turn)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_phase ON rooms(phase);
	CREATE INDEX IF NOT EXISTS idx_caller_rooms_room ON caller_rooms(room_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type roomRow struct {
	ID          string `db:"id"`
	Version     int64  `db:"version"`
	Phase       string `db:"phase"`
	Doc         string `db:"doc"`
	PlayerCount int    `db:"player_count"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (row roomRow) decode() (*room.Room, error) {
	var r room.Room
	if err := json.Unmarshal([]byte(row.Doc), &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", row.ID, err)
	}
	r.Version = row.Version
	return &r, nil
}

func notFound(id string) error {
	return apperr.Newf(apperr.CodeNotFound, "room %s not found", id)
}

// Create inserts a new room at version 1.
func (db *DB) Create(ctx context.Context, r *room.Room) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	r.Version = 1
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.ID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rooms
		(id, version, phase, doc, player_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Version, string(r.Phase), string(doc), len(r.Players),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert room %s: %w", r.ID, err)
	}
	if err := writeCallers(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// Get loads a room by id.
func (db *DB) Get(ctx context.Context, id string) (*room.Room, error) {
	var row roomRow
	err := db.conn.GetContext(ctx, &row, "SELECT * FROM rooms WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return row.decode()
}

// CompareAndSwap writes r if the stored version still equals expected. On
// success r.Version is expected+1. A stale version yields a Conflict error
// and leaves the store unchanged.
func (db *DB) CompareAndSwap(ctx context.Context, r *room.Room, expected int64) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	next := *r
	next.Version = expected + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.ID, err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE rooms
		SET version = ?, phase = ?, doc = ?, player_count = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		next.Version, string(next.Phase), string(doc), len(next.Players), next.UpdatedAt.UnixMilli(),
		r.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update room %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update room %s: %w", r.ID, err)
	}
	if n == 0 {
		var actual int64
		err := tx.GetContext(ctx, &actual, "SELECT version FROM rooms WHERE id = ?", r.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(r.ID)
		}
		if err != nil {
			return fmt.Errorf("read version %s: %w", r.ID, err)
		}
		return conflict(r.ID, expected, actual)
	}

	if err := writeCallers(ctx, tx, &next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit room %s: %w", r.ID, err)
	}
	r.Version = next.Version
	return nil
}

func conflict(id string, expected, actual int64) error {
	return apperr.WithMetadata(apperr.CodeConflict, "room "+id+" was modified concurrently",
		map[string]string{
			"expectedVersion": strconv.FormatInt(expected, 10),
			"actualVersion":   strconv.FormatInt(actual, 10),
		})
}

// writeCallers replaces the caller index rows of one room.
func writeCallers(ctx context.Context, tx *sqlx.Tx, r *room.Room) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM caller_rooms WHERE room_id = ?", r.ID); err != nil {
		return fmt.Errorf("clear callers %s: %w", r.ID, err)
	}
	for _, p := range r.Players {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO caller_rooms (caller_id, room_id, player_id) VALUES (?, ?, ?)",
			p.CallerID, r.ID, p.ID,
		)
		if err != nil {
			return fmt.Errorf("index caller %s: %w", p.CallerID, err)
		}
	}
	return nil
}

// List returns a summary of every live room, oldest first.
func (db *DB) List(ctx context.Context) ([]room.Summary, error) {
	var rows []roomRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM rooms ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]room.Summary, 0, len(rows))
	for _, row := range rows {
		r, err := row.decode()
		if err != nil {
			slog.Warn("skipping undecodable room", "room", row.ID, "error", err)
			continue
		}
		out = append(out, r.Summarize())
	}
	return out, nil
}

// Delete removes a live room and its caller index if the stored version
// still equals expected.
func (db *DB) Delete(ctx context.Context, id string, expected int64) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ? AND version = ?", id, expected)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	if n == 0 {
		var actual int64
		err := tx.GetContext(ctx, &actual, "SELECT version FROM rooms WHERE id = ?", id)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("read version %s: %w", id, err)
		}
		return conflict(id, expected, actual)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM caller_rooms WHERE room_id = ?", id); err != nil {
		return fmt.Errorf("delete callers %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM images WHERE room_id = ?", id); err != nil {
		return fmt.Errorf("delete images %s: %w", id, err)
	}
	return tx.Commit()
}

// CallerRoom is one entry of the caller index.
type CallerRoom struct {
	RoomID   string `db:"room_id" json:"roomId"`
	PlayerID string `db:"player_id" json:"playerId"`
	Phase    string `db:"phase" json:"phase"`
}

// RoomsForCaller lists the live rooms a caller has joined.
func (db *DB) RoomsForCaller(ctx context.Context, callerID string) ([]CallerRoom, error) {
	var out []CallerRoom
	err := db.conn.SelectContext(ctx, &out, `SELECT c.room_id, c.player_id, r.phase
		FROM caller_rooms c JOIN rooms r ON r.id = c.room_id
		WHERE c.caller_id = ? ORDER BY r.updated_at DESC`, callerID)
	if err != nil {
		return nil, fmt.Errorf("rooms for caller: %w", err)
	}
	return out, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key returns "" and no error.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
