package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/room"
)

// ArchiveInfo describes one archived room.
type ArchiveInfo struct {
	RoomID     string    `json:"roomId"`
	FinishedAt time.Time `json:"finishedAt"`
	Size       int       `json:"size"`
}

// Archive moves a FINISHED room out of the live table into a compressed
// archive row and returns the compressed size.
func (db *DB) Archive(ctx context.Context, id string) (int, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var row roomRow
	err = tx.GetContext(ctx, &row, "SELECT * FROM rooms WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, fmt.Errorf("get room %s: %w", id, err)
	}
	if room.Phase(row.Phase) != room.Finished {
		return 0, apperr.InvalidTransition("archive", row.Phase)
	}

	blob, err := compress([]byte(row.Doc))
	if err != nil {
		return 0, fmt.Errorf("compress room %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO archives (room_id, finished_at, size, blob) VALUES (?, ?, ?, ?)",
		id, row.UpdatedAt, len(blob), blob,
	)
	if err != nil {
		return 0, fmt.Errorf("insert archive %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("delete room %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM caller_rooms WHERE room_id = ?", id); err != nil {
		return 0, fmt.Errorf("delete callers %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive %s: %w", id, err)
	}
	return len(blob), nil
}

// LoadArchive reads an archived room back.
func (db *DB) LoadArchive(ctx context.Context, id string) (*room.Room, error) {
	var blob []byte
	err := db.conn.GetContext(ctx, &blob, "SELECT blob FROM archives WHERE room_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.CodeNotFound, "archive %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get archive %s: %w", id, err)
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

// Archives lists archived rooms, most recently finished first.
func (db *DB) Archives(ctx context.Context) ([]ArchiveInfo, error) {
	var rows []struct {
		RoomID     string `db:"room_id"`
		FinishedAt int64  `db:"finished_at"`
		Size       int    `db:"size"`
	}
	err := db.conn.SelectContext(ctx, &rows,
		"SELECT room_id, finished_at, size FROM archives ORDER BY finished_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]ArchiveInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, ArchiveInfo{RoomID: r.RoomID, FinishedAt: millis(r.FinishedAt), Size: r.Size})
	}
	return out, nil
}

func compress(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(doc); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
