package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/talgya/city-council/internal/apperr"
)

// SaveImage stores the city image drawn after one turn's resolution,
// replacing any earlier image of that turn.
func (db *DB) SaveImage(ctx context.Context, roomID string, turn int, png []byte) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (room_id, turn, png, created_at) VALUES (?, ?, ?, ?)",
		roomID, turn, png, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save image %s/%d: %w", roomID, turn, err)
	}
	return nil
}

// Image returns a stored city image.
func (db *DB) Image(ctx context.Context, roomID string, turn int) ([]byte, error) {
	var png []byte
	err := db.conn.GetContext(ctx, &png, "SELECT png FROM images WHERE room_id = ? AND turn = ?", roomID, turn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, imageNotFound(roomID, turn)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %s/%d: %w", roomID, turn, err)
	}
	return png, nil
}

func imageNotFound(roomID string, turn int) error {
	return apperr.Newf(apperr.CodeNotFound, "no image for room %s turn %d", roomID, turn)
}
