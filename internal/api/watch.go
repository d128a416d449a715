package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/city-council/internal/apperr"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = time.Minute
	pingPeriod = pongWait * 9 / 10
)

// handleWatch upgrades to a websocket and pushes the caller's view of the
// room after every write. A slow client skips versions and only ever
// receives the latest.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	callerID, err := s.identify(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	roomID := r.PathValue("roomId")
	ctx := r.Context()

	// Subscribe before the first read so no write can slip between.
	updates, cancel := s.Svc.Subscribe(roomID)
	defer cancel()

	// Fail before the upgrade so the client gets a JSON error.
	first, err := s.Svc.View(ctx, roomID, callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	current := atomic.AddInt32(&s.wsConns, 1)
	defer atomic.AddInt32(&s.wsConns, -1)
	if current > s.maxWSConn {
		writeError(w, apperr.New(apperr.CodeResourceExhausted, "too many watchers"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowed[origin]
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	slog.Debug("watcher connected", "room", roomID, "caller", callerID)

	// The read side only handles control frames and notices a close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}
	closeWith := func(code int, text string) {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	}

	if !send(first) {
		return
	}
	sent := first.Version

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case version, ok := <-updates:
			if !ok {
				return
			}
			if version == 0 {
				closeWith(websocket.CloseNormalClosure, "room closed")
				return
			}
			if version <= sent {
				continue
			}
			v, err := s.Svc.View(ctx, roomID, callerID)
			if err != nil {
				closeWith(websocket.CloseNormalClosure, string(apperr.CodeOf(err)))
				return
			}
			if !send(v) {
				return
			}
			sent = v.Version
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			slog.Debug("watcher disconnected", "room", roomID, "caller", callerID)
			return
		case <-ctx.Done():
			return
		}
	}
}
