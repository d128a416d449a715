// Package api provides the HTTP API for playing council rooms.
// Player endpoints act for the caller identified by a bearer JWT, or by the
// X-User-ID header when no signing secret is configured.
// Admin endpoints require the admin bearer token.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/engine"
)

const maxBodyBytes = 64 << 10

// Server serves rooms over HTTP.
type Server struct {
	Svc       *engine.Service
	AdminKey  string   // Bearer token for admin endpoints. Empty = admin disabled.
	JWTSecret string   // HS256 secret for caller tokens. Empty = X-User-ID header.
	Origins   []string // Extra CORS origins besides the localhost dev servers.
	LLMModel  string   // Reported by /status. Empty = petitions are declined.
	Version   string

	// Petitions consume LLM calls; defaults to 5 per minute per caller.
	PetitionLimiter *RateLimiter

	started   time.Time
	allowed   map[string]bool
	wsConns   int32
	maxWSConn int32
}

// callerHandler is a handler that runs for an identified caller.
type callerHandler func(w http.ResponseWriter, r *http.Request, callerID string)

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	s.started = time.Now()
	s.allowed = allowedOrigins(s.Origins)
	if s.PetitionLimiter == nil {
		s.PetitionLimiter = NewRateLimiter(5, time.Minute, 2)
	}
	if s.maxWSConn == 0 {
		s.maxWSConn = 512
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	// Player endpoints.
	mux.HandleFunc("GET /api/v1/rooms", s.caller(s.handleMyRooms))
	mux.HandleFunc("POST /api/v1/rooms", s.caller(s.handleCreate))
	mux.HandleFunc("GET /api/v1/rooms/{roomId}", s.caller(s.handleView))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/join", s.caller(s.handleJoin))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/leave", s.caller(s.handleLeave))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/ready", s.caller(s.handleReady))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/start", s.caller(s.handleStart))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/votes", s.caller(s.handleVote))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/resolve", s.caller(s.handleResolve))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/next", s.caller(s.handleNext))
	mux.HandleFunc("POST /api/v1/rooms/{roomId}/petitions", s.caller(s.rateLimited(s.PetitionLimiter, s.handlePetition)))
	mux.HandleFunc("GET /api/v1/rooms/{roomId}/chronicle", s.handleChronicle)
	mux.HandleFunc("GET /api/v1/rooms/{roomId}/ws", s.handleWatch)
	mux.HandleFunc("GET /api/v1/rooms/{roomId}/images/{turn}", s.handleCityImage)

	// Admin endpoints (require bearer token).
	mux.HandleFunc("GET /api/v1/admin/rooms", s.adminOnly(s.handleAdminRooms))
	mux.HandleFunc("POST /api/v1/admin/rooms/{roomId}/resolve", s.adminOnly(s.handleAdminResolve))
	mux.HandleFunc("POST /api/v1/admin/rooms/{roomId}/next", s.adminOnly(s.handleAdminNext))
	mux.HandleFunc("POST /api/v1/admin/rooms/{roomId}/reap", s.adminOnly(s.handleAdminReap))
	mux.HandleFunc("POST /api/v1/admin/rooms/{roomId}/archive", s.adminOnly(s.handleAdminArchive))
	mux.HandleFunc("GET /api/v1/admin/archives", s.adminOnly(s.handleAdminArchives))

	slog.Info("HTTP API ready",
		"admin_auth", s.AdminKey != "",
		"jwt_auth", s.JWTSecret != "",
		"petitions", s.LLMModel != "",
	)
	return corsMiddleware(s.allowed, mux)
}

// allowedOrigins returns the CORS allow list. Localhost dev servers are
// always allowed.
func allowedOrigins(extra []string) map[string]bool {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range extra {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = true
		}
	}
	return allowed
}

// corsMiddleware adds CORS headers for allowed frontend origins.
func corsMiddleware(allowedOrigins map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cat := s.Svc.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          "City Council",
		"version":       s.Version,
		"uptime":        humanize.Time(s.started),
		"catalogDigest": cat.Digest(),
		"policies":      len(cat.PolicyIDs()),
		"ideologies":    len(cat.IdeologyIDs()),
		"rules":         s.Svc.Rules(),
		"petitions":     s.LLMModel != "",
		"model":         s.LLMModel,
		"watchers":      atomic.LoadInt32(&s.wsConns),
	})
}

type nameBody struct {
	DisplayName string `json:"displayName"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, callerID string) {
	var body nameBody
	if !decode(w, r, &body) {
		return
	}
	res, err := s.Svc.CreateRoom(r.Context(), callerID, body.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request, callerID string) {
	rooms, err := s.Svc.MyRooms(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, callerID string) {
	v, err := s.Svc.View(r.Context(), r.PathValue("roomId"), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, callerID string) {
	var body nameBody
	if !decode(w, r, &body) {
		return
	}
	playerID, err := s.Svc.Join(r.Context(), r.PathValue("roomId"), callerID, body.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"playerId": playerID})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, callerID string) {
	if err := s.Svc.Leave(r.Context(), r.PathValue("roomId"), callerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, callerID string) {
	ready, err := s.Svc.ToggleReady(r.Context(), r.PathValue("roomId"), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isReady": ready})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, callerID string) {
	res, err := s.Svc.Start(r.Context(), r.PathValue("roomId"), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, callerID string) {
	var body struct {
		PolicyID string `json:"policyId"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.Svc.Vote(r.Context(), r.PathValue("roomId"), callerID, body.PolicyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, callerID string) {
	var body struct {
		Force bool `json:"force"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.Svc.Resolve(r.Context(), r.PathValue("roomId"), callerID, body.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, callerID string) {
	res, err := s.Svc.NextTurn(r.Context(), r.PathValue("roomId"), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePetition(w http.ResponseWriter, r *http.Request, callerID string) {
	var body struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.Svc.Petition(r.Context(), r.PathValue("roomId"), callerID, body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCityImage is public like the chronicle.
func (s *Server) handleCityImage(w http.ResponseWriter, r *http.Request) {
	turn, err := strconv.Atoi(r.PathValue("turn"))
	if err != nil || turn < 1 {
		writeError(w, apperr.New(apperr.CodeInvalidArgument, "turn must be a positive integer"))
		return
	}
	png, err := s.Svc.CityImage(r.Context(), r.PathValue("roomId"), turn)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(png)
}

// handleChronicle is public: a finished game's epilogue is news.
func (s *Server) handleChronicle(w http.ResponseWriter, r *http.Request) {
	c, err := s.Svc.Chronicle(r.Context(), r.PathValue("roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAdminRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.Svc.Rooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleAdminResolve(w http.ResponseWriter, r *http.Request) {
	res, err := s.Svc.ForceResolve(r.Context(), r.PathValue("roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminNext(w http.ResponseWriter, r *http.Request) {
	res, err := s.Svc.ForceNext(r.Context(), r.PathValue("roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminReap(w http.ResponseWriter, r *http.Request) {
	if err := s.Svc.Reap(r.Context(), r.PathValue("roomId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminArchive(w http.ResponseWriter, r *http.Request) {
	size, err := s.Svc.Archive(r.Context(), r.PathValue("roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bytes": size})
}

func (s *Server) handleAdminArchives(w http.ResponseWriter, r *http.Request) {
	list, err := s.Svc.Archives(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": list})
}

// decode reads an optional JSON body. An empty body leaves v as is.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err))
	return false
}

type errorBody struct {
	Error    string            `json:"error"`
	Code     apperr.Code       `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError maps a domain error onto its status. Internal errors are
// logged and answered without detail.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	body := errorBody{Error: err.Error(), Code: code}

	var e *apperr.Error
	if errors.As(err, &e) {
		body.Error = e.Message
		body.Metadata = e.Metadata
	}
	switch code {
	case apperr.CodeConflict:
		w.Header().Set("Retry-After", "1")
	case apperr.CodeInternal:
		slog.Error("request failed", "error", err)
		body = errorBody{Error: "internal error", Code: code}
	}
	writeJSON(w, apperr.HTTPStatus(code), body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
