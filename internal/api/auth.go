package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/talgya/city-council/internal/apperr"
)

// callerClaims carries the caller id as the token subject.
type callerClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a caller token valid for ttl. It is used by the login
// front end and by tests; the API itself only verifies.
func IssueToken(secret, callerID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := callerClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyToken returns the subject of a valid HS256 token.
func verifyToken(secret, raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &callerClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}
	claims, ok := token.Claims.(*callerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", apperr.New(apperr.CodeUnauthenticated, "invalid token")
	}
	return claims.Subject, nil
}

// identify returns the caller id of a request. allowQuery lets browsers
// that cannot set headers on a websocket handshake pass the credential as
// ?token= or ?userId=.
func (s *Server) identify(r *http.Request, allowQuery bool) (string, error) {
	if s.JWTSecret != "" {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok && allowQuery {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			return "", apperr.New(apperr.CodeUnauthenticated, "bearer token required")
		}
		return verifyToken(s.JWTSecret, raw)
	}

	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" && allowQuery {
		id = strings.TrimSpace(r.URL.Query().Get("userId"))
	}
	if id == "" {
		return "", apperr.New(apperr.CodeUnauthenticated, "X-User-ID header required")
	}
	return id, nil
}

// caller wraps a handler that needs the caller's identity.
func (s *Server) caller(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.identify(r, false)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, id)
	}
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, apperr.New(apperr.CodeUnauthorized, "admin endpoints disabled (no COUNCIL_ADMIN_KEY set)"))
			return
		}
		if !s.checkBearerToken(r) {
			writeError(w, apperr.New(apperr.CodeUnauthenticated, "unauthorized"))
			return
		}
		next(w, r)
	}
}
