// Package steward implements the autonomous room steward.
// It observes rooms via the admin API, triages them against idle
// thresholds, and acts via the admin room endpoints.
package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/city-council/internal/room"
)

// Snapshot holds everything collected during one observation.
type Snapshot struct {
	Status Status         `json:"status"`
	Rooms  []room.Summary `json:"rooms"`
	At     time.Time      `json:"at"`
}

// Status mirrors the fields of GET /api/v1/status the steward reads.
type Status struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	CatalogDigest string `json:"catalogDigest"`
	Petitions     bool   `json:"petitions"`
}

// Observer fetches room state from the API.
type Observer struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL, adminKey string) *Observer {
	return &Observer{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Now: time.Now,
	}
}

// Observe fetches the service status and every room summary.
func (o *Observer) Observe(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{At: o.Now()}

	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	var list struct {
		Rooms []room.Summary `json:"rooms"`
	}
	if err := o.fetchJSON(ctx, "/api/v1/admin/rooms", &list); err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	snap.Rooms = list.Rooms
	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.AdminKey)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
