package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result is what the admin API answered to one action.
type Result struct {
	Action Action `json:"action"`
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// Actor executes actions via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act sends one action to POST /api/v1/admin/rooms/{id}/{kind}. A 409 is
// not an error: a player got there first.
func (a *Actor) Act(ctx context.Context, act Action) (*Result, error) {
	path := fmt.Sprintf("%s/api/v1/admin/rooms/%s/%s", a.BaseURL, act.RoomID, act.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", act.Kind, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	res := &Result{Action: act, Status: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusOK:
		return res, nil
	case http.StatusConflict, http.StatusNotFound:
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &e) == nil {
			res.Body = e.Error
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%s %s failed (%d): %s", act.Kind, act.RoomID, resp.StatusCode, string(respBody))
	}
}
