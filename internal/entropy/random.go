// Package entropy provides the seeds rooms deal their decks from. Seeds come
// from random.org when a key is configured and from crypto/rand otherwise.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultEndpoint is the random.org JSON-RPC endpoint.
const DefaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

// Client hands out seeds from a local pool refilled from random.org.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu   sync.Mutex
	pool []int64
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Seed returns a fresh room seed. A nil client, or a failed refill, falls
// back to crypto/rand, so Seed never fails.
func (c *Client) Seed(ctx context.Context) int64 {
	if !c.Enabled() {
		return CryptoSeed()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) == 0 {
		if err := c.refill(ctx); err != nil {
			slog.Debug("random.org refill failed", "error", err)
		}
	}
	if len(c.pool) == 0 {
		return CryptoSeed()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

// refill fetches pairs of 31-bit integers and joins each pair into one seed.
func (c *Client) refill(ctx context.Context) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      64,
			"min":    0,
			"max":    1<<31 - 1,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []int64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("api error: %s", result.Error.Message)
	}

	data := result.Result.Random.Data
	for i := 0; i+1 < len(data); i += 2 {
		c.pool = append(c.pool, data[i]<<31|data[i+1])
	}
	slog.Debug("random.org pool refilled", "seeds", len(data)/2)
	return nil
}

// CryptoSeed returns a non-negative seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
