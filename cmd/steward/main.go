// Command steward runs the autonomous room steward for City Council.
// It observes rooms through the admin API, resolves stalled votes, advances
// stalled results, reaps empty rooms and archives finished ones.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"

	"github.com/talgya/city-council/internal/config"
	"github.com/talgya/city-council/internal/steward"
)

func main() {
	cfg, err := config.LoadSteward()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.Level(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("City Council steward starting",
		"api_url", cfg.APIURL,
		"interval", cfg.Interval,
		"vote_timeout", cfg.VoteTimeout,
		"result_timeout", cfg.ResultTimeout,
		"archive_after", cfg.ArchiveAfter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &steward.Steward{
		Observer: steward.NewObserver(cfg.APIURL, cfg.AdminKey),
		Actor:    steward.NewActor(cfg.APIURL, cfg.AdminKey),
		Memory:   steward.LoadMemory(cfg.MemoryPath),
		Thresholds: steward.Thresholds{
			VoteTimeout:   cfg.VoteTimeout,
			ResultTimeout: cfg.ResultTimeout,
			ArchiveAfter:  cfg.ArchiveAfter,
		},
	}
	if n := len(s.Memory.Records); n > 0 {
		last := s.Memory.Records[n-1]
		slog.Info("steward memory loaded", "cycles", n, "last_cycle", humanize.Time(last.At))
	}

	// Wait for the council API to be ready before the first cycle.
	slog.Info("waiting for council API...")
	if err := waitForAPI(ctx, cfg.APIURL); err != nil {
		slog.Error("council API did not become ready", "error", err)
		os.Exit(1)
	}

	runCycle(ctx, s)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, s)
		case <-ctx.Done():
			slog.Info("received signal, shutting down")
			fmt.Println("Steward stopped.")
			return
		}
	}
}

// runCycle executes one observe → triage → act cycle.
func runCycle(ctx context.Context, s *steward.Steward) {
	start := time.Now()
	rec, err := s.Cycle(ctx)
	if err != nil {
		slog.Error("steward cycle failed", "error", err)
		return
	}
	slog.Info("steward cycle complete",
		"rooms", rec.Rooms,
		"done", rec.Done,
		"failed", rec.Failed,
		"took", time.Since(start).Round(time.Millisecond),
	)
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Gives up after 5 minutes.
func waitForAPI(ctx context.Context, apiURL string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second

	client := &http.Client{Timeout: 10 * time.Second}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/status", nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			slog.Info("council API not ready, retrying...", "error", err)
			return struct{}{}, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("status returned %d", resp.StatusCode)
		}
		slog.Info("council API is ready")
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(5*time.Minute))
	return err
}
