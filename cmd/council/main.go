// Command council runs the City Council game service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/city-council/internal/api"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/config"
	"github.com/talgya/city-council/internal/engine"
	"github.com/talgya/city-council/internal/entropy"
	"github.com/talgya/city-council/internal/llm"
	"github.com/talgya/city-council/internal/persistence"
	"github.com/talgya/city-council/internal/petition"
	"github.com/talgya/city-council/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.Level(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("council stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("City Council starting", "version", version, "port", cfg.Port)

	// ── Tracing ───────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, "council", version, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	// ── Catalog and rules ─────────────────────────────────────────────
	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		if cat, err = catalog.LoadFile(cfg.CatalogPath); err != nil {
			return err
		}
	}
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}
	slog.Info("catalog loaded",
		"policies", len(cat.PolicyIDs()),
		"ideologies", len(cat.IdeologyIDs()),
		"digest", cat.Digest()[:12],
		"max_turns", rules.MaxTurns,
		"deck_exhaustion", rules.DeckExhaustion,
	)

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	prev, err := db.GetMeta(ctx, "catalog_digest")
	if err != nil {
		return err
	}
	if prev != "" && prev != cat.Digest() {
		slog.Warn("catalog changed since last start; rooms keep the digest they were dealt from", "previous", prev[:min(12, len(prev))])
	}
	if err := db.SaveMeta(ctx, "catalog_digest", cat.Digest()); err != nil {
		return err
	}
	if rooms, err := db.List(ctx); err == nil {
		slog.Info("database opened", "path", cfg.DBPath, "live_rooms", humanize.Comma(int64(len(rooms))))
	}

	// ── External services ─────────────────────────────────────────────
	llmClient := llm.NewClient(llm.Config{
		APIKey:       cfg.OpenAIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.LLMModel,
		MaxPerMinute: cfg.LLMPerMinute,
	})
	var oracle petition.Oracle
	model := ""
	if llmClient.Enabled() {
		oracle = llm.NewPetitionJudge(llmClient)
		model = llmClient.Model()
		slog.Info("petition judge enabled", "model", model)
	} else {
		slog.Info("no OPENAI_API_KEY; petitions will be declined")
	}

	var painter engine.Painter
	if p := llm.NewCityPainter(llmClient, cfg.ImageModel); p != nil {
		painter = p
		slog.Info("city images enabled", "model", cfg.ImageModel)
	}

	seeds := entropy.NewClient(cfg.RandomOrgKey)
	slog.Info("room seeds", "random_org", seeds.Enabled())

	svc := engine.New(engine.Options{
		Store:           db,
		Catalog:         cat,
		Rules:           rules,
		Oracle:          oracle,
		PetitionTimeout: cfg.PetitionTimeout,
		LLM:             llmClient,
		Painter:         painter,
		ImageTimeout:    cfg.ImageTimeout,
		Seeds:           seeds,
	})

	// ── HTTP ──────────────────────────────────────────────────────────
	limiter := api.NewRateLimiter(cfg.PetitionRate, time.Minute, 2)
	srv := &api.Server{
		Svc:             svc,
		AdminKey:        cfg.AdminKey,
		JWTSecret:       cfg.JWTSecret,
		Origins:         cfg.CORSOrigins,
		LLMModel:        model,
		Version:         version,
		PetitionLimiter: limiter,
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	drained := make(chan struct{})
	go func() {
		svc.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timed out waiting for city images")
	}
	fmt.Println("Council adjourned.")
	return nil
}
