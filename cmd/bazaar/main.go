// Command bazaar runs the Bazaar world server: the tick engine, the
// market, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/talgya/bazaar/internal/actions"
	"github.com/talgya/bazaar/internal/api"
	"github.com/talgya/bazaar/internal/config"
	"github.com/talgya/bazaar/internal/cult"
	"github.com/talgya/bazaar/internal/engine"
	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/llm"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.Info("The Bazaar — persistent market world")

	// ── Database ─────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && dir != "" {
		os.MkdirAll(dir, 0755)
	}
	store, err := persistence.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database opened", "url", cfg.DatabaseURL)

	// ── Commodity catalog ────────────────────────────────────────────
	ctx := context.Background()
	catalog, err := registry.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		slog.Error("load catalog", "error", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}
	seeded, err := store.SeedCommodities(ctx, catalog)
	if err != nil {
		slog.Error("seed commodities", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog ready", "commodities", len(catalog), "seeded", seeded)

	// ── Entropy ──────────────────────────────────────────────────────
	var rng entropy.Source = entropy.NewClient(cfg.RandomOrgKey)
	if cfg.RandomOrgKey != "" {
		slog.Info("entropy: random.org pool enabled")
	} else {
		slog.Info("entropy: crypto/rand")
	}

	// ── Oracle ───────────────────────────────────────────────────────
	oracle := llm.NewClient(cfg.AnthropicKey)
	if oracle.Enabled() {
		slog.Info("oracle enabled (Haiku)")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set — flavor text uses fallbacks")
	}
	sentiment := llm.NewSentimentField(cfg.SentimentSeed)

	// ── Services ─────────────────────────────────────────────────────
	feed := api.NewFeed()
	eng := engine.New(store, rng, nil)
	eng.OnEvent = feed.Publish
	eng.Oracle = oracle
	ticker := engine.NewTicker(eng, cfg.TickInterval)

	actionSvc := actions.NewService(store, rng, oracle,
		actions.NewCooldowns(cfg.ActionCooldown), nil)
	cultSvc := cult.NewService(store, rng, nil)

	// ── HTTP API ─────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("BAZAAR_ADMIN_KEY not set — admin endpoints disabled")
	}
	server := &api.Server{
		Store:     store,
		Engine:    eng,
		Ticker:    ticker,
		Actions:   actionSvc,
		Cults:     cultSvc,
		Oracle:    oracle,
		Sentiment: sentiment,
		Feed:      feed,
		Port:      cfg.Port,
		AdminKey:  cfg.AdminKey,
	}
	server.Start()

	// ── Run ──────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Printf("The Bazaar is open. API: http://localhost:%d/api/v1/status\n", cfg.Port)
	fmt.Println("Ticking... (Ctrl+C to stop)")

	ticker.Run(runCtx)
	slog.Info("world stopped")
}
