// Package main runs the mealdeck sync daemon: the local store plus the
// synchronization engine, with an HTTP status surface for the UI layer.
//
// With no remote backend configured the daemon still serves local-only
// storage; the sync engine stays dormant.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arialin/mealdeck/cmd/mealdeckd/handlers"
	"github.com/arialin/mealdeck/internal/db"
	"github.com/arialin/mealdeck/internal/logging"
	"github.com/arialin/mealdeck/internal/sync"
	"github.com/arialin/mealdeck/internal/sync/conflict"
	"github.com/arialin/mealdeck/internal/sync/realtime"
)

// Version is set at build time
var Version = "0.1.0"

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)
	logging.Info("mealdeckd starting", map[string]interface{}{"version": Version})

	dataDir := env("MEALDECK_DATA_DIR", "./data")

	database, err := db.Open(dataDir)
	if err != nil {
		logging.Error("Failed to open local store", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	migrator, err := db.NewEmbeddedMigrator(database.DB)
	if err != nil {
		logging.Error("Failed to load migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Initialize(); err != nil {
		logging.Error("Failed to initialize migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logging.Error("Failed to apply migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	cfg := sync.DefaultConfig()
	cfg.HouseholdID = os.Getenv("MEALDECK_HOUSEHOLD_ID")
	cfg.UserID = os.Getenv("MEALDECK_USER_ID")

	var remote sync.RemoteStore
	if remoteURL := os.Getenv("MEALDECK_REMOTE_URL"); remoteURL != "" {
		remote = sync.NewHTTPRemoteStore(&sync.RemoteConfig{
			BaseURL:   remoteURL,
			AuthToken: os.Getenv("MEALDECK_AUTH_TOKEN"),
			UserID:    cfg.UserID,
		})
	}

	coordinator := sync.NewCoordinator(repo, remote, conflict.NewResolver(), cfg)
	defer coordinator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordinator.Start(ctx)

	var subscription *realtime.Subscription
	if realtimeURL := os.Getenv("MEALDECK_REALTIME_URL"); realtimeURL != "" && coordinator.Available() {
		listenerCfg := realtime.DefaultConfig()
		listenerCfg.URL = realtimeURL
		listenerCfg.AuthToken = os.Getenv("MEALDECK_AUTH_TOKEN")

		listener := realtime.NewListener(listenerCfg, coordinator.Merger())
		subscription = listener.Subscribe(ctx, cfg.HouseholdID)
		defer subscription.Close()
	}

	mux := http.NewServeMux()
	handlers.NewSyncHandler(coordinator).Register(mux)

	addr := env("MEALDECK_LISTEN_ADDR", "localhost:8090")
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logging.Info("mealdeckd listening", map[string]interface{}{"addr": addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("HTTP server failed", err, nil)
		os.Exit(1)
	}
}
