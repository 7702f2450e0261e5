// Package main provides the entry point for the relay server
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/llm-relay/relay/internal/config"
	"github.com/llm-relay/relay/internal/gateway"
	"github.com/llm-relay/relay/internal/providers"
	"github.com/llm-relay/relay/internal/router"
	"github.com/llm-relay/relay/internal/storage"
	"github.com/llm-relay/relay/internal/usage"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	manager := config.NewManager()
	if err := manager.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := manager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := manager.Get()

	logger := utils.NewLogger(&cfg.Logging)

	registry := providers.NewRegistry(logger)
	for i := range cfg.Providers {
		settings := cfg.Providers[i]
		client := providers.NewOpenAIClient(&settings, logger)
		if err := registry.Register(client); err != nil {
			log.Fatalf("Failed to register provider %s: %v", settings.Name, err)
		}
	}
	if len(registry.Names()) == 0 {
		log.Fatal("No providers configured")
	}

	// Usage sinks. Storage backends are optional; the structured log
	// always receives events.
	recorders := []usage.Recorder{usage.NewLogRecorder(logger)}

	var db *storage.Database
	if cfg.Database.Enabled {
		var err error
		db, err = storage.NewDatabase(&cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Warn("Usage database unavailable, continuing without persistence")
		} else {
			if err := db.AutoMigrate(); err != nil {
				log.Fatalf("Database migration failed: %v", err)
			}
			recorders = append(recorders, db)
			defer db.Close()
		}
	}

	var cache *storage.Cache
	if cfg.Redis.Enabled {
		var err error
		cache, err = storage.NewCache(&cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without usage cache")
			cache = nil
		} else {
			recorders = append(recorders, cache)
			defer cache.Close()
		}
	}

	table := router.NewTableFromConfig(&cfg.Routing)
	r := router.New(routerConfig(cfg), table, registry, logger,
		router.WithRecorder(usage.NewMultiRecorder(recorders...)))

	// Hot-reload the routing table on config file changes.
	manager.Watch(func(updated *types.Config) {
		r.UpdateTable(router.NewTableFromConfig(&updated.Routing))
	})

	var store gateway.UsageStore
	if db != nil {
		store = db.UsageRepo()
	}
	gw := gateway.New(cfg, r, cache, store, logger)

	go func() {
		if err := gw.Start(); err != nil {
			log.Fatalf("Failed to start gateway: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// routerConfig maps the loaded configuration onto the router's defaults
// plus per-provider overrides
func routerConfig(cfg *types.Config) *router.Config {
	rc := &router.Config{
		Breaker:          cfg.Breaker,
		Retry:            cfg.Retry,
		BreakerOverrides: make(map[string]types.BreakerConfig),
		RetryOverrides:   make(map[string]types.RetryConfig),
	}
	for _, p := range cfg.Providers {
		if p.Breaker != nil {
			rc.BreakerOverrides[p.Name] = *p.Breaker
		}
		if p.Retry != nil {
			rc.RetryOverrides[p.Name] = *p.Retry
		}
	}
	return rc
}
