// Package gateway exposes the relay over HTTP
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/llm-relay/relay/internal/middleware"
	"github.com/llm-relay/relay/internal/router"
	"github.com/llm-relay/relay/internal/storage"
	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// UsageStore reads persisted usage records. Implemented by
// *storage.UsageRepository.
type UsageStore interface {
	Recent(ctx context.Context, limit int) ([]storage.UsageRecord, error)
	ByProvider(ctx context.Context, providerID string, since time.Time, limit int) ([]storage.UsageRecord, error)
	Stats(ctx context.Context, startTime, endTime time.Time) (map[string]interface{}, error)
}

// Gateway serves the relay API
type Gateway struct {
	config  *types.Config
	engine  *gin.Engine
	server  *http.Server
	router  *router.Router
	cache   *storage.Cache // may be nil when redis is disabled
	store   UsageStore     // may be nil when the database is disabled
	logger  *utils.Logger
	started time.Time
}

// New creates a new Gateway instance. cache and store may be nil; the
// usage endpoints then report unavailable.
func New(cfg *types.Config, r *router.Router, cache *storage.Cache, store UsageStore, logger *utils.Logger) *Gateway {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.RequestID())
	engine.Use(requestLoggingMiddleware(logger))

	g := &Gateway{
		config:  cfg,
		engine:  engine,
		router:  r,
		cache:   cache,
		store:   store,
		logger:  logger,
		started: time.Now(),
	}

	g.setupRoutes()
	return g
}

// setupRoutes configures the API routes
func (g *Gateway) setupRoutes() {
	g.engine.GET("/health", g.health)

	auth := middleware.NewAuthMiddleware(&g.config.Auth, g.logger)

	v1 := g.engine.Group("/v1")
	v1.Use(auth.RequireAuth())
	{
		v1.POST("/completions", g.completions)
		v1.POST("/completions/stream", g.completionsStream)
		v1.GET("/status", g.status)
		v1.GET("/usage/recent", g.usageRecent)
		v1.GET("/usage/stats", g.usageStats)
	}
}

// Start starts the gateway server and blocks until it stops
func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Server.Host, g.config.Server.Port)

	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.engine,
		ReadTimeout:  g.config.Server.ReadTimeout,
		WriteTimeout: g.config.Server.WriteTimeout,
		IdleTimeout:  g.config.Server.IdleTimeout,
	}

	g.logger.WithField("address", addr).Info("Starting relay server")

	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the gateway server
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("Shutting down relay server")

	if g.server != nil {
		return g.server.Shutdown(ctx)
	}
	return nil
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(g.started).String(),
	})
}

func requestLoggingMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithDuration(time.Since(start)).WithFields(logrus.Fields{
			"request_id": middleware.GetRequestIDFromContext(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"client_ip":  c.ClientIP(),
		}).Info("Request handled")
	}
}
