package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gexcorp/capi-bridge/internal/auth"
	"github.com/gexcorp/capi-bridge/internal/handlers"
	"github.com/gexcorp/capi-bridge/internal/ingest"
	"github.com/gexcorp/capi-bridge/internal/store"
)

// NewRouter wires public endpoints and the authenticated admin API.
// Public: /health, /api/v1/health/, /api/v1/webhook/*
// Authenticated (X-API-Key): /api/v1/leads, /api/v1/orders, /api/v1/events
func NewRouter(st *store.PostgresStore, proc *ingest.Processor, adminKeys map[string]string, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	// Readiness-style health: confirms the DB dependency is reachable.
	api.GET("/health/", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy", "database": "disconnected", "error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
	})

	// Webhooks are public: upstream platforms cannot sign requests.
	handlers.RegisterWebhookRoutes(api, proc, log)

	// Admin reads require an API key.
	admin := api.Group("/")
	admin.Use(auth.APIKeyMiddleware(adminKeys))
	handlers.RegisterAdminRoutes(admin, st, log)

	return r
}
