package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lumenhub/lumen-backend-go/internal/api/handlers"
	"github.com/lumenhub/lumen-backend-go/internal/api/middleware"
	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/lumenhub/lumen-backend-go/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, h *handlers.Handlers, logger *logrus.Logger, wsHub *websocket.Hub) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.ErrorHandlingMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.MetricsMiddleware())

	// Public routes
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket endpoint (no auth required for connection)
	router.GET("/ws", websocket.HandleWebSocketGin(wsHub))

	// API v1 routes
	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	{
		entries := api.Group("/entries")
		{
			entries.GET("", h.ListEntries)
			entries.POST("", h.CreateEntry)
			entries.GET("/:id", h.GetEntry)
			entries.DELETE("/:id", h.DeleteEntry)
			entries.POST("/:id/reload", h.ReloadEntry)
			entries.PUT("/:id/options", h.UpdateOptions)
			entries.GET("/:id/diagnostics", h.GetDiagnostics)
		}

		flows := api.Group("/flows")
		{
			flows.GET("", h.ListFlows)
			flows.POST("", h.StartFlow)
			flows.GET("/:id", h.GetFlow)
			flows.POST("/:id", h.AdvanceFlow)
			flows.DELETE("/:id", h.AbortFlow)
		}

		entities := api.Group("/entities")
		{
			entities.GET("", h.ListEntities)
			entities.GET("/:id", h.GetEntity)
		}

		api.GET("/status", h.Health)
	}

	return router
}
