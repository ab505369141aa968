// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/presence-go/internal/application/container"
	"github.com/AtRiskMedia/presence-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/presence-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.CustomerMiddleware())
	r.Use(middleware.RateLimitMiddleware())

	presenceHandlers := handlers.NewPresenceHandlers(container.PresenceService, container.Logger)
	wsHandler := handlers.NewWebsocketHandler(container.Fleet, container.Logger)
	adminHandlers := handlers.NewAdminHandlers(container)

	presenceAPI := r.Group("/presence")
	{
		presenceAPI.POST("/join", presenceHandlers.PostJoin)
		presenceAPI.POST("/beat", presenceHandlers.PostBeat)
		presenceAPI.POST("/leave", presenceHandlers.PostLeave)
		presenceAPI.POST("/ttl-refresh", presenceHandlers.PostRefreshTTL)

		admin := presenceAPI.Group("/admin")
		{
			admin.GET("/snapshot", adminHandlers.GetSnapshot)
			admin.POST("/ema-alpha", adminHandlers.PostEMAAlpha)
			admin.GET("/log-levels", adminHandlers.GetLogLevels)
			admin.POST("/log-levels", adminHandlers.PostLogLevel)
		}
	}

	r.GET("/active-users/metrics", presenceHandlers.GetMetrics)
	r.GET("/ws/active-users", wsHandler.Serve)

	return r
}
