package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		orgs := v1.Group("/orgs/:org")
		{
			orgs.GET("/summary", handler.GetSummary)
			orgs.GET("/runs", handler.GetRuns)

			audits := orgs.Group("/audits")
			{
				audits.GET("", handler.GetAudits)
				audits.GET("/:repo", handler.GetAudit)
			}
		}
	}

	return router
}
