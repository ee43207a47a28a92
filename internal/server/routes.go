package server

import (
	"github.com/narrativeiq/backend/internal/server/middleware"
	"github.com/narrativeiq/backend/internal/server/routes"
	"github.com/narrativeiq/backend/pkg/metrics"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Credit routes
	apiRoutes.GET("/credits", routes.GetCreditsHandler)
	apiRoutes.POST("/admin/credits", routes.GrantCreditsHandler, middleware.RequirePermission("credits.grant"))

	// Narrative graph routes
	apiRoutes.POST("/mindmap", routes.CreateMindmapHandler)
	apiRoutes.POST("/mindmap/image", routes.CreateMindmapImageHandler)

	// Stored results
	apiRoutes.GET("/documents", routes.GetDocumentsHandler)
	apiRoutes.GET("/analyses", routes.GetAnalysesHandler)
	apiRoutes.GET("/analyses/:id/download", routes.GetAnalysisDownloadHandler)
}
