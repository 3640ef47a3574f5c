package server

import (
	"github.com/OFFIS-RIT/kgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Source routes
	apiRoutes.GET("/topics/:topic/sources", routes.GetSourcesHandler)
	apiRoutes.POST("/topics/:topic/sources", routes.AddSourcesHandler)
	apiRoutes.POST("/topics/:topic/files", routes.UploadFilesHandler)
	apiRoutes.GET("/raw-sources/:id", routes.GetRawSourceHandler)

	// Build routes
	apiRoutes.POST("/topics/:topic/builds", routes.ScheduleBuildHandler)
	apiRoutes.GET("/builds/status", routes.GetBuildStatusHandler)

	// Memory routes
	apiRoutes.POST("/users/:user_id/chats", routes.AddChatBatchHandler)
	apiRoutes.GET("/users/:user_id/memory", routes.GetUserMemoryHandler)

	// Export routes
	apiRoutes.GET("/topics/:topic/graph", routes.GetTopicGraphHandler)
	apiRoutes.POST("/topics/:topic/graph/neo4j", routes.ProjectTopicHandler)
}
