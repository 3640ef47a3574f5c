package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/pkg/export"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetTopicGraphHandler returns the topic graph as JSON.
func GetTopicGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	g, err := export.TopicGraph(c.Request().Context(), app.Store, c.Param("topic"))
	if err != nil {
		logger.Error("[Server] Failed to export topic", "topic", c.Param("topic"), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, g)
}

// ProjectTopicHandler mirrors the topic graph into Neo4j.
func ProjectTopicHandler(c echo.Context) error {
	type projectResponse struct {
		Message       string `json:"message"`
		Entities      int    `json:"entities"`
		Relationships int    `json:"relationships"`
	}

	app := c.(*middleware.AppContext).App
	if !app.Projector.Enabled() {
		return c.JSON(http.StatusNotImplemented, projectResponse{Message: "Neo4j export is not configured"})
	}

	ctx := c.Request().Context()
	topic := c.Param("topic")
	g, err := export.TopicGraph(ctx, app.Store, topic)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, projectResponse{Message: "Internal server error"})
	}
	if err := app.Projector.Project(ctx, g); err != nil {
		logger.Error("[Server] Failed to project topic", "topic", topic, "err", err)
		return c.JSON(http.StatusBadGateway, projectResponse{Message: "Neo4j projection failed"})
	}
	return c.JSON(http.StatusOK, projectResponse{Message: "Projected", Entities: len(g.Entities), Relationships: len(g.Relationships)})
}
