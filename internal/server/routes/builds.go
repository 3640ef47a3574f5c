package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/tenant"

	"github.com/labstack/echo/v4"
)

// ScheduleBuildHandler queues a graph build for every source of a topic.
// An optional external_database_uri builds the topic in that database.
func ScheduleBuildHandler(c echo.Context) error {
	type scheduleBuildBody struct {
		ExternalDatabaseURI string `json:"external_database_uri" validate:"omitempty,url"`
	}
	type scheduleBuildResponse struct {
		Message string `json:"message"`
		BuildID string `json:"build_id,omitempty"`
		Tasks   int    `json:"tasks"`
	}

	data := new(scheduleBuildBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, scheduleBuildResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, scheduleBuildResponse{Message: "Invalid request body"})
	}

	topic := c.Param("topic")
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	st, err := app.StoreFor(ctx, data.ExternalDatabaseURI)
	if errors.Is(err, tenant.ErrNotConfigured) {
		return c.JSON(http.StatusBadRequest, scheduleBuildResponse{Message: "External databases are not configured"})
	}
	if err != nil {
		logger.Error("[Server] Failed to open topic database", "topic", topic, "err", err)
		return c.JSON(http.StatusInternalServerError, scheduleBuildResponse{Message: "Internal server error"})
	}

	sources, err := st.ListSources(ctx, topic)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, scheduleBuildResponse{Message: "Internal server error"})
	}
	if len(sources) == 0 {
		return c.JSON(http.StatusNotFound, scheduleBuildResponse{Message: "Topic has no sources"})
	}

	buildID := util.NewToken("build_")
	builds := make([]common.GraphBuild, 0, len(sources))
	for _, src := range sources {
		builds = append(builds, common.GraphBuild{
			ID:                  util.NewID(),
			BuildID:             buildID,
			TopicName:           topic,
			ExternalDatabaseURI: data.ExternalDatabaseURI,
			DocLink:             src.Link,
			SourceID:            src.ID,
			Status:              common.BuildPending,
		})
	}
	if err := app.Store.CreateGraphBuilds(ctx, builds); err != nil {
		logger.Error("[Server] Failed to schedule build", "topic", topic, "err", err)
		return c.JSON(http.StatusInternalServerError, scheduleBuildResponse{Message: "Internal server error"})
	}

	if app.Publish != nil {
		msg, _ := json.Marshal(queue.GraphBuildMsg{Message: "Build scheduled", TopicName: topic})
		if err := app.Publish(queue.GraphBuildQueue, msg); err != nil {
			logger.Warn("[Server] Failed to nudge build queue, daemon will pick it up", "err", err)
		}
	}

	return c.JSON(http.StatusAccepted, scheduleBuildResponse{Message: "Build scheduled", BuildID: buildID, Tasks: len(builds)})
}

// GetBuildStatusHandler returns the number of build tasks per status.
func GetBuildStatusHandler(c echo.Context) error {
	type buildStatusResponse struct {
		Message string             `json:"message"`
		Counts  common.BuildCounts `json:"counts"`
		Total   int                `json:"total"`
	}

	app := c.(*middleware.AppContext).App
	counts, err := app.Store.CountGraphBuilds(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, buildStatusResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, buildStatusResponse{Message: "OK", Counts: counts, Total: counts.Total()})
}
