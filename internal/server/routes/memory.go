package routes

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/export"
	"github.com/OFFIS-RIT/kgraph/pkg/ingest"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/tenant"

	"github.com/labstack/echo/v4"
)

const memoryNotConfigured = "User memory is not configured"

type chatResponse struct {
	Message string                  `json:"message"`
	Result  *ingest.ChatBatchResult `json:"result,omitempty"`
}

// AddChatBatchHandler stores a chat batch in the user's personal memory and
// queues a graph build for it.
func AddChatBatchHandler(c echo.Context) error {
	type chatBody struct {
		Messages            []common.ChatMessage `json:"messages" validate:"required,min=1,dive"`
		ExternalDatabaseURI string               `json:"external_database_uri" validate:"omitempty,url"`
	}

	app := c.(*middleware.AppContext).App
	if app.Chats == nil {
		return c.JSON(http.StatusNotImplemented, chatResponse{Message: memoryNotConfigured})
	}

	userID := strings.TrimSpace(c.Param("user_id"))
	data := new(chatBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, chatResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil || userID == "" {
		return c.JSON(http.StatusBadRequest, chatResponse{Message: "Invalid request body"})
	}
	if data.ExternalDatabaseURI != "" && app.Tenants == nil {
		return c.JSON(http.StatusBadRequest, chatResponse{Message: externalNotConfigured})
	}

	res, err := app.Chats.ProcessChatBatch(c.Request().Context(), ingest.ChatBatch{
		UserID:              userID,
		Messages:            data.Messages,
		ExternalDatabaseURI: data.ExternalDatabaseURI,
	})
	if err != nil {
		logger.Error("[Server] Failed to store chat batch", "user", userID, "err", err)
		return c.JSON(http.StatusInternalServerError, chatResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusAccepted, chatResponse{Message: "Chat batch queued", Result: &res})
}

// GetUserMemoryHandler returns the conversations and insights of a user that
// match the query parameter q.
func GetUserMemoryHandler(c echo.Context) error {
	type memoryQuery struct {
		Query               string `query:"q" validate:"required"`
		Types               string `query:"types"`
		Start               string `query:"start"`
		End                 string `query:"end"`
		TopK                int    `query:"top_k" validate:"omitempty,min=1,max=50"`
		ExternalDatabaseURI string `query:"external_database_uri" validate:"omitempty,url"`
	}

	app := c.(*middleware.AppContext).App
	if app.Embedder == nil {
		return c.JSON(http.StatusNotImplemented, sourceResponse{Message: memoryNotConfigured})
	}

	userID := strings.TrimSpace(c.Param("user_id"))
	data := new(memoryQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid query"})
	}
	if err := c.Validate(data); err != nil || userID == "" {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid query"})
	}

	q := export.MemoryQuery{UserID: userID, Query: data.Query, TopK: data.TopK}
	if data.Types != "" {
		q.Types = strings.Split(data.Types, ",")
	}
	var err error
	if q.Start, err = parseOptionalTime(data.Start); err != nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid start time"})
	}
	if q.End, err = parseOptionalTime(data.End); err != nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid end time"})
	}

	ctx := c.Request().Context()
	st, err := app.StoreFor(ctx, data.ExternalDatabaseURI)
	if errors.Is(err, tenant.ErrNotConfigured) {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: externalNotConfigured})
	}
	if err != nil {
		logger.Error("[Server] Failed to open external database", "err", err)
		return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
	}

	mem, err := export.RetrieveUserMemory(ctx, st, app.Embedder, q)
	if err != nil {
		logger.Error("[Server] Failed to retrieve user memory", "user", userID, "err", err)
		return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, mem)
}

func parseOptionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
