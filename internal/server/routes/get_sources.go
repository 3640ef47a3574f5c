package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetSourcesHandler lists the registered sources of a topic.
func GetSourcesHandler(c echo.Context) error {
	type getSourcesResponse struct {
		Message string              `json:"message"`
		Sources []common.SourceData `json:"sources"`
	}

	app := c.(*middleware.AppContext).App
	sources, err := app.Store.ListSources(c.Request().Context(), c.Param("topic"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getSourcesResponse{Message: "Internal server error"})
	}
	if sources == nil {
		sources = []common.SourceData{}
	}
	return c.JSON(http.StatusOK, getSourcesResponse{Message: "OK", Sources: sources})
}

// GetRawSourceHandler reports the ETL status of one raw source.
func GetRawSourceHandler(c echo.Context) error {
	type getRawSourceResponse struct {
		Message   string                `json:"message"`
		RawSource *common.RawDataSource `json:"raw_source,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	raw, err := app.Store.GetRawSource(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, getRawSourceResponse{Message: "Raw source not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getRawSourceResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, getRawSourceResponse{Message: "OK", RawSource: &raw})
}
