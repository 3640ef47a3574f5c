package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

const externalNotConfigured = "External databases are not configured"

type sourceResponse struct {
	Message    string                 `json:"message"`
	RawSources []common.RawDataSource `json:"raw_sources,omitempty"`
}

// AddSourcesHandler registers links for ETL and queues them.
func AddSourcesHandler(c echo.Context) error {
	type sourceBody struct {
		Link       string         `json:"link" validate:"required"`
		Name       string         `json:"name"`
		SourceType string         `json:"source_type" validate:"omitempty,oneof=document chat"`
		Metadata   map[string]any `json:"metadata"`
	}
	type addSourcesBody struct {
		Sources             []sourceBody `json:"sources" validate:"required,min=1,dive"`
		Force               bool         `json:"force"`
		ExternalDatabaseURI string       `json:"external_database_uri" validate:"omitempty,url"`
	}

	topic := c.Param("topic")
	data := new(addSourcesBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	if data.ExternalDatabaseURI != "" && app.Tenants == nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: externalNotConfigured})
	}

	raws := make([]common.RawDataSource, 0, len(data.Sources))
	for _, src := range data.Sources {
		raw, err := app.Store.CreateRawSource(ctx, common.RawDataSource{
			TopicName:           topic,
			Name:                src.Name,
			Link:                src.Link,
			SourceType:          src.SourceType,
			Metadata:            src.Metadata,
			ExternalDatabaseURI: data.ExternalDatabaseURI,
		})
		if err != nil {
			logger.Error("[Server] Failed to create raw source", "topic", topic, "link", src.Link, "err", err)
			return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
		}
		raws = append(raws, raw)
	}

	if err := enqueueETL(app, topic, raws, data.Force); err != nil {
		logger.Error("[Server] Failed to queue ETL job", "topic", topic, "err", err)
		return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, sourceResponse{Message: "Sources queued", RawSources: raws})
}

// UploadFilesHandler stores multipart uploads and queues them like links.
func UploadFilesHandler(c echo.Context) error {
	topic := c.Param("topic")
	app := c.(*middleware.AppContext).App
	if app.Uploads == nil {
		return c.JSON(http.StatusNotImplemented, sourceResponse{Message: "File uploads are not configured"})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid multipart form"})
	}
	uri := c.FormValue("external_database_uri")
	if uri != "" && app.Tenants == nil {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: externalNotConfigured})
	}
	files := form.File["files"]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, sourceResponse{Message: "No files provided"})
	}

	ctx := c.Request().Context()
	raws := make([]common.RawDataSource, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, sourceResponse{Message: "Invalid file"})
		}
		link, err := app.Uploads.Put(ctx, topic, fh.Filename, f)
		f.Close()
		if err != nil {
			logger.Error("[Server] Failed to store upload", "topic", topic, "file", fh.Filename, "err", err)
			return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
		}

		raw, err := app.Store.CreateRawSource(ctx, common.RawDataSource{
			TopicName:           topic,
			Name:                fh.Filename,
			Link:                link,
			Metadata:            map[string]any{common.AttrOriginalName: fh.Filename},
			ExternalDatabaseURI: uri,
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
		}
		raws = append(raws, raw)
	}

	if err := enqueueETL(app, topic, raws, false); err != nil {
		logger.Error("[Server] Failed to queue ETL job", "topic", topic, "err", err)
		return c.JSON(http.StatusInternalServerError, sourceResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusAccepted, sourceResponse{Message: "Files queued", RawSources: raws})
}

func enqueueETL(app *middleware.App, topic string, raws []common.RawDataSource, force bool) error {
	if app.Publish == nil {
		return nil
	}
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		ids = append(ids, raw.ID)
	}
	msg, err := json.Marshal(queue.ETLMsg{Message: "Sources added", TopicName: topic, RawSourceIDs: ids, Force: force})
	if err != nil {
		return err
	}
	return app.Publish(queue.ETLQueue, msg)
}
