package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/ingest"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// ETLMsg asks the worker to run raw sources through the ETL pipeline.
type ETLMsg struct {
	Message       string   `json:"message,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	TopicName     string   `json:"topic_name"`
	RawSourceIDs  []string `json:"raw_source_ids"`
	Force         bool     `json:"force,omitempty"`
}

// GraphBuildMsg wakes the graph build daemon instead of waiting for its
// next tick.
type GraphBuildMsg struct {
	Message   string `json:"message,omitempty"`
	TopicName string `json:"topic_name"`
}

type RawSourceStore interface {
	GetRawSource(ctx context.Context, id string) (common.RawDataSource, error)
	ListRawSources(ctx context.Context, status string) ([]common.RawDataSource, error)
	UpdateRawSource(ctx context.Context, raw common.RawDataSource) error
}

type ETLProcessor interface {
	ProcessBatch(ctx context.Context, raws []common.RawDataSource, force bool) (ingest.BatchResult, error)
}

type BuildRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

// Handler dispatches queue messages to the pipeline stages.
type Handler struct {
	store   RawSourceStore
	etl     ETLProcessor
	builds  BuildRunner
	publish func(queueName string, body []byte) error
}

type NewHandlerParams struct {
	Store  RawSourceStore
	ETL    ETLProcessor
	Builds BuildRunner
	// Publish, when set, is used to nudge the build queue after ETL.
	Publish func(queueName string, body []byte) error
}

func NewHandler(params NewHandlerParams) *Handler {
	return &Handler{
		store:   params.Store,
		etl:     params.ETL,
		builds:  params.Builds,
		publish: params.Publish,
	}
}

func (h *Handler) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case ETLQueue:
		return h.processETL(ctx, body)
	case GraphBuildQueue:
		return h.processGraphBuild(ctx, body)
	default:
		return fmt.Errorf("unknown queue %q", queueName)
	}
}

// processETL returns an error only for failures worth retrying. Extraction
// errors are permanent and stay recorded on the raw source.
func (h *Handler) processETL(ctx context.Context, body []byte) error {
	var data ETLMsg
	if err := json.Unmarshal(body, &data); err != nil {
		logger.Error("[Queue] Dropping malformed ETL message", "err", err)
		return nil
	}

	raws := make([]common.RawDataSource, 0, len(data.RawSourceIDs))
	for _, id := range data.RawSourceIDs {
		raw, err := h.store.GetRawSource(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("[Queue] Raw source not found, skipping", "id", id)
			continue
		}
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}
	if len(raws) == 0 {
		return nil
	}

	result, err := h.etl.ProcessBatch(ctx, raws, data.Force)
	if err != nil {
		return err
	}

	var retry []error
	for id, procErr := range result.Errors {
		var extractErr *ingest.ExtractionError
		if errors.As(procErr, &extractErr) {
			continue
		}
		retry = append(retry, fmt.Errorf("%s: %w", id, procErr))
	}

	if result.Processed > 0 && h.publish != nil {
		msg, _ := json.Marshal(GraphBuildMsg{Message: "Sources processed", TopicName: data.TopicName})
		if err := h.publish(GraphBuildQueue, msg); err != nil {
			logger.Warn("[Queue] Failed to nudge graph build queue", "err", err)
		}
	}
	return errors.Join(retry...)
}

func (h *Handler) processGraphBuild(ctx context.Context, body []byte) error {
	var data GraphBuildMsg
	_ = json.Unmarshal(body, &data)

	// drain everything that is pending, the daemon picks topics itself
	for {
		worked, err := h.builds.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !worked {
			return nil
		}
		logger.Debug("[Queue] Graph build step finished", "hint_topic", data.TopicName)
	}
}

// RecoverStaleRawSources resets raw sources left in etl_processing by a
// crashed worker and republishes them.
func RecoverStaleRawSources(ctx context.Context, s RawSourceStore, publish func(queueName string, body []byte) error) (int, error) {
	stale, err := s.ListRawSources(ctx, common.RawStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale raw sources: %w", err)
	}
	if len(stale) == 0 {
		logger.Debug("[Queue] No stale raw sources found")
		return 0, nil
	}

	byTopic := map[string][]string{}
	for _, raw := range stale {
		raw.Status = common.RawStatusPending
		if err := s.UpdateRawSource(ctx, raw); err != nil {
			logger.Error("[Queue] Failed to reset raw source", "id", raw.ID, "err", err)
			continue
		}
		byTopic[raw.TopicName] = append(byTopic[raw.TopicName], raw.ID)
	}

	recovered := 0
	for topic, ids := range byTopic {
		msg, err := json.Marshal(ETLMsg{Message: "Recovered stale raw sources", TopicName: topic, RawSourceIDs: ids})
		if err != nil {
			return recovered, err
		}
		if err := publish(ETLQueue, msg); err != nil {
			logger.Error("[Queue] Failed to republish raw sources", "topic", topic, "err", err)
			continue
		}
		recovered += len(ids)
		logger.Info("[Queue] Recovered stale raw sources", "topic", topic, "count", len(ids))
	}
	return recovered, nil
}
