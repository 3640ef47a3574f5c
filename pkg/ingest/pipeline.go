// Package ingest turns raw uploads and links into content rows and sources.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/loader"
	"github.com/OFFIS-RIT/kgraph/pkg/loader/csv"
	"github.com/OFFIS-RIT/kgraph/pkg/loader/web"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
	"github.com/OFFIS-RIT/kgraph/pkg/tenant"

	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Store is the persistence the pipeline writes to.
type Store interface {
	store.ContentStore
	store.SourceRegistry
	store.RawSourceStore
	CreateGraphBuilds(ctx context.Context, builds []common.GraphBuild) error
}

// SourceStores resolves the store of an external database. *tenant.Pool
// implements it.
type SourceStores interface {
	Store(ctx context.Context, uri string) (store.Store, error)
}

type sourceStore interface {
	store.ContentStore
	store.SourceRegistry
}

// ExtractionError reports a document whose text could not be extracted.
type ExtractionError struct {
	Link        string
	ContentType string
	Err         error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from %s (%s): %v", e.Link, e.ContentType, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

var errUnsupported = errors.New("unsupported content type")

type Pipeline struct {
	store          Store
	tenants        SourceStores
	summarizer     ai.Completer
	loader         loader.Loader
	scheduleBuilds bool
	workers        int
}

type NewPipelineParams struct {
	Store Store
	// Tenants receives content and sources of raw sources that name an
	// external database. Raw sources and build tasks always stay in Store.
	Tenants SourceStores
	// Summarizer writes the summary of a chat batch. Batches are stored
	// without one when it is nil.
	Summarizer ai.Completer
	Loader     loader.Loader
	// ScheduleBuilds queues a pending graph build for every processed source.
	ScheduleBuilds bool
	Workers        int
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		store:          params.Store,
		tenants:        params.Tenants,
		summarizer:     params.Summarizer,
		loader:         params.Loader,
		scheduleBuilds: params.ScheduleBuilds,
		workers:        workers,
	}
}

// Process runs one raw source through load, extract and register. A source
// that already completed is returned unchanged unless force is set.
func (p *Pipeline) Process(ctx context.Context, raw common.RawDataSource, force bool) (common.SourceData, error) {
	return p.process(ctx, p.loader, raw, force, util.NewToken("build_"))
}

func (p *Pipeline) sourceStore(ctx context.Context, uri string) (sourceStore, error) {
	if uri == "" {
		return p.store, nil
	}
	if p.tenants == nil {
		return nil, tenant.ErrNotConfigured
	}
	return p.tenants.Store(ctx, uri)
}

func (p *Pipeline) process(ctx context.Context, l loader.Loader, raw common.RawDataSource, force bool, buildID string) (common.SourceData, error) {
	if raw.Status == common.RawStatusCompleted && raw.SourceDataID != "" && !force {
		logger.Debug("[ETL] Raw source already processed", "id", raw.ID, "source_id", raw.SourceDataID)
		target, err := p.sourceStore(ctx, raw.ExternalDatabaseURI)
		if err != nil {
			return common.SourceData{}, err
		}
		return target.GetSource(ctx, raw.SourceDataID)
	}

	raw.Status = common.RawStatusProcessing
	raw.ErrorMessage = ""
	if err := p.store.UpdateRawSource(ctx, raw); err != nil {
		return common.SourceData{}, fmt.Errorf("failed to mark raw source processing: %w", err)
	}

	src, err := p.run(ctx, l, raw, buildID)
	if err != nil {
		raw.Status = common.RawStatusFailed
		raw.ErrorMessage = err.Error()
		if updateErr := p.store.UpdateRawSource(context.WithoutCancel(ctx), raw); updateErr != nil {
			logger.Error("[ETL] Failed to mark raw source failed", "id", raw.ID, "err", updateErr)
		}
		logger.Warn("[ETL] Raw source failed", "id", raw.ID, "link", raw.Link, "err", err)
		return common.SourceData{}, err
	}

	raw.Status = common.RawStatusCompleted
	raw.SourceDataID = src.ID
	if err := p.store.UpdateRawSource(ctx, raw); err != nil {
		return src, fmt.Errorf("failed to mark raw source completed: %w", err)
	}
	return src, nil
}

func (p *Pipeline) run(ctx context.Context, l loader.Loader, raw common.RawDataSource, buildID string) (common.SourceData, error) {
	target, err := p.sourceStore(ctx, raw.ExternalDatabaseURI)
	if err != nil {
		return common.SourceData{}, err
	}

	doc, err := l.Load(ctx, raw.Link)
	if err != nil {
		return common.SourceData{}, fmt.Errorf("failed to load %s: %w", raw.Link, err)
	}

	hash := util.ContentHash(doc.Data)
	if _, err := target.GetContent(ctx, hash); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return common.SourceData{}, err
		}
		text, err := Extract(doc)
		if err != nil {
			return common.SourceData{}, err
		}
		if _, err := target.PutContent(ctx, common.Content{
			Hash:        hash,
			Content:     text,
			Size:        int64(len(doc.Data)),
			ContentType: doc.ContentType,
			Name:        doc.Name,
			Link:        raw.Link,
		}); err != nil {
			return common.SourceData{}, fmt.Errorf("failed to store content: %w", err)
		}
	} else {
		logger.Debug("[ETL] Reusing stored content", "link", raw.Link, "hash", hash)
	}

	name := raw.Name
	if name == "" {
		name = doc.Name
	}
	sourceType := raw.SourceType
	if sourceType == "" {
		sourceType = common.SourceTypeDocument
	}

	attrs := map[string]any{
		common.AttrTopicName:    raw.TopicName,
		common.AttrDocLink:      raw.Link,
		common.AttrOriginalName: doc.Name,
	}
	for k, v := range raw.Metadata {
		attrs[k] = v
	}

	src, created, err := target.UpsertSource(ctx, common.SourceData{
		Name:        name,
		Link:        raw.Link,
		TopicName:   raw.TopicName,
		ContentHash: hash,
		SourceType:  sourceType,
		Attributes:  attrs,
	})
	if err != nil {
		return common.SourceData{}, fmt.Errorf("failed to register source: %w", err)
	}
	logger.Info("[ETL] Source registered", "topic", raw.TopicName, "source_id", src.ID, "name", name, "created", created)

	if p.scheduleBuilds {
		if err := p.store.CreateGraphBuilds(ctx, []common.GraphBuild{{
			ID:                  util.NewID(),
			BuildID:             buildID,
			TopicName:           raw.TopicName,
			ExternalDatabaseURI: raw.ExternalDatabaseURI,
			DocLink:             raw.Link,
			SourceID:            src.ID,
			Status:              common.BuildPending,
		}}); err != nil {
			return src, fmt.Errorf("failed to schedule graph build: %w", err)
		}
	}
	return src, nil
}

// BatchResult summarises a ProcessBatch call. Errors is keyed by raw source id.
type BatchResult struct {
	Processed int
	Failed    int
	Sources   []common.SourceData
	Errors    map[string]error
}

// ProcessBatch processes every item independently; one failing item never
// stops the others. The only error returned is a cancelled context. Links
// repeated within the batch are fetched once.
func (p *Pipeline) ProcessBatch(ctx context.Context, raws []common.RawDataSource, force bool) (BatchResult, error) {
	result := BatchResult{Errors: map[string]error{}}
	buildID := util.NewToken("build_")
	cached := loader.NewCached(p.loader)

	var mu sync.Mutex
	sources := make([]*common.SourceData, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, raw := range raws {
		g.Go(func() error {
			src, err := p.process(gctx, cached, raw, force, buildID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors[raw.ID] = err
				return nil
			}
			result.Processed++
			sources[i] = &src
			return nil
		})
	}
	_ = g.Wait()

	for _, src := range sources {
		if src != nil {
			result.Sources = append(result.Sources, *src)
		}
	}
	logger.Info("[ETL] Batch finished", "processed", result.Processed, "failed", result.Failed)
	return result, ctx.Err()
}

// ProcessPending runs every pending raw source of the store.
func (p *Pipeline) ProcessPending(ctx context.Context) (BatchResult, error) {
	pending, err := p.store.ListRawSources(ctx, common.RawStatusPending)
	if err != nil {
		return BatchResult{}, err
	}
	return p.ProcessBatch(ctx, pending, false)
}

// Extract returns the text of doc by content type: plain text and markdown
// pass through, HTML is reduced to its article text, CSV is normalised.
func Extract(doc loader.Document) (string, error) {
	mediaType, _, err := mime.ParseMediaType(doc.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(doc.ContentType))
	}

	var text string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err = web.ExtractArticle(doc.Data, doc.Link)
	case mediaType == "text/csv":
		text, err = csv.ToText(doc.Data)
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
		text = util.CleanText(string(doc.Data))
	default:
		err = errUnsupported
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("document contains no text")
	}
	if err != nil {
		return "", &ExtractionError{Link: doc.Link, ContentType: doc.ContentType, Err: err}
	}
	return text, nil
}
