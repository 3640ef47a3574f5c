package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// MergeEngine writes triplets into the topic graph, resolving entities by
// exact name and relationships by (source, target, description).
type MergeEngine struct {
	store  store.GraphStore
	client ai.GraphAIClient
	retry  util.TransientPolicy
}

// NewMergeEngineParams configures a MergeEngine. Retry defaults to
// util.DefaultTransientPolicy.
type NewMergeEngineParams struct {
	Store  store.GraphStore
	Client ai.GraphAIClient
	Retry  *util.TransientPolicy
}

func NewMergeEngine(params NewMergeEngineParams) *MergeEngine {
	retry := util.DefaultTransientPolicy
	if params.Retry != nil {
		retry = *params.Retry
	}
	return &MergeEngine{store: params.Store, client: params.Client, retry: retry}
}

// ConvertResult counts the rows a conversion created.
type ConvertResult struct {
	EntitiesCreated      int `json:"entities_created"`
	RelationshipsCreated int `json:"relationships_created"`
	MappingsCreated      int `json:"mappings_created"`
}

func (r *ConvertResult) add(m store.MergeTripletResult) {
	r.EntitiesCreated += m.EntitiesCreated
	r.RelationshipsCreated += m.RelationshipsCreated
	r.MappingsCreated += m.MappingsCreated
}

// entityCache maps entity names of one topic to ids for the duration of a
// single conversion call.
type entityCache map[string]string

func (c entityCache) forget(names ...string) {
	for _, n := range names {
		delete(c, n)
	}
}

// ConvertTriplets merges triplets extracted from sourceID into topic. Each
// triplet is its own unit of work and is retried on connection loss. The
// first triplet that cannot be merged stops the conversion.
func (m *MergeEngine) ConvertTriplets(
	ctx context.Context,
	topic string,
	sourceID string,
	triplets []common.Triplet,
) (ConvertResult, error) {
	var total ConvertResult
	cache := entityCache{}

	for i, t := range triplets {
		res, err := m.mergeWithRetry(ctx, topic, sourceID, t, cache)
		if err != nil {
			return total, fmt.Errorf("merge triplet %d (%s -> %s): %w", i, t.Subject.Name, t.Object.Name, err)
		}
		total.add(res)
	}

	logger.Debug(
		"[Merge] Triplets converted",
		"topic", topic,
		"source", sourceID,
		"triplets", len(triplets),
		"entities_created", total.EntitiesCreated,
		"relationships_created", total.RelationshipsCreated,
	)
	return total, nil
}

// ConvertSkeletalGraph merges a skeletal graph into topic. An empty sourceID
// writes no mapping rows.
func (m *MergeEngine) ConvertSkeletalGraph(
	ctx context.Context,
	topic string,
	sourceID string,
	sk common.SkeletalGraph,
) (ConvertResult, error) {
	var total ConvertResult
	cache := entityCache{}
	byName := make(map[string]common.TripletEntity, len(sk.Entities))

	for _, e := range sk.Entities {
		byName[e.Name] = e
		created, err := util.RetryTransient(ctx, m.retry, func(ctx context.Context, attempt int) (bool, error) {
			if attempt > 0 {
				cache.forget(e.Name)
			}
			return m.mergeEntity(ctx, topic, sourceID, e, common.CategorySkeletal, cache)
		})
		if err != nil {
			return total, fmt.Errorf("merge skeletal entity %s: %w", e.Name, err)
		}
		if created {
			total.EntitiesCreated++
		}
	}

	for _, r := range sk.Relationships {
		t := common.Triplet{
			Subject:                entityOrName(byName, r.SourceEntity),
			Predicate:              r.Description,
			Object:                 entityOrName(byName, r.TargetEntity),
			RelationshipAttributes: r.Attributes,
			Category:               common.CategorySkeletal,
		}
		res, err := m.mergeWithRetry(ctx, topic, sourceID, t, cache)
		if err != nil {
			return total, fmt.Errorf("merge skeletal relationship %s -> %s: %w", r.SourceEntity, r.TargetEntity, err)
		}
		total.add(res)
	}

	logger.Info(
		"[Merge] Skeletal graph converted",
		"topic", topic,
		"entities_created", total.EntitiesCreated,
		"relationships_created", total.RelationshipsCreated,
	)
	return total, nil
}

func entityOrName(byName map[string]common.TripletEntity, name string) common.TripletEntity {
	if e, ok := byName[name]; ok {
		return e
	}
	return common.TripletEntity{Name: name}
}

func (m *MergeEngine) mergeWithRetry(
	ctx context.Context,
	topic, sourceID string,
	t common.Triplet,
	cache entityCache,
) (store.MergeTripletResult, error) {
	return util.RetryTransient(ctx, m.retry, func(ctx context.Context, attempt int) (store.MergeTripletResult, error) {
		if attempt > 0 {
			// A rolled back attempt may have cached ids that were never committed.
			cache.forget(t.Subject.Name, t.Object.Name)
			logger.Warn("[Merge] Retrying triplet", "subject", t.Subject.Name, "object", t.Object.Name, "attempt", attempt+1)
		}
		return m.mergeTriplet(ctx, topic, sourceID, t, cache)
	})
}

// lookupEntity returns the id of name in topic, or "" when it does not exist.
func (m *MergeEngine) lookupEntity(ctx context.Context, topic, name string, cache entityCache) (string, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	e, err := m.store.FindEntityByName(ctx, topic, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cache[name] = e.ID
	return e.ID, nil
}

// mergeTriplet reads what already exists, embeds only the missing elements
// and then writes everything in one store call.
func (m *MergeEngine) mergeTriplet(
	ctx context.Context,
	topic, sourceID string,
	t common.Triplet,
	cache entityCache,
) (store.MergeTripletResult, error) {
	subjectID, err := m.lookupEntity(ctx, topic, t.Subject.Name, cache)
	if err != nil {
		return store.MergeTripletResult{}, err
	}
	objectID, err := m.lookupEntity(ctx, topic, t.Object.Name, cache)
	if err != nil {
		return store.MergeTripletResult{}, err
	}
	relExists := false
	if subjectID != "" && objectID != "" {
		_, err := m.store.FindRelationship(ctx, subjectID, objectID, t.Predicate)
		switch {
		case err == nil:
			relExists = true
		case !errors.Is(err, store.ErrNotFound):
			return store.MergeTripletResult{}, err
		}
	}

	subject := entityInput(t.Subject, t.Category)
	object := entityInput(t.Object, t.Category)
	rel := store.RelationshipInput{
		Description: t.Predicate,
		Attributes:  relationshipAttrs(t),
	}

	var inputs [][]byte
	var targets []*[]float32
	if subjectID == "" {
		inputs = append(inputs, []byte(store.EmbeddingText(subject.Name, subject.Description)))
		targets = append(targets, &subject.Embedding)
	}
	if objectID == "" && t.Object.Name != t.Subject.Name {
		inputs = append(inputs, []byte(store.EmbeddingText(object.Name, object.Description)))
		targets = append(targets, &object.Embedding)
	}
	if !relExists {
		inputs = append(inputs, []byte(t.Predicate))
		targets = append(targets, &rel.Embedding)
	}
	embeddings, err := store.GenerateEmbeddings(ctx, m.client, inputs)
	if err != nil {
		return store.MergeTripletResult{}, fmt.Errorf("embed triplet: %w", err)
	}
	for i, emb := range embeddings {
		*targets[i] = emb
	}

	res, err := m.store.MergeTriplet(ctx, store.MergeTripletParams{
		Topic:        topic,
		SourceID:     sourceID,
		Subject:      subject,
		Object:       object,
		Relationship: rel,
	})
	if err != nil {
		return store.MergeTripletResult{}, err
	}
	cache[t.Subject.Name] = res.SubjectID
	cache[t.Object.Name] = res.ObjectID
	return res, nil
}

func (m *MergeEngine) mergeEntity(
	ctx context.Context,
	topic, sourceID string,
	e common.TripletEntity,
	category common.TripletCategory,
	cache entityCache,
) (bool, error) {
	id, err := m.lookupEntity(ctx, topic, e.Name, cache)
	if err != nil {
		return false, err
	}
	in := entityInput(e, category)
	if id == "" {
		emb, err := m.client.GenerateEmbedding(ctx, []byte(store.EmbeddingText(in.Name, in.Description)))
		if err != nil {
			return false, fmt.Errorf("embed entity: %w", err)
		}
		in.Embedding = emb
	}

	id, created, err := m.store.MergeEntity(ctx, store.MergeEntityParams{
		Topic:    topic,
		SourceID: sourceID,
		Entity:   in,
	})
	if err != nil {
		return false, err
	}
	cache[e.Name] = id
	return created, nil
}

func entityInput(e common.TripletEntity, category common.TripletCategory) store.EntityInput {
	attrs := common.CloneAttrs(e.Attributes)
	attrs[common.AttrCategory] = string(category)
	return store.EntityInput{
		Name:        e.Name,
		Description: e.Description,
		Attributes:  attrs,
	}
}

func relationshipAttrs(t common.Triplet) map[string]any {
	attrs := common.CloneAttrs(t.RelationshipAttributes)
	attrs[common.AttrCategory] = string(t.Category)
	return attrs
}
