package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

var fastRetry = &util.TransientPolicy{MaxTries: 3, Backoff: time.Millisecond}

func tri(subject, predicate, object string) common.Triplet {
	return common.Triplet{
		Subject:   common.TripletEntity{Name: subject, Description: subject + " is a thing"},
		Predicate: predicate,
		Object:    common.TripletEntity{Name: object, Description: object + " is a thing"},
		Category:  common.CategoryNarrative,
	}
}

func TestConvertTriplets_IdempotentPerSource(t *testing.T) {
	s := memory.New()
	client := aitest.New()
	m := NewMergeEngine(NewMergeEngineParams{Store: s, Client: client, Retry: fastRetry})
	triplets := []common.Triplet{
		tri("TiDB", "stores data in", "TiKV"),
		tri("TiDB", "is scheduled by", "PD"),
	}

	first, err := m.ConvertTriplets(context.Background(), testTopic, "src-1", triplets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.EntitiesCreated != 3 || first.RelationshipsCreated != 2 || first.MappingsCreated != 5 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := m.ConvertTriplets(context.Background(), testTopic, "src-1", triplets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != (ConvertResult{}) {
		t.Fatalf("expected nothing new on rerun, got %+v", second)
	}

	third, err := m.ConvertTriplets(context.Background(), testTopic, "src-2", triplets[:1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.EntitiesCreated != 0 || third.RelationshipsCreated != 0 || third.MappingsCreated != 3 {
		t.Fatalf("expected only mappings for a second source, got %+v", third)
	}
}

func TestConvertTriplets_EmbedsOnlyMissingElements(t *testing.T) {
	s := memory.New()
	client := aitest.New()
	m := NewMergeEngine(NewMergeEngineParams{Store: s, Client: client, Retry: fastRetry})
	ctx := context.Background()

	if _, err := m.ConvertTriplets(ctx, testTopic, "src-1", []common.Triplet{tri("A", "knows", "B")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := client.EmbeddingCalls(); n != 3 {
		t.Fatalf("expected 3 embeddings, got %d", n)
	}

	if _, err := m.ConvertTriplets(ctx, testTopic, "src-2", []common.Triplet{tri("A", "knows", "B")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := client.EmbeddingCalls(); n != 3 {
		t.Fatalf("expected no embeddings for existing elements, got %d", n-3)
	}

	if _, err := m.ConvertTriplets(ctx, testTopic, "src-2", []common.Triplet{tri("A", "likes", "C")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := client.EmbeddingCalls(); n != 5 {
		t.Fatalf("expected 2 more embeddings, got %d", n-3)
	}

	a, _ := s.FindEntityByName(ctx, testTopic, "A")
	if got := aitest.Embedding("A is a thing"); len(a.Embedding) != len(got) || a.Embedding[0] != got[0] {
		t.Fatalf("expected entity embedded from its description")
	}
}

func TestConvertTriplets_TopicScoped(t *testing.T) {
	s := memory.New()
	m := NewMergeEngine(NewMergeEngineParams{Store: s, Client: aitest.New(), Retry: fastRetry})
	ctx := context.Background()

	if _, err := m.ConvertTriplets(ctx, "topic-a", "src-1", []common.Triplet{tri("A", "knows", "B")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := m.ConvertTriplets(ctx, "topic-b", "src-1", []common.Triplet{tri("A", "knows", "B")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntitiesCreated != 2 {
		t.Fatalf("expected separate entities per topic, got %+v", res)
	}
}

// flakyStore drops the connection on the first MergeTriplet calls.
type flakyStore struct {
	*memory.Store
	failures atomic.Int32
	err      error
}

func (f *flakyStore) MergeTriplet(ctx context.Context, p store.MergeTripletParams) (store.MergeTripletResult, error) {
	if f.failures.Add(-1) >= 0 {
		return store.MergeTripletResult{}, f.err
	}
	return f.Store.MergeTriplet(ctx, p)
}

func TestConvertTriplets_RetriesTransientErrors(t *testing.T) {
	s := &flakyStore{Store: memory.New(), err: errors.New("write tcp: broken pipe")}
	s.failures.Store(2)
	m := NewMergeEngine(NewMergeEngineParams{Store: s, Client: aitest.New(), Retry: fastRetry})

	res, err := m.ConvertTriplets(context.Background(), testTopic, "src-1", []common.Triplet{tri("A", "knows", "B")})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if res.EntitiesCreated != 2 || res.RelationshipsCreated != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	entities, _ := s.TopicEntities(context.Background(), testTopic)
	if len(entities) != 2 {
		t.Fatalf("expected exactly 2 entities after retries, got %d", len(entities))
	}
}

func TestConvertTriplets_PermanentErrorStops(t *testing.T) {
	s := &flakyStore{Store: memory.New(), err: errors.New("value too long")}
	s.failures.Store(1)
	m := NewMergeEngine(NewMergeEngineParams{Store: s, Client: aitest.New(), Retry: fastRetry})

	_, err := m.ConvertTriplets(context.Background(), testTopic, "src-1", []common.Triplet{
		tri("A", "knows", "B"),
		tri("B", "knows", "C"),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	entities, _ := s.TopicEntities(context.Background(), testTopic)
	if len(entities) != 0 {
		t.Fatalf("expected conversion to stop at the first triplet, got %d entities", len(entities))
	}
}

func TestConvertSkeletalGraph_WithoutSource(t *testing.T) {
	s := memory.New()
	m := NewMergeEngine(NewMergeEngineParams{Store: s, Client: aitest.New(), Retry: fastRetry})
	sk := common.SkeletalGraph{
		Entities: []common.TripletEntity{
			{Name: "TiDB", Description: "SQL layer"},
			{Name: "PD", Description: "placement driver"},
		},
		Relationships: []common.SkeletalRelationship{
			{SourceEntity: "PD", TargetEntity: "TiDB", Description: "schedules regions for"},
		},
	}

	res, err := m.ConvertSkeletalGraph(context.Background(), testTopic, "", sk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntitiesCreated != 2 || res.RelationshipsCreated != 1 || res.MappingsCreated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	counts, _ := s.CountMappings(context.Background(), testTopic)
	if counts.Total != 0 {
		t.Fatalf("expected no mappings, got %+v", counts)
	}
	pd, _ := s.FindEntityByName(context.Background(), testTopic, "PD")
	if common.AttrString(pd.Attributes, common.AttrCategory) != "skeletal" {
		t.Fatalf("expected skeletal category, got %v", pd.Attributes)
	}

	again, err := m.ConvertSkeletalGraph(context.Background(), testTopic, "", sk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != (ConvertResult{}) {
		t.Fatalf("expected conversion to be idempotent, got %+v", again)
	}
}
