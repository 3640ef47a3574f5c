// Package memory is an in-process store.Store used by tests and the one-shot
// tools. All state lives behind a single mutex; every write method is atomic
// with respect to the others, which mirrors one database transaction.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

var _ store.Store = (*Store)(nil)

type mappingKey struct {
	sourceID    string
	elementID   string
	elementType common.ElementType
}

type Store struct {
	mu sync.RWMutex

	contents map[string]common.Content

	sources      map[string]common.SourceData
	sourceOrder  []string
	sourceByLink map[string]string
	// emptySources maps a source id to the content hash whose extraction
	// yielded nothing.
	emptySources map[string]string

	raw      map[string]common.RawDataSource
	rawOrder []string

	maps       map[string]common.CognitiveMap
	blueprints []common.Blueprint

	entities     map[string]common.Entity
	entityOrder  []string
	entityByName map[string]string

	relationships map[string]common.Relationship
	relOrder      []string
	relByKey      map[string]string

	mappings     []common.Mapping
	mappingIndex map[mappingKey]struct{}

	builds []common.GraphBuild

	now func() time.Time
}

func New() *Store {
	return &Store{
		contents:      map[string]common.Content{},
		sources:       map[string]common.SourceData{},
		sourceByLink:  map[string]string{},
		emptySources:  map[string]string{},
		raw:           map[string]common.RawDataSource{},
		maps:          map[string]common.CognitiveMap{},
		entities:      map[string]common.Entity{},
		entityByName:  map[string]string{},
		relationships: map[string]common.Relationship{},
		relByKey:      map[string]string{},
		mappingIndex:  map[mappingKey]struct{}{},
		now:           time.Now,
	}
}

func entityKey(topic, name string) string {
	return topic + "\x00" + name
}

func relationshipKey(sourceID, targetID, desc string) string {
	return sourceID + "\x00" + targetID + "\x00" + desc
}

func mapKey(topic, documentID string) string {
	return topic + "\x00" + documentID
}

// ContentStore

func (s *Store) PutContent(ctx context.Context, c common.Content) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contents[c.Hash]; ok {
		return false, nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.Size == 0 {
		c.Size = int64(len(c.Content))
	}
	s.contents[c.Hash] = c
	return true, nil
}

func (s *Store) GetContent(ctx context.Context, hash string) (common.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contents[hash]
	if !ok {
		return common.Content{}, store.ErrNotFound
	}
	return c, nil
}

// ContentCount returns the number of distinct content rows.
func (s *Store) ContentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contents)
}

// SourceRegistry

func (s *Store) UpsertSource(ctx context.Context, src common.SourceData) (common.SourceData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	src.Attributes = common.CloneAttrs(src.Attributes)
	src.ContentVersion = util.ContentVersion(src.Name, src.Link, src.ContentHash, src.Attributes)

	if id, ok := s.sourceByLink[src.Link]; ok && src.Link != "" {
		existing := s.sources[id]
		existing.Name = src.Name
		existing.TopicName = src.TopicName
		existing.ContentHash = src.ContentHash
		existing.SourceType = src.SourceType
		existing.Attributes = src.Attributes
		existing.ContentVersion = src.ContentVersion
		existing.Status = common.SourceStatusUpdated
		existing.UpdatedAt = now
		s.sources[id] = existing
		return existing, false, nil
	}

	if src.ID == "" {
		src.ID = util.NewID()
	}
	src.Status = common.SourceStatusCreated
	src.CreatedAt = now
	src.UpdatedAt = now
	s.sources[src.ID] = src
	s.sourceOrder = append(s.sourceOrder, src.ID)
	if src.Link != "" {
		s.sourceByLink[src.Link] = src.ID
	}
	return src, true, nil
}

func (s *Store) GetSource(ctx context.Context, id string) (common.SourceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return common.SourceData{}, store.ErrNotFound
	}
	return src, nil
}

func (s *Store) GetSourceByLink(ctx context.Context, link string) (common.SourceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sourceByLink[link]
	if !ok {
		return common.SourceData{}, store.ErrNotFound
	}
	return s.sources[id], nil
}

func (s *Store) ListSources(ctx context.Context, topic string) ([]common.SourceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.SourceData
	for _, id := range s.sourceOrder {
		src := s.sources[id]
		if topic == "" || src.TopicName == topic {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *Store) GetSourceDocuments(ctx context.Context, ids []string) ([]common.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.SourceDocument, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		src, ok := s.sources[id]
		if !ok {
			continue
		}
		c, ok := s.contents[src.ContentHash]
		if !ok {
			continue
		}
		out = append(out, common.SourceDocument{SourceData: src, Content: c.Content})
	}
	return out, nil
}

func (s *Store) ListUnmappedSources(ctx context.Context, topic string) ([]common.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapped := map[string]struct{}{}
	for _, m := range s.mappings {
		if common.AttrString(m.Attributes, common.AttrTopicName) == topic {
			mapped[m.SourceID] = struct{}{}
		}
	}

	var out []common.SourceDocument
	for _, id := range s.sourceOrder {
		src := s.sources[id]
		if src.TopicName != topic {
			continue
		}
		if _, ok := mapped[id]; ok {
			continue
		}
		if hash, ok := s.emptySources[id]; ok && hash == src.ContentHash {
			continue
		}
		c, ok := s.contents[src.ContentHash]
		if !ok {
			continue
		}
		out = append(out, common.SourceDocument{SourceData: src, Content: c.Content})
	}
	return out, nil
}

func (s *Store) MarkSourceEmpty(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return store.ErrNotFound
	}
	s.emptySources[id] = src.ContentHash
	return nil
}

// RawSourceStore

func (s *Store) CreateRawSource(ctx context.Context, raw common.RawDataSource) (common.RawDataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw.ID == "" {
		raw.ID = util.NewID()
	}
	if raw.Status == "" {
		raw.Status = common.RawStatusPending
	}
	now := s.now()
	raw.CreatedAt = now
	raw.UpdatedAt = now
	s.raw[raw.ID] = raw
	s.rawOrder = append(s.rawOrder, raw.ID)
	return raw, nil
}

func (s *Store) GetRawSource(ctx context.Context, id string) (common.RawDataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.raw[id]
	if !ok {
		return common.RawDataSource{}, store.ErrNotFound
	}
	return raw, nil
}

func (s *Store) UpdateRawSource(ctx context.Context, raw common.RawDataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.raw[raw.ID]
	if !ok {
		return store.ErrNotFound
	}
	raw.CreatedAt = existing.CreatedAt
	raw.UpdatedAt = s.now()
	s.raw[raw.ID] = raw
	return nil
}

func (s *Store) ListRawSources(ctx context.Context, status string) ([]common.RawDataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.RawDataSource
	for _, id := range s.rawOrder {
		raw := s.raw[id]
		if status == "" || raw.Status == status {
			out = append(out, raw)
		}
	}
	return out, nil
}

// AnalysisStore

func (s *Store) GetCognitiveMap(ctx context.Context, topic, documentID string) (common.CognitiveMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.maps[mapKey(topic, documentID)]
	if !ok {
		return common.CognitiveMap{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) SaveCognitiveMap(ctx context.Context, m common.CognitiveMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.UpdatedAt = s.now()
	s.maps[mapKey(m.TopicName, m.DocumentID)] = m
	return nil
}

func (s *Store) ListCognitiveMaps(ctx context.Context, topic string) ([]common.CognitiveMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.CognitiveMap
	for _, id := range s.sourceOrder {
		if m, ok := s.maps[mapKey(topic, id)]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) LatestBlueprint(ctx context.Context, topic string) (common.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.blueprints) - 1; i >= 0; i-- {
		if s.blueprints[i].TopicName == topic {
			return s.blueprints[i], nil
		}
	}
	return common.Blueprint{}, store.ErrNotFound
}

func (s *Store) SaveBlueprint(ctx context.Context, bp common.Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bp.UpdatedAt = now
	for i := range s.blueprints {
		if s.blueprints[i].ID == bp.ID {
			bp.CreatedAt = s.blueprints[i].CreatedAt
			s.blueprints[i] = bp
			return nil
		}
	}
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = now
	}
	s.blueprints = append(s.blueprints, bp)
	return nil
}

// BlueprintCount returns the number of blueprint rows of topic.
func (s *Store) BlueprintCount(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, bp := range s.blueprints {
		if bp.TopicName == topic {
			n++
		}
	}
	return n
}

// BuildStore

func (s *Store) CreateGraphBuilds(ctx context.Context, builds []common.GraphBuild) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, b := range builds {
		if b.ID == "" {
			b.ID = util.NewID()
		}
		if b.Status == "" {
			b.Status = common.BuildPending
		}
		if b.ScheduledAt.IsZero() {
			b.ScheduledAt = now
		}
		b.UpdatedAt = now
		s.builds = append(s.builds, b)
	}
	return nil
}

func openBuild(status common.BuildStatus) bool {
	return status == common.BuildPending || status == common.BuildProcessing
}

func (s *Store) ClaimNextTopicBuilds(ctx context.Context) (common.TopicBuilds, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := -1
	for i, b := range s.builds {
		if !openBuild(b.Status) {
			continue
		}
		if next < 0 || b.ScheduledAt.Before(s.builds[next].ScheduledAt) {
			next = i
		}
	}
	if next < 0 {
		return common.TopicBuilds{}, false, nil
	}

	topic := s.builds[next].TopicName
	uri := s.builds[next].ExternalDatabaseURI
	out := common.TopicBuilds{TopicName: topic, ExternalDatabaseURI: uri}
	now := s.now()
	for i := range s.builds {
		b := &s.builds[i]
		if b.TopicName != topic || b.ExternalDatabaseURI != uri || !openBuild(b.Status) {
			continue
		}
		b.Status = common.BuildProcessing
		b.UpdatedAt = now
		out.Tasks = append(out.Tasks, *b)
	}
	return out, true, nil
}

func (s *Store) FinishGraphBuilds(ctx context.Context, ids []string, status common.BuildStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.builds {
		if !slices.Contains(ids, s.builds[i].ID) {
			continue
		}
		s.builds[i].Status = status
		s.builds[i].ErrorMessage = errMsg
		s.builds[i].UpdatedAt = now
	}
	return nil
}

func (s *Store) CountGraphBuilds(ctx context.Context) (common.BuildCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := common.BuildCounts{}
	for _, b := range s.builds {
		counts[b.Status]++
	}
	return counts, nil
}

func (s *Store) CompletedBuildTopics(ctx context.Context) ([]common.TopicBuilds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	var out []common.TopicBuilds
	for _, b := range s.builds {
		if b.Status != common.BuildCompleted {
			continue
		}
		key := b.TopicName + "\x00" + b.ExternalDatabaseURI
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, common.TopicBuilds{TopicName: b.TopicName, ExternalDatabaseURI: b.ExternalDatabaseURI})
	}
	return out, nil
}

// GraphBuilds returns a copy of all build rows.
func (s *Store) GraphBuilds() []common.GraphBuild {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.builds)
}
