package memory

import (
	"context"
	"slices"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

func cloneEntity(e common.Entity) common.Entity {
	e.Attributes = common.CloneAttrs(e.Attributes)
	e.Embedding = slices.Clone(e.Embedding)
	return e
}

func (s *Store) cloneRelationship(r common.Relationship) common.Relationship {
	r.Attributes = common.CloneAttrs(r.Attributes)
	r.Embedding = slices.Clone(r.Embedding)
	if src, ok := s.entities[r.SourceEntityID]; ok {
		r.SourceEntityName = src.Name
	}
	if tgt, ok := s.entities[r.TargetEntityID]; ok {
		r.TargetEntityName = tgt.Name
	}
	return r
}

func (s *Store) resolveEntity(topic string, in store.EntityInput) (string, bool) {
	if id, ok := s.entityByName[entityKey(topic, in.Name)]; ok {
		return id, false
	}
	attrs := common.CloneAttrs(in.Attributes)
	attrs[common.AttrTopicName] = topic
	e := common.Entity{
		ID:          util.NewID(),
		Name:        in.Name,
		Description: in.Description,
		Embedding:   slices.Clone(in.Embedding),
		Attributes:  attrs,
	}
	s.insertEntity(e)
	return e.ID, true
}

func (s *Store) insertEntity(e common.Entity) {
	s.entities[e.ID] = e
	s.entityOrder = append(s.entityOrder, e.ID)
	s.entityByName[entityKey(e.Topic(), e.Name)] = e.ID
}

func (s *Store) deleteEntity(id string) {
	e, ok := s.entities[id]
	if !ok {
		return
	}
	if s.entityByName[entityKey(e.Topic(), e.Name)] == id {
		delete(s.entityByName, entityKey(e.Topic(), e.Name))
	}
	delete(s.entities, id)
	s.entityOrder = slices.DeleteFunc(s.entityOrder, func(v string) bool { return v == id })
}

func (s *Store) insertRelationship(r common.Relationship) {
	s.relationships[r.ID] = r
	s.relOrder = append(s.relOrder, r.ID)
	s.relByKey[relationshipKey(r.SourceEntityID, r.TargetEntityID, r.Description)] = r.ID
}

func (s *Store) deleteRelationship(id string) {
	r, ok := s.relationships[id]
	if !ok {
		return
	}
	key := relationshipKey(r.SourceEntityID, r.TargetEntityID, r.Description)
	if s.relByKey[key] == id {
		delete(s.relByKey, key)
	}
	delete(s.relationships, id)
	s.relOrder = slices.DeleteFunc(s.relOrder, func(v string) bool { return v == id })
}

func (s *Store) addMapping(sourceID, elementID string, t common.ElementType, topic string) bool {
	if sourceID == "" {
		return false
	}
	key := mappingKey{sourceID: sourceID, elementID: elementID, elementType: t}
	if _, ok := s.mappingIndex[key]; ok {
		return false
	}
	s.mappingIndex[key] = struct{}{}
	s.mappings = append(s.mappings, common.Mapping{
		SourceID:    sourceID,
		ElementID:   elementID,
		ElementType: t,
		Attributes:  map[string]any{common.AttrTopicName: topic},
		CreatedAt:   s.now(),
	})
	return true
}

// repointMappings moves every mapping of type t from one of from to target,
// dropping rows that would duplicate an existing mapping.
func (s *Store) repointMappings(t common.ElementType, from []string, target string) {
	out := s.mappings[:0]
	index := make(map[mappingKey]struct{}, len(s.mappings))
	for _, m := range s.mappings {
		if m.ElementType == t && slices.Contains(from, m.ElementID) {
			m.ElementID = target
		}
		key := mappingKey{sourceID: m.SourceID, elementID: m.ElementID, elementType: m.ElementType}
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = struct{}{}
		out = append(out, m)
	}
	s.mappings = out
	s.mappingIndex = index
}

func (s *Store) FindEntityByName(ctx context.Context, topic, name string) (common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entityByName[entityKey(topic, name)]
	if !ok {
		return common.Entity{}, store.ErrNotFound
	}
	return cloneEntity(s.entities[id]), nil
}

func (s *Store) FindRelationship(ctx context.Context, sourceEntityID, targetEntityID, description string) (common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.relByKey[relationshipKey(sourceEntityID, targetEntityID, description)]
	if !ok {
		return common.Relationship{}, store.ErrNotFound
	}
	return s.cloneRelationship(s.relationships[id]), nil
}

func (s *Store) MergeEntity(ctx context.Context, p store.MergeEntityParams) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, created := s.resolveEntity(p.Topic, p.Entity)
	s.addMapping(p.SourceID, id, common.ElementEntity, p.Topic)
	return id, created, nil
}

func (s *Store) MergeTriplet(ctx context.Context, p store.MergeTripletParams) (store.MergeTripletResult, error) {
	if err := ctx.Err(); err != nil {
		return store.MergeTripletResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.MergeTripletResult
	var created bool

	res.SubjectID, created = s.resolveEntity(p.Topic, p.Subject)
	if created {
		res.EntitiesCreated++
	}
	res.ObjectID, created = s.resolveEntity(p.Topic, p.Object)
	if created {
		res.EntitiesCreated++
	}
	if s.addMapping(p.SourceID, res.SubjectID, common.ElementEntity, p.Topic) {
		res.MappingsCreated++
	}
	if s.addMapping(p.SourceID, res.ObjectID, common.ElementEntity, p.Topic) {
		res.MappingsCreated++
	}

	key := relationshipKey(res.SubjectID, res.ObjectID, p.Relationship.Description)
	if id, ok := s.relByKey[key]; ok {
		res.RelationshipID = id
	} else {
		attrs := common.CloneAttrs(p.Relationship.Attributes)
		attrs[common.AttrTopicName] = p.Topic
		r := common.Relationship{
			ID:             util.NewID(),
			SourceEntityID: res.SubjectID,
			TargetEntityID: res.ObjectID,
			Description:    p.Relationship.Description,
			Embedding:      slices.Clone(p.Relationship.Embedding),
			Attributes:     attrs,
		}
		s.insertRelationship(r)
		res.RelationshipID = r.ID
		res.RelationshipsCreated++
	}
	if s.addMapping(p.SourceID, res.RelationshipID, common.ElementRelationship, p.Topic) {
		res.MappingsCreated++
	}

	return res, nil
}

func (s *Store) HasMappings(ctx context.Context, sourceID, topic string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mappings {
		if m.SourceID == sourceID && common.AttrString(m.Attributes, common.AttrTopicName) == topic {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountMappings(ctx context.Context, topic string) (common.MappingCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts common.MappingCounts
	for _, m := range s.mappings {
		if topic != "" && common.AttrString(m.Attributes, common.AttrTopicName) != topic {
			continue
		}
		counts.Total++
		switch m.ElementType {
		case common.ElementEntity:
			counts.Entities++
		case common.ElementRelationship:
			counts.Relationships++
		}
	}
	return counts, nil
}

func (s *Store) ListMappings(ctx context.Context, elementIDs []string) ([]common.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Mapping
	for _, m := range s.mappings {
		if elementIDs == nil || slices.Contains(elementIDs, m.ElementID) {
			m.Attributes = common.CloneAttrs(m.Attributes)
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Entity, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if e, ok := s.entities[id]; ok {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

func (s *Store) GetRelationships(ctx context.Context, ids []string) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Relationship, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if r, ok := s.relationships[id]; ok {
			out = append(out, s.cloneRelationship(r))
		}
	}
	return out, nil
}

func (s *Store) GetRelationshipsByEntityIDs(ctx context.Context, ids []string) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Relationship
	for _, id := range s.relOrder {
		r := s.relationships[id]
		if slices.Contains(ids, r.SourceEntityID) || slices.Contains(ids, r.TargetEntityID) {
			out = append(out, s.cloneRelationship(r))
		}
	}
	return out, nil
}

func (s *Store) GetSourceTexts(ctx context.Context, elementType common.ElementType, ids []string) ([]common.SourceText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sourceIDs []string
	for _, m := range s.mappings {
		if m.ElementType == elementType && slices.Contains(ids, m.ElementID) {
			sourceIDs = append(sourceIDs, m.SourceID)
		}
	}

	var out []common.SourceText
	for _, id := range store.DedupeStrings(sourceIDs) {
		src, ok := s.sources[id]
		if !ok {
			continue
		}
		c, ok := s.contents[src.ContentHash]
		if !ok {
			continue
		}
		out = append(out, common.SourceText{
			SourceID:    src.ID,
			Name:        src.Name,
			ContentHash: src.ContentHash,
			Content:     c.Content,
		})
	}
	return out, nil
}

func (s *Store) SearchRelationships(ctx context.Context, p store.SearchParams) ([]common.ScoredRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []common.ScoredRelationship
	for _, id := range s.relOrder {
		r := s.relationships[id]
		if p.Topic != "" && common.AttrString(r.Attributes, common.AttrTopicName) != p.Topic {
			continue
		}
		score := store.CosineSimilarity(p.Embedding, r.Embedding)
		if score < p.Threshold {
			continue
		}
		src := s.entities[r.SourceEntityID]
		tgt := s.entities[r.TargetEntityID]
		hits = append(hits, common.ScoredRelationship{
			Relationship:            s.cloneRelationship(r),
			SourceEntityDescription: src.Description,
			SourceEntityAttributes:  common.CloneAttrs(src.Attributes),
			TargetEntityDescription: tgt.Description,
			TargetEntityAttributes:  common.CloneAttrs(tgt.Attributes),
			Score:                   score,
		})
	}
	return store.TopScored(hits, p.TopK, func(h common.ScoredRelationship) float64 { return h.Score }), nil
}

func (s *Store) UpdateEntity(ctx context.Context, e common.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[e.ID]
	if !ok {
		return store.ErrNotFound
	}
	topic := existing.Topic()
	if id, ok := s.entityByName[entityKey(topic, e.Name)]; ok && id != e.ID {
		return store.ErrConflict
	}
	delete(s.entityByName, entityKey(topic, existing.Name))
	e = cloneEntity(e)
	if e.Topic() == "" {
		e.Attributes[common.AttrTopicName] = topic
	}
	s.entities[e.ID] = e
	s.entityByName[entityKey(e.Topic(), e.Name)] = e.ID
	return nil
}

func (s *Store) UpdateRelationship(ctx context.Context, r common.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.relationships[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	key := relationshipKey(r.SourceEntityID, r.TargetEntityID, r.Description)
	if id, ok := s.relByKey[key]; ok && id != r.ID {
		return store.ErrConflict
	}
	delete(s.relByKey, relationshipKey(existing.SourceEntityID, existing.TargetEntityID, existing.Description))
	r.Attributes = common.CloneAttrs(r.Attributes)
	r.Embedding = slices.Clone(r.Embedding)
	r.SourceEntityName, r.TargetEntityName = "", ""
	s.relationships[r.ID] = r
	s.relByKey[key] = r.ID
	return nil
}

func (s *Store) MergeEntities(ctx context.Context, merged common.Entity, originalIDs []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic := merged.Topic()
	merged = cloneEntity(merged)
	if id, ok := s.entityByName[entityKey(topic, merged.Name)]; ok {
		merged.ID = id
		s.entities[id] = merged
	} else {
		if merged.ID == "" {
			merged.ID = util.NewID()
		}
		s.insertEntity(merged)
	}
	survivor := merged.ID
	from := slices.DeleteFunc(slices.Clone(originalIDs), func(v string) bool { return v == survivor })

	// repoint endpoints; folding edges that collapse onto an existing key
	for _, id := range slices.Clone(s.relOrder) {
		r := s.relationships[id]
		src, tgt := r.SourceEntityID, r.TargetEntityID
		if slices.Contains(from, src) {
			src = survivor
		}
		if slices.Contains(from, tgt) {
			tgt = survivor
		}
		if src == r.SourceEntityID && tgt == r.TargetEntityID {
			continue
		}
		delete(s.relByKey, relationshipKey(r.SourceEntityID, r.TargetEntityID, r.Description))
		key := relationshipKey(src, tgt, r.Description)
		if keep, ok := s.relByKey[key]; ok {
			s.repointMappings(common.ElementRelationship, []string{id}, keep)
			delete(s.relationships, id)
			s.relOrder = slices.DeleteFunc(s.relOrder, func(v string) bool { return v == id })
			continue
		}
		r.SourceEntityID, r.TargetEntityID = src, tgt
		s.relationships[id] = r
		s.relByKey[key] = id
	}

	s.repointMappings(common.ElementEntity, from, survivor)
	for _, id := range from {
		s.deleteEntity(id)
	}
	return survivor, nil
}

func (s *Store) MergeRelationships(ctx context.Context, merged common.Relationship, originalIDs []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged.Attributes = common.CloneAttrs(merged.Attributes)
	merged.Embedding = slices.Clone(merged.Embedding)
	merged.SourceEntityName, merged.TargetEntityName = "", ""
	key := relationshipKey(merged.SourceEntityID, merged.TargetEntityID, merged.Description)
	if id, ok := s.relByKey[key]; ok {
		merged.ID = id
		s.relationships[id] = merged
	} else {
		if merged.ID == "" {
			merged.ID = util.NewID()
		}
		s.insertRelationship(merged)
	}
	survivor := merged.ID
	from := slices.DeleteFunc(slices.Clone(originalIDs), func(v string) bool { return v == survivor })

	s.repointMappings(common.ElementRelationship, from, survivor)
	for _, id := range from {
		s.deleteRelationship(id)
	}
	return survivor, nil
}

func (s *Store) TopicEntities(ctx context.Context, topic string) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Entity
	for _, id := range s.entityOrder {
		e := s.entities[id]
		if e.Topic() == topic {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

func (s *Store) TopicRelationships(ctx context.Context, topic string) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Relationship
	for _, id := range s.relOrder {
		r := s.relationships[id]
		if common.AttrString(r.Attributes, common.AttrTopicName) == topic {
			out = append(out, s.cloneRelationship(r))
		}
	}
	return out, nil
}
