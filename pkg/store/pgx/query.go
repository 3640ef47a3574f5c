package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	"github.com/pgvector/pgvector-go"
)

func (s *GraphDBStorage) queryEntities(ctx context.Context, sql string, args ...any) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) queryRelationships(ctx context.Context, sql string, args ...any) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE id = ANY($1)
		ORDER BY array_position($1, id)`, store.DedupeStrings(ids))
}

func (s *GraphDBStorage) GetRelationships(ctx context.Context, ids []string) ([]common.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM relationships r`+relationshipJoins+`
		WHERE r.id = ANY($1)
		ORDER BY array_position($1, r.id)`, store.DedupeStrings(ids))
}

func (s *GraphDBStorage) GetRelationshipsByEntityIDs(ctx context.Context, ids []string) ([]common.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM relationships r`+relationshipJoins+`
		WHERE r.source_entity_id = ANY($1) OR r.target_entity_id = ANY($1)
		ORDER BY r.created_at, r.id`, ids)
}

func (s *GraphDBStorage) TopicEntities(ctx context.Context, topic string) ([]common.Entity, error) {
	return s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE attributes ->> 'topic_name' = $1
		ORDER BY created_at, id`, topic)
}

func (s *GraphDBStorage) TopicRelationships(ctx context.Context, topic string) ([]common.Relationship, error) {
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM relationships r`+relationshipJoins+`
		WHERE r.attributes ->> 'topic_name' = $1
		ORDER BY r.created_at, r.id`, topic)
}

func (s *GraphDBStorage) GetSourceTexts(ctx context.Context, elementType common.ElementType, ids []string) ([]common.SourceText, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT ON (sd.id) sd.id, sd.name, cs.content_hash, cs.content
		FROM source_graph_mappings m
		JOIN source_data sd ON sd.id = m.source_id
		JOIN content_store cs ON cs.content_hash = sd.content_hash
		WHERE m.graph_element_type = $1 AND m.graph_element_id = ANY($2)
		ORDER BY sd.id`, string(elementType), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.SourceText
	for rows.Next() {
		var t common.SourceText
		if err := rows.Scan(&t.SourceID, &t.Name, &t.ContentHash, &t.Content); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SearchRelationships ranks relationships by cosine distance to p.Embedding.
// It over-fetches, converts distance to similarity and applies the threshold
// before cutting to TopK.
func (s *GraphDBStorage) SearchRelationships(ctx context.Context, p store.SearchParams) ([]common.ScoredRelationship, error) {
	if len(p.Embedding) == 0 {
		return nil, nil
	}
	topK := p.TopK
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+relationshipColumns+`,
		       se.description, se.attributes, te.description, te.attributes,
		       r.relationship_desc_vec <=> $1 AS distance
		FROM relationships r`+relationshipJoins+`
		WHERE r.relationship_desc_vec IS NOT NULL
		  AND ($2 = '' OR r.attributes ->> 'topic_name' = $2)
		ORDER BY distance
		LIMIT $3`,
		pgvector.NewVector(p.Embedding), p.Topic, topK*s.searchOverfetch,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []common.ScoredRelationship
	for rows.Next() {
		var hit common.ScoredRelationship
		var distance float64
		r, err := scanRelationship(rows,
			&hit.SourceEntityDescription, &hit.SourceEntityAttributes,
			&hit.TargetEntityDescription, &hit.TargetEntityAttributes,
			&distance,
		)
		if err != nil {
			return nil, err
		}
		hit.Relationship = r
		hit.Score = 1 - distance
		if hit.Score < p.Threshold {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return store.TopScored(hits, topK, func(h common.ScoredRelationship) float64 { return h.Score }), nil
}
