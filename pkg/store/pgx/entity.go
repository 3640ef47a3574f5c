package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const entityColumns = `id, name, description, description_vec, attributes`

func scanEntity(row pgxv5.Row) (common.Entity, error) {
	var e common.Entity
	var vec *pgvector.Vector
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &vec, &e.Attributes); err != nil {
		return common.Entity{}, err
	}
	e.Embedding = fromVector(vec)
	return e, nil
}

const relationshipColumns = `r.id, r.source_entity_id, r.target_entity_id, r.relationship_desc,
	r.relationship_desc_vec, r.attributes, se.name, te.name`

const relationshipJoins = `
	JOIN entities se ON se.id = r.source_entity_id
	JOIN entities te ON te.id = r.target_entity_id`

func scanRelationship(row pgxv5.Row, extra ...any) (common.Relationship, error) {
	var r common.Relationship
	var vec *pgvector.Vector
	dest := []any{
		&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.Description,
		&vec, &r.Attributes, &r.SourceEntityName, &r.TargetEntityName,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return common.Relationship{}, err
	}
	r.Embedding = fromVector(vec)
	return r, nil
}

func (s *GraphDBStorage) FindEntityByName(ctx context.Context, topic, name string) (common.Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE attributes ->> 'topic_name' = $1 AND name = $2`, topic, clean(name)))
	return e, notFound(err)
}

func (s *GraphDBStorage) FindRelationship(ctx context.Context, sourceEntityID, targetEntityID, description string) (common.Relationship, error) {
	r, err := scanRelationship(s.conn.QueryRow(ctx, `
		SELECT `+relationshipColumns+` FROM relationships r`+relationshipJoins+`
		WHERE r.source_entity_id = $1 AND r.target_entity_id = $2
		  AND md5(r.relationship_desc) = md5($3) AND r.relationship_desc = $3`,
		sourceEntityID, targetEntityID, clean(description)))
	return r, notFound(err)
}

// resolveEntity inserts the entity unless (topic, name) exists and returns the
// id of the row that owns the name. A concurrent insert of the same name makes
// ON CONFLICT skip, after which the committed row is re-read.
func resolveEntity(ctx context.Context, tx pgxv5.Tx, topic string, in store.EntityInput) (string, bool, error) {
	name := clean(in.Name)
	a := common.CloneAttrs(in.Attributes)
	a[common.AttrTopicName] = topic

	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO entities (id, name, description, description_vec, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ((attributes ->> 'topic_name'), name) DO NOTHING
		RETURNING id`,
		util.NewID(), name, clean(in.Description), toVector(in.Embedding), a,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgxv5.ErrNoRows) {
		return "", false, err
	}

	err = tx.QueryRow(ctx, `
		SELECT id FROM entities
		WHERE attributes ->> 'topic_name' = $1 AND name = $2`, topic, name,
	).Scan(&id)
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

func resolveRelationship(ctx context.Context, tx pgxv5.Tx, topic, sourceID, targetID string, in store.RelationshipInput) (string, bool, error) {
	desc := clean(in.Description)
	a := common.CloneAttrs(in.Attributes)
	a[common.AttrTopicName] = topic

	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO relationships (id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_vec, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_entity_id, target_entity_id, (md5(relationship_desc))) DO NOTHING
		RETURNING id`,
		util.NewID(), sourceID, targetID, desc, toVector(in.Embedding), a,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgxv5.ErrNoRows) {
		return "", false, err
	}

	err = tx.QueryRow(ctx, `
		SELECT id FROM relationships
		WHERE source_entity_id = $1 AND target_entity_id = $2 AND md5(relationship_desc) = md5($3)`,
		sourceID, targetID, desc,
	).Scan(&id)
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

func insertMapping(ctx context.Context, tx pgxv5.Tx, sourceID, elementID string, t common.ElementType, topic string) (bool, error) {
	if sourceID == "" {
		return false, nil
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO source_graph_mappings (source_id, graph_element_id, graph_element_type, attributes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, graph_element_id, graph_element_type) DO NOTHING`,
		sourceID, elementID, string(t), map[string]any{common.AttrTopicName: topic},
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *GraphDBStorage) MergeEntity(ctx context.Context, p store.MergeEntityParams) (string, bool, error) {
	var id string
	var created bool
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		var err error
		id, created, err = resolveEntity(ctx, tx, p.Topic, p.Entity)
		if err != nil {
			return err
		}
		_, err = insertMapping(ctx, tx, p.SourceID, id, common.ElementEntity, p.Topic)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// MergeTriplet resolves both entities and the relationship and writes the
// provenance rows in one transaction.
func (s *GraphDBStorage) MergeTriplet(ctx context.Context, p store.MergeTripletParams) (store.MergeTripletResult, error) {
	var res store.MergeTripletResult
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		res = store.MergeTripletResult{}

		id, created, err := resolveEntity(ctx, tx, p.Topic, p.Subject)
		if err != nil {
			return err
		}
		res.SubjectID = id
		if created {
			res.EntitiesCreated++
		}

		id, created, err = resolveEntity(ctx, tx, p.Topic, p.Object)
		if err != nil {
			return err
		}
		res.ObjectID = id
		if created {
			res.EntitiesCreated++
		}

		for _, eid := range []string{res.SubjectID, res.ObjectID} {
			ok, err := insertMapping(ctx, tx, p.SourceID, eid, common.ElementEntity, p.Topic)
			if err != nil {
				return err
			}
			if ok {
				res.MappingsCreated++
			}
		}

		id, created, err = resolveRelationship(ctx, tx, p.Topic, res.SubjectID, res.ObjectID, p.Relationship)
		if err != nil {
			return err
		}
		res.RelationshipID = id
		if created {
			res.RelationshipsCreated++
		}

		ok, err := insertMapping(ctx, tx, p.SourceID, res.RelationshipID, common.ElementRelationship, p.Topic)
		if err != nil {
			return err
		}
		if ok {
			res.MappingsCreated++
		}
		return nil
	})
	if err != nil {
		return store.MergeTripletResult{}, err
	}

	logger.Debug("[Store][MergeTriplet] Merged", "topic", p.Topic, "entities_created", res.EntitiesCreated, "relationships_created", res.RelationshipsCreated)
	return res, nil
}

func (s *GraphDBStorage) HasMappings(ctx context.Context, sourceID, topic string) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM source_graph_mappings
			WHERE source_id = $1 AND attributes ->> 'topic_name' = $2
		)`, sourceID, topic,
	).Scan(&exists)
	return exists, err
}

func (s *GraphDBStorage) CountMappings(ctx context.Context, topic string) (common.MappingCounts, error) {
	var c common.MappingCounts
	err := s.conn.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE graph_element_type = 'entity'),
		       count(*) FILTER (WHERE graph_element_type = 'relationship')
		FROM source_graph_mappings
		WHERE $1 = '' OR attributes ->> 'topic_name' = $1`, topic,
	).Scan(&c.Total, &c.Entities, &c.Relationships)
	return c, err
}

func (s *GraphDBStorage) ListMappings(ctx context.Context, elementIDs []string) ([]common.Mapping, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT source_id, graph_element_id, graph_element_type, attributes, created_at
		FROM source_graph_mappings
		WHERE $1::text[] IS NULL OR graph_element_id = ANY($1)
		ORDER BY id`, elementIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Mapping
	for rows.Next() {
		var m common.Mapping
		var t string
		if err := rows.Scan(&m.SourceID, &m.ElementID, &t, &m.Attributes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ElementType = common.ElementType(t)
		out = append(out, m)
	}
	return out, rows.Err()
}
