package pgx

import (
	"context"
	"errors"
	"slices"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

func (s *GraphDBStorage) UpdateEntity(ctx context.Context, e common.Entity) error {
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE entities
			SET name            = $2,
			    description     = $3,
			    description_vec = coalesce($4, description_vec),
			    attributes      = jsonb_build_object('topic_name', attributes ->> 'topic_name') || $5::jsonb,
			    updated_at      = now()
			WHERE id = $1`,
			e.ID, clean(e.Name), clean(e.Description), toVector(e.Embedding), attrs(e.Attributes),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *GraphDBStorage) UpdateRelationship(ctx context.Context, r common.Relationship) error {
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE relationships
			SET source_entity_id      = $2,
			    target_entity_id      = $3,
			    relationship_desc     = $4,
			    relationship_desc_vec = coalesce($5, relationship_desc_vec),
			    attributes            = jsonb_build_object('topic_name', attributes ->> 'topic_name') || $6::jsonb,
			    updated_at            = now()
			WHERE id = $1`,
			r.ID, r.SourceEntityID, r.TargetEntityID, clean(r.Description), toVector(r.Embedding), attrs(r.Attributes),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

// repointMappings moves mappings of type t from the from ids to target. Rows
// that would duplicate an existing mapping collapse into it. The new rows are
// written before the old ones are removed.
func repointMappings(ctx context.Context, tx pgxv5.Tx, t common.ElementType, from []string, target string) error {
	if len(from) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO source_graph_mappings (source_id, graph_element_id, graph_element_type, attributes)
		SELECT DISTINCT ON (source_id) source_id, $3::text, graph_element_type, attributes
		FROM source_graph_mappings
		WHERE graph_element_type = $1 AND graph_element_id = ANY($2)
		ORDER BY source_id, id
		ON CONFLICT (source_id, graph_element_id, graph_element_type) DO NOTHING`,
		string(t), from, target,
	)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM source_graph_mappings
		WHERE graph_element_type = $1 AND graph_element_id = ANY($2)`,
		string(t), from,
	)
	return err
}

type edgeRow struct {
	id, source, target, desc string
}

// MergeEntities runs the entity merge in one transaction: write the survivor,
// move relationship endpoints (folding edges that become identical), repoint
// entity mappings and finally delete the merged away rows.
func (s *GraphDBStorage) MergeEntities(ctx context.Context, merged common.Entity, originalIDs []string) (string, error) {
	topic := merged.Topic()
	if topic == "" {
		return "", errors.New("merged entity has no topic_name attribute")
	}

	var survivor string
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id FROM entities
			WHERE attributes ->> 'topic_name' = $1 AND name = $2
			FOR UPDATE`, topic, clean(merged.Name),
		).Scan(&survivor)
		switch {
		case err == nil:
			_, err = tx.Exec(ctx, `
				UPDATE entities
				SET description = $2, description_vec = coalesce($3, description_vec), attributes = $4, updated_at = now()
				WHERE id = $1`,
				survivor, clean(merged.Description), toVector(merged.Embedding), attrs(merged.Attributes),
			)
			if err != nil {
				return err
			}
		case errors.Is(err, pgxv5.ErrNoRows):
			survivor = merged.ID
			if survivor == "" {
				survivor = util.NewID()
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO entities (id, name, description, description_vec, attributes)
				VALUES ($1, $2, $3, $4, $5)`,
				survivor, clean(merged.Name), clean(merged.Description), toVector(merged.Embedding), attrs(merged.Attributes),
			)
			if err != nil {
				return err
			}
		default:
			return err
		}

		from := slices.DeleteFunc(slices.Clone(originalIDs), func(v string) bool { return v == survivor })
		if len(from) == 0 {
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT id, source_entity_id, target_entity_id, relationship_desc
			FROM relationships
			WHERE source_entity_id = ANY($1) OR target_entity_id = ANY($1)
			ORDER BY created_at, id
			FOR UPDATE`, from)
		if err != nil {
			return err
		}
		edges, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (edgeRow, error) {
			var e edgeRow
			err := row.Scan(&e.id, &e.source, &e.target, &e.desc)
			return e, err
		})
		if err != nil {
			return err
		}

		folded := 0
		for _, e := range edges {
			src, tgt := e.source, e.target
			if slices.Contains(from, src) {
				src = survivor
			}
			if slices.Contains(from, tgt) {
				tgt = survivor
			}

			var keep string
			err := tx.QueryRow(ctx, `
				SELECT id FROM relationships
				WHERE source_entity_id = $1 AND target_entity_id = $2
				  AND md5(relationship_desc) = md5($3) AND id <> $4`,
				src, tgt, e.desc, e.id,
			).Scan(&keep)
			if err == nil {
				if err := repointMappings(ctx, tx, common.ElementRelationship, []string{e.id}, keep); err != nil {
					return err
				}
				if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE id = $1`, e.id); err != nil {
					return err
				}
				folded++
				continue
			}
			if !errors.Is(err, pgxv5.ErrNoRows) {
				return err
			}
			_, err = tx.Exec(ctx, `
				UPDATE relationships
				SET source_entity_id = $2, target_entity_id = $3, updated_at = now()
				WHERE id = $1`, e.id, src, tgt)
			if err != nil {
				return err
			}
		}

		if err := repointMappings(ctx, tx, common.ElementEntity, from, survivor); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = ANY($1)`, from); err != nil {
			return err
		}

		logger.Debug("[Store][MergeEntities] Merged", "survivor", survivor, "merged", len(from), "relationships", len(edges), "folded", folded)
		return nil
	})
	if err != nil {
		return "", err
	}
	return survivor, nil
}

// MergeRelationships writes the survivor relationship, repoints relationship
// mappings and deletes the originals in one transaction.
func (s *GraphDBStorage) MergeRelationships(ctx context.Context, merged common.Relationship, originalIDs []string) (string, error) {
	var survivor string
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id FROM relationships
			WHERE source_entity_id = $1 AND target_entity_id = $2 AND md5(relationship_desc) = md5($3)
			FOR UPDATE`,
			merged.SourceEntityID, merged.TargetEntityID, clean(merged.Description),
		).Scan(&survivor)
		switch {
		case err == nil:
			_, err = tx.Exec(ctx, `
				UPDATE relationships
				SET relationship_desc_vec = coalesce($2, relationship_desc_vec), attributes = $3, updated_at = now()
				WHERE id = $1`,
				survivor, toVector(merged.Embedding), attrs(merged.Attributes),
			)
			if err != nil {
				return err
			}
		case errors.Is(err, pgxv5.ErrNoRows):
			survivor = merged.ID
			if survivor == "" {
				survivor = util.NewID()
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO relationships (id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_vec, attributes)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				survivor, merged.SourceEntityID, merged.TargetEntityID, clean(merged.Description),
				toVector(merged.Embedding), attrs(merged.Attributes),
			)
			if err != nil {
				return err
			}
		default:
			return err
		}

		from := slices.DeleteFunc(slices.Clone(originalIDs), func(v string) bool { return v == survivor })
		if err := repointMappings(ctx, tx, common.ElementRelationship, from, survivor); err != nil {
			return err
		}
		if len(from) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE id = ANY($1)`, from); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return survivor, nil
}
