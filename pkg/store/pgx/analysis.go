package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kgraph/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const cognitiveMapColumns = `document_id, topic_name, summary_content, key_entities, main_themes,
	important_timeline, structural_patterns, business_context, document_type, updated_at`

func scanCognitiveMap(row pgxv5.Row) (common.CognitiveMap, error) {
	var m common.CognitiveMap
	err := row.Scan(
		&m.DocumentID, &m.TopicName, &m.Summary, &m.KeyEntities, &m.ThemeKeywords,
		&m.ImportantTimeline, &m.StructuralPatterns, &m.BusinessContext, &m.DocumentType, &m.UpdatedAt,
	)
	return m, err
}

func (s *GraphDBStorage) GetCognitiveMap(ctx context.Context, topic, documentID string) (common.CognitiveMap, error) {
	m, err := scanCognitiveMap(s.conn.QueryRow(ctx, `
		SELECT `+cognitiveMapColumns+` FROM document_summaries
		WHERE document_id = $1 AND topic_name = $2`, documentID, topic))
	return m, notFound(err)
}

func (s *GraphDBStorage) SaveCognitiveMap(ctx context.Context, m common.CognitiveMap) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO document_summaries (
			document_id, topic_name, summary_content, key_entities, main_themes,
			important_timeline, structural_patterns, business_context, document_type
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (document_id, topic_name) DO UPDATE
		SET summary_content     = EXCLUDED.summary_content,
		    key_entities        = EXCLUDED.key_entities,
		    main_themes         = EXCLUDED.main_themes,
		    important_timeline  = EXCLUDED.important_timeline,
		    structural_patterns = EXCLUDED.structural_patterns,
		    business_context    = EXCLUDED.business_context,
		    document_type       = EXCLUDED.document_type,
		    updated_at          = now()`,
		m.DocumentID, m.TopicName, clean(m.Summary), list(m.KeyEntities), list(m.ThemeKeywords),
		list(m.ImportantTimeline), clean(m.StructuralPatterns), attrs(m.BusinessContext), m.DocumentType,
	)
	return err
}

func (s *GraphDBStorage) ListCognitiveMaps(ctx context.Context, topic string) ([]common.CognitiveMap, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+cognitiveMapColumns+` FROM document_summaries
		WHERE topic_name = $1
		ORDER BY created_at, document_id`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.CognitiveMap
	for rows.Next() {
		m, err := scanCognitiveMap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const blueprintColumns = `id, topic_name, status, suggested_entity_types, key_narrative_themes,
	coalesce(processing_instructions, ''), processing_items, source_data_version_hash,
	contributing_source_data_ids, error_message, created_at, updated_at`

func (s *GraphDBStorage) LatestBlueprint(ctx context.Context, topic string) (common.Blueprint, error) {
	var bp common.Blueprint
	err := s.conn.QueryRow(ctx, `
		SELECT `+blueprintColumns+` FROM analysis_blueprints
		WHERE topic_name = $1
		ORDER BY created_at DESC
		LIMIT 1`, topic,
	).Scan(
		&bp.ID, &bp.TopicName, &bp.Status, &bp.SuggestedEntityTypes, &bp.KeyNarrativeThemes,
		&bp.ProcessingInstructions, &bp.ProcessingItems, &bp.SourceVersionHash,
		&bp.ContributingSourceIDs, &bp.ErrorMessage, &bp.CreatedAt, &bp.UpdatedAt,
	)
	return bp, notFound(err)
}

func (s *GraphDBStorage) SaveBlueprint(ctx context.Context, bp common.Blueprint) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO analysis_blueprints (
			id, topic_name, status, suggested_entity_types, key_narrative_themes,
			processing_instructions, processing_items, source_data_version_hash,
			contributing_source_data_ids, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET status                       = EXCLUDED.status,
		    suggested_entity_types       = EXCLUDED.suggested_entity_types,
		    key_narrative_themes         = EXCLUDED.key_narrative_themes,
		    processing_instructions      = EXCLUDED.processing_instructions,
		    processing_items             = EXCLUDED.processing_items,
		    source_data_version_hash     = EXCLUDED.source_data_version_hash,
		    contributing_source_data_ids = EXCLUDED.contributing_source_data_ids,
		    error_message                = EXCLUDED.error_message,
		    updated_at                   = now()`,
		bp.ID, bp.TopicName, string(bp.Status), list(bp.SuggestedEntityTypes), list(bp.KeyNarrativeThemes),
		nullString(clean(bp.ProcessingInstructions)), attrs(bp.ProcessingItems), bp.SourceVersionHash,
		list(bp.ContributingSourceIDs), clean(bp.ErrorMessage),
	)
	return err
}
