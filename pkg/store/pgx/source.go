package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *GraphDBStorage) PutContent(ctx context.Context, c common.Content) (bool, error) {
	if c.Size == 0 {
		c.Size = int64(len(c.Content))
	}
	tag, err := s.conn.Exec(ctx, `
		INSERT INTO content_store (content_hash, content, content_size, content_type, name, link)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO NOTHING`,
		c.Hash, clean(c.Content), c.Size, c.ContentType, clean(c.Name), c.Link,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *GraphDBStorage) GetContent(ctx context.Context, hash string) (common.Content, error) {
	var c common.Content
	err := s.conn.QueryRow(ctx, `
		SELECT content_hash, content, content_size, content_type, name, link, created_at
		FROM content_store WHERE content_hash = $1`, hash,
	).Scan(&c.Hash, &c.Content, &c.Size, &c.ContentType, &c.Name, &c.Link, &c.CreatedAt)
	if err != nil {
		return common.Content{}, notFound(err)
	}
	return c, nil
}

func sourceColumns(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	return p + "id, " + p + "name, " + p + "link, " + p + "topic_name, coalesce(" + p + "content_hash, ''), " +
		p + "source_type, " + p + "attributes, " + p + "status, " + p + "content_version, " +
		p + "created_at, " + p + "updated_at"
}

func scanSource(row pgxv5.Row, extra ...any) (common.SourceData, error) {
	var src common.SourceData
	dest := []any{
		&src.ID, &src.Name, &src.Link, &src.TopicName, &src.ContentHash, &src.SourceType,
		&src.Attributes, &src.Status, &src.ContentVersion, &src.CreatedAt, &src.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return src, err
}

func (s *GraphDBStorage) UpsertSource(ctx context.Context, src common.SourceData) (common.SourceData, bool, error) {
	if src.ID == "" {
		src.ID = util.NewID()
	}
	if src.SourceType == "" {
		src.SourceType = common.SourceTypeDocument
	}
	version := util.ContentVersion(src.Name, src.Link, src.ContentHash, src.Attributes)

	var inserted bool
	out, err := scanSource(s.conn.QueryRow(ctx, `
		INSERT INTO source_data (id, name, link, topic_name, content_hash, source_type, attributes, status, content_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'created', $8)
		ON CONFLICT (link) DO UPDATE
		SET name            = EXCLUDED.name,
		    topic_name      = EXCLUDED.topic_name,
		    content_hash    = EXCLUDED.content_hash,
		    source_type     = EXCLUDED.source_type,
		    attributes      = EXCLUDED.attributes,
		    content_version = EXCLUDED.content_version,
		    status          = 'updated',
		    updated_at      = now()
		RETURNING `+sourceColumns("")+`, (xmax = 0)`,
		src.ID, clean(src.Name), src.Link, src.TopicName, nullString(src.ContentHash),
		src.SourceType, attrs(src.Attributes), version,
	), &inserted)
	if err != nil {
		return common.SourceData{}, false, err
	}
	return out, inserted, nil
}

func (s *GraphDBStorage) GetSource(ctx context.Context, id string) (common.SourceData, error) {
	src, err := scanSource(s.conn.QueryRow(ctx, `SELECT `+sourceColumns("")+` FROM source_data WHERE id = $1`, id))
	return src, notFound(err)
}

func (s *GraphDBStorage) GetSourceByLink(ctx context.Context, link string) (common.SourceData, error) {
	src, err := scanSource(s.conn.QueryRow(ctx, `SELECT `+sourceColumns("")+` FROM source_data WHERE link = $1`, link))
	return src, notFound(err)
}

func (s *GraphDBStorage) ListSources(ctx context.Context, topic string) ([]common.SourceData, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+sourceColumns("")+` FROM source_data
		WHERE $1 = '' OR topic_name = $1
		ORDER BY created_at, id`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.SourceData
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) querySourceDocuments(ctx context.Context, sql string, args ...any) ([]common.SourceDocument, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.SourceDocument
	for rows.Next() {
		var content string
		src, err := scanSource(rows, &content)
		if err != nil {
			return nil, err
		}
		out = append(out, common.SourceDocument{SourceData: src, Content: content})
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetSourceDocuments(ctx context.Context, ids []string) ([]common.SourceDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.querySourceDocuments(ctx, `
		SELECT `+sourceColumns("sd")+`, cs.content
		FROM source_data sd
		JOIN content_store cs ON cs.content_hash = sd.content_hash
		WHERE sd.id = ANY($1)
		ORDER BY sd.created_at, sd.id`, ids)
}

func (s *GraphDBStorage) ListUnmappedSources(ctx context.Context, topic string) ([]common.SourceDocument, error) {
	return s.querySourceDocuments(ctx, `
		SELECT `+sourceColumns("sd")+`, cs.content
		FROM source_data sd
		JOIN content_store cs ON cs.content_hash = sd.content_hash
		WHERE sd.topic_name = $1
		  AND sd.empty_extraction_hash <> sd.content_hash
		  AND NOT EXISTS (
		    SELECT 1 FROM source_graph_mappings m
		    WHERE m.source_id = sd.id AND m.attributes ->> 'topic_name' = $1
		  )
		ORDER BY sd.created_at, sd.id`, topic)
}

func (s *GraphDBStorage) MarkSourceEmpty(ctx context.Context, id string) error {
	var marked string
	err := s.conn.QueryRow(ctx, `
		UPDATE source_data SET empty_extraction_hash = coalesce(content_hash, '')
		WHERE id = $1
		RETURNING id`, id,
	).Scan(&marked)
	return notFound(err)
}

const rawColumns = `id, topic_name, name, link, source_type, status, error_message, metadata,
	source_data_id, external_database_uri, created_at, updated_at`

func scanRaw(row pgxv5.Row) (common.RawDataSource, error) {
	var raw common.RawDataSource
	err := row.Scan(
		&raw.ID, &raw.TopicName, &raw.Name, &raw.Link, &raw.SourceType, &raw.Status,
		&raw.ErrorMessage, &raw.Metadata, &raw.SourceDataID, &raw.ExternalDatabaseURI,
		&raw.CreatedAt, &raw.UpdatedAt,
	)
	return raw, err
}

func (s *GraphDBStorage) CreateRawSource(ctx context.Context, raw common.RawDataSource) (common.RawDataSource, error) {
	if raw.ID == "" {
		raw.ID = util.NewID()
	}
	if raw.Status == "" {
		raw.Status = common.RawStatusPending
	}
	if raw.SourceType == "" {
		raw.SourceType = common.SourceTypeDocument
	}
	return scanRaw(s.conn.QueryRow(ctx, `
		INSERT INTO raw_data_sources (id, topic_name, name, link, source_type, status, metadata, external_database_uri)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+rawColumns,
		raw.ID, raw.TopicName, clean(raw.Name), raw.Link, raw.SourceType, raw.Status, attrs(raw.Metadata),
		raw.ExternalDatabaseURI,
	))
}

func (s *GraphDBStorage) GetRawSource(ctx context.Context, id string) (common.RawDataSource, error) {
	raw, err := scanRaw(s.conn.QueryRow(ctx, `SELECT `+rawColumns+` FROM raw_data_sources WHERE id = $1`, id))
	return raw, notFound(err)
}

func (s *GraphDBStorage) UpdateRawSource(ctx context.Context, raw common.RawDataSource) error {
	var id string
	err := s.conn.QueryRow(ctx, `
		UPDATE raw_data_sources
		SET status = $2, error_message = $3, source_data_id = $4, metadata = $5, updated_at = now()
		WHERE id = $1
		RETURNING id`,
		raw.ID, raw.Status, clean(raw.ErrorMessage), raw.SourceDataID, attrs(raw.Metadata),
	).Scan(&id)
	return notFound(err)
}

func (s *GraphDBStorage) ListRawSources(ctx context.Context, status string) ([]common.RawDataSource, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+rawColumns+` FROM raw_data_sources
		WHERE $1 = '' OR status = $1
		ORDER BY created_at, id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.RawDataSource
	for rows.Next() {
		raw, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}
