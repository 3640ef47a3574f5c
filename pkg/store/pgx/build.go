package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const buildColumns = `id, build_id, topic_name, external_database_uri, doc_link, source_id,
	status, error_message, scheduled_at, updated_at`

func scanBuild(row pgxv5.Row) (common.GraphBuild, error) {
	var b common.GraphBuild
	err := row.Scan(
		&b.ID, &b.BuildID, &b.TopicName, &b.ExternalDatabaseURI, &b.DocLink, &b.SourceID,
		&b.Status, &b.ErrorMessage, &b.ScheduledAt, &b.UpdatedAt,
	)
	return b, err
}

func (s *GraphDBStorage) CreateGraphBuilds(ctx context.Context, builds []common.GraphBuild) error {
	if len(builds) == 0 {
		return nil
	}
	return store.ChunkRange(len(builds), 500, func(start, end int) error {
		return s.withTx(ctx, func(tx pgxv5.Tx) error {
			batch := &pgxv5.Batch{}
			for _, b := range builds[start:end] {
				if b.ID == "" {
					b.ID = util.NewID()
				}
				if b.Status == "" {
					b.Status = common.BuildPending
				}
				var scheduled any
				if !b.ScheduledAt.IsZero() {
					scheduled = b.ScheduledAt
				}
				batch.Queue(`
					INSERT INTO graph_builds (id, build_id, topic_name, external_database_uri, doc_link, source_id, status, scheduled_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, coalesce($8::timestamptz, now()))`,
					b.ID, b.BuildID, b.TopicName, b.ExternalDatabaseURI, b.DocLink, b.SourceID, string(b.Status), scheduled,
				)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
}

func (s *GraphDBStorage) ClaimNextTopicBuilds(ctx context.Context) (common.TopicBuilds, bool, error) {
	var out common.TopicBuilds
	var found bool

	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT topic_name, external_database_uri FROM graph_builds
			WHERE status IN ('pending', 'processing')
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
		).Scan(&out.TopicName, &out.ExternalDatabaseURI)
		if err != nil {
			if errors.Is(err, pgxv5.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true

		rows, err := tx.Query(ctx, `
			UPDATE graph_builds
			SET status = 'processing', updated_at = now()
			WHERE topic_name = $1 AND external_database_uri = $2
			  AND status IN ('pending', 'processing')
			RETURNING `+buildColumns,
			out.TopicName, out.ExternalDatabaseURI,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			b, err := scanBuild(rows)
			if err != nil {
				return err
			}
			out.Tasks = append(out.Tasks, b)
		}
		return rows.Err()
	})
	if err != nil {
		return common.TopicBuilds{}, false, err
	}
	return out, found, nil
}

func (s *GraphDBStorage) FinishGraphBuilds(ctx context.Context, ids []string, status common.BuildStatus, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `
		UPDATE graph_builds
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = ANY($1)`,
		ids, string(status), clean(errMsg),
	)
	return err
}

func (s *GraphDBStorage) CountGraphBuilds(ctx context.Context) (common.BuildCounts, error) {
	rows, err := s.conn.Query(ctx, `SELECT status, count(*) FROM graph_builds GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := common.BuildCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[common.BuildStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *GraphDBStorage) CompletedBuildTopics(ctx context.Context) ([]common.TopicBuilds, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT topic_name, external_database_uri FROM graph_builds
		WHERE status = 'completed'
		GROUP BY topic_name, external_database_uri
		ORDER BY min(scheduled_at)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.TopicBuilds
	for rows.Next() {
		var t common.TopicBuilds
		if err := rows.Scan(&t.TopicName, &t.ExternalDatabaseURI); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
