package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	upsertEntitiesCypher = `
UNWIND $nodes AS n
MERGE (e:Entity {id: n.id})
SET e += n
`
	upsertRelationshipsCypher = `
UNWIND $rels AS r
MATCH (a:Entity {id: r.source_id})
MATCH (b:Entity {id: r.target_id})
MERGE (a)-[x:RELATES_TO {id: r.id}]->(b)
SET x.description = r.description,
    x.topic_name = r.topic_name,
    x.attributes_json = r.attributes_json,
    x.synced_at = r.synced_at
`
	pruneEntitiesCypher = `
MATCH (e:Entity {topic_name: $topic})
WHERE NOT e.id IN $ids
DETACH DELETE e
`
)

// Neo4jProjector mirrors topic graphs into Neo4j. A projector without a
// driver is disabled and Project does nothing.
type Neo4jProjector struct {
	driver   neo4j.DriverWithContext
	database string
}

type NewNeo4jProjectorParams struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// NewNeo4jProjector connects to Neo4j. An empty URI returns a disabled
// projector.
func NewNeo4jProjector(ctx context.Context, params NewNeo4jProjectorParams) (*Neo4jProjector, error) {
	if params.URI == "" {
		return &Neo4jProjector{}, nil
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(params.URI, neo4j.BasicAuth(params.User, params.Password, ""), func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Neo4jProjector{driver: driver, database: params.Database}, nil
}

func (p *Neo4jProjector) Enabled() bool {
	return p != nil && p.driver != nil
}

func (p *Neo4jProjector) Close(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.driver.Close(ctx)
}

// Project writes g in one transaction: entities and relationships are merged
// by id, entities of the topic that are no longer in g are removed.
func (p *Neo4jProjector) Project(ctx context.Context, g Graph) error {
	if !p.Enabled() {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	nodes := nodeParams(g, now)
	rels := relationshipParams(g, now)

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	if res, err := session.Run(ctx, `CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`, nil); err != nil {
		logger.Warn("[Export] Neo4j schema init failed", "err", err)
	} else {
		_, _ = res.Consume(ctx)
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n["id"].(string))
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			cypher string
			params map[string]any
		}{
			{pruneEntitiesCypher, map[string]any{"topic": g.TopicName, "ids": ids}},
			{upsertEntitiesCypher, map[string]any{"nodes": nodes}},
			{upsertRelationshipsCypher, map[string]any{"rels": rels}},
		}
		for _, step := range steps {
			res, err := tx.Run(ctx, step.cypher, step.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to project topic %s: %w", g.TopicName, err)
	}

	logger.Info("[Export] Projected topic into neo4j", "topic", g.TopicName, "entities", len(nodes), "relationships", len(rels))
	return nil
}

func nodeParams(g Graph, syncedAt string) []map[string]any {
	nodes := make([]map[string]any, 0, len(g.Entities))
	for _, e := range g.Entities {
		nodes = append(nodes, map[string]any{
			"id":              e.ID,
			"name":            e.Name,
			"description":     e.Description,
			"topic_name":      g.TopicName,
			"category":        common.AttrString(e.Attributes, common.AttrCategory),
			"entity_type":     common.AttrString(e.Attributes, common.AttrEntityType),
			"attributes_json": attributesJSON(e.Attributes),
			"synced_at":       syncedAt,
		})
	}
	return nodes
}

func relationshipParams(g Graph, syncedAt string) []map[string]any {
	rels := make([]map[string]any, 0, len(g.Relationships))
	for _, r := range g.Relationships {
		rels = append(rels, map[string]any{
			"id":              r.ID,
			"source_id":       r.SourceEntityID,
			"target_id":       r.TargetEntityID,
			"description":     r.Description,
			"topic_name":      g.TopicName,
			"attributes_json": attributesJSON(r.Attributes),
			"synced_at":       syncedAt,
		})
	}
	return rels
}

// neo4j properties cannot hold maps
func attributesJSON(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(b)
}
