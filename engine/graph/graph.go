// Package graph owns all Neo4j operations and registers the graphWrite,
// graphNeighbors, and graphList nodes. Like the vector store, it is an
// external collaborator reached only through the node registry.
package graph

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/chatterflow/chatterflow/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphStore provides record and edge operations. Record reads and writes
// go through the generic repository, one per node label; edge and
// traversal queries are label-crossing and run their own Cypher.
type GraphStore struct {
	driver neo4j.DriverWithContext

	mu    sync.Mutex
	repos map[string]*repo.Neo4jRepo[Record, string]
}

// New creates a GraphStore.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver: driver,
		repos:  make(map[string]*repo.Neo4jRepo[Record, string]),
	}
}

// recordRepo returns the repository for a node label, creating it on first
// use.
func (g *GraphStore) recordRepo(label string) *repo.Neo4jRepo[Record, string] {
	label = sanitizeLabel(label)
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.repos[label]; ok {
		return r
	}
	r := repo.NewNeo4jRepo[Record, string](
		g.driver,
		label,
		recordToMap,
		recordFromNeo4j,
	)
	g.repos[label] = r
	return r
}

// GetRecord returns a record by label and ID.
func (g *GraphStore) GetRecord(ctx context.Context, label, id string) (Record, error) {
	return g.recordRepo(label).Get(ctx, id)
}

// SaveRecord creates or updates a record node under the given label.
func (g *GraphStore) SaveRecord(ctx context.Context, label string, r Record) error {
	return g.recordRepo(label).Upsert(ctx, r)
}

// ListRecords returns a page of records under the given label.
func (g *GraphStore) ListRecords(ctx context.Context, label string, opts repo.ListOpts) ([]Record, error) {
	return g.recordRepo(label).List(ctx, opts)
}

// DeleteRecord removes a record by label and ID.
func (g *GraphStore) DeleteRecord(ctx context.Context, label, id string) error {
	return g.recordRepo(label).Delete(ctx, id)
}

// SaveEdge creates or updates a typed edge between two records.
func (g *GraphStore) SaveEdge(ctx context.Context, e Edge) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a {id: $from}), (b {id: $to})
		 MERGE (a)-[r:%s]->(b)`,
		sanitizeLabel(e.Type),
	)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"from": e.From,
		"to":   e.To,
	})
	return err
}

// Neighbors returns records reachable within depth hops.
func (g *GraphStore) Neighbors(ctx context.Context, id string, depth int) ([]Record, error) {
	if depth < 1 {
		depth = 1
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a {id: $id})-[*1..%d]-(b) RETURN DISTINCT b`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var out []Record
	for result.Next(ctx) {
		node, ok := result.Record().Values[0].(dbtype.Node)
		if !ok {
			continue
		}
		out = append(out, recordFromNode(node))
	}
	return out, nil
}

var labelPattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeLabel keeps labels and relationship types safe for string
// interpolation (Cypher cannot parameterize them).
func sanitizeLabel(s string) string {
	clean := labelPattern.ReplaceAllString(s, "_")
	if clean == "" {
		return "Record"
	}
	return clean
}
