// Package graphsync mirrors the relational collaboration table into
// Neo4j so edge queries (mutual collaborators, shortest paths between
// developers) run on a graph engine instead of recursive SQL. The
// relational store stays the source of truth; the mirror is rebuilt or
// caught up with an idempotent MERGE pass.
package graphsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/devscope-hq/devscope/internal/models"
)

const (
	defaultDatabase = "neo4j"

	// edgeBatchSize bounds one UNWIND payload. Bigger batches mean fewer
	// round trips but longer-held write locks on the Developer nodes.
	edgeBatchSize = 500
)

// mergeEdgesQuery upserts both endpoint nodes and the relationship in
// one statement. Edges arrive canonicalized (user_a < user_b), so one
// directed relationship per pair is enough.
const mergeEdgesQuery = `
	UNWIND $edges AS edge
	MERGE (a:Developer {login: edge.user_a})
	MERGE (b:Developer {login: edge.user_b})
	MERGE (a)-[r:COLLABORATED_WITH]->(b)
	SET r.strength = edge.strength,
	    r.shared_repos = edge.shared_repos,
	    r.last_interaction_at = datetime(edge.last_interaction_at),
	    r.updated_at = datetime(edge.updated_at)
	RETURN count(r) AS merged`

// EdgeSource feeds the mirror. The relational store implements it.
type EdgeSource interface {
	CollaborationsSince(ctx context.Context, since time.Time) ([]models.CollaborationEdge, error)
}

// Syncer replays collaboration edges into Neo4j.
type Syncer struct {
	source   EdgeSource
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger

	exec func(ctx context.Context, query string, params map[string]any) error
}

// New connects to Neo4j and verifies connectivity before returning.
func New(ctx context.Context, uri, user, password string, source EdgeSource) (*Syncer, error) {
	if uri == "" || user == "" || password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%q user=%q", uri, user)
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 10
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", uri, err)
	}

	logger := slog.Default().With("component", "graphsync")
	logger.Info("neo4j connected", "uri", uri, "database", defaultDatabase)

	s := &Syncer{
		source:   source,
		driver:   driver,
		database: defaultDatabase,
		logger:   logger,
	}
	s.exec = s.runWrite
	return s, nil
}

// Close releases the driver.
func (s *Syncer) Close(ctx context.Context) error {
	if err := s.driver.Close(ctx); err != nil {
		return fmt.Errorf("close neo4j driver: %w", err)
	}
	return nil
}

// Sync mirrors every edge updated at or after since and reports how
// many were written. A zero since replays the whole table; MERGE makes
// the replay idempotent. On a batch failure it returns the count that
// made it, so callers can log partial progress before exiting.
func (s *Syncer) Sync(ctx context.Context, since time.Time) (int, error) {
	edges, err := s.source.CollaborationsSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("load collaboration edges: %w", err)
	}
	if len(edges) == 0 {
		s.logger.Info("collaboration graph already in sync")
		return 0, nil
	}

	synced := 0
	for start := 0; start < len(edges); start += edgeBatchSize {
		end := start + edgeBatchSize
		if end > len(edges) {
			end = len(edges)
		}

		params := map[string]any{"edges": edgeParams(edges[start:end])}
		if err := s.exec(ctx, mergeEdgesQuery, params); err != nil {
			return synced, fmt.Errorf("merge edge batch %d-%d: %w", start, end, err)
		}
		synced = end
		s.logger.Debug("edge batch mirrored", "from", start, "to", end)
	}

	s.logger.Info("collaboration graph mirrored",
		"edges", synced,
		"since", since.UTC().Format(time.RFC3339))
	return synced, nil
}

func (s *Syncer) runWrite(ctx context.Context, query string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	return err
}

func edgeParams(edges []models.CollaborationEdge) []map[string]any {
	out := make([]map[string]any, len(edges))
	for i, e := range edges {
		out[i] = map[string]any{
			"user_a":              e.UserA,
			"user_b":              e.UserB,
			"strength":            e.Strength,
			"shared_repos":        e.SharedRepos,
			"last_interaction_at": e.LastInteractionAt.UTC().Format(time.RFC3339),
			"updated_at":          e.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}
