package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/devscope-hq/devscope/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*SQLite)(nil)
)

// Store is the persistence boundary. The pipeline writes enrichment
// results through it; the read-side CLI commands query through it.
type Store interface {
	// SaveEnrichment writes one record, its timeline points and its
	// collaboration edges in a single transaction.
	SaveEnrichment(ctx context.Context, result *models.EnrichmentResult) error

	// FetchedSince returns username -> source_fetched_at for every
	// record fetched at or after cutoff. Discovery uses it to skip
	// fresh candidates.
	FetchedSince(ctx context.Context, cutoff time.Time) (map[string]time.Time, error)

	// Read side
	GetIntelligence(ctx context.Context, username string) (*models.IntelligenceRecord, error)
	GetTimeline(ctx context.Context, username string, weeks int) ([]models.ActivityTimelinePoint, error)
	GetCollaborations(ctx context.Context, username string, limit int) ([]models.CollaborationEdge, error)

	// CollaborationsSince returns every edge updated at or after since,
	// oldest first. The graph mirror feeds on it; a zero since means all.
	CollaborationsSince(ctx context.Context, since time.Time) ([]models.CollaborationEdge, error)

	Stats(ctx context.Context) (*Stats, error)

	// Failure queue
	RecordFailure(ctx context.Context, failure *models.EnrichmentFailure) error
	ResolveFailure(ctx context.Context, username string) error
	ListFailures(ctx context.Context, limit int) ([]models.EnrichmentFailure, error)

	// Run ledger
	StartRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	RecentRuns(ctx context.Context, limit int) ([]models.Run, error)

	Ping(ctx context.Context) error
	Close() error
}

// Stats summarizes the durable state for the status command.
type Stats struct {
	TotalRecords       int
	PartialRecords     int
	BySeniority        map[string]int
	ByTrend            map[string]int
	CollaborationEdges int
	TimelineRows       int
	OldestFetch        *time.Time
	NewestFetch        *time.Time
	PendingFailures    int
}

// IsRetriable reports whether a persistence failure is worth retrying.
// Connection drops, serialization failures and lock contention are;
// constraint violations and type mismatches are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001" || pgErr.Code == "40P01": // serialization, deadlock
			return true
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return true
		case pgErr.Code == "57P01": // admin shutdown
			return true
		}
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
