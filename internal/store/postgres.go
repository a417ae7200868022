package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/devscope-hq/devscope/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgres connects, verifies connectivity and applies the schema.
// The pool should be sized to at least the worker count; workers block
// on pool acquisition rather than fail when oversubscribed.
func NewPostgres(ctx context.Context, dsn string, poolSize int, logger *logrus.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &Postgres{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.WithField("pool_size", cfg.MaxConns).Debug("postgres store ready")
	return s, nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ensureSchema applies the idempotent DDL. The same statements live in
// scripts/schema/postgres.sql for out-of-band provisioning.
func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS intelligence (
	username TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	extracted_emails TEXT[] NOT NULL DEFAULT '{}',
	inferred_city TEXT NOT NULL DEFAULT '',
	inferred_country TEXT NOT NULL DEFAULT '',
	inferred_timezone TEXT NOT NULL DEFAULT '',
	current_employer_hint TEXT NOT NULL DEFAULT '',
	primary_languages JSONB NOT NULL DEFAULT '{}',
	frameworks TEXT[] NOT NULL DEFAULT '{}',
	tools TEXT[] NOT NULL DEFAULT '{}',
	domains TEXT[] NOT NULL DEFAULT '{}',
	years_active DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_commits_estimate INTEGER NOT NULL DEFAULT 0,
	repos_maintained INTEGER NOT NULL DEFAULT 0,
	seniority_level TEXT NOT NULL,
	seniority_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	influence_score INTEGER NOT NULL DEFAULT 0,
	organization_memberships TEXT[] NOT NULL DEFAULT '{}',
	top_collaborators JSONB NOT NULL DEFAULT '[]',
	commits_per_week DOUBLE PRECISION NOT NULL DEFAULT 0,
	prs_per_month DOUBLE PRECISION NOT NULL DEFAULT 0,
	consistency_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	activity_trend TEXT NOT NULL,
	last_active_at TIMESTAMPTZ,
	reachability_score INTEGER NOT NULL DEFAULT 0,
	reachability_signals JSONB NOT NULL DEFAULT '[]',
	best_contact_method TEXT NOT NULL,
	partial BOOLEAN NOT NULL DEFAULT FALSE,
	source_fetched_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	ai_summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_intelligence_fetched ON intelligence (source_fetched_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_seniority ON intelligence (seniority_level);

CREATE TABLE IF NOT EXISTS collaboration (
	user_a TEXT NOT NULL,
	user_b TEXT NOT NULL,
	shared_repos TEXT[] NOT NULL DEFAULT '{}',
	strength INTEGER NOT NULL DEFAULT 0,
	last_interaction_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_a, user_b),
	CHECK (user_a < user_b)
);

CREATE INDEX IF NOT EXISTS idx_collaboration_user_b ON collaboration (user_b);

CREATE TABLE IF NOT EXISTS activity_timeline (
	username TEXT NOT NULL,
	week_start DATE NOT NULL,
	commits INTEGER NOT NULL DEFAULT 0,
	prs_opened INTEGER NOT NULL DEFAULT 0,
	prs_merged INTEGER NOT NULL DEFAULT 0,
	issues_opened INTEGER NOT NULL DEFAULT 0,
	reviews_given INTEGER NOT NULL DEFAULT 0,
	active_days INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (username, week_start)
);

CREATE TABLE IF NOT EXISTS enrichment_failures (
	username TEXT PRIMARY KEY,
	stage TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 1,
	first_failed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	discovered INTEGER NOT NULL DEFAULT 0,
	enriched INTEGER NOT NULL DEFAULT 0,
	partial_recs INTEGER NOT NULL DEFAULT 0,
	gone_missing INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	cancelled INTEGER NOT NULL DEFAULT 0,
	exit_state TEXT NOT NULL DEFAULT ''
);
`

// SaveEnrichment writes the record, timeline and edges in one transaction.
func (s *Postgres) SaveEnrichment(ctx context.Context, result *models.EnrichmentResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin enrichment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertIntelligence(ctx, tx, &result.Record); err != nil {
		return err
	}
	for i := range result.Timeline {
		if err := upsertTimelinePoint(ctx, tx, &result.Timeline[i]); err != nil {
			return err
		}
	}
	for i := range result.Edges {
		if err := upsertCollaboration(ctx, tx, &result.Edges[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit enrichment tx: %w", err)
	}
	return nil
}

// upsertIntelligence never lists created_at or ai_summary in the update
// set: created_at survives from the first insert and ai_summary is
// owned by the out-of-band summarizer.
func upsertIntelligence(ctx context.Context, tx pgx.Tx, rec *models.IntelligenceRecord) error {
	languagesJSON, err := json.Marshal(rec.PrimaryLanguages)
	if err != nil {
		return fmt.Errorf("marshal primary_languages: %w", err)
	}
	collaboratorsJSON, err := json.Marshal(rec.TopCollaborators)
	if err != nil {
		return fmt.Errorf("marshal top_collaborators: %w", err)
	}
	signalsJSON, err := json.Marshal(rec.ReachabilitySignals)
	if err != nil {
		return fmt.Errorf("marshal reachability_signals: %w", err)
	}

	query := `
		INSERT INTO intelligence (
			username, display_name, extracted_emails, inferred_city,
			inferred_country, inferred_timezone, current_employer_hint,
			primary_languages, frameworks, tools, domains,
			years_active, total_commits_estimate, repos_maintained,
			seniority_level, seniority_confidence,
			influence_score, organization_memberships, top_collaborators,
			commits_per_week, prs_per_month, consistency_score,
			activity_trend, last_active_at,
			reachability_score, reachability_signals, best_contact_method,
			partial, source_fetched_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
			$27, $28, $29, NOW(), NOW()
		)
		ON CONFLICT (username) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			extracted_emails = EXCLUDED.extracted_emails,
			inferred_city = EXCLUDED.inferred_city,
			inferred_country = EXCLUDED.inferred_country,
			inferred_timezone = EXCLUDED.inferred_timezone,
			current_employer_hint = EXCLUDED.current_employer_hint,
			primary_languages = EXCLUDED.primary_languages,
			frameworks = EXCLUDED.frameworks,
			tools = EXCLUDED.tools,
			domains = EXCLUDED.domains,
			years_active = EXCLUDED.years_active,
			total_commits_estimate = EXCLUDED.total_commits_estimate,
			repos_maintained = EXCLUDED.repos_maintained,
			seniority_level = EXCLUDED.seniority_level,
			seniority_confidence = EXCLUDED.seniority_confidence,
			influence_score = EXCLUDED.influence_score,
			organization_memberships = EXCLUDED.organization_memberships,
			top_collaborators = EXCLUDED.top_collaborators,
			commits_per_week = EXCLUDED.commits_per_week,
			prs_per_month = EXCLUDED.prs_per_month,
			consistency_score = EXCLUDED.consistency_score,
			activity_trend = EXCLUDED.activity_trend,
			last_active_at = EXCLUDED.last_active_at,
			reachability_score = EXCLUDED.reachability_score,
			reachability_signals = EXCLUDED.reachability_signals,
			best_contact_method = EXCLUDED.best_contact_method,
			partial = EXCLUDED.partial,
			source_fetched_at = EXCLUDED.source_fetched_at,
			updated_at = NOW()
	`

	_, err = tx.Exec(ctx, query,
		rec.Username, rec.DisplayName, rec.ExtractedEmails, rec.InferredCity,
		rec.InferredCountry, rec.InferredTimezone, rec.CurrentEmployerHint,
		languagesJSON, rec.Frameworks, rec.Tools, rec.Domains,
		rec.YearsActive, rec.TotalCommitsEstimate, rec.ReposMaintained,
		string(rec.SeniorityLevel), rec.SeniorityConfidence,
		rec.InfluenceScore, rec.OrganizationMemberships, collaboratorsJSON,
		rec.CommitsPerWeek, rec.PRsPerMonth, rec.ConsistencyScore,
		string(rec.ActivityTrend), rec.LastActiveAt,
		rec.ReachabilityScore, signalsJSON, string(rec.BestContactMethod),
		rec.Partial, rec.SourceFetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert intelligence: %w", err)
	}
	return nil
}

// upsertTimelinePoint replaces a stored week only when the new activity
// total is at least the stored one, so re-fetches never erase activity
// observed earlier in a week.
func upsertTimelinePoint(ctx context.Context, tx pgx.Tx, p *models.ActivityTimelinePoint) error {
	query := `
		INSERT INTO activity_timeline (
			username, week_start, commits, prs_opened, prs_merged,
			issues_opened, reviews_given, active_days
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (username, week_start) DO UPDATE SET
			commits = EXCLUDED.commits,
			prs_opened = EXCLUDED.prs_opened,
			prs_merged = EXCLUDED.prs_merged,
			issues_opened = EXCLUDED.issues_opened,
			reviews_given = EXCLUDED.reviews_given,
			active_days = EXCLUDED.active_days
		WHERE (EXCLUDED.commits + EXCLUDED.prs_opened + EXCLUDED.issues_opened + EXCLUDED.reviews_given)
			>= (activity_timeline.commits + activity_timeline.prs_opened + activity_timeline.issues_opened + activity_timeline.reviews_given)
	`

	_, err := tx.Exec(ctx, query,
		p.Username, p.WeekStart, p.Commits, p.PRsOpened, p.PRsMerged,
		p.IssuesOpened, p.ReviewsGiven, p.ActiveDays)
	if err != nil {
		return fmt.Errorf("upsert timeline point: %w", err)
	}
	return nil
}

// upsertCollaboration keeps the stronger strength, unions shared repos
// and keeps the later interaction time. Concurrent writers of the same
// edge converge under these rules regardless of ordering.
func upsertCollaboration(ctx context.Context, tx pgx.Tx, e *models.CollaborationEdge) error {
	query := `
		INSERT INTO collaboration (
			user_a, user_b, shared_repos, strength, last_interaction_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_a, user_b) DO UPDATE SET
			strength = GREATEST(collaboration.strength, EXCLUDED.strength),
			shared_repos = ARRAY(
				SELECT DISTINCT r FROM unnest(collaboration.shared_repos || EXCLUDED.shared_repos) AS r ORDER BY r
			),
			last_interaction_at = GREATEST(collaboration.last_interaction_at, EXCLUDED.last_interaction_at),
			updated_at = NOW()
	`

	_, err := tx.Exec(ctx, query,
		e.UserA, e.UserB, e.SharedRepos, e.Strength, e.LastInteractionAt)
	if err != nil {
		return fmt.Errorf("upsert collaboration %s/%s: %w", e.UserA, e.UserB, err)
	}
	return nil
}

// FetchedSince returns username -> source_fetched_at for records
// fetched at or after cutoff.
func (s *Postgres) FetchedSince(ctx context.Context, cutoff time.Time) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, source_fetched_at FROM intelligence WHERE source_fetched_at >= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query fetched since: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var username string
		var fetchedAt time.Time
		if err := rows.Scan(&username, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan fetched since: %w", err)
		}
		out[username] = fetchedAt
	}
	return out, rows.Err()
}

const intelligenceColumns = `
	username, display_name, extracted_emails, inferred_city,
	inferred_country, inferred_timezone, current_employer_hint,
	primary_languages, frameworks, tools, domains,
	years_active, total_commits_estimate, repos_maintained,
	seniority_level, seniority_confidence,
	influence_score, organization_memberships, top_collaborators,
	commits_per_week, prs_per_month, consistency_score,
	activity_trend, last_active_at,
	reachability_score, reachability_signals, best_contact_method,
	partial, source_fetched_at, created_at, updated_at, ai_summary`

// GetIntelligence loads one record by username.
func (s *Postgres) GetIntelligence(ctx context.Context, username string) (*models.IntelligenceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intelligenceColumns+` FROM intelligence WHERE username = $1`, username)

	rec, err := scanIntelligence(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get intelligence %s: %w", username, err)
	}
	return rec, nil
}

func scanIntelligence(row pgx.Row) (*models.IntelligenceRecord, error) {
	var rec models.IntelligenceRecord
	var languagesJSON, collaboratorsJSON, signalsJSON []byte
	var seniority, trend, contact string
	var aiSummary *string

	err := row.Scan(
		&rec.Username, &rec.DisplayName, &rec.ExtractedEmails, &rec.InferredCity,
		&rec.InferredCountry, &rec.InferredTimezone, &rec.CurrentEmployerHint,
		&languagesJSON, &rec.Frameworks, &rec.Tools, &rec.Domains,
		&rec.YearsActive, &rec.TotalCommitsEstimate, &rec.ReposMaintained,
		&seniority, &rec.SeniorityConfidence,
		&rec.InfluenceScore, &rec.OrganizationMemberships, &collaboratorsJSON,
		&rec.CommitsPerWeek, &rec.PRsPerMonth, &rec.ConsistencyScore,
		&trend, &rec.LastActiveAt,
		&rec.ReachabilityScore, &signalsJSON, &contact,
		&rec.Partial, &rec.SourceFetchedAt, &rec.CreatedAt, &rec.UpdatedAt,
		&aiSummary,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(languagesJSON, &rec.PrimaryLanguages); err != nil {
		return nil, fmt.Errorf("unmarshal primary_languages: %w", err)
	}
	if err := json.Unmarshal(collaboratorsJSON, &rec.TopCollaborators); err != nil {
		return nil, fmt.Errorf("unmarshal top_collaborators: %w", err)
	}
	if err := json.Unmarshal(signalsJSON, &rec.ReachabilitySignals); err != nil {
		return nil, fmt.Errorf("unmarshal reachability_signals: %w", err)
	}

	rec.SeniorityLevel = models.SeniorityLevel(seniority)
	rec.ActivityTrend = models.ActivityTrend(trend)
	rec.BestContactMethod = models.ContactMethod(contact)
	if aiSummary != nil {
		rec.AISummary = *aiSummary
	}
	return &rec, nil
}

// GetTimeline returns the most recent weeks for a user in ascending
// week order.
func (s *Postgres) GetTimeline(ctx context.Context, username string, weeks int) ([]models.ActivityTimelinePoint, error) {
	query := `
		SELECT username, week_start, commits, prs_opened, prs_merged,
			issues_opened, reviews_given, active_days
		FROM (
			SELECT * FROM activity_timeline
			WHERE username = $1
			ORDER BY week_start DESC
			LIMIT $2
		) AS recent
		ORDER BY week_start ASC
	`

	rows, err := s.pool.Query(ctx, query, username, weeks)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var points []models.ActivityTimelinePoint
	for rows.Next() {
		var p models.ActivityTimelinePoint
		if err := rows.Scan(&p.Username, &p.WeekStart, &p.Commits, &p.PRsOpened,
			&p.PRsMerged, &p.IssuesOpened, &p.ReviewsGiven, &p.ActiveDays); err != nil {
			return nil, fmt.Errorf("scan timeline point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetCollaborations returns the strongest edges touching a username.
func (s *Postgres) GetCollaborations(ctx context.Context, username string, limit int) ([]models.CollaborationEdge, error) {
	query := `
		SELECT user_a, user_b, shared_repos, strength, last_interaction_at, updated_at
		FROM collaboration
		WHERE user_a = $1 OR user_b = $1
		ORDER BY strength DESC, user_a, user_b
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, username, limit)
	if err != nil {
		return nil, fmt.Errorf("query collaborations: %w", err)
	}
	defer rows.Close()

	var edges []models.CollaborationEdge
	for rows.Next() {
		var e models.CollaborationEdge
		if err := rows.Scan(&e.UserA, &e.UserB, &e.SharedRepos, &e.Strength,
			&e.LastInteractionAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaboration: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// CollaborationsSince returns every edge updated at or after since,
// oldest first so the mirror can resume from its high-water mark.
func (s *Postgres) CollaborationsSince(ctx context.Context, since time.Time) ([]models.CollaborationEdge, error) {
	query := `
		SELECT user_a, user_b, shared_repos, strength, last_interaction_at, updated_at
		FROM collaboration
		WHERE updated_at >= $1
		ORDER BY updated_at ASC, user_a, user_b
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query collaborations since: %w", err)
	}
	defer rows.Close()

	var edges []models.CollaborationEdge
	for rows.Next() {
		var e models.CollaborationEdge
		if err := rows.Scan(&e.UserA, &e.UserB, &e.SharedRepos, &e.Strength,
			&e.LastInteractionAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaboration: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Stats summarizes the durable state.
func (s *Postgres) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySeniority: make(map[string]int),
		ByTrend:     make(map[string]int),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE partial),
			MIN(source_fetched_at), MAX(source_fetched_at)
		FROM intelligence
	`).Scan(&stats.TotalRecords, &stats.PartialRecords, &stats.OldestFetch, &stats.NewestFetch)
	if err != nil {
		return nil, fmt.Errorf("query intelligence stats: %w", err)
	}

	if err := s.countsBy(ctx, `SELECT seniority_level, COUNT(*) FROM intelligence GROUP BY 1`, stats.BySeniority); err != nil {
		return nil, err
	}
	if err := s.countsBy(ctx, `SELECT activity_trend, COUNT(*) FROM intelligence GROUP BY 1`, stats.ByTrend); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM collaboration),
			(SELECT COUNT(*) FROM activity_timeline),
			(SELECT COUNT(*) FROM enrichment_failures)
	`).Scan(&stats.CollaborationEdges, &stats.TimelineRows, &stats.PendingFailures)
	if err != nil {
		return nil, fmt.Errorf("query table counts: %w", err)
	}

	return stats, nil
}

func (s *Postgres) countsBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan counts: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

// RecordFailure inserts or bumps the failure row for a username.
func (s *Postgres) RecordFailure(ctx context.Context, failure *models.EnrichmentFailure) error {
	query := `
		INSERT INTO enrichment_failures (
			username, stage, error_kind, error_text, attempts, first_failed_at, last_failed_at
		) VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (username) DO UPDATE SET
			stage = EXCLUDED.stage,
			error_kind = EXCLUDED.error_kind,
			error_text = EXCLUDED.error_text,
			attempts = enrichment_failures.attempts + 1,
			last_failed_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query, failure.Username, failure.Stage, failure.Kind, failure.Message)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", failure.Username, err)
	}
	return nil
}

// ResolveFailure drops the failure row after a successful enrichment.
func (s *Postgres) ResolveFailure(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM enrichment_failures WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("resolve failure for %s: %w", username, err)
	}
	return nil
}

// ListFailures returns the most recently failing usernames first.
func (s *Postgres) ListFailures(ctx context.Context, limit int) ([]models.EnrichmentFailure, error) {
	query := `
		SELECT username, stage, error_kind, error_text, attempts, first_failed_at, last_failed_at
		FROM enrichment_failures
		ORDER BY last_failed_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var failures []models.EnrichmentFailure
	for rows.Next() {
		var f models.EnrichmentFailure
		if err := rows.Scan(&f.Username, &f.Stage, &f.Kind, &f.Message,
			&f.Attempts, &f.FirstSeen, &f.LastSeen); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// StartRun inserts the ledger row for a starting run.
func (s *Postgres) StartRun(ctx context.Context, run *models.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, started_at, exit_state) VALUES ($1, $2, 'running')`,
		run.ID, run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the final counters for a run.
func (s *Postgres) FinishRun(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE runs SET
			finished_at = $2,
			discovered = $3,
			enriched = $4,
			partial_recs = $5,
			gone_missing = $6,
			failed = $7,
			cancelled = $8,
			exit_state = $9
		WHERE id = $1
	`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Discovered, run.Enriched, run.PartialRecs,
		run.GoneMissing, run.Failed, run.Cancelled, run.ExitState)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (s *Postgres) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT id, started_at, finished_at, discovered, enriched, partial_recs,
			gone_missing, failed, cancelled, exit_state
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Discovered,
			&r.Enriched, &r.PartialRecs, &r.GoneMissing, &r.Failed,
			&r.Cancelled, &r.ExitState); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
