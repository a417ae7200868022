package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/devscope-hq/devscope/internal/models"
)

// SQLite implements Store on a local file, for runs without a Postgres.
// Array and JSON columns are stored as JSON text.
type SQLite struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLite opens (creating if needed) the database at path and
// applies the schema.
func NewSQLite(path string, logger *logrus.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA busy_timeout = 5000")

	s := &SQLite{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.WithField("path", path).Debug("sqlite store ready")
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intelligence (
		username TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		extracted_emails TEXT NOT NULL DEFAULT '[]',
		inferred_city TEXT NOT NULL DEFAULT '',
		inferred_country TEXT NOT NULL DEFAULT '',
		inferred_timezone TEXT NOT NULL DEFAULT '',
		current_employer_hint TEXT NOT NULL DEFAULT '',
		primary_languages TEXT NOT NULL DEFAULT '{}',
		frameworks TEXT NOT NULL DEFAULT '[]',
		tools TEXT NOT NULL DEFAULT '[]',
		domains TEXT NOT NULL DEFAULT '[]',
		years_active REAL NOT NULL DEFAULT 0,
		total_commits_estimate INTEGER NOT NULL DEFAULT 0,
		repos_maintained INTEGER NOT NULL DEFAULT 0,
		seniority_level TEXT NOT NULL,
		seniority_confidence REAL NOT NULL DEFAULT 0,
		influence_score INTEGER NOT NULL DEFAULT 0,
		organization_memberships TEXT NOT NULL DEFAULT '[]',
		top_collaborators TEXT NOT NULL DEFAULT '[]',
		commits_per_week REAL NOT NULL DEFAULT 0,
		prs_per_month REAL NOT NULL DEFAULT 0,
		consistency_score REAL NOT NULL DEFAULT 0,
		activity_trend TEXT NOT NULL,
		last_active_at DATETIME,
		reachability_score INTEGER NOT NULL DEFAULT 0,
		reachability_signals TEXT NOT NULL DEFAULT '[]',
		best_contact_method TEXT NOT NULL,
		partial BOOLEAN NOT NULL DEFAULT 0,
		source_fetched_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		ai_summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_intelligence_fetched ON intelligence (source_fetched_at);

	CREATE TABLE IF NOT EXISTS collaboration (
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		shared_repos TEXT NOT NULL DEFAULT '[]',
		strength INTEGER NOT NULL DEFAULT 0,
		last_interaction_at DATETIME,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_a, user_b),
		CHECK (user_a < user_b)
	);

	CREATE TABLE IF NOT EXISTS activity_timeline (
		username TEXT NOT NULL,
		week_start DATETIME NOT NULL,
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
		first_failed_at DATETIME NOT NULL,
		last_failed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		discovered INTEGER NOT NULL DEFAULT 0,
		enriched INTEGER NOT NULL DEFAULT 0,
		partial_recs INTEGER NOT NULL DEFAULT 0,
		gone_missing INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		exit_state TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SaveEnrichment writes the record, timeline and edges in one transaction.
func (s *SQLite) SaveEnrichment(ctx context.Context, result *models.EnrichmentResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := s.upsertIntelligence(ctx, tx, &result.Record, now); err != nil {
		return err
	}
	for i := range result.Timeline {
		if err := s.upsertTimelinePoint(ctx, tx, &result.Timeline[i]); err != nil {
			return err
		}
	}
	for i := range result.Edges {
		if err := s.upsertCollaboration(ctx, tx, &result.Edges[i], now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLite) upsertIntelligence(ctx context.Context, tx *sqlx.Tx, rec *models.IntelligenceRecord, now time.Time) error {
	emails, err := jsonText(rec.ExtractedEmails)
	if err != nil {
		return fmt.Errorf("marshal extracted_emails: %w", err)
	}
	languages, err := jsonText(rec.PrimaryLanguages)
	if err != nil {
		return fmt.Errorf("marshal primary_languages: %w", err)
	}
	frameworks, err := jsonText(rec.Frameworks)
	if err != nil {
		return fmt.Errorf("marshal frameworks: %w", err)
	}
	tools, err := jsonText(rec.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	domains, err := jsonText(rec.Domains)
	if err != nil {
		return fmt.Errorf("marshal domains: %w", err)
	}
	orgs, err := jsonText(rec.OrganizationMemberships)
	if err != nil {
		return fmt.Errorf("marshal organization_memberships: %w", err)
	}
	collaborators, err := jsonText(rec.TopCollaborators)
	if err != nil {
		return fmt.Errorf("marshal top_collaborators: %w", err)
	}
	signals, err := jsonText(rec.ReachabilitySignals)
	if err != nil {
		return fmt.Errorf("marshal reachability_signals: %w", err)
	}

	var lastActive interface{}
	if rec.LastActiveAt != nil {
		lastActive = rec.LastActiveAt.UTC()
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			display_name = excluded.display_name,
			extracted_emails = excluded.extracted_emails,
			inferred_city = excluded.inferred_city,
			inferred_country = excluded.inferred_country,
			inferred_timezone = excluded.inferred_timezone,
			current_employer_hint = excluded.current_employer_hint,
			primary_languages = excluded.primary_languages,
			frameworks = excluded.frameworks,
			tools = excluded.tools,
			domains = excluded.domains,
			years_active = excluded.years_active,
			total_commits_estimate = excluded.total_commits_estimate,
			repos_maintained = excluded.repos_maintained,
			seniority_level = excluded.seniority_level,
			seniority_confidence = excluded.seniority_confidence,
			influence_score = excluded.influence_score,
			organization_memberships = excluded.organization_memberships,
			top_collaborators = excluded.top_collaborators,
			commits_per_week = excluded.commits_per_week,
			prs_per_month = excluded.prs_per_month,
			consistency_score = excluded.consistency_score,
			activity_trend = excluded.activity_trend,
			last_active_at = excluded.last_active_at,
			reachability_score = excluded.reachability_score,
			reachability_signals = excluded.reachability_signals,
			best_contact_method = excluded.best_contact_method,
			partial = excluded.partial,
			source_fetched_at = excluded.source_fetched_at,
			updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		rec.Username, rec.DisplayName, emails, rec.InferredCity,
		rec.InferredCountry, rec.InferredTimezone, rec.CurrentEmployerHint,
		languages, frameworks, tools, domains,
		rec.YearsActive, rec.TotalCommitsEstimate, rec.ReposMaintained,
		string(rec.SeniorityLevel), rec.SeniorityConfidence,
		rec.InfluenceScore, orgs, collaborators,
		rec.CommitsPerWeek, rec.PRsPerMonth, rec.ConsistencyScore,
		string(rec.ActivityTrend), lastActive,
		rec.ReachabilityScore, signals, string(rec.BestContactMethod),
		rec.Partial, rec.SourceFetchedAt.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert intelligence: %w", err)
	}
	return nil
}

func (s *SQLite) upsertTimelinePoint(ctx context.Context, tx *sqlx.Tx, p *models.ActivityTimelinePoint) error {
	query := `
		INSERT INTO activity_timeline (
			username, week_start, commits, prs_opened, prs_merged,
			issues_opened, reviews_given, active_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, week_start) DO UPDATE SET
			commits = excluded.commits,
			prs_opened = excluded.prs_opened,
			prs_merged = excluded.prs_merged,
			issues_opened = excluded.issues_opened,
			reviews_given = excluded.reviews_given,
			active_days = excluded.active_days
		WHERE (excluded.commits + excluded.prs_opened + excluded.issues_opened + excluded.reviews_given)
			>= (activity_timeline.commits + activity_timeline.prs_opened + activity_timeline.issues_opened + activity_timeline.reviews_given)
	`

	_, err := tx.ExecContext(ctx, query,
		p.Username, p.WeekStart.UTC(), p.Commits, p.PRsOpened, p.PRsMerged,
		p.IssuesOpened, p.ReviewsGiven, p.ActiveDays)
	if err != nil {
		return fmt.Errorf("upsert timeline point: %w", err)
	}
	return nil
}

// upsertCollaboration merges in Go because sqlite cannot union JSON
// text arrays in the conflict clause.
func (s *SQLite) upsertCollaboration(ctx context.Context, tx *sqlx.Tx, e *models.CollaborationEdge, now time.Time) error {
	var existing struct {
		SharedRepos       string    `db:"shared_repos"`
		Strength          int       `db:"strength"`
		LastInteractionAt time.Time `db:"last_interaction_at"`
	}
	err := tx.GetContext(ctx, &existing,
		`SELECT shared_repos, strength, last_interaction_at FROM collaboration WHERE user_a = ? AND user_b = ?`,
		e.UserA, e.UserB)

	repos := e.SharedRepos
	strength := e.Strength
	lastInteraction := e.LastInteractionAt.UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first sighting, insert as-is
	case err != nil:
		return fmt.Errorf("read collaboration %s/%s: %w", e.UserA, e.UserB, err)
	default:
		var existingRepos []string
		if err := json.Unmarshal([]byte(existing.SharedRepos), &existingRepos); err != nil {
			return fmt.Errorf("unmarshal shared_repos: %w", err)
		}
		repos = unionSorted(existingRepos, e.SharedRepos)
		if existing.Strength > strength {
			strength = existing.Strength
		}
		if existing.LastInteractionAt.After(lastInteraction) {
			lastInteraction = existing.LastInteractionAt.UTC()
		}
	}

	reposJSON, err := jsonText(repos)
	if err != nil {
		return fmt.Errorf("marshal shared_repos: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO collaboration
		(user_a, user_b, shared_repos, strength, last_interaction_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.UserA, e.UserB, reposJSON, strength, lastInteraction, now)
	if err != nil {
		return fmt.Errorf("upsert collaboration %s/%s: %w", e.UserA, e.UserB, err)
	}
	return nil
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// FetchedSince returns username -> source_fetched_at for records
// fetched at or after cutoff.
func (s *SQLite) FetchedSince(ctx context.Context, cutoff time.Time) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, source_fetched_at FROM intelligence WHERE source_fetched_at >= ?`, cutoff.UTC())
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

type sqliteIntelligenceRow struct {
	Username                string         `db:"username"`
	DisplayName             string         `db:"display_name"`
	ExtractedEmails         string         `db:"extracted_emails"`
	InferredCity            string         `db:"inferred_city"`
	InferredCountry         string         `db:"inferred_country"`
	InferredTimezone        string         `db:"inferred_timezone"`
	CurrentEmployerHint     string         `db:"current_employer_hint"`
	PrimaryLanguages        string         `db:"primary_languages"`
	Frameworks              string         `db:"frameworks"`
	Tools                   string         `db:"tools"`
	Domains                 string         `db:"domains"`
	YearsActive             float64        `db:"years_active"`
	TotalCommitsEstimate    int            `db:"total_commits_estimate"`
	ReposMaintained         int            `db:"repos_maintained"`
	SeniorityLevel          string         `db:"seniority_level"`
	SeniorityConfidence     float64        `db:"seniority_confidence"`
	InfluenceScore          int            `db:"influence_score"`
	OrganizationMemberships string         `db:"organization_memberships"`
	TopCollaborators        string         `db:"top_collaborators"`
	CommitsPerWeek          float64        `db:"commits_per_week"`
	PRsPerMonth             float64        `db:"prs_per_month"`
	ConsistencyScore        float64        `db:"consistency_score"`
	ActivityTrend           string         `db:"activity_trend"`
	LastActiveAt            sql.NullTime   `db:"last_active_at"`
	ReachabilityScore       int            `db:"reachability_score"`
	ReachabilitySignals     string         `db:"reachability_signals"`
	BestContactMethod       string         `db:"best_contact_method"`
	Partial                 bool           `db:"partial"`
	SourceFetchedAt         time.Time      `db:"source_fetched_at"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
	AISummary               sql.NullString `db:"ai_summary"`
}

func (r *sqliteIntelligenceRow) toRecord() (*models.IntelligenceRecord, error) {
	rec := &models.IntelligenceRecord{
		Username:             r.Username,
		DisplayName:          r.DisplayName,
		InferredCity:         r.InferredCity,
		InferredCountry:      r.InferredCountry,
		InferredTimezone:     r.InferredTimezone,
		CurrentEmployerHint:  r.CurrentEmployerHint,
		YearsActive:          r.YearsActive,
		TotalCommitsEstimate: r.TotalCommitsEstimate,
		ReposMaintained:      r.ReposMaintained,
		SeniorityLevel:       models.SeniorityLevel(r.SeniorityLevel),
		SeniorityConfidence:  r.SeniorityConfidence,
		InfluenceScore:       r.InfluenceScore,
		CommitsPerWeek:       r.CommitsPerWeek,
		PRsPerMonth:          r.PRsPerMonth,
		ConsistencyScore:     r.ConsistencyScore,
		ActivityTrend:        models.ActivityTrend(r.ActivityTrend),
		ReachabilityScore:    r.ReachabilityScore,
		BestContactMethod:    models.ContactMethod(r.BestContactMethod),
		Partial:              r.Partial,
		SourceFetchedAt:      r.SourceFetchedAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}

	if r.LastActiveAt.Valid {
		t := r.LastActiveAt.Time
		rec.LastActiveAt = &t
	}
	if r.AISummary.Valid {
		rec.AISummary = r.AISummary.String
	}

	for _, col := range []struct {
		src  string
		name string
		dst  any
	}{
		{r.ExtractedEmails, "extracted_emails", &rec.ExtractedEmails},
		{r.PrimaryLanguages, "primary_languages", &rec.PrimaryLanguages},
		{r.Frameworks, "frameworks", &rec.Frameworks},
		{r.Tools, "tools", &rec.Tools},
		{r.Domains, "domains", &rec.Domains},
		{r.OrganizationMemberships, "organization_memberships", &rec.OrganizationMemberships},
		{r.TopCollaborators, "top_collaborators", &rec.TopCollaborators},
		{r.ReachabilitySignals, "reachability_signals", &rec.ReachabilitySignals},
	} {
		if err := json.Unmarshal([]byte(col.src), col.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", col.name, err)
		}
	}

	return rec, nil
}

// GetIntelligence loads one record by username.
func (s *SQLite) GetIntelligence(ctx context.Context, username string) (*models.IntelligenceRecord, error) {
	var row sqliteIntelligenceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM intelligence WHERE username = ?`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get intelligence %s: %w", username, err)
	}
	return row.toRecord()
}

// GetTimeline returns the most recent weeks for a user in ascending
// week order.
func (s *SQLite) GetTimeline(ctx context.Context, username string, weeks int) ([]models.ActivityTimelinePoint, error) {
	query := `
		SELECT username, week_start, commits, prs_opened, prs_merged,
			issues_opened, reviews_given, active_days
		FROM (
			SELECT * FROM activity_timeline
			WHERE username = ?
			ORDER BY week_start DESC
			LIMIT ?
		)
		ORDER BY week_start ASC
	`

	var points []models.ActivityTimelinePoint
	if err := s.db.SelectContext(ctx, &points, query, username, weeks); err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	return points, nil
}

// GetCollaborations returns the strongest edges touching a username.
func (s *SQLite) GetCollaborations(ctx context.Context, username string, limit int) ([]models.CollaborationEdge, error) {
	query := `
		SELECT user_a, user_b, shared_repos, strength, last_interaction_at, updated_at
		FROM collaboration
		WHERE user_a = ? OR user_b = ?
		ORDER BY strength DESC, user_a, user_b
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, username, username, limit)
	if err != nil {
		return nil, fmt.Errorf("query collaborations: %w", err)
	}
	defer rows.Close()

	var edges []models.CollaborationEdge
	for rows.Next() {
		var e models.CollaborationEdge
		var reposJSON string
		if err := rows.Scan(&e.UserA, &e.UserB, &reposJSON, &e.Strength,
			&e.LastInteractionAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaboration: %w", err)
		}
		if err := json.Unmarshal([]byte(reposJSON), &e.SharedRepos); err != nil {
			return nil, fmt.Errorf("unmarshal shared_repos: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// CollaborationsSince returns every edge updated at or after since,
// oldest first so the mirror can resume from its high-water mark.
func (s *SQLite) CollaborationsSince(ctx context.Context, since time.Time) ([]models.CollaborationEdge, error) {
	query := `
		SELECT user_a, user_b, shared_repos, strength, last_interaction_at, updated_at
		FROM collaboration
		WHERE updated_at >= ?
		ORDER BY updated_at ASC, user_a, user_b
	`

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query collaborations since: %w", err)
	}
	defer rows.Close()

	var edges []models.CollaborationEdge
	for rows.Next() {
		var e models.CollaborationEdge
		var reposJSON string
		if err := rows.Scan(&e.UserA, &e.UserB, &reposJSON, &e.Strength,
			&e.LastInteractionAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaboration: %w", err)
		}
		if err := json.Unmarshal([]byte(reposJSON), &e.SharedRepos); err != nil {
			return nil, fmt.Errorf("unmarshal shared_repos: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Stats summarizes the durable state.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySeniority: make(map[string]int),
		ByTrend:     make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN partial THEN 1 ELSE 0 END), 0)
		FROM intelligence
	`).Scan(&stats.TotalRecords, &stats.PartialRecords)
	if err != nil {
		return nil, fmt.Errorf("query intelligence stats: %w", err)
	}

	// MIN/MAX over a DATETIME column come back untyped, so bound rows
	// are read through the column itself.
	var oldest, newest time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT source_fetched_at FROM intelligence ORDER BY source_fetched_at ASC LIMIT 1`).Scan(&oldest)
	if err == nil {
		stats.OldestFetch = &oldest
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query oldest fetch: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT source_fetched_at FROM intelligence ORDER BY source_fetched_at DESC LIMIT 1`).Scan(&newest)
	if err == nil {
		stats.NewestFetch = &newest
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query newest fetch: %w", err)
	}

	if err := s.countsBy(ctx, `SELECT seniority_level, COUNT(*) FROM intelligence GROUP BY 1`, stats.BySeniority); err != nil {
		return nil, err
	}
	if err := s.countsBy(ctx, `SELECT activity_trend, COUNT(*) FROM intelligence GROUP BY 1`, stats.ByTrend); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM collaboration),
			(SELECT COUNT(*) FROM activity_timeline),
			(SELECT COUNT(*) FROM enrichment_failures)
	`).Scan(&stats.CollaborationEdges, &stats.TimelineRows, &stats.PendingFailures)
	if err != nil {
		return nil, fmt.Errorf("query table counts: %w", err)
	}

	return stats, nil
}

func (s *SQLite) countsBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
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
func (s *SQLite) RecordFailure(ctx context.Context, failure *models.EnrichmentFailure) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO enrichment_failures (
			username, stage, error_kind, error_text, attempts, first_failed_at, last_failed_at
		) VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			stage = excluded.stage,
			error_kind = excluded.error_kind,
			error_text = excluded.error_text,
			attempts = attempts + 1,
			last_failed_at = excluded.last_failed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		failure.Username, failure.Stage, failure.Kind, failure.Message, now, now)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", failure.Username, err)
	}
	return nil
}

// ResolveFailure drops the failure row after a successful enrichment.
func (s *SQLite) ResolveFailure(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_failures WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("resolve failure for %s: %w", username, err)
	}
	return nil
}

// ListFailures returns the most recently failing usernames first.
func (s *SQLite) ListFailures(ctx context.Context, limit int) ([]models.EnrichmentFailure, error) {
	query := `
		SELECT username, stage, error_kind AS kind, error_text AS message,
			attempts, first_failed_at AS first_seen, last_failed_at AS last_seen
		FROM enrichment_failures
		ORDER BY last_failed_at DESC
		LIMIT ?
	`

	var failures []models.EnrichmentFailure
	if err := s.db.SelectContext(ctx, &failures, query, limit); err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	return failures, nil
}

// StartRun inserts the ledger row for a starting run.
func (s *SQLite) StartRun(ctx context.Context, run *models.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, exit_state) VALUES (?, ?, 'running')`,
		run.ID, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the final counters for a run.
func (s *SQLite) FinishRun(ctx context.Context, run *models.Run) error {
	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	query := `
		UPDATE runs SET
			finished_at = ?, discovered = ?, enriched = ?, partial_recs = ?,
			gone_missing = ?, failed = ?, cancelled = ?, exit_state = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		finished, run.Discovered, run.Enriched, run.PartialRecs,
		run.GoneMissing, run.Failed, run.Cancelled, run.ExitState, run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT id, started_at, finished_at, discovered, enriched, partial_recs,
			gone_missing, failed, cancelled, exit_state
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Discovered,
			&r.Enriched, &r.PartialRecs, &r.GoneMissing, &r.Failed,
			&r.Cancelled, &r.ExitState); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
