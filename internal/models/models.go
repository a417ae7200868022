package models

import (
	"strings"
	"time"
)

// SeniorityLevel classifies a developer's experience band
type SeniorityLevel string

const (
	SeniorityJunior    SeniorityLevel = "Junior"
	SeniorityMid       SeniorityLevel = "Mid"
	SenioritySenior    SeniorityLevel = "Senior"
	SeniorityStaff     SeniorityLevel = "Staff"
	SeniorityPrincipal SeniorityLevel = "Principal"
)

// ActivityTrend describes the direction of recent activity
type ActivityTrend string

const (
	TrendGrowing   ActivityTrend = "Growing"
	TrendStable    ActivityTrend = "Stable"
	TrendDeclining ActivityTrend = "Declining"
	TrendDormant   ActivityTrend = "Dormant"
)

// ContactMethod is the recommended channel for reaching a developer
type ContactMethod string

const (
	ContactEmail   ContactMethod = "Email"
	ContactTwitter ContactMethod = "Twitter"
	ContactWebsite ContactMethod = "Website"
	ContactGitHub  ContactMethod = "GitHub"
	ContactNone    ContactMethod = "None"
)

// User is the profile portion of a ProfileBundle
type User struct {
	Login           string    `json:"login"`
	Name            string    `json:"name"`
	Bio             string    `json:"bio"`
	Company         string    `json:"company"`
	Location        string    `json:"location"`
	Email           string    `json:"email"`
	Blog            string    `json:"blog"`
	TwitterUsername string    `json:"twitter_username"`
	CreatedAt       time.Time `json:"created_at"`
	Followers       int       `json:"followers"`
	Following       int       `json:"following"`
	PublicRepos     int       `json:"public_repos"`
}

// Repo is one repository descriptor inside a ProfileBundle
type Repo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Owner       string    `json:"owner"`
	Description string    `json:"description"`
	IsFork      bool      `json:"is_fork"`
	Language    string    `json:"language"`
	Stargazers  int       `json:"stargazers"`
	Forks       int       `json:"forks"`
	SizeBytes   int64     `json:"size_bytes"`
	Topics      []string  `json:"topics"`
	CreatedAt   time.Time `json:"created_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

// Event is a compact excerpt of one public GitHub event
type Event struct {
	Type         string    `json:"type"`
	Repo         string    `json:"repo"`
	Action       string    `json:"action,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CommitCount  int       `json:"commit_count,omitempty"`
	CommitEmails []string  `json:"commit_emails,omitempty"`
	OtherActor   string    `json:"other_actor,omitempty"`
	PRMerged     bool      `json:"pr_merged,omitempty"`
}

// LanguageStats maps repo name to per-language byte counts
type LanguageStats map[string]map[string]int64

// ProfileBundle aggregates every API response gathered for one user
// in one enrichment pass. It lives only for the duration of that pass.
type ProfileBundle struct {
	Username      string        `json:"username"`
	User          User          `json:"user"`
	Repos         []Repo        `json:"repos"`
	LanguageStats LanguageStats `json:"language_stats"`
	Events        []Event       `json:"events"`
	Orgs          []string      `json:"orgs"`
	FetchedAt     time.Time     `json:"fetched_at"`
	Partial       bool          `json:"partial"`
}

// OwnedRepos returns the non-fork repos owned by the bundle's user.
func (b *ProfileBundle) OwnedRepos() []Repo {
	owned := make([]Repo, 0, len(b.Repos))
	for _, r := range b.Repos {
		if !r.IsFork && strings.EqualFold(r.Owner, b.Username) {
			owned = append(owned, r)
		}
	}
	return owned
}

// LanguageShare is one language's slice of a developer's code footprint
type LanguageShare struct {
	Bytes      int64   `json:"bytes"`
	Percentage float64 `json:"percentage"`
}

// Collaborator is one entry in a developer's top-collaborator list
type Collaborator struct {
	Username    string   `json:"username"`
	Strength    int      `json:"strength"`
	SharedRepos []string `json:"shared_repos"`
}

// ReachabilitySignal records one contributing reachability signal and its weight
type ReachabilitySignal struct {
	Signal string `json:"signal"`
	Weight int    `json:"weight"`
}

// IntelligenceRecord is the durable, single-row representation of
// everything the pipeline knows about one developer.
type IntelligenceRecord struct {
	Username            string   `json:"username" db:"username"`
	DisplayName         string   `json:"display_name" db:"display_name"`
	ExtractedEmails     []string `json:"extracted_emails" db:"extracted_emails"`
	InferredCity        string   `json:"inferred_city" db:"inferred_city"`
	InferredCountry     string   `json:"inferred_country" db:"inferred_country"`
	InferredTimezone    string   `json:"inferred_timezone" db:"inferred_timezone"`
	CurrentEmployerHint string   `json:"current_employer_hint" db:"current_employer_hint"`

	PrimaryLanguages map[string]LanguageShare `json:"primary_languages" db:"primary_languages"`
	Frameworks       []string                 `json:"frameworks" db:"frameworks"`
	Tools            []string                 `json:"tools" db:"tools"`
	Domains          []string                 `json:"domains" db:"domains"`

	YearsActive          float64        `json:"years_active" db:"years_active"`
	TotalCommitsEstimate int            `json:"total_commits_estimate" db:"total_commits_estimate"`
	ReposMaintained      int            `json:"repos_maintained" db:"repos_maintained"`
	SeniorityLevel       SeniorityLevel `json:"seniority_level" db:"seniority_level"`
	SeniorityConfidence  float64        `json:"seniority_confidence" db:"seniority_confidence"`

	InfluenceScore          int            `json:"influence_score" db:"influence_score"`
	OrganizationMemberships []string       `json:"organization_memberships" db:"organization_memberships"`
	TopCollaborators        []Collaborator `json:"top_collaborators" db:"top_collaborators"`

	CommitsPerWeek   float64       `json:"commits_per_week" db:"commits_per_week"`
	PRsPerMonth      float64       `json:"prs_per_month" db:"prs_per_month"`
	ConsistencyScore float64       `json:"consistency_score" db:"consistency_score"`
	ActivityTrend    ActivityTrend `json:"activity_trend" db:"activity_trend"`
	LastActiveAt     *time.Time    `json:"last_active_at" db:"last_active_at"`

	ReachabilityScore   int                  `json:"reachability_score" db:"reachability_score"`
	ReachabilitySignals []ReachabilitySignal `json:"reachability_signals" db:"reachability_signals"`
	BestContactMethod   ContactMethod        `json:"best_contact_method" db:"best_contact_method"`

	Partial         bool      `json:"partial" db:"partial"`
	SourceFetchedAt time.Time `json:"source_fetched_at" db:"source_fetched_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`

	// AISummary is written by an out-of-band summarization layer.
	// The pipeline reads it for display only and never modifies it.
	AISummary string `json:"ai_summary,omitempty" db:"ai_summary"`
}

// CollaborationEdge is one undirected co-contribution pair.
// UserA sorts strictly before UserB.
type CollaborationEdge struct {
	UserA             string    `json:"user_a" db:"user_a"`
	UserB             string    `json:"user_b" db:"user_b"`
	SharedRepos       []string  `json:"shared_repos" db:"shared_repos"`
	Strength          int       `json:"strength" db:"strength"`
	LastInteractionAt time.Time `json:"last_interaction_at" db:"last_interaction_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// NewCollaborationEdge builds a canonicalized edge, ordering the pair
// so that UserA < UserB.
func NewCollaborationEdge(a, b string, sharedRepos []string, strength int, lastInteraction time.Time) CollaborationEdge {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return CollaborationEdge{
		UserA:             a,
		UserB:             b,
		SharedRepos:       sharedRepos,
		Strength:          strength,
		LastInteractionAt: lastInteraction,
	}
}

// ActivityTimelinePoint is one week of observed activity for one developer
type ActivityTimelinePoint struct {
	Username     string    `json:"username" db:"username"`
	WeekStart    time.Time `json:"week_start" db:"week_start"`
	Commits      int       `json:"commits" db:"commits"`
	PRsOpened    int       `json:"prs_opened" db:"prs_opened"`
	PRsMerged    int       `json:"prs_merged" db:"prs_merged"`
	IssuesOpened int       `json:"issues_opened" db:"issues_opened"`
	ReviewsGiven int       `json:"reviews_given" db:"reviews_given"`
	ActiveDays   int       `json:"active_days" db:"active_days"`
}

// ActivityTotal is the sum used by the monotonic-refinement upsert rule.
func (p ActivityTimelinePoint) ActivityTotal() int {
	return p.Commits + p.PRsOpened + p.IssuesOpened + p.ReviewsGiven
}

// Contributor is one entry from a repo's contributor listing
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// Candidate is one username waiting in the enrichment queue
type Candidate struct {
	Username       string    `json:"username"`
	Priority       int       `json:"priority"`
	DiscoveredFrom string    `json:"discovered_from"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// EnrichmentResult bundles everything one enrichment pass produces,
// written to the store in a single transaction.
type EnrichmentResult struct {
	Record   IntelligenceRecord
	Timeline []ActivityTimelinePoint
	Edges    []CollaborationEdge
}

// Outcome is the terminal state of one enrichment attempt
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomePartial     Outcome = "partial"
	OutcomeGoneMissing Outcome = "gone_missing"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeFailed      Outcome = "failed"
)

// ProgressType labels a progress event
type ProgressType string

const (
	ProgressEnriched    ProgressType = "enriched"
	ProgressFailed      ProgressType = "failed"
	ProgressGoneMissing ProgressType = "gone_missing"
	ProgressCancelled   ProgressType = "cancelled"
	ProgressRateWait    ProgressType = "rate_wait"
)

// ProgressEvent is emitted by the orchestrator after each candidate
// reaches a terminal state, and whenever a worker waits on the rate budget.
type ProgressEvent struct {
	Type         ProgressType `json:"type"`
	Username     string       `json:"username"`
	DurationMS   int64        `json:"duration_ms"`
	APIRemaining int          `json:"api_remaining"`
	ResetAt      time.Time    `json:"reset_at"`
	QueueSize    int          `json:"queue_size"`
}

// Run is one row in the pipeline run ledger
type Run struct {
	ID          string     `json:"id" db:"id"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`
	Discovered  int        `json:"discovered" db:"discovered"`
	Enriched    int        `json:"enriched" db:"enriched"`
	PartialRecs int        `json:"partial_recs" db:"partial_recs"`
	GoneMissing int        `json:"gone_missing" db:"gone_missing"`
	Failed      int        `json:"failed" db:"failed"`
	Cancelled   int        `json:"cancelled" db:"cancelled"`
	ExitState   string     `json:"exit_state" db:"exit_state"`
}

// EnrichmentFailure is one row in the failure queue, kept so failed
// candidates can be inspected and replayed without re-running discovery.
type EnrichmentFailure struct {
	Username  string    `json:"username" db:"username"`
	Stage     string    `json:"stage" db:"stage"`
	Kind      string    `json:"kind" db:"kind"`
	Message   string    `json:"message" db:"message"`
	Attempts  int       `json:"attempts" db:"attempts"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
}
