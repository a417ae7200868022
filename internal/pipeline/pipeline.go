// Package pipeline composes discovery, fetching, extraction and
// persistence into one bounded-concurrency enrichment run.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devscope-hq/devscope/internal/discovery"
	"github.com/devscope-hq/devscope/internal/errs"
	"github.com/devscope-hq/devscope/internal/extract"
	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
	"github.com/devscope-hq/devscope/internal/observability"
	"github.com/devscope-hq/devscope/internal/ratebudget"
	"github.com/devscope-hq/devscope/internal/store"
)

const (
	defaultWorkers  = 8
	defaultBudget   = 10 * time.Minute
	defaultGrace    = 30 * time.Second
	eventBufferSize = 256

	// callsPerUser is the planning estimate used to bound worker count
	// against the hourly quota.
	callsPerUser = 200

	// maxFatalStreak aborts the run once this many candidates in a row
	// fail persistence. A streak that long means the store itself is
	// broken, not the data.
	maxFatalStreak = 10
)

// persistBackoff spaces the orchestrator-level retries of a retriable
// persistence failure.
var persistBackoff = []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second}

// Source yields the prioritized candidate list for one run.
type Source interface {
	Discover(ctx context.Context, seeds discovery.Seeds) ([]models.Candidate, error)
}

// Fetcher assembles one candidate's ProfileBundle.
type Fetcher interface {
	Fetch(ctx context.Context, username string) (models.ProfileBundle, models.Outcome, error)
}

// CompletionLog is the resume checkpoint consulted before dispatching.
type CompletionLog interface {
	Mark(username string, outcome models.Outcome) error
	Completed() (map[string]models.Outcome, error)
	Clear() error
}

// Deps carries the collaborators a Pipeline composes. Checkpoint may be
// nil, which disables resume.
type Deps struct {
	Source     Source
	Fetcher    Fetcher
	Store      store.Store
	Budget     *ratebudget.Budget
	Checkpoint CompletionLog
	Dicts      *extract.Dictionaries
	Logger     *logrus.Logger
}

// Config carries the orchestration knobs.
type Config struct {
	Seeds           discovery.Seeds
	Workers         int
	PermitsPerHour  int
	CandidateBudget time.Duration
	GracePeriod     time.Duration
}

// Result summarizes one finished run.
type Result struct {
	RunID       string
	Discovered  int
	Skipped     int
	Enriched    int
	Partial     int
	GoneMissing int
	Failed      int
	Cancelled   int
	Duration    time.Duration
	Interrupted bool
	Aborted     bool
}

// ExitCode maps the run's terminal state onto the process exit code.
func (r *Result) ExitCode() int {
	switch {
	case r.Aborted:
		return errs.ExitDependency
	case r.Interrupted:
		return errs.ExitInterrupted
	default:
		return errs.ExitOK
	}
}

// Pipeline is the enrichment orchestrator
type Pipeline struct {
	source     Source
	fetcher    Fetcher
	store      store.Store
	budget     *ratebudget.Budget
	checkpoint CompletionLog
	dicts      *extract.Dictionaries
	logger     *logrus.Logger
	cfg        Config

	events    chan models.ProgressEvent
	queueSize atomic.Int64

	mu          sync.Mutex
	fatalStreak int
}

// New assembles a Pipeline from its collaborators.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.CandidateBudget <= 0 {
		cfg.CandidateBudget = defaultBudget
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGrace
	}

	p := &Pipeline{
		source:     deps.Source,
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		budget:     deps.Budget,
		checkpoint: deps.Checkpoint,
		dicts:      deps.Dicts,
		logger:     deps.Logger,
		cfg:        cfg,
		events:     make(chan models.ProgressEvent, eventBufferSize),
	}
	p.budget.OnWait = p.onRateWait
	return p
}

// Events returns the progress stream. Emission never blocks: when the
// consumer lags, events are dropped rather than stalling workers. The
// channel is not closed; consumers stop reading once Run returns.
func (p *Pipeline) Events() <-chan models.ProgressEvent {
	return p.events
}

// Workers reports the effective worker count: the configured count,
// bounded by what the hourly quota can feed.
func (p *Pipeline) Workers() int {
	n := p.cfg.Workers
	if p.cfg.PermitsPerHour > 0 {
		bound := p.cfg.PermitsPerHour / callsPerUser
		if bound < 1 {
			bound = 1
		}
		if n > bound {
			n = bound
		}
	}
	return n
}

// Run executes one full enrichment pass: discover, filter against the
// resume checkpoint, then drain the queue with the worker pool. It
// returns an error only when the run could not start; once workers are
// dispatched the outcome is reported through Result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	run := &models.Run{ID: uuid.NewString(), StartedAt: start.UTC(), ExitState: "running"}
	if err := p.store.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}

	workers := p.Workers()
	p.logger.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"workers": workers,
	}).Info("enrichment run starting")

	candidates, err := p.source.Discover(ctx, p.cfg.Seeds)
	if err != nil {
		p.closeRun(run, "failed", &tally{}, 0)
		return nil, fmt.Errorf("discovery: %w", err)
	}
	discovered := len(candidates)

	candidates, skipped := p.applyCheckpoint(candidates)

	queue := make(chan models.Candidate, len(candidates))
	enqueuedAt := time.Now().UTC()
	for _, c := range candidates {
		c.EnqueuedAt = enqueuedAt
		queue <- c
	}
	close(queue)
	p.queueSize.Store(int64(len(candidates)))
	observability.SetQueueDepth(len(candidates))

	var tal tally
	g, runCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return p.worker(runCtx, queue, &tal) })
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	var groupErr error
	select {
	case groupErr = <-waitErr:
	case <-ctx.Done():
		select {
		case groupErr = <-waitErr:
		case <-time.After(p.cfg.GracePeriod):
			p.logger.Warn("grace period elapsed, abandoning in-flight workers")
		}
	}

	aborted := groupErr != nil
	interrupted := !aborted && ctx.Err() != nil

	result := &Result{
		RunID:       run.ID,
		Discovered:  discovered,
		Skipped:     skipped,
		Duration:    time.Since(start),
		Interrupted: interrupted,
		Aborted:     aborted,
	}
	tal.fill(result)

	state := "completed"
	switch {
	case aborted:
		state = "aborted"
		p.logger.WithError(groupErr).Error("run aborted")
	case interrupted:
		state = "interrupted"
	}
	p.closeRun(run, state, &tal, discovered)

	if state == "completed" && p.checkpoint != nil {
		if err := p.checkpoint.Clear(); err != nil {
			p.logger.WithError(err).Warn("checkpoint clear failed")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"state":        state,
		"discovered":   discovered,
		"skipped":      skipped,
		"enriched":     result.Enriched,
		"partial":      result.Partial,
		"gone_missing": result.GoneMissing,
		"failed":       result.Failed,
		"cancelled":    result.Cancelled,
		"duration":     result.Duration.Round(time.Second).String(),
	}).Info("enrichment run finished")

	return result, nil
}

// applyCheckpoint drops candidates the interrupted previous run already
// completed. An unreadable checkpoint disables resume for this run.
func (p *Pipeline) applyCheckpoint(candidates []models.Candidate) ([]models.Candidate, int) {
	if p.checkpoint == nil {
		return candidates, 0
	}

	done, err := p.checkpoint.Completed()
	if err != nil {
		p.logger.WithError(err).Warn("checkpoint unreadable, running without resume")
		return candidates, 0
	}
	if len(done) == 0 {
		return candidates, 0
	}

	kept := candidates[:0]
	skipped := 0
	for _, c := range candidates {
		if _, ok := done[strings.ToLower(c.Username)]; ok {
			skipped++
			continue
		}
		kept = append(kept, c)
	}
	if skipped > 0 {
		p.logger.WithField("skipped", skipped).Info("resuming interrupted run")
	}
	return kept, skipped
}

// worker drains the queue. After a stop request it keeps draining so
// every remaining candidate is tallied as cancelled, which the next run
// rediscovers. Only a fatal-persistence streak makes a worker fail.
func (p *Pipeline) worker(ctx context.Context, queue <-chan models.Candidate, tal *tally) error {
	for cand := range queue {
		depth := p.queueSize.Add(-1)
		observability.SetQueueDepth(int(depth))

		if ctx.Err() != nil {
			tal.add(models.OutcomeCancelled)
			p.emit(models.ProgressCancelled, cand.Username, time.Now())
			observability.CountOutcome(string(models.OutcomeCancelled))
			continue
		}

		p.process(ctx, cand, tal)

		if p.streak() >= maxFatalStreak {
			return fmt.Errorf("%d consecutive persistence failures, store presumed down", maxFatalStreak)
		}
	}
	return nil
}

// process advances one candidate through fetch, extract and persist.
func (p *Pipeline) process(ctx context.Context, cand models.Candidate, tal *tally) {
	started := time.Now()

	cctx, cancel := context.WithTimeout(ctx, p.cfg.CandidateBudget)
	defer cancel()

	bundle, outcome, ferr := p.fetcher.Fetch(cctx, cand.Username)

	switch outcome {
	case models.OutcomeGoneMissing:
		p.markCompleted(cand.Username, outcome)
		p.finish(tal, outcome, models.ProgressGoneMissing, cand.Username, started)
		return
	case models.OutcomeCancelled:
		p.finish(tal, outcome, models.ProgressCancelled, cand.Username, started)
		return
	case models.OutcomeFailed:
		p.recordFailure(ctx, cand.Username, "fetch", string(github.KindOf(ferr)), ferr)
		p.finish(tal, outcome, models.ProgressFailed, cand.Username, started)
		return
	}

	result := extract.Reduce(&bundle, p.dicts, time.Now().UTC())

	if err := p.persist(cctx, result); err != nil {
		if cctx.Err() != nil {
			p.finish(tal, models.OutcomeCancelled, models.ProgressCancelled, cand.Username, started)
			return
		}

		kind := "fatal"
		if store.IsRetriable(err) {
			kind = "retriable_exhausted"
		}
		p.bumpStreak()
		p.recordFailure(ctx, cand.Username, "persist", kind, err)
		p.finish(tal, models.OutcomeFailed, models.ProgressFailed, cand.Username, started)
		return
	}

	p.resetStreak()
	p.markCompleted(cand.Username, outcome)
	p.resolveFailure(ctx, cand.Username)
	p.finish(tal, outcome, models.ProgressEnriched, cand.Username, started)
}

// persist writes one enrichment result, retrying retriable failures
// with fixed backoff before giving up.
func (p *Pipeline) persist(ctx context.Context, result *models.EnrichmentResult) error {
	for attempt := 0; ; attempt++ {
		err := p.store.SaveEnrichment(ctx, result)
		if err == nil || !store.IsRetriable(err) || attempt >= len(persistBackoff) {
			return err
		}

		delay := persistBackoff[attempt]
		p.logger.WithError(err).WithFields(logrus.Fields{
			"username": result.Record.Username,
			"attempt":  attempt + 1,
			"delay":    delay.String(),
		}).Warn("retriable persistence failure, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p *Pipeline) finish(tal *tally, outcome models.Outcome, evType models.ProgressType, username string, started time.Time) {
	tal.add(outcome)
	p.emit(evType, username, started)
	observability.CountOutcome(string(outcome))
	observability.ObserveEnrichment(time.Since(started))
}

// emit publishes a progress event without ever blocking a worker.
func (p *Pipeline) emit(evType models.ProgressType, username string, started time.Time) {
	remaining, resetAt := p.budget.Snapshot()
	ev := models.ProgressEvent{
		Type:         evType,
		Username:     username,
		DurationMS:   time.Since(started).Milliseconds(),
		APIRemaining: remaining,
		ResetAt:      resetAt,
		QueueSize:    int(p.queueSize.Load()),
	}
	select {
	case p.events <- ev:
	default:
	}
}

// onRateWait surfaces budget exhaustion as a rate_wait event.
func (p *Pipeline) onRateWait(resetAt time.Time) {
	wait := time.Until(resetAt)
	if wait < 0 {
		wait = 0
	}
	observability.AddRateWait(wait)

	remaining, _ := p.budget.Snapshot()
	ev := models.ProgressEvent{
		Type:         models.ProgressRateWait,
		DurationMS:   wait.Milliseconds(),
		APIRemaining: remaining,
		ResetAt:      resetAt,
		QueueSize:    int(p.queueSize.Load()),
	}
	select {
	case p.events <- ev:
	default:
	}

	p.logger.WithFields(logrus.Fields{
		"reset_at": resetAt.Format(time.RFC3339),
		"wait":     wait.Round(time.Second).String(),
	}).Info("rate budget exhausted, waiting for reset")
}

func (p *Pipeline) markCompleted(username string, outcome models.Outcome) {
	if p.checkpoint == nil {
		return
	}
	if err := p.checkpoint.Mark(username, outcome); err != nil {
		p.logger.WithError(err).WithField("username", username).Warn("checkpoint mark failed")
	}
}

func (p *Pipeline) recordFailure(ctx context.Context, username, stage, kind string, cause error) {
	failure := &models.EnrichmentFailure{
		Username: strings.ToLower(username),
		Stage:    stage,
		Kind:     kind,
		Message:  cause.Error(),
	}
	if err := p.store.RecordFailure(ctx, failure); err != nil {
		p.logger.WithError(err).WithField("username", username).Warn("failure queue write failed")
	}

	p.logger.WithError(cause).WithFields(logrus.Fields{
		"username": username,
		"stage":    stage,
		"kind":     kind,
	}).Warn("candidate failed")
}

func (p *Pipeline) resolveFailure(ctx context.Context, username string) {
	if err := p.store.ResolveFailure(ctx, strings.ToLower(username)); err != nil {
		p.logger.WithError(err).WithField("username", username).Debug("failure queue resolve failed")
	}
}

// closeRun stamps the ledger row. A fresh context keeps the final write
// possible during shutdown.
func (p *Pipeline) closeRun(run *models.Run, state string, tal *tally, discovered int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	run.FinishedAt = &now
	run.ExitState = state
	run.Discovered = discovered
	tal.fillRun(run)

	if err := p.store.FinishRun(ctx, run); err != nil {
		p.logger.WithError(err).Warn("run ledger close failed")
	}
}

func (p *Pipeline) bumpStreak() {
	p.mu.Lock()
	p.fatalStreak++
	p.mu.Unlock()
}

func (p *Pipeline) resetStreak() {
	p.mu.Lock()
	p.fatalStreak = 0
	p.mu.Unlock()
}

func (p *Pipeline) streak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatalStreak
}

// tally accumulates outcome counts across workers.
type tally struct {
	mu          sync.Mutex
	enriched    int
	partial     int
	goneMissing int
	failed      int
	cancelled   int
}

func (t *tally) add(outcome models.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch outcome {
	case models.OutcomeOK:
		t.enriched++
	case models.OutcomePartial:
		t.enriched++
		t.partial++
	case models.OutcomeGoneMissing:
		t.goneMissing++
	case models.OutcomeFailed:
		t.failed++
	case models.OutcomeCancelled:
		t.cancelled++
	}
}

func (t *tally) fill(r *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Enriched = t.enriched
	r.Partial = t.partial
	r.GoneMissing = t.goneMissing
	r.Failed = t.failed
	r.Cancelled = t.cancelled
}

func (t *tally) fillRun(run *models.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.Enriched = t.enriched
	run.PartialRecs = t.partial
	run.GoneMissing = t.goneMissing
	run.Failed = t.failed
	run.Cancelled = t.cancelled
}
