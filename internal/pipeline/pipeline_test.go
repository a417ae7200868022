package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devscope-hq/devscope/internal/discovery"
	"github.com/devscope-hq/devscope/internal/errs"
	"github.com/devscope-hq/devscope/internal/extract"
	"github.com/devscope-hq/devscope/internal/models"
	"github.com/devscope-hq/devscope/internal/ratebudget"
	"github.com/devscope-hq/devscope/internal/store"
)

type fakeSource struct {
	candidates []models.Candidate
	err        error
}

func (s *fakeSource) Discover(_ context.Context, _ discovery.Seeds) ([]models.Candidate, error) {
	return s.candidates, s.err
}

type fetchResult struct {
	outcome models.Outcome
	err     error
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]fetchResult
	calls   []string
	hook    func(username string)
}

func (f *fakeFetcher) Fetch(_ context.Context, username string) (models.ProfileBundle, models.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, username)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(username)
	}

	res, ok := f.results[username]
	if !ok {
		res = fetchResult{outcome: models.OutcomeOK}
	}
	if res.outcome == models.OutcomeOK || res.outcome == models.OutcomePartial {
		return okBundle(username, res.outcome == models.OutcomePartial), res.outcome, nil
	}
	return models.ProfileBundle{}, res.outcome, res.err
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeStore implements only what the pipeline touches; anything else
// panics through the embedded nil interface.
type fakeStore struct {
	store.Store

	mu        sync.Mutex
	saveErrs  []error
	saveCalls int
	saved     []string
	failures  []models.EnrichmentFailure
	resolved  []string
	started   *models.Run
	finished  *models.Run
}

func (s *fakeStore) SaveEnrichment(_ context.Context, result *models.EnrichmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	s.saved = append(s.saved, result.Record.Username)
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, failure *models.EnrichmentFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, *failure)
	return nil
}

func (s *fakeStore) ResolveFailure(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, username)
	return nil
}

func (s *fakeStore) StartRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.started = &cp
	return nil
}

func (s *fakeStore) FinishRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.finished = &cp
	return nil
}

func (s *fakeStore) savedUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func (s *fakeStore) finishedRun() *models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

type fakeCheckpoint struct {
	mu         sync.Mutex
	marks      map[string]models.Outcome
	prior      map[string]models.Outcome
	clearCalls int
}

func newFakeCheckpoint() *fakeCheckpoint {
	return &fakeCheckpoint{marks: map[string]models.Outcome{}, prior: map[string]models.Outcome{}}
}

func (c *fakeCheckpoint) Mark(username string, outcome models.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[username] = outcome
	return nil
}

func (c *fakeCheckpoint) Completed() (map[string]models.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]models.Outcome{}
	for k, v := range c.prior {
		out[k] = v
	}
	return out, nil
}

func (c *fakeCheckpoint) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCalls++
	return nil
}

func okBundle(username string, partial bool) models.ProfileBundle {
	return models.ProfileBundle{
		Username: username,
		User: models.User{
			Login:     username,
			CreatedAt: time.Now().AddDate(-3, 0, 0),
		},
		FetchedAt: time.Now().UTC(),
		Partial:   partial,
	}
}

func candidates(names ...string) []models.Candidate {
	out := make([]models.Candidate, 0, len(names))
	for i, n := range names {
		out = append(out, models.Candidate{Username: n, Priority: 100 - i, DiscoveredFrom: "org:acme"})
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testPipeline(t *testing.T, src Source, f Fetcher, st store.Store, cp CompletionLog, cfg Config) *Pipeline {
	t.Helper()
	dicts, err := extract.LoadDictionaries()
	require.NoError(t, err)

	return New(Deps{
		Source:     src,
		Fetcher:    f,
		Store:      st,
		Budget:     ratebudget.New(5000, time.Millisecond),
		Checkpoint: cp,
		Dicts:      dicts,
		Logger:     quietLogger(),
	}, cfg)
}

func fastBackoff(t *testing.T) {
	t.Helper()
	saved := persistBackoff
	persistBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { persistBackoff = saved })
}

func drainEvents(p *Pipeline) []models.ProgressEvent {
	var out []models.ProgressEvent
	for {
		select {
		case ev := <-p.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRunHappyPath(t *testing.T) {
	src := &fakeSource{candidates: candidates("alice", "bob", "carol")}
	fetcher := &fakeFetcher{}
	st := &fakeStore{}
	cp := newFakeCheckpoint()

	p := testPipeline(t, src, fetcher, st, cp, Config{Workers: 2})
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Discovered)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 3, result.Enriched)
	assert.Zero(t, result.Partial)
	assert.Zero(t, result.Failed)
	assert.False(t, result.Interrupted)
	assert.False(t, result.Aborted)
	assert.Equal(t, errs.ExitOK, result.ExitCode())
	assert.NotEmpty(t, result.RunID)

	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, st.savedUsers())
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, st.resolved)

	require.NotNil(t, st.started)
	assert.Equal(t, "running", st.started.ExitState)
	run := st.finishedRun()
	require.NotNil(t, run)
	assert.Equal(t, "completed", run.ExitState)
	assert.Equal(t, 3, run.Enriched)
	assert.Equal(t, result.RunID, run.ID)
	require.NotNil(t, run.FinishedAt)

	assert.Len(t, cp.marks, 3)
	assert.Equal(t, models.OutcomeOK, cp.marks["alice"])
	assert.Equal(t, 1, cp.clearCalls, "clean completion resets the checkpoint")

	events := drainEvents(p)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, models.ProgressEnriched, ev.Type)
		assert.NotEmpty(t, ev.Username)
		assert.Equal(t, 5000, ev.APIRemaining)
	}
}

func TestRunSkipsCheckpointedCandidates(t *testing.T) {
	src := &fakeSource{candidates: candidates("alice", "bob", "carol")}
	fetcher := &fakeFetcher{}
	st := &fakeStore{}
	cp := newFakeCheckpoint()
	cp.prior["bob"] = models.OutcomeOK

	p := testPipeline(t, src, fetcher, st, cp, Config{Workers: 1})
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Discovered)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Enriched)
	assert.ElementsMatch(t, []string{"alice", "carol"}, fetcher.fetched())
}

func TestRunRoutesFetchOutcomes(t *testing.T) {
	src := &fakeSource{candidates: candidates("ok-user", "partial-user", "deleted-user", "broken-user")}
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		"ok-user":      {outcome: models.OutcomeOK},
		"partial-user": {outcome: models.OutcomePartial},
		"deleted-user": {outcome: models.OutcomeGoneMissing, err: errors.New("profile gone: deleted-user")},
		"broken-user":  {outcome: models.OutcomeFailed, err: errors.New("retries exhausted")},
	}}
	st := &fakeStore{}
	cp := newFakeCheckpoint()

	p := testPipeline(t, src, fetcher, st, cp, Config{Workers: 1})
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Enriched)
	assert.Equal(t, 1, result.Partial)
	assert.Equal(t, 1, result.GoneMissing)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, errs.ExitOK, result.ExitCode(), "individual failures never fail the run")

	assert.ElementsMatch(t, []string{"ok-user", "partial-user"}, st.savedUsers(),
		"only usable bundles reach the store")

	assert.Equal(t, models.OutcomeOK, cp.marks["ok-user"])
	assert.Equal(t, models.OutcomePartial, cp.marks["partial-user"])
	assert.Equal(t, models.OutcomeGoneMissing, cp.marks["deleted-user"])
	assert.NotContains(t, cp.marks, "broken-user", "failed candidates are retried on the next run")

	require.Len(t, st.failures, 1)
	assert.Equal(t, "broken-user", st.failures[0].Username)
	assert.Equal(t, "fetch", st.failures[0].Stage)

	run := st.finishedRun()
	require.NotNil(t, run)
	assert.Equal(t, 2, run.Enriched)
	assert.Equal(t, 1, run.PartialRecs)
	assert.Equal(t, 1, run.GoneMissing)
	assert.Equal(t, 1, run.Failed)
}

func TestRunRetriesRetriablePersistence(t *testing.T) {
	fastBackoff(t)

	src := &fakeSource{candidates: candidates("alice")}
	fetcher := &fakeFetcher{}
	st := &fakeStore{saveErrs: []error{
		&pgconn.PgError{Code: "08006"},
		&pgconn.PgError{Code: "40001"},
		nil,
	}}

	p := testPipeline(t, src, fetcher, st, newFakeCheckpoint(), Config{Workers: 1})
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.saveCalls)
	assert.Equal(t, 1, result.Enriched)
	assert.Zero(t, result.Failed)
	assert.Empty(t, st.failures)
}

func TestRunGivesUpAfterRetriableExhaustion(t *testing.T) {
	fastBackoff(t)

	src := &fakeSource{candidates: candidates("alice")}
	fetcher := &fakeFetcher{}
	st := &fakeStore{saveErrs: []error{
		&pgconn.PgError{Code: "08006"},
		&pgconn.PgError{Code: "08006"},
		&pgconn.PgError{Code: "08006"},
		&pgconn.PgError{Code: "08006"},
	}}
	cp := newFakeCheckpoint()

	p := testPipeline(t, src, fetcher, st, cp, Config{Workers: 1})
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, st.saveCalls, "one initial attempt plus three backoff retries")
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Enriched)
	assert.False(t, result.Aborted, "a single exhausted candidate does not abort the run")
	assert.NotContains(t, cp.marks, "alice")

	require.Len(t, st.failures, 1)
	assert.Equal(t, "persist", st.failures[0].Stage)
	assert.Equal(t, "retriable_exhausted", st.failures[0].Kind)
}

func TestRunAbortsOnFatalPersistenceStreak(t *testing.T) {
	src := &fakeSource{candidates: candidates(
		"u01", "u02", "u03", "u04", "u05", "u06", "u07", "u08", "u09", "u10", "u11", "u12")}
	fetcher := &fakeFetcher{}

	errs20 := make([]error, 20)
	for i := range errs20 {
		errs20[i] = errors.New("null value in column username violates not-null constraint")
	}
	st := &fakeStore{saveErrs: errs20}
	cp := newFakeCheckpoint()

	p := testPipeline(t, src, fetcher, st, cp, Config{Workers: 1})
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	assert.Equal(t, errs.ExitDependency, result.ExitCode())
	assert.Equal(t, maxFatalStreak, result.Failed)
	assert.Equal(t, maxFatalStreak, st.saveCalls, "fatal errors are not retried")

	run := st.finishedRun()
	require.NotNil(t, run)
	assert.Equal(t, "aborted", run.ExitState)

	assert.Zero(t, cp.clearCalls, "aborted runs keep the checkpoint for resume")

	require.NotEmpty(t, st.failures)
	assert.Equal(t, "fatal", st.failures[0].Kind)
}

func TestRunInterruptedDrainsRemainingAsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{candidates: candidates("alice", "bob", "carol", "dave")}
	fetcher := &fakeFetcher{results: map[string]fetchResult{
		"bob": {outcome: models.OutcomeCancelled, err: context.Canceled},
	}}
	fetcher.hook = func(username string) {
		if username == "bob" {
			cancel()
		}
	}
	st := &fakeStore{}
	cp := newFakeCheckpoint()

	p := testPipeline(t, src, fetcher, st, cp, Config{Workers: 1})
	result, err := p.Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Interrupted)
	assert.False(t, result.Aborted)
	assert.Equal(t, errs.ExitInterrupted, result.ExitCode())
	assert.Equal(t, 1, result.Enriched)
	assert.Equal(t, 3, result.Cancelled, "in-flight and queued candidates both count as cancelled")

	assert.Equal(t, []string{"alice"}, st.savedUsers())
	assert.Contains(t, cp.marks, "alice")
	assert.NotContains(t, cp.marks, "bob")
	assert.Zero(t, cp.clearCalls, "interrupted runs keep the checkpoint")

	run := st.finishedRun()
	require.NotNil(t, run)
	assert.Equal(t, "interrupted", run.ExitState)
}

func TestRunDiscoveryFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("github: retries exhausted")}
	st := &fakeStore{}

	p := testPipeline(t, src, &fakeFetcher{}, st, newFakeCheckpoint(), Config{Workers: 1})
	result, err := p.Run(context.Background())

	require.Error(t, err)
	assert.Nil(t, result)
	run := st.finishedRun()
	require.NotNil(t, run)
	assert.Equal(t, "failed", run.ExitState)
}

func TestRunWithoutCheckpoint(t *testing.T) {
	src := &fakeSource{candidates: candidates("alice")}
	st := &fakeStore{}

	p := testPipeline(t, src, &fakeFetcher{}, st, nil, Config{Workers: 1})
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Enriched)
}

func TestWorkersBoundedByQuota(t *testing.T) {
	tests := []struct {
		name           string
		workers        int
		permitsPerHour int
		want           int
	}{
		{"default", 0, 0, 8},
		{"explicit", 4, 0, 4},
		{"quota caps workers", 8, 1000, 5},
		{"tiny quota still runs one", 8, 100, 1},
		{"ample quota leaves workers alone", 8, 5000, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPipeline(t, &fakeSource{}, &fakeFetcher{}, &fakeStore{}, nil,
				Config{Workers: tt.workers, PermitsPerHour: tt.permitsPerHour})
			assert.Equal(t, tt.want, p.Workers())
		})
	}
}

func TestRateWaitEventEmission(t *testing.T) {
	p := testPipeline(t, &fakeSource{}, &fakeFetcher{}, &fakeStore{}, nil, Config{})

	resetAt := time.Now().Add(30 * time.Second)
	p.onRateWait(resetAt)

	events := drainEvents(p)
	require.Len(t, events, 1)
	assert.Equal(t, models.ProgressRateWait, events[0].Type)
	assert.Empty(t, events[0].Username)
	assert.InDelta(t, 30000, events[0].DurationMS, 1500)
	assert.WithinDuration(t, resetAt, events[0].ResetAt, time.Second)
}
