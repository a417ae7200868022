package fetcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
)

type fakeAPI struct {
	user    models.User
	userErr error

	repos   []models.Repo
	repoErr error

	langs   map[string]map[string]int64
	langErr map[string]error

	events   []models.Event
	eventErr error

	orgs   []string
	orgErr error

	mu        sync.Mutex
	langCalls []string
}

func (f *fakeAPI) GetUser(ctx context.Context, login string) (models.User, error) {
	if f.userErr != nil {
		return models.User{}, f.userErr
	}
	return f.user, nil
}

func (f *fakeAPI) ListUserRepos(ctx context.Context, login string) ([]models.Repo, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return f.repos, nil
}

func (f *fakeAPI) ListRepoLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	f.mu.Lock()
	f.langCalls = append(f.langCalls, name)
	f.mu.Unlock()
	if err := f.langErr[name]; err != nil {
		return nil, err
	}
	return f.langs[name], nil
}

func (f *fakeAPI) ListUserEvents(ctx context.Context, login string) ([]models.Event, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return f.events, nil
}

func (f *fakeAPI) ListUserOrgs(ctx context.Context, login string) ([]string, error) {
	if f.orgErr != nil {
		return nil, f.orgErr
	}
	return f.orgs, nil
}

func (f *fakeAPI) calledRepos() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.langCalls...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mkRepo(owner, name string, fork bool, pushed time.Time) models.Repo {
	return models.Repo{
		Name:     name,
		FullName: owner + "/" + name,
		Owner:    owner,
		IsFork:   fork,
		PushedAt: pushed,
	}
}

func clientErr(kind github.Kind, op string) error {
	return &github.ClientError{Kind: kind, Op: op, Resource: "octocat"}
}

func TestFetchFullBundle(t *testing.T) {
	pushed := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	gh := &fakeAPI{
		user: models.User{Login: "OctoCat", Name: "The Octocat", Followers: 400},
		repos: []models.Repo{
			mkRepo("OctoCat", "hello-world", false, pushed),
			mkRepo("OctoCat", "dotfiles", false, pushed.Add(-time.Hour)),
		},
		langs: map[string]map[string]int64{
			"hello-world": {"Go": 9000, "Makefile": 200},
			"dotfiles":    {},
		},
		events: []models.Event{{Type: "PushEvent", Repo: "OctoCat/hello-world"}},
		orgs:   []string{"github"},
	}

	bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(context.Background(), "OctoCat")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeOK, outcome)
	assert.Equal(t, "octocat", bundle.Username)
	assert.Equal(t, "The Octocat", bundle.User.Name)
	assert.Len(t, bundle.Repos, 2)
	assert.Len(t, bundle.Events, 1)
	assert.Equal(t, []string{"github"}, bundle.Orgs)
	assert.False(t, bundle.Partial)
	assert.WithinDuration(t, time.Now().UTC(), bundle.FetchedAt, 2*time.Second)

	// Repos whose language call comes back empty carry no stats entry.
	require.Contains(t, bundle.LanguageStats, "hello-world")
	assert.NotContains(t, bundle.LanguageStats, "dotfiles")
	assert.Equal(t, int64(9000), bundle.LanguageStats["hello-world"]["Go"])
}

func TestFetchProfileFailureOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome models.Outcome
	}{
		{"deleted user", clientErr(github.KindNotFound, "get_user"), models.OutcomeGoneMissing},
		{"auth failure", clientErr(github.KindPermanent, "get_user"), models.OutcomeFailed},
		{"retries exhausted", clientErr(github.KindTransient, "get_user"), models.OutcomeFailed},
		{"cancelled", clientErr(github.KindCancelled, "get_user"), models.OutcomeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := &fakeAPI{userErr: tt.err}
			bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(context.Background(), "octocat")

			assert.Equal(t, tt.outcome, outcome)
			assert.Error(t, err)
			assert.Equal(t, models.ProfileBundle{}, bundle)
		})
	}
}

func TestFetchPartialWithoutRepos(t *testing.T) {
	gh := &fakeAPI{
		user:    models.User{Login: "octocat"},
		repoErr: clientErr(github.KindPermanent, "list_user_repos"),
		events:  []models.Event{{Type: "IssuesEvent"}},
		orgs:    []string{"acme"},
	}

	bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomePartial, outcome)
	assert.True(t, bundle.Partial)
	assert.Empty(t, bundle.Repos)
	assert.Empty(t, gh.calledRepos())

	// The later steps still ran.
	assert.Len(t, bundle.Events, 1)
	assert.Equal(t, []string{"acme"}, bundle.Orgs)
}

func TestFetchPartialOnLanguageFailure(t *testing.T) {
	pushed := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	gh := &fakeAPI{
		user: models.User{Login: "octocat"},
		repos: []models.Repo{
			mkRepo("octocat", "good", false, pushed),
			mkRepo("octocat", "flaky", false, pushed),
		},
		langs:   map[string]map[string]int64{"good": {"Rust": 100}},
		langErr: map[string]error{"flaky": clientErr(github.KindTransient, "list_repo_languages")},
	}

	bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomePartial, outcome)
	assert.True(t, bundle.Partial)
	assert.Contains(t, bundle.LanguageStats, "good")
	assert.NotContains(t, bundle.LanguageStats, "flaky")
}

func TestFetchPartialOnEventAndOrgFailure(t *testing.T) {
	gh := &fakeAPI{
		user:     models.User{Login: "octocat"},
		eventErr: clientErr(github.KindTransient, "list_user_events"),
		orgErr:   clientErr(github.KindPermanent, "list_user_orgs"),
	}

	bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomePartial, outcome)
	assert.True(t, bundle.Partial)
	assert.Empty(t, bundle.Events)
	assert.Empty(t, bundle.Orgs)
}

func TestFetchCancelledDiscardsPartialWork(t *testing.T) {
	gh := &fakeAPI{
		user:     models.User{Login: "octocat"},
		repos:    []models.Repo{mkRepo("octocat", "hello-world", false, time.Now())},
		langs:    map[string]map[string]int64{"hello-world": {"Go": 100}},
		eventErr: clientErr(github.KindCancelled, "list_user_events"),
	}

	bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(context.Background(), "octocat")

	assert.Equal(t, models.OutcomeCancelled, outcome)
	assert.Error(t, err)
	assert.Equal(t, models.ProfileBundle{}, bundle)
}

func TestFetchChecksCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The fake profile call succeeds even on a dead context, so only
	// the between-step check can stop the fetch.
	gh := &fakeAPI{user: models.User{Login: "octocat"}}

	bundle, outcome, err := New(gh, 0, quietLogger()).Fetch(ctx, "octocat")

	assert.Equal(t, models.OutcomeCancelled, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ProfileBundle{}, bundle)
	assert.Empty(t, gh.calledRepos())
}

func TestLanguageCapPrefersRecentPush(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gh := &fakeAPI{
		user: models.User{Login: "octocat"},
		repos: []models.Repo{
			mkRepo("octocat", "old", false, base),
			mkRepo("octocat", "mid", false, base.AddDate(0, 3, 0)),
			mkRepo("octocat", "new", false, base.AddDate(0, 6, 0)),
			// Newest push of all, but forks never get a language call.
			mkRepo("octocat", "forked", true, base.AddDate(0, 9, 0)),
		},
		langs: map[string]map[string]int64{
			"old": {"C": 1}, "mid": {"C": 1}, "new": {"C": 1}, "forked": {"C": 1},
		},
	}

	bundle, outcome, err := New(gh, 2, quietLogger()).Fetch(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeOK, outcome)
	assert.ElementsMatch(t, []string{"new", "mid"}, gh.calledRepos())
	assert.NotContains(t, bundle.LanguageStats, "old")
	assert.NotContains(t, bundle.LanguageStats, "forked")
}

func TestLanguageTargetsOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repos := []models.Repo{
		mkRepo("o", "a", false, base),
		mkRepo("o", "b", false, base.AddDate(0, 2, 0)),
		mkRepo("o", "c", true, base.AddDate(0, 4, 0)),
		mkRepo("o", "d", false, base.AddDate(0, 1, 0)),
	}

	targets := languageTargets(repos, 10)
	require.Len(t, targets, 3)
	assert.Equal(t, "b", targets[0].Name)
	assert.Equal(t, "d", targets[1].Name)
	assert.Equal(t, "a", targets[2].Name)

	capped := languageTargets(repos, 1)
	require.Len(t, capped, 1)
	assert.Equal(t, "b", capped[0].Name)
}
