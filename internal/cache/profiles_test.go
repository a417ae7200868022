package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
)

type memKV struct {
	data   map[string][]byte
	getErr error
	setErr error
	sets   []string
	purged []string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(ctx context.Context, key string, target any) (bool, error) {
	if m.getErr != nil {
		return false, m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memKV) Set(ctx context.Context, key string, value any) error {
	m.sets = append(m.sets, key)
	if m.setErr != nil {
		return m.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memKV) InvalidateUser(ctx context.Context, login string) (int64, error) {
	m.purged = append(m.purged, login)
	var n int64
	for key := range m.data {
		if strings.HasSuffix(key, ":"+login) {
			delete(m.data, key)
			n++
		}
	}
	return n, nil
}

type countingSource struct {
	user    models.User
	userErr error
	repos   []models.Repo
	orgs    []string
	events  []models.Event
	langs   map[string]int64

	userCalls  int
	repoCalls  int
	orgCalls   int
	eventCalls int
	langCalls  int
}

func (s *countingSource) GetUser(ctx context.Context, login string) (models.User, error) {
	s.userCalls++
	if s.userErr != nil {
		return models.User{}, s.userErr
	}
	return s.user, nil
}

func (s *countingSource) ListUserRepos(ctx context.Context, login string) ([]models.Repo, error) {
	s.repoCalls++
	return s.repos, nil
}

func (s *countingSource) ListRepoLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	s.langCalls++
	return s.langs, nil
}

func (s *countingSource) ListUserEvents(ctx context.Context, login string) ([]models.Event, error) {
	s.eventCalls++
	return s.events, nil
}

func (s *countingSource) ListUserOrgs(ctx context.Context, login string) ([]string, error) {
	s.orgCalls++
	return s.orgs, nil
}

func testProfiles(src Source, store kv) *Profiles {
	return &Profiles{
		src:    src,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestProfilesReadThrough(t *testing.T) {
	src := &countingSource{user: models.User{Login: "octocat", Followers: 12}}
	store := newMemKV()
	p := testProfiles(src, store)

	first, err := p.GetUser(context.Background(), "octocat")
	require.NoError(t, err)
	assert.Equal(t, 1, src.userCalls)

	second, err := p.GetUser(context.Background(), "octocat")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.userCalls, "second read must come from cache")
}

func TestProfilesCachesReposAndOrgs(t *testing.T) {
	src := &countingSource{
		repos: []models.Repo{{Name: "hello-world", Owner: "octocat"}},
		orgs:  []string{"github"},
	}
	p := testProfiles(src, newMemKV())

	for i := 0; i < 3; i++ {
		repos, err := p.ListUserRepos(context.Background(), "octocat")
		require.NoError(t, err)
		assert.Len(t, repos, 1)

		orgs, err := p.ListUserOrgs(context.Background(), "octocat")
		require.NoError(t, err)
		assert.Equal(t, []string{"github"}, orgs)
	}

	assert.Equal(t, 1, src.repoCalls)
	assert.Equal(t, 1, src.orgCalls)
}

func TestProfilesNeverCachesEventsOrLanguages(t *testing.T) {
	src := &countingSource{
		events: []models.Event{{Type: "PushEvent"}},
		langs:  map[string]int64{"Go": 100},
	}
	store := newMemKV()
	p := testProfiles(src, store)

	for i := 0; i < 2; i++ {
		_, err := p.ListUserEvents(context.Background(), "octocat")
		require.NoError(t, err)
		_, err = p.ListRepoLanguages(context.Background(), "octocat", "hello-world")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, src.eventCalls)
	assert.Equal(t, 2, src.langCalls)
	assert.Empty(t, store.sets)
}

func TestProfilesFallsThroughOnCacheFailure(t *testing.T) {
	src := &countingSource{user: models.User{Login: "octocat"}}
	store := newMemKV()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	p := testProfiles(src, store)

	user, err := p.GetUser(context.Background(), "octocat")
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, 1, src.userCalls)
}

func TestProfilesDoesNotCacheFailures(t *testing.T) {
	src := &countingSource{userErr: errors.New("boom")}
	store := newMemKV()
	p := testProfiles(src, store)

	_, err := p.GetUser(context.Background(), "octocat")
	require.Error(t, err)
	assert.Empty(t, store.sets)
	assert.Empty(t, store.purged, "transient failures must not evict cached payloads")
}

func TestProfilesPurgesVanishedUser(t *testing.T) {
	src := &countingSource{userErr: &github.ClientError{
		Kind:       github.KindNotFound,
		Op:         "get_user",
		Resource:   "ghost",
		StatusCode: 404,
	}}
	store := newMemKV()
	store.data[Key("repos", "ghost")] = []byte(`[]`)
	store.data[Key("orgs", "ghost")] = []byte(`[]`)
	store.data[Key("user", "octocat")] = []byte(`{}`)
	p := testProfiles(src, store)

	_, err := p.GetUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, github.IsNotFound(err))

	assert.Equal(t, []string{"ghost"}, store.purged)
	assert.NotContains(t, store.data, Key("repos", "ghost"))
	assert.NotContains(t, store.data, Key("orgs", "ghost"))
	assert.Contains(t, store.data, Key("user", "octocat"), "other logins stay cached")
}

func TestKeyNormalizesLogin(t *testing.T) {
	assert.Equal(t, "gh:user:octocat", Key("user", " OctoCat "))
	assert.Equal(t, "gh:repos:octocat", Key("repos", "octocat"))
}
