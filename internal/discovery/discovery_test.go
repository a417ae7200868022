package discovery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devscope-hq/devscope/internal/models"
)

type fakeLister struct {
	members      map[string][]string
	contributors map[string][]models.Contributor
	orgErr       error
	repoErr      error
}

func (f *fakeLister) ListOrgMembers(_ context.Context, org string) ([]string, error) {
	if f.orgErr != nil {
		return nil, f.orgErr
	}
	return f.members[org], nil
}

func (f *fakeLister) ListRepoContributors(_ context.Context, owner, name string) ([]models.Contributor, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return f.contributors[owner+"/"+name], nil
}

type fakeIndex struct {
	fetched map[string]time.Time
	err     error
}

func (f *fakeIndex) FetchedSince(context.Context, time.Time) (map[string]time.Time, error) {
	return f.fetched, f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestDiscoverPrioritiesAndOrder(t *testing.T) {
	gh := &fakeLister{
		members: map[string][]string{"acme": {"alice", "bob"}},
		contributors: map[string][]models.Contributor{
			"acme/svc": {
				{Login: "carol", Contributions: 500},
				{Login: "dan", Contributions: 1},
			},
		},
	}
	d := New(gh, &fakeIndex{}, 30*24*time.Hour, quietLogger())

	candidates, err := d.Discover(context.Background(), Seeds{
		Orgs:      []string{"acme"},
		Repos:     []string{"acme/svc"},
		Watchlist: []string{"vip"},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 5)

	assert.Equal(t, "vip", candidates[0].Username)
	assert.Equal(t, 100, candidates[0].Priority)
	assert.Equal(t, "watchlist", candidates[0].DiscoveredFrom)

	// org members next, tied at 50 and ordered by name
	assert.Equal(t, "alice", candidates[1].Username)
	assert.Equal(t, "bob", candidates[2].Username)
	assert.Equal(t, 50, candidates[1].Priority)

	// contributors ranked by log-scaled contributions
	assert.Equal(t, "carol", candidates[3].Username)
	assert.Equal(t, 5, candidates[3].Priority)
	assert.Equal(t, "dan", candidates[4].Username)
	assert.Equal(t, 1, candidates[4].Priority)

	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Priority, candidates[i].Priority,
			"priorities must be non-increasing")
	}
}

func TestDiscoverDeduplicatesKeepingMaxPriority(t *testing.T) {
	gh := &fakeLister{
		members: map[string][]string{"acme": {"Alice"}},
		contributors: map[string][]models.Contributor{
			"acme/svc": {{Login: "alice", Contributions: 900}},
		},
	}
	d := New(gh, &fakeIndex{}, 30*24*time.Hour, quietLogger())

	candidates, err := d.Discover(context.Background(), Seeds{
		Orgs:  []string{"acme"},
		Repos: []string{"acme/svc"},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Alice", candidates[0].Username)
	assert.Equal(t, 50, candidates[0].Priority)
	assert.Equal(t, "org:acme", candidates[0].DiscoveredFrom)
}

func TestDiscoverAppliesFreshnessWindow(t *testing.T) {
	gh := &fakeLister{members: map[string][]string{"acme": {"alice", "bob"}}}
	idx := &fakeIndex{fetched: map[string]time.Time{
		// persisted casing differs from the discovered one
		"Alice": time.Now().Add(-24 * time.Hour),
	}}
	d := New(gh, idx, 30*24*time.Hour, quietLogger())

	candidates, err := d.Discover(context.Background(), Seeds{Orgs: []string{"acme"}})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "bob", candidates[0].Username)
}

func TestDiscoverSkipsFailingSeeds(t *testing.T) {
	gh := &fakeLister{
		orgErr:  errors.New("org gone"),
		repoErr: errors.New("repo gone"),
	}
	d := New(gh, &fakeIndex{}, 30*24*time.Hour, quietLogger())

	candidates, err := d.Discover(context.Background(), Seeds{
		Orgs:      []string{"acme"},
		Repos:     []string{"acme/svc", "malformed"},
		Watchlist: []string{"vip"},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "vip", candidates[0].Username)
}

func TestDiscoverAbortsOnFreshnessLookupFailure(t *testing.T) {
	d := New(&fakeLister{}, &fakeIndex{err: errors.New("db down")}, time.Hour, quietLogger())

	_, err := d.Discover(context.Background(), Seeds{Watchlist: []string{"vip"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "freshness")
}

func TestDiscoverAbortsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gh := &fakeLister{orgErr: context.Canceled}
	d := New(gh, &fakeIndex{}, time.Hour, quietLogger())

	_, err := d.Discover(ctx, Seeds{Orgs: []string{"acme"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContributorPriority(t *testing.T) {
	tests := []struct {
		contributions int
		want          int
	}{
		{0, 0},
		{1, 1},   // 2*log10(2) = 0.602 rounds to 1
		{9, 2},   // 2*log10(10) = 2
		{99, 4},  // 2*log10(100) = 4
		{999, 6}, // 2*log10(1000) = 6
		{500, 5},
		{-3, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, contributorPriority(tt.contributions),
			"contributions=%d", tt.contributions)
	}
}
