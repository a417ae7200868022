// Package discovery expands the configured seeds into a prioritized,
// deduplicated candidate stream for the enrichment pipeline.
package discovery

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devscope-hq/devscope/internal/models"
)

// Candidate priorities by seed source. Contributor priority is derived
// from the contribution count and capped below org membership.
const (
	watchlistPriority      = 100
	orgMemberPriority      = 50
	contributorPriorityCap = 40
)

// Seeds is the configured starting set.
type Seeds struct {
	Orgs      []string
	Repos     []string // owner/name
	Watchlist []string
}

type githubLister interface {
	ListOrgMembers(ctx context.Context, org string) ([]string, error)
	ListRepoContributors(ctx context.Context, owner, name string) ([]models.Contributor, error)
}

type recordIndex interface {
	FetchedSince(ctx context.Context, cutoff time.Time) (map[string]time.Time, error)
}

// Discoverer turns seeds into candidates.
type Discoverer struct {
	gh        githubLister
	records   recordIndex
	freshness time.Duration
	logger    *logrus.Logger
}

// New builds a Discoverer. freshness is the window inside which an
// already-persisted record suppresses re-discovery.
func New(gh githubLister, records recordIndex, freshness time.Duration, logger *logrus.Logger) *Discoverer {
	return &Discoverer{
		gh:        gh,
		records:   records,
		freshness: freshness,
		logger:    logger,
	}
}

// Discover expands the seeds, deduplicates by lowercase username
// keeping the maximum priority, drops usernames fetched within the
// freshness window and returns the rest in descending priority order.
//
// A seed that fails to list is logged and skipped; the stream from the
// remaining seeds is still emitted. Only cancellation and a failing
// freshness lookup abort the run.
func (d *Discoverer) Discover(ctx context.Context, seeds Seeds) ([]models.Candidate, error) {
	now := time.Now().UTC()
	byUser := make(map[string]models.Candidate)

	add := func(username string, priority int, source string) {
		username = strings.TrimSpace(username)
		if username == "" {
			return
		}
		key := strings.ToLower(username)
		if existing, ok := byUser[key]; ok && existing.Priority >= priority {
			return
		}
		byUser[key] = models.Candidate{
			Username:       username,
			Priority:       priority,
			DiscoveredFrom: source,
			EnqueuedAt:     now,
		}
	}

	for _, org := range seeds.Orgs {
		members, err := d.gh.ListOrgMembers(ctx, org)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.WithFields(logrus.Fields{"org": org, "error": err}).
				Warn("skipping org seed")
			continue
		}
		for _, member := range members {
			add(member, orgMemberPriority, "org:"+org)
		}
	}

	for _, repo := range seeds.Repos {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok || owner == "" || name == "" {
			d.logger.WithField("repo", repo).Warn("skipping malformed repo seed")
			continue
		}
		contributors, err := d.gh.ListRepoContributors(ctx, owner, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.WithFields(logrus.Fields{"repo": repo, "error": err}).
				Warn("skipping repo seed")
			continue
		}
		for _, c := range contributors {
			add(c.Login, contributorPriority(c.Contributions), "repo:"+repo)
		}
	}

	for _, username := range seeds.Watchlist {
		add(username, watchlistPriority, "watchlist")
	}

	fresh, err := d.records.FetchedSince(ctx, now.Add(-d.freshness))
	if err != nil {
		return nil, fmt.Errorf("load freshness index: %w", err)
	}
	freshKeys := make(map[string]struct{}, len(fresh))
	for username := range fresh {
		freshKeys[strings.ToLower(username)] = struct{}{}
	}
	dropped := 0
	for key := range byUser {
		if _, ok := freshKeys[key]; ok {
			delete(byUser, key)
			dropped++
		}
	}

	candidates := make([]models.Candidate, 0, len(byUser))
	for _, c := range byUser {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Username < candidates[j].Username
	})

	d.logger.WithFields(logrus.Fields{
		"orgs":       len(seeds.Orgs),
		"repos":      len(seeds.Repos),
		"watchlist":  len(seeds.Watchlist),
		"candidates": len(candidates),
		"fresh_skip": dropped,
	}).Info("discovery complete")

	return candidates, nil
}

// contributorPriority maps a contribution count onto 0..40 on a log
// scale, so prolific contributors rank ahead of drive-by ones without
// ever outranking org members.
func contributorPriority(contributions int) int {
	if contributions < 0 {
		contributions = 0
	}
	p := int(math.Round(2 * math.Log10(1+float64(contributions))))
	if p < 0 {
		p = 0
	}
	if p > contributorPriorityCap {
		p = contributorPriorityCap
	}
	return p
}
