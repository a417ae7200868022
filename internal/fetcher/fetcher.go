// Package fetcher assembles one ProfileBundle per candidate. The five
// profile calls run in a strict order because later steps depend on
// earlier ones; only the per-repo language calls fan out.
package fetcher

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
)

const (
	// defaultRepoCap bounds how many repos get a language call per user.
	defaultRepoCap = 50

	// languageFanout bounds concurrent language calls. Dispatch is
	// serialized by the rate budget either way; the fanout only
	// overlaps HTTP latency with spacing waits.
	languageFanout = 4
)

// profileAPI is the slice of the GitHub client the fetcher consumes.
type profileAPI interface {
	GetUser(ctx context.Context, login string) (models.User, error)
	ListUserRepos(ctx context.Context, login string) ([]models.Repo, error)
	ListRepoLanguages(ctx context.Context, owner, name string) (map[string]int64, error)
	ListUserEvents(ctx context.Context, login string) ([]models.Event, error)
	ListUserOrgs(ctx context.Context, login string) ([]string, error)
}

// Fetcher turns one username into a ProfileBundle
type Fetcher struct {
	gh      profileAPI
	repoCap int
	logger  *logrus.Logger
}

// New creates a Fetcher. A non-positive repoCap falls back to the default.
func New(gh profileAPI, repoCap int, logger *logrus.Logger) *Fetcher {
	if repoCap <= 0 {
		repoCap = defaultRepoCap
	}
	return &Fetcher{gh: gh, repoCap: repoCap, logger: logger}
}

// Fetch assembles the bundle for one username.
//
// The profile call decides the candidate's fate: a missing user is
// GoneMissing, any other profile failure is Failed. Once the profile is
// in hand, failures of the remaining steps degrade the bundle to
// partial instead of discarding it. Cancellation at any point discards
// all partial work.
func (f *Fetcher) Fetch(ctx context.Context, username string) (models.ProfileBundle, models.Outcome, error) {
	login := strings.TrimSpace(username)
	bundle := models.ProfileBundle{Username: strings.ToLower(login)}

	user, err := f.gh.GetUser(ctx, login)
	if err != nil {
		switch github.KindOf(err) {
		case github.KindNotFound:
			f.logger.WithField("username", login).Info("user gone from github")
			return models.ProfileBundle{}, models.OutcomeGoneMissing, err
		case github.KindCancelled:
			return models.ProfileBundle{}, models.OutcomeCancelled, err
		default:
			return models.ProfileBundle{}, models.OutcomeFailed, err
		}
	}
	bundle.User = user

	if err := ctx.Err(); err != nil {
		return models.ProfileBundle{}, models.OutcomeCancelled, err
	}

	repos, err := f.gh.ListUserRepos(ctx, login)
	if err != nil {
		if github.IsCancelled(err) {
			return models.ProfileBundle{}, models.OutcomeCancelled, err
		}
		f.logger.WithError(err).WithField("username", login).
			Warn("repo listing failed, continuing without repos")
		bundle.Partial = true
	}
	bundle.Repos = repos

	if err := ctx.Err(); err != nil {
		return models.ProfileBundle{}, models.OutcomeCancelled, err
	}

	if len(repos) > 0 {
		stats, clean, err := f.collectLanguages(ctx, login, repos)
		if err != nil {
			return models.ProfileBundle{}, models.OutcomeCancelled, err
		}
		bundle.LanguageStats = stats
		if !clean {
			bundle.Partial = true
		}
	}

	if err := ctx.Err(); err != nil {
		return models.ProfileBundle{}, models.OutcomeCancelled, err
	}

	events, err := f.gh.ListUserEvents(ctx, login)
	if err != nil {
		if github.IsCancelled(err) {
			return models.ProfileBundle{}, models.OutcomeCancelled, err
		}
		f.logger.WithError(err).WithField("username", login).
			Warn("event listing failed, continuing without events")
		bundle.Partial = true
	}
	bundle.Events = events

	if err := ctx.Err(); err != nil {
		return models.ProfileBundle{}, models.OutcomeCancelled, err
	}

	orgs, err := f.gh.ListUserOrgs(ctx, login)
	if err != nil {
		if github.IsCancelled(err) {
			return models.ProfileBundle{}, models.OutcomeCancelled, err
		}
		f.logger.WithError(err).WithField("username", login).
			Warn("org listing failed, continuing without orgs")
		bundle.Partial = true
	}
	bundle.Orgs = orgs

	bundle.FetchedAt = time.Now().UTC()

	outcome := models.OutcomeOK
	if bundle.Partial {
		outcome = models.OutcomePartial
	}
	f.logger.WithFields(logrus.Fields{
		"username": bundle.Username,
		"repos":    len(bundle.Repos),
		"events":   len(bundle.Events),
		"orgs":     len(bundle.Orgs),
		"partial":  bundle.Partial,
	}).Debug("bundle assembled")

	return bundle, outcome, nil
}

// collectLanguages fans the per-repo language calls out over the most
// recently pushed repos, up to the cap. A failing call drops that
// repo's stats and flags the bundle partial; clean reports whether
// every call succeeded. Cancellation aborts the whole fan-out.
func (f *Fetcher) collectLanguages(ctx context.Context, login string, repos []models.Repo) (models.LanguageStats, bool, error) {
	targets := languageTargets(repos, f.repoCap)

	stats := make(models.LanguageStats, len(targets))
	clean := true
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(languageFanout)
	for _, repo := range targets {
		g.Go(func() error {
			langs, err := f.gh.ListRepoLanguages(ctx, repo.Owner, repo.Name)
			if err != nil {
				if github.IsCancelled(err) {
					return err
				}
				f.logger.WithError(err).WithFields(logrus.Fields{
					"username": login,
					"repo":     repo.FullName,
				}).Warn("language listing failed, skipping repo")
				mu.Lock()
				clean = false
				mu.Unlock()
				return nil
			}
			if len(langs) == 0 {
				return nil
			}
			mu.Lock()
			stats[repo.Name] = langs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	return stats, clean, nil
}

// languageTargets picks the non-fork repos worth a language call,
// newest push first.
func languageTargets(repos []models.Repo, limit int) []models.Repo {
	targets := make([]models.Repo, 0, len(repos))
	for _, r := range repos {
		if !r.IsFork {
			targets = append(targets, r)
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].PushedAt.After(targets[j].PushedAt)
	})
	if len(targets) > limit {
		targets = targets[:limit]
	}
	return targets
}
