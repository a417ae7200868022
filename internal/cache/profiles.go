package cache

import (
	"context"
	"log/slog"

	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
)

// Source is the uncached client surface the read-through wraps.
type Source interface {
	GetUser(ctx context.Context, login string) (models.User, error)
	ListUserRepos(ctx context.Context, login string) ([]models.Repo, error)
	ListRepoLanguages(ctx context.Context, owner, name string) (map[string]int64, error)
	ListUserEvents(ctx context.Context, login string) ([]models.Event, error)
	ListUserOrgs(ctx context.Context, login string) ([]string, error)
}

// kv is the slice of the Redis client the read-through needs.
type kv interface {
	Get(ctx context.Context, key string, target any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	InvalidateUser(ctx context.Context, login string) (int64, error)
}

// Profiles serves the stable profile payloads (user, repos, orgs) from
// cache and falls through to the API on a miss. Events and language
// stats always hit the API: events are the freshness signal the
// extractors depend on, and language bytes shift with every push.
//
// Cache failures degrade to the API path instead of failing the fetch.
type Profiles struct {
	src    Source
	store  kv
	logger *slog.Logger
}

// NewProfiles wraps src with the read-through cache.
func NewProfiles(src Source, client *Client) *Profiles {
	return &Profiles{
		src:    src,
		store:  client,
		logger: slog.Default().With("component", "cache"),
	}
}

// GetUser serves the profile from cache when present.
func (p *Profiles) GetUser(ctx context.Context, login string) (models.User, error) {
	key := Key("user", login)

	var cached models.User
	if hit := p.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	user, err := p.src.GetUser(ctx, login)
	if err != nil {
		if github.IsNotFound(err) {
			p.purge(ctx, login)
		}
		return models.User{}, err
	}
	p.fill(ctx, key, user)
	return user, nil
}

// ListUserRepos serves the repo listing from cache when present.
func (p *Profiles) ListUserRepos(ctx context.Context, login string) ([]models.Repo, error) {
	key := Key("repos", login)

	var cached []models.Repo
	if hit := p.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	repos, err := p.src.ListUserRepos(ctx, login)
	if err != nil {
		return nil, err
	}
	p.fill(ctx, key, repos)
	return repos, nil
}

// ListUserOrgs serves the org listing from cache when present.
func (p *Profiles) ListUserOrgs(ctx context.Context, login string) ([]string, error) {
	key := Key("orgs", login)

	var cached []string
	if hit := p.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	orgs, err := p.src.ListUserOrgs(ctx, login)
	if err != nil {
		return nil, err
	}
	p.fill(ctx, key, orgs)
	return orgs, nil
}

// ListRepoLanguages always hits the API.
func (p *Profiles) ListRepoLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	return p.src.ListRepoLanguages(ctx, owner, name)
}

// ListUserEvents always hits the API.
func (p *Profiles) ListUserEvents(ctx context.Context, login string) ([]models.Event, error) {
	return p.src.ListUserEvents(ctx, login)
}

func (p *Profiles) lookup(ctx context.Context, key string, target any) bool {
	hit, err := p.store.Get(ctx, key, target)
	if err != nil {
		p.logger.Warn("cache read failed, falling through", "key", key, "error", err)
		return false
	}
	return hit
}

func (p *Profiles) fill(ctx context.Context, key string, value any) {
	if err := p.store.Set(ctx, key, value); err != nil {
		p.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// purge drops a vanished user's remaining cached payloads so the TTL
// cannot resurrect them on a later run.
func (p *Profiles) purge(ctx context.Context, login string) {
	if _, err := p.store.InvalidateUser(ctx, login); err != nil {
		p.logger.Warn("cache purge failed", "login", login, "error", err)
	}
}
