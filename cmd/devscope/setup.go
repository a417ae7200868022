package main

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/devscope-hq/devscope/internal/cache"
	"github.com/devscope-hq/devscope/internal/config"
	"github.com/devscope-hq/devscope/internal/discovery"
	"github.com/devscope-hq/devscope/internal/errs"
	"github.com/devscope-hq/devscope/internal/fetcher"
	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/store"
)

// loadConfig loads and validates the configuration for commands that
// need it. Unknown options and invalid values fail here with exit 1.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields(cfg.Summary())).Debug("configuration loaded")
	return cfg, nil
}

// openStore connects the configured relational backend: Postgres when a
// DSN is set, otherwise the SQLite fallback.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.UsePostgres() {
		st, err := store.NewPostgres(ctx, cfg.PostgresDSN, cfg.WorkerConcurrency+2, logger)
		if err != nil {
			return nil, errs.DatabaseError(err, "open postgres store")
		}
		return st, nil
	}
	st, err := store.NewSQLite(cfg.SQLitePath, logger)
	if err != nil {
		return nil, errs.DatabaseError(err, "open sqlite store")
	}
	return st, nil
}

// resolveSeeds merges configured seeds with flag overrides. A flag that
// is set replaces its config counterpart entirely.
func resolveSeeds(cfg *config.Config, orgs, repos, users []string) discovery.Seeds {
	seeds := discovery.Seeds{
		Orgs:      cfg.SeedOrgs,
		Repos:     cfg.SeedRepos,
		Watchlist: cfg.WatchlistUsernames,
	}
	if len(orgs) > 0 {
		seeds.Orgs = orgs
	}
	if len(repos) > 0 {
		seeds.Repos = repos
	}
	if len(users) > 0 {
		seeds.Watchlist = users
	}
	return seeds
}

// validateSeeds rejects an empty seed set and malformed repo seeds
// before any API call is spent on them.
func validateSeeds(seeds discovery.Seeds) error {
	if len(seeds.Orgs)+len(seeds.Repos)+len(seeds.Watchlist) == 0 {
		return errs.ConfigError("no seeds configured: set seed_orgs, seed_repos or watchlist_usernames, or pass --orgs/--repos/--users")
	}
	for _, repo := range seeds.Repos {
		parts := strings.Split(repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return errs.ConfigErrorf("repo seed %q must be owner/name", repo)
		}
	}
	return nil
}

// buildFetcher assembles the profile fetcher, wrapping the GitHub
// client with the Redis read-through when a cache is configured. An
// unreachable cache degrades to uncached fetching.
func buildFetcher(ctx context.Context, cfg *config.Config, gh *github.Client) (*fetcher.Fetcher, func()) {
	if cfg.RedisAddr == "" {
		return fetcher.New(gh, cfg.PerUserRepoCap, logger), func() {}
	}
	rc, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
	if err != nil {
		logger.WithError(err).Warn("redis cache unavailable, fetching uncached")
		return fetcher.New(gh, cfg.PerUserRepoCap, logger), func() {}
	}
	return fetcher.New(cache.NewProfiles(gh, rc), cfg.PerUserRepoCap, logger), func() { rc.Close() }
}

func resolveWorkers(flagValue int, cfg *config.Config) int {
	if flagValue > 0 {
		return flagValue
	}
	return cfg.WorkerConcurrency
}
