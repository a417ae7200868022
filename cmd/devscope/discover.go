package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/discovery"
	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
	"github.com/devscope-hq/devscope/internal/ratebudget"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Expand the configured seeds and list enrichment candidates",
	Long: `Runs the discovery stage alone: seed orgs and repos are expanded into
usernames, deduplicated, filtered against records fetched within the
freshness window and printed in priority order. Nothing is enriched.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringSlice("orgs", nil, "seed organizations (overrides config)")
	discoverCmd.Flags().StringSlice("repos", nil, "seed repositories as owner/name (overrides config)")
	discoverCmd.Flags().StringSlice("users", nil, "watchlist usernames (overrides config)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orgs, _ := cmd.Flags().GetStringSlice("orgs")
	repos, _ := cmd.Flags().GetStringSlice("repos")
	users, _ := cmd.Flags().GetStringSlice("users")

	seeds := resolveSeeds(cfg, orgs, repos, users)
	if err := validateSeeds(seeds); err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	budget := ratebudget.New(cfg.PermitsPerHour(), cfg.Spacing())
	gh := github.NewClient(cfg.GitHubToken, cfg.HTTPTimeout(), budget)
	disc := discovery.New(gh, st, cfg.FreshnessWindow(), logger)

	candidates, err := disc.Discover(ctx, seeds)
	if err != nil {
		return startupError(err)
	}
	printCandidates(candidates)
	return nil
}

func printCandidates(candidates []models.Candidate) {
	if len(candidates) == 0 {
		fmt.Println("No candidates: every discovered user is fresh, or the seeds yielded none")
		return
	}

	fmt.Printf("%-28s %8s  %s\n", "USERNAME", "PRIORITY", "SOURCE")
	for _, c := range candidates {
		fmt.Printf("%-28s %8d  %s\n", c.Username, c.Priority, c.DiscoveredFrom)
	}
	fmt.Printf("\n%s candidates\n", humanize.Comma(int64(len(candidates))))
}
