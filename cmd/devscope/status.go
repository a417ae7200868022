package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/config"
	"github.com/devscope-hq/devscope/internal/errs"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store contents, recent runs and effective configuration",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("🔍 DevScope Status")
	fmt.Println(strings.Repeat("═", 50))

	backend := "sqlite"
	if cfg.UsePostgres() {
		backend = "postgres"
	}
	fmt.Println("\n📋 Configuration:")
	fmt.Printf("  Store:  %s\n", backend)
	fmt.Printf("  Token:  %s\n", config.MaskToken(cfg.GitHubToken))
	fmt.Printf("  Quota:  %d calls/hour, spaced %s\n", cfg.PermitsPerHour(), cfg.Spacing())
	fmt.Printf("  Seeds:  %d orgs, %d repos, %d watchlist\n",
		len(cfg.SeedOrgs), len(cfg.SeedRepos), len(cfg.WatchlistUsernames))
	fmt.Printf("  Cache:  %s\n", orUnset(cfg.RedisAddr))
	fmt.Printf("  Graph:  %s\n", orUnset(cfg.Neo4jURI))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return errs.DatabaseError(err, "read store stats")
	}

	fmt.Println("\n💾 Store:")
	fmt.Printf("  Records:             %s (%s partial)\n",
		humanize.Comma(int64(stats.TotalRecords)), humanize.Comma(int64(stats.PartialRecords)))
	fmt.Printf("  Collaboration edges: %s\n", humanize.Comma(int64(stats.CollaborationEdges)))
	fmt.Printf("  Timeline rows:       %s\n", humanize.Comma(int64(stats.TimelineRows)))
	if stats.NewestFetch != nil {
		fmt.Printf("  Freshest fetch:      %s\n", humanize.Time(*stats.NewestFetch))
	}
	if stats.OldestFetch != nil {
		fmt.Printf("  Oldest fetch:        %s\n", humanize.Time(*stats.OldestFetch))
	}
	if stats.PendingFailures > 0 {
		fmt.Printf("  Pending failures:    %d (see 'devscope failures')\n", stats.PendingFailures)
	}

	if len(stats.BySeniority) > 0 {
		fmt.Println("\n📈 Seniority:")
		for _, level := range []string{"Junior", "Mid", "Senior", "Staff", "Principal"} {
			if n := stats.BySeniority[level]; n > 0 {
				fmt.Printf("  %-10s %s\n", level, humanize.Comma(int64(n)))
			}
		}
	}

	runs, err := st.RecentRuns(ctx, 5)
	if err != nil {
		return errs.DatabaseError(err, "read run ledger")
	}
	if len(runs) > 0 {
		fmt.Println("\n🏃 Recent runs:")
		for _, r := range runs {
			fmt.Printf("  %s  %-12s %s enriched, %s failed  (%s)\n",
				r.ID[:min(8, len(r.ID))], r.ExitState,
				humanize.Comma(int64(r.Enriched)), humanize.Comma(int64(r.Failed)),
				humanize.Time(r.StartedAt))
		}
	}

	return nil
}

func orUnset(value string) string {
	if value == "" {
		return "(not configured)"
	}
	return value
}
