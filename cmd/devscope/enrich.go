package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/checkpoint"
	"github.com/devscope-hq/devscope/internal/discovery"
	"github.com/devscope-hq/devscope/internal/errs"
	"github.com/devscope-hq/devscope/internal/extract"
	"github.com/devscope-hq/devscope/internal/github"
	"github.com/devscope-hq/devscope/internal/models"
	"github.com/devscope-hq/devscope/internal/observability"
	"github.com/devscope-hq/devscope/internal/pipeline"
	"github.com/devscope-hq/devscope/internal/ratebudget"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Discover and enrich developer profiles from the configured seeds",
	Long: `Runs the full pipeline: expand seed orgs, repos and watchlist usernames
into candidates, fetch each candidate's public GitHub footprint under
the hourly rate budget, derive the intelligence record and persist it.

Ctrl-C finishes in-flight candidates within a grace period and records
the run as interrupted; rerun with --resume to skip candidates that
already completed.

Examples:
  devscope enrich
  devscope enrich --orgs vercel --workers 4
  devscope enrich --repos golang/go --dry-run
  devscope enrich --resume`,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().StringSlice("orgs", nil, "seed organizations (overrides config)")
	enrichCmd.Flags().StringSlice("repos", nil, "seed repositories as owner/name (overrides config)")
	enrichCmd.Flags().StringSlice("users", nil, "watchlist usernames (overrides config)")
	enrichCmd.Flags().Int("workers", 0, "worker count (default from config)")
	enrichCmd.Flags().Int("freshness-days", -1, "re-enrich records older than this many days (overrides config)")
	enrichCmd.Flags().Bool("resume", false, "skip candidates completed by the interrupted run")
	enrichCmd.Flags().String("metrics-addr", "", "Prometheus listener address, e.g. :9090 (overrides config)")
	enrichCmd.Flags().Bool("dry-run", false, "list candidates without enriching")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orgs, _ := cmd.Flags().GetStringSlice("orgs")
	repos, _ := cmd.Flags().GetStringSlice("repos")
	users, _ := cmd.Flags().GetStringSlice("users")
	workers, _ := cmd.Flags().GetInt("workers")
	freshnessDays, _ := cmd.Flags().GetInt("freshness-days")
	resume, _ := cmd.Flags().GetBool("resume")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if freshnessDays >= 0 {
		cfg.FreshnessWindowDays = freshnessDays
	}
	seeds := resolveSeeds(cfg, orgs, repos, users)
	if err := validateSeeds(seeds); err != nil {
		return err
	}

	dicts, err := extract.LoadDictionaries()
	if err != nil {
		return err
	}
	if err := cfg.CheckDictionaries(dicts.Version); err != nil {
		return err
	}

	if !cfg.Authenticated() {
		logger.Warn("no GitHub token configured, using the anonymous 60 calls/hour quota")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	budget := ratebudget.New(cfg.PermitsPerHour(), cfg.Spacing())
	gh := github.NewClient(cfg.GitHubToken, cfg.HTTPTimeout(), budget)
	disc := discovery.New(gh, st, cfg.FreshnessWindow(), logger)

	if dryRun {
		candidates, err := disc.Discover(ctx, seeds)
		if err != nil {
			return startupError(err)
		}
		printCandidates(candidates)
		return nil
	}

	f, closeCache := buildFetcher(ctx, cfg, gh)
	defer closeCache()

	cp, err := checkpoint.Open(cfg.CheckpointPath)
	if err != nil {
		return err
	}
	defer cp.Close()
	if !resume {
		// A fresh run must not inherit the previous run's completions.
		if err := cp.Clear(); err != nil {
			return err
		}
	}

	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		srv := observability.Serve(metricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	p := pipeline.New(pipeline.Deps{
		Source:     disc,
		Fetcher:    f,
		Store:      st,
		Budget:     budget,
		Checkpoint: cp,
		Dicts:      dicts,
		Logger:     logger,
	}, pipeline.Config{
		Seeds:           seeds,
		Workers:         resolveWorkers(workers, cfg),
		PermitsPerHour:  cfg.PermitsPerHour(),
		CandidateBudget: cfg.CandidateBudget(),
	})

	done := make(chan struct{})
	go printProgress(p.Events(), done)

	result, err := p.Run(ctx)
	close(done)
	if err != nil {
		return startupError(err)
	}

	printRunSummary(result)
	if code := result.ExitCode(); code != errs.ExitOK {
		os.Exit(code)
	}
	return nil
}

// startupError maps a failed run start onto the exit-code contract:
// Ctrl-C during discovery exits 130, everything else is a dependency
// failure.
func startupError(err error) error {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(errs.ExitInterrupted)
	}
	return errs.ExternalError(err, "enrichment run")
}

// printProgress renders terminal progress events until the run is done.
func printProgress(events <-chan models.ProgressEvent, done <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case models.ProgressEnriched:
				fmt.Printf("  ✓ %-24s %6.1fs  %4d calls left, %d queued\n",
					ev.Username, float64(ev.DurationMS)/1000, ev.APIRemaining, ev.QueueSize)
			case models.ProgressGoneMissing:
				fmt.Printf("  ∅ %-24s gone or never existed\n", ev.Username)
			case models.ProgressFailed:
				fmt.Printf("  ✗ %-24s failed, queued for inspection\n", ev.Username)
			case models.ProgressRateWait:
				fmt.Printf("  ⏳ rate budget exhausted, resuming %s\n", humanize.Time(ev.ResetAt))
			}
		case <-done:
			return
		}
	}
}

func printRunSummary(result *pipeline.Result) {
	fmt.Printf("\n%s\n", strings.Repeat("═", 50))
	fmt.Printf("Run %s %s in %s\n", result.RunID[:min(8, len(result.RunID))], runState(result), result.Duration.Round(time.Second))
	fmt.Printf("  Discovered:   %s (%s skipped by resume)\n",
		humanize.Comma(int64(result.Discovered)), humanize.Comma(int64(result.Skipped)))
	fmt.Printf("  Enriched:     %s (%s partial)\n",
		humanize.Comma(int64(result.Enriched)), humanize.Comma(int64(result.Partial)))
	if result.GoneMissing > 0 {
		fmt.Printf("  Gone missing: %s\n", humanize.Comma(int64(result.GoneMissing)))
	}
	if result.Failed > 0 {
		fmt.Printf("  Failed:       %s (see 'devscope failures')\n", humanize.Comma(int64(result.Failed)))
	}
	if result.Cancelled > 0 {
		fmt.Printf("  Cancelled:    %s (rerun with --resume)\n", humanize.Comma(int64(result.Cancelled)))
	}
}

func runState(result *pipeline.Result) string {
	switch {
	case result.Aborted:
		return "aborted"
	case result.Interrupted:
		return "interrupted"
	default:
		return "completed"
	}
}
