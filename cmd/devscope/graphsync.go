package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/errs"
	"github.com/devscope-hq/devscope/internal/graphsync"
)

var graphSyncCmd = &cobra.Command{
	Use:   "graph-sync",
	Short: "Mirror collaboration edges into Neo4j",
	Long: `Replays collaboration edges from the relational store into the Neo4j
mirror. The mirror is idempotent: nodes and relationships are merged,
so a full replay converges to the same graph.

Examples:
  devscope graph-sync              # full replay
  devscope graph-sync --since 24h  # only edges updated in the last day`,
	RunE: runGraphSync,
}

func init() {
	graphSyncCmd.Flags().Duration("since", 0, "only mirror edges updated within this window (0 = full replay)")
}

func runGraphSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Neo4jURI == "" {
		return errs.ConfigError("neo4j_uri is not configured; set it with neo4j_user and neo4j_password to enable the graph mirror")
	}

	window, _ := cmd.Flags().GetDuration("since")
	var since time.Time
	if window > 0 {
		since = time.Now().UTC().Add(-window)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	syncer, err := graphsync.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, st)
	if err != nil {
		return errs.ExternalError(err, "connect neo4j")
	}
	defer syncer.Close(ctx)

	synced, err := syncer.Sync(ctx, since)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "interrupted after %d edges\n", synced)
			os.Exit(errs.ExitInterrupted)
		}
		return errs.ExternalError(err, fmt.Sprintf("mirror stopped after %d edges", synced))
	}

	fmt.Printf("✅ Mirrored %s collaboration edges to Neo4j\n", humanize.Comma(int64(synced)))
	return nil
}
