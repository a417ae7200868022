package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/errs"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List candidates whose enrichment keeps failing",
	Long: `Shows the failure queue: candidates that reached a terminal failure
during enrichment, with the stage, failure kind and attempt count.
Failed candidates are retried automatically on the next enrich run and
leave the queue once they succeed.`,
	RunE: runFailures,
}

func init() {
	failuresCmd.Flags().Int("limit", 50, "maximum rows to display")
}

func runFailures(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.ListFailures(ctx, limit)
	if err != nil {
		return errs.DatabaseError(err, "read failure queue")
	}
	if len(rows) == 0 {
		fmt.Println("✅ No pending failures")
		return nil
	}

	fmt.Printf("%-24s %-8s %-20s %8s  %-16s %s\n",
		"USERNAME", "STAGE", "KIND", "ATTEMPTS", "LAST SEEN", "MESSAGE")
	for _, f := range rows {
		fmt.Printf("%-24s %-8s %-20s %8d  %-16s %s\n",
			f.Username, f.Stage, f.Kind, f.Attempts,
			humanize.Time(f.LastSeen), truncate(f.Message, 60))
	}
	fmt.Printf("\n%d failing candidates; the next enrich run retries them\n", len(rows))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
