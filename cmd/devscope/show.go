package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/errs"
	"github.com/devscope-hq/devscope/internal/models"
	"github.com/devscope-hq/devscope/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show <username>",
	Short: "Print one developer's intelligence record",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().Int("weeks", 12, "weeks of activity timeline to display")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	username := strings.ToLower(args[0])
	weeks, _ := cmd.Flags().GetInt("weeks")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetIntelligence(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("No record for %s. Enrich first: devscope enrich --users %s\n", username, username)
		return nil
	}
	if err != nil {
		return errs.DatabaseError(err, "read intelligence record")
	}

	printRecord(rec)

	timeline, err := st.GetTimeline(ctx, username, weeks)
	if err == nil && len(timeline) > 0 {
		printTimeline(timeline)
	}
	return nil
}

func printRecord(rec *models.IntelligenceRecord) {
	title := rec.Username
	if rec.DisplayName != "" {
		title = fmt.Sprintf("%s (%s)", rec.DisplayName, rec.Username)
	}
	fmt.Printf("👤 %s", title)
	if rec.Partial {
		fmt.Print("  [partial]")
	}
	fmt.Println()
	fmt.Println(strings.Repeat("═", 50))

	fmt.Printf("\n🧭 Profile:\n")
	fmt.Printf("  Seniority:    %s (%.0f%% confidence)\n", rec.SeniorityLevel, rec.SeniorityConfidence*100)
	fmt.Printf("  Years active: %.1f\n", rec.YearsActive)
	fmt.Printf("  Influence:    %d/100\n", rec.InfluenceScore)
	if rec.CurrentEmployerHint != "" {
		fmt.Printf("  Employer:     %s\n", rec.CurrentEmployerHint)
	}
	if loc := formatLocation(rec); loc != "" {
		fmt.Printf("  Location:     %s\n", loc)
	}
	if len(rec.OrganizationMemberships) > 0 {
		fmt.Printf("  Orgs:         %s\n", strings.Join(rec.OrganizationMemberships, ", "))
	}

	if len(rec.PrimaryLanguages) > 0 {
		fmt.Printf("\n🛠  Skills:\n")
		fmt.Printf("  Languages:  %s\n", formatLanguages(rec.PrimaryLanguages))
		if len(rec.Frameworks) > 0 {
			fmt.Printf("  Frameworks: %s\n", strings.Join(rec.Frameworks, ", "))
		}
		if len(rec.Tools) > 0 {
			fmt.Printf("  Tools:      %s\n", strings.Join(rec.Tools, ", "))
		}
		if len(rec.Domains) > 0 {
			fmt.Printf("  Domains:    %s\n", strings.Join(rec.Domains, ", "))
		}
	}

	fmt.Printf("\n📊 Activity:\n")
	fmt.Printf("  Trend:        %s\n", rec.ActivityTrend)
	fmt.Printf("  Commits/week: %.1f\n", rec.CommitsPerWeek)
	fmt.Printf("  PRs/month:    %.1f\n", rec.PRsPerMonth)
	fmt.Printf("  Consistency:  %.0f%%\n", rec.ConsistencyScore*100)
	if rec.LastActiveAt != nil {
		fmt.Printf("  Last active:  %s\n", humanize.Time(*rec.LastActiveAt))
	}

	fmt.Printf("\n📫 Reachability: %d/100, best via %s\n", rec.ReachabilityScore, rec.BestContactMethod)
	if len(rec.ExtractedEmails) > 0 {
		fmt.Printf("  Emails: %s\n", strings.Join(rec.ExtractedEmails, ", "))
	}

	if len(rec.TopCollaborators) > 0 {
		fmt.Printf("\n🤝 Top collaborators:\n")
		for i, c := range rec.TopCollaborators {
			if i >= 5 {
				break
			}
			fmt.Printf("  %-24s strength %d", c.Username, c.Strength)
			if len(c.SharedRepos) > 0 {
				fmt.Printf("  (%s)", strings.Join(c.SharedRepos, ", "))
			}
			fmt.Println()
		}
	}

	if rec.AISummary != "" {
		fmt.Printf("\n📝 Summary:\n  %s\n", rec.AISummary)
	}

	fmt.Printf("\nFetched %s", humanize.Time(rec.SourceFetchedAt))
	fmt.Printf(", record updated %s\n", humanize.Time(rec.UpdatedAt))
}

func printTimeline(points []models.ActivityTimelinePoint) {
	fmt.Printf("\n📅 Weekly activity:\n")
	fmt.Printf("  %-12s %8s %6s %8s %8s %6s\n", "WEEK", "COMMITS", "PRS", "ISSUES", "REVIEWS", "DAYS")
	for _, p := range points {
		fmt.Printf("  %-12s %8d %6d %8d %8d %6d\n",
			p.WeekStart.Format("2006-01-02"), p.Commits, p.PRsOpened, p.IssuesOpened, p.ReviewsGiven, p.ActiveDays)
	}
}

func formatLocation(rec *models.IntelligenceRecord) string {
	var parts []string
	if rec.InferredCity != "" {
		parts = append(parts, rec.InferredCity)
	}
	if rec.InferredCountry != "" {
		parts = append(parts, rec.InferredCountry)
	}
	loc := strings.Join(parts, ", ")
	if rec.InferredTimezone != "" {
		if loc != "" {
			loc += " "
		}
		loc += "(" + rec.InferredTimezone + ")"
	}
	return loc
}

func formatLanguages(langs map[string]models.LanguageShare) string {
	type share struct {
		name string
		pct  float64
	}
	ranked := make([]share, 0, len(langs))
	for name, s := range langs {
		ranked = append(ranked, share{name, s.Percentage})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].pct != ranked[j].pct {
			return ranked[i].pct > ranked[j].pct
		}
		return ranked[i].name < ranked[j].name
	})

	var out []string
	for i, s := range ranked {
		if i >= 5 {
			break
		}
		out = append(out, fmt.Sprintf("%s %.1f%%", s.name, s.pct))
	}
	return strings.Join(out, ", ")
}
