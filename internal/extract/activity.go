package extract

import (
	"sort"
	"time"

	"github.com/devscope-hq/devscope/internal/models"
)

const (
	// activityWeeks is the bucketed window length.
	activityWeeks = 26
	// trendSplit divides the window into a recent and an older half.
	trendSplit = 13
	// trendDormantFloor is the events-per-week level below which both
	// halves read as dormant.
	trendDormantFloor = 0.5
	prMonths          = 6
)

// ActivityFacts is the activity extractor's output
type ActivityFacts struct {
	CommitsPerWeek   float64
	PRsPerMonth      float64
	ConsistencyScore float64
	Trend            models.ActivityTrend
	LastActiveAt     *time.Time
	Timeline         []models.ActivityTimelinePoint
}

type weekBucket struct {
	point      models.ActivityTimelinePoint
	activeDays map[string]struct{}
	events     int
}

// ExtractActivity buckets the bundle's events into ISO weeks and
// derives the cadence scalars and trend.
func ExtractActivity(bundle *models.ProfileBundle, now time.Time) ActivityFacts {
	currentWeek := WeekStart(now)
	oldestWeek := currentWeek.AddDate(0, 0, -7*(activityWeeks-1))

	buckets := make(map[time.Time]*weekBucket)
	var lastActive time.Time
	var totalCommits int
	prsInWindow := 0
	monthFloor := monthStart(now).AddDate(0, -prMonths, 0)
	monthCeil := monthStart(now)

	for _, ev := range bundle.Events {
		if ev.CreatedAt.After(lastActive) {
			lastActive = ev.CreatedAt
		}

		week := WeekStart(ev.CreatedAt)
		if week.Before(oldestWeek) || week.After(currentWeek) {
			continue
		}

		bucket, ok := buckets[week]
		if !ok {
			bucket = &weekBucket{
				point:      models.ActivityTimelinePoint{Username: bundle.Username, WeekStart: week},
				activeDays: make(map[string]struct{}),
			}
			buckets[week] = bucket
		}
		bucket.events++
		bucket.activeDays[ev.CreatedAt.UTC().Format("2006-01-02")] = struct{}{}

		switch ev.Type {
		case "PushEvent":
			bucket.point.Commits += ev.CommitCount
			totalCommits += ev.CommitCount
		case "PullRequestEvent":
			switch {
			case ev.Action == "opened":
				bucket.point.PRsOpened++
				if !ev.CreatedAt.Before(monthFloor) && ev.CreatedAt.Before(monthCeil) {
					prsInWindow++
				}
			case ev.Action == "closed" && ev.PRMerged:
				bucket.point.PRsMerged++
			}
		case "IssuesEvent":
			if ev.Action == "opened" {
				bucket.point.IssuesOpened++
			}
		case "PullRequestReviewEvent":
			bucket.point.ReviewsGiven++
		}
	}

	for _, repo := range bundle.Repos {
		if repo.PushedAt.After(lastActive) {
			lastActive = repo.PushedAt
		}
	}

	facts := ActivityFacts{
		CommitsPerWeek: float64(totalCommits) / activityWeeks,
		PRsPerMonth:    float64(prsInWindow) / prMonths,
		Timeline:       []models.ActivityTimelinePoint{},
	}
	if !lastActive.IsZero() {
		t := lastActive
		facts.LastActiveAt = &t
	}

	activeWeeks := 0
	var recentEvents, olderEvents int
	for week, bucket := range buckets {
		if bucket.events > 0 {
			activeWeeks++
		}
		weeksBack := int(currentWeek.Sub(week).Hours() / (24 * 7))
		if weeksBack < trendSplit {
			recentEvents += bucket.events
		} else {
			olderEvents += bucket.events
		}

		bucket.point.ActiveDays = len(bucket.activeDays)
		if bucket.point.ActivityTotal() > 0 || bucket.point.ActiveDays > 0 {
			facts.Timeline = append(facts.Timeline, bucket.point)
		}
	}
	sort.Slice(facts.Timeline, func(i, j int) bool {
		return facts.Timeline[i].WeekStart.Before(facts.Timeline[j].WeekStart)
	})

	facts.ConsistencyScore = clamp01(float64(activeWeeks) / activityWeeks)
	facts.Trend = classifyTrend(
		float64(recentEvents)/trendSplit,
		float64(olderEvents)/(activityWeeks-trendSplit),
	)
	return facts
}

func classifyTrend(recent, older float64) models.ActivityTrend {
	switch {
	case recent < 0.25*older:
		return models.TrendDeclining
	case recent > 1.5*older:
		return models.TrendGrowing
	case recent < trendDormantFloor && older < trendDormantFloor:
		return models.TrendDormant
	default:
		return models.TrendStable
	}
}

// WeekStart truncates a timestamp to its ISO week's Monday 00:00 UTC.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	daysPastMonday := (int(t.Weekday()) + 6) % 7
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -daysPastMonday)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
