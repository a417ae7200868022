package extract

import (
	"net/url"
	"strings"
	"time"

	"github.com/devscope-hq/devscope/internal/models"
)

// noreplySuffix is GitHub's privacy-preserving commit address domain.
// Addresses under it are never surfaced.
const noreplySuffix = "@users.noreply.github.com"

// recentActivityWindow is how fresh the last activity must be for the
// recency signal.
const recentActivityWindow = 90 * 24 * time.Hour

// Reachability signal names and weights.
const (
	SignalProfileEmail   = "profile_email"
	SignalCommitEmail    = "commit_email"
	SignalTwitter        = "twitter_handle"
	SignalWebsite        = "personal_website"
	SignalRecentActivity = "recent_activity"
	SignalHireableBio    = "hireable_bio"
)

var signalWeights = map[string]int{
	SignalProfileEmail:   30,
	SignalCommitEmail:    20,
	SignalTwitter:        20,
	SignalWebsite:        15,
	SignalRecentActivity: 20,
	SignalHireableBio:    15,
}

// signalOrder fixes the order signals appear in the record.
var signalOrder = []string{
	SignalProfileEmail,
	SignalCommitEmail,
	SignalTwitter,
	SignalWebsite,
	SignalRecentActivity,
	SignalHireableBio,
}

var hireablePhrases = []string{
	"open to",
	"available for",
	"looking for",
	"hire me",
	"freelance",
}

// ReachabilityFacts is the reachability extractor's output
type ReachabilityFacts struct {
	Score           int
	Signals         []models.ReachabilitySignal
	BestContact     models.ContactMethod
	ExtractedEmails []string
}

// ExtractReachability scores how contactable the developer is and
// collects every usable email address surfaced by the bundle.
func ExtractReachability(bundle *models.ProfileBundle, now time.Time) ReachabilityFacts {
	present := make(map[string]bool)

	profileEmail := strings.TrimSpace(bundle.User.Email)
	if profileEmail != "" && !isNoreply(profileEmail) {
		present[SignalProfileEmail] = true
	}

	commitEmails := collectCommitEmails(bundle.Events)
	if len(commitEmails) > 0 {
		present[SignalCommitEmail] = true
	}

	if strings.TrimSpace(bundle.User.TwitterUsername) != "" {
		present[SignalTwitter] = true
	}
	if isParseableURL(bundle.User.Blog) {
		present[SignalWebsite] = true
	}
	if lastActive := lastActivity(bundle); !lastActive.IsZero() && now.Sub(lastActive) <= recentActivityWindow {
		present[SignalRecentActivity] = true
	}
	if bioLooksHireable(bundle.User.Bio) {
		present[SignalHireableBio] = true
	}

	facts := ReachabilityFacts{
		Signals:         []models.ReachabilitySignal{},
		ExtractedEmails: mergeEmails(profileEmail, commitEmails),
	}

	total := 0
	for _, name := range signalOrder {
		if !present[name] {
			continue
		}
		weight := signalWeights[name]
		total += weight
		facts.Signals = append(facts.Signals, models.ReachabilitySignal{Signal: name, Weight: weight})
	}
	if total > 100 {
		total = 100
	}
	facts.Score = total
	facts.BestContact = bestContact(present)
	return facts
}

// bestContact picks the method backed by the heaviest present signal.
// Ties resolve Email > Twitter > Website > GitHub.
func bestContact(present map[string]bool) models.ContactMethod {
	best := models.ContactNone
	bestWeight := 0

	methodRank := map[models.ContactMethod]int{
		models.ContactEmail:   4,
		models.ContactTwitter: 3,
		models.ContactWebsite: 2,
		models.ContactGitHub:  1,
		models.ContactNone:    0,
	}
	methodFor := map[string]models.ContactMethod{
		SignalProfileEmail:   models.ContactEmail,
		SignalCommitEmail:    models.ContactEmail,
		SignalTwitter:        models.ContactTwitter,
		SignalWebsite:        models.ContactWebsite,
		SignalRecentActivity: models.ContactGitHub,
		SignalHireableBio:    models.ContactGitHub,
	}

	for name, ok := range present {
		if !ok {
			continue
		}
		weight := signalWeights[name]
		method := methodFor[name]
		if weight > bestWeight || (weight == bestWeight && methodRank[method] > methodRank[best]) {
			best = method
			bestWeight = weight
		}
	}
	return best
}

func isNoreply(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), noreplySuffix)
}

func collectCommitEmails(events []models.Event) []string {
	seen := make(map[string]struct{})
	for _, ev := range events {
		if ev.Type != "PushEvent" {
			continue
		}
		for _, email := range ev.CommitEmails {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" || isNoreply(email) {
				continue
			}
			seen[email] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// mergeEmails unions the profile email into the commit addresses,
// deduplicating case-insensitively.
func mergeEmails(profileEmail string, commitEmails []string) []string {
	seen := make(map[string]struct{}, len(commitEmails)+1)
	for _, email := range commitEmails {
		seen[email] = struct{}{}
	}
	profileEmail = strings.ToLower(strings.TrimSpace(profileEmail))
	if profileEmail != "" && !isNoreply(profileEmail) {
		seen[profileEmail] = struct{}{}
	}

	return sortedKeys(seen)
}

func isParseableURL(blog string) bool {
	blog = strings.TrimSpace(blog)
	if blog == "" {
		return false
	}
	if !strings.Contains(blog, "://") {
		blog = "https://" + blog
	}
	parsed, err := url.Parse(blog)
	if err != nil {
		return false
	}
	return parsed.Host != "" && strings.Contains(parsed.Host, ".")
}

func lastActivity(bundle *models.ProfileBundle) time.Time {
	var last time.Time
	for _, ev := range bundle.Events {
		if ev.CreatedAt.After(last) {
			last = ev.CreatedAt
		}
	}
	for _, repo := range bundle.Repos {
		if repo.PushedAt.After(last) {
			last = repo.PushedAt
		}
	}
	return last
}

func bioLooksHireable(bio string) bool {
	bio = strings.ToLower(bio)
	for _, phrase := range hireablePhrases {
		if strings.Contains(bio, phrase) {
			return true
		}
	}
	return false
}
