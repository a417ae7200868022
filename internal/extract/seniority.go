package extract

import (
	"math"
	"strings"
	"time"

	"github.com/devscope-hq/devscope/internal/models"
)

const (
	maxYearsActive = 30.0

	// maintainedWindow and maintainedMinStars define what counts as an
	// actively maintained repo.
	maintainedWindow   = 2 * 365 * 24 * time.Hour
	maintainedMinStars = 5

	seniorityMidThreshold       = 30.0
	senioritySeniorThreshold    = 60.0
	seniorityStaffThreshold     = 90.0
	seniorityPrincipalThreshold = 120.0

	senioritySignalCount = 6
)

// SeniorityFacts is the seniority extractor's output
type SeniorityFacts struct {
	YearsActive          float64
	TotalCommitsEstimate int
	ReposMaintained      int
	ReviewSignal         int
	StarSignal           float64
	OrgSignal            int
	Score                float64
	Level                models.SeniorityLevel
	Confidence           float64
}

// ExtractSeniority scores the developer's experience from account age,
// commit volume, review activity, maintained repos, stars, and orgs.
func ExtractSeniority(bundle *models.ProfileBundle, now time.Time) SeniorityFacts {
	facts := SeniorityFacts{
		YearsActive: yearsActive(bundle.User.CreatedAt, now),
	}

	owned := bundle.OwnedRepos()
	ownedNames := make(map[string]struct{}, len(owned))
	var sumStars int64
	for _, repo := range owned {
		ownedNames[strings.ToLower(repo.FullName)] = struct{}{}
		sumStars += int64(repo.Stargazers)
		if now.Sub(repo.PushedAt) <= maintainedWindow && repo.Stargazers >= maintainedMinStars {
			facts.ReposMaintained++
		}
	}

	for _, ev := range bundle.Events {
		switch ev.Type {
		case "PushEvent":
			if pushTouchesOwnedRepo(bundle, ownedNames, ev.Repo) {
				facts.TotalCommitsEstimate += ev.CommitCount
			}
		case "PullRequestReviewEvent":
			facts.ReviewSignal++
		}
	}

	facts.StarSignal = math.Log10(1 + float64(sumStars))
	facts.OrgSignal = len(bundle.Orgs)

	facts.Score = math.Min(facts.YearsActive*10, 50) +
		math.Min(float64(facts.TotalCommitsEstimate)/100, 20) +
		float64(facts.ReviewSignal)*2 +
		float64(facts.ReposMaintained)*3 +
		math.Min(facts.StarSignal*5, 15) +
		float64(facts.OrgSignal)*5

	facts.Level = classifySeniority(facts.Score)
	facts.Confidence = seniorityConfidence(facts)
	return facts
}

func yearsActive(createdAt, now time.Time) float64 {
	if createdAt.IsZero() || !createdAt.Before(now) {
		return 0
	}
	years := now.Sub(createdAt).Hours() / (24 * 365.25)
	return math.Min(years, maxYearsActive)
}

// pushTouchesOwnedRepo reports whether a push event counts toward the
// commit estimate. When the repo list is missing from a partial bundle
// the owner prefix is the best available proxy.
func pushTouchesOwnedRepo(bundle *models.ProfileBundle, ownedNames map[string]struct{}, repo string) bool {
	if len(ownedNames) > 0 {
		_, ok := ownedNames[strings.ToLower(repo)]
		return ok
	}
	if bundle.Partial && len(bundle.Repos) == 0 {
		owner, _, found := strings.Cut(repo, "/")
		return found && strings.EqualFold(owner, bundle.Username)
	}
	return false
}

// classifySeniority maps a score to a level. A score sitting exactly on
// a boundary belongs to the lower band.
func classifySeniority(score float64) models.SeniorityLevel {
	switch {
	case score <= seniorityMidThreshold:
		return models.SeniorityJunior
	case score <= senioritySeniorThreshold:
		return models.SeniorityMid
	case score <= seniorityStaffThreshold:
		return models.SenioritySenior
	case score <= seniorityPrincipalThreshold:
		return models.SeniorityStaff
	default:
		return models.SeniorityPrincipal
	}
}

// seniorityConfidence grows with the number of independent non-zero
// signals feeding the score.
func seniorityConfidence(facts SeniorityFacts) float64 {
	nonZero := 0
	if facts.YearsActive > 0 {
		nonZero++
	}
	if facts.TotalCommitsEstimate > 0 {
		nonZero++
	}
	if facts.ReviewSignal > 0 {
		nonZero++
	}
	if facts.ReposMaintained > 0 {
		nonZero++
	}
	if facts.StarSignal > 0 {
		nonZero++
	}
	if facts.OrgSignal > 0 {
		nonZero++
	}
	return math.Min(1.0, float64(nonZero)/senioritySignalCount)
}
