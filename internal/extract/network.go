package extract

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/devscope-hq/devscope/internal/models"
)

const (
	maxTopCollaborators = 20
	// minEdgeStrength is the weight floor below which no collaboration
	// edge is emitted.
	minEdgeStrength = 2
)

// Event-type weights for co-contribution strength.
const (
	weightReview     = 3
	weightPR         = 2
	weightIssue      = 1
	weightSharedPush = 1
)

// NetworkFacts is the network extractor's output
type NetworkFacts struct {
	InfluenceScore   int
	TopCollaborators []models.Collaborator
	Edges            []models.CollaborationEdge
}

type collabAccum struct {
	login    string
	weight   int
	repos    map[string]struct{}
	lastSeen time.Time
}

// ExtractNetwork infers the developer's collaboration graph from event
// counterparties and scores their overall influence.
func ExtractNetwork(bundle *models.ProfileBundle) NetworkFacts {
	accum := make(map[string]*collabAccum)

	for _, ev := range bundle.Events {
		weight := eventWeight(ev.Type)
		if weight == 0 || ev.OtherActor == "" {
			continue
		}
		key := strings.ToLower(ev.OtherActor)
		entry, ok := accum[key]
		if !ok {
			entry = &collabAccum{login: key, repos: make(map[string]struct{})}
			accum[key] = entry
		}
		entry.weight += weight
		if ev.Repo != "" {
			entry.repos[ev.Repo] = struct{}{}
		}
		if ev.CreatedAt.After(entry.lastSeen) {
			entry.lastSeen = ev.CreatedAt
		}
	}

	ranked := make([]*collabAccum, 0, len(accum))
	for _, entry := range accum {
		ranked = append(ranked, entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].login < ranked[j].login
	})

	facts := NetworkFacts{
		TopCollaborators: []models.Collaborator{},
		Edges:            []models.CollaborationEdge{},
	}
	for i, entry := range ranked {
		if i >= maxTopCollaborators {
			break
		}
		facts.TopCollaborators = append(facts.TopCollaborators, models.Collaborator{
			Username:    entry.login,
			Strength:    entry.weight,
			SharedRepos: sortedKeys(entry.repos),
		})
		if entry.weight >= minEdgeStrength {
			facts.Edges = append(facts.Edges, models.NewCollaborationEdge(
				bundle.Username, entry.login, sortedKeys(entry.repos), entry.weight, entry.lastSeen))
		}
	}

	facts.InfluenceScore = influenceScore(bundle, len(accum))
	return facts
}

func eventWeight(eventType string) int {
	switch eventType {
	case "PullRequestReviewEvent":
		return weightReview
	case "PullRequestEvent":
		return weightPR
	case "IssuesEvent", "IssueCommentEvent":
		return weightIssue
	case "PushEvent":
		return weightSharedPush
	default:
		return 0
	}
}

// influenceScore blends org reach, followers, stars, and collaborator
// count into a 0-100 score.
func influenceScore(bundle *models.ProfileBundle, collaboratorCount int) int {
	var sumStars int64
	for _, repo := range bundle.OwnedRepos() {
		sumStars += int64(repo.Stargazers)
	}

	score := 5*float64(len(bundle.Orgs)) +
		10*math.Log10(1+float64(bundle.User.Followers)) +
		0.1*float64(sumStars) +
		math.Min(20, float64(collaboratorCount))

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return int(math.Round(score))
}
