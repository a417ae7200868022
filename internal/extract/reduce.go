package extract

import (
	"time"

	"github.com/devscope-hq/devscope/internal/models"
)

// Reduce runs every extractor over the bundle and assembles the result
// the persister writes. Pure: given the same bundle, dictionaries and
// clock it always produces the same output.
func Reduce(bundle *models.ProfileBundle, dicts *Dictionaries, now time.Time) *models.EnrichmentResult {
	identity := ExtractIdentity(bundle.User, dicts)
	skills := ExtractSkills(bundle, dicts)
	seniority := ExtractSeniority(bundle, now)
	network := ExtractNetwork(bundle)
	activity := ExtractActivity(bundle, now)
	reach := ExtractReachability(bundle, now)

	orgs := bundle.Orgs
	if orgs == nil {
		orgs = []string{}
	}

	record := models.IntelligenceRecord{
		Username:            bundle.Username,
		DisplayName:         identity.DisplayName,
		ExtractedEmails:     reach.ExtractedEmails,
		InferredCity:        identity.InferredCity,
		InferredCountry:     identity.InferredCountry,
		InferredTimezone:    identity.InferredTimezone,
		CurrentEmployerHint: identity.CurrentEmployerHint,

		PrimaryLanguages: skills.PrimaryLanguages,
		Frameworks:       skills.Frameworks,
		Tools:            skills.Tools,
		Domains:          skills.Domains,

		YearsActive:          seniority.YearsActive,
		TotalCommitsEstimate: seniority.TotalCommitsEstimate,
		ReposMaintained:      seniority.ReposMaintained,
		SeniorityLevel:       seniority.Level,
		SeniorityConfidence:  seniority.Confidence,

		InfluenceScore:          network.InfluenceScore,
		OrganizationMemberships: orgs,
		TopCollaborators:        network.TopCollaborators,

		CommitsPerWeek:   activity.CommitsPerWeek,
		PRsPerMonth:      activity.PRsPerMonth,
		ConsistencyScore: activity.ConsistencyScore,
		ActivityTrend:    activity.Trend,
		LastActiveAt:     activity.LastActiveAt,

		ReachabilityScore:   reach.Score,
		ReachabilitySignals: reach.Signals,
		BestContactMethod:   reach.BestContact,

		Partial:         bundle.Partial,
		SourceFetchedAt: bundle.FetchedAt,
	}

	return &models.EnrichmentResult{
		Record:   record,
		Timeline: activity.Timeline,
		Edges:    network.Edges,
	}
}
