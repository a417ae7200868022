package extract

import (
	"sort"
	"strings"

	"github.com/devscope-hq/devscope/internal/models"
)

const (
	// primaryLanguageCoverage is the share of total bytes the emitted
	// languages must cover.
	primaryLanguageCoverage = 0.95
	// maxPrimaryLanguages bounds the emitted language list.
	maxPrimaryLanguages = 10
)

// SkillSet is the skills extractor's output
type SkillSet struct {
	PrimaryLanguages map[string]models.LanguageShare
	Frameworks       []string
	Tools            []string
	Domains          []string
}

// ExtractSkills derives the language, framework, tool, and domain
// profile from the bundle's repos and language stats.
func ExtractSkills(bundle *models.ProfileBundle, dicts *Dictionaries) SkillSet {
	skills := SkillSet{
		PrimaryLanguages: primaryLanguages(bundle.LanguageStats),
		Frameworks:       []string{},
		Tools:            []string{},
		Domains:          []string{},
	}

	frameworks := make(map[string]struct{})
	tools := make(map[string]struct{})
	domains := make(map[string]struct{})

	match := func(word string) {
		if entry, ok := dicts.MatchFramework(word); ok {
			frameworks[entry.Name] = struct{}{}
			if entry.Domain != "" {
				domains[entry.Domain] = struct{}{}
			}
		}
		if entry, ok := dicts.MatchTool(word); ok {
			tools[entry.Name] = struct{}{}
			if entry.Domain != "" {
				domains[entry.Domain] = struct{}{}
			}
		}
	}

	for _, repo := range bundle.Repos {
		for _, topic := range repo.Topics {
			match(strings.ToLower(topic))
		}
		for _, word := range tokenize(repo.Name) {
			match(word)
		}
		for _, word := range tokenize(repo.Description) {
			match(word)
		}
	}

	skills.Frameworks = sortedKeys(frameworks)
	skills.Tools = sortedKeys(tools)
	skills.Domains = sortedKeys(domains)
	return skills
}

// primaryLanguages sums bytes per language across all repos and keeps
// the top languages covering the coverage threshold, capped.
func primaryLanguages(stats models.LanguageStats) map[string]models.LanguageShare {
	totals := make(map[string]int64)
	var grandTotal int64
	for _, repoLangs := range stats {
		for lang, bytes := range repoLangs {
			totals[lang] += bytes
			grandTotal += bytes
		}
	}

	out := make(map[string]models.LanguageShare)
	if grandTotal == 0 {
		return out
	}

	type langBytes struct {
		lang  string
		bytes int64
	}
	ranked := make([]langBytes, 0, len(totals))
	for lang, bytes := range totals {
		ranked = append(ranked, langBytes{lang, bytes})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].bytes != ranked[j].bytes {
			return ranked[i].bytes > ranked[j].bytes
		}
		return ranked[i].lang < ranked[j].lang
	})

	var covered int64
	for i, lb := range ranked {
		if i >= maxPrimaryLanguages {
			break
		}
		if float64(covered) >= primaryLanguageCoverage*float64(grandTotal) {
			break
		}
		out[lb.lang] = models.LanguageShare{
			Bytes:      lb.bytes,
			Percentage: float64(lb.bytes) / float64(grandTotal) * 100,
		}
		covered += lb.bytes
	}

	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
