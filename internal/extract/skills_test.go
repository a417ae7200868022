package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devscope-hq/devscope/internal/models"
)

func loadDicts(t *testing.T) *Dictionaries {
	t.Helper()
	dicts, err := LoadDictionaries()
	require.NoError(t, err)
	return dicts
}

func TestPrimaryLanguagesCoverage(t *testing.T) {
	stats := models.LanguageStats{
		"svc":  {"Go": 9_000, "Shell": 200},
		"tool": {"Go": 500, "Python": 300},
	}

	langs := primaryLanguages(stats)

	// Go alone covers 95% of 10000 bytes, so the tail is dropped.
	require.Contains(t, langs, "Go")
	assert.Equal(t, int64(9_500), langs["Go"].Bytes)
	assert.InDelta(t, 95.0, langs["Go"].Percentage, 0.01)
	assert.NotContains(t, langs, "Shell")
	assert.NotContains(t, langs, "Python")
}

func TestPrimaryLanguagesCapped(t *testing.T) {
	stats := models.LanguageStats{"poly": {}}
	repoLangs := stats["poly"]
	for _, lang := range []string{"Go", "Python", "Rust", "C", "C++", "Java", "Ruby", "Swift", "Kotlin", "Zig", "Haskell", "Elixir"} {
		repoLangs[lang] = 1000
	}

	langs := primaryLanguages(stats)
	assert.Len(t, langs, maxPrimaryLanguages)
}

func TestPrimaryLanguagesEmpty(t *testing.T) {
	assert.Empty(t, primaryLanguages(models.LanguageStats{}))
}

func TestExtractSkillsMatchesTopicsNamesAndDescriptions(t *testing.T) {
	dicts := loadDicts(t)
	bundle := &models.ProfileBundle{
		Username: "alice",
		Repos: []models.Repo{
			{Name: "trading-bot", Topics: []string{"solidity", "hardhat"}, Description: "Automated DeFi strategies"},
			{Name: "react-dashboard", Description: "Dashboards built with react and tailwindcss"},
			{Name: "infra", Description: "Terraform modules and Kubernetes manifests"},
		},
	}

	skills := ExtractSkills(bundle, dicts)

	assert.Contains(t, skills.Frameworks, "solidity")
	assert.Contains(t, skills.Frameworks, "react")
	assert.Contains(t, skills.Frameworks, "tailwind")
	assert.Contains(t, skills.Tools, "terraform")
	assert.Contains(t, skills.Tools, "kubernetes")
	assert.Contains(t, skills.Domains, "DeFi")
	assert.Contains(t, skills.Domains, "Frontend")
	assert.Contains(t, skills.Domains, "Cloud Infrastructure")
	assert.Contains(t, skills.Domains, "DevOps")
}

func TestExtractSkillsNoMatches(t *testing.T) {
	dicts := loadDicts(t)
	bundle := &models.ProfileBundle{
		Username: "bob",
		Repos: []models.Repo{
			{Name: "dotfiles", Description: "my personal setup"},
		},
	}

	skills := ExtractSkills(bundle, dicts)

	assert.Empty(t, skills.Frameworks)
	assert.Empty(t, skills.Tools)
	assert.Empty(t, skills.Domains)
	assert.NotNil(t, skills.Frameworks, "empty slices, not nil, for clean serialization")
}

func TestExtractSkillsOutputsSorted(t *testing.T) {
	dicts := loadDicts(t)
	bundle := &models.ProfileBundle{
		Username: "carol",
		Repos: []models.Repo{
			{Name: "zoo", Topics: []string{"vue", "angular", "react"}},
		},
	}

	skills := ExtractSkills(bundle, dicts)
	assert.Equal(t, []string{"angular", "react", "vue"}, skills.Frameworks)
}
