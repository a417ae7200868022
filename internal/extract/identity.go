package extract

import (
	"strings"

	"github.com/devscope-hq/devscope/internal/models"
)

// IdentityFacts is the identity extractor's output
type IdentityFacts struct {
	DisplayName         string
	InferredCity        string
	InferredCountry     string
	InferredTimezone    string
	CurrentEmployerHint string
}

// ExtractIdentity derives display and location hints from the profile.
// Location parsing is opportunistic: only spellings in the country
// dictionary produce a country and timezone.
func ExtractIdentity(user models.User, dicts *Dictionaries) IdentityFacts {
	facts := IdentityFacts{
		DisplayName:         strings.TrimSpace(user.Name),
		CurrentEmployerHint: employerHint(user.Company),
	}
	if facts.DisplayName == "" {
		facts.DisplayName = user.Login
	}

	city, country, timezone := parseLocation(user.Location, dicts)
	facts.InferredCity = city
	facts.InferredCountry = country
	facts.InferredTimezone = timezone
	return facts
}

// parseLocation splits "City, Country" style locations. A bare value
// is tried as a country first and kept as a city otherwise.
func parseLocation(location string, dicts *Dictionaries) (city, country, timezone string) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", ""
	}

	parts := strings.Split(location, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	last := parts[len(parts)-1]
	if entry, ok := dicts.MatchCountry(last); ok {
		country = titleCase(entry.Name)
		timezone = entry.Timezone
		if len(parts) > 1 {
			city = parts[0]
		}
		return city, country, timezone
	}

	if len(parts) == 1 {
		return parts[0], "", ""
	}
	return parts[0], "", ""
}

func employerHint(company string) string {
	company = strings.TrimSpace(company)
	if company == "" {
		return ""
	}
	// Profiles often list several affiliations; the first is current.
	if idx := strings.IndexAny(company, ",;"); idx >= 0 {
		company = company[:idx]
	}
	return strings.TrimSpace(strings.TrimPrefix(company, "@"))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
