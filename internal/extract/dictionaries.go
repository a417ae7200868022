// Package extract holds the pure functions that reduce a ProfileBundle
// to the derived attribute vectors. Nothing in this package performs
// I/O; the dictionaries are parsed once at startup and shared read-only.
package extract

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed dictionaries.yaml
var dictionariesYAML []byte

// DictEntry is one detectable framework or tool
type DictEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Domain  string   `yaml:"domain"`
}

// CountryEntry maps a country spelling to a representative timezone
type CountryEntry struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Timezone string   `yaml:"timezone"`
}

type dictFile struct {
	Version    string         `yaml:"version"`
	Frameworks []DictEntry    `yaml:"frameworks"`
	Tools      []DictEntry    `yaml:"tools"`
	Countries  []CountryEntry `yaml:"countries"`
}

// Dictionaries is the immutable lookup data behind the skills and
// identity extractors. Detection output depends on the Version, so
// records carry it as provenance.
type Dictionaries struct {
	Version string

	frameworks map[string]*DictEntry
	tools      map[string]*DictEntry
	countries  map[string]*CountryEntry
}

// LoadDictionaries parses the embedded dictionary data.
func LoadDictionaries() (*Dictionaries, error) {
	var parsed dictFile
	if err := yaml.Unmarshal(dictionariesYAML, &parsed); err != nil {
		return nil, fmt.Errorf("parse dictionaries: %w", err)
	}
	if parsed.Version == "" {
		return nil, fmt.Errorf("dictionaries missing version tag")
	}

	d := &Dictionaries{
		Version:    parsed.Version,
		frameworks: make(map[string]*DictEntry),
		tools:      make(map[string]*DictEntry),
		countries:  make(map[string]*CountryEntry),
	}

	for i := range parsed.Frameworks {
		entry := &parsed.Frameworks[i]
		d.frameworks[entry.Name] = entry
		for _, alias := range entry.Aliases {
			d.frameworks[alias] = entry
		}
	}
	for i := range parsed.Tools {
		entry := &parsed.Tools[i]
		d.tools[entry.Name] = entry
		for _, alias := range entry.Aliases {
			d.tools[alias] = entry
		}
	}
	for i := range parsed.Countries {
		entry := &parsed.Countries[i]
		d.countries[entry.Name] = entry
		for _, alias := range entry.Aliases {
			d.countries[alias] = entry
		}
	}

	return d, nil
}

// MatchFramework looks up a lowercased slug or word.
func (d *Dictionaries) MatchFramework(word string) (*DictEntry, bool) {
	entry, ok := d.frameworks[word]
	return entry, ok
}

// MatchTool looks up a lowercased slug or word.
func (d *Dictionaries) MatchTool(word string) (*DictEntry, bool) {
	entry, ok := d.tools[word]
	return entry, ok
}

// MatchCountry looks up a lowercased country spelling.
func (d *Dictionaries) MatchCountry(name string) (*CountryEntry, bool) {
	entry, ok := d.countries[strings.ToLower(strings.TrimSpace(name))]
	return entry, ok
}

// tokenize splits free text into lowercase match candidates. Hyphens
// stay inside tokens so slugs like react-native survive; a second pass
// also yields the hyphen-split parts.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '-' || r == '+' || r == '#' || r == '.':
			return false
		default:
			return true
		}
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-.")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
		if strings.Contains(f, "-") {
			tokens = append(tokens, strings.Split(f, "-")...)
		}
	}
	return tokens
}
