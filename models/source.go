package models

import (
	"net/url"
	"strings"
)

const queryPlaceholder = "{query}"

// Proxy carries the optional proxy options forwarded to the automation backend.
type Proxy struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	CountryCode string `json:"country_code,omitempty" yaml:"country_code,omitempty"`
}

// Source describes one retailer queried through the automation backend.
// Sources are built once at startup and treated as read-only afterwards.
type Source struct {
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	SearchURL      string `yaml:"search_url"`
	Goal           string `yaml:"goal"`
	BrowserProfile string `yaml:"browser_profile,omitempty"`
	Proxy          *Proxy `yaml:"proxy,omitempty"`
}

// TargetURL interpolates the URL-encoded query into the search URL template.
func (s Source) TargetURL(query string) string {
	encoded := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	return strings.ReplaceAll(s.SearchURL, queryPlaceholder, encoded)
}

// ExtractionGoal interpolates the raw query into the natural-language goal.
func (s Source) ExtractionGoal(query string) string {
	return strings.ReplaceAll(s.Goal, queryPlaceholder, query)
}

// SourceKeys returns the keys of sources in order.
func SourceKeys(sources []Source) []string {
	keys := make([]string, 0, len(sources))
	for _, src := range sources {
		keys = append(keys, src.Key)
	}
	return keys
}
