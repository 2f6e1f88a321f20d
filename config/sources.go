package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/aluiziolira/openbox-deals/models"
)

const productShape = "Return ONLY a JSON array: [{name, original_price, sale_price, condition, product_url}]. Use null for missing fields."

// DefaultSources returns the built-in retailer catalog.
func DefaultSources() []models.Source {
	return []models.Source{
		{
			Key:            "amazon",
			Name:           "Amazon Warehouse",
			SearchURL:      "https://www.amazon.com/s?k={query}&i=specialty-aps&srs=12653393011",
			Goal:           "Extract the first 5 Renewed/Used/Refurbished '{query}' products only. Skip NEW items and accessories. " + productShape,
			BrowserProfile: "stealth",
			Proxy:          &models.Proxy{Enabled: true, CountryCode: "US"},
		},
		{
			Key:            "bestbuy",
			Name:           "Best Buy Outlet",
			SearchURL:      "https://www.bestbuy.com/site/searchpage.jsp?st={query}&qp=condition_facet%3DCondition~Open-Box",
			Goal:           "Extract the first 5 Open-Box '{query}' products. Only include main devices, NOT accessories like controllers, cables, cases, or chargers. " + productShape,
			BrowserProfile: "stealth",
		},
		{
			Key:       "newegg",
			Name:      "Newegg Open Box",
			SearchURL: "https://www.newegg.com/p/pl?d={query}&N=4814",
			Goal:      "Extract the first 5 Open Box products that match '{query}'. Only include products related to '{query}'. " + productShape + " Skip sponsored items.",
		},
		{
			Key:       "backmarket",
			Name:      "BackMarket",
			SearchURL: "https://www.backmarket.com/en-us/search?q={query}",
			Goal:      "Extract the first 5 refurbished products that match '{query}'. Only include products related to '{query}'. " + productShape,
		},
		{
			Key:            "swappa",
			Name:           "Swappa",
			SearchURL:      "https://swappa.com/search?q={query}",
			Goal:           "Extract the first 5 '{query}' listings with complete data. Each must have name, price. Skip any listing without a price. " + productShape,
			BrowserProfile: "stealth",
		},
		{
			Key:            "walmart",
			Name:           "Walmart Renewed",
			SearchURL:      "https://www.walmart.com/search?q={query}+renewed",
			Goal:           "Extract the first 5 Renewed/Refurbished products that match '{query}'. Only include actual devices, skip accessories. " + productShape,
			BrowserProfile: "stealth",
		},
		{
			Key:       "target",
			Name:      "Target Clearance",
			SearchURL: "https://www.target.com/s?searchTerm={query}&facetedValue=5zja2",
			Goal:      "Extract the first 5 Clearance products that match '{query}'. Only include products related to '{query}'. " + productShape,
		},
		{
			Key:       "microcenter",
			Name:      "Micro Center",
			SearchURL: "https://www.microcenter.com/search/search_results.aspx?Ntt={query}&Ntk=all&N=4294966998",
			Goal:      "Extract the first 5 Open Box products that match '{query}'. Only include products related to '{query}'. " + productShape,
		},
	}
}

type sourcesFile struct {
	Sources []models.Source `yaml:"sources"`
}

// LoadSources reads a YAML catalog of the form `sources: [...]`.
func LoadSources(path string) ([]models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources file %q: %w", path, err)
	}
	if err := ValidateSources(file.Sources); err != nil {
		return nil, fmt.Errorf("sources file %q: %w", path, err)
	}
	return file.Sources, nil
}

// ResolveSources returns the catalog named by cfg.SourcesFile, or the
// built-in one when unset.
func ResolveSources(cfg *Config) ([]models.Source, error) {
	if cfg.SourcesFile == "" {
		return DefaultSources(), nil
	}
	return LoadSources(cfg.SourcesFile)
}

// ValidateSources checks keys are unique and templates are usable.
func ValidateSources(sources []models.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if strings.TrimSpace(src.Key) == "" {
			return fmt.Errorf("source %d: key cannot be empty", i)
		}
		if _, ok := seen[src.Key]; ok {
			return fmt.Errorf("source %q: duplicate key", src.Key)
		}
		seen[src.Key] = struct{}{}

		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("source %q: name cannot be empty", src.Key)
		}
		if !strings.Contains(src.SearchURL, "{query}") {
			return fmt.Errorf("source %q: search url must contain {query}", src.Key)
		}
		parsed, err := url.Parse(src.TargetURL("sample"))
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("source %q: invalid search url", src.Key)
		}
		if strings.TrimSpace(src.Goal) == "" {
			return fmt.Errorf("source %q: goal cannot be empty", src.Key)
		}
	}
	return nil
}
