package scan

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for every scanned source.
type Registry struct {
	Sources []Source `yaml:"sources"`
}

// Source is one place opportunities or award notices come from.
//
// Kind "listing" is a page of links to crawl, "page" is fetched and
// extracted directly, "awards" is parsed into award history instead of
// opportunities.
type Source struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	URL       string   `yaml:"url"`
	Kind      string   `yaml:"kind"`
	BuyerHint string   `yaml:"buyer_hint,omitempty"`
	Profiles  []string `yaml:"profiles,omitempty"` // empty = match by keywords
	MaxLinks  int      `yaml:"max_links,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml, with a filesystem fallback
// for local overrides. Environment variables in the YAML are expanded.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load source registry: %w", err)
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}
	for i := range reg.Sources {
		if reg.Sources[i].Kind == "" {
			reg.Sources[i].Kind = "listing"
		}
		if reg.Sources[i].MaxLinks == 0 {
			reg.Sources[i].MaxLinks = 5
		}
	}
	return &reg, nil
}
