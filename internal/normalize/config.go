package normalize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"gopkg.in/yaml.v3"
)

// FieldConfig is the key path for one canonical field.
type FieldConfig struct {
	Keys []string `yaml:"keys" json:"keys"`
}

// SiteConfig describes how to pull canonical fields out of one site's
// embedded data block.
type SiteConfig struct {
	Site string `yaml:"site" json:"site"`
	// ScriptName is the id of the page element carrying the data block.
	ScriptName string `yaml:"script_name" json:"script_name"`
	// GlobalTags narrow the tree root once before any field is resolved.
	GlobalTags []string               `yaml:"global_tags" json:"global_tags"`
	Fields     map[string]FieldConfig `yaml:"fields" json:"fields"`
}

// Validate rejects configs naming unknown fields or empty paths.
func (c SiteConfig) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("site config: site is required")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("site config %s: no fields configured", c.Site)
	}
	if _, ok := c.Fields[listing.FieldID]; !ok {
		return fmt.Errorf("site config %s: field %q is required", c.Site, listing.FieldID)
	}
	known := make(map[string]bool, len(listing.SourceFields))
	for _, f := range listing.SourceFields {
		known[f] = true
	}
	for name, fc := range c.Fields {
		if !known[name] {
			return fmt.Errorf("site config %s: unknown field %q", c.Site, name)
		}
		if len(fc.Keys) == 0 {
			return fmt.Errorf("site config %s: field %q has an empty key path", c.Site, name)
		}
	}
	return nil
}

// FieldNames returns the configured field names in a stable order.
func (c SiteConfig) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadSiteConfig reads one YAML (or JSON) site config.
func LoadSiteConfig(path string) (SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SiteConfig{}, fmt.Errorf("reading site config %s: %w", path, err)
	}
	var cfg SiteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SiteConfig{}, fmt.Errorf("parsing site config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return SiteConfig{}, err
	}
	return cfg, nil
}

// LoadSiteConfigs loads every *.yaml, *.yml and *.json file in dir, keyed by
// site name.
func LoadSiteConfigs(dir string) (map[string]SiteConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading site config dir %s: %w", dir, err)
	}
	out := make(map[string]SiteConfig)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		cfg, err := LoadSiteConfig(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := out[cfg.Site]; dup {
			return nil, fmt.Errorf("site %q configured twice in %s", cfg.Site, dir)
		}
		out[cfg.Site] = cfg
	}
	return out, nil
}
