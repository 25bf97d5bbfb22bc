package filter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds property filter rules
type Config struct {
	// Include maps a field to its accepted values. A record passes when at least one
	// listed field matches. An empty list or "*" accepts any non-empty value.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude drops records whose field matches, using the same value rules as Include.
	// Applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny requires at least one of these fields to be non-empty
	RequireAny []string `yaml:"require_any,omitempty"`
}

// IsZero reports whether the config has no rules
func (c Config) IsZero() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.RequireAny) == 0
}

// LoadConfig loads filter rules from a standalone YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse filter YAML: %w", err)
	}
	return &cfg, nil
}

// Fields gives read access to a record's named fields
type Fields interface {
	Get(name string) (string, bool)
}

// Filter evaluates rules against rows
type Filter struct {
	cfg Config
}

// New creates a filter from configuration
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg}
}

// Match reports whether the row should be kept
func (f *Filter) Match(row Fields) bool {
	if f == nil {
		return true
	}

	if len(f.cfg.RequireAny) > 0 && !anyPresent(row, f.cfg.RequireAny) {
		return false
	}
	if len(f.cfg.Include) > 0 && !matchesAny(row, f.cfg.Include) {
		return false
	}
	if len(f.cfg.Exclude) > 0 && matchesAny(row, f.cfg.Exclude) {
		return false
	}
	return true
}

func anyPresent(row Fields, names []string) bool {
	for _, name := range names {
		if v, ok := row.Get(name); ok && v != "" {
			return true
		}
	}
	return false
}

func matchesAny(row Fields, rules map[string][]string) bool {
	for name, accepted := range rules {
		v, ok := row.Get(name)
		if !ok || v == "" {
			continue
		}
		if len(accepted) == 0 {
			return true
		}
		for _, a := range accepted {
			if a == "*" || a == v {
				return true
			}
		}
	}
	return false
}
