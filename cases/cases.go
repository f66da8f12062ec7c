// Package cases loads run configuration and the case table from a YAML
// file. The loaded Config is an immutable value: callers pass it into
// runs and never mutate it afterwards.
package cases

import (
	"fmt"
	"os"

	goyaml "github.com/goccy/go-yaml"
)

// DefaultTopK is the hypothesis cap used when the case file does not set
// one.
const DefaultTopK = 10

// Case is one clinical case to run.
type Case struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// Config is the parsed case file.
type Config struct {
	// Model is the backend model identifier, e.g. "gpt-oss:20b".
	Model string `yaml:"model"`

	// Host is the backend address; empty selects the backend default.
	Host string `yaml:"host"`

	// TopK caps the focused hypothesis set; defaults to DefaultTopK.
	TopK int `yaml:"top_k"`

	// StepBudget overrides the engine's default step budget when > 0.
	StepBudget int `yaml:"step_budget"`

	// OutputDir receives per-case final states and run logs.
	OutputDir string `yaml:"output_dir"`

	Cases []Case `yaml:"cases"`
}

// Load reads and validates a case file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user-provided case file
	if err != nil {
		return nil, fmt.Errorf("read case file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates case file contents.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := goyaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse case file: %w", err)
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "results"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config for the mistakes a hand-edited case file
// tends to contain.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("case file: model is required")
	}
	if c.TopK < 1 {
		return fmt.Errorf("case file: top_k must be >= 1, got %d", c.TopK)
	}
	if c.StepBudget < 0 {
		return fmt.Errorf("case file: step_budget cannot be negative")
	}
	if len(c.Cases) == 0 {
		return fmt.Errorf("case file: at least one case is required")
	}
	seen := make(map[string]bool, len(c.Cases))
	for i, cs := range c.Cases {
		if cs.ID == "" {
			return fmt.Errorf("case file: case %d has no id", i)
		}
		if cs.Text == "" {
			return fmt.Errorf("case file: case %q has no text", cs.ID)
		}
		if seen[cs.ID] {
			return fmt.Errorf("case file: duplicate case id %q", cs.ID)
		}
		seen[cs.ID] = true
	}
	return nil
}

// Lookup returns the case with the given id.
func (c *Config) Lookup(id string) (Case, bool) {
	for _, cs := range c.Cases {
		if cs.ID == id {
			return cs, true
		}
	}
	return Case{}, false
}
