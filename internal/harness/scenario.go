package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a replay test: a sequence of checkout requests executed
// against a fresh store with a pinned clock and a deterministic mock
// provider. The normalized response sequence is compared against a
// golden file, so any behavioral drift in the replay semantics shows up
// as a byte diff.
type Scenario struct {
	// Name uniquely identifies the scenario; it doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what replay property the scenario pins down.
	Description string `yaml:"description,omitempty"`

	// Leads to provision before the first step. Courses come from the
	// harness's fixed catalog.
	Leads []LeadSeed `yaml:"leads"`

	// Steps are executed in order against the same store.
	Steps []Step `yaml:"steps"`
}

// LeadSeed provisions one enrollment lead.
type LeadSeed struct {
	ID     string `yaml:"id"`
	Course string `yaml:"course"`
}

// Step is one checkout request plus its expected outcome.
type Step struct {
	Name string `yaml:"name"`

	Lead         string `yaml:"lead"`
	Course       string `yaml:"course"`
	Card         string `yaml:"card"`
	Installments int    `yaml:"installments,omitempty"`

	// Key is the explicit idempotency key; empty lets the service
	// derive one from the intent.
	Key string `yaml:"key,omitempty"`

	// Advance moves the pinned clock forward before this step, e.g.
	// "11m" to cross an auto-key derivation window.
	Advance string `yaml:"advance,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match over the normalized response.
type Expect struct {
	Status      string `yaml:"status,omitempty"`
	HTTP        int    `yaml:"http,omitempty"`
	Approved    *bool  `yaml:"approved,omitempty"`
	Reused      *bool  `yaml:"reused,omitempty"`
	ReuseReason string `yaml:"reuse_reason,omitempty"`
	Error       string `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so a typo in an expect clause fails loudly instead of
// silently asserting nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := scenario.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	if len(s.Leads) == 0 {
		return fmt.Errorf("at least one lead is required")
	}
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if step.Lead == "" || step.Course == "" || step.Card == "" {
			return fmt.Errorf("step %q: lead, course and card are required", step.Name)
		}
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("step %q: bad advance: %w", step.Name, err)
			}
		}
	}
	return nil
}
