package replay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #region fixture-types

// Fixture is a self-contained scenario: the rule set, reference data, seeded
// history, the runs to perform and what they should produce. YAML or JSON.
type Fixture struct {
	Description string             `yaml:"description"`
	StageMode   string             `yaml:"stage_mode"`
	StageSpec   string             `yaml:"stage_spec"`
	Specs       []FixtureSpec      `yaml:"specs"`
	Parameters  []FixtureParameter `yaml:"parameters"`
	Attributes  []FixtureAttribute `yaml:"attributes"`
	Targets     []FixtureTarget    `yaml:"targets"`
	Scores      []FixtureScores    `yaml:"scores"`
	Runs        []FixtureRun       `yaml:"runs"`
	Expected    []FixtureExpected  `yaml:"expected"`
}

// FixtureSpec is one specification record.
type FixtureSpec struct {
	Slug       string         `yaml:"slug"`
	OutputType string         `yaml:"output_type"`
	Active     *bool          `yaml:"active"` // defaults to true
	Dirty      bool           `yaml:"dirty"`
	Version    int            `yaml:"version"`
	Config     map[string]any `yaml:"config"`
	RawSource  map[string]any `yaml:"raw_source"`
}

// FixtureParameter is one parameter definition.
type FixtureParameter struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	Adjustable bool   `yaml:"adjustable"`
	HighLabel  string `yaml:"high_label"`
	LowLabel   string `yaml:"low_label"`
}

// FixtureAttribute seeds a profile attribute.
type FixtureAttribute struct {
	Caller     string  `yaml:"caller"`
	Key        string  `yaml:"key"`
	Value      string  `yaml:"value"`
	Confidence float64 `yaml:"confidence"`
	Scope      string  `yaml:"scope"`
}

// FixtureTarget seeds a behavior target.
type FixtureTarget struct {
	Caller     string  `yaml:"caller"`
	Parameter  string  `yaml:"parameter"`
	Value      float64 `yaml:"value"`
	Confidence float64 `yaml:"confidence"`
}

// FixtureScores seeds a run of score events, oldest first, one minute apart.
type FixtureScores struct {
	Caller     string    `yaml:"caller"`
	Parameter  string    `yaml:"parameter"`
	Scores     []float64 `yaml:"scores"`
	Confidence *float64  `yaml:"confidence"` // defaults to 1
}

// FixtureRun is one orchestrated run.
type FixtureRun struct {
	Caller      string   `yaml:"caller"`
	OutputTypes []string `yaml:"output_types"`
}

// FixtureExpected describes the state after all runs for one caller. Omitted
// fields are not checked.
type FixtureExpected struct {
	Caller     string             `yaml:"caller"`
	Attributes map[string]string  `yaml:"attributes"`
	Targets    map[string]float64 `yaml:"targets"`
	Skipped    []string           `yaml:"skipped"`
	SpecsRun   *int               `yaml:"specs_run"`
	Errors     *int               `yaml:"errors"`
	ConfigErr  bool               `yaml:"config_error"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a YAML or JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return ParseFixture(data)
}

// ParseFixture parses fixture bytes.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if len(f.Runs) == 0 {
		return nil, fmt.Errorf("fixture declares no runs")
	}
	return &f, nil
}

// #endregion fixture-loader
