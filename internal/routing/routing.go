// Package routing holds the configuration tables that route a new deal to a
// pipeline, estimate its value, and map CRM stage ids to pipeline stages.
package routing

import (
	_ "embed"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadsync/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// Tables is the parsed routing document.
type Tables struct {
	DefaultPipeline    string             `yaml:"default_pipeline"`
	Pipelines          map[string]string  `yaml:"pipelines"`
	DefaultBudget      float64            `yaml:"default_budget"`
	BudgetBaselines    map[string]float64 `yaml:"budget_baselines"`
	ProgramMultipliers map[string]float64 `yaml:"program_multipliers"`
	Stages             map[string]string  `yaml:"stages"`

	stages map[string]model.Stage
}

// Default returns the embedded tables.
func Default() *Tables {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(eris.Wrap(err, "routing: embedded tables"))
	}
	return t
}

// Load reads tables from path. An empty path yields the embedded defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "routing: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a routing document.
func Parse(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "routing: parse")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tables) validate() error {
	if t.DefaultPipeline == "" {
		return eris.New("routing: default_pipeline is required")
	}
	if t.DefaultBudget <= 0 {
		return eris.New("routing: default_budget must be > 0")
	}
	for k, v := range t.BudgetBaselines {
		if v <= 0 {
			return eris.Errorf("routing: budget baseline %q must be > 0", k)
		}
	}
	for k, v := range t.ProgramMultipliers {
		if v <= 0 {
			return eris.Errorf("routing: program multiplier %q must be > 0", k)
		}
	}

	t.stages = make(map[string]model.Stage, len(t.Stages))
	for id, name := range t.Stages {
		st, err := model.ParseStage(name)
		if err != nil {
			return eris.Wrapf(err, "routing: stage id %s", id)
		}
		t.stages[id] = st
	}
	return nil
}

// Pipeline returns the pipeline id for a declared study timeline.
func (t *Tables) Pipeline(timeline string) string {
	if id, ok := t.Pipelines[timeline]; ok && id != "" {
		return id
	}
	return t.DefaultPipeline
}

// DealValue estimates a deal's value in KES from the declared budget range and
// program type.
func (t *Tables) DealValue(investmentRange, programType string) float64 {
	base, ok := t.BudgetBaselines[investmentRange]
	if !ok {
		base = t.DefaultBudget
	}
	mult, ok := t.ProgramMultipliers[programType]
	if !ok {
		mult = 1.0
	}
	return math.Round(base * mult)
}

// Stage maps a CRM stage id to a pipeline stage. Unmapped ids yield
// model.StageUnknown.
func (t *Tables) Stage(stageID string) model.Stage {
	return t.stages[stageID]
}

// StageID returns the CRM stage id for a stage, or "" when none is mapped.
func (t *Tables) StageID(s model.Stage) string {
	for id, st := range t.stages {
		if st == s {
			return id
		}
	}
	return ""
}
