package metadata

import (
	"bytes"
	_ "embed"
	"os"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const (
	ChildNutrition = "child_nutrition"
	Prenatal       = "prenatal"
)

var ErrInvalidCatalog = errors.New("invalid program catalog", j.C("ERR_8b41d6f0c25e7a93"))

// Catalog is the static table of stable identifiers for every managed
// program. It is read once at startup and never changes afterwards.
type Catalog struct {
	Programs []ProgramDef `yaml:"programs"`
}

// ProgramDef describes one program, its single workflow and the states the
// installer keeps in place.
type ProgramDef struct {
	Key             string     `yaml:"key"`
	ProgramUUID     string     `yaml:"program_uuid"`
	ProgramConcept  string     `yaml:"program_concept"`
	WorkflowUUID    string     `yaml:"workflow_uuid"`
	WorkflowConcept string     `yaml:"workflow_concept"`
	EncounterType   string     `yaml:"encounter_type"`
	Questions       Questions  `yaml:"questions"`
	TargetWeight    string     `yaml:"target_weight_state,omitempty"`
	TimedOutState   string     `yaml:"timed_out_state"`
	CompleteAfter   int        `yaml:"complete_after_weeks"`
	States          []StateDef `yaml:"states"`
}

// Questions holds the concepts whose coded answers drive transitions.
type Questions struct {
	Status          string `yaml:"status"`
	DischargeReason string `yaml:"discharge_reason,omitempty"`
}

type StateDef struct {
	Concept  string `yaml:"concept"`
	Initial  bool   `yaml:"initial,omitempty"`
	Terminal bool   `yaml:"terminal,omitempty"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load returns the catalog at path, or the compiled-in one when path is
// empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog", j.KV("path", path))
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "", j.KV("path", path))
	}
	return c, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrap(ErrInvalidCatalog, "empty document")
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(ErrInvalidCatalog, err.Error())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	if len(c.Programs) == 0 {
		return errors.Wrap(ErrInvalidCatalog, "no programs")
	}
	seen := make(map[string]bool)
	for i, p := range c.Programs {
		if p.Key == "" {
			return errors.Wrap(ErrInvalidCatalog, "program without key", j.KV("index", i))
		}
		if seen[p.Key] {
			return errors.Wrap(ErrInvalidCatalog, "duplicate program key", j.KV("key", p.Key))
		}
		seen[p.Key] = true

		required := map[string]string{
			"program_uuid":     p.ProgramUUID,
			"program_concept":  p.ProgramConcept,
			"workflow_uuid":    p.WorkflowUUID,
			"workflow_concept": p.WorkflowConcept,
			"encounter_type":   p.EncounterType,
			"questions.status": p.Questions.Status,
			"timed_out_state":  p.TimedOutState,
		}
		for field, v := range required {
			if strings.TrimSpace(v) == "" {
				return errors.Wrap(ErrInvalidCatalog, "missing field",
					j.MKV{"key": p.Key, "field": field})
			}
		}
		if p.CompleteAfter <= 0 {
			return errors.Wrap(ErrInvalidCatalog, "complete_after_weeks must be positive", j.KV("key", p.Key))
		}
		if !p.hasTerminalState(p.TimedOutState) {
			return errors.Wrap(ErrInvalidCatalog, "timed_out_state must be a terminal state", j.KV("key", p.Key))
		}
		if p.TargetWeight != "" && !p.hasState(p.TargetWeight) {
			return errors.Wrap(ErrInvalidCatalog, "target_weight_state must be a listed state", j.KV("key", p.Key))
		}
	}
	return nil
}

// Program returns the definition with the given key.
func (c *Catalog) Program(key string) (ProgramDef, bool) {
	for _, p := range c.Programs {
		if p.Key == key {
			return p, true
		}
	}
	return ProgramDef{}, false
}

func (p ProgramDef) hasState(conceptUUID string) bool {
	for _, s := range p.States {
		if strings.EqualFold(s.Concept, conceptUUID) {
			return true
		}
	}
	return false
}

func (p ProgramDef) hasTerminalState(conceptUUID string) bool {
	for _, s := range p.States {
		if strings.EqualFold(s.Concept, conceptUUID) {
			return s.Terminal
		}
	}
	return false
}
