package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sigil/internal/entity"
)

// Scenario is one declarative test case: a scene to apply, steps to
// drive and properties to check afterwards. Scene is a path to a scene
// document; LoadScenario resolves it relative to the scenario file.
type Scenario struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Scene       string   `yaml:"scene" json:"scene"`
	Steps       []Step   `yaml:"steps" json:"steps"`
	Properties  []string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Step holds exactly one action. Which field is set decides what the
// runner does; setting none or more than one is a load error.
type Step struct {
	Parse  string      `yaml:"parse,omitempty" json:"parse,omitempty"`
	Recalc *RecalcStep `yaml:"recalc,omitempty" json:"recalc,omitempty"`
	Expect *ExpectStep `yaml:"expect,omitempty" json:"expect,omitempty"`
	Mutate *MutateStep `yaml:"mutate,omitempty" json:"mutate,omitempty"`
	Reset  *ResetStep  `yaml:"reset,omitempty" json:"reset,omitempty"`
}

// RecalcStep runs one recalculation pass. It carries no options yet;
// scenario files write it as "recalc: {}".
type RecalcStep struct{}

// ResetStep drops every interned selector, written as "reset: {}".
// World state survives; selectors parsed before the reset are gone.
type ResetStep struct{}

// ExpectStep is an assertion in one of three forms: a selector match
// set, a parse outcome, or an error event count.
type ExpectStep struct {
	// Selector and Matches assert the current match set of a selector
	// by entity label. An absent or empty Matches list asserts the
	// selector matches nothing.
	Selector string   `yaml:"selector,omitempty" json:"selector,omitempty"`
	Matches  []string `yaml:"matches,omitempty" json:"matches,omitempty"`

	// Parse asserts the most recent parse of the given input. An empty
	// Code expects success; otherwise the parse must have failed with
	// that code.
	Parse string `yaml:"parse,omitempty" json:"parse,omitempty"`
	Code  string `yaml:"code,omitempty" json:"code,omitempty"`

	// Events asserts how many error events with a code were published
	// since the run began.
	Events *EventCount `yaml:"events,omitempty" json:"events,omitempty"`
}

// EventCount names an error code and how often it should have fired.
type EventCount struct {
	Code  string `yaml:"code" json:"code"`
	Count int    `yaml:"count" json:"count"`
}

// MutateStep applies one world mutation. Entity handles refer to scene
// labels, falling back to declared ids.
type MutateStep struct {
	AttachID  *IDBinding  `yaml:"attach_id,omitempty" json:"attach_id,omitempty"`
	DetachID  string      `yaml:"detach_id,omitempty" json:"detach_id,omitempty"`
	AddTag    *TagBinding `yaml:"add_tag,omitempty" json:"add_tag,omitempty"`
	RemoveTag *TagBinding `yaml:"remove_tag,omitempty" json:"remove_tag,omitempty"`
	ClearPool string      `yaml:"clear_pool,omitempty" json:"clear_pool,omitempty"`
}

// IDBinding attaches an id to an entity handle.
type IDBinding struct {
	Entity string `yaml:"entity" json:"entity"`
	ID     string `yaml:"id" json:"id"`
}

// TagBinding names an entity handle and a tag.
type TagBinding struct {
	Entity string `yaml:"entity" json:"entity"`
	Tag    string `yaml:"tag" json:"tag"`
}

// Scenario names double as golden file names, so they stay on the
// filesystem-safe side of identifiers.
var scenarioNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// LoadScenario reads and validates a scenario file. Unknown YAML keys
// are errors, which catches typos like "recalk" before a run silently
// skips the step. The scene path is resolved relative to the scenario
// file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithScene(path, "")
}

// LoadScenarioWithScene is LoadScenario with the scenario's scene path
// replaced by scene, taken as given. Lets a caller pair one script with
// different scene documents; the scenario file may then omit its own
// scene field entirely.
func LoadScenarioWithScene(path, scene string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scenario: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding scenario %s: %w", path, err)
	}

	if scene != "" {
		s.Scene = scene
	} else if s.Scene != "" && !filepath.IsAbs(s.Scene) {
		s.Scene = filepath.Join(filepath.Dir(path), s.Scene)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if !scenarioNameRe.MatchString(s.Name) {
		return fmt.Errorf("name %q: must match %s", s.Name, scenarioNameRe)
	}
	if s.Scene == "" {
		return fmt.Errorf("missing scene")
	}
	if _, err := os.Stat(s.Scene); err != nil {
		return fmt.Errorf("scene %s: %w", s.Scene, err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	for _, prop := range s.Properties {
		if _, ok := properties[prop]; !ok {
			return fmt.Errorf("unknown property %q", prop)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Parse != "" {
		set++
	}
	if step.Recalc != nil {
		set++
	}
	if step.Expect != nil {
		set++
	}
	if step.Mutate != nil {
		set++
	}
	if step.Reset != nil {
		set++
	}
	if set == 0 {
		return fmt.Errorf("empty step")
	}
	if set > 1 {
		return fmt.Errorf("more than one action")
	}
	if step.Expect != nil {
		return validateExpect(step.Expect)
	}
	if step.Mutate != nil {
		return validateMutate(step.Mutate)
	}
	return nil
}

func validateExpect(exp *ExpectStep) error {
	forms := 0
	if exp.Selector != "" {
		forms++
	}
	if exp.Parse != "" {
		forms++
	}
	if exp.Events != nil {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("expect needs exactly one of selector, parse, events")
	}
	if exp.Selector == "" && len(exp.Matches) > 0 {
		return fmt.Errorf("matches requires selector")
	}
	if exp.Parse == "" && exp.Code != "" {
		return fmt.Errorf("code requires parse")
	}
	if exp.Events != nil && exp.Events.Code == "" {
		return fmt.Errorf("events needs a code")
	}
	return nil
}

func validateMutate(m *MutateStep) error {
	set := 0
	if m.AttachID != nil {
		set++
	}
	if m.DetachID != "" {
		set++
	}
	if m.AddTag != nil {
		set++
	}
	if m.RemoveTag != nil {
		set++
	}
	if m.ClearPool != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("mutate needs exactly one operation")
	}
	if m.AttachID != nil && (m.AttachID.Entity == "" || m.AttachID.ID == "") {
		return fmt.Errorf("attach_id needs entity and id")
	}
	if m.AddTag != nil && (m.AddTag.Entity == "" || m.AddTag.Tag == "") {
		return fmt.Errorf("add_tag needs entity and tag")
	}
	if m.RemoveTag != nil && (m.RemoveTag.Entity == "" || m.RemoveTag.Tag == "") {
		return fmt.Errorf("remove_tag needs entity and tag")
	}
	if m.ClearPool != "" {
		if _, err := entity.ParsePool(m.ClearPool); err != nil {
			return fmt.Errorf("clear_pool: %w", err)
		}
	}
	return nil
}

// FindScenarios returns the scenario files under path. A file path is
// returned as-is; a directory is walked for .yaml and .yml files in
// lexical order.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
