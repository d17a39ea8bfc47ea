package pattern

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"porter/internal/capability"
	"porter/internal/template"
)

// doc is the on-disk YAML shape of a pattern. JSON documents parse too since
// YAML is a superset.
type doc struct {
	ID          string                `yaml:"id"`
	Version     string                `yaml:"version"`
	InputSchema map[string]InputField `yaml:"input_schema"`
	Steps       []stepDoc             `yaml:"steps"`
	OutputKeys  []string              `yaml:"output_keys"`
	Permissions []string              `yaml:"permissions"`
}

type stepDoc struct {
	Capability string         `yaml:"capability"`
	Args       map[string]any `yaml:"args"`
	As         string         `yaml:"as"`
	BestEffort bool           `yaml:"best_effort"`
	Timeout    string         `yaml:"timeout"`
}

// Parse decodes one pattern document and compiles its argument templates.
// Structural defects (bad YAML, malformed templates, bad timeouts) are
// reported here; cross-referential defects are reported by Validate.
func Parse(data []byte) (*Pattern, error) {
	var d doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode pattern: %w", err)
	}

	problems := []string{}
	if d.ID == "" {
		problems = append(problems, "missing id")
	}
	if d.Version == "" {
		problems = append(problems, "missing version")
	}

	p := &Pattern{
		ID:          d.ID,
		Version:     d.Version,
		InputSchema: d.InputSchema,
		OutputKeys:  d.OutputKeys,
		Permissions: d.Permissions,
	}

	for name, field := range d.InputSchema {
		if !field.Type.Known() {
			problems = append(problems, fmt.Sprintf("input %q has unknown type %q", name, field.Type))
		}
	}

	for i, sd := range d.Steps {
		step := Step{
			Capability: sd.Capability,
			As:         sd.As,
			BestEffort: sd.BestEffort,
			Args:       make(map[string]*template.Template, len(sd.Args)),
		}
		if sd.Capability == "" {
			problems = append(problems, fmt.Sprintf("step %d: missing capability", i))
		}
		if sd.As == "" {
			problems = append(problems, fmt.Sprintf("step %d: missing output binding (as)", i))
		}
		if sd.Timeout != "" {
			t, err := time.ParseDuration(sd.Timeout)
			if err != nil || t <= 0 {
				problems = append(problems, fmt.Sprintf("step %d (%s): bad timeout %q", i, sd.As, sd.Timeout))
			} else {
				step.Timeout = t
			}
		}
		for arg, raw := range sd.Args {
			tpl, err := template.Parse(raw)
			if err != nil {
				problems = append(problems, fmt.Sprintf("step %d (%s): arg %q: %v", i, sd.As, arg, err))
				continue
			}
			step.Args[arg] = tpl
		}
		p.Steps = append(p.Steps, step)
	}

	if len(problems) > 0 {
		id := d.ID
		if id == "" {
			id = "(unnamed)"
		}
		return nil, &ConfigError{PatternID: id, Problems: problems}
	}
	return p, nil
}

// Validate performs the cross-referential load-time checks against the
// registry: every referenced capability exists, every template binding is
// produced strictly earlier (or is the inputs binding), output bindings are
// unique, and output keys are resolvable. All problems are collected so an
// author sees the complete list at once.
func Validate(p *Pattern, reg *capability.Registry) error {
	var problems []string

	produced := map[string]int{} // binding -> producing step index
	for i, step := range p.Steps {
		// Capability must already be registered: checked at load time, never
		// at step time.
		var contract capability.Contract
		haveContract := false
		if step.Capability != "" {
			c, err := reg.Resolve(step.Capability)
			if err != nil {
				problems = append(problems, fmt.Sprintf("step %d (%s): %v", i, step.As, err))
			} else {
				contract = c.Contract
				haveContract = true
			}
		}

		// Template references may only name the inputs binding or a binding
		// produced by a strictly earlier step. A single linear scan enforces
		// no forward or cyclic references.
		for arg, tpl := range step.Args {
			for _, ref := range tpl.Refs() {
				if ref.Binding == InputBinding {
					continue
				}
				if _, ok := produced[ref.Binding]; !ok {
					if later := p.producing(ref.Binding); later >= i {
						problems = append(problems, fmt.Sprintf(
							"step %d (%s): arg %q references {{%s}} which is not produced by an earlier step",
							i, step.As, arg, ref.Token))
					} else {
						problems = append(problems, fmt.Sprintf(
							"step %d (%s): arg %q references unknown binding {{%s}}",
							i, step.As, arg, ref.Token))
					}
				}
			}
			if haveContract && !contract.DeclaresArg(arg) {
				problems = append(problems, fmt.Sprintf(
					"step %d (%s): arg %q is not declared by capability %s",
					i, step.As, arg, step.Capability))
			}
		}

		if haveContract {
			for name := range contract.RequiredArgs {
				if _, ok := step.Args[name]; !ok {
					problems = append(problems, fmt.Sprintf(
						"step %d (%s): capability %s requires arg %q",
						i, step.As, step.Capability, name))
				}
			}
		}

		if step.As == InputBinding {
			problems = append(problems, fmt.Sprintf("step %d: output binding %q is reserved", i, InputBinding))
		} else if step.As != "" {
			if prev, dup := produced[step.As]; dup {
				problems = append(problems, fmt.Sprintf(
					"step %d: output binding %q already produced by step %d", i, step.As, prev))
			} else {
				produced[step.As] = i
			}
		}
	}

	if len(p.OutputKeys) == 0 {
		problems = append(problems, "pattern declares no output keys")
	}
	for _, key := range p.OutputKeys {
		if _, ok := produced[key]; !ok {
			problems = append(problems, fmt.Sprintf("output key %q is not produced by any step", key))
		}
	}

	if len(problems) > 0 {
		return &ConfigError{PatternID: p.Key(), Problems: problems}
	}
	return nil
}

// Load parses and validates one document.
func Load(data []byte, reg *capability.Registry) (*Pattern, error) {
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(p, reg); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadDir builds a validated Library from every .yaml/.yml/.json document in
// dir. Any invalid document fails the whole build: a library is activated
// wholesale or not at all.
func LoadDir(dir string, reg *capability.Registry) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pattern dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	lib := NewLibrary()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read pattern %s: %w", name, err)
		}
		p, err := Load(data, reg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := lib.Add(p); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return lib, nil
}
