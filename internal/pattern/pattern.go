// Package pattern loads, validates and serves the declarative workflow
// documents the orchestrator executes. Patterns are versioned and immutable
// once loaded; every defect a document can carry is caught at load time so it
// blocks activation instead of surfacing per-request.
package pattern

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"porter/internal/capability"
	"porter/internal/template"
)

// InputBinding is the reserved execution-state binding that carries the
// validated caller inputs. No step may bind its output under this name.
const InputBinding = "inputs"

// InputField declares one entry of a pattern's input schema.
type InputField struct {
	Type     capability.ArgType `yaml:"type"`
	Required bool               `yaml:"required"`
}

// Step is one pattern entry: a capability reference, argument templates, and
// an output binding name.
type Step struct {
	// Capability is the registered capability name to invoke.
	Capability string

	// Args maps argument name to its compiled template.
	Args map[string]*template.Template

	// As is the execution-state binding the step's output is stored under.
	As string

	// BestEffort opts the step out of fail-fast: on failure the output is
	// bound to the unavailable sentinel and execution continues.
	BestEffort bool

	// Timeout overrides the engine's default per-step budget when positive.
	Timeout time.Duration
}

// Pattern is a declarative, versioned workflow document. Identified by
// id+version; immutable once loaded.
type Pattern struct {
	ID      string
	Version string

	// InputSchema declares the caller inputs, validated before any step runs.
	InputSchema map[string]InputField

	// Steps run strictly in declared order.
	Steps []Step

	// OutputKeys selects which step bindings form the result.
	OutputKeys []string

	// Permissions lists grants the caller must hold. Enforcement of how
	// grants are issued is external; the engine only compares names.
	Permissions []string
}

// Key returns the canonical id@version identity.
func (p *Pattern) Key() string {
	return p.ID + "@" + p.Version
}

// step lookup by binding name, for validation diagnostics.
func (p *Pattern) producing(binding string) int {
	for i, s := range p.Steps {
		if s.As == binding {
			return i
		}
	}
	return -1
}

// compareVersions orders version strings numerically where segments are
// numeric ("2" > "10" would be wrong) and lexically otherwise.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, ea := strconv.Atoi(sa)
		nb, eb := strconv.Atoi(sb)
		switch {
		case ea == nil && eb == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if sa != sb {
				return strings.Compare(sa, sb)
			}
		}
	}
	return 0
}

// ConfigError reports every defect found in one pattern document. It is a
// load-time error: a pattern carrying any problem is never activated.
type ConfigError struct {
	PatternID string
	Problems  []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pattern %s has %d problem(s): %s",
		e.PatternID, len(e.Problems), strings.Join(e.Problems, "; "))
}
