// Package capability defines the pluggable units of domain logic the
// orchestrator routes to, and the registry that is their single lookup path.
//
// A capability is a named function with a declared contract. Components
// register capabilities once at startup; patterns reference them by flat,
// namespaced name (e.g. "metrics.compute_sharpe"). The registry is the only
// way one component's logic is reached from a pattern, which keeps every
// execution observable and testable through one chokepoint.
package capability

import (
	"context"
	"fmt"
	"time"

	"porter/internal/reqctx"
)

// ArgType is the declared type of a contract argument.
type ArgType string

const (
	TypeString ArgType = "string"
	TypeInt    ArgType = "int"
	TypeFloat  ArgType = "float"
	TypeBool   ArgType = "bool"
	TypeMap    ArgType = "map"
	TypeList   ArgType = "list"
	TypeAny    ArgType = "any"
)

// Known reports whether t is a declared arg type.
func (t ArgType) Known() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeMap, TypeList, TypeAny:
		return true
	}
	return false
}

// Accepts reports whether v satisfies the declared type. Numeric widening is
// permitted where it loses nothing: ints satisfy float, and a float with an
// integral value satisfies int (YAML and JSON decoders do not preserve the
// distinction).
func (t ArgType) Accepts(v any) bool {
	if v == nil {
		return false
	}
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeInt:
		switch n := v.(type) {
		case int, int32, int64, uint, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		case float32:
			return n == float32(int64(n))
		}
		return false
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case TypeMap:
		_, ok := v.(map[string]any)
		return ok
	case TypeList:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// OptionalArg declares an optional argument with its default.
type OptionalArg struct {
	Type    ArgType `yaml:"type"`
	Default any     `yaml:"default"`
}

// Contract is the declared interface of a capability: what it needs, what it
// returns, and how it may be treated by the engine.
type Contract struct {
	// Name is the flat namespaced identifier patterns reference.
	Name string

	// Doc is a one-line description for listings.
	Doc string

	// RequiredArgs maps argument name to its declared type.
	RequiredArgs map[string]ArgType

	// OptionalArgs maps argument name to its type and default.
	OptionalArgs map[string]OptionalArg

	// Returns describes the result shape for documentation.
	Returns string

	// RetrySafe marks the implementation as safe to re-invoke after a
	// transient failure.
	RetrySafe bool

	// TTL is the declared freshness window of produced values. Zero means
	// the engine's conservative default applies.
	TTL time.Duration

	// Confidence is attached to produced values; zero means exact (1.0).
	// Approximate computations declare a lower score.
	Confidence float64
}

// ValidateArgs checks resolved arguments against the contract: every required
// argument present and type-correct, every optional argument type-correct,
// no undeclared arguments.
func (c Contract) ValidateArgs(args map[string]any) error {
	for name, typ := range c.RequiredArgs {
		v, ok := args[name]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingRequiredArg, c.Name, name)
		}
		if !typ.Accepts(v) {
			return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrInvalidArgType, c.Name, name, typ, v)
		}
	}
	for name, v := range args {
		if _, ok := c.RequiredArgs[name]; ok {
			continue
		}
		opt, ok := c.OptionalArgs[name]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUndeclaredArg, c.Name, name)
		}
		if !opt.Type.Accepts(v) {
			return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrInvalidArgType, c.Name, name, opt.Type, v)
		}
	}
	return nil
}

// ApplyDefaults fills absent optional arguments with their declared defaults,
// returning the same map for chaining. Defaults are only copied in, never
// overwrite caller-resolved values.
func (c Contract) ApplyDefaults(args map[string]any) map[string]any {
	for name, opt := range c.OptionalArgs {
		if _, ok := args[name]; !ok && opt.Default != nil {
			args[name] = opt.Default
		}
	}
	return args
}

// DeclaresArg reports whether name is a required or optional argument.
func (c Contract) DeclaresArg(name string) bool {
	if _, ok := c.RequiredArgs[name]; ok {
		return true
	}
	_, ok := c.OptionalArgs[name]
	return ok
}

// Request carries one invocation's resolved arguments plus the immutable
// request context.
type Request struct {
	Args map[string]any
	Ctx  *reqctx.Ctx
}

// String returns a string argument, or "" when absent or mistyped.
func (r Request) String(name string) string {
	s, _ := r.Args[name].(string)
	return s
}

// Float returns a numeric argument widened to float64.
func (r Request) Float(name string) float64 {
	switch n := r.Args[name].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

// Int returns a numeric argument narrowed to int64.
func (r Request) Int(name string) int64 {
	switch n := r.Args[name].(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}

// Map returns a map argument, or nil.
func (r Request) Map(name string) map[string]any {
	m, _ := r.Args[name].(map[string]any)
	return m
}

// Func is the signature every capability implements. The context carries the
// per-step timeout; req.Ctx carries the reproducibility identifiers and must
// never be mutated.
type Func func(ctx context.Context, req Request) (any, error)

// Capability pairs a contract with its single implementation.
type Capability struct {
	Contract Contract
	Run      Func
}

// Validate checks the capability definition at registration time.
func (c *Capability) Validate() error {
	if c.Contract.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidContract)
	}
	if c.Run == nil {
		return fmt.Errorf("%w: %s has no implementation", ErrInvalidContract, c.Contract.Name)
	}
	for name, typ := range c.Contract.RequiredArgs {
		if name == "" {
			return fmt.Errorf("%w: %s declares an unnamed required argument", ErrInvalidContract, c.Contract.Name)
		}
		if !typ.Known() {
			return fmt.Errorf("%w: %s.%s has unknown type %q", ErrInvalidContract, c.Contract.Name, name, typ)
		}
	}
	for name, opt := range c.Contract.OptionalArgs {
		if name == "" {
			return fmt.Errorf("%w: %s declares an unnamed optional argument", ErrInvalidContract, c.Contract.Name)
		}
		if !opt.Type.Known() {
			return fmt.Errorf("%w: %s.%s has unknown type %q", ErrInvalidContract, c.Contract.Name, name, opt.Type)
		}
		if _, dup := c.Contract.RequiredArgs[name]; dup {
			return fmt.Errorf("%w: %s.%s declared both required and optional", ErrInvalidContract, c.Contract.Name, name)
		}
		if opt.Default != nil && !opt.Type.Accepts(opt.Default) {
			return fmt.Errorf("%w: %s.%s default %v does not satisfy %s", ErrInvalidContract, c.Contract.Name, name, opt.Default, opt.Type)
		}
	}
	return nil
}
