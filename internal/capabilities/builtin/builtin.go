// Package builtin registers a small set of generic, domain-free capabilities.
// Real deployments register their own domain components; these give the CLI
// something to route to and serve as the reference for writing contracts.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"porter/internal/capability"
)

// ErrDivisionByZero is returned by math.ratio for a zero denominator.
var ErrDivisionByZero = errors.New("division by zero")

// Register adds every builtin capability to reg.
func Register(reg *capability.Registry) error {
	for _, c := range All() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// All returns the builtin capability definitions.
func All() []*capability.Capability {
	return []*capability.Capability{
		mathAdd(),
		mathScale(),
		mathRatio(),
		stringConcat(),
		stringFormat(),
		collectPick(),
		timeAsOf(),
	}
}

func mathAdd() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "math.add",
			Doc:  "Sum of two numbers.",
			RequiredArgs: map[string]capability.ArgType{
				"a": capability.TypeFloat,
				"b": capability.TypeFloat,
			},
			Returns:   "float sum",
			RetrySafe: true,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			return req.Float("a") + req.Float("b"), nil
		},
	}
}

func mathScale() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "math.scale",
			Doc:  "Multiply a value by a factor.",
			RequiredArgs: map[string]capability.ArgType{
				"value": capability.TypeFloat,
			},
			OptionalArgs: map[string]capability.OptionalArg{
				"factor": {Type: capability.TypeFloat, Default: 1.0},
			},
			Returns:   "float product",
			RetrySafe: true,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			return req.Float("value") * req.Float("factor"), nil
		},
	}
}

func mathRatio() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "math.ratio",
			Doc:  "Ratio of numerator to denominator.",
			RequiredArgs: map[string]capability.ArgType{
				"numerator":   capability.TypeFloat,
				"denominator": capability.TypeFloat,
			},
			Returns:   "float ratio",
			RetrySafe: true,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			d := req.Float("denominator")
			if d == 0 {
				return nil, ErrDivisionByZero
			}
			return req.Float("numerator") / d, nil
		},
	}
}

func stringConcat() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "string.concat",
			Doc:  "Join list elements with a separator.",
			RequiredArgs: map[string]capability.ArgType{
				"parts": capability.TypeList,
			},
			OptionalArgs: map[string]capability.OptionalArg{
				"sep": {Type: capability.TypeString, Default: ""},
			},
			Returns:   "string",
			RetrySafe: true,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			parts, _ := req.Args["parts"].([]any)
			out := make([]string, len(parts))
			for i, p := range parts {
				out[i] = fmt.Sprintf("%v", p)
			}
			return strings.Join(out, req.String("sep")), nil
		},
	}
}

func stringFormat() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "string.format",
			Doc:  "Render a value with a printf verb.",
			RequiredArgs: map[string]capability.ArgType{
				"value": capability.TypeAny,
			},
			OptionalArgs: map[string]capability.OptionalArg{
				"verb": {Type: capability.TypeString, Default: "%v"},
			},
			Returns:   "string",
			RetrySafe: true,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			return fmt.Sprintf(req.String("verb"), req.Args["value"]), nil
		},
	}
}

func collectPick() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "collect.pick",
			Doc:  "Select a key from a map.",
			RequiredArgs: map[string]capability.ArgType{
				"from": capability.TypeMap,
				"key":  capability.TypeString,
			},
			Returns:   "the value under key",
			RetrySafe: true,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			from := req.Map("from")
			key := req.String("key")
			v, ok := from[key]
			if !ok {
				return nil, fmt.Errorf("key %q not present", key)
			}
			return v, nil
		},
	}
}

// timeAsOf exposes the execution's pinned as-of date. It demonstrates
// snapshot pinning: every step of an execution sees the same value, and the
// declared TTL is short because the answer is time-sensitive.
func timeAsOf() *capability.Capability {
	return &capability.Capability{
		Contract: capability.Contract{
			Name: "time.asof",
			Doc:  "The execution's as-of date, formatted.",
			OptionalArgs: map[string]capability.OptionalArg{
				"layout": {Type: capability.TypeString, Default: time.RFC3339},
			},
			Returns:   "string timestamp",
			RetrySafe: true,
			TTL:       time.Minute,
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			if req.Ctx == nil || req.Ctx.AsOf.IsZero() {
				return nil, errors.New("request context carries no as-of date")
			}
			return req.Ctx.AsOf.Format(req.String("layout")), nil
		},
	}
}
