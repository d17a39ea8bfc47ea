// Package template implements the argument template mini-language used by
// pattern steps. A template is either a literal or a string containing one or
// more {{binding.path}} tokens. Templates are parsed into a typed AST once at
// pattern load time so the hot execution path only walks the AST and never
// re-parses strings.
package template

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Lookup is the read view of execution state a template resolves against.
type Lookup interface {
	// Binding returns the value bound under name, if any.
	Binding(name string) (any, bool)
}

// Seg is one path segment: either a field/key access or a list index.
type Seg struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Seg) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// Ref is a single {{binding.path}} reference.
type Ref struct {
	// Binding is the execution-state binding name ("inputs" or a step's
	// output name).
	Binding string

	// Path is the dotted/indexed walk applied to the bound value.
	Path []Seg

	// Token is the original token text, used verbatim in errors.
	Token string
}

// node is one AST element of an interpolated template.
type node struct {
	text string // literal run when ref is nil
	ref  *Ref
}

// Template is a compiled argument template.
type Template struct {
	raw    any
	ref    *Ref   // set when the whole template is exactly one token
	nodes  []node // set for mixed text/token interpolation
	simple bool   // literal with no tokens
}

// ParseError reports a malformed template at load time.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed template %q: %s", e.Raw, e.Reason)
}

// ResolutionError reports a reference that does not resolve against the
// current execution state. It names the exact token so the failing path is
// actionable without reading the pattern source.
type ResolutionError struct {
	Token  string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve {{%s}}: %s", e.Token, e.Reason)
}

// Parse compiles a raw argument value into a Template. Non-string values and
// strings without tokens are literals. A string consisting of exactly one
// token resolves to the referenced value with its original type; mixed text
// and tokens render to a string.
func Parse(raw any) (*Template, error) {
	s, ok := raw.(string)
	if !ok || !strings.Contains(s, "{{") {
		if ok && strings.Contains(s, "}}") {
			return nil, &ParseError{Raw: s, Reason: "unmatched closing braces"}
		}
		return &Template{raw: raw, simple: true}, nil
	}

	nodes, err := scan(s)
	if err != nil {
		return nil, err
	}

	// Single-token passthrough keeps the referenced value's type.
	if len(nodes) == 1 && nodes[0].ref != nil {
		return &Template{raw: raw, ref: nodes[0].ref}, nil
	}
	return &Template{raw: raw, nodes: nodes}, nil
}

// MustParse is Parse for statically known templates; it panics on error.
func MustParse(raw any) *Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// Raw returns the original uncompiled value.
func (t *Template) Raw() any { return t.raw }

// IsLiteral reports whether the template carries no references.
func (t *Template) IsLiteral() bool { return t.simple }

// Refs returns every reference in the template, for load-time static
// analysis of binding order.
func (t *Template) Refs() []Ref {
	if t.simple {
		return nil
	}
	if t.ref != nil {
		return []Ref{*t.ref}
	}
	refs := make([]Ref, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.ref != nil {
			refs = append(refs, *n.ref)
		}
	}
	return refs
}

// Resolve evaluates the template against state. It is a pure function of its
// inputs: identical state yields identical values.
func (t *Template) Resolve(state Lookup) (any, error) {
	if t.simple {
		return t.raw, nil
	}
	if t.ref != nil {
		return resolveRef(t.ref, state)
	}

	var sb strings.Builder
	for _, n := range t.nodes {
		if n.ref == nil {
			sb.WriteString(n.text)
			continue
		}
		v, err := resolveRef(n.ref, state)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "%v", unwrap(v))
	}
	return sb.String(), nil
}

// scan splits a template string into literal runs and references.
func scan(s string) ([]node, error) {
	var nodes []node
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if strings.Contains(rest, "}}") {
				return nil, &ParseError{Raw: s, Reason: "unmatched closing braces"}
			}
			if rest != "" {
				nodes = append(nodes, node{text: rest})
			}
			return nodes, nil
		}
		if open > 0 {
			nodes = append(nodes, node{text: rest[:open]})
		}
		rest = rest[open+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, &ParseError{Raw: s, Reason: "unterminated token"}
		}
		token := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]

		ref, err := parseToken(token)
		if err != nil {
			return nil, &ParseError{Raw: s, Reason: err.Error()}
		}
		nodes = append(nodes, node{ref: ref})
	}
}

// parseToken parses "binding.field[2].sub" into a Ref.
func parseToken(token string) (*Ref, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	ref := &Ref{Token: token}

	i := 0
	ident := func() (string, error) {
		start := i
		for i < len(token) && isIdentChar(token[i]) {
			i++
		}
		if i == start {
			return "", fmt.Errorf("expected identifier at offset %d of %q", start, token)
		}
		return token[start:i], nil
	}

	name, err := ident()
	if err != nil {
		return nil, err
	}
	ref.Binding = name

	for i < len(token) {
		switch token[i] {
		case '.':
			i++
			key, err := ident()
			if err != nil {
				return nil, err
			}
			ref.Path = append(ref.Path, Seg{Key: key})
		case '[':
			end := strings.IndexByte(token[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in %q", token)
			}
			idx, err := strconv.Atoi(token[i+1 : i+end])
			if err != nil {
				return nil, fmt.Errorf("non-numeric index in %q", token)
			}
			ref.Path = append(ref.Path, Seg{Index: idx, IsIndex: true})
			i += end + 1
		default:
			return nil, fmt.Errorf("unexpected character %q in %q", token[i], token)
		}
	}
	return ref, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// unwrapper lets envelope types (provenance values) expose their raw payload
// to path resolution without this package importing them.
type unwrapper interface {
	Unwrap() any
}

func unwrap(v any) any {
	for {
		u, ok := v.(unwrapper)
		if !ok {
			return v
		}
		v = u.Unwrap()
	}
}

func resolveRef(ref *Ref, state Lookup) (any, error) {
	v, ok := state.Binding(ref.Binding)
	if !ok {
		return nil, &ResolutionError{Token: ref.Token, Reason: fmt.Sprintf("unknown binding %q", ref.Binding)}
	}
	for n, seg := range ref.Path {
		v = unwrap(v)
		next, err := step(v, seg)
		if err != nil {
			at := ref.Binding + pathString(ref.Path[:n+1])
			return nil, &ResolutionError{Token: ref.Token, Reason: fmt.Sprintf("%s at %q", err, at)}
		}
		v = next
	}
	return v, nil
}

func pathString(path []Seg) string {
	var sb strings.Builder
	for _, s := range path {
		if s.IsIndex {
			fmt.Fprintf(&sb, "[%d]", s.Index)
		} else {
			sb.WriteByte('.')
			sb.WriteString(s.Key)
		}
	}
	return sb.String()
}

// step applies one path segment to a value.
func step(v any, seg Seg) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}

	if seg.IsIndex {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if seg.Index < 0 || seg.Index >= rv.Len() {
				return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, rv.Len())
			}
			return rv.Index(seg.Index).Interface(), nil
		default:
			return nil, fmt.Errorf("cannot index %T", v)
		}
	}

	// Fast path for the dominant shape.
	if m, ok := v.(map[string]any); ok {
		val, ok := m[seg.Key]
		if !ok {
			return nil, fmt.Errorf("missing field %q", seg.Key)
		}
		return val, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot access field %q of %T", seg.Key, v)
		}
		val := rv.MapIndex(reflect.ValueOf(seg.Key))
		if !val.IsValid() {
			return nil, fmt.Errorf("missing field %q", seg.Key)
		}
		return val.Interface(), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, fmt.Errorf("nil value")
		}
		return step(rv.Elem().Interface(), seg)
	case reflect.Struct:
		f := rv.FieldByName(seg.Key)
		if !f.IsValid() || !f.CanInterface() {
			return nil, fmt.Errorf("missing field %q", seg.Key)
		}
		return f.Interface(), nil
	default:
		return nil, fmt.Errorf("cannot access field %q of %T", seg.Key, v)
	}
}
