package pattern

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porter/internal/capability"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	reg.MustRegister(&capability.Capability{
		Contract: capability.Contract{
			Name:         "calc.sum",
			RequiredArgs: map[string]capability.ArgType{"a": capability.TypeFloat, "b": capability.TypeFloat},
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			return req.Float("a") + req.Float("b"), nil
		},
	})
	reg.MustRegister(&capability.Capability{
		Contract: capability.Contract{
			Name:         "report.render",
			RequiredArgs: map[string]capability.ArgType{"body": capability.TypeString},
			OptionalArgs: map[string]capability.OptionalArg{
				"title": {Type: capability.TypeString, Default: "untitled"},
			},
		},
		Run: func(ctx context.Context, req capability.Request) (any, error) {
			return req.String("title") + ": " + req.String("body"), nil
		},
	})
	return reg
}

const goodDoc = `
id: daily_report
version: "1.2.0"
input_schema:
  x: {type: float, required: true}
steps:
  - capability: calc.sum
    args:
      a: "{{inputs.x}}"
      b: 2
    as: total
  - capability: report.render
    args:
      body: "total is {{total}}"
    as: report
    best_effort: true
    timeout: 5s
output_keys: [report]
permissions: [reports:run]
`

func TestParseValidDocument(t *testing.T) {
	p, err := Parse([]byte(goodDoc))
	require.NoError(t, err)

	assert.Equal(t, "daily_report", p.ID)
	assert.Equal(t, "1.2.0", p.Version)
	assert.Equal(t, "daily_report@1.2.0", p.Key())
	require.Len(t, p.Steps, 2)

	first := p.Steps[0]
	assert.Equal(t, "calc.sum", first.Capability)
	assert.Equal(t, "total", first.As)
	assert.False(t, first.BestEffort)
	require.Contains(t, first.Args, "a")
	assert.False(t, first.Args["a"].IsLiteral())
	assert.True(t, first.Args["b"].IsLiteral())

	second := p.Steps[1]
	assert.True(t, second.BestEffort)
	assert.Equal(t, 5*time.Second, second.Timeout)

	require.Contains(t, p.InputSchema, "x")
	assert.True(t, p.InputSchema["x"].Required)
	assert.Equal(t, []string{"report"}, p.OutputKeys)
	assert.Equal(t, []string{"reports:run"}, p.Permissions)
}

func TestParseCollectsStructuralDefects(t *testing.T) {
	const badDoc = `
version: ""
input_schema:
  x: {type: whatever}
steps:
  - args:
      a: "{{bro ken}}"
    timeout: -3s
output_keys: [x]
`
	_, err := Parse([]byte(badDoc))
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "(unnamed)", ce.PatternID)

	joined := ce.Error()
	assert.Contains(t, joined, "missing id")
	assert.Contains(t, joined, "missing version")
	assert.Contains(t, joined, `unknown type "whatever"`)
	assert.Contains(t, joined, "missing capability")
	assert.Contains(t, joined, "missing output binding")
	assert.Contains(t, joined, "bad timeout")
	assert.Contains(t, joined, `arg "a"`)
}

func TestValidateAcceptsGoodPattern(t *testing.T) {
	p, err := Parse([]byte(goodDoc))
	require.NoError(t, err)
	require.NoError(t, Validate(p, testRegistry(t)))
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	const badDoc = `
id: broken
version: "1"
steps:
  - capability: nope.missing
    args: {a: 1}
    as: first
  - capability: calc.sum
    args:
      a: "{{later}}"
      b: "{{ghost}}"
      extra: 1
    as: second
  - capability: calc.sum
    args: {a: 1, b: 2}
    as: later
  - capability: report.render
    args: {body: hi}
    as: second
  - capability: report.render
    args: {body: hi}
    as: inputs
output_keys: [second, nothing]
`
	p, err := Parse([]byte(badDoc))
	require.NoError(t, err)

	err = Validate(p, testRegistry(t))
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)

	joined := ce.Error()
	// Every defect reported in one pass.
	assert.Contains(t, joined, "unknown capability")
	assert.Contains(t, joined, "{{later}} which is not produced by an earlier step")
	assert.Contains(t, joined, "unknown binding {{ghost}}")
	assert.Contains(t, joined, `arg "extra" is not declared`)
	assert.Contains(t, joined, `output binding "second" already produced`)
	assert.Contains(t, joined, `output binding "inputs" is reserved`)
	assert.Contains(t, joined, `output key "nothing" is not produced`)
}

func TestValidateMissingRequiredArg(t *testing.T) {
	const doc = `
id: p
version: "1"
steps:
  - capability: calc.sum
    args: {a: 1}
    as: total
output_keys: [total]
`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	err = Validate(p, testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `requires arg "b"`)
}

func TestValidateRequiresOutputKeys(t *testing.T) {
	const doc = `
id: p
version: "1"
steps:
  - capability: calc.sum
    args: {a: 1, b: 2}
    as: total
`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	err = Validate(p, testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output keys")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "report.yaml", goodDoc)
	writeDoc(t, dir, "v2.yaml", `
id: daily_report
version: "1.10.0"
steps:
  - capability: calc.sum
    args: {a: 1, b: 2}
    as: total
output_keys: [total]
`)
	writeDoc(t, dir, "notes.txt", "not a pattern")

	lib, err := LoadDir(dir, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, 2, lib.Len())
	assert.Equal(t, []string{"daily_report@1.10.0", "daily_report@1.2.0"}, lib.Keys())
}

func TestLoadDirAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.yaml", goodDoc)
	writeDoc(t, dir, "bad.yaml", "id: x\nversion: \"1\"\nsteps: []\n")

	_, err := LoadDir(dir, testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "absent"), testRegistry(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func writeDoc(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}
