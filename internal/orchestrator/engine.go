// Package orchestrator drives pattern execution: it loads a pattern,
// validates inputs, resolves each step's argument templates, routes to the
// registered capability, wraps results with provenance, and assembles the
// declared outputs plus a full execution trace.
//
// One Execute call is one logically sequential task. Many executions run
// concurrently, each owning an isolated execution state; the engine holds no
// global lock while a capability runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"porter/internal/capability"
	"porter/internal/pattern"
	"porter/internal/provenance"
	"porter/internal/reqctx"
	"porter/internal/template"
	"porter/internal/trace"
)

// DefaultStepTimeout bounds a single step when neither the step nor the
// engine configuration overrides it.
const DefaultStepTimeout = 30 * time.Second

// Status classifies the result envelope so a caller can distinguish a fully
// successful run from one with recorded best-effort gaps or an abort.
type Status string

const (
	// StatusSucceeded means every step produced a value.
	StatusSucceeded Status = "succeeded"

	// StatusDegraded means the run completed but one or more best-effort
	// steps bound the unavailable sentinel.
	StatusDegraded Status = "degraded"

	// StatusAborted means a step failure or deadline expiry stopped the run
	// before all steps executed. Outputs hold whatever completed earlier.
	StatusAborted Status = "aborted"
)

// Result is the execution envelope: declared outputs with provenance, the
// per-step trace, and the overall status. A partial result is always marked
// by StatusAborted, never returned silently.
type Result struct {
	PatternID string                      `json:"pattern_id" yaml:"pattern_id"`
	TraceID   string                      `json:"trace_id" yaml:"trace_id"`
	Status    Status                      `json:"status" yaml:"status"`
	Outputs   map[string]provenance.Value `json:"outputs" yaml:"outputs"`

	// Gaps lists the bindings holding the unavailable sentinel, so a
	// consumer can render "data unavailable" instead of an empty panel.
	Gaps []string `json:"gaps,omitempty" yaml:"gaps,omitempty"`

	Trace trace.Trace `json:"trace" yaml:"trace"`
}

// Engine executes patterns against a capability registry. Construct once and
// share across requests; it is safe for concurrent use.
type Engine struct {
	store    *pattern.Store
	registry *capability.Registry
	log      *zap.Logger

	now         func() time.Time
	stepTimeout time.Duration
	defaultTTL  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock injects a time source, used by tests for deterministic
// provenance timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaultStepTimeout overrides the per-step budget applied when a step
// declares none.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithDefaultTTL overrides the freshness window attached to values whose
// capability declares none.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTTL = d
		}
	}
}

// New builds an Engine over a pattern store and a capability registry.
func New(store *pattern.Store, registry *capability.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		registry:    registry,
		log:         zap.NewNop(),
		now:         time.Now,
		stepTimeout: DefaultStepTimeout,
		defaultTTL:  provenance.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execState is the per-execution binding map. It is owned by exactly one
// execution and discarded when the execution completes.
type execState struct {
	bindings map[string]any
}

func newExecState(inputs map[string]any) *execState {
	return &execState{bindings: map[string]any{pattern.InputBinding: inputs}}
}

// Binding implements template.Lookup.
func (s *execState) Binding(name string) (any, bool) {
	v, ok := s.bindings[name]
	return v, ok
}

func (s *execState) bind(name string, v any) {
	s.bindings[name] = v
}

// Execute runs the identified pattern with the given inputs under rc.
//
// On abort it returns both the structured error and a Result carrying the
// partial trace and StatusAborted, so the caller can inspect what ran.
// Validation and lookup failures return a nil Result: no step executed and
// the trace is empty.
func (e *Engine) Execute(ctx context.Context, patternID string, inputs map[string]any, rc *reqctx.Ctx) (*Result, error) {
	if rc == nil {
		rc = reqctx.New("", "", e.now())
	}
	log := e.log.With(zap.String("pattern", patternID), zap.String("trace_id", rc.TraceID))

	p, ok := e.store.Library().Get(patternID)
	if !ok {
		return nil, &Error{Kind: KindPatternNotFound, Pattern: patternID}
	}

	if err := checkPermissions(p, rc); err != nil {
		return nil, err
	}

	validated, err := validateInputs(p, inputs)
	if err != nil {
		return nil, err
	}

	log.Debug("execution started",
		zap.String("version", p.Version),
		zap.Int("steps", len(p.Steps)),
		zap.String("snapshot", rc.SnapshotID))

	state := newExecState(validated)
	tr := make(trace.Trace, 0, len(p.Steps))
	var gaps []string
	var abortErr *Error

	for i, st := range p.Steps {
		if ctx.Err() != nil || rc.Expired(e.now()) {
			abortErr = &Error{Kind: KindTimeout, Pattern: p.Key(), Step: st.As,
				Err: fmt.Errorf("overall deadline exceeded before step started")}
			tr = appendAborted(tr, p.Steps[i:], "deadline exceeded")
			break
		}

		rec, out, stepErr := e.runStep(ctx, p, st, state, rc, log)
		tr = append(tr, rec)

		switch {
		case stepErr == nil:
			state.bind(st.As, out)
			if provenance.IsUnavailable(out) {
				gaps = append(gaps, st.As)
			}
		case st.BestEffort && rec.Outcome != trace.OutcomeAborted:
			// Degrade gracefully: bind the explicit sentinel and continue.
			// Later steps either fail on it or propagate it; a default is
			// never silently substituted.
			state.bind(st.As, provenance.Unavailable(st.Capability, stepErr.Error(), rc, e.now()))
			gaps = append(gaps, st.As)
			log.Warn("best-effort step failed, continuing",
				zap.String("step", st.As),
				zap.String("capability", st.Capability),
				zap.Error(stepErr))
		default:
			abortErr = asError(stepErr, p, st)
			if i+1 < len(p.Steps) {
				tr = appendAborted(tr, p.Steps[i+1:], "earlier step failed")
			}
		}
		if abortErr != nil {
			break
		}
	}

	res := &Result{
		PatternID: p.Key(),
		TraceID:   rc.TraceID,
		Outputs:   make(map[string]provenance.Value, len(p.OutputKeys)),
		Gaps:      gaps,
		Trace:     tr,
	}
	for _, key := range p.OutputKeys {
		if v, ok := state.Binding(key); ok {
			if pv, ok := v.(provenance.Value); ok {
				res.Outputs[key] = pv
			}
		}
	}

	switch {
	case abortErr != nil:
		res.Status = StatusAborted
		log.Warn("execution aborted", zap.String("kind", string(abortErr.Kind)), zap.Error(abortErr))
		return res, abortErr
	case len(gaps) > 0:
		res.Status = StatusDegraded
	default:
		res.Status = StatusSucceeded
	}
	log.Debug("execution finished",
		zap.String("status", string(res.Status)),
		zap.Int("completed", tr.Completed()))
	return res, nil
}

// runStep resolves arguments, routes to the capability, and invokes it under
// the step's time budget. The returned record always describes the attempt.
func (e *Engine) runStep(ctx context.Context, p *pattern.Pattern, st pattern.Step, state *execState, rc *reqctx.Ctx, log *zap.Logger) (trace.StepRecord, provenance.Value, error) {
	start := e.now()
	rec := trace.StepRecord{Step: st.As, Capability: st.Capability, Attempts: 0}
	fail := func(outcome trace.Outcome, kind Kind, err error) (trace.StepRecord, provenance.Value, error) {
		rec.Outcome = outcome
		rec.ErrKind = string(kind)
		rec.Reason = err.Error()
		rec.Duration = e.now().Sub(start)
		return rec, provenance.Value{}, err
	}

	// Resolve templated arguments. Load-time static analysis guarantees the
	// bindings exist, so a failure here is an internal consistency bug and
	// is logged at error level for alerting.
	args := make(map[string]any, len(st.Args))
	argNames := make([]string, 0, len(st.Args))
	for name := range st.Args {
		argNames = append(argNames, name)
	}
	sort.Strings(argNames)

	for _, name := range argNames {
		tpl := st.Args[name]

		// Sentinel gate before resolution: an unavailable binding must never
		// reach a capability, not even stringified through an interpolation
		// or reached by a path walk into the gap. The consuming step fails
		// explicitly or, when best-effort, propagates the sentinel.
		for _, ref := range tpl.Refs() {
			bound, ok := state.Binding(ref.Binding)
			if !ok || !provenance.IsUnavailable(bound) {
				continue
			}
			reason := fmt.Sprintf("argument %q references the unavailable binding %q", name, ref.Binding)
			if st.BestEffort {
				rec.Outcome = trace.OutcomeSkipped
				rec.Reason = reason
				rec.Duration = e.now().Sub(start)
				return rec, provenance.Unavailable(st.Capability, reason, rc, e.now()), nil
			}
			return fail(trace.OutcomeFailed, KindStepExecution,
				&Error{Kind: KindStepExecution, Pattern: p.Key(), Step: st.As,
					Capability: st.Capability, Err: errors.New(reason)})
		}

		v, err := tpl.Resolve(state)
		if err != nil {
			var re *template.ResolutionError
			token := ""
			if errors.As(err, &re) {
				token = re.Token
			}
			log.Error("template resolution failed at runtime (internal consistency bug)",
				zap.String("step", st.As),
				zap.String("token", token),
				zap.Error(err))
			return fail(trace.OutcomeFailed, KindTemplateResolution,
				&Error{Kind: KindTemplateResolution, Pattern: p.Key(), Step: st.As,
					Capability: st.Capability, Token: token, Err: err})
		}
		if pv, ok := v.(provenance.Value); ok {
			v = pv.Raw
		}
		args[name] = v
	}

	// Load-time validation guarantees presence; a miss here means the
	// registry changed under an active pattern set.
	c, err := e.registry.Resolve(st.Capability)
	if err != nil {
		log.Error("capability vanished after pattern activation", zap.String("capability", st.Capability))
		return fail(trace.OutcomeFailed, KindConfiguration,
			&Error{Kind: KindConfiguration, Pattern: p.Key(), Step: st.As,
				Capability: st.Capability, Err: err})
	}

	c.Contract.ApplyDefaults(args)
	if err := c.Contract.ValidateArgs(args); err != nil {
		return fail(trace.OutcomeFailed, KindStepExecution,
			&Error{Kind: KindStepExecution, Pattern: p.Key(), Step: st.As,
				Capability: st.Capability, Err: err})
	}

	// Per-step budget: the step override (or engine default), clamped by the
	// overall deadline's remaining time. The clamp is recomputed per attempt
	// so a retry never spends more than the deadline has left.
	baseBudget := e.stepTimeout
	if st.Timeout > 0 {
		baseBudget = st.Timeout
	}

	var out any
	var runErr error
	var budget time.Duration
	overall := false
	for attempt := 1; ; attempt++ {
		budget = baseBudget
		overall = false
		if rem, ok := rc.Remaining(e.now()); ok && rem < budget {
			budget = rem
			overall = true
		}
		if budget <= 0 {
			return fail(trace.OutcomeAborted, KindTimeout,
				&Error{Kind: KindTimeout, Pattern: p.Key(), Step: st.As,
					Capability: st.Capability, Err: errors.New("no time budget remaining")})
		}

		rec.Attempts = attempt
		out, runErr = e.invoke(ctx, c, args, rc, budget)
		if runErr == nil {
			break
		}
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
			break
		}
		// One bounded retry for transient failures of explicitly
		// retry-safe capabilities.
		if !c.Contract.RetrySafe || st.BestEffort || attempt > 1 {
			break
		}
		if rc.Expired(e.now()) {
			break
		}
		log.Debug("retrying retry-safe capability",
			zap.String("step", st.As),
			zap.String("capability", st.Capability),
			zap.Error(runErr))
	}

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			outcome := trace.OutcomeTimeout
			kind := KindTimeout
			reason := fmt.Sprintf("step exceeded %v budget", budget)
			if overall {
				reason = "overall deadline exceeded"
			}
			return fail(outcome, kind,
				&Error{Kind: kind, Pattern: p.Key(), Step: st.As,
					Capability: st.Capability, Err: errors.New(reason)})
		}
		return fail(trace.OutcomeFailed, KindStepExecution,
			&Error{Kind: KindStepExecution, Pattern: p.Key(), Step: st.As,
				Capability: st.Capability, Err: runErr})
	}

	ttl := c.Contract.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	val := provenance.Attach(out, st.Capability, ttl, c.Contract.Confidence, rc, e.now())

	rec.Outcome = trace.OutcomeOK
	rec.Duration = e.now().Sub(start)
	return rec, val, nil
}

// invoke runs the capability under its budget. The capability executes in
// its own goroutine so an implementation that ignores context cancellation
// still cannot stall the pipeline past the budget.
func (e *Engine) invoke(ctx context.Context, c *capability.Capability, args map[string]any, rc *reqctx.Ctx, budget time.Duration) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("capability panic: %v", r)}
			}
		}()
		out, err := c.Run(cctx, capability.Request{Args: args, Ctx: rc})
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-cctx.Done():
		return nil, cctx.Err()
	}
}

// validateInputs checks caller inputs against the declared schema, collecting
// every violation before failing so the caller gets complete feedback.
func validateInputs(p *pattern.Pattern, inputs map[string]any) (map[string]any, error) {
	var violations []string

	fields := make([]string, 0, len(p.InputSchema))
	for name := range p.InputSchema {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	validated := make(map[string]any, len(inputs))
	for _, name := range fields {
		field := p.InputSchema[name]
		v, present := inputs[name]
		if !present {
			if field.Required {
				violations = append(violations, fmt.Sprintf("missing required input %q", name))
			}
			continue
		}
		if !field.Type.Accepts(v) {
			violations = append(violations, fmt.Sprintf("input %q expects %s, got %T", name, field.Type, v))
			continue
		}
		validated[name] = v
	}
	for name := range inputs {
		if _, ok := p.InputSchema[name]; !ok {
			violations = append(violations, fmt.Sprintf("unknown input %q", name))
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		return nil, &Error{Kind: KindValidation, Pattern: p.Key(), Violations: violations}
	}
	return validated, nil
}

// checkPermissions compares a pattern's declared required permissions with
// the caller's grants. Issuing grants is external to the engine.
func checkPermissions(p *pattern.Pattern, rc *reqctx.Ctx) error {
	if len(p.Permissions) == 0 || len(rc.Grants) == 0 {
		return nil
	}
	var missing []string
	for _, perm := range p.Permissions {
		if !rc.HasGrant(perm) {
			missing = append(missing, fmt.Sprintf("caller lacks permission %q", perm))
		}
	}
	if len(missing) > 0 {
		return &Error{Kind: KindValidation, Pattern: p.Key(), Violations: missing}
	}
	return nil
}

func appendAborted(tr trace.Trace, rest []pattern.Step, reason string) trace.Trace {
	for _, st := range rest {
		tr = append(tr, trace.StepRecord{
			Step:       st.As,
			Capability: st.Capability,
			Outcome:    trace.OutcomeAborted,
			Reason:     reason,
		})
	}
	return tr
}

// asError normalizes a step failure into the caller-facing structured error.
func asError(err error, p *pattern.Pattern, st pattern.Step) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return &Error{Kind: KindStepExecution, Pattern: p.Key(), Step: st.As,
		Capability: st.Capability, Err: err}
}
