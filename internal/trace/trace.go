// Package trace records the per-step execution log returned alongside every
// pattern result. The trace is ordered by declared step order and is the
// caller's window into what ran, what failed, and what never started.
package trace

import "time"

// Outcome classifies how one step ended.
type Outcome string

const (
	// OutcomeOK means the step produced a value.
	OutcomeOK Outcome = "ok"

	// OutcomeFailed means the capability returned an error. For best-effort
	// steps execution continued with the unavailable sentinel bound.
	OutcomeFailed Outcome = "failed"

	// OutcomeTimeout means the step exceeded its time budget.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeSkipped means the step propagated an upstream unavailable
	// sentinel without invoking its capability.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeAborted means the step never started because an earlier step
	// failed or the overall deadline expired.
	OutcomeAborted Outcome = "aborted"
)

// StepRecord is one trace entry.
type StepRecord struct {
	// Step is the step's output binding name.
	Step string `json:"step" yaml:"step"`

	// Capability is the invoked capability name.
	Capability string `json:"capability" yaml:"capability"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome" yaml:"outcome"`

	// ErrKind is the stable machine-readable error kind, when failed.
	ErrKind string `json:"err_kind,omitempty" yaml:"err_kind,omitempty"`

	// Reason is a short human-readable failure or skip cause.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Attempts counts invocations, >1 when a retry-safe capability was
	// retried after a transient failure.
	Attempts int `json:"attempts" yaml:"attempts"`

	// Duration is wall-clock time spent in the step, zero for steps that
	// never started.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Trace is the ordered execution log of one pattern run.
type Trace []StepRecord

// Completed counts steps that produced a value.
func (t Trace) Completed() int {
	n := 0
	for _, r := range t {
		if r.Outcome == OutcomeOK {
			n++
		}
	}
	return n
}

// Failures returns the records of steps that failed, timed out, or were
// skipped on an upstream gap.
func (t Trace) Failures() []StepRecord {
	var out []StepRecord
	for _, r := range t {
		switch r.Outcome {
		case OutcomeFailed, OutcomeTimeout, OutcomeSkipped:
			out = append(out, r)
		}
	}
	return out
}

// Aborted reports whether any step never started.
func (t Trace) Aborted() bool {
	for _, r := range t {
		if r.Outcome == OutcomeAborted {
			return true
		}
	}
	return false
}
