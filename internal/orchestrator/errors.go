package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable, machine-readable error classification surfaced to
// callers. A transport layer maps kinds to its own status codes; the strings
// are part of the external interface and never change meaning.
type Kind string

const (
	// KindValidation marks bad caller input. Always correctable by the
	// caller, never auto-retried.
	KindValidation Kind = "ValidationError"

	// KindPatternNotFound marks an unknown pattern id.
	KindPatternNotFound Kind = "PatternNotFoundError"

	// KindConfiguration marks a load-time defect (unregistered capability,
	// malformed template). It blocks activation and must never surface
	// per-request; seeing it at runtime is an internal-consistency bug.
	KindConfiguration Kind = "ConfigurationError"

	// KindStepExecution marks a capability failure, carrying full
	// step/capability identity.
	KindStepExecution Kind = "StepExecutionError"

	// KindTemplateResolution marks a reference that did not resolve. Static
	// analysis catches these at load time; a runtime occurrence is an
	// internal-consistency bug worth alerting on.
	KindTemplateResolution Kind = "TemplateResolutionError"

	// KindTimeout marks a per-step or overall deadline expiry.
	KindTimeout Kind = "TimeoutError"
)

// Error is the structured failure callers receive. It names the failing step
// and capability; raw internal traces never cross this boundary.
type Error struct {
	Kind       Kind
	Pattern    string
	Step       string
	Capability string

	// Token is the unresolved template token, for KindTemplateResolution.
	Token string

	// Violations lists every input problem, for KindValidation. All
	// missing/invalid fields are collected before failing so the caller
	// gets complete feedback in one round trip.
	Violations []string

	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Pattern != "" {
		fmt.Fprintf(&sb, " pattern=%s", e.Pattern)
	}
	if e.Step != "" {
		fmt.Fprintf(&sb, " step=%s", e.Step)
	}
	if e.Capability != "" {
		fmt.Fprintf(&sb, " capability=%s", e.Capability)
	}
	if e.Token != "" {
		fmt.Fprintf(&sb, " token=%s", e.Token)
	}
	if len(e.Violations) > 0 {
		fmt.Fprintf(&sb, ": %s", strings.Join(e.Violations, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the stable kind from any error in a chain, or "" when the
// error did not originate here.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
