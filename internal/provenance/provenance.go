// Package provenance wraps raw capability results with source, freshness and
// confidence metadata. Every value an execution binds into its state carries
// this envelope so downstream consumers can render staleness without calling
// back into the orchestrator.
package provenance

import (
	"fmt"
	"time"

	"porter/internal/reqctx"
)

// DefaultTTL is the conservative freshness window applied when a capability
// declares none.
const DefaultTTL = 15 * time.Minute

// Metadata describes where a value came from and how much to trust it.
type Metadata struct {
	// Source is the producing capability name.
	Source string `json:"source" yaml:"source"`

	// SnapshotID and LedgerHash echo the RequestCtx identifiers the value
	// was computed against.
	SnapshotID string `json:"snapshot_id" yaml:"snapshot_id"`
	LedgerHash string `json:"ledger_hash,omitempty" yaml:"ledger_hash,omitempty"`

	// GeneratedAt is when the value was produced.
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`

	// TTL is the freshness window declared by the capability.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Confidence is 1.0 for exact computations, lower for approximations.
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Fresh reports whether the value is still within its freshness window at now.
func (m Metadata) Fresh(now time.Time) bool {
	return now.Before(m.GeneratedAt.Add(m.TTL))
}

// Value is the envelope bound into execution state: the raw result plus its
// provenance. The raw value is never replaced, only accompanied.
type Value struct {
	Raw        any      `json:"raw" yaml:"raw"`
	Provenance Metadata `json:"provenance" yaml:"provenance"`
}

// Unwrap exposes the raw value for template path resolution.
func (v Value) Unwrap() any { return v.Raw }

// Attach wraps a raw capability result. The source must identify the
// producing capability; an empty source is a programmer error, not a runtime
// condition, so it panics.
func Attach(raw any, source string, ttl time.Duration, confidence float64, rc *reqctx.Ctx, now time.Time) Value {
	if source == "" {
		panic("provenance: attach called with empty source")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if confidence <= 0 {
		confidence = 1.0
	}
	md := Metadata{
		Source:      source,
		GeneratedAt: now,
		TTL:         ttl,
		Confidence:  confidence,
	}
	if rc != nil {
		md.SnapshotID = rc.SnapshotID
		md.LedgerHash = rc.LedgerHash
	}
	return Value{Raw: raw, Provenance: md}
}

// Sentinel marks a best-effort step's output as explicitly unavailable.
// It is never silently substituted with a default: later steps either fail on
// it or propagate it.
type Sentinel struct {
	// Source is the capability whose failure produced the gap.
	Source string `json:"source" yaml:"source"`

	// Reason is a short human-readable cause.
	Reason string `json:"reason" yaml:"reason"`
}

func (s Sentinel) String() string {
	return fmt.Sprintf("unavailable(%s: %s)", s.Source, s.Reason)
}

// Unavailable builds the sentinel envelope for a failed best-effort step.
// Confidence is zero: the value carries no information.
func Unavailable(source, reason string, rc *reqctx.Ctx, now time.Time) Value {
	if source == "" {
		panic("provenance: unavailable called with empty source")
	}
	md := Metadata{
		Source:      source,
		GeneratedAt: now,
		TTL:         DefaultTTL,
		Confidence:  0,
	}
	if rc != nil {
		md.SnapshotID = rc.SnapshotID
		md.LedgerHash = rc.LedgerHash
	}
	return Value{Raw: Sentinel{Source: source, Reason: reason}, Provenance: md}
}

// IsUnavailable reports whether v (a raw value or an envelope) is the
// explicit unavailable sentinel.
func IsUnavailable(v any) bool {
	switch t := v.(type) {
	case Sentinel:
		return true
	case Value:
		_, ok := t.Raw.(Sentinel)
		return ok
	case *Value:
		_, ok := t.Raw.(Sentinel)
		return ok
	}
	return false
}
