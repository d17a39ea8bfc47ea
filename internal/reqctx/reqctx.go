// Package reqctx defines the request-scoped reproducibility context that is
// threaded through every capability invocation. A Ctx is constructed once per
// inbound request and never mutated afterward: every step of an execution
// sees the same data snapshot identifiers.
package reqctx

import (
	"time"

	"github.com/google/uuid"
)

// Ctx is the immutable bag of reproducibility identifiers for one execution.
// All fields are read-only after construction; capability implementations
// must never write to a Ctx.
type Ctx struct {
	// SnapshotID pins the versioned data pack the execution reads from.
	SnapshotID string

	// LedgerHash pins the ledger commit the snapshot was cut at.
	LedgerHash string

	// AsOf is the effective date of the execution.
	AsOf time.Time

	// TraceID correlates logs and trace records across subsystems.
	TraceID string

	// Caller identifies the requesting principal.
	Caller string

	// Grants lists the permissions the caller holds. Checked against a
	// pattern's declared required permissions; enforcement of how grants
	// are obtained lives outside this engine.
	Grants []string

	// Deadline is the overall wall-clock budget for the execution.
	// Zero means no deadline.
	Deadline time.Time
}

// New builds a Ctx for one request. A fresh TraceID is assigned when none is
// provided so every execution is correlatable.
func New(snapshotID, ledgerHash string, asOf time.Time) *Ctx {
	return &Ctx{
		SnapshotID: snapshotID,
		LedgerHash: ledgerHash,
		AsOf:       asOf,
		TraceID:    uuid.New().String(),
	}
}

// WithCaller returns a copy carrying the caller identity and grants.
func (c *Ctx) WithCaller(caller string, grants ...string) *Ctx {
	cp := *c
	cp.Caller = caller
	cp.Grants = append([]string(nil), grants...)
	return &cp
}

// WithDeadline returns a copy carrying an overall deadline.
func (c *Ctx) WithDeadline(d time.Time) *Ctx {
	cp := *c
	cp.Deadline = d
	return &cp
}

// WithTraceID returns a copy carrying an explicit trace id.
func (c *Ctx) WithTraceID(id string) *Ctx {
	cp := *c
	cp.TraceID = id
	return &cp
}

// Remaining reports the wall-clock budget left at now. The second return is
// false when the Ctx carries no deadline.
func (c *Ctx) Remaining(now time.Time) (time.Duration, bool) {
	if c.Deadline.IsZero() {
		return 0, false
	}
	return c.Deadline.Sub(now), true
}

// Expired reports whether the overall deadline has passed at now.
func (c *Ctx) Expired(now time.Time) bool {
	return !c.Deadline.IsZero() && !now.Before(c.Deadline)
}

// HasGrant reports whether the caller holds the named permission.
func (c *Ctx) HasGrant(perm string) bool {
	for _, g := range c.Grants {
		if g == perm {
			return true
		}
	}
	return false
}
