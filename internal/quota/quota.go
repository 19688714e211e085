// Package quota implements per-identity admission control backed by a
// durable counter with a reset window.
//
// A Record is keyed by identity and holds the start of the current window
// and the number of admitted turns inside it. The window kind and size are
// deployment configuration: gateways run tiers like 1/day, 3/day, 5/day or
// 20/hour against the same code.
//
// Admission is an atomic conditional reservation against the store (a single
// guarded upsert), so two concurrent turns can never both take the last slot.
// A reservation taken for a turn that later fails is returned with Refund,
// which keeps "quota is consumed only by delivered answers" true without
// giving up the reservation's atomicity.
package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable indicates the quota store could not be reached.
	// Callers decide the policy: paid tiers fail closed, anonymous tiers
	// may fail open. Check with errors.Is().
	ErrStoreUnavailable = errors.New("quota store unavailable")

	// ErrExhausted is returned by the Querier when the guarded increment
	// matched no row because the window is full.
	ErrExhausted = errors.New("quota exhausted")

	// ErrNotFound indicates no quota record exists for the identity.
	ErrNotFound = errors.New("quota record not found")

	// ErrInvalidPolicy indicates the policy limit or window is unusable.
	ErrInvalidPolicy = errors.New("invalid quota policy")
)

// Kind selects how window boundaries are computed.
type Kind int

const (
	// Daily windows cover one UTC calendar day.
	Daily Kind = iota
	// Hourly windows cover one clock hour.
	Hourly
	// Rolling windows cover a configured duration starting at the first
	// admitted request.
	Rolling
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	case Rolling:
		return "rolling"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a window kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "daily":
		return Daily, nil
	case "hourly":
		return Hourly, nil
	case "rolling":
		return Rolling, nil
	default:
		return Daily, fmt.Errorf("%w: unknown window kind %q", ErrInvalidPolicy, s)
	}
}

// Policy is the deployment-level quota configuration.
// Length is only consulted for the Rolling kind.
type Policy struct {
	Limit  int
	Window Kind
	Length time.Duration
}

// validate reports whether the policy is usable.
func (p Policy) validate() error {
	if p.Limit < 1 {
		return fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidPolicy, p.Limit)
	}
	if p.Window == Rolling && p.Length <= 0 {
		return fmt.Errorf("%w: rolling window requires a positive length", ErrInvalidPolicy)
	}
	return nil
}

// windowAt returns the window_start to stamp on a fresh window and the
// cutoff before which an existing window counts as expired, both at time now.
func (p Policy) windowAt(now time.Time) (newStart, expiredBefore time.Time) {
	switch p.Window {
	case Hourly:
		start := now.UTC().Truncate(time.Hour)
		return start, start
	case Rolling:
		return now.UTC(), now.UTC().Add(-p.Length)
	default: // Daily
		u := now.UTC()
		start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		return start, start
	}
}

// resetAt returns when the window that started at windowStart ends.
func (p Policy) resetAt(windowStart time.Time) time.Time {
	switch p.Window {
	case Hourly:
		return windowStart.Add(time.Hour)
	case Rolling:
		return windowStart.Add(p.Length)
	default: // Daily
		return windowStart.Add(24 * time.Hour)
	}
}

// resetIn returns the non-negative duration until the window that started
// at windowStart resets, measured from now.
func (p Policy) resetIn(windowStart, now time.Time) time.Duration {
	d := p.resetAt(windowStart).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Record is the durable per-identity counter state.
type Record struct {
	Identity    string
	WindowStart time.Time
	Count       int
}

// Decision is the outcome of an admission check. Limit echoes the policy
// limit so callers can report "N of M" without holding the policy.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetIn   time.Duration

	// WindowStart identifies the window the reservation was taken in.
	// Refund requires it so a slot is never returned to a later window.
	WindowStart time.Time
}
