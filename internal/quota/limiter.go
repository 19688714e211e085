package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Limiter decides whether a turn may proceed under the configured policy.
//
// Limiter is safe for concurrent use; all cross-request coordination happens
// in the store's atomic reservation, never in process memory.
type Limiter struct {
	querier Querier
	policy  Policy
	clock   func() time.Time
	logger  *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Tests use this to cross window
// boundaries without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// NewLimiter creates a Limiter for the given policy.
func NewLimiter(querier Querier, policy Policy, logger *slog.Logger, opts ...Option) (*Limiter, error) {
	if querier == nil {
		return nil, errors.New("querier is required")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Limiter{
		querier: querier,
		policy:  policy,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the configured policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Admit atomically reserves one slot in the identity's current window.
//
// On denial nothing is created or mutated; the decision carries the time
// until the window resets, computed from the stored window metadata. A
// store failure is reported as ErrStoreUnavailable so the caller can choose
// fail-open or fail-closed per tier.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	now := l.clock()
	newStart, expiredBefore := l.policy.windowAt(now)

	rec, err := l.querier.Reserve(ctx, ReserveParams{
		Identity:      identity,
		NewStart:      newStart,
		ExpiredBefore: expiredBefore,
		Limit:         l.policy.Limit,
	})
	switch {
	case errors.Is(err, ErrExhausted):
		return l.deniedDecision(ctx, identity, now), nil
	case err != nil:
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	remaining := l.policy.Limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	l.logger.Debug("admitted turn",
		"identity", identity,
		"count", rec.Count,
		"remaining", remaining,
	)
	return Decision{
		Allowed:     true,
		Remaining:   remaining,
		Limit:       l.policy.Limit,
		ResetIn:     l.policy.resetIn(rec.WindowStart, now),
		WindowStart: rec.WindowStart,
	}, nil
}

// Refund returns a previously admitted slot, e.g. when the completion step
// failed after admission. Best effort: refunding into a window that has
// already rolled over is silently skipped by the store.
func (l *Limiter) Refund(ctx context.Context, identity string, windowStart time.Time) error {
	if err := l.querier.Release(ctx, identity, windowStart); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	l.logger.Debug("refunded quota slot", "identity", identity)
	return nil
}

// Status reads the identity's quota state without creating or mutating
// anything. Used by the limits endpoint.
func (l *Limiter) Status(ctx context.Context, identity string) (Decision, error) {
	now := l.clock()
	_, expiredBefore := l.policy.windowAt(now)

	rec, err := l.querier.Get(ctx, identity)
	switch {
	case errors.Is(err, ErrNotFound):
		return l.freshDecision(now), nil
	case err != nil:
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if rec.WindowStart.Before(expiredBefore) {
		// Window has lapsed; the next admission resets it.
		return l.freshDecision(now), nil
	}

	remaining := l.policy.Limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:     remaining > 0,
		Remaining:   remaining,
		Limit:       l.policy.Limit,
		ResetIn:     l.policy.resetIn(rec.WindowStart, now),
		WindowStart: rec.WindowStart,
	}, nil
}

// PurgeExpired removes windows that ended before now. Run periodically from
// the server; rows also expire naturally by being reset in place.
func (l *Limiter) PurgeExpired(ctx context.Context) (int64, error) {
	_, expiredBefore := l.policy.windowAt(l.clock())
	n, err := l.querier.PurgeExpired(ctx, expiredBefore)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if n > 0 {
		l.logger.Debug("purged expired quota windows", "rows", n)
	}
	return n, nil
}

// deniedDecision builds the terminal denial, reading the stored window to
// compute the reset estimate. If even the read fails, fall back to the full
// window length rather than guessing from wall clock.
func (l *Limiter) deniedDecision(ctx context.Context, identity string, now time.Time) Decision {
	d := Decision{Allowed: false, Remaining: 0, Limit: l.policy.Limit}

	rec, err := l.querier.Get(ctx, identity)
	if err != nil {
		l.logger.Warn("could not read quota record for reset estimate",
			"identity", identity, "error", err)
		start, _ := l.policy.windowAt(now)
		d.ResetIn = l.policy.resetIn(start, now)
		d.WindowStart = start
		return d
	}

	d.ResetIn = l.policy.resetIn(rec.WindowStart, now)
	d.WindowStart = rec.WindowStart
	return d
}

// freshDecision describes an identity with no live window.
func (l *Limiter) freshDecision(now time.Time) Decision {
	start, _ := l.policy.windowAt(now)
	return Decision{
		Allowed:     true,
		Remaining:   l.policy.Limit,
		Limit:       l.policy.Limit,
		ResetIn:     l.policy.resetIn(start, now),
		WindowStart: start,
	}
}
