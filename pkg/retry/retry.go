// Package retry runs fallible operations under a bounded exponential backoff policy.
//
// Errors steer the loop through two optional interfaces: an error reporting
// Retryable() == false stops immediately, and an error reporting a RetryAfter
// duration replaces the computed delay for that attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Policy describes how many times and how far apart an operation is attempted.
type Policy struct {
	MaxAttempts   int           `default:"3" validate:"min=1"`
	InitialDelay  time.Duration `default:"1s" validate:"gt=0"`
	MaxDelay      time.Duration `default:"30s" validate:"gtefield=InitialDelay"`
	BackoffFactor float64       `default:"2" validate:"gte=1"`
}

// DefaultPolicy returns the policy used when nothing is configured: 3 attempts, 1s doubling up to 30s.
func DefaultPolicy() Policy {
	var p Policy
	_ = defaults.Set(&p)
	return p
}

// WithDefaults fills zero-valued fields from the defaults.
func (p Policy) WithDefaults() Policy {
	_ = defaults.Set(&p)
	return p
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	return nil
}

// Delays returns the first n waits the policy would schedule, ignoring Retry-After hints.
func (p Policy) Delays(n int) []time.Duration {
	s := newSchedule(p)
	s.Reset()
	out := make([]time.Duration, 0, n)
	for range n {
		out = append(out, s.NextBackOff())
	}
	return out
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Kind is the retry classification of an error.
type Kind int

const (
	// Transient errors are retried on the exponential schedule.
	Transient Kind = iota
	// Permanent errors are returned without further attempts.
	Permanent
	// Throttled errors are retried after the server supplied delay.
	Throttled
)

// Class is the outcome of Classify.
type Class struct {
	Kind  Kind
	After time.Duration
}

type retryable interface {
	Retryable() bool
}

type retryAfterHint interface {
	RetryAfter() (time.Duration, bool)
}

// Classify decides how the loop treats err. A permanent error stays permanent even when it carries a
// Retry-After hint.
func Classify(err error) Class {
	var r retryable
	if errors.As(err, &r) && !r.Retryable() {
		return Class{Kind: Permanent}
	}
	var hint retryAfterHint
	if errors.As(err, &hint) {
		if d, ok := hint.RetryAfter(); ok {
			return Class{Kind: Throttled, After: d}
		}
	}
	return Class{Kind: Transient}
}

// Do runs op until it succeeds, fails permanently, exhausts the policy or ctx is done.
func Do(ctx context.Context, logger *zap.Logger, p Policy, op func(context.Context) error) error {
	_, err := DoValue(ctx, logger, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, logger *zap.Logger, p Policy, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p = p.WithDefaults()
	sched := newSchedule(p)
	sched.Reset()

	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	operation := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		switch c := Classify(err); c.Kind {
		case Permanent:
			permanent = true
			return v, backoff.Permanent(err)
		case Throttled:
			sched.override = c.After
		}
		return v, err
	}

	notify := func(_ error, next time.Duration) {
		logger.Warn("Operation failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", next),
			zap.Error(lastErr),
		)
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(sched),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return v, nil
	}

	switch {
	case permanent:
		return v, lastErr
	case ctx.Err() != nil:
		return v, fmt.Errorf("retry aborted after %d attempts: %w", attempts, ctx.Err())
	case lastErr == nil:
		return v, err
	default:
		return v, &ExhaustedError{Attempts: attempts, Err: lastErr}
	}
}

// schedule is the policy's deterministic exponential backoff with a one-shot override
// for server supplied Retry-After delays. An override does not advance the exponential sequence.
type schedule struct {
	exp      *backoff.ExponentialBackOff
	override time.Duration
}

func newSchedule(p Policy) *schedule {
	p = p.WithDefaults()
	return &schedule{exp: &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         p.MaxDelay,
	}}
}

func (s *schedule) Reset() {
	s.exp.Reset()
	s.override = 0
}

func (s *schedule) NextBackOff() time.Duration {
	if s.override > 0 {
		d := s.override
		s.override = 0
		return d
	}
	return s.exp.NextBackOff()
}
