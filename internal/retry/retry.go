// Package retry runs an operation under an exponential backoff policy.
//
// A run moves through Attempting and Backoff until it ends in one of three
// terminal states: Succeeded, Aborted (a non-retryable error) or Exhausted
// (the retry budget ran out).
package retry

import (
	"context"
	"math"
	"time"
)

// State is the position of a run in the retry state machine.
type State int

const (
	Idle State = iota
	Attempting
	Backoff
	Succeeded
	Aborted
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attempting:
		return "attempting"
	case Backoff:
		return "backoff"
	case Succeeded:
		return "succeeded"
	case Aborted:
		return "aborted"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Policy is an exponential backoff schedule.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	MaxRetries int
}

// DefaultPolicy starts at 1s, doubles, caps at 30s and retries 3 times.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
		MaxRetries: 3,
	}
}

// Delay returns the wait before retry n (0-based).
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(n))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier bundles a policy with its retryability predicate and sleeper.
type Retrier struct {
	Policy    Policy
	Retryable func(error) bool
	Sleep     Sleeper
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Outcome describes how a run ended.
type Outcome struct {
	State    State
	Attempts int
	Err      error
}

// Retries is the number of attempts beyond the first.
func (o Outcome) Retries() int {
	if o.Attempts == 0 {
		return 0
	}
	return o.Attempts - 1
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. A cancelled ctx during backoff aborts the run.
func Do[T any](ctx context.Context, r Retrier, op func(ctx context.Context, attempt int) (T, error)) (T, Outcome) {
	var (
		zero  T
		out   = Outcome{State: Idle}
		sleep = r.Sleep
	)
	if sleep == nil {
		sleep = Sleep
	}

	for {
		out.State = Attempting
		out.Attempts++

		v, err := op(ctx, out.Attempts)
		if err == nil {
			out.State = Succeeded
			out.Err = nil
			return v, out
		}
		out.Err = err

		if r.Retryable == nil || !r.Retryable(err) {
			out.State = Aborted
			return zero, out
		}
		if out.Retries() >= r.Policy.MaxRetries {
			out.State = Exhausted
			return zero, out
		}

		out.State = Backoff
		delay := r.Policy.Delay(out.Retries())
		if r.OnRetry != nil {
			r.OnRetry(out.Attempts, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			out.State = Aborted
			out.Err = serr
			return zero, out
		}
	}
}
