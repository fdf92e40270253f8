package resolver

import (
	"context"
	"time"
)

// State is a step of the per-entity retry machine.
type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateSucceeded
	StateExhausted
	StateRejected
	StateAbandoned // caller stopped waiting during backoff
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateRejected:
		return "rejected"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Clock waits. Tests substitute one that returns immediately.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on a timer and wakes early when ctx is done.
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds retries. Backoff after the n-th failed attempt is n × BackoffStep.
type Policy struct {
	MaxAttempts int
	BackoffStep time.Duration
}

// DefaultPolicy is five attempts with a five second step.
var DefaultPolicy = Policy{MaxAttempts: 5, BackoffStep: 5 * time.Second}

// Backoff returns the wait after the given (1-based) failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * p.BackoffStep
}

// Transition is reported for every state change.
type Transition struct {
	From, To State
	Attempt  int
	Delay    time.Duration
	Err      error
}

// Run drives attempt through ATTEMPTING → BACKOFF → ... until it succeeds,
// is rejected, or the attempt budget is spent. Every transient failure,
// including the last, is followed by its backoff. It returns the final
// state, the number of attempts made and the last error.
func (p Policy) Run(ctx context.Context, clock Clock, attempt func(n int) error, observe func(Transition)) (State, int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	move := func(from, to State, n int, d time.Duration, err error) State {
		if observe != nil {
			observe(Transition{From: from, To: to, Attempt: n, Delay: d, Err: err})
		}
		return to
	}

	state := StateAttempting
	n := 0
	var lastErr error
	for {
		switch state {
		case StateAttempting:
			n++
			err := attempt(n)
			switch {
			case err == nil:
				state = move(state, StateSucceeded, n, 0, nil)
			case IsRejected(err):
				lastErr = err
				state = move(state, StateRejected, n, 0, err)
			default:
				lastErr = err
				state = move(state, StateBackoff, n, p.Backoff(n), err)
			}

		case StateBackoff:
			d := p.Backoff(n)
			if err := clock.Sleep(ctx, d); err != nil {
				lastErr = err
				state = move(state, StateAbandoned, n, 0, err)
				continue
			}
			if n >= p.MaxAttempts {
				state = move(state, StateExhausted, n, 0, lastErr)
			} else {
				state = move(state, StateAttempting, n, 0, nil)
			}

		default:
			return state, n, lastErr
		}
	}
}
