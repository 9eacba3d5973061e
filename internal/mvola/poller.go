package mvola

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

//go:generate mockgen -source=poller.go -destination=mocks/mock_poller.go -package=mocks

// ErrPollCancelled marks a poll aborted by its context. It always wraps the
// context error and is never a *TimeoutError.
var ErrPollCancelled = errors.New("mvola poll: cancelled")

// StatusQuerier is the query capability the poller drives.
type StatusQuerier interface {
	GetStatus(ctx context.Context, handle *CorrelationHandle) (*CorrelationHandle, error)
}

// Backoff returns the pause after the given (1-based) attempt.
type Backoff func(attempt int, interval time.Duration) time.Duration

// ConstantBackoff waits interval between every attempt.
func ConstantBackoff(_ int, interval time.Duration) time.Duration {
	return interval
}

// ExponentialBackoff grows the interval by multiplier per attempt, capped at ceiling.
func ExponentialBackoff(multiplier float64, ceiling time.Duration) Backoff {
	return func(attempt int, interval time.Duration) time.Duration {
		d := time.Duration(float64(interval) * math.Pow(multiplier, float64(attempt-1)))
		if ceiling > 0 && (d > ceiling || d < 0) {
			return ceiling
		}
		return d
	}
}

// Poller repeatedly queries a transaction until it reaches a terminal status
// or the attempt budget runs out.
type Poller struct {
	querier StatusQuerier
	backoff Backoff
	after   func(time.Duration) <-chan time.Time
	now     func() time.Time
	logger  *slog.Logger
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithBackoff replaces the constant interval schedule.
func WithBackoff(b Backoff) PollerOption {
	return func(p *Poller) {
		if b != nil {
			p.backoff = b
		}
	}
}

// WithPollerTimer injects the wait primitive and time source.
func WithPollerTimer(after func(time.Duration) <-chan time.Time, now func() time.Time) PollerOption {
	return func(p *Poller) {
		if after != nil {
			p.after = after
		}
		if now != nil {
			p.now = now
		}
	}
}

// WithPollerLogger lets callers supply a custom logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller builds a Poller over q.
func NewPoller(q StatusQuerier, opts ...PollerOption) *Poller {
	p := &Poller{
		querier: q,
		backoff: ConstantBackoff,
		after:   time.After,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollUntilTerminal queries handle at most maxAttempts times, pausing between
// attempts. It returns the terminal handle, a *TimeoutError carrying the
// still-pending handle when the budget is exhausted, an error wrapping
// ErrPollCancelled when ctx ends, or the query error as is.
func (p *Poller) PollUntilTerminal(ctx context.Context, handle *CorrelationHandle, maxAttempts int, interval time.Duration) (*CorrelationHandle, error) {
	if handle == nil {
		return nil, invalid(RuleIdentifier, "handle", "handle is required")
	}
	if maxAttempts <= 0 {
		return nil, invalid(RulePollBudget, "max_attempts", "max attempts must be positive")
	}

	current := *handle
	if current.Status.Terminal() {
		return &current, nil
	}

	start := p.now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return &current, cancelled(err)
		}

		next, err := p.querier.GetStatus(ctx, &current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &current, cancelled(ctxErr)
			}
			return &current, err
		}
		current = *next

		p.logger.Debug("transaction polled",
			"server_correlation_id", current.ServerCorrelationID,
			"attempt", attempt, "max_attempts", maxAttempts, "status", current.Status)

		if current.Status.Terminal() {
			return &current, nil
		}
		if attempt >= maxAttempts {
			return &current, &TimeoutError{Attempts: attempt, Elapsed: p.now().Sub(start), Handle: current}
		}

		if wait := p.backoff(attempt, interval); wait > 0 {
			select {
			case <-ctx.Done():
				return &current, cancelled(ctx.Err())
			case <-p.after(wait):
			}
		}
	}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrPollCancelled, err)
}
