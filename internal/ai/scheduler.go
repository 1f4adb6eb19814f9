package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CallClass selects the timeout budget for a scheduled operation.
// Action-augmented generations may chain provider calls and get a
// materially longer budget than plain ones.
type CallClass int

const (
	ClassGenerate CallClass = iota
	ClassGenerateWithActions
)

func (c CallClass) String() string {
	if c == ClassGenerateWithActions {
		return "generate_with_actions"
	}
	return "generate"
}

// ErrTimeout is returned when an operation exceeds its class budget.
// The underlying provider call may still be in flight remotely; only
// the caller stops waiting.
var ErrTimeout = errors.New("scheduled operation timed out")

// Scheduler runs asynchronous operations under a global concurrency
// ceiling with per-class timeouts and a bounded retry policy for
// transient failures. Excess operations queue in arrival order.
type Scheduler struct {
	sem           chan struct{}
	genTimeout    time.Duration
	actionTimeout time.Duration
	maxRetries    int
	logger        *slog.Logger
}

// NewScheduler creates a scheduler admitting at most maxConcurrent
// operations at once. maxRetries counts additional attempts after the
// first, applied only to transient failures.
func NewScheduler(
	maxConcurrent int,
	genTimeout, actionTimeout time.Duration,
	maxRetries int,
	logger *slog.Logger,
) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		sem:           make(chan struct{}, maxConcurrent),
		genTimeout:    genTimeout,
		actionTimeout: actionTimeout,
		maxRetries:    maxRetries,
		logger:        logger,
	}
}

func (s *Scheduler) timeoutFor(class CallClass) time.Duration {
	if class == ClassGenerateWithActions {
		return s.actionTimeout
	}
	return s.genTimeout
}

// retryable reports whether a failure is transient. Auth and
// validation failures are final; so are rate limits, which only get
// worse under immediate retry.
func retryable(err error) bool {
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrRateLimited) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes op under the scheduler's admission control. A timed-out
// operation's eventual result is discarded; the provider call is not
// guaranteed to be aborted server-side.
func Run[T any](
	ctx context.Context,
	s *Scheduler,
	class CallClass,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-s.sem }()

	callCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(class))
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying scheduled operation",
				"class", class.String(), "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-callCtx.Done():
				return zero, fmt.Errorf("%w: %s", ErrTimeout, class)
			}
		}

		ch := make(chan outcome[T], 1)
		go func() {
			v, err := op(callCtx)
			ch <- outcome[T]{value: v, err: err}
		}()

		select {
		case res := <-ch:
			if res.err == nil {
				return res.value, nil
			}
			lastErr = res.err
			if !retryable(res.err) {
				return zero, res.err
			}
		case <-callCtx.Done():
			// Result discarded; caller unwinds while the remote call
			// may still complete.
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, fmt.Errorf("%w: %s", ErrTimeout, class)
		}
	}

	return zero, lastErr
}
