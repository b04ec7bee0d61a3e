package ai

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 2 * time.Second
)

// CallObserver receives the outcome of every upstream attempt.
type CallObserver interface {
	ObserveUpstreamCall(outcome string)
}

// RetryConfig controls the rate-limit retry loop. MaxRetries is taken as given, so the zero
// value makes a single attempt; a negative MaxRetries selects DefaultMaxRetries. A zero
// InitialBackoff selects DefaultInitialBackoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
	Logger         *zap.Logger
	Observer       CallObserver
}

// RetryingCompleter retries rate-limited calls with doubling waits starting at InitialBackoff
// (2s, 4s, 8s with DefaultMaxRetries and DefaultInitialBackoff).
// Other failures are returned immediately. Exhausting the retries yields ErrQuotaExhausted.
type RetryingCompleter struct {
	next     Completer
	retries  int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
	observer CallObserver
}

// NewRetryingCompleter wraps next.
func NewRetryingCompleter(next Completer, cfg RetryConfig) *RetryingCompleter {
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = DefaultMaxRetries
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultInitialBackoff
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingCompleter{
		next:     next,
		retries:  retries,
		backoff:  backoff,
		sleep:    sleep,
		logger:   logger,
		observer: cfg.Observer,
	}
}

func (r *RetryingCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	wait := r.backoff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := r.next.Complete(ctx, prompt)
		if err == nil {
			r.observe("success")
			return text, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			r.observe(outcomeFor(err))
			return "", err
		}
		r.observe("rate_limited")
		if attempt >= r.retries {
			return "", errors.Join(ErrQuotaExhausted, err)
		}
		r.logger.Debug("upstream rate limited, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
		wait *= 2
	}
}

func (r *RetryingCompleter) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveUpstreamCall(outcome)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
