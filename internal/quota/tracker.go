package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kormo-connect/backend/internal/profiles"
	"go.uber.org/zap"
)

var errUnknownOperation = errors.New("quota: unknown operation")

// DeniedError reports a rejected call. It is an expected outcome, not a failure.
type DeniedError struct {
	Operation Operation
	Decision  Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("quota: %s limit of %d per window reached, retry in %ds", e.Operation, e.Decision.Limit, e.Decision.RetryAfterSeconds())
}

// RetryAfterSeconds exposes the retry hint for response mapping.
func (e *DeniedError) RetryAfterSeconds() int {
	return e.Decision.RetryAfterSeconds()
}

// Observer receives every decision, typically a metrics sink.
type Observer interface {
	ObserveQuotaDecision(operation, tier string, allowed bool)
}

// TrackerConfig wires the tracker dependencies.
type TrackerConfig struct {
	Store    Store
	Policy   Policy
	Clock    func() time.Time
	Logger   *zap.Logger
	Observer Observer
}

// Tracker applies the tiered policy on top of a Store.
type Tracker struct {
	store    Store
	policy   Policy
	clock    func() time.Time
	logger   *zap.Logger
	observer Observer
}

// NewTracker constructs a tracker; a zero Policy means DefaultPolicy.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errors.New("quota: store is required")
	}
	policy := cfg.Policy
	if policy.Window <= 0 || len(policy.Limits) == 0 {
		policy = DefaultPolicy()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:    cfg.Store,
		policy:   policy,
		clock:    clock,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// CheckAndConsume records one call for the account if it fits in the current window.
func (t *Tracker) CheckAndConsume(ctx context.Context, accountID string, op Operation, tier profiles.Tier) (Decision, error) {
	limit, ok := t.policy.Limit(op, tier)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", errUnknownOperation, op)
	}
	decision, err := t.store.TryConsume(ctx, accountID, limit, t.policy.Window, t.clock())
	if err != nil {
		return Decision{}, err
	}
	if t.observer != nil {
		t.observer.ObserveQuotaDecision(string(op), string(tier), decision.Allowed)
	}
	if !decision.Allowed {
		t.logger.Info("quota denied",
			zap.String("account_id", accountID),
			zap.String("operation", string(op)),
			zap.String("tier", string(tier)),
			zap.Int("limit", decision.Limit),
			zap.Int("retry_after_s", decision.RetryAfterSeconds()),
		)
	}
	return decision, nil
}

// Enforce is CheckAndConsume that turns a denial into a *DeniedError.
func (t *Tracker) Enforce(ctx context.Context, accountID string, op Operation, tier profiles.Tier) error {
	decision, err := t.CheckAndConsume(ctx, accountID, op, tier)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &DeniedError{Operation: op, Decision: decision}
	}
	return nil
}
