package quota

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/kormo-connect/backend/internal/profiles"
	"gorm.io/gorm"
)

const maxConsumeAttempts = 3

var (
	// ErrAccountNotFound indicates there is no profile row to hold the counter.
	ErrAccountNotFound = errors.New("quota: account not found")
	errInvalidLimit    = errors.New("quota: limit must be positive")
	errContention      = errors.New("quota: window changed during consume")
)

// Decision is the outcome of a single consume attempt.
type Decision struct {
	Allowed       bool
	RetryAfter    time.Duration
	CallsInWindow int
	Limit         int
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Store performs the atomic check-and-increment against shared storage.
type Store interface {
	TryConsume(ctx context.Context, accountID string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// GormStore keeps the window on the profile row and mutates it only through conditional
// UPDATE statements, so concurrent callers cannot push the counter past the limit.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps the provided database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) TryConsume(ctx context.Context, accountID string, limit int, window time.Duration, now time.Time) (Decision, error) {
	if limit <= 0 {
		return Decision{}, errInvalidLimit
	}
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		decision, err := s.tryConsumeOnce(ctx, accountID, limit, window, now)
		if errors.Is(err, errContention) {
			continue
		}
		return decision, err
	}
	return Decision{}, errContention
}

func (s *GormStore) tryConsumeOnce(ctx context.Context, accountID string, limit int, window time.Duration, now time.Time) (Decision, error) {
	db := s.db.WithContext(ctx)
	nowMs := now.UnixMilli()
	cutoffMs := nowMs - window.Milliseconds()

	reset := db.Model(&profiles.Profile{}).
		Where("id = ? AND quota_window_started_ms <= ?", accountID, cutoffMs).
		UpdateColumns(map[string]interface{}{
			"quota_window_started_ms": nowMs,
			"quota_calls_in_window":   1,
		})
	if reset.Error != nil {
		return Decision{}, reset.Error
	}
	if reset.RowsAffected > 0 {
		return Decision{Allowed: true, CallsInWindow: 1, Limit: limit}, nil
	}

	increment := db.Model(&profiles.Profile{}).
		Where("id = ? AND quota_window_started_ms > ? AND quota_calls_in_window < ?", accountID, cutoffMs, limit).
		UpdateColumn("quota_calls_in_window", gorm.Expr("quota_calls_in_window + 1"))
	if increment.Error != nil {
		return Decision{}, increment.Error
	}

	state, err := s.load(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}
	if increment.RowsAffected > 0 {
		return Decision{Allowed: true, CallsInWindow: state.QuotaCallsInWindow, Limit: limit}, nil
	}
	if state.QuotaWindowStartedMs <= cutoffMs {
		return Decision{}, errContention
	}

	elapsed := time.Duration(nowMs-state.QuotaWindowStartedMs) * time.Millisecond
	retryAfter := window - elapsed
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{
		Allowed:       false,
		RetryAfter:    retryAfter,
		CallsInWindow: state.QuotaCallsInWindow,
		Limit:         limit,
	}, nil
}

func (s *GormStore) load(ctx context.Context, accountID string) (profiles.Profile, error) {
	var state profiles.Profile
	err := s.db.WithContext(ctx).
		Select("id", "quota_window_started_ms", "quota_calls_in_window").
		Where("id = ?", accountID).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return profiles.Profile{}, ErrAccountNotFound
	}
	return state, err
}
