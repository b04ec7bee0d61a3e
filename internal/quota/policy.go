package quota

import (
	"time"

	"github.com/kormo-connect/backend/internal/profiles"
)

// Operation names an AI-backed call guarded by the tracker.
type Operation string

const (
	OperationSuitability Operation = "suitability_analysis"
	OperationCVAnalysis  Operation = "cv_analysis"
	OperationJobMatch    Operation = "job_match"
)

const (
	DefaultWindow       = time.Minute
	DefaultFreeLimit    = 3
	DefaultPremiumLimit = 10
)

// Policy is the fixed window length plus the per-operation, per-tier limit table.
type Policy struct {
	Window time.Duration
	Limits map[Operation]map[profiles.Tier]int
}

// DefaultPolicy returns the 3/10 per minute table used by every AI-backed operation.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultWindow, DefaultFreeLimit, DefaultPremiumLimit)
}

// NewPolicy applies the same free and premium limits to every known operation.
func NewPolicy(window time.Duration, freeLimit, premiumLimit int) Policy {
	limits := make(map[Operation]map[profiles.Tier]int, 3)
	for _, op := range []Operation{OperationSuitability, OperationCVAnalysis, OperationJobMatch} {
		limits[op] = map[profiles.Tier]int{
			profiles.TierFree:    freeLimit,
			profiles.TierPremium: premiumLimit,
		}
	}
	return Policy{Window: window, Limits: limits}
}

// Limit looks up the allowance for the operation and tier. Unknown tiers fall back to free.
func (p Policy) Limit(op Operation, tier profiles.Tier) (int, bool) {
	byTier, ok := p.Limits[op]
	if !ok {
		return 0, false
	}
	if limit, ok := byTier[tier]; ok {
		return limit, true
	}
	limit, ok := byTier[profiles.TierFree]
	return limit, ok
}
