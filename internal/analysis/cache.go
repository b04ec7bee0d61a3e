package analysis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCacheTTL bounds how long a memoized analysis is served.
const DefaultCacheTTL = 24 * time.Hour

// CacheEntry memoizes an analysis result under a derived key. It is never authoritative.
type CacheEntry struct {
	Key              string                     `gorm:"column:cache_key;primaryKey;size:190;not null"`
	Payload          datatypes.JSONType[Result] `gorm:"column:payload;not null"`
	CreatedAtSeconds int64                      `gorm:"column:created_at_s;not null;index"`
}

// TableName exposes the table backing cache entries.
func (CacheEntry) TableName() string {
	return "analysis_cache"
}

// LookupObserver receives cache hit/miss outcomes.
type LookupObserver interface {
	ObserveCacheLookup(hit bool)
}

// CacheConfig wires the cache dependencies.
type CacheConfig struct {
	Database *gorm.DB
	TTL      time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
	Observer LookupObserver
}

// Cache is the second-tier memoization table in front of the completer.
type Cache struct {
	db       *gorm.DB
	ttl      time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	observer LookupObserver
}

// NewCache constructs a Cache.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{db: cfg.Database, ttl: ttl, clock: clock, logger: logger, observer: cfg.Observer}, nil
}

// Lookup returns the stored result when an entry younger than the TTL exists.
func (c *Cache) Lookup(ctx context.Context, key string) (Result, bool, error) {
	cutoff := c.clock().Add(-c.ttl).Unix()
	var entry CacheEntry
	err := c.db.WithContext(ctx).
		Where("cache_key = ? AND created_at_s > ?", key, cutoff).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.observe(false)
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	c.observe(true)
	result := entry.Payload.Data()
	result.Kind = KindParsed
	return result, true, nil
}

// Store writes or refreshes the entry for key.
func (c *Cache) Store(ctx context.Context, key string, result Result) error {
	entry := CacheEntry{
		Key:              key,
		Payload:          datatypes.NewJSONType(result),
		CreatedAtSeconds: c.clock().Unix(),
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at_s"}),
	}).Create(&entry).Error
}

// GetOrCompute serves key from the cache or runs compute and stores its result. A lookup or
// store failure degrades to computing; only compute errors are returned. Fallback results are
// not memoized so the next request asks the completer again.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (Result, error)) (Result, bool, error) {
	if result, hit, err := c.Lookup(ctx, key); err != nil {
		c.logger.Warn("analysis cache lookup failed", zap.String("cache_key", key), zap.Error(err))
	} else if hit {
		return result, true, nil
	}

	result, err := compute(ctx)
	if err != nil {
		return Result{}, false, err
	}
	if result.Kind == KindFallback {
		return result, false, nil
	}
	if err := c.Store(ctx, key, result); err != nil {
		c.logger.Warn("analysis cache store failed", zap.String("cache_key", key), zap.Error(err))
	}
	return result, false, nil
}

// Purge removes expired entries and returns how many were deleted.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	cutoff := c.clock().Add(-c.ttl).Unix()
	result := c.db.WithContext(ctx).Where("created_at_s <= ?", cutoff).Delete(&CacheEntry{})
	return result.RowsAffected, result.Error
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(hit)
	}
}
