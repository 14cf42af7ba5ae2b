package domain

import (
	"context"
	"time"
)

// Cache is the lookup cache used in front of the profile store and for
// alert throttling. Two-phase setups layer a local LRU over Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetProfile retrieves a cached entity profile, nil on miss.
	GetProfile(ctx context.Context, entityID string) (*Profile, error)

	// SetProfile caches an entity profile.
	SetProfile(ctx context.Context, entityID string, p *Profile, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used to throttle repeated alert publications per case.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
