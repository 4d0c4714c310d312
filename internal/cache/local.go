package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalConfig tunes the in-process ristretto tier.
type LocalConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.NumCounters <= 0 {
		c.NumCounters = 1e6
	}
	if c.MaxCost <= 0 {
		c.MaxCost = 64 << 20 // 64 MiB
	}
	if c.BufferItems <= 0 {
		c.BufferItems = 64
	}
	return c
}

// LocalStore implements Store with an in-process ristretto cache. Admission is
// best-effort: a freshly written entry may be rejected under memory pressure, which
// only costs a lookup against the next tier. Deletes are applied immediately.
type LocalStore struct {
	cache *ristretto.Cache
}

// NewLocalStore builds the in-process tier.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	cfg = cfg.withDefaults()
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &LocalStore{cache: c}, nil
}

// Set stores a value with the supplied TTL, costed by payload size.
func (s *LocalStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cost := int64(len(value))
	if cost <= 0 {
		cost = 1
	}
	s.cache.SetWithTTL(key, value, cost, ttl)
	return nil
}

// Get retrieves the value associated with a key.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	value, ok := v.([]byte)
	if !ok {
		// Unexpected payload type; treat as a miss and drop the entry.
		s.cache.Del(key)
		return nil, false, nil
	}
	return value, true, nil
}

// Delete removes the supplied keys.
func (s *LocalStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Del(key)
	}
	return nil
}

// Wait blocks until buffered writes have been applied. Used by tests.
func (s *LocalStore) Wait() {
	s.cache.Wait()
}

// Close releases the cache resources.
func (s *LocalStore) Close() {
	s.cache.Close()
}
