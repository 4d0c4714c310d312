package cache

import (
	"context"
	"time"

	"github.com/loomworks/fabricgate/pkg/metrics"
)

// Tiered composes a fast in-process tier in front of the shared distributed tier.
//
// Reads consult the local tier first and fall back to the remote tier, repopulating
// the local tier with a bounded TTL. Writes and deletes go through to both tiers;
// deletes hit the remote tier first so that no instance can repopulate it from a
// stale local entry after an eviction returns.
type Tiered struct {
	local    Store
	remote   Store
	localTTL time.Duration
}

const defaultLocalTTL = time.Minute

// NewTiered builds the two-tier composition. localTTL caps how long a locally cached
// copy may outlive an eviction performed by another instance.
func NewTiered(local, remote Store, localTTL time.Duration) *Tiered {
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	return &Tiered{local: local, remote: remote, localTTL: localTTL}
}

// Set writes through to both tiers.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	localTTL := ttl
	if localTTL > t.localTTL {
		localTTL = t.localTTL
	}
	return t.local.Set(ctx, key, value, localTTL)
}

// Get returns the first hit across the tiers.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if value, ok, err := t.local.Get(ctx, key); err == nil && ok {
		metrics.CacheLookups.WithLabelValues("local", "hit").Inc()
		return value, true, nil
	}
	metrics.CacheLookups.WithLabelValues("local", "miss").Inc()

	value, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("redis", "error").Inc()
		return nil, false, err
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false, nil
	}
	metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()

	_ = t.local.Set(ctx, key, value, t.localTTL)
	return value, true, nil
}

// Delete evicts the keys from both tiers, remote first.
func (t *Tiered) Delete(ctx context.Context, keys ...string) error {
	if err := t.remote.Delete(ctx, keys...); err != nil {
		return err
	}
	return t.local.Delete(ctx, keys...)
}
