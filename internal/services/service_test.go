package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/policy"
)

type memStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{items: map[string][]byte{}}
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func newTestPolicyCache(t *testing.T, db *gorm.DB) *policy.Cache {
	t.Helper()

	registry, err := policy.NewGormRegistrySource(db)
	require.NoError(t, err)
	permissions, err := policy.NewGormPermissionSource(db)
	require.NoError(t, err)

	return policy.NewCache(newMemStore(), registry, permissions, policy.TTLConfig{}, nil)
}
