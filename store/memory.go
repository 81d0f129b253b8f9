package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store using ttlcache. Entries written with SetTTL
// expire on their own, which keeps abandoned handshake state from
// lingering.
type MemoryStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryStore creates a new in-memory store with automatic cleanup of
// expired entries.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool) {
	item := s.cache.Get(key)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Set implements Store.Set.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, ttlcache.NoTTL)
	return nil
}

// SetTTL implements Store.SetTTL.
func (s *MemoryStore) SetTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(key, value, ttl)
	return nil
}

// Remove implements Store.Remove.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Clear implements Store.Clear.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.cache.DeleteAll()
	return nil
}

// Keys implements Store.Keys.
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	return s.cache.Keys(), nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ Store = (*MemoryStore)(nil)
