package objstore

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingStore is a write-through cache that wraps another ObjectStore.
// It keeps the most recently used objects in memory.
type CachingStore struct {
	underlying ObjectStore
	cache      *lru.Cache[string, []byte]
}

var _ ObjectStore = (*CachingStore)(nil)

// NewCachingStore creates a new CachingStore holding at most size objects.
func NewCachingStore(underlying ObjectStore, size int) (*CachingStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create object cache: %w", err)
	}
	return &CachingStore{
		underlying: underlying,
		cache:      cache,
	}, nil
}

func (s *CachingStore) Put(ctx context.Context, location string, data []byte) (string, error) {
	// Write-through to underlying store first
	loc, err := s.underlying.Put(ctx, location, data)
	if err != nil {
		return "", err
	}
	s.cache.Add(loc, slices.Clone(data))
	return loc, nil
}

func (s *CachingStore) Get(ctx context.Context, location string) ([]byte, error) {
	if data, ok := s.cache.Get(location); ok {
		return slices.Clone(data), nil
	}
	data, err := s.underlying.Get(ctx, location)
	if err != nil {
		return nil, err
	}
	s.cache.Add(location, slices.Clone(data))
	return data, nil
}

// Len returns the number of cached objects.
func (s *CachingStore) Len() int {
	return s.cache.Len()
}
