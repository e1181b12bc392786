package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
)

// Store is the external cache the decorator reads and writes. Keys come
// from Hash; implementations must be safe for concurrent use.
type Store interface {
	Hash(payload []byte) string
	Get(ctx context.Context, key string) (*ocr.Result, bool, error)
	Put(ctx context.Context, key string, res *ocr.Result) error
}

// ContentHash returns the xxhash of payload together with its length.
func ContentHash(payload []byte) string {
	return fmt.Sprintf("%016x-%x", xxhash.Sum64(payload), len(payload))
}

// MemoryStore keeps the most recently used results in process memory.
type MemoryStore struct {
	lru *lru.Cache
}

// DefaultMemoryEntries is the MemoryStore size used when none is configured.
const DefaultMemoryEntries = 256

// NewMemoryStore returns a store holding at most size results.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryStore{lru: c}, nil
}

func (s *MemoryStore) Hash(payload []byte) string { return ContentHash(payload) }

func (s *MemoryStore) Get(_ context.Context, key string) (*ocr.Result, bool, error) {
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return cloneResult(v.(*ocr.Result)), true, nil
}

// Put stores a copy of res without its source image.
func (s *MemoryStore) Put(_ context.Context, key string, res *ocr.Result) error {
	if res == nil {
		return nil
	}
	c := cloneResult(res)
	c.Source = nil
	s.lru.Add(key, c)
	return nil
}

// Len returns the number of cached results.
func (s *MemoryStore) Len() int { return s.lru.Len() }

// Purge drops every entry.
func (s *MemoryStore) Purge() { s.lru.Purge() }

func cloneResult(r *ocr.Result) *ocr.Result {
	c := *r
	c.Regions = slices.Clone(r.Regions)
	for i, reg := range c.Regions {
		if reg.Contour != nil {
			q := *reg.Contour
			c.Regions[i].Contour = &q
		}
	}
	if r.ROI != nil {
		roi := *r.ROI
		c.ROI = &roi
	}
	return &c
}
