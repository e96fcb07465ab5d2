// Package stats tracks per-address lifetime marketplace counters.
package stats

import (
	"context"
	"sync"

	"artmarket/internal/model"
)

// Store persists user statistics.
type Store interface {
	IncrementMinted(ctx context.Context, address string) error
	IncrementBought(ctx context.Context, address string) error
	IncrementSold(ctx context.Context, address string) error
	Get(ctx context.Context, address string) (model.UserStats, error)
}

// MemoryStore is a concurrency-safe in-memory Store. Unknown addresses
// read as zero counters.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.UserStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]model.UserStats)}
}

func (s *MemoryStore) IncrementMinted(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.data[address]
	entry.Address = address
	entry.NFTsMinted++
	s.data[address] = entry
	return nil
}

func (s *MemoryStore) IncrementBought(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.data[address]
	entry.Address = address
	entry.NFTsBought++
	s.data[address] = entry
	return nil
}

func (s *MemoryStore) IncrementSold(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.data[address]
	entry.Address = address
	entry.NFTsSold++
	s.data[address] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, address string) (model.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.data[address]
	if !ok {
		return model.UserStats{Address: address}, nil
	}
	return entry, nil
}
