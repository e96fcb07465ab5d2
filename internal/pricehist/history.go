// Package pricehist keeps per-token append-only price histories with
// movement classification.
package pricehist

import (
	"context"
	"math/big"
	"sync"
	"time"

	"artmarket/internal/model"
	"artmarket/internal/wei"
)

// Store persists price history entries.
type Store interface {
	Append(ctx context.Context, point model.PricePoint) error
	History(ctx context.Context, tokenID uint64) ([]model.PricePoint, error)
}

// Classify compares a price against the previous recorded one. A nil
// previous price means the point starts the history.
func Classify(previous, price *big.Int) model.PriceChangeType {
	if previous == nil {
		return model.ChangeStarting
	}
	switch price.Cmp(previous) {
	case 1:
		return model.ChangeIncrease
	case -1:
		return model.ChangeDecrease
	default:
		return model.ChangeNone
	}
}

// Recorder appends classified price points over a Store.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record classifies priceWei against the token's last recorded point and
// appends the new entry, returning it.
func (r *Recorder) Record(ctx context.Context, tokenID uint64, priceWei *big.Int) (model.PricePoint, error) {
	history, err := r.store.History(ctx, tokenID)
	if err != nil {
		return model.PricePoint{}, err
	}

	var previous *big.Int
	if len(history) > 0 {
		last := history[len(history)-1]
		previous, err = wei.ParseEther(last.PriceEther)
		if err != nil {
			return model.PricePoint{}, err
		}
	}

	point := model.PricePoint{
		TokenID:    tokenID,
		PriceEther: wei.FormatEther(priceWei),
		ChangeType: Classify(previous, priceWei),
		Timestamp:  r.now().UTC().Format(time.RFC3339),
	}
	if err := r.store.Append(ctx, point); err != nil {
		return model.PricePoint{}, err
	}
	return point, nil
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uint64][]model.PricePoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uint64][]model.PricePoint)}
}

func (s *MemoryStore) Append(_ context.Context, point model.PricePoint) error {
	s.mu.Lock()
	s.data[point.TokenID] = append(s.data[point.TokenID], point)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) History(_ context.Context, tokenID uint64) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.PricePoint(nil), s.data[tokenID]...), nil
}
