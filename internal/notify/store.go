package notify

import (
	"context"
	"sort"
	"sync"

	"artmarket/internal/model"
)

// Store persists recipient-addressed notifications.
type Store interface {
	Insert(ctx context.Context, n model.Notification) error
	ExistsEvent(ctx context.Context, recipient, eventKey string) (bool, error)
	UpsertChatUnread(ctx context.Context, n model.Notification) error
	List(ctx context.Context, recipient string) ([]model.Notification, error)
	MarkRead(ctx context.Context, recipient, id string) error
	UnreadCount(ctx context.Context, recipient string) (int, error)
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]model.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]model.Notification)}
}

// Insert appends a notification record for its recipient.
func (s *MemoryStore) Insert(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[n.Recipient] = append(s.data[n.Recipient], n)
	return nil
}

// ExistsEvent reports whether the recipient already holds a notification
// with the given event key.
func (s *MemoryStore) ExistsEvent(_ context.Context, recipient, eventKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.data[recipient] {
		if n.EventKey == eventKey {
			return true, nil
		}
	}
	return false, nil
}

// UpsertChatUnread increments the unread counter of the chat notification
// keyed by (recipient, chat id), inserting it on first message.
func (s *MemoryStore) UpsertChatUnread(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.data[n.Recipient]
	for i := range records {
		if records[i].Kind == model.KindChatMessage && records[i].ChatID == n.ChatID {
			records[i].UnreadCount++
			records[i].Read = false
			records[i].Message = n.Message
			records[i].Timestamp = n.Timestamp
			return nil
		}
	}

	n.UnreadCount = 1
	s.data[n.Recipient] = append(records, n)
	return nil
}

// List returns the recipient's notifications, newest first.
func (s *MemoryStore) List(_ context.Context, recipient string) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.Notification(nil), s.data[recipient]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

// MarkRead flips the read flag of one notification.
func (s *MemoryStore) MarkRead(_ context.Context, recipient, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.data[recipient]
	for i := range records {
		if records[i].ID == id {
			records[i].Read = true
			records[i].UnreadCount = 0
			return nil
		}
	}
	return nil
}

// UnreadCount returns the number of unread notifications for a recipient.
func (s *MemoryStore) UnreadCount(_ context.Context, recipient string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.data[recipient] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}
