// Package postgres provides Postgres persistence for notifications,
// price histories, and user statistics.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"artmarket/internal/model"
)

// Store provides Postgres persistence for marketplace state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the store reads and writes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			read BOOLEAN NOT NULL DEFAULT FALSE,
			link TEXT NOT NULL DEFAULT '',
			event_key TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			sender_id TEXT NOT NULL DEFAULT '',
			unread_count INTEGER NOT NULL DEFAULT 0,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications (recipient)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS notifications_event_key_idx
			ON notifications (recipient, event_key) WHERE event_key <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS notifications_chat_idx
			ON notifications (recipient, chat_id) WHERE chat_id <> ''`,
		`CREATE TABLE IF NOT EXISTS price_history (
			token_id BIGINT NOT NULL,
			price_eth TEXT NOT NULL,
			change_type TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS price_history_token_idx ON price_history (token_id)`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			address TEXT PRIMARY KEY,
			nfts_minted BIGINT NOT NULL DEFAULT 0,
			nfts_bought BIGINT NOT NULL DEFAULT 0,
			nfts_sold BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert stores a notification record.
func (s *Store) Insert(ctx context.Context, n model.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			id, recipient, kind, message, icon, read, link, event_key, chat_id, sender_id, unread_count, ts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		n.ID, n.Recipient, string(n.Kind), n.Message, n.Icon, n.Read,
		n.Link, n.EventKey, n.ChatID, n.SenderID, n.UnreadCount, n.Timestamp,
	)
	return err
}

// ExistsEvent reports whether the recipient already holds a notification
// with the given event key.
func (s *Store) ExistsEvent(ctx context.Context, recipient, eventKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications WHERE recipient = $1 AND event_key = $2
		)
	`, recipient, eventKey).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// UpsertChatUnread inserts a chat notification or bumps the unread
// counter of the recipient's existing record for the same chat.
func (s *Store) UpsertChatUnread(ctx context.Context, n model.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			id, recipient, kind, message, icon, read, link, event_key, chat_id, sender_id, unread_count, ts
		) VALUES ($1,$2,$3,$4,$5,FALSE,$6,$7,$8,$9,1,$10)
		ON CONFLICT (recipient, chat_id) WHERE chat_id <> ''
		DO UPDATE SET
			message = EXCLUDED.message,
			sender_id = EXCLUDED.sender_id,
			unread_count = notifications.unread_count + 1,
			read = FALSE,
			ts = EXCLUDED.ts
	`,
		n.ID, n.Recipient, string(n.Kind), n.Message, n.Icon,
		n.Link, n.EventKey, n.ChatID, n.SenderID, n.Timestamp,
	)
	return err
}

// List returns the recipient's notifications, newest first.
func (s *Store) List(ctx context.Context, recipient string) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient, kind, message, icon, read, link, event_key, chat_id, sender_id, unread_count, ts
		FROM notifications
		WHERE recipient = $1
		ORDER BY ts DESC
	`, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var kind string
		if err := rows.Scan(
			&n.ID, &n.Recipient, &kind, &n.Message, &n.Icon, &n.Read,
			&n.Link, &n.EventKey, &n.ChatID, &n.SenderID, &n.UnreadCount, &n.Timestamp,
		); err != nil {
			return nil, err
		}
		n.Kind = model.NotificationKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one of the recipient's notifications as read and resets
// its chat unread counter.
func (s *Store) MarkRead(ctx context.Context, recipient, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE, unread_count = 0
		WHERE recipient = $1 AND id = $2
	`, recipient, id)
	return err
}

// UnreadCount returns how many of the recipient's notifications are unread.
func (s *Store) UnreadCount(ctx context.Context, recipient string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE recipient = $1 AND read = FALSE
	`, recipient).Scan(&count)
	return count, err
}

// Append stores one price history point.
func (s *Store) Append(ctx context.Context, point model.PricePoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_history (token_id, price_eth, change_type, ts)
		VALUES ($1,$2,$3,$4)
	`, int64(point.TokenID), point.PriceEther, string(point.ChangeType), point.Timestamp)
	return err
}

// History returns a token's price points in insertion order.
func (s *Store) History(ctx context.Context, tokenID uint64) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, price_eth, change_type, ts
		FROM price_history
		WHERE token_id = $1
		ORDER BY ts ASC
	`, int64(tokenID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var id int64
		var change string
		if err := rows.Scan(&id, &p.PriceEther, &change, &p.Timestamp); err != nil {
			return nil, err
		}
		p.TokenID = uint64(id)
		p.ChangeType = model.PriceChangeType(change)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) IncrementMinted(ctx context.Context, address string) error {
	return s.increment(ctx, address, "nfts_minted")
}

func (s *Store) IncrementBought(ctx context.Context, address string) error {
	return s.increment(ctx, address, "nfts_bought")
}

func (s *Store) IncrementSold(ctx context.Context, address string) error {
	return s.increment(ctx, address, "nfts_sold")
}

func (s *Store) increment(ctx context.Context, address, column string) error {
	query := fmt.Sprintf(`
		INSERT INTO user_stats (address, %[1]s) VALUES ($1, 1)
		ON CONFLICT (address) DO UPDATE SET %[1]s = user_stats.%[1]s + 1
	`, column)
	_, err := s.pool.Exec(ctx, query, address)
	return err
}

// Get returns the address's counters. Unknown addresses read as zero.
func (s *Store) Get(ctx context.Context, address string) (model.UserStats, error) {
	var stats model.UserStats
	err := s.pool.QueryRow(ctx, `
		SELECT address, nfts_minted, nfts_bought, nfts_sold
		FROM user_stats WHERE address = $1
	`, address).Scan(&stats.Address, &stats.NFTsMinted, &stats.NFTsBought, &stats.NFTsSold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserStats{Address: address}, nil
		}
		return model.UserStats{}, err
	}
	return stats, nil
}
