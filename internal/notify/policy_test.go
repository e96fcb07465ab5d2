package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"artmarket/internal/chat"
	"artmarket/internal/markerrors"
	"artmarket/internal/model"
)

func TestNotifyStampsRecord(t *testing.T) {
	store := NewMemoryStore()
	notifier := NewNotifier(store, nil)

	err := notifier.Notify(context.Background(), NewBid("0xaa", "0xbb", 7, "1.2", "0x01"))
	require.NoError(t, err)

	notices, err := store.List(context.Background(), "0xaa")
	require.NoError(t, err)
	require.Len(t, notices, 1)

	n := notices[0]
	require.NotEmpty(t, n.ID)
	require.NotEmpty(t, n.Timestamp)
	require.False(t, n.Read)
	require.Equal(t, model.KindIcon(model.KindNewBid), n.Icon)
	require.Equal(t, "new_bid:7:0x01", n.EventKey)
}

func TestNotifyDuplicateEventSuppressed(t *testing.T) {
	store := NewMemoryStore()
	notifier := NewNotifier(store, nil)
	ctx := context.Background()

	outbid := Outbid("0xbb", 7, "1.2", "0x02")
	require.NoError(t, notifier.Notify(ctx, outbid))
	require.NoError(t, notifier.Notify(ctx, outbid))

	notices, err := store.List(ctx, "0xbb")
	require.NoError(t, err)
	require.Len(t, notices, 1, "replayed event must not duplicate the notice")
}

func TestNotifySameEventDifferentRecipients(t *testing.T) {
	store := NewMemoryStore()
	notifier := NewNotifier(store, nil)
	ctx := context.Background()

	require.NoError(t, notifier.Notify(ctx, AuctionWin("0xaa", 7, "2", "0x03")))
	require.NoError(t, notifier.Notify(ctx, AuctionSale("0xbb", 7, "2", "0x03")))

	wins, err := store.List(ctx, "0xaa")
	require.NoError(t, err)
	require.Len(t, wins, 1)

	sales, err := store.List(ctx, "0xbb")
	require.NoError(t, err)
	require.Len(t, sales, 1)
}

func TestNotifyChatIncrementsUnread(t *testing.T) {
	store := NewMemoryStore()
	notifier := NewNotifier(store, nil)
	ctx := context.Background()

	chatID, err := chat.ID("0xaa", "0xbb")
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		require.NoError(t, notifier.Notify(ctx, ChatMessage("0xaa", "0xbb", chatID)))
	}

	notices, err := store.List(ctx, "0xbb")
	require.NoError(t, err)
	require.Len(t, notices, 1, "chat messages collapse into one record per chat")
	require.Equal(t, 12, notices[0].UnreadCount)
	require.Equal(t, "9+", chat.FormatUnread(notices[0].UnreadCount))
	require.False(t, notices[0].Read)
}

type failingStore struct {
	Store
}

func (s failingStore) Insert(context.Context, model.Notification) error {
	return errors.New("disk full")
}

func (s failingStore) ExistsEvent(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestNotifyStoreFailure(t *testing.T) {
	notifier := NewNotifier(failingStore{}, nil)

	err := notifier.Notify(context.Background(), Follow("0xaa", "0xbb"))
	require.ErrorIs(t, err, markerrors.ErrStoreWriteFailed)
}

func TestMarkReadResetsUnread(t *testing.T) {
	store := NewMemoryStore()
	notifier := NewNotifier(store, nil)
	ctx := context.Background()

	chatID, err := chat.ID("0xaa", "0xbb")
	require.NoError(t, err)
	require.NoError(t, notifier.Notify(ctx, ChatMessage("0xaa", "0xbb", chatID)))

	notices, err := store.List(ctx, "0xbb")
	require.NoError(t, err)
	require.NoError(t, store.MarkRead(ctx, "0xbb", notices[0].ID))

	count, err := store.UnreadCount(ctx, "0xbb")
	require.NoError(t, err)
	require.Zero(t, count)
}
