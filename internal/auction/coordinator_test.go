package auction

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"artmarket/internal/markerrors"
	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/session"
	"artmarket/internal/wei"
)

// Well-known throwaway development key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.NewFromKey(testKey, big.NewInt(1337))
	require.NoError(t, err)
	return sess
}

type fakeBidGateway struct {
	mu      sync.Mutex
	calls   int
	err     error
	receipt market.TxReceipt
	block   chan struct{}
}

func (g *fakeBidGateway) PlaceBid(ctx context.Context, _ *session.Session, _ uint64, _ *big.Int) (market.TxReceipt, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return market.TxReceipt{}, ctx.Err()
		}
	}
	if g.err != nil {
		return market.TxReceipt{}, g.err
	}
	return g.receipt, nil
}

func (g *fakeBidGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func activeItem(owner, highestBidder string, highestEther string) model.AuctionItem {
	highest, err := wei.ParseEther(highestEther)
	if err != nil {
		panic(err)
	}
	return model.AuctionItem{
		TokenID:       7,
		Owner:         owner,
		HighestBid:    highest,
		HighestBidder: highestBidder,
		EndTime:       uint64(time.Now().Add(time.Hour).Unix()),
		Active:        true,
	}
}

func TestMinimumNextBid(t *testing.T) {
	require.Equal(t, "0.1", wei.FormatEther(MinimumNextBid(nil)))
	require.Equal(t, "1.1", wei.FormatEther(MinimumNextBid(wei.Ether(1))))
}

func TestPlaceBidBelowMinimumRejectedLocally(t *testing.T) {
	gateway := &fakeBidGateway{}
	coordinator := NewCoordinator(gateway, nil, nil)

	item := activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	amount, err := wei.ParseEther("1.05")
	require.NoError(t, err)

	_, err = coordinator.PlaceBid(context.Background(), testSession(t), item, amount)
	require.ErrorIs(t, err, markerrors.ErrBidTooLow)
	require.Contains(t, err.Error(), "1.1 ETH")
	require.Equal(t, 0, gateway.callCount(), "rejected bid must not reach the contract")
}

func TestPlaceBidAtMinimumAccepted(t *testing.T) {
	gateway := &fakeBidGateway{receipt: market.TxReceipt{TxHash: "0xabc", BlockNumber: 42}}
	coordinator := NewCoordinator(gateway, nil, nil)

	item := activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	amount, err := wei.ParseEther("1.1")
	require.NoError(t, err)

	receipt, err := coordinator.PlaceBid(context.Background(), testSession(t), item, amount)
	require.NoError(t, err)
	require.Equal(t, uint64(7), receipt.TokenID)
	require.Equal(t, "0xabc", receipt.TxHash)
	require.Equal(t, uint64(42), receipt.BlockNumber)
	require.Equal(t, 1, gateway.callCount())
}

func TestPlaceBidWithoutSession(t *testing.T) {
	coordinator := NewCoordinator(&fakeBidGateway{}, nil, nil)

	item := activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	_, err := coordinator.PlaceBid(context.Background(), nil, item, wei.Ether(2))
	require.ErrorIs(t, err, markerrors.ErrNotConnected)
}

func TestPlaceBidOnEndedAuction(t *testing.T) {
	coordinator := NewCoordinator(&fakeBidGateway{}, nil, nil)

	item := activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	item.EndTime = uint64(time.Now().Add(-time.Minute).Unix())

	_, err := coordinator.PlaceBid(context.Background(), testSession(t), item, wei.Ether(2))
	require.ErrorIs(t, err, markerrors.ErrAuctionEnded)

	item = activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	item.Active = false
	_, err = coordinator.PlaceBid(context.Background(), testSession(t), item, wei.Ether(2))
	require.ErrorIs(t, err, markerrors.ErrAuctionEnded)
}

func TestPlaceBidGatewayFailure(t *testing.T) {
	gateway := &fakeBidGateway{err: errors.New("execution reverted")}
	coordinator := NewCoordinator(gateway, nil, nil)

	item := activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	_, err := coordinator.PlaceBid(context.Background(), testSession(t), item, wei.Ether(2))
	require.ErrorIs(t, err, markerrors.ErrBidRejected)
}

func TestPlaceBidFanOut(t *testing.T) {
	owner := "0x00000000000000000000000000000000000000aa"
	previous := "0x00000000000000000000000000000000000000bb"

	gateway := &fakeBidGateway{receipt: market.TxReceipt{TxHash: "0xdef", BlockNumber: 50}}
	store := notify.NewMemoryStore()
	coordinator := NewCoordinator(gateway, notify.NewNotifier(store, nil), nil)

	item := activeItem(owner, previous, "1.2")
	amount, err := wei.ParseEther("1.35")
	require.NoError(t, err)

	_, err = coordinator.PlaceBid(context.Background(), testSession(t), item, amount)
	require.NoError(t, err)

	ctx := context.Background()

	ownerNotices, err := store.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, ownerNotices, 1)
	require.Equal(t, model.KindNewBid, ownerNotices[0].Kind)
	require.Contains(t, ownerNotices[0].Message, "1.35 ETH")

	previousNotices, err := store.List(ctx, previous)
	require.NoError(t, err)
	require.Len(t, previousNotices, 1)
	require.Equal(t, model.KindOutbid, previousNotices[0].Kind)
	require.Contains(t, previousNotices[0].Message, "1.2 ETH")
}

func TestPlaceBidNoOutbidForSameBidder(t *testing.T) {
	owner := "0x00000000000000000000000000000000000000aa"
	sess := testSession(t)
	bidder := sess.Address().Hex()

	gateway := &fakeBidGateway{receipt: market.TxReceipt{TxHash: "0x1", BlockNumber: 1}}
	store := notify.NewMemoryStore()
	coordinator := NewCoordinator(gateway, notify.NewNotifier(store, nil), nil)

	// The session holder raises their own standing bid.
	item := activeItem(owner, bidder, "1")
	amount, err := wei.ParseEther("1.1")
	require.NoError(t, err)

	_, err = coordinator.PlaceBid(context.Background(), sess, item, amount)
	require.NoError(t, err)

	bidderNotices, err := store.List(context.Background(), bidder)
	require.NoError(t, err)
	require.Empty(t, bidderNotices, "raising your own bid is not an outbid")
}

func TestPlaceBidNoNewBidNoticeForOwner(t *testing.T) {
	sess := testSession(t)
	owner := sess.Address().Hex()

	gateway := &fakeBidGateway{receipt: market.TxReceipt{TxHash: "0x1", BlockNumber: 1}}
	store := notify.NewMemoryStore()
	coordinator := NewCoordinator(gateway, notify.NewNotifier(store, nil), nil)

	item := activeItem(owner, "", "1")
	amount, err := wei.ParseEther("1.1")
	require.NoError(t, err)

	_, err = coordinator.PlaceBid(context.Background(), sess, item, amount)
	require.NoError(t, err)

	ownerNotices, err := store.List(context.Background(), owner)
	require.NoError(t, err)
	require.Empty(t, ownerNotices)
}

func TestPlaceBidInFlightGuard(t *testing.T) {
	gateway := &fakeBidGateway{
		receipt: market.TxReceipt{TxHash: "0x1", BlockNumber: 1},
		block:   make(chan struct{}),
	}
	coordinator := NewCoordinator(gateway, nil, nil)
	sess := testSession(t)

	item := activeItem("0x00000000000000000000000000000000000000aa", "", "1")
	amount, err := wei.ParseEther("1.5")
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := coordinator.PlaceBid(context.Background(), sess, item, amount)
		firstDone <- err
	}()

	// Wait until the first submission is inside the gateway.
	require.Eventually(t, func() bool { return gateway.callCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err = coordinator.PlaceBid(context.Background(), sess, item, amount)
	require.ErrorIs(t, err, markerrors.ErrBidPending)

	close(gateway.block)
	require.NoError(t, <-firstDone)

	// Once the first settles, the slot is free again.
	_, err = coordinator.PlaceBid(context.Background(), sess, item, amount)
	require.NoError(t, err)
}
