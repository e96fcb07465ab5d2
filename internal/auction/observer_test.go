package auction

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"artmarket/internal/markerrors"
	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/profile"
	"artmarket/internal/wei"
)

type fakeSubscription struct {
	errs chan error
	once sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errs: make(chan error, 1)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errs) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errs
}

type fakeObserverGateway struct {
	listing   model.ListingType
	owner     common.Address
	uri       string
	details   market.AuctionDetails
	latest    uint64
	logs      []types.Log
	timestamp uint64

	mu   sync.Mutex
	sink chan<- types.Log
	sub  *fakeSubscription
}

func (g *fakeObserverGateway) ListingType(context.Context, uint64) (model.ListingType, error) {
	return g.listing, nil
}

func (g *fakeObserverGateway) TokenURI(context.Context, uint64) (string, error) {
	return g.uri, nil
}

func (g *fakeObserverGateway) OwnerOf(context.Context, uint64) (common.Address, error) {
	return g.owner, nil
}

func (g *fakeObserverGateway) GetAuctionDetails(context.Context, uint64) (market.AuctionDetails, error) {
	return g.details, nil
}

func (g *fakeObserverGateway) LatestBlock(context.Context) (uint64, error) {
	return g.latest, nil
}

func (g *fakeObserverGateway) BlockTimestamp(_ context.Context, _ uint64) (uint64, error) {
	return g.timestamp, nil
}

func (g *fakeObserverGateway) FilterAuctionLogs(_ context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var out []types.Log
	for _, log := range g.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (g *fakeObserverGateway) SubscribeAuctionLogs(_ context.Context, sink chan<- types.Log) (ethereum.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
	g.sub = newFakeSubscription()
	return g.sub, nil
}

func (g *fakeObserverGateway) emit(log types.Log) {
	g.mu.Lock()
	sink := g.sink
	g.mu.Unlock()
	sink <- log
}

func bidPlacedLog(t *testing.T, tokenID uint64, bidder string, amountEther string, block uint64, txHash string, index uint) types.Log {
	t.Helper()
	contractABI, err := market.ArtNFTABI()
	require.NoError(t, err)

	amount, err := wei.ParseEther(amountEther)
	require.NoError(t, err)

	data, err := contractABI.Events[market.EventBidPlaced].Inputs.Pack(
		new(big.Int).SetUint64(tokenID), common.HexToAddress(bidder), amount,
	)
	require.NoError(t, err)

	return types.Log{
		Topics:      []common.Hash{contractABI.Events[market.EventBidPlaced].ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
		Index:       index,
	}
}

func auctionEndedLog(t *testing.T, tokenID uint64, winner string, finalEther string, block uint64, txHash string, index uint) types.Log {
	t.Helper()
	contractABI, err := market.ArtNFTABI()
	require.NoError(t, err)

	finalBid, err := wei.ParseEther(finalEther)
	require.NoError(t, err)

	data, err := contractABI.Events[market.EventAuctionEnded].Inputs.Pack(
		new(big.Int).SetUint64(tokenID), common.HexToAddress(winner), finalBid,
	)
	require.NoError(t, err)

	return types.Log{
		Topics:      []common.Hash{contractABI.Events[market.EventAuctionEnded].ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
		Index:       index,
	}
}

func TestLoadDetails(t *testing.T) {
	gateway := &fakeObserverGateway{
		listing: model.ListingAuction,
		owner:   common.HexToAddress("0xaa"),
		details: market.AuctionDetails{
			Active:        true,
			HighestBidder: common.HexToAddress("0xbb"),
			HighestBid:    wei.Ether(2),
			EndTime:       1700000000,
		},
	}

	observer := NewObserver(ObserverConfig{TokenID: 7}, gateway, ObserverDeps{})

	item, err := observer.LoadDetails(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), item.TokenID)
	require.Equal(t, gateway.owner.Hex(), item.Owner)
	require.Equal(t, gateway.details.HighestBidder.Hex(), item.HighestBidder)
	require.Equal(t, "2", wei.FormatEther(item.HighestBid))
	require.True(t, item.Active)
}

func TestLoadDetailsNonAuctionListing(t *testing.T) {
	gateway := &fakeObserverGateway{listing: model.ListingMarket}
	observer := NewObserver(ObserverConfig{TokenID: 7}, gateway, ObserverDeps{})

	_, err := observer.LoadDetails(context.Background())
	require.ErrorIs(t, err, markerrors.ErrNotFound)
}

func TestLoadBidHistory(t *testing.T) {
	gateway := &fakeObserverGateway{
		latest:    250,
		timestamp: 1700000100,
		logs: []types.Log{
			bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000bb", "1.2", 100, "0x01", 0),
			// A bid on another token in the same contract is filtered out.
			bidPlacedLog(t, 9, "0x00000000000000000000000000000000000000cc", "3", 150, "0x02", 0),
			bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000dd", "1.35", 200, "0x03", 1),
		},
	}

	resolver := profile.NewMemoryResolver()
	resolver.SetDisplayName("0x00000000000000000000000000000000000000bb", "alice")

	observer := NewObserver(
		ObserverConfig{TokenID: 7, FromBlock: 1, BatchSize: 100},
		gateway,
		ObserverDeps{Profiles: resolver},
	)

	bids, err := observer.LoadBidHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, bids, 2)

	require.Equal(t, "1.2", bids[0].AmountEther)
	require.Equal(t, "alice", bids[0].BidderName)
	require.Equal(t, uint64(100), bids[0].BlockNumber)

	require.Equal(t, "1.35", bids[1].AmountEther)
	// Unknown bidders fall back to the shortened address.
	require.Equal(t, model.ShortAddress("0x00000000000000000000000000000000000000DD"), bids[1].BidderName)
}

func TestSubscribeDeliversAndFilters(t *testing.T) {
	gateway := &fakeObserverGateway{}
	observer := NewObserver(ObserverConfig{TokenID: 7}, gateway, ObserverDeps{})

	events := make(chan model.BidPlacedEvent, 8)
	sub, err := observer.Subscribe(context.Background(), func(e model.BidPlacedEvent) { events <- e }, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	gateway.emit(bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000bb", "1.2", 100, "0x01", 0))
	gateway.emit(bidPlacedLog(t, 9, "0x00000000000000000000000000000000000000cc", "5", 101, "0x02", 0))

	select {
	case event := <-events:
		require.Equal(t, uint64(7), event.TokenID.Uint64())
		require.Equal(t, "1.2", wei.FormatEther(event.Amount))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bid event")
	}

	select {
	case event := <-events:
		t.Fatalf("unexpected event for token %d", event.TokenID.Uint64())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeDuplicateDeliveryIsIdempotent(t *testing.T) {
	gateway := &fakeObserverGateway{}
	observer := NewObserver(ObserverConfig{TokenID: 7}, gateway, ObserverDeps{})

	events := make(chan model.BidPlacedEvent, 8)
	sub, err := observer.Subscribe(context.Background(), func(e model.BidPlacedEvent) { events <- e }, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	log := bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000bb", "1.2", 100, "0x01", 0)
	gateway.emit(log)
	gateway.emit(log)

	<-events
	select {
	case <-events:
		t.Fatal("duplicate log reached the handler")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	gateway := &fakeObserverGateway{}
	observer := NewObserver(ObserverConfig{TokenID: 7}, gateway, ObserverDeps{})

	var mu sync.Mutex
	delivered := 0
	sub, err := observer.Subscribe(context.Background(), func(model.BidPlacedEvent) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	gateway.emit(bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000bb", "1.2", 100, "0x01", 0))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe() // safe to repeat

	// Logs still sitting in the buffer after Unsubscribe returns are dropped.
	select {
	case gateway.sink <- bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000bb", "1.3", 101, "0x02", 0):
	default:
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, delivered)
}

func TestAuctionEndedSettlement(t *testing.T) {
	winner := "0x00000000000000000000000000000000000000ee"
	seller := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	gateway := &fakeObserverGateway{
		listing: model.ListingAuction,
		owner:   seller,
		details: market.AuctionDetails{Active: true, HighestBid: wei.Ether(1), EndTime: 1700000000},
	}

	noticeStore := notify.NewMemoryStore()
	priceStore := pricehist.NewMemoryStore()

	observer := NewObserver(ObserverConfig{TokenID: 7}, gateway, ObserverDeps{
		Notifier: notify.NewNotifier(noticeStore, nil),
		Prices:   pricehist.NewRecorder(priceStore),
	})

	ctx := context.Background()

	// Seed the prior settlement price and cache the seller.
	_, err := pricehist.NewRecorder(priceStore).Record(ctx, 7, mustEther(t, "1.5"))
	require.NoError(t, err)
	_, err = observer.LoadDetails(ctx)
	require.NoError(t, err)

	ended := make(chan model.AuctionEndedEvent, 1)
	sub, err := observer.Subscribe(ctx, nil, func(e model.AuctionEndedEvent) { ended <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	gateway.emit(auctionEndedLog(t, 7, winner, "2", 300, "0x09", 0))

	select {
	case event := <-ended:
		require.Equal(t, common.HexToAddress(winner), common.HexToAddress(event.Winner))
		require.Equal(t, "2", wei.FormatEther(event.FinalBid))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auction end")
	}

	history, err := priceStore.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "2", history[1].PriceEther)
	require.Equal(t, model.ChangeIncrease, history[1].ChangeType)

	winNotices, err := noticeStore.List(ctx, common.HexToAddress(winner).Hex())
	require.NoError(t, err)
	require.Len(t, winNotices, 1)
	require.Equal(t, model.KindAuctionWin, winNotices[0].Kind)
	require.Contains(t, winNotices[0].Message, "2 ETH")

	saleNotices, err := noticeStore.List(ctx, seller.Hex())
	require.NoError(t, err)
	require.Len(t, saleNotices, 1)
	require.Equal(t, model.KindAuctionSale, saleNotices[0].Kind)
}

func mustEther(t *testing.T, value string) *big.Int {
	t.Helper()
	amount, err := wei.ParseEther(value)
	require.NoError(t, err)
	return amount
}
