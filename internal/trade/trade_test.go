package trade

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"artmarket/internal/markerrors"
	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/session"
	"artmarket/internal/stats"
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

type fakeTradeGateway struct {
	owner   common.Address
	listing model.ListingType
	price   *big.Int
	uri     string

	buyCalls  int
	mintCalls int
	receipt   market.TxReceipt
}

func (g *fakeTradeGateway) OwnerOf(context.Context, uint64) (common.Address, error) {
	return g.owner, nil
}

func (g *fakeTradeGateway) GetPrice(context.Context, uint64) (*big.Int, error) {
	return g.price, nil
}

func (g *fakeTradeGateway) ListingType(context.Context, uint64) (model.ListingType, error) {
	return g.listing, nil
}

func (g *fakeTradeGateway) TokenURI(context.Context, uint64) (string, error) {
	return g.uri, nil
}

func (g *fakeTradeGateway) Buy(_ context.Context, _ *session.Session, _ uint64, _ *big.Int) (market.TxReceipt, error) {
	g.buyCalls++
	return g.receipt, nil
}

func (g *fakeTradeGateway) Mint(_ context.Context, _ *session.Session, _ string) (market.TxReceipt, error) {
	g.mintCalls++
	return g.receipt, nil
}

func TestBuy(t *testing.T) {
	seller := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	gateway := &fakeTradeGateway{
		owner:   seller,
		listing: model.ListingMarket,
		price:   wei.Ether(2),
		receipt: market.TxReceipt{TxHash: "0xabc", BlockNumber: 10},
	}

	noticeStore := notify.NewMemoryStore()
	statsStore := stats.NewMemoryStore()
	priceStore := pricehist.NewMemoryStore()

	purchaser := NewPurchaser(gateway,
		notify.NewNotifier(noticeStore, nil),
		statsStore,
		pricehist.NewRecorder(priceStore),
		nil, nil)

	sess := testSession(t)
	receipt, err := purchaser.Buy(context.Background(), sess, 7)
	require.NoError(t, err)
	require.Equal(t, "0xabc", receipt.TxHash)
	require.Equal(t, 1, gateway.buyCalls)

	ctx := context.Background()

	notices, err := noticeStore.List(ctx, seller.Hex())
	require.NoError(t, err)
	require.Len(t, notices, 1)
	require.Equal(t, model.KindNFTPurchase, notices[0].Kind)
	require.Contains(t, notices[0].Message, "2 ETH")

	buyerStats, err := statsStore.Get(ctx, sess.Address().Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(1), buyerStats.NFTsBought)

	sellerStats, err := statsStore.Get(ctx, seller.Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(1), sellerStats.NFTsSold)

	history, err := priceStore.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "2", history[0].PriceEther)
}

func TestBuyOwnTokenRejected(t *testing.T) {
	sess := testSession(t)
	gateway := &fakeTradeGateway{
		owner:   sess.Address(),
		listing: model.ListingMarket,
		price:   wei.Ether(1),
	}
	purchaser := NewPurchaser(gateway, nil, nil, nil, nil, nil)

	_, err := purchaser.Buy(context.Background(), sess, 7)
	require.ErrorIs(t, err, markerrors.ErrInvalidInput)
	require.Zero(t, gateway.buyCalls)
}

func TestBuyUnlistedTokenRejected(t *testing.T) {
	gateway := &fakeTradeGateway{
		owner:   common.HexToAddress("0xaa"),
		listing: model.ListingAuction,
	}
	purchaser := NewPurchaser(gateway, nil, nil, nil, nil, nil)

	_, err := purchaser.Buy(context.Background(), testSession(t), 7)
	require.ErrorIs(t, err, markerrors.ErrNotFound)
	require.Zero(t, gateway.buyCalls)
}

func TestBuyWithoutSession(t *testing.T) {
	purchaser := NewPurchaser(&fakeTradeGateway{}, nil, nil, nil, nil, nil)
	_, err := purchaser.Buy(context.Background(), nil, 7)
	require.ErrorIs(t, err, markerrors.ErrNotConnected)
}

func TestMint(t *testing.T) {
	gateway := &fakeTradeGateway{receipt: market.TxReceipt{TxHash: "0x1", BlockNumber: 1}}
	statsStore := stats.NewMemoryStore()
	purchaser := NewPurchaser(gateway, nil, statsStore, nil, nil, nil)

	sess := testSession(t)
	_, err := purchaser.Mint(context.Background(), sess, "ipfs://meta")
	require.NoError(t, err)
	require.Equal(t, 1, gateway.mintCalls)

	minterStats, err := statsStore.Get(context.Background(), sess.Address().Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(1), minterStats.NFTsMinted)
}

func TestMintEmptyURI(t *testing.T) {
	purchaser := NewPurchaser(&fakeTradeGateway{}, nil, nil, nil, nil, nil)
	_, err := purchaser.Mint(context.Background(), testSession(t), "")
	require.ErrorIs(t, err, markerrors.ErrInvalidInput)
}
