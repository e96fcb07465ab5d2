// Package auction coordinates bid submission against the marketplace
// contract and keeps observed auction state consistent with chain truth.
package auction

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"artmarket/internal/markerrors"
	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/session"
	"artmarket/internal/wei"
)

// BidGateway is the contract surface the coordinator submits bids through.
type BidGateway interface {
	PlaceBid(ctx context.Context, sess *session.Session, tokenID uint64, value *big.Int) (market.TxReceipt, error)
}

// MinimumNextBid returns the lowest acceptable next bid: the current
// highest bid plus the 0.1 ETH market increment. The contract remains the
// authority; this policy only rejects obvious losers before spending gas.
func MinimumNextBid(highestBid *big.Int) *big.Int {
	min := wei.TenthEther()
	if highestBid != nil {
		min.Add(min, highestBid)
	}
	return min
}

// Coordinator mediates a user's intent to raise the current high bid.
// At most one submission per (bidder, item) pair is in flight at a time;
// a second concurrent attempt fails fast instead of racing the first.
type Coordinator struct {
	gateway  BidGateway
	notifier *notify.Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCoordinator(gateway BidGateway, notifier *notify.Notifier, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// PlaceBid validates amount against the item's state, submits the bid
// transaction, and on confirmation fans out notifications to the item
// owner and the outbid previous bidder. A failed submission is reported to
// the caller and never retried; the notification path never blocks or
// fails the money path.
func (c *Coordinator) PlaceBid(ctx context.Context, sess *session.Session, item model.AuctionItem, amount *big.Int) (model.BidReceipt, error) {
	if sess == nil {
		return model.BidReceipt{}, markerrors.ErrNotConnected
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.BidReceipt{}, fmt.Errorf("%w: bid amount must be positive", markerrors.ErrInvalidInput)
	}
	if !item.Active || item.Ended(c.now()) {
		return model.BidReceipt{}, fmt.Errorf("cannot bid on token %d: %w", item.TokenID, markerrors.ErrAuctionEnded)
	}

	minimum := MinimumNextBid(item.HighestBid)
	if amount.Cmp(minimum) < 0 {
		return model.BidReceipt{}, fmt.Errorf("%w: minimum is %s ETH", markerrors.ErrBidTooLow, wei.FormatEther(minimum))
	}

	bidder := sess.Address().Hex()
	key := fmt.Sprintf("%s:%d", bidder, item.TokenID)
	if !c.acquire(key) {
		return model.BidReceipt{}, fmt.Errorf("token %d: %w", item.TokenID, markerrors.ErrBidPending)
	}
	defer c.release(key)

	receipt, err := c.gateway.PlaceBid(ctx, sess, item.TokenID, amount)
	if err != nil {
		return model.BidReceipt{}, fmt.Errorf("%w: %v", markerrors.ErrBidRejected, err)
	}

	c.logger.Info("bid confirmed",
		zap.Uint64("token_id", item.TokenID),
		zap.String("bidder", bidder),
		zap.String("amount_eth", wei.FormatEther(amount)),
		zap.String("tx_hash", receipt.TxHash),
	)

	c.fanOut(ctx, item, bidder, amount, receipt)

	return model.BidReceipt{
		TokenID:     item.TokenID,
		Bidder:      bidder,
		Amount:      new(big.Int).Set(amount),
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

func (c *Coordinator) fanOut(ctx context.Context, item model.AuctionItem, bidder string, amount *big.Int, receipt market.TxReceipt) {
	if c.notifier == nil {
		return
	}

	if item.Owner != "" && !sameAccount(item.Owner, bidder) {
		n := notify.NewBid(item.Owner, bidder, item.TokenID, wei.FormatEther(amount), receipt.TxHash)
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.logger.Warn("new-bid notification dropped", zap.Uint64("token_id", item.TokenID), zap.Error(err))
		}
	}

	// Outbid notice goes to the previous leader only when someone else
	// takes over; a bidder raising their own standing bid gets nothing.
	if hasBidder(item.HighestBidder) && !sameAccount(item.HighestBidder, bidder) {
		n := notify.Outbid(item.HighestBidder, item.TokenID, wei.FormatEther(item.HighestBid), receipt.TxHash)
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.logger.Warn("outbid notification dropped", zap.Uint64("token_id", item.TokenID), zap.Error(err))
		}
	}
}

func (c *Coordinator) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

func hasBidder(addr string) bool {
	return addr != "" && common.HexToAddress(addr) != (common.Address{})
}

func sameAccount(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
