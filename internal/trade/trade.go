// Package trade implements the direct-purchase and minting flows.
package trade

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"artmarket/internal/markerrors"
	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/session"
	"artmarket/internal/stats"
	"artmarket/internal/wei"
)

// TradeGateway is the contract surface purchases and mints go through.
type TradeGateway interface {
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
	GetPrice(ctx context.Context, tokenID uint64) (*big.Int, error)
	ListingType(ctx context.Context, tokenID uint64) (model.ListingType, error)
	TokenURI(ctx context.Context, tokenID uint64) (string, error)
	Buy(ctx context.Context, sess *session.Session, tokenID uint64, value *big.Int) (market.TxReceipt, error)
	Mint(ctx context.Context, sess *session.Session, uri string) (market.TxReceipt, error)
}

// MetadataFetcher resolves a token URI to its metadata document.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (model.TokenMetadata, error)
}

// Purchaser executes buys and mints against the market contract and
// records their side effects. Notifier, Stats, Prices, and Metadata are
// each optional; a failed side effect never fails a settled purchase.
type Purchaser struct {
	gateway  TradeGateway
	notifier *notify.Notifier
	stats    stats.Store
	prices   *pricehist.Recorder
	metadata MetadataFetcher
	logger   *zap.Logger
}

func NewPurchaser(gateway TradeGateway, notifier *notify.Notifier, statsStore stats.Store, prices *pricehist.Recorder, metadata MetadataFetcher, logger *zap.Logger) *Purchaser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purchaser{
		gateway:  gateway,
		notifier: notifier,
		stats:    statsStore,
		prices:   prices,
		metadata: metadata,
		logger:   logger,
	}
}

// Buy purchases a fixed-price token for its asking price. Buying your
// own token is rejected before any transaction is sent.
func (p *Purchaser) Buy(ctx context.Context, sess *session.Session, tokenID uint64) (market.TxReceipt, error) {
	if sess == nil {
		return market.TxReceipt{}, markerrors.ErrNotConnected
	}

	owner, err := p.gateway.OwnerOf(ctx, tokenID)
	if err != nil {
		return market.TxReceipt{}, fmt.Errorf("get owner: %w", err)
	}
	if owner == sess.Address() {
		return market.TxReceipt{}, fmt.Errorf("%w: cannot buy your own token", markerrors.ErrInvalidInput)
	}

	listing, err := p.gateway.ListingType(ctx, tokenID)
	if err != nil {
		return market.TxReceipt{}, fmt.Errorf("get listing type: %w", err)
	}
	if listing != model.ListingMarket {
		return market.TxReceipt{}, fmt.Errorf("%w: token %d is not listed for sale", markerrors.ErrNotFound, tokenID)
	}

	price, err := p.gateway.GetPrice(ctx, tokenID)
	if err != nil {
		return market.TxReceipt{}, fmt.Errorf("get price: %w", err)
	}

	receipt, err := p.gateway.Buy(ctx, sess, tokenID, price)
	if err != nil {
		return market.TxReceipt{}, err
	}

	p.settle(ctx, sess.Address().Hex(), owner.Hex(), tokenID, price, receipt)
	return receipt, nil
}

// Mint creates a new token pointing at the given metadata URI.
func (p *Purchaser) Mint(ctx context.Context, sess *session.Session, uri string) (market.TxReceipt, error) {
	if sess == nil {
		return market.TxReceipt{}, markerrors.ErrNotConnected
	}
	if uri == "" {
		return market.TxReceipt{}, fmt.Errorf("%w: token uri is required", markerrors.ErrInvalidInput)
	}

	receipt, err := p.gateway.Mint(ctx, sess, uri)
	if err != nil {
		return market.TxReceipt{}, err
	}

	if p.stats != nil {
		if err := p.stats.IncrementMinted(ctx, sess.Address().Hex()); err != nil {
			p.logger.Warn("minted counter update failed", zap.String("address", sess.Address().Hex()), zap.Error(err))
		}
	}
	return receipt, nil
}

func (p *Purchaser) settle(ctx context.Context, buyer, seller string, tokenID uint64, price *big.Int, receipt market.TxReceipt) {
	priceEther := wei.FormatEther(price)

	if p.notifier != nil {
		n := notify.NFTPurchase(seller, buyer, tokenID, p.tokenTitle(ctx, tokenID), priceEther, receipt.TxHash)
		if err := p.notifier.Notify(ctx, n); err != nil {
			p.logger.Warn("purchase notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
	}

	if p.stats != nil {
		if err := p.stats.IncrementBought(ctx, buyer); err != nil {
			p.logger.Warn("bought counter update failed", zap.String("address", buyer), zap.Error(err))
		}
		if err := p.stats.IncrementSold(ctx, seller); err != nil {
			p.logger.Warn("sold counter update failed", zap.String("address", seller), zap.Error(err))
		}
	}

	if p.prices != nil {
		if _, err := p.prices.Record(ctx, tokenID, price); err != nil {
			p.logger.Warn("price history append failed", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
	}
}

// tokenTitle resolves a token's metadata title, falling back to a
// numeric label when metadata is unavailable.
func (p *Purchaser) tokenTitle(ctx context.Context, tokenID uint64) string {
	fallback := fmt.Sprintf("Token #%d", tokenID)
	if p.metadata == nil {
		return fallback
	}
	uri, err := p.gateway.TokenURI(ctx, tokenID)
	if err != nil {
		return fallback
	}
	meta, err := p.metadata.Fetch(ctx, uri)
	if err != nil || meta.Title == "" {
		return fallback
	}
	return meta.Title
}
