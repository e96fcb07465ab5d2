package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"artmarket/internal/markerrors"
	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/profile"
	"artmarket/internal/wei"
)

// ObserverGateway is the contract surface the observer reads through.
type ObserverGateway interface {
	ListingType(ctx context.Context, tokenID uint64) (model.ListingType, error)
	TokenURI(ctx context.Context, tokenID uint64) (string, error)
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
	GetAuctionDetails(ctx context.Context, tokenID uint64) (market.AuctionDetails, error)
	LatestBlock(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
	FilterAuctionLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	SubscribeAuctionLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error)
}

// MetadataFetcher resolves a token URI to its metadata document.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (model.TokenMetadata, error)
}

// ObserverConfig holds runtime settings for one token observer.
type ObserverConfig struct {
	TokenID      uint64
	FromBlock    uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// ObserverDeps bundles the observer's collaborators.
type ObserverDeps struct {
	Metadata MetadataFetcher
	Profiles profile.Resolver
	Notifier *notify.Notifier
	Prices   *pricehist.Recorder
	Logger   *zap.Logger
}

// Observer keeps one displayed auction item consistent with on-chain truth
// and drives settlement notifications when the auction ends.
type Observer struct {
	cfg     ObserverConfig
	gateway ObserverGateway
	deps    ObserverDeps
	logger  *zap.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	owner string
}

func NewObserver(cfg ObserverConfig, gateway ObserverGateway, deps ObserverDeps) *Observer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		cfg:     cfg,
		gateway: gateway,
		deps:    deps,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// LoadDetails fetches the token's listing type, owner, auction tuple, and
// metadata. Tokens not listed as auctions fail with a not-found error so
// callers can fall back to the market view.
func (o *Observer) LoadDetails(ctx context.Context) (model.AuctionItem, error) {
	listing, err := o.gateway.ListingType(ctx, o.cfg.TokenID)
	if err != nil {
		return model.AuctionItem{}, fmt.Errorf("listing type for token %d: %w", o.cfg.TokenID, err)
	}
	if listing != model.ListingAuction {
		return model.AuctionItem{}, fmt.Errorf("token %d is listed as %s: %w", o.cfg.TokenID, listing, markerrors.ErrNotFound)
	}

	owner, err := o.gateway.OwnerOf(ctx, o.cfg.TokenID)
	if err != nil {
		return model.AuctionItem{}, fmt.Errorf("owner of token %d: %w", o.cfg.TokenID, err)
	}

	details, err := o.gateway.GetAuctionDetails(ctx, o.cfg.TokenID)
	if err != nil {
		return model.AuctionItem{}, fmt.Errorf("auction details for token %d: %w", o.cfg.TokenID, err)
	}

	item := model.AuctionItem{
		TokenID:       o.cfg.TokenID,
		Owner:         owner.Hex(),
		HighestBid:    details.HighestBid,
		HighestBidder: details.HighestBidder.Hex(),
		EndTime:       details.EndTime,
		Active:        details.Active,
	}

	if o.deps.Metadata != nil {
		uri, err := o.gateway.TokenURI(ctx, o.cfg.TokenID)
		if err != nil {
			return model.AuctionItem{}, fmt.Errorf("token uri for token %d: %w", o.cfg.TokenID, err)
		}
		meta, err := o.deps.Metadata.Fetch(ctx, uri)
		if err != nil {
			// Metadata is display sugar; the auction state is still usable.
			o.logger.Warn("metadata fetch failed", zap.Uint64("token_id", o.cfg.TokenID), zap.Error(err))
		} else {
			item.Metadata = &meta
		}
	}

	o.mu.Lock()
	o.owner = item.Owner
	o.mu.Unlock()

	return item, nil
}

// LoadBidHistory fetches all historical BidPlaced events for the token,
// in emission order, with bidders resolved to display names.
func (o *Observer) LoadBidHistory(ctx context.Context) ([]model.Bid, error) {
	latest, err := o.gateway.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if latest < o.cfg.FromBlock {
		return []model.Bid{}, nil
	}

	ranges, err := SplitRange(o.cfg.FromBlock, latest, o.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	bids := make([]model.Bid, 0)
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var logs []types.Log
		err := withRetry(ctx, o.cfg.MaxRetries, o.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = o.gateway.FilterAuctionLogs(ctx, blockRange.From, blockRange.To)
			if err != nil {
				o.logger.Warn("filter auction logs failed",
					zap.Error(err),
					zap.Uint64("from", blockRange.From),
					zap.Uint64("to", blockRange.To),
				)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs: %w", err)
		}

		for _, log := range logs {
			name, ok := market.EventName(log)
			if !ok || name != market.EventBidPlaced {
				continue
			}
			event, err := market.DecodeBidPlaced(log)
			if err != nil {
				o.logger.Warn("undecodable bid log", zap.String("tx_hash", log.TxHash.Hex()), zap.Error(err))
				continue
			}
			if event.TokenID.Uint64() != o.cfg.TokenID {
				continue
			}

			ts, err := o.gateway.BlockTimestamp(ctx, log.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}

			bids = append(bids, model.Bid{
				TokenID:     o.cfg.TokenID,
				Bidder:      event.Bidder,
				BidderName:  profile.ResolveName(ctx, o.deps.Profiles, event.Bidder),
				Amount:      event.Amount,
				AmountEther: wei.FormatEther(event.Amount),
				BlockNumber: event.BlockNumber,
				TxHash:      event.TxHash,
				LogIndex:    event.LogIndex,
				Timestamp:   ts,
			})
		}
	}

	return bids, nil
}

// Subscribe registers handlers for the token's live auction events. The
// returned subscription must be released exactly once with Unsubscribe;
// handlers must not call Unsubscribe from within themselves.
func (o *Observer) Subscribe(
	ctx context.Context,
	onBidPlaced func(model.BidPlacedEvent),
	onAuctionEnded func(model.AuctionEndedEvent),
) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	sink := make(chan types.Log, 64)
	sub, err := o.gateway.SubscribeAuctionLogs(subCtx, sink)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe auction logs: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-subCtx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					o.logger.Error("auction subscription failed", zap.Uint64("token_id", o.cfg.TokenID), zap.Error(err))
				}
				return
			case log := <-sink:
				if subCtx.Err() != nil {
					return
				}
				o.dispatch(subCtx, log, onBidPlaced, onAuctionEnded)
			}
		}
	}()

	return &Subscription{cancel: cancel, sub: sub, done: done}, nil
}

func (o *Observer) dispatch(
	ctx context.Context,
	log types.Log,
	onBidPlaced func(model.BidPlacedEvent),
	onAuctionEnded func(model.AuctionEndedEvent),
) {
	if o.isDuplicate(log) {
		return
	}

	name, ok := market.EventName(log)
	if !ok {
		return
	}

	switch name {
	case market.EventBidPlaced:
		event, err := market.DecodeBidPlaced(log)
		if err != nil {
			o.logger.Warn("undecodable bid log", zap.String("tx_hash", log.TxHash.Hex()), zap.Error(err))
			return
		}
		if event.TokenID.Uint64() != o.cfg.TokenID {
			return
		}
		if onBidPlaced != nil {
			onBidPlaced(event)
		}

	case market.EventAuctionEnded:
		event, err := market.DecodeAuctionEnded(log)
		if err != nil {
			o.logger.Warn("undecodable auction-end log", zap.String("tx_hash", log.TxHash.Hex()), zap.Error(err))
			return
		}
		if event.TokenID.Uint64() != o.cfg.TokenID {
			return
		}
		o.handleEnded(ctx, event)
		if onAuctionEnded != nil {
			onAuctionEnded(event)
		}
	}
}

// handleEnded records the settlement price point and fires win and sale
// notifications. Store failures never propagate past this point.
func (o *Observer) handleEnded(ctx context.Context, event model.AuctionEndedEvent) {
	tokenID := event.TokenID.Uint64()

	if o.deps.Prices != nil {
		point, err := o.deps.Prices.Record(ctx, tokenID, event.FinalBid)
		if err != nil {
			o.logger.Warn("price history append failed", zap.Uint64("token_id", tokenID), zap.Error(err))
		} else {
			o.logger.Info("auction settled",
				zap.Uint64("token_id", tokenID),
				zap.String("final_bid_eth", point.PriceEther),
				zap.String("change_type", string(point.ChangeType)),
			)
		}
	}

	if o.deps.Notifier == nil {
		return
	}

	finalEther := wei.FormatEther(event.FinalBid)
	win := notify.AuctionWin(event.Winner, tokenID, finalEther, event.TxHash)
	if err := o.deps.Notifier.Notify(ctx, win); err != nil {
		o.logger.Warn("auction-win notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
	}

	seller := o.sellerFor(ctx, tokenID)
	if seller != "" && !sameAccount(seller, event.Winner) {
		sale := notify.AuctionSale(seller, tokenID, finalEther, event.TxHash)
		if err := o.deps.Notifier.Notify(ctx, sale); err != nil {
			o.logger.Warn("auction-sale notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
	}
}

// sellerFor prefers the owner seen on the last details load; after
// settlement ownerOf already reports the winner.
func (o *Observer) sellerFor(ctx context.Context, tokenID uint64) string {
	o.mu.Lock()
	owner := o.owner
	o.mu.Unlock()
	if owner != "" {
		return owner
	}

	addr, err := o.gateway.OwnerOf(ctx, tokenID)
	if err != nil {
		o.logger.Warn("owner lookup failed", zap.Uint64("token_id", tokenID), zap.Error(err))
		return ""
	}
	return addr.Hex()
}

func (o *Observer) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[id]; ok {
		return true
	}
	o.seen[id] = struct{}{}
	return false
}

// Subscription is one live registration on a token's event stream.
type Subscription struct {
	cancel context.CancelFunc
	sub    ethereum.Subscription
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe removes the registration and waits for the dispatch loop to
// drain. After it returns, no further handler invocations occur. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.sub.Unsubscribe()
		<-s.done
	})
}
