package auction

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"artmarket/internal/market"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/stats"
	"artmarket/internal/storage"
	"artmarket/internal/wei"
)

// RunConfig holds runtime settings for the market watcher.
type RunConfig struct {
	ChainID           uint64
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	// Follow keeps the runner attached to the live event stream after the
	// backfill completes. Requires a websocket RPC endpoint.
	Follow bool
}

// RunnerDeps bundles the runner's collaborators. Archive, Notifier,
// Prices, and Stats are each optional.
type RunnerDeps struct {
	Archive  storage.Storage
	Notifier *notify.Notifier
	Prices   *pricehist.Recorder
	Stats    stats.Store
	Logger   *zap.Logger
}

type standingBid struct {
	bidder string
	amount *big.Int
}

// Runner watches the whole market: it backfills missed auction events in
// block batches, then optionally follows the live stream, archiving every
// event and driving the settlement notification fan-out. Notification
// dedup keys make replayed events harmless.
type Runner struct {
	cfg        RunConfig
	gateway    ObserverGateway
	deps       RunnerDeps
	logger     *zap.Logger
	checkpoint *CheckpointStore

	seen    map[string]struct{}
	leaders map[uint64]standingBid
	owners  map[uint64]string
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, gateway ObserverGateway, deps RunnerDeps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		gateway:    gateway,
		deps:       deps,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		seen:       make(map[string]struct{}),
		leaders:    make(map[uint64]standingBid),
		owners:     make(map[uint64]string),
	}
}

// Run executes the backfill, then follows the live stream when configured.
func (r *Runner) Run(ctx context.Context) error {
	if r.gateway == nil {
		return fmt.Errorf("gateway is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	if err := r.backfill(ctx); err != nil {
		return err
	}
	if !r.cfg.Follow {
		return nil
	}
	return r.follow(ctx)
}

func (r *Runner) backfill(ctx context.Context) error {
	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.gateway.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok && cp.LastProcessedBlock >= from {
		from = cp.LastProcessedBlock + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
	}

	if from > to {
		r.logger.Info("nothing to backfill", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Info("fetch auction logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		var logs []types.Log
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = r.gateway.FilterAuctionLogs(ctx, blockRange.From, blockRange.To)
			if err != nil {
				r.logger.Warn("filter auction logs failed",
					zap.Error(err),
					zap.Uint64("from", blockRange.From),
					zap.Uint64("to", blockRange.To),
				)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		records := make([]model.AuctionEventRecord, 0, len(logs))
		for _, log := range logs {
			record, ok, err := r.handleLog(ctx, log)
			if err != nil {
				return err
			}
			if ok {
				records = append(records, record)
			}
		}

		if err := r.archive(records); err != nil {
			return err
		}
		if err := r.checkpoint.Save(blockRange.To); err != nil {
			return err
		}

		r.logger.Info("batch complete", zap.Int("events", len(records)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return nil
}

func (r *Runner) follow(ctx context.Context) error {
	sink := make(chan types.Log, 256)
	sub, err := r.gateway.SubscribeAuctionLogs(ctx, sink)
	if err != nil {
		return fmt.Errorf("subscribe auction logs: %w", err)
	}
	defer sub.Unsubscribe()

	r.logger.Info("following live auction events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case log := <-sink:
			record, ok, err := r.handleLog(ctx, log)
			if err != nil {
				r.logger.Error("event handling failed", zap.String("tx_hash", log.TxHash.Hex()), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if err := r.archive([]model.AuctionEventRecord{record}); err != nil {
				r.logger.Error("event archive failed", zap.String("tx_hash", record.TxHash), zap.Error(err))
			}
			if err := r.checkpoint.Save(log.BlockNumber); err != nil {
				r.logger.Error("checkpoint save failed", zap.Uint64("block", log.BlockNumber), zap.Error(err))
			}
		}
	}
}

func (r *Runner) handleLog(ctx context.Context, log types.Log) (model.AuctionEventRecord, bool, error) {
	if r.isDuplicate(log) {
		return model.AuctionEventRecord{}, false, nil
	}

	name, ok := market.EventName(log)
	if !ok {
		return model.AuctionEventRecord{}, false, nil
	}

	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.gateway.BlockTimestamp(ctx, log.BlockNumber)
		return err
	})
	if err != nil {
		return model.AuctionEventRecord{}, false, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
	}

	switch name {
	case market.EventBidPlaced:
		event, err := market.DecodeBidPlaced(log)
		if err != nil {
			r.logger.Warn("undecodable bid log", zap.String("tx_hash", log.TxHash.Hex()), zap.Error(err))
			return model.AuctionEventRecord{}, false, nil
		}
		event.Timestamp = ts
		r.onBidPlaced(ctx, event)
		return r.buildRecord(name, event.TokenID.Uint64(), event.Bidder, event.Amount, log, ts), true, nil

	case market.EventAuctionEnded:
		event, err := market.DecodeAuctionEnded(log)
		if err != nil {
			r.logger.Warn("undecodable auction-end log", zap.String("tx_hash", log.TxHash.Hex()), zap.Error(err))
			return model.AuctionEventRecord{}, false, nil
		}
		event.Timestamp = ts
		r.onAuctionEnded(ctx, event)
		return r.buildRecord(name, event.TokenID.Uint64(), event.Winner, event.FinalBid, log, ts), true, nil
	}

	return model.AuctionEventRecord{}, false, nil
}

func (r *Runner) onBidPlaced(ctx context.Context, event model.BidPlacedEvent) {
	tokenID := event.TokenID.Uint64()
	previous, hadPrevious := r.leaders[tokenID]
	r.leaders[tokenID] = standingBid{bidder: event.Bidder, amount: event.Amount}

	if r.deps.Notifier == nil {
		return
	}

	owner := r.ownerOf(ctx, tokenID)
	if owner != "" && !sameAccount(owner, event.Bidder) {
		n := notify.NewBid(owner, event.Bidder, tokenID, wei.FormatEther(event.Amount), event.TxHash)
		if err := r.deps.Notifier.Notify(ctx, n); err != nil {
			r.logger.Warn("new-bid notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
	}

	if hadPrevious && !sameAccount(previous.bidder, event.Bidder) {
		n := notify.Outbid(previous.bidder, tokenID, wei.FormatEther(previous.amount), event.TxHash)
		if err := r.deps.Notifier.Notify(ctx, n); err != nil {
			r.logger.Warn("outbid notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
	}
}

func (r *Runner) onAuctionEnded(ctx context.Context, event model.AuctionEndedEvent) {
	tokenID := event.TokenID.Uint64()
	delete(r.leaders, tokenID)

	if r.deps.Prices != nil {
		if _, err := r.deps.Prices.Record(ctx, tokenID, event.FinalBid); err != nil {
			r.logger.Warn("price history append failed", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
	}

	seller := r.ownerOf(ctx, tokenID)
	delete(r.owners, tokenID)

	if r.deps.Notifier != nil {
		finalEther := wei.FormatEther(event.FinalBid)
		if err := r.deps.Notifier.Notify(ctx, notify.AuctionWin(event.Winner, tokenID, finalEther, event.TxHash)); err != nil {
			r.logger.Warn("auction-win notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
		}
		if seller != "" && !sameAccount(seller, event.Winner) {
			if err := r.deps.Notifier.Notify(ctx, notify.AuctionSale(seller, tokenID, finalEther, event.TxHash)); err != nil {
				r.logger.Warn("auction-sale notification dropped", zap.Uint64("token_id", tokenID), zap.Error(err))
			}
		}
	}

	if r.deps.Stats != nil {
		if seller != "" {
			if err := r.deps.Stats.IncrementSold(ctx, seller); err != nil {
				r.logger.Warn("sold counter update failed", zap.String("address", seller), zap.Error(err))
			}
		}
		if err := r.deps.Stats.IncrementBought(ctx, event.Winner); err != nil {
			r.logger.Warn("bought counter update failed", zap.String("address", event.Winner), zap.Error(err))
		}
	}
}

// ownerOf caches owner lookups per token. During a long backfill the
// current owner can differ from the owner at emission time; live events
// see the pre-settlement owner.
func (r *Runner) ownerOf(ctx context.Context, tokenID uint64) string {
	if owner, ok := r.owners[tokenID]; ok {
		return owner
	}
	addr, err := r.gateway.OwnerOf(ctx, tokenID)
	if err != nil {
		r.logger.Warn("owner lookup failed", zap.Uint64("token_id", tokenID), zap.Error(err))
		return ""
	}
	owner := addr.Hex()
	r.owners[tokenID] = owner
	return owner
}

func (r *Runner) buildRecord(name string, tokenID uint64, account string, amount *big.Int, log types.Log, ts uint64) model.AuctionEventRecord {
	return model.AuctionEventRecord{
		ChainID:     r.cfg.ChainID,
		EventName:   name,
		TokenID:     tokenID,
		Account:     account,
		AmountWei:   amount.String(),
		AmountEther: wei.FormatEther(amount),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Timestamp:   ts,
		IngestedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (r *Runner) archive(records []model.AuctionEventRecord) error {
	if r.deps.Archive == nil || len(records) == 0 {
		return nil
	}
	if err := r.deps.Archive.PutEventBatch(records); err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	return nil
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
