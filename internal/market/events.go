package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"artmarket/internal/model"
)

// Event names emitted by the marketplace contract. Their arguments are all
// non-indexed, so token filtering happens client-side after decoding.
const (
	EventBidPlaced    = "BidPlaced"
	EventAuctionEnded = "AuctionEnded"
)

// AuctionTopics returns the topic0 hashes of both auction events, for log
// filters and subscriptions.
func AuctionTopics() ([]common.Hash, error) {
	contractABI, err := ArtNFTABI()
	if err != nil {
		return nil, err
	}
	return []common.Hash{
		contractABI.Events[EventBidPlaced].ID,
		contractABI.Events[EventAuctionEnded].ID,
	}, nil
}

// EventName resolves a log's topic0 to an auction event name. The second
// return is false for logs of other events.
func EventName(log types.Log) (string, bool) {
	contractABI, err := ArtNFTABI()
	if err != nil || len(log.Topics) == 0 {
		return "", false
	}
	switch log.Topics[0] {
	case contractABI.Events[EventBidPlaced].ID:
		return EventBidPlaced, true
	case contractABI.Events[EventAuctionEnded].ID:
		return EventAuctionEnded, true
	default:
		return "", false
	}
}

// DecodeBidPlaced unpacks a BidPlaced log.
func DecodeBidPlaced(log types.Log) (model.BidPlacedEvent, error) {
	contractABI, err := ArtNFTABI()
	if err != nil {
		return model.BidPlacedEvent{}, err
	}

	values, err := contractABI.Unpack(EventBidPlaced, log.Data)
	if err != nil {
		return model.BidPlacedEvent{}, fmt.Errorf("unpack %s: %w", EventBidPlaced, err)
	}
	if len(values) != 3 {
		return model.BidPlacedEvent{}, fmt.Errorf("unexpected %s values: %d", EventBidPlaced, len(values))
	}

	tokenID, err := asBigInt(values[0])
	if err != nil {
		return model.BidPlacedEvent{}, fmt.Errorf("tokenId: %w", err)
	}
	bidder, err := asAddress(values[1])
	if err != nil {
		return model.BidPlacedEvent{}, fmt.Errorf("bidder: %w", err)
	}
	amount, err := asBigInt(values[2])
	if err != nil {
		return model.BidPlacedEvent{}, fmt.Errorf("amount: %w", err)
	}

	return model.BidPlacedEvent{
		TokenID:     tokenID,
		Bidder:      bidder.Hex(),
		Amount:      amount,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}, nil
}

// DecodeAuctionEnded unpacks an AuctionEnded log.
func DecodeAuctionEnded(log types.Log) (model.AuctionEndedEvent, error) {
	contractABI, err := ArtNFTABI()
	if err != nil {
		return model.AuctionEndedEvent{}, err
	}

	values, err := contractABI.Unpack(EventAuctionEnded, log.Data)
	if err != nil {
		return model.AuctionEndedEvent{}, fmt.Errorf("unpack %s: %w", EventAuctionEnded, err)
	}
	if len(values) != 3 {
		return model.AuctionEndedEvent{}, fmt.Errorf("unexpected %s values: %d", EventAuctionEnded, len(values))
	}

	tokenID, err := asBigInt(values[0])
	if err != nil {
		return model.AuctionEndedEvent{}, fmt.Errorf("tokenId: %w", err)
	}
	winner, err := asAddress(values[1])
	if err != nil {
		return model.AuctionEndedEvent{}, fmt.Errorf("winner: %w", err)
	}
	finalBid, err := asBigInt(values[2])
	if err != nil {
		return model.AuctionEndedEvent{}, fmt.Errorf("finalBid: %w", err)
	}

	return model.AuctionEndedEvent{
		TokenID:     tokenID,
		Winner:      winner.Hex(),
		FinalBid:    finalBid,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}, nil
}

// FilterAuctionLogs fetches historical auction event logs in a block range.
func (g *Gateway) FilterAuctionLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	topics, err := AuctionTopics()
	if err != nil {
		return nil, err
	}
	return g.chain.FilterLogs(ctx, fromBlock, toBlock, []common.Address{g.address}, topics)
}

// SubscribeAuctionLogs opens a live subscription for auction event logs.
func (g *Gateway) SubscribeAuctionLogs(ctx context.Context, sink chan<- types.Log) (ethereum.Subscription, error) {
	topics, err := AuctionTopics()
	if err != nil {
		return nil, err
	}
	return g.chain.SubscribeLogs(ctx, []common.Address{g.address}, topics, sink)
}

// BlockTimestamp resolves a block number to its timestamp.
func (g *Gateway) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	return g.chain.BlockTimestamp(ctx, blockNumber)
}

// LatestBlock returns the current chain head number.
func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	return g.chain.LatestBlockNumber(ctx)
}
