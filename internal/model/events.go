package model

import "math/big"

// BidPlacedEvent is the decoded BidPlaced emission.
type BidPlacedEvent struct {
	TokenID *big.Int
	Bidder  string
	Amount  *big.Int

	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Timestamp   uint64
}

// AuctionEndedEvent is the decoded AuctionEnded emission.
type AuctionEndedEvent struct {
	TokenID  *big.Int
	Winner   string
	FinalBid *big.Int

	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Timestamp   uint64
}

// AuctionEventRecord is the normalized archive entry for one observed
// auction event, suitable for JSONL storage.
type AuctionEventRecord struct {
	ChainID     uint64 `json:"chain_id"`
	EventName   string `json:"event_name"`
	TokenID     uint64 `json:"token_id"`
	Account     string `json:"account"`
	AmountWei   string `json:"amount_wei"`
	AmountEther string `json:"amount_eth"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
	IngestedAt  string `json:"ingested_at"`
}
