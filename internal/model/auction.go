package model

import (
	"math/big"
	"time"
)

// ListingType classifies how a token is offered on the market.
type ListingType uint8

const (
	ListingNone    ListingType = 0
	ListingMarket  ListingType = 1
	ListingAuction ListingType = 2
)

func (t ListingType) String() string {
	switch t {
	case ListingMarket:
		return "market"
	case ListingAuction:
		return "auction"
	default:
		return "none"
	}
}

// AuctionItem is the read-side view of one auctioned token. Canonical state
// lives in the contract; this struct is a per-view cache refreshed on reload
// or event delivery.
type AuctionItem struct {
	TokenID       uint64
	Owner         string
	HighestBid    *big.Int
	HighestBidder string
	EndTime       uint64
	Active        bool

	Metadata *TokenMetadata
}

// Ended reports whether the auction end time has passed at the given instant.
func (a AuctionItem) Ended(now time.Time) bool {
	return uint64(now.Unix()) >= a.EndTime
}

// Bid is one observed BidPlaced emission. Immutable once recorded on chain.
type Bid struct {
	TokenID     uint64   `json:"token_id"`
	Bidder      string   `json:"bidder"`
	BidderName  string   `json:"bidder_name,omitempty"`
	Amount      *big.Int `json:"-"`
	AmountEther string   `json:"amount_eth"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	Timestamp   uint64   `json:"timestamp"`
}

// BidReceipt confirms a submitted bid transaction.
type BidReceipt struct {
	TokenID     uint64
	Bidder      string
	Amount      *big.Int
	TxHash      string
	BlockNumber uint64
}

// Listing is one fixed-price market entry.
type Listing struct {
	TokenID    uint64         `json:"token_id"`
	Owner      string         `json:"owner"`
	PriceEther string         `json:"price_eth"`
	Price      *big.Int       `json:"-"`
	Categories []string       `json:"categories"`
	Metadata   *TokenMetadata `json:"metadata,omitempty"`
}
