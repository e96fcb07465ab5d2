package model

// PriceChangeType classifies one price point against the previous one.
type PriceChangeType string

const (
	ChangeStarting PriceChangeType = "starting"
	ChangeIncrease PriceChangeType = "increase"
	ChangeDecrease PriceChangeType = "decrease"
	ChangeNone     PriceChangeType = "no_change"
)

// PricePoint is one entry of a token's append-only price history.
type PricePoint struct {
	TokenID    uint64          `json:"token_id"`
	PriceEther string          `json:"price_eth"`
	ChangeType PriceChangeType `json:"change_type"`
	Timestamp  string          `json:"timestamp"`
}
