package markerrors

import "errors"

// Input and session errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotConnected = errors.New("no active session")
)

// Bidding errors
var (
	ErrBidTooLow    = errors.New("bid amount below minimum")
	ErrBidPending   = errors.New("bid submission already in flight")
	ErrBidRejected  = errors.New("bid rejected by contract")
	ErrAuctionEnded = errors.New("auction has ended")
)

// Lookup and infrastructure errors
var (
	ErrNotFound         = errors.New("token not found")
	ErrTimeout          = errors.New("operation timed out")
	ErrStoreWriteFailed = errors.New("store write failed")
)
