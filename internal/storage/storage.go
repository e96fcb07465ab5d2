package storage

import "artmarket/internal/model"

// Storage defines a sink for observed auction event records.
type Storage interface {
	PutEventBatch(events []model.AuctionEventRecord) error
}
