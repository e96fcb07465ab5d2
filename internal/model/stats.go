package model

// UserStats holds per-address lifetime counters.
type UserStats struct {
	Address    string `json:"address"`
	NFTsMinted uint64 `json:"nfts_minted"`
	NFTsBought uint64 `json:"nfts_bought"`
	NFTsSold   uint64 `json:"nfts_sold"`
}
