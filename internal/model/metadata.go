package model

// TokenMetadata is the JSON document a tokenURI resolves to.
type TokenMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Creator     string   `json:"creator"`
	Categories  []string `json:"categories"`
}
