package model

// NotificationKind enumerates the supported notification types.
type NotificationKind string

const (
	KindFollow      NotificationKind = "follow"
	KindLike        NotificationKind = "like"
	KindNewBid      NotificationKind = "new_bid"
	KindOutbid      NotificationKind = "outbid"
	KindAuctionWin  NotificationKind = "auction_win"
	KindAuctionSale NotificationKind = "auction_sale"
	KindNFTPurchase NotificationKind = "nft_purchase"
	KindChatMessage NotificationKind = "chat_message"
)

// KindIcon returns the display icon for a notification kind.
func KindIcon(kind NotificationKind) string {
	switch kind {
	case KindFollow:
		return "👤"
	case KindLike:
		return "❤️"
	case KindNewBid:
		return "🔨"
	case KindOutbid:
		return "📉"
	case KindAuctionWin:
		return "🏆"
	case KindAuctionSale:
		return "💰"
	case KindNFTPurchase:
		return "🛒"
	case KindChatMessage:
		return "✉️"
	default:
		return ""
	}
}

// Notification is one recipient-addressed record. Read flag is the only
// field mutated after insertion; chat notifications additionally carry an
// unread counter keyed by chat id.
type Notification struct {
	ID        string           `json:"id"`
	Recipient string           `json:"recipient"`
	Kind      NotificationKind `json:"type"`
	Message   string           `json:"message"`
	Icon      string           `json:"icon"`
	Read      bool             `json:"read"`
	Link      string           `json:"link"`
	Timestamp string           `json:"timestamp"`

	// EventKey is the structural dedup key: kind plus stable entity ids plus
	// a transaction reference where one exists. Two notifications with the
	// same recipient and event key describe the same logical event.
	EventKey string `json:"event_key"`

	// Chat-message notifications only.
	ChatID      string `json:"chat_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	UnreadCount int    `json:"unread_count,omitempty"`
}
