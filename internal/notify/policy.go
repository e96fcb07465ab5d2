// Package notify translates domain events into recipient-addressed
// notification records, at most once per logical event.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"artmarket/internal/markerrors"
	"artmarket/internal/model"
)

// Notifier applies the fan-out policy over a Store. Writes are best-effort:
// a failed insert is logged and reported, never retried, and must not block
// the operation that triggered it.
type Notifier struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewNotifier(store Store, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Notify stamps and stores a built notification. Duplicate logical events,
// identified by (recipient, event key), are suppressed. Chat messages take
// the unread-counter path instead of inserting new records.
func (n *Notifier) Notify(ctx context.Context, notification model.Notification) error {
	notification.ID = uuid.NewString()
	notification.Icon = model.KindIcon(notification.Kind)
	notification.Read = false
	notification.Timestamp = n.now().UTC().Format(time.RFC3339)

	if notification.Kind == model.KindChatMessage {
		if err := n.store.UpsertChatUnread(ctx, notification); err != nil {
			n.logger.Error("chat notification write failed",
				zap.String("recipient", notification.Recipient),
				zap.String("chat_id", notification.ChatID),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", markerrors.ErrStoreWriteFailed, err)
		}
		return nil
	}

	exists, err := n.store.ExistsEvent(ctx, notification.Recipient, notification.EventKey)
	if err != nil {
		n.logger.Error("notification dedup lookup failed",
			zap.String("recipient", notification.Recipient),
			zap.String("event_key", notification.EventKey),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", markerrors.ErrStoreWriteFailed, err)
	}
	if exists {
		n.logger.Debug("duplicate notification suppressed",
			zap.String("recipient", notification.Recipient),
			zap.String("event_key", notification.EventKey),
		)
		return nil
	}

	if err := n.store.Insert(ctx, notification); err != nil {
		n.logger.Error("notification write failed",
			zap.String("recipient", notification.Recipient),
			zap.String("event_key", notification.EventKey),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", markerrors.ErrStoreWriteFailed, err)
	}
	return nil
}

// Follow builds a follow notice for the followed account.
func Follow(followerID, recipientID string) model.Notification {
	return model.Notification{
		Recipient: recipientID,
		Kind:      model.KindFollow,
		Message:   fmt.Sprintf("User %s started following you.", model.ShortAddress(followerID)),
		Link:      "/creators/" + followerID,
		EventKey:  fmt.Sprintf("follow:%s:%s", followerID, recipientID),
	}
}

// Like builds a like notice for the token owner.
func Like(likerID, ownerID string, tokenID uint64, title string) model.Notification {
	return model.Notification{
		Recipient: ownerID,
		Kind:      model.KindLike,
		Message:   fmt.Sprintf("User %s liked your NFT %q.", model.ShortAddress(likerID), title),
		Link:      fmt.Sprintf("/market/%d", tokenID),
		EventKey:  fmt.Sprintf("like:%d:%s", tokenID, likerID),
	}
}

// NewBid builds a new-bid notice for the item owner.
func NewBid(sellerID, bidderID string, tokenID uint64, amountEther, txHash string) model.Notification {
	return model.Notification{
		Recipient: sellerID,
		Kind:      model.KindNewBid,
		Message:   fmt.Sprintf("New bid of %s ETH placed by %s.", amountEther, model.ShortAddress(bidderID)),
		Link:      fmt.Sprintf("/auction/%d", tokenID),
		EventKey:  fmt.Sprintf("new_bid:%d:%s", tokenID, txHash),
	}
}

// Outbid builds an outbid notice for the superseded bidder. The refund
// equals their overtaken bid.
func Outbid(previousBidderID string, tokenID uint64, refundEther, txHash string) model.Notification {
	return model.Notification{
		Recipient: previousBidderID,
		Kind:      model.KindOutbid,
		Message:   fmt.Sprintf("You have been outbid! Your %s ETH has been refunded.", refundEther),
		Link:      fmt.Sprintf("/auction/%d", tokenID),
		EventKey:  fmt.Sprintf("outbid:%d:%s", tokenID, txHash),
	}
}

// AuctionWin builds a win notice for the auction winner.
func AuctionWin(winnerID string, tokenID uint64, finalEther, txHash string) model.Notification {
	return model.Notification{
		Recipient: winnerID,
		Kind:      model.KindAuctionWin,
		Message:   fmt.Sprintf("Congratulations! You won the auction with a bid of %s ETH.", finalEther),
		Link:      fmt.Sprintf("/auction/%d", tokenID),
		EventKey:  fmt.Sprintf("auction_win:%d:%s", tokenID, txHash),
	}
}

// AuctionSale builds a sale notice for the seller of a settled auction.
func AuctionSale(sellerID string, tokenID uint64, finalEther, txHash string) model.Notification {
	return model.Notification{
		Recipient: sellerID,
		Kind:      model.KindAuctionSale,
		Message:   fmt.Sprintf("Your auction has ended! The NFT was sold for %s ETH.", finalEther),
		Link:      fmt.Sprintf("/auction/%d", tokenID),
		EventKey:  fmt.Sprintf("auction_sale:%d:%s", tokenID, txHash),
	}
}

// NFTPurchase builds a purchase notice for the seller of a fixed-price sale.
func NFTPurchase(sellerID, buyerID string, tokenID uint64, title, priceEther, txHash string) model.Notification {
	return model.Notification{
		Recipient: sellerID,
		Kind:      model.KindNFTPurchase,
		Message: fmt.Sprintf("Your NFT %q was purchased for %s ETH by %s.",
			title, priceEther, model.ShortAddress(buyerID)),
		Link:     fmt.Sprintf("/market/%d", tokenID),
		EventKey: fmt.Sprintf("nft_purchase:%d:%s", tokenID, txHash),
	}
}

// ChatMessage builds a chat notice keyed by the stable chat id.
func ChatMessage(senderID, recipientID, chatID string) model.Notification {
	return model.Notification{
		Recipient: recipientID,
		Kind:      model.KindChatMessage,
		Message:   fmt.Sprintf("New messages from %s", model.ShortAddress(senderID)),
		Link:      "/chat/" + senderID,
		EventKey:  fmt.Sprintf("chat_message:%s", chatID),
		ChatID:    chatID,
		SenderID:  senderID,
	}
}
