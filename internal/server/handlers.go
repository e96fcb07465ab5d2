package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"artmarket/internal/auction"
	"artmarket/internal/chat"
	"artmarket/internal/markerrors"
	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/wei"
)

type handler struct {
	deps Deps
}

func newHandler(deps Deps) *handler {
	return &handler{deps: deps}
}

func (h *handler) observer(tokenID uint64) *auction.Observer {
	return auction.NewObserver(
		auction.ObserverConfig{
			TokenID:      tokenID,
			FromBlock:    h.deps.FromBlock,
			BatchSize:    h.deps.BatchSize,
			MaxRetries:   h.deps.MaxRetries,
			RetryBackoff: h.deps.RetryBackoff,
		},
		h.deps.Gateway,
		auction.ObserverDeps{
			Metadata: h.deps.Metadata,
			Profiles: h.deps.Profiles,
			Notifier: h.deps.Notifier,
			Logger:   h.deps.Logger,
		},
	)
}

type itemSummary struct {
	TokenID     uint64 `json:"token_id"`
	ListingType string `json:"listing_type"`
	PriceEther  string `json:"price_eth,omitempty"`
}

type auctionItemResponse struct {
	TokenID       uint64               `json:"token_id"`
	Owner         string               `json:"owner"`
	HighestBid    string               `json:"highest_bid_eth"`
	HighestBidder string               `json:"highest_bidder"`
	MinimumBid    string               `json:"minimum_bid_eth"`
	EndTime       uint64               `json:"end_time"`
	Active        bool                 `json:"active"`
	Metadata      *model.TokenMetadata `json:"metadata,omitempty"`
}

type bidResponse struct {
	TokenID     uint64 `json:"token_id"`
	Bidder      string `json:"bidder"`
	BidderName  string `json:"bidder_name"`
	AmountEther string `json:"amount_eth"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	Timestamp   uint64 `json:"timestamp"`
}

type receiptResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// listItems handles GET /market/items.
func (h *handler) listItems(c *gin.Context) {
	ctx := c.Request.Context()

	tokens, err := h.deps.Gateway.GetListedTokens(ctx)
	if err != nil {
		h.fail(c, "list tokens", err)
		return
	}

	items := make([]itemSummary, 0, len(tokens))
	for _, tokenID := range tokens {
		listing, err := h.deps.Gateway.ListingType(ctx, tokenID)
		if err != nil {
			h.fail(c, "listing type", err)
			return
		}
		summary := itemSummary{TokenID: tokenID, ListingType: listing.String()}
		if listing == model.ListingMarket {
			price, err := h.deps.Gateway.GetPrice(ctx, tokenID)
			if err != nil {
				h.fail(c, "get price", err)
				return
			}
			summary.PriceEther = wei.FormatEther(price)
		}
		items = append(items, summary)
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// getItem handles GET /market/items/:id.
func (h *handler) getItem(c *gin.Context) {
	tokenID, ok := h.tokenParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	listing, err := h.deps.Gateway.ListingType(ctx, tokenID)
	if err != nil {
		h.fail(c, "listing type", err)
		return
	}
	owner, err := h.deps.Gateway.OwnerOf(ctx, tokenID)
	if err != nil {
		h.fail(c, "get owner", err)
		return
	}

	categories, err := h.deps.Gateway.GetCategories(ctx, tokenID)
	if err != nil {
		h.fail(c, "get categories", err)
		return
	}

	resp := gin.H{
		"token_id":     tokenID,
		"owner":        owner.Hex(),
		"listing_type": listing.String(),
		"categories":   categories,
	}

	if listing == model.ListingMarket {
		price, err := h.deps.Gateway.GetPrice(ctx, tokenID)
		if err != nil {
			h.fail(c, "get price", err)
			return
		}
		resp["price_eth"] = wei.FormatEther(price)
	}

	if h.deps.Metadata != nil {
		if uri, err := h.deps.Gateway.TokenURI(ctx, tokenID); err == nil {
			if meta, err := h.deps.Metadata.Fetch(ctx, uri); err == nil {
				resp["metadata"] = meta
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// buyItem handles POST /market/items/:id/buy.
func (h *handler) buyItem(c *gin.Context) {
	tokenID, ok := h.tokenParam(c, "id")
	if !ok {
		return
	}

	receipt, err := h.deps.Purchaser.Buy(c.Request.Context(), h.deps.Session, tokenID)
	if err != nil {
		h.fail(c, "buy token", err)
		return
	}

	c.JSON(http.StatusOK, receiptResponse{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber})
}

// getAuction handles GET /auctions/:id.
func (h *handler) getAuction(c *gin.Context) {
	tokenID, ok := h.tokenParam(c, "id")
	if !ok {
		return
	}

	item, err := h.observer(tokenID).LoadDetails(c.Request.Context())
	if err != nil {
		h.fail(c, "load auction", err)
		return
	}

	c.JSON(http.StatusOK, auctionItemResponse{
		TokenID:       item.TokenID,
		Owner:         item.Owner,
		HighestBid:    wei.FormatEther(item.HighestBid),
		HighestBidder: item.HighestBidder,
		MinimumBid:    wei.FormatEther(auction.MinimumNextBid(item.HighestBid)),
		EndTime:       item.EndTime,
		Active:        item.Active,
		Metadata:      item.Metadata,
	})
}

// getBidHistory handles GET /auctions/:id/bids.
func (h *handler) getBidHistory(c *gin.Context) {
	tokenID, ok := h.tokenParam(c, "id")
	if !ok {
		return
	}

	bids, err := h.observer(tokenID).LoadBidHistory(c.Request.Context())
	if err != nil {
		h.fail(c, "load bid history", err)
		return
	}

	out := make([]bidResponse, 0, len(bids))
	for _, bid := range bids {
		out = append(out, bidResponse{
			TokenID:     bid.TokenID,
			Bidder:      bid.Bidder,
			BidderName:  bid.BidderName,
			AmountEther: bid.AmountEther,
			BlockNumber: bid.BlockNumber,
			TxHash:      bid.TxHash,
			Timestamp:   bid.Timestamp,
		})
	}

	c.JSON(http.StatusOK, gin.H{"bids": out})
}

type placeBidRequest struct {
	AmountEther string `json:"amount_eth" binding:"required"`
}

// placeBid handles POST /auctions/:id/bids.
func (h *handler) placeBid(c *gin.Context) {
	tokenID, ok := h.tokenParam(c, "id")
	if !ok {
		return
	}

	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_eth is required"})
		return
	}
	amount, err := wei.ParseEther(req.AmountEther)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	item, err := h.observer(tokenID).LoadDetails(ctx)
	if err != nil {
		h.fail(c, "load auction", err)
		return
	}

	receipt, err := h.deps.Coordinator.PlaceBid(ctx, h.deps.Session, item, amount)
	if err != nil {
		h.fail(c, "place bid", err)
		return
	}

	c.JSON(http.StatusCreated, receiptResponse{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber})
}

// listNotifications handles GET /users/:address/notifications.
func (h *handler) listNotifications(c *gin.Context) {
	address := c.Param("address")

	notices, err := h.deps.Notices.List(c.Request.Context(), address)
	if err != nil {
		h.fail(c, "list notifications", err)
		return
	}
	if notices == nil {
		notices = []model.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notices})
}

// unreadCount handles GET /users/:address/notifications/unread.
func (h *handler) unreadCount(c *gin.Context) {
	address := c.Param("address")

	count, err := h.deps.Notices.UnreadCount(c.Request.Context(), address)
	if err != nil {
		h.fail(c, "unread count", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "badge": chat.FormatUnread(count)})
}

// markNotificationRead handles POST /users/:address/notifications/:id/read.
func (h *handler) markNotificationRead(c *gin.Context) {
	address := c.Param("address")
	id := c.Param("id")

	if err := h.deps.Notices.MarkRead(c.Request.Context(), address, id); err != nil {
		h.fail(c, "mark read", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// getStats handles GET /users/:address/stats.
func (h *handler) getStats(c *gin.Context) {
	address := c.Param("address")

	stats, err := h.deps.Stats.Get(c.Request.Context(), address)
	if err != nil {
		h.fail(c, "get stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type followRequest struct {
	Target string `json:"target" binding:"required"`
}

// follow handles POST /users/:address/follow.
func (h *handler) follow(c *gin.Context) {
	follower := c.Param("address")

	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}

	isNew, err := h.deps.Graph.Follow(follower, req.Target)
	if err != nil {
		h.fail(c, "follow", err)
		return
	}
	if isNew && h.deps.Notifier != nil {
		if err := h.deps.Notifier.Notify(c.Request.Context(), notify.Follow(follower, req.Target)); err != nil {
			h.deps.Logger.Warn("follow notification dropped", zap.String("target", req.Target), zap.Error(err))
		}
	}

	c.Status(http.StatusNoContent)
}

// unfollow handles DELETE /users/:address/follow.
func (h *handler) unfollow(c *gin.Context) {
	follower := c.Param("address")

	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}

	h.deps.Graph.Unfollow(follower, req.Target)
	c.Status(http.StatusNoContent)
}

// listFollowing handles GET /users/:address/following.
func (h *handler) listFollowing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"following": h.deps.Graph.Following(c.Param("address"))})
}

type likeRequest struct {
	TokenID uint64 `json:"token_id"`
}

// like handles POST /users/:address/likes.
func (h *handler) like(c *gin.Context) {
	user := c.Param("address")

	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token_id is required"})
		return
	}

	isNew, err := h.deps.Graph.Like(user, req.TokenID)
	if err != nil {
		h.fail(c, "like", err)
		return
	}
	if isNew && h.deps.Notifier != nil {
		ctx := c.Request.Context()
		if owner, err := h.deps.Gateway.OwnerOf(ctx, req.TokenID); err == nil && !strings.EqualFold(owner.Hex(), user) {
			n := notify.Like(user, owner.Hex(), req.TokenID, h.tokenTitle(c, req.TokenID))
			if err := h.deps.Notifier.Notify(ctx, n); err != nil {
				h.deps.Logger.Warn("like notification dropped", zap.Uint64("token_id", req.TokenID), zap.Error(err))
			}
		}
	}

	c.Status(http.StatusNoContent)
}

// unlike handles DELETE /users/:address/likes.
func (h *handler) unlike(c *gin.Context) {
	user := c.Param("address")

	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token_id is required"})
		return
	}

	h.deps.Graph.Unlike(user, req.TokenID)
	c.Status(http.StatusNoContent)
}

// getPriceHistory handles GET /tokens/:id/price-history.
func (h *handler) getPriceHistory(c *gin.Context) {
	tokenID, ok := h.tokenParam(c, "id")
	if !ok {
		return
	}

	points, err := h.deps.Prices.History(c.Request.Context(), tokenID)
	if err != nil {
		h.fail(c, "price history", err)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}

	c.JSON(http.StatusOK, gin.H{"history": points})
}

type chatMessageRequest struct {
	Sender    string `json:"sender" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
}

// sendChatMessage handles POST /chat/messages. The message body itself is
// carried elsewhere; this endpoint only drives the unread notice.
func (h *handler) sendChatMessage(c *gin.Context) {
	var req chatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender and recipient are required"})
		return
	}

	chatID, err := chat.ID(req.Sender, req.Recipient)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deps.Notifier.Notify(c.Request.Context(), notify.ChatMessage(req.Sender, req.Recipient, chatID)); err != nil {
		h.fail(c, "chat notice", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"chat_id": chatID})
}

func (h *handler) tokenParam(c *gin.Context, name string) (uint64, bool) {
	tokenID, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return 0, false
	}
	return tokenID, true
}

func (h *handler) tokenTitle(c *gin.Context, tokenID uint64) string {
	fallback := "Token #" + strconv.FormatUint(tokenID, 10)
	if h.deps.Metadata == nil {
		return fallback
	}
	ctx := c.Request.Context()
	uri, err := h.deps.Gateway.TokenURI(ctx, tokenID)
	if err != nil {
		return fallback
	}
	meta, err := h.deps.Metadata.Fetch(ctx, uri)
	if err != nil || meta.Title == "" {
		return fallback
	}
	return meta.Title
}

func (h *handler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.deps.Logger.Error(message, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": message + ": " + err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, markerrors.ErrInvalidInput), errors.Is(err, markerrors.ErrBidTooLow):
		return http.StatusBadRequest
	case errors.Is(err, markerrors.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, markerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, markerrors.ErrBidPending), errors.Is(err, markerrors.ErrAuctionEnded):
		return http.StatusConflict
	case errors.Is(err, markerrors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
