// Package server exposes the marketplace over HTTP.
package server

import (
	"context"
	"math/big"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"artmarket/internal/auction"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/profile"
	"artmarket/internal/session"
	"artmarket/internal/stats"
	"artmarket/internal/trade"
)

// Gateway is the contract surface the HTTP layer reads through.
type Gateway interface {
	auction.ObserverGateway
	GetListedTokens(ctx context.Context) ([]uint64, error)
	GetPrice(ctx context.Context, tokenID uint64) (*big.Int, error)
	GetCategories(ctx context.Context, tokenID uint64) ([]string, error)
}

// Deps bundles everything the HTTP handlers reach. Session is nil when
// the server runs without a signing key; write endpoints then reject
// with 401.
type Deps struct {
	Gateway      Gateway
	Coordinator  *auction.Coordinator
	Purchaser    *trade.Purchaser
	Notifier     *notify.Notifier
	Notices      notify.Store
	Prices       pricehist.Store
	Stats        stats.Store
	Profiles     *profile.MemoryResolver
	Graph        *profile.Graph
	Metadata     auction.MetadataFetcher
	Session      *session.Session
	FromBlock    uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// SetupRouter configures all routes for the application.
func SetupRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(deps.Logger))

	h := newHandler(deps)

	market := router.Group("/market")
	{
		market.GET("/items", h.listItems)
		market.GET("/items/:id", h.getItem)
		market.POST("/items/:id/buy", h.buyItem)
	}

	auctions := router.Group("/auctions")
	{
		auctions.GET("/:id", h.getAuction)
		auctions.GET("/:id/bids", h.getBidHistory)
		auctions.POST("/:id/bids", h.placeBid)
	}

	users := router.Group("/users")
	{
		users.GET("/:address/notifications", h.listNotifications)
		users.GET("/:address/notifications/unread", h.unreadCount)
		users.POST("/:address/notifications/:id/read", h.markNotificationRead)
		users.GET("/:address/stats", h.getStats)
		users.GET("/:address/following", h.listFollowing)
		users.POST("/:address/follow", h.follow)
		users.DELETE("/:address/follow", h.unfollow)
		users.POST("/:address/likes", h.like)
		users.DELETE("/:address/likes", h.unlike)
	}

	router.GET("/tokens/:id/price-history", h.getPriceHistory)
	router.POST("/chat/messages", h.sendChatMessage)

	return router
}
