package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"artmarket/internal/chain"
	"artmarket/internal/markerrors"
	"artmarket/internal/model"
	"artmarket/internal/session"
)

// AuctionDetails is the on-chain auction tuple for one token.
type AuctionDetails struct {
	Active        bool
	HighestBidder common.Address
	HighestBid    *big.Int
	EndTime       uint64
}

// TxReceipt confirms one mined state-changing call.
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
}

// Gateway is the typed wrapper over the deployed marketplace contract.
// Reads go through eth_call; writes are signed with the caller's session
// and awaited until mined.
type Gateway struct {
	chain       *chain.Client
	address     common.Address
	contractABI abi.ABI
	bound       *bind.BoundContract
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewGateway builds a Gateway for the contract at address. A zero
// callTimeout disables per-call deadlines.
func NewGateway(chainClient *chain.Client, address common.Address, callTimeout time.Duration, logger *zap.Logger) (*Gateway, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	contractABI, err := ArtNFTABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	backend := chainClient.Backend()
	return &Gateway{
		chain:       chainClient,
		address:     address,
		contractABI: contractABI,
		bound:       bind.NewBoundContract(address, contractABI, backend, backend, backend),
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// Address returns the contract address.
func (g *Gateway) Address() common.Address {
	return g.address
}

// TokenCount returns the number of minted tokens.
func (g *Gateway) TokenCount(ctx context.Context) (uint64, error) {
	values, err := g.call(ctx, "tokenCount")
	if err != nil {
		return 0, err
	}
	count, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("tokenCount: %w", err)
	}
	return count.Uint64(), nil
}

// OwnerOf returns the current owner of a token.
func (g *Gateway) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	values, err := g.call(ctx, "ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return common.Address{}, err
	}
	owner, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("ownerOf: %w", err)
	}
	return owner, nil
}

// TokenURI returns the metadata URI of a token.
func (g *Gateway) TokenURI(ctx context.Context, tokenID uint64) (string, error) {
	values, err := g.call(ctx, "tokenURI", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return "", err
	}
	uri, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI: unsupported type %T", values[0])
	}
	return uri, nil
}

// GetPrice returns the fixed-price listing price of a token, in wei.
func (g *Gateway) GetPrice(ctx context.Context, tokenID uint64) (*big.Int, error) {
	values, err := g.call(ctx, "getPrice", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, err
	}
	price, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("getPrice: %w", err)
	}
	return price, nil
}

// GetCategories returns the category labels of a token.
func (g *Gateway) GetCategories(ctx context.Context, tokenID uint64) ([]string, error) {
	values, err := g.call(ctx, "getCategories", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, err
	}
	categories, ok := values[0].([]string)
	if !ok {
		return nil, fmt.Errorf("getCategories: unsupported type %T", values[0])
	}
	return categories, nil
}

// GetListedTokens returns the ids of all tokens listed for fixed-price sale.
func (g *Gateway) GetListedTokens(ctx context.Context) ([]uint64, error) {
	values, err := g.call(ctx, "getListedTokens")
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getListedTokens: unsupported type %T", values[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

// ListingType returns how a token is currently offered.
func (g *Gateway) ListingType(ctx context.Context, tokenID uint64) (model.ListingType, error) {
	values, err := g.call(ctx, "listingTypes", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return model.ListingNone, err
	}
	kind, ok := values[0].(uint8)
	if !ok {
		return model.ListingNone, fmt.Errorf("listingTypes: unsupported type %T", values[0])
	}
	return model.ListingType(kind), nil
}

// GetAuctionDetails returns the auction tuple of a token.
func (g *Gateway) GetAuctionDetails(ctx context.Context, tokenID uint64) (AuctionDetails, error) {
	values, err := g.call(ctx, "getAuctionDetails", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return AuctionDetails{}, err
	}
	if len(values) != 4 {
		return AuctionDetails{}, fmt.Errorf("getAuctionDetails: unexpected values: %d", len(values))
	}

	active, ok := values[0].(bool)
	if !ok {
		return AuctionDetails{}, fmt.Errorf("getAuctionDetails: unsupported active type %T", values[0])
	}
	bidder, err := asAddress(values[1])
	if err != nil {
		return AuctionDetails{}, fmt.Errorf("getAuctionDetails: %w", err)
	}
	highestBid, err := asBigInt(values[2])
	if err != nil {
		return AuctionDetails{}, fmt.Errorf("getAuctionDetails: %w", err)
	}
	endTime, err := asBigInt(values[3])
	if err != nil {
		return AuctionDetails{}, fmt.Errorf("getAuctionDetails: %w", err)
	}

	return AuctionDetails{
		Active:        active,
		HighestBidder: bidder,
		HighestBid:    highestBid,
		EndTime:       endTime.Uint64(),
	}, nil
}

// Mint creates a new token pointing at the given metadata URI.
func (g *Gateway) Mint(ctx context.Context, sess *session.Session, uri string) (TxReceipt, error) {
	return g.transact(ctx, sess, nil, "mint", uri)
}

// Buy purchases a fixed-price listing, sending value as payment.
func (g *Gateway) Buy(ctx context.Context, sess *session.Session, tokenID uint64, value *big.Int) (TxReceipt, error) {
	return g.transact(ctx, sess, value, "buy", new(big.Int).SetUint64(tokenID))
}

// ListForSale puts a token on the fixed-price market.
func (g *Gateway) ListForSale(ctx context.Context, sess *session.Session, tokenID uint64, price *big.Int) (TxReceipt, error) {
	return g.transact(ctx, sess, nil, "listForSale", new(big.Int).SetUint64(tokenID), price)
}

// StartAuction opens an auction for a token.
func (g *Gateway) StartAuction(ctx context.Context, sess *session.Session, tokenID uint64, duration time.Duration) (TxReceipt, error) {
	seconds := new(big.Int).SetInt64(int64(duration / time.Second))
	return g.transact(ctx, sess, nil, "startAuction", new(big.Int).SetUint64(tokenID), seconds)
}

// PlaceBid submits a bid carrying value as the offered amount.
func (g *Gateway) PlaceBid(ctx context.Context, sess *session.Session, tokenID uint64, value *big.Int) (TxReceipt, error) {
	return g.transact(ctx, sess, value, "placeBid", new(big.Int).SetUint64(tokenID))
}

// FinalizeAuction settles an ended auction.
func (g *Gateway) FinalizeAuction(ctx context.Context, sess *session.Session, tokenID uint64) (TxReceipt, error) {
	return g.transact(ctx, sess, nil, "finalizeAuction", new(big.Int).SetUint64(tokenID))
}

func (g *Gateway) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := g.contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	msg := ethereum.CallMsg{To: &g.address, Data: data}
	resp, err := g.chain.CallContract(ctx, msg, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("call %s: %w", method, markerrors.ErrTimeout)
		}
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := g.contractABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (g *Gateway) transact(ctx context.Context, sess *session.Session, value *big.Int, method string, args ...interface{}) (TxReceipt, error) {
	if sess == nil {
		return TxReceipt{}, markerrors.ErrNotConnected
	}

	opts := sess.TransactOpts(value)
	opts.Context = ctx

	tx, err := g.bound.Transact(opts, method, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return TxReceipt{}, fmt.Errorf("%s: %w", method, markerrors.ErrTimeout)
		}
		return TxReceipt{}, fmt.Errorf("%s: %w", method, err)
	}

	g.logger.Debug("transaction submitted",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("from", sess.Address().Hex()),
	)

	receipt, err := bind.WaitMined(ctx, g.chain.Backend(), tx)
	if err != nil {
		return TxReceipt{}, fmt.Errorf("wait mined %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return TxReceipt{}, fmt.Errorf("%s: transaction %s reverted", method, tx.Hash().Hex())
	}

	return TxReceipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	default:
		return nil, fmt.Errorf("unsupported integer type %T", value)
	}
}
