package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"artmarket/internal/auction"
	"artmarket/internal/chain"
	"artmarket/internal/config"
	"artmarket/internal/market"
	"artmarket/internal/metadata"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/profile"
	"artmarket/internal/server"
	"artmarket/internal/session"
	"artmarket/internal/stats"
	"artmarket/internal/storage"
	"artmarket/internal/storage/postgres"
	"artmarket/internal/trade"
	"artmarket/internal/wei"
)

func main() {
	root := &cobra.Command{
		Use:          "marketd",
		Short:        "NFT marketplace daemon and CLI",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("rpc", "", "Ethereum RPC URL")
	root.PersistentFlags().String("contract", "", "market contract address")
	root.PersistentFlags().String("private-key", "", "hex signing key (enables write operations)")
	root.PersistentFlags().Duration("call-timeout", 15*time.Second, "per-call RPC timeout")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Backfill and follow auction events",
		RunE:  runWatch,
	}
	watchCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	watchCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	watchCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	watchCmd.Flags().String("out", "./data/auction-events.jsonl", "output JSONL path")
	watchCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	watchCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	watchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	watchCmd.Flags().Bool("follow", false, "stay attached to the live event stream (websocket RPC)")
	watchCmd.Flags().String("pg-dsn", "", "Postgres DSN for notification and stats persistence")
	root.AddCommand(watchCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the marketplace HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Uint64("from", 0, "bid history start block")
	serveCmd.Flags().Uint64("batch-size", 2000, "blocks per history batch")
	serveCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().Duration("http-timeout", 10*time.Second, "metadata fetch timeout")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN for notification and stats persistence")
	root.AddCommand(serveCmd)

	bidCmd := &cobra.Command{
		Use:   "bid <token-id> <amount-eth>",
		Short: "Place a bid on an active auction",
		Args:  cobra.ExactArgs(2),
		RunE:  runBid,
	}
	root.AddCommand(bidCmd)

	buyCmd := &cobra.Command{
		Use:   "buy <token-id>",
		Short: "Buy a fixed-price token",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuy,
	}
	root.AddCommand(buyCmd)

	mintCmd := &cobra.Command{
		Use:   "mint <token-uri>",
		Short: "Mint a new token",
		Args:  cobra.ExactArgs(1),
		RunE:  runMint,
	}
	root.AddCommand(mintCmd)

	sellCmd := &cobra.Command{
		Use:   "sell <token-id> <price-eth>",
		Short: "List a token for fixed-price sale",
		Args:  cobra.ExactArgs(2),
		RunE:  runSell,
	}
	root.AddCommand(sellCmd)

	startAuctionCmd := &cobra.Command{
		Use:   "start-auction <token-id> <duration>",
		Short: "Start an auction for a token",
		Args:  cobra.ExactArgs(2),
		RunE:  runStartAuction,
	}
	root.AddCommand(startAuctionCmd)

	finalizeCmd := &cobra.Command{
		Use:   "finalize <token-id>",
		Short: "Finalize an ended auction",
		Args:  cobra.ExactArgs(1),
		RunE:  runFinalize,
	}
	root.AddCommand(finalizeCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Show minted token count and listed tokens",
		RunE:  runTokens,
	}
	root.AddCommand(tokensCmd)

	auctionCmd := &cobra.Command{
		Use:   "auction <token-id>",
		Short: "Show auction details and bid history",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuction,
	}
	auctionCmd.Flags().Uint64("from", 0, "bid history start block")
	auctionCmd.Flags().Uint64("batch-size", 2000, "blocks per history batch")
	auctionCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	auctionCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.AddCommand(auctionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// env groups the shared pieces every command dials up.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	client  *chain.Client
	gateway *market.Gateway
	sess    *session.Session
}

func (e *env) close() {
	if e.client != nil {
		e.client.Close()
	}
	if e.logger != nil {
		e.logger.Sync()
	}
}

func dial(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("valid contract address is required")
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	gateway, err := market.NewGateway(client, common.HexToAddress(cfg.Contract), cfg.CallTimeout, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger, client: client, gateway: gateway}

	if cfg.PrivateKey != "" {
		chainID, err := client.GetChainID(ctx)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		sess, err := session.NewFromKey(cfg.PrivateKey, chainID)
		if err != nil {
			e.close()
			return nil, err
		}
		e.sess = sess
	}

	return e, nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	follow, _ := cmd.Flags().GetBool("follow")

	noticeStore, statsStore, priceStore, closeStores, err := openStores(ctx, e.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer closeStores()

	chainID, err := e.client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	runner := auction.NewRunner(auction.RunConfig{
		ChainID:           chainID.Uint64(),
		FromBlock:         e.cfg.FromBlock,
		ToBlock:           e.cfg.ToBlock,
		BatchSize:         e.cfg.BatchSize,
		CheckpointPath:    e.cfg.Checkpoint,
		CheckpointEnabled: e.cfg.CheckpointEnabled,
		MaxRetries:        e.cfg.MaxRetries,
		RetryBackoff:      e.cfg.RetryBackoff,
		Follow:            follow,
	}, e.gateway, auction.RunnerDeps{
		Archive:  storage.NewJsonlStorage(e.cfg.Out),
		Notifier: notify.NewNotifier(noticeStore, e.logger),
		Prices:   pricehist.NewRecorder(priceStore),
		Stats:    statsStore,
		Logger:   e.logger,
	})

	e.logger.Info("watch start",
		zap.String("rpc", e.cfg.RPCURL),
		zap.String("contract", e.cfg.Contract),
		zap.Uint64("from", e.cfg.FromBlock),
		zap.Uint64("to", e.cfg.ToBlock),
		zap.Uint64("batch_size", e.cfg.BatchSize),
		zap.Bool("follow", follow),
		zap.String("out", e.cfg.Out),
	)

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	noticeStore, statsStore, priceStore, closeStores, err := openStores(ctx, e.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer closeStores()

	notifier := notify.NewNotifier(noticeStore, e.logger)
	prices := pricehist.NewRecorder(priceStore)
	fetcher := metadata.NewFetcher(e.cfg.HTTPTimeout)

	router := server.SetupRouter(server.Deps{
		Gateway:      e.gateway,
		Coordinator:  auction.NewCoordinator(e.gateway, notifier, e.logger),
		Purchaser:    trade.NewPurchaser(e.gateway, notifier, statsStore, prices, fetcher, e.logger),
		Notifier:     notifier,
		Notices:      noticeStore,
		Prices:       priceStore,
		Stats:        statsStore,
		Profiles:     profile.NewMemoryResolver(),
		Graph:        profile.NewGraph(),
		Metadata:     fetcher,
		Session:      e.sess,
		FromBlock:    e.cfg.FromBlock,
		BatchSize:    e.cfg.BatchSize,
		MaxRetries:   e.cfg.MaxRetries,
		RetryBackoff: e.cfg.RetryBackoff,
		Logger:       e.logger,
	})

	srv := &http.Server{Addr: e.cfg.Listen, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	e.logger.Info("http server start", zap.String("listen", e.cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runBid(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}
	amount, err := wei.ParseEther(args[1])
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}

	observer := auction.NewObserver(auction.ObserverConfig{TokenID: tokenID}, e.gateway, auction.ObserverDeps{Logger: e.logger})
	item, err := observer.LoadDetails(ctx)
	if err != nil {
		return err
	}

	coordinator := auction.NewCoordinator(e.gateway, nil, e.logger)
	receipt, err := coordinator.PlaceBid(ctx, e.sess, item, amount)
	if err != nil {
		return err
	}

	fmt.Printf("bid placed: token=%d amount=%s ETH tx=%s block=%d\n",
		receipt.TokenID, wei.FormatEther(receipt.Amount), receipt.TxHash, receipt.BlockNumber)
	return nil
}

func runBuy(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}

	purchaser := trade.NewPurchaser(e.gateway, nil, nil, nil, nil, e.logger)
	receipt, err := purchaser.Buy(ctx, e.sess, tokenID)
	if err != nil {
		return err
	}

	fmt.Printf("purchased: token=%d tx=%s block=%d\n", tokenID, receipt.TxHash, receipt.BlockNumber)
	return nil
}

func runMint(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	purchaser := trade.NewPurchaser(e.gateway, nil, nil, nil, nil, e.logger)
	receipt, err := purchaser.Mint(ctx, e.sess, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("minted: tx=%s block=%d\n", receipt.TxHash, receipt.BlockNumber)
	return nil
}

func runSell(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}
	price, err := wei.ParseEther(args[1])
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}

	receipt, err := e.gateway.ListForSale(ctx, e.sess, tokenID, price)
	if err != nil {
		return err
	}

	fmt.Printf("listed: token=%d price=%s ETH tx=%s\n", tokenID, args[1], receipt.TxHash)
	return nil
}

func runStartAuction(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}
	duration, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}

	receipt, err := e.gateway.StartAuction(ctx, e.sess, tokenID, duration)
	if err != nil {
		return err
	}

	fmt.Printf("auction started: token=%d duration=%s tx=%s\n", tokenID, duration, receipt.TxHash)
	return nil
}

func runFinalize(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}

	receipt, err := e.gateway.FinalizeAuction(ctx, e.sess, tokenID)
	if err != nil {
		return err
	}

	fmt.Printf("auction finalized: token=%d tx=%s\n", tokenID, receipt.TxHash)
	return nil
}

func runTokens(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	count, err := e.gateway.TokenCount(ctx)
	if err != nil {
		return err
	}
	listed, err := e.gateway.GetListedTokens(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("minted tokens: %d\n", count)
	fmt.Printf("listed tokens: %d\n", len(listed))
	for _, tokenID := range listed {
		listing, err := e.gateway.ListingType(ctx, tokenID)
		if err != nil {
			return err
		}
		fmt.Printf("  token %d: %s\n", tokenID, listing)
	}
	return nil
}

func runAuction(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}

	observer := auction.NewObserver(auction.ObserverConfig{
		TokenID:      tokenID,
		FromBlock:    e.cfg.FromBlock,
		BatchSize:    e.cfg.BatchSize,
		MaxRetries:   e.cfg.MaxRetries,
		RetryBackoff: e.cfg.RetryBackoff,
	}, e.gateway, auction.ObserverDeps{
		Metadata: metadata.NewFetcher(e.cfg.HTTPTimeout),
		Logger:   e.logger,
	})

	item, err := observer.LoadDetails(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("token %d\n", item.TokenID)
	fmt.Printf("  owner:          %s\n", item.Owner)
	fmt.Printf("  active:         %v\n", item.Active)
	fmt.Printf("  highest bid:    %s ETH (%s)\n", wei.FormatEther(item.HighestBid), item.HighestBidder)
	fmt.Printf("  minimum bid:    %s ETH\n", wei.FormatEther(auction.MinimumNextBid(item.HighestBid)))
	fmt.Printf("  ends at:        %s\n", time.Unix(int64(item.EndTime), 0).UTC().Format(time.RFC3339))
	if item.Metadata != nil {
		fmt.Printf("  title:          %s\n", item.Metadata.Title)
	}

	bids, err := observer.LoadBidHistory(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("bids (%d):\n", len(bids))
	for _, bid := range bids {
		fmt.Printf("  %s ETH by %s at block %d (%s)\n", bid.AmountEther, bid.BidderName, bid.BlockNumber, bid.TxHash)
	}
	return nil
}

// openStores returns notification, stats, and price stores backed by
// Postgres when a DSN is configured, in-memory otherwise.
func openStores(ctx context.Context, dsn string) (notify.Store, stats.Store, pricehist.Store, func(), error) {
	if dsn == "" {
		return notify.NewMemoryStore(), stats.NewMemoryStore(), pricehist.NewMemoryStore(), func() {}, nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}
	return store, store, store, store.Close, nil
}

func parseTokenID(arg string) (uint64, error) {
	var tokenID uint64
	if _, err := fmt.Sscanf(arg, "%d", &tokenID); err != nil {
		return 0, fmt.Errorf("invalid token id %q", arg)
	}
	return tokenID, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
