package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/cuongpo/Aura-Farming-Core/internal/activity"
	"github.com/cuongpo/Aura-Farming-Core/internal/api"
	"github.com/cuongpo/Aura-Farming-Core/internal/chain"
	"github.com/cuongpo/Aura-Farming-Core/internal/keys"
	"github.com/cuongpo/Aura-Farming-Core/internal/quest"
	"github.com/cuongpo/Aura-Farming-Core/internal/ranking"
	"github.com/cuongpo/Aura-Farming-Core/internal/scheduler"
	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
	"github.com/cuongpo/Aura-Farming-Core/internal/telegram"
	"github.com/cuongpo/Aura-Farming-Core/internal/transfer"
	"github.com/cuongpo/Aura-Farming-Core/internal/wallet"
)

const (
	usdtSymbol   = "USDT"
	rewardSymbol = "AURA"

	shutdownTimeout = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the activity buffer, the scheduler and the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if cfg.BotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if parent == nil {
		parent = context.Background()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize chain client
	client, err := chain.Dial(ctx, cfg.RPCURL, chain.Options{
		Timeout:        cfg.RPCTimeout,
		ConfirmTimeout: cfg.ConfirmTimeout,
		MinInterval:    cfg.RPCMinInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("init chain client: %w", err)
	}
	defer client.Close()
	log.Info("chain client initialized", "rpc", cfg.RPCURL)

	tokens, err := newRegistry()
	if err != nil {
		return err
	}

	deriver, err := keys.NewDeriver(cfg.WalletPepper)
	if err != nil {
		return fmt.Errorf("init key deriver: %w", err)
	}
	wallets, err := wallet.New(deriver, client, cfg.FactoryAddress, log)
	if err != nil {
		return fmt.Errorf("init wallet directory: %w", err)
	}

	reward, err := rewardConfig(tokens)
	if err != nil {
		return err
	}
	engine := transfer.NewEngine(wallets, client, tokens, reward, log)
	ledger := transfer.NewLedger(engine, store, log)
	if _, ok := engine.RewardToken(); ok {
		log.Info("chest rewards enabled", "mode", cfg.RewardMode, "minter", engine.MinterAddress().Hex())
	} else {
		log.Warn("chest rewards disabled, set AURA_TOKEN_CONTRACT_ADDRESS and MINTER_PRIVATE_KEY")
	}

	// Activity pipeline
	ranker := ranking.New(store, clock, loc, log)
	buffer := activity.New(store, ranker, clock, activity.Config{
		Interval: cfg.FlushInterval,
		MaxKeys:  cfg.MaxBufferSize,
		Location: loc,
	}, log)
	ranker.SetFlusher(buffer)

	quests := quest.New(store, ledger, clock, loc, log)

	sched, err := scheduler.New(buffer, clock, loc, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	// Initialize telegram bot
	bot, err := telegram.New(cfg, telegram.Deps{
		Store:   store,
		Wallets: wallets,
		Ledger:  ledger,
		Tokens:  tokens,
		Buffer:  buffer,
		Ranking: ranker,
		Quests:  quests,
		Clock:   clock,
	}, log)
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}
	log.Info("telegram bot initialized")

	server := api.NewServer(api.Deps{
		Wallets:   wallets,
		Transfers: ledger,
		Quests:    quests,
		Tokens:    tokens,
		Notify:    bot.Notifier(),
	}, api.Options{
		BotToken:       cfg.BotToken,
		Auth:           cfg.WebAppAuth,
		AllowedOrigins: cfg.AllowedOrigins,
		RewardSymbol:   rewardSymbol,
	}, clock, log)
	if !cfg.WebAppAuth {
		log.Warn("mini-app auth disabled, api trusts the identity in the path")
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			log.Info("shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	buffer.Start(ctx)
	sched.Start()

	apiDone := make(chan struct{})
	if cfg.APIPort > 0 {
		go func() {
			defer close(apiDone)
			if err := server.Start(ctx, cfg.APIPort); err != nil {
				log.Error("api server", "error", err)
				cancel()
			}
		}()
	} else {
		log.Info("api server disabled")
		close(apiDone)
	}

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	if err := sched.Shutdown(); err != nil {
		log.Error("shutdown scheduler", "error", err)
	}
	if err := buffer.Stop(stopCtx); err != nil {
		log.Error("final activity flush", "error", err)
	}
	<-apiDone

	log.Info("stopped")
	return nil
}

func newRegistry() (*chain.Registry, error) {
	tokens := chain.NewRegistry(cfg.NativeSymbol)
	if err := tokens.Add(usdtSymbol, cfg.USDTAddress); err != nil {
		return nil, err
	}
	if err := tokens.Add(rewardSymbol, cfg.AuraTokenAddress); err != nil {
		return nil, err
	}
	return tokens, nil
}

func rewardConfig(tokens *chain.Registry) (*transfer.RewardConfig, error) {
	token, ok := tokens.Lookup(rewardSymbol)
	if !ok || cfg.MinterPrivateKey == "" {
		return nil, nil
	}

	minter, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.MinterPrivateKey, "0x"))
	if err != nil {
		return nil, errors.New("invalid MINTER_PRIVATE_KEY")
	}

	return &transfer.RewardConfig{
		Token:  token,
		Minter: minter,
		Mint:   cfg.RewardMode == "mint",
	}, nil
}
