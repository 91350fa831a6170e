package main

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
	"github.com/cpontrelli/lotto-dapp/internal/config"
	"github.com/cpontrelli/lotto-dapp/internal/journal"
	"github.com/cpontrelli/lotto-dapp/internal/lotto"
	"github.com/cpontrelli/lotto-dapp/internal/metric"
	"github.com/cpontrelli/lotto-dapp/internal/orchestrator"
)

type app struct {
	client    *ethclient.Client
	rpcWallet *chain.RPCWallet
	ctrl      *lotto.Controller
}

// openApp dials the node and the wallet and builds the controller. Any error
// here is a startup failure.
func openApp(ctx context.Context, cfg *config.Config) *app {
	dialCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	client, chainID, err := chain.Dial(dialCtx, cfg.RPCURL, cfg.Network)
	if err != nil {
		log.Fatal().Err(err).Str("network", cfg.Network).Msg("connect to node")
	}

	a := &app{client: client}
	var wallet chain.Wallet
	switch {
	case cfg.WalletURL != "":
		w, err := chain.DialRPCWallet(dialCtx, cfg.WalletURL, client, cfg.ReceiptPollInterval)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to wallet")
		}
		a.rpcWallet = w
		wallet = w
	case cfg.PrivateKey != "":
		w, err := chain.NewKeyedWallet(cfg.PrivateKey, client, chainID)
		if err != nil {
			log.Fatal().Err(err).Msg("load private key")
		}
		wallet = w
	default:
		log.Info().Msg("no wallet configured; read-only")
	}

	policy := orchestrator.AllowanceMax
	if cfg.BetAllowance == config.BetAllowanceExact {
		policy = orchestrator.AllowanceExact
	}

	a.ctrl = lotto.New(chain.NewGateway(client, wallet, chainID), lotto.Options{
		TokenAddress:   cfg.TokenAddress,
		LotteryAddress: cfg.LotteryAddress,
		Allowance:      policy,
		Journal:        journal.Open(cfg.JournalPath),
	})

	if cfg.MetricsPort > 0 {
		srv := metric.New(&metric.Config{Port: cfg.MetricsPort})
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
	return a
}

// connect authorizes the wallet account and loads its state. A partial
// refresh is logged; anything else is fatal.
func (a *app) connect(ctx context.Context) {
	connectCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	addr, err := a.ctrl.Connect(connectCtx)
	if err != nil {
		if addr == (common.Address{}) {
			log.Fatal().Err(err).Msg("connect wallet")
		}
		log.Warn().Err(err).Msg("account state incomplete")
	}
}

func (a *app) Close() {
	if err := a.ctrl.Close(); err != nil {
		log.Warn().Err(err).Msg("close journal")
	}
	if a.rpcWallet != nil {
		a.rpcWallet.Close()
	}
	a.client.Close()
}

const defaultWatchInterval = 12 * time.Second
