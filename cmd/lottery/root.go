package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cpontrelli/lotto-dapp/internal/config"
	"github.com/cpontrelli/lotto-dapp/internal/logging"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
)

type rootFlags struct {
	debug bool
	cfg   *config.Config
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "lottery",
		Short: "Wallet client for the token lottery",
		Long: `Connects a wallet to the lottery and its token, shows balances and
lottery parameters, and runs the purchase, return and bet flows.

Configuration is read from .env and LOTTO_* environment variables:
  LOTTO_RPC_URL, LOTTO_NETWORK, LOTTO_TOKEN_ADDRESS, LOTTO_LOTTERY_ADDRESS,
  LOTTO_WALLET_URL or LOTTO_PRIVATE_KEY, LOTTO_BET_ALLOWANCE (max|exact).`,
		Version:       fmt.Sprintf("%s (commit %s)", Version, CommitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				logging.Init("info", true)
				log.Fatal().Err(err).Msg("load config")
			}
			level := cfg.LogLevel
			if flags.debug {
				level = "debug"
			}
			logging.Init(level, cfg.LogPretty)
			flags.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newStatusCmd(flags),
		newBlockCmd(flags),
		newConnectCmd(flags),
		newPurchaseCmd(flags),
		newReturnCmd(flags),
		newBetCmd(flags),
		newWatchCmd(flags),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// startupTimeout bounds dialing and the initial account load, not flows.
const startupTimeout = 45 * time.Second
