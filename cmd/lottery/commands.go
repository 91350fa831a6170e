package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cpontrelli/lotto-dapp/internal/orchestrator"
	"github.com/cpontrelli/lotto-dapp/internal/session"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the head block, lottery parameters and, with a wallet, the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()

			if flags.cfg.HasWallet() {
				a.connect(ctx)
			}
			if _, err := a.ctrl.SyncBlock(ctx); err != nil {
				log.Warn().Err(err).Msg("sync block")
			}
			printSnapshot(a.ctrl.Snapshot())
			return nil
		},
	}
}

func newBlockCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "block",
		Short: "Print the latest block number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()

			head, err := a.ctrl.SyncBlock(ctx)
			if head == 0 && err != nil {
				return err
			}
			fmt.Printf("block: %d\n", head)
			return nil
		},
	}
}

func newConnectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authorize the wallet account and show its balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flags.cfg.HasWallet() {
				return errors.New("no wallet configured: set LOTTO_WALLET_URL or LOTTO_PRIVATE_KEY")
			}
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()
			a.connect(ctx)
			printSnapshot(a.ctrl.Snapshot())
			return nil
		},
	}
}

func newPurchaseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase <amount>",
		Short: "Buy tokens; pays amount / purchaseRatio in native currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()
			a.connect(ctx)
			return report(a.ctrl.PurchaseTokens(ctx, args[0]), a.ctrl.Snapshot())
		},
	}
}

func newReturnCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "return <amount>",
		Short: "Approve and return tokens to the lottery for native currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()
			a.connect(ctx)
			return report(a.ctrl.ReturnTokens(ctx, args[0]), a.ctrl.Snapshot())
		},
	}
}

func newBetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bet",
		Short: "Approve the lottery per LOTTO_BET_ALLOWANCE (max by default, or exact price plus fee) and place one bet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()
			a.connect(ctx)
			return report(a.ctrl.Bet(ctx), a.ctrl.Snapshot())
		},
	}
}

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the head block and wallet account until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a := openApp(ctx, flags.cfg)
			defer a.Close()
			if flags.cfg.HasWallet() {
				a.connect(ctx)
			}
			return a.ctrl.Watch(ctx, interval, func(s session.Snapshot) {
				log.Info().
					Uint64("block", s.Block).
					Bool("connected", s.Connected).
					Str("tokens", s.TokenBalance.String()).
					Str("bet_price", s.BetPrice.String()).
					Msg("tick")
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "poll interval")
	return cmd
}

func report(res orchestrator.Result, snap session.Snapshot) error {
	fmt.Printf("flow: %s\n", res.Flow)
	fmt.Printf("outcome: %s\n", res.Outcome)
	if res.ApprovalTx != (common.Hash{}) {
		fmt.Printf("approval_tx: %s\n", res.ApprovalTx.Hex())
	}
	if res.ActionTx != (common.Hash{}) {
		fmt.Printf("action_tx: %s\n", res.ActionTx.Hex())
	}
	fmt.Println()
	printSnapshot(snap)

	if res.OK() {
		return nil
	}
	if res.Err == nil {
		return errors.New(res.Outcome.String())
	}
	fmt.Printf("\nerror: %v\n", res.Err)
	return fmt.Errorf("%s %s at %s: %w", res.Flow, res.Outcome, res.FailedAt, res.Err)
}

func printSnapshot(s session.Snapshot) {
	if s.BlockKnown {
		fmt.Printf("block: %d\n", s.Block)
	}
	if s.Connected {
		fmt.Printf("account: %s\n", s.Account.Hex())
		fmt.Printf("native_balance: %s\n", s.NativeBalance)
		fmt.Printf("token_balance: %s\n", s.TokenBalance)
	} else {
		fmt.Printf("account: not connected (%s)\n", s.Lifecycle)
	}
	fmt.Printf("purchase_ratio: %s\n", rawOrUnknown(s.PurchaseRatio))
	fmt.Printf("bet_price: %s\n", s.BetPrice)
	fmt.Printf("bet_fee: %s\n", s.BetFee)
	if t, ok := s.BetsClosingTime(); ok {
		fmt.Printf("bets_closing_time: %s\n", t.Format(time.RFC3339))
	}
	switch {
	case !s.PossibleBetsKnown:
		fmt.Println("possible_bets: unknown")
	case s.PossibleBetsStale:
		fmt.Printf("possible_bets: %d (stale)\n", s.PossibleBets)
	default:
		fmt.Printf("possible_bets: %d\n", s.PossibleBets)
	}
}

// rawOrUnknown prints a dimensionless integer such as the purchase ratio.
func rawOrUnknown(q session.Quantity) string {
	if !q.Known() {
		return "unknown"
	}
	if q.Stale {
		return q.Value.String() + " (stale)"
	}
	return q.Value.String()
}
