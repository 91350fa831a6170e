package lotto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
	"github.com/cpontrelli/lotto-dapp/internal/contract"
	"github.com/cpontrelli/lotto-dapp/internal/journal"
	"github.com/cpontrelli/lotto-dapp/internal/logging"
	"github.com/cpontrelli/lotto-dapp/internal/metric"
	"github.com/cpontrelli/lotto-dapp/internal/orchestrator"
	"github.com/cpontrelli/lotto-dapp/internal/session"
	"github.com/cpontrelli/lotto-dapp/internal/statesync"
)

type Options struct {
	TokenAddress   string
	LotteryAddress string
	Allowance      orchestrator.AllowancePolicy
	// Journal may be nil.
	Journal *journal.Journal
}

// Controller owns the session and connects it to the chain.
type Controller struct {
	gw      *chain.Gateway
	sess    *session.Session
	syncer  *statesync.Syncer
	orch    *orchestrator.Orchestrator
	journal *journal.Journal
	log     zerolog.Logger

	tokenAddr   string
	lotteryAddr string
	// token is the bound token address; zero when the token is unavailable.
	token common.Address

	mu           sync.RWMutex
	writeToken   *contract.Token
	writeLottery *contract.Lottery
}

// New binds read-only contract handles. A missing or malformed address
// leaves that contract unavailable; the rest of the controller still works.
func New(gw *chain.Gateway, opts Options) *Controller {
	c := &Controller{
		gw:          gw,
		sess:        session.New(),
		journal:     opts.Journal,
		tokenAddr:   opts.TokenAddress,
		lotteryAddr: opts.LotteryAddress,
		log:         logging.Component("controller"),
	}

	var (
		tokenReader   statesync.TokenReader
		lotteryReader statesync.LotteryReader
	)
	if tok, err := contract.BindToken(opts.TokenAddress, contract.ReadOnly(gw.Reader())); err != nil {
		c.log.Warn().Err(err).Msg("token contract unavailable")
	} else {
		tokenReader = tok
		c.token = tok.Address()
	}
	if lot, err := contract.BindLottery(opts.LotteryAddress, contract.ReadOnly(gw.Reader())); err != nil {
		c.log.Warn().Err(err).Msg("lottery contract unavailable")
	} else {
		lotteryReader = lot
	}

	c.syncer = statesync.New(c.sess, gw, tokenReader, lotteryReader)
	c.orch = orchestrator.New(c.sess, c, c.syncer,
		orchestrator.WithObserver(c),
		orchestrator.WithAllowancePolicy(opts.Allowance),
	)
	return c
}

// Connect asks the wallet for an account, binds signing handles for it and
// loads its state. The session is connected even when the returned error is
// a *statesync.SyncError.
func (c *Controller) Connect(ctx context.Context) (common.Address, error) {
	signer, err := c.gw.ConnectAccount(ctx)
	if err != nil {
		return common.Address{}, err
	}
	addr := signer.Address()

	c.bindWritable(signer)
	c.sess.Connect(signer)
	c.log.Info().Str("account", addr.Hex()).Msg("wallet connected")

	if err := c.syncer.VerifyTokenPrecision(ctx); err != nil {
		c.log.Warn().Err(err).Msg("token precision check failed")
	}
	if err := c.syncer.RefreshAll(ctx, addr); err != nil {
		return addr, err
	}
	return addr, nil
}

func (c *Controller) bindWritable(signer *chain.Signer) {
	exec := contract.WithSigner(c.gw.Reader(), signer)
	tok, tokErr := contract.BindToken(c.tokenAddr, exec)
	lot, lotErr := contract.BindLottery(c.lotteryAddr, exec)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeToken, c.writeLottery = nil, nil
	if tokErr == nil {
		c.writeToken = tok
	}
	if lotErr == nil {
		c.writeLottery = lot
	}
}

// Disconnect forgets the signer and the account's balances.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.writeToken, c.writeLottery = nil, nil
	c.mu.Unlock()
	c.sess.Disconnect()
	c.log.Info().Msg("wallet disconnected")
}

// Writable implements orchestrator.Handles.
func (c *Controller) Writable() (orchestrator.Token, orchestrator.Lottery, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.writeToken == nil:
		return nil, nil, fmt.Errorf("%w: token", orchestrator.ErrContractUnavailable)
	case c.writeLottery == nil:
		return nil, nil, fmt.Errorf("%w: lottery", orchestrator.ErrContractUnavailable)
	}
	return c.writeToken, c.writeLottery, nil
}

// SyncBlock reads the head block and refreshes the lottery parameters.
func (c *Controller) SyncBlock(ctx context.Context) (uint64, error) {
	head, err := c.gw.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	c.sess.SetBlock(head)
	metric.SetBlockHeight(head)
	return head, c.syncer.RefreshLotteryParameters(ctx)
}

// Refresh re-reads everything the session holds.
func (c *Controller) Refresh(ctx context.Context) error {
	if addr, ok := c.sess.Address(); ok {
		return c.syncer.RefreshAll(ctx, addr)
	}
	return c.syncer.RefreshLotteryParameters(ctx)
}

func (c *Controller) PurchaseTokens(ctx context.Context, amount string) orchestrator.Result {
	return c.orch.PurchaseTokens(ctx, amount)
}

func (c *Controller) ReturnTokens(ctx context.Context, amount string) orchestrator.Result {
	return c.orch.ReturnTokens(ctx, amount)
}

func (c *Controller) Bet(ctx context.Context) orchestrator.Result {
	return c.orch.Bet(ctx)
}

func (c *Controller) Snapshot() session.Snapshot {
	return c.sess.Snapshot()
}

// CheckAccount compares the wallet's active account with the session's and
// disconnects when it changed or went away. It never prompts.
func (c *Controller) CheckAccount(ctx context.Context) (bool, error) {
	want, ok := c.sess.Address()
	if !ok {
		return false, nil
	}
	if c.orch.Busy(want) {
		return false, nil
	}
	got, ok, err := c.gw.CurrentAccount(ctx)
	if err != nil {
		return false, err
	}
	if ok && got == want {
		return false, nil
	}
	ev := c.log.Warn().Str("account", want.Hex())
	if ok {
		ev = ev.Str("wallet_account", got.Hex())
	}
	ev.Msg("wallet account changed; disconnecting")
	c.Disconnect()
	return true, nil
}

// Watch polls the head block and the wallet account every interval until ctx
// is done. onTick, if set, receives a snapshot after each poll.
func (c *Controller) Watch(ctx context.Context, interval time.Duration, onTick func(session.Snapshot)) error {
	if interval <= 0 {
		return errors.New("watch interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.CheckAccount(ctx); err != nil {
			c.log.Warn().Err(err).Msg("account check failed")
		}
		if _, err := c.SyncBlock(ctx); err != nil {
			c.log.Warn().Err(err).Msg("block sync failed")
		}
		if onTick != nil {
			onTick(c.sess.Snapshot())
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Controller) Close() error {
	return c.journal.Close()
}
