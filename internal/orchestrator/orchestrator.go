package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
	"github.com/cpontrelli/lotto-dapp/internal/logging"
	"github.com/cpontrelli/lotto-dapp/internal/session"
	"github.com/cpontrelli/lotto-dapp/internal/units"
)

type Token interface {
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (chain.PendingTx, error)
}

type Lottery interface {
	Address() common.Address
	PurchaseTokens(ctx context.Context, value *big.Int) (chain.PendingTx, error)
	ReturnTokens(ctx context.Context, amount *big.Int) (chain.PendingTx, error)
	Bet(ctx context.Context) (chain.PendingTx, error)
}

// Handles supplies contract bindings that sign as the session's account.
type Handles interface {
	Writable() (Token, Lottery, error)
}

type Refresher interface {
	RefreshAll(ctx context.Context, owner common.Address) error
}

// AllowancePolicy selects how much the Bet flow approves.
type AllowancePolicy int

const (
	// AllowanceMax approves max(uint256).
	AllowanceMax AllowancePolicy = iota
	// AllowanceExact approves betPrice+betFee, and skips the approval when
	// the current allowance already covers it.
	AllowanceExact
)

const allowanceReadTimeout = 10 * time.Second

func (p AllowancePolicy) String() string {
	if p == AllowanceExact {
		return "exact"
	}
	return "max"
}

// Orchestrator runs the approve-then-act transaction flows against a
// session. Flows for one account run one at a time; reads are never blocked.
type Orchestrator struct {
	sess     *session.Session
	handles  Handles
	refresh  Refresher
	policy   AllowancePolicy
	observer Observer
	locks    accountLocks
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithAllowancePolicy(p AllowancePolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func New(sess *session.Session, handles Handles, refresh Refresher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sess:     sess,
		handles:  handles,
		refresh:  refresh,
		policy:   AllowanceMax,
		observer: nopObserver{},
		now:      time.Now,
		log:      logging.Component("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a flow is running for account.
func (o *Orchestrator) Busy(account common.Address) bool {
	return o.locks.busy(account)
}

// run tracks one flow through its states.
type run struct {
	o       *Orchestrator
	flow    Flow
	amount  string
	state   State
	started time.Time
	res     Result
	release func()
	// submitted is set once any transaction reached the chain.
	submitted bool
}

func (o *Orchestrator) start(flow Flow, amount string) *run {
	r := &run{o: o, flow: flow, amount: amount, state: Idle, started: o.now()}
	r.res.Flow = flow
	r.to(Validating, "", common.Hash{}, nil)
	return r
}

func (r *run) to(next State, method string, tx common.Hash, err error) {
	t := Transition{
		Flow:    r.flow,
		Account: r.res.Account,
		From:    r.state,
		To:      next,
		Epoch:   r.o.sess.Epoch(),
		Method:  method,
		Tx:      tx,
		Amount:  r.amount,
		Err:     err,
	}
	r.state = next
	r.o.log.Debug().Str("flow", string(r.flow)).Stringer("from", t.From).Stringer("to", next).Msg("transition")
	r.o.observer.OnTransition(t)
}

func (r *run) finish() Result {
	if r.release != nil {
		r.release()
	}
	r.res.Duration = r.o.now().Sub(r.started)
	r.o.observer.OnResult(r.res)
	return r.res
}

// reject ends the flow before anything was submitted.
func (r *run) reject(reason string, err error) Result {
	verr := &ValidationError{Flow: r.flow, Reason: reason, Err: err}
	r.res.Outcome = NotAttempted
	r.res.FailedAt = Validating
	r.res.Err = verr
	r.to(Idle, "", common.Hash{}, verr)
	return r.finish()
}

// fail ends the flow from an awaiting state. If a transaction was already
// submitted the session is refreshed so nothing stays stale.
func (r *run) fail(ctx context.Context, method string, err error) Result {
	r.res.Outcome = outcomeOf(err)
	r.res.FailedAt = r.state
	r.res.Err = err
	r.to(Failed, method, common.Hash{}, err)
	if r.submitted {
		r.res.SyncErr = r.o.refresh.RefreshAll(context.WithoutCancel(ctx), r.res.Account)
	}
	return r.finish()
}

// admit checks the signer and takes the account lock. Validation of
// session values happens after the lock so a previous flow's refresh has
// landed.
func (r *run) admit(ctx context.Context) (Token, Lottery, *Result) {
	signer := r.o.sess.Signer()
	if signer == nil {
		res := r.reject("connect a wallet first", ErrNotConnected)
		return nil, nil, &res
	}
	r.res.Account = signer.Address()

	release, err := r.o.locks.acquire(ctx, r.res.Account)
	if err != nil {
		res := r.reject("waiting for the previous transaction", err)
		return nil, nil, &res
	}
	r.release = release

	if cur := r.o.sess.Signer(); cur == nil || cur.Address() != r.res.Account {
		res := r.reject("account changed", ErrNotConnected)
		return nil, nil, &res
	}

	token, lottery, err := r.o.handles.Writable()
	if err != nil {
		res := r.reject("contracts unavailable", err)
		return nil, nil, &res
	}
	return token, lottery, nil
}

// submit signs, submits and awaits one transaction. Once the wallet has
// returned a hash the wait ignores ctx cancellation.
func (r *run) submit(ctx context.Context, sign, confirm State, method string, send func(ctx context.Context) (chain.PendingTx, error)) (common.Hash, *types.Receipt, error) {
	r.to(sign, method, common.Hash{}, nil)
	tx, err := send(ctx)
	if err != nil {
		return common.Hash{}, nil, err
	}
	hash := tx.Hash()
	r.submitted = true
	r.o.sess.Invalidate()

	r.to(confirm, method, hash, nil)
	receipt, err := tx.Wait(context.WithoutCancel(ctx))
	return hash, receipt, err
}

// complete runs the post-flow refresh and ends the flow as succeeded.
func (r *run) complete(ctx context.Context) Result {
	r.to(Syncing, "", common.Hash{}, nil)
	r.res.SyncErr = r.o.refresh.RefreshAll(context.WithoutCancel(ctx), r.res.Account)
	r.res.Outcome = Succeeded
	r.res.FailedAt = Idle
	r.to(Idle, "", common.Hash{}, nil)
	return r.finish()
}

func parseAmount(s string) (*big.Int, error) {
	return units.ParseBaseUnits(s, units.TokenDecimals)
}

// PurchaseTokens buys amount tokens, paying amount / purchaseRatio in native
// currency. amount must be an exact multiple of the ratio in base units.
func (o *Orchestrator) PurchaseTokens(ctx context.Context, amount string) Result {
	r := o.start(FlowPurchaseTokens, amount)
	base, err := parseAmount(amount)
	if err != nil {
		return r.reject("invalid amount", err)
	}
	_, lottery, early := r.admit(ctx)
	if early != nil {
		return *early
	}

	ratio := o.sess.Snapshot().PurchaseRatio
	switch {
	case !ratio.Known():
		return r.reject("purchase ratio unknown", nil)
	case ratio.Stale:
		return r.reject("purchase ratio is stale; refresh first", nil)
	case ratio.Value.Sign() <= 0:
		return r.reject(fmt.Sprintf("purchase ratio is %s", ratio.Value), nil)
	}
	value, rem := new(big.Int).QuoRem(base, ratio.Value, new(big.Int))
	if rem.Sign() != 0 {
		return r.reject(fmt.Sprintf("amount is not a multiple of the purchase ratio %s", ratio.Value), units.ErrInvalidAmount)
	}

	return r.act(ctx, "purchaseTokens",
		func(ctx context.Context) (chain.PendingTx, error) { return lottery.PurchaseTokens(ctx, value) })
}

// ReturnTokens approves the lottery for amount and, once that approval is
// confirmed, returns amount tokens for native currency.
func (o *Orchestrator) ReturnTokens(ctx context.Context, amount string) Result {
	r := o.start(FlowReturnTokens, amount)
	base, err := parseAmount(amount)
	if err != nil {
		return r.reject("invalid amount", err)
	}
	token, lottery, early := r.admit(ctx)
	if early != nil {
		return *early
	}
	return r.approveThen(ctx, token, lottery.Address(), base, "returnTokens",
		func(ctx context.Context) (chain.PendingTx, error) { return lottery.ReturnTokens(ctx, base) })
}

// Bet approves the lottery per the allowance policy and, once confirmed,
// places one bet.
func (o *Orchestrator) Bet(ctx context.Context) Result {
	r := o.start(FlowBet, "")
	token, lottery, early := r.admit(ctx)
	if early != nil {
		return *early
	}

	snap := o.sess.Snapshot()
	for _, q := range []struct {
		name string
		v    session.Quantity
	}{{"bet price", snap.BetPrice}, {"bet fee", snap.BetFee}} {
		if !q.v.Known() {
			return r.reject(q.name+" unknown", nil)
		}
		if q.v.Stale {
			return r.reject(q.name+" is stale; refresh first", nil)
		}
	}

	allowance := o.betAllowance(snap.BetPrice.Value, snap.BetFee.Value)
	if allowance.Sign() <= 0 {
		return r.reject("bet price and fee are zero", nil)
	}
	if o.policy == AllowanceExact && r.allowanceCovers(ctx, token, lottery.Address(), allowance) {
		return r.act(ctx, "bet", lottery.Bet)
	}
	return r.approveThen(ctx, token, lottery.Address(), allowance, "bet", lottery.Bet)
}

// allowanceCovers reports whether spender may already pull want. A failed
// read counts as not covered.
func (r *run) allowanceCovers(ctx context.Context, token Token, spender common.Address, want *big.Int) bool {
	readCtx, cancel := context.WithTimeout(ctx, allowanceReadTimeout)
	defer cancel()
	current, err := token.Allowance(readCtx, r.res.Account, spender)
	if err != nil {
		r.o.log.Debug().Err(err).Str("account", r.res.Account.Hex()).Msg("allowance read failed; approving")
		return false
	}
	return current != nil && current.Cmp(want) >= 0
}

func (o *Orchestrator) betAllowance(price, fee *big.Int) *big.Int {
	if o.policy == AllowanceExact {
		return new(big.Int).Add(price, fee)
	}
	return new(big.Int).Set(math.MaxBig256)
}

func (r *run) approveThen(ctx context.Context, token Token, spender common.Address, allowance *big.Int, method string, act func(ctx context.Context) (chain.PendingTx, error)) Result {
	hash, _, err := r.submit(ctx, AwaitingApprovalSignature, AwaitingApprovalConfirmation, "approve",
		func(ctx context.Context) (chain.PendingTx, error) { return token.Approve(ctx, spender, allowance) })
	r.res.ApprovalTx = hash
	if err != nil {
		return r.fail(ctx, "approve", err)
	}

	return r.act(ctx, method, act)
}

// act submits the flow's main transaction and, once confirmed, completes it.
func (r *run) act(ctx context.Context, method string, send func(ctx context.Context) (chain.PendingTx, error)) Result {
	hash, receipt, err := r.submit(ctx, AwaitingActionSignature, AwaitingActionConfirmation, method, send)
	r.res.ActionTx, r.res.ActionReceipt = hash, receipt
	if err != nil {
		return r.fail(ctx, method, err)
	}
	return r.complete(ctx)
}

// IsValidation reports whether err came from a flow that was never attempted.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
