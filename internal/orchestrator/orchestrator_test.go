package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
	"github.com/cpontrelli/lotto-dapp/internal/session"
	"github.com/cpontrelli/lotto-dapp/internal/units"
)

var (
	account     = common.HexToAddress("0x49226C9a8eae5b040f4aa878369C6ab130985B4C")
	lotteryAddr = common.HexToAddress("0xAF61e280930221c6584F23bFf29E1ea8e98a94e6")
)

func base(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := units.ParseBaseUnits(s, units.TokenDecimals)
	require.NoError(t, err)
	return v
}

// ledger records the order of wallet and chain events across fakes.
type ledger struct {
	mu     sync.Mutex
	events []string
}

func (l *ledger) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *ledger) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeTx struct {
	name    string
	hash    common.Hash
	waitErr error
	gate    chan struct{}
	ledger  *ledger
	ctxErr  error
}

func (f *fakeTx) Hash() common.Hash { return f.hash }

func (f *fakeTx) Wait(ctx context.Context) (*types.Receipt, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.ctxErr = ctx.Err()
	f.ledger.add(f.name + ":confirmed")
	status := types.ReceiptStatusSuccessful
	if errors.Is(f.waitErr, chain.ErrTransactionReverted) {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status}, f.waitErr
}

type step struct {
	sendErr error
	waitErr error
	gate    chan struct{}
	onSend  func()
}

type fakeContracts struct {
	ledger    *ledger
	steps     map[string]step
	approvals []*big.Int
	// allowance is what Allowance reports; nil reads as zero.
	allowance    *big.Int
	allowanceErr error
	purchases    []*big.Int
	returns      []*big.Int
	txs          []*fakeTx
	n            int64
}

func (f *fakeContracts) send(name string) (chain.PendingTx, error) {
	st := f.steps[name]
	if st.onSend != nil {
		st.onSend()
	}
	if st.sendErr != nil {
		f.ledger.add(name + ":send_failed")
		return nil, st.sendErr
	}
	f.n++
	f.ledger.add(name + ":submitted")
	tx := &fakeTx{name: name, hash: common.BigToHash(big.NewInt(f.n)), waitErr: st.waitErr, gate: st.gate, ledger: f.ledger}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeContracts) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if f.allowanceErr != nil {
		return nil, f.allowanceErr
	}
	if f.allowance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeContracts) Approve(ctx context.Context, spender common.Address, amount *big.Int) (chain.PendingTx, error) {
	f.approvals = append(f.approvals, amount)
	return f.send("approve")
}

func (f *fakeContracts) Address() common.Address { return lotteryAddr }

func (f *fakeContracts) PurchaseTokens(ctx context.Context, value *big.Int) (chain.PendingTx, error) {
	f.purchases = append(f.purchases, value)
	return f.send("purchaseTokens")
}

func (f *fakeContracts) ReturnTokens(ctx context.Context, amount *big.Int) (chain.PendingTx, error) {
	f.returns = append(f.returns, amount)
	return f.send("returnTokens")
}

func (f *fakeContracts) Bet(ctx context.Context) (chain.PendingTx, error) {
	return f.send("bet")
}

func (f *fakeContracts) Writable() (Token, Lottery, error) { return f, f, nil }

type noHandles struct{}

func (noHandles) Writable() (Token, Lottery, error) { return nil, nil, ErrContractUnavailable }

type fakeRefresher struct {
	sess   *session.Session
	ledger *ledger
	err    error
	mu     sync.Mutex
	owners []common.Address
}

// RefreshAll rewrites every parameter at the current epoch, as a real sync
// would after a confirmation.
func (f *fakeRefresher) RefreshAll(ctx context.Context, owner common.Address) error {
	f.mu.Lock()
	f.owners = append(f.owners, owner)
	f.mu.Unlock()
	f.ledger.add("refresh")
	e := f.sess.Epoch()
	snap := f.sess.Snapshot()
	for _, p := range session.Params() {
		if q := snap.Param(p); q.Known() {
			f.sess.SetParameter(e, p, q.Value)
		}
	}
	return f.err
}

func (f *fakeRefresher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.owners)
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
	results     []Result
}

func (o *recordingObserver) OnTransition(t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) OnResult(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func (o *recordingObserver) states() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]State, 0, len(o.transitions))
	for _, t := range o.transitions {
		out = append(out, t.To)
	}
	return out
}

type fixture struct {
	sess      *session.Session
	ledger    *ledger
	contracts *fakeContracts
	refresher *fakeRefresher
	observer  *recordingObserver
	orch      *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sess := session.New()
	sess.Connect(chain.NewSigner(nil, account))
	e := sess.Epoch()
	sess.SetParameter(e, session.PurchaseRatio, big.NewInt(2))
	sess.SetParameter(e, session.BetPrice, base(t, "0.01"))
	sess.SetParameter(e, session.BetFee, base(t, "0.001"))

	l := &ledger{}
	f := &fixture{
		sess:      sess,
		ledger:    l,
		contracts: &fakeContracts{ledger: l, steps: map[string]step{}},
		refresher: &fakeRefresher{sess: sess, ledger: l},
		observer:  &recordingObserver{},
	}
	f.orch = New(sess, f.contracts, f.refresher, append([]Option{WithObserver(f.observer)}, opts...)...)
	return f
}

func TestInvalidAmountsAreNoOps(t *testing.T) {
	for _, amount := range []string{"", "   ", "abc", "0", "0.0", "-1", "1e3", "0.0000000000000000001", "1.0000000000000000019", "+1", "1,5"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t)
			epoch := f.sess.Epoch()
			before := f.sess.Snapshot()

			for _, res := range []Result{
				f.orch.PurchaseTokens(context.Background(), amount),
				f.orch.ReturnTokens(context.Background(), amount),
			} {
				assert.Equal(t, NotAttempted, res.Outcome)
				assert.ErrorIs(t, res.Err, ErrValidation)
				assert.True(t, errors.Is(res.Err, units.ErrInvalidAmount) || errors.Is(res.Err, units.ErrNonPositiveAmount),
					"want amount error, got %v", res.Err)
			}

			assert.Empty(t, f.ledger.list())
			assert.Equal(t, epoch, f.sess.Epoch())
			assert.Equal(t, before, f.sess.Snapshot())
		})
	}
}

func TestNotConnected(t *testing.T) {
	f := newFixture(t)
	f.sess.Disconnect()

	for _, res := range []Result{
		f.orch.PurchaseTokens(context.Background(), "1"),
		f.orch.ReturnTokens(context.Background(), "1"),
		f.orch.Bet(context.Background()),
	} {
		assert.Equal(t, NotAttempted, res.Outcome)
		assert.ErrorIs(t, res.Err, ErrNotConnected)
		assert.True(t, IsValidation(res.Err))
	}
	assert.Empty(t, f.ledger.list())
}

func TestContractsUnavailable(t *testing.T) {
	f := newFixture(t)
	orch := New(f.sess, noHandles{}, f.refresher)
	res := orch.Bet(context.Background())
	assert.Equal(t, NotAttempted, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrContractUnavailable)
	assert.False(t, orch.Busy(account), "lock released after rejection")
}

func TestPurchaseTokens(t *testing.T) {
	f := newFixture(t)
	epoch := f.sess.Epoch()

	res := f.orch.PurchaseTokens(context.Background(), "3.0")
	require.NoError(t, res.Err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.True(t, res.OK())
	assert.Equal(t, account, res.Account)
	assert.Equal(t, common.Hash{}, res.ApprovalTx)
	assert.NotEqual(t, common.Hash{}, res.ActionTx)

	require.Len(t, f.contracts.purchases, 1)
	assert.Equal(t, base(t, "1.5"), f.contracts.purchases[0])
	require.NotNil(t, res.ActionReceipt)
	assert.Equal(t, types.ReceiptStatusSuccessful, res.ActionReceipt.Status)
	assert.Equal(t, []string{"purchaseTokens:submitted", "purchaseTokens:confirmed", "refresh"}, f.ledger.list())
	assert.Greater(t, f.sess.Epoch(), epoch)
	assert.Equal(t, []State{Validating, AwaitingActionSignature, AwaitingActionConfirmation, Syncing, Idle}, f.observer.states())
	require.Len(t, f.observer.results, 1)
	assert.Equal(t, Succeeded, f.observer.results[0].Outcome)
}

func TestPurchaseTokens_RatioPreconditions(t *testing.T) {
	t.Run("stale", func(t *testing.T) {
		f := newFixture(t)
		f.sess.Invalidate()
		res := f.orch.PurchaseTokens(context.Background(), "1")
		assert.Equal(t, NotAttempted, res.Outcome)
		assert.Empty(t, f.ledger.list())
	})
	t.Run("zero", func(t *testing.T) {
		f := newFixture(t)
		f.sess.SetParameter(f.sess.Epoch(), session.PurchaseRatio, big.NewInt(0))
		res := f.orch.PurchaseTokens(context.Background(), "1")
		assert.Equal(t, NotAttempted, res.Outcome)
		assert.Empty(t, f.ledger.list())
	})
	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t)
		sess := session.New()
		sess.Connect(chain.NewSigner(nil, account))
		orch := New(sess, f.contracts, f.refresher)
		res := orch.PurchaseTokens(context.Background(), "1")
		assert.Equal(t, NotAttempted, res.Outcome)
	})
	t.Run("value_rounds_to_zero", func(t *testing.T) {
		f := newFixture(t)
		f.sess.SetParameter(f.sess.Epoch(), session.PurchaseRatio, base(t, "1000"))
		res := f.orch.PurchaseTokens(context.Background(), "0.000000000000000001")
		assert.Equal(t, NotAttempted, res.Outcome)
		assert.Empty(t, f.contracts.purchases)
	})
	t.Run("not_a_multiple", func(t *testing.T) {
		f := newFixture(t)
		f.sess.SetParameter(f.sess.Epoch(), session.PurchaseRatio, big.NewInt(3))
		res := f.orch.PurchaseTokens(context.Background(), "1")
		assert.Equal(t, NotAttempted, res.Outcome)
		assert.ErrorIs(t, res.Err, ErrValidation)
		assert.ErrorIs(t, res.Err, units.ErrInvalidAmount)
		assert.Empty(t, f.contracts.purchases)
		assert.Empty(t, f.ledger.list())

		res = f.orch.PurchaseTokens(context.Background(), "0.000000000000000003")
		require.NoError(t, res.Err)
		require.Len(t, f.contracts.purchases, 1)
		assert.Equal(t, big.NewInt(1), f.contracts.purchases[0])
	})
}

func TestReturnTokens(t *testing.T) {
	f := newFixture(t)

	res := f.orch.ReturnTokens(context.Background(), "2")
	require.NoError(t, res.Err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.NotEqual(t, common.Hash{}, res.ApprovalTx)
	assert.NotEqual(t, common.Hash{}, res.ActionTx)

	assert.Equal(t, []*big.Int{base(t, "2")}, f.contracts.approvals)
	assert.Equal(t, []*big.Int{base(t, "2")}, f.contracts.returns)
	assert.Equal(t, []string{
		"approve:submitted", "approve:confirmed",
		"returnTokens:submitted", "returnTokens:confirmed",
		"refresh",
	}, f.ledger.list())
	assert.Equal(t, []State{
		Validating,
		AwaitingApprovalSignature, AwaitingApprovalConfirmation,
		AwaitingActionSignature, AwaitingActionConfirmation,
		Syncing, Idle,
	}, f.observer.states())
}

func TestReturnTokens_ApprovalNotConfirmed(t *testing.T) {
	tests := []struct {
		name        string
		step        step
		wantOutcome Outcome
		wantAt      State
		wantRefresh int
	}{
		{
			name:        "declined",
			step:        step{sendErr: &rejected{}},
			wantOutcome: Declined,
			wantAt:      AwaitingApprovalSignature,
		},
		{
			name:        "estimate_reverted",
			step:        step{sendErr: errors.New("execution reverted: ERC20: insufficient balance")},
			wantOutcome: Reverted,
			wantAt:      AwaitingApprovalSignature,
		},
		{
			name:        "receipt_reverted",
			step:        step{waitErr: chain.ErrTransactionReverted},
			wantOutcome: Reverted,
			wantAt:      AwaitingApprovalConfirmation,
			wantRefresh: 1,
		},
		{
			name:        "network",
			step:        step{sendErr: chain.ErrNetworkUnavailable},
			wantOutcome: OutcomeFailed,
			wantAt:      AwaitingApprovalSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.contracts.steps["approve"] = tt.step

			res := f.orch.ReturnTokens(context.Background(), "2")
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantAt, res.FailedAt)
			assert.Error(t, res.Err)
			assert.Empty(t, f.contracts.returns, "returnTokens must not be submitted")
			assert.Equal(t, tt.wantRefresh, f.refresher.calls())
			states := f.observer.states()
			assert.Equal(t, Failed, states[len(states)-1])
		})
	}
}

type rejected struct{}

func (*rejected) Error() string  { return "User rejected the request." }
func (*rejected) ErrorCode() int { return 4001 }

func TestReturnTokens_ActionDeclinedAfterApproval(t *testing.T) {
	f := newFixture(t)
	f.contracts.steps["returnTokens"] = step{sendErr: &rejected{}}

	res := f.orch.ReturnTokens(context.Background(), "1")
	assert.Equal(t, Declined, res.Outcome)
	assert.Equal(t, AwaitingActionSignature, res.FailedAt)
	assert.NotEqual(t, common.Hash{}, res.ApprovalTx)
	assert.Equal(t, common.Hash{}, res.ActionTx)
	assert.Equal(t, 1, f.refresher.calls(), "approval was mined; session is refreshed")
}

func TestBet_MaxAllowance(t *testing.T) {
	f := newFixture(t)

	res := f.orch.Bet(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, Succeeded, res.Outcome)

	require.Len(t, f.contracts.approvals, 1)
	assert.Equal(t, 0, f.contracts.approvals[0].Cmp(math.MaxBig256))
	assert.Equal(t, []string{
		"approve:submitted", "approve:confirmed",
		"bet:submitted", "bet:confirmed",
		"refresh",
	}, f.ledger.list())
}

func TestBet_ExactAllowance(t *testing.T) {
	f := newFixture(t, WithAllowancePolicy(AllowanceExact))

	res := f.orch.Bet(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, f.contracts.approvals, 1)
	assert.Equal(t, base(t, "0.011"), f.contracts.approvals[0])
	assert.Equal(t, "exact", AllowanceExact.String())
}

func TestBet_ExactAllowanceAlreadyCovered(t *testing.T) {
	f := newFixture(t, WithAllowancePolicy(AllowanceExact))
	f.contracts.allowance = base(t, "0.011")

	res := f.orch.Bet(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Empty(t, f.contracts.approvals)
	assert.Equal(t, common.Hash{}, res.ApprovalTx)
	assert.Equal(t, []string{"bet:submitted", "bet:confirmed", "refresh"}, f.ledger.list())
	assert.Equal(t, []State{Validating, AwaitingActionSignature, AwaitingActionConfirmation, Syncing, Idle}, f.observer.states())
}

func TestBet_ExactAllowanceShortOrUnreadable(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		f := newFixture(t, WithAllowancePolicy(AllowanceExact))
		f.contracts.allowance = base(t, "0.0109")
		res := f.orch.Bet(context.Background())
		require.NoError(t, res.Err)
		require.Len(t, f.contracts.approvals, 1)
		assert.Equal(t, base(t, "0.011"), f.contracts.approvals[0])
	})
	t.Run("read_error", func(t *testing.T) {
		f := newFixture(t, WithAllowancePolicy(AllowanceExact))
		f.contracts.allowanceErr = errors.New("connection reset")
		res := f.orch.Bet(context.Background())
		require.NoError(t, res.Err)
		assert.Len(t, f.contracts.approvals, 1)
	})
	t.Run("max_policy_always_approves", func(t *testing.T) {
		f := newFixture(t)
		f.contracts.allowance = new(big.Int).Set(math.MaxBig256)
		res := f.orch.Bet(context.Background())
		require.NoError(t, res.Err)
		assert.Len(t, f.contracts.approvals, 1)
	})
}

func TestBet_Preconditions(t *testing.T) {
	f := newFixture(t)
	sess := session.New()
	sess.Connect(chain.NewSigner(nil, account))
	sess.SetParameter(sess.Epoch(), session.BetPrice, base(t, "0.01"))
	orch := New(sess, f.contracts, f.refresher)

	res := orch.Bet(context.Background())
	assert.Equal(t, NotAttempted, res.Outcome)
	assert.Contains(t, res.Err.Error(), "bet fee unknown")

	sess.SetParameter(sess.Epoch(), session.BetFee, base(t, "0.001"))
	sess.Invalidate()
	res = orch.Bet(context.Background())
	assert.Equal(t, NotAttempted, res.Outcome)
	assert.Contains(t, res.Err.Error(), "stale")
	assert.Empty(t, f.ledger.list())
}

func TestSyncErrorDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.refresher.err = errors.New("betFee: timeout")

	res := f.orch.PurchaseTokens(context.Background(), "1")
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Error(t, res.SyncErr)
}

func TestConfirmationIgnoresCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.contracts.steps["approve"] = step{onSend: cancel}

	res := f.orch.ReturnTokens(ctx, "1")
	require.Len(t, f.contracts.txs, 2)
	assert.NoError(t, f.contracts.txs[0].ctxErr, "approval wait must not observe cancellation")
	assert.Equal(t, Succeeded, res.Outcome)
}

func TestFlowsSerializedPerAccount(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.contracts.steps["purchaseTokens"] = step{gate: gate}

	done := make(chan Result, 1)
	go func() { done <- f.orch.PurchaseTokens(context.Background(), "1") }()

	require.Eventually(t, func() bool { return f.orch.Busy(account) }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := f.orch.Bet(ctx)
	assert.Equal(t, NotAttempted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	close(gate)
	first := <-done
	assert.Equal(t, Succeeded, first.Outcome)
	assert.False(t, f.orch.Busy(account))

	res = f.orch.Bet(context.Background())
	assert.Equal(t, Succeeded, res.Outcome)
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Flow: FlowBet, Reason: "bet fee unknown"}
	assert.Equal(t, "bet: bet fee unknown", err.Error())
	assert.ErrorIs(t, err, ErrValidation)

	err = &ValidationError{Flow: FlowReturnTokens, Reason: "invalid amount", Err: units.ErrInvalidAmount}
	assert.ErrorIs(t, err, units.ErrInvalidAmount)
	assert.Equal(t, "awaiting_action_confirmation", AwaitingActionConfirmation.String())
	assert.Equal(t, "declined", Declined.String())
}
