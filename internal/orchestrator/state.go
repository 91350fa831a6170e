package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
)

type Flow string

const (
	FlowPurchaseTokens Flow = "purchase_tokens"
	FlowReturnTokens   Flow = "return_tokens"
	FlowBet            Flow = "bet"
)

type State int

const (
	Idle State = iota
	Validating
	AwaitingApprovalSignature
	AwaitingApprovalConfirmation
	AwaitingActionSignature
	AwaitingActionConfirmation
	Syncing
	Failed
)

var stateNames = map[State]string{
	Idle:                         "idle",
	Validating:                   "validating",
	AwaitingApprovalSignature:    "awaiting_approval_signature",
	AwaitingApprovalConfirmation: "awaiting_approval_confirmation",
	AwaitingActionSignature:      "awaiting_action_signature",
	AwaitingActionConfirmation:   "awaiting_action_confirmation",
	Syncing:                      "syncing",
	Failed:                       "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Outcome int

const (
	Succeeded Outcome = iota
	// NotAttempted: a precondition failed and nothing was submitted.
	NotAttempted
	// Declined: the user refused to sign.
	Declined
	// Reverted: the chain rejected the transaction.
	Reverted
	// OutcomeFailed: network or other error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case NotAttempted:
		return "not_attempted"
	case Declined:
		return "declined"
	case Reverted:
		return "reverted"
	default:
		return "failed"
	}
}

func outcomeOf(err error) Outcome {
	switch chain.Classify(err) {
	case chain.CategoryUserRejected:
		return Declined
	case chain.CategoryTransactionReverted:
		return Reverted
	default:
		return OutcomeFailed
	}
}

// Result is the end state of one flow.
type Result struct {
	Flow    Flow
	Account common.Address
	Outcome Outcome

	ApprovalTx common.Hash
	ActionTx   common.Hash
	// ActionReceipt is set once the action transaction was mined, reverted
	// or not.
	ActionReceipt *types.Receipt

	// FailedAt is the state the flow was in when it stopped; Idle on success.
	FailedAt State
	Err      error
	// SyncErr is the error of the post-flow refresh, if any. It never
	// changes Outcome.
	SyncErr error

	Duration time.Duration
}

func (r Result) OK() bool { return r.Outcome == Succeeded }

// Transition is published for every state change of a flow.
type Transition struct {
	Flow    Flow
	Account common.Address
	From    State
	To      State
	Epoch   uint64
	// Method is the contract method of the transaction being signed or
	// awaited, when there is one.
	Method string
	Tx     common.Hash
	Amount string
	Err    error
}

type Observer interface {
	OnTransition(Transition)
	OnResult(Result)
}

type nopObserver struct{}

func (nopObserver) OnTransition(Transition) {}
func (nopObserver) OnResult(Result)         {}

var (
	ErrValidation          = errors.New("precondition not met")
	ErrNotConnected        = errors.New("no account connected")
	ErrContractUnavailable = errors.New("contract not available")
)

// ValidationError is returned for flows that were not attempted.
type ValidationError struct {
	Flow   Flow
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Flow))
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}
