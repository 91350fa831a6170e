package lotto

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
	"github.com/cpontrelli/lotto-dapp/internal/contract"
	"github.com/cpontrelli/lotto-dapp/internal/journal"
	"github.com/cpontrelli/lotto-dapp/internal/metric"
	"github.com/cpontrelli/lotto-dapp/internal/orchestrator"
	"github.com/cpontrelli/lotto-dapp/internal/units"
)

// OnTransition implements orchestrator.Observer.
func (c *Controller) OnTransition(t orchestrator.Transition) {
	ev := c.log.Info()
	if t.To == orchestrator.Failed {
		ev = c.log.Warn().Err(t.Err)
	}
	ev = ev.Str("flow", string(t.Flow)).
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Uint64("epoch", t.Epoch)
	if t.Method != "" {
		ev = ev.Str("method", t.Method)
	}
	if t.Tx != (common.Hash{}) {
		ev = ev.Str("tx", t.Tx.Hex())
	}
	ev.Msg("flow transition")

	if result, ok := transactionResult(t); ok {
		metric.RecordTransaction(t.Method, result)
	}

	rec := journal.Event{
		Flow:   string(t.Flow),
		State:  t.To.String(),
		Epoch:  t.Epoch,
		Amount: t.Amount,
	}
	if t.Account != (common.Address{}) {
		rec.Account = t.Account.Hex()
	}
	if t.Tx != (common.Hash{}) {
		rec.Tx = t.Tx.Hex()
	}
	if t.Err != nil {
		rec.Error = t.Err.Error()
	}
	if err := c.journal.Record(rec); err != nil {
		c.log.Warn().Err(err).Str("path", c.journal.Path()).Msg("journal write failed")
	}
}

// transactionResult maps a transition that ends a transaction's life to a
// metric label.
func transactionResult(t orchestrator.Transition) (string, bool) {
	switch t.From {
	case orchestrator.AwaitingApprovalConfirmation, orchestrator.AwaitingActionConfirmation:
		if t.To == orchestrator.Failed {
			return chain.Classify(t.Err).String(), true
		}
		return "confirmed", true
	case orchestrator.AwaitingApprovalSignature, orchestrator.AwaitingActionSignature:
		if t.To == orchestrator.Failed {
			return chain.Classify(t.Err).String(), true
		}
	}
	return "", false
}

// OnResult implements orchestrator.Observer.
func (c *Controller) OnResult(r orchestrator.Result) {
	metric.RecordFlow(string(r.Flow), r.Outcome.String(), r.Duration)

	ev := c.log.Info()
	switch r.Outcome {
	case orchestrator.Succeeded:
	case orchestrator.NotAttempted, orchestrator.Declined:
		ev = c.log.Warn()
	default:
		ev = c.log.Error()
	}
	ev = ev.Str("flow", string(r.Flow)).
		Str("outcome", r.Outcome.String()).
		Dur("took", r.Duration)
	if r.Err != nil {
		ev = ev.Err(r.Err).Str("failed_at", r.FailedAt.String())
	}
	ev.Msg("flow finished")

	var delta string
	if r.ActionReceipt != nil && c.token != (common.Address{}) {
		if d, ok := contract.TokenDelta(r.ActionReceipt, c.token, r.Account); ok {
			delta = units.FromBaseUnits(d, units.TokenDecimals).String()
			c.log.Info().Str("flow", string(r.Flow)).Str("token_delta", delta).Msg("token movement in receipt")
		}
	}

	if r.SyncErr != nil {
		c.log.Warn().Err(r.SyncErr).Str("flow", string(r.Flow)).Msg("post-flow refresh incomplete; some values are stale")
	}

	rec := journal.Event{
		Flow:       string(r.Flow),
		State:      "done",
		Epoch:      c.sess.Epoch(),
		Outcome:    r.Outcome.String(),
		TokenDelta: delta,
	}
	if r.Account != (common.Address{}) {
		rec.Account = r.Account.Hex()
	}
	if r.ActionTx != (common.Hash{}) {
		rec.Tx = r.ActionTx.Hex()
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	if err := c.journal.Record(rec); err != nil {
		c.log.Warn().Err(err).Msg("journal write failed")
	}
}
