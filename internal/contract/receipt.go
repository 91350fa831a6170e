package contract

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var transferTopic = TokenABI().Events["Transfer"].ID

// TokenDelta derives account's net token movement from the Transfer logs
// that token emitted in receipt. Positive means account received tokens.
// ok is false when no Transfer log touches account.
//
// It reads what actually moved on-chain rather than what the call asked
// for: purchaseTokens mints, bet and returnTokens pull through the
// allowance.
func TokenDelta(receipt *types.Receipt, token, account common.Address) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	delta := new(big.Int)
	seen := false
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != token || len(lg.Topics) < 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if len(lg.Data) < 32 {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		value := new(big.Int).SetBytes(lg.Data[:32])

		switch {
		case from == account && to == account:
			seen = true
		case to == account:
			delta.Add(delta, value)
			seen = true
		case from == account:
			delta.Sub(delta, value)
			seen = true
		}
	}
	if !seen {
		return nil, false
	}
	return delta, true
}
