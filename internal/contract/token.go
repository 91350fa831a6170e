package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
)

// Token is the ERC-20 token the lottery sells.
type Token struct {
	*Handle
}

func BindToken(address string, exec Exec) (*Token, error) {
	h, err := Bind(address, TokenABI(), exec)
	if err != nil {
		return nil, err
	}
	return &Token{Handle: h}, nil
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", owner)
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callBig(ctx, "allowance", owner, spender)
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	vals, err := t.Call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("decimals: empty result")
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected result type %T", vals[0])
	}
	return d, nil
}

func (t *Token) Approve(ctx context.Context, spender common.Address, amount *big.Int) (chain.PendingTx, error) {
	return t.Transact(ctx, nil, "approve", spender, amount)
}
