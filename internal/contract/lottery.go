package contract

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
)

// Lottery sells Token for native currency and takes bets paid in Token.
type Lottery struct {
	*Handle
}

func BindLottery(address string, exec Exec) (*Lottery, error) {
	h, err := Bind(address, LotteryABI(), exec)
	if err != nil {
		return nil, err
	}
	return &Lottery{Handle: h}, nil
}

// PurchaseRatio is how many token base units one wei buys.
func (l *Lottery) PurchaseRatio(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "purchaseRatio")
}

func (l *Lottery) BetPrice(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "betPrice")
}

func (l *Lottery) BetFee(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "betFee")
}

func (l *Lottery) BetsClosingTime(ctx context.Context) (time.Time, error) {
	v, err := l.callBig(ctx, "betsClosingTime")
	if err != nil {
		return time.Time{}, err
	}
	if !v.IsInt64() {
		return time.Time{}, fmt.Errorf("betsClosingTime out of range: %s", v)
	}
	return time.Unix(v.Int64(), 0).UTC(), nil
}

func (l *Lottery) PurchaseTokens(ctx context.Context, value *big.Int) (chain.PendingTx, error) {
	return l.Transact(ctx, value, "purchaseTokens")
}

func (l *Lottery) ReturnTokens(ctx context.Context, amount *big.Int) (chain.PendingTx, error) {
	return l.Transact(ctx, nil, "returnTokens", amount)
}

func (l *Lottery) Bet(ctx context.Context) (chain.PendingTx, error) {
	return l.Transact(ctx, nil, "bet")
}
