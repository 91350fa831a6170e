package session

import (
	"math/big"

	"github.com/cpontrelli/lotto-dapp/internal/units"
)

// PossibleBets is floor(tokenBalance / (betPrice + betFee)), computed on base
// units. ok is false when an input is missing or the denominator is not
// positive.
func PossibleBets(tokenBalance, betPrice, betFee *big.Int) (uint64, bool) {
	if tokenBalance == nil || betPrice == nil || betFee == nil {
		return 0, false
	}
	denom := new(big.Int).Add(betPrice, betFee)
	if denom.Sign() <= 0 {
		return 0, false
	}
	if tokenBalance.Sign() <= 0 {
		return 0, true
	}
	return units.SaturatingUint64(new(big.Int).Quo(tokenBalance, denom)), true
}
