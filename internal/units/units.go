package units

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed precision of both the lottery token and the
// native currency (wei).
const TokenDecimals = 18

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// ParseAmount parses a user-entered base-10 decimal string.
//
// Examples:
//   - "3"      -> 3
//   - "0.015"  -> 0.015
//   - " 2.5 "  -> 2.5
//   - "+2.5"   -> ErrInvalidAmount
//
// Zero and negative values are rejected with ErrNonPositiveAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "+") {
		return decimal.Zero, fmt.Errorf("%w: explicit sign not accepted: %q", ErrInvalidAmount, s)
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("%w: exponent notation not accepted: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNonPositiveAmount, d.String())
	}
	return d, nil
}

// ToBaseUnits scales d by 10^decimals. It fails with ErrInvalidAmount when d
// carries more fractional digits than the precision can represent.
func ToBaseUnits(d decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, d.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// ParseBaseUnits combines ParseAmount and ToBaseUnits.
func ParseBaseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(d, decimals)
}

// FromBaseUnits converts a raw on-chain integer into a decimal value.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// Format renders raw base units with trailing zeros trimmed.
func Format(v *big.Int, decimals int32) string {
	if v == nil {
		return "unknown"
	}
	return FromBaseUnits(v, decimals).String()
}

// SaturatingUint64 clamps x into uint64. Allowances are frequently set to
// max(uint256), which does not fit.
func SaturatingUint64(x *big.Int) uint64 {
	if x == nil || x.Sign() <= 0 {
		return 0
	}
	if x.IsUint64() {
		return x.Uint64()
	}
	return math.MaxUint64
}
