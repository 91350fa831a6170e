package session

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cpontrelli/lotto-dapp/internal/units"
)

// Quantity is a raw on-chain integer. A nil Value means never fetched.
type Quantity struct {
	Value *big.Int
	Stale bool
}

func (q Quantity) Known() bool { return q.Value != nil }

// Fresh reports whether the value is present and from the current epoch.
func (q Quantity) Fresh() bool { return q.Value != nil && !q.Stale }

// Decimal scales the value by the token precision.
func (q Quantity) Decimal() decimal.Decimal {
	return units.FromBaseUnits(q.Value, units.TokenDecimals)
}

func (q Quantity) String() string {
	s := units.Format(q.Value, units.TokenDecimals)
	if q.Known() && q.Stale {
		s += " (stale)"
	}
	return s
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	Epoch     uint64
	Lifecycle Lifecycle
	Account   common.Address
	Connected bool

	Block      uint64
	BlockKnown bool

	NativeBalance Quantity
	TokenBalance  Quantity
	PurchaseRatio Quantity
	BetPrice      Quantity
	BetFee        Quantity
	ClosingTime   Quantity

	PossibleBets      uint64
	PossibleBetsKnown bool
	// PossibleBetsStale is set when any input of PossibleBets is stale.
	PossibleBetsStale bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Epoch:             s.epoch,
		Lifecycle:         s.lifecycle,
		Block:             s.block,
		BlockKnown:        s.blockSeen,
		NativeBalance:     s.native.quantity(s.epoch),
		TokenBalance:      s.token.quantity(s.epoch),
		PurchaseRatio:     s.params[PurchaseRatio].quantity(s.epoch),
		BetPrice:          s.params[BetPrice].quantity(s.epoch),
		BetFee:            s.params[BetFee].quantity(s.epoch),
		ClosingTime:       s.params[ClosingTime].quantity(s.epoch),
		PossibleBets:      s.possibleBets,
		PossibleBetsKnown: s.possibleBetsOK,
	}
	if s.signer != nil {
		snap.Account = s.signer.Address()
		snap.Connected = true
	}
	if snap.PossibleBetsKnown {
		snap.PossibleBetsStale = snap.TokenBalance.Stale || snap.BetPrice.Stale || snap.BetFee.Stale
	}
	return snap
}

// Param returns the snapshot value of p.
func (s Snapshot) Param(p Param) Quantity {
	switch p {
	case PurchaseRatio:
		return s.PurchaseRatio
	case BetPrice:
		return s.BetPrice
	case BetFee:
		return s.BetFee
	case ClosingTime:
		return s.ClosingTime
	default:
		return Quantity{}
	}
}

// BetsClosingTime converts the closing timestamp; ok is false when unknown.
func (s Snapshot) BetsClosingTime() (time.Time, bool) {
	v := s.ClosingTime.Value
	if v == nil || !v.IsInt64() {
		return time.Time{}, false
	}
	return time.Unix(v.Int64(), 0).UTC(), true
}
