package session

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
)

type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Connected
	Disconnected
)

func (l Lifecycle) String() string {
	switch l {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "uninitialized"
	}
}

// Param names one lottery parameter.
type Param int

const (
	PurchaseRatio Param = iota
	BetPrice
	BetFee
	ClosingTime
	numParams
)

var paramNames = [numParams]string{"purchaseRatio", "betPrice", "betFee", "betsClosingTime"}

func (p Param) String() string {
	if p < 0 || p >= numParams {
		return "unknown"
	}
	return paramNames[p]
}

// Params lists every lottery parameter in fetch order.
func Params() []Param {
	return []Param{PurchaseRatio, BetPrice, BetFee, ClosingTime}
}

type field struct {
	value *big.Int
	epoch uint64
}

// write stores v unless the field already holds a value from a newer epoch.
func (f *field) write(epoch uint64, v *big.Int) bool {
	if f.value != nil && epoch < f.epoch {
		return false
	}
	f.value = new(big.Int).Set(v)
	f.epoch = epoch
	return true
}

func (f *field) quantity(current uint64) Quantity {
	if f.value == nil {
		return Quantity{}
	}
	return Quantity{Value: new(big.Int).Set(f.value), Stale: f.epoch != current}
}

// Session is the single in-memory view of the connected account and the
// lottery contract. Every value carries the epoch it was fetched in; a value
// from an older epoch than the current one is reported as stale.
//
// The epoch advances when a state-changing transaction is submitted and when
// the account changes, so nothing fetched before either event is ever
// presented as fresh.
type Session struct {
	mu        sync.RWMutex
	epoch     uint64
	lifecycle Lifecycle
	signer    *chain.Signer

	native field
	token  field
	params [numParams]field

	block     uint64
	blockSeen bool

	possibleBets   uint64
	possibleBetsOK bool
}

func New() *Session {
	return &Session{}
}

// Connect installs signer and starts a new epoch. Account balances from any
// previous account are discarded.
func (s *Session) Connect(signer *chain.Signer) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
	s.lifecycle = Connected
	s.resetAccountLocked()
	s.epoch++
	return s.epoch
}

// Disconnect drops the signer and account balances. Lottery parameters are
// kept but become stale.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == Uninitialized {
		return
	}
	s.signer = nil
	s.lifecycle = Disconnected
	s.resetAccountLocked()
	s.epoch++
}

func (s *Session) resetAccountLocked() {
	s.native = field{}
	s.token = field{}
	s.recomputeLocked()
}

// Invalidate starts a new epoch, marking every current value stale.
func (s *Session) Invalidate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Session) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

func (s *Session) Signer() *chain.Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signer
}

// Address returns the connected account; ok is false when no signer is set.
func (s *Session) Address() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.signer == nil {
		return common.Address{}, false
	}
	return s.signer.Address(), true
}

func (s *Session) ownsLocked(owner common.Address) bool {
	return s.signer != nil && s.signer.Address() == owner
}

// SetNativeBalance records owner's balance fetched in epoch. It reports false
// when the write was dropped: owner is no longer the connected account, or a
// newer value is already present.
func (s *Session) SetNativeBalance(epoch uint64, owner common.Address, v *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil || !s.ownsLocked(owner) {
		return false
	}
	return s.native.write(epoch, v)
}

func (s *Session) SetTokenBalance(epoch uint64, owner common.Address, v *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil || !s.ownsLocked(owner) {
		return false
	}
	if !s.token.write(epoch, v) {
		return false
	}
	s.recomputeLocked()
	return true
}

func (s *Session) SetParameter(epoch uint64, p Param, v *big.Int) bool {
	if p < 0 || p >= numParams || v == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.params[p].write(epoch, v) {
		return false
	}
	if p == BetPrice || p == BetFee {
		s.recomputeLocked()
	}
	return true
}

// SetBlock records the latest observed head. Heads never move backwards.
func (s *Session) SetBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockSeen && n < s.block {
		return
	}
	s.block = n
	s.blockSeen = true
}

func (s *Session) recomputeLocked() {
	s.possibleBets, s.possibleBetsOK = PossibleBets(s.token.value, s.params[BetPrice].value, s.params[BetFee].value)
}
