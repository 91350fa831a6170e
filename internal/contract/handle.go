package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cpontrelli/lotto-dapp/internal/chain"
	"github.com/cpontrelli/lotto-dapp/internal/ethutil"
)

var (
	ErrInvalidAddress = errors.New("invalid contract address")
	ErrReadOnly       = errors.New("contract bound without a signer")
)

// Caller is the read capability a handle needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Exec is the execution context of a handle: a reader, optionally paired
// with a signer for state-changing calls.
type Exec struct {
	caller Caller
	signer *chain.Signer
}

func ReadOnly(c Caller) Exec { return Exec{caller: c} }

func WithSigner(c Caller, s *chain.Signer) Exec { return Exec{caller: c, signer: s} }

func (e Exec) Signer() *chain.Signer { return e.signer }

// Handle is a contract address bound to its schema and execution context.
type Handle struct {
	address common.Address
	schema  abi.ABI
	exec    Exec
}

// Bind validates address and returns a handle. Any address problem, including
// an empty one, is reported as ErrInvalidAddress.
func Bind(address string, schema abi.ABI, exec Exec) (*Handle, error) {
	addr, err := ethutil.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if exec.caller == nil {
		return nil, errors.New("contract bind: nil caller")
	}
	return &Handle{address: addr, schema: schema, exec: exec}, nil
}

func (h *Handle) Address() common.Address { return h.address }

// Call runs a view method and returns its unpacked outputs.
func (h *Handle) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := h.schema.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &h.address, Data: data}
	if h.exec.signer != nil {
		msg.From = h.exec.signer.Address()
	}
	out, err := h.exec.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %w", chain.ErrNetworkUnavailable, method, err)
	}
	vals, err := h.schema.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// Transact signs and submits a call to method. value is native currency in
// wei and may be nil.
func (h *Handle) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (chain.PendingTx, error) {
	if h.exec.signer == nil {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, method)
	}
	data, err := h.schema.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return h.exec.signer.Send(ctx, chain.TxRequest{To: h.address, Value: value, Data: data})
}

func (h *Handle) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	vals, err := h.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, vals[0])
	}
	return v, nil
}
