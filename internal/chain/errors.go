package chain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrWalletUnavailable   = errors.New("no wallet capability available")
	ErrUserRejected        = errors.New("user rejected the request")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrWrongNetwork        = errors.New("connected to the wrong network")
)

// EIP-1193 "user rejected request" and the geth "execution reverted" code.
const (
	codeUserRejected      = 4001
	codeExecutionReverted = 3
)

type Category int

const (
	CategoryNone Category = iota
	CategoryWalletUnavailable
	CategoryUserRejected
	CategoryTransactionReverted
	CategoryNetworkUnavailable
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryWalletUnavailable:
		return "wallet_unavailable"
	case CategoryUserRejected:
		return "user_rejected"
	case CategoryTransactionReverted:
		return "transaction_reverted"
	case CategoryNetworkUnavailable:
		return "network_unavailable"
	default:
		return "other"
	}
}

// Classify maps an error from the wallet, the node or a receipt onto the
// error taxonomy. Sentinel-wrapped errors win over heuristics.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	switch {
	case errors.Is(err, ErrWalletUnavailable):
		return CategoryWalletUnavailable
	case errors.Is(err, ErrUserRejected):
		return CategoryUserRejected
	case errors.Is(err, ErrTransactionReverted):
		return CategoryTransactionReverted
	case errors.Is(err, ErrNetworkUnavailable):
		return CategoryNetworkUnavailable
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected:
			return CategoryUserRejected
		case codeExecutionReverted:
			return CategoryTransactionReverted
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		return CategoryTransactionReverted
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return CategoryUserRejected
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return CategoryNetworkUnavailable
	}
	return CategoryOther
}

// normalize wraps err with the sentinel for its category so callers can use
// errors.Is without knowing the transport.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch Classify(err) {
	case CategoryUserRejected:
		sentinel = ErrUserRejected
	case CategoryTransactionReverted:
		sentinel = ErrTransactionReverted
	case CategoryNetworkUnavailable:
		sentinel = ErrNetworkUnavailable
	default:
		return err
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
