package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCWallet talks to an external signer that exposes the EIP-1193 account
// methods over JSON-RPC (a browser bridge, Frame, a clef-style proxy).
// Submitted transactions are awaited on the node, not on the wallet.
type RPCWallet struct {
	client       *rpc.Client
	receipts     ReceiptReader
	pollInterval time.Duration
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

func DialRPCWallet(ctx context.Context, url string, receipts ReceiptReader, pollInterval time.Duration) (*RPCWallet, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: wallet URL missing", ErrWalletUnavailable)
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial wallet %s: %w", ErrWalletUnavailable, url, err)
	}
	return NewRPCWallet(client, receipts, pollInterval), nil
}

func NewRPCWallet(client *rpc.Client, receipts ReceiptReader, pollInterval time.Duration) *RPCWallet {
	return &RPCWallet{client: client, receipts: receipts, pollInterval: pollInterval}
}

func (w *RPCWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	if err := w.client.CallContext(ctx, &out, "eth_requestAccounts"); err != nil {
		return nil, normalize(fmt.Errorf("eth_requestAccounts: %w", err))
	}
	return out, nil
}

func (w *RPCWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	if err := w.client.CallContext(ctx, &out, "eth_accounts"); err != nil {
		return nil, normalize(fmt.Errorf("eth_accounts: %w", err))
	}
	return out, nil
}

func (w *RPCWallet) SendTransaction(ctx context.Context, from common.Address, req TxRequest) (PendingTx, error) {
	to := req.To
	args := sendTxArgs{
		From: from,
		To:   &to,
		Data: hexutil.Bytes(req.Data),
	}
	if req.Value != nil && req.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(new(big.Int).Set(req.Value))
	}

	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return nil, normalize(fmt.Errorf("eth_sendTransaction to %s: %w", req.To.Hex(), err))
	}

	return &pendingTx{
		hash: hash,
		wait: func(ctx context.Context) (*types.Receipt, error) {
			return waitMined(ctx, w.receipts, hash, w.pollInterval)
		},
	}, nil
}

func (w *RPCWallet) Close() {
	w.client.Close()
}
