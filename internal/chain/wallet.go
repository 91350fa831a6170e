package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Wallet is the injected signing capability.
type Wallet interface {
	// RequestAccounts asks the user for authorization and may prompt.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the currently authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	// SendTransaction signs and submits a transaction from the given account.
	SendTransaction(ctx context.Context, from common.Address, req TxRequest) (PendingTx, error)
}

type TxRequest struct {
	To    common.Address
	Value *big.Int // native currency in wei; nil for none
	Data  []byte
}

// PendingTx is a submitted transaction. Wait blocks until the transaction is
// included; a reverted receipt is returned together with an error wrapping
// ErrTransactionReverted.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*types.Receipt, error)
}

type pendingTx struct {
	hash common.Hash
	wait func(ctx context.Context) (*types.Receipt, error)
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

func (p *pendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	receipt, err := p.wait(ctx)
	if err != nil {
		return receipt, err
	}
	return receipt, checkReceipt(receipt, p.hash)
}

func checkReceipt(receipt *types.Receipt, hash common.Hash) error {
	if receipt == nil {
		return fmt.Errorf("tx %s: empty receipt", hash.Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s (block %s)", ErrTransactionReverted, hash.Hex(), receipt.BlockNumber)
	}
	return nil
}

// Signer authorizes transactions for one account through a Wallet.
type Signer struct {
	wallet  Wallet
	address common.Address
}

func NewSigner(w Wallet, address common.Address) *Signer {
	return &Signer{wallet: w, address: address}
}

func (s *Signer) Address() common.Address { return s.address }

func (s *Signer) Send(ctx context.Context, req TxRequest) (PendingTx, error) {
	tx, err := s.wallet.SendTransaction(ctx, s.address, req)
	if err != nil {
		return nil, normalize(err)
	}
	return tx, nil
}
