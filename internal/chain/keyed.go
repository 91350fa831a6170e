package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxBackend is what a local key needs to build, submit and await
// transactions. *ethclient.Client satisfies it.
type TxBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// KeyedWallet signs with a local private key. It never prompts, so
// RequestAccounts cannot be rejected.
type KeyedWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend TxBackend
	chainID *big.Int
}

func NewKeyedWallet(hexKey string, backend TxBackend, chainID *big.Int) (*KeyedWallet, error) {
	hexKey = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if hexKey == "" {
		return nil, fmt.Errorf("%w: private key missing", ErrWalletUnavailable)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required for keyed wallet")
	}
	return &KeyedWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
		chainID: new(big.Int).Set(chainID),
	}, nil
}

func (w *KeyedWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

func (w *KeyedWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

func (w *KeyedWallet) SendTransaction(ctx context.Context, from common.Address, req TxRequest) (PendingTx, error) {
	if from != w.address {
		return nil, fmt.Errorf("keyed wallet cannot sign for %s (holds %s)", from.Hex(), w.address.Hex())
	}

	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	if req.Value != nil {
		opts.Value = new(big.Int).Set(req.Value)
	}

	contract := bind.NewBoundContract(req.To, abi.ABI{}, w.backend, w.backend, w.backend)
	tx, err := contract.RawTransact(opts, req.Data)
	if err != nil {
		return nil, normalize(fmt.Errorf("submit to %s: %w", req.To.Hex(), err))
	}

	return &pendingTx{
		hash: tx.Hash(),
		wait: func(ctx context.Context) (*types.Receipt, error) {
			return bind.WaitMined(ctx, w.backend, tx)
		},
	}, nil
}
