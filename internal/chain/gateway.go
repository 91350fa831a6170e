package chain

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cpontrelli/lotto-dapp/internal/logging"
)

// Reader is the read-only RPC capability. *ethclient.Client satisfies it.
type Reader interface {
	ReceiptReader
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

var networks = map[string]int64{
	"mainnet":   1,
	"homestead": 1,
	"goerli":    5,
	"sepolia":   11155111,
	"holesky":   17000,
}

// ResolveNetwork maps a network name or decimal chain id to a chain id.
func ResolveNetwork(name string) (*big.Int, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if id, ok := networks[n]; ok {
		return big.NewInt(id), nil
	}
	id, err := strconv.ParseInt(n, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("unknown network %q", name)
	}
	return big.NewInt(id), nil
}

// Gateway owns the node connection and the wallet capability.
type Gateway struct {
	reader Reader
	wallet Wallet
	log    zerolog.Logger
}

// NewGateway wires an already-connected reader. wallet may be nil, in which
// case ConnectAccount fails with ErrWalletUnavailable. chainID only tags the
// gateway's log lines.
func NewGateway(reader Reader, wallet Wallet, chainID *big.Int) *Gateway {
	l := logging.Component("gateway")
	if chainID != nil {
		l = l.With().Str("chain_id", chainID.String()).Logger()
	}
	return &Gateway{reader: reader, wallet: wallet, log: l}
}

// Dial connects to rpcURL, retrying with jittered backoff until ctx is done,
// and checks that the endpoint serves the configured network.
func Dial(ctx context.Context, rpcURL, network string) (*ethclient.Client, *big.Int, error) {
	want, err := ResolveNetwork(network)
	if err != nil {
		return nil, nil, err
	}

	client, head, err := dialWithBackoff(ctx, rpcURL, time.Second, 30*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}

	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("%w: fetch chain id: %w", ErrNetworkUnavailable, err)
	}
	if got.Cmp(want) != 0 {
		client.Close()
		return nil, nil, fmt.Errorf("%w: endpoint chain id %s, want %s (%s)", ErrWrongNetwork, got, want, network)
	}

	log.Info().Str("network", network).Str("chain_id", got.String()).Uint64("head", head).Msg("connected to node")
	return client, got, nil
}

func dialWithBackoff(ctx context.Context, url string, baseDelay, maxDelay time.Duration) (*ethclient.Client, uint64, error) {
	delay := baseDelay
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			headNum, headErr := client.BlockNumber(ctx)
			if headErr == nil {
				return client, headNum, nil
			}
			client.Close()
			err = fmt.Errorf("failed to fetch head: %w", headErr)
		}

		wait := jitterDuration(delay)
		log.Warn().Err(err).Dur("retry_in", wait).Msg("failed to connect to node")
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, 0, err
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5 // +/-20%
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(j*2)+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) Reader() Reader { return g.reader }

func (g *Gateway) HasWallet() bool { return g.wallet != nil }

// ConnectAccount requests wallet authorization. It is the only operation that
// may prompt the user.
func (g *Gateway) ConnectAccount(ctx context.Context) (*Signer, error) {
	if g.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	accounts, err := g.wallet.RequestAccounts(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: wallet authorized no accounts", ErrUserRejected)
	}
	g.log.Debug().Int("accounts", len(accounts)).Str("account", accounts[0].Hex()).Msg("wallet authorized")
	return NewSigner(g.wallet, accounts[0]), nil
}

// CurrentAccount reports the wallet's active account without prompting.
// ok is false when the wallet no longer exposes any account.
func (g *Gateway) CurrentAccount(ctx context.Context) (common.Address, bool, error) {
	if g.wallet == nil {
		return common.Address{}, false, ErrWalletUnavailable
	}
	accounts, err := g.wallet.Accounts(ctx)
	if err != nil {
		return common.Address{}, false, normalize(err)
	}
	if len(accounts) == 0 {
		return common.Address{}, false, nil
	}
	return accounts[0], true, nil
}

// LatestBlock returns the current head. It is a liveness signal only.
func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := g.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: latest block: %w", ErrNetworkUnavailable, err)
	}
	return header.Number.Uint64(), nil
}

// ResolveAccountAddress returns the EIP-55 checksummed address of signer.
func (g *Gateway) ResolveAccountAddress(signer *Signer) string {
	if signer == nil {
		return ""
	}
	return signer.Address().Hex()
}

func (g *Gateway) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := g.reader.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %w", ErrNetworkUnavailable, account.Hex(), err)
	}
	return bal, nil
}
