package statesync

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cpontrelli/lotto-dapp/internal/logging"
	"github.com/cpontrelli/lotto-dapp/internal/metric"
	"github.com/cpontrelli/lotto-dapp/internal/session"
	"github.com/cpontrelli/lotto-dapp/internal/units"
)

const (
	fieldNativeBalance = "nativeBalance"
	fieldTokenBalance  = "tokenBalance"

	defaultReadTimeout = 10 * time.Second
)

type TokenReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
}

type LotteryReader interface {
	PurchaseRatio(ctx context.Context) (*big.Int, error)
	BetPrice(ctx context.Context) (*big.Int, error)
	BetFee(ctx context.Context) (*big.Int, error)
	BetsClosingTime(ctx context.Context) (time.Time, error)
}

type BalanceReader interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Syncer fetches account and contract state into a session. A nil token or
// lottery reader means the contract address is not configured; refreshes
// that need it are skipped.
//
// Every refresh captures the session epoch when it starts and writes with
// it, so a refresh that straddles a submission lands as stale or is dropped.
type Syncer struct {
	sess        *session.Session
	balances    BalanceReader
	token       TokenReader
	lottery     LotteryReader
	readTimeout time.Duration
	log         zerolog.Logger
}

func New(sess *session.Session, balances BalanceReader, token TokenReader, lottery LotteryReader) *Syncer {
	return &Syncer{
		sess:        sess,
		balances:    balances,
		token:       token,
		lottery:     lottery,
		readTimeout: defaultReadTimeout,
		log:         logging.Component("statesync"),
	}
}

type collector struct {
	mu     sync.Mutex
	failed []FieldError
}

func (c *collector) add(field string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, FieldError{Field: field, Err: err})
}

func (c *collector) result(attempted int) error {
	if len(c.failed) == 0 {
		return nil
	}
	return &SyncError{Attempted: attempted, Failed: c.failed}
}

func (s *Syncer) fail(c *collector, field string, err error) {
	s.log.Warn().Err(err).Str("field", field).Msg("state fetch failed; keeping previous value")
	metric.RecordSyncFailure(field)
	c.add(field, err)
}

func (s *Syncer) fetch(ctx context.Context, fn func(ctx context.Context) (*big.Int, error)) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	v, err := fn(callCtx)
	if err == nil && v == nil {
		err = fmt.Errorf("empty result")
	}
	return v, err
}

// RefreshLotteryParameters fetches the four lottery parameters concurrently.
// Each one is written as soon as it arrives; a failed fetch leaves the
// previous value in place and is reported in a *SyncError.
func (s *Syncer) RefreshLotteryParameters(ctx context.Context) error {
	if s.lottery == nil {
		return nil
	}
	epoch := s.sess.Epoch()

	fetchers := map[session.Param]func(ctx context.Context) (*big.Int, error){
		session.PurchaseRatio: s.lottery.PurchaseRatio,
		session.BetPrice:      s.lottery.BetPrice,
		session.BetFee:        s.lottery.BetFee,
		session.ClosingTime: func(ctx context.Context) (*big.Int, error) {
			t, err := s.lottery.BetsClosingTime(ctx)
			if err != nil {
				return nil, err
			}
			return big.NewInt(t.Unix()), nil
		},
	}

	var (
		g errgroup.Group
		c collector
	)
	for _, p := range session.Params() {
		p, fn := p, fetchers[p]
		g.Go(func() error {
			v, err := s.fetch(ctx, fn)
			if err != nil {
				s.fail(&c, p.String(), err)
				return nil
			}
			if s.sess.SetParameter(epoch, p, v) {
				s.log.Debug().Str("field", p.String()).Str("value", v.String()).Uint64("epoch", epoch).Msg("parameter updated")
			}
			return nil
		})
	}
	_ = g.Wait()
	return c.result(len(fetchers))
}

func (s *Syncer) RefreshTokenBalance(ctx context.Context, owner common.Address) error {
	if s.token == nil {
		return nil
	}
	epoch := s.sess.Epoch()
	var c collector
	v, err := s.fetch(ctx, func(ctx context.Context) (*big.Int, error) {
		return s.token.BalanceOf(ctx, owner)
	})
	if err != nil {
		s.fail(&c, fieldTokenBalance, err)
		return c.result(1)
	}
	if s.sess.SetTokenBalance(epoch, owner, v) {
		s.log.Debug().Str("owner", owner.Hex()).Str("balance", units.Format(v, units.TokenDecimals)).Msg("token balance updated")
	}
	return nil
}

func (s *Syncer) RefreshNativeBalance(ctx context.Context, owner common.Address) error {
	epoch := s.sess.Epoch()
	var c collector
	v, err := s.fetch(ctx, func(ctx context.Context) (*big.Int, error) {
		return s.balances.NativeBalance(ctx, owner)
	})
	if err != nil {
		s.fail(&c, fieldNativeBalance, err)
		return c.result(1)
	}
	if s.sess.SetNativeBalance(epoch, owner, v) {
		s.log.Debug().Str("owner", owner.Hex()).Str("balance", units.Format(v, units.TokenDecimals)).Msg("native balance updated")
	}
	return nil
}

// RefreshAll re-fetches the native balance, the token balance and every
// lottery parameter concurrently.
func (s *Syncer) RefreshAll(ctx context.Context, owner common.Address) error {
	var (
		g                              errgroup.Group
		nativeErr, tokenErr, paramsErr error
	)
	g.Go(func() error {
		nativeErr = s.RefreshNativeBalance(ctx, owner)
		return nil
	})
	g.Go(func() error {
		tokenErr = s.RefreshTokenBalance(ctx, owner)
		return nil
	})
	g.Go(func() error {
		paramsErr = s.RefreshLotteryParameters(ctx)
		return nil
	})
	_ = g.Wait()

	attempted := 1
	if s.token != nil {
		attempted++
	}
	if s.lottery != nil {
		attempted += len(session.Params())
	}
	return merge(attempted, nativeErr, tokenErr, paramsErr)
}

// VerifyTokenPrecision checks that the token declares the precision used
// for display and amount scaling.
func (s *Syncer) VerifyTokenPrecision(ctx context.Context) error {
	if s.token == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	d, err := s.token.Decimals(callCtx)
	if err != nil {
		return fmt.Errorf("read token decimals: %w", err)
	}
	if int32(d) != units.TokenDecimals {
		s.log.Warn().Uint8("decimals", d).Int32("assumed", units.TokenDecimals).Msg("token precision differs; displayed amounts will be wrong")
		return fmt.Errorf("%w: token declares %d decimals, client assumes %d", ErrPrecisionMismatch, d, units.TokenDecimals)
	}
	return nil
}
