package chain

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct {
	code int
	msg  string
}

func (e *codedErr) Error() string  { return e.msg }
func (e *codedErr) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryNone},
		{"wallet_sentinel", fmt.Errorf("connect: %w", ErrWalletUnavailable), CategoryWalletUnavailable},
		{"rejected_sentinel", ErrUserRejected, CategoryUserRejected},
		{"reverted_sentinel", fmt.Errorf("wait: %w", ErrTransactionReverted), CategoryTransactionReverted},
		{"network_sentinel", ErrNetworkUnavailable, CategoryNetworkUnavailable},
		{"eip1193_4001", &codedErr{4001, "User rejected the request."}, CategoryUserRejected},
		{"geth_code_3", &codedErr{3, "execution reverted: bets closed"}, CategoryTransactionReverted},
		{"reverted_message", errors.New("gas estimation: execution reverted"), CategoryTransactionReverted},
		{"denied_message", errors.New("MetaMask Tx Signature: User denied transaction signature."), CategoryUserRejected},
		{"url_error", &url.Error{Op: "Post", URL: "http://127.0.0.1:8545", Err: errors.New("connection refused")}, CategoryNetworkUnavailable},
		{"other", errors.New("nonce too low"), CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNormalize(t *testing.T) {
	err := normalize(&codedErr{4001, "rejected"})
	assert.ErrorIs(t, err, ErrUserRejected)

	err = normalize(&codedErr{3, "execution reverted"})
	assert.ErrorIs(t, err, ErrTransactionReverted)

	plain := errors.New("nonce too low")
	assert.Same(t, plain, normalize(plain))

	already := fmt.Errorf("x: %w", ErrUserRejected)
	assert.Same(t, already, normalize(already))
	assert.NoError(t, normalize(nil))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "user_rejected", CategoryUserRejected.String())
	assert.Equal(t, "other", Category(99).String())
}
