package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferTopic(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), transferTopic)
}

func transferLog(token, from, to common.Address, value *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: value.FillBytes(make([]byte, 32)),
	}
}

func TestTokenDelta(t *testing.T) {
	token := common.HexToAddress(tokenAddr)
	lottery := common.HexToAddress(lotteryAddr)
	player := common.HexToAddress("0x49226C9a8eae5b040f4aa878369C6ab130985B4C")
	other := common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	unrelated := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	t.Run("mint_on_purchase", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			transferLog(token, common.Address{}, player, big.NewInt(3_000)),
		}}
		d, ok := TokenDelta(receipt, token, player)
		require.True(t, ok)
		assert.Equal(t, int64(3_000), d.Int64())
	})

	t.Run("bet_pulls_price_and_fee", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			transferLog(token, player, lottery, big.NewInt(10)),
			transferLog(token, player, lottery, big.NewInt(1)),
		}}
		d, ok := TokenDelta(receipt, token, player)
		require.True(t, ok)
		assert.Equal(t, int64(-11), d.Int64())
	})

	t.Run("ignores_other_contracts_and_accounts", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			transferLog(unrelated, player, lottery, big.NewInt(5)),
			transferLog(token, other, lottery, big.NewInt(7)),
			nil,
			{Address: token, Topics: []common.Hash{transferTopic}},
		}}
		_, ok := TokenDelta(receipt, token, player)
		assert.False(t, ok)
	})

	t.Run("nil_receipt", func(t *testing.T) {
		_, ok := TokenDelta(nil, token, player)
		assert.False(t, ok)
	})
}
