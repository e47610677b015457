package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/stakedeploy/internal/chain/chaintest"
	"github.com/Bidon15/stakedeploy/internal/feepolicy"
)

// Well-known development key (hardhat/anvil account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func newTestTransactor(t *testing.T, backend *chaintest.Backend, gasLimit uint64) *Transactor {
	t.Helper()
	signer, err := NewSigner(testKey, big.NewInt(31337))
	require.NoError(t, err)
	fees, err := feepolicy.NewFixed(feepolicy.Default())
	require.NoError(t, err)
	tr, err := NewTransactor(TransactorConfig{
		Backend:  backend,
		Signer:   signer,
		Fees:     fees,
		GasLimit: gasLimit,
	})
	require.NoError(t, err)
	return tr
}

func TestNewTransactor_RequiresCollaborators(t *testing.T) {
	_, err := NewTransactor(TransactorConfig{})
	assert.ErrorContains(t, err, "backend is required")

	_, err = NewTransactor(TransactorConfig{Backend: chaintest.NewBackend(1)})
	assert.ErrorContains(t, err, "signer is required")
}

func TestTransactor_Deploy_UsesFixedFeePolicy(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	tr := newTestTransactor(t, backend, 0)

	dep, err := tr.Deploy(context.Background(), []byte{0x60, 0x80})
	require.NoError(t, err)

	require.Len(t, backend.Sent, 1)
	tx := backend.Sent[0]
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, "100000000000", tx.GasFeeCap().String())
	assert.Equal(t, "5000000000", tx.GasTipCap().String())
	assert.Nil(t, tx.To())
	assert.Equal(t, 0, big.NewInt(31337).Cmp(tx.ChainId()))
	assert.Equal(t, tx.Hash(), dep.TxHash)
}

func TestTransactor_Deploy_ReturnsCreateAddress(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	tr := newTestTransactor(t, backend, 0)

	dep, err := tr.Deploy(context.Background(), []byte{0x01})
	require.NoError(t, err)

	assert.Equal(t, crypto.CreateAddress(testAddress, 0), dep.Address)
	assert.Equal(t, uint64(0), dep.Nonce)
	assert.Equal(t, types.ReceiptStatusSuccessful, dep.Receipt.Status)
}

func TestTransactor_Deploy_SequencesNonces(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	tr := newTestTransactor(t, backend, 0)
	ctx := context.Background()

	var addrs []common.Address
	for i := 0; i < 3; i++ {
		dep, err := tr.Deploy(ctx, []byte{byte(i + 1)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), dep.Nonce)
		addrs = append(addrs, dep.Address)
	}

	assert.Equal(t, 1, backend.NonceCalls, "pending nonce should be fetched once")
	assert.NotEqual(t, addrs[0], addrs[1])
	assert.NotEqual(t, addrs[1], addrs[2])
}

func TestTransactor_Deploy_GasLimit(t *testing.T) {
	t.Run("estimate plus buffer", func(t *testing.T) {
		backend := chaintest.NewBackend(31337)
		tr := newTestTransactor(t, backend, 0)

		_, err := tr.Deploy(context.Background(), []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, uint64(1_200_000), backend.Sent[0].Gas())
		assert.Equal(t, 1, backend.EstimateCalls)
	})

	t.Run("zero buffer sends the estimate", func(t *testing.T) {
		backend := chaintest.NewBackend(31337)
		signer, err := NewSigner(testKey, big.NewInt(31337))
		require.NoError(t, err)
		fees, err := feepolicy.NewFixed(feepolicy.Default())
		require.NoError(t, err)
		var zero uint64
		tr, err := NewTransactor(TransactorConfig{Backend: backend, Signer: signer, Fees: fees, GasBufferPercent: &zero})
		require.NoError(t, err)

		_, err = tr.Deploy(context.Background(), []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), backend.Sent[0].Gas())
	})

	t.Run("fixed limit skips estimation", func(t *testing.T) {
		backend := chaintest.NewBackend(31337)
		tr := newTestTransactor(t, backend, 4_700_000)

		_, err := tr.Deploy(context.Background(), []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, uint64(4_700_000), backend.Sent[0].Gas())
		assert.Equal(t, 0, backend.EstimateCalls)
	})

	t.Run("estimation failure sends nothing", func(t *testing.T) {
		backend := chaintest.NewBackend(31337)
		backend.EstimateErr = errors.New("execution reverted")
		tr := newTestTransactor(t, backend, 0)

		_, err := tr.Deploy(context.Background(), []byte{0x01})
		assert.ErrorIs(t, err, ErrEstimateGas)
		assert.Empty(t, backend.Sent)
	})
}

func TestTransactor_Deploy_Reverted(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	backend.Revert = func(*types.Transaction) bool { return true }
	tr := newTestTransactor(t, backend, 0)

	_, err := tr.Deploy(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReverted)

	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, backend.Sent[0].Hash(), txErr.Hash)
}

func TestTransactor_Deploy_NoCode(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	tr := newTestTransactor(t, backend, 0)

	_, err := tr.Deploy(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestTransactor_Deploy_SubmitFailureRefetchesNonce(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	tr := newTestTransactor(t, backend, 0)
	ctx := context.Background()

	backend.SendErr = chaintest.ErrUnavailable
	_, err := tr.Deploy(ctx, []byte{0x01})
	assert.ErrorIs(t, err, ErrSubmit)
	assert.ErrorIs(t, err, chaintest.ErrUnavailable)

	backend.SendErr = nil
	dep, err := tr.Deploy(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), dep.Nonce)
	assert.Equal(t, 2, backend.NonceCalls)
}

func TestTransactor_Deploy_NonceLookupFailure(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	backend.NonceErr = chaintest.ErrUnavailable
	tr := newTestTransactor(t, backend, 0)

	_, err := tr.Deploy(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, chaintest.ErrUnavailable)
	assert.ErrorContains(t, err, "get nonce")
}

func TestTransactor_StorageAndCode(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	tr := newTestTransactor(t, backend, 0)
	ctx := context.Background()

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	slot := common.HexToHash("0x01")
	backend.SetStorage(addr, slot, common.HexToHash("0x02"))
	backend.SetCode(addr, []byte{0xfe})

	word, err := tr.StorageAt(ctx, addr, slot)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x02").Bytes(), word)

	code, err := tr.CodeAt(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe}, code)
}
