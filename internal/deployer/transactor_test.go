package deployer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/stakedeploy/internal/chain"
	"github.com/Bidon15/stakedeploy/internal/chain/chaintest"
	"github.com/Bidon15/stakedeploy/internal/feepolicy"
)

// Runs the staking plan through the real transactor against the in-memory chain.
func TestPipeline_Run_OverTransactor(t *testing.T) {
	backend := chaintest.NewBackend(5)
	backend.OnDeploy = func(b *chaintest.Backend, addr common.Address, tx *types.Transaction) {
		if impl, admin, ok := proxyTargets(tx.Data()); ok {
			b.SetStorageLocked(addr, ImplementationSlot, common.BytesToHash(impl.Bytes()))
			b.SetStorageLocked(addr, AdminSlot, common.BytesToHash(admin.Bytes()))
		}
	}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := chain.NewSigner(common.Bytes2Hex(crypto.FromECDSA(key)), big.NewInt(5))
	require.NoError(t, err)
	fees, err := feepolicy.NewFixed(feepolicy.Default())
	require.NoError(t, err)
	tr, err := chain.NewTransactor(chain.TransactorConfig{Backend: backend, Signer: signer, Fees: fees})
	require.NoError(t, err)

	p := newTestPipeline(t, Config{Network: tr})
	out, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Results, 3)

	require.Equal(t, 5, backend.Creations())
	for i, tx := range backend.Sent {
		assert.Equal(t, uint64(i), tx.Nonce())
		assert.Equal(t, "100000000000", tx.GasFeeCap().String(), "tx %d fee cap", i)
		assert.Equal(t, "5000000000", tx.GasTipCap().String(), "tx %d tip cap", i)
	}

	staking, _ := out.Lookup(StepStakingRewards)
	assert.Equal(t, crypto.CreateAddress(signer.Address(), 0), staking.Implementation)
	assert.Equal(t, crypto.CreateAddress(signer.Address(), 1), staking.Admin)
	assert.Equal(t, crypto.CreateAddress(signer.Address(), 2), staking.Address)

	deposit, _ := out.Lookup(StepDepositToken)
	assert.Equal(t, crypto.CreateAddress(signer.Address(), 3), deposit.Address)
	assert.Equal(t, addrWord(staking.Address), backend.Sent[3].Data()[3:])

	pool, _ := out.Lookup(StepBALRewardPool)
	assert.Equal(t, crypto.CreateAddress(signer.Address(), 4), pool.Address)
}

func TestPipeline_Run_OverTransactor_RevertStops(t *testing.T) {
	backend := chaintest.NewBackend(5)
	backend.OnDeploy = func(b *chaintest.Backend, addr common.Address, tx *types.Transaction) {
		if impl, _, ok := proxyTargets(tx.Data()); ok {
			b.SetStorageLocked(addr, ImplementationSlot, common.BytesToHash(impl.Bytes()))
		}
	}
	// The DepositToken creation reverts.
	backend.Revert = func(tx *types.Transaction) bool { return tx.Nonce() == 3 }

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := chain.NewSigner(common.Bytes2Hex(crypto.FromECDSA(key)), big.NewInt(5))
	require.NoError(t, err)
	fees, err := feepolicy.NewFixed(feepolicy.Default())
	require.NoError(t, err)
	tr, err := chain.NewTransactor(chain.TransactorConfig{Backend: backend, Signer: signer, Fees: fees})
	require.NoError(t, err)

	out, err := newTestPipeline(t, Config{Network: tr}).Run(context.Background())
	assert.ErrorIs(t, err, chain.ErrReverted)
	assert.Len(t, out.Results, 1)
	assert.Len(t, backend.Sent, 4, "BALRewardPool is never submitted")
}
