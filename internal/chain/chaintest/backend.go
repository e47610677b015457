// Package chaintest provides an in-memory chain backend for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultGasEstimate is returned by EstimateGas unless overridden.
const DefaultGasEstimate = 1_000_000

// Backend mines every accepted transaction immediately into its own block.
// Contract creations succeed and store their init code as the account code
// unless Revert says otherwise.
type Backend struct {
	mu sync.Mutex

	chainID *big.Int
	signer  types.Signer

	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	code     map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash
	block    uint64

	// Sent holds every accepted transaction in submission order.
	Sent []*types.Transaction

	Balance     *big.Int
	GasEstimate uint64
	EstimateErr error
	SendErr     error
	NonceErr    error

	// Revert marks a transaction as failed on-chain.
	Revert func(tx *types.Transaction) bool

	// OnDeploy runs after a successful contract creation, with the lock held.
	OnDeploy func(b *Backend, addr common.Address, tx *types.Transaction)

	EstimateCalls int
	NonceCalls    int
}

// NewBackend returns an empty chain with the given id.
func NewBackend(chainID int64) *Backend {
	id := big.NewInt(chainID)
	return &Backend{
		chainID:     id,
		signer:      types.LatestSignerForChainID(id),
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*types.Receipt),
		code:        make(map[common.Address][]byte),
		storage:     make(map[common.Address]map[common.Hash]common.Hash),
		Balance:     new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
		GasEstimate: DefaultGasEstimate,
	}
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.Balance), nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.NonceCalls++
	if b.NonceErr != nil {
		return 0, b.NonceErr
	}
	return b.nonces[account], nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.EstimateCalls++
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return b.GasEstimate, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SendErr != nil {
		return b.SendErr
	}
	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if want := b.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("nonce mismatch: have %d, want %d", tx.Nonce(), want)
	}
	b.nonces[from]++
	b.block++
	b.Sent = append(b.Sent, tx)

	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas() / 2,
		BlockNumber: new(big.Int).SetUint64(b.block),
	}
	if b.Revert != nil && b.Revert(tx) {
		receipt.Status = types.ReceiptStatusFailed
	}
	if tx.To() == nil {
		addr := crypto.CreateAddress(from, tx.Nonce())
		receipt.ContractAddress = addr
		if receipt.Status == types.ReceiptStatusSuccessful {
			b.code[addr] = common.CopyBytes(tx.Data())
			if b.OnDeploy != nil {
				b.OnDeploy(b, addr, tx)
			}
		}
	}
	b.receipts[tx.Hash()] = receipt
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return common.CopyBytes(b.code[account]), nil
}

func (b *Backend) StorageAt(_ context.Context, account common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.storage[account][key]
	return v.Bytes(), nil
}

func (b *Backend) Close() {}

// SetStorage writes a storage word.
func (b *Backend) SetStorage(account common.Address, key, value common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SetStorageLocked(account, key, value)
}

// SetStorageLocked is SetStorage for callers already holding the lock.
func (b *Backend) SetStorageLocked(account common.Address, key, value common.Hash) {
	if b.storage[account] == nil {
		b.storage[account] = make(map[common.Hash]common.Hash)
	}
	b.storage[account][key] = value
}

// SetCode replaces the code at an address.
func (b *Backend) SetCode(account common.Address, code []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.code[account] = common.CopyBytes(code)
}

// Creations reports how many contract creations were accepted.
func (b *Backend) Creations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, tx := range b.Sent {
		if tx.To() == nil {
			n++
		}
	}
	return n
}

// ErrUnavailable simulates a dead node.
var ErrUnavailable = errors.New("chaintest: node unavailable")
