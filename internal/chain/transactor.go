package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bidon15/stakedeploy/internal/feepolicy"
)

// DefaultGasBufferPercent is added on top of estimated gas.
const DefaultGasBufferPercent = 20

// TransactorConfig configures a Transactor.
type TransactorConfig struct {
	Backend Backend
	Signer  *Signer
	Fees    feepolicy.Quoter

	// GasLimit fixes the gas limit of every transaction. Zero estimates per transaction.
	GasLimit uint64

	// GasBufferPercent is added to estimated gas. Nil means
	// DefaultGasBufferPercent; zero sends the bare estimate.
	GasBufferPercent *uint64

	Logger *slog.Logger
}

// Deployment is a confirmed contract-creation transaction.
type Deployment struct {
	Address common.Address
	TxHash  common.Hash
	Nonce   uint64
	Receipt *types.Receipt
}

// TxError ties a failure to the transaction that caused it.
type TxError struct {
	Hash common.Hash
	Err  error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("tx %s: %v", e.Hash.Hex(), e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// Transactor builds, signs, broadcasts and confirms contract deployments for a
// single signer. It owns the signer's nonce sequence and takes fee parameters
// from the configured Quoter instead of the node.
type Transactor struct {
	backend   Backend
	signer    *Signer
	fees      feepolicy.Quoter
	gasLimit  uint64
	gasBuffer uint64
	logger    *slog.Logger

	mu    sync.Mutex
	nonce *uint64
}

// NewTransactor creates a Transactor.
func NewTransactor(cfg TransactorConfig) (*Transactor, error) {
	if cfg.Backend == nil {
		return nil, errors.New("chain: backend is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("chain: signer is required")
	}
	if cfg.Fees == nil {
		return nil, errors.New("chain: fee quoter is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := uint64(DefaultGasBufferPercent)
	if cfg.GasBufferPercent != nil {
		buffer = *cfg.GasBufferPercent
	}
	return &Transactor{
		backend:   cfg.Backend,
		signer:    cfg.Signer,
		fees:      cfg.Fees,
		gasLimit:  cfg.GasLimit,
		gasBuffer: buffer,
		logger:    logger,
	}, nil
}

// Address returns the sending account.
func (t *Transactor) Address() common.Address {
	return t.signer.Address()
}

// CodeAt returns the code at addr in the latest block.
func (t *Transactor) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return t.backend.CodeAt(ctx, addr, nil)
}

// StorageAt returns the storage word at slot of addr in the latest block.
func (t *Transactor) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	return t.backend.StorageAt(ctx, addr, slot, nil)
}

// Deploy sends a contract-creation transaction carrying data (creation code
// plus encoded constructor arguments) and blocks until it is mined.
// It fails if the transaction reverts or leaves no code behind.
func (t *Transactor) Deploy(ctx context.Context, data []byte) (*Deployment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.signer.Address()

	nonce, err := t.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	fees := t.fees.FeeData()

	gasLimit, err := t.gasFor(ctx, from, data, fees)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       gasLimit,
		Value:     new(big.Int),
		Data:      data,
	})

	signedTx, err := t.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := t.backend.SendTransaction(ctx, signedTx); err != nil {
		// The node may or may not have seen the nonce; ask again next time.
		t.nonce = nil
		return nil, &TxError{Hash: signedTx.Hash(), Err: fmt.Errorf("%w: %w", ErrSubmit, err)}
	}
	next := nonce + 1
	t.nonce = &next

	t.logger.Info("deployment transaction submitted, waiting for confirmation",
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("max_fee_per_gas", fees.MaxFeePerGas.String()),
		slog.String("max_priority_fee_per_gas", fees.MaxPriorityFeePerGas.String()),
	)

	receipt, err := bind.WaitMined(ctx, t.backend, signedTx)
	if err != nil {
		return nil, &TxError{Hash: signedTx.Hash(), Err: fmt.Errorf("%w: %w", ErrConfirm, err)}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &TxError{
			Hash: signedTx.Hash(),
			Err:  fmt.Errorf("%w in block %s (gas used %d)", ErrReverted, receipt.BlockNumber, receipt.GasUsed),
		}
	}

	addr := receipt.ContractAddress
	if addr == (common.Address{}) {
		addr = crypto.CreateAddress(from, nonce)
	}

	code, err := t.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, &TxError{Hash: signedTx.Hash(), Err: fmt.Errorf("get code at %s: %w", addr.Hex(), err)}
	}
	if len(code) == 0 {
		return nil, &TxError{Hash: signedTx.Hash(), Err: fmt.Errorf("%w: %s", ErrNoCode, addr.Hex())}
	}

	t.logger.Info("deployment transaction confirmed",
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.String("address", addr.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)

	return &Deployment{
		Address: addr,
		TxHash:  signedTx.Hash(),
		Nonce:   nonce,
		Receipt: receipt,
	}, nil
}

// nextNonce returns the nonce for the next transaction. Must hold t.mu.
func (t *Transactor) nextNonce(ctx context.Context) (uint64, error) {
	if t.nonce != nil {
		return *t.nonce, nil
	}
	n, err := t.backend.PendingNonceAt(ctx, t.signer.Address())
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	t.nonce = &n
	return n, nil
}

func (t *Transactor) gasFor(ctx context.Context, from common.Address, data []byte, fees feepolicy.Policy) (uint64, error) {
	if t.gasLimit > 0 {
		return t.gasLimit, nil
	}
	estimate, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
		Value:     new(big.Int),
		Data:      data,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEstimateGas, err)
	}
	return estimate * (100 + t.gasBuffer) / 100, nil
}
