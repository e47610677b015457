// Package feepolicy supplies the gas pricing used for every transaction the
// deployer sends, replacing the node's live fee estimation.
package feepolicy

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// Default fee values in gwei.
const (
	DefaultMaxFeePerGasGwei         = "100"
	DefaultMaxPriorityFeePerGasGwei = "5"
	DefaultBaseFeePerGasGwei        = "20"
)

var (
	ErrMissingFee     = errors.New("feepolicy: fee value is required")
	ErrNegativeFee    = errors.New("feepolicy: fee value must not be negative")
	ErrTipAboveMaxFee = errors.New("feepolicy: max priority fee exceeds max fee")
	ErrInvalidAmount  = errors.New("feepolicy: invalid gwei amount")
)

// Policy is the fee triple applied to transactions. All values are in wei.
type Policy struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	BaseFeePerGas        *big.Int
}

// Copy returns a deep copy of the policy.
func (p Policy) Copy() Policy {
	return Policy{
		MaxFeePerGas:         copyInt(p.MaxFeePerGas),
		MaxPriorityFeePerGas: copyInt(p.MaxPriorityFeePerGas),
		BaseFeePerGas:        copyInt(p.BaseFeePerGas),
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	fields := []struct {
		name  string
		value *big.Int
	}{
		{"max fee per gas", p.MaxFeePerGas},
		{"max priority fee per gas", p.MaxPriorityFeePerGas},
		{"base fee per gas", p.BaseFeePerGas},
	}
	for _, f := range fields {
		if f.value == nil {
			return fmt.Errorf("%w: %s", ErrMissingFee, f.name)
		}
		if f.value.Sign() < 0 {
			return fmt.Errorf("%w: %s is %s", ErrNegativeFee, f.name, f.value)
		}
	}
	if p.MaxPriorityFeePerGas.Cmp(p.MaxFeePerGas) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrTipAboveMaxFee, p.MaxPriorityFeePerGas, p.MaxFeePerGas)
	}
	return nil
}

// String renders the policy in gwei for logs.
func (p Policy) String() string {
	return fmt.Sprintf("maxFee=%s gwei maxPriorityFee=%s gwei baseFee=%s gwei",
		FormatGwei(p.MaxFeePerGas), FormatGwei(p.MaxPriorityFeePerGas), FormatGwei(p.BaseFeePerGas))
}

// Quoter supplies fee data right before a transaction is signed.
// Implementations must not block or perform I/O.
type Quoter interface {
	FeeData() Policy
}

// Fixed is a Quoter that always returns the same policy.
type Fixed struct {
	policy Policy
}

// NewFixed validates p and returns a Quoter that returns it on every call.
func NewFixed(p Policy) (*Fixed, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Fixed{policy: p.Copy()}, nil
}

// FeeData returns a copy of the fixed policy.
func (f *Fixed) FeeData() Policy {
	return f.policy.Copy()
}

// FromGwei builds a policy from decimal gwei strings.
func FromGwei(maxFee, maxPriorityFee, baseFee string) (Policy, error) {
	var (
		p   Policy
		err error
	)
	if p.MaxFeePerGas, err = ParseGwei(maxFee); err != nil {
		return Policy{}, fmt.Errorf("max fee per gas: %w", err)
	}
	if p.MaxPriorityFeePerGas, err = ParseGwei(maxPriorityFee); err != nil {
		return Policy{}, fmt.Errorf("max priority fee per gas: %w", err)
	}
	if p.BaseFeePerGas, err = ParseGwei(baseFee); err != nil {
		return Policy{}, fmt.Errorf("base fee per gas: %w", err)
	}
	return p, nil
}

// Default returns the 100 / 5 / 20 gwei policy.
func Default() Policy {
	p, err := FromGwei(DefaultMaxFeePerGasGwei, DefaultMaxPriorityFeePerGasGwei, DefaultBaseFeePerGasGwei)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseGwei converts a decimal gwei amount such as "20" or "0.5" to wei.
// Amounts finer than one wei are rejected.
func ParseGwei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNegativeFee, s)
	}
	r.Mul(r, new(big.Rat).SetInt64(params.GWei))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %q has more precision than 1 wei", ErrInvalidAmount, s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatGwei renders a wei amount as gwei without trailing zeros.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.GWei))
	s := r.FloatString(9)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
