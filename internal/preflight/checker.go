// Package preflight provides pre-deployment validation checks.
package preflight

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/stakedeploy/internal/artifacts"
	"github.com/Bidon15/stakedeploy/internal/chain"
	"github.com/Bidon15/stakedeploy/internal/feepolicy"
)

// DefaultTimeout is the default timeout for RPC calls.
const DefaultTimeout = 10 * time.Second

// DefaultGasBudget is the gas the whole plan is assumed to need when sizing
// the required deployer balance.
const DefaultGasBudget = 10_000_000

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckFeePolicy verifies the fee cap covers the configured base fee.
	CheckFeePolicy CheckName = "fee_policy"
	// CheckArtifacts verifies every planned contract has a usable artifact.
	CheckArtifacts CheckName = "artifacts"
	// CheckContractSize verifies runtime bytecode fits the EIP-170 limit.
	CheckContractSize CheckName = "contract_size"
	// CheckRPCReachable verifies the RPC endpoint is reachable.
	CheckRPCReachable CheckName = "rpc_reachable"
	// CheckChainIDMatch verifies the chain ID matches the selected network.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckDeployerBalance verifies the deployer has sufficient funds.
	CheckDeployerBalance CheckName = "deployer_balance"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName              `json:"name"`
	Passed  bool                   `json:"passed"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ArtifactSource resolves compiled contracts by name.
type ArtifactSource interface {
	Get(name string) (*artifacts.ContractArtifact, error)
}

// Request contains the parameters for pre-flight checks.
type Request struct {
	RPCURL          string
	ChainID         uint64
	DeployerAddress string
	Fees            feepolicy.Policy

	// GasBudget defaults to DefaultGasBudget.
	GasBudget uint64

	Artifacts ArtifactSource
	Contracts []string
}

// Response contains the results of all pre-flight checks.
type Response struct {
	OK                 bool          `json:"ok"`
	Checks             []CheckResult `json:"checks"`
	DeployerAddress    string        `json:"deployer_address"`
	RequiredFundingETH string        `json:"required_funding_eth"`
	CurrentBalanceETH  string        `json:"current_balance_eth,omitempty"`
}

// Dialer opens a connection to an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (chain.Backend, error)

// Checker performs pre-flight validation checks.
type Checker struct {
	timeout time.Duration
	dial    Dialer
}

// NewChecker creates a new pre-flight checker. A nil dial uses chain.Dial.
func NewChecker(dial Dialer) *Checker {
	if dial == nil {
		dial = chain.Dial
	}
	return &Checker{
		timeout: DefaultTimeout,
		dial:    dial,
	}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// RunChecks performs all pre-flight checks and returns the results.
func (c *Checker) RunChecks(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	gasBudget := req.GasBudget
	if gasBudget == 0 {
		gasBudget = DefaultGasBudget
	}
	requiredWei := requiredFunding(req.Fees, gasBudget)

	response := &Response{
		OK:                 true,
		Checks:             make([]CheckResult, 0, 6),
		DeployerAddress:    req.DeployerAddress,
		RequiredFundingETH: weiToETHString(requiredWei),
	}
	add := func(r CheckResult) {
		response.Checks = append(response.Checks, r)
		if !r.Passed {
			response.OK = false
		}
	}

	add(c.checkFeePolicy(req.Fees))
	if req.Artifacts != nil {
		add(c.checkArtifacts(req.Artifacts, req.Contracts))
		add(c.checkContractSize(req.Artifacts, req.Contracts))
	}

	client, chainID, reachable := c.checkRPCReachable(rpcCtx, req.RPCURL)
	add(reachable)
	if !reachable.Passed {
		return response, nil
	}
	defer client.Close()

	add(c.checkChainIDMatch(chainID, req.ChainID))

	balanceResult := c.checkDeployerBalance(rpcCtx, client, common.HexToAddress(req.DeployerAddress), requiredWei)
	add(balanceResult)
	if details := balanceResult.Details; details != nil {
		if haveETH, ok := details["have_eth"].(string); ok {
			response.CurrentBalanceETH = haveETH
		}
	}

	return response, nil
}

// validateRequest validates the pre-flight request parameters.
func (c *Checker) validateRequest(req *Request) error {
	if req.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if req.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if req.DeployerAddress == "" {
		return fmt.Errorf("deployer_address is required")
	}
	if !common.IsHexAddress(req.DeployerAddress) {
		return fmt.Errorf("deployer_address is not a valid Ethereum address")
	}
	return nil
}

// checkFeePolicy verifies the fee triple is consistent and the cap covers the base fee.
func (c *Checker) checkFeePolicy(fees feepolicy.Policy) CheckResult {
	result := CheckResult{Name: CheckFeePolicy}

	if err := fees.Validate(); err != nil {
		result.Message = fmt.Sprintf("Invalid fee policy: %v", err)
		return result
	}
	result.Details = map[string]interface{}{
		"max_fee_gwei":          feepolicy.FormatGwei(fees.MaxFeePerGas),
		"max_priority_fee_gwei": feepolicy.FormatGwei(fees.MaxPriorityFeePerGas),
		"base_fee_gwei":         feepolicy.FormatGwei(fees.BaseFeePerGas),
	}
	if fees.MaxFeePerGas.Cmp(fees.BaseFeePerGas) < 0 {
		result.Message = fmt.Sprintf("Max fee %s gwei is below base fee %s gwei; transactions would not be included",
			feepolicy.FormatGwei(fees.MaxFeePerGas), feepolicy.FormatGwei(fees.BaseFeePerGas))
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Fee policy %s", fees)
	return result
}

// checkArtifacts verifies every contract resolves to an artifact with linked bytecode.
func (c *Checker) checkArtifacts(src ArtifactSource, contracts []string) CheckResult {
	result := CheckResult{Name: CheckArtifacts}

	problems := make(map[string]interface{})
	for _, name := range contracts {
		a, err := src.Get(name)
		if err == nil {
			_, err = a.BytecodeBytes()
		}
		if err == nil {
			_, err = a.ParsedABI()
		}
		if err != nil {
			problems[name] = err.Error()
		}
	}
	if len(problems) > 0 {
		result.Message = fmt.Sprintf("%d of %d contract artifacts unusable", len(problems), len(contracts))
		result.Details = problems
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("All %d contract artifacts found", len(contracts))
	return result
}

// checkContractSize verifies runtime bytecode sizes against the EIP-170 limit.
func (c *Checker) checkContractSize(src ArtifactSource, contracts []string) CheckResult {
	result := CheckResult{Name: CheckContractSize}

	sizes := make(map[string]interface{})
	var oversize []string
	for _, name := range contracts {
		a, err := src.Get(name)
		if err != nil {
			continue // reported by checkArtifacts
		}
		size := a.RuntimeSize()
		sizes[name] = size
		if size > artifacts.MaxCodeSize {
			oversize = append(oversize, name)
		}
	}
	result.Details = sizes

	if len(oversize) > 0 {
		result.Message = fmt.Sprintf("Contracts exceed %d bytes of runtime code: %v", artifacts.MaxCodeSize, oversize)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("All contracts within %d bytes", artifacts.MaxCodeSize)
	return result
}

// failed returns a failing result carrying err in its details.
func failed(name CheckName, msg string, err error) CheckResult {
	return CheckResult{
		Name:    name,
		Message: fmt.Sprintf("%s: %v", msg, err),
		Details: map[string]interface{}{"error": err.Error()},
	}
}

// checkRPCReachable dials the endpoint and probes it with eth_chainId. The
// returned chain id feeds checkChainIDMatch.
func (c *Checker) checkRPCReachable(ctx context.Context, rpcURL string) (chain.Backend, *big.Int, CheckResult) {
	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		return nil, nil, failed(CheckRPCReachable, "Cannot dial RPC", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, failed(CheckRPCReachable, "RPC did not answer eth_chainId", err)
	}
	return client, id, CheckResult{Name: CheckRPCReachable, Passed: true, Message: "RPC endpoint answered"}
}

// checkChainIDMatch compares the node's chain id with the selected network.
func (c *Checker) checkChainIDMatch(actual *big.Int, expected uint64) CheckResult {
	result := CheckResult{
		Name:    CheckChainIDMatch,
		Details: map[string]interface{}{"expected": expected, "actual": actual.Uint64()},
	}
	if !actual.IsUint64() || actual.Uint64() != expected {
		result.Message = fmt.Sprintf("Chain ID mismatch: expected %d (%s), got %s",
			expected, GetNetworkName(expected), actual)
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("Connected to chain %d (%s)", expected, GetNetworkName(expected))
	return result
}

// checkDeployerBalance requires the deployer to cover requiredWei.
func (c *Checker) checkDeployerBalance(ctx context.Context, client chain.Backend, deployer common.Address, requiredWei *big.Int) CheckResult {
	balance, err := client.BalanceAt(ctx, deployer, nil)
	if err != nil {
		return failed(CheckDeployerBalance, "Cannot read deployer balance", err)
	}

	have, need := weiToETHString(balance), weiToETHString(requiredWei)
	result := CheckResult{
		Name:   CheckDeployerBalance,
		Passed: balance.Cmp(requiredWei) >= 0,
		Details: map[string]interface{}{
			"have_wei": balance.String(),
			"need_wei": requiredWei.String(),
			"have_eth": have,
			"need_eth": need,
		},
	}
	if result.Passed {
		result.Message = fmt.Sprintf("Deployer holds %s ETH, %s ETH needed", have, need)
	} else {
		result.Message = fmt.Sprintf("Deployer holds %s ETH but the fee cap over the gas budget needs %s ETH", have, need)
	}
	return result
}

// requiredFunding is the worst-case cost of the gas budget at the fee cap.
func requiredFunding(fees feepolicy.Policy, gasBudget uint64) *big.Int {
	if fees.MaxFeePerGas == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(fees.MaxFeePerGas, new(big.Int).SetUint64(gasBudget))
}

// weiToETHString converts wei to a human-readable ETH string.
func weiToETHString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	// Convert to float for display
	weiFloat := new(big.Float).SetInt(wei)
	ethFloat := new(big.Float).Quo(weiFloat, big.NewFloat(1e18))

	// Format with up to 4 decimal places
	return ethFloat.Text('f', 4)
}

// GetNetworkName returns a human-readable name for a chain ID.
func GetNetworkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "Ethereum Mainnet"
	case 11155111:
		return "Sepolia"
	case 5:
		return "Goerli (deprecated)"
	case 31337:
		return "Local devnet"
	default:
		return fmt.Sprintf("Chain %d", chainID)
	}
}
