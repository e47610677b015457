package deployer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/stakedeploy/internal/chain"
)

// Sentinel errors
var (
	ErrInvalidPlan            = errors.New("deployer: invalid plan")
	ErrUnresolvedReference    = errors.New("deployer: unresolved reference")
	ErrImplementationMismatch = errors.New("deployer: proxy implementation slot mismatch")
	ErrUnknownProxyKind       = errors.New("deployer: unknown proxy kind")
)

// Phases of a step a failure can occur in.
const (
	PhaseResolve        = "resolve"
	PhaseEncode         = "encode"
	PhaseDeploy         = "deploy"
	PhaseImplementation = "implementation"
	PhaseAdmin          = "admin"
	PhaseProxy          = "proxy"
	PhaseVerify         = "verify"
	PhaseJournal        = "journal"
)

// DeploymentFailure reports the step and phase a run stopped at.
type DeploymentFailure struct {
	Step     string
	Contract string
	Phase    string
	TxHash   common.Hash
	Err      error
}

func (e *DeploymentFailure) Error() string {
	msg := fmt.Sprintf("step %s (%s) failed during %s", e.Step, e.Contract, e.Phase)
	if e.TxHash != (common.Hash{}) {
		msg += " [tx " + e.TxHash.Hex() + "]"
	}
	return msg + ": " + e.Err.Error()
}

func (e *DeploymentFailure) Unwrap() error {
	return e.Err
}

func fail(step Step, phase string, err error) *DeploymentFailure {
	f := &DeploymentFailure{Step: step.Name, Contract: step.Contract, Phase: phase, Err: err}
	var txErr *chain.TxError
	if errors.As(err, &txErr) {
		f.TxHash = txErr.Hash
	}
	return f
}
