// Package deployer runs a deployment plan step by step: proxy-backed
// upgradeable contracts and plain contracts whose constructor arguments
// reference earlier steps.
package deployer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/stakedeploy/internal/artifacts"
	"github.com/Bidon15/stakedeploy/internal/chain"
)

// Network sends contract creations and reads back chain state.
// *chain.Transactor implements it.
type Network interface {
	Address() common.Address
	Deploy(ctx context.Context, data []byte) (*chain.Deployment, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error)
}

var _ Network = (*chain.Transactor)(nil)

// ArtifactSource resolves compiled contracts by name.
type ArtifactSource interface {
	Get(name string) (*artifacts.ContractArtifact, error)
}

var _ ArtifactSource = (*artifacts.Store)(nil)

// Journal persists completed steps so an interrupted run can be inspected
// or resumed.
type Journal interface {
	Completed(ctx context.Context, step string) (Result, bool, error)
	Record(ctx context.Context, res Result) error
}

// Observer is notified as steps progress.
type Observer interface {
	StepStarted(step Step)
	StepCompleted(res Result)
	StepFailed(step Step, err error)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) StepStarted(step Step) {
	for _, obs := range o {
		obs.StepStarted(step)
	}
}

func (o Observers) StepCompleted(res Result) {
	for _, obs := range o {
		obs.StepCompleted(res)
	}
}

func (o Observers) StepFailed(step Step, err error) {
	for _, obs := range o {
		obs.StepFailed(step, err)
	}
}

type nopObserver struct{}

func (nopObserver) StepStarted(Step) {}

func (nopObserver) StepCompleted(Result) {}

func (nopObserver) StepFailed(Step, error) {}
