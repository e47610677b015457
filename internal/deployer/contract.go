package deployer

import (
	"context"
)

// deployContract deploys step.Contract with args as constructor arguments.
func (p *Pipeline) deployContract(ctx context.Context, step Step, args []string) (Result, error) {
	res := Result{Step: step.Name, Contract: step.Contract, Kind: KindContract}

	art, err := p.artifacts.Get(step.Contract)
	if err != nil {
		return res, fail(step, PhaseEncode, err)
	}
	code, err := art.EncodeDeploy(args...)
	if err != nil {
		return res, fail(step, PhaseEncode, err)
	}

	dep, err := p.network.Deploy(ctx, code)
	if err != nil {
		return res, fail(step, PhaseDeploy, err)
	}
	res.Address = dep.Address
	res.addTx(dep)
	return res, nil
}
