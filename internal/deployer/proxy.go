package deployer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Bidon15/stakedeploy/internal/artifacts"
	"github.com/Bidon15/stakedeploy/internal/chain"
)

// EIP-1967 storage slots.
var (
	ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	AdminSlot          = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
)

// ProxyKind selects the proxy pattern.
type ProxyKind string

const (
	// ProxyTransparent deploys a ProxyAdmin and a TransparentUpgradeableProxy.
	ProxyTransparent ProxyKind = "transparent"
	// ProxyUUPS deploys an ERC1967Proxy; upgrades go through the implementation.
	ProxyUUPS ProxyKind = "uups"
)

// ProxyOptions configures proxy deployments.
type ProxyOptions struct {
	Kind ProxyKind

	// Admin reuses an existing ProxyAdmin instead of deploying one. A
	// transparent proxy that creates its own ProxyAdmin takes Admin as that
	// admin's owner instead; zero means the deployer.
	Admin common.Address

	AdminContract       string
	TransparentContract string
	ERC1967Contract     string
}

func (o *ProxyOptions) applyDefaults() {
	if o.Kind == "" {
		o.Kind = ProxyTransparent
	}
	if o.AdminContract == "" {
		o.AdminContract = "ProxyAdmin"
	}
	if o.TransparentContract == "" {
		o.TransparentContract = "TransparentUpgradeableProxy"
	}
	if o.ERC1967Contract == "" {
		o.ERC1967Contract = "ERC1967Proxy"
	}
}

// Contracts lists, in first-use order, every artifact plan needs when
// deployed with o.
func (o ProxyOptions) Contracts(plan Plan) []string {
	o.applyDefaults()
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, s := range plan.Steps {
		add(s.Contract)
		if s.Kind != KindProxy {
			continue
		}
		switch o.Kind {
		case ProxyUUPS:
			add(o.ERC1967Contract)
		default:
			if o.Admin == (common.Address{}) {
				add(o.AdminContract)
			}
			add(o.TransparentContract)
		}
	}
	return names
}

func (o ProxyOptions) validate() error {
	if o.Kind != ProxyTransparent && o.Kind != ProxyUUPS {
		return fmt.Errorf("%w: %q", ErrUnknownProxyKind, o.Kind)
	}
	return nil
}

// deployProxy deploys step.Contract as an implementation and places a proxy
// in front of it. The initializer is passed to the proxy constructor, so it
// runs exactly once, atomically with the proxy creation.
func (p *Pipeline) deployProxy(ctx context.Context, step Step, args []string) (Result, error) {
	res := Result{Step: step.Name, Contract: step.Contract, Kind: KindProxy, ProxyKind: p.proxy.Kind}

	impl, err := p.artifacts.Get(step.Contract)
	if err != nil {
		return res, fail(step, PhaseEncode, err)
	}
	initData, err := impl.EncodeCall(step.Initializer, args...)
	if err != nil {
		return res, fail(step, PhaseEncode, err)
	}
	implCode, err := impl.EncodeDeploy()
	if err != nil {
		return res, fail(step, PhaseEncode, err)
	}

	proxyName := p.proxy.TransparentContract
	if p.proxy.Kind == ProxyUUPS {
		proxyName = p.proxy.ERC1967Contract
	}
	proxyArt, err := p.artifacts.Get(proxyName)
	if err != nil {
		return res, fail(step, PhaseEncode, err)
	}
	var selfAdmin bool
	if p.proxy.Kind == ProxyTransparent {
		if selfAdmin, err = ownsAdmin(proxyArt); err != nil {
			return res, fail(step, PhaseEncode, err)
		}
	}

	p.logger.Info("deploying implementation",
		slog.String("step", step.Name),
		slog.String("contract", step.Contract),
	)
	implDep, err := p.network.Deploy(ctx, implCode)
	if err != nil {
		return res, fail(step, PhaseImplementation, err)
	}
	res.Implementation = implDep.Address
	res.addTx(implDep)

	var proxyCode []byte
	switch p.proxy.Kind {
	case ProxyTransparent:
		var admin common.Address
		if selfAdmin {
			admin = p.proxyOwner()
		} else if admin, err = p.proxyAdmin(ctx, step, &res); err != nil {
			return res, err
		}
		proxyCode, err = proxyArt.EncodeDeploy(implDep.Address.Hex(), admin.Hex(), hexutil.Encode(initData))
		if err != nil {
			return res, fail(step, PhaseEncode, err)
		}
	case ProxyUUPS:
		proxyCode, err = proxyArt.EncodeDeploy(implDep.Address.Hex(), hexutil.Encode(initData))
		if err != nil {
			return res, fail(step, PhaseEncode, err)
		}
	}

	p.logger.Info("deploying proxy",
		slog.String("step", step.Name),
		slog.String("proxy", proxyName),
		slog.String("implementation", implDep.Address.Hex()),
		slog.String("initializer", step.Initializer),
	)
	proxyDep, err := p.network.Deploy(ctx, proxyCode)
	if err != nil {
		return res, fail(step, PhaseProxy, err)
	}
	res.Address = proxyDep.Address
	res.addTx(proxyDep)

	if err := p.verifyProxy(ctx, step, &res); err != nil {
		return res, err
	}
	return res, nil
}

// ownsAdmin reports whether the transparent proxy creates its own ProxyAdmin
// and takes that admin's owner as its second constructor argument.
func ownsAdmin(art *artifacts.ContractArtifact) (bool, error) {
	parsed, err := art.ParsedABI()
	if err != nil {
		return false, err
	}
	in := parsed.Constructor.Inputs
	return len(in) == 3 && in[1].Name == "initialOwner", nil
}

// proxyOwner is the owner handed to a self-administered transparent proxy.
func (p *Pipeline) proxyOwner() common.Address {
	if p.proxy.Admin != (common.Address{}) {
		return p.proxy.Admin
	}
	return p.network.Address()
}

// proxyAdmin returns the configured admin or deploys a fresh ProxyAdmin.
func (p *Pipeline) proxyAdmin(ctx context.Context, step Step, res *Result) (common.Address, error) {
	if p.proxy.Admin != (common.Address{}) {
		return p.proxy.Admin, nil
	}
	art, err := p.artifacts.Get(p.proxy.AdminContract)
	if err != nil {
		return common.Address{}, fail(step, PhaseEncode, err)
	}
	parsed, err := art.ParsedABI()
	if err != nil {
		return common.Address{}, fail(step, PhaseEncode, err)
	}
	// Newer ProxyAdmin versions take the initial owner as constructor argument.
	var ctorArgs []string
	if len(parsed.Constructor.Inputs) == 1 {
		ctorArgs = []string{p.network.Address().Hex()}
	}
	code, err := art.EncodeDeploy(ctorArgs...)
	if err != nil {
		return common.Address{}, fail(step, PhaseEncode, err)
	}
	dep, err := p.network.Deploy(ctx, code)
	if err != nil {
		return common.Address{}, fail(step, PhaseAdmin, err)
	}
	res.addTx(dep)
	return dep.Address, nil
}

// verifyProxy checks the EIP-1967 implementation slot and records the admin
// slot of a transparent proxy.
func (p *Pipeline) verifyProxy(ctx context.Context, step Step, res *Result) error {
	word, err := p.network.StorageAt(ctx, res.Address, ImplementationSlot)
	if err != nil {
		return fail(step, PhaseVerify, fmt.Errorf("read implementation slot: %w", err))
	}
	if got := common.BytesToAddress(word); got != res.Implementation {
		return fail(step, PhaseVerify, fmt.Errorf("%w: proxy %s points at %s, want %s",
			ErrImplementationMismatch, res.Address.Hex(), got.Hex(), res.Implementation.Hex()))
	}
	if p.proxy.Kind != ProxyTransparent {
		return nil
	}
	word, err = p.network.StorageAt(ctx, res.Address, AdminSlot)
	if err != nil {
		return fail(step, PhaseVerify, fmt.Errorf("read admin slot: %w", err))
	}
	res.Admin = common.BytesToAddress(word)
	return nil
}

func (r *Result) addTx(dep *chain.Deployment) {
	r.TxHashes = append(r.TxHashes, dep.TxHash)
	if dep.Receipt != nil {
		r.GasUsed += dep.Receipt.GasUsed
		if dep.Receipt.BlockNumber != nil {
			r.BlockNumber = dep.Receipt.BlockNumber.Uint64()
		}
	}
}
