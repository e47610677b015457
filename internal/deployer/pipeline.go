package deployer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Config configures a Pipeline.
type Config struct {
	Plan      Plan
	Network   Network
	Artifacts ArtifactSource
	Proxy     ProxyOptions

	// Journal records every completed step. Optional.
	Journal Journal

	// Resume reuses journaled steps whose contract and arguments match and
	// whose address still has code.
	Resume bool

	Observer Observer
	Logger   *slog.Logger

	// RunID identifies the run. Generated when zero.
	RunID uuid.UUID

	// Now is the clock used for step timing. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline deploys the steps of a plan in order. Each step starts only after
// every earlier step is confirmed, and the first failure stops the run.
type Pipeline struct {
	plan      Plan
	network   Network
	artifacts ArtifactSource
	proxy     ProxyOptions
	journal   Journal
	resume    bool
	observer  Observer
	logger    *slog.Logger
	runID     uuid.UUID
	now       func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Network == nil {
		return nil, errors.New("deployer: network is required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("deployer: artifact source is required")
	}
	if cfg.Resume && cfg.Journal == nil {
		return nil, errors.New("deployer: resume requires a journal")
	}
	cfg.Proxy.applyDefaults()
	if err := cfg.Proxy.validate(); err != nil {
		return nil, err
	}
	cfg.Plan.ApplyDefaults()
	if err := cfg.Plan.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		plan:      cfg.Plan,
		network:   cfg.Network,
		artifacts: cfg.Artifacts,
		proxy:     cfg.Proxy,
		journal:   cfg.Journal,
		resume:    cfg.Resume,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		runID:     cfg.RunID,
		now:       cfg.Now,
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.runID == uuid.Nil {
		p.runID = uuid.New()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// RunID returns the run identifier.
func (p *Pipeline) RunID() uuid.UUID {
	return p.runID
}

// Run executes the plan. On failure the returned Outcome holds the steps that
// completed and the error is a *DeploymentFailure.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{RunID: p.runID}

	p.logger.Info("starting deployment",
		slog.String("run_id", p.runID.String()),
		slog.String("deployer", p.network.Address().Hex()),
		slog.Int("steps", len(p.plan.Steps)),
		slog.String("proxy_kind", string(p.proxy.Kind)),
	)

	for _, step := range p.plan.Steps {
		if err := ctx.Err(); err != nil {
			return out, p.abort(out, step, fail(step, PhaseDeploy, err))
		}

		args, err := p.resolveArgs(step, out)
		if err != nil {
			return out, p.abort(out, step, fail(step, PhaseResolve, err))
		}

		if p.resume {
			res, ok, err := p.reusable(ctx, step, args)
			if err != nil {
				return out, p.abort(out, step, fail(step, PhaseJournal, err))
			}
			if ok {
				out.Results = append(out.Results, res)
				p.observer.StepCompleted(res)
				continue
			}
		}

		p.observer.StepStarted(step)
		started := p.now()

		var res Result
		switch step.Kind {
		case KindProxy:
			res, err = p.deployProxy(ctx, step, args)
		default:
			res, err = p.deployContract(ctx, step, args)
		}
		if err != nil {
			return out, p.abort(out, step, err)
		}

		finished := p.now()
		res.Status = StatusConfirmed
		res.Args = args
		res.Timing = Timing{Started: started, Finished: finished, Elapsed: finished.Sub(started)}
		out.Results = append(out.Results, res)

		p.logger.Info("step confirmed",
			slog.String("step", step.Name),
			slog.String("contract", step.Contract),
			slog.String("address", res.Address.Hex()),
			slog.Uint64("gas_used", res.GasUsed),
			slog.Duration("elapsed", res.Timing.Elapsed),
		)

		if p.journal != nil {
			if err := p.journal.Record(ctx, res); err != nil {
				return out, p.abort(out, step, fail(step, PhaseJournal, err))
			}
		}
		p.observer.StepCompleted(res)
	}

	p.logger.Info("deployment complete",
		slog.String("run_id", p.runID.String()),
		slog.Int("steps", len(out.Results)),
	)
	return out, nil
}

// resolveArgs replaces references with the addresses of confirmed results.
func (p *Pipeline) resolveArgs(step Step, out *Outcome) ([]string, error) {
	args := make([]string, len(step.Args))
	for i, a := range step.Args {
		if !a.IsRef() {
			args[i] = a.Value
			continue
		}
		name, field := a.target()
		res, ok := out.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no result", ErrUnresolvedReference, name)
		}
		addr, ok := res.field(field)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %q address", ErrUnresolvedReference, name, field)
		}
		args[i] = addr.Hex()
	}
	return args, nil
}

// reusable returns the journaled result of step when it can stand in for a
// new deployment.
func (p *Pipeline) reusable(ctx context.Context, step Step, args []string) (Result, bool, error) {
	prev, ok, err := p.journal.Completed(ctx, step.Name)
	if err != nil || !ok {
		return Result{}, false, err
	}
	if prev.Contract != step.Contract || prev.Kind != step.Kind || !slices.Equal(prev.Args, args) ||
		(step.Kind == KindProxy && prev.ProxyKind != p.proxy.Kind) {
		p.logger.Warn("journal entry does not match plan, redeploying",
			slog.String("step", step.Name),
		)
		return Result{}, false, nil
	}
	code, err := p.network.CodeAt(ctx, prev.Address)
	if err != nil {
		return Result{}, false, fmt.Errorf("check code at %s: %w", prev.Address.Hex(), err)
	}
	if len(bytes.TrimLeft(code, "\x00")) == 0 {
		p.logger.Warn("journaled address has no code, redeploying",
			slog.String("step", step.Name),
			slog.String("address", prev.Address.Hex()),
		)
		return Result{}, false, nil
	}

	now := p.now()
	prev.Status = StatusReused
	prev.Timing = Timing{Started: now, Finished: now}
	p.logger.Info("reusing journaled deployment",
		slog.String("step", step.Name),
		slog.String("address", prev.Address.Hex()),
	)
	return prev, true, nil
}

// abort reports a failed step and logs what had completed before it.
func (p *Pipeline) abort(out *Outcome, step Step, err error) error {
	var failure *DeploymentFailure
	if !errors.As(err, &failure) {
		failure = fail(step, PhaseDeploy, err)
	}
	p.observer.StepFailed(step, failure)

	attrs := []any{
		slog.String("run_id", p.runID.String()),
		slog.String("step", failure.Step),
		slog.String("phase", failure.Phase),
		slog.String("error", failure.Err.Error()),
	}
	if failure.TxHash != (common.Hash{}) {
		attrs = append(attrs, slog.String("tx_hash", failure.TxHash.Hex()))
	}
	p.logger.Error("deployment aborted", attrs...)

	for _, r := range out.Results {
		p.logger.Info("completed before failure",
			slog.String("step", r.Step),
			slog.String("contract", r.Contract),
			slog.String("address", r.Address.Hex()),
		)
	}
	return failure
}
