package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Bidon15/stakedeploy/internal/artifacts"
	"github.com/Bidon15/stakedeploy/internal/chain"
	"github.com/Bidon15/stakedeploy/internal/config"
	"github.com/Bidon15/stakedeploy/internal/deployer"
	"github.com/Bidon15/stakedeploy/internal/feepolicy"
	"github.com/Bidon15/stakedeploy/internal/journal"
	"github.com/Bidon15/stakedeploy/internal/metrics"
	"github.com/Bidon15/stakedeploy/internal/preflight"
	"github.com/Bidon15/stakedeploy/internal/report"
)

// ErrPreflightFailed is returned when a pre-flight check does not pass.
var ErrPreflightFailed = errors.New("pre-flight checks failed")

const pushTimeout = 10 * time.Second

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the plan",
		Long: `Deploy every step of the plan in order, waiting for each transaction to
confirm before the next is built. The first failure stops the run; steps
already confirmed stay on chain and are listed in the journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd)
		},
	}
	cmd.Flags().String("journal", "", "deployment journal (default deployments/<network>.yaml)")
	cmd.Flags().Bool("resume", false, "reuse steps recorded in the journal")
	cmd.Flags().Bool("preflight", true, "run pre-flight checks before sending transactions")
	cmd.Flags().Uint64("gas-limit", 0, "fixed gas limit per transaction (0 estimates)")
	cmd.Flags().Uint64("gas-buffer", config.DefaultGasBufferPercent, "percent added to estimated gas")
	cmd.Flags().Duration("confirm-timeout", 0, "bound on the whole run, confirmations included (default 10m)")
	cmd.Flags().String("pushgateway", "", "Prometheus Pushgateway URL")
	return cmd
}

// session holds what deploy and preflight both need.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	plan   deployer.Plan
	proxy  deployer.ProxyOptions
	store  *artifacts.Store
	fees   feepolicy.Policy
	signer *chain.Signer
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireChain(); err != nil {
		return nil, err
	}
	s := &session{
		cfg:    cfg,
		logger: newLogger(cfg.Log, cmd.ErrOrStderr()),
		proxy:  proxyOptions(cfg.Proxy),
	}
	if s.plan, err = cfg.Plan(); err != nil {
		return nil, err
	}
	if s.store, err = artifacts.LoadFromDirectory(cfg.ArtifactsDir); err != nil {
		return nil, err
	}
	if s.fees, err = cfg.FeePolicy(); err != nil {
		return nil, err
	}
	if s.signer, err = chain.NewSigner(cfg.PrivateKey, new(big.Int).SetUint64(cfg.ChainID)); err != nil {
		return nil, err
	}
	return s, nil
}

func proxyOptions(c config.ProxyConfig) deployer.ProxyOptions {
	opts := deployer.ProxyOptions{Kind: deployer.ProxyKind(c.Kind)}
	if c.Admin != "" {
		opts.Admin = common.HexToAddress(c.Admin)
	}
	return opts
}

func (s *session) preflight(ctx context.Context) (*preflight.Response, error) {
	return preflight.NewChecker(dialBackend).RunChecks(ctx, &preflight.Request{
		RPCURL:          s.cfg.RPCURL,
		ChainID:         s.cfg.ChainID,
		DeployerAddress: s.signer.Address().Hex(),
		Fees:            s.fees,
		Artifacts:       s.store,
		Contracts:       s.proxy.Contracts(s.plan),
	})
}

func runDeploy(cmd *cobra.Command) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	cfg, logger, out := s.cfg, s.logger, cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.ConfirmTimeout)
	defer cancel()

	if cfg.Preflight {
		resp, err := s.preflight(ctx)
		if err != nil {
			return err
		}
		if !resp.OK {
			report.WriteChecks(out, resp)
			return ErrPreflightFailed
		}
		logger.Debug("pre-flight checks passed", slog.String("balance_eth", resp.CurrentBalanceETH))
	}

	backend, err := dialBackend(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer backend.Close()

	quoter, err := feepolicy.NewFixed(s.fees)
	if err != nil {
		return err
	}
	tr, err := chain.NewTransactor(chain.TransactorConfig{
		Backend:          backend,
		Signer:           s.signer,
		Fees:             quoter,
		GasLimit:         cfg.GasLimit,
		GasBufferPercent: &cfg.GasBufferPercent,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	runID := uuid.New()
	meta := journal.Meta{
		Network:  cfg.Network,
		ChainID:  cfg.ChainID,
		Deployer: s.signer.Address(),
		RunID:    runID.String(),
	}
	var j *journal.File
	if cfg.Resume {
		j, err = journal.Open(cfg.Journal, meta)
	} else {
		j, err = journal.Create(cfg.Journal, meta)
	}
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}
	console := report.NewConsole(out)

	p, err := deployer.New(deployer.Config{
		Plan:      s.plan,
		Network:   tr,
		Artifacts: s.store,
		Proxy:     s.proxy,
		Journal:   j,
		Resume:    cfg.Resume,
		Observer:  deployer.Observers{console, rec},
		Logger:    logger,
		RunID:     runID,
	})
	if err != nil {
		return err
	}

	logger.Info("starting deployment",
		slog.String("run_id", runID.String()),
		slog.String("network", cfg.Network),
		slog.Uint64("chain_id", cfg.ChainID),
		slog.String("deployer", s.signer.Address().Hex()),
		slog.String("fees", s.fees.String()),
		slog.Int("steps", len(s.plan.Steps)),
	)
	console.Banner(cfg.Network)

	outcome, runErr := p.Run(ctx)
	fmt.Fprintln(out)
	report.WriteSummary(out, outcome)

	if cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancelPush := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, reg, map[string]string{"network": cfg.Network})
		cancelPush()
		if err != nil {
			logger.Warn("metrics push failed", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		logger.Info("journal kept", slog.String("path", j.Path()))
		return runErr
	}
	logger.Info("deployment complete", slog.String("journal", j.Path()))
	return nil
}
