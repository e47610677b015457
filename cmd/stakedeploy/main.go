// stakedeploy deploys the staking reward contracts: StakingRewards behind an
// upgradeable proxy, then DepositToken and BALRewardPool wired to it.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Bidon15/stakedeploy/internal/chain"
	"github.com/Bidon15/stakedeploy/internal/config"
)

// Version is set at build time.
var Version = "dev"

// dialBackend opens the RPC connection. Tests replace it.
var dialBackend = chain.Dial

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"network":           "network",
	"rpc-url":           "rpc_url",
	"chain-id":          "chain_id",
	"artifacts":         "artifacts_dir",
	"plan":              "plan_file",
	"journal":           "journal",
	"resume":            "resume",
	"preflight":         "preflight",
	"gas-limit":         "gas_limit",
	"gas-buffer":        "gas_buffer_percent",
	"confirm-timeout":   "confirm_timeout",
	"max-fee-gwei":      "fees.max_fee_gwei",
	"priority-fee-gwei": "fees.max_priority_fee_gwei",
	"base-fee-gwei":     "fees.base_fee_gwei",
	"proxy-kind":        "proxy.kind",
	"proxy-admin":       "proxy.admin",
	"pushgateway":       "metrics.pushgateway_url",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stakedeploy",
		Short: "Deploy the staking reward contracts",
		Long: `stakedeploy deploys StakingRewards behind an upgradeable proxy, then
DepositToken(stakingRewards) and BALRewardPool(depositToken, BAL, stakingRewards).
Every transaction uses a fixed fee policy (default 100 / 5 / 20 gwei).

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (STAKEDEPLOY_*, or PRI_KEY, STAKEDTOKEN, REWARDTOKEN,
     OPERATOR, REWARDSVAULT, BALOPERATIONVAULT, BALTOKEN, BALANCERMINTER,
     ALCHEMY_API_KEY_<NETWORK>)
  3. Config file (--config, YAML)
  4. .env file (--env-file)

Networks: ` + strings.Join(config.NetworkNames(), ", "),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file with default environment values")
	root.PersistentFlags().String("network", "", "network preset (default "+config.DefaultNetwork+")")
	root.PersistentFlags().String("rpc-url", "", "RPC endpoint, overrides the network preset")
	root.PersistentFlags().Uint64("chain-id", 0, "chain id, overrides the network preset")
	root.PersistentFlags().String("artifacts", "", "compiled artifacts directory (default "+config.DefaultArtifactsDir+")")
	root.PersistentFlags().String("plan", "", "YAML deployment plan (default: the staking plan)")
	root.PersistentFlags().String("proxy-kind", "", "proxy pattern: transparent or uups")
	root.PersistentFlags().String("proxy-admin", "", "existing ProxyAdmin to reuse, or the admin owner for proxies that create their own")
	root.PersistentFlags().String("max-fee-gwei", "", "max fee per gas in gwei")
	root.PersistentFlags().String("priority-fee-gwei", "", "max priority fee per gas in gwei")
	root.PersistentFlags().String("base-fee-gwei", "", "expected base fee per gas in gwei")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")

	root.AddCommand(newDeployCmd())
	root.AddCommand(newPreflightCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stakedeploy version %s\n", Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the .env file, the config file, the environment and
// the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}

	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := config.ReadDotEnv(v, envFile); err != nil {
			return nil, err
		}
	}
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		if err := config.ReadFile(v, cfgFile); err != nil {
			return nil, err
		}
	}
	return config.Load(v)
}

// bindFlags binds the flags that were set explicitly. Unset flags leave the
// lower layers in charge.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// newLogger builds the structured logger. Logs go to w, progress to stdout.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
