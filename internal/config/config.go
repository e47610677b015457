// Package config loads stakedeploy settings from flags, environment, an
// optional YAML file and an optional .env file, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Bidon15/stakedeploy/internal/chain"
	"github.com/Bidon15/stakedeploy/internal/deployer"
	"github.com/Bidon15/stakedeploy/internal/feepolicy"
)

// EnvPrefix prefixes every environment variable derived from a config key,
// e.g. STAKEDEPLOY_RPC_URL for rpc_url.
const EnvPrefix = "STAKEDEPLOY"

// Defaults.
const (
	DefaultNetwork        = "localhost"
	DefaultArtifactsDir   = "artifacts"
	DefaultJournalDir     = "deployments"
	DefaultConfirmTimeout = 10 * time.Minute
	DefaultMetricsJob     = "stakedeploy"

	DefaultGasBufferPercent = chain.DefaultGasBufferPercent
)

var (
	// ErrUnknownNetwork is returned for a network name with no preset and no RPC URL.
	ErrUnknownNetwork = errors.New("config: unknown network")
	// ErrMissingRPC is returned when no RPC URL can be derived for the network.
	ErrMissingRPC = errors.New("config: no rpc url")
	// ErrMissingPrivateKey is returned when no deployer key is configured.
	ErrMissingPrivateKey = errors.New("config: no private key")
)

// Network is a named chain preset.
type Network struct {
	Name    string
	ChainID uint64
	// RPCTemplate may contain one %s for the provider API key.
	RPCTemplate string
	// APIKey is the config key holding the provider API key.
	APIKey string
}

// Networks are the built-in presets.
var Networks = map[string]Network{
	"localhost": {Name: "localhost", ChainID: 31337, RPCTemplate: "http://127.0.0.1:8545"},
	"goerli":    {Name: "goerli", ChainID: 5, RPCTemplate: "https://eth-goerli.g.alchemy.com/v2/%s", APIKey: "alchemy.goerli"},
	"sepolia":   {Name: "sepolia", ChainID: 11155111, RPCTemplate: "https://eth-sepolia.g.alchemy.com/v2/%s", APIKey: "alchemy.sepolia"},
	"mainnet":   {Name: "mainnet", ChainID: 1, RPCTemplate: "https://eth-mainnet.g.alchemy.com/v2/%s", APIKey: "alchemy.mainnet"},
}

// NetworkNames lists the presets, sorted.
func NetworkNames() []string {
	names := make([]string, 0, len(Networks))
	for n := range Networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config is the resolved configuration of a run.
type Config struct {
	Network    string `mapstructure:"network" validate:"required"`
	ChainID    uint64 `mapstructure:"chain_id" validate:"required"`
	RPCURL     string `mapstructure:"rpc_url" validate:"omitempty,url"`
	PrivateKey string `mapstructure:"private_key"`

	ArtifactsDir string `mapstructure:"artifacts_dir" validate:"required"`
	PlanFile     string `mapstructure:"plan_file"`
	Journal      string `mapstructure:"journal"`
	Resume       bool   `mapstructure:"resume"`
	Preflight    bool   `mapstructure:"preflight"`

	Fees             FeeConfig     `mapstructure:"fees"`
	GasLimit         uint64        `mapstructure:"gas_limit"`
	GasBufferPercent uint64        `mapstructure:"gas_buffer_percent" validate:"lte=500"`
	ConfirmTimeout   time.Duration `mapstructure:"confirm_timeout" validate:"gt=0"`

	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Staking StakingConfig `mapstructure:"staking"`
	Alchemy AlchemyConfig `mapstructure:"alchemy"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`

	// EtherscanAPIKey is accepted for compatibility and not used.
	EtherscanAPIKey string `mapstructure:"etherscan_api_key"`
}

// FeeConfig holds the fee policy as decimal gwei strings.
type FeeConfig struct {
	MaxFeeGwei         string `mapstructure:"max_fee_gwei" validate:"required"`
	MaxPriorityFeeGwei string `mapstructure:"max_priority_fee_gwei" validate:"required"`
	BaseFeeGwei        string `mapstructure:"base_fee_gwei" validate:"required"`
}

// ProxyConfig selects the proxy pattern of proxied steps.
type ProxyConfig struct {
	Kind  string `mapstructure:"kind" validate:"oneof=transparent uups"`
	Admin string `mapstructure:"admin" validate:"omitempty,eth_addr"`
}

// StakingConfig holds the addresses StakingRewards is initialized with.
// They are passed through unvalidated; a malformed value fails the step
// that encodes it.
type StakingConfig struct {
	StakedToken       string `mapstructure:"staked_token"`
	RewardToken       string `mapstructure:"reward_token"`
	Operator          string `mapstructure:"operator"`
	RewardsVault      string `mapstructure:"rewards_vault"`
	BALOperationVault string `mapstructure:"bal_operation_vault"`
	BALToken          string `mapstructure:"bal_token"`
	BalancerMinter    string `mapstructure:"balancer_minter"`
}

// AlchemyConfig holds provider API keys per network.
type AlchemyConfig struct {
	Goerli  string `mapstructure:"goerli"`
	Sepolia string `mapstructure:"sepolia"`
	Mainnet string `mapstructure:"mainnet"`
}

// MetricsConfig configures the Pushgateway. Metrics are pushed only when
// PushgatewayURL is set.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// legacyEnv maps config keys to the unprefixed names used by existing Hardhat
// .env files. They are consulted after the STAKEDEPLOY_ names.
var legacyEnv = map[string]string{
	"private_key":                 "PRI_KEY",
	"staking.staked_token":        "STAKEDTOKEN",
	"staking.reward_token":        "REWARDTOKEN",
	"staking.operator":            "OPERATOR",
	"staking.rewards_vault":       "REWARDSVAULT",
	"staking.bal_operation_vault": "BALOPERATIONVAULT",
	"staking.bal_token":           "BALTOKEN",
	"staking.balancer_minter":     "BALANCERMINTER",
	"alchemy.goerli":              "ALCHEMY_API_KEY_GOERLI",
	"alchemy.sepolia":             "ALCHEMY_API_KEY_SEPOLIA",
	"alchemy.mainnet":             "ALCHEMY_API_KEY_MAINNET",
	"etherscan_api_key":           "ETHERSCAN_API_KEY",
}

// envName returns the prefixed environment variable for a config key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// New returns a viper instance with defaults and environment bindings set.
// Flags are bound by the caller.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("network", DefaultNetwork)
	v.SetDefault("artifacts_dir", DefaultArtifactsDir)
	v.SetDefault("preflight", true)
	v.SetDefault("fees.max_fee_gwei", feepolicy.DefaultMaxFeePerGasGwei)
	v.SetDefault("fees.max_priority_fee_gwei", feepolicy.DefaultMaxPriorityFeePerGasGwei)
	v.SetDefault("fees.base_fee_gwei", feepolicy.DefaultBaseFeePerGasGwei)
	v.SetDefault("confirm_timeout", DefaultConfirmTimeout)
	v.SetDefault("gas_buffer_percent", DefaultGasBufferPercent)
	v.SetDefault("proxy.kind", string(deployer.ProxyTransparent))
	v.SetDefault("metrics.job", DefaultMetricsJob)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are invisible to Unmarshal unless bound.
	for _, key := range []string{"chain_id", "rpc_url", "plan_file", "journal", "resume", "gas_limit", "proxy.admin", "metrics.pushgateway_url"} {
		_ = v.BindEnv(key, envName(key))
	}
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, envName(key), legacy)
	}
	return v
}

// ReadFile merges a YAML config file into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// ReadDotEnv loads KEY=VALUE pairs from a .env file as defaults: they never
// override real environment variables, the config file or flags. A missing
// file is not an error.
func ReadDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	// dotenv keys come back lower-cased.
	lookup := func(env string) (string, bool) {
		k := strings.ToLower(env)
		if !dv.IsSet(k) {
			return "", false
		}
		return dv.GetString(k), true
	}
	for _, key := range v.AllKeys() {
		if val, ok := lookup(envName(key)); ok {
			v.SetDefault(key, val)
			continue
		}
		if legacy, ok := legacyEnv[key]; ok {
			if val, ok := lookup(legacy); ok {
				v.SetDefault(key, val)
			}
		}
	}
	return nil
}

// Load unmarshals v, applies the network preset and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyNetwork(); err != nil {
		return nil, err
	}
	if cfg.Journal == "" {
		cfg.Journal = DefaultJournalDir + "/" + cfg.Network + ".yaml"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyNetwork fills chain id and RPC URL from the preset when not set explicitly.
func (c *Config) applyNetwork() error {
	preset, ok := Networks[c.Network]
	if !ok {
		if c.RPCURL == "" || c.ChainID == 0 {
			return fmt.Errorf("%w: %q (known: %s); set rpc_url and chain_id for a custom network",
				ErrUnknownNetwork, c.Network, strings.Join(NetworkNames(), ", "))
		}
		return nil
	}
	if c.ChainID == 0 {
		c.ChainID = preset.ChainID
	}
	if c.RPCURL != "" {
		return nil
	}
	if preset.APIKey == "" {
		c.RPCURL = preset.RPCTemplate
		return nil
	}
	if key := c.Alchemy.key(c.Network); key != "" {
		c.RPCURL = fmt.Sprintf(preset.RPCTemplate, key)
	}
	return nil
}

func (a AlchemyConfig) key(network string) string {
	switch network {
	case "goerli":
		return a.Goerli
	case "sepolia":
		return a.Sepolia
	case "mainnet":
		return a.Mainnet
	}
	return ""
}

// RequireChain checks the settings needed to talk to the chain. Offline
// commands skip it.
func (c *Config) RequireChain() error {
	if c.RPCURL == "" {
		if preset, ok := Networks[c.Network]; ok && preset.APIKey != "" {
			return fmt.Errorf("%w: set rpc_url or %s (%s)", ErrMissingRPC, preset.APIKey, legacyEnv[preset.APIKey])
		}
		return fmt.Errorf("%w: set rpc_url", ErrMissingRPC)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: set private_key (%s or %s)", ErrMissingPrivateKey, envName("private_key"), legacyEnv["private_key"])
	}
	return nil
}

// Validate checks struct tags and the fee policy.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", describe(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	fees, err := c.FeePolicy()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := fees.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// describe renders validation errors without echoing field values, which
// may include the private key.
func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

// FeePolicy converts the configured gwei amounts.
func (c *Config) FeePolicy() (feepolicy.Policy, error) {
	return feepolicy.FromGwei(c.Fees.MaxFeeGwei, c.Fees.MaxPriorityFeeGwei, c.Fees.BaseFeeGwei)
}

// StakingAddresses returns the initializer addresses of the default plan.
func (c *Config) StakingAddresses() deployer.StakingAddresses {
	return deployer.StakingAddresses{
		StakedToken:       c.Staking.StakedToken,
		RewardToken:       c.Staking.RewardToken,
		Operator:          c.Staking.Operator,
		RewardsVault:      c.Staking.RewardsVault,
		BALOperationVault: c.Staking.BALOperationVault,
		BALToken:          c.Staking.BALToken,
		BalancerMinter:    c.Staking.BalancerMinter,
	}
}

// Plan returns the plan file if one is configured, else the staking plan.
func (c *Config) Plan() (deployer.Plan, error) {
	if c.PlanFile != "" {
		return deployer.LoadPlanFile(c.PlanFile)
	}
	p := deployer.StakingPlan(c.StakingAddresses())
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return deployer.Plan{}, err
	}
	return p, nil
}
