package deployer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects how a step is deployed.
type Kind string

const (
	KindContract Kind = "contract"
	KindProxy    Kind = "proxy"
)

// DefaultInitializer is called through the proxy when a step names none.
const DefaultInitializer = "initialize"

// Field selectors usable in a reference ("step.implementation").
const (
	FieldAddress        = ""
	FieldImplementation = "implementation"
	FieldAdmin          = "admin"
)

// Arg is a constructor or initializer argument: either a literal value or a
// reference to the output of an earlier step.
type Arg struct {
	Value string `yaml:"value,omitempty"`
	Ref   string `yaml:"ref,omitempty"`
}

// Literal returns a literal argument.
func Literal(v string) Arg { return Arg{Value: v} }

// Ref returns an argument resolved from an earlier step's address.
func Ref(step string) Arg { return Arg{Ref: step} }

// IsRef reports whether a is a reference.
func (a Arg) IsRef() bool { return a.Ref != "" }

// target splits a reference into step name and field.
func (a Arg) target() (step, field string) {
	step, field, _ = strings.Cut(a.Ref, ".")
	return step, field
}

// Step is one deployment in a plan.
type Step struct {
	Name        string `yaml:"name"`
	Contract    string `yaml:"contract"`
	Kind        Kind   `yaml:"kind,omitempty"`
	Args        []Arg  `yaml:"args,omitempty"`
	Initializer string `yaml:"initializer,omitempty"`
}

// DependsOn returns the names of the steps this step references, in argument order.
func (s Step) DependsOn() []string {
	var deps []string
	seen := make(map[string]bool)
	for _, a := range s.Args {
		if !a.IsRef() {
			continue
		}
		name, _ := a.target()
		if !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	}
	return deps
}

// Plan is an ordered list of steps. A step may only reference steps before it.
type Plan struct {
	Steps []Step `yaml:"steps"`
}

// ApplyDefaults fills in the default kind and initializer.
func (p *Plan) ApplyDefaults() {
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Kind == "" {
			s.Kind = KindContract
		}
		if s.Kind == KindProxy && s.Initializer == "" {
			s.Initializer = DefaultInitializer
		}
	}
}

// Validate checks names, kinds and that every reference points backwards.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	kinds := make(map[string]Kind, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrInvalidPlan, i)
		}
		if _, dup := kinds[s.Name]; dup {
			return fmt.Errorf("%w: duplicate step name %q", ErrInvalidPlan, s.Name)
		}
		if s.Contract == "" {
			return fmt.Errorf("%w: step %q has no contract", ErrInvalidPlan, s.Name)
		}
		if s.Kind != KindContract && s.Kind != KindProxy {
			return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidPlan, s.Name, s.Kind)
		}
		for j, a := range s.Args {
			if a.IsRef() && a.Value != "" {
				return fmt.Errorf("%w: step %q arg %d sets both value and ref", ErrInvalidPlan, s.Name, j)
			}
			if !a.IsRef() {
				continue
			}
			name, field := a.target()
			kind, ok := kinds[name]
			if !ok {
				return fmt.Errorf("%w: step %q references %q, which is not an earlier step", ErrInvalidPlan, s.Name, name)
			}
			switch field {
			case FieldAddress:
			case FieldImplementation, FieldAdmin:
				if kind != KindProxy {
					return fmt.Errorf("%w: step %q references %q.%s of a non-proxy step", ErrInvalidPlan, s.Name, name, field)
				}
			default:
				return fmt.Errorf("%w: step %q references unknown field %q", ErrInvalidPlan, s.Name, a.Ref)
			}
		}
		kinds[s.Name] = s.Kind
	}
	return nil
}

// StakingAddresses are the externally supplied addresses the staking
// deployment is initialized with.
type StakingAddresses struct {
	StakedToken       string
	RewardToken       string
	Operator          string
	RewardsVault      string
	BALOperationVault string
	BALToken          string
	BalancerMinter    string
}

// Step names of the staking plan.
const (
	StepStakingRewards = "stakingRewards"
	StepDepositToken   = "depositToken"
	StepBALRewardPool  = "balRewardPool"
)

// StakingPlan returns the default deployment: StakingRewards behind a proxy,
// DepositToken pointing at the proxy, and BALRewardPool wired to both.
func StakingPlan(a StakingAddresses) Plan {
	p := Plan{Steps: []Step{
		{
			Name:     StepStakingRewards,
			Contract: "StakingRewards",
			Kind:     KindProxy,
			Args: []Arg{
				Literal(a.StakedToken),
				Literal(a.RewardToken),
				Literal(a.Operator),
				Literal(a.RewardsVault),
				Literal(a.BALOperationVault),
				Literal(a.BALToken),
				Literal(a.BalancerMinter),
			},
			Initializer: DefaultInitializer,
		},
		{
			Name:     StepDepositToken,
			Contract: "DepositToken",
			Kind:     KindContract,
			Args:     []Arg{Ref(StepStakingRewards)},
		},
		{
			Name:     StepBALRewardPool,
			Contract: "BALRewardPool",
			Kind:     KindContract,
			Args:     []Arg{Ref(StepDepositToken), Literal(a.BALToken), Ref(StepStakingRewards)},
		},
	}}
	return p
}

// LoadPlanFile reads a YAML plan. ${VAR} references are expanded from the
// environment before parsing.
func LoadPlanFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &p); err != nil {
		return Plan{}, fmt.Errorf("parse plan %s: %w", path, err)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}
