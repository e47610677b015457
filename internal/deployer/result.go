package deployer

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Status of a completed step.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusReused    Status = "reused"
)

// Timing records when a step started and finished.
type Timing struct {
	Started  time.Time
	Finished time.Time
	Elapsed  time.Duration
}

// Result is the confirmed output of one step. For proxy steps Address is the
// proxy; ProxyKind, Implementation and Admin are filled in as well.
type Result struct {
	Step           string
	Contract       string
	Kind           Kind
	ProxyKind      ProxyKind
	Address        common.Address
	Implementation common.Address
	Admin          common.Address
	TxHashes       []common.Hash
	BlockNumber    uint64
	GasUsed        uint64
	Status         Status
	Args           []string
	Timing         Timing
}

// field returns the address a reference selects.
func (r Result) field(name string) (common.Address, bool) {
	switch name {
	case FieldAddress:
		return r.Address, r.Address != (common.Address{})
	case FieldImplementation:
		return r.Implementation, r.Implementation != (common.Address{})
	case FieldAdmin:
		return r.Admin, r.Admin != (common.Address{})
	}
	return common.Address{}, false
}

// Outcome is what a run produced, in step order. On failure it holds the
// steps that completed before it.
type Outcome struct {
	RunID   uuid.UUID
	Results []Result
}

// Lookup returns the result of the named step.
func (o *Outcome) Lookup(step string) (Result, bool) {
	for _, r := range o.Results {
		if r.Step == step {
			return r, true
		}
	}
	return Result{}, false
}
