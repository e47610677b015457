package deployer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/stakedeploy/internal/artifacts"
	"github.com/Bidon15/stakedeploy/internal/chain"
)

const (
	stakingABI = `[{"type":"function","name":"initialize","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"_stakedToken","type":"address"},{"name":"_rewardToken","type":"address"},
		{"name":"_operator","type":"address"},{"name":"_rewardsVault","type":"address"},
		{"name":"_balOperationVault","type":"address"},{"name":"_balToken","type":"address"},
		{"name":"_balancerMinter","type":"address"}]}]`
	depositTokenABI = `[{"type":"constructor","inputs":[{"name":"_operator","type":"address"}]}]`
	rewardPoolABI   = `[{"type":"constructor","inputs":[
		{"name":"_depositToken","type":"address"},{"name":"_rewardToken","type":"address"},
		{"name":"_staking","type":"address"}]}]`
	proxyAdminABI  = `[]`
	transparentABI = `[{"type":"constructor","stateMutability":"payable","inputs":[
		{"name":"_logic","type":"address"},{"name":"admin_","type":"address"},{"name":"_data","type":"bytes"}]}]`
	erc1967ABI = `[{"type":"constructor","stateMutability":"payable","inputs":[
		{"name":"_logic","type":"address"},{"name":"_data","type":"bytes"}]}]`

	// OpenZeppelin 5 layouts: the proxy creates its own ProxyAdmin.
	proxyAdminV5ABI  = `[{"type":"constructor","inputs":[{"name":"initialOwner","type":"address"}]}]`
	transparentV5ABI = `[{"type":"constructor","stateMutability":"payable","inputs":[
		{"name":"_logic","type":"address"},{"name":"initialOwner","type":"address"},{"name":"_data","type":"bytes"}]}]`
)

// Distinct, equal-length creation codes so a deployment can be recognised by prefix.
var testCode = map[string]string{
	"StakingRewards":              "0x600101",
	"DepositToken":                "0x600102",
	"BALRewardPool":               "0x600103",
	"ProxyAdmin":                  "0x600104",
	"TransparentUpgradeableProxy": "0x600105",
	"ERC1967Proxy":                "0x600106",
}

func testStore() *artifacts.Store {
	return testStoreWith(nil)
}

// testStoreWith replaces the ABIs named in overrides.
func testStoreWith(overrides map[string]string) *artifacts.Store {
	abis := map[string]string{
		"StakingRewards":              stakingABI,
		"DepositToken":                depositTokenABI,
		"BALRewardPool":               rewardPoolABI,
		"ProxyAdmin":                  proxyAdminABI,
		"TransparentUpgradeableProxy": transparentABI,
		"ERC1967Proxy":                erc1967ABI,
	}
	for name, a := range overrides {
		abis[name] = a
	}
	contracts := make(map[string]*artifacts.ContractArtifact)
	for name, a := range abis {
		contracts[name] = &artifacts.ContractArtifact{
			ContractName: name,
			ABI:          json.RawMessage(a),
			Bytecode:     artifacts.Bytecode{Object: testCode[name]},
		}
	}
	return artifacts.NewStore(contracts)
}

func codeOf(name string) []byte {
	return hexutil.MustDecode(testCode[name])
}

// proxyTargets extracts the implementation (and admin, for transparent
// proxies) from proxy creation data.
func proxyTargets(data []byte) (impl, admin common.Address, ok bool) {
	if code := codeOf("TransparentUpgradeableProxy"); bytes.HasPrefix(data, code) {
		args := data[len(code):]
		return common.BytesToAddress(args[:32]), common.BytesToAddress(args[32:64]), true
	}
	if code := codeOf("ERC1967Proxy"); bytes.HasPrefix(data, code) {
		args := data[len(code):]
		return common.BytesToAddress(args[:32]), common.Address{}, true
	}
	return common.Address{}, common.Address{}, false
}

var testAddrs = StakingAddresses{
	StakedToken:       "0x0000000000000000000000000000000000000011",
	RewardToken:       "0x0000000000000000000000000000000000000012",
	Operator:          "0x0000000000000000000000000000000000000013",
	RewardsVault:      "0x0000000000000000000000000000000000000014",
	BALOperationVault: "0x0000000000000000000000000000000000000015",
	BALToken:          "0x0000000000000000000000000000000000000016",
	BalancerMinter:    "0x0000000000000000000000000000000000000017",
}

var errBoom = errors.New("boom")

// fakeNetwork assigns sequential addresses and fills EIP-1967 slots for
// recognised proxy deployments.
type fakeNetwork struct {
	mu sync.Mutex

	from     common.Address
	deploys  [][]byte
	attempts int

	failAt    int
	skipSlots bool

	code    map[common.Address][]byte
	storage map[common.Address]map[common.Hash]common.Hash
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		from:    common.HexToAddress("0x00000000000000000000000000000000000000d0"),
		failAt:  -1,
		code:    make(map[common.Address][]byte),
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (f *fakeNetwork) Address() common.Address { return f.from }

func (f *fakeNetwork) Deploy(_ context.Context, data []byte) (*chain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.attempts
	f.attempts++
	hash := common.BigToHash(big.NewInt(int64(idx + 1)))
	if idx == f.failAt {
		return nil, &chain.TxError{Hash: hash, Err: chain.ErrReverted}
	}

	f.deploys = append(f.deploys, common.CopyBytes(data))
	addr := common.BigToAddress(big.NewInt(int64(0x1000 + idx)))
	f.code[addr] = common.CopyBytes(data)
	if impl, admin, ok := proxyTargets(data); ok && !f.skipSlots {
		f.storage[addr] = map[common.Hash]common.Hash{
			ImplementationSlot: common.BytesToHash(impl.Bytes()),
			AdminSlot:          common.BytesToHash(admin.Bytes()),
		}
	}
	return &chain.Deployment{
		Address: addr,
		TxHash:  hash,
		Nonce:   uint64(idx),
		Receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			GasUsed:     100,
			BlockNumber: big.NewInt(int64(idx + 1)),
		},
	}, nil
}

func (f *fakeNetwork) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[addr], nil
}

func (f *fakeNetwork) StorageAt(_ context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.storage[addr][slot]
	return v.Bytes(), nil
}

// memJournal keeps entries in memory.
type memJournal struct {
	entries   map[string]Result
	recordErr error
}

func newMemJournal() *memJournal {
	return &memJournal{entries: make(map[string]Result)}
}

func (j *memJournal) Completed(_ context.Context, step string) (Result, bool, error) {
	r, ok := j.entries[step]
	return r, ok, nil
}

func (j *memJournal) Record(_ context.Context, res Result) error {
	if j.recordErr != nil {
		return j.recordErr
	}
	j.entries[res.Step] = res
	return nil
}

// recorder captures observer notifications in order.
type recorder struct {
	events []string
	failed error
}

func (r *recorder) StepStarted(step Step) { r.events = append(r.events, "start:"+step.Name) }

func (r *recorder) StepCompleted(res Result) {
	r.events = append(r.events, "done:"+res.Step+":"+string(res.Status))
}

func (r *recorder) StepFailed(step Step, err error) {
	r.events = append(r.events, "fail:"+step.Name)
	r.failed = err
}

// tickClock advances one second per call.
func tickClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}
