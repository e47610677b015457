// Package journal keeps a YAML record of completed deployment steps next to
// the operator, so a failed run can be inspected and resumed.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/Bidon15/stakedeploy/internal/deployer"
)

// Version of the file layout.
const Version = 1

const rotateLayout = "20060102T150405Z"

// ErrMismatch is returned when an existing journal belongs to another chain
// or deployer account.
var ErrMismatch = errors.New("journal: belongs to a different chain or deployer")

// Meta identifies the chain and account a journal belongs to.
type Meta struct {
	Network  string
	ChainID  uint64
	Deployer common.Address
	RunID    string
}

// Entry is one completed step.
type Entry struct {
	Step           string    `yaml:"step"`
	Contract       string    `yaml:"contract"`
	Kind           string    `yaml:"kind"`
	Address        string    `yaml:"address"`
	ProxyKind      string    `yaml:"proxy_kind,omitempty"`
	Implementation string    `yaml:"implementation,omitempty"`
	Admin          string    `yaml:"admin,omitempty"`
	TxHashes       []string  `yaml:"tx_hashes,omitempty"`
	BlockNumber    uint64    `yaml:"block_number"`
	GasUsed        uint64    `yaml:"gas_used"`
	Args           []string  `yaml:"args,omitempty"`
	RunID          string    `yaml:"run_id"`
	StartedAt      time.Time `yaml:"started_at"`
	FinishedAt     time.Time `yaml:"finished_at"`
	ElapsedMS      int64     `yaml:"elapsed_ms"`
}

type document struct {
	Version   int       `yaml:"version"`
	Network   string    `yaml:"network"`
	ChainID   uint64    `yaml:"chain_id"`
	Deployer  string    `yaml:"deployer"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Steps     []Entry   `yaml:"steps"`
}

// File is a journal backed by a YAML file. Every Record rewrites the file
// atomically.
type File struct {
	mu    sync.Mutex
	path  string
	runID string
	doc   document
}

var _ deployer.Journal = (*File)(nil)

// Open loads the journal at path, or starts an empty one if it does not exist.
func Open(path string, meta Meta) (*File, error) {
	f := newFile(path, meta)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse journal %s: %w", path, err)
	}
	if doc.ChainID != meta.ChainID || !common.IsHexAddress(doc.Deployer) || common.HexToAddress(doc.Deployer) != meta.Deployer {
		return nil, fmt.Errorf("%w: %s has chain %d and deployer %s", ErrMismatch, path, doc.ChainID, doc.Deployer)
	}
	f.doc.Steps = doc.Steps
	return f, nil
}

// Create starts a new journal at path. An existing file is kept next to it
// as path.<timestamp>.prev, so earlier runs are never overwritten.
func Create(path string, meta Meta) (*File, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, rotatedName(path, time.Now())); err != nil {
			return nil, fmt.Errorf("rotate journal: %w", err)
		}
	}
	f := newFile(path, meta)
	if err := f.write(); err != nil {
		return nil, err
	}
	return f, nil
}

// rotatedName returns an unused name for the journal being replaced at now.
func rotatedName(path string, now time.Time) string {
	stamp := now.UTC().Format(rotateLayout)
	name := fmt.Sprintf("%s.%s.prev", path, stamp)
	for i := 1; ; i++ {
		if _, err := os.Stat(name); err != nil {
			return name
		}
		name = fmt.Sprintf("%s.%s-%d.prev", path, stamp, i)
	}
}

func newFile(path string, meta Meta) *File {
	return &File{
		path:  path,
		runID: meta.RunID,
		doc: document{
			Version:  Version,
			Network:  meta.Network,
			ChainID:  meta.ChainID,
			Deployer: meta.Deployer.Hex(),
		},
	}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Entries returns a copy of the recorded steps.
func (f *File) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Entry(nil), f.doc.Steps...)
}

// Completed returns the recorded result of step.
func (f *File) Completed(_ context.Context, step string) (deployer.Result, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.doc.Steps {
		if e.Step == step {
			return e.result(), true, nil
		}
	}
	return deployer.Result{}, false, nil
}

// Record stores res, replacing an earlier entry for the same step.
func (f *File) Record(_ context.Context, res deployer.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := entryFrom(res, f.runID)
	replaced := false
	for i := range f.doc.Steps {
		if f.doc.Steps[i].Step == e.Step {
			f.doc.Steps[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		f.doc.Steps = append(f.doc.Steps, e)
	}
	return f.write()
}

// write replaces the file via a temp file and rename. Must hold f.mu or own f.
func (f *File) write() error {
	f.doc.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(&f.doc)
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename journal: %w", err)
	}
	return nil
}

func entryFrom(res deployer.Result, runID string) Entry {
	e := Entry{
		Step:        res.Step,
		Contract:    res.Contract,
		Kind:        string(res.Kind),
		ProxyKind:   string(res.ProxyKind),
		Address:     res.Address.Hex(),
		BlockNumber: res.BlockNumber,
		GasUsed:     res.GasUsed,
		Args:        res.Args,
		RunID:       runID,
		StartedAt:   res.Timing.Started.UTC(),
		FinishedAt:  res.Timing.Finished.UTC(),
		ElapsedMS:   res.Timing.Elapsed.Milliseconds(),
	}
	if res.Implementation != (common.Address{}) {
		e.Implementation = res.Implementation.Hex()
	}
	if res.Admin != (common.Address{}) {
		e.Admin = res.Admin.Hex()
	}
	for _, h := range res.TxHashes {
		e.TxHashes = append(e.TxHashes, h.Hex())
	}
	return e
}

func (e Entry) result() deployer.Result {
	r := deployer.Result{
		Step:        e.Step,
		Contract:    e.Contract,
		Kind:        deployer.Kind(e.Kind),
		ProxyKind:   deployer.ProxyKind(e.ProxyKind),
		Address:     common.HexToAddress(e.Address),
		BlockNumber: e.BlockNumber,
		GasUsed:     e.GasUsed,
		Status:      deployer.StatusConfirmed,
		Args:        e.Args,
		Timing: deployer.Timing{
			Started:  e.StartedAt,
			Finished: e.FinishedAt,
			Elapsed:  time.Duration(e.ElapsedMS) * time.Millisecond,
		},
	}
	if e.Implementation != "" {
		r.Implementation = common.HexToAddress(e.Implementation)
	}
	if e.Admin != "" {
		r.Admin = common.HexToAddress(e.Admin)
	}
	for _, h := range e.TxHashes {
		r.TxHashes = append(r.TxHashes, common.HexToHash(h))
	}
	return r
}
