package artifacts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store resolves contract artifacts by name. A name is either the bare
// contract name ("StakingRewards") or the fully qualified
// "<source>:<contract>" form, which disambiguates duplicates.
type Store struct {
	byName    map[string]*ContractArtifact
	qualified map[string]*ContractArtifact
	ambiguous map[string][]string
}

// NewStore builds a Store from artifacts keyed by contract name.
func NewStore(contracts map[string]*ContractArtifact) *Store {
	s := newStore()
	for name, a := range contracts {
		if a.ContractName == "" {
			a.ContractName = name
		}
		s.add(a.SourceName, a)
	}
	return s
}

func newStore() *Store {
	return &Store{
		byName:    make(map[string]*ContractArtifact),
		qualified: make(map[string]*ContractArtifact),
		ambiguous: make(map[string][]string),
	}
}

func (s *Store) add(source string, a *ContractArtifact) {
	name := a.ContractName
	if source != "" {
		s.qualified[source+":"+name] = a
	}
	if prev, ok := s.byName[name]; ok && prev != a {
		if len(s.ambiguous[name]) == 0 {
			s.ambiguous[name] = append(s.ambiguous[name], prev.SourceName)
		}
		s.ambiguous[name] = append(s.ambiguous[name], source)
		return
	}
	s.byName[name] = a
}

// LoadFromDirectory walks a Hardhat artifacts directory or a Foundry out
// directory and indexes every contract artifact it finds. Debug files,
// build-info and JSON without an ABI are skipped.
func LoadFromDirectory(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("artifacts dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifacts dir: %s is not a directory", dir)
	}

	s := newStore()
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" || d.Name() == "cache" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var a ContractArtifact
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if len(a.ABI) == 0 || string(a.ABI) == "null" {
			return nil
		}

		source := a.SourceName
		if a.ContractName == "" {
			// Foundry: out/<Source>.sol/<Contract>.json
			a.ContractName = strings.TrimSuffix(filepath.Base(path), ".json")
			source = filepath.Base(filepath.Dir(path))
			a.SourceName = source
		}
		s.add(source, &a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the artifact for name.
func (s *Store) Get(name string) (*ContractArtifact, error) {
	if a, ok := s.qualified[name]; ok {
		return a, nil
	}
	if sources, ok := s.ambiguous[name]; ok {
		return nil, fmt.Errorf("%w: %s is defined in %s", ErrAmbiguousArtifact, name, strings.Join(sources, ", "))
	}
	if a, ok := s.byName[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
}

// Names lists the bare contract names in the store, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
