// Package manifest models the module graph of a deployable application: a
// topologically-ordered set of compiled modules, each with a content digest
// and declared dependencies.
package manifest

import (
	"errors"
	"fmt"
	"slices"
)

// ErrMalformedManifest reports a manifest that violates its structural
// invariants: bad JSON, a missing dependency, a cycle, a duplicate id, or an
// unknown main module.
var ErrMalformedManifest = errors.New("malformed manifest")

// Module is a single manifest entry: where to fetch the compiled bytecode,
// what it must hash to, and which modules must be linked first.
type Module struct {
	// URL is absolute or relative to the manifest URL.
	URL string
	// SHA256 is the expected content digest of the fetched blob.
	SHA256 Digest
	// DependsOnIDs lists modules that must be linked before this one.
	DependsOnIDs []string
}

// Signature is a named detached signature over the manifest, in preference
// order.
type Signature struct {
	KeyName string
	HexSig  string
}

// Entry pairs a module id with its definition, preserving author order.
type Entry struct {
	ID     string
	Module Module
}

// Manifest is an immutable, topologically-sorted module graph. Construct one
// with New or Parse; zero values are not valid.
type Manifest struct {
	ids          []string
	modules      map[string]Module
	mainModuleID string
	mainFunction string
	signatures   []Signature
}

// New builds a Manifest from a possibly-unsorted list of entries. It runs a
// stable topological sort over the dependency graph, defaults mainModuleID
// to the last module in sorted order, and fails with ErrMalformedManifest on
// duplicate ids, self-dependencies, missing dependencies, cycles, or an
// unknown mainModuleID.
func New(entries []Entry, mainModuleID, mainFunction string, signatures []Signature) (*Manifest, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no modules", ErrMalformedManifest)
	}

	ids := make([]string, 0, len(entries))
	modules := make(map[string]Module, len(entries))
	for _, e := range entries {
		if _, dup := modules[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate module id %q", ErrMalformedManifest, e.ID)
		}
		if slices.Contains(e.Module.DependsOnIDs, e.ID) {
			return nil, fmt.Errorf("%w: module %q depends on itself", ErrMalformedManifest, e.ID)
		}
		m := e.Module
		m.DependsOnIDs = slices.Clone(m.DependsOnIDs)
		ids = append(ids, e.ID)
		modules[e.ID] = m
	}

	sorted, err := TopologicalSort(ids, func(id string) []string {
		return modules[id].DependsOnIDs
	})
	if err != nil {
		return nil, err
	}

	if mainModuleID == "" {
		mainModuleID = sorted[len(sorted)-1]
	} else if _, ok := modules[mainModuleID]; !ok {
		return nil, fmt.Errorf("%w: main module %q not present", ErrMalformedManifest, mainModuleID)
	}

	return &Manifest{
		ids:          sorted,
		modules:      modules,
		mainModuleID: mainModuleID,
		mainFunction: mainFunction,
		signatures:   slices.Clone(signatures),
	}, nil
}

// ModuleIDs returns the module ids in topological order.
func (m *Manifest) ModuleIDs() []string {
	return slices.Clone(m.ids)
}

// Module returns the module for id.
func (m *Manifest) Module(id string) (Module, bool) {
	mod, ok := m.modules[id]
	if !ok {
		return Module{}, false
	}
	mod.DependsOnIDs = slices.Clone(mod.DependsOnIDs)
	return mod, true
}

// Len returns the number of modules.
func (m *Manifest) Len() int {
	return len(m.ids)
}

// MainModuleID returns the entry-point module id.
func (m *Manifest) MainModuleID() string {
	return m.mainModuleID
}

// MainFunction returns the fully-qualified entry point, or "" if unset.
func (m *Manifest) MainFunction() string {
	return m.mainFunction
}

// Signatures returns the manifest signatures in preference order.
func (m *Manifest) Signatures() []Signature {
	return slices.Clone(m.signatures)
}

// Equal reports whether two manifests describe the same module graph.
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.mainModuleID != other.mainModuleID ||
		m.mainFunction != other.mainFunction ||
		!slices.Equal(m.ids, other.ids) ||
		!slices.Equal(m.signatures, other.signatures) {
		return false
	}
	for id, mod := range m.modules {
		o := other.modules[id]
		if mod.URL != o.URL || mod.SHA256 != o.SHA256 || !slices.Equal(mod.DependsOnIDs, o.DependsOnIDs) {
			return false
		}
	}
	return true
}
