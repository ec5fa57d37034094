// Package registry records which modules a host has loaded, addressed by
// name and by module id.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/vm"
)

var (
	// ErrAlreadyLoaded is returned when a name or id is registered twice.
	ErrAlreadyLoaded = errors.New("registry: module already loaded")
	// ErrNoFunction is returned by Resolve for an unknown function/arity.
	ErrNoFunction = errors.New("registry: no such function")
	// ErrUnknownModule is returned by Resolve for an unregistered id.
	ErrUnknownModule = errors.New("registry: unknown module")
)

// AlreadyLoadedError reports a duplicate registration.
type AlreadyLoadedError struct {
	Name string
	ID   vm.ModuleID
}

func (e *AlreadyLoadedError) Error() string {
	return fmt.Sprintf("registry: module %q already loaded as %s", e.Name, e.ID)
}

func (e *AlreadyLoadedError) Unwrap() error { return ErrAlreadyLoaded }

// Function is a callable export.
type Function struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

func (f Function) String() string { return fmt.Sprintf("%s/%d", f.Name, f.Arity) }

// ModuleInfo describes a loaded module.
type ModuleInfo struct {
	Name      string     `json:"name"`
	Functions []Function `json:"functions"`
	Size      int        `json:"size"`
}

// Has reports whether the module exports function with the given arity.
func (m ModuleInfo) Has(function string, arity int) bool {
	for _, f := range m.Functions {
		if f.Name == function && f.Arity == arity {
			return true
		}
	}
	return false
}

// InfoFromModule derives the registry entry of a validated module.
func InfoFromModule(mod *bytecode.Module) ModuleInfo {
	fns := make([]Function, 0, len(mod.Functions()))
	for _, f := range mod.Functions() {
		fns = append(fns, Function{Name: f.Name, Arity: f.Arity})
	}
	sort.Slice(fns, func(i, j int) bool {
		if fns[i].Name != fns[j].Name {
			return fns[i].Name < fns[j].Name
		}
		return fns[i].Arity < fns[j].Arity
	})
	return ModuleInfo{Name: mod.Name(), Functions: fns, Size: mod.Size()}
}

// Registry maps module names to ids and ids to module info. Entries are
// never removed.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]vm.ModuleID
	byID   map[vm.ModuleID]ModuleInfo
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]vm.ModuleID),
		byID:   make(map[vm.ModuleID]ModuleInfo),
	}
}

// Register records info under id. A name or id already present is
// rejected and leaves the registry unchanged.
func (r *Registry) Register(id vm.ModuleID, info ModuleInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[info.Name]; ok {
		return &AlreadyLoadedError{Name: info.Name, ID: existing}
	}
	if existing, ok := r.byID[id]; ok {
		return &AlreadyLoadedError{Name: existing.Name, ID: id}
	}
	r.byName[info.Name] = id
	r.byID[id] = info
	return nil
}

// Lookup returns the id registered under name.
func (r *Registry) Lookup(name string) (vm.ModuleID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Info returns the module registered under id.
func (r *Registry) Info(id vm.ModuleID) (ModuleInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[id]
	return info, ok
}

// Resolve checks that id is registered and exports function/arity.
func (r *Registry) Resolve(id vm.ModuleID, function string, arity int) error {
	info, ok := r.Info(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	if !info.Has(function, arity) {
		return fmt.Errorf("%w: %s:%s/%d", ErrNoFunction, info.Name, function, arity)
	}
	return nil
}

// List returns every registered module sorted by name.
func (r *Registry) List() []ModuleInfo {
	r.mu.RLock()
	out := make([]ModuleInfo, 0, len(r.byID))
	for _, info := range r.byID {
		out = append(out, info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
