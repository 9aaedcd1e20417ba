// Package resource defines the contract a resource manager (a
// database connection pool, a message broker client, anything capable
// of participating in two-phase commit) implements to be driven by the
// recoverer, and a process-wide registry of resources by unique name
// (spec §5, §4.5).
package resource

import (
	"fmt"
	"sync"

	"github.com/ilyalabun/btm/uid"
)

// RecoveryFlags controls how Recover scans the resource manager's own
// in-doubt branch list (spec §4.5 step 2).
type RecoveryFlags struct {
	// StartRscan/EndRscan mirror XA's TMSTARTRSCAN/TMENDRSCAN: when both
	// false the resource manager continues a scan already in progress.
	StartRscan bool
	EndRscan   bool
}

// Resource is the contract a transactional resource implements so the
// recoverer can drive it (spec §4.5). UniqueName must be stable across
// restarts: it is the key under which the journal records which
// branches belong to this resource.
type Resource interface {
	UniqueName() string

	// Recover asks the resource manager for every branch it currently
	// considers in-doubt (prepared but not yet told to commit or
	// rollback).
	Recover(flags RecoveryFlags) ([]uid.Xid, error)

	// Commit tells the resource manager to make xid's effects durable.
	// onePhase is true only when no journal record exists for the
	// transaction (spec §4.5 edge case).
	Commit(xid uid.Xid, onePhase bool) error

	// Rollback tells the resource manager to discard xid's effects.
	Rollback(xid uid.Xid) error
}

// Registry is a process-wide, thread-safe map of resources by unique
// name (spec §4.5's "resources currently registered"), grounded on
// andreyvit-journal's set.go lock-protected slice-of-journals registry,
// adapted here to a name-keyed map since resources, unlike journals,
// are looked up by unique name rather than iterated wholesale.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]Resource
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]Resource)}
}

// Register adds r under its UniqueName, failing if that name is
// already registered to a different Resource.
func (reg *Registry) Register(r Resource) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	name := r.UniqueName()
	if existing, ok := reg.resources[name]; ok && existing != r {
		return fmt.Errorf("resource: %q already registered", name)
	}
	reg.resources[name] = r
	return nil
}

// Unregister removes the resource registered under name, if any.
func (reg *Registry) Unregister(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.resources, name)
}

// Lookup returns the resource registered under name.
func (reg *Registry) Lookup(name string) (Resource, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.resources[name]
	return r, ok
}

// All returns a snapshot of every currently registered resource.
func (reg *Registry) All() []Resource {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]Resource, 0, len(reg.resources))
	for _, r := range reg.resources {
		out = append(out, r)
	}
	return out
}
