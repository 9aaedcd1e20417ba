// Package services implements a process-wide registry of named service
// containers (spec §9's "thread affinity" design note): two callers
// attaching to the same instance name observe the same Container and
// its lazily-constructed sub-services; different names get different
// containers. Grounded on andreyvit-journal's set.go lock-protected
// registry of journals, generalized from a slice to a name-keyed map
// with per-entry lazy initialization.
package services

import (
	"sync"
)

// Registry maps an instance name to its Container, creating one on
// first use.
type Registry struct {
	mu         sync.Mutex
	containers map[string]*Container
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{containers: make(map[string]*Container)}
}

// Attach returns the Container for name, creating it if this is the
// first call for that name. All goroutines attaching to the same name
// share the same Container.
func (reg *Registry) Attach(name string) *Container {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.containers[name]
	if !ok {
		c = &Container{name: name}
		reg.containers[name] = c
	}
	return c
}

// Detach removes name's Container from the registry. Callers already
// holding a reference to it may keep using it; only future Attach calls
// for name are affected.
func (reg *Registry) Detach(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.containers, name)
}

// Container lazily builds and caches the sub-services (journal,
// recoverer, clock, ...) that belong to one named instance. Each
// sub-service has its own compare-and-set guarded slot so concurrent
// first-touches from different goroutines construct it exactly once,
// matching andreyvit-journal's journalWriter.StartWriting CAS-on-bool
// pattern (journalwriter.go) generalized from a single flag to N
// independently-initialized slots.
type Container struct {
	name string

	mu   sync.Mutex
	once map[string]*sync.Once
	vals map[string]any
}

// Name returns the instance name this container was attached under.
func (c *Container) Name() string { return c.name }

// GetOrInit returns the value stored under key, constructing it with
// build if this is the first call for key on this container. Exactly
// one concurrent call to build runs per key; the rest block until it
// completes and then observe its result.
func GetOrInit[T any](c *Container, key string, build func() (T, error)) (T, error) {
	c.mu.Lock()
	if c.once == nil {
		c.once = make(map[string]*sync.Once)
		c.vals = make(map[string]any)
	}
	once, ok := c.once[key]
	if !ok {
		once = &sync.Once{}
		c.once[key] = once
	}
	c.mu.Unlock()

	once.Do(func() {
		v, err := build()
		c.mu.Lock()
		c.vals[key] = struct {
			v   T
			err error
		}{v, err}
		c.mu.Unlock()
	})

	c.mu.Lock()
	r, _ := c.vals[key].(struct {
		v   T
		err error
	})
	c.mu.Unlock()
	return r.v, r.err
}
