package notifier

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Notifier from its flattened configuration, e.g. the
// webhook notifier's url and extra headers.
type Factory func(config map[string]string) (Notifier, error)

// registry holds the named factories. Adapters self-register from
// init(), so access is guarded even though registration normally
// finishes before main runs.
type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var defaultRegistry = &registry{factories: make(map[string]Factory)}

// Register makes a notifier factory available by name. A duplicate name
// is a wiring bug, so it panics at startup rather than shadowing.
func Register(name string, factory Factory) {
	r := defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.factories[name]; taken {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	r.factories[name] = factory
}

// New builds the named notifier from its configuration.
func New(name string, config map[string]string) (Notifier, error) {
	r := defaultRegistry
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	return factory(config)
}

// Available lists the registered notifier names, sorted for stable
// display in logs and the health endpoint.
func Available() []string {
	r := defaultRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
