package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrActionNotFound is returned by Get for an unregistered key.
	ErrActionNotFound = fmt.Errorf("action: not found")
	// ErrAlreadyRegistered is returned by Register for a duplicate key.
	ErrAlreadyRegistered = fmt.Errorf("action: already registered")
	// ErrResumeNotSupported is the default Resume error for actions
	// embedding NopResume.
	ErrResumeNotSupported = fmt.Errorf("action: resume not supported")
)

// Descriptor pairs a registered Action with its declared ports, per
// spec §4.3's "Registry maps (integration_name, action_name) → Action
// descriptor containing the callable and the action's declared
// input_ports/output_ports".
type Descriptor struct {
	IntegrationName string
	ActionName      string
	InputPorts      []string
	OutputPorts     []string
	Action          Action
}

type key struct {
	integration string
	action      string
}

// Registry is a process-wide, thread-safe (integration_name, action_name)
// lookup table. It is an explicit struct rather than a package-level
// global: callers construct one at host startup and pass it to the
// compiler and the graph executor (spec §9 design note on avoiding
// implicit globals), grounded on internal/node/runtime/registry.go's
// Registry shape minus its globalRegistry/package-level wrapper
// functions.
type Registry struct {
	mu   sync.RWMutex
	defs map[key]Descriptor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[key]Descriptor)}
}

// Register adds a Descriptor, failing if its (integration, action) pair
// is already taken.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{d.IntegrationName, d.ActionName}
	if _, exists := r.defs[k]; exists {
		return fmt.Errorf("%w: %s.%s", ErrAlreadyRegistered, d.IntegrationName, d.ActionName)
	}
	r.defs[k] = d
	return nil
}

// Get looks up an action by "integration.action" lookup key, per
// spec §4.3 ("look up an action by integration.action").
func (r *Registry) Get(integrationName, actionName string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[key{integrationName, actionName}]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s.%s", ErrActionNotFound, integrationName, actionName)
	}
	return d, nil
}

// List returns every registered Descriptor, sorted by integration then
// action name, for deterministic introspection/UI listing.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IntegrationName != out[j].IntegrationName {
			return out[i].IntegrationName < out[j].IntegrationName
		}
		return out[i].ActionName < out[j].ActionName
	})
	return out
}

// HealthCheck iterates every registered action implementing HealthChecker
// and reports any that fail their self-check, keyed by "integration.action".
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	defs := make([]Descriptor, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	r.mu.RUnlock()

	failures := make(map[string]error)
	for _, d := range defs {
		checker, ok := d.Action.(HealthChecker)
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			failures[fmt.Sprintf("%s.%s", d.IntegrationName, d.ActionName)] = err
		}
	}
	return failures
}
