// Package detector provides the built-in detection algorithms and the
// registry that resolves configured algorithm kinds to implementations.
package detector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Registry maps algorithm kinds to Detector implementations. New algorithms
// register here; the engine and combiner never branch on algorithm names.
type Registry struct {
	mu        sync.RWMutex
	detectors map[detection.AlgorithmKind]detection.Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[detection.AlgorithmKind]detection.Detector)}
}

// DefaultRegistry returns a registry with all built-in detectors registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Built-ins cannot collide; ignore the duplicate error path.
	_ = r.Register(NewZScore())
	_ = r.Register(NewIsolationForest())
	_ = r.Register(NewOneClass())
	return r
}

// Register adds a detector. Registering a kind twice is an error.
func (r *Registry) Register(d detection.Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.detectors[d.Kind()]; exists {
		return fmt.Errorf("detector %q already registered", d.Kind())
	}
	r.detectors[d.Kind()] = d
	return nil
}

// Lookup resolves an algorithm kind.
func (r *Registry) Lookup(kind detection.AlgorithmKind) (detection.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[kind]
	return d, ok
}

// Kinds returns the registered algorithm kinds in sorted order.
func (r *Registry) Kinds() []detection.AlgorithmKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]detection.AlgorithmKind, 0, len(r.detectors))
	for k := range r.detectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
