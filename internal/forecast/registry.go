package forecast

import (
	"fmt"
	"sync"

	"github.com/iwvelando/sales-forecast/pkg/constants"
	"go.uber.org/zap"
)

// Registry maps algorithm names to implementations and their descriptors.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	algorithms  map[string]Algorithm
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		algorithms:  make(map[string]Algorithm),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds an algorithm under its descriptor's name. Registering the
// same name twice is an error.
func (r *Registry) Register(alg Algorithm, desc Descriptor) error {
	if desc.Name == "" {
		desc.Name = alg.Name()
	}
	if desc.Name != alg.Name() {
		return fmt.Errorf("descriptor name %q does not match algorithm %q", desc.Name, alg.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.algorithms[desc.Name]; exists {
		return fmt.Errorf("algorithm %q is already registered", desc.Name)
	}
	r.order = append(r.order, desc.Name)
	r.algorithms[desc.Name] = alg
	r.descriptors[desc.Name] = desc
	return nil
}

// Lookup returns the named algorithm.
func (r *Registry) Lookup(name string) (Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alg, ok := r.algorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return alg, nil
}

// Descriptor returns the descriptor of the named algorithm.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Names returns the registered algorithm names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// NewDefaultRegistry registers the three built-in algorithms. seed drives the
// sequence model's weight initialization and shuffling.
func NewDefaultRegistry(logger *zap.Logger, seed int64) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry()
	builtins := []struct {
		alg  Algorithm
		desc Descriptor
	}{
		{NewEnsemble(), EnsembleDescriptor},
		{NewSequenceModel(logger, seed), SequenceModelDescriptor},
		{NewSmoothedDifferencing(), SmoothedDifferencingDescriptor},
	}
	for _, b := range builtins {
		if err := r.Register(b.alg, b.desc); err != nil {
			// Built-in names are distinct constants.
			panic(err)
		}
	}
	logger.Debug("registered forecast algorithms",
		zap.String("op", "forecast.NewDefaultRegistry"),
		zap.Strings("algorithms", r.Names()),
		zap.String("default", constants.DefaultAlgorithm),
	)
	return r
}
