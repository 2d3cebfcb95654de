package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
)

// ErrUnknownKind is returned when a descriptor names a kind with no registered factory
var ErrUnknownKind = errors.New("unknown report kind")

// Factory rebuilds a concrete report around a restored base.
// The base already carries the restored children and the record's parameters.
type Factory func(ctx context.Context, base *Base) (Report, error)

// Registry maps report kinds to factories so a worker can rebuild a submitted tree
type Registry struct {
	factories map[string]Factory
	logger    arbor.ILogger
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the bundle kind pre-registered
func NewRegistry(logger arbor.ILogger) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}

	r.factories[KindBundle] = func(ctx context.Context, base *Base) (Report, error) {
		if len(base.children) == 0 {
			return nil, fmt.Errorf("bundle %s has no roots", base.PersistentID())
		}
		return &Bundle{Base: base}, nil
	}

	return r
}

// Register adds a factory for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("report kind is required")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("report kind %s already registered", kind)
	}
	r.factories[kind] = factory

	if r.logger != nil {
		r.logger.Debug().Str("kind", kind).Msg("Report kind registered")
	}
	return nil
}

// Kinds returns the registered kinds sorted by name
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Restore rebuilds the tree described by d bottom-up. No records are created.
func (r *Registry) Restore(ctx context.Context, store interfaces.ReportStorage, d Descriptor) (Report, error) {
	if d.PersistentID == "" {
		return nil, fmt.Errorf("descriptor of kind %s has no persistent id", d.Kind)
	}

	children := make([]Report, 0, len(d.Children))
	for _, cd := range d.Children {
		child, err := r.Restore(ctx, store, cd)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	r.mu.RLock()
	factory, ok := r.factories[d.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, d.Kind)
	}

	report, err := factory(ctx, RestoreBase(store, d, children))
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s report %s: %w", d.Kind, d.PersistentID, err)
	}
	return report, nil
}
