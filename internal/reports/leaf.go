package reports

import (
	"context"
	"fmt"

	"github.com/ternarybob/reportree/internal/interfaces"
)

// Computation is the concrete work behind a leaf
type Computation interface {
	Compute(ctx context.Context) (any, error)
}

// ComputationFunc adapts a function to Computation
type ComputationFunc func(ctx context.Context) (any, error)

func (f ComputationFunc) Compute(ctx context.Context) (any, error) {
	return f(ctx)
}

// Leaf is a report with no dependencies.
// It performs no status bookkeeping; the enclosing Node owns that.
type Leaf struct {
	*Base
	computation Computation
}

var _ Report = (*Leaf)(nil)

// NewLeaf creates a leaf and its PENDING record
func NewLeaf(ctx context.Context, store interfaces.ReportStorage, kind string, opts Options, computation Computation) (*Leaf, error) {
	base, err := NewBase(ctx, store, kind, opts, nil)
	if err != nil {
		return nil, err
	}
	return NewLeafFromBase(base, computation)
}

// NewLeafFromBase wraps an existing base, used when restoring a tree
func NewLeafFromBase(base *Base, computation Computation) (*Leaf, error) {
	if computation == nil {
		return nil, fmt.Errorf("leaf %s requires a computation", base.Kind())
	}
	if len(base.children) > 0 {
		return nil, fmt.Errorf("leaf %s cannot have children", base.Kind())
	}
	return &Leaf{Base: base, computation: computation}, nil
}

// Run performs the computation directly
func (l *Leaf) Run(ctx context.Context) (any, error) {
	return l.computation.Compute(ctx)
}
