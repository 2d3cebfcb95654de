package reports

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
)

// ErrSoftTimeLimitExceeded is the cancellation cause set when a worker invocation runs out of time
var ErrSoftTimeLimitExceeded = errors.New("soft time limit exceeded")

// IsTimeout reports whether err is the cooperative timeout signal
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrSoftTimeLimitExceeded)
}

// Finisher produces a node's result from its children's results.
// childResults is ordered like the node's children. Implementations
// call node.ReportResult as their last step to keep the result addressable.
type Finisher interface {
	Finish(ctx context.Context, node *Node, childResults []any) (any, error)
}

// FinisherFunc adapts a function to Finisher
type FinisherFunc func(ctx context.Context, node *Node, childResults []any) (any, error)

func (f FinisherFunc) Finish(ctx context.Context, node *Node, childResults []any) (any, error) {
	return f(ctx, node, childResults)
}

// Node runs its children in order within the calling goroutine, then finishes.
// Children are never enqueued as separate units of work.
type Node struct {
	*Base
	finisher Finisher
}

var _ Report = (*Node)(nil)

// NewNode creates a node and its PENDING record
func NewNode(ctx context.Context, store interfaces.ReportStorage, kind string, opts Options, children []Report, finisher Finisher) (*Node, error) {
	base, err := NewBase(ctx, store, kind, opts, children)
	if err != nil {
		return nil, err
	}
	return NewNodeFromBase(base, finisher)
}

// NewNodeFromBase wraps an existing base, used when restoring a tree
func NewNodeFromBase(base *Base, finisher Finisher) (*Node, error) {
	if finisher == nil {
		return nil, fmt.Errorf("node %s requires a finisher", base.Kind())
	}
	return &Node{Base: base, finisher: finisher}, nil
}

// Run executes the subtree.
//
// The node moves to STARTED with the execution's handle, runs each child to completion
// before the next begins, passes the ordered child results to Finish and moves to SUCCESS
// together with the result key assigned during Finish.
// Any error, including the timeout signal, marks the node FAILURE and is returned
// unchanged so every enclosing node fails too. Partial results are discarded.
func (n *Node) Run(ctx context.Context) (any, error) {
	exec := ExecutionFromContext(ctx)

	if err := n.SetStatus(ctx, models.ReportStatusStarted, exec.Handle); err != nil {
		return nil, err
	}

	var results any = Results{}
	if len(n.children) > 0 {
		out, err := n.runChildren(ctx)
		if err != nil {
			n.fail(ctx, exec, err)
			return nil, err
		}
		results = out
	}

	if err := n.complete(ctx); err != nil {
		n.fail(ctx, exec, err)
		return nil, err
	}
	return results, nil
}

func (n *Node) runChildren(ctx context.Context) (any, error) {
	childResults := make([]any, 0, len(n.children))

	for _, child := range n.children {
		if err := interrupted(ctx); err != nil {
			return nil, err
		}

		result, err := child.Run(ctx)
		if err != nil {
			return nil, err
		}
		childResults = append(childResults, result)
	}

	if err := interrupted(ctx); err != nil {
		return nil, err
	}

	result, err := n.finisher.Finish(ctx, n, childResults)
	if err != nil {
		return nil, err
	}

	// No partial success: a finish that outlived the budget still fails the node
	if err := interrupted(ctx); err != nil {
		return nil, err
	}

	return result, nil
}

func (n *Node) fail(ctx context.Context, exec Execution, cause error) {
	// The execution context may already be expired; the FAILURE write must still land
	writeCtx := context.WithoutCancel(ctx)

	n.clearResultKey()
	if err := n.SetStatus(writeCtx, models.ReportStatusFailure, ""); err != nil {
		exec.Logger.Warn().Err(err).Str("report_id", n.id).Msg("Failed to record report failure")
	}

	if IsTimeout(cause) {
		exec.Logger.Error().
			Str("report_id", n.id).
			Str("kind", n.kind).
			Msgf("timeout exceeded for %s", exec.Handle)
	}
}

// ReportResult assigns a fresh result key and returns {key: results} merged with any
// child result maps that must stay addressable. The key is persisted with SUCCESS.
func (n *Node) ReportResult(ctx context.Context, results any, childResults ...Results) (Results, error) {
	key := common.NewResultKey()
	if err := n.assignResultKey(key); err != nil {
		return nil, err
	}

	merged := Results{key: results}
	return merged.Merge(childResults...), nil
}

// interrupted returns the cancellation error, preferring a timeout cause when one was set
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
		return fmt.Errorf("%w: %w", ctx.Err(), cause)
	}
	return ctx.Err()
}
