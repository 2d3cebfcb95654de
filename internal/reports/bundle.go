package reports

import (
	"context"
	"fmt"

	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
)

// KindBundle is the kind of the submission wrapper
const KindBundle = "bundle"

// Bundle wraps one or more root reports into a single queued unit.
// Its result is the union of the roots' flat result maps; it adds no key of its own.
//
// Failure is fail-fast: the first failing root stops the bundle, the bundle record
// becomes FAILURE and the failing root plus every root that never started are marked
// FAILURE as well, so no record of a failed submission is left waiting for a poller.
type Bundle struct {
	*Base
}

var _ Report = (*Bundle)(nil)

// NewBundle creates the bundle record. Bundles are always shown to the user.
func NewBundle(ctx context.Context, store interfaces.ReportStorage, opts Options, roots []Report) (*Bundle, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("bundle requires at least one root report")
	}
	opts.ShowInUI = true

	base, err := NewBase(ctx, store, KindBundle, opts, roots)
	if err != nil {
		return nil, err
	}
	return &Bundle{Base: base}, nil
}

// Roots returns the bundled root reports in order
func (b *Bundle) Roots() []Report {
	return b.Children()
}

// Run runs every root in order and merges their results
func (b *Bundle) Run(ctx context.Context) (any, error) {
	exec := ExecutionFromContext(ctx)

	if err := b.SetStatus(ctx, models.ReportStatusStarted, exec.Handle); err != nil {
		return nil, err
	}

	merged := Results{}
	for i, root := range b.children {
		if err := interrupted(ctx); err != nil {
			b.fail(ctx, exec, i, err)
			return nil, err
		}

		out, err := root.Run(ctx)
		if err != nil {
			b.fail(ctx, exec, i, err)
			return nil, err
		}

		results, err := AsResults(out)
		if err != nil {
			err = fmt.Errorf("root %s: %w", root.PersistentID(), err)
			b.fail(ctx, exec, i+1, err)
			return nil, err
		}
		merged.Merge(results)
	}

	if err := b.SetStatus(ctx, models.ReportStatusSuccess, ""); err != nil {
		return nil, err
	}
	return merged, nil
}

// fail marks the bundle and every root from index `from` onwards as FAILURE.
// Nodes below those roots that never started are marked too.
func (b *Bundle) fail(ctx context.Context, exec Execution, from int, cause error) {
	writeCtx := context.WithoutCancel(ctx)

	for _, root := range b.children[from:] {
		if err := root.SetStatus(writeCtx, models.ReportStatusFailure, exec.Handle); err != nil {
			exec.Logger.Warn().Err(err).Str("report_id", root.PersistentID()).Msg("Failed to mark root as failed")
		}
		b.failUnstarted(writeCtx, exec, root.Children())
	}

	if err := b.SetStatus(writeCtx, models.ReportStatusFailure, ""); err != nil {
		exec.Logger.Warn().Err(err).Str("report_id", b.id).Msg("Failed to record bundle failure")
	}

	if IsTimeout(cause) {
		exec.Logger.Error().
			Str("report_id", b.id).
			Int("failed_roots", len(b.children)-from).
			Msgf("timeout exceeded for %s", exec.Handle)
	}
}

// failUnstarted walks a subtree and fails every node that has not written a status.
// Leaves keep no status of their own and are skipped.
func (b *Bundle) failUnstarted(ctx context.Context, exec Execution, reports []Report) {
	for _, r := range reports {
		if _, ok := r.(*Leaf); ok {
			continue
		}
		if status := r.Status(); status == "" || status == models.ReportStatusPending {
			if err := r.SetStatus(ctx, models.ReportStatusFailure, exec.Handle); err != nil {
				exec.Logger.Warn().Err(err).Str("report_id", r.PersistentID()).Msg("Failed to mark unstarted report as failed")
			}
		}
		b.failUnstarted(ctx, exec, r.Children())
	}
}
