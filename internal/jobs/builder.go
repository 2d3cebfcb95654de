package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/reports"
)

// Builder assembles report trees from validated requests
type Builder struct {
	store    interfaces.ReportStorage
	projects ProjectOpener
}

func NewBuilder(store interfaces.ReportStorage, projects ProjectOpener) *Builder {
	return &Builder{store: store, projects: projects}
}

// Build validates req, then writes the records of the whole tree:
//
//	bundle -> [aggregate_report ->] multi_project_metric_job -> metric_report per project
//
// Nothing is written when validation fails.
func (b *Builder) Build(ctx context.Context, req *SubmitRequest) (*reports.Bundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	roots := make([]reports.Report, 0, len(req.Reports))
	for _, r := range req.Reports {
		root, err := b.buildRoot(ctx, req.OwnerID, r)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}

	return reports.NewBundle(ctx, b.store, reports.Options{
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Parameters: req,
	}, roots)
}

func (b *Builder) buildRoot(ctx context.Context, ownerID string, r ReportRequest) (reports.Report, error) {
	// The per-user job is surfaced unless an aggregate hides it
	showJob := r.Aggregate == nil || r.Aggregate.Individual

	job, err := NewMultiProjectMetricJob(ctx, b.store, b.projects, ownerID, r.Name, r.Cohort, r.Metric, showJob)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", r.Name, err)
	}
	if r.Aggregate == nil {
		return job, nil
	}

	aggregate, err := NewAggregateReport(ctx, b.store, ownerID, r.Name+" (aggregate)", job, *r.Aggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to build aggregate of %s: %w", r.Name, err)
	}
	return aggregate, nil
}

// Register adds this package's report kinds to registry
func Register(registry *reports.Registry, projects ProjectOpener) error {
	factories := map[string]reports.Factory{
		KindMetricReport:          restoreMetricReport(projects),
		KindMultiProjectMetricJob: restoreMultiProjectJob,
		KindAggregateReport:       restoreAggregateReport,
	}
	for kind, factory := range factories {
		if err := registry.Register(kind, factory); err != nil {
			return err
		}
	}
	return nil
}
