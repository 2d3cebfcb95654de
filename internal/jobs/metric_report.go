// -----------------------------------------------------------------------
// Metric report - one metric over one project's share of a cohort
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/metrics"
	"github.com/ternarybob/reportree/internal/reports"
	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

// Report kinds registered by this package
const (
	KindMetricReport          = "metric_report"
	KindMultiProjectMetricJob = "multi_project_metric_job"
	KindAggregateReport       = "aggregate_report"
)

// ProjectOpener returns an open project database
type ProjectOpener interface {
	Project(ctx context.Context, name string) (*mediawiki.Project, error)
}

// MetricSpec names a metric and carries its options
type MetricSpec struct {
	Name    string          `json:"name" validate:"required"`
	Options json.RawMessage `json:"options,omitempty"`
}

// MetricReportParams is stored on a metric_report record
type MetricReportParams struct {
	Project string     `json:"project"`
	UserIDs []int64    `json:"user_ids"`
	Metric  MetricSpec `json:"metric"`
}

// ProjectResults is the value a metric_report leaf returns
type ProjectResults struct {
	Project string
	Users   metrics.UserResults
}

type metricComputation struct {
	projects ProjectOpener
	params   MetricReportParams
	metric   metrics.Metric
}

func (c *metricComputation) Compute(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var project *mediawiki.Project
	if c.metric.UsesDatabase() {
		var err error
		project, err = c.projects.Project(ctx, c.params.Project)
		if err != nil {
			return nil, err
		}
	}

	users, err := c.metric.Compute(ctx, project, c.params.UserIDs)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", c.metric.Name(), c.params.Project, err)
	}
	return ProjectResults{Project: c.params.Project, Users: users}, nil
}

// NewMetricReport creates a hidden leaf computing spec over userIDs on project
func NewMetricReport(ctx context.Context, store interfaces.ReportStorage, projects ProjectOpener, ownerID, project string, userIDs []int64, spec MetricSpec) (*reports.Leaf, error) {
	params := MetricReportParams{Project: project, UserIDs: userIDs, Metric: spec}
	computation, err := newMetricComputation(projects, params)
	if err != nil {
		return nil, err
	}

	return reports.NewLeaf(ctx, store, KindMetricReport, reports.Options{
		OwnerID:    ownerID,
		Name:       fmt.Sprintf("%s on %s", spec.Name, project),
		Parameters: params,
	}, computation)
}

func newMetricComputation(projects ProjectOpener, params MetricReportParams) (*metricComputation, error) {
	metric, err := metrics.New(params.Metric.Name, params.Metric.Options)
	if err != nil {
		return nil, err
	}
	return &metricComputation{projects: projects, params: params, metric: metric}, nil
}

func restoreMetricReport(projects ProjectOpener) reports.Factory {
	return func(ctx context.Context, base *reports.Base) (reports.Report, error) {
		var params MetricReportParams
		if err := base.DecodeParameters(&params); err != nil {
			return nil, err
		}
		computation, err := newMetricComputation(projects, params)
		if err != nil {
			return nil, err
		}
		return reports.NewLeafFromBase(base, computation)
	}
}
