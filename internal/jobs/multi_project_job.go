package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/metrics"
	"github.com/ternarybob/reportree/internal/reports"
)

// MultiProjectParams is stored on a multi_project_metric_job record
type MultiProjectParams struct {
	Metric   MetricSpec `json:"metric"`
	Projects []string   `json:"projects"`
}

// CohortResults maps "<user>|<project>" to that user's values on that project
type CohortResults map[string]map[string]any

// CohortKey addresses one user on one project
func CohortKey(userID int64, project string) string {
	return fmt.Sprintf("%d|%s", userID, project)
}

// multiProjectFinisher merges per-project leaves into one cohort-wide map
var multiProjectFinisher = reports.FinisherFunc(func(ctx context.Context, node *reports.Node, childResults []any) (any, error) {
	merged := CohortResults{}
	for i, r := range childResults {
		pr, ok := r.(ProjectResults)
		if !ok {
			return nil, fmt.Errorf("child %d of %s returned %T, want project results", i, node.PersistentID(), r)
		}
		for userID, values := range pr.Users {
			merged[CohortKey(userID, pr.Project)] = values
		}
	}
	return node.ReportResult(ctx, merged)
})

// NewMultiProjectMetricJob creates one metric leaf per project of the cohort, in project name order.
// Metric defaults are resolved once here so every leaf, and any restore of it, uses the same options.
func NewMultiProjectMetricJob(ctx context.Context, store interfaces.ReportStorage, projects ProjectOpener, ownerID, name string, cohort map[string][]int64, spec MetricSpec, showInUI bool) (*reports.Node, error) {
	resolved, err := metrics.ResolveOptions(spec.Name, spec.Options)
	if err != nil {
		return nil, err
	}
	spec.Options = resolved

	names := make([]string, 0, len(cohort))
	for project := range cohort {
		names = append(names, project)
	}
	sort.Strings(names)

	children := make([]reports.Report, 0, len(names))
	for _, project := range names {
		leaf, err := NewMetricReport(ctx, store, projects, ownerID, project, cohort[project], spec)
		if err != nil {
			return nil, err
		}
		children = append(children, leaf)
	}

	return reports.NewNode(ctx, store, KindMultiProjectMetricJob, reports.Options{
		OwnerID:    ownerID,
		Name:       name,
		Parameters: MultiProjectParams{Metric: spec, Projects: names},
		ShowInUI:   showInUI,
	}, children, multiProjectFinisher)
}

func restoreMultiProjectJob(ctx context.Context, base *reports.Base) (reports.Report, error) {
	return reports.NewNodeFromBase(base, multiProjectFinisher)
}
