package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/reports"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregate statistics
const (
	StatSum     = "sum"
	StatAverage = "average"
	StatStd     = "std"
)

// AggregateParams configures an aggregate_report.
// Individual keeps the per-user results addressable next to the aggregate.
type AggregateParams struct {
	Statistics []string `json:"statistics" validate:"required,min=1,dive,oneof=sum average std"`
	Individual bool     `json:"individual"`
}

// AggregateResults maps statistic -> value name -> value
type AggregateResults map[string]map[string]float64

type resultKeyed interface {
	ResultKey() string
}

type aggregateFinisher struct {
	params AggregateParams
}

func (f aggregateFinisher) Finish(ctx context.Context, node *reports.Node, childResults []any) (any, error) {
	if len(childResults) != 1 {
		return nil, fmt.Errorf("aggregate %s expects one child, got %d", node.PersistentID(), len(childResults))
	}

	childMap, err := reports.AsResults(childResults[0])
	if err != nil {
		return nil, err
	}

	cohort, err := childCohort(node, childMap)
	if err != nil {
		return nil, err
	}

	aggregate := Aggregate(cohort, f.params.Statistics)
	if f.params.Individual {
		return node.ReportResult(ctx, aggregate, childMap)
	}
	return node.ReportResult(ctx, aggregate)
}

// childCohort finds the cohort map the single child produced under its own key
func childCohort(node *reports.Node, childMap reports.Results) (CohortResults, error) {
	children := node.Children()
	var raw any
	if keyed, ok := children[0].(resultKeyed); ok && keyed.ResultKey() != "" {
		raw = childMap[keyed.ResultKey()]
	} else if len(childMap) == 1 {
		for _, v := range childMap {
			raw = v
		}
	}

	cohort, ok := raw.(CohortResults)
	if !ok {
		return nil, fmt.Errorf("aggregate %s: child result is %T, want cohort results", node.PersistentID(), raw)
	}
	return cohort, nil
}

// Aggregate computes the requested statistics over every numeric value name in cohort
func Aggregate(cohort CohortResults, statistics []string) AggregateResults {
	series := map[string][]float64{}

	// Stable order so float sums do not depend on map iteration
	keys := make([]string, 0, len(cohort))
	for key := range cohort {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for name, value := range cohort[key] {
			if v, ok := toFloat(value); ok {
				series[name] = append(series[name], v)
			}
		}
	}

	out := AggregateResults{}
	for _, statistic := range statistics {
		values := map[string]float64{}
		for name, xs := range series {
			values[name] = compute(statistic, xs)
		}
		out[statistic] = values
	}
	return out
}

func compute(statistic string, xs []float64) float64 {
	switch statistic {
	case StatSum:
		return floats.Sum(xs)
	case StatAverage:
		if len(xs) == 0 {
			return 0
		}
		return stat.Mean(xs, nil)
	case StatStd:
		if len(xs) < 2 {
			return 0
		}
		v := stat.StdDev(xs, nil)
		if math.IsNaN(v) {
			return 0
		}
		return v
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// NewAggregateReport wraps a multi-project job and summarizes its values
func NewAggregateReport(ctx context.Context, store interfaces.ReportStorage, ownerID, name string, child *reports.Node, params AggregateParams) (*reports.Node, error) {
	return reports.NewNode(ctx, store, KindAggregateReport, reports.Options{
		OwnerID:    ownerID,
		Name:       name,
		Parameters: params,
		ShowInUI:   true,
	}, []reports.Report{child}, aggregateFinisher{params: params})
}

func restoreAggregateReport(ctx context.Context, base *reports.Base) (reports.Report, error) {
	var params AggregateParams
	if err := base.DecodeParameters(&params); err != nil {
		return nil, err
	}
	return reports.NewNodeFromBase(base, aggregateFinisher{params: params})
}
