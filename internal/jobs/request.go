package jobs

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/reportree/internal/metrics"
	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

// ErrInvalidRequest marks submission errors caused by the request itself
var ErrInvalidRequest = errors.New("invalid job request")

// SubmitRequest is one submission: every entry becomes a root of the same bundle
type SubmitRequest struct {
	Name    string          `json:"name" validate:"required,max=200"`
	OwnerID string          `json:"owner_id,omitempty"`
	Reports []ReportRequest `json:"reports" validate:"required,min=1,dive"`
}

// ReportRequest asks for one metric over a cohort spread across projects
type ReportRequest struct {
	Name      string             `json:"name" validate:"required,max=200"`
	Cohort    map[string][]int64 `json:"cohort" validate:"required,min=1,dive,keys,required,endkeys,required,min=1"`
	Metric    MetricSpec         `json:"metric"`
	Aggregate *AggregateParams   `json:"aggregate,omitempty"`
}

var validate = validator.New()

// Validate checks the request shape, the project names and every metric's options
func (r *SubmitRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	for _, report := range r.Reports {
		for project := range report.Cohort {
			if !mediawiki.ValidProjectName(project) {
				return fmt.Errorf("%w: project %q", ErrInvalidRequest, project)
			}
		}
		if _, err := metrics.New(report.Metric.Name, report.Metric.Options); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return nil
}
