// Package metrics holds the leaf computations run against a cohort of users
// on one MediaWiki project.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

// ErrUnknownMetric is returned for metric names with no constructor
var ErrUnknownMetric = errors.New("unknown metric")

// UserResults maps a user id to that user's named values
type UserResults map[int64]map[string]any

// Metric computes values for every user in userIDs.
// Every requested user appears in the result, even with no activity.
type Metric interface {
	Name() string
	// UsesDatabase reports whether Compute needs an open project
	UsesDatabase() bool
	Compute(ctx context.Context, project *mediawiki.Project, userIDs []int64) (UserResults, error)
}

// OptionsResolver is implemented by metrics whose defaults depend on when they are built
type OptionsResolver interface {
	// ResolvedOptions returns the options with every default filled in
	ResolvedOptions() (json.RawMessage, error)
}

// Constructor builds a metric from its JSON options
type Constructor func(options json.RawMessage) (Metric, error)

var constructors = map[string]Constructor{
	RandomName:         NewRandomFromOptions,
	NamespaceEditsName: NewNamespaceEditsFromOptions,
}

var validate = validator.New()

// New builds the named metric. Options are validated here so a bad request
// fails before any report record is written.
func New(name string, options json.RawMessage) (Metric, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	return ctor(options)
}

// ResolveOptions builds the named metric and returns its options with defaults fixed,
// so a metric rebuilt from them later computes the same thing.
func ResolveOptions(name string, options json.RawMessage) (json.RawMessage, error) {
	m, err := New(name, options)
	if err != nil {
		return nil, err
	}
	if r, ok := m.(OptionsResolver); ok {
		return r.ResolvedOptions()
	}
	return options, nil
}

// Names returns the available metric names
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeOptions(options json.RawMessage, v any) error {
	if len(options) == 0 || string(options) == "null" {
		return nil
	}
	if err := json.Unmarshal(options, v); err != nil {
		return fmt.Errorf("invalid metric options: %w", err)
	}
	return nil
}
