// Package reports executes trees of dependent computations on a single worker.
//
// A tree is built from Leaf computations and Node aggregators. Every report owns
// one persistent record created at construction, so the tree exists durably before
// it is queued. A Node runs its children synchronously and in declared order inside
// the same worker invocation, then hands their results to its Finisher. Results are
// flattened into one Results map keyed by unique result keys.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
)

// Report is the unit of work in a report tree
type Report interface {
	PersistentID() string
	Name() string
	Kind() string
	OwnerID() string
	Children() []Report
	Run(ctx context.Context) (any, error)
	Status() models.ReportStatus
	SetStatus(ctx context.Context, status models.ReportStatus, handle string) error
	Descriptor() (Descriptor, error)
}

// Options configures a new report.
// OwnerID is optional; an empty string means no owner is known.
type Options struct {
	OwnerID    string
	Name       string
	Parameters any // Serialized to JSON onto the record
	ShowInUI   bool
}

// Descriptor is the serializable shape of a report tree.
// It crosses the queue so a worker can rebuild the tree without creating records.
type Descriptor struct {
	Kind         string          `json:"kind"`
	PersistentID string          `json:"persistent_id"`
	OwnerID      string          `json:"owner_id,omitempty"`
	Name         string          `json:"name"`
	ShowInUI     bool            `json:"show_in_ui"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Children     []Descriptor    `json:"children,omitempty"`
}

// Base carries the record-backed state shared by all report kinds
type Base struct {
	store      interfaces.ReportStorage
	id         string
	kind       string
	name       string
	ownerID    string
	showInUI   bool
	parameters json.RawMessage
	children   []Report

	mu        sync.Mutex
	status    models.ReportStatus
	resultKey string
}

// NewBase creates the report's PENDING record and returns the base holding its id.
// This is the only write construction performs.
func NewBase(ctx context.Context, store interfaces.ReportStorage, kind string, opts Options, children []Report) (*Base, error) {
	if store == nil {
		return nil, fmt.Errorf("report storage is required")
	}
	if kind == "" {
		return nil, fmt.Errorf("report kind is required")
	}

	params, err := EncodeParameters(opts.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters for %s: %w", kind, err)
	}

	record := &models.ReportRecord{
		OwnerID:     opts.OwnerID,
		Name:        opts.Name,
		Kind:        kind,
		ShownToUser: opts.ShowInUI,
		Parameters:  string(params),
	}
	if err := store.CreateReport(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create record for %s: %w", kind, err)
	}

	return &Base{
		store:      store,
		id:         record.ID,
		kind:       kind,
		name:       opts.Name,
		ownerID:    opts.OwnerID,
		showInUI:   opts.ShowInUI,
		parameters: params,
		children:   slices.Clone(children),
		status:     models.ReportStatusPending,
	}, nil
}

// RestoreBase rebuilds a base from a descriptor produced elsewhere (usually the submitting process).
// No record is written; the existing one is addressed by d.PersistentID.
func RestoreBase(store interfaces.ReportStorage, d Descriptor, children []Report) *Base {
	return &Base{
		store:      store,
		id:         d.PersistentID,
		kind:       d.Kind,
		name:       d.Name,
		ownerID:    d.OwnerID,
		showInUI:   d.ShowInUI,
		parameters: d.Parameters,
		children:   slices.Clone(children),
	}
}

func (b *Base) PersistentID() string { return b.id }
func (b *Base) Name() string         { return b.name }
func (b *Base) Kind() string         { return b.kind }
func (b *Base) OwnerID() string      { return b.ownerID }
func (b *Base) ShowInUI() bool       { return b.showInUI }

// Children returns a copy of the ordered children
func (b *Base) Children() []Report {
	return slices.Clone(b.children)
}

// Parameters returns the JSON parameters the report was configured with
func (b *Base) Parameters() json.RawMessage {
	return b.parameters
}

// DecodeParameters unmarshals the report parameters into v
func (b *Base) DecodeParameters(v any) error {
	if len(b.parameters) == 0 {
		return nil
	}
	return json.Unmarshal(b.parameters, v)
}

// Store returns the record store the report writes to
func (b *Base) Store() interfaces.ReportStorage {
	return b.store
}

// Status returns the last status this process wrote, empty for restored reports that have not written yet
func (b *Base) Status() models.ReportStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// ResultKey returns the key assigned by ReportResult.
// The key reaches the record only together with SUCCESS and is dropped again on failure.
func (b *Base) ResultKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resultKey
}

// SetStatus re-fetches the record by id and writes status, plus the handle when non-empty.
// Fails with models.ErrReportNotFound when the record does not exist.
func (b *Base) SetStatus(ctx context.Context, status models.ReportStatus, handle string) error {
	if err := b.store.UpdateReportStatus(ctx, b.id, status, handle); err != nil {
		return fmt.Errorf("failed to set %s on report %s: %w", status, b.id, err)
	}

	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	return nil
}

// Descriptor serializes the report and its subtree
func (b *Base) Descriptor() (Descriptor, error) {
	d := Descriptor{
		Kind:         b.kind,
		PersistentID: b.id,
		OwnerID:      b.ownerID,
		Name:         b.name,
		ShowInUI:     b.showInUI,
		Parameters:   b.parameters,
	}

	for _, child := range b.children {
		cd, err := child.Descriptor()
		if err != nil {
			return Descriptor{}, err
		}
		d.Children = append(d.Children, cd)
	}

	return d, nil
}

func (b *Base) String() string {
	return fmt.Sprintf("<Report(%q)>", b.id)
}

// complete writes SUCCESS and the pending result key in one record update
func (b *Base) complete(ctx context.Context) error {
	key := b.ResultKey()
	if err := b.store.CompleteReport(ctx, b.id, key); err != nil {
		return fmt.Errorf("failed to complete report %s: %w", b.id, err)
	}

	b.mu.Lock()
	b.status = models.ReportStatusSuccess
	b.mu.Unlock()
	return nil
}

func (b *Base) assignResultKey(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resultKey != "" {
		return fmt.Errorf("%w: report %s", models.ErrResultKeyAssigned, b.id)
	}
	b.resultKey = key
	return nil
}

func (b *Base) clearResultKey() {
	b.mu.Lock()
	b.resultKey = ""
	b.mu.Unlock()
}

// EncodeParameters turns a parameter value into the JSON stored on a record.
// nil becomes "{}"; raw JSON is kept as is.
func EncodeParameters(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("parameters are not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("parameters are not valid JSON")
		}
		return json.RawMessage(p), nil
	case string:
		if json.Valid([]byte(p)) {
			return json.RawMessage(p), nil
		}
	}
	return json.Marshal(v)
}
