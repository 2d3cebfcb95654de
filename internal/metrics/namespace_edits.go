package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

const (
	NamespaceEditsName = "namespace_edits"
	editsKey           = "edits"
	dateLayout         = "2006-01-02"
)

// NamespaceEditsOptions configures NamespaceEdits. Dates are inclusive days.
type NamespaceEditsOptions struct {
	StartDate  string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Namespaces []int  `json:"namespaces" validate:"omitempty,dive,min=0"`
}

// NamespaceEdits counts each user's edits to pages in the given namespaces.
//
//	select r.rev_user, count(*)
//	  from revision r join page p on p.page_id = r.rev_page
//	 where r.rev_timestamp >= start and r.rev_timestamp < end + 1 day
//	   and r.rev_user in (...) and p.page_namespace in (...)
//	 group by r.rev_user
type NamespaceEdits struct {
	Start      time.Time
	End        time.Time
	Namespaces []int
}

// NewNamespaceEditsFromOptions defaults to the last thirty days in the main namespace
func NewNamespaceEditsFromOptions(options json.RawMessage) (Metric, error) {
	var opts NamespaceEditsOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid %s options: %w", NamespaceEditsName, err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	m := &NamespaceEdits{
		Start:      today.AddDate(0, 0, -30),
		End:        today,
		Namespaces: opts.Namespaces,
	}
	if len(m.Namespaces) == 0 {
		m.Namespaces = []int{0}
	}

	var err error
	if opts.StartDate != "" {
		if m.Start, err = time.Parse(dateLayout, opts.StartDate); err != nil {
			return nil, err
		}
	}
	if opts.EndDate != "" {
		if m.End, err = time.Parse(dateLayout, opts.EndDate); err != nil {
			return nil, err
		}
	}
	if m.End.Before(m.Start) {
		return nil, fmt.Errorf("end_date %s is before start_date %s", m.End.Format(dateLayout), m.Start.Format(dateLayout))
	}

	return m, nil
}

func (m *NamespaceEdits) ResolvedOptions() (json.RawMessage, error) {
	return json.Marshal(NamespaceEditsOptions{
		StartDate:  m.Start.Format(dateLayout),
		EndDate:    m.End.Format(dateLayout),
		Namespaces: m.Namespaces,
	})
}

func (m *NamespaceEdits) Name() string       { return NamespaceEditsName }
func (m *NamespaceEdits) UsesDatabase() bool { return true }

func (m *NamespaceEdits) Compute(ctx context.Context, project *mediawiki.Project, userIDs []int64) (UserResults, error) {
	results := make(UserResults, len(userIDs))
	for _, id := range userIDs {
		results[id] = map[string]any{editsKey: int64(0)}
	}
	if len(userIDs) == 0 {
		return results, nil
	}
	if project == nil {
		return nil, fmt.Errorf("%s requires a project database", NamespaceEditsName)
	}

	query := project.Builder().
		Select("r.rev_user", "COUNT(r.rev_id)").
		From("revision r").
		Join("page p ON p.page_id = r.rev_page").
		Where(sq.Eq{"p.page_namespace": m.Namespaces}).
		Where(sq.Eq{"r.rev_user": userIDs}).
		Where(sq.GtOrEq{"r.rev_timestamp": project.FormatTimestamp(m.Start)}).
		Where(sq.Lt{"r.rev_timestamp": project.FormatTimestamp(m.End.AddDate(0, 0, 1))}).
		GroupBy("r.rev_user")

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count edits on %s: %w", project.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID int64
			edits  int64
		)
		if err := rows.Scan(&userID, &edits); err != nil {
			return nil, fmt.Errorf("failed to scan edit counts: %w", err)
		}
		results[userID] = map[string]any{editsKey: edits}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edit counts: %w", err)
	}

	return results, nil
}
