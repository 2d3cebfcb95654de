package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/metrics"
	"github.com/ternarybob/reportree/internal/models"
	"github.com/ternarybob/reportree/internal/reports"
	badgerstore "github.com/ternarybob/reportree/internal/storage/badger"
	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

func newTestStore(t *testing.T) interfaces.ReportStorage {
	t.Helper()

	manager, err := badgerstore.NewManager(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager.ReportStorage()
}

// newTestWikis creates enwiki and dewiki sqlite projects with a few edits
func newTestWikis(t *testing.T) *mediawiki.Connections {
	t.Helper()
	ctx := context.Background()

	conns, err := mediawiki.NewConnections(arbor.NewLogger(), &common.MediaWikiConfig{
		Driver:      "sqlite",
		DSNTemplate: filepath.Join(t.TempDir(), "{project}.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })

	edits := map[string]string{
		"enwiki": `INSERT INTO revision (rev_id, rev_page, rev_user, rev_timestamp) VALUES
			(1, 1, 1, '2013-05-01 10:00:00'), (2, 1, 1, '2013-05-01 11:00:00'), (3, 1, 2, '2013-05-01 12:00:00')`,
		"dewiki": `INSERT INTO revision (rev_id, rev_page, rev_user, rev_timestamp) VALUES
			(1, 1, 1, '2013-05-01 10:00:00'), (2, 1, 1, '2013-05-01 11:00:00'), (3, 1, 1, '2013-05-01 12:00:00'), (4, 1, 1, '2013-05-01 13:00:00')`,
	}
	for name, stmt := range edits {
		p, err := conns.Project(ctx, name)
		require.NoError(t, err)
		require.NoError(t, p.InitSchema(ctx))
		_, err = p.DB().ExecContext(ctx, `INSERT INTO page (page_id, page_namespace, page_title) VALUES (1, 0, 'Main')`)
		require.NoError(t, err)
		_, err = p.DB().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return conns
}

func testContext(handle string) context.Context {
	return reports.WithExecution(context.Background(), reports.Execution{Handle: handle, Logger: arbor.NewLogger()})
}

var editsSpec = MetricSpec{
	Name:    "namespace_edits",
	Options: json.RawMessage(`{"start_date":"2013-05-01","end_date":"2013-05-01","namespaces":[0]}`),
}

func TestMultiProjectJobMergesPerProjectUsers(t *testing.T) {
	store := newTestStore(t)
	builder := NewBuilder(store, newTestWikis(t))

	bundle, err := builder.Build(context.Background(), &SubmitRequest{
		Name:    "edits",
		OwnerID: "9",
		Reports: []ReportRequest{{
			Name:   "cohort edits",
			Cohort: map[string][]int64{"enwiki": {1, 2}, "dewiki": {1}},
			Metric: editsSpec,
		}},
	})
	require.NoError(t, err)

	out, err := bundle.Run(testContext("handle-multi"))
	require.NoError(t, err)
	results, err := reports.AsResults(out)
	require.NoError(t, err)
	require.Len(t, results, 1)

	job := bundle.Roots()[0].(*reports.Node)
	cohort, ok := results[job.ResultKey()].(CohortResults)
	require.True(t, ok)

	assert.Equal(t, CohortResults{
		"1|enwiki": {"edits": int64(2)},
		"2|enwiki": {"edits": int64(1)},
		"1|dewiki": {"edits": int64(4)},
	}, cohort)

	record, err := store.GetReport(context.Background(), job.PersistentID())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusSuccess, record.Status)
	assert.True(t, record.ShownToUser)

	shown, err := store.ListReports(context.Background(), &models.ReportListOptions{OwnerID: "9", ShownOnly: true})
	require.NoError(t, err)
	assert.Len(t, shown, 2, "bundle and job are shown, metric leaves are not")
}

func TestAggregateReport(t *testing.T) {
	tests := []struct {
		name       string
		individual bool
		wantKeys   int
	}{
		{"aggregate only", false, 1},
		{"aggregate with individual results", true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			builder := NewBuilder(store, newTestWikis(t))

			bundle, err := builder.Build(context.Background(), &SubmitRequest{
				Name: "aggregate",
				Reports: []ReportRequest{{
					Name:      "cohort edits",
					Cohort:    map[string][]int64{"enwiki": {1, 2}, "dewiki": {1}},
					Metric:    editsSpec,
					Aggregate: &AggregateParams{Statistics: []string{StatSum, StatAverage, StatStd}, Individual: tt.individual},
				}},
			})
			require.NoError(t, err)

			out, err := bundle.Run(testContext("handle-agg"))
			require.NoError(t, err)
			results, err := reports.AsResults(out)
			require.NoError(t, err)
			assert.Len(t, results, tt.wantKeys)

			aggregate := bundle.Roots()[0].(*reports.Node)
			values, ok := results[aggregate.ResultKey()].(AggregateResults)
			require.True(t, ok)

			assert.InDelta(t, 7.0, values[StatSum]["edits"], 1e-9)
			assert.InDelta(t, 7.0/3.0, values[StatAverage]["edits"], 1e-9)
			assert.InDelta(t, 1.527525, values[StatStd]["edits"], 1e-6)
		})
	}
}

func TestAggregateSmallSeries(t *testing.T) {
	out := Aggregate(CohortResults{"1|enwiki": {"edits": 3, "label": "x"}}, []string{StatSum, StatAverage, StatStd})

	assert.Equal(t, 3.0, out[StatSum]["edits"])
	assert.Equal(t, 3.0, out[StatAverage]["edits"])
	assert.Equal(t, 0.0, out[StatStd]["edits"])
	assert.NotContains(t, out[StatSum], "label")
}

func TestRegisteredKindsRestoreAndRun(t *testing.T) {
	store := newTestStore(t)
	wikis := newTestWikis(t)
	builder := NewBuilder(store, wikis)
	ctx := context.Background()

	bundle, err := builder.Build(ctx, &SubmitRequest{
		Name: "restore",
		Reports: []ReportRequest{{
			Name:      "cohort edits",
			Cohort:    map[string][]int64{"enwiki": {1}},
			Metric:    editsSpec,
			Aggregate: &AggregateParams{Statistics: []string{StatSum}},
		}},
	})
	require.NoError(t, err)

	descriptor, err := bundle.Descriptor()
	require.NoError(t, err)
	payload, err := json.Marshal(descriptor)
	require.NoError(t, err)

	registry := reports.NewRegistry(arbor.NewLogger())
	require.NoError(t, Register(registry, wikis))
	assert.ElementsMatch(t, []string{reports.KindBundle, KindMetricReport, KindMultiProjectMetricJob, KindAggregateReport}, registry.Kinds())

	var decoded reports.Descriptor
	require.NoError(t, json.Unmarshal(payload, &decoded))
	restored, err := registry.Restore(ctx, store, decoded)
	require.NoError(t, err)

	out, err := restored.Run(testContext("handle-restored"))
	require.NoError(t, err)
	results, err := reports.AsResults(out)
	require.NoError(t, err)
	require.Len(t, results, 1)

	for _, v := range results {
		assert.Equal(t, 2.0, v.(AggregateResults)[StatSum]["edits"])
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	valid := func() SubmitRequest {
		return SubmitRequest{
			Name: "ok",
			Reports: []ReportRequest{{
				Name:   "r",
				Cohort: map[string][]int64{"enwiki": {1}},
				Metric: MetricSpec{Name: "random"},
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *SubmitRequest)
	}{
		{"missing name", func(r *SubmitRequest) { r.Name = "" }},
		{"no reports", func(r *SubmitRequest) { r.Reports = nil }},
		{"empty cohort", func(r *SubmitRequest) { r.Reports[0].Cohort = map[string][]int64{} }},
		{"project without users", func(r *SubmitRequest) { r.Reports[0].Cohort = map[string][]int64{"enwiki": {}} }},
		{"bad project name", func(r *SubmitRequest) { r.Reports[0].Cohort = map[string][]int64{"../x": {1}} }},
		{"unknown metric", func(r *SubmitRequest) { r.Reports[0].Metric.Name = "bytes" }},
		{"bad metric options", func(r *SubmitRequest) {
			r.Reports[0].Metric = MetricSpec{Name: "namespace_edits", Options: json.RawMessage(`{"namespaces":[-3]}`)}
		}},
		{"unknown statistic", func(r *SubmitRequest) {
			r.Reports[0].Aggregate = &AggregateParams{Statistics: []string{"median"}}
		}},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)
		})
	}
}

func TestBuildWritesNothingOnInvalidRequest(t *testing.T) {
	store := newTestStore(t)
	builder := NewBuilder(store, nil)

	_, err := builder.Build(context.Background(), &SubmitRequest{Name: "bad"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	records, err := store.ListReports(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// unreachableProject fails to open one project and defers the rest
type unreachableProject struct {
	ProjectOpener
	name string
}

func (u unreachableProject) Project(ctx context.Context, name string) (*mediawiki.Project, error) {
	if name == u.name {
		return nil, errors.New("replica unreachable")
	}
	return u.ProjectOpener.Project(ctx, name)
}

func TestFailedRootFailsLaterIndividualJob(t *testing.T) {
	store := newTestStore(t)
	builder := NewBuilder(store, unreachableProject{ProjectOpener: newTestWikis(t), name: "frwiki"})

	bundle, err := builder.Build(context.Background(), &SubmitRequest{
		Name:    "two reports",
		OwnerID: "4",
		Reports: []ReportRequest{
			{
				Name:   "unreachable",
				Cohort: map[string][]int64{"frwiki": {1}},
				Metric: editsSpec,
			},
			{
				Name:      "individual",
				Cohort:    map[string][]int64{"enwiki": {1}},
				Metric:    editsSpec,
				Aggregate: &AggregateParams{Statistics: []string{StatSum}, Individual: true},
			},
		},
	})
	require.NoError(t, err)

	_, err = bundle.Run(testContext("handle-two"))
	require.ErrorContains(t, err, "replica unreachable")

	shown, err := store.ListReports(context.Background(), &models.ReportListOptions{OwnerID: "4", ShownOnly: true})
	require.NoError(t, err)
	require.Len(t, shown, 4, "bundle, failing job, aggregate and individual job")
	for _, record := range shown {
		assert.Equal(t, models.ReportStatusFailure, record.Status, record.Name)
		assert.Equal(t, "handle-two", record.QueueHandle, record.Name)
	}
}

func TestBuildStoresResolvedMetricOptions(t *testing.T) {
	store := newTestStore(t)
	builder := NewBuilder(store, nil)

	bundle, err := builder.Build(context.Background(), &SubmitRequest{
		Name: "defaults",
		Reports: []ReportRequest{{
			Name:   "last month",
			Cohort: map[string][]int64{"enwiki": {1}},
			Metric: MetricSpec{Name: "namespace_edits"},
		}},
	})
	require.NoError(t, err)

	leaf := bundle.Roots()[0].Children()[0]
	record, err := store.GetReport(context.Background(), leaf.PersistentID())
	require.NoError(t, err)

	var params MetricReportParams
	require.NoError(t, json.Unmarshal([]byte(record.Parameters), &params))

	var opts metrics.NamespaceEditsOptions
	require.NoError(t, json.Unmarshal(params.Metric.Options, &opts))
	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, today, opts.EndDate)
	assert.Equal(t, time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02"), opts.StartDate)
}
