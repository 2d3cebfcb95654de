package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
)

func countingRoot(t *testing.T, store interfaces.ReportStorage, name string, runs *int) *Node {
	t.Helper()
	leaf, err := NewLeaf(context.Background(), store, "test_leaf", Options{Name: name + "-leaf"}, ComputationFunc(func(ctx context.Context) (any, error) {
		*runs++
		return name, nil
	}))
	require.NoError(t, err)

	node, err := NewNode(context.Background(), store, "test_node", Options{Name: name, ShowInUI: true}, []Report{leaf}, preserveFinisher)
	require.NoError(t, err)
	return node
}

func TestBundleMergesRootResults(t *testing.T) {
	store := newTestStore(t)
	runs := 0

	first := countingRoot(t, store, "enwiki", &runs)
	second := countingRoot(t, store, "dewiki", &runs)

	bundle, err := NewBundle(context.Background(), store, Options{Name: "cohort job", OwnerID: "3"}, []Report{first, second})
	require.NoError(t, err)

	out, err := bundle.Run(testContext("handle-bundle"))
	require.NoError(t, err)

	results, ok := out.(Results)
	require.True(t, ok)
	assert.Len(t, results, 2)
	assert.Contains(t, results, first.ResultKey())
	assert.Contains(t, results, second.ResultKey())
	assert.Equal(t, 2, runs)

	record, err := store.GetReport(context.Background(), bundle.PersistentID())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusSuccess, record.Status)
	assert.True(t, record.ShownToUser)
	assert.Equal(t, "handle-bundle", record.QueueHandle)
	assert.Empty(t, record.ResultKey, "bundle adds no key of its own")
}

func TestBundleFailsFast(t *testing.T) {
	store := newTestStore(t)
	runs := 0

	bad, err := NewLeaf(context.Background(), store, "test_leaf", Options{Name: "bad"}, ComputationFunc(func(ctx context.Context) (any, error) {
		return nil, fmt.Errorf("project database unavailable")
	}))
	require.NoError(t, err)
	failing, err := NewNode(context.Background(), store, "test_node", Options{Name: "failing"}, []Report{bad}, preserveFinisher)
	require.NoError(t, err)

	ok := countingRoot(t, store, "ok", &runs)
	unstarted := countingRoot(t, store, "unstarted", &runs)

	bundle, err := NewBundle(context.Background(), store, Options{Name: "b"}, []Report{ok, failing, unstarted})
	require.NoError(t, err)

	_, err = bundle.Run(testContext("handle-failfast"))
	require.Error(t, err)

	assert.Equal(t, 1, runs, "roots after the failure never run")
	assert.Equal(t, models.ReportStatusSuccess, statusOf(t, store, ok.PersistentID()))
	assert.Equal(t, models.ReportStatusFailure, statusOf(t, store, failing.PersistentID()))
	assert.Equal(t, models.ReportStatusFailure, statusOf(t, store, unstarted.PersistentID()))
	assert.Equal(t, models.ReportStatusFailure, statusOf(t, store, bundle.PersistentID()))

	record, err := store.GetReport(context.Background(), unstarted.PersistentID())
	require.NoError(t, err)
	assert.Equal(t, "handle-failfast", record.QueueHandle)
}

func TestBundleFailsNestedUnstartedNodes(t *testing.T) {
	store := newTestStore(t)
	runs := 0

	bad, err := NewLeaf(context.Background(), store, "test_leaf", Options{Name: "bad"}, ComputationFunc(func(ctx context.Context) (any, error) {
		return nil, fmt.Errorf("replica unreachable")
	}))
	require.NoError(t, err)
	failing, err := NewNode(context.Background(), store, "test_node", Options{Name: "failing", ShowInUI: true}, []Report{bad}, preserveFinisher)
	require.NoError(t, err)

	// Shown job nested under a hidden parent, as an individual aggregate lays it out
	job := countingRoot(t, store, "individual", &runs)
	parent, err := NewNode(context.Background(), store, "test_node", Options{Name: "aggregate", ShowInUI: true}, []Report{job}, preserveFinisher)
	require.NoError(t, err)

	bundle, err := NewBundle(context.Background(), store, Options{Name: "b"}, []Report{failing, parent})
	require.NoError(t, err)

	_, err = bundle.Run(testContext("handle-nested"))
	require.Error(t, err)
	assert.Zero(t, runs)

	for _, id := range []string{failing.PersistentID(), parent.PersistentID(), job.PersistentID()} {
		record, err := store.GetReport(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailure, record.Status, record.Name)
		assert.Equal(t, "handle-nested", record.QueueHandle, record.Name)
	}

	shown, err := store.ListReports(context.Background(), &models.ReportListOptions{ShownOnly: true})
	require.NoError(t, err)
	for _, record := range shown {
		assert.True(t, record.Status.IsTerminal(), record.Name)
	}
}

func TestBundleRejectsNonMapRoot(t *testing.T) {
	store := newTestStore(t)

	leaf, err := NewLeaf(context.Background(), store, "test_leaf", Options{Name: "scalar"}, ComputationFunc(func(ctx context.Context) (any, error) {
		return 42, nil
	}))
	require.NoError(t, err)

	bundle, err := NewBundle(context.Background(), store, Options{Name: "b"}, []Report{leaf})
	require.NoError(t, err)

	_, err = bundle.Run(testContext("handle-scalar"))
	assert.Error(t, err)
	assert.Equal(t, models.ReportStatusFailure, statusOf(t, store, bundle.PersistentID()))
}

func TestNewBundleRequiresRoots(t *testing.T) {
	_, err := NewBundle(context.Background(), newTestStore(t), Options{Name: "empty"}, nil)
	assert.Error(t, err)
}

func TestRegistryRestoresTreeWithoutNewRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registry := NewRegistry(arbor.NewLogger())
	require.NoError(t, registry.Register("echo_leaf", func(ctx context.Context, base *Base) (Report, error) {
		var params struct {
			Value string `json:"value"`
		}
		if err := base.DecodeParameters(&params); err != nil {
			return nil, err
		}
		return NewLeafFromBase(base, ComputationFunc(func(ctx context.Context) (any, error) {
			return params.Value, nil
		}))
	}))
	require.NoError(t, registry.Register("echo_node", func(ctx context.Context, base *Base) (Report, error) {
		return NewNodeFromBase(base, preserveFinisher)
	}))
	assert.Error(t, registry.Register("echo_node", func(ctx context.Context, base *Base) (Report, error) { return nil, nil }))

	leaf, err := NewLeaf(ctx, store, "echo_leaf", Options{Name: "leaf", Parameters: map[string]string{"value": "hello"}}, ComputationFunc(func(ctx context.Context) (any, error) {
		return "hello", nil
	}))
	require.NoError(t, err)
	node, err := NewNode(ctx, store, "echo_node", Options{Name: "node", OwnerID: "5"}, []Report{leaf}, preserveFinisher)
	require.NoError(t, err)
	bundle, err := NewBundle(ctx, store, Options{Name: "bundle", OwnerID: "5"}, []Report{node})
	require.NoError(t, err)

	descriptor, err := bundle.Descriptor()
	require.NoError(t, err)
	payload, err := json.Marshal(descriptor)
	require.NoError(t, err)

	before, err := store.ListReports(ctx, nil)
	require.NoError(t, err)

	var decoded Descriptor
	require.NoError(t, json.Unmarshal(payload, &decoded))
	restored, err := registry.Restore(ctx, store, decoded)
	require.NoError(t, err)

	after, err := store.ListReports(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "restoring must not create records")

	assert.Equal(t, bundle.PersistentID(), restored.PersistentID())
	require.Len(t, restored.Children(), 1)
	assert.Equal(t, node.PersistentID(), restored.Children()[0].PersistentID())
	assert.Equal(t, "5", restored.Children()[0].OwnerID())

	out, err := restored.Run(testContext("handle-restored"))
	require.NoError(t, err)
	results, err := AsResults(out)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	record, err := store.GetReport(ctx, node.PersistentID())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusSuccess, record.Status)
	assert.Contains(t, results, record.ResultKey)
}

func TestRegistryUnknownKind(t *testing.T) {
	registry := NewRegistry(arbor.NewLogger())

	_, err := registry.Restore(context.Background(), newTestStore(t), Descriptor{Kind: "mystery", PersistentID: "rpt_1"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, []string{KindBundle}, registry.Kinds())
}

func TestEncodeParameters(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, `{}`},
		{"raw json", json.RawMessage(`{"a":1}`), `{"a":1}`},
		{"json string", `{"b":2}`, `{"b":2}`},
		{"plain string", "hello", `"hello"`},
		{"struct", struct {
			Project string `json:"project"`
		}{"enwiki"}, `{"project":"enwiki"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeParameters(tt.input)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := EncodeParameters(json.RawMessage(`{broken`))
	assert.Error(t, err)
}
