package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/models"
	badgerstore "github.com/ternarybob/reportree/internal/storage/badger"
)

func newTestStorage(t *testing.T) *badgerstore.Manager {
	t.Helper()

	manager, err := badgerstore.NewManager(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return manager
}

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *BadgerManager {
	t.Helper()

	q, err := NewBadgerManager(newTestStorage(t).BadgerDB().Badger(), arbor.NewLogger(), "test_jobs", visibility, maxReceive)
	require.NoError(t, err)
	return q
}

func TestNewBadgerManagerValidation(t *testing.T) {
	_, err := NewBadgerManager(nil, arbor.NewLogger(), "q", time.Minute, 1)
	assert.Error(t, err)

	_, err = NewBadgerManager(newTestStorage(t).BadgerDB().Badger(), arbor.NewLogger(), "", time.Minute, 1)
	assert.Error(t, err)
}

func TestQueueEnqueueReceiveDelete(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "h1", Type: "report", Payload: json.RawMessage(`{"kind":"bundle"}`)}))
	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "h2", Type: "report"}))

	// Duplicate handle is rejected
	assert.Error(t, q.Enqueue(ctx, models.QueueMessage{JobID: "h1", Type: "report"}))

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h1", msg.JobID)
	assert.JSONEq(t, `{"kind":"bundle"}`, string(msg.Payload))
	require.NoError(t, deleteFn())

	msg, deleteFn, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h2", msg.JobID)
	require.NoError(t, deleteFn())
	require.NoError(t, deleteFn(), "deleting twice is a no-op")

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	length, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueueInFlightMessageIsInvisible(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "h1", Type: "report"}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	length, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestQueueRedeliversAfterVisibilityTimeout(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "h1", Type: "report"}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	msg, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h1", msg.JobID)
}

func TestQueueExtendKeepsMessageHidden(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "h1", Type: "report"}))
	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Extend(ctx, "h1", time.Minute))
	time.Sleep(80 * time.Millisecond)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestQueueDropsAfterMaxReceive(t *testing.T) {
	q := newTestQueue(t, 20*time.Millisecond, 1)
	ctx := context.Background()

	var dropped []string
	q.OnDrop(func(msg models.QueueMessage) {
		dropped = append(dropped, msg.JobID)
	})

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "poison", Type: "report"}))
	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
	assert.Equal(t, []string{"poison"}, dropped)

	length, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestQueueReceiveHonoursCancelledContext(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
