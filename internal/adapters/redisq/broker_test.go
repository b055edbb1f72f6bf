package redisq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

// newTestBroker builds a broker with a unique key prefix and queue so
// parallel test runs on a shared Redis never see each other's tasks.
func newTestBroker(t *testing.T, client redis.UniversalClient) (*Broker, string) {
	t.Helper()
	prefix := fmt.Sprintf("netops-test:%d:", time.Now().UnixNano())
	queue := prefix + "queue"
	return NewBroker(client, Options{Prefix: prefix, DefaultQueue: queue}), queue
}

func TestBroker_EnqueueAndFetch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, _ := newTestBroker(t, client)
	ctx := context.Background()

	taskID, err := broker.Enqueue(ctx, core.EnqueueParams{
		Name:    "device_scan",
		Payload: []byte(`{"job_id": "optics-v1"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	// Empty queue name falls through to the broker default on both sides.
	task, err := broker.Fetch(ctx, "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, "device_scan", task.Name)
	assert.JSONEq(t, `{"job_id": "optics-v1"}`, string(task.Payload))
	assert.Empty(t, task.GroupID)
	assert.WithinDuration(t, time.Now(), task.EnqueuedAt, 5*time.Second)

	state, err := broker.Inspect(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, state.Status)
	assert.WithinDuration(t, time.Now(), state.UpdatedAt, 5*time.Second)
}

func TestBroker_FetchEmptyQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	// A non-positive block is floored to one second rather than blocking
	// forever.
	start := time.Now()
	task, err := broker.Fetch(ctx, queue, 0)
	assert.Nil(t, task)
	assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestBroker_TaskLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	taskID, err := broker.Enqueue(ctx, core.EnqueueParams{
		Queue:   queue,
		Name:    "device_scan",
		Payload: []byte(`{"job_id": "optics-v1"}`),
	})
	require.NoError(t, err)

	task, err := broker.Fetch(ctx, queue, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, taskID, task.ID)

	require.NoError(t, broker.SetRunning(ctx, taskID))

	state, err := broker.Inspect(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, state.Status)

	err = broker.SetResult(ctx, core.TaskResultParams{
		TaskID: taskID,
		Status: model.TaskStatusSucceeded,
		Result: []byte(`{"devices": 12}`),
	})
	require.NoError(t, err)

	state, err = broker.Inspect(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSucceeded, state.Status)
	assert.JSONEq(t, `{"devices": 12}`, string(state.Result))
	assert.Empty(t, state.Error)

	// A duplicate delivery settling late must not overwrite the first
	// result.
	err = broker.SetResult(ctx, core.TaskResultParams{
		TaskID: taskID,
		Status: model.TaskStatusFailed,
		Error:  "late duplicate",
	})
	require.NoError(t, err)

	state, err = broker.Inspect(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSucceeded, state.Status)
	assert.JSONEq(t, `{"devices": 12}`, string(state.Result))
	assert.Empty(t, state.Error)
}

func TestBroker_SetRunningSkips(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	t.Run("missing task", func(t *testing.T) {
		err := broker.SetRunning(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrTaskNotPending)
	})

	t.Run("canceled task", func(t *testing.T) {
		taskID, err := broker.Enqueue(ctx, core.EnqueueParams{Queue: queue, Name: "device_scan"})
		require.NoError(t, err)

		canceled, err := broker.Cancel(ctx, taskID)
		require.NoError(t, err)
		require.True(t, canceled)

		err = broker.SetRunning(ctx, taskID)
		assert.ErrorIs(t, err, model.ErrTaskNotPending)
	})

	t.Run("already claimed", func(t *testing.T) {
		taskID, err := broker.Enqueue(ctx, core.EnqueueParams{Queue: queue, Name: "device_scan"})
		require.NoError(t, err)

		require.NoError(t, broker.SetRunning(ctx, taskID))

		err = broker.SetRunning(ctx, taskID)
		assert.ErrorIs(t, err, model.ErrTaskNotPending)
	})
}

func TestBroker_Cancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	taskID, err := broker.Enqueue(ctx, core.EnqueueParams{Queue: queue, Name: "device_scan"})
	require.NoError(t, err)

	canceled, err := broker.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, canceled)

	state, err := broker.Inspect(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, state.Status)
	assert.Equal(t, "task canceled", state.Error)

	// Cancellation is terminal, so a second cancel reports no effect and a
	// late result is dropped.
	canceled, err = broker.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, canceled)

	err = broker.SetResult(ctx, core.TaskResultParams{
		TaskID: taskID,
		Status: model.TaskStatusSucceeded,
		Result: []byte(`{"devices": 1}`),
	})
	require.NoError(t, err)

	state, err = broker.Inspect(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, state.Status)
	assert.Equal(t, "task canceled", state.Error)

	t.Run("missing task", func(t *testing.T) {
		_, err := broker.Cancel(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrTaskStateNotFound)
	})
}

func TestBroker_InspectNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, _ := newTestBroker(t, client)
	ctx := context.Background()

	state, err := broker.Inspect(ctx, uuid.NewString())
	assert.Nil(t, state)
	assert.ErrorIs(t, err, model.ErrTaskStateNotFound)
}

func TestBroker_Group(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	groupID, err := broker.EnqueueGroup(ctx, core.EnqueueGroupParams{
		Queue: queue,
		Name:  "probe_target",
		Shards: [][]byte{
			[]byte(`{"target": "192.0.2.1"}`),
			[]byte(`{"target": "192.0.2.2"}`),
			[]byte(`{"target": "192.0.2.3"}`),
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, groupID)

	group, err := broker.GroupState(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, groupID, group.ID)
	assert.Equal(t, 3, group.Expected)
	assert.Empty(t, group.Shards)
	assert.False(t, group.Settled())

	// Shards are delivered in enqueue order.
	tasks := make([]*model.Task, 0, 3)
	for i := 0; i < 3; i++ {
		task, err := broker.Fetch(ctx, queue, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "probe_target", task.Name)
		assert.Equal(t, groupID, task.GroupID)
		assert.JSONEq(t, fmt.Sprintf(`{"target": "192.0.2.%d"}`, i+1), string(task.Payload))
		tasks = append(tasks, task)
	}

	for _, task := range tasks[:2] {
		require.NoError(t, broker.SetRunning(ctx, task.ID))
		err := broker.SetResult(ctx, core.TaskResultParams{
			TaskID: task.ID,
			Status: model.TaskStatusSucceeded,
			Result: []byte(`{"reachable": true}`),
		})
		require.NoError(t, err)
	}

	require.NoError(t, broker.SetRunning(ctx, tasks[2].ID))
	err = broker.SetResult(ctx, core.TaskResultParams{
		TaskID: tasks[2].ID,
		Status: model.TaskStatusFailed,
		Error:  "snmp timeout",
	})
	require.NoError(t, err)

	group, err = broker.GroupState(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, group.Shards, 3)
	assert.True(t, group.Settled())

	failed := group.FailedShards()
	require.Len(t, failed, 1)
	assert.Equal(t, tasks[2].ID, failed[0].TaskID)
	assert.Equal(t, "snmp timeout", failed[0].Error)
}

func TestBroker_PruneGroups(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	// A second broker on the same prefix backdates its clock so its group
	// lands behind the prune cutoff.
	stale := NewBroker(client, Options{Prefix: broker.prefix, DefaultQueue: queue})
	stale.timeFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	staleID, err := stale.EnqueueGroup(ctx, core.EnqueueGroupParams{
		Queue:  queue,
		Name:   "probe_target",
		Shards: [][]byte{[]byte(`{"target": "192.0.2.1"}`)},
	})
	require.NoError(t, err)

	freshID, err := broker.EnqueueGroup(ctx, core.EnqueueGroupParams{
		Queue:  queue,
		Name:   "probe_target",
		Shards: [][]byte{[]byte(`{"target": "192.0.2.2"}`)},
	})
	require.NoError(t, err)

	pruned, err := broker.PruneGroups(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = broker.GroupState(ctx, staleID)
	assert.ErrorIs(t, err, model.ErrGroupNotFound)

	fresh, err := broker.GroupState(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Expected)

	pruned, err = broker.PruneGroups(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestBroker_Validation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, queue := newTestBroker(t, client)
	ctx := context.Background()

	t.Run("enqueue requires a name", func(t *testing.T) {
		_, err := broker.Enqueue(ctx, core.EnqueueParams{Queue: queue})
		assert.EqualError(t, err, "task name is required")
	})

	t.Run("group requires a name", func(t *testing.T) {
		_, err := broker.EnqueueGroup(ctx, core.EnqueueGroupParams{
			Queue:  queue,
			Shards: [][]byte{[]byte(`{}`)},
		})
		assert.EqualError(t, err, "task name is required")
	})

	t.Run("group requires shards", func(t *testing.T) {
		_, err := broker.EnqueueGroup(ctx, core.EnqueueGroupParams{Queue: queue, Name: "probe_target"})
		assert.EqualError(t, err, "at least one shard is required")
	})

	t.Run("set result requires a terminal status", func(t *testing.T) {
		err := broker.SetResult(ctx, core.TaskResultParams{
			TaskID: uuid.NewString(),
			Status: model.TaskStatusRunning,
		})
		assert.EqualError(t, err, `status "running" is not terminal`)
	})

	t.Run("empty task ids", func(t *testing.T) {
		_, err := broker.Inspect(ctx, "")
		assert.Error(t, err)

		err = broker.SetRunning(ctx, "")
		assert.Error(t, err)

		err = broker.SetResult(ctx, core.TaskResultParams{Status: model.TaskStatusFailed})
		assert.Error(t, err)

		_, err = broker.Cancel(ctx, "")
		assert.Error(t, err)

		_, err = broker.GroupState(ctx, "")
		assert.Error(t, err)
	})

	t.Run("missing group", func(t *testing.T) {
		_, err := broker.GroupState(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrGroupNotFound)
	})
}

func TestBroker_Health(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	broker, _ := newTestBroker(t, client)
	assert.NoError(t, broker.Health(context.Background()))
}
