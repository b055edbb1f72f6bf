package redisq

// Package redisq provides the Redis-backed task broker for the netops
// scheduler and workers.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/model"
)

// DefaultStateTTL is how long task and group state lives after its last
// write. It must outlast the longest-running job plus the stale sweep.
const DefaultStateTTL = 24 * time.Hour

const defaultKeyPrefix = "netops:"

// Terminal statuses are write-once: a result or cancellation that arrives
// after a task settled is dropped, which makes duplicate delivery and
// cancel races safe. The transitions run as scripts so check-then-write
// cannot interleave between broker instances.
var (
	claimScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == false then return -1 end
if cur ~= 'pending' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'running', 'updated_at', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

	settleScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == 'succeeded' or cur == 'failed' then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'result', ARGV[2], 'error', ARGV[3], 'updated_at', ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
if ARGV[6] ~= '' then
  redis.call('RPUSH', KEYS[2], ARGV[6])
  redis.call('EXPIRE', KEYS[2], ARGV[5])
end
return 1
`)

	cancelScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == false then return -1 end
if cur == 'succeeded' or cur == 'failed' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[1], 'updated_at', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)
)

// Broker implements core.TaskBroker on Redis. Queues are lists (LPUSH in,
// BRPOP out, so delivery is FIFO); task state lives in per-task hashes and
// fan-out groups in a hash plus a shard list, all expiring together.
type Broker struct {
	client       redis.UniversalClient
	prefix       string
	defaultQueue string
	stateTTL     time.Duration
	timeFunc     func() time.Time
}

// Options configures broker construction. Zero values fall back to defaults.
type Options struct {
	// Prefix namespaces every broker key. Defaults to "netops:".
	Prefix string
	// DefaultQueue receives tasks enqueued without an explicit queue.
	DefaultQueue string
	// StateTTL bounds the lifetime of task and group state.
	StateTTL time.Duration
}

// NewBroker creates a Broker with the given Redis client and options.
func NewBroker(client redis.UniversalClient, opts Options) *Broker {
	if opts.Prefix == "" {
		opts.Prefix = defaultKeyPrefix
	}
	if opts.DefaultQueue == "" {
		opts.DefaultQueue = opts.Prefix + "tasks"
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = DefaultStateTTL
	}
	return &Broker{
		client:       client,
		prefix:       opts.Prefix,
		defaultQueue: opts.DefaultQueue,
		stateTTL:     opts.StateTTL,
		timeFunc:     time.Now,
	}
}

func (b *Broker) stateKey(taskID string) string { return b.prefix + "task:" + taskID }
func (b *Broker) groupKey(groupID string) string {
	return b.prefix + "group:" + groupID
}
func (b *Broker) groupShardsKey(groupID string) string {
	return b.prefix + "group:" + groupID + ":shards"
}
func (b *Broker) groupsIndexKey() string { return b.prefix + "groups" }

func (b *Broker) ttlSeconds() int {
	secs := int(b.stateTTL.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Enqueue pushes one task onto its queue and creates its pending state.
func (b *Broker) Enqueue(ctx context.Context, p core.EnqueueParams) (string, error) {
	if p.Name == "" {
		return "", errors.New("task name is required")
	}
	queue := p.Queue
	if queue == "" {
		queue = b.defaultQueue
	}

	now := b.timeFunc().UTC()
	task := model.Task{
		ID:         uuid.NewString(),
		Name:       p.Name,
		Payload:    p.Payload,
		EnqueuedAt: now,
	}
	envelope, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.stateKey(task.ID),
		"status", string(model.TaskStatusPending),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, b.stateKey(task.ID), b.stateTTL)
	pipe.LPush(ctx, queue, envelope)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	return task.ID, nil
}

// EnqueueGroup pushes one task per shard under a shared group id.
func (b *Broker) EnqueueGroup(ctx context.Context, p core.EnqueueGroupParams) (string, error) {
	if p.Name == "" {
		return "", errors.New("task name is required")
	}
	if len(p.Shards) == 0 {
		return "", errors.New("at least one shard is required")
	}
	queue := p.Queue
	if queue == "" {
		queue = b.defaultQueue
	}

	now := b.timeFunc().UTC()
	groupID := uuid.NewString()

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.groupKey(groupID),
		"expected", strconv.Itoa(len(p.Shards)),
		"created_at", now.Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, b.groupKey(groupID), b.stateTTL)
	pipe.ZAdd(ctx, b.groupsIndexKey(), redis.Z{Score: float64(now.Unix()), Member: groupID})

	for _, shard := range p.Shards {
		task := model.Task{
			ID:         uuid.NewString(),
			Name:       p.Name,
			Payload:    shard,
			GroupID:    groupID,
			EnqueuedAt: now,
		}
		envelope, err := json.Marshal(task)
		if err != nil {
			return "", fmt.Errorf("marshal task: %w", err)
		}
		pipe.HSet(ctx, b.stateKey(task.ID),
			"status", string(model.TaskStatusPending),
			"group_id", groupID,
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, b.stateKey(task.ID), b.stateTTL)
		pipe.LPush(ctx, queue, envelope)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue group: %w", err)
	}

	return groupID, nil
}

// Fetch blocks up to block for the next task on the queue.
func (b *Broker) Fetch(ctx context.Context, queue string, block time.Duration) (*model.Task, error) {
	if queue == "" {
		queue = b.defaultQueue
	}
	if block <= 0 {
		block = time.Second
	}

	// BRPOP with a zero timeout would block forever; the floor above keeps
	// shutdown responsive.
	values, err := b.client.BRPop(ctx, block, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("fetch task: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("fetch task: unexpected BRPOP reply length %d", len(values))
	}

	var task model.Task
	if err := json.Unmarshal([]byte(values[1]), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task envelope: %w", err)
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task envelope: %w", err)
	}

	return &task, nil
}

// SetRunning marks a claimed task as running. Tasks that are canceled,
// already claimed, or whose state expired return ErrTaskNotPending so the
// worker drops the delivery.
func (b *Broker) SetRunning(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.New("task id is required")
	}

	now := b.timeFunc().UTC()
	res, err := claimScript.Run(ctx, b.client,
		[]string{b.stateKey(taskID)},
		now.Format(time.RFC3339Nano), b.ttlSeconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if res != 1 {
		return fmt.Errorf("claim task %s: %w", taskID, model.ErrTaskNotPending)
	}
	return nil
}

// SetResult records a terminal status for a task. Repeated writes after a
// task settled are dropped, which keeps duplicate delivery harmless. When
// the task belongs to a group, its shard record is appended to the group.
func (b *Broker) SetResult(ctx context.Context, p core.TaskResultParams) error {
	if p.TaskID == "" {
		return errors.New("task id is required")
	}
	if !p.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", p.Status)
	}

	groupID, err := b.client.HGet(ctx, b.stateKey(p.TaskID), "group_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read task group: %w", err)
	}

	shardJSON := ""
	shardsKey := b.stateKey(p.TaskID) // placeholder when the task has no group
	if groupID != "" {
		shard := model.GroupShard{
			TaskID: p.TaskID,
			Status: p.Status,
			Result: p.Result,
			Error:  p.Error,
		}
		encoded, err := json.Marshal(shard)
		if err != nil {
			return fmt.Errorf("marshal shard record: %w", err)
		}
		shardJSON = string(encoded)
		shardsKey = b.groupShardsKey(groupID)
	}

	now := b.timeFunc().UTC()
	if _, err := settleScript.Run(ctx, b.client,
		[]string{b.stateKey(p.TaskID), shardsKey},
		string(p.Status), string(p.Result), p.Error,
		now.Format(time.RFC3339Nano), b.ttlSeconds(), shardJSON,
	).Int(); err != nil {
		return fmt.Errorf("settle task: %w", err)
	}

	return nil
}

// Inspect returns the current state of a task.
func (b *Broker) Inspect(ctx context.Context, taskID string) (*model.TaskState, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}

	fields, err := b.client.HGetAll(ctx, b.stateKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect task: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("inspect task %s: %w", taskID, model.ErrTaskStateNotFound)
	}

	state := &model.TaskState{Error: fields["error"]}
	if err := state.Status.UnmarshalText([]byte(fields["status"])); err != nil {
		return nil, fmt.Errorf("inspect task %s: %w", taskID, err)
	}
	if raw := fields["result"]; raw != "" {
		state.Result = json.RawMessage(raw)
	}
	if raw := fields["updated_at"]; raw != "" {
		ts, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			return nil, fmt.Errorf("inspect task %s: parse updated_at: %w", taskID, parseErr)
		}
		state.UpdatedAt = ts
	}

	return state, nil
}

// Cancel marks a pending task as failed so workers skip it on delivery.
func (b *Broker) Cancel(ctx context.Context, taskID string) (bool, error) {
	if taskID == "" {
		return false, errors.New("task id is required")
	}

	now := b.timeFunc().UTC()
	res, err := cancelScript.Run(ctx, b.client,
		[]string{b.stateKey(taskID)},
		"task canceled", now.Format(time.RFC3339Nano), b.ttlSeconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	if res == -1 {
		return false, fmt.Errorf("cancel task %s: %w", taskID, model.ErrTaskStateNotFound)
	}
	return res == 1, nil
}

// GroupState returns a point-in-time view of a fan-out group.
func (b *Broker) GroupState(ctx context.Context, groupID string) (*model.GroupState, error) {
	if groupID == "" {
		return nil, errors.New("group id is required")
	}

	fields, err := b.client.HGetAll(ctx, b.groupKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read group: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("read group %s: %w", groupID, model.ErrGroupNotFound)
	}

	expected, err := strconv.Atoi(fields["expected"])
	if err != nil {
		return nil, fmt.Errorf("read group %s: parse expected: %w", groupID, err)
	}

	raw, err := b.client.LRange(ctx, b.groupShardsKey(groupID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read group shards: %w", err)
	}

	state := &model.GroupState{ID: groupID, Expected: expected}
	for _, entry := range raw {
		var shard model.GroupShard
		if err := json.Unmarshal([]byte(entry), &shard); err != nil {
			return nil, fmt.Errorf("unmarshal shard record: %w", err)
		}
		state.Shards = append(state.Shards, shard)
	}

	return state, nil
}

// PruneGroups deletes group records created before the cutoff.
func (b *Broker) PruneGroups(ctx context.Context, before time.Time) (int, error) {
	max := strconv.FormatInt(before.UTC().Unix(), 10)
	groupIDs, err := b.client.ZRangeByScore(ctx, b.groupsIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale groups: %w", err)
	}
	if len(groupIDs) == 0 {
		return 0, nil
	}

	pipe := b.client.TxPipeline()
	for _, groupID := range groupIDs {
		pipe.Del(ctx, b.groupKey(groupID), b.groupShardsKey(groupID))
		pipe.ZRem(ctx, b.groupsIndexKey(), groupID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("prune groups: %w", err)
	}

	return len(groupIDs), nil
}

// Health checks broker connectivity.
func (b *Broker) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
