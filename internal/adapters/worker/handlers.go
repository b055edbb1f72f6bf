package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/model"
)

// runJobConfig is the decoded shape of a run_job payload — the scheduler
// job config document. Either definition_id or definition_name selects the
// job definition; the whole document is exposed to the run as trigger data.
type runJobConfig struct {
	DefinitionID   string `json:"definition_id"`
	DefinitionName string `json:"definition_name"`
}

// handleRunJob loads the referenced job definition, runs it through the
// engine, and writes the outcome back to the execution row created at
// enqueue time. The engine folds every failure into the RunResult, so the
// returned error reflects the run status rather than an engine fault.
func (r *Runner) handleRunJob(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var cfg runJobConfig
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &cfg); err != nil {
			err = fmt.Errorf("decode task config: %w", err)
			r.failExecution(ctx, task.ID, err)
			return nil, err
		}
	}

	def, err := r.loadDefinition(ctx, cfg)
	if err != nil {
		r.failExecution(ctx, task.ID, err)
		return nil, err
	}
	if !def.Enabled {
		err := fmt.Errorf("job definition %s is disabled", def.Name)
		r.failExecution(ctx, task.ID, err)
		return nil, err
	}

	r.markExecutionRunning(ctx, task.ID)

	result := r.engine.Run(ctx, def, r.buildTrigger(task))
	doc, merr := json.Marshal(result)
	if merr != nil {
		r.logger.ErrorContext(ctx, "marshal run result", "task_id", task.ID, "error", merr)
		doc = nil
	}
	r.finishExecution(ctx, task.ID, result, doc)

	if result.Status != model.RunStatusSuccess {
		return doc, errors.New(runErrorMessage(result))
	}
	return doc, nil
}

// buildTrigger exposes the task config to the run as trigger data, with the
// task id doubling as the execution id.
func (r *Runner) buildTrigger(task *model.Task) map[string]any {
	trigger := make(map[string]any)
	if len(task.Payload) > 0 {
		// the payload already decoded as an object in handleRunJob
		_ = json.Unmarshal(task.Payload, &trigger)
	}
	trigger["execution_id"] = task.ID
	return trigger
}

func (r *Runner) loadDefinition(ctx context.Context, cfg runJobConfig) (*model.JobDefinition, error) {
	switch {
	case cfg.DefinitionID != "":
		return r.definitionByID(ctx, cfg.DefinitionID)
	case cfg.DefinitionName != "":
		return r.definitions.GetByName(ctx, cfg.DefinitionName)
	default:
		return nil, errors.New("task config names no definition_id or definition_name")
	}
}

// definitionByID prefers the read-through cache when one is wired.
func (r *Runner) definitionByID(ctx context.Context, id string) (*model.JobDefinition, error) {
	if r.cache != nil {
		return r.cache.GetDefinition(ctx, id)
	}
	return r.definitions.GetByID(ctx, id)
}

func runErrorMessage(result *model.RunResult) string {
	if len(result.Errors) > 0 {
		return result.Errors[0]
	}
	return fmt.Sprintf("run finished with status %s", result.Status)
}

// markExecutionRunning transitions the execution row for this delivery.
// A missing row is fine: tasks enqueued outside the scheduler have none.
func (r *Runner) markExecutionRunning(ctx context.Context, taskID string) {
	if r.executions == nil {
		return
	}
	status := model.ExecutionStatusRunning
	if _, err := r.executions.UpdateByTaskID(ctx, taskID, &model.ExecutionPatch{Status: &status}); err != nil {
		r.logger.WarnContext(ctx, "mark execution running", "task_id", taskID, "error", err)
	}
}

// finishExecution records the terminal status, the RunResult document, and
// the first run error on the execution row. The repo guards terminal
// transitions with finished_at IS NULL, so a duplicate delivery cannot
// overwrite an already finished row.
func (r *Runner) finishExecution(ctx context.Context, taskID string, result *model.RunResult, doc json.RawMessage) {
	if r.executions == nil {
		return
	}
	status := model.ExecutionStatusSuccess
	patch := &model.ExecutionPatch{Result: doc}
	if result.Status != model.RunStatusSuccess {
		status = model.ExecutionStatusFailed
		msg := runErrorMessage(result)
		patch.ErrorMessage = &msg
	}
	patch.Status = &status

	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	patch.FinishedAt = &finished

	ok, err := r.executions.UpdateByTaskID(ctx, taskID, patch)
	if err != nil {
		r.logger.ErrorContext(ctx, "record execution result", "task_id", taskID, "error", err)
		return
	}
	if !ok {
		r.logger.DebugContext(ctx, "no execution row for task", "task_id", taskID)
	}
}

// failExecution marks the execution failed before the engine ever ran:
// undecodable config, missing definition, disabled definition.
func (r *Runner) failExecution(ctx context.Context, taskID string, cause error) {
	if r.executions == nil {
		return
	}
	status := model.ExecutionStatusFailed
	msg := cause.Error()
	finished := time.Now()
	if _, err := r.executions.UpdateByTaskID(ctx, taskID, &model.ExecutionPatch{
		Status:       &status,
		FinishedAt:   &finished,
		ErrorMessage: &msg,
	}); err != nil {
		r.logger.ErrorContext(ctx, "record execution failure", "task_id", taskID, "error", err)
	}
}

// actionShardPayload is one fan-out shard as dispatched by a distributed
// action: one action, one target.
type actionShardPayload struct {
	DefinitionID string         `json:"definition_id"`
	ActionID     string         `json:"action_id"`
	Target       string         `json:"target"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// handleActionShard executes one action against one pinned target. The
// shard runs with static targeting and the distributed flag stripped, so a
// shard can never fan out again.
func (r *Runner) handleActionShard(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var shard actionShardPayload
	if err := json.Unmarshal(task.Payload, &shard); err != nil {
		return nil, fmt.Errorf("decode shard payload: %w", err)
	}
	if shard.DefinitionID == "" || shard.ActionID == "" || shard.Target == "" {
		return nil, errors.New("shard payload requires definition_id, action_id, and target")
	}

	def, err := r.definitionByID(ctx, shard.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", shard.DefinitionID, err)
	}
	base := def.ActionByID(shard.ActionID)
	if base == nil {
		return nil, fmt.Errorf("action %s not found in definition %s", shard.ActionID, shard.DefinitionID)
	}

	action := *base
	action.Targeting = &model.Targeting{Type: model.TargetingStaticList, IPs: []string{shard.Target}}
	action.Parameters = shardParameters(base.Parameters, shard.Parameters)

	execCtx := model.NewExecutionContext(def, task.ID, map[string]any{
		"task_id": task.ID,
		"target":  shard.Target,
	}, time.Now())

	outcome, err := r.actions.Execute(ctx, &core.ActionRunRequest{
		Definition: def,
		Action:     &action,
		ExecCtx:    execCtx,
	})
	if err != nil {
		return nil, err
	}

	doc, merr := json.Marshal(outcome.OutputData)
	if merr != nil {
		return nil, fmt.Errorf("marshal shard output: %w", merr)
	}
	if msg := firstOutputError(outcome.OutputData); msg != "" {
		return doc, fmt.Errorf("target %s: %s", shard.Target, msg)
	}
	return doc, nil
}

// shardParameters merges shard-level overrides over the stored action
// parameters and strips the fan-out markers.
func shardParameters(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	delete(merged, "distributed")
	delete(merged, "task_name")
	return merged
}

// firstOutputError surfaces executor-reported per-host failures, which are
// data in the output rather than Execute errors.
func firstOutputError(output map[string]any) string {
	switch v := output["errors"].(type) {
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			return fmt.Sprint(v[0])
		}
	}
	return ""
}

// handleDiscovery runs the discovery pipeline with the task payload as its
// config document.
func (r *Runner) handleDiscovery(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var cfg model.DiscoveryConfig
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &cfg); err != nil {
			return nil, fmt.Errorf("decode discovery config: %w", err)
		}
	}
	result, err := r.discovery.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	doc, merr := json.Marshal(result)
	if merr != nil {
		return nil, fmt.Errorf("marshal discovery result: %w", merr)
	}
	return doc, nil
}
