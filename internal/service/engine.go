package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/vars"
	apperrors "github.com/target/netops-go/internal/errors"
)

// Handle sets observed after a generic (non-logic) action. Edges fire only
// when their label appears in the set for the observed outcome.
var (
	successHandles = []string{model.EdgeSuccess, "trigger", "results", "online", "offline", "data"}
	failureHandles = []string{model.EdgeFailure}
)

// JobEngine runs job definitions: it orders enabled actions, dispatches each
// to its registered runner, gates DAG edges on outcome handles, folds
// fan-out group results, and emits audit and notification events. All
// failures end up in the RunResult; Run never returns an error.
type JobEngine struct {
	executors map[model.ActionKind]core.ActionRunner
	vars      *vars.Resolver
	broker    core.TaskBroker
	notifier  core.Notifier
	audit     core.AuditSink
	cfg       core.EngineConfig
	clock     data.Clock
	logger    *slog.Logger
}

// JobEngineOptions holds the dependencies for creating a JobEngine.
// Broker is only needed when definitions dispatch fan-out groups; Notifier
// and Audit may be nil, which disables those side channels.
type JobEngineOptions struct {
	Executors map[model.ActionKind]core.ActionRunner
	Vars      *vars.Resolver
	Broker    core.TaskBroker
	Notifier  core.Notifier
	Audit     core.AuditSink
	Config    *core.EngineConfig
	Clock     data.Clock
	Logger    *slog.Logger
}

// NewJobEngine creates a new JobEngine with the given dependencies.
func NewJobEngine(opts JobEngineOptions) *JobEngine {
	if opts.Vars == nil {
		opts.Vars = vars.NewResolver(vars.ResolverOptions{})
	}
	if opts.Config == nil {
		defaultCfg := core.DefaultEngineConfig()
		opts.Config = &defaultCfg
	}
	if opts.Clock == nil {
		opts.Clock = data.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	executors := make(map[model.ActionKind]core.ActionRunner, len(opts.Executors))
	for kind, runner := range opts.Executors {
		executors[kind] = runner
	}

	return &JobEngine{
		executors: executors,
		vars:      opts.Vars,
		broker:    opts.Broker,
		notifier:  opts.Notifier,
		audit:     opts.Audit,
		cfg:       *opts.Config,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// RegisterExecutor binds a runner to an action kind, replacing any previous
// binding. Logic kinds are handled by the engine itself and never consult
// the registry.
func (s *JobEngine) RegisterExecutor(kind model.ActionKind, runner core.ActionRunner) {
	s.executors[kind] = runner
}

// Run executes one job definition against trigger data.
//
// Enabled actions run in definition order; when any action carries edges the
// run switches to a breadth-first graph traversal whose edges fire only when
// their label matches the preceding action's outcome handles. After each
// action its output lands in the execution context under the action id, its
// label, and the "results" alias, so later actions can reference it.
//
// The execution id is taken from trigger["execution_id"] when present so
// workers can thread the broker task id through; otherwise a fresh id is
// generated. Overall status is failure iff any action failed, or cancelled
// when the context was cancelled between actions.
func (s *JobEngine) Run(ctx context.Context, def *model.JobDefinition, trigger map[string]any) *model.RunResult {
	startedAt := s.clock.Now()
	executionID := executionIDFromTrigger(trigger)
	execCtx := model.NewExecutionContext(def, executionID, trigger, startedAt)

	result := &model.RunResult{
		Status:    model.RunStatusSuccess,
		Actions:   []model.ActionSummary{},
		StartedAt: startedAt,
	}

	s.recordAudit(ctx, &model.AuditEvent{
		Kind:        model.AuditJobStarted,
		JobName:     def.Name,
		ExecutionID: executionID,
		OccurredAt:  startedAt,
	})
	s.logger.InfoContext(ctx, "job run started",
		"job_name", def.Name,
		"execution_id", executionID,
		"actions", len(def.EnabledActions()))

	actions := def.EnabledActions()
	if hasEdges(actions) {
		s.runGraph(ctx, def, actions, execCtx, result)
	} else {
		s.runSequential(ctx, def, actions, execCtx, result)
	}

	finishedAt := s.clock.Now()
	result.FinishedAt = finishedAt
	result.DurationMS = finishedAt.Sub(startedAt).Milliseconds()
	if result.Status != model.RunStatusCancelled && result.Failed() {
		result.Status = model.RunStatusFailure
	}

	detail := ""
	if len(result.Errors) > 0 {
		detail = result.Errors[0]
	}
	s.recordAudit(ctx, &model.AuditEvent{
		Kind:        model.AuditJobCompleted,
		JobName:     def.Name,
		ExecutionID: executionID,
		Status:      string(result.Status),
		Detail:      detail,
		OccurredAt:  finishedAt,
	})
	s.logger.InfoContext(ctx, "job run completed",
		"job_name", def.Name,
		"execution_id", executionID,
		"status", string(result.Status),
		"actions", len(result.Actions),
		"errors", len(result.Errors),
		"duration_ms", result.DurationMS)

	return result
}

// runSequential executes actions in definition order. Without edges there is
// no gating: every enabled action runs unless error handling aborts.
func (s *JobEngine) runSequential(
	ctx context.Context,
	def *model.JobDefinition,
	actions []model.Action,
	execCtx *model.ExecutionContext,
	result *model.RunResult,
) {
	for i := range actions {
		if ctx.Err() != nil {
			s.markCancelled(ctx, result)
			return
		}
		_, failed := s.runAction(ctx, def, &actions[i], execCtx, result)
		if failed && def.ErrorHandling() == model.ErrorHandlingAbort {
			s.logger.InfoContext(ctx, "aborting run after action failure",
				"job_name", def.Name, "action_id", actions[i].ID)
			return
		}
	}
}

// runGraph executes actions as a labeled graph. Entry actions are the
// enabled ones with no inbound edge. Non-loop actions run at most once per
// loop epoch; a logic:loop emitting the each handle opens a new epoch so its
// body re-executes. Every action is additionally capped at LoopIterationCap
// executions, which bounds malformed cycles.
func (s *JobEngine) runGraph(
	ctx context.Context,
	def *model.JobDefinition,
	actions []model.Action,
	execCtx *model.ExecutionContext,
	result *model.RunResult,
) {
	byID := make(map[string]*model.Action, len(actions))
	for i := range actions {
		byID[actions[i].ID] = &actions[i]
	}
	inbound := make(map[string]int, len(actions))
	for i := range actions {
		for _, e := range actions[i].Edges {
			if _, ok := byID[e.To]; ok {
				inbound[e.To]++
			}
		}
	}

	var queue []string
	for i := range actions {
		if inbound[actions[i].ID] == 0 {
			queue = append(queue, actions[i].ID)
		}
	}
	if len(queue) == 0 {
		result.Errors = append(result.Errors, "definition graph has no entry action")
		s.logger.WarnContext(ctx, "definition graph has no entry action", "job_name", def.Name)
		return
	}

	epoch := 0
	lastEpoch := make(map[string]int, len(actions))
	runs := make(map[string]int, len(actions))

	for len(queue) > 0 {
		if ctx.Err() != nil {
			s.markCancelled(ctx, result)
			return
		}
		id := queue[0]
		queue = queue[1:]
		action := byID[id]
		if action == nil {
			// Edge to a disabled action: valid definition, dead path.
			continue
		}
		if e, ran := lastEpoch[id]; ran && e == epoch && action.Type != model.ActionKindLogicLoop {
			continue
		}
		if runs[id] >= s.cfg.LoopIterationCap {
			if runs[id] == s.cfg.LoopIterationCap {
				runs[id]++
				result.Actions = append(result.Actions, model.ActionSummary{
					ActionID: id,
					Label:    action.Label,
					Status:   model.ActionStatusFailure,
					Error:    "iteration cap reached",
				})
				result.Errors = append(result.Errors, fmt.Sprintf("action %s: iteration cap reached", id))
				s.logger.WarnContext(ctx, "action iteration cap reached",
					"job_name", def.Name, "action_id", id, "cap", s.cfg.LoopIterationCap)
			}
			continue
		}
		runs[id]++
		lastEpoch[id] = epoch

		handles, failed := s.runAction(ctx, def, action, execCtx, result)
		if failed && def.ErrorHandling() == model.ErrorHandlingAbort {
			s.logger.InfoContext(ctx, "aborting run after action failure",
				"job_name", def.Name, "action_id", id)
			return
		}
		if action.Type == model.ActionKindLogicLoop && containsHandle(handles, model.EdgeEach) {
			epoch++
		}
		for _, edge := range action.Edges {
			if containsHandle(handles, edge.Label) {
				queue = append(queue, edge.To)
			}
		}
	}
}

// runAction executes one action end to end: audit bracket, runner dispatch,
// fan-out fold, outcome classification, output publication, and the
// notification hook. Duration covers resolve through sink writes because
// both happen inside the runner call.
func (s *JobEngine) runAction(
	ctx context.Context,
	def *model.JobDefinition,
	action *model.Action,
	execCtx *model.ExecutionContext,
	result *model.RunResult,
) ([]string, bool) {
	startedAt := s.clock.Now()
	s.recordAudit(ctx, &model.AuditEvent{
		Kind:        model.AuditActionStarted,
		JobName:     def.Name,
		ExecutionID: execCtx.ExecutionID,
		ActionID:    action.ID,
		OccurredAt:  startedAt,
	})

	outcome, err := s.executeAction(ctx, def, action, execCtx)

	var output map[string]any
	if outcome != nil {
		output = outcome.OutputData
		if err == nil && outcome.GroupID != "" {
			if output == nil {
				output = map[string]any{}
			}
			s.awaitChord(ctx, outcome.GroupID, output)
		}
	}

	node := model.NodeResult{
		Status:     model.ActionStatusSuccess,
		OutputData: output,
		StartedAt:  startedAt,
	}
	if err != nil {
		node.Status = model.ActionStatusFailure
		node.Error = err.Error()
	} else if msg, bad := outputIndicatesFailure(output); bad {
		node.Status = model.ActionStatusFailure
		node.Error = msg
	}
	finishedAt := s.clock.Now()
	node.FinishedAt = finishedAt
	node.DurationMS = finishedAt.Sub(startedAt).Milliseconds()

	execCtx.PublishOutput(action, node)

	var handles []string
	switch {
	case err != nil:
		handles = failureHandles
	case outcome != nil && len(outcome.Handles) > 0:
		handles = outcome.Handles
	case node.Status == model.ActionStatusFailure:
		handles = failureHandles
	default:
		handles = successHandles
	}

	failed := node.Status == model.ActionStatusFailure
	result.Actions = append(result.Actions, model.ActionSummary{
		ActionID:   action.ID,
		Label:      action.Label,
		Status:     node.Status,
		Error:      node.Error,
		DurationMS: node.DurationMS,
	})
	if failed {
		result.Errors = append(result.Errors, fmt.Sprintf("action %s: %s", action.ID, node.Error))
		s.logger.WarnContext(ctx, "action failed",
			"job_name", def.Name, "action_id", action.ID, "error", node.Error)
	} else {
		s.logger.DebugContext(ctx, "action completed",
			"job_name", def.Name, "action_id", action.ID, "duration_ms", node.DurationMS)
	}

	s.recordAudit(ctx, &model.AuditEvent{
		Kind:        model.AuditActionCompleted,
		JobName:     def.Name,
		ExecutionID: execCtx.ExecutionID,
		ActionID:    action.ID,
		Status:      string(node.Status),
		Detail:      node.Error,
		OccurredAt:  finishedAt,
	})
	s.notifyAction(ctx, def, action, &node, execCtx)

	return handles, failed
}

// executeAction routes one action to its implementation. Logic kinds are
// engine-owned; everything else goes through the registry. A missing
// executor is a no-op success unless the action is marked required.
func (s *JobEngine) executeAction(
	ctx context.Context,
	def *model.JobDefinition,
	action *model.Action,
	execCtx *model.ExecutionContext,
) (*core.ActionOutcome, error) {
	switch action.Type {
	case model.ActionKindLogicIf:
		return s.runLogicIf(action, execCtx), nil
	case model.ActionKindLogicSwitch:
		return s.runLogicSwitch(action, execCtx), nil
	case model.ActionKindLogicLoop:
		return s.runLogicLoop(action, execCtx), nil
	}

	runner, ok := s.executors[action.Type]
	if !ok {
		if action.Required {
			return nil, apperrors.Validationf("no executor registered for required action type %q", action.Type)
		}
		s.logger.WarnContext(ctx, "no executor for action type, skipping",
			"action_id", action.ID, "type", string(action.Type))
		return &core.ActionOutcome{
			OutputData: map[string]any{
				"skipped": true,
				"reason":  fmt.Sprintf("no executor registered for type %q", action.Type),
			},
		}, nil
	}

	return runner.Execute(ctx, &core.ActionRunRequest{
		Definition: def,
		Action:     action,
		ExecCtx:    execCtx,
	})
}

// runLogicIf resolves parameters.condition and emits the true or false handle.
func (s *JobEngine) runLogicIf(action *model.Action, execCtx *model.ExecutionContext) *core.ActionOutcome {
	params := s.vars.ResolveMap(action.Parameters, execCtx)
	cond := truthy(params["condition"])
	handle := model.EdgeFalse
	if cond {
		handle = model.EdgeTrue
	}
	return &core.ActionOutcome{
		OutputData: map[string]any{"condition_result": cond},
		Handles:    []string{handle},
	}
}

// runLogicSwitch resolves parameters.value and matches it against the
// action's non-default edge labels. The handle set always contains
// "default"; a matched case label is added in front of it.
func (s *JobEngine) runLogicSwitch(action *model.Action, execCtx *model.ExecutionContext) *core.ActionOutcome {
	params := s.vars.ResolveMap(action.Parameters, execCtx)
	value := scalarString(params["value"])

	matched := ""
	for _, e := range action.Edges {
		if e.Label == "default" {
			continue
		}
		if e.Label == value {
			matched = e.Label
			break
		}
	}

	handles := []string{"default"}
	output := map[string]any{"value": value}
	if matched != "" {
		handles = append([]string{matched}, handles...)
		output["matched_case"] = matched
	}
	return &core.ActionOutcome{OutputData: output, Handles: handles}
}

// runLogicLoop iterates parameters.items one element per execution, keeping
// its cursor in the execution context. While items remain it emits the
// current item with the each handle; once exhausted it emits complete and
// resets, so a later re-entry restarts the loop.
func (s *JobEngine) runLogicLoop(action *model.Action, execCtx *model.ExecutionContext) *core.ActionOutcome {
	params := s.vars.ResolveMap(action.Parameters, execCtx)
	items := asList(params["items"])
	key := "__loop_index:" + action.ID

	idx := 0
	if v, ok := execCtx.Variables[key].(int); ok {
		idx = v
	}
	if idx >= len(items) {
		delete(execCtx.Variables, key)
		return &core.ActionOutcome{
			OutputData: map[string]any{"completed": true, "count": len(items)},
			Handles:    []string{model.EdgeComplete, "done"},
		}
	}
	execCtx.Variables[key] = idx + 1
	return &core.ActionOutcome{
		OutputData: map[string]any{
			"item":      items[idx],
			"index":     idx,
			"iteration": idx,
			"count":     len(items),
		},
		Handles: []string{model.EdgeEach, "iteration"},
	}
}

// awaitChord polls the fan-out group until every shard settles or the chord
// timeout elapses, then folds the aggregate into the action output. Missing
// or failed shards append to the output errors, which marks the action
// failed downstream.
func (s *JobEngine) awaitChord(ctx context.Context, groupID string, output map[string]any) {
	if s.broker == nil {
		appendOutputErrors(output, fmt.Sprintf("fan-out group %s: no broker configured", groupID))
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ChordTimeout)
	defer cancel()

	var state *model.GroupState
poll:
	for {
		st, err := s.broker.GroupState(waitCtx, groupID)
		switch {
		case err == nil:
			state = st
			if st.Settled() {
				break poll
			}
		case errors.Is(err, model.ErrGroupNotFound):
			break poll
		default:
			s.logger.WarnContext(ctx, "fan-out group poll failed",
				"group_id", groupID, "error", err)
		}
		select {
		case <-waitCtx.Done():
			break poll
		case <-time.After(s.cfg.ChordPollInterval):
		}
	}

	s.foldChord(groupID, state, output)
}

// foldChord writes the aggregate view of a fan-out group into the action
// output. The shard counts always sum to the expected count, with shards
// that never reported folded in as missing.
func (s *JobEngine) foldChord(groupID string, state *model.GroupState, output map[string]any) {
	if state == nil {
		appendOutputErrors(output, fmt.Sprintf(
			"fan-out group %s: state unavailable after %s", groupID, s.cfg.ChordTimeout))
		return
	}

	succeeded, failed := 0, 0
	results := make([]any, 0, len(state.Shards))
	var errs []string
	for i := range state.Shards {
		shard := &state.Shards[i]
		switch shard.Status {
		case model.TaskStatusSucceeded:
			succeeded++
			if len(shard.Result) > 0 {
				var decoded any
				if err := json.Unmarshal(shard.Result, &decoded); err == nil {
					results = append(results, decoded)
				}
			}
		case model.TaskStatusFailed:
			failed++
			msg := shard.Error
			if msg == "" {
				msg = "failed without error detail"
			}
			errs = append(errs, fmt.Sprintf("shard %s: %s", shard.TaskID, msg))
		}
	}

	completed := succeeded + failed
	missing := state.Expected - completed
	if missing < 0 {
		missing = 0
	}
	output["chord"] = map[string]any{
		"group_id":  groupID,
		"expected":  state.Expected,
		"completed": completed,
		"succeeded": succeeded,
		"failed":    failed,
		"missing":   missing,
		"results":   results,
	}
	if missing > 0 {
		errs = append(errs, fmt.Sprintf("fan-out group %s: %d of %d shards missing after %s",
			groupID, missing, state.Expected, s.cfg.ChordTimeout))
	}
	if len(errs) > 0 {
		appendOutputErrors(output, errs...)
	}
}

// notifyAction delivers the per-action notification when the action's
// notification flags match the outcome. Delivery failures are logged and
// never change the run outcome.
func (s *JobEngine) notifyAction(
	ctx context.Context,
	def *model.JobDefinition,
	action *model.Action,
	node *model.NodeResult,
	execCtx *model.ExecutionContext,
) {
	n := action.Notifications
	if s.notifier == nil || n == nil || !n.Enabled {
		return
	}
	failed := node.Status == model.ActionStatusFailure
	if failed && !n.OnFailure {
		return
	}
	if !failed && !n.OnSuccess {
		return
	}

	name := action.Label
	if name == "" {
		name = action.ID
	}
	verb := "succeeded"
	body := fmt.Sprintf("completed in %d ms", node.DurationMS)
	if failed {
		verb = "failed"
		body = node.Error
	}

	event := &model.NotificationEvent{
		Title:       fmt.Sprintf("%s: %s %s", def.Name, name, verb),
		Body:        body,
		Tag:         action.ID,
		JobName:     def.Name,
		ExecutionID: execCtx.ExecutionID,
		ActionID:    action.ID,
		Status:      string(node.Status),
		Targets:     n.Targets,
		OccurredAt:  node.FinishedAt,
	}
	if err := s.notifier.Dispatch(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "notification dispatch failed",
			"job_name", def.Name, "action_id", action.ID, "error", err)
	}
}

// recordAudit writes one engine lifecycle event, logging and swallowing
// sink failures.
func (s *JobEngine) recordAudit(ctx context.Context, e *model.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit write failed",
			"kind", e.Kind, "job_name", e.JobName, "error", err)
	}
}

func (s *JobEngine) markCancelled(ctx context.Context, result *model.RunResult) {
	result.Status = model.RunStatusCancelled
	result.Errors = append(result.Errors, fmt.Sprintf("run cancelled: %v", ctx.Err()))
}

func executionIDFromTrigger(trigger map[string]any) string {
	if id, ok := trigger["execution_id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func hasEdges(actions []model.Action) bool {
	for i := range actions {
		if len(actions[i].Edges) > 0 {
			return true
		}
	}
	return false
}

func containsHandle(handles []string, label string) bool {
	for _, h := range handles {
		if h == label {
			return true
		}
	}
	return false
}

// outputIndicatesFailure applies the output contract: a success=false flag
// or a non-empty error/errors entry marks the action failed even when the
// runner itself returned no error.
func outputIndicatesFailure(output map[string]any) (string, bool) {
	if output == nil {
		return "", false
	}
	if v, ok := output["success"].(bool); ok && !v {
		return "action reported success=false", true
	}
	if v, ok := output["error"].(string); ok && v != "" {
		return v, true
	}
	if msgs := stringList(output["errors"]); len(msgs) > 0 {
		return msgs[0], true
	}
	return "", false
}

// appendOutputErrors accumulates messages under output["errors"],
// normalizing whatever is already there to a string list.
func appendOutputErrors(output map[string]any, msgs ...string) {
	output["errors"] = append(stringList(output["errors"]), msgs...)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, scalarString(item))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return []string{scalarString(t)}
	}
}

// truthy approximates boolean coercion over JSON-decoded values: nil, false,
// zero numbers, empty strings and collections, and the strings "false",
// "0", "no", and "null" are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0" && s != "no" && s != "null"
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// scalarString renders a scalar for case matching and error text. Floats
// drop their trailing zeros so JSON-decoded integers read naturally.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// asList coerces a resolved parameter to a list; scalars become a
// single-item list so a loop over one value still iterates once.
func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	default:
		return []any{t}
	}
}
