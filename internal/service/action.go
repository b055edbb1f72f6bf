package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/parse"
	"github.com/target/netops-go/internal/domain/target"
	"github.com/target/netops-go/internal/domain/vars"
	apperrors "github.com/target/netops-go/internal/errors"
)

// systemOIDs are the MIB-II system group entries probed when an snmp_scan
// action does not configure its own oids.
var systemOIDs = map[string]string{
	"sysDescr":    "1.3.6.1.2.1.1.1.0",
	"sysObjectID": "1.3.6.1.2.1.1.2.0",
	"sysUpTime":   "1.3.6.1.2.1.1.3.0",
	"sysContact":  "1.3.6.1.2.1.1.4.0",
	"sysName":     "1.3.6.1.2.1.1.5.0",
	"sysLocation": "1.3.6.1.2.1.1.6.0",
}

// ActionExecutor runs probe and command actions against resolved targets.
// One instance serves every non-logic action kind; the engine registry maps
// each kind to it. Per-target failures are collected on the outcome as
// failed_hosts and never abort the remaining targets.
type ActionExecutor struct {
	targets  *target.Resolver
	vars     *vars.Resolver
	pinger   core.Pinger
	ports    core.PortDialer
	snmp     core.SNMPClient
	commands core.CommandRunner
	sink     core.SinkWriter
	secrets  core.SecretRepository
	broker   core.TaskBroker
	cfg      core.EngineConfig
	logger   *slog.Logger
}

// ActionExecutorOptions holds the dependencies for creating an
// ActionExecutor. Adapters may be nil when the deployment never runs the
// corresponding action kind; running such an action then fails with a
// validation error.
type ActionExecutorOptions struct {
	Targets  *target.Resolver
	Vars     *vars.Resolver
	Pinger   core.Pinger
	Ports    core.PortDialer
	SNMP     core.SNMPClient
	Commands core.CommandRunner
	Sink     core.SinkWriter
	Secrets  core.SecretRepository
	Broker   core.TaskBroker
	Config   *core.EngineConfig
	Logger   *slog.Logger
}

// NewActionExecutor creates a new ActionExecutor with the given dependencies.
func NewActionExecutor(opts ActionExecutorOptions) *ActionExecutor {
	if opts.Targets == nil {
		opts.Targets = target.NewResolver(target.ResolverOptions{})
	}
	if opts.Vars == nil {
		opts.Vars = vars.NewResolver(vars.ResolverOptions{})
	}
	if opts.Config == nil {
		defaultCfg := core.DefaultEngineConfig()
		opts.Config = &defaultCfg
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &ActionExecutor{
		targets:  opts.Targets,
		vars:     opts.Vars,
		pinger:   opts.Pinger,
		ports:    opts.Ports,
		snmp:     opts.SNMP,
		commands: opts.Commands,
		sink:     opts.Sink,
		secrets:  opts.Secrets,
		broker:   opts.Broker,
		cfg:      *opts.Config,
		logger:   opts.Logger,
	}
}

var _ core.ActionRunner = (*ActionExecutor)(nil)

// Execute runs one action: clone, resolve variables over parameters and
// execution, resolve the login method and targets, then dispatch by kind.
// An action with parameters.distributed=true enqueues one shard per target
// as a fan-out group and leaves the wait to the engine.
func (x *ActionExecutor) Execute(ctx context.Context, req *core.ActionRunRequest) (*core.ActionOutcome, error) {
	action, err := cloneAction(req.Action)
	if err != nil {
		return nil, err
	}
	x.resolveAction(action, req.ExecCtx)

	login, err := x.resolveLogin(ctx, action)
	if err != nil {
		return nil, err
	}

	targets, err := x.resolveTargets(ctx, action, req.ExecCtx)
	if err != nil {
		// Targeting failures land on the outcome so the output still
		// reaches the execution context before the action fails.
		return &core.ActionOutcome{OutputData: map[string]any{
			"targets": 0,
			"errors":  []string{err.Error()},
		}}, nil
	}

	if truthy(action.Parameters["distributed"]) {
		return x.dispatchFanOut(ctx, req.Definition, action, targets)
	}

	switch action.Type {
	case model.ActionKindPing:
		return x.runPing(ctx, action, targets)
	case model.ActionKindSNMPScan:
		return x.runSNMPScan(ctx, action, login, targets)
	case model.ActionKindSSHScan:
		if login.method == model.LoginMethodSSHPort {
			return x.runPortProbe(ctx, action, login, targets)
		}
		return x.runCommandScan(ctx, action, login, targets)
	case model.ActionKindRDPScan:
		return x.runPortProbe(ctx, action, login, targets)
	case model.ActionKindCustom:
		return x.runCustom(ctx, action, login, targets)
	default:
		return nil, apperrors.Validationf("action executor cannot run type %q", action.Type)
	}
}

// runCustom picks the transport for a custom action from its login method;
// without one, a configured execution block runs over the command runner.
func (x *ActionExecutor) runCustom(
	ctx context.Context,
	action *model.Action,
	login resolvedLogin,
	targets []string,
) (*core.ActionOutcome, error) {
	switch login.method {
	case model.LoginMethodPing:
		return x.runPing(ctx, action, targets)
	case model.LoginMethodSNMP:
		return x.runSNMPScan(ctx, action, login, targets)
	case model.LoginMethodSSHPort, model.LoginMethodRDPPort:
		return x.runPortProbe(ctx, action, login, targets)
	}
	if action.Execution != nil {
		return x.runCommandScan(ctx, action, login, targets)
	}
	return &core.ActionOutcome{OutputData: map[string]any{"targets": len(targets)}}, nil
}

// resolveAction substitutes workflow variables in parameters and the
// execution block of an already cloned action. Per-item {field} placeholders
// survive untouched for the foreach pass.
func (x *ActionExecutor) resolveAction(action *model.Action, execCtx *model.ExecutionContext) {
	if len(action.Parameters) > 0 {
		action.Parameters = x.vars.ResolveMap(action.Parameters, execCtx)
	}
	if action.Execution == nil {
		return
	}
	if action.Execution.Command != "" {
		action.Execution.Command = resolvedString(x.vars.Resolve(action.Execution.Command, execCtx))
	}
	for i := range action.Execution.Commands {
		step := &action.Execution.Commands[i]
		step.Template = resolvedString(x.vars.Resolve(step.Template, execCtx))
		if len(step.Filter) > 0 {
			step.Filter = x.vars.ResolveMap(step.Filter, execCtx)
		}
	}
}

func (x *ActionExecutor) resolveTargets(
	ctx context.Context,
	action *model.Action,
	execCtx *model.ExecutionContext,
) ([]string, error) {
	if action.Targeting == nil {
		return nil, nil
	}
	return x.targets.Resolve(ctx, *action.Targeting, execCtx)
}

// resolvedLogin is the transport material for one action after secret
// placeholder expansion.
type resolvedLogin struct {
	method    model.LoginMethodType
	community string
	creds     core.CommandCredentials
}

// resolveLogin expands __NAME__ secret placeholders in the login method and
// fills the default port for the transport type.
func (x *ActionExecutor) resolveLogin(ctx context.Context, action *model.Action) (resolvedLogin, error) {
	login := resolvedLogin{}
	m := action.LoginMethod
	if m == nil {
		return login, nil
	}
	login.method = m.Type

	var err error
	if login.community, err = x.expandSecret(ctx, m.Community); err != nil {
		return login, err
	}
	if login.creds.Username, err = x.expandSecret(ctx, m.Username); err != nil {
		return login, err
	}
	if login.creds.Password, err = x.expandSecret(ctx, m.Password); err != nil {
		return login, err
	}

	login.creds.Port = m.Port
	if login.creds.Port == 0 {
		switch m.Type {
		case model.LoginMethodSSHPort, model.LoginMethodSSHCLI:
			login.creds.Port = 22
		case model.LoginMethodRDPPort:
			login.creds.Port = 3389
		}
	}
	return login, nil
}

// expandSecret replaces a __NAME__ placeholder with the named secret value.
// Literal values pass through untouched.
func (x *ActionExecutor) expandSecret(ctx context.Context, v string) (string, error) {
	name, ok := secretPlaceholderName(v)
	if !ok {
		return v, nil
	}
	if x.secrets == nil {
		return "", apperrors.Validationf("login method references secret %s but no secret source is configured", name)
	}
	secret, err := x.secrets.GetByName(ctx, name)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeValidation, "resolve secret %s", name)
	}
	return secret.Value, nil
}

func secretPlaceholderName(v string) (string, bool) {
	if len(v) > 4 && strings.HasPrefix(v, "__") && strings.HasSuffix(v, "__") {
		return v[2 : len(v)-2], true
	}
	return "", false
}

// dispatchFanOut enqueues one shard per target under a fan-out group and
// hands the group id to the engine for the chord wait.
func (x *ActionExecutor) dispatchFanOut(
	ctx context.Context,
	def *model.JobDefinition,
	action *model.Action,
	targets []string,
) (*core.ActionOutcome, error) {
	if len(targets) == 0 {
		return &core.ActionOutcome{OutputData: map[string]any{"dispatched": 0, "targets": 0}}, nil
	}
	if x.broker == nil {
		return nil, apperrors.Validationf("action %s is distributed but no broker is configured", action.ID)
	}

	shards := make([][]byte, 0, len(targets))
	for _, ip := range targets {
		payload, err := json.Marshal(map[string]any{
			"definition_id": def.ID,
			"action_id":     action.ID,
			"target":        ip,
			"parameters":    action.Parameters,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal shard payload for %s: %w", ip, err)
		}
		shards = append(shards, payload)
	}

	name := model.TaskNameRunActionShard
	if v, ok := action.Parameters["task_name"].(string); ok && v != "" {
		name = v
	}
	groupID, err := x.broker.EnqueueGroup(ctx, core.EnqueueGroupParams{Name: name, Shards: shards})
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeEnqueue, "dispatch fan-out for action %s", action.ID)
	}

	x.logger.InfoContext(ctx, "dispatched fan-out group",
		"action_id", action.ID, "group_id", groupID, "shards", len(shards))
	return &core.ActionOutcome{
		OutputData: map[string]any{
			"dispatched": len(shards),
			"targets":    len(targets),
			"group_id":   groupID,
		},
		GroupID: groupID,
	}, nil
}

// runPing probes each target with ICMP echo and splits the set into online
// and offline lists. Unreachable is data, not a failure; only adapter errors
// mark a host failed.
func (x *ActionExecutor) runPing(ctx context.Context, action *model.Action, targets []string) (*core.ActionOutcome, error) {
	if x.pinger == nil {
		return nil, apperrors.Validationf("no pinger configured for action %s", action.ID)
	}
	count := intParam(action.Parameters, "count", x.cfg.PingCount)
	timeout := durationParam(action.Parameters, "timeout_seconds", x.cfg.ProbeTimeout)

	online := []string{}
	offline := []string{}
	var failedHosts, errs []string
	for _, ip := range targets {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("cancelled with %d of %d targets probed",
				len(online)+len(offline), len(targets)))
			break
		}
		res, err := x.pinger.Ping(ctx, core.PingParams{IP: ip, Count: count, Timeout: timeout})
		if err != nil {
			failedHosts = append(failedHosts, ip)
			errs = append(errs, fmt.Sprintf("%s: %v", ip, err))
			continue
		}
		if res.Reachable {
			online = append(online, ip)
		} else {
			offline = append(offline, ip)
		}
	}

	output := map[string]any{
		"targets":       len(targets),
		"online":        online,
		"offline":       offline,
		"online_count":  len(online),
		"offline_count": len(offline),
	}
	attachFailures(output, failedHosts, errs)
	return &core.ActionOutcome{OutputData: output}, nil
}

// runSNMPScan reads the configured OIDs from each target with the login
// method's community. Nil values (timeouts, missing objects) are omitted
// per host; only adapter errors mark a host failed.
func (x *ActionExecutor) runSNMPScan(
	ctx context.Context,
	action *model.Action,
	login resolvedLogin,
	targets []string,
) (*core.ActionOutcome, error) {
	if x.snmp == nil {
		return nil, apperrors.Validationf("no snmp client configured for action %s", action.ID)
	}
	timeout := durationParam(action.Parameters, "timeout_seconds", x.cfg.ProbeTimeout)
	oids := oidsFromParams(action.Parameters)
	names := sortedOIDNames(oids)

	results := make(map[string]any, len(targets))
	var failedHosts, errs []string
	for _, ip := range targets {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("cancelled with %d of %d targets scanned",
				len(results), len(targets)))
			break
		}
		values := make(map[string]any, len(names))
		hostErr := ""
		for _, name := range names {
			v, err := x.snmp.Get(ctx, core.SNMPGetParams{
				IP:        ip,
				Community: login.community,
				OID:       oids[name],
				Timeout:   timeout,
			})
			if err != nil {
				hostErr = fmt.Sprintf("%s: %v", ip, err)
				break
			}
			if v != nil {
				values[name] = v
			}
		}
		if hostErr != "" {
			failedHosts = append(failedHosts, ip)
			errs = append(errs, hostErr)
			continue
		}
		results[ip] = values
	}

	output := map[string]any{"targets": len(targets), "results": results}
	attachFailures(output, failedHosts, errs)
	return &core.ActionOutcome{OutputData: output}, nil
}

// runPortProbe checks TCP reachability of the login method's port on each
// target. The open and closed lists are aliased as online and offline so
// downstream actions can target either.
func (x *ActionExecutor) runPortProbe(
	ctx context.Context,
	action *model.Action,
	login resolvedLogin,
	targets []string,
) (*core.ActionOutcome, error) {
	if x.ports == nil {
		return nil, apperrors.Validationf("no port dialer configured for action %s", action.ID)
	}
	port := login.creds.Port
	if port == 0 {
		port = 22
		if action.Type == model.ActionKindRDPScan {
			port = 3389
		}
	}
	timeout := durationParam(action.Parameters, "timeout_seconds", x.cfg.ProbeTimeout)

	open := []string{}
	closed := []string{}
	var failedHosts, errs []string
	for _, ip := range targets {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("cancelled with %d of %d targets probed",
				len(open)+len(closed), len(targets)))
			break
		}
		ok, err := x.ports.Probe(ctx, ip, port, timeout)
		if err != nil {
			failedHosts = append(failedHosts, ip)
			errs = append(errs, fmt.Sprintf("%s: %v", ip, err))
			continue
		}
		if ok {
			open = append(open, ip)
		} else {
			closed = append(closed, ip)
		}
	}

	output := map[string]any{
		"targets": len(targets),
		"port":    port,
		"open":    open,
		"closed":  closed,
		"online":  open,
		"offline": closed,
	}
	attachFailures(output, failedHosts, errs)
	return &core.ActionOutcome{OutputData: output}, nil
}

// runCommandScan executes the action's command block against each target.
// Each target gets its own scratch context; its parsed results land in the
// output under results[ip]. A failed target is recorded and the scan moves
// on to the next.
func (x *ActionExecutor) runCommandScan(
	ctx context.Context,
	action *model.Action,
	login resolvedLogin,
	targets []string,
) (*core.ActionOutcome, error) {
	if x.commands == nil {
		return nil, apperrors.Validationf("no command runner configured for action %s", action.ID)
	}
	if action.Execution == nil {
		return &core.ActionOutcome{OutputData: map[string]any{"targets": len(targets)}}, nil
	}
	timeout := x.commandTimeout(action.Execution)

	results := make(map[string]any, len(targets))
	rowsWritten := 0
	var failedHosts, errs []string
	for _, ip := range targets {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("cancelled with %d of %d targets scanned",
				len(results), len(targets)))
			break
		}
		tc := model.NewTargetContext(ip)
		tc.Parsed = make(map[string]any)
		written, err := x.runTarget(ctx, action, tc, login.creds, timeout)
		rowsWritten += written
		if err != nil {
			failedHosts = append(failedHosts, ip)
			errs = append(errs, fmt.Sprintf("%s: %v", ip, err))
			continue
		}
		results[ip] = tc.Parsed
	}

	output := map[string]any{
		"targets":      len(targets),
		"results":      results,
		"rows_written": rowsWritten,
	}
	attachFailures(output, failedHosts, errs)
	return &core.ActionOutcome{OutputData: output}, nil
}

// runTarget executes the command block against one target, applies the
// interface merges, and writes the sink descriptors. Sink writes already
// committed stay committed when a later step fails.
func (x *ActionExecutor) runTarget(
	ctx context.Context,
	action *model.Action,
	tc *model.TargetContext,
	creds core.CommandCredentials,
	timeout time.Duration,
) (int, error) {
	spec := action.Execution
	if spec.Multi() {
		if err := x.runCommandSteps(ctx, action, tc, creds, timeout); err != nil {
			return 0, err
		}
	} else if spec.Command != "" {
		output, err := x.commands.Run(ctx, core.CommandRunParams{
			IP:          tc.IP,
			Credentials: creds,
			Command:     formatTemplate(spec.Command, baseContext(tc)),
			Timeout:     timeout,
		})
		if err != nil {
			return 0, apperrors.Wrapf(err, apperrors.CodeAdapter, "run command on %s", tc.IP)
		}
		for _, name := range sortedParserNames(action.ResultParsing) {
			p := action.ResultParsing[name]
			if parsed := parse.Apply(&p, output); parsed != nil {
				storeParsed(tc, name, parsed)
			}
		}
	}
	applyInterfaceMerges(tc)
	return x.writeSinks(ctx, action, tc)
}

// runCommandSteps runs the multi-command sequence in order. A step's parsed
// result lands under store_as, defaulting to the parser name; a missing or
// unknown parser leaves output unparsed without failing the step.
func (x *ActionExecutor) runCommandSteps(
	ctx context.Context,
	action *model.Action,
	tc *model.TargetContext,
	creds core.CommandCredentials,
	timeout time.Duration,
) error {
	for i := range action.Execution.Commands {
		step := &action.Execution.Commands[i]
		if err := ctx.Err(); err != nil {
			return apperrors.Wrapf(err, apperrors.CodeCanceled, "cancelled before step %s", stepName(step, i))
		}
		if step.Foreach != "" {
			if err := x.runForeachStep(ctx, action, tc, step, creds, timeout); err != nil {
				return err
			}
			continue
		}

		output, err := x.commands.Run(ctx, core.CommandRunParams{
			IP:          tc.IP,
			Credentials: creds,
			Command:     formatTemplate(step.Template, baseContext(tc)),
			Timeout:     timeout,
		})
		if err != nil {
			return apperrors.Wrapf(err, apperrors.CodeAdapter, "step %s on %s", stepName(step, i), tc.IP)
		}
		parsed := x.applyStepParser(action, step, output)
		if parsed == nil {
			continue
		}
		key := step.StoreAs
		if key == "" {
			key = step.ParserRef
		}
		if key != "" {
			storeParsed(tc, key, parsed)
		}
	}
	return nil
}

// runForeachStep formats and runs the step once per stored item that passes
// the filter, merging parsed results back into the item in place so later
// steps and sink descriptors see the enriched rows.
func (x *ActionExecutor) runForeachStep(
	ctx context.Context,
	action *model.Action,
	tc *model.TargetContext,
	step *model.CommandStep,
	creds core.CommandCredentials,
	timeout time.Duration,
) error {
	items := tc.Stores[step.Foreach]
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrapf(err, apperrors.CodeCanceled, "cancelled during foreach over %s", step.Foreach)
		}
		if !matchesFilter(item, step.Filter) {
			continue
		}
		output, err := x.commands.Run(ctx, core.CommandRunParams{
			IP:          tc.IP,
			Credentials: creds,
			Command:     formatTemplate(step.Template, itemContext(tc, item)),
			Timeout:     timeout,
		})
		if err != nil {
			return apperrors.Wrapf(err, apperrors.CodeAdapter, "foreach step over %s on %s", step.Foreach, tc.IP)
		}
		parsed := x.applyStepParser(action, step, output)
		if parsed == nil {
			continue
		}
		mergeIntoItem(item, parsed, step)
	}
	return nil
}

// applyStepParser runs the step's named parser over raw output.
func (x *ActionExecutor) applyStepParser(action *model.Action, step *model.CommandStep, output string) any {
	if step.ParserRef == "" {
		return nil
	}
	p, ok := action.ResultParsing[step.ParserRef]
	if !ok {
		return nil
	}
	return parse.Apply(&p, output)
}

// writeSinks routes parsed data into each sink descriptor. A map source
// writes one row; a list source writes each element. Filters gate rows by
// exact equality, with has_power_reading synthesized from the optical
// fields. Descriptors after a failed write still run; the first error is
// returned once every descriptor was attempted.
func (x *ActionExecutor) writeSinks(ctx context.Context, action *model.Action, tc *model.TargetContext) (int, error) {
	if x.sink == nil || len(action.Database) == 0 {
		return 0, nil
	}
	written := 0
	var firstErr error
	for i := range action.Database {
		spec := &action.Database[i]
		source, ok := tc.Parsed[spec.SourceKey]
		if !ok || source == nil {
			continue
		}
		rows := filterSinkRows(rowsFromSource(source), spec.Filter)
		if len(rows) == 0 {
			continue
		}
		n, err := x.sink.Write(ctx, core.SinkWriteParams{
			Table:     spec.Table,
			Operation: spec.Operation,
			IPAddress: tc.IP,
			Rows:      rows,
		})
		written += n
		if err != nil && firstErr == nil {
			firstErr = apperrors.Wrapf(err, apperrors.CodeSink, "write %s rows to %s", spec.SourceKey, spec.Table)
		}
	}
	return written, firstErr
}

func (x *ActionExecutor) commandTimeout(spec *model.ExecutionSpec) time.Duration {
	if spec != nil && spec.TimeoutSeconds > 0 {
		return time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return x.cfg.CommandTimeout
}

// cloneAction deep-copies an action through its JSON form so resolution
// never mutates the definition document.
func cloneAction(a *model.Action) (*model.Action, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("clone action %s: %w", a.ID, err)
	}
	var out model.Action
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone action %s: %w", a.ID, err)
	}
	return &out, nil
}

func resolvedString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return scalarString(v)
}

// baseContext is the format context outside foreach: just the target.
func baseContext(tc *model.TargetContext) map[string]any {
	return map[string]any{"ip": tc.IP}
}

// itemContext overlays the iterated item on the base context.
func itemContext(tc *model.TargetContext, item map[string]any) map[string]any {
	out := baseContext(tc)
	for k, v := range item {
		out[k] = v
	}
	return out
}

var fieldPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// formatTemplate substitutes {field} placeholders from the per-item
// context. Workflow-level references were already resolved by this point;
// unknown fields are left in place.
func formatTemplate(tpl string, context map[string]any) string {
	return fieldPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		v, ok := context[m[1:len(m)-1]]
		if !ok {
			return m
		}
		return scalarString(v)
	})
}

// matchesFilter reports whether every filter field matches the item exactly.
func matchesFilter(item map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		if !looseEqual(item[k], want) {
			return false
		}
	}
	return true
}

// looseEqual compares scalars across the int/float64 seam introduced by
// JSON decoding; everything else falls back to deep equality.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if as, ok := a.(string); ok {
		bs, ok2 := b.(string)
		return ok2 && as == bs
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// mergeIntoItem folds a parsed object into the iterated item. Parsed maps
// merge key by key; anything else lands under store_as or the parser name.
func mergeIntoItem(item map[string]any, parsed any, step *model.CommandStep) {
	if m, ok := parsed.(map[string]any); ok {
		for k, v := range m {
			item[k] = v
		}
		return
	}
	key := step.StoreAs
	if key == "" {
		key = step.ParserRef
	}
	if key != "" {
		item[key] = parsed
	}
}

// storeParsed records a parsed result under key, additionally exposing row
// lists as a named store for later foreach steps.
func storeParsed(tc *model.TargetContext, key string, parsed any) {
	tc.Parsed[key] = parsed
	if rows, ok := asRowList(parsed); ok {
		tc.Store(key, rows)
	}
}

// asRowList coerces parser output to a list of row maps without copying,
// so foreach mutations stay visible to the sink pass.
func asRowList(v any) ([]map[string]any, bool) {
	switch t := v.(type) {
	case []map[string]any:
		return t, true
	case []any:
		rows := make([]map[string]any, 0, len(t))
		for _, item := range t {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			rows = append(rows, row)
		}
		return rows, true
	default:
		return nil, false
	}
}

// applyInterfaceMerges folds port_status and lldp_neighbors rows into the
// interfaces list once all commands have run. Link state wins the status
// field; mode and port_type only fill empty speed and medium.
func applyInterfaceMerges(tc *model.TargetContext) {
	interfaces, ok := asRowList(tc.Parsed["interfaces"])
	if !ok {
		return
	}
	if ps, found := asRowList(tc.Parsed["port_status"]); found {
		interfaces = parse.MergePortStatus(interfaces, ps)
	}
	if ln, found := asRowList(tc.Parsed["lldp_neighbors"]); found {
		interfaces = parse.MergeLLDP(interfaces, ln)
	}
	tc.Parsed["interfaces"] = interfaces
	tc.Stores["interfaces"] = interfaces
}

// rowsFromSource normalizes a sink source: a parsed map is one row, a
// parsed list contributes each element.
func rowsFromSource(source any) []map[string]any {
	if rows, ok := asRowList(source); ok {
		return rows
	}
	if m, ok := source.(map[string]any); ok {
		return []map[string]any{m}
	}
	return nil
}

func filterSinkRows(rows []map[string]any, filter map[string]any) []map[string]any {
	if len(filter) == 0 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if matchesSinkFilter(row, filter) {
			out = append(out, row)
		}
	}
	return out
}

func matchesSinkFilter(row map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		if k == "has_power_reading" {
			if hasPowerReading(row) != truthy(want) {
				return false
			}
			continue
		}
		if !looseEqual(row[k], want) {
			return false
		}
	}
	return true
}

// hasPowerReading reports whether any optical diagnostic field carries a value.
func hasPowerReading(row map[string]any) bool {
	for _, key := range []string{"tx_power_dbm", "rx_power_dbm", "temperature_c"} {
		if v, ok := row[key]; ok && v != nil {
			return true
		}
	}
	return false
}

func attachFailures(output map[string]any, failedHosts, errs []string) {
	if len(failedHosts) > 0 {
		output["failed_hosts"] = failedHosts
	}
	if len(errs) > 0 {
		output["errors"] = errs
	}
}

func oidsFromParams(params map[string]any) map[string]string {
	raw, ok := params["oids"].(map[string]any)
	if !ok || len(raw) == 0 {
		return systemOIDs
	}
	out := make(map[string]string, len(raw))
	for name, v := range raw {
		if oid, ok := v.(string); ok && oid != "" {
			out[name] = oid
		}
	}
	if len(out) == 0 {
		return systemOIDs
	}
	return out
}

func sortedOIDNames(oids map[string]string) []string {
	names := make([]string, 0, len(oids))
	for name := range oids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedParserNames(parsers map[string]model.Parser) []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stepName(step *model.CommandStep, i int) string {
	if step.ID != "" {
		return step.ID
	}
	return strconv.Itoa(i)
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func durationParam(params map[string]any, key string, fallback time.Duration) time.Duration {
	if n := intParam(params, key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
