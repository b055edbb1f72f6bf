// Package testutil provides testing utilities and helpers for the netops scheduler system.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/target/netops-go/internal/domain/model"
)

// SchedulerJobBuilder provides a fluent interface for building UpsertSchedulerJobRequest objects for testing.
type SchedulerJobBuilder struct {
	req *model.UpsertSchedulerJobRequest
}

// NewSchedulerJob creates a new SchedulerJobBuilder with sensible defaults:
// an enabled interval job firing every five minutes.
func NewSchedulerJob(name string) *SchedulerJobBuilder {
	interval := int64(300)
	return &SchedulerJobBuilder{
		req: &model.UpsertSchedulerJobRequest{
			Name:            name,
			TaskName:        "run_job",
			Config:          json.RawMessage(`{}`),
			ScheduleType:    model.ScheduleTypeInterval,
			IntervalSeconds: &interval,
		},
	}
}

// WithTaskName sets the worker task the job enqueues.
func (b *SchedulerJobBuilder) WithTaskName(taskName string) *SchedulerJobBuilder {
	b.req.TaskName = taskName
	return b
}

// WithConfigString sets the job config payload from a string.
func (b *SchedulerJobBuilder) WithConfigString(config string) *SchedulerJobBuilder {
	b.req.Config = json.RawMessage(config)
	return b
}

// WithEnabled sets the enabled flag explicitly.
func (b *SchedulerJobBuilder) WithEnabled(enabled bool) *SchedulerJobBuilder {
	b.req.Enabled = &enabled
	return b
}

// WithInterval switches the job to interval scheduling at the given period.
func (b *SchedulerJobBuilder) WithInterval(seconds int64) *SchedulerJobBuilder {
	b.req.ScheduleType = model.ScheduleTypeInterval
	b.req.IntervalSeconds = &seconds
	b.req.CronExpression = nil
	return b
}

// WithCron switches the job to cron scheduling with the given expression.
func (b *SchedulerJobBuilder) WithCron(expr string) *SchedulerJobBuilder {
	b.req.ScheduleType = model.ScheduleTypeCron
	b.req.CronExpression = &expr
	b.req.IntervalSeconds = nil
	return b
}

// WithStartAt sets the earliest time the job may fire.
func (b *SchedulerJobBuilder) WithStartAt(t time.Time) *SchedulerJobBuilder {
	b.req.StartAt = &t
	return b
}

// WithEndAt sets the time after which the job never fires.
func (b *SchedulerJobBuilder) WithEndAt(t time.Time) *SchedulerJobBuilder {
	b.req.EndAt = &t
	return b
}

// WithMaxRuns caps the total number of runs.
func (b *SchedulerJobBuilder) WithMaxRuns(n int) *SchedulerJobBuilder {
	b.req.MaxRuns = &n
	return b
}

// WithNextRunAt pins the next fire time.
func (b *SchedulerJobBuilder) WithNextRunAt(t time.Time) *SchedulerJobBuilder {
	b.req.NextRunAt = &t
	return b
}

// Build returns the constructed UpsertSchedulerJobRequest.
func (b *SchedulerJobBuilder) Build() *model.UpsertSchedulerJobRequest {
	return b.req
}

// Common scheduler job presets

// IntervalJobRequest creates an interval job due immediately.
func IntervalJobRequest(name string, seconds int64) *model.UpsertSchedulerJobRequest {
	return NewSchedulerJob(name).WithInterval(seconds).Build()
}

// CronJobRequest creates a cron job with the given expression.
func CronJobRequest(name, expr string) *model.UpsertSchedulerJobRequest {
	return NewSchedulerJob(name).WithCron(expr).Build()
}

// DisabledJobRequest creates a job that the tick must never pick up.
func DisabledJobRequest(name string) *model.UpsertSchedulerJobRequest {
	return NewSchedulerJob(name).WithEnabled(false).Build()
}

// JobDefinitionBuilder provides a fluent interface for building UpsertJobDefinitionRequest objects for testing.
type JobDefinitionBuilder struct {
	req *model.UpsertJobDefinitionRequest
}

// NewJobDefinition creates a new JobDefinitionBuilder with a single ping
// action so the definition validates out of the box.
func NewJobDefinition(id string) *JobDefinitionBuilder {
	return &JobDefinitionBuilder{
		req: &model.UpsertJobDefinitionRequest{
			ID:      id,
			Name:    id,
			Actions: []model.Action{PingAction("ping-1", "192.0.2.1")},
		},
	}
}

// WithName sets the display name.
func (b *JobDefinitionBuilder) WithName(name string) *JobDefinitionBuilder {
	b.req.Name = name
	return b
}

// WithDescription sets the description.
func (b *JobDefinitionBuilder) WithDescription(description string) *JobDefinitionBuilder {
	b.req.Description = description
	return b
}

// WithEnabled sets the enabled flag explicitly.
func (b *JobDefinitionBuilder) WithEnabled(enabled bool) *JobDefinitionBuilder {
	b.req.Enabled = &enabled
	return b
}

// WithActions replaces the action list.
func (b *JobDefinitionBuilder) WithActions(actions ...model.Action) *JobDefinitionBuilder {
	b.req.Actions = actions
	return b
}

// AddAction appends one action.
func (b *JobDefinitionBuilder) AddAction(action model.Action) *JobDefinitionBuilder {
	b.req.Actions = append(b.req.Actions, action)
	return b
}

// WithConfig sets definition-level config.
func (b *JobDefinitionBuilder) WithConfig(config map[string]any) *JobDefinitionBuilder {
	b.req.Config = config
	return b
}

// Build returns the constructed UpsertJobDefinitionRequest.
func (b *JobDefinitionBuilder) Build() *model.UpsertJobDefinitionRequest {
	return b.req
}

// Common action presets

// PingAction creates an enabled ping action against a static IP list.
func PingAction(id string, ips ...string) model.Action {
	return model.Action{
		ID:      id,
		Type:    model.ActionKindPing,
		Enabled: true,
		LoginMethod: &model.LoginMethod{
			Type: model.LoginMethodPing,
		},
		Targeting: &model.Targeting{
			Type: model.TargetingStaticList,
			IPs:  ips,
		},
	}
}

// SSHScanAction creates an enabled ssh_scan action running one command
// against a static IP list.
func SSHScanAction(id, command string, ips ...string) model.Action {
	return model.Action{
		ID:      id,
		Type:    model.ActionKindSSHScan,
		Enabled: true,
		LoginMethod: &model.LoginMethod{
			Type:     model.LoginMethodSSHCLI,
			Username: "netops",
			Password: "netops",
		},
		Targeting: &model.Targeting{
			Type: model.TargetingStaticList,
			IPs:  ips,
		},
		Execution: &model.ExecutionSpec{
			Command:        command,
			TimeoutSeconds: 30,
		},
	}
}

// EdgeTo creates a labeled edge for wiring actions into a DAG.
func EdgeTo(to, label string) model.Edge {
	return model.Edge{To: to, Label: label}
}

// Common execution presets

// QueuedExecution creates a queued execution row request for the given job and task.
func QueuedExecution(jobName, taskID string, startedAt time.Time) *model.CreateExecutionRequest {
	return &model.CreateExecutionRequest{
		JobName:   jobName,
		TaskName:  "run_job",
		TaskID:    taskID,
		Status:    model.ExecutionStatusQueued,
		StartedAt: startedAt,
	}
}

// Common discovery presets

// DiscoveredSwitch creates a DiscoveredDevice resembling an SNMP-visible switch.
func DiscoveredSwitch(ip string) *model.DiscoveredDevice {
	return &model.DiscoveredDevice{
		IPAddress:   ip,
		Hostname:    "sw-" + ip,
		Vendor:      "arista",
		Model:       "DCS-7050X",
		OSVersion:   "4.30.1F",
		DeviceRole:  "switch",
		OpenPorts:   []int{22, 161},
		SNMPSuccess: true,
		Interfaces: []model.DiscoveredInterface{
			{Port: 1, Name: "Ethernet1", Status: "up", Speed: "10G", Medium: "fiber"},
			{Port: 2, Name: "Ethernet2", Status: "down"},
		},
	}
}
