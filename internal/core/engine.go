package core

import (
	"context"
	"time"

	"github.com/target/netops-go/internal/domain/model"
)

// JobRunner runs one job definition to completion. Every failure is folded
// into the RunResult, so Run never returns an error; workers persist the
// result and derive the execution status from it.
type JobRunner interface {
	Run(ctx context.Context, def *model.JobDefinition, trigger map[string]any) *model.RunResult
}

// ActionRunner executes one action kind. Runners resolve their own
// parameters against the execution context; a returned error becomes an
// action failure.
type ActionRunner interface {
	Execute(ctx context.Context, req *ActionRunRequest) (*ActionOutcome, error)
}

// ActionRunRequest carries one action invocation. Action is the definition
// entry as stored; runners clone it before resolving or mutating.
type ActionRunRequest struct {
	Definition *model.JobDefinition
	Action     *model.Action
	ExecCtx    *model.ExecutionContext
}

// ActionOutcome is a runner's report back to the engine. Handles, when
// non-empty, replace the generic success/failure handle set (logic kinds).
// A non-empty GroupID tells the engine the runner dispatched a fan-out
// group whose settled state must be folded into OutputData before the
// action can complete.
type ActionOutcome struct {
	OutputData map[string]any
	Handles    []string
	GroupID    string
}

// DiscoveryRunner runs the discovery pipeline against one config document,
// outside of any job definition. Workers use it for standalone discovery
// tasks scheduled directly by task name.
type DiscoveryRunner interface {
	Run(ctx context.Context, cfg model.DiscoveryConfig) (*model.DiscoveryResult, error)
}

// EngineConfig bounds job engine behaviour.
type EngineConfig struct {
	// ChordTimeout caps the wait for a dispatched fan-out group.
	ChordTimeout time.Duration

	// ChordPollInterval is the delay between fan-out group state polls.
	ChordPollInterval time.Duration

	// CommandTimeout applies per command when a definition does not set
	// execution.timeout_seconds.
	CommandTimeout time.Duration

	// ProbeTimeout applies per probe (ping, port, SNMP) when an action does
	// not set timeout_seconds.
	ProbeTimeout time.Duration

	// PingCount is the echo request count per liveness check when an action
	// does not set count.
	PingCount int

	// LoopIterationCap bounds how many times any single action may execute
	// within one run, so a malformed definition cycle always terminates.
	LoopIterationCap int
}

// DefaultEngineConfig returns the default job engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ChordTimeout:      600 * time.Second,
		ChordPollInterval: 2 * time.Second,
		CommandTimeout:    30 * time.Second,
		ProbeTimeout:      time.Second,
		PingCount:         2,
		LoopIterationCap:  1000,
	}
}
