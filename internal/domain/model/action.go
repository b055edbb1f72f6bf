package model

import (
	"errors"
	"strings"
)

// ActionKind discriminates the executor for one step within a job definition.
// Unknown kinds are tolerated at run time for forward compatibility; the
// engine treats them as no-op successes unless the action is marked required.
type ActionKind string

const (
	ActionKindPing          ActionKind = "ping"
	ActionKindSNMPScan      ActionKind = "snmp_scan"
	ActionKindSSHScan       ActionKind = "ssh_scan"
	ActionKindRDPScan       ActionKind = "rdp_scan"
	ActionKindAutodiscovery ActionKind = "autodiscovery"
	ActionKindCustom        ActionKind = "custom"
	ActionKindLogicIf       ActionKind = "logic:if"
	ActionKindLogicSwitch   ActionKind = "logic:switch"
	ActionKindLogicLoop     ActionKind = "logic:loop"
)

// Known reports whether the kind has a first-party executor.
func (k ActionKind) Known() bool {
	switch k {
	case ActionKindPing, ActionKindSNMPScan, ActionKindSSHScan, ActionKindRDPScan,
		ActionKindAutodiscovery, ActionKindCustom,
		ActionKindLogicIf, ActionKindLogicSwitch, ActionKindLogicLoop:
		return true
	default:
		return false
	}
}

// Logic reports whether the kind is a control-flow node rather than a probe.
func (k ActionKind) Logic() bool {
	return strings.HasPrefix(string(k), "logic:")
}

// LoginMethodType selects the transport used to reach a target.
type LoginMethodType string

const (
	LoginMethodPing    LoginMethodType = "ping"
	LoginMethodSNMP    LoginMethodType = "snmp"
	LoginMethodSSHPort LoginMethodType = "ssh_port"
	LoginMethodSSHCLI  LoginMethodType = "ssh_cli"
	LoginMethodRDPPort LoginMethodType = "rdp_port"
)

// Valid reports whether the login method type is supported.
func (t LoginMethodType) Valid() bool {
	switch t {
	case LoginMethodPing, LoginMethodSNMP, LoginMethodSSHPort, LoginMethodSSHCLI, LoginMethodRDPPort:
		return true
	default:
		return false
	}
}

// LoginMethod carries protocol-specific connection parameters.
type LoginMethod struct {
	Type      LoginMethodType `json:"type"`
	Community string          `json:"community,omitempty"`
	Username  string          `json:"username,omitempty"`
	Password  string          `json:"password,omitempty"`
	Port      int             `json:"port,omitempty"`
}

// CommandStep is one element of a multi-command execution. Foreach iterates
// over items previously stored under the named key; Filter skips items whose
// fields do not all match exactly.
type CommandStep struct {
	ID        string         `json:"id"`
	Template  string         `json:"template"`
	ParserRef string         `json:"parser_ref,omitempty"`
	Foreach   string         `json:"foreach,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
	StoreAs   string         `json:"store_as,omitempty"`
}

// ExecutionSpec describes what an action runs against each target: either a
// single templated command with a timeout, or an ordered commands list.
type ExecutionSpec struct {
	Command        string        `json:"command,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
	Commands       []CommandStep `json:"commands,omitempty"`
}

// Multi reports whether the spec is in multi-command mode.
func (s *ExecutionSpec) Multi() bool {
	return s != nil && len(s.Commands) > 0
}

// ParserType discriminates how raw command output is turned into structured data.
type ParserType string

const (
	ParserTypeBuiltin ParserType = "builtin"
	ParserTypeRegex   ParserType = "regex"
	ParserTypeJSON    ParserType = "json"
)

// Valid reports whether the parser type is supported.
func (t ParserType) Valid() bool {
	switch t {
	case ParserTypeBuiltin, ParserTypeRegex, ParserTypeJSON:
		return true
	default:
		return false
	}
}

// Parser configures one named parser referenced from command steps.
// Builtin parsers are addressed by Name; regex parsers map output fields to
// patterns whose first capture group is taken as the value.
type Parser struct {
	Type     ParserType        `json:"type"`
	Name     string            `json:"name,omitempty"`
	Patterns map[string]string `json:"patterns,omitempty"`
}

// SinkOperation selects how parsed rows are written to a sink table.
type SinkOperation string

const (
	SinkOperationInsert SinkOperation = "insert"
	SinkOperationUpsert SinkOperation = "upsert"
	// SinkOperationUpdateLLDP patches existing interface rows keyed by (ip, port).
	SinkOperationUpdateLLDP SinkOperation = "update_lldp"
)

// Valid reports whether the sink operation is supported.
func (o SinkOperation) Valid() bool {
	switch o {
	case SinkOperationInsert, SinkOperationUpsert, SinkOperationUpdateLLDP:
		return true
	default:
		return false
	}
}

// SinkSpec routes a parsed object (or each element of a parsed list) into a
// table. Filter gates rows by exact field equality; the synthetic
// "has_power_reading" key is true iff any of tx/rx/temperature is non-null.
type SinkSpec struct {
	Table     string         `json:"table"`
	SourceKey string         `json:"source_key"`
	Operation SinkOperation  `json:"operation"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// Notifications configures per-action notification delivery.
type Notifications struct {
	Enabled   bool     `json:"enabled"`
	OnSuccess bool     `json:"on_success"`
	OnFailure bool     `json:"on_failure"`
	Targets   []string `json:"targets,omitempty"`
}

// Edge labels recognized on DAG edges between actions.
const (
	EdgeSuccess  = "success"
	EdgeFailure  = "failure"
	EdgeTrue     = "true"
	EdgeFalse    = "false"
	EdgeEach     = "each"
	EdgeComplete = "complete"
)

// Edge is one labeled outbound connection from an action. Traversal follows
// an edge only when its label is among the action's observed outcome handles.
type Edge struct {
	To    string `json:"to"`
	Label string `json:"label"`
}

// Action is a single step within a job definition.
type Action struct {
	ID            string            `json:"id"`
	Label         string            `json:"label,omitempty"`
	Type          ActionKind        `json:"type"`
	Enabled       bool              `json:"enabled"`
	Required      bool              `json:"required,omitempty"`
	LoginMethod   *LoginMethod      `json:"login_method,omitempty"`
	Targeting     *Targeting        `json:"targeting,omitempty"`
	Parameters    map[string]any    `json:"parameters,omitempty"`
	Execution     *ExecutionSpec    `json:"execution,omitempty"`
	ResultParsing map[string]Parser `json:"result_parsing,omitempty"`
	Database      []SinkSpec        `json:"database,omitempty"`
	Notifications *Notifications    `json:"notifications,omitempty"`
	Edges         []Edge            `json:"edges,omitempty"`
}

// Validate checks the structural invariants of an action. Unknown kinds pass
// so that definitions written for newer executors still load.
func (a *Action) Validate() error {
	if a.ID == "" {
		return errors.New("action id is required")
	}
	if a.Type == "" {
		return errors.New("action type is required")
	}
	if a.LoginMethod != nil && !a.LoginMethod.Type.Valid() {
		return errors.New("invalid login_method type")
	}
	if a.Targeting != nil {
		if err := a.Targeting.Validate(); err != nil {
			return err
		}
	}
	for name, p := range a.ResultParsing {
		if !p.Type.Valid() {
			return errors.New("invalid parser type for " + name)
		}
		if p.Type == ParserTypeBuiltin && p.Name == "" {
			return errors.New("builtin parser " + name + " requires a name")
		}
		if p.Type == ParserTypeRegex && len(p.Patterns) == 0 {
			return errors.New("regex parser " + name + " requires patterns")
		}
	}
	for i := range a.Database {
		sink := &a.Database[i]
		if sink.Table == "" {
			return errors.New("sink table is required")
		}
		if sink.SourceKey == "" {
			return errors.New("sink source_key is required")
		}
		if !sink.Operation.Valid() {
			return errors.New("invalid sink operation")
		}
	}
	for i := range a.Edges {
		if a.Edges[i].To == "" {
			return errors.New("edge target is required")
		}
		if a.Edges[i].Label == "" {
			return errors.New("edge label is required")
		}
	}
	return nil
}
