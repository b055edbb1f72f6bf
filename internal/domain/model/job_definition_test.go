package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinition = `{
	"id": "JD1",
	"name": "uplink-audit",
	"description": "Audit switch uplinks and record optical power",
	"enabled": true,
	"actions": [
		{
			"id": "ping-sweep",
			"type": "ping",
			"enabled": true,
			"targeting": {"type": "network_range", "cidr": "10.20.0.0/24", "exclude": ["10.20.0.1"]},
			"edges": [{"to": "collect", "label": "success"}]
		},
		{
			"id": "collect",
			"label": "uplinks",
			"type": "ssh_scan",
			"enabled": true,
			"login_method": {"type": "ssh_cli", "username": "ops", "password": "secret"},
			"targeting": {"type": "previous_result", "field": "online"},
			"execution": {
				"commands": [
					{"id": "ifaces", "template": "show interface brief", "parser_ref": "interface_brief", "store_as": "interfaces"},
					{"id": "power", "template": "show interface {{item.name}} transceiver", "parser_ref": "optical_power", "foreach": "interfaces", "filter": {"medium": "fiber"}}
				]
			},
			"result_parsing": {
				"interface_brief": {"type": "builtin", "name": "interface_brief"},
				"optical_power": {"type": "builtin", "name": "optical_power"}
			},
			"database": [
				{"table": "device_interfaces", "source_key": "interfaces", "operation": "upsert"},
				{"table": "optical_power_readings", "source_key": "interfaces", "operation": "insert", "filter": {"has_power_reading": true}}
			],
			"notifications": {"enabled": true, "on_failure": true, "targets": ["noc"]}
		}
	],
	"config": {"error_handling": "continue"}
}`

func TestJobDefinition_DecodeSample(t *testing.T) {
	var def JobDefinition
	require.NoError(t, json.Unmarshal([]byte(sampleDefinition), &def))

	assert.Equal(t, "JD1", def.ID)
	assert.Equal(t, ErrorHandlingContinue, def.ErrorHandling())
	require.Len(t, def.Actions, 2)

	ping := def.Actions[0]
	assert.Equal(t, ActionKindPing, ping.Type)
	require.NotNil(t, ping.Targeting)
	assert.Equal(t, TargetingNetworkRange, ping.Targeting.Type)
	require.Len(t, ping.Edges, 1)
	assert.Equal(t, "collect", ping.Edges[0].To)
	assert.Equal(t, EdgeSuccess, ping.Edges[0].Label)

	collect := def.Actions[1]
	require.NotNil(t, collect.Execution)
	assert.True(t, collect.Execution.Multi())
	require.Len(t, collect.Execution.Commands, 2)
	assert.Equal(t, "interfaces", collect.Execution.Commands[1].Foreach)
	assert.Equal(t, "fiber", collect.Execution.Commands[1].Filter["medium"])
	require.Len(t, collect.Database, 2)
	assert.Equal(t, SinkOperationInsert, collect.Database[1].Operation)
	assert.Equal(t, true, collect.Database[1].Filter["has_power_reading"])
}

func TestJobDefinition_EnabledActions(t *testing.T) {
	def := JobDefinition{
		Actions: []Action{
			{ID: "a", Type: ActionKindPing, Enabled: true},
			{ID: "b", Type: ActionKindSSHScan, Enabled: false},
			{ID: "c", Type: ActionKindCustom, Enabled: true},
		},
	}

	enabled := def.EnabledActions()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].ID)
	assert.Equal(t, "c", enabled[1].ID)
}

func TestJobDefinition_ErrorHandling_Abort(t *testing.T) {
	def := JobDefinition{Config: map[string]any{"error_handling": "abort"}}
	assert.Equal(t, ErrorHandlingAbort, def.ErrorHandling())

	def = JobDefinition{}
	assert.Equal(t, ErrorHandlingContinue, def.ErrorHandling())
}

func TestUpsertJobDefinitionRequest_Validate(t *testing.T) {
	valid := func() UpsertJobDefinitionRequest {
		return UpsertJobDefinitionRequest{
			ID:   "JD1",
			Name: "uplink-audit",
			Actions: []Action{
				{ID: "a", Type: ActionKindPing, Enabled: true},
				{ID: "b", Type: ActionKindSSHScan, Enabled: true},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		req := valid()
		assert.NoError(t, req.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		req := valid()
		req.ID = ""
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "id is required")
	})

	t.Run("no actions", func(t *testing.T) {
		req := valid()
		req.Actions = nil
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "actions is required")
	})

	t.Run("duplicate action ids", func(t *testing.T) {
		req := valid()
		req.Actions[1].ID = "a"
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate action id")
	})

	t.Run("edge to unknown action", func(t *testing.T) {
		req := valid()
		req.Actions[0].Edges = []Edge{{To: "ghost", Label: EdgeSuccess}}
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown action")
	})

	t.Run("builtin parser without name", func(t *testing.T) {
		req := valid()
		req.Actions[0].ResultParsing = map[string]Parser{
			"p": {Type: ParserTypeBuiltin},
		}
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a name")
	})
}

func TestActionKind_Logic(t *testing.T) {
	assert.True(t, ActionKindLogicIf.Logic())
	assert.True(t, ActionKindLogicSwitch.Logic())
	assert.True(t, ActionKindLogicLoop.Logic())
	assert.False(t, ActionKindPing.Logic())
	assert.False(t, ActionKindCustom.Logic())
}

func TestActionKind_Known(t *testing.T) {
	assert.True(t, ActionKindAutodiscovery.Known())
	assert.False(t, ActionKind("firmware_upgrade").Known())
}
