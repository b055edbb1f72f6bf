package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetingType_Valid(t *testing.T) {
	assert.True(t, TargetingStaticList.Valid())
	assert.True(t, TargetingNetworkRange.Valid())
	assert.True(t, TargetingInventoryIPRange.Valid())
	assert.False(t, TargetingType("dns_zone").Valid())
}

func TestTargeting_Validate(t *testing.T) {
	tests := []struct {
		name        string
		targeting   Targeting
		expectError bool
		errorMsg    string
	}{
		{
			name:      "static list",
			targeting: Targeting{Type: TargetingStaticList, IPs: []string{"10.0.0.1"}},
		},
		{
			name:        "static list without ips",
			targeting:   Targeting{Type: TargetingStaticList},
			expectError: true,
			errorMsg:    "requires ips",
		},
		{
			name:      "network range",
			targeting: Targeting{Type: TargetingNetworkRange, CIDR: "192.168.1.0/24"},
		},
		{
			name:        "network range without cidr",
			targeting:   Targeting{Type: TargetingNetworkRange},
			expectError: true,
			errorMsg:    "requires cidr",
		},
		{
			name:      "ip range",
			targeting: Targeting{Type: TargetingIPRange, StartIP: "10.0.0.1", EndIP: "10.0.0.9"},
		},
		{
			name:        "ip range missing end",
			targeting:   Targeting{Type: TargetingIPRange, StartIP: "10.0.0.1"},
			expectError: true,
			errorMsg:    "requires start_ip and end_ip",
		},
		{
			name:      "database query by name",
			targeting: Targeting{Type: TargetingDatabaseQuery, NamedQuery: "live_switches"},
		},
		{
			name:        "database query without query",
			targeting:   Targeting{Type: TargetingDatabaseQuery},
			expectError: true,
			errorMsg:    "requires named_query or sql",
		},
		{
			name:      "previous result",
			targeting: Targeting{Type: TargetingPreviousResult, Field: "online"},
		},
		{
			name:        "previous result without field",
			targeting:   Targeting{Type: TargetingPreviousResult},
			expectError: true,
			errorMsg:    "requires field",
		},
		{
			name:        "unknown type",
			targeting:   Targeting{Type: TargetingType("dns_zone")},
			expectError: true,
			errorMsg:    "invalid targeting type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.targeting.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
