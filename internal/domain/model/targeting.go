package model

import (
	"errors"
	"strings"
)

// TargetingType discriminates how an action's target IPs are produced.
type TargetingType string

const (
	// TargetingStaticList is an explicit list of IPs, one per entry.
	TargetingStaticList TargetingType = "static_list"
	// TargetingNetworkRange expands a CIDR to host addresses.
	TargetingNetworkRange TargetingType = "network_range"
	// TargetingIPRange expands an inclusive start-end address range.
	TargetingIPRange TargetingType = "ip_range"
	// TargetingDatabaseQuery yields IPs from a named query or literal SQL.
	TargetingDatabaseQuery TargetingType = "database_query"
	// TargetingGroupReference resolves a stored device group to its IPs.
	TargetingGroupReference TargetingType = "group_reference"
	// TargetingPreviousResult pulls IPs from a prior action's output field.
	TargetingPreviousResult TargetingType = "previous_result"
	// TargetingInventoryPrefix expands a prefix fetched from Inventory.
	TargetingInventoryPrefix TargetingType = "inventory_prefix"
	// TargetingInventoryIPRange expands an IP range fetched from Inventory.
	TargetingInventoryIPRange TargetingType = "inventory_ip_range"
)

// Valid reports whether the targeting type is supported.
func (t TargetingType) Valid() bool {
	switch t {
	case TargetingStaticList, TargetingNetworkRange, TargetingIPRange,
		TargetingDatabaseQuery, TargetingGroupReference, TargetingPreviousResult,
		TargetingInventoryPrefix, TargetingInventoryIPRange:
		return true
	default:
		return false
	}
}

// Targeting describes which IPs an action runs against. Exactly the fields
// for the selected type are consulted; the rest are ignored.
type Targeting struct {
	Type       TargetingType `json:"type"`
	IPs        []string      `json:"ips,omitempty"`
	CIDR       string        `json:"cidr,omitempty"`
	Exclude    []string      `json:"exclude,omitempty"`
	StartIP    string        `json:"start_ip,omitempty"`
	EndIP      string        `json:"end_ip,omitempty"`
	NamedQuery string        `json:"named_query,omitempty"`
	SQL        string        `json:"sql,omitempty"`
	GroupID    string        `json:"group_id,omitempty"`
	Field      string        `json:"field,omitempty"`
	PrefixID   string        `json:"prefix_id,omitempty"`
	RangeID    string        `json:"range_id,omitempty"`
}

// Validate checks that the fields required by the targeting type are present.
// It does not parse addresses; malformed entries are skipped at resolve time.
func (t *Targeting) Validate() error {
	if !t.Type.Valid() {
		return errors.New("invalid targeting type")
	}
	switch t.Type {
	case TargetingStaticList:
		if len(t.IPs) == 0 {
			return errors.New("static_list targeting requires ips")
		}
	case TargetingNetworkRange:
		if strings.TrimSpace(t.CIDR) == "" {
			return errors.New("network_range targeting requires cidr")
		}
	case TargetingIPRange:
		if t.StartIP == "" || t.EndIP == "" {
			return errors.New("ip_range targeting requires start_ip and end_ip")
		}
	case TargetingDatabaseQuery:
		if t.NamedQuery == "" && t.SQL == "" {
			return errors.New("database_query targeting requires named_query or sql")
		}
	case TargetingGroupReference:
		if t.GroupID == "" {
			return errors.New("group_reference targeting requires group_id")
		}
	case TargetingPreviousResult:
		if t.Field == "" {
			return errors.New("previous_result targeting requires field")
		}
	case TargetingInventoryPrefix:
		if t.PrefixID == "" {
			return errors.New("inventory_prefix targeting requires prefix_id")
		}
	case TargetingInventoryIPRange:
		if t.RangeID == "" {
			return errors.New("inventory_ip_range targeting requires range_id")
		}
	}
	return nil
}
