package model

import (
	"errors"
	"strings"
)

// SyncMode controls which inventory mutations reconciliation may perform.
type SyncMode string

const (
	SyncModeCreateOnly   SyncMode = "create_only"
	SyncModeUpdateOnly   SyncMode = "update_only"
	SyncModeCreateUpdate SyncMode = "create_update"
)

// Valid reports whether the sync mode is supported.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeCreateOnly, SyncModeUpdateOnly, SyncModeCreateUpdate:
		return true
	default:
		return false
	}
}

// MatchBy selects how a discovered device is matched against inventory.
type MatchBy string

const (
	MatchByIP       MatchBy = "ip"
	MatchByName     MatchBy = "name"
	MatchByIPOrName MatchBy = "ip_or_name"
	MatchByMAC      MatchBy = "mac"
	MatchBySerial   MatchBy = "serial"
)

// Valid reports whether the match policy is supported.
func (m MatchBy) Valid() bool {
	switch m {
	case MatchByIP, MatchByName, MatchByIPOrName, MatchByMAC, MatchBySerial:
		return true
	default:
		return false
	}
}

// DeviceNaming selects how a created device is named.
type DeviceNaming string

const (
	DeviceNamingHostnameOrIP DeviceNaming = "hostname_or_ip"
	DeviceNamingHostnameOnly DeviceNaming = "hostname_only"
	DeviceNamingIPOnly       DeviceNaming = "ip_only"
	DeviceNamingPrefixIP     DeviceNaming = "prefix_ip"
	DeviceNamingDNSReverse   DeviceNaming = "dns_reverse"
)

// Valid reports whether the naming policy is supported.
func (n DeviceNaming) Valid() bool {
	switch n {
	case DeviceNamingHostnameOrIP, DeviceNamingHostnameOnly, DeviceNamingIPOnly,
		DeviceNamingPrefixIP, DeviceNamingDNSReverse:
		return true
	default:
		return false
	}
}

// DiscoveredInterface is one interface observed on a live host during a
// pipeline run or parsed out of CLI output.
type DiscoveredInterface struct {
	Port     int    `json:"port,omitempty"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status,omitempty"`
	Speed    string `json:"speed,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Neighbor string `json:"neighbor,omitempty"`
}

// DiscoveredDevice is the pipeline output for one live host. Records are
// transient within a run; reconciled facts become owned by Inventory.
type DiscoveredDevice struct {
	IPAddress   string                `json:"ip_address"`
	DNSName     string                `json:"dns_name,omitempty"`
	Hostname    string                `json:"hostname,omitempty"`
	MACAddress  string                `json:"mac_address,omitempty"`
	Vendor      string                `json:"vendor,omitempty"`
	Model       string                `json:"model,omitempty"`
	OSVersion   string                `json:"os_version,omitempty"`
	Serial      string                `json:"serial,omitempty"`
	DeviceRole  string                `json:"device_role,omitempty"`
	Description string                `json:"description,omitempty"`
	Location    string                `json:"location,omitempty"`
	Contact     string                `json:"contact,omitempty"`
	Uptime      string                `json:"uptime,omitempty"`
	OpenPorts   []int                 `json:"open_ports,omitempty"`
	Services    []string              `json:"services,omitempty"`
	Interfaces  []DiscoveredInterface `json:"interfaces,omitempty"`
	SNMPSuccess bool                  `json:"snmp_success"`
}

// DisplayName returns the best human-readable identifier for the device.
func (d *DiscoveredDevice) DisplayName() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	if d.DNSName != "" {
		return d.DNSName
	}
	return d.IPAddress
}

// DiscoveryConfig drives one discovery pipeline run.
type DiscoveryConfig struct {
	Targeting   Targeting `json:"targeting"`
	Ports       []int     `json:"ports,omitempty"`
	Communities []string  `json:"communities,omitempty"`

	PingCount          int  `json:"ping_count,omitempty"`
	PingTimeoutSeconds int  `json:"ping_timeout_seconds,omitempty"`
	PortTimeoutSeconds int  `json:"port_timeout_seconds,omitempty"`
	SNMPTimeoutSeconds int  `json:"snmp_timeout_seconds,omitempty"`
	ReverseDNS         bool `json:"reverse_dns"`

	Sync         bool         `json:"sync"`
	SyncMode     SyncMode     `json:"sync_mode,omitempty"`
	MatchBy      MatchBy      `json:"match_by,omitempty"`
	DeviceNaming DeviceNaming `json:"device_naming,omitempty"`
	NamePrefix   string       `json:"name_prefix,omitempty"`

	AutoCreateManufacturer bool   `json:"auto_create_manufacturer"`
	AutoCreateDeviceType   bool   `json:"auto_create_device_type"`
	AutoCreateDeviceRole   bool   `json:"auto_create_device_role"`
	DefaultManufacturer    string `json:"default_manufacturer,omitempty"`
	DefaultDeviceType      string `json:"default_device_type,omitempty"`
	DefaultDeviceRole      string `json:"default_device_role,omitempty"`
}

// Normalize fills defaults for zero-valued knobs.
func (c *DiscoveryConfig) Normalize() {
	if c.PingCount <= 0 {
		c.PingCount = 2
	}
	if c.PingTimeoutSeconds <= 0 {
		c.PingTimeoutSeconds = 1
	}
	if c.PortTimeoutSeconds <= 0 {
		c.PortTimeoutSeconds = 1
	}
	if c.SNMPTimeoutSeconds <= 0 {
		c.SNMPTimeoutSeconds = 2
	}
	if c.SyncMode == "" {
		c.SyncMode = SyncModeCreateUpdate
	}
	if c.MatchBy == "" {
		c.MatchBy = MatchByIPOrName
	}
	if c.DeviceNaming == "" {
		c.DeviceNaming = DeviceNamingHostnameOrIP
	}
}

// Validate validates the DiscoveryConfig fields.
func (c *DiscoveryConfig) Validate() error {
	if err := c.Targeting.Validate(); err != nil {
		return err
	}
	if !c.SyncMode.Valid() {
		return errors.New("invalid sync_mode")
	}
	if !c.MatchBy.Valid() {
		return errors.New("invalid match_by")
	}
	if !c.DeviceNaming.Valid() {
		return errors.New("invalid device_naming")
	}
	if c.DeviceNaming == DeviceNamingPrefixIP && strings.TrimSpace(c.NamePrefix) == "" {
		return errors.New("name_prefix is required for prefix_ip naming")
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return errors.New("port out of range")
		}
	}
	return nil
}

// DiscoveryTotals counts pipeline progress per stage.
type DiscoveryTotals struct {
	Targets    int `json:"targets"`
	Live       int `json:"live"`
	Identified int `json:"identified"`
	Synced     int `json:"synced"`
}

// DiscoveryReport carries run-wide counters and failures.
type DiscoveryReport struct {
	Totals          DiscoveryTotals `json:"totals"`
	Errors          []string        `json:"errors,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// DiscoveryResult is the full outcome of one pipeline run. The slices carry
// device names (or IPs when unnamed) bucketed by reconciliation outcome.
type DiscoveryResult struct {
	Created []string        `json:"created"`
	Updated []string        `json:"updated"`
	Skipped []string        `json:"skipped"`
	Failed  []string        `json:"failed"`
	Report  DiscoveryReport `json:"report"`
}
