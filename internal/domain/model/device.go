package model

import (
	"encoding/json"
	"time"
)

// Device is a scan-result row addressable by ip_address. Probe actions and
// the discovery pipeline upsert into it; history lives in the per-interface
// tables.
type Device struct {
	ID           string          `json:"id"                      db:"id"`
	IPAddress    string          `json:"ip_address"              db:"ip_address"`
	Hostname     *string         `json:"hostname,omitempty"      db:"hostname"`
	DNSName      *string         `json:"dns_name,omitempty"      db:"dns_name"`
	MACAddress   *string         `json:"mac_address,omitempty"   db:"mac_address"`
	Vendor       *string         `json:"vendor,omitempty"        db:"vendor"`
	Model        *string         `json:"model,omitempty"         db:"model"`
	OSVersion    *string         `json:"os_version,omitempty"    db:"os_version"`
	SerialNumber *string         `json:"serial_number,omitempty" db:"serial_number"`
	DeviceRole   *string         `json:"device_role,omitempty"   db:"device_role"`
	Description  *string         `json:"description,omitempty"   db:"description"`
	Location     *string         `json:"location,omitempty"      db:"location"`
	Contact      *string         `json:"contact,omitempty"       db:"contact"`
	Uptime       *string         `json:"uptime,omitempty"        db:"uptime"`
	OpenPorts    json.RawMessage `json:"open_ports,omitempty"    db:"open_ports"`
	SNMPSuccess  bool            `json:"snmp_success"            db:"snmp_success"`
	LastSeenAt   time.Time       `json:"last_seen_at"            db:"last_seen_at"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
}

// DeviceInterface is one SSH/CLI-inventoried interface row, unique per
// (ip_address, ifindex).
type DeviceInterface struct {
	ID           string    `json:"id"                      db:"id"`
	IPAddress    string    `json:"ip_address"              db:"ip_address"`
	IfIndex      int       `json:"ifindex"                 db:"ifindex"`
	Name         *string   `json:"name,omitempty"          db:"name"`
	Status       *string   `json:"status,omitempty"        db:"status"`
	Speed        *string   `json:"speed,omitempty"         db:"speed"`
	Medium       *string   `json:"medium,omitempty"        db:"medium"`
	LLDPNeighbor *string   `json:"lldp_neighbor,omitempty" db:"lldp_neighbor"`
	LLDPPort     *string   `json:"lldp_port,omitempty"     db:"lldp_port"`
	CreatedAt    time.Time `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"              db:"updated_at"`
}

// OpticalPowerReading is one optical power history sample for an interface,
// unique per (ip_address, ifindex, recorded_at).
type OpticalPowerReading struct {
	ID            string    `json:"id"                       db:"id"`
	IPAddress     string    `json:"ip_address"               db:"ip_address"`
	IfIndex       int       `json:"ifindex"                  db:"ifindex"`
	InterfaceName *string   `json:"interface_name,omitempty" db:"interface_name"`
	TxPowerDBm    *float64  `json:"tx_power_dbm,omitempty"   db:"tx_power_dbm"`
	RxPowerDBm    *float64  `json:"rx_power_dbm,omitempty"   db:"rx_power_dbm"`
	TemperatureC  *float64  `json:"temperature_c,omitempty"  db:"temperature_c"`
	RecordedAt    time.Time `json:"recorded_at"              db:"recorded_at"`
}

// HasPowerReading reports whether any of tx/rx/temperature is present.
// Sink filters use this as the synthetic has_power_reading predicate.
func (r *OpticalPowerReading) HasPowerReading() bool {
	return r.TxPowerDBm != nil || r.RxPowerDBm != nil || r.TemperatureC != nil
}

// DevicesListOptions controls filtering for listing scan-result devices.
// Notes:
// - Vendor and DeviceRole match exactly.
// - Q matches ip_address or hostname via ILIKE substring.
// - Rows are returned newest last_seen_at first.
type DevicesListOptions struct {
	Limit      int
	Offset     int
	Vendor     *string
	DeviceRole *string
	Q          *string
}
