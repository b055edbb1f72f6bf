package model

// Inventory resource views. These mirror the subset of the inventory
// service's API that discovery reconciliation and targeting consume; fields
// the platform never reads are not carried.

// InventoryPrefix is a managed network prefix.
type InventoryPrefix struct {
	ID   string `json:"id"`
	CIDR string `json:"cidr"`
	Site string `json:"site,omitempty"`
}

// InventoryIPRange is a managed start/end address range.
type InventoryIPRange struct {
	ID           string `json:"id"`
	StartAddress string `json:"start_address"`
	EndAddress   string `json:"end_address"`
}

// InventoryDevice is a device record in the inventory service.
type InventoryDevice struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role,omitempty"`
	Site        string   `json:"site,omitempty"`
	Serial      string   `json:"serial,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PrimaryIPID string   `json:"primary_ip_id,omitempty"`
}

// HasTag reports whether the device carries the given tag.
func (d *InventoryDevice) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// InventoryInterface is an interface attached to an inventory device.
type InventoryInterface struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	MgmtOnly bool   `json:"mgmt_only,omitempty"`
}

// InventoryIPAddress is an IP address record, optionally assigned to an
// interface.
type InventoryIPAddress struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	InterfaceID string `json:"interface_id,omitempty"`
}
