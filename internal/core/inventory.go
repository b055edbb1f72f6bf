package core

import (
	"context"

	"github.com/target/netops-go/internal/domain/model"
)

// InventoryClient defines the resource-oriented contract with the inventory
// service. Every Ensure method is find-or-create: it returns the existing
// resource when the natural key already exists, and the implementation must
// behave serializably from the caller's perspective under concurrent
// invocation (discovery reconciles many devices in parallel).
type InventoryClient interface {
	// FindDevice looks a device up by any combination of the query fields.
	// Returns (nil, nil) when no device matches.
	FindDevice(ctx context.Context, q FindDeviceQuery) (*model.InventoryDevice, error)

	// CreateDevice creates a device record.
	CreateDevice(ctx context.Context, p CreateInventoryDeviceParams) (*model.InventoryDevice, error)

	// UpdateDevice patches a device record. Nil fields are left untouched.
	UpdateDevice(ctx context.Context, id string, p UpdateInventoryDeviceParams) (*model.InventoryDevice, error)

	// EnsureRole resolves a device role name to its id, creating it on miss.
	EnsureRole(ctx context.Context, name string) (string, error)

	// EnsureManufacturer resolves a manufacturer name to its id, creating it on miss.
	EnsureManufacturer(ctx context.Context, name string) (string, error)

	// EnsureDeviceType resolves (manufacturer id, model) to a device type id,
	// creating it on miss.
	EnsureDeviceType(ctx context.Context, manufacturerID, mdl string) (string, error)

	// EnsureTag resolves a tag name to its id, creating it on miss.
	EnsureTag(ctx context.Context, name string) (string, error)

	// EnsureInterface resolves (device id, interface name) to an interface,
	// creating it on miss.
	EnsureInterface(ctx context.Context, p EnsureInterfaceParams) (*model.InventoryInterface, error)

	// EnsureIPAddress resolves an address to an IP record, creating it on miss.
	EnsureIPAddress(ctx context.Context, address string) (*model.InventoryIPAddress, error)

	// AssignIP binds an IP record to a device interface.
	AssignIP(ctx context.Context, p AssignIPParams) (*model.InventoryIPAddress, error)

	// SetPrimaryIPv4 marks an assigned IP as the device's primary IPv4.
	SetPrimaryIPv4(ctx context.Context, deviceID, ipID string) error

	// PrefixCIDR returns the CIDR of a managed prefix by id.
	PrefixCIDR(ctx context.Context, prefixID string) (string, error)

	// IPRangeBounds returns the inclusive start and end addresses of a
	// managed IP range by id.
	IPRangeBounds(ctx context.Context, rangeID string) (start, end string, err error)
}

// FindDeviceQuery selects a device by whichever fields are set.
type FindDeviceQuery struct {
	Name   string
	IP     string
	MAC    string
	Serial string
}

// CreateInventoryDeviceParams groups parameters for InventoryClient.CreateDevice.
type CreateInventoryDeviceParams struct {
	Name         string
	RoleID       string
	DeviceTypeID string
	Site         string
	Serial       string
	Description  string
	Tags         []string
}

// UpdateInventoryDeviceParams patches a device; nil fields are untouched.
type UpdateInventoryDeviceParams struct {
	Name         *string
	RoleID       *string
	DeviceTypeID *string
	Serial       *string
	Description  *string
	AddTags      []string
}

// EnsureInterfaceParams groups parameters for InventoryClient.EnsureInterface.
type EnsureInterfaceParams struct {
	DeviceID string
	Name     string
	MgmtOnly bool
}

// AssignIPParams groups parameters for InventoryClient.AssignIP.
type AssignIPParams struct {
	DeviceID    string
	InterfaceID string
	Address     string
}
