package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/netops-go/internal/data/database"
	"github.com/target/netops-go/internal/data/pgxutil"
	"github.com/target/netops-go/internal/domain/model"
)

// DevicesRepo provides the query side over scan-result devices and their
// interface rows. Bulk parser output flows through SinkRepo instead.
type DevicesRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewDevicesRepo creates a new DevicesRepo instance with the given database connection.
func NewDevicesRepo(db *sql.DB) *DevicesRepo {
	return &DevicesRepo{DB: db, clock: SystemClock{}}
}

// NewDevicesRepoWithClock injects the clock used for row timestamps; tests pin it.
func NewDevicesRepoWithClock(db *sql.DB, clock Clock) *DevicesRepo {
	return &DevicesRepo{DB: db, clock: clock}
}

const deviceColumns = `
  id,
  ip_address,
  hostname,
  dns_name,
  mac_address,
  vendor,
  model,
  os_version,
  serial_number,
  device_role,
  description,
  location,
  contact,
  uptime,
  open_ports,
  snmp_success,
  last_seen_at,
  created_at,
  updated_at
`

func getDeviceColumnList() []string {
	return []string{
		"id", "ip_address", "hostname", "dns_name", "mac_address", "vendor", "model",
		"os_version", "serial_number", "device_role", "description", "location",
		"contact", "uptime", "open_ports", "snmp_success", "last_seen_at",
		"created_at", "updated_at",
	}
}

const deviceInterfaceColumns = `
  id,
  ip_address,
  ifindex,
  name,
  status,
  speed,
  medium,
  lldp_neighbor,
  lldp_port,
  created_at,
  updated_at
`

// UpsertFromScan records a discovered device keyed by ip_address, refreshing
// last_seen_at and overwriting the scan-derived columns with this scan's
// facts. Empty discovered values become NULL.
func (r *DevicesRepo) UpsertFromScan(
	ctx context.Context,
	d *model.DiscoveredDevice,
) (*model.Device, error) {
	if d == nil {
		return nil, errors.New("discovered device is required")
	}
	if d.IPAddress == "" {
		return nil, errors.New("ip_address is required")
	}

	now := r.clock.Now().UTC()

	var openPorts any
	if len(d.OpenPorts) > 0 {
		encoded, err := json.Marshal(d.OpenPorts)
		if err != nil {
			return nil, fmt.Errorf("marshal open ports: %w", err)
		}
		openPorts = encoded
	}

	query := `
		INSERT INTO devices (
			ip_address, hostname, dns_name, mac_address, vendor, model, os_version,
			serial_number, device_role, description, location, contact, uptime,
			open_ports, snmp_success, last_seen_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16, $16)
		ON CONFLICT (ip_address) DO UPDATE
		SET hostname = EXCLUDED.hostname,
		    dns_name = EXCLUDED.dns_name,
		    mac_address = EXCLUDED.mac_address,
		    vendor = EXCLUDED.vendor,
		    model = EXCLUDED.model,
		    os_version = EXCLUDED.os_version,
		    serial_number = EXCLUDED.serial_number,
		    device_role = EXCLUDED.device_role,
		    description = EXCLUDED.description,
		    location = EXCLUDED.location,
		    contact = EXCLUDED.contact,
		    uptime = EXCLUDED.uptime,
		    open_ports = EXCLUDED.open_ports,
		    snmp_success = EXCLUDED.snmp_success,
		    last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + deviceColumns

	device, err := scanDevice(r.DB.QueryRowContext(ctx, query,
		d.IPAddress,
		nullIfEmpty(d.Hostname),
		nullIfEmpty(d.DNSName),
		nullIfEmpty(d.MACAddress),
		nullIfEmpty(d.Vendor),
		nullIfEmpty(d.Model),
		nullIfEmpty(d.OSVersion),
		nullIfEmpty(d.Serial),
		nullIfEmpty(d.DeviceRole),
		nullIfEmpty(d.Description),
		nullIfEmpty(d.Location),
		nullIfEmpty(d.Contact),
		nullIfEmpty(d.Uptime),
		openPorts,
		d.SNMPSuccess,
		now,
	).Scan)
	if err != nil {
		return nil, fmt.Errorf("upsert device from scan: %w", err)
	}

	return device, nil
}

// GetByIP fetches a device by ip_address.
func (r *DevicesRepo) GetByIP(ctx context.Context, ip string) (*model.Device, error) {
	if ip == "" {
		return nil, errors.New("ip is required")
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE ip_address = $1
	`

	device, err := scanDevice(r.DB.QueryRowContext(ctx, query, ip).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// List returns devices matching the options, most recently seen first.
func (r *DevicesRepo) List(ctx context.Context, opts model.DevicesListOptions) ([]model.Device, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	q := database.NewListQuery("devices").
		Select(getDeviceColumnList()...).
		OrderBy("last_seen_at", "DESC").
		Page(limit, offset)

	if opts.Vendor != nil {
		q.Where(database.WhereCond("vendor", database.OpEq, *opts.Vendor))
	}
	if opts.DeviceRole != nil {
		q.Where(database.WhereCond("device_role", database.OpEq, *opts.DeviceRole))
	}
	if opts.Q != nil && *opts.Q != "" {
		q.Where(database.WhereRawCond("(ip_address ILIKE $1 OR hostname ILIKE $1)", "%"+*opts.Q+"%"))
	}

	query, args := q.Build()

	var devices []model.Device
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToDevice)
		if collectErr != nil {
			return collectErr
		}
		devices = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	return devices, nil
}

// ListInterfaces returns the interface rows for one device ip, ordered by ifindex.
func (r *DevicesRepo) ListInterfaces(ctx context.Context, ip string) ([]model.DeviceInterface, error) {
	if ip == "" {
		return nil, errors.New("ip is required")
	}

	query := `
		SELECT ` + deviceInterfaceColumns + `
		FROM device_interfaces
		WHERE ip_address = $1
		ORDER BY ifindex ASC
	`

	var interfaces []model.DeviceInterface
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, query, ip)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToDeviceInterface)
		if collectErr != nil {
			return collectErr
		}
		interfaces = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list device interfaces: %w", err)
	}

	return interfaces, nil
}

// nullIfEmpty converts an empty string to a SQL NULL argument.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// deviceRow matches the devices schema exactly, allowing
// pgx.RowToStructByName to work.
type deviceRow struct {
	ID           string         `db:"id"`
	IPAddress    string         `db:"ip_address"`
	Hostname     sql.NullString `db:"hostname"`
	DNSName      sql.NullString `db:"dns_name"`
	MACAddress   sql.NullString `db:"mac_address"`
	Vendor       sql.NullString `db:"vendor"`
	Model        sql.NullString `db:"model"`
	OSVersion    sql.NullString `db:"os_version"`
	SerialNumber sql.NullString `db:"serial_number"`
	DeviceRole   sql.NullString `db:"device_role"`
	Description  sql.NullString `db:"description"`
	Location     sql.NullString `db:"location"`
	Contact      sql.NullString `db:"contact"`
	Uptime       sql.NullString `db:"uptime"`
	OpenPorts    []byte         `db:"open_ports"`
	SNMPSuccess  bool           `db:"snmp_success"`
	LastSeenAt   time.Time      `db:"last_seen_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// toModel converts a deviceRow to model.Device.
func (r *deviceRow) toModel() model.Device {
	if r == nil {
		return model.Device{}
	}

	device := model.Device{
		ID:          r.ID,
		IPAddress:   r.IPAddress,
		SNMPSuccess: r.SNMPSuccess,
		LastSeenAt:  r.LastSeenAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	assignNullString := func(dst **string, src sql.NullString) {
		if src.Valid {
			v := src.String
			*dst = &v
		}
	}
	assignNullString(&device.Hostname, r.Hostname)
	assignNullString(&device.DNSName, r.DNSName)
	assignNullString(&device.MACAddress, r.MACAddress)
	assignNullString(&device.Vendor, r.Vendor)
	assignNullString(&device.Model, r.Model)
	assignNullString(&device.OSVersion, r.OSVersion)
	assignNullString(&device.SerialNumber, r.SerialNumber)
	assignNullString(&device.DeviceRole, r.DeviceRole)
	assignNullString(&device.Description, r.Description)
	assignNullString(&device.Location, r.Location)
	assignNullString(&device.Contact, r.Contact)
	assignNullString(&device.Uptime, r.Uptime)

	if r.OpenPorts != nil {
		device.OpenPorts = json.RawMessage(r.OpenPorts)
	}

	return device
}

// rowToDevice maps a pgx row to model.Device using pgx v5 generics.
func rowToDevice(row pgx.CollectableRow) (model.Device, error) {
	dbRow, err := pgx.RowToStructByName[deviceRow](row)
	if err != nil {
		return model.Device{}, fmt.Errorf("scan device row: %w", err)
	}
	return dbRow.toModel(), nil
}

// scanDevice scans one device through a database/sql Scan function, in
// deviceColumns order.
func scanDevice(scan func(dest ...any) error) (*model.Device, error) {
	var row deviceRow
	err := scan(
		&row.ID,
		&row.IPAddress,
		&row.Hostname,
		&row.DNSName,
		&row.MACAddress,
		&row.Vendor,
		&row.Model,
		&row.OSVersion,
		&row.SerialNumber,
		&row.DeviceRole,
		&row.Description,
		&row.Location,
		&row.Contact,
		&row.Uptime,
		&row.OpenPorts,
		&row.SNMPSuccess,
		&row.LastSeenAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	device := row.toModel()
	return &device, nil
}

// deviceInterfaceRow matches the device_interfaces schema exactly, allowing
// pgx.RowToStructByName to work.
type deviceInterfaceRow struct {
	ID           string         `db:"id"`
	IPAddress    string         `db:"ip_address"`
	IfIndex      int            `db:"ifindex"`
	Name         sql.NullString `db:"name"`
	Status       sql.NullString `db:"status"`
	Speed        sql.NullString `db:"speed"`
	Medium       sql.NullString `db:"medium"`
	LLDPNeighbor sql.NullString `db:"lldp_neighbor"`
	LLDPPort     sql.NullString `db:"lldp_port"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// toModel converts a deviceInterfaceRow to model.DeviceInterface.
func (r *deviceInterfaceRow) toModel() model.DeviceInterface {
	iface := model.DeviceInterface{
		ID:        r.ID,
		IPAddress: r.IPAddress,
		IfIndex:   r.IfIndex,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	assignNullString := func(dst **string, src sql.NullString) {
		if src.Valid {
			v := src.String
			*dst = &v
		}
	}
	assignNullString(&iface.Name, r.Name)
	assignNullString(&iface.Status, r.Status)
	assignNullString(&iface.Speed, r.Speed)
	assignNullString(&iface.Medium, r.Medium)
	assignNullString(&iface.LLDPNeighbor, r.LLDPNeighbor)
	assignNullString(&iface.LLDPPort, r.LLDPPort)

	return iface
}

// rowToDeviceInterface maps a pgx row to model.DeviceInterface using pgx v5 generics.
func rowToDeviceInterface(row pgx.CollectableRow) (model.DeviceInterface, error) {
	dbRow, err := pgx.RowToStructByName[deviceInterfaceRow](row)
	if err != nil {
		return model.DeviceInterface{}, fmt.Errorf("scan device interface row: %w", err)
	}
	return dbRow.toModel(), nil
}
