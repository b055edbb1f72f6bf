package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/testutil"
)

func TestDevicesRepo_UpsertFromScan(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := testutil.TestTime()
		repo := NewDevicesRepoWithClock(db, FixedClock{At: now})
		ctx := context.Background()

		scan := testutil.DiscoveredSwitch("192.0.2.10")
		device, err := repo.UpsertFromScan(ctx, scan)
		require.NoError(t, err)
		require.NotNil(t, device)

		assert.NotEmpty(t, device.ID)
		assert.Equal(t, "192.0.2.10", device.IPAddress)
		require.NotNil(t, device.Hostname)
		assert.Equal(t, "sw-192.0.2.10", *device.Hostname)
		require.NotNil(t, device.Vendor)
		assert.Equal(t, "arista", *device.Vendor)
		require.NotNil(t, device.Model)
		assert.Equal(t, "DCS-7050X", *device.Model)
		require.NotNil(t, device.OSVersion)
		assert.Equal(t, "4.30.1F", *device.OSVersion)
		require.NotNil(t, device.DeviceRole)
		assert.Equal(t, "switch", *device.DeviceRole)
		assert.True(t, device.SNMPSuccess)
		assert.JSONEq(t, "[22,161]", string(device.OpenPorts))
		assert.Equal(t, now, device.LastSeenAt.UTC())
		assert.Equal(t, now, device.CreatedAt.UTC())

		// Fields the scan never produced stay NULL.
		assert.Nil(t, device.MACAddress)
		assert.Nil(t, device.Location)
		assert.Nil(t, device.Contact)
	})
}

func TestDevicesRepo_UpsertFromScan_RefreshesExisting(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		firstSeen := testutil.TestTime()
		secondSeen := firstSeen.Add(time.Hour)
		ctx := context.Background()
		ip := "192.0.2.20"

		repo := NewDevicesRepoWithClock(db, FixedClock{At: firstSeen})
		original, err := repo.UpsertFromScan(ctx, testutil.DiscoveredSwitch(ip))
		require.NoError(t, err)

		// A later scan sees the device renamed with less detail.
		rescan := &model.DiscoveredDevice{
			IPAddress:   ip,
			Hostname:    "sw-renamed",
			Vendor:      "cisco",
			SNMPSuccess: false,
		}
		repo = NewDevicesRepoWithClock(db, FixedClock{At: secondSeen})
		refreshed, err := repo.UpsertFromScan(ctx, rescan)
		require.NoError(t, err)

		assert.Equal(t, original.ID, refreshed.ID)
		require.NotNil(t, refreshed.Hostname)
		assert.Equal(t, "sw-renamed", *refreshed.Hostname)
		require.NotNil(t, refreshed.Vendor)
		assert.Equal(t, "cisco", *refreshed.Vendor)
		assert.False(t, refreshed.SNMPSuccess)
		assert.Equal(t, secondSeen, refreshed.LastSeenAt.UTC())

		// Columns the rescan did not report are cleared, not kept.
		assert.Nil(t, refreshed.Model)
		assert.Nil(t, refreshed.OSVersion)
		assert.Nil(t, refreshed.DeviceRole)
		assert.Nil(t, refreshed.OpenPorts)

		// created_at is set once on first sight.
		assert.Equal(t, firstSeen, refreshed.CreatedAt.UTC())
	})
}

func TestDevicesRepo_UpsertFromScan_Invalid(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewDevicesRepo(db)
		ctx := context.Background()

		_, err := repo.UpsertFromScan(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "discovered device is required")

		_, err = repo.UpsertFromScan(ctx, &model.DiscoveredDevice{Hostname: "no-ip"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ip_address is required")
	})
}

func TestDevicesRepo_GetByIP(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewDevicesRepo(db)
		ctx := context.Background()

		_, err := repo.UpsertFromScan(ctx, testutil.DiscoveredSwitch("192.0.2.30"))
		require.NoError(t, err)

		device, err := repo.GetByIP(ctx, "192.0.2.30")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.30", device.IPAddress)
		require.NotNil(t, device.Hostname)
		assert.Equal(t, "sw-192.0.2.30", *device.Hostname)

		_, err = repo.GetByIP(ctx, "192.0.2.254")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		_, err = repo.GetByIP(ctx, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ip is required")
	})
}

func TestDevicesRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		base := testutil.TestTime()
		ctx := context.Background()
		prefix := fmt.Sprintf("lsw_%d_", time.Now().UnixNano())

		seed := func(ip, host, vendor, role string, seenAt time.Time) {
			repo := NewDevicesRepoWithClock(db, FixedClock{At: seenAt})
			scan := &model.DiscoveredDevice{
				IPAddress:  ip,
				Hostname:   prefix + host,
				Vendor:     vendor,
				DeviceRole: role,
			}
			_, err := repo.UpsertFromScan(ctx, scan)
			require.NoError(t, err)
		}

		seed("203.0.113.1", "core1", "arista", "switch", base)
		seed("203.0.113.2", "edge1", "cisco", "router", base.Add(time.Minute))
		seed("203.0.113.3", "core2", "arista", "switch", base.Add(2*time.Minute))

		repo := NewDevicesRepo(db)

		// Q scopes every query to this test's rows.
		all, err := repo.List(ctx, model.DevicesListOptions{Q: testutil.StringPtr(prefix)})
		require.NoError(t, err)
		require.Len(t, all, 3)

		// Most recently seen first.
		assert.Equal(t, "203.0.113.3", all[0].IPAddress)
		assert.Equal(t, "203.0.113.2", all[1].IPAddress)
		assert.Equal(t, "203.0.113.1", all[2].IPAddress)

		byVendor, err := repo.List(ctx, model.DevicesListOptions{
			Vendor: testutil.StringPtr("arista"),
			Q:      testutil.StringPtr(prefix),
		})
		require.NoError(t, err)
		require.Len(t, byVendor, 2)
		for _, d := range byVendor {
			require.NotNil(t, d.Vendor)
			assert.Equal(t, "arista", *d.Vendor)
		}

		byRole, err := repo.List(ctx, model.DevicesListOptions{
			DeviceRole: testutil.StringPtr("router"),
			Q:          testutil.StringPtr(prefix),
		})
		require.NoError(t, err)
		require.Len(t, byRole, 1)
		assert.Equal(t, "203.0.113.2", byRole[0].IPAddress)

		// Q also matches on ip_address.
		byIP, err := repo.List(ctx, model.DevicesListOptions{Q: testutil.StringPtr("203.0.113.2")})
		require.NoError(t, err)
		require.Len(t, byIP, 1)
		require.NotNil(t, byIP[0].Hostname)
		assert.Equal(t, prefix+"edge1", *byIP[0].Hostname)

		limited, err := repo.List(ctx, model.DevicesListOptions{
			Q:     testutil.StringPtr(prefix),
			Limit: 2,
		})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestDevicesRepo_ListInterfaces(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewDevicesRepo(db)
		ctx := context.Background()
		ip := "192.0.2.40"

		_, err := repo.UpsertFromScan(ctx, testutil.DiscoveredSwitch(ip))
		require.NoError(t, err)

		// Seed out of ifindex order to exercise the sort.
		_, err = db.ExecContext(ctx, `
			INSERT INTO device_interfaces (ip_address, ifindex, name, status, speed, medium, lldp_neighbor, lldp_port)
			VALUES
				($1, 49, 'Ethernet49/1', 'up', '100G', 'fiber', 'spine-1', 'Ethernet3/1'),
				($1, 1, 'Ethernet1', 'up', '10G', 'fiber', NULL, NULL),
				($1, 2, 'Ethernet2', 'down', NULL, NULL, NULL, NULL)
		`, ip)
		require.NoError(t, err)

		interfaces, err := repo.ListInterfaces(ctx, ip)
		require.NoError(t, err)
		require.Len(t, interfaces, 3)

		assert.Equal(t, 1, interfaces[0].IfIndex)
		assert.Equal(t, 2, interfaces[1].IfIndex)
		assert.Equal(t, 49, interfaces[2].IfIndex)

		first := interfaces[0]
		assert.Equal(t, ip, first.IPAddress)
		require.NotNil(t, first.Name)
		assert.Equal(t, "Ethernet1", *first.Name)
		require.NotNil(t, first.Status)
		assert.Equal(t, "up", *first.Status)
		assert.Nil(t, first.LLDPNeighbor)

		uplink := interfaces[2]
		require.NotNil(t, uplink.LLDPNeighbor)
		assert.Equal(t, "spine-1", *uplink.LLDPNeighbor)
		require.NotNil(t, uplink.LLDPPort)
		assert.Equal(t, "Ethernet3/1", *uplink.LLDPPort)

		down := interfaces[1]
		require.NotNil(t, down.Status)
		assert.Equal(t, "down", *down.Status)
		assert.Nil(t, down.Speed)

		// A device with no interface rows lists empty, not an error.
		none, err := repo.ListInterfaces(ctx, "192.0.2.41")
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = repo.ListInterfaces(ctx, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ip is required")
	})
}

func TestDevicesRepo_ListInterfaces_NoDevice(t *testing.T) {
	// ListInterfaces queries device_interfaces directly; it does not
	// require a devices row, since sinks may write either table first.
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewDevicesRepo(db)
		ctx := context.Background()
		ip := "192.0.2.50"

		_, err := db.ExecContext(ctx, `
			INSERT INTO device_interfaces (ip_address, ifindex, name)
			VALUES ($1, 1, 'Ethernet1')
		`, ip)
		require.NoError(t, err)

		interfaces, err := repo.ListInterfaces(ctx, ip)
		require.NoError(t, err)
		require.Len(t, interfaces, 1)
		assert.Equal(t, 1, interfaces[0].IfIndex)

		_, getErr := repo.GetByIP(ctx, ip)
		assert.True(t, errors.Is(getErr, ErrDeviceNotFound))
	})
}
