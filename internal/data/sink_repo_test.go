package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/testutil"
)

func TestSinkRepo_Write_DevicesUpsert(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := testutil.TestTime()
		repo := NewSinkRepoWithClock(db, FixedClock{At: now})
		ctx := context.Background()
		ip := "192.0.2.60"

		written, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "devices",
			Operation: model.SinkOperationUpsert,
			IPAddress: ip,
			Rows: []map[string]any{{
				"hostname":     "sw-lab-1",
				"vendor":       "arista",
				"os_version":   "4.30.1F",
				"snmp_success": true,
				"open_ports":   []any{float64(22), float64(161)},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		devices := NewDevicesRepo(db)
		device, err := devices.GetByIP(ctx, ip)
		require.NoError(t, err)
		require.NotNil(t, device.Hostname)
		assert.Equal(t, "sw-lab-1", *device.Hostname)
		require.NotNil(t, device.Vendor)
		assert.Equal(t, "arista", *device.Vendor)
		assert.True(t, device.SNMPSuccess)
		assert.JSONEq(t, "[22,161]", string(device.OpenPorts))
		assert.Equal(t, now, device.LastSeenAt.UTC())

		// A later write only touches the columns the parser produced.
		written, err = repo.Write(ctx, core.SinkWriteParams{
			Table:     "devices",
			Operation: model.SinkOperationUpsert,
			IPAddress: ip,
			Rows:      []map[string]any{{"hostname": "sw-lab-1-renamed"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		device, err = devices.GetByIP(ctx, ip)
		require.NoError(t, err)
		require.NotNil(t, device.Hostname)
		assert.Equal(t, "sw-lab-1-renamed", *device.Hostname)
		require.NotNil(t, device.Vendor)
		assert.Equal(t, "arista", *device.Vendor)
	})
}

func TestSinkRepo_Write_InterfacesUpsert(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()
		ip := "192.0.2.61"

		written, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "device_interfaces",
			Operation: model.SinkOperationUpsert,
			IPAddress: ip,
			Rows: []map[string]any{
				{"ifindex": 1, "name": "Ethernet1", "status": "up", "speed": "10G"},
				{"ifindex": 2, "name": "Ethernet2", "status": "down"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, written)

		// Re-reporting an interface replaces it on (ip, ifindex) instead of
		// appending a duplicate.
		written, err = repo.Write(ctx, core.SinkWriteParams{
			Table:     "device_interfaces",
			Operation: model.SinkOperationUpsert,
			IPAddress: ip,
			Rows:      []map[string]any{{"ifindex": 1, "name": "Ethernet1", "status": "down"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		interfaces, err := NewDevicesRepo(db).ListInterfaces(ctx, ip)
		require.NoError(t, err)
		require.Len(t, interfaces, 2)
		require.NotNil(t, interfaces[0].Status)
		assert.Equal(t, "down", *interfaces[0].Status)
	})
}

func TestSinkRepo_Write_UnknownColumnsDropped(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()
		ip := "192.0.2.62"

		// Parser output often carries extra fields; only registered columns
		// reach the table.
		written, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "device_interfaces",
			Operation: model.SinkOperationUpsert,
			IPAddress: ip,
			Rows: []map[string]any{{
				"ifindex":      1,
				"name":         "Ethernet1",
				"flap_count":   17,
				"last_flap_at": "2025-01-01T00:00:00Z",
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		interfaces, err := NewDevicesRepo(db).ListInterfaces(ctx, ip)
		require.NoError(t, err)
		require.Len(t, interfaces, 1)
		require.NotNil(t, interfaces[0].Name)
		assert.Equal(t, "Ethernet1", *interfaces[0].Name)
	})
}

func TestSinkRepo_Write_OpticalInsert(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		now := testutil.TestTime()
		repo := NewSinkRepoWithClock(db, FixedClock{At: now})
		ctx := context.Background()
		ip := "192.0.2.63"
		sampledAt := now.Add(-time.Minute)

		written, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "optical_power_readings",
			Operation: model.SinkOperationInsert,
			IPAddress: ip,
			Rows: []map[string]any{
				{"ifindex": 49, "interface_name": "Ethernet49/1", "tx_power_dbm": -2.5, "rx_power_dbm": -3.1, "recorded_at": sampledAt},
				// No recorded_at: defaults to the write time.
				{"ifindex": 50, "interface_name": "Ethernet50/1", "tx_power_dbm": -2.7},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, written)

		rows, err := db.QueryContext(ctx, `
			SELECT ifindex, interface_name, tx_power_dbm, rx_power_dbm, recorded_at
			FROM optical_power_readings
			WHERE ip_address = $1
			ORDER BY ifindex ASC
		`, ip)
		require.NoError(t, err)
		defer rows.Close()

		type sample struct {
			ifindex    int
			name       string
			tx         sql.NullFloat64
			rx         sql.NullFloat64
			recordedAt time.Time
		}
		var samples []sample
		for rows.Next() {
			var s sample
			require.NoError(t, rows.Scan(&s.ifindex, &s.name, &s.tx, &s.rx, &s.recordedAt))
			samples = append(samples, s)
		}
		require.NoError(t, rows.Err())
		require.Len(t, samples, 2)

		assert.Equal(t, 49, samples[0].ifindex)
		assert.Equal(t, "Ethernet49/1", samples[0].name)
		require.True(t, samples[0].tx.Valid)
		assert.InDelta(t, -2.5, samples[0].tx.Float64, 0.001)
		require.True(t, samples[0].rx.Valid)
		assert.InDelta(t, -3.1, samples[0].rx.Float64, 0.001)
		assert.WithinDuration(t, sampledAt, samples[0].recordedAt, time.Second)

		assert.Equal(t, 50, samples[1].ifindex)
		assert.False(t, samples[1].rx.Valid)
		assert.WithinDuration(t, now, samples[1].recordedAt, time.Second)
	})
}

func TestSinkRepo_Write_UpdateLLDP(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()
		ip := "192.0.2.64"

		_, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "device_interfaces",
			Operation: model.SinkOperationUpsert,
			IPAddress: ip,
			Rows: []map[string]any{
				{"ifindex": 1, "name": "Ethernet1"},
				{"ifindex": 2, "name": "Ethernet2"},
			},
		})
		require.NoError(t, err)

		// One matching patch, one patch for an interface that was never
		// reported, one with nothing to set. Only the match counts.
		written, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "device_interfaces",
			Operation: model.SinkOperationUpdateLLDP,
			IPAddress: ip,
			Rows: []map[string]any{
				{"ifindex": 1, "lldp_neighbor": "spine-1", "lldp_port": "Ethernet3/1"},
				{"ifindex": 99, "lldp_neighbor": "ghost"},
				{"ifindex": 2},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		interfaces, err := NewDevicesRepo(db).ListInterfaces(ctx, ip)
		require.NoError(t, err)
		require.Len(t, interfaces, 2)

		require.NotNil(t, interfaces[0].LLDPNeighbor)
		assert.Equal(t, "spine-1", *interfaces[0].LLDPNeighbor)
		require.NotNil(t, interfaces[0].LLDPPort)
		assert.Equal(t, "Ethernet3/1", *interfaces[0].LLDPPort)
		assert.Nil(t, interfaces[1].LLDPNeighbor)
	})
}

func TestSinkRepo_Write_UpdateLLDP_RequiresIfindex(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()

		_, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "device_interfaces",
			Operation: model.SinkOperationUpdateLLDP,
			IPAddress: "192.0.2.65",
			Rows:      []map[string]any{{"lldp_neighbor": "spine-1"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 0:")
		assert.Contains(t, err.Error(), "update_lldp requires an ifindex value")
	})
}

func TestSinkRepo_Write_UnknownTable(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()

		// Control tables are not in the registry, so a malformed definition
		// cannot write into scheduler state.
		_, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "scheduler_jobs",
			Operation: model.SinkOperationInsert,
			IPAddress: "192.0.2.66",
			Rows:      []map[string]any{{"name": "evil"}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownSinkTable)
	})
}

func TestSinkRepo_Write_UnknownOperation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()

		_, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "devices",
			Operation: model.SinkOperation("merge"),
			IPAddress: "192.0.2.67",
			Rows:      []map[string]any{{"hostname": "x"}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownSinkOperation)

		// update_lldp only makes sense on interface rows.
		_, err = repo.Write(ctx, core.SinkWriteParams{
			Table:     "devices",
			Operation: model.SinkOperationUpdateLLDP,
			IPAddress: "192.0.2.67",
			Rows:      []map[string]any{{"hostname": "x"}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownSinkOperation)
	})
}

func TestSinkRepo_Write_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()

		_, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "devices",
			Operation: model.SinkOperationUpsert,
			Rows:      []map[string]any{{"hostname": "x"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ip address is required")

		written, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "devices",
			Operation: model.SinkOperationUpsert,
			IPAddress: "192.0.2.68",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, written)
	})
}

func TestSinkRepo_Write_RowErrorAbortsBatch(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSinkRepo(db)
		ctx := context.Background()
		ip := "192.0.2.69"

		_, err := repo.Write(ctx, core.SinkWriteParams{
			Table:     "optical_power_readings",
			Operation: model.SinkOperationInsert,
			IPAddress: ip,
			Rows: []map[string]any{
				{"ifindex": 1, "tx_power_dbm": -2.0},
				{"tx_power_dbm": -9.9},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 1:")
		assert.Contains(t, err.Error(), "requires a ifindex value")

		// The whole batch rolls back, including the valid first row.
		var count int
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM optical_power_readings WHERE ip_address = $1", ip,
		).Scan(&count))
		assert.Equal(t, 0, count)
	})
}
