package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data/pgxutil"
	"github.com/target/netops-go/internal/domain/model"
)

// sinkTableSpec describes one table the action executor may write through
// the sink. Row keys outside columns are dropped; conflictKey lists the
// natural key columns after ip_address.
type sinkTableSpec struct {
	columns     map[string]bool
	conflictKey []string
	timestamps  bool
	lastSeen    bool
}

// sinkTables is the registry of writable tables. Tables not listed here are
// rejected outright, so a malformed definition can never write elsewhere.
var sinkTables = map[string]sinkTableSpec{
	"devices": {
		columns: map[string]bool{
			"hostname": true, "dns_name": true, "mac_address": true, "vendor": true,
			"model": true, "os_version": true, "serial_number": true, "device_role": true,
			"description": true, "location": true, "contact": true, "uptime": true,
			"open_ports": true, "snmp_success": true,
		},
		timestamps: true,
		lastSeen:   true,
	},
	"device_interfaces": {
		columns: map[string]bool{
			"ifindex": true, "name": true, "status": true, "speed": true,
			"medium": true, "lldp_neighbor": true, "lldp_port": true,
		},
		conflictKey: []string{"ifindex"},
		timestamps:  true,
	},
	"optical_power_readings": {
		columns: map[string]bool{
			"ifindex": true, "interface_name": true, "tx_power_dbm": true,
			"rx_power_dbm": true, "temperature_c": true, "recorded_at": true,
		},
		conflictKey: []string{"ifindex", "recorded_at"},
	},
}

// SinkRepo implements the dynamic write path the action executor uses for
// parsed probe output. All rows of one call are applied in a single
// transaction, so a failed batch leaves no partial writes.
type SinkRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewSinkRepo creates a new SinkRepo instance with the given database connection.
func NewSinkRepo(db *sql.DB) *SinkRepo {
	return &SinkRepo{DB: db, clock: SystemClock{}}
}

// NewSinkRepoWithClock injects the clock used for row timestamps; tests pin it.
func NewSinkRepoWithClock(db *sql.DB, clock Clock) *SinkRepo {
	return &SinkRepo{DB: db, clock: clock}
}

// Write applies one sink descriptor's rows to its table. insert appends;
// upsert replaces on the table's natural key; update_lldp patches only the
// LLDP columns of existing interface rows and skips rows with no match.
// Returns the number of rows written.
func (r *SinkRepo) Write(ctx context.Context, p core.SinkWriteParams) (int, error) {
	spec, ok := sinkTables[p.Table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSinkTable, p.Table)
	}
	if p.IPAddress == "" {
		return 0, errors.New("ip address is required")
	}

	switch p.Operation {
	case model.SinkOperationInsert, model.SinkOperationUpsert:
	case model.SinkOperationUpdateLLDP:
		if p.Table != "device_interfaces" {
			return 0, fmt.Errorf("%w: %s on table %s", ErrUnknownSinkOperation, p.Operation, p.Table)
		}
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownSinkOperation, p.Operation)
	}

	if len(p.Rows) == 0 {
		return 0, nil
	}

	now := r.clock.Now().UTC()

	written := 0
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			for i, row := range p.Rows {
				var n int
				var rowErr error
				if p.Operation == model.SinkOperationUpdateLLDP {
					n, rowErr = r.updateLLDPRow(ctx, tx, p.IPAddress, row, now)
				} else {
					n, rowErr = r.writeRow(ctx, tx, spec, p, row, now)
				}
				if rowErr != nil {
					return fmt.Errorf("row %d: %w", i, rowErr)
				}
				written += n
			}
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sink write %s: %w", p.Table, err)
	}

	return written, nil
}

// writeRow inserts or upserts one row. Unknown keys are dropped; optical
// rows default recorded_at to the write time so appends never collide on a
// NULL key.
func (r *SinkRepo) writeRow(
	ctx context.Context,
	tx pgx.Tx,
	spec sinkTableSpec,
	p core.SinkWriteParams,
	row map[string]any,
	now time.Time,
) (int, error) {
	cols := []string{"ip_address"}
	vals := []any{p.IPAddress}

	keys := make([]string, 0, len(row))
	for k := range row {
		if spec.columns[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := coerceSinkValue(row[k])
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", k, err)
		}
		cols = append(cols, k)
		vals = append(vals, v)
	}

	if spec.columns["recorded_at"] && !containsColumn(cols, "recorded_at") {
		cols = append(cols, "recorded_at")
		vals = append(vals, now)
	}

	for _, key := range spec.conflictKey {
		if !containsColumn(cols, key) {
			return 0, fmt.Errorf("%s requires a %s value", p.Table, key)
		}
	}

	if spec.lastSeen {
		cols = append(cols, "last_seen_at")
		vals = append(vals, now)
	}
	if spec.timestamps {
		cols = append(cols, "created_at", "updated_at")
		vals = append(vals, now, now)
	}

	placeholders := make([]string, len(vals))
	for i := range vals {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString("INSERT INTO ")
	queryBuilder.WriteString(p.Table)
	queryBuilder.WriteString(" (")
	queryBuilder.WriteString(strings.Join(cols, ", "))
	queryBuilder.WriteString(") VALUES (")
	queryBuilder.WriteString(strings.Join(placeholders, ", "))
	queryBuilder.WriteString(")")

	if p.Operation == model.SinkOperationUpsert {
		conflictCols := append([]string{"ip_address"}, spec.conflictKey...)
		queryBuilder.WriteString(" ON CONFLICT (")
		queryBuilder.WriteString(strings.Join(conflictCols, ", "))
		queryBuilder.WriteString(") DO UPDATE SET ")

		setClauses := []string{}
		for _, c := range cols {
			if c == "ip_address" || c == "created_at" || containsColumn(spec.conflictKey, c) {
				continue
			}
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
		queryBuilder.WriteString(strings.Join(setClauses, ", "))
	}

	tag, err := tx.Exec(ctx, queryBuilder.String(), vals...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// updateLLDPRow patches the LLDP columns of an existing interface row keyed
// by (ip_address, ifindex). Rows with no match are skipped, not inserted.
func (r *SinkRepo) updateLLDPRow(
	ctx context.Context,
	tx pgx.Tx,
	ip string,
	row map[string]any,
	now time.Time,
) (int, error) {
	ifindex, ok := row["ifindex"]
	if !ok {
		return 0, errors.New("update_lldp requires an ifindex value")
	}

	clauses := []string{}
	args := []any{ip, ifindex}
	argIndex := 3

	for _, col := range []string{"lldp_neighbor", "lldp_port"} {
		if v, present := row[col]; present {
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, argIndex))
			args = append(args, v)
			argIndex++
		}
	}
	if len(clauses) == 0 {
		return 0, nil
	}

	clauses = append(clauses, fmt.Sprintf("updated_at = $%d", argIndex))
	args = append(args, now)

	query := "UPDATE device_interfaces SET " + strings.Join(clauses, ", ") +
		" WHERE ip_address = $1 AND ifindex = $2"

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// coerceSinkValue converts composite parser values (lists, nested objects)
// to JSON so they land in jsonb columns; scalars pass through.
func coerceSinkValue(v any) (any, error) {
	switch v.(type) {
	case []any, map[string]any, []int, []string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode composite value: %w", err)
		}
		return encoded, nil
	default:
		return v, nil
	}
}

func containsColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
