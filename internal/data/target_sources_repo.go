package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/target/netops-go/internal/data/pgxutil"
)

// namedTargetQueries is the registry of queries a job definition may
// reference by name in database_query targeting. Each projects a single
// ip_address column.
var namedTargetQueries = map[string]string{
	"all_devices":          `SELECT ip_address FROM devices ORDER BY ip_address`,
	"snmp_devices":         `SELECT ip_address FROM devices WHERE snmp_success ORDER BY ip_address`,
	"stale_devices":        `SELECT ip_address FROM devices WHERE last_seen_at < now() - INTERVAL '7 days' ORDER BY ip_address`,
	"unidentified_devices": `SELECT ip_address FROM devices WHERE vendor IS NULL ORDER BY ip_address`,
}

// NamedTargetQueries returns the registered query names, for operator
// tooling and validation messages.
func NamedTargetQueries() []string {
	names := make([]string, 0, len(namedTargetQueries))
	for name := range namedTargetQueries {
		names = append(names, name)
	}
	return names
}

// TargetSourcesRepo resolves database_query and group_reference targeting
// against the device tables.
type TargetSourcesRepo struct {
	DB *sql.DB
}

// NewTargetSourcesRepo creates a new TargetSourcesRepo instance with the given database connection.
func NewTargetSourcesRepo(db *sql.DB) *TargetSourcesRepo {
	return &TargetSourcesRepo{DB: db}
}

// QueryIPs runs a named query from the registry, or the literal SQL when
// namedQuery is empty. Literal SQL must be a single SELECT statement
// projecting one ip_address column; it executes inside a read-only
// transaction so the server rejects anything that writes.
func (r *TargetSourcesRepo) QueryIPs(ctx context.Context, namedQuery, literalSQL string) ([]string, error) {
	if namedQuery != "" {
		query, ok := namedTargetQueries[namedQuery]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNamedQuery, namedQuery)
		}
		ips, err := r.collectIPs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("named target query %s: %w", namedQuery, err)
		}
		return ips, nil
	}

	query, err := sanitizeLiteralTargetSQL(literalSQL)
	if err != nil {
		return nil, err
	}

	var ips []string
	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{ReadOnly: true},
		Fn: func(tx pgx.Tx) error {
			rows, queryErr := tx.Query(ctx, query)
			if queryErr != nil {
				return queryErr
			}
			defer rows.Close()

			collected, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
			if collectErr != nil {
				return collectErr
			}
			ips = collected
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("literal target query: %w", err)
	}
	return ips, nil
}

// GroupIPs returns the member IPs of a device group addressed by id or
// name. A missing group is ErrDeviceGroupNotFound; an empty group is an
// empty result, not an error.
func (r *TargetSourcesRepo) GroupIPs(ctx context.Context, groupID string) ([]string, error) {
	if groupID == "" {
		return nil, errors.New("group id is required")
	}

	var id string
	err := r.DB.QueryRowContext(ctx,
		`SELECT id FROM device_groups WHERE id::text = $1 OR name = $1`,
		groupID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrDeviceGroupNotFound, groupID)
		}
		return nil, fmt.Errorf("look up device group: %w", err)
	}

	ips, err := r.collectIPs(ctx,
		`SELECT ip_address FROM device_group_members WHERE group_id = $1 ORDER BY ip_address`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list device group members: %w", err)
	}
	return ips, nil
}

// UpsertGroup creates or refreshes a device group by name and returns its id.
func (r *TargetSourcesRepo) UpsertGroup(ctx context.Context, name, description string) (string, error) {
	if name == "" {
		return "", errors.New("group name is required")
	}

	var id string
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO device_groups (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    updated_at = now()
		RETURNING id
	`, name, nullIfEmpty(description)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert device group: %w", err)
	}
	return id, nil
}

// SetGroupMembers replaces a group's membership with the given IPs.
func (r *TargetSourcesRepo) SetGroupMembers(ctx context.Context, groupID string, ips []string) error {
	if groupID == "" {
		return errors.New("group id is required")
	}

	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM device_group_members WHERE group_id = $1`, groupID,
			); err != nil {
				return fmt.Errorf("clear group members: %w", err)
			}
			for _, ip := range ips {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO device_group_members (group_id, ip_address)
					VALUES ($1, $2)
					ON CONFLICT DO NOTHING
				`, groupID, ip); err != nil {
					return fmt.Errorf("add group member %s: %w", ip, err)
				}
			}
			return nil
		},
	})
}

// collectIPs runs a single-column query and collects the ip_address values.
func (r *TargetSourcesRepo) collectIPs(ctx context.Context, query string, args ...any) ([]string, error) {
	var ips []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
		if collectErr != nil {
			return collectErr
		}
		ips = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// sanitizeLiteralTargetSQL enforces the SELECT-only contract on literal
// targeting SQL before it reaches the server: one statement, first token
// SELECT. The read-only transaction it runs in is the real guard; this
// just produces a friendlier error for the obvious cases.
func sanitizeLiteralTargetSQL(q string) (string, error) {
	trimmed := strings.TrimSpace(q)
	trimmed = strings.TrimSuffix(trimmed, ";")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "", errors.New("database_query targeting requires named_query or sql")
	}
	if strings.ContainsRune(trimmed, ';') {
		return "", fmt.Errorf("%w: multiple statements", ErrLiteralQueryRejected)
	}
	fields := strings.Fields(strings.ToUpper(trimmed))
	if len(fields) == 0 || fields[0] != "SELECT" {
		return "", fmt.Errorf("%w: must start with SELECT", ErrLiteralQueryRejected)
	}
	return trimmed, nil
}
