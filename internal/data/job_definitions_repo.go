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
	apperrors "github.com/target/netops-go/internal/errors"
)

// JobDefinitionsRepo provides database operations for job definition
// documents. The full definition lives in the document JSONB column; id,
// name, description, and enabled are projected into plain columns for
// queries and toggling. Column values win over the document on read, so
// SetEnabled does not have to rewrite the document.
type JobDefinitionsRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewJobDefinitionsRepo creates a new JobDefinitionsRepo instance with the given database connection.
func NewJobDefinitionsRepo(db *sql.DB) *JobDefinitionsRepo {
	return &JobDefinitionsRepo{DB: db, clock: SystemClock{}}
}

// NewJobDefinitionsRepoWithClock injects the clock used for row timestamps; tests pin it.
func NewJobDefinitionsRepoWithClock(db *sql.DB, clock Clock) *JobDefinitionsRepo {
	return &JobDefinitionsRepo{DB: db, clock: clock}
}

const jobDefinitionColumns = `
  id,
  name,
  description,
  enabled,
  document,
  created_at,
  updated_at
`

func getJobDefinitionColumnList() []string {
	return []string{"id", "name", "description", "enabled", "document", "created_at", "updated_at"}
}

// Upsert creates or replaces a definition by id. Callers validate the
// document against the schema before persisting; this only enforces the
// structural rules in the request validator.
func (r *JobDefinitionsRepo) Upsert(
	ctx context.Context,
	req *model.UpsertJobDefinitionRequest,
) (*model.JobDefinition, error) {
	if req == nil {
		return nil, errors.New("upsert job definition request is required")
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	document, err := json.Marshal(model.JobDefinition{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Actions:     req.Actions,
		Config:      req.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job definition document: %w", err)
	}

	query := `
		INSERT INTO job_definitions (id, name, description, enabled, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    enabled = EXCLUDED.enabled,
		    document = EXCLUDED.document,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + jobDefinitionColumns

	definition, err := scanJobDefinition(r.DB.QueryRowContext(ctx, query,
		req.ID, req.Name, req.Description, enabled, document, now,
	).Scan)
	if err != nil {
		if mapped := apperrors.MapDBError(err); apperrors.IsConflict(mapped) {
			return nil, apperrors.Conflictf("job definition name %q already in use", req.Name)
		}
		return nil, fmt.Errorf("upsert job definition: %w", err)
	}

	return definition, nil
}

// GetByID fetches a definition by id.
func (r *JobDefinitionsRepo) GetByID(ctx context.Context, id string) (*model.JobDefinition, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}

	query := `
		SELECT ` + jobDefinitionColumns + `
		FROM job_definitions
		WHERE id = $1
	`

	definition, err := scanJobDefinition(r.DB.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobDefinitionNotFound
		}
		return nil, fmt.Errorf("get job definition: %w", err)
	}
	return definition, nil
}

// GetByName fetches a definition by unique name.
func (r *JobDefinitionsRepo) GetByName(ctx context.Context, name string) (*model.JobDefinition, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}

	query := `
		SELECT ` + jobDefinitionColumns + `
		FROM job_definitions
		WHERE name = $1
	`

	definition, err := scanJobDefinition(r.DB.QueryRowContext(ctx, query, name).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobDefinitionNotFound
		}
		return nil, fmt.Errorf("get job definition by name: %w", err)
	}
	return definition, nil
}

// List returns definitions matching the options, ordered by name.
func (r *JobDefinitionsRepo) List(
	ctx context.Context,
	opts model.JobDefinitionsListOptions,
) ([]model.JobDefinition, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	q := database.NewListQuery("job_definitions").
		Select(getJobDefinitionColumnList()...).
		OrderBy("name", "ASC").
		Page(limit, offset)

	if opts.Enabled != nil {
		q.Where(database.WhereCond("enabled", database.OpEq, *opts.Enabled))
	}
	if opts.Q != nil && *opts.Q != "" {
		q.Where(database.WhereRawCond("(name ILIKE $1 OR description ILIKE $1)", "%"+*opts.Q+"%"))
	}

	query, args := q.Build()

	var definitions []model.JobDefinition
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToJobDefinition)
		if collectErr != nil {
			return collectErr
		}
		definitions = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list job definitions: %w", err)
	}

	return definitions, nil
}

// SetEnabled toggles a definition. Returns true if a row was updated.
func (r *JobDefinitionsRepo) SetEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	if id == "" {
		return false, errors.New("id is required")
	}

	query := `UPDATE job_definitions SET enabled = $2, updated_at = $3 WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, enabled, r.clock.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set job definition enabled: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete removes a definition by id. Returns true if a row was deleted.
func (r *JobDefinitionsRepo) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("id is required")
	}

	query := `DELETE FROM job_definitions WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete job definition: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// jobDefinitionRow matches the job_definitions schema exactly, allowing
// pgx.RowToStructByName to work.
type jobDefinitionRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Enabled     bool      `db:"enabled"`
	Document    []byte    `db:"document"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// toModel unmarshals the document and overlays the projected columns, which
// win over the document copy.
func (r *jobDefinitionRow) toModel() (model.JobDefinition, error) {
	var definition model.JobDefinition
	if len(r.Document) > 0 {
		if err := json.Unmarshal(r.Document, &definition); err != nil {
			return model.JobDefinition{}, fmt.Errorf("unmarshal job definition document %s: %w", r.ID, err)
		}
	}

	definition.ID = r.ID
	definition.Name = r.Name
	definition.Description = r.Description
	definition.Enabled = r.Enabled
	definition.CreatedAt = r.CreatedAt
	definition.UpdatedAt = r.UpdatedAt
	return definition, nil
}

// rowToJobDefinition maps a pgx row to model.JobDefinition using pgx v5 generics.
func rowToJobDefinition(row pgx.CollectableRow) (model.JobDefinition, error) {
	dbRow, err := pgx.RowToStructByName[jobDefinitionRow](row)
	if err != nil {
		return model.JobDefinition{}, fmt.Errorf("scan job definition row: %w", err)
	}
	return dbRow.toModel()
}

// scanJobDefinition scans one definition through a database/sql Scan
// function, in jobDefinitionColumns order.
func scanJobDefinition(scan func(dest ...any) error) (*model.JobDefinition, error) {
	var row jobDefinitionRow
	err := scan(
		&row.ID,
		&row.Name,
		&row.Description,
		&row.Enabled,
		&row.Document,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	definition, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &definition, nil
}
