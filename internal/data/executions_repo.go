package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data/database"
	"github.com/target/netops-go/internal/data/pgxutil"
	"github.com/target/netops-go/internal/domain/model"
)

// defaultReapLimit bounds one stale-execution sweep when the caller does not.
const defaultReapLimit = 500

// ExecutionsRepo provides database operations for execution history rows in
// scheduler_job_executions. Rows are keyed by broker task id so workers can
// write back state without knowing database ids.
type ExecutionsRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewExecutionsRepo creates a new ExecutionsRepo instance with the given database connection.
func NewExecutionsRepo(db *sql.DB) *ExecutionsRepo {
	return &ExecutionsRepo{DB: db, clock: SystemClock{}}
}

// NewExecutionsRepoWithClock injects the clock used for row timestamps; tests pin it.
func NewExecutionsRepoWithClock(db *sql.DB, clock Clock) *ExecutionsRepo {
	return &ExecutionsRepo{DB: db, clock: clock}
}

const executionColumns = `
  id,
  job_name,
  task_name,
  task_id,
  status,
  started_at,
  finished_at,
  error_message,
  result,
  created_at
`

func getExecutionColumnList() []string {
	return []string{
		"id", "job_name", "task_name", "task_id", "status",
		"started_at", "finished_at", "error_message", "result", "created_at",
	}
}

// Create inserts a new execution row at dispatch time. A terminal status at
// creation (an enqueue failure recorded as failed) also sets finished_at, so
// the row is closed from the start.
func (r *ExecutionsRepo) Create(
	ctx context.Context,
	req *model.CreateExecutionRequest,
) (*model.Execution, error) {
	if req == nil {
		return nil, errors.New("create execution request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()

	var finishedAt any
	if req.Status.Terminal() {
		finishedAt = req.StartedAt.UTC()
	}

	var errorMessage any
	if req.ErrorMessage != nil {
		errorMessage = *req.ErrorMessage
	}

	var result any
	if req.Result != nil {
		result = []byte(req.Result)
	}

	query := `
		INSERT INTO scheduler_job_executions (
			job_name, task_name, task_id, status, started_at, finished_at,
			error_message, result, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + executionColumns

	execution, err := scanExecution(r.DB.QueryRowContext(ctx, query,
		req.JobName, req.TaskName, req.TaskID, string(req.Status),
		req.StartedAt.UTC(), finishedAt, errorMessage, result, now,
	).Scan)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	return execution, nil
}

// UpdateByTaskID patches an execution by its broker task id. Nil patch
// fields are left untouched. Status changes only apply to rows with
// finished_at IS NULL, so a row closed by the reaper or an earlier terminal
// write is never overwritten afterwards.
// Return semantics:
//   - (true, nil): row found and updated
//   - (false, nil): no matching row (unknown task id or already finished)
//   - (false, err): update failed due to error
func (r *ExecutionsRepo) UpdateByTaskID(
	ctx context.Context,
	taskID string,
	patch *model.ExecutionPatch,
) (bool, error) {
	if taskID == "" {
		return false, errors.New("task id is required")
	}
	if patch == nil {
		return false, errors.New("execution patch is required")
	}

	clauses := []string{}
	args := []any{taskID}
	argIndex := 2

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return false, fmt.Errorf("invalid execution status %q", string(*patch.Status))
		}
		clauses = append(clauses, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(*patch.Status))
		argIndex++
	}
	if patch.FinishedAt != nil {
		clauses = append(clauses, fmt.Sprintf("finished_at = $%d", argIndex))
		args = append(args, patch.FinishedAt.UTC())
		argIndex++
	}
	if patch.ErrorMessage != nil {
		clauses = append(clauses, fmt.Sprintf("error_message = $%d", argIndex))
		args = append(args, *patch.ErrorMessage)
		argIndex++
	}
	if patch.Result != nil {
		clauses = append(clauses, fmt.Sprintf("result = $%d", argIndex))
		args = append(args, []byte(patch.Result))
	}

	if len(clauses) == 0 {
		return false, errors.New("execution patch must set at least one field")
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString("UPDATE scheduler_job_executions SET ")
	queryBuilder.WriteString(strings.Join(clauses, ", "))
	queryBuilder.WriteString(" WHERE task_id = $1")
	if patch.Status != nil {
		queryBuilder.WriteString(" AND finished_at IS NULL")
	}

	res, err := r.DB.ExecContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return false, fmt.Errorf("update execution: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// GetByTaskID fetches one execution by broker task id.
func (r *ExecutionsRepo) GetByTaskID(ctx context.Context, taskID string) (*model.Execution, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}

	query := `
		SELECT ` + executionColumns + `
		FROM scheduler_job_executions
		WHERE task_id = $1
	`

	execution, err := scanExecution(r.DB.QueryRowContext(ctx, query, taskID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return execution, nil
}

// List returns executions matching the options, newest first.
func (r *ExecutionsRepo) List(
	ctx context.Context,
	opts model.ExecutionsListOptions,
) ([]model.Execution, error) {
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	q := database.NewListQuery("scheduler_job_executions").
		Select(getExecutionColumnList()...).
		OrderBy("started_at", "DESC").
		Page(limit, offset)

	if opts.JobName != nil {
		q.Where(database.WhereCond("job_name", database.OpEq, *opts.JobName))
	}
	if opts.Status != nil {
		q.Where(database.WhereCond("status", database.OpEq, string(*opts.Status)))
	}

	query, args := q.Build()

	var executions []model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToExecution)
		if collectErr != nil {
			return collectErr
		}
		executions = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	return executions, nil
}

// ReapStale flips queued/running rows older than the threshold to timeout in
// a single UPDATE and returns the affected rows. The status filter in the
// WHERE clause makes a second pass over the same rows a no-op.
func (r *ExecutionsRepo) ReapStale(
	ctx context.Context,
	p core.ReapStaleParams,
) ([]model.ReapedExecution, error) {
	if p.StaleAfter <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive, got %s", p.StaleAfter)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultReapLimit
	}

	now := p.Now
	if now.IsZero() {
		now = r.clock.Now()
	}
	cutoff := now.UTC().Add(-p.StaleAfter)
	errorMessage := fmt.Sprintf("timed out after %s without a worker result", p.StaleAfter)

	query := `
		UPDATE scheduler_job_executions
		SET status = $1,
		    finished_at = $2,
		    error_message = $3
		WHERE id IN (
			SELECT id FROM scheduler_job_executions
			WHERE status IN ($4, $5) AND started_at < $6
			ORDER BY started_at ASC
			LIMIT $7
		)
		RETURNING id, job_name, task_id
	`

	rows, err := r.DB.QueryContext(ctx, query,
		string(model.ExecutionStatusTimeout), now.UTC(), errorMessage,
		string(model.ExecutionStatusQueued), string(model.ExecutionStatusRunning),
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reap stale executions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			// best-effort close; nothing further to do
			_ = closeErr
		}
	}()

	var reaped []model.ReapedExecution
	for rows.Next() {
		var row model.ReapedExecution
		if scanErr := rows.Scan(&row.ID, &row.JobName, &row.TaskID); scanErr != nil {
			return nil, fmt.Errorf("scan reaped execution: %w", scanErr)
		}
		reaped = append(reaped, row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate reaped executions: %w", rowsErr)
	}

	return reaped, nil
}

// executionRow matches the scheduler_job_executions schema exactly, allowing
// pgx.RowToStructByName to work.
type executionRow struct {
	ID           string         `db:"id"`
	JobName      string         `db:"job_name"`
	TaskName     string         `db:"task_name"`
	TaskID       string         `db:"task_id"`
	Status       string         `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	ErrorMessage sql.NullString `db:"error_message"`
	Result       []byte         `db:"result"`
	CreatedAt    time.Time      `db:"created_at"`
}

// toModel converts an executionRow to model.Execution.
func (r *executionRow) toModel() model.Execution {
	if r == nil {
		return model.Execution{}
	}

	execution := model.Execution{
		ID:        r.ID,
		JobName:   r.JobName,
		TaskName:  r.TaskName,
		TaskID:    r.TaskID,
		Status:    model.ExecutionStatus(r.Status),
		StartedAt: r.StartedAt,
		CreatedAt: r.CreatedAt,
	}

	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		execution.FinishedAt = &t
	}
	if r.ErrorMessage.Valid {
		v := r.ErrorMessage.String
		execution.ErrorMessage = &v
	}
	if r.Result != nil {
		execution.Result = r.Result
	}

	return execution
}

// rowToExecution maps a pgx row to model.Execution using pgx v5 generics.
func rowToExecution(row pgx.CollectableRow) (model.Execution, error) {
	dbRow, err := pgx.RowToStructByName[executionRow](row)
	if err != nil {
		return model.Execution{}, fmt.Errorf("scan execution row: %w", err)
	}
	return dbRow.toModel(), nil
}

// scanExecution scans one execution through a database/sql Scan function, in
// executionColumns order.
func scanExecution(scan func(dest ...any) error) (*model.Execution, error) {
	var row executionRow
	err := scan(
		&row.ID,
		&row.JobName,
		&row.TaskName,
		&row.TaskID,
		&row.Status,
		&row.StartedAt,
		&row.FinishedAt,
		&row.ErrorMessage,
		&row.Result,
		&row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	execution := row.toModel()
	return &execution, nil
}
