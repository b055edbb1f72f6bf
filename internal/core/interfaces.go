package core

import (
	"context"
	"time"

	"github.com/target/netops-go/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// ExecutionsRepository defines the interface for execution history rows.
// Rows are keyed by broker task id so workers can write back state without
// knowing database ids.
type ExecutionsRepository interface {
	// Create inserts a new execution row at dispatch time.
	Create(ctx context.Context, req *model.CreateExecutionRequest) (*model.Execution, error)

	// UpdateByTaskID patches an execution by its broker task id. Nil patch
	// fields are left untouched. Terminal transitions only apply to rows with
	// finished_at IS NULL, so a reaped row is never overwritten afterwards.
	// Return semantics:
	//   - (true, nil): row found and updated
	//   - (false, nil): no matching row (unknown task id or already finished)
	//   - (false, err): update failed due to error
	UpdateByTaskID(ctx context.Context, taskID string, patch *model.ExecutionPatch) (bool, error)

	// GetByTaskID fetches one execution by broker task id.
	// Returns a not-found error when absent.
	GetByTaskID(ctx context.Context, taskID string) (*model.Execution, error)

	// List returns executions matching the options, newest first.
	List(ctx context.Context, opts model.ExecutionsListOptions) ([]model.Execution, error)

	// ReapStale flips queued/running rows older than the threshold to timeout
	// in a single UPDATE and returns the affected rows. The status filter in
	// the WHERE clause makes a second pass over the same rows a no-op.
	ReapStale(ctx context.Context, p ReapStaleParams) ([]model.ReapedExecution, error)
}

// ReapStaleParams bounds one stale-execution sweep.
type ReapStaleParams struct {
	Now        time.Time
	StaleAfter time.Duration
	Limit      int
}

// JobDefinitionsRepository defines the interface for job definition documents.
type JobDefinitionsRepository interface {
	// Upsert creates or replaces a definition by id. Callers validate the
	// document against the schema before persisting.
	Upsert(ctx context.Context, req *model.UpsertJobDefinitionRequest) (*model.JobDefinition, error)

	// GetByID fetches a definition by id. Returns a not-found error when absent.
	GetByID(ctx context.Context, id string) (*model.JobDefinition, error)

	// GetByName fetches a definition by unique name. Returns a not-found error when absent.
	GetByName(ctx context.Context, name string) (*model.JobDefinition, error)

	// List returns definitions ordered by name.
	List(ctx context.Context, opts model.JobDefinitionsListOptions) ([]model.JobDefinition, error)

	// SetEnabled toggles a definition. Returns true if a row was updated.
	SetEnabled(ctx context.Context, id string, enabled bool) (bool, error)

	// Delete removes a definition by id. Returns true if a row was deleted.
	Delete(ctx context.Context, id string) (bool, error)
}

// DevicesRepository defines the query-side interface over scan-result
// devices. Writes flow through SinkWriter and UpsertFromScan.
type DevicesRepository interface {
	// UpsertFromScan records a discovered device keyed by ip_address,
	// refreshing last_seen_at and overwriting scan-derived columns.
	UpsertFromScan(ctx context.Context, d *model.DiscoveredDevice) (*model.Device, error)

	// GetByIP fetches a device by ip_address. Returns a not-found error when absent.
	GetByIP(ctx context.Context, ip string) (*model.Device, error)

	// List returns devices matching the options.
	List(ctx context.Context, opts model.DevicesListOptions) ([]model.Device, error)

	// ListInterfaces returns the interface rows for one device ip, ordered by ifindex.
	ListInterfaces(ctx context.Context, ip string) ([]model.DeviceInterface, error)
}

// SinkWriter defines the interface the action executor writes parsed rows
// through. The implementation owns the table registry: unknown tables are
// rejected, unknown keys within a row are dropped.
type SinkWriter interface {
	// Write applies one sink descriptor's rows to its table.
	// insert appends; upsert replaces on the table's natural key
	// (devices: ip_address; device_interfaces: ip_address+ifindex);
	// update_lldp patches only the LLDP columns of an existing interface row
	// and skips rows with no match. Returns the number of rows written.
	Write(ctx context.Context, p SinkWriteParams) (int, error)
}

// SinkWriteParams groups one sink write. Rows hold parser output coerced by
// the executor; IPAddress is the target the rows belong to.
type SinkWriteParams struct {
	Table     string
	Operation model.SinkOperation
	IPAddress string
	Rows      []map[string]any
}

// SecretRepository defines the interface for credential material lookups.
type SecretRepository interface {
	// GetByName fetches a secret by unique name, value included.
	// Returns a not-found error when absent.
	GetByName(ctx context.Context, name string) (*model.Secret, error)
}

// AuditSink records engine lifecycle events. Implementations never block
// the run; the caller logs and swallows failures.
type AuditSink interface {
	Record(ctx context.Context, e *model.AuditEvent) error
}

// ReaperRepository defines retention cleanup operations. Deletes run in
// bounded batches so the reaper never holds long transactions.
type ReaperRepository interface {
	// DeleteOldExecutions removes terminal execution rows finished before the
	// cutoff, at most Limit per call. Returns the number of rows deleted.
	DeleteOldExecutions(ctx context.Context, p DeleteOldExecutionsParams) (int64, error)

	// DeleteOldOpticalReadings removes optical power samples recorded before
	// the cutoff, at most Limit per call. Returns the number of rows deleted.
	DeleteOldOpticalReadings(ctx context.Context, p DeleteOldOpticalReadingsParams) (int64, error)
}

// DeleteOldExecutionsParams groups parameters for one execution retention batch.
type DeleteOldExecutionsParams struct {
	Before time.Time
	Limit  int
}

// DeleteOldOpticalReadingsParams groups parameters for one optical history retention batch.
type DeleteOldOpticalReadingsParams struct {
	Before time.Time
	Limit  int
}
