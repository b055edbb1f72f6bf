// Package core provides the business logic and service layer for the netops job system.
package core

import (
	"github.com/target/netops-go/internal/domain/model"
)

// SchedulerJob represents a scheduled job binding (re-exported from the model package).
// This is re-exported here for use in the admin CLI to avoid direct coupling to the model package.
type SchedulerJob = model.SchedulerJob

// TaskStatus represents the broker-side task lifecycle (re-exported from the model package).
// This is re-exported here for use in the admin CLI to avoid direct coupling to the model package.
type TaskStatus = model.TaskStatus
