package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode names one of the long-running services the binary can host.
type ServiceMode string

const (
	// ServiceModeScheduler runs the scheduler tick loop.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeWorker runs the task worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the retention reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices splits a comma-delimited service list into the set of
// enabled modes. Blank entries are skipped; an unknown name or an empty
// result fails the parse so a typo cannot silently run zero services.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	valid := make(map[ServiceMode]bool, len(ValidServiceModes()))
	for _, mode := range ValidServiceModes() {
		valid[mode] = true
	}

	enabled := make(map[ServiceMode]bool)
	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		if !valid[mode] {
			return nil, fmt.Errorf("invalid service name: %q (valid options: %s)", name, modeList())
		}
		enabled[mode] = true
	}

	if len(enabled) == 0 {
		return nil, errors.New("at least one service must be specified")
	}
	return enabled, nil
}

// modeList renders the valid service modes for error messages.
func modeList() string {
	modes := ValidServiceModes()
	names := make([]string, len(modes))
	for i, mode := range modes {
		names[i] = string(mode)
	}
	return strings.Join(names, ", ")
}

// SchedulerConfig tunes the scheduler tick loop.
type SchedulerConfig struct {
	// TickInterval is how often the scheduler scans for due jobs.
	TickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"30s"`

	// BatchSize is the maximum number of due jobs dispatched per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"100"`

	// StaleAfter is how long an execution may sit open in queued or running
	// before the tick marks it timed out.
	StaleAfter time.Duration `env:"SCHEDULER_STALE_AFTER" envDefault:"10m"`
}

// Sanitize raises sub-second tick intervals and degenerate batch sizes to
// their floors.
func (s *SchedulerConfig) Sanitize() {
	s.TickInterval = max(s.TickInterval, time.Second)
	s.BatchSize = max(s.BatchSize, 1)
	s.StaleAfter = max(s.StaleAfter, time.Minute)
}

// WorkerConfig tunes the task worker pool.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines consuming the task queue.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

// Sanitize keeps the pool from being configured to zero workers.
func (w *WorkerConfig) Sanitize() {
	w.Concurrency = max(w.Concurrency, 1)
}

// ReaperConfig tunes the retention reaper.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`

	// ExecutionsMaxAge is the maximum age for finished execution rows before deletion.
	ExecutionsMaxAge time.Duration `env:"REAPER_EXECUTIONS_MAX_AGE" envDefault:"720h"` // 30 days

	// OpticalMaxAge is the maximum age for optical power samples before deletion.
	OpticalMaxAge time.Duration `env:"REAPER_OPTICAL_MAX_AGE" envDefault:"2160h"` // 90 days

	// GroupsMaxAge is the maximum age for broker fan-out group records before
	// pruning. Matches the broker state TTL: a group older than that has no
	// shard states left to read.
	GroupsMaxAge time.Duration `env:"REAPER_GROUPS_MAX_AGE" envDefault:"24h"`

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize keeps retention windows and the delete batch inside safe bounds.
func (r *ReaperConfig) Sanitize() {
	r.Interval = max(r.Interval, time.Minute)
	r.ExecutionsMaxAge = max(r.ExecutionsMaxAge, time.Hour)
	r.OpticalMaxAge = max(r.OpticalMaxAge, 24*time.Hour)
	r.GroupsMaxAge = max(r.GroupsMaxAge, time.Hour)
	r.BatchSize = min(max(r.BatchSize, 1), 10000)
}
