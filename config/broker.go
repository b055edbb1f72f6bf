package config

import (
	"strings"
	"time"
)

// BrokerConfig contains task broker configuration. The broker shares the
// Redis connection configured in RedisConfig.
type BrokerConfig struct {
	// Queue is the Redis list the scheduler pushes tasks onto and workers
	// consume from.
	Queue string `env:"BROKER_QUEUE" envDefault:"netops:tasks"`

	// StateTTL is how long per-task state hashes live after their last
	// write. It must outlast the longest-running job plus the stale sweep.
	StateTTL time.Duration `env:"BROKER_STATE_TTL" envDefault:"24h"`

	// PollTimeout is the BRPOP timeout workers block on when the queue is
	// empty. Shorter values make shutdown more responsive.
	PollTimeout time.Duration `env:"BROKER_POLL_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to broker configuration values.
func (b *BrokerConfig) Sanitize() {
	b.Queue = strings.TrimSpace(b.Queue)
	if b.Queue == "" {
		b.Queue = "netops:tasks"
	}
	b.StateTTL = max(b.StateTTL, time.Minute)
	b.PollTimeout = min(max(b.PollTimeout, time.Second), time.Minute)
}
