package config

import "time"

// DBConfig holds the PostgreSQL connection settings. Pool sizing is
// exposed because schedulers run almost idle while a loaded worker fleet
// can saturate a default-sized pool with sink writes.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"netops"`
	Password string `env:"PASSWORD" envDefault:"netops"`
	Name     string `env:"NAME"     envDefault:"netops"`
	// SSLMode is 'disable' for local dev; production sets 'require'.
	SSLMode string `env:"SSL_MODE" envDefault:"disable"`

	PoolMaxOpen      int           `env:"POOL_MAX_OPEN"      envDefault:"25"`
	PoolMaxIdle      int           `env:"POOL_MAX_IDLE"      envDefault:"5"`
	PoolConnLifetime time.Duration `env:"POOL_CONN_LIFETIME" envDefault:"5m"`

	// RunMigrationsOnStart applies pending migrations during service
	// startup. Operators who migrate via netops-admin set this false.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig holds the broker/cache Redis settings. Exactly one of the
// three connection shapes applies: cluster when UseCluster, sentinel when
// UseSentinel, otherwise a direct client against URI.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// CacheConfig configures the Redis-backed definition cache.
type CacheConfig struct {
	RedisAddr     string `env:"CACHE_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"CACHE_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"CACHE_REDIS_DB"       envDefault:"0"`

	// DefinitionTTL bounds how long workers may act on a cached job
	// definition that an upsert has since replaced.
	DefinitionTTL time.Duration `env:"CACHE_DEFINITION_TTL" envDefault:"5m"`
}
