package config

import (
	"os"
	"strings"
)

// AppConfig composes the per-domain configuration structs. Values load from
// environment variables through github.com/caarlos0/env; each domain file
// documents its own variables:
//   - database.go: Postgres and Redis cache settings
//   - services.go: service modes plus scheduler, worker, and reaper tuning
//   - broker.go: task broker settings
//   - inventory.go: inventory API client settings
type AppConfig struct {
	// IsDev enables development-mode behaviour. Set DEV=true or
	// APP_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Services selects which long-running services this process hosts.
	Services string `env:"SERVICES" envDefault:"scheduler,worker,reaper"`

	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Broker    BrokerConfig
	Reaper    ReaperConfig

	Inventory InventoryConfig `envPrefix:"INVENTORY_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to values loaded from the environment and must
// run after parsing.
func (c *AppConfig) Sanitize() {
	c.Scheduler.Sanitize()
	c.Worker.Sanitize()
	c.Broker.Sanitize()
	c.Reaper.Sanitize()
	c.Inventory.Sanitize()
	c.Observability.Sanitize()

	// APP_ENV=development is the fallback switch for dev mode.
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices parses the Services list into a mode set.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// ServiceEnabled reports whether the given service mode is configured to
// run. An unparseable service list counts as nothing enabled.
func (c *AppConfig) ServiceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
