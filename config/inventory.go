package config

import (
	"strings"
	"time"
)

// InventoryConfig contains configuration for the inventory API client.
// An empty BaseURL disables inventory reconciliation; discovery then keeps
// its results local.
type InventoryConfig struct {
	BaseURL string `env:"BASE_URL"`
	Token   string `env:"TOKEN"`

	// Timeout bounds each inventory API request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`

	// RateLimit is the client-side request budget in requests per second.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"10"`

	// Burst is the token bucket burst size for the rate limiter.
	Burst int `env:"BURST" envDefault:"20"`
}

// Sanitize normalises inventory client configuration values.
func (c *InventoryConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Token = strings.TrimSpace(c.Token)

	c.Timeout = max(c.Timeout, time.Second)
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	c.Burst = max(c.Burst, 1)
}

// IsEnabled returns true when a base URL is configured.
func (c *InventoryConfig) IsEnabled() bool {
	return c.BaseURL != ""
}
