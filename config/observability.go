package config

import (
	"strings"
	"time"
)

// defaultObservabilityName brands outbound notifications and the metric
// prefix when the operator does not override the sender fields.
const defaultObservabilityName = "netops"

// ObservabilityConfig groups metrics and notification fan-out settings.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls statsd emission.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"netops"`

	// Tags is a comma-delimited key:value list stamped on every metric
	// line, e.g. "env:prod,region:east".
	Tags string `env:"OBSERVABILITY_METRICS_TAGS"`
}

// Sanitize trims the address and turns metrics off when none is left.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled reports whether metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// GlobalTags parses the Tags list. Entries without a key are dropped rather
// than failing startup.
func (c *ObservabilityMetricsConfig) GlobalTags() map[string]string {
	tags := make(map[string]string)
	for _, entry := range strings.Split(c.Tags, ",") {
		key, value, ok := strings.Cut(entry, ":")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		tags[key] = strings.TrimSpace(value)
	}
	return tags
}

// ObservabilityNotificationsConfig controls outbound notification fan-out.
// The top-level Enabled flag is a kill switch over both sinks.
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"OBSERVABILITY_NOTIFICATIONS_ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"OBSERVABILITY_NOTIFICATIONS_TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"OBSERVABILITY_NOTIFICATIONS_RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `envPrefix:"OBSERVABILITY_NOTIFICATIONS_SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `envPrefix:"OBSERVABILITY_NOTIFICATIONS_PAGERDUTY_"`
}

// Sanitize clamps the delivery knobs and resolves each sink's effective
// enablement: a sink stays on only when notifications are on overall and
// it carries its delivery credential.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	c.RetryLimit = max(c.RetryLimit, 0)
	c.Slack.sanitize()
	c.PagerDuty.sanitize()
	c.Slack.Enabled = c.Enabled && c.Slack.Enabled && c.Slack.WebhookURL != ""
	c.PagerDuty.Enabled = c.Enabled && c.PagerDuty.Enabled && c.PagerDuty.RoutingKey != ""
}

// SlackNotificationConfig controls the Slack webhook sink.
type SlackNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"    envDefault:"netops"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	c.Username = trimOrDefault(c.Username)
}

// PagerDutyNotificationConfig controls the PagerDuty Events API v2 sink.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"netops"`
	Component  string `env:"COMPONENT"   envDefault:"netops"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	c.Source = trimOrDefault(c.Source)
	c.Component = trimOrDefault(c.Component)
}

// trimOrDefault trims v and substitutes the platform default name when
// nothing is left.
func trimOrDefault(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return defaultObservabilityName
	}
	return v
}
