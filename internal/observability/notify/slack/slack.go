// Package slack delivers outcome notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/target/netops-go/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers outcome notifications to a Slack webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	retryLimit int
	client     *http.Client
}

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "netops"
	}

	return &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   username,
		retryLimit: max(cfg.RetryLimit, 0),
		client:     notify.HTTPClientOrDefault(cfg.Client, cfg.Timeout),
	}, nil
}

// Send posts a formatted message to Slack, retrying transient failures.
func (c *Client) Send(ctx context.Context, event notify.Event) error {
	body, err := json.Marshal(c.formatMessage(event))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return notify.SendWithRetries(ctx, c.retryLimit, func(ctx context.Context) error {
		return notify.PostJSON(ctx, c.client, c.webhookURL, "slack webhook", body)
	})
}

func (c *Client) formatMessage(event notify.Event) map[string]any {
	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	text := strings.Builder{}
	writeSlackHeader(&text, event)

	severity := event.Severity
	if severity == "" {
		severity = notify.SeverityCritical
	}
	appendSlackField(&text, "Severity", severity)
	appendSlackField(&text, "Job", escapeSlackText(event.JobName))
	appendSlackField(&text, "Execution", event.ExecutionID)
	appendSlackField(&text, "Action", escapeSlackText(event.ActionID))
	appendSlackField(&text, "Status", event.Status)
	appendSlackField(&text, "Detail", escapeSlackText(event.Body))
	appendSlackMetadata(&text, event.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if channel := c.resolveChannel(event.Targets); channel != "" {
		msg["channel"] = channel
	}
	return msg
}

// resolveChannel picks the first event target naming a Slack channel or user,
// falling back to the configured default channel.
func (c *Client) resolveChannel(targets []string) string {
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "@") {
			return target
		}
	}
	return c.channel
}

func writeSlackHeader(text *strings.Builder, event notify.Event) {
	title := strings.TrimSpace(event.Title)
	if title == "" {
		title = "Job notification"
	}
	text.WriteByte('*')
	text.WriteString(escapeSlackText(title))
	text.WriteByte('*')
	if event.Tag != "" {
		text.WriteString(" `")
		text.WriteString(event.Tag)
		text.WriteByte('`')
	}
	text.WriteByte('\n')
}

func appendSlackField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendSlackMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(metadata[k])
		text.WriteByte('\n')
	}
}

// escapeSlackText applies the escaping Slack requires for message text;
// only the control characters are replaced, per their formatting docs.
func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return slackEscaper.Replace(value)
}

var slackEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)
