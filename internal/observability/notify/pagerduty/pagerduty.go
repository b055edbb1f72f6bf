// Package pagerduty delivers outcome notifications to the PagerDuty Events
// API. Failures trigger incidents; successes resolve them through the same
// dedup key, so a recovered action closes the incident it opened.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/netops-go/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	routingKey string
	source     string
	component  string
	retryLimit int
	client     *http.Client
}

// apiEvent is the Events API v2 envelope. Resolve events carry no payload
// section, only the dedup key of the incident they close.
type apiEvent struct {
	RoutingKey  string        `json:"routing_key"`
	EventAction string        `json:"event_action"`
	DedupKey    string        `json:"dedup_key"`
	Payload     *eventPayload `json:"payload,omitempty"`
}

type eventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details"`
}

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	return &Client{
		routingKey: key,
		source:     orDefault(cfg.Source, "netops"),
		component:  orDefault(cfg.Component, "netops"),
		retryLimit: max(cfg.RetryLimit, 0),
		client:     notify.HTTPClientOrDefault(cfg.Client, cfg.Timeout),
	}, nil
}

// Send submits a trigger or resolve event to PagerDuty.
func (c *Client) Send(ctx context.Context, event notify.Event) error {
	pdEvent, ok := c.buildEvent(event)
	if !ok {
		return nil
	}

	body, err := json.Marshal(pdEvent)
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return notify.SendWithRetries(ctx, c.retryLimit, func(ctx context.Context) error {
		return notify.PostJSON(ctx, c.client, APIEndpoint, "pagerduty api", body)
	})
}

// buildEvent maps the outcome onto an Events API envelope. Successful
// outcomes without a dedup key have no incident to resolve, so they are
// skipped rather than sent.
func (c *Client) buildEvent(event notify.Event) (apiEvent, bool) {
	dedupKey := strings.Trim(fmt.Sprintf("%s:%s", event.JobName, event.ActionID), ":")
	if dedupKey == "" {
		dedupKey = event.ExecutionID
	}

	if !event.Failed {
		if dedupKey == "" {
			return apiEvent{}, false
		}
		return apiEvent{
			RoutingKey:  c.routingKey,
			EventAction: "resolve",
			DedupKey:    dedupKey,
		}, true
	}

	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	summary := strings.TrimSpace(event.Title)
	if summary == "" {
		summary = fmt.Sprintf("Job %s action %s failed",
			orDefault(event.JobName, "unknown"),
			orDefault(event.ActionID, "unknown"),
		)
	}

	return apiEvent{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    dedupKey,
		Payload: &eventPayload{
			Summary:       summary,
			Severity:      orDefault(strings.ToLower(event.Severity), notify.SeverityCritical),
			Source:        c.source,
			Component:     c.component,
			Timestamp:     occurredAt.Format(time.RFC3339),
			CustomDetails: customDetails(event),
		},
	}, true
}

// customDetails flattens the event context for the incident view. Metadata
// never shadows the built-in keys.
func customDetails(event notify.Event) map[string]any {
	custom := map[string]any{
		"job_name":     event.JobName,
		"execution_id": event.ExecutionID,
		"action_id":    event.ActionID,
		"status":       event.Status,
		"detail":       event.Body,
	}
	if len(event.Targets) > 0 {
		custom["targets"] = strings.Join(event.Targets, ", ")
	}
	for k, v := range event.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}
	return custom
}

// orDefault trims value, substituting fallback when nothing is left.
func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
