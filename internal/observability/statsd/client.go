package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sink is the metric surface the services emit through. The UDP client
// below implements it; tests substitute an in-memory recorder.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes the StatsD endpoint and the tags stamped on every line.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
}

// Client emits DogStatsD-tagged lines over UDP. It is safe for concurrent
// use, and a nil *Client is a valid no-op sink.
type Client struct {
	prefix     string
	globalTags map[string]string

	// tagSuffix holds the global tags rendered once at construction. Most
	// emit sites (scheduler ticks, per-shard task counts) pass no local
	// tags, so the hot path skips the map merge entirely.
	tagSuffix string

	logger *slog.Logger

	// enabled is atomic so emits can bail without taking the write lock.
	enabled atomic.Bool

	mu   sync.Mutex // serializes conn writes and Close
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured StatsD endpoint unless disabled. A blank
// address downgrades the client to a no-op instead of failing startup.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{
		prefix:     sanitizePrefix(cfg.Prefix),
		globalTags: cloneTags(cfg.GlobalTags),
		logger:     logger,
	}
	client.tagSuffix = renderTags(client.globalTags, nil)

	address := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || address == "" {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	client.conn = conn
	client.enabled.Store(true)

	return client, nil
}

// Enabled reports whether the client actively emits metrics.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled.Load()
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.emit(name, strconv.FormatInt(value, 10), "|c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.emit(name, formatFloat(value), "|g", tags)
}

// Timing records a duration in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	ms := float64(value) / float64(time.Millisecond)
	c.emit(name, formatFloat(ms), "|ms", tags)
}

// Close releases the underlying UDP connection if one was established.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.enabled.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// emit formats and writes one protocol line. Disabled or nil clients bail
// before any formatting work; names that normalize to nothing are dropped
// rather than emitted as a bare prefix.
func (c *Client) emit(name, value, unit string, tags map[string]string) {
	if c == nil || !c.enabled.Load() {
		return
	}

	metric := c.metricName(name)
	if metric == "" {
		return
	}

	suffix := c.tagSuffix
	if len(tags) > 0 {
		suffix = renderTags(c.globalTags, tags)
	}
	line := metric + ":" + value + unit + suffix

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil { // closed while formatting
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("statsd write failed", "error", err)
	}
}

func (c *Client) metricName(name string) string {
	normalized := normalizeMetricName(name)
	if normalized == "" {
		return ""
	}
	if c.prefix == "" {
		return normalized
	}
	return c.prefix + "." + normalized
}

func sanitizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), ".")
}

// normalizeMetricName strips characters that carry meaning in the StatsD
// line protocol. Colons and pipes would truncate the metric at parse time,
// so they become underscores along with spaces and slashes; repeated and
// leading/trailing dots collapse away.
func normalizeMetricName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	afterDot := true // leading dots get dropped
	for _, r := range strings.TrimSpace(name) {
		switch r {
		case ' ', '/', ':', '|':
			b.WriteByte('_')
			afterDot = false
		case '.':
			if !afterDot {
				b.WriteByte('.')
			}
			afterDot = true
		default:
			b.WriteRune(r)
			afterDot = false
		}
	}
	return strings.TrimRight(b.String(), ".")
}

// renderTags merges local tags over global tags and renders the DogStatsD
// tag section. Local values win on key collision; keys are sorted so lines
// stay byte-stable for a given tag set.
func renderTags(global, local map[string]string) string {
	merged := make(map[string]string, len(global)+len(local))
	mergeTrimmed(merged, global)
	mergeTrimmed(merged, local)
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("|#")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(merged[k])
	}
	return b.String()
}

// mergeTrimmed copies src into dst, trimming whitespace and dropping tags
// whose key trims to nothing.
func mergeTrimmed(dst, src map[string]string) {
	for k, v := range src {
		if key := strings.TrimSpace(k); key != "" {
			dst[key] = strings.TrimSpace(v)
		}
	}
}

func cloneTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags))
	mergeTrimmed(cp, tags)
	return cp
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
