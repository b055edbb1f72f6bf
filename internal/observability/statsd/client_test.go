package statsd

import (
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestSanitizePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"  netops.core  ", "netops.core"},
		{"..netops..", "netops"},
		{".", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := sanitizePrefix(tt.input); got != tt.want {
			t.Fatalf("sanitizePrefix(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{" worker/task ", "worker_task"},
		{"scheduler..tick", "scheduler.tick"},
		{"multi  space", "multi__space"},
		{"queue:depth", "queue_depth"},
		{"bad|pipe", "bad_pipe"},
		{"discovery/stage/arp", "discovery_stage_arp"},
		{" .. ", ""},
	}

	for _, tt := range tests {
		if got := normalizeMetricName(tt.input); got != tt.want {
			t.Fatalf("normalizeMetricName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRenderTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		global map[string]string
		local  map[string]string
		want   string
	}{
		{
			name: "local wins and whitespace trims",
			global: map[string]string{
				"env":       "prod",
				" service ": " netops ",
			},
			local: map[string]string{
				"result": " success ",
				"":       "ignored",
				"env":    "stage",
			},
			want: "|#env:stage,result:success,service:netops",
		},
		{
			name:   "global only",
			global: map[string]string{"env": "lab"},
			want:   "|#env:lab",
		},
		{
			name: "nothing to render",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := renderTags(tt.global, tt.local); got != tt.want {
				t.Fatalf("renderTags = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCloneTagsReturnsCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{
		"env": "prod",
		"":    "ignored",
	}

	cloned := cloneTags(original)
	if cloned == nil {
		t.Fatal("cloneTags returned nil map")
	}

	cloned["env"] = "stage"
	if original["env"] != "prod" {
		t.Fatal("cloneTags did not copy values")
	}

	if _, ok := cloned[""]; ok {
		t.Fatal("cloneTags kept empty key")
	}
}

// newPipeClient builds an enabled client writing into one end of a net.Pipe
// so tests can read the exact protocol lines off the other end.
func newPipeClient(t *testing.T, prefix string, globalTags map[string]string) (*Client, net.Conn) {
	t.Helper()

	clientConn, peerConn := net.Pipe()
	t.Cleanup(func() { peerConn.Close() })

	client := &Client{
		prefix:     prefix,
		globalTags: cloneTags(globalTags),
		logger:     slog.Default(),
		conn:       clientConn,
	}
	client.tagSuffix = renderTags(client.globalTags, nil)
	client.enabled.Store(true)

	return client, peerConn
}

// readLine collects a single write from the peer end of a pipe so tests can
// assert on the full protocol line the client produced.
func readLine(t *testing.T, conn net.Conn) <-chan string {
	t.Helper()

	lines := make(chan string, 1)
	go func() {
		buf := make([]byte, 512)
		n, err := conn.Read(buf)
		if err != nil {
			close(lines)
			return
		}
		lines <- string(buf[:n])
	}()
	return lines
}

func waitForLine(t *testing.T, lines <-chan string) string {
	t.Helper()

	select {
	case line, ok := <-lines:
		if !ok {
			t.Fatal("peer connection closed before a line arrived")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for metric line")
	}
	return ""
}

func TestCountUsesPrerenderedGlobalTags(t *testing.T) {
	t.Parallel()

	client, peer := newPipeClient(t, "netops", map[string]string{"env": "lab"})

	lines := readLine(t, peer)
	client.Count("scheduler.tick", 1, nil)

	if got, want := waitForLine(t, lines), "netops.scheduler.tick:1|c|#env:lab"; got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestTimingMergesLocalTags(t *testing.T) {
	t.Parallel()

	client, peer := newPipeClient(t, "netops", map[string]string{"env": "lab"})

	lines := readLine(t, peer)
	client.Timing("worker.task_duration", 1500*time.Microsecond, map[string]string{"task": "run_job"})

	if got, want := waitForLine(t, lines), "netops.worker.task_duration:1.5|ms|#env:lab,task:run_job"; got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	client, _ := newPipeClient(t, "", nil)

	if !client.Enabled() {
		t.Fatal("expected client.Enabled to report true with active connection")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client.Enabled to report false after Close")
	}

	// Verify Close can be called again without error.
	if err := client.Close(); err != nil {
		t.Fatalf("Close (second call) error: %v", err)
	}

	// Emits after Close are silent no-ops.
	client.Count("scheduler.tick", 1, nil)

	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should report disabled")
	}
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil client Close error: %v", err)
	}
	// Emits on a nil client are no-ops, not panics.
	nilClient.Count("scheduler.tick", 1, nil)
	nilClient.Gauge("queue.depth", 3, nil)
	nilClient.Timing("worker.task_duration", time.Second, nil)
}

func TestEmitDropsUnusableNames(t *testing.T) {
	t.Parallel()

	client, peer := newPipeClient(t, "netops", nil)

	lines := readLine(t, peer)
	client.Count(" .. ", 1, nil) // normalizes to nothing, must never hit the wire
	client.Count("scheduler.tick", 1, nil)

	if got, want := waitForLine(t, lines), "netops.scheduler.tick:1|c"; got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{
		Enabled: true,
		Address: "   ",
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{
		Enabled: true,
		Address: "bad address",
	})
	if err == nil {
		t.Fatal("expected NewClient to error for invalid address")
	}
	if !strings.Contains(err.Error(), "statsd dial") {
		t.Fatalf("unexpected error: %v", err)
	}
}
