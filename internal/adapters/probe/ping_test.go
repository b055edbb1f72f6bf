package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/netops-go/internal/core"
)

// skipWithoutICMP skips when neither raw nor datagram ICMP sockets are
// permitted in the test environment.
func skipWithoutICMP(t *testing.T) {
	t.Helper()
	conn, _, err := listenICMP()
	if err != nil {
		t.Skipf("icmp sockets unavailable: %v", err)
	}
	_ = conn.Close()
}

func TestICMPPinger_Loopback(t *testing.T) {
	skipWithoutICMP(t)

	pinger := NewICMPPinger()
	result, err := pinger.Ping(context.Background(), core.PingParams{
		IP:      "127.0.0.1",
		Count:   2,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.True(t, result.Reachable)
	assert.Greater(t, result.RTT, time.Duration(0))
}

func TestICMPPinger_UnreachableHost(t *testing.T) {
	skipWithoutICMP(t)

	pinger := NewICMPPinger()
	result, err := pinger.Ping(context.Background(), core.PingParams{
		IP:      "192.0.2.55",
		Count:   1,
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, result.Reachable)
	assert.Zero(t, result.RTT)
}

func TestICMPPinger_Validation(t *testing.T) {
	pinger := NewICMPPinger()
	ctx := context.Background()

	_, err := pinger.Ping(ctx, core.PingParams{IP: "not-an-ip"})
	assert.ErrorContains(t, err, "parse ip")

	_, err = pinger.Ping(ctx, core.PingParams{IP: "2001:db8::1"})
	assert.ErrorContains(t, err, "IPv4 only")
}

func TestICMPPinger_ContextCanceled(t *testing.T) {
	skipWithoutICMP(t)

	pinger := NewICMPPinger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pinger.Ping(ctx, core.PingParams{IP: "192.0.2.55", Count: 3, Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}
