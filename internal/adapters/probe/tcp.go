package probe

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

const defaultProbeTimeout = time.Second

// TCPDialer probes TCP port reachability with plain connect attempts.
type TCPDialer struct {
	dialer net.Dialer
}

// NewTCPDialer creates a TCP connect prober.
func NewTCPDialer() *TCPDialer {
	return &TCPDialer{}
}

// Probe reports whether a TCP connect to ip:port succeeds within timeout.
// Refused and timed-out connects report a closed port with a nil error.
func (d *TCPDialer) Probe(ctx context.Context, ip string, port int, timeout time.Duration) (bool, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, fmt.Errorf("parse ip: %w", err)
	}
	if port < 1 || port > 65535 {
		return false, fmt.Errorf("port %d out of range", port)
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}
