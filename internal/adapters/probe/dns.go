package probe

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

const defaultReverseTimeout = 3 * time.Second

// DNSResolver looks up PTR names through the system resolver.
type DNSResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewDNSResolver creates a reverse resolver with the default lookup
// timeout.
func NewDNSResolver() *DNSResolver {
	return &DNSResolver{resolver: net.DefaultResolver, timeout: defaultReverseTimeout}
}

// Reverse returns the first PTR name for ip without its trailing dot, or ""
// when nothing resolves. NXDOMAIN and resolver failures are both misses.
func (r *DNSResolver) Reverse(ctx context.Context, ip string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("parse ip: %w", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := r.resolver.LookupAddr(lookupCtx, addr.String())
	if err != nil || len(names) == 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", nil
	}

	return strings.TrimSuffix(names[0], "."), nil
}
