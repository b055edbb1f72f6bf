// Package probe implements the network probe adapters behind the core
// probe ports: ICMP ping, TCP connect, SNMP get, SSH command execution,
// reverse DNS, and the local ARP cache. Adapters return structured
// outcomes; an offline host or closed port is data, not an error.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/target/netops-go/internal/core"
)

const (
	defaultPingCount   = 2
	defaultPingTimeout = time.Second

	// IANA protocol number for ICMP, used when parsing reply packets.
	protocolICMP = 1
)

// ICMPPinger probes reachability with ICMP echo requests. It prefers a raw
// socket and falls back to an unprivileged datagram socket when raw sockets
// are denied. Each Ping call opens its own socket, so the pinger is safe
// for concurrent use.
type ICMPPinger struct {
	payload []byte
}

// NewICMPPinger creates an ICMP echo pinger.
func NewICMPPinger() *ICMPPinger {
	return &ICMPPinger{payload: []byte("netops echo probe")}
}

// Ping sends up to p.Count echo requests and reports the first reply's RTT.
// An unreachable host returns {Reachable: false} with a nil error.
func (pr *ICMPPinger) Ping(ctx context.Context, p core.PingParams) (*core.PingResult, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(p.IP))
	if err != nil {
		return nil, fmt.Errorf("parse ip: %w", err)
	}
	if !addr.Is4() {
		return nil, fmt.Errorf("ping supports IPv4 only, got %s", addr)
	}
	count := p.Count
	if count <= 0 {
		count = defaultPingCount
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	conn, privileged, err := listenICMP()
	if err != nil {
		return nil, fmt.Errorf("open icmp socket: %w", err)
	}
	defer conn.Close()

	var dst net.Addr = &net.UDPAddr{IP: net.IP(addr.AsSlice())}
	if privileged {
		dst = &net.IPAddr{IP: net.IP(addr.AsSlice())}
	}

	// Raw sockets receive every echo reply on the host, so replies are
	// matched back by id+seq. Datagram sockets are demuxed by the kernel,
	// which also rewrites the id.
	id := rand.IntN(1 << 16)

	for seq := 0; seq < count; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rtt, ok, err := pr.echo(ctx, conn, privileged, dst, id, seq, timeout)
		if err != nil {
			return nil, err
		}
		if ok {
			return &core.PingResult{Reachable: true, RTT: rtt}, nil
		}
	}

	return &core.PingResult{}, nil
}

func (pr *ICMPPinger) echo(ctx context.Context, conn *icmp.PacketConn, privileged bool, dst net.Addr, id, seq int, timeout time.Duration) (time.Duration, bool, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: pr.payload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return 0, false, fmt.Errorf("marshal echo request: %w", err)
	}

	sent := time.Now()
	if _, err := conn.WriteTo(wire, dst); err != nil {
		// Unroutable destinations fail on write; that is an unreachable
		// host, not a local fault.
		return 0, false, nil
	}

	deadline := sent.Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, false, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return 0, false, nil
			}
			if ctx.Err() != nil {
				return 0, false, ctx.Err()
			}
			return 0, false, fmt.Errorf("read echo reply: %w", err)
		}

		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		if privileged && echo.ID != id {
			continue
		}
		return time.Since(sent), true, nil
	}
}

func listenICMP() (*icmp.PacketConn, bool, error) {
	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr == nil {
		return conn, true, nil
	}
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, false, nil
	}
	return nil, false, fmt.Errorf("raw socket: %v; datagram socket: %w", rawErr, err)
}
