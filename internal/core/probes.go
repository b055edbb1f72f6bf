package core

import (
	"context"
	"time"
)

// Probe adapter ports. Every adapter returns a structured outcome and never
// fails for expected negative results: an offline host, a closed port, or
// an SNMP timeout is data, not an error. Errors are reserved for malformed
// input and local faults (socket permissions, context cancellation).
// Adapters are safe for concurrent use.

// PingResult is the outcome of one ICMP echo probe.
type PingResult struct {
	Reachable bool
	RTT       time.Duration
}

// Pinger probes reachability via ICMP echo.
type Pinger interface {
	// Ping sends count echo requests and reports the first reply's RTT.
	// An unreachable host returns {Reachable: false} with a nil error.
	Ping(ctx context.Context, p PingParams) (*PingResult, error)
}

// PingParams groups parameters for Pinger.Ping.
type PingParams struct {
	IP      string
	Count   int
	Timeout time.Duration
}

// PortDialer probes TCP port reachability.
type PortDialer interface {
	// Probe reports whether a TCP connect to ip:port succeeds within timeout.
	Probe(ctx context.Context, ip string, port int, timeout time.Duration) (bool, error)
}

// SNMPClient reads single values over SNMP v2c.
type SNMPClient interface {
	// Get fetches one OID. Returns (nil, nil) on timeout or NoSuchObject so
	// fingerprint loops can treat silence as a plain miss.
	Get(ctx context.Context, p SNMPGetParams) (any, error)
}

// SNMPGetParams groups parameters for SNMPClient.Get.
type SNMPGetParams struct {
	IP        string
	Community string
	OID       string
	Timeout   time.Duration
}

// CommandCredentials is the transport login material for command execution.
type CommandCredentials struct {
	Username string
	Password string
	Port     int
}

// CommandRunner executes CLI commands on a remote device.
type CommandRunner interface {
	// Run executes one command and returns combined stdout and stderr.
	// A connection failure returns empty output with a nil error; the caller
	// decides whether empty output fails the action.
	Run(ctx context.Context, p CommandRunParams) (string, error)
}

// CommandRunParams groups parameters for CommandRunner.Run.
type CommandRunParams struct {
	IP          string
	Credentials CommandCredentials
	Command     string
	Timeout     time.Duration
}

// ReverseResolver looks up PTR names.
type ReverseResolver interface {
	// Reverse returns the first PTR name for ip, or "" when none resolves.
	Reverse(ctx context.Context, ip string) (string, error)
}

// ARPTable reads the local neighbor cache.
type ARPTable interface {
	// MACFor returns the cached MAC for ip, or "" on a miss. Best effort:
	// a missing or unreadable cache is a miss, not an error.
	MACFor(ctx context.Context, ip string) (string, error)
}
