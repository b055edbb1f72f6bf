package probe

import (
	"context"
	"errors"
	"os"
	"strings"
)

const defaultARPPath = "/proc/net/arp"

const zeroMAC = "00:00:00:00:00:00"

// ARPTable reads MAC addresses from the kernel neighbor cache.
type ARPTable struct {
	path string
}

// NewARPTable creates a reader over /proc/net/arp.
func NewARPTable() *ARPTable {
	return &ARPTable{path: defaultARPPath}
}

// NewARPTableWithPath creates a reader over a specific cache file.
func NewARPTableWithPath(path string) *ARPTable {
	return &ARPTable{path: path}
}

// MACFor returns the cached MAC for ip in lowercase, or "" on a miss.
// A missing or unreadable cache is a miss, not an error.
func (a *ARPTable) MACFor(ctx context.Context, ip string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", errors.New("ip is required")
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		return "", nil
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 {
		return "", nil
	}
	// First line is the column header.
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		// Flags 0x0 marks an incomplete entry still waiting on a reply.
		if fields[2] == "0x0" {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == zeroMAC {
			continue
		}
		return mac, nil
	}

	return "", nil
}
