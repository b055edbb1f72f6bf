package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/target/netops-go/internal/core"
)

const (
	defaultSNMPTimeout   = 2 * time.Second
	defaultSNMPCommunity = "public"
	snmpPort             = 161
)

// SNMPClient reads single values over SNMP v2c. Every Get opens its own
// UDP session, so the client is safe for concurrent use.
type SNMPClient struct {
	retries int
}

// NewSNMPClient creates an SNMP v2c getter.
func NewSNMPClient() *SNMPClient {
	return &SNMPClient{retries: 1}
}

// Get fetches one OID. Timeouts, transport resets, and NoSuchObject
// responses return (nil, nil) so fingerprint loops can treat silence as a
// plain miss.
func (c *SNMPClient) Get(ctx context.Context, p core.SNMPGetParams) (any, error) {
	ip := strings.TrimSpace(p.IP)
	if ip == "" {
		return nil, errors.New("ip is required")
	}
	oid := strings.TrimSpace(p.OID)
	if oid == "" {
		return nil, errors.New("oid is required")
	}
	community := p.Community
	if community == "" {
		community = defaultSNMPCommunity
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}

	session := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    ip,
		Port:      snmpPort,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   c.retries,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := session.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect: %w", err)
	}
	defer session.Conn.Close()

	packet, err := session.Get([]string{oid})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	if packet == nil || len(packet.Variables) == 0 {
		return nil, nil
	}

	return decodeVariable(packet.Variables[0]), nil
}

// decodeVariable maps a response PDU to a plain Go value. OctetStrings
// become strings; absent-object markers become nil.
func decodeVariable(v gosnmp.SnmpPDU) any {
	switch v.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return nil
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return string(b)
		}
		return v.Value
	default:
		return v.Value
	}
}
