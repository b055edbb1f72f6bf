package parse

import (
	"strconv"
	"strings"
)

// MergePortStatus folds port_status rows into the interface list, joined on
// the port field. The operational link state always wins the status field;
// mode fills speed and port_type fills medium only when those are empty.
// Rows for ports not present in the interface list are appended as new
// entries. Matched entries are updated in place.
func MergePortStatus(interfaces, portStatus []map[string]any) []map[string]any {
	byPort := indexByPort(interfaces)
	for _, row := range portStatus {
		key := portKey(row["port"])
		if key == "" {
			continue
		}
		iface, ok := byPort[key]
		if !ok {
			iface = map[string]any{"port": row["port"]}
			if idx, found := ifIndexOf(key); found {
				iface["ifindex"] = idx
			}
			interfaces = append(interfaces, iface)
			byPort[key] = iface
		}
		if link, found := row["link"].(string); found && link != "" {
			iface["status"] = statusFromLink(link)
		}
		if mode, found := row["mode"].(string); found && mode != "" && emptyField(iface["speed"]) {
			iface["speed"] = mode
		}
		if portType, found := row["port_type"].(string); found && portType != "" && emptyField(iface["medium"]) {
			iface["medium"] = mediumFromPortType(portType)
		}
	}
	return interfaces
}

// MergeLLDP folds neighbor rows into the interface list, joined on the port
// field. A live neighbor promotes the interface to status "up". Rows for
// unknown ports are appended.
func MergeLLDP(interfaces, neighbors []map[string]any) []map[string]any {
	byPort := indexByPort(interfaces)
	for _, row := range neighbors {
		key := portKey(row["port"])
		if key == "" {
			continue
		}
		neighbor, _ := row["neighbor"].(string)
		if neighbor == "" {
			continue
		}
		iface, ok := byPort[key]
		if !ok {
			iface = map[string]any{"port": row["port"]}
			if idx, found := ifIndexOf(key); found {
				iface["ifindex"] = idx
			}
			interfaces = append(interfaces, iface)
			byPort[key] = iface
		}
		iface["lldp_neighbor"] = neighbor
		if port, found := row["neighbor_port"].(string); found && port != "" {
			iface["lldp_port"] = port
		}
		iface["status"] = "up"
	}
	return interfaces
}

func indexByPort(interfaces []map[string]any) map[string]map[string]any {
	byPort := make(map[string]map[string]any, len(interfaces))
	for _, iface := range interfaces {
		if key := portKey(iface["port"]); key != "" {
			byPort[key] = iface
		}
	}
	return byPort
}

// portKey normalizes a port value to a comparable string so float64 ports
// from JSON and string ports from parsers join correctly.
func portKey(v any) string {
	switch p := v.(type) {
	case string:
		return strings.TrimSpace(p)
	case float64:
		return strconv.FormatInt(int64(p), 10)
	case int:
		return strconv.Itoa(p)
	default:
		return ""
	}
}

func emptyField(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func statusFromLink(link string) string {
	switch strings.ToLower(link) {
	case "connected", "up":
		return "up"
	case "notconnect", "notconnected", "down", "disabled", "err-disabled":
		return "down"
	default:
		return strings.ToLower(link)
	}
}

// mediumFromPortType maps a transceiver or port type to a cable medium.
// Electrical types imply rj45; optical module types imply fiber. Unknown
// types pass through lowercased.
func mediumFromPortType(portType string) string {
	t := strings.ToLower(strings.ReplaceAll(portType, "-", ""))
	switch {
	case strings.Contains(t, "rj45"),
		strings.Contains(t, "baset"),
		strings.Contains(t, "10/100"),
		strings.Contains(t, "copper"):
		return "rj45"
	case strings.Contains(t, "baselr"),
		strings.Contains(t, "basesr"),
		strings.Contains(t, "baseer"),
		strings.Contains(t, "basezr"),
		strings.Contains(t, "baselx"),
		strings.Contains(t, "basesx"),
		strings.Contains(t, "basebx"),
		strings.Contains(t, "sfp"),
		strings.Contains(t, "xfp"),
		strings.Contains(t, "fiber"):
		return "fiber"
	default:
		return strings.ToLower(portType)
	}
}
