package parse

import (
	"regexp"
	"strconv"
	"strings"
)

type builtinFunc func(output string) any

// builtins registers the CLI output parsers addressable from job
// definitions by name.
var builtins = map[string]builtinFunc{
	"interface_brief": parseInterfaceBrief,
	"port_status":     parsePortStatus,
	"lldp_neighbors":  parseLLDPNeighbors,
	"optical_power":   parseOpticalPower,
}

var trailingDigits = regexp.MustCompile(`(\d+)\s*$`)

// ifIndexOf extracts the trailing port number of an interface token, so
// both "25" and "Gi1/0/25" map to index 25.
func ifIndexOf(port string) (float64, bool) {
	m := trailingDigits.FindStringSubmatch(port)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(n), true
}

// dataLines splits output into trimmed lines, dropping blanks and lines
// whose first token carries no digit (column headers, separators).
func dataLines(output string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !strings.ContainsAny(fields[0], "0123456789") {
			continue
		}
		rows = append(rows, fields)
	}
	return rows
}

// parseInterfaceBrief reads rows of the form
//
//	<port> <name> <status> [<speed> [<medium>]]
//
// and emits one map per interface with the ifindex derived from the port.
func parseInterfaceBrief(output string) any {
	var rows []map[string]any
	for _, fields := range dataLines(output) {
		if len(fields) < 3 {
			continue
		}
		idx, ok := ifIndexOf(fields[0])
		if !ok {
			continue
		}
		row := map[string]any{
			"port":    fields[0],
			"ifindex": idx,
			"name":    fields[1],
			"status":  strings.ToLower(fields[2]),
		}
		if len(fields) > 3 {
			row["speed"] = fields[3]
		}
		if len(fields) > 4 {
			row["medium"] = strings.ToLower(fields[4])
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return rows
}

// parsePortStatus reads rows of the form
//
//	<port> <link> [<mode> [<port_type>]]
//
// where link is the operational state (connected, notconnect, disabled).
func parsePortStatus(output string) any {
	var rows []map[string]any
	for _, fields := range dataLines(output) {
		if len(fields) < 2 {
			continue
		}
		row := map[string]any{
			"port": fields[0],
			"link": strings.ToLower(fields[1]),
		}
		if len(fields) > 2 {
			row["mode"] = fields[2]
		}
		if len(fields) > 3 {
			row["port_type"] = fields[3]
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return rows
}

// parseLLDPNeighbors reads rows of the form
//
//	<local_port> <neighbor> [<neighbor_port>]
func parseLLDPNeighbors(output string) any {
	var rows []map[string]any
	for _, fields := range dataLines(output) {
		if len(fields) < 2 {
			continue
		}
		row := map[string]any{
			"port":     fields[0],
			"neighbor": fields[1],
		}
		if len(fields) > 2 {
			row["neighbor_port"] = fields[2]
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return rows
}

var (
	txPowerPattern     = regexp.MustCompile(`(?i)tx\s*power\s*[:=]?\s*(-?\d+(?:\.\d+)?)`)
	rxPowerPattern     = regexp.MustCompile(`(?i)rx\s*power\s*[:=]?\s*(-?\d+(?:\.\d+)?)`)
	temperaturePattern = regexp.MustCompile(`(?i)temp(?:erature)?\s*[:=]?\s*(-?\d+(?:\.\d+)?)`)
)

// parseOpticalPower scans transceiver diagnostics for Tx/Rx power and
// temperature readings. Fields without a reading are left absent; output
// with no readings at all yields nil.
func parseOpticalPower(output string) any {
	out := make(map[string]any, 3)
	if v, ok := matchFloat(txPowerPattern, output); ok {
		out["tx_power_dbm"] = v
	}
	if v, ok := matchFloat(rxPowerPattern, output); ok {
		out["rx_power_dbm"] = v
	}
	if v, ok := matchFloat(temperaturePattern, output); ok {
		out["temperature_c"] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func matchFloat(re *regexp.Regexp, output string) (float64, bool) {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
