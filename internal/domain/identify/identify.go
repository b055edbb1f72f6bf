// Package identify derives vendor, model, OS version, role, and hostname
// facts for a discovered host. Rules run in a fixed order: SNMP sysDescr
// patterns first, then MAC OUI lookup, then the Windows port signature,
// then role inference from open ports, then the DNS short-name fallback.
// Later rules only fill fields still empty.
package identify

import (
	"regexp"
	"strings"

	"github.com/target/netops-go/internal/domain/model"
)

type sysDescrPattern struct {
	re     *regexp.Regexp
	vendor string
	role   string
}

// sysDescrPatterns is ordered; the first match wins. Entries with an empty
// vendor classify the role only and leave vendor to the OUI fallback.
var sysDescrPatterns = []sysDescrPattern{
	{regexp.MustCompile(`(?i)cisco adaptive security appliance|cisco asa`), "Cisco", "firewall"},
	{regexp.MustCompile(`(?i)cisco ios|cisco nx-os|cisco internetwork operating system`), "Cisco", "network"},
	{regexp.MustCompile(`(?i)juniper networks|\bjunos\b`), "Juniper", "network"},
	{regexp.MustCompile(`(?i)arista networks`), "Arista", "network"},
	{regexp.MustCompile(`(?i)aruba|procurve`), "Aruba", "network"},
	{regexp.MustCompile(`(?i)fortigate|fortios`), "Fortinet", "firewall"},
	{regexp.MustCompile(`(?i)palo alto networks|pan-os`), "Palo Alto Networks", "firewall"},
	{regexp.MustCompile(`(?i)mikrotik|routeros`), "MikroTik", "network"},
	{regexp.MustCompile(`(?i)ubiquiti|edgeos|airos`), "Ubiquiti", "network"},
	{regexp.MustCompile(`(?i)extreme networks|extremexos`), "Extreme", "network"},
	{regexp.MustCompile(`(?i)dell networking|dell emc networking`), "Dell", "network"},
	{regexp.MustCompile(`(?i)brocade`), "Brocade", "network"},
	{regexp.MustCompile(`(?i)axis.{0,20}network camera|axis communications`), "Axis", "camera"},
	{regexp.MustCompile(`(?i)\bapc\b|american power conversion|smart-ups`), "APC", "pdu"},
	{regexp.MustCompile(`(?i)eaton`), "Eaton", "pdu"},
	{regexp.MustCompile(`(?i)synology`), "Synology", "storage"},
	{regexp.MustCompile(`(?i)\bqnap\b`), "QNAP", "storage"},
	{regexp.MustCompile(`(?i)netapp`), "NetApp", "storage"},
	{regexp.MustCompile(`(?i)jetdirect|laserjet`), "HP", "printer"},
	{regexp.MustCompile(`(?i)lexmark`), "Lexmark", "printer"},
	{regexp.MustCompile(`(?i)windows`), "Microsoft", "server"},
	{regexp.MustCompile(`(?i)linux|freebsd|openbsd`), "", "server"},
}

var (
	modelLabelPattern    = regexp.MustCompile(`(?i)Model:\s*([A-Za-z0-9][A-Za-z0-9._/-]*)`)
	modelSoftwarePattern = regexp.MustCompile(`(?i)Software,\s+([A-Za-z0-9][A-Za-z0-9._/()-]*)\s+Software`)
	versionPattern       = regexp.MustCompile(`(?i)Version\s+([0-9][A-Za-z0-9.()]*)`)
)

// modelStopwords are tokens that follow a vendor name without naming a model.
var modelStopwords = map[string]struct{}{
	"ios": {}, "software": {}, "networks": {}, "inc": {}, "systems": {},
	"adaptive": {}, "security": {}, "internetwork": {}, "operating": {},
}

// FromSysDescr matches the system description against the ordered pattern
// table and extracts model and version when present.
func FromSysDescr(sysDescr string) (vendor, mdl, version, role string) {
	for _, p := range sysDescrPatterns {
		if p.re.MatchString(sysDescr) {
			vendor = p.vendor
			role = p.role
			break
		}
	}
	mdl = extractModel(sysDescr, vendor)
	if m := versionPattern.FindStringSubmatch(sysDescr); m != nil {
		version = m[1]
	}
	return vendor, mdl, version, role
}

// extractModel tries the model sub-patterns in order: an explicit Model:
// label, a token following the vendor name, then the Cisco-style
// "Software, <model> Software" form.
func extractModel(sysDescr, vendor string) string {
	if m := modelLabelPattern.FindStringSubmatch(sysDescr); m != nil {
		return m[1]
	}
	if vendor != "" {
		after := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(vendor) + `\s+([A-Za-z0-9][A-Za-z0-9._/-]*)`)
		for _, m := range after.FindAllStringSubmatch(sysDescr, -1) {
			candidate := strings.ToLower(strings.Trim(m[1], ",.;:"))
			if _, stop := modelStopwords[candidate]; !stop {
				return m[1]
			}
		}
	}
	if m := modelSoftwarePattern.FindStringSubmatch(sysDescr); m != nil {
		return m[1]
	}
	return ""
}

// ouiVendors maps the first three octets of a MAC address to a vendor.
var ouiVendors = map[string]string{
	"00:00:0c": "Cisco",
	"00:1a:a1": "Cisco",
	"58:97:1e": "Cisco",
	"00:05:85": "Juniper",
	"28:c0:da": "Juniper",
	"00:1c:73": "Arista",
	"00:0b:86": "Aruba",
	"24:de:c6": "Aruba",
	"00:14:22": "Dell",
	"00:09:0f": "Fortinet",
	"00:1b:17": "Palo Alto Networks",
	"4c:5e:0c": "MikroTik",
	"64:d1:54": "MikroTik",
	"24:a4:3c": "Ubiquiti",
	"f0:9f:c2": "Ubiquiti",
	"00:50:56": "VMware",
	"00:15:5d": "Microsoft",
	"00:c0:b7": "APC",
	"00:40:8c": "Axis",
	"00:11:32": "Synology",
	"00:a0:98": "NetApp",
	"b8:27:eb": "Raspberry Pi",
}

// VendorFromMAC looks up the vendor for a MAC's OUI prefix. Separators and
// case are normalized; unknown or short input yields "".
func VendorFromMAC(mac string) string {
	clean := strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac)))
	if len(clean) < 6 {
		return ""
	}
	return ouiVendors[clean[0:2]+":"+clean[2:4]+":"+clean[4:6]]
}

// windowsPorts are the service ports counted toward the Windows signature.
var windowsPorts = map[int]struct{}{
	135: {}, 139: {}, 445: {}, 3389: {}, 5985: {}, 5986: {},
}

// WindowsSignature reports whether at least two distinct Windows service
// ports are open.
func WindowsSignature(openPorts []int) bool {
	seen := make(map[int]struct{}, 2)
	for _, p := range openPorts {
		if _, windows := windowsPorts[p]; windows {
			seen[p] = struct{}{}
			if len(seen) >= 2 {
				return true
			}
		}
	}
	return false
}

type roleSignature struct {
	role  string
	ports []int
}

// rolesByPort is a priority list; the first role with any indicator port
// open wins. SNMP alone is the weakest signal and sits last as the PDU
// heuristic.
var rolesByPort = []roleSignature{
	{role: "network", ports: []int{23, 830}},
	{role: "firewall", ports: []int{500, 4500}},
	{role: "server", ports: []int{3389, 5985, 5986}},
	{role: "camera", ports: []int{554, 8554}},
	{role: "printer", ports: []int{515, 631, 9100}},
	{role: "storage", ports: []int{111, 2049, 3260}},
	{role: "pdu", ports: []int{161}},
}

// RoleFromPorts infers a device role from open ports, or "" when no
// signature matches.
func RoleFromPorts(openPorts []int) string {
	open := make(map[int]struct{}, len(openPorts))
	for _, p := range openPorts {
		open[p] = struct{}{}
	}
	for _, sig := range rolesByPort {
		for _, p := range sig.ports {
			if _, ok := open[p]; ok {
				return sig.role
			}
		}
	}
	return ""
}

// ShortName returns the first label of a DNS name.
func ShortName(dnsName string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(dnsName), ".")
	return name
}

// Apply runs the identification rules over a discovered device, filling
// only fields that are still empty.
func Apply(d *model.DiscoveredDevice) {
	if d.Description != "" {
		vendor, mdl, version, role := FromSysDescr(d.Description)
		if d.Vendor == "" {
			d.Vendor = vendor
		}
		if d.Model == "" {
			d.Model = mdl
		}
		if d.OSVersion == "" {
			d.OSVersion = version
		}
		if d.DeviceRole == "" {
			d.DeviceRole = role
		}
	}
	if d.Vendor == "" {
		d.Vendor = VendorFromMAC(d.MACAddress)
	}
	if d.Vendor == "" && WindowsSignature(d.OpenPorts) {
		d.Vendor = "Microsoft"
	}
	if d.DeviceRole == "" {
		d.DeviceRole = RoleFromPorts(d.OpenPorts)
	}
	if d.Hostname == "" {
		d.Hostname = ShortName(d.DNSName)
	}
}
