// Package target expands targeting descriptions into ordered,
// deduplicated IP lists. Expansion is pure address math except for the
// database and inventory targeting types, which pull their inputs through
// injected sources. Excluded addresses are removed after expansion and the
// output order follows the input, so resolving the same targeting twice
// yields the same sequence.
package target

import (
	"context"
	"net/netip"
	"strings"

	"github.com/target/netops-go/internal/domain/model"
	apperrors "github.com/target/netops-go/internal/errors"
)

// maxExpansion bounds how many addresses a single cidr or range may
// produce, so a typoed /8 cannot flood a sweep.
const maxExpansion = 65536

// InventorySource looks up managed prefixes and IP ranges for the
// inventory targeting types. The inventory API client satisfies it.
type InventorySource interface {
	// PrefixCIDR returns the CIDR of a managed prefix by id.
	PrefixCIDR(ctx context.Context, prefixID string) (string, error)

	// IPRangeBounds returns the inclusive start and end addresses of a
	// managed IP range by id.
	IPRangeBounds(ctx context.Context, rangeID string) (start, end string, err error)
}

// DatabaseSource yields stored IPs for the database_query and
// group_reference targeting types.
type DatabaseSource interface {
	// QueryIPs runs a named query from the registry, or the literal SQL
	// when namedQuery is empty.
	QueryIPs(ctx context.Context, namedQuery, literalSQL string) ([]string, error)

	// GroupIPs returns the member addresses of a stored device group.
	GroupIPs(ctx context.Context, groupID string) ([]string, error)
}

// ResolverOptions holds the dependencies for creating a Resolver. Both
// sources may be nil; targeting types that need a missing source then fail
// with a targeting error.
type ResolverOptions struct {
	Inventory InventorySource
	Database  DatabaseSource
}

// Resolver expands targeting into IP lists.
type Resolver struct {
	inventory InventorySource
	database  DatabaseSource
}

// NewResolver creates a new Resolver with the given sources.
func NewResolver(opts ResolverOptions) *Resolver {
	return &Resolver{
		inventory: opts.Inventory,
		database:  opts.Database,
	}
}

// Resolve expands one targeting description. Callers validate the
// targeting shape beforehand; Resolve only rejects what cannot be
// expanded. A previous_result targeting reads the execution context and
// resolves to an empty list when the context or field is absent.
func (r *Resolver) Resolve(
	ctx context.Context,
	t model.Targeting,
	execCtx *model.ExecutionContext,
) ([]string, error) {
	var (
		ips []string
		err error
	)
	switch t.Type {
	case model.TargetingStaticList:
		ips = expandLines(t.IPs)
	case model.TargetingNetworkRange:
		ips, err = expandCIDR(t.CIDR)
	case model.TargetingIPRange:
		ips, err = expandRange(t.StartIP, t.EndIP)
	case model.TargetingDatabaseQuery:
		if r.database == nil {
			return nil, apperrors.Targetingf(
				"targeting %q requires a database source and none is configured", t.Type)
		}
		if ips, err = r.database.QueryIPs(ctx, t.NamedQuery, t.SQL); err != nil {
			err = apperrors.Wrap(err, apperrors.CodeTargeting, "database target query")
		}
	case model.TargetingGroupReference:
		if r.database == nil {
			return nil, apperrors.Targetingf(
				"targeting %q requires a database source and none is configured", t.Type)
		}
		if ips, err = r.database.GroupIPs(ctx, t.GroupID); err != nil {
			err = apperrors.Wrapf(err, apperrors.CodeTargeting, "device group %s", t.GroupID)
		}
	case model.TargetingPreviousResult:
		ips = previousResultIPs(t.Field, execCtx)
	case model.TargetingInventoryPrefix:
		if r.inventory == nil {
			return nil, apperrors.Targetingf(
				"targeting %q requires an inventory source and none is configured", t.Type)
		}
		var cidr string
		if cidr, err = r.inventory.PrefixCIDR(ctx, t.PrefixID); err != nil {
			err = apperrors.Wrapf(err, apperrors.CodeTargeting, "inventory prefix %s", t.PrefixID)
			break
		}
		ips, err = expandCIDR(cidr)
	case model.TargetingInventoryIPRange:
		if r.inventory == nil {
			return nil, apperrors.Targetingf(
				"targeting %q requires an inventory source and none is configured", t.Type)
		}
		var start, end string
		if start, end, err = r.inventory.IPRangeBounds(ctx, t.RangeID); err != nil {
			err = apperrors.Wrapf(err, apperrors.CodeTargeting, "inventory ip range %s", t.RangeID)
			break
		}
		ips, err = expandRange(start, end)
	default:
		return nil, apperrors.Targetingf("unsupported targeting type %q", t.Type)
	}
	if err != nil {
		return nil, err
	}
	return dedupe(ips, excludeSet(t.Exclude)), nil
}

// expandLines parses a mixed-form list: each entry is a single IP, a CIDR,
// or an inclusive A-B range. Invalid entries are skipped, never fatal.
func expandLines(lines []string) []string {
	var out []string
	for _, line := range lines {
		out = append(out, expandLine(line)...)
	}
	return out
}

func expandLine(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.Contains(line, "/") {
		ips, err := expandCIDR(line)
		if err != nil {
			return nil
		}
		return ips
	}
	// Dashes only appear in A-B ranges: IPv6 uses colons.
	if start, end, ok := strings.Cut(line, "-"); ok {
		ips, err := expandRange(start, end)
		if err != nil {
			return nil
		}
		return ips
	}
	addr, err := netip.ParseAddr(line)
	if err != nil {
		return nil
	}
	return []string{addr.Unmap().String()}
}

// expandCIDR expands a prefix to its host addresses. IPv4 prefixes of /30
// and wider drop the network and broadcast addresses; /31 and /32 keep
// every address, as do IPv6 prefixes.
func expandCIDR(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return nil, apperrors.Targetingf("invalid cidr %q", cidr)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > 16 {
		return nil, apperrors.Targetingf(
			"cidr %q expands past the %d address limit", cidr, maxExpansion)
	}
	total := 1 << hostBits
	dropEdges := prefix.Addr().Is4() && prefix.Bits() <= 30

	out := make([]string, 0, total)
	addr := prefix.Addr()
	for i := 0; i < total; i++ {
		if !dropEdges || (i > 0 && i < total-1) {
			out = append(out, addr.String())
		}
		addr = addr.Next()
	}
	return out, nil
}

// expandRange expands an inclusive start-end address range.
func expandRange(startIP, endIP string) ([]string, error) {
	start, err := netip.ParseAddr(strings.TrimSpace(startIP))
	if err != nil {
		return nil, apperrors.Targetingf("invalid range start %q", startIP)
	}
	end, err := netip.ParseAddr(strings.TrimSpace(endIP))
	if err != nil {
		return nil, apperrors.Targetingf("invalid range end %q", endIP)
	}
	start, end = start.Unmap(), end.Unmap()
	if start.BitLen() != end.BitLen() {
		return nil, apperrors.Targetingf("range %s-%s mixes address families", start, end)
	}
	if end.Less(start) {
		return nil, apperrors.Targetingf("range start %s is after end %s", start, end)
	}

	out := make([]string, 0, 16)
	for addr := start; ; addr = addr.Next() {
		if len(out) >= maxExpansion {
			return nil, apperrors.Targetingf(
				"range %s-%s expands past the %d address limit", start, end, maxExpansion)
		}
		out = append(out, addr.String())
		if addr == end {
			return out, nil
		}
	}
}

// previousResultIPs reads a dotted field from the latest action output
// published under "results". Entries pass through the mixed-form parser,
// so a prior action may hand back CIDRs and ranges as well as plain
// addresses. A missing context or field yields an empty list.
func previousResultIPs(field string, execCtx *model.ExecutionContext) []string {
	if execCtx == nil || execCtx.Variables == nil {
		return nil
	}
	value := execCtx.Variables["results"]
	for _, part := range strings.Split(strings.TrimPrefix(field, "results."), ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = m[part]
	}
	return expandLines(stringItems(value))
}

func stringItems(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// excludeSet expands exclusion entries with the same mixed-form rules as
// static lists. Invalid entries exclude nothing.
func excludeSet(entries []string) map[string]struct{} {
	if len(entries) == 0 {
		return nil
	}
	set := make(map[string]struct{})
	for _, ip := range expandLines(entries) {
		set[ip] = struct{}{}
	}
	return set
}

// dedupe keeps the first occurrence of each address in input order,
// dropping excluded and unparseable entries.
func dedupe(ips []string, excluded map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, raw := range ips {
		addr, err := netip.ParseAddr(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		ip := addr.Unmap().String()
		if _, ok := excluded[ip]; ok {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}
