package target_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/target"
	apperrors "github.com/target/netops-go/internal/errors"
)

type stubInventorySource struct {
	prefixes map[string]string
	ranges   map[string][2]string
}

func (s *stubInventorySource) PrefixCIDR(_ context.Context, prefixID string) (string, error) {
	cidr, ok := s.prefixes[prefixID]
	if !ok {
		return "", fmt.Errorf("prefix %s not found", prefixID)
	}
	return cidr, nil
}

func (s *stubInventorySource) IPRangeBounds(_ context.Context, rangeID string) (string, string, error) {
	bounds, ok := s.ranges[rangeID]
	if !ok {
		return "", "", fmt.Errorf("ip range %s not found", rangeID)
	}
	return bounds[0], bounds[1], nil
}

type stubDatabaseSource struct {
	queried []string
	grouped []string
	err     error
}

func (s *stubDatabaseSource) QueryIPs(_ context.Context, _, _ string) ([]string, error) {
	return s.queried, s.err
}

func (s *stubDatabaseSource) GroupIPs(_ context.Context, _ string) ([]string, error) {
	return s.grouped, s.err
}

func resolve(t *testing.T, r *target.Resolver, tg model.Targeting) []string {
	t.Helper()
	ips, err := r.Resolve(context.Background(), tg, nil)
	require.NoError(t, err)
	return ips
}

func TestResolve_StaticListMixedForms(t *testing.T) {
	r := target.NewResolver(target.ResolverOptions{})

	ips := resolve(t, r, model.Targeting{
		Type: model.TargetingStaticList,
		IPs: []string{
			"10.0.0.1",
			"10.0.0.8/30",
			"10.0.0.20-10.0.0.22",
			"not an address",
			"",
			"10.0.0.1", // duplicate
		},
	})

	assert.Equal(t, []string{
		"10.0.0.1",
		"10.0.0.9", "10.0.0.10",
		"10.0.0.20", "10.0.0.21", "10.0.0.22",
	}, ips)
}

func TestResolve_NetworkRange(t *testing.T) {
	t.Run("/30 drops network and broadcast plus explicit exclusions", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		ips := resolve(t, r, model.Targeting{
			Type:    model.TargetingNetworkRange,
			CIDR:    "192.168.1.0/30",
			Exclude: []string{"192.168.1.1"},
		})

		assert.Equal(t, []string{"192.168.1.2"}, ips)
	})

	t.Run("/31 keeps both addresses", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		ips := resolve(t, r, model.Targeting{Type: model.TargetingNetworkRange, CIDR: "10.0.0.0/31"})

		assert.Equal(t, []string{"10.0.0.0", "10.0.0.1"}, ips)
	})

	t.Run("/32 keeps the single address", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		ips := resolve(t, r, model.Targeting{Type: model.TargetingNetworkRange, CIDR: "10.0.0.7/32"})

		assert.Equal(t, []string{"10.0.0.7"}, ips)
	})

	t.Run("unmasked cidr expands from the network address", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		ips := resolve(t, r, model.Targeting{Type: model.TargetingNetworkRange, CIDR: "10.0.0.9/30"})

		assert.Equal(t, []string{"10.0.0.9", "10.0.0.10"}, ips)
	})

	t.Run("invalid cidr is a targeting error", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingNetworkRange, CIDR: "not-a-cidr",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
		assert.Contains(t, err.Error(), "invalid cidr")
	})

	t.Run("oversized cidr is rejected", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingNetworkRange, CIDR: "10.0.0.0/8",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
	})
}

func TestResolve_IPRange(t *testing.T) {
	r := target.NewResolver(target.ResolverOptions{})

	t.Run("inclusive bounds", func(t *testing.T) {
		ips := resolve(t, r, model.Targeting{
			Type: model.TargetingIPRange, StartIP: "10.0.0.254", EndIP: "10.0.1.1",
		})

		assert.Equal(t, []string{"10.0.0.254", "10.0.0.255", "10.0.1.0", "10.0.1.1"}, ips)
	})

	t.Run("single address range", func(t *testing.T) {
		ips := resolve(t, r, model.Targeting{
			Type: model.TargetingIPRange, StartIP: "10.0.0.1", EndIP: "10.0.0.1",
		})

		assert.Equal(t, []string{"10.0.0.1"}, ips)
	})

	t.Run("reversed bounds are a targeting error", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingIPRange, StartIP: "10.0.0.9", EndIP: "10.0.0.1",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
	})

	t.Run("mixed families are a targeting error", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingIPRange, StartIP: "10.0.0.1", EndIP: "fe80::1",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
	})
}

func TestResolve_DatabaseQuery(t *testing.T) {
	t.Run("no database source configured", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingDatabaseQuery, NamedQuery: "all_devices",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
		assert.Contains(t, err.Error(), "database source")
	})

	t.Run("rows are deduplicated and cleaned", func(t *testing.T) {
		db := &stubDatabaseSource{queried: []string{"10.0.0.2", "10.0.0.1", "10.0.0.2", "garbage"}}
		r := target.NewResolver(target.ResolverOptions{Database: db})

		ips := resolve(t, r, model.Targeting{
			Type: model.TargetingDatabaseQuery, NamedQuery: "all_devices",
		})

		assert.Equal(t, []string{"10.0.0.2", "10.0.0.1"}, ips)
	})

	t.Run("query failure keeps the targeting code", func(t *testing.T) {
		db := &stubDatabaseSource{err: errors.New("boom")}
		r := target.NewResolver(target.ResolverOptions{Database: db})

		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingDatabaseQuery, SQL: "SELECT ip_address FROM devices",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
	})
}

func TestResolve_GroupReference(t *testing.T) {
	db := &stubDatabaseSource{grouped: []string{"10.0.0.5", "10.0.0.6"}}
	r := target.NewResolver(target.ResolverOptions{Database: db})

	ips := resolve(t, r, model.Targeting{Type: model.TargetingGroupReference, GroupID: "g-1"})

	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6"}, ips)
}

func TestResolve_PreviousResult(t *testing.T) {
	def := &model.JobDefinition{ID: "jd-1", Name: "sweep"}
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("reads the latest results field", func(t *testing.T) {
		execCtx := model.NewExecutionContext(def, "task-1", nil, started)
		execCtx.Variables["results"] = map[string]any{
			"online": []any{"10.0.0.2", "10.0.0.1", "10.0.0.2"},
		}
		r := target.NewResolver(target.ResolverOptions{})

		ips, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingPreviousResult, Field: "online",
		}, execCtx)

		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.2", "10.0.0.1"}, ips)
	})

	t.Run("dotted fields walk nested output", func(t *testing.T) {
		execCtx := model.NewExecutionContext(def, "task-1", nil, started)
		execCtx.Variables["results"] = map[string]any{
			"sweep": map[string]any{"live": []any{"10.0.0.9"}},
		}
		r := target.NewResolver(target.ResolverOptions{})

		ips, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingPreviousResult, Field: "sweep.live",
		}, execCtx)

		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.9"}, ips)
	})

	t.Run("missing field yields empty, not an error", func(t *testing.T) {
		execCtx := model.NewExecutionContext(def, "task-1", nil, started)
		r := target.NewResolver(target.ResolverOptions{})

		ips, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingPreviousResult, Field: "online",
		}, execCtx)

		require.NoError(t, err)
		assert.Empty(t, ips)
	})

	t.Run("nil context yields empty", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		ips, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingPreviousResult, Field: "online",
		}, nil)

		require.NoError(t, err)
		assert.Empty(t, ips)
	})
}

func TestResolve_InventoryTargeting(t *testing.T) {
	inv := &stubInventorySource{
		prefixes: map[string]string{"pfx-1": "10.60.0.0/30"},
		ranges:   map[string][2]string{"rng-1": {"10.61.0.1", "10.61.0.3"}},
	}

	t.Run("prefix", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{Inventory: inv})

		ips := resolve(t, r, model.Targeting{Type: model.TargetingInventoryPrefix, PrefixID: "pfx-1"})

		assert.Equal(t, []string{"10.60.0.1", "10.60.0.2"}, ips)
	})

	t.Run("ip range", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{Inventory: inv})

		ips := resolve(t, r, model.Targeting{Type: model.TargetingInventoryIPRange, RangeID: "rng-1"})

		assert.Equal(t, []string{"10.61.0.1", "10.61.0.2", "10.61.0.3"}, ips)
	})

	t.Run("no inventory source configured", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{})

		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingInventoryPrefix, PrefixID: "pfx-1",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
		assert.Contains(t, err.Error(), "inventory source")
	})

	t.Run("unknown prefix keeps the targeting code", func(t *testing.T) {
		r := target.NewResolver(target.ResolverOptions{Inventory: inv})

		_, err := r.Resolve(context.Background(), model.Targeting{
			Type: model.TargetingInventoryPrefix, PrefixID: "pfx-missing",
		}, nil)

		require.Error(t, err)
		assert.True(t, apperrors.IsTargeting(err))
	})
}

func TestResolve_UnsupportedType(t *testing.T) {
	r := target.NewResolver(target.ResolverOptions{})

	_, err := r.Resolve(context.Background(), model.Targeting{Type: "teleport"}, nil)

	require.Error(t, err)
	assert.True(t, apperrors.IsTargeting(err))
}

// octet generates one IPv4 octet.
func octet() gopter.Gen {
	return gen.IntRange(0, 255)
}

func TestResolveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	r := target.NewResolver(target.ResolverOptions{})
	resolveOnce := func(tg model.Targeting) ([]string, error) {
		return r.Resolve(context.Background(), tg, nil)
	}

	properties.Property("resolution is idempotent and duplicate-free", prop.ForAll(
		func(a, b, c, d int, bits int) bool {
			tg := model.Targeting{
				Type: model.TargetingNetworkRange,
				CIDR: fmt.Sprintf("%d.%d.%d.%d/%d", a, b, c, d, bits),
			}
			first, err1 := resolveOnce(tg)
			second, err2 := resolveOnce(tg)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			seen := make(map[string]struct{}, len(first))
			for _, ip := range first {
				if _, dup := seen[ip]; dup {
					return false
				}
				seen[ip] = struct{}{}
			}
			return assert.ObjectsAreEqual(first, second)
		},
		octet(), octet(), octet(), octet(), gen.IntRange(22, 32),
	))

	properties.Property("ipv4 cidr size matches the /n rules", prop.ForAll(
		func(a, b int, bits int) bool {
			tg := model.Targeting{
				Type: model.TargetingNetworkRange,
				CIDR: fmt.Sprintf("%d.%d.0.0/%d", a, b, bits),
			}
			ips, err := resolveOnce(tg)
			if err != nil {
				return false
			}
			hosts := 1 << (32 - bits)
			if bits <= 30 {
				hosts -= 2
			}
			return len(ips) == hosts
		},
		octet(), octet(), gen.IntRange(24, 32),
	))

	properties.Property("excluded addresses never appear", prop.ForAll(
		func(a, b, c int, last int) bool {
			excluded := fmt.Sprintf("%d.%d.%d.%d", a, b, c, last)
			tg := model.Targeting{
				Type:    model.TargetingNetworkRange,
				CIDR:    fmt.Sprintf("%d.%d.%d.0/24", a, b, c),
				Exclude: []string{excluded},
			}
			ips, err := resolveOnce(tg)
			if err != nil {
				return false
			}
			for _, ip := range ips {
				if ip == excluded {
					return false
				}
			}
			return true
		},
		octet(), octet(), octet(), octet(),
	))

	properties.Property("static lists preserve first-occurrence order", prop.ForAll(
		func(lasts []int) bool {
			entries := make([]string, len(lasts))
			for i, last := range lasts {
				entries[i] = fmt.Sprintf("10.9.0.%d", last)
			}
			ips, err := resolveOnce(model.Targeting{
				Type: model.TargetingStaticList, IPs: entries,
			})
			if err != nil {
				return false
			}
			var want []string
			seen := make(map[string]struct{})
			for _, entry := range entries {
				if _, dup := seen[entry]; dup {
					continue
				}
				seen[entry] = struct{}{}
				want = append(want, entry)
			}
			return assert.ObjectsAreEqual(append([]string{}, want...), append([]string{}, ips...))
		},
		gen.SliceOf(gen.IntRange(0, 255)),
	))

	properties.TestingRun(t)
}
