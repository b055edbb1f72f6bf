package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/netops-go/internal/core"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:   srv.URL,
		Token:     "test-token",
		RateLimit: 1000,
		Burst:     1000,
		Client:    srv.Client(),
	})
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func results(items ...any) map[string]any {
	if items == nil {
		items = []any{}
	}
	return map[string]any{"results": items, "count": len(items)}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.EqualError(t, err, "inventory base url is required")
}

func TestClient_EnsureRole_Existing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/device-roles", r.URL.Path)
		assert.Equal(t, "switch", r.URL.Query().Get("name"))
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, results(map[string]string{"id": "role-1", "name": "switch"}))
	}))

	id, err := client.EnsureRole(context.Background(), "switch")
	require.NoError(t, err)
	assert.Equal(t, "role-1", id)
}

func TestClient_EnsureRole_CreatesOnMiss(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, results())
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "router", body["name"])
			writeJSON(t, w, http.StatusCreated, map[string]string{"id": "role-2", "name": "router"})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))

	id, err := client.EnsureRole(context.Background(), "router")
	require.NoError(t, err)
	assert.Equal(t, "role-2", id)
}

func TestClient_EnsureRole_AbsorbsCreateRace(t *testing.T) {
	var calls []string
	var mu sync.Mutex

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method)
		n := len(calls)
		mu.Unlock()

		switch n {
		case 1:
			writeJSON(t, w, http.StatusOK, results())
		case 2:
			// Another reconciler won the create.
			writeJSON(t, w, http.StatusConflict, map[string]string{"error": "duplicate name"})
		default:
			writeJSON(t, w, http.StatusOK, results(map[string]string{"id": "role-3", "name": "firewall"}))
		}
	}))

	id, err := client.EnsureRole(context.Background(), "firewall")
	require.NoError(t, err)
	assert.Equal(t, "role-3", id)
	assert.Equal(t, []string{http.MethodGet, http.MethodPost, http.MethodGet}, calls)
}

func TestClient_EnsureRole_Validation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.EnsureRole(context.Background(), "   ")
	assert.EqualError(t, err, "name is required")
}

func TestClient_FindDevice(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/devices", r.URL.Path)
		assert.Equal(t, "192.0.2.10", r.URL.Query().Get("ip"))
		assert.Empty(t, r.URL.Query().Get("name"))
		writeJSON(t, w, http.StatusOK, results(map[string]any{
			"id":   "dev-1",
			"name": "sw-lab-01",
			"tags": []string{"autodiscovered"},
		}))
	}))

	device, err := client.FindDevice(context.Background(), core.FindDeviceQuery{IP: "192.0.2.10"})
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "dev-1", device.ID)
	assert.Equal(t, "sw-lab-01", device.Name)
	assert.True(t, device.HasTag("autodiscovered"))
}

func TestClient_FindDevice_Miss(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, results())
	}))

	device, err := client.FindDevice(context.Background(), core.FindDeviceQuery{Name: "sw-unknown"})
	require.NoError(t, err)
	assert.Nil(t, device)
}

func TestClient_FindDevice_RequiresQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.FindDevice(context.Background(), core.FindDeviceQuery{})
	assert.EqualError(t, err, "at least one device query field is required")
}

func TestClient_CreateDevice(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/devices", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sw-lab-01", body["name"])
		assert.Equal(t, "role-1", body["role_id"])
		assert.Equal(t, []any{"autodiscovered"}, body["tags"])
		assert.NotContains(t, body, "serial")

		writeJSON(t, w, http.StatusCreated, map[string]any{"id": "dev-9", "name": "sw-lab-01"})
	}))

	device, err := client.CreateDevice(context.Background(), core.CreateInventoryDeviceParams{
		Name:   "sw-lab-01",
		RoleID: "role-1",
		Tags:   []string{"autodiscovered"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dev-9", device.ID)
}

func TestClient_UpdateDevice_PatchesOnlySetFields(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/devices/dev-9", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"serial": "JPE17160042"}, body)

		writeJSON(t, w, http.StatusOK, map[string]any{"id": "dev-9", "name": "sw-lab-01", "serial": "JPE17160042"})
	}))

	serial := "JPE17160042"
	device, err := client.UpdateDevice(context.Background(), "dev-9", core.UpdateInventoryDeviceParams{Serial: &serial})
	require.NoError(t, err)
	assert.Equal(t, "JPE17160042", device.Serial)
}

func TestClient_AssignIP(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/ip-addresses":
			assert.Equal(t, "192.0.2.10", r.URL.Query().Get("address"))
			writeJSON(t, w, http.StatusOK, results())
		case r.Method == http.MethodPost && r.URL.Path == "/api/ip-addresses":
			writeJSON(t, w, http.StatusCreated, map[string]string{"id": "ip-1", "address": "192.0.2.10"})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/ip-addresses/ip-1":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "dev-9", body["device_id"])
			assert.Equal(t, "if-1", body["interface_id"])
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "ip-1", "address": "192.0.2.10", "interface_id": "if-1"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	record, err := client.AssignIP(context.Background(), core.AssignIPParams{
		DeviceID:    "dev-9",
		InterfaceID: "if-1",
		Address:     "192.0.2.10",
	})
	require.NoError(t, err)
	assert.Equal(t, "ip-1", record.ID)
	assert.Equal(t, "if-1", record.InterfaceID)
	assert.Equal(t, []string{
		"GET /api/ip-addresses",
		"POST /api/ip-addresses",
		"PATCH /api/ip-addresses/ip-1",
	}, seen)
}

func TestClient_AssignIP_AlreadyAssigned(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		writeJSON(t, w, http.StatusOK, results(map[string]string{
			"id": "ip-1", "address": "192.0.2.10", "interface_id": "if-1",
		}))
	}))

	record, err := client.AssignIP(context.Background(), core.AssignIPParams{
		DeviceID:    "dev-9",
		InterfaceID: "if-1",
		Address:     "192.0.2.10",
	})
	require.NoError(t, err)
	assert.Equal(t, "ip-1", record.ID)
}

func TestClient_SetPrimaryIPv4(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/devices/dev-9", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ip-1", body["primary_ip_id"])

		writeJSON(t, w, http.StatusOK, map[string]string{"id": "dev-9", "primary_ip_id": "ip-1"})
	}))

	err := client.SetPrimaryIPv4(context.Background(), "dev-9", "ip-1")
	require.NoError(t, err)
}

func TestClient_PrefixCIDR(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/prefixes/pfx-1", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "pfx-1", "cidr": "10.20.30.0/24"})
	}))

	cidr, err := client.PrefixCIDR(context.Background(), "pfx-1")
	require.NoError(t, err)
	assert.Equal(t, "10.20.30.0/24", cidr)
}

func TestClient_PrefixCIDR_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "no such prefix"})
	}))

	_, err := client.PrefixCIDR(context.Background(), "pfx-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, "pfx-missing")
}

func TestClient_IPRangeBounds(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ip-ranges/rng-1", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]string{
			"id":            "rng-1",
			"start_address": "192.0.2.10",
			"end_address":   "192.0.2.40",
		})
	}))

	start, end, err := client.IPRangeBounds(context.Background(), "rng-1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", start)
	assert.Equal(t, "192.0.2.40", end)
}

func TestClient_ServerErrorSurfacesDetail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": "database offline"}`)
	}))

	_, err := client.EnsureRole(context.Background(), "switch")
	require.Error(t, err)
	assert.ErrorContains(t, err, "500")
	assert.ErrorContains(t, err, "database offline")
}

func TestClient_ContextCanceled(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, results())
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.EnsureRole(ctx, "switch")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_RateLimiterSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, results(map[string]string{"id": "role-1", "name": "switch"}))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:   srv.URL,
		RateLimit: 50,
		Burst:     1,
		Client:    srv.Client(),
	})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := client.EnsureRole(context.Background(), "switch")
		require.NoError(t, err)
	}
	// Burst 1 at 50 req/s forces at least one 20 ms pause.
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
