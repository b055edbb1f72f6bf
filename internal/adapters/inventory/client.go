// Package inventory implements the HTTP client for the inventory service.
// The API is resource oriented: list endpoints filter by query parameters
// and wrap their payload in {"results": [...]}; create is POST, patch is
// PATCH. Ensure methods are find-or-create and absorb create races by
// re-reading after a conflict response.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/model"
)

// ErrNotFound marks a referenced inventory resource that does not exist.
var ErrNotFound = errors.New("inventory resource not found")

// errConflict marks a create that lost a race with another writer.
var errConflict = errors.New("inventory resource already exists")

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10
	defaultBurst     = 20
)

// Config captures the connection settings for the inventory client.
type Config struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string
	// Token is sent as "Authorization: Token <token>" when set.
	Token string
	// Timeout bounds each request.
	Timeout time.Duration
	// RateLimit caps outbound requests per second across all callers.
	RateLimit float64
	// Burst is the rate limiter burst size.
	Burst int
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Client talks to the inventory service. It is safe for concurrent use;
// the rate limiter is shared so parallel discovery reconciliation cannot
// overload the service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds an inventory client. Callers should pass a validated
// config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("inventory base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = defaultBurst
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		client:  hc,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
	}, nil
}

var _ core.InventoryClient = (*Client)(nil)

// namedResource is the wire shape of roles, manufacturers, and tags.
type namedResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type deviceTypeResource struct {
	ID             string `json:"id"`
	ManufacturerID string `json:"manufacturer_id"`
	Model          string `json:"model"`
}

// FindDevice looks a device up by whichever query fields are set.
func (c *Client) FindDevice(ctx context.Context, q core.FindDeviceQuery) (*model.InventoryDevice, error) {
	query := url.Values{}
	if v := strings.TrimSpace(q.Name); v != "" {
		query.Set("name", v)
	}
	if v := strings.TrimSpace(q.IP); v != "" {
		query.Set("ip", v)
	}
	if v := strings.TrimSpace(q.MAC); v != "" {
		query.Set("mac", strings.ToLower(v))
	}
	if v := strings.TrimSpace(q.Serial); v != "" {
		query.Set("serial", v)
	}
	if len(query) == 0 {
		return nil, errors.New("at least one device query field is required")
	}

	devices, err := listResources[model.InventoryDevice](ctx, c, "/api/devices", query)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// CreateDevice creates a device record.
func (c *Client) CreateDevice(ctx context.Context, p core.CreateInventoryDeviceParams) (*model.InventoryDevice, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("device name is required")
	}

	body := map[string]any{"name": p.Name}
	if p.RoleID != "" {
		body["role_id"] = p.RoleID
	}
	if p.DeviceTypeID != "" {
		body["device_type_id"] = p.DeviceTypeID
	}
	if p.Site != "" {
		body["site"] = p.Site
	}
	if p.Serial != "" {
		body["serial"] = p.Serial
	}
	if p.Description != "" {
		body["description"] = p.Description
	}
	if len(p.Tags) > 0 {
		body["tags"] = p.Tags
	}

	var device model.InventoryDevice
	if err := c.do(ctx, http.MethodPost, "/api/devices", nil, body, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// UpdateDevice patches a device record. Nil fields are left untouched.
func (c *Client) UpdateDevice(ctx context.Context, id string, p core.UpdateInventoryDeviceParams) (*model.InventoryDevice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("device id is required")
	}

	body := map[string]any{}
	if p.Name != nil {
		body["name"] = *p.Name
	}
	if p.RoleID != nil {
		body["role_id"] = *p.RoleID
	}
	if p.DeviceTypeID != nil {
		body["device_type_id"] = *p.DeviceTypeID
	}
	if p.Serial != nil {
		body["serial"] = *p.Serial
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if len(p.AddTags) > 0 {
		body["add_tags"] = p.AddTags
	}

	var device model.InventoryDevice
	if err := c.do(ctx, http.MethodPatch, "/api/devices/"+url.PathEscape(id), nil, body, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// EnsureRole resolves a device role name to its id, creating it on miss.
func (c *Client) EnsureRole(ctx context.Context, name string) (string, error) {
	return c.findOrCreateNamed(ctx, "/api/device-roles", name)
}

// EnsureManufacturer resolves a manufacturer name to its id, creating it on
// miss.
func (c *Client) EnsureManufacturer(ctx context.Context, name string) (string, error) {
	return c.findOrCreateNamed(ctx, "/api/manufacturers", name)
}

// EnsureTag resolves a tag name to its id, creating it on miss.
func (c *Client) EnsureTag(ctx context.Context, name string) (string, error) {
	return c.findOrCreateNamed(ctx, "/api/tags", name)
}

// EnsureDeviceType resolves (manufacturer id, model) to a device type id,
// creating it on miss.
func (c *Client) EnsureDeviceType(ctx context.Context, manufacturerID, mdl string) (string, error) {
	manufacturerID = strings.TrimSpace(manufacturerID)
	mdl = strings.TrimSpace(mdl)
	if manufacturerID == "" {
		return "", errors.New("manufacturer id is required")
	}
	if mdl == "" {
		return "", errors.New("model is required")
	}

	query := url.Values{"manufacturer_id": {manufacturerID}, "model": {mdl}}
	find := func() (string, error) {
		types, err := listResources[deviceTypeResource](ctx, c, "/api/device-types", query)
		if err != nil {
			return "", err
		}
		if len(types) == 0 {
			return "", nil
		}
		return types[0].ID, nil
	}

	if id, err := find(); err != nil || id != "" {
		return id, err
	}

	var created deviceTypeResource
	err := c.do(ctx, http.MethodPost, "/api/device-types", nil,
		map[string]string{"manufacturer_id": manufacturerID, "model": mdl}, &created)
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, errConflict) {
		return "", err
	}

	id, err := find()
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("device type %q conflicted but cannot be read back", mdl)
	}
	return id, nil
}

// EnsureInterface resolves (device id, interface name) to an interface,
// creating it on miss.
func (c *Client) EnsureInterface(ctx context.Context, p core.EnsureInterfaceParams) (*model.InventoryInterface, error) {
	deviceID := strings.TrimSpace(p.DeviceID)
	name := strings.TrimSpace(p.Name)
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	if name == "" {
		return nil, errors.New("interface name is required")
	}

	query := url.Values{"device_id": {deviceID}, "name": {name}}
	find := func() (*model.InventoryInterface, error) {
		ifaces, err := listResources[model.InventoryInterface](ctx, c, "/api/interfaces", query)
		if err != nil {
			return nil, err
		}
		if len(ifaces) == 0 {
			return nil, nil
		}
		return &ifaces[0], nil
	}

	if iface, err := find(); err != nil || iface != nil {
		return iface, err
	}

	var created model.InventoryInterface
	err := c.do(ctx, http.MethodPost, "/api/interfaces", nil,
		map[string]any{"device_id": deviceID, "name": name, "mgmt_only": p.MgmtOnly}, &created)
	if err == nil {
		return &created, nil
	}
	if !errors.Is(err, errConflict) {
		return nil, err
	}

	iface, err := find()
	if err != nil {
		return nil, err
	}
	if iface == nil {
		return nil, fmt.Errorf("interface %q conflicted but cannot be read back", name)
	}
	return iface, nil
}

// EnsureIPAddress resolves an address to an IP record, creating it on miss.
func (c *Client) EnsureIPAddress(ctx context.Context, address string) (*model.InventoryIPAddress, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("address is required")
	}

	query := url.Values{"address": {address}}
	find := func() (*model.InventoryIPAddress, error) {
		ips, err := listResources[model.InventoryIPAddress](ctx, c, "/api/ip-addresses", query)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, nil
		}
		return &ips[0], nil
	}

	if ip, err := find(); err != nil || ip != nil {
		return ip, err
	}

	var created model.InventoryIPAddress
	err := c.do(ctx, http.MethodPost, "/api/ip-addresses", nil,
		map[string]string{"address": address}, &created)
	if err == nil {
		return &created, nil
	}
	if !errors.Is(err, errConflict) {
		return nil, err
	}

	ip, err := find()
	if err != nil {
		return nil, err
	}
	if ip == nil {
		return nil, fmt.Errorf("ip address %q conflicted but cannot be read back", address)
	}
	return ip, nil
}

// AssignIP binds the IP record for p.Address to a device interface,
// creating the record on miss.
func (c *Client) AssignIP(ctx context.Context, p core.AssignIPParams) (*model.InventoryIPAddress, error) {
	if strings.TrimSpace(p.DeviceID) == "" {
		return nil, errors.New("device id is required")
	}
	if strings.TrimSpace(p.InterfaceID) == "" {
		return nil, errors.New("interface id is required")
	}

	record, err := c.EnsureIPAddress(ctx, p.Address)
	if err != nil {
		return nil, err
	}
	if record.InterfaceID == p.InterfaceID {
		return record, nil
	}

	var updated model.InventoryIPAddress
	err = c.do(ctx, http.MethodPatch, "/api/ip-addresses/"+url.PathEscape(record.ID), nil,
		map[string]string{"device_id": p.DeviceID, "interface_id": p.InterfaceID}, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetPrimaryIPv4 marks an assigned IP as the device's primary IPv4.
func (c *Client) SetPrimaryIPv4(ctx context.Context, deviceID, ipID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return errors.New("device id is required")
	}
	if strings.TrimSpace(ipID) == "" {
		return errors.New("ip id is required")
	}
	return c.do(ctx, http.MethodPatch, "/api/devices/"+url.PathEscape(deviceID), nil,
		map[string]string{"primary_ip_id": ipID}, nil)
}

// PrefixCIDR returns the CIDR of a managed prefix by id.
func (c *Client) PrefixCIDR(ctx context.Context, prefixID string) (string, error) {
	if strings.TrimSpace(prefixID) == "" {
		return "", errors.New("prefix id is required")
	}
	var prefix model.InventoryPrefix
	if err := c.do(ctx, http.MethodGet, "/api/prefixes/"+url.PathEscape(prefixID), nil, nil, &prefix); err != nil {
		return "", fmt.Errorf("prefix %s: %w", prefixID, err)
	}
	return prefix.CIDR, nil
}

// IPRangeBounds returns the inclusive start and end addresses of a managed
// IP range by id.
func (c *Client) IPRangeBounds(ctx context.Context, rangeID string) (string, string, error) {
	if strings.TrimSpace(rangeID) == "" {
		return "", "", errors.New("range id is required")
	}
	var r model.InventoryIPRange
	if err := c.do(ctx, http.MethodGet, "/api/ip-ranges/"+url.PathEscape(rangeID), nil, nil, &r); err != nil {
		return "", "", fmt.Errorf("ip range %s: %w", rangeID, err)
	}
	return r.StartAddress, r.EndAddress, nil
}

func (c *Client) findOrCreateNamed(ctx context.Context, path, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name is required")
	}

	query := url.Values{"name": {name}}
	find := func() (string, error) {
		found, err := listResources[namedResource](ctx, c, path, query)
		if err != nil {
			return "", err
		}
		if len(found) == 0 {
			return "", nil
		}
		return found[0].ID, nil
	}

	if id, err := find(); err != nil || id != "" {
		return id, err
	}

	var created namedResource
	err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"name": name}, &created)
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, errConflict) {
		return "", err
	}

	// Lost the create race; the winner's row is the answer.
	id, err := find()
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("resource %q conflicted but cannot be read back", name)
	}
	return id, nil
}

// listResources fetches a filtered collection from a {"results": [...]}
// endpoint.
func listResources[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var wrapper struct {
		Results []T `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Results, nil
}

// do performs one rate-limited request and decodes a JSON response into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode inventory payload: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create inventory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("inventory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errConflict
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("inventory %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode inventory response: %w", err)
	}
	return nil
}
