package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/domain/identify"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/target"
	"github.com/target/netops-go/internal/domain/vars"
	apperrors "github.com/target/netops-go/internal/errors"
	"github.com/target/netops-go/internal/observability/metrics"
	"github.com/target/netops-go/internal/observability/statsd"
)

// autodiscoveredTag marks inventory devices the pipeline created or touched.
const autodiscoveredTag = "autodiscovered"

// managementInterfaceName is the interface reconciliation binds the scanned
// address to on every synced device.
const managementInterfaceName = "mgmt0"

// DiscoveryService drives the five-stage autodiscovery pipeline: target
// expansion, ping sweep, host enrichment, identification, and inventory
// reconciliation. Per-host and per-device failures are recorded on the
// report and never abort a run. It doubles as the action runner behind the
// autodiscovery action kind.
type DiscoveryService struct {
	targets   *target.Resolver
	vars      *vars.Resolver
	pinger    core.Pinger
	ports     core.PortDialer
	snmp      core.SNMPClient
	reverse   core.ReverseResolver
	arp       core.ARPTable
	inventory core.InventoryClient
	devices   core.DevicesRepository
	metrics   statsd.Sink
	logger    *slog.Logger
}

// DiscoveryServiceOptions holds the dependencies for creating a
// DiscoveryService. Pinger is mandatory; the other adapters may be nil, in
// which case the corresponding enrichment is skipped. Inventory is required
// only for runs that request sync.
type DiscoveryServiceOptions struct {
	Targets   *target.Resolver
	Vars      *vars.Resolver
	Pinger    core.Pinger
	Ports     core.PortDialer
	SNMP      core.SNMPClient
	Reverse   core.ReverseResolver
	ARP       core.ARPTable
	Inventory core.InventoryClient
	Devices   core.DevicesRepository
	Metrics   statsd.Sink
	Logger    *slog.Logger
}

// NewDiscoveryService creates a new DiscoveryService with the given dependencies.
func NewDiscoveryService(opts DiscoveryServiceOptions) *DiscoveryService {
	if opts.Targets == nil {
		opts.Targets = target.NewResolver(target.ResolverOptions{Inventory: opts.Inventory})
	}
	if opts.Vars == nil {
		opts.Vars = vars.NewResolver(vars.ResolverOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &DiscoveryService{
		targets:   opts.Targets,
		vars:      opts.Vars,
		pinger:    opts.Pinger,
		ports:     opts.Ports,
		snmp:      opts.SNMP,
		reverse:   opts.Reverse,
		arp:       opts.ARP,
		inventory: opts.Inventory,
		devices:   opts.Devices,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

var _ core.ActionRunner = (*DiscoveryService)(nil)

// scanState tracks pipeline progress across worker goroutines. All updates
// go through the increment helpers under the mutex.
type scanState struct {
	mu     sync.Mutex
	totals model.DiscoveryTotals
	errs   []string
}

func (s *scanState) setTargets(n int) {
	s.mu.Lock()
	s.totals.Targets = n
	s.mu.Unlock()
}

func (s *scanState) addLive() {
	s.mu.Lock()
	s.totals.Live++
	s.mu.Unlock()
}

func (s *scanState) addIdentified() {
	s.mu.Lock()
	s.totals.Identified++
	s.mu.Unlock()
}

func (s *scanState) addSynced() {
	s.mu.Lock()
	s.totals.Synced++
	s.mu.Unlock()
}

func (s *scanState) addError(format string, args ...any) {
	s.mu.Lock()
	s.errs = append(s.errs, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *scanState) snapshot() (model.DiscoveryTotals, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make([]string, len(s.errs))
	copy(errs, s.errs)
	return s.totals, errs
}

// sweepConcurrency sizes the stage 2/3 pools: wide fan-out, capped so a /16
// sweep cannot exhaust sockets.
func sweepConcurrency(targets int) int64 {
	return int64(min(runtime.NumCPU()*50, targets, 1000))
}

// syncConcurrency sizes the stage 5 pool: deliberately small so parallel
// reconciliation cannot overload the inventory service.
func syncConcurrency(devices int) int64 {
	return int64(min(runtime.NumCPU()*5, devices, 100))
}

// Run executes one pipeline pass. The error return covers config validation
// and target resolution only; once the sweep starts, failures are recorded
// on the report and the pipeline carries on.
func (s *DiscoveryService) Run(ctx context.Context, cfg model.DiscoveryConfig) (*model.DiscoveryResult, error) {
	started := time.Now()

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "invalid discovery config")
	}
	if s.pinger == nil {
		return nil, apperrors.Validation("discovery requires a pinger")
	}
	if cfg.Sync && s.inventory == nil {
		return nil, apperrors.Validation("discovery sync requires an inventory client")
	}

	state := &scanState{}

	ips, err := s.expandTargets(ctx, &cfg, state)
	if err != nil {
		return nil, err
	}

	live := s.pingSweep(ctx, &cfg, ips, state)
	found := s.enrich(ctx, &cfg, live, state)
	s.identifyAndPersist(ctx, found, state)

	result := &model.DiscoveryResult{
		Created: []string{},
		Updated: []string{},
		Skipped: []string{},
		Failed:  []string{},
	}
	if cfg.Sync {
		s.reconcile(ctx, &cfg, found, state, result)
	}

	totals, errs := state.snapshot()
	result.Report = model.DiscoveryReport{
		Totals:          totals,
		Errors:          errs,
		DurationSeconds: time.Since(started).Seconds(),
	}

	metrics.EmitDiscoverySynced(s.metrics, totals.Synced)
	s.logger.InfoContext(ctx, "discovery run finished",
		"targets", totals.Targets,
		"live", totals.Live,
		"identified", totals.Identified,
		"synced", totals.Synced,
		"errors", len(errs),
		"duration_seconds", result.Report.DurationSeconds)

	return result, nil
}

// Execute adapts the pipeline to the job engine: action parameters become
// the run config, the action's targeting block feeds stage 1, and the
// execution context resolves previous-result references before the run.
func (s *DiscoveryService) Execute(ctx context.Context, req *core.ActionRunRequest) (*core.ActionOutcome, error) {
	cfg, err := s.configFromAction(req.Action, req.ExecCtx)
	if err != nil {
		return nil, err
	}
	cfg.Normalize()

	// Resolve targeting against the execution context up front so
	// previous_result references see earlier action output; the pipeline
	// then works from the frozen list. Targeting failures land on the
	// outcome so the output still reaches the execution context before
	// the action fails.
	ips, err := s.targets.Resolve(ctx, cfg.Targeting, req.ExecCtx)
	if err != nil {
		return &core.ActionOutcome{OutputData: map[string]any{
			"targets": 0,
			"errors":  []string{err.Error()},
		}}, nil
	}
	if len(ips) == 0 {
		return &core.ActionOutcome{OutputData: discoveryOutput(&model.DiscoveryResult{
			Created: []string{}, Updated: []string{}, Skipped: []string{}, Failed: []string{},
		})}, nil
	}
	cfg.Targeting = model.Targeting{Type: model.TargetingStaticList, IPs: ips}

	result, err := s.Run(ctx, *cfg)
	if err != nil {
		return nil, err
	}
	return &core.ActionOutcome{OutputData: discoveryOutput(result)}, nil
}

// configFromAction decodes the action's resolved parameters into a run
// config. A typed targeting block on the action wins over one embedded in
// the parameters.
func (s *DiscoveryService) configFromAction(action *model.Action, execCtx *model.ExecutionContext) (*model.DiscoveryConfig, error) {
	params := action.Parameters
	if len(params) > 0 {
		params = s.vars.ResolveMap(params, execCtx)
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeValidation, "encode discovery parameters")
	}
	cfg := &model.DiscoveryConfig{}
	if err := json.Unmarshal(encoded, cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeValidation, "decode discovery parameters")
	}
	if action.Targeting != nil {
		cfg.Targeting = *action.Targeting
	}
	return cfg, nil
}

// discoveryOutput renders a result as plain JSON types so downstream
// variable references and previous-result targeting can walk it. The
// per-device errors live inside report, so they do not trip the engine's
// top-level failure contract.
func discoveryOutput(result *model.DiscoveryResult) map[string]any {
	encoded, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("encode discovery result: %v", err)}
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return map[string]any{"error": fmt.Sprintf("decode discovery result: %v", err)}
	}
	return out
}

// expandTargets runs stage 1.
func (s *DiscoveryService) expandTargets(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	state *scanState,
) ([]string, error) {
	start := time.Now()
	ips, err := s.targets.Resolve(ctx, cfg.Targeting, nil)
	if err != nil {
		return nil, err
	}
	state.setTargets(len(ips))
	metrics.EmitDiscoveryStage(s.metrics, "expand", time.Since(start))
	s.logger.InfoContext(ctx, "discovery targets expanded",
		"targeting", string(cfg.Targeting.Type),
		"targets", len(ips))
	return ips, nil
}

// pingSweep runs stage 2 and returns the live subset in input order.
func (s *DiscoveryService) pingSweep(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	ips []string,
	state *scanState,
) []string {
	if len(ips) == 0 {
		return nil
	}
	start := time.Now()
	timeout := time.Duration(cfg.PingTimeoutSeconds) * time.Second

	reachable := make([]bool, len(ips))
	sem := semaphore.NewWeighted(sweepConcurrency(len(ips)))
	var wg sync.WaitGroup
	for i, ip := range ips {
		if err := sem.Acquire(ctx, 1); err != nil {
			state.addError("ping sweep stopped after %d of %d targets: %v", i, len(ips), err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			res, err := s.pinger.Ping(ctx, core.PingParams{
				IP:      ip,
				Count:   cfg.PingCount,
				Timeout: timeout,
			})
			if err != nil {
				state.addError("ping %s: %v", ip, err)
				return
			}
			if res.Reachable {
				reachable[i] = true
				state.addLive()
			}
		}()
	}
	wg.Wait()

	live := make([]string, 0, len(ips))
	for i, ok := range reachable {
		if ok {
			live = append(live, ips[i])
		}
	}
	metrics.EmitDiscoveryStage(s.metrics, "ping", time.Since(start))
	s.logger.InfoContext(ctx, "discovery ping sweep finished",
		"targets", len(ips), "live", len(live))
	return live
}

// enrich runs stage 3 over the live set and returns one record per host.
func (s *DiscoveryService) enrich(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	live []string,
	state *scanState,
) []*model.DiscoveredDevice {
	if len(live) == 0 {
		return nil
	}
	start := time.Now()

	found := make([]*model.DiscoveredDevice, len(live))
	sem := semaphore.NewWeighted(sweepConcurrency(len(live)))
	var wg sync.WaitGroup
	for i, ip := range live {
		if err := sem.Acquire(ctx, 1); err != nil {
			state.addError("enrichment stopped after %d of %d hosts: %v", i, len(live), err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			found[i] = s.enrichHost(ctx, cfg, ip, state)
		}()
	}
	wg.Wait()

	devices := make([]*model.DiscoveredDevice, 0, len(found))
	for _, d := range found {
		if d != nil {
			devices = append(devices, d)
		}
	}
	metrics.EmitDiscoveryStage(s.metrics, "enrich", time.Since(start))
	return devices
}

// enrichHost collects reverse DNS, the neighbor-cache MAC, open ports, and
// the SNMP system group for one live host. Every lookup is best effort.
func (s *DiscoveryService) enrichHost(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	ip string,
	state *scanState,
) *model.DiscoveredDevice {
	d := &model.DiscoveredDevice{IPAddress: ip}

	if cfg.ReverseDNS && s.reverse != nil {
		if name, err := s.reverse.Reverse(ctx, ip); err == nil {
			d.DNSName = name
		}
	}
	if s.arp != nil {
		if mac, err := s.arp.MACFor(ctx, ip); err == nil {
			d.MACAddress = mac
		}
	}
	d.OpenPorts = s.scanPorts(ctx, cfg, ip, state)
	s.snmpFingerprint(ctx, cfg, ip, d)
	return d
}

// scanPorts probes each configured port concurrently, one socket per port.
func (s *DiscoveryService) scanPorts(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	ip string,
	state *scanState,
) []int {
	if s.ports == nil || len(cfg.Ports) == 0 {
		return nil
	}
	timeout := time.Duration(cfg.PortTimeoutSeconds) * time.Second

	openFlags := make([]bool, len(cfg.Ports))
	var wg sync.WaitGroup
	for i, port := range cfg.Ports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ports.Probe(ctx, ip, port, timeout)
			if err != nil {
				state.addError("port probe %s:%d: %v", ip, port, err)
				return
			}
			openFlags[i] = ok
		}()
	}
	wg.Wait()

	var open []int
	for i, ok := range openFlags {
		if ok {
			open = append(open, cfg.Ports[i])
		}
	}
	sort.Ints(open)
	return open
}

// snmpFingerprint tries each community in order, issuing the six MIB-II
// system OIDs in parallel per community. The first community returning any
// value wins and fills the device's system facts.
func (s *DiscoveryService) snmpFingerprint(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	ip string,
	d *model.DiscoveredDevice,
) {
	if s.snmp == nil || len(cfg.Communities) == 0 {
		return
	}
	timeout := time.Duration(cfg.SNMPTimeoutSeconds) * time.Second

	for _, community := range cfg.Communities {
		values := s.snmpSystemGroup(ctx, ip, community, timeout)
		if len(values) == 0 {
			continue
		}
		d.SNMPSuccess = true
		d.Hostname = scalarString(values["sysName"])
		d.Description = scalarString(values["sysDescr"])
		d.Contact = scalarString(values["sysContact"])
		d.Location = scalarString(values["sysLocation"])
		d.Uptime = scalarString(values["sysUpTime"])
		return
	}
}

// snmpSystemGroup fetches the MIB-II system OIDs in parallel with one
// community. Misses and errors simply leave their entry out.
func (s *DiscoveryService) snmpSystemGroup(
	ctx context.Context,
	ip, community string,
	timeout time.Duration,
) map[string]any {
	var (
		mu     sync.Mutex
		values = map[string]any{}
		wg     sync.WaitGroup
	)
	for name, oid := range systemOIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.snmp.Get(ctx, core.SNMPGetParams{
				IP:        ip,
				Community: community,
				OID:       oid,
				Timeout:   timeout,
			})
			if err != nil || v == nil {
				return
			}
			mu.Lock()
			values[name] = v
			mu.Unlock()
		}()
	}
	wg.Wait()
	return values
}

// identifyAndPersist runs stage 4 in place and records each device in the
// local scan-result store when one is configured.
func (s *DiscoveryService) identifyAndPersist(
	ctx context.Context,
	devices []*model.DiscoveredDevice,
	state *scanState,
) {
	if len(devices) == 0 {
		return
	}
	start := time.Now()
	for _, d := range devices {
		identify.Apply(d)
		state.addIdentified()
		if s.devices == nil {
			continue
		}
		if _, err := s.devices.UpsertFromScan(ctx, d); err != nil {
			state.addError("record scan result %s: %v", d.IPAddress, err)
		}
	}
	metrics.EmitDiscoveryStage(s.metrics, "identify", time.Since(start))
}

// reconcileOutcome classifies what stage 5 did with one device.
type reconcileOutcome int

const (
	reconcileSkipped reconcileOutcome = iota
	reconcileCreated
	reconcileUpdated
)

// reconcile runs stage 5 over the identified devices. Completion order is
// not input order; each device lands in exactly one result bucket.
func (s *DiscoveryService) reconcile(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	devices []*model.DiscoveredDevice,
	state *scanState,
	result *model.DiscoveryResult,
) {
	if len(devices) == 0 {
		return
	}
	start := time.Now()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := semaphore.NewWeighted(syncConcurrency(len(devices)))
	for i, d := range devices {
		if err := sem.Acquire(ctx, 1); err != nil {
			state.addError("reconciliation stopped after %d of %d devices: %v", i, len(devices), err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			outcome, name, err := s.reconcileDevice(ctx, cfg, d)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, name)
				state.addError("sync %s: %v", name, err)
				return
			}
			switch outcome {
			case reconcileCreated:
				result.Created = append(result.Created, name)
				state.addSynced()
			case reconcileUpdated:
				result.Updated = append(result.Updated, name)
				state.addSynced()
			case reconcileSkipped:
				result.Skipped = append(result.Skipped, name)
			}
		}()
	}
	wg.Wait()
	metrics.EmitDiscoveryStage(s.metrics, "sync", time.Since(start))
}

// reconcileDevice syncs one device to inventory per the run's sync_mode,
// match_by, and device_naming policies.
func (s *DiscoveryService) reconcileDevice(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	d *model.DiscoveredDevice,
) (reconcileOutcome, string, error) {
	name, err := deviceName(cfg, d)
	if err != nil {
		return reconcileSkipped, d.IPAddress, err
	}

	matched, err := s.matchDevice(ctx, cfg, d, name)
	if err != nil {
		return reconcileSkipped, name, fmt.Errorf("match: %w", err)
	}

	if matched != nil {
		if cfg.SyncMode == model.SyncModeCreateOnly {
			return reconcileSkipped, matched.Name, nil
		}
		updated, err := s.updateMatched(ctx, matched, d)
		if err != nil {
			return reconcileSkipped, matched.Name, err
		}
		if err := s.ensureAddressing(ctx, matched.ID, d); err != nil {
			return reconcileSkipped, matched.Name, err
		}
		if updated {
			return reconcileUpdated, matched.Name, nil
		}
		return reconcileSkipped, matched.Name, nil
	}

	if cfg.SyncMode == model.SyncModeUpdateOnly {
		return reconcileSkipped, name, nil
	}
	created, err := s.createUnmatched(ctx, cfg, name, d)
	if err != nil {
		return reconcileSkipped, name, err
	}
	if err := s.ensureAddressing(ctx, created.ID, d); err != nil {
		return reconcileSkipped, created.Name, err
	}
	return reconcileCreated, created.Name, nil
}

// matchDevice applies the match_by policy. A policy whose key the scan never
// produced (no MAC, no serial) is a clean miss.
func (s *DiscoveryService) matchDevice(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	d *model.DiscoveredDevice,
	name string,
) (*model.InventoryDevice, error) {
	switch cfg.MatchBy {
	case model.MatchByIP:
		return s.inventory.FindDevice(ctx, core.FindDeviceQuery{IP: d.IPAddress})
	case model.MatchByName:
		return s.inventory.FindDevice(ctx, core.FindDeviceQuery{Name: name})
	case model.MatchByIPOrName:
		matched, err := s.inventory.FindDevice(ctx, core.FindDeviceQuery{IP: d.IPAddress})
		if err != nil || matched != nil {
			return matched, err
		}
		return s.inventory.FindDevice(ctx, core.FindDeviceQuery{Name: name})
	case model.MatchByMAC:
		if d.MACAddress == "" {
			return nil, nil
		}
		return s.inventory.FindDevice(ctx, core.FindDeviceQuery{MAC: d.MACAddress})
	case model.MatchBySerial:
		if d.Serial == "" {
			return nil, nil
		}
		return s.inventory.FindDevice(ctx, core.FindDeviceQuery{Serial: d.Serial})
	default:
		return nil, apperrors.Validationf("unknown match_by %q", cfg.MatchBy)
	}
}

// updateMatched patches only the fields the inventory record is missing and
// adds the autodiscovered tag when absent. Reports whether anything was
// written.
func (s *DiscoveryService) updateMatched(
	ctx context.Context,
	matched *model.InventoryDevice,
	d *model.DiscoveredDevice,
) (bool, error) {
	patch := core.UpdateInventoryDeviceParams{}
	changed := false

	if matched.Serial == "" && d.Serial != "" {
		patch.Serial = &d.Serial
		changed = true
	}
	if matched.Description == "" && d.Description != "" {
		patch.Description = &d.Description
		changed = true
	}
	if !matched.HasTag(autodiscoveredTag) {
		if _, err := s.inventory.EnsureTag(ctx, autodiscoveredTag); err != nil {
			return false, fmt.Errorf("ensure tag: %w", err)
		}
		patch.AddTags = []string{autodiscoveredTag}
		changed = true
	}

	if !changed {
		return false, nil
	}
	if _, err := s.inventory.UpdateDevice(ctx, matched.ID, patch); err != nil {
		return false, fmt.Errorf("update device: %w", err)
	}
	return true, nil
}

// createUnmatched creates the device record, resolving manufacturer, device
// type, and role per the auto-create flags with the configured defaults as
// the fallback.
func (s *DiscoveryService) createUnmatched(
	ctx context.Context,
	cfg *model.DiscoveryConfig,
	name string,
	d *model.DiscoveredDevice,
) (*model.InventoryDevice, error) {
	params := core.CreateInventoryDeviceParams{
		Name:        name,
		Serial:      d.Serial,
		Description: d.Description,
	}

	manufacturer := cfg.DefaultManufacturer
	if cfg.AutoCreateManufacturer && d.Vendor != "" {
		manufacturer = d.Vendor
	}
	var manufacturerID string
	if manufacturer != "" {
		id, err := s.inventory.EnsureManufacturer(ctx, manufacturer)
		if err != nil {
			return nil, fmt.Errorf("ensure manufacturer: %w", err)
		}
		manufacturerID = id
	}

	deviceModel := cfg.DefaultDeviceType
	if cfg.AutoCreateDeviceType && d.Model != "" {
		deviceModel = d.Model
	}
	if manufacturerID != "" && deviceModel != "" {
		id, err := s.inventory.EnsureDeviceType(ctx, manufacturerID, deviceModel)
		if err != nil {
			return nil, fmt.Errorf("ensure device type: %w", err)
		}
		params.DeviceTypeID = id
	}

	role := cfg.DefaultDeviceRole
	if cfg.AutoCreateDeviceRole && d.DeviceRole != "" {
		role = d.DeviceRole
	}
	if role != "" {
		id, err := s.inventory.EnsureRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("ensure role: %w", err)
		}
		params.RoleID = id
	}

	if _, err := s.inventory.EnsureTag(ctx, autodiscoveredTag); err != nil {
		return nil, fmt.Errorf("ensure tag: %w", err)
	}
	params.Tags = []string{autodiscoveredTag}

	created, err := s.inventory.CreateDevice(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return created, nil
}

// ensureAddressing binds the scanned address to the device's management
// interface and marks it primary.
func (s *DiscoveryService) ensureAddressing(
	ctx context.Context,
	deviceID string,
	d *model.DiscoveredDevice,
) error {
	iface, err := s.inventory.EnsureInterface(ctx, core.EnsureInterfaceParams{
		DeviceID: deviceID,
		Name:     managementInterfaceName,
		MgmtOnly: true,
	})
	if err != nil {
		return fmt.Errorf("ensure management interface: %w", err)
	}
	ip, err := s.inventory.AssignIP(ctx, core.AssignIPParams{
		DeviceID:    deviceID,
		InterfaceID: iface.ID,
		Address:     d.IPAddress,
	})
	if err != nil {
		return fmt.Errorf("assign ip: %w", err)
	}
	if err := s.inventory.SetPrimaryIPv4(ctx, deviceID, ip.ID); err != nil {
		return fmt.Errorf("set primary ipv4: %w", err)
	}
	return nil
}

// deviceName applies the device_naming policy. Policies that need a fact
// the scan never produced fail so the device lands in the failed bucket
// instead of being created under a junk name.
func deviceName(cfg *model.DiscoveryConfig, d *model.DiscoveredDevice) (string, error) {
	switch cfg.DeviceNaming {
	case model.DeviceNamingHostnameOrIP:
		if d.Hostname != "" {
			return d.Hostname, nil
		}
		return d.IPAddress, nil
	case model.DeviceNamingHostnameOnly:
		if d.Hostname == "" {
			return "", apperrors.Validationf("no hostname for %s under hostname_only naming", d.IPAddress)
		}
		return d.Hostname, nil
	case model.DeviceNamingIPOnly:
		return d.IPAddress, nil
	case model.DeviceNamingPrefixIP:
		return cfg.NamePrefix + d.IPAddress, nil
	case model.DeviceNamingDNSReverse:
		if d.DNSName == "" {
			return "", apperrors.Validationf("no reverse dns name for %s under dns_reverse naming", d.IPAddress)
		}
		return strings.ToLower(d.DNSName), nil
	default:
		return "", apperrors.Validationf("unknown device_naming %q", cfg.DeviceNaming)
	}
}
