package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/target/netops-go/internal/adapters/probe"
	"github.com/target/netops-go/internal/bootstrap"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/target"
	"github.com/target/netops-go/internal/service"
)

const defaultDiscoverTimeout = 10 * time.Minute

type discoverOptions struct {
	CIDR        string
	IPs         string
	Exclude     string
	Ports       string
	Communities string
	ReverseDNS  bool
	Sync        bool
	SyncMode    string
	Timeout     time.Duration
	Yes         bool

	ports []int
}

func runDiscover(cmdCtx *commandContext, args []string) error {
	opts, err := parseDiscoverFlags(args)
	if err != nil {
		return err
	}

	cfg := buildDiscoveryConfig(&opts)

	if opts.Sync {
		if !cmdCtx.Config.Inventory.IsEnabled() {
			return errors.New("--sync requires an inventory base URL in the configuration")
		}
		if confirmErr := confirmAction(discoverConfirmOptions{opts: opts}, "sync discovered hosts to inventory"); confirmErr != nil {
			return confirmErr
		}
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		result, runErr := newDiscoveryService(cmdCtx, db).Run(ctx, cfg)
		if runErr != nil {
			return fmt.Errorf("run discovery: %w", runErr)
		}
		return printDiscoveryResult(result)
	})
}

// newDiscoveryService assembles a one-shot pipeline with the same adapters
// the worker uses, minus metrics.
func newDiscoveryService(cmdCtx *commandContext, db *sql.DB) *service.DiscoveryService {
	inventoryClient := bootstrap.NewInventoryClient(cmdCtx.Config.Inventory, cmdCtx.Logger)

	return service.NewDiscoveryService(service.DiscoveryServiceOptions{
		Targets: target.NewResolver(target.ResolverOptions{
			Inventory: inventoryClient,
			Database:  data.NewTargetSourcesRepo(db),
		}),
		Pinger:    probe.NewICMPPinger(),
		Ports:     probe.NewTCPDialer(),
		SNMP:      probe.NewSNMPClient(),
		Reverse:   probe.NewDNSResolver(),
		ARP:       probe.NewARPTable(),
		Inventory: inventoryClient,
		Devices:   data.NewDevicesRepo(db),
		Logger:    cmdCtx.Logger,
	})
}

func buildDiscoveryConfig(opts *discoverOptions) model.DiscoveryConfig {
	targeting := model.Targeting{
		Type:    model.TargetingNetworkRange,
		CIDR:    opts.CIDR,
		Exclude: splitList(opts.Exclude),
	}
	if opts.CIDR == "" {
		targeting = model.Targeting{
			Type: model.TargetingStaticList,
			IPs:  splitList(opts.IPs),
		}
	}

	return model.DiscoveryConfig{
		Targeting:   targeting,
		Ports:       opts.ports,
		Communities: splitList(opts.Communities),
		ReverseDNS:  opts.ReverseDNS,
		Sync:        opts.Sync,
		SyncMode:    model.SyncMode(opts.SyncMode),
	}
}

func printDiscoveryResult(result *model.DiscoveryResult) error {
	totals := result.Report.Totals
	if err := writef(os.Stdout, "Discovery finished in %.1fs\n", result.Report.DurationSeconds); err != nil {
		return fmt.Errorf("print discovery summary: %w", err)
	}
	if err := writef(os.Stdout, "  Targets: %d | Live: %d | Identified: %d | Synced: %d\n",
		totals.Targets, totals.Live, totals.Identified, totals.Synced); err != nil {
		return fmt.Errorf("print discovery summary: %w", err)
	}

	if n := len(result.Report.Errors); n > 0 {
		if err := writef(os.Stdout, "Status: completed with %d error(s); results may be incomplete\n", n); err != nil {
			return fmt.Errorf("print discovery errors: %w", err)
		}
		for _, msg := range result.Report.Errors {
			if err := writef(os.Stdout, "  ! %s\n", msg); err != nil {
				return fmt.Errorf("print discovery errors: %w", err)
			}
		}
	}

	sections := []struct {
		label string
		names []string
	}{
		{"Created", result.Created},
		{"Updated", result.Updated},
		{"Skipped", result.Skipped},
		{"Failed", result.Failed},
	}
	for _, section := range sections {
		if len(section.names) == 0 {
			continue
		}
		if err := writef(os.Stdout, "%s (%d):\n", section.label, len(section.names)); err != nil {
			return fmt.Errorf("print discovery section: %w", err)
		}
		for _, name := range section.names {
			if err := writef(os.Stdout, "  - %s\n", name); err != nil {
				return fmt.Errorf("print discovery section: %w", err)
			}
		}
	}
	return nil
}

type discoverConfirmOptions struct {
	opts discoverOptions
}

func (d discoverConfirmOptions) IsYes() bool { return d.opts.Yes }

func (d discoverConfirmOptions) GetWarning() string {
	return "WARNING: this will create and update devices in the configured inventory."
}

func (d discoverConfirmOptions) GetTarget() string {
	if d.opts.CIDR != "" {
		return fmt.Sprintf("network %q", d.opts.CIDR)
	}
	return fmt.Sprintf("%d static address(es)", len(splitList(d.opts.IPs)))
}

func parseDiscoverFlags(args []string) (discoverOptions, error) {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := discoverOptions{
		Timeout: defaultDiscoverTimeout,
	}
	fs.StringVar(&opts.CIDR, "cidr", "", "CIDR to sweep (mutually exclusive with --ips)")
	fs.StringVar(&opts.IPs, "ips", "", "Comma-separated addresses to sweep (mutually exclusive with --cidr)")
	fs.StringVar(&opts.Exclude, "exclude", "", "Comma-separated addresses or CIDRs to skip")
	fs.StringVar(&opts.Ports, "ports", "", "Comma-separated TCP ports to probe on live hosts")
	fs.StringVar(&opts.Communities, "communities", "", "Comma-separated SNMP communities to try")
	fs.BoolVar(&opts.ReverseDNS, "reverse-dns", false, "Resolve hostnames for live hosts")
	fs.BoolVar(&opts.Sync, "sync", false, "Reconcile discovered hosts into inventory")
	fs.StringVar(&opts.SyncMode, "sync-mode", "", "Reconciliation mode (create_only|update_only|create_update)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultDiscoverTimeout, "Maximum duration for the whole sweep")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the sync confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return discoverOptions{}, err
	}

	opts.CIDR = strings.TrimSpace(opts.CIDR)
	opts.IPs = strings.TrimSpace(opts.IPs)
	opts.SyncMode = strings.ToLower(strings.TrimSpace(opts.SyncMode))

	if (opts.CIDR == "" && opts.IPs == "") || (opts.CIDR != "" && opts.IPs != "") {
		return discoverOptions{}, errors.New("specify exactly one of --cidr or --ips")
	}
	if opts.SyncMode != "" && !opts.Sync {
		return discoverOptions{}, errors.New("--sync-mode requires --sync")
	}
	if opts.SyncMode != "" && !model.SyncMode(opts.SyncMode).Valid() {
		return discoverOptions{}, fmt.Errorf("invalid sync mode %q", opts.SyncMode)
	}
	if opts.Timeout <= 0 {
		return discoverOptions{}, errors.New("--timeout must be greater than zero")
	}

	ports, err := parsePorts(opts.Ports)
	if err != nil {
		return discoverOptions{}, err
	}
	opts.ports = ports

	return opts, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePorts(raw string) ([]int, error) {
	entries := splitList(raw)
	if len(entries) == 0 {
		return nil, nil
	}

	ports := make([]int, 0, len(entries))
	for _, entry := range entries {
		port, err := strconv.Atoi(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", entry)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("port %d out of range", port)
		}
		ports = append(ports, port)
	}
	return ports, nil
}
