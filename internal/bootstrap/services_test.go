package bootstrap

import (
	"testing"

	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/domain/model"
)

func TestErrBufferSize(t *testing.T) {
	tests := []struct {
		name    string
		enabled map[config.ServiceMode]bool
		want    int
	}{
		{name: "no services enabled", want: 1},
		{
			name:    "worker only",
			enabled: map[config.ServiceMode]bool{config.ServiceModeWorker: true},
			want:    2,
		},
		{
			name: "disabled entries do not count",
			enabled: map[config.ServiceMode]bool{
				config.ServiceModeScheduler: true,
				config.ServiceModeWorker:    false,
			},
			want: 2,
		},
		{
			name: "all services enabled",
			enabled: map[config.ServiceMode]bool{
				config.ServiceModeScheduler: true,
				config.ServiceModeWorker:    true,
				config.ServiceModeReaper:    true,
			},
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errBufferSize(tt.enabled); got != tt.want {
				t.Fatalf("errBufferSize(%v) = %d, want %d", tt.enabled, got, tt.want)
			}
		})
	}
}

func TestBuildExecutorRegistry(t *testing.T) {
	container := wireServices(&wireOptions{
		Repos:  newRepoSet(nil, nil),
		Config: &config.AppConfig{},
	})

	if container.Engine == nil {
		t.Fatal("expected engine to be built")
	}
	if container.Actions == nil || container.Discovery == nil {
		t.Fatal("expected action executor and discovery service to be built")
	}
	if container.Broker == nil {
		t.Fatal("expected broker to be built")
	}

	registry := buildExecutorRegistry(container.Actions, container.Discovery)
	for _, kind := range []model.ActionKind{
		model.ActionKindPing,
		model.ActionKindSNMPScan,
		model.ActionKindSSHScan,
		model.ActionKindRDPScan,
		model.ActionKindCustom,
		model.ActionKindAutodiscovery,
	} {
		if _, ok := registry[kind]; !ok {
			t.Errorf("expected registry to cover kind %q", kind)
		}
	}
	if registry[model.ActionKindAutodiscovery] != container.Discovery {
		t.Error("expected autodiscovery to route to the discovery service")
	}
	if registry[model.ActionKindPing] != container.Actions {
		t.Error("expected ping to route to the action executor")
	}
}

func TestGetEnabledServiceNames(t *testing.T) {
	cfg := &config.AppConfig{Services: "scheduler,reaper"}
	names := GetEnabledServices(cfg)
	if len(names) != 2 {
		t.Fatalf("expected 2 enabled services, got %v", names)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	if !seen["scheduler"] || !seen["reaper"] {
		t.Errorf("expected scheduler and reaper, got %v", names)
	}

	if got := GetEnabledServices(nil); len(got) != 0 {
		t.Errorf("expected no services for nil config, got %v", got)
	}
}
