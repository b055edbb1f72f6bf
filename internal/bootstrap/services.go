package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/adapters/inventory"
	"github.com/target/netops-go/internal/adapters/probe"
	"github.com/target/netops-go/internal/adapters/redisq"
	"github.com/target/netops-go/internal/core"
	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/model"
	"github.com/target/netops-go/internal/domain/target"
	"github.com/target/netops-go/internal/domain/vars"
	"github.com/target/netops-go/internal/observability/notify"
	"github.com/target/netops-go/internal/observability/notify/pagerduty"
	"github.com/target/netops-go/internal/observability/notify/slack"
	"github.com/target/netops-go/internal/observability/statsd"
	"github.com/target/netops-go/internal/service"
)

// AppServices is the wired object graph every hosted service runs on.
type AppServices struct {
	Engine          *service.JobEngine
	Actions         *service.ActionExecutor
	Discovery       *service.DiscoveryService
	Broker          *redisq.Broker
	DefinitionCache *core.DefinitionCacheService
	Observability   ObservabilityStack
}

// ObservabilityStack groups shared observability dependencies.
type ObservabilityStack struct {
	MetricsSink    *statsd.Client
	MetricsConfig  config.ObservabilityMetricsConfig
	Notifier       *notify.Dispatcher
	NotifierConfig config.ObservabilityNotificationsConfig
}

// AppDeps carries the process-level handles the wiring starts from.
type AppDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// repoSet groups data adapters backing service ports.
type repoSet struct {
	DB            *sql.DB
	Redis         redis.UniversalClient
	Definitions   *data.JobDefinitionsRepo
	Executions    *data.ExecutionsRepo
	SchedulerJobs *data.SchedulerJobsRepo
	Devices       *data.DevicesRepo
	Sink          *data.SinkRepo
	TargetSources *data.TargetSourcesRepo
	Secrets       *data.EnvSecretRepo
	CacheRepo     *data.RedisCacheRepo
}

// newObservabilityStack configures metrics and notification adapters.
func newObservabilityStack(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityStack {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			Logger:     obsLogger,
			GlobalTags: cfg.Metrics.GlobalTags(),
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	notifier := buildNotifier(obsLogger, cfg.Notifications)

	return ObservabilityStack{
		MetricsSink:    metricsSink,
		MetricsConfig:  cfg.Metrics,
		Notifier:       notifier,
		NotifierConfig: cfg.Notifications,
	}
}

// newRepoSet constructs the data adapters backing service ports; no
// business rules here.
func newRepoSet(db *sql.DB, redis redis.UniversalClient) *repoSet {
	return &repoSet{
		DB:            db,
		Redis:         redis,
		Definitions:   data.NewJobDefinitionsRepo(db),
		Executions:    data.NewExecutionsRepo(db),
		SchedulerJobs: data.NewSchedulerJobsRepo(db),
		Devices:       data.NewDevicesRepo(db),
		Sink:          data.NewSinkRepo(db),
		TargetSources: data.NewTargetSourcesRepo(db),
		Secrets:       data.NewEnvSecretRepo(),
		CacheRepo:     data.NewRedisCacheRepo(redis),
	}
}

// buildBroker constructs the Redis task broker shared by the scheduler,
// workers, and the reaper group sweep.
func buildBroker(redisClient redis.UniversalClient, cfg config.BrokerConfig) *redisq.Broker {
	return redisq.NewBroker(redisClient, redisq.Options{
		DefaultQueue: cfg.Queue,
		StateTTL:     cfg.StateTTL,
	})
}

func newDefinitionCacheService(repos *repoSet, cfg config.CacheConfig) *core.DefinitionCacheService {
	if repos.CacheRepo == nil {
		return nil
	}
	cacheCfg := core.DefaultDefinitionCacheConfig()
	if cfg.DefinitionTTL > 0 {
		cacheCfg.TTL = cfg.DefinitionTTL
	}
	return core.NewDefinitionCacheService(core.DefinitionCacheServiceOptions{
		Cache:       repos.CacheRepo,
		Definitions: repos.Definitions,
		Config:      cacheCfg,
	})
}

// NewInventoryClient constructs the inventory API client, or nil when no
// base URL is configured. Discovery then keeps its results local. Exported
// so the admin CLI can build one-shot discovery runs with the same wiring.
//
//nolint:ireturn // nil must mean "no inventory", which needs the interface type.
func NewInventoryClient(cfg config.InventoryConfig, logger *slog.Logger) core.InventoryClient {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := inventory.NewClient(inventory.Config{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	})
	if err != nil {
		if logger != nil {
			logger.Error("failed to initialise inventory client", "error", err)
		}
		return nil
	}
	return client
}

// probeAdapters groups the network probe implementations shared by the
// action executor and the discovery pipeline.
type probeAdapters struct {
	Pinger   *probe.ICMPPinger
	Ports    *probe.TCPDialer
	SNMP     *probe.SNMPClient
	Commands *probe.SSHRunner
	Reverse  *probe.DNSResolver
	ARP      *probe.ARPTable
}

func buildProbeAdapters() probeAdapters {
	return probeAdapters{
		Pinger:   probe.NewICMPPinger(),
		Ports:    probe.NewTCPDialer(),
		SNMP:     probe.NewSNMPClient(),
		Commands: probe.NewSSHRunner(),
		Reverse:  probe.NewDNSResolver(),
		ARP:      probe.NewARPTable(),
	}
}

// buildExecutorRegistry maps non-logic action kinds to their runners. Logic
// kinds are handled inside the engine and never consult the registry.
func buildExecutorRegistry(actions *service.ActionExecutor, discovery *service.DiscoveryService) map[model.ActionKind]core.ActionRunner {
	return map[model.ActionKind]core.ActionRunner{
		model.ActionKindPing:          actions,
		model.ActionKindSNMPScan:      actions,
		model.ActionKindSSHScan:       actions,
		model.ActionKindRDPScan:       actions,
		model.ActionKindCustom:        actions,
		model.ActionKindAutodiscovery: discovery,
	}
}

// logAuditSink writes engine lifecycle events to the structured log. There
// is no audit table; operators ship these lines to their log pipeline.
type logAuditSink struct {
	logger *slog.Logger
}

func newLogAuditSink(logger *slog.Logger) *logAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &logAuditSink{logger: logger.With("component", "audit")}
}

var _ core.AuditSink = (*logAuditSink)(nil)

func (s *logAuditSink) Record(ctx context.Context, e *model.AuditEvent) error {
	if e == nil {
		return nil
	}
	attrs := []any{
		"job_name", e.JobName,
		"execution_id", e.ExecutionID,
	}
	if e.ActionID != "" {
		attrs = append(attrs, "action_id", e.ActionID)
	}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	s.logger.InfoContext(ctx, e.Kind, attrs...)
	return nil
}

// wireOptions groups dependencies for wireServices.
type wireOptions struct {
	Repos         *repoSet
	Observability ObservabilityStack
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// wireServices assembles the engine, executors, and discovery pipeline
// using repositories and observability adapters.
func wireServices(opts *wireOptions) AppServices {
	if opts == nil {
		return AppServices{}
	}
	svcLogger := opts.Logger
	if svcLogger == nil {
		svcLogger = slog.Default()
	}

	appCfg := opts.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	broker := buildBroker(opts.Repos.Redis, appCfg.Broker)
	definitionCache := newDefinitionCacheService(opts.Repos, appCfg.Cache)
	inventoryClient := NewInventoryClient(appCfg.Inventory, svcLogger)
	probes := buildProbeAdapters()

	targetResolver := target.NewResolver(target.ResolverOptions{
		Inventory: inventoryClient,
		Database:  opts.Repos.TargetSources,
	})
	varsResolver := vars.NewResolver(vars.ResolverOptions{})

	actions := service.NewActionExecutor(service.ActionExecutorOptions{
		Targets:  targetResolver,
		Vars:     varsResolver,
		Pinger:   probes.Pinger,
		Ports:    probes.Ports,
		SNMP:     probes.SNMP,
		Commands: probes.Commands,
		Sink:     opts.Repos.Sink,
		Secrets:  opts.Repos.Secrets,
		Broker:   broker,
		Logger:   svcLogger,
	})

	discovery := service.NewDiscoveryService(service.DiscoveryServiceOptions{
		Targets:   targetResolver,
		Vars:      varsResolver,
		Pinger:    probes.Pinger,
		Ports:     probes.Ports,
		SNMP:      probes.SNMP,
		Reverse:   probes.Reverse,
		ARP:       probes.ARP,
		Inventory: inventoryClient,
		Devices:   opts.Repos.Devices,
		Metrics:   opts.Observability.MetricsSink,
		Logger:    svcLogger,
	})

	engine := service.NewJobEngine(service.JobEngineOptions{
		Executors: buildExecutorRegistry(actions, discovery),
		Vars:      varsResolver,
		Broker:    broker,
		Notifier:  opts.Observability.Notifier,
		Audit:     newLogAuditSink(svcLogger),
		Logger:    svcLogger,
	})

	return AppServices{
		Engine:          engine,
		Actions:         actions,
		Discovery:       discovery,
		Broker:          broker,
		DefinitionCache: definitionCache,
		Observability:   opts.Observability,
	}
}

func NewAppServices(deps *AppDeps) AppServices {
	if deps == nil {
		return AppServices{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
	}
	observability := newObservabilityStack(logger, obsCfg)
	repos := newRepoSet(deps.DB, deps.RedisClient)
	return wireServices(&wireOptions{
		Repos:         repos,
		Observability: observability,
		Config:        deps.Config,
		Logger:        logger,
	})
}

func buildNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *notify.Dispatcher {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return notify.NewDispatcher(notify.DispatcherOptions{
			Logger: baseLogger.With("component", "notifier"),
		})
	}

	sinks := make([]notify.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, notify.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, notify.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return notify.NewDispatcher(notify.DispatcherOptions{
		Logger: baseLogger.With("component", "notifier"),
		Sinks:  sinks,
	})
}

// ServeOptions selects what Serve hosts and the shared handles it runs on.
type ServeOptions struct {
	Config   *config.AppConfig
	Services AppServices
	DB       *sql.DB
	Logger   *slog.Logger
}

// shutdownWaitTimeout bounds how long shutdown waits on each service.
const shutdownWaitTimeout = 15 * time.Second

// hostedService binds a service mode to the function that runs it.
type hostedService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// serviceHandle tracks one launched service until it winds down.
type serviceHandle struct {
	name string
	done <-chan struct{}
}

// Serve hosts every enabled service and blocks until a shutdown signal
// arrives or one of them fails.
func Serve(cfg *ServeOptions) error {
	if cfg == nil {
		return errors.New("serve options are required")
	}
	if cfg.Config == nil {
		return errors.New("serve options missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, errBufferSize(enabled))

	var handles []serviceHandle
	for _, svc := range hostedServices(cfg, logger) {
		if !enabled[svc.mode] {
			continue
		}
		handles = append(handles, launchService(ctx, svc, logger, errCh))
	}

	return awaitShutdown(cancel, errCh, logger, handles)
}

// hostedServices lists every hostable service with its start function.
// Which ones actually run is decided by the enabled-mode set.
func hostedServices(cfg *ServeOptions, logger *slog.Logger) []hostedService {
	return []hostedService{
		{
			mode: config.ServiceModeScheduler,
			name: "scheduler",
			start: func(ctx context.Context) error {
				return RunScheduler(ctx, SchedulerConfig{
					DB:           cfg.DB,
					Broker:       cfg.Services.Broker,
					Logger:       logger,
					TickInterval: cfg.Config.Scheduler.TickInterval,
					BatchSize:    cfg.Config.Scheduler.BatchSize,
					StaleAfter:   cfg.Config.Scheduler.StaleAfter,
					Metrics:      cfg.Services.Observability.MetricsSink,
				})
			},
		},
		{
			mode: config.ServiceModeWorker,
			name: "worker",
			start: func(ctx context.Context) error {
				return RunWorker(ctx, WorkerConfig{
					DB:          cfg.DB,
					Broker:      cfg.Services.Broker,
					Engine:      cfg.Services.Engine,
					Actions:     cfg.Services.Actions,
					Discovery:   cfg.Services.Discovery,
					Cache:       cfg.Services.DefinitionCache,
					Logger:      logger,
					Queue:       cfg.Config.Broker.Queue,
					Block:       cfg.Config.Broker.PollTimeout,
					Concurrency: cfg.Config.Worker.Concurrency,
					Metrics:     cfg.Services.Observability.MetricsSink,
				})
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				return RunReaper(ctx, ReaperConfig{
					DB:      cfg.DB,
					Broker:  cfg.Services.Broker,
					Logger:  logger,
					Config:  cfg.Config.Reaper,
					Metrics: cfg.Services.Observability.MetricsSink,
				})
			},
		},
	}
}

// launchService runs one service in its own goroutine and returns its
// completion handle. A failure is pushed to errCh; with nobody listening the
// error is logged and dropped rather than blocking shutdown.
func launchService(ctx context.Context, svc hostedService, logger *slog.Logger, errCh chan<- error) serviceHandle {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := svc.start(ctx)
		if err == nil {
			return
		}
		wrapped := fmt.Errorf("%s failed: %w", svc.name, err)
		select {
		case errCh <- wrapped:
		case <-ctx.Done():
		default:
			logger.WarnContext(ctx, "dropping service error", "service", svc.name, "error", wrapped)
		}
	}()

	logger.InfoContext(ctx, "service started", "service", svc.name, "mode", svc.mode)
	return serviceHandle{name: svc.name, done: done}
}

// errBufferSize sizes the error channel so every enabled service can
// report one failure without blocking, plus one slot of slack.
func errBufferSize(enabled map[config.ServiceMode]bool) int {
	n := 1
	for _, on := range enabled {
		if on {
			n++
		}
	}
	return n
}

// awaitShutdown blocks until SIGINT/SIGTERM or a service error, then
// cancels the service context and waits for every launched goroutine to
// wind down, bounded per service by shutdownWaitTimeout.
func awaitShutdown(cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger, handles []serviceHandle) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		logger.Info("shutting down services...")
	case err := <-errCh:
		logger.Error("service error", "error", err)
		runErr = err
	}

	cancel()
	for _, h := range handles {
		select {
		case <-h.done:
			logger.Info(h.name + " stopped")
		case <-time.After(shutdownWaitTimeout):
			logger.Warn("timeout waiting for " + h.name + " to stop")
		}
	}
	return runErr
}
