package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/dustin/go-humanize"
	"github.com/grafana/pyroscope-go"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/config"
	"github.com/kubescape/inuse-agent/pkg/containerruntime"
	"github.com/kubescape/inuse-agent/pkg/dedup"
	"github.com/kubescape/inuse-agent/pkg/ebpf/probes"
	"github.com/kubescape/inuse-agent/pkg/exporters"
	"github.com/kubescape/inuse-agent/pkg/fanotify"
	"github.com/kubescape/inuse-agent/pkg/healthmanager"
	"github.com/kubescape/inuse-agent/pkg/identity"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	metricprometheus "github.com/kubescape/inuse-agent/pkg/metricsmanager/prometheus"
	"github.com/kubescape/inuse-agent/pkg/pathfilter"
	"github.com/kubescape/inuse-agent/pkg/probeset"
	relevancymanagerv1 "github.com/kubescape/inuse-agent/pkg/relevancymanager/v1"
	resolverv1 "github.com/kubescape/inuse-agent/pkg/resolver/v1"
	"github.com/kubescape/inuse-agent/pkg/transport"
	"github.com/kubescape/inuse-agent/pkg/utils"
	"github.com/kubescape/inuse-agent/pkg/validator"
	"github.com/prometheus/procfs"
)

const (
	runtimeDialTimeout = 5 * time.Second
	dropsInterval      = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configDir := "/etc/config"
	if envPath := os.Getenv("CONFIG_DIR"); envPath != "" {
		configDir = envPath
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("load config error", helpers.Error(err))
	}

	// Check if we need to validate the kernel version.
	if os.Getenv("SKIP_KERNEL_VERSION_CHECK") == "" {
		if err := validator.CheckPrerequisites(cfg); err != nil {
			logger.L().Ctx(ctx).Error("error during kernel validation", helpers.Error(err))
			exitOnError(err)
		}
	}

	if _, present := os.LookupEnv("ENABLE_PROFILER"); present {
		logger.L().Info("starting profiler on port 6060")
		go func() {
			_ = http.ListenAndServe("localhost:6060", nil)
		}()
	}

	if pyroscopeServerSvc, present := os.LookupEnv("PYROSCOPE_SERVER_SVC"); present {
		logger.L().Info("starting pyroscope profiler")

		if os.Getenv("APPLICATION_NAME") == "" {
			os.Setenv("APPLICATION_NAME", "inuse-agent")
		}

		_, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: os.Getenv("APPLICATION_NAME"),
			ServerAddress:   pyroscopeServerSvc,
			Logger:          pyroscope.StandardLogger,
			Tags:            map[string]string{"node": cfg.NodeName, "app": "inuse-agent", "pod": os.Getenv("POD_NAME")},
		})
		if err != nil {
			logger.L().Ctx(ctx).Error("error starting pyroscope", helpers.Error(err))
		}
	}

	// Create Prometheus metrics exporter
	var prometheusExporter metricsmanager.MetricsManager
	if cfg.EnablePrometheusExporter {
		prometheusExporter = metricprometheus.NewPrometheusMetric(cfg.MetricsPort)
	} else {
		prometheusExporter = metricsmanager.NewMetricsMock()
	}
	prometheusExporter.Start()
	defer prometheusExporter.Destroy()

	exporter, err := exporters.InitExporters(cfg.Exporters, cfg.NodeName)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("error creating exporters", helpers.Error(err))
	}

	runtimes := containerruntime.NewChainFromConfig(cfg.Runtimes, runtimeDialTimeout, cfg.RuntimeLookupTimeout, prometheusExporter)
	defer runtimes.Close()
	if runtimes.Len() == 0 {
		logger.L().Warning("no container runtime available, every process resolves to the host or a partial identity")
	}

	pref, _ := transport.ParsePreference(cfg.Transport)

	// Start the event source
	var (
		opens, exits transport.Reader
		table        identity.ProcessTable
		stopSource   func()
	)
	switch cfg.Backend {
	case config.BackendFanotify:
		procFS, err := procfs.NewDefaultFS()
		if err != nil {
			logger.L().Ctx(ctx).Fatal("error opening procfs", helpers.Error(err))
		}
		kind := transport.SelectKind(transport.StaticCapabilities{RingBuffer: true}, pref)
		openSize, exitSize := cfg.FanotifyChannelSizes()
		openCh := transport.NewChannel(kind, openSize, runtime.NumCPU())
		exitCh := transport.NewChannel(kind, exitSize, runtime.NumCPU())
		identities := identity.NewTable(cfg.IdentityTableSize)
		set := probeset.New(identities, fanotify.NewCgroupReader(procFS), openCh, exitCh, prometheusExporter, probeset.DefaultInflightSize)
		source, err := fanotify.NewSource(fanotify.Config{
			MountPoints:  cfg.FanotifyMountPoints,
			ReapInterval: cfg.FanotifyReapInterval,
			MaxProcesses: cfg.IdentityTableSize,
		}, set, procFS)
		if err != nil {
			logger.L().Ctx(ctx).Fatal("error creating the fanotify source", helpers.Error(err))
		}
		if err := source.Start(); err != nil {
			logger.L().Ctx(ctx).Error("error starting the fanotify source", helpers.Error(err))
			exitOnError(err)
		}
		opens, exits, table, stopSource = openCh, exitCh, identities, source.Stop
		logger.L().Info("fanotify source started", helpers.String("transport", kind.String()),
			helpers.Int("openEvents", openSize), helpers.Int("exitEvents", exitSize))
	default:
		if err := rlimit.RemoveMemlock(); err != nil {
			logger.L().Ctx(ctx).Error("error removing memlock limit", helpers.Error(err))
			os.Exit(utils.ExitCodeError)
		}
		kind := transport.SelectKind(transport.KernelCapabilities{}, pref)
		p, err := probes.Load(probes.Options{
			ObjectPath:      cfg.ProbeObjectPath,
			Kind:            kind,
			OpenRingBytes:   cfg.OpenEventsRingBytes,
			ExitRingBytes:   cfg.ExitEventsRingBytes,
			OpenPerfPages:   cfg.OpenEventsPerfPages,
			ExitPerfPages:   cfg.ExitEventsPerfPages,
			IdentityEntries: uint32(cfg.IdentityTableSize),
		})
		if err != nil {
			logger.L().Ctx(ctx).Error("error loading the kernel probes", helpers.Error(err))
			exitOnError(err)
		}
		if opens, err = p.OpenEventsReader(); err != nil {
			logger.L().Ctx(ctx).Fatal("error opening the open events reader", helpers.Error(err))
		}
		if exits, err = p.ExitEventsReader(); err != nil {
			logger.L().Ctx(ctx).Fatal("error opening the exit events reader", helpers.Error(err))
		}
		table, stopSource = p.ProcessTable(), p.Close
		go p.WatchDrops(ctx, dropsInterval, prometheusExporter)
		if kind == transport.RingBuffer {
			logger.L().Info("kernel probes loaded", helpers.String("transport", kind.String()),
				helpers.String("openEvents", humanize.IBytes(uint64(cfg.OpenEventsRingBytes))),
				helpers.String("exitEvents", humanize.IBytes(uint64(cfg.ExitEventsRingBytes))))
		} else {
			logger.L().Info("kernel probes loaded", helpers.String("transport", kind.String()),
				helpers.Int("openPagesPerCPU", cfg.OpenEventsPerfPages),
				helpers.Int("exitPagesPerCPU", cfg.ExitEventsPerfPages))
		}
	}
	defer stopSource()

	// Create the identity resolver
	resolver, err := resolverv1.CreateResolver(resolverv1.Config{
		GracePeriod:      cfg.IdentityGracePeriod,
		EvictionInterval: resolverv1.DefaultConfig().EvictionInterval,
		CacheSize:        cfg.WorkloadCacheSize,
		CacheTTL:         cfg.WorkloadCacheTTL,
		FailureTTL:       cfg.WorkloadFailureTTL,
		LookupRetries:    cfg.RuntimeLookupRetries,
		Workers:          cfg.ResolverWorkers,
		NotifyBuffer:     resolverv1.DefaultConfig().NotifyBuffer,
	}, table, runtimes, prometheusExporter)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("error creating the identity resolver", helpers.Error(err))
	}
	resolver.Start(ctx)
	defer resolver.Stop()

	seen, err := dedup.New(cfg.DedupCapacity)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("error creating the dedup set", helpers.Error(err))
	}

	paths := pathfilter.New(pathfilter.Config{
		HostRoot:          cfg.HostRoot,
		HostIncludes:      cfg.HostIncludes,
		ContainerExcludes: cfg.ContainerExcludes,
	})

	// Start the correlation engine
	relevancyManager := relevancymanagerv1.CreateRelevancyManager(relevancymanagerv1.Config{
		PendingTimeout:   cfg.PendingTimeout,
		MaxPendingEvents: cfg.MaxPendingEvents,
		EventBufferSize:  cfg.EventBufferSize,
		FactBufferSize:   cfg.FactBufferSize,
	}, resolver, seen, paths, exporter, prometheusExporter)
	relevancyManager.StartRelevancyManager(ctx, opens, exits)

	// Start the health manager
	healthManager := healthmanager.NewHealthManager(cfg.HealthPort)
	healthManager.AddReadinessChecker(relevancyManager)
	healthManager.Start(ctx)

	logger.L().Info("inuse-agent started", helpers.String("backend", cfg.Backend), helpers.String("node", cfg.NodeName))

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown

	cancel()
	relevancyManager.Wait()
	exporter.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := healthManager.Stop(stopCtx); err != nil {
		logger.L().Warning("error stopping the health manager", helpers.Error(err))
	}

	switch sig {
	case os.Interrupt:
		logger.L().Info("Received interrupt signal")
	case syscall.SIGTERM:
		logger.L().Info("Received SIGTERM signal")
	default:
		logger.L().Info("Received unknown signal")
	}
}

func exitOnError(err error) {
	switch {
	case strings.Contains(err.Error(), utils.ErrKernelVersion):
		os.Exit(utils.ExitCodeIncompatibleKernel)
	case strings.Contains(err.Error(), utils.ErrMacOS):
		os.Exit(utils.ExitCodeMacOS)
	case strings.Contains(err.Error(), utils.ErrProbeLoad):
		os.Exit(utils.ExitCodeProbeLoad)
	default:
		os.Exit(utils.ExitCodeError)
	}
}
