package config

import (
	"fmt"
	"time"

	"github.com/kubescape/inuse-agent/pkg/containerruntime"
	"github.com/kubescape/inuse-agent/pkg/exporters"
	"github.com/kubescape/inuse-agent/pkg/pathfilter"
	"github.com/kubescape/inuse-agent/pkg/transport"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	NodeNameEnvVar = "NODE_NAME"
	HostRootEnvVar = "HOST_ROOT"
)

const (
	BackendEBPF     = "ebpf"
	BackendFanotify = "fanotify"
)

type Config struct {
	Backend                  string                    `mapstructure:"backend"`
	ProbeObjectPath          string                    `mapstructure:"probeObjectPath"`
	Transport                string                    `mapstructure:"transport"`
	OpenEventsRingBytes      uint32                    `mapstructure:"openEventsRingBytes"`
	ExitEventsRingBytes      uint32                    `mapstructure:"exitEventsRingBytes"`
	OpenEventsPerfPages      int                       `mapstructure:"openEventsPerfPages"`
	ExitEventsPerfPages      int                       `mapstructure:"exitEventsPerfPages"`
	IdentityGracePeriod      time.Duration             `mapstructure:"identityGracePeriod"`
	IdentityTableSize        int                       `mapstructure:"identityTableSize"`
	WorkloadCacheSize        int                       `mapstructure:"workloadCacheSize"`
	WorkloadCacheTTL         time.Duration             `mapstructure:"workloadCacheTTL"`
	WorkloadFailureTTL       time.Duration             `mapstructure:"workloadFailureTTL"`
	RuntimeLookupTimeout     time.Duration             `mapstructure:"runtimeLookupTimeout"`
	RuntimeLookupRetries     uint                      `mapstructure:"runtimeLookupRetries"`
	ResolverWorkers          int                       `mapstructure:"resolverWorkers"`
	Runtimes                 []containerruntime.Config `mapstructure:"runtimes"`
	DedupCapacity            int                       `mapstructure:"dedupCapacity"`
	PendingTimeout           time.Duration             `mapstructure:"pendingTimeout"`
	MaxPendingEvents         int                       `mapstructure:"maxPendingEvents"`
	EventBufferSize          int                       `mapstructure:"eventBufferSize"`
	FactBufferSize           int                       `mapstructure:"factBufferSize"`
	HostRoot                 string                    `mapstructure:"hostRoot"`
	HostIncludes             []string                  `mapstructure:"hostIncludes"`
	ContainerExcludes        []string                  `mapstructure:"containerExcludes"`
	FanotifyMountPoints      []string                  `mapstructure:"fanotifyMountPoints"`
	FanotifyReapInterval     time.Duration             `mapstructure:"fanotifyReapInterval"`
	Exporters                exporters.ExportersConfig `mapstructure:"exporters"`
	EnablePrometheusExporter bool                      `mapstructure:"prometheusExporterEnabled"`
	MetricsPort              int                       `mapstructure:"metricsPort"`
	HealthPort               int                       `mapstructure:"healthPort"`
	NodeName                 string                    `mapstructure:"nodeName"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	return LoadConfigFs(afero.NewOsFs(), path)
}

// LoadConfigFs is LoadConfig reading config.json from fs.
func LoadConfigFs(fs afero.Fs, path string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("backend", BackendEBPF)
	v.SetDefault("transport", string(transport.PreferAuto))
	v.SetDefault("openEventsRingBytes", 1<<20)
	v.SetDefault("exitEventsRingBytes", 1<<16)
	v.SetDefault("openEventsPerfPages", 64)
	v.SetDefault("exitEventsPerfPages", 8)
	v.SetDefault("identityGracePeriod", 10*time.Second)
	v.SetDefault("identityTableSize", 1024)
	v.SetDefault("workloadCacheSize", 4096)
	v.SetDefault("workloadCacheTTL", 10*time.Minute)
	v.SetDefault("workloadFailureTTL", 5*time.Second)
	v.SetDefault("runtimeLookupTimeout", 2*time.Second)
	v.SetDefault("runtimeLookupRetries", 3)
	v.SetDefault("resolverWorkers", 4)
	v.SetDefault("runtimes", defaultRuntimes())
	v.SetDefault("dedupCapacity", 65536)
	v.SetDefault("pendingTimeout", 500*time.Millisecond)
	v.SetDefault("maxPendingEvents", 4096)
	v.SetDefault("eventBufferSize", 1024)
	v.SetDefault("factBufferSize", 1024)
	v.SetDefault("hostRoot", "/")
	v.SetDefault("hostIncludes", pathfilter.DefaultHostIncludes)
	v.SetDefault("containerExcludes", []string{})
	v.SetDefault("fanotifyReapInterval", 5*time.Second)
	v.SetDefault("metricsPort", 8080)
	v.SetDefault("healthPort", 7888)

	v.AutomaticEnv()
	_ = v.BindEnv("nodeName", NodeNameEnvVar)
	_ = v.BindEnv("hostRoot", HostRootEnvVar)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

// defaultRuntimes is the runtime list in the form viper stores defaults.
func defaultRuntimes() []map[string]any {
	var runtimes []map[string]any
	for _, r := range containerruntime.DefaultConfigs() {
		runtimes = append(runtimes, map[string]any{
			"name":      r.Name,
			"enabled":   r.Enabled,
			"endpoint":  r.Endpoint,
			"namespace": r.Namespace,
		})
	}
	return runtimes
}

// opens outnumber exits by an order of magnitude, as in the kernel buffer defaults
const openToExitRatio = 10

// FanotifyChannelSizes returns the capacity of the open and exit channels of
// the fanotify backend.
func (c *Config) FanotifyChannelSizes() (opens, exits int) {
	return c.EventBufferSize * openToExitRatio, c.EventBufferSize
}

func (c *Config) Validate() error {
	if c.Backend != BackendEBPF && c.Backend != BackendFanotify {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := transport.ParsePreference(c.Transport); err != nil {
		return err
	}
	if c.IdentityTableSize <= 0 {
		return fmt.Errorf("identityTableSize must be positive")
	}
	if c.PendingTimeout <= 0 {
		return fmt.Errorf("pendingTimeout must be positive")
	}
	if c.EventBufferSize <= 0 || c.FactBufferSize <= 0 {
		return fmt.Errorf("eventBufferSize and factBufferSize must be positive")
	}
	return nil
}
