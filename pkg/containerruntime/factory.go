package containerruntime

import (
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
)

// Config selects one runtime endpoint.
type Config struct {
	Name      string `mapstructure:"name"`
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfigs lists the runtimes in lookup order.
func DefaultConfigs() []Config {
	return []Config{
		{Name: DockerRuntime, Enabled: true, Endpoint: "unix:///var/run/docker.sock"},
		{Name: PodmanRuntime, Enabled: true, Endpoint: "unix:///run/podman/podman.sock"},
		{Name: ContainerdRuntime, Enabled: true, Endpoint: "/run/containerd/containerd.sock", Namespace: DefaultContainerdNamespace},
		{Name: CrioRuntime, Enabled: true, Endpoint: "unix:///var/run/crio/crio.sock"},
	}
}

// NewChainFromConfig creates the enabled runtimes in the configured order.
// Runtimes whose client cannot be created are skipped.
func NewChainFromConfig(cfgs []Config, dialTimeout, lookupTimeout time.Duration, metrics metricsmanager.MetricsManager) *Chain {
	var runtimes []Runtime
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		var r Runtime
		var err error
		switch cfg.Name {
		case DockerRuntime:
			r, err = NewDocker(cfg.Endpoint)
		case PodmanRuntime:
			r, err = NewPodman(cfg.Endpoint)
		case ContainerdRuntime:
			r = NewContainerd(cfg.Endpoint, cfg.Namespace, dialTimeout)
		case CrioRuntime:
			r, err = NewCrio(cfg.Endpoint)
		default:
			logger.L().Warning("NewChainFromConfig - unknown container runtime", helpers.String("name", cfg.Name))
			continue
		}
		if err != nil {
			logger.L().Warning("NewChainFromConfig - skipping container runtime", helpers.String("name", cfg.Name), helpers.Error(err))
			continue
		}
		logger.L().Info("container runtime enabled", helpers.String("name", cfg.Name), helpers.String("endpoint", cfg.Endpoint))
		runtimes = append(runtimes, r)
	}
	return NewChain(lookupTimeout, metrics, runtimes...)
}
