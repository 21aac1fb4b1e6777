package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/weibocom/breeze-sub003/common/logging"
)

// Config is the agent's own configuration; per-service routing configs come
// through discovery, not from this file.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Discovery configuration.
	Discovery DiscoveryConfig `yaml:"discovery"`
	// Listen describes the client-facing endpoints.
	Listen ListenConfig `yaml:"listen"`
	// Pipeline tunables shared by every client connection.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DiscoveryConfig controls the topology feed.
type DiscoveryConfig struct {
	// StaticDir serves service configs from local YAML files (one file per
	// service). The vintage registry client plugs in through the same
	// interface when configured upstream.
	StaticDir string `yaml:"static_dir"`
	// Services lists the service names to watch.
	Services []string `yaml:"services"`
	// Watch lists globs selecting which sockets found in the socks dir are
	// served (matched on their service name); matches add to Services.
	Watch []string `yaml:"watch"`
	// Interval is the poll cadence.
	Interval time.Duration `yaml:"interval"`
	// DNSInterval is the backend hostname re-resolve cadence.
	DNSInterval time.Duration `yaml:"dns_interval"`
	// DrainDelay is how long a replaced service keeps serving in-flight
	// requests before its backends close.
	DrainDelay time.Duration `yaml:"drain_delay"`
}

// ListenConfig describes client-facing sockets.
type ListenConfig struct {
	// SocksDir holds unix sockets named biz@resource@discovery.sock. The
	// socks_dir environment variable overrides it.
	SocksDir string `yaml:"socks_dir"`
	// Host is the bind address for tcp listeners from service configs.
	Host string `yaml:"host"`
}

// PipelineConfig carries connection tunables.
type PipelineConfig struct {
	// Depth bounds in-flight requests per client connection.
	Depth int `yaml:"depth"`
	// BufSize is the initial ring capacity per connection.
	BufSize datasize.ByteSize `yaml:"buf_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Interval:    15 * time.Second,
			DNSInterval: time.Minute,
			DrainDelay:  30 * time.Second,
		},
		Listen: ListenConfig{
			Host: "0.0.0.0",
		},
		Pipeline: PipelineConfig{
			Depth:   64,
			BufSize: 8 * datasize.KB,
		},
	}
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	if dir := os.Getenv("socks_dir"); dir != "" {
		cfg.Listen.SocksDir = dir
	}
	return cfg, nil
}
