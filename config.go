package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// PeerConfig is one entry in the peer roster.
type PeerConfig struct {
	ID   string `mapstructure:"id"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BrokerConfig is one pub/sub relay broker endpoint.
type BrokerConfig struct {
	Address string `mapstructure:"address"`
}

// Thresholds are the proposer's health-gate limits (§4.6 step 3).
type Thresholds struct {
	CPUPercent    float64 `mapstructure:"cpu_percent"`
	MemoryPercent float64 `mapstructure:"memory_percent"`
	TemperatureC  float64 `mapstructure:"temperature_c"`
}

// NodeConfig is every configuration input named in §6: node id, peer
// roster, broker list, thresholds, block time, sync interval, metrics
// interval, initial stakes.
type NodeConfig struct {
	NodeID string `mapstructure:"node_id"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`

	Peers   []PeerConfig   `mapstructure:"peers"`
	Brokers []BrokerConfig `mapstructure:"brokers"`

	Thresholds Thresholds `mapstructure:"thresholds"`

	BlockTimeSeconds     float64 `mapstructure:"block_time_seconds"`
	SyncIntervalSeconds  float64 `mapstructure:"sync_interval_seconds"`
	MetricsIntervalSeconds float64 `mapstructure:"metrics_interval_seconds"`
	PeerTimeoutSeconds   float64 `mapstructure:"peer_timeout_seconds"`
	RetryAttempts        int     `mapstructure:"retry_attempts"`
	LivenessThresholdSeconds float64 `mapstructure:"liveness_threshold_seconds"`

	InitialStakes map[string]float64 `mapstructure:"initial_stakes"`

	DataDir string `mapstructure:"data_dir"`
}

func defaultNodeConfig() NodeConfig {
	return NodeConfig{
		Host: "0.0.0.0",
		Port: 8000,
		Thresholds: Thresholds{
			CPUPercent:    70,
			MemoryPercent: 80,
			TemperatureC:  80,
		},
		BlockTimeSeconds:         defaultBlockTime.Seconds(),
		SyncIntervalSeconds:      60,
		MetricsIntervalSeconds:   5,
		PeerTimeoutSeconds:       10,
		RetryAttempts:            3,
		LivenessThresholdSeconds: defaultLivenessThreshold.Seconds(),
		DataDir:                  "./data",
	}
}

// LoadConfig reads node configuration from path (YAML/TOML/JSON, viper
// auto-detects by extension) layered over defaults, then validates it.
// An unknown node id or a roster that never mentions it is a fatal
// ConfigError (§7).
func LoadConfig(path string) (NodeConfig, error) {
	cfg := defaultNodeConfig()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("%w: reading config %s: %v", ErrConfig, path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing config %s: %v", ErrConfig, path, err)
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg NodeConfig) error {
	if cfg.NodeID == "" {
		return fmt.Errorf("%w: node_id is required", ErrConfig)
	}

	found := false
	for _, p := range cfg.Peers {
		if p.ID == cfg.NodeID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: node id %q has no roster entry in peers", ErrConfig, cfg.NodeID)
	}

	if len(cfg.InitialStakes) == 0 {
		return fmt.Errorf("%w: initial_stakes must not be empty", ErrConfig)
	}
	return nil
}

func (c NodeConfig) blockTime() time.Duration {
	return time.Duration(c.BlockTimeSeconds * float64(time.Second))
}

func (c NodeConfig) syncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds * float64(time.Second))
}

func (c NodeConfig) metricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSeconds * float64(time.Second))
}

func (c NodeConfig) peerTimeout() time.Duration {
	return time.Duration(c.PeerTimeoutSeconds * float64(time.Second))
}

func (c NodeConfig) livenessThreshold() time.Duration {
	return time.Duration(c.LivenessThresholdSeconds * float64(time.Second))
}

// PeerBaseURL returns the HTTP base URL for p, as used by PeerClient.
func (p PeerConfig) PeerBaseURL() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}
