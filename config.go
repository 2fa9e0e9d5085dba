package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP/WS/REST listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	ReadyPath  string `yaml:"ready_path"`
}

// SweepConfig drives C5/C7: the frequency plan, dwell, and sweep binary.
type SweepConfig struct {
	SweepBinary     string   `yaml:"sweep_binary"`
	SweepArgs       []string `yaml:"sweep_args"`
	WorkDir         string   `yaml:"work_dir"`
	LogPath         string   `yaml:"log_path"`
	Frequencies     []uint64 `yaml:"frequencies"`
	CycleTimeMs     int      `yaml:"cycle_time_ms"`
	SpanHz          uint64   `yaml:"span_hz"`
	BinSizeHz       uint64   `yaml:"bin_size_hz"`
	StaleTimeoutSec int      `yaml:"stale_timeout_sec"`
	StopGraceSec    int      `yaml:"stop_grace_sec"`
	MinSweepVersion string   `yaml:"min_sweep_version"`
}

// ParserConfig configures C1.
type ParserConfig struct {
	MaxBufferSize     int `yaml:"max_buffer_size"`
	MaxLineLength     int `yaml:"max_line_length"`
	OverflowThreshold int `yaml:"overflow_threshold"`
}

// AnalyzerConfig configures C2.
type AnalyzerConfig struct {
	PeakThresholdDB      float64 `yaml:"peak_threshold_db"`
	MinBandwidthHz       uint64  `yaml:"min_bandwidth_hz"`
	NoiseFloorPercentile float64 `yaml:"noise_floor_percentile"`
	SmoothingFactor      float64 `yaml:"smoothing_factor"`
	SmoothingEnabled     bool    `yaml:"smoothing_enabled"`
	MaxHistorySize       int     `yaml:"max_history_size"`
}

// ProcessorConfig configures C3.
type ProcessorConfig struct {
	MinSNRDB             float64 `yaml:"min_snr_db"`
	ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
	FrequencyToleranceHz uint64  `yaml:"frequency_tolerance_hz"`
	SignalTimeoutSec     int     `yaml:"signal_timeout_sec"`
	MaxDatabaseSize      int     `yaml:"max_database_size"`
}

// WindowConfig configures C4.
type WindowConfig struct {
	Preset       string  `yaml:"preset"`
	WindowSec    float64 `yaml:"window_sec"`
	FadeFraction float64 `yaml:"fade_fraction"`
	TickMs       int     `yaml:"tick_ms"`
}

// RecoveryConfig configures C6/C8.
type RecoveryConfig struct {
	MaxConsecutiveErrors    int `yaml:"max_consecutive_errors"`
	MaxFailuresPerMinute    int `yaml:"max_failures_per_minute"`
	FrequencyBlacklistAfter int `yaml:"frequency_blacklist_after"`
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeoutS  int `yaml:"circuit_breaker_timeout_sec"`
	RecoveryTimeoutSec      int `yaml:"recovery_timeout_sec"`
}

// PushConfig configures C9.
type PushConfig struct {
	HeartbeatIntervalSec int  `yaml:"heartbeat_interval_sec"`
	SubscriberMaxQueue   int  `yaml:"subscriber_max_queue"`
	ZstdEnabled          bool `yaml:"zstd_enabled"`
}

// ExternalConfig configures C10.
type ExternalConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ListenAddr    string  `yaml:"listen_addr"`
	ExternalMaxHz float64 `yaml:"external_max_hz"`
}

// PrometheusConfig controls the /metrics endpoint.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTTLSConfig carries optional broker TLS material.
type MQTTTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTConfig controls the optional status/health telemetry publisher.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	ClientIDPrefix  string        `yaml:"client_id_prefix"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	PublishInterval int           `yaml:"publish_interval_sec"`
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// MCPConfig controls the MCP tool server.
type MCPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Config is the root configuration tree, loaded from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Parser     ParserConfig     `yaml:"parser"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Processor  ProcessorConfig `yaml:"processor"`
	Window     WindowConfig     `yaml:"window"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Push       PushConfig       `yaml:"push"`
	External   ExternalConfig   `yaml:"external"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	MCP        MCPConfig        `yaml:"mcp"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig reads and validates a YAML config file, applying defaults to
// zero-valued fields that have one.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", filename, err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills zero-valued fields that have a default with the values
// named in the component design, following the teacher's imperative
// post-unmarshal defaulting convention rather than struct tags. Fields with
// no default (sweep frequencies, args and log path, minimum sweep version,
// MQTT broker, credentials and TLS files, enable flags) are left as loaded.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadyPath == "" {
		c.Server.ReadyPath = "/healthz"
	}

	if c.Sweep.SweepBinary == "" {
		c.Sweep.SweepBinary = "hackrf_sweep"
	}
	if c.Sweep.WorkDir == "" {
		c.Sweep.WorkDir = "."
	}
	if c.Sweep.CycleTimeMs == 0 {
		c.Sweep.CycleTimeMs = 8000
	}
	if c.Sweep.SpanHz == 0 {
		c.Sweep.SpanHz = 10_000_000
	}
	if c.Sweep.BinSizeHz == 0 {
		c.Sweep.BinSizeHz = 1_000_000
	}
	if c.Sweep.StaleTimeoutSec == 0 {
		c.Sweep.StaleTimeoutSec = 10
	}
	if c.Sweep.StopGraceSec == 0 {
		c.Sweep.StopGraceSec = 3
	}

	if c.Parser.MaxBufferSize == 0 {
		c.Parser.MaxBufferSize = 1 << 20
	}
	if c.Parser.MaxLineLength == 0 {
		c.Parser.MaxLineLength = 10_000
	}
	if c.Parser.OverflowThreshold == 0 {
		c.Parser.OverflowThreshold = 5
	}

	if c.Analyzer.PeakThresholdDB == 0 {
		c.Analyzer.PeakThresholdDB = 10
	}
	if c.Analyzer.MinBandwidthHz == 0 {
		c.Analyzer.MinBandwidthHz = 25_000
	}
	if c.Analyzer.NoiseFloorPercentile == 0 {
		c.Analyzer.NoiseFloorPercentile = 20
	}
	if c.Analyzer.SmoothingFactor == 0 {
		c.Analyzer.SmoothingFactor = 0.30
	}
	if c.Analyzer.MaxHistorySize == 0 {
		c.Analyzer.MaxHistorySize = 100
	}

	if c.Processor.MinSNRDB == 0 {
		c.Processor.MinSNRDB = 6
	}
	if c.Processor.ConfidenceThreshold == 0 {
		c.Processor.ConfidenceThreshold = 0.7
	}
	if c.Processor.FrequencyToleranceHz == 0 {
		c.Processor.FrequencyToleranceHz = 10_000
	}
	if c.Processor.SignalTimeoutSec == 0 {
		c.Processor.SignalTimeoutSec = 30
	}
	if c.Processor.MaxDatabaseSize == 0 {
		c.Processor.MaxDatabaseSize = 1000
	}

	c.applyWindowPreset()
	if c.Window.WindowSec == 0 {
		c.Window.WindowSec = 30
	}
	if c.Window.FadeFraction == 0 {
		c.Window.FadeFraction = 0.5
	}
	if c.Window.TickMs == 0 {
		c.Window.TickMs = 250
	}

	if c.Recovery.MaxConsecutiveErrors == 0 {
		c.Recovery.MaxConsecutiveErrors = 8
	}
	if c.Recovery.MaxFailuresPerMinute == 0 {
		c.Recovery.MaxFailuresPerMinute = 5
	}
	if c.Recovery.FrequencyBlacklistAfter == 0 {
		c.Recovery.FrequencyBlacklistAfter = 3
	}
	if c.Recovery.CircuitBreakerThreshold == 0 {
		c.Recovery.CircuitBreakerThreshold = 3
	}
	if c.Recovery.CircuitBreakerTimeoutS == 0 {
		c.Recovery.CircuitBreakerTimeoutS = 60
	}
	if c.Recovery.RecoveryTimeoutSec == 0 {
		c.Recovery.RecoveryTimeoutSec = 30
	}

	if c.Push.HeartbeatIntervalSec == 0 {
		c.Push.HeartbeatIntervalSec = 30
	}
	if c.Push.SubscriberMaxQueue == 0 {
		c.Push.SubscriberMaxQueue = 1000
	}

	if c.External.ListenAddr == "" {
		c.External.ListenAddr = ":8081"
	}
	if c.External.ExternalMaxHz == 0 {
		c.External.ExternalMaxHz = 10
	}

	if c.Prometheus.Path == "" {
		c.Prometheus.Path = "/metrics"
	}

	if c.MQTT.ClientIDPrefix == "" {
		c.MQTT.ClientIDPrefix = "hackrf-sentry"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "hackrf-sentry"
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = 15
	}

	if c.MCP.ListenAddr == "" {
		c.MCP.ListenAddr = ":8082"
	}

	DebugMode = c.Logging.Debug
}

func (c *Config) applyWindowPreset() {
	switch c.Window.Preset {
	case "rapid":
		c.Window.WindowSec = 10
	case "drone":
		c.Window.WindowSec = 30
	case "stationary":
		c.Window.WindowSec = 120
	case "pattern":
		c.Window.WindowSec = 300
	}
}

// Validate checks fields that ApplyDefaults cannot safely default.
func (c *Config) Validate() error {
	if len(c.Sweep.Frequencies) == 0 {
		return fmt.Errorf("sweep.frequencies must list at least one target frequency")
	}
	for _, f := range c.Sweep.Frequencies {
		if f == 0 {
			return fmt.Errorf("sweep.frequencies entries must be positive Hz values")
		}
	}
	if c.Processor.MinSNRDB < 0 {
		return fmt.Errorf("processor.min_snr_db must be non-negative")
	}
	return nil
}
