package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by ApplyDefaults.
const (
	DefaultTCPIdleTimeout      = 15 * time.Second
	DefaultMetricsInterval     = time.Second
	DefaultResetPeriod         = 60 * time.Second
	DefaultSizeOfPacketChannel = 4096
	DefaultMaxPercentileSample = 1 << 16
	DefaultStreamInterval      = time.Second
	DefaultSnapshotLen         = 1600
)

// KnownCollectors lists the collector names the engine can build.
var KnownCollectors = []string{"tcp", "dns", "tls"}

// EngineConfig holds the flow-tracking engine settings.
type EngineConfig struct {
	Collectors           []string            `yaml:"collectors"`
	TCPIdleTimeout       Duration            `yaml:"tcp_idle_timeout"`
	PerIPAggregation     bool                `yaml:"per_ip_aggregation"`
	HideUnknown          bool                `yaml:"hide_unknown"`
	SizeOfPacketChannel  int                 `yaml:"size_of_packet_channel"`
	MetricsInterval      Duration            `yaml:"metrics_interval"`
	ResetPeriod          Duration            `yaml:"reset_period"`
	MaxPercentileSamples int                 `yaml:"max_percentile_samples"`
	Hosts                map[string][]string `yaml:"hosts"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig holds the connection details for a NATS writer.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// StatsdConfig holds the destination of statsd datagrams.
type StatsdConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// WriterDef defines a single snapshot writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval Duration         `yaml:"snapshot_interval"`
	Path             string           `yaml:"path"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
	NATS             NATSConfig       `yaml:"nats"`
	Statsd           StatsdConfig     `yaml:"statsd"`
}

// APIConfig holds the HTTP and gRPC listen addresses.
type APIConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ListenAddr     string   `yaml:"listen_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	StreamInterval Duration `yaml:"stream_interval"`
}

// ProbeConfig holds the capture and NATS settings of the probe.
type ProbeConfig struct {
	NATSURL     string `yaml:"nats_url"`
	Subject     string `yaml:"subject"`
	Iface       string `yaml:"iface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	RecordPath  string `yaml:"record_path"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Writers []WriterDef   `yaml:"writers"`
	API     APIConfig     `yaml:"api"`
	Probe   ProbeConfig   `yaml:"probe"`
	Logging LoggingConfig `yaml:"logging"`
}

// Duration is a time.Duration read from a YAML string such as "15s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a Go duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every collector enabled and no writers.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	e := &c.Engine
	if len(e.Collectors) == 0 {
		e.Collectors = append([]string(nil), KnownCollectors...)
	}
	if e.TCPIdleTimeout == 0 {
		e.TCPIdleTimeout = Duration(DefaultTCPIdleTimeout)
	}
	if e.SizeOfPacketChannel <= 0 {
		e.SizeOfPacketChannel = DefaultSizeOfPacketChannel
	}
	if e.MetricsInterval == 0 {
		e.MetricsInterval = Duration(DefaultMetricsInterval)
	}
	if e.ResetPeriod == 0 {
		e.ResetPeriod = Duration(DefaultResetPeriod)
	}
	if e.MaxPercentileSamples <= 0 {
		e.MaxPercentileSamples = DefaultMaxPercentileSample
	}
	for i := range c.Writers {
		w := &c.Writers[i]
		if w.SnapshotInterval == 0 {
			w.SnapshotInterval = e.MetricsInterval
		}
		if w.Type == "statsd" && w.Statsd.Prefix == "" {
			w.Statsd.Prefix = "flowspectra"
		}
		if w.Type == "nats" && w.NATS.Subject == "" {
			w.NATS.Subject = "flowspectra.stats"
		}
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.StreamInterval == 0 {
		c.API.StreamInterval = Duration(DefaultStreamInterval)
	}
	if c.Probe.Subject == "" {
		c.Probe.Subject = "gons.packets.raw"
	}
	if c.Probe.SnapshotLen <= 0 {
		c.Probe.SnapshotLen = DefaultSnapshotLen
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// Validate rejects configurations the engine cannot run.
func (c *Config) Validate() error {
	for _, name := range c.Engine.Collectors {
		known := false
		for _, k := range KnownCollectors {
			if name == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown collector %q", name)
		}
	}
	if c.Engine.TCPIdleTimeout < 0 || c.Engine.MetricsInterval < 0 || c.Engine.ResetPeriod < 0 {
		return fmt.Errorf("engine durations must not be negative")
	}
	for _, w := range c.Writers {
		if w.SnapshotInterval < 0 {
			return fmt.Errorf("writer %q: snapshot_interval must not be negative", w.Type)
		}
	}
	return nil
}
