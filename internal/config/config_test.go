package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.DeepEqual(t, cfg.Engine.Collectors, KnownCollectors)
	assert.Equal(t, cfg.Engine.TCPIdleTimeout.Std(), 15*time.Second)
	assert.Equal(t, cfg.Engine.MetricsInterval.Std(), time.Second)
	assert.Equal(t, cfg.Engine.ResetPeriod.Std(), time.Minute)
	assert.Equal(t, cfg.API.ListenAddr, ":8080")
	assert.Equal(t, cfg.Probe.SnapshotLen, int32(DefaultSnapshotLen))
	assert.Equal(t, cfg.Logging.Level, "INFO")
	assert.NilError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  collectors: [dns]
  tcp_idle_timeout: 30s
  per_ip_aggregation: true
  hosts:
    example.com: ["93.184.216.34"]
writers:
  - type: statsd
    enabled: true
    statsd:
      addr: 127.0.0.1:8125
  - type: text
    enabled: true
    snapshot_interval: 10s
api:
  enabled: true
  grpc_addr: :9090
logging:
  level: DEBUG
  format: json
`)
	cfg, err := LoadConfig(path)
	assert.NilError(t, err)
	assert.DeepEqual(t, cfg.Engine.Collectors, []string{"dns"})
	assert.Equal(t, cfg.Engine.TCPIdleTimeout.Std(), 30*time.Second)
	assert.Assert(t, cfg.Engine.PerIPAggregation)
	assert.DeepEqual(t, cfg.Engine.Hosts, map[string][]string{"example.com": {"93.184.216.34"}})

	assert.Equal(t, len(cfg.Writers), 2)
	assert.Equal(t, cfg.Writers[0].Statsd.Prefix, "flowspectra")
	assert.Equal(t, cfg.Writers[0].SnapshotInterval.Std(), time.Second)
	assert.Equal(t, cfg.Writers[1].SnapshotInterval.Std(), 10*time.Second)

	assert.Assert(t, cfg.API.Enabled)
	assert.Equal(t, cfg.API.GRPCAddr, ":9090")
	assert.Equal(t, cfg.Logging.Format, "json")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "engine:\n  tcp_idle_timeout: soon\n"))
	assert.ErrorContains(t, err, `invalid duration "soon"`)

	_, err = LoadConfig(writeConfig(t, "engine:\n  collectors: [dns, ftp]\n"))
	assert.ErrorContains(t, err, `unknown collector "ftp"`)

	_, err = LoadConfig(writeConfig(t, "engine:\n  reset_period: -1s\n"))
	assert.ErrorContains(t, err, "must not be negative")
}
