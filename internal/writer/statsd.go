package writer

import (
	"fmt"
	"net"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	"github.com/sirupsen/logrus"
)

// StatsdWriter ships the metric lines of every snapshot as statsd
// datagrams, batched up to metrics.MaxDatagramSize bytes.
type StatsdWriter struct {
	conn     net.Conn
	prefix   string
	interval time.Duration
	log      logrus.FieldLogger
}

// NewStatsdWriter dials the UDP address in cfg.
func NewStatsdWriter(cfg config.StatsdConfig, interval time.Duration, log logrus.FieldLogger) (*StatsdWriter, error) {
	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial statsd at '%s': %w", cfg.Addr, err)
	}
	return &StatsdWriter{conn: conn, prefix: cfg.Prefix, interval: interval, log: log}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *StatsdWriter) GetInterval() time.Duration {
	return w.interval
}

// Write sends the metric lines of every snapshot.
func (w *StatsdWriter) Write(snapshots []model.Snapshot, _ string) error {
	var lines []metrics.Line
	for _, s := range snapshots {
		lines = append(lines, s.Metrics...)
	}
	return w.WriteMetrics(lines)
}

// WriteMetrics sends lines under the configured prefix.
func (w *StatsdWriter) WriteMetrics(lines []metrics.Line) error {
	prefixed := make([]metrics.Line, len(lines))
	for i, l := range lines {
		if w.prefix != "" {
			l.Name = w.prefix + "." + l.Name
		}
		prefixed[i] = l
	}
	batches, dropped := metrics.Batch(prefixed, metrics.MaxDatagramSize)
	if dropped > 0 {
		w.log.WithField("dropped", dropped).Warn("Metric lines exceed the datagram size")
	}
	for _, b := range batches {
		if _, err := w.conn.Write(b); err != nil {
			return fmt.Errorf("failed to send statsd datagram: %w", err)
		}
	}
	return nil
}

// Close closes the socket.
func (w *StatsdWriter) Close() error {
	return w.conn.Close()
}
