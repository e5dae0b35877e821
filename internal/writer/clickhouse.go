package writer

import (
	"context"
	"fmt"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_stats (
    Timestamp DateTime,
    RunID     UUID,
    Collector LowCardinality(String),
    Metric    String,
    Type      LowCardinality(String),
    Value     Float64,
    Tags      Map(String, String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Collector, Metric, Timestamp);
`

// statRow is one flow_stats row.
type statRow struct {
	Timestamp time.Time
	Collector string
	Metric    string
	Type      string
	Value     float64
	Tags      map[string]string
}

// ClickHouseWriter inserts the metric lines of every snapshot into the
// flow_stats table.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
	runID    uuid.UUID
	log      logrus.FieldLogger
}

// NewClickHouseWriter connects to ClickHouse and ensures flow_stats exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration, log logrus.FieldLogger) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	runID := uuid.New()
	log.WithField("run_id", runID).Info("Connected to ClickHouse and ensured table exists")

	return &ClickHouseWriter{conn: conn, interval: interval, runID: runID, log: log}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts one row per metric line.
func (w *ClickHouseWriter) Write(snapshots []model.Snapshot, timestamp string) error {
	rows := statRows(snapshots, parseTimestamp(timestamp))
	if len(rows) == 0 {
		return nil
	}

	ctx := context.Background()
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO flow_stats")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Timestamp, w.runID, r.Collector, r.Metric, r.Type, r.Value, r.Tags); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.log.WithField("rows", len(rows)).Debug("Wrote stats to ClickHouse")
	return nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

func statRows(snapshots []model.Snapshot, at time.Time) []statRow {
	var rows []statRow
	for _, s := range snapshots {
		for _, l := range s.Metrics {
			tags := make(map[string]string, len(l.Tags))
			for _, t := range l.Tags {
				tags[t.Key] = t.Value
			}
			rows = append(rows, statRow{
				Timestamp: at,
				Collector: s.Collector,
				Metric:    l.Name,
				Type:      string(l.Type),
				Value:     l.Value,
				Tags:      tags,
			})
		}
	}
	return rows
}
