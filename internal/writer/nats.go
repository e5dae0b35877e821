package writer

import (
	"fmt"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Headers set on every snapshot message.
const (
	HeaderRunID     = "Run-Id"
	HeaderCollector = "Collector"
)

// NATSWriter publishes each collector snapshot as a protobuf Struct on
// <subject>.<collector>.
type NATSWriter struct {
	nc       *nats.Conn
	subject  string
	interval time.Duration
	runID    string
	log      logrus.FieldLogger
}

// NewNATSWriter connects to the NATS server in cfg.
func NewNATSWriter(cfg config.NATSConfig, interval time.Duration, log logrus.FieldLogger) (*NATSWriter, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("flowspectra-writer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.WithField("url", cfg.URL).Info("Connected to NATS server")
	return &NATSWriter{
		nc:       nc,
		subject:  cfg.Subject,
		interval: interval,
		runID:    uuid.NewString(),
		log:      log,
	}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *NATSWriter) GetInterval() time.Duration {
	return w.interval
}

// Write publishes one message per collector.
func (w *NATSWriter) Write(snapshots []model.Snapshot, _ string) error {
	for _, s := range snapshots {
		msg, err := snapshotMessage(w.subject, w.runID, s)
		if err != nil {
			return err
		}
		if err := w.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish %s snapshot: %w", s.Collector, err)
		}
	}
	return nil
}

// Close drains the connection.
func (w *NATSWriter) Close() error {
	return w.nc.Drain()
}

func snapshotMessage(subject, runID string, s model.Snapshot) (*nats.Msg, error) {
	body, err := snapshotStruct(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s snapshot: %w", s.Collector, err)
	}
	data, err := proto.Marshal(body)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject + "." + s.Collector)
	msg.Header.Set(HeaderRunID, runID)
	msg.Header.Set(HeaderCollector, s.Collector)
	msg.Data = data
	return msg, nil
}

// snapshotStruct converts s into {collector, time, header, rows, total,
// metrics}. The time is a google.protobuf.Timestamp spelled out as
// seconds and nanos.
func snapshotStruct(s model.Snapshot) (*structpb.Struct, error) {
	ts := timestamppb.New(s.Timestamp)
	fields := map[string]interface{}{
		"collector": s.Collector,
		"time": map[string]interface{}{
			"seconds": ts.GetSeconds(),
			"nanos":   ts.GetNanos(),
		},
	}
	if st := s.Status; st != nil {
		fields["header"] = stringList(st.Header)
		rows := make([]interface{}, 0, len(st.Rows))
		for _, r := range st.Rows {
			rows = append(rows, stringList(r.Values))
		}
		fields["rows"] = rows
		fields["total"] = stringList(st.Total.Values)
	}
	lines := make([]interface{}, 0, len(s.Metrics))
	for _, l := range s.Metrics {
		lines = append(lines, l.String())
	}
	fields["metrics"] = lines
	return structpb.NewStruct(fields)
}

func stringList(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
