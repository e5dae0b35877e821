package writer

import (
	"errors"
	"fmt"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/model"

	"github.com/sirupsen/logrus"
)

// timestampLayout is the format of the timestamp handed to Write.
const timestampLayout = "2006-01-02_15-04-05"

// Record is one rendered row of a snapshot, keyed by column header.
type Record struct {
	Collector string
	Timestamp time.Time
	Key       string
	Total     bool
	Columns   map[string]string
}

// Records flattens the status tables of snapshots, total rows included.
func Records(snapshots []model.Snapshot) []Record {
	var records []Record
	for _, s := range snapshots {
		if s.Status == nil {
			continue
		}
		for _, row := range s.Status.Rows {
			records = append(records, record(s, row.Key, row.Values))
		}
		records = append(records, record(s, aggregate.TotalKey, s.Status.Total.Values))
	}
	return records
}

func record(s model.Snapshot, k aggregate.Key, values []string) Record {
	cols := make(map[string]string, len(values))
	for i, v := range values {
		if i < len(s.Status.Header) {
			cols[s.Status.Header[i]] = v
		}
	}
	return Record{
		Collector: s.Collector,
		Timestamp: s.Timestamp,
		Key:       k.String(),
		Total:     k.IsTotal(),
		Columns:   cols,
	}
}

// New builds the writer described by def.
func New(def config.WriterDef, log logrus.FieldLogger) (model.Writer, error) {
	interval := def.SnapshotInterval.Std()
	log = log.WithField("writer", def.Type)
	var (
		w   model.Writer
		err error
	)
	switch def.Type {
	case "text":
		w, err = NewTextFileWriter(def.Path, interval)
	case "gob":
		if def.Path == "" {
			return nil, errors.New("gob writer requires a path")
		}
		w = NewGobWriter(def.Path, interval)
	case "clickhouse":
		w, err = NewClickHouseWriter(def.ClickHouse, interval, log)
	case "nats":
		w, err = NewNATSWriter(def.NATS, interval, log)
	case "statsd":
		w, err = NewStatsdWriter(def.Statsd, interval, log)
	default:
		return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreateAll builds every enabled writer. On failure the writers already
// created are closed.
func CreateAll(defs []config.WriterDef, log logrus.FieldLogger) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		w, err := New(def, log)
		if err != nil {
			for _, created := range writers {
				created.Close()
			}
			return nil, fmt.Errorf("error creating writer '%s': %w", def.Type, err)
		}
		log.WithFields(logrus.Fields{"writer": def.Type, "interval": w.GetInterval()}).Info("Writer created")
		writers = append(writers, w)
	}
	return writers, nil
}

func parseTimestamp(timestamp string) time.Time {
	t, err := time.ParseInLocation(timestampLayout, timestamp, time.Local)
	if err != nil {
		return time.Now()
	}
	return t
}
