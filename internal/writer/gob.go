package writer

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Go2FlowSpectra/internal/model"
)

// Summary holds the metadata written next to each collector's rows.
type Summary struct {
	Collector string `json:"collector"`
	Rows      int    `json:"rows"`
	Metrics   int    `json:"metrics"`
	Timestamp string `json:"timestamp"`
}

// GobWriter writes snapshots to disk, one directory per timestamp and
// collector holding rows.dat (gob encoded []Record) and summary.json.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new gob snapshot writer rooted at rootPath.
func NewGobWriter(rootPath string, interval time.Duration) *GobWriter {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes the rows of every collector snapshot.
func (w *GobWriter) Write(snapshots []model.Snapshot, timestamp string) error {
	for _, s := range snapshots {
		if err := w.writeCollector(s, timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (w *GobWriter) writeCollector(s model.Snapshot, timestamp string) error {
	dir := filepath.Join(w.rootPath, timestamp, s.Collector)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	records := Records([]model.Snapshot{s})
	rowsPath := filepath.Join(dir, "rows.dat")
	file, err := os.Create(rowsPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", rowsPath, err)
	}
	defer file.Close()
	if err := gob.NewEncoder(file).Encode(records); err != nil {
		return fmt.Errorf("failed to encode rows to gob for file '%s': %w", rowsPath, err)
	}

	summary := Summary{
		Collector: s.Collector,
		Rows:      len(records),
		Metrics:   len(s.Metrics),
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339),
	}
	summaryPath := filepath.Join(dir, "summary.json")
	summaryFile, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	enc := json.NewEncoder(summaryFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// Close is a no-op; every Write closes its files.
func (w *GobWriter) Close() error {
	return nil
}

// ReadRecords decodes a rows.dat file written by GobWriter.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var records []Record
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode '%s': %w", path, err)
	}
	return records, nil
}
