package writer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/model"
)

// TextWriter renders each snapshot as aligned status tables.
type TextWriter struct {
	mu       sync.Mutex
	out      io.Writer
	closer   io.Closer
	interval time.Duration
}

// NewTextWriter creates a text writer printing to out.
func NewTextWriter(out io.Writer, interval time.Duration) *TextWriter {
	return &TextWriter{out: out, interval: interval}
}

// NewTextFileWriter appends to the file at path, or prints to stdout when
// path is empty or "-".
func NewTextFileWriter(path string, interval time.Duration) (*TextWriter, error) {
	if path == "" || path == "-" {
		return NewTextWriter(os.Stdout, interval), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open text output '%s': %w", path, err)
	}
	w := NewTextWriter(f, interval)
	w.closer = f
	return w, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *TextWriter) GetInterval() time.Duration {
	return w.interval
}

// Write prints one table per collector under a timestamp banner.
func (w *TextWriter) Write(snapshots []model.Snapshot, timestamp string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.out, "=== %s ===\n", timestamp); err != nil {
		return err
	}
	for _, s := range snapshots {
		if err := RenderTable(w.out, s.Collector, s.Status); err != nil {
			return fmt.Errorf("failed to render %s: %w", s.Collector, err)
		}
	}
	return nil
}

// Close closes the output file, if the writer opened one.
func (w *TextWriter) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// RenderTable prints st as a tab-aligned table titled with the collector
// name, total row last.
func RenderTable(out io.Writer, collector string, st *aggregate.Status) error {
	if st == nil {
		return nil
	}
	if _, err := fmt.Fprintf(out, "[%s]\n", collector); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(st.Header, "\t"))
	for _, row := range st.Rows {
		fmt.Fprintln(tw, strings.Join(row.Values, "\t"))
	}
	fmt.Fprintln(tw, strings.Join(st.Total.Values, "\t"))
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out)
	return err
}
