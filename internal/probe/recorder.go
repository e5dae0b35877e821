package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
)

const recorderBuffer = 10000

type frame struct {
	data []byte
	ci   gopacket.CaptureInfo
}

// Recorder appends captured frames to a timestamped pcap file from a single
// goroutine, so frames keep their capture order.
type Recorder struct {
	file    *os.File
	writer  *pcapgo.Writer
	frames  chan frame
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	log     logrus.FieldLogger
}

// NewRecorder creates <dir>/<timestamp>.pcap and starts the writer goroutine.
func NewRecorder(dir string, snapshotLen uint32, linkType layers.LinkType, log logrus.FieldLogger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	path := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+".pcap")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapshotLen, linkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	r := &Recorder{
		file:   file,
		writer: writer,
		frames: make(chan frame, recorderBuffer),
		log:    log.WithField("file", path),
	}
	r.wg.Add(1)
	go r.run()
	r.log.Info("Recorder started")
	return r, nil
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for f := range r.frames {
		if err := r.writer.WritePacket(f.ci, f.data); err != nil {
			r.log.WithError(err).Warn("Error writing frame")
		}
	}
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.file.Name()
}

// Enqueue queues a frame, dropping it when the writer falls behind. It
// must not be called after Stop.
func (r *Recorder) Enqueue(data []byte, ci gopacket.CaptureInfo) {
	select {
	case r.frames <- frame{data: data, ci: ci}:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many frames were discarded.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Stop flushes the queued frames and closes the file.
func (r *Recorder) Stop() error {
	var err error
	r.once.Do(func() {
		close(r.frames)
		r.wg.Wait()
		err = r.file.Close()
		r.log.WithField("dropped", r.Dropped()).Info("Recorder stopped")
	})
	return err
}
