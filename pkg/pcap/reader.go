package pcap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// packetDataSource is implemented by both the classic and the pcapng readers.
type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	file     *os.File
	source   packetDataSource
	linkType layers.LinkType
	skipped  int
}

// NewReader creates a new reader for the given file path. Classic pcap is
// tried first, then pcapng.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	if r, err := pcapgo.NewReader(bufio.NewReader(f)); err == nil {
		return &Reader{file: f, source: r, linkType: r.LinkType()}, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	ng, err := pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s is neither pcap nor pcapng: %w", filePath, err)
	}
	return &Reader{file: f, source: ng, linkType: ng.LinkType()}, nil
}

// LinkType returns the link layer of the capture.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Skipped returns how many frames could not be parsed.
func (r *Reader) Skipped() int {
	return r.skipped
}

// ReadPackets reads every packet of the file, parses it and sends the
// PacketInfo to out. Frames that are not TCP or UDP over IP are skipped.
// It returns the number of packets sent.
func (r *Reader) ReadPackets(out chan<- *model.PacketInfo) (int, error) {
	sent := 0
	for {
		data, ci, err := r.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("failed to read packet %d: %w", sent+r.skipped+1, err)
		}
		info, err := protocol.ParsePacketData(data, r.linkType, ci)
		if err != nil {
			r.skipped++
			continue
		}
		out <- info
		sent++
	}
}
