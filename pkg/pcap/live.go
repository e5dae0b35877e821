package pcap

import (
	"context"
	"time"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// LiveSource captures packets from a network interface.
type LiveSource struct {
	handle *pcap.Handle
}

// OpenLive opens iface for capture.
func OpenLive(iface string, snapshotLen int32, promiscuous bool) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return &LiveSource{handle: handle}, nil
}

// SetBPFFilter restricts the capture to packets matching expr.
func (s *LiveSource) SetBPFFilter(expr string) error {
	return s.handle.SetBPFFilter(expr)
}

// LinkType returns the link layer of the interface.
func (s *LiveSource) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

// ReadPacketData returns the next raw frame.
func (s *LiveSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return s.handle.ReadPacketData()
}

// FrameHandler observes every raw frame before it is parsed.
type FrameHandler func(data []byte, ci gopacket.CaptureInfo)

// ReadPackets parses captured packets into out until ctx is cancelled.
// Each tap sees every frame, parseable or not.
func (s *LiveSource) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo, taps ...FrameHandler) {
	linkType := s.handle.LinkType()
	for ctx.Err() == nil {
		data, ci, err := s.handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err != nil {
			return
		}
		for _, tap := range taps {
			tap(data, ci)
		}
		info, err := protocol.ParsePacketData(data, linkType, ci)
		if err != nil {
			continue
		}
		select {
		case out <- info:
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the capture handle.
func (s *LiveSource) Close() {
	s.handle.Close()
}
