package model

import (
	"net/netip"
	"time"
)

// IP protocol numbers carried in FiveTuple.Protocol.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// TCPInfo holds the TCP header fields the flow trackers need.
type TCPInfo struct {
	Seq    uint32
	Ack    uint32
	SYN    bool
	ACK    bool
	FIN    bool
	RST    bool
	PSH    bool
	Window uint16
}

// DNSInfo holds a decoded DNS message header, its first question and the
// addresses found in A/AAAA answers.
type DNSInfo struct {
	ID          uint16
	Response    bool
	Name        string
	QType       uint16
	RCode       uint8
	Truncated   bool
	AnswerCount int
	Answers     []netip.Addr
	OverTCP     bool
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	// Length is the captured frame length in bytes.
	Length  int
	Payload []byte
	TCP     *TCPInfo
	DNS     *DNSInfo
}

// IsTCP reports whether the packet carries a decoded TCP header.
func (p *PacketInfo) IsTCP() bool {
	return p.TCP != nil && p.FiveTuple.Protocol == ProtoTCP
}
