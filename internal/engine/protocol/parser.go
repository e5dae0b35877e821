package protocol

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotIP is returned for frames without an IPv4 or IPv6 layer.
	ErrNotIP = errors.New("not an IP packet")
	// ErrNotTransport is returned for IP packets carrying neither TCP nor UDP.
	ErrNotTransport = errors.New("not a TCP or UDP packet")
)

const dnsPort = 53

// ParsePacketData decodes a raw frame starting at firstLayer and extracts
// the fields the collectors need.
func ParsePacketData(data []byte, firstLayer gopacket.Decoder, ci gopacket.CaptureInfo) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, firstLayer, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	md := packet.Metadata()
	md.CaptureInfo = ci
	return ParsePacket(packet)
}

// ParsePacket uses gopacket to extract key information from a decoded packet.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{Length: len(packet.Data())}
	if md := packet.Metadata(); md != nil {
		info.Timestamp = md.Timestamp
		if md.Length > 0 {
			info.Length = md.Length
		}
	}

	ft := &info.FiveTuple
	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		ft.SrcIP = addr(ip.SrcIP)
		ft.DstIP = addr(ip.DstIP)
		ft.Protocol = uint8(ip.Protocol)
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		ft.SrcIP = addr(ip.SrcIP)
		ft.DstIP = addr(ip.DstIP)
		ft.Protocol = uint8(ip.NextHeader)
	default:
		return nil, ErrNotIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		ft.Protocol = model.ProtoTCP
		ft.SrcPort = uint16(tcp.SrcPort)
		ft.DstPort = uint16(tcp.DstPort)
		info.Payload = tcp.Payload
		info.TCP = &model.TCPInfo{
			Seq:    tcp.Seq,
			Ack:    tcp.Ack,
			SYN:    tcp.SYN,
			ACK:    tcp.ACK,
			FIN:    tcp.FIN,
			RST:    tcp.RST,
			PSH:    tcp.PSH,
			Window: tcp.Window,
		}
		if ft.SrcPort == dnsPort || ft.DstPort == dnsPort {
			info.DNS = dnsOverTCP(tcp.Payload)
		}
		return info, nil
	}

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		ft.Protocol = model.ProtoUDP
		ft.SrcPort = uint16(udp.SrcPort)
		ft.DstPort = uint16(udp.DstPort)
		info.Payload = udp.Payload
		if l := packet.Layer(layers.LayerTypeDNS); l != nil {
			info.DNS = dnsInfo(l.(*layers.DNS), false)
		} else if ft.SrcPort == dnsPort || ft.DstPort == dnsPort {
			info.DNS = decodeDNS(udp.Payload, false)
		}
		return info, nil
	}

	return nil, ErrNotTransport
}

func addr(b []byte) netip.Addr {
	a, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

// dnsOverTCP decodes the first message of a TCP DNS stream segment, which
// carries a two-byte length prefix.
func dnsOverTCP(payload []byte) *model.DNSInfo {
	if len(payload) < 2 {
		return nil
	}
	n := int(binary.BigEndian.Uint16(payload))
	msg := payload[2:]
	if n < len(msg) {
		msg = msg[:n]
	}
	return decodeDNS(msg, true)
}

func decodeDNS(payload []byte, overTCP bool) *model.DNSInfo {
	var d layers.DNS
	if err := d.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	return dnsInfo(&d, overTCP)
}

func dnsInfo(d *layers.DNS, overTCP bool) *model.DNSInfo {
	info := &model.DNSInfo{
		ID:          d.ID,
		Response:    d.QR,
		RCode:       uint8(d.ResponseCode),
		Truncated:   d.TC,
		AnswerCount: len(d.Answers),
		OverTCP:     overTCP,
	}
	if len(d.Questions) > 0 {
		info.Name = string(d.Questions[0].Name)
		info.QType = uint16(d.Questions[0].Type)
	}
	for _, rr := range d.Answers {
		if rr.Type != layers.DNSTypeA && rr.Type != layers.DNSTypeAAAA {
			continue
		}
		if a := addr(rr.IP); a.IsValid() {
			info.Answers = append(info.Answers, a)
		}
	}
	return info
}
