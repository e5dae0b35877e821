package flow

import (
	"fmt"
	"net/netip"
)

// Direction is the canonical index (0 or 1) of the endpoint that sent a packet.
type Direction int

// Peer returns the opposite direction.
func (d Direction) Peer() Direction {
	return 1 - d
}

// Identity is the direction-normalised identity of a conversation. The
// endpoint with the numerically smaller port sits at index 0; equal ports
// are ordered by address. Both directions of a conversation yield the same
// Identity, so it is used directly as a map key.
type Identity struct {
	IP   [2]netip.Addr
	Port [2]uint16
	TCP  bool
}

// NewIdentity builds the canonical identity of a packet and reports which
// canonical position its source occupies.
func NewIdentity(srcIP, dstIP netip.Addr, srcPort, dstPort uint16, tcp bool) (Identity, Direction) {
	if dstPort < srcPort || (dstPort == srcPort && dstIP.Less(srcIP)) {
		return Identity{
			IP:   [2]netip.Addr{dstIP, srcIP},
			Port: [2]uint16{dstPort, srcPort},
			TCP:  tcp,
		}, 1
	}
	return Identity{
		IP:   [2]netip.Addr{srcIP, dstIP},
		Port: [2]uint16{srcPort, dstPort},
		TCP:  tcp,
	}, 0
}

// Endpoint returns the address and port at canonical position i.
func (id Identity) Endpoint(i int) netip.AddrPort {
	return netip.AddrPortFrom(id.IP[i], id.Port[i])
}

func (id Identity) String() string {
	proto := "udp"
	if id.TCP {
		proto = "tcp"
	}
	return fmt.Sprintf("%s<->%s/%s", id.Endpoint(0), id.Endpoint(1), proto)
}
