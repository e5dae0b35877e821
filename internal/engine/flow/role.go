package flow

// RoleDetector decides which endpoint of a TCP conversation is the server.
// It keeps a running count of how often each port has acted as a server,
// so one detector belongs to exactly one collector.
type RoleDetector struct {
	popularity map[uint16]uint64
}

func NewRoleDetector() *RoleDetector {
	return &RoleDetector{popularity: make(map[uint16]uint64)}
}

// ServerPosition returns the canonical index of the server endpoint for a
// segment sent from dir with the given SYN/ACK flags.
//
// A bare SYN marks the destination as server and a SYN+ACK marks the source;
// both bump the port's popularity. Any other segment picks the more popular
// port, ties going to the lower port number (canonical index 0).
func (r *RoleDetector) ServerPosition(id Identity, dir Direction, syn, ack bool) int {
	src := int(dir)
	dst := int(dir.Peer())
	switch {
	case syn && !ack:
		r.popularity[id.Port[dst]]++
		return dst
	case syn && ack:
		r.popularity[id.Port[src]]++
		return src
	}
	a, b := r.popularity[id.Port[0]], r.popularity[id.Port[1]]
	if b > a {
		return 1
	}
	return 0
}

// Popularity returns how many times port was seen acting as a server.
func (r *RoleDetector) Popularity(port uint16) uint64 {
	return r.popularity[port]
}
