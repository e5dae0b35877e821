package aggregate

import "net/netip"

// Clients counts traffic per client address.
type Clients map[netip.Addr]uint64

// Add credits n to addr. Invalid addresses are ignored.
func (c Clients) Add(addr netip.Addr, n uint64) {
	if !addr.IsValid() {
		return
	}
	c[addr] += n
}

// Merge sums other into c.
func (c Clients) Merge(other Clients) {
	for addr, n := range other {
		c[addr] += n
	}
}

// Top returns the busiest client, ties broken by the lower address.
func (c Clients) Top() (netip.Addr, uint64, bool) {
	var best netip.Addr
	var bestN uint64
	found := false
	for addr, n := range c {
		if !found || n > bestN || (n == bestN && addr.Less(best)) {
			best, bestN, found = addr, n, true
		}
	}
	return best, bestN, found
}

// Format renders the busiest client as "addr(n)".
func (c Clients) Format() string {
	addr, n, ok := c.Top()
	if !ok {
		return NoValue
	}
	return addr.String() + "(" + FormatCount(n) + ")"
}
