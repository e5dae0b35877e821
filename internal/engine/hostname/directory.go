package hostname

import (
	"net/netip"
	"strings"
	"sync"

	"Go2FlowSpectra/internal/engine/aggregate"

	"golang.org/x/net/idna"
)

// Directory maps server addresses to the names they were learned under. It
// is shared by every collector, so all access is synchronised.
type Directory struct {
	mu          sync.RWMutex
	names       map[netip.Addr]string
	showUnknown bool
}

// NewDirectory creates an empty directory. When showUnknown is set, lookups
// of unknown addresses return the "Unknown" placeholder instead of a miss.
func NewDirectory(showUnknown bool) *Directory {
	return &Directory{
		names:       make(map[netip.Addr]string),
		showUnknown: showUnknown,
	}
}

// Lookup returns the name of ip.
func (d *Directory) Lookup(ip netip.Addr) (string, bool) {
	d.mu.RLock()
	name, ok := d.names[ip.Unmap()]
	d.mu.RUnlock()
	if ok {
		return name, true
	}
	if d.showUnknown {
		return aggregate.UnknownName, true
	}
	return "", false
}

// Update maps every ip to name. Empty names and invalid addresses are ignored.
func (d *Directory) Update(name string, ips ...netip.Addr) {
	name = Normalize(name)
	if name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ip := range ips {
		if ip.IsValid() {
			d.names[ip.Unmap()] = name
		}
	}
}

// Len returns the number of known addresses.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// Normalize lower-cases a host name, strips the trailing dot and converts
// internationalised labels to their ASCII form.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if name == "" {
		return ""
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return name
	}
	return ascii
}
