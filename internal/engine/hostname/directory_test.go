package hostname

import (
	"net/netip"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Example.COM.", "example.com"},
		{"  www.example.org ", "www.example.org"},
		{"bücher.example", "xn--bcher-kva.example"},
		{".", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, Normalize(tt.in), tt.want, "input %q", tt.in)
	}
}

func TestDirectoryLookup(t *testing.T) {
	d := NewDirectory(false)
	v4 := netip.MustParseAddr("93.184.216.34")
	d.Update("Example.com.", v4, netip.Addr{})
	d.Update("", netip.MustParseAddr("10.0.0.1"))

	assert.Equal(t, d.Len(), 1)
	name, ok := d.Lookup(v4)
	assert.Assert(t, ok)
	assert.Equal(t, name, "example.com")

	// IPv4-mapped addresses resolve to the same entry
	name, ok = d.Lookup(netip.MustParseAddr("::ffff:93.184.216.34"))
	assert.Assert(t, ok)
	assert.Equal(t, name, "example.com")

	_, ok = d.Lookup(netip.MustParseAddr("10.0.0.1"))
	assert.Assert(t, !ok)
}

func TestDirectoryUnknownPlaceholder(t *testing.T) {
	d := NewDirectory(true)
	name, ok := d.Lookup(netip.MustParseAddr("10.9.9.9"))
	assert.Assert(t, ok)
	assert.Equal(t, name, "Unknown")
}

func TestDirectoryLastNameWins(t *testing.T) {
	d := NewDirectory(false)
	ip := netip.MustParseAddr("2001:db8::1")
	d.Update("a.example", ip)
	d.Update("b.example", ip)
	name, _ := d.Lookup(ip)
	assert.Equal(t, name, "b.example")
}
