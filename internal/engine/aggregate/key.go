package aggregate

import (
	"cmp"
	"fmt"
	"net/netip"
	"strconv"

	"Go2FlowSpectra/internal/metrics"
)

const (
	// TotalName labels the grand-total row.
	TotalName = "Total"
	// UnknownName is the placeholder for servers without a resolved name.
	UnknownName = "Unknown"
)

// Key is the identity under which flows are merged. Equality is structural
// over every field, so Key can be used directly as a map key.
type Key struct {
	Name       string
	ServerIP   netip.Addr // zero unless per-IP aggregation is enabled
	ServerPort uint16
	QType      uint16 // DNS record type, 0 for other protocols
	Transport  string // DNS transport ("udp" or "tcp"), empty for other protocols
	total      bool
}

// TotalKey is the sentinel key of the grand-total row. No key built from
// traffic compares equal to it.
var TotalKey = Key{Name: TotalName, total: true}

// IsTotal reports whether k is the grand-total sentinel.
func (k Key) IsTotal() bool {
	return k.total
}

func (k Key) String() string {
	if k.total {
		return TotalName
	}
	s := k.Name
	if k.ServerIP.IsValid() {
		s += "/" + k.ServerIP.String()
	}
	s += ":" + strconv.Itoa(int(k.ServerPort))
	if k.QType != 0 || k.Transport != "" {
		s += fmt.Sprintf("[%d/%s]", k.QType, k.Transport)
	}
	return s
}

// Compare orders keys by name, server IP, port, record type and transport.
// The total sentinel sorts after every other key.
func (k Key) Compare(o Key) int {
	if k.total != o.total {
		if k.total {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(k.Name, o.Name); c != 0 {
		return c
	}
	if c := k.ServerIP.Compare(o.ServerIP); c != 0 {
		return c
	}
	if c := cmp.Compare(k.ServerPort, o.ServerPort); c != 0 {
		return c
	}
	if c := cmp.Compare(k.QType, o.QType); c != 0 {
		return c
	}
	return cmp.Compare(k.Transport, o.Transport)
}

// Tags returns the dimensional tags identifying k in exported metrics.
func (k Key) Tags() []metrics.Tag {
	tags := []metrics.Tag{{Key: "name", Value: k.Name}}
	if k.ServerIP.IsValid() {
		tags = append(tags, metrics.Tag{Key: "ip", Value: k.ServerIP.String()})
	}
	tags = append(tags, metrics.Tag{Key: "port", Value: strconv.Itoa(int(k.ServerPort))})
	if k.Transport != "" {
		tags = append(tags,
			metrics.Tag{Key: "qtype", Value: strconv.Itoa(int(k.QType))},
			metrics.Tag{Key: "transport", Value: k.Transport})
	}
	return tags
}
