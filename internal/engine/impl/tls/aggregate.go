package tls

import (
	stdtls "crypto/tls"
	"net/netip"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/statistic"
	"Go2FlowSpectra/internal/metrics"
)

// Event is what a handshake tracker reports for one segment or eviction.
type Event struct {
	Packet bool
	Frame  int
	Client netip.Addr

	Hello  bool
	Domain string
	Ticket bool

	Completed bool
	Latency   time.Duration
	Version   uint16

	Failed bool
}

// Aggregate accumulates the TLS handshake statistics of one server.
type Aggregate struct {
	Packets    aggregate.Counter
	Bytes      aggregate.Counter
	Handshakes aggregate.Counter
	Completed  aggregate.Counter
	Failures   aggregate.Counter
	Tickets    aggregate.Counter

	Latency  *statistic.Percentile
	Domains  map[string]uint64
	Versions map[uint16]uint64
	Clients  aggregate.Clients
}

func NewAggregate(maxSamples int) *Aggregate {
	return &Aggregate{
		Latency:  statistic.NewPercentile(maxSamples),
		Domains:  make(map[string]uint64),
		Versions: make(map[uint16]uint64),
		Clients:  make(aggregate.Clients),
	}
}

func (a *Aggregate) AddFlow(ev Event) {
	if ev.Packet {
		a.Packets.Inc()
		a.Bytes.Add(uint64(ev.Frame))
		a.Clients.Add(ev.Client, uint64(ev.Frame))
	}
	if ev.Hello {
		a.Handshakes.Inc()
		if ev.Domain != "" {
			a.Domains[ev.Domain]++
		}
		if ev.Ticket {
			a.Tickets.Inc()
		}
	}
	if ev.Completed {
		a.Completed.Inc()
		a.Latency.AddPoint(float64(max(ev.Latency, 0)) / float64(time.Millisecond))
		if ev.Version != 0 {
			a.Versions[ev.Version]++
		}
	}
	if ev.Failed {
		a.Failures.Inc()
	}
}

func (a *Aggregate) Merge(other *Aggregate) {
	a.Packets.Merge(other.Packets)
	a.Bytes.Merge(other.Bytes)
	a.Handshakes.Merge(other.Handshakes)
	a.Completed.Merge(other.Completed)
	a.Failures.Merge(other.Failures)
	a.Tickets.Merge(other.Tickets)
	a.Latency.Merge(other.Latency)
	for d, n := range other.Domains {
		a.Domains[d] += n
	}
	for v, n := range other.Versions {
		a.Versions[v] += n
	}
	a.Clients.Merge(other.Clients)
}

func (a *Aggregate) MergePercentiles() {
	a.Latency.Finalize()
}

func (a *Aggregate) Reset(resetTotal bool) {
	a.Packets.Reset(resetTotal)
	a.Bytes.Reset(resetTotal)
	a.Handshakes.Reset(resetTotal)
	a.Completed.Reset(resetTotal)
	a.Failures.Reset(resetTotal)
	a.Tickets.Reset(resetTotal)
	if resetTotal {
		a.Latency.Reset()
		clear(a.Domains)
		clear(a.Versions)
		clear(a.Clients)
	}
}

// topDomain returns the most frequent SNI, ties going to the smaller name.
func (a *Aggregate) topDomain() (string, bool) {
	var best string
	var bestN uint64
	for d, n := range a.Domains {
		if n > bestN || (n == bestN && d < best) {
			best, bestN = d, n
		}
	}
	return best, bestN > 0
}

// topVersion returns the most frequently negotiated version.
func (a *Aggregate) topVersion() (uint16, bool) {
	var best uint16
	var bestN uint64
	for v, n := range a.Versions {
		if n > bestN || (n == bestN && v > best) {
			best, bestN = v, n
		}
	}
	return best, bestN > 0
}

func (a *Aggregate) Field(k aggregate.Key, f aggregate.Field, seconds float64) string {
	if s, ok := aggregate.KeyField(k, f); ok {
		return s
	}
	switch f {
	case aggregate.FieldDomain:
		if d, ok := a.topDomain(); ok {
			return d
		}
	case aggregate.FieldVersion:
		if v, ok := a.topVersion(); ok {
			return stdtls.VersionName(v)
		}
	case aggregate.FieldPackets:
		return aggregate.FormatCount(a.Packets.Total)
	case aggregate.FieldPacketRate:
		return aggregate.FormatRate(a.Packets.Rate(seconds))
	case aggregate.FieldBytes:
		return aggregate.FormatCount(a.Bytes.Total)
	case aggregate.FieldBytesRate:
		return aggregate.FormatRate(a.Bytes.Rate(seconds))
	case aggregate.FieldHandshakes, aggregate.FieldConnections:
		return aggregate.FormatCount(a.Handshakes.Total)
	case aggregate.FieldConnectionRate:
		return aggregate.FormatRate(a.Handshakes.Rate(seconds))
	case aggregate.FieldHandshakeFailures, aggregate.FieldFailed:
		return aggregate.FormatCount(a.Failures.Total)
	case aggregate.FieldTickets:
		return aggregate.FormatCount(a.Tickets.Total)
	case aggregate.FieldConnP50:
		return aggregate.FormatPercentile(a.Latency, 0.5)
	case aggregate.FieldConnP95:
		return aggregate.FormatPercentile(a.Latency, 0.95)
	case aggregate.FieldConnMax:
		return aggregate.FormatPercentile(a.Latency, 1)
	case aggregate.FieldTopClient:
		return a.Clients.Format()
	}
	return aggregate.NoValue
}

func (a *Aggregate) Value(k aggregate.Key, f aggregate.Field) (float64, bool) {
	if v, ok := aggregate.KeyValue(k, f); ok {
		return v, true
	}
	switch f {
	case aggregate.FieldVersion:
		if v, ok := a.topVersion(); ok {
			return float64(v), true
		}
	case aggregate.FieldPackets, aggregate.FieldPacketRate:
		return float64(a.Packets.Total), true
	case aggregate.FieldBytes, aggregate.FieldBytesRate:
		return float64(a.Bytes.Total), true
	case aggregate.FieldHandshakes, aggregate.FieldConnections, aggregate.FieldConnectionRate:
		return float64(a.Handshakes.Total), true
	case aggregate.FieldHandshakeFailures, aggregate.FieldFailed:
		return float64(a.Failures.Total), true
	case aggregate.FieldTickets:
		return float64(a.Tickets.Total), true
	case aggregate.FieldConnP50:
		return aggregate.PercentileValue(a.Latency, 0.5)
	case aggregate.FieldConnP95:
		return aggregate.PercentileValue(a.Latency, 0.95)
	case aggregate.FieldConnMax:
		return aggregate.PercentileValue(a.Latency, 1)
	case aggregate.FieldTopClient:
		if _, n, ok := a.Clients.Top(); ok {
			return float64(n), true
		}
	}
	return 0, false
}

func (a *Aggregate) Metrics(prefix string, k aggregate.Key, scope metrics.Scope) []metrics.Line {
	tags := k.Tags()
	counter := func(name string, c aggregate.Counter) metrics.Line {
		return metrics.Line{Name: prefix + "." + name, Value: float64(c.Value(scope)), Type: metrics.Counter, Tags: tags}
	}
	lines := []metrics.Line{
		counter("packets", a.Packets),
		counter("bytes", a.Bytes),
		counter("handshakes", a.Handshakes),
		counter("completed", a.Completed),
		counter("failures", a.Failures),
		counter("tickets", a.Tickets),
	}
	return aggregate.PercentileLines(lines, prefix+".handshake_time", a.Latency, metrics.Timer, tags)
}
