package dns

import (
	"net/netip"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/statistic"
	"Go2FlowSpectra/internal/metrics"

	"github.com/google/gopacket/layers"
)

// Event is one query, answer or timeout reported by the exchange tracker.
type Event struct {
	Query  bool
	Client netip.Addr
	Frame  int

	Response  bool
	RTT       time.Duration
	RCode     uint8
	Truncated bool
	Empty     bool

	TimedOut bool
}

// Aggregate accumulates the DNS statistics of one name, record type and
// transport.
type Aggregate struct {
	Queries     aggregate.Counter
	Responses   aggregate.Counter
	Timeouts    aggregate.Counter
	Truncated   aggregate.Counter
	NXDomain    aggregate.Counter
	ServFail    aggregate.Counter
	OtherErrors aggregate.Counter
	Empty       aggregate.Counter
	Packets     aggregate.Counter
	Bytes       aggregate.Counter

	SRT     *statistic.Percentile
	Clients aggregate.Clients
}

func NewAggregate(maxSamples int) *Aggregate {
	return &Aggregate{
		SRT:     statistic.NewPercentile(maxSamples),
		Clients: make(aggregate.Clients),
	}
}

// AddFlow applies one event.
func (a *Aggregate) AddFlow(ev Event) {
	switch {
	case ev.Query:
		a.Queries.Inc()
		a.Packets.Inc()
		a.Bytes.Add(uint64(ev.Frame))
		a.Clients.Add(ev.Client, 1)
	case ev.Response:
		a.Responses.Inc()
		a.Packets.Inc()
		a.Bytes.Add(uint64(ev.Frame))
		rtt := ev.RTT
		if rtt < 0 {
			rtt = 0
		}
		a.SRT.AddPoint(float64(rtt) / float64(time.Millisecond))
		switch layers.DNSResponseCode(ev.RCode) {
		case layers.DNSResponseCodeNoErr:
		case layers.DNSResponseCodeNXDomain:
			a.NXDomain.Inc()
		case layers.DNSResponseCodeServFail:
			a.ServFail.Inc()
		default:
			a.OtherErrors.Inc()
		}
		if ev.Truncated {
			a.Truncated.Inc()
		}
		if ev.Empty {
			a.Empty.Inc()
		}
	case ev.TimedOut:
		a.Timeouts.Inc()
	}
}

func (a *Aggregate) Merge(other *Aggregate) {
	a.Queries.Merge(other.Queries)
	a.Responses.Merge(other.Responses)
	a.Timeouts.Merge(other.Timeouts)
	a.Truncated.Merge(other.Truncated)
	a.NXDomain.Merge(other.NXDomain)
	a.ServFail.Merge(other.ServFail)
	a.OtherErrors.Merge(other.OtherErrors)
	a.Empty.Merge(other.Empty)
	a.Packets.Merge(other.Packets)
	a.Bytes.Merge(other.Bytes)
	a.SRT.Merge(other.SRT)
	a.Clients.Merge(other.Clients)
}

func (a *Aggregate) MergePercentiles() {
	a.SRT.Finalize()
}

func (a *Aggregate) Reset(resetTotal bool) {
	a.Queries.Reset(resetTotal)
	a.Responses.Reset(resetTotal)
	a.Timeouts.Reset(resetTotal)
	a.Truncated.Reset(resetTotal)
	a.NXDomain.Reset(resetTotal)
	a.ServFail.Reset(resetTotal)
	a.OtherErrors.Reset(resetTotal)
	a.Empty.Reset(resetTotal)
	a.Packets.Reset(resetTotal)
	a.Bytes.Reset(resetTotal)
	if resetTotal {
		a.SRT.Reset()
		clear(a.Clients)
	}
}

// counter maps a column to the counter it renders.
func (a *Aggregate) counter(f aggregate.Field) (*aggregate.Counter, bool) {
	switch f {
	case aggregate.FieldRequests, aggregate.FieldRequestRate:
		return &a.Queries, true
	case aggregate.FieldResponses:
		return &a.Responses, true
	case aggregate.FieldTimeouts:
		return &a.Timeouts, true
	case aggregate.FieldTruncated:
		return &a.Truncated, true
	case aggregate.FieldNXDomain:
		return &a.NXDomain, true
	case aggregate.FieldServFail:
		return &a.ServFail, true
	case aggregate.FieldEmpty:
		return &a.Empty, true
	case aggregate.FieldPackets, aggregate.FieldPacketRate:
		return &a.Packets, true
	case aggregate.FieldBytes, aggregate.FieldBytesRate:
		return &a.Bytes, true
	}
	return nil, false
}

// Field renders column f. The record type is shown by its mnemonic.
func (a *Aggregate) Field(k aggregate.Key, f aggregate.Field, seconds float64) string {
	if f == aggregate.FieldType && !k.IsTotal() && k.QType != 0 {
		return layers.DNSType(k.QType).String()
	}
	if s, ok := aggregate.KeyField(k, f); ok {
		return s
	}
	if c, ok := a.counter(f); ok {
		switch f {
		case aggregate.FieldRequestRate, aggregate.FieldPacketRate, aggregate.FieldBytesRate:
			return aggregate.FormatRate(c.Rate(seconds))
		}
		return aggregate.FormatCount(c.Total)
	}
	switch f {
	case aggregate.FieldSRTP50:
		return aggregate.FormatPercentile(a.SRT, 0.5)
	case aggregate.FieldSRTP95:
		return aggregate.FormatPercentile(a.SRT, 0.95)
	case aggregate.FieldSRTP99:
		return aggregate.FormatPercentile(a.SRT, 0.99)
	case aggregate.FieldSRTMax:
		return aggregate.FormatPercentile(a.SRT, 1)
	case aggregate.FieldTopClient:
		return a.Clients.Format()
	}
	return aggregate.NoValue
}

func (a *Aggregate) Value(k aggregate.Key, f aggregate.Field) (float64, bool) {
	if v, ok := aggregate.KeyValue(k, f); ok {
		return v, true
	}
	if c, ok := a.counter(f); ok {
		return float64(c.Total), true
	}
	switch f {
	case aggregate.FieldSRTP50:
		return aggregate.PercentileValue(a.SRT, 0.5)
	case aggregate.FieldSRTP95:
		return aggregate.PercentileValue(a.SRT, 0.95)
	case aggregate.FieldSRTP99:
		return aggregate.PercentileValue(a.SRT, 0.99)
	case aggregate.FieldSRTMax:
		return aggregate.PercentileValue(a.SRT, 1)
	case aggregate.FieldTopClient:
		if _, n, ok := a.Clients.Top(); ok {
			return float64(n), true
		}
	}
	return 0, false
}

func (a *Aggregate) Metrics(prefix string, k aggregate.Key, scope metrics.Scope) []metrics.Line {
	tags := k.Tags()
	lines := make([]metrics.Line, 0, 14)
	for _, c := range []struct {
		name string
		c    aggregate.Counter
	}{
		{"queries", a.Queries},
		{"responses", a.Responses},
		{"timeouts", a.Timeouts},
		{"truncated", a.Truncated},
		{"nxdomain", a.NXDomain},
		{"servfail", a.ServFail},
		{"errors", a.OtherErrors},
		{"empty", a.Empty},
		{"packets", a.Packets},
		{"bytes", a.Bytes},
	} {
		lines = append(lines, metrics.Line{
			Name: prefix + "." + c.name, Value: float64(c.c.Value(scope)), Type: metrics.Counter, Tags: tags,
		})
	}
	return aggregate.PercentileLines(lines, prefix+".srt", a.SRT, metrics.Timer, tags)
}
