package tcp

import (
	"net/netip"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/statistic"
	"Go2FlowSpectra/internal/metrics"
)

// Direction indexes used by the per-direction counters.
const (
	toServer = 0
	toClient = 1
)

// Event is the set of deltas a tracker reports for one segment or one
// forced finalisation.
type Event struct {
	// Packet is set when the event carries a segment to be counted.
	Packet   bool
	ToServer bool
	Client   netip.Addr
	Frame    int

	Syn, SynAck, Fin, Rst, ZeroWindow bool

	Opened      bool
	ConnTime    time.Duration
	HasConnTime bool

	SRT     time.Duration
	HasSRT  bool
	ReqSize int

	Closed     bool
	Failed     bool
	Gap        bool
	Retransmit bool
}

// Aggregate accumulates the TCP statistics of one aggregation key.
type Aggregate struct {
	Packets    [2]aggregate.Counter
	Bytes      [2]aggregate.Counter
	Syn        [2]aggregate.Counter
	SynAck     [2]aggregate.Counter
	Fin        [2]aggregate.Counter
	Rst        [2]aggregate.Counter
	ZeroWindow [2]aggregate.Counter
	MaxFrame   [2]aggregate.Max

	Connections aggregate.Counter
	Failed      aggregate.Counter
	Closes      aggregate.Counter
	Gaps        aggregate.Counter
	Retransmits aggregate.Counter
	Active      aggregate.Gauge

	SRT      *statistic.Percentile
	ConnTime *statistic.Percentile
	ReqSize  *statistic.Percentile
	Clients  aggregate.Clients
}

// NewAggregate creates an empty aggregate whose accumulators keep at most
// maxSamples points each.
func NewAggregate(maxSamples int) *Aggregate {
	return &Aggregate{
		SRT:      statistic.NewPercentile(maxSamples),
		ConnTime: statistic.NewPercentile(maxSamples),
		ReqSize:  statistic.NewPercentile(maxSamples),
		Clients:  make(aggregate.Clients),
	}
}

// AddFlow applies one event.
func (a *Aggregate) AddFlow(ev Event) {
	if ev.Packet {
		d := toClient
		if ev.ToServer {
			d = toServer
		}
		a.Packets[d].Inc()
		a.Bytes[d].Add(uint64(ev.Frame))
		a.MaxFrame[d].Observe(uint64(ev.Frame))
		a.Clients.Add(ev.Client, uint64(ev.Frame))
		if ev.Syn {
			a.Syn[d].Inc()
		}
		if ev.SynAck {
			a.SynAck[d].Inc()
		}
		if ev.Fin {
			a.Fin[d].Inc()
		}
		if ev.Rst {
			a.Rst[d].Inc()
		}
		if ev.ZeroWindow {
			a.ZeroWindow[d].Inc()
		}
	}
	if ev.Gap {
		a.Gaps.Inc()
	}
	if ev.Retransmit {
		a.Retransmits.Inc()
	}
	if ev.Opened {
		a.Connections.Inc()
		a.Active.Inc()
		if ev.HasConnTime {
			a.ConnTime.AddPoint(millis(ev.ConnTime))
		}
	}
	if ev.HasSRT {
		a.SRT.AddPoint(millis(ev.SRT))
		a.ReqSize.AddPoint(float64(ev.ReqSize))
	}
	if ev.Closed {
		a.Closes.Inc()
		a.Active.Dec()
	}
	if ev.Failed {
		a.Failed.Inc()
	}
}

func millis(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// Merge folds other into a.
func (a *Aggregate) Merge(other *Aggregate) {
	for d := 0; d < 2; d++ {
		a.Packets[d].Merge(other.Packets[d])
		a.Bytes[d].Merge(other.Bytes[d])
		a.Syn[d].Merge(other.Syn[d])
		a.SynAck[d].Merge(other.SynAck[d])
		a.Fin[d].Merge(other.Fin[d])
		a.Rst[d].Merge(other.Rst[d])
		a.ZeroWindow[d].Merge(other.ZeroWindow[d])
		a.MaxFrame[d].Merge(other.MaxFrame[d])
	}
	a.Connections.Merge(other.Connections)
	a.Failed.Merge(other.Failed)
	a.Closes.Merge(other.Closes)
	a.Gaps.Merge(other.Gaps)
	a.Retransmits.Merge(other.Retransmits)
	a.Active.Merge(other.Active)
	a.SRT.Merge(other.SRT)
	a.ConnTime.Merge(other.ConnTime)
	a.ReqSize.Merge(other.ReqSize)
	a.Clients.Merge(other.Clients)
}

func (a *Aggregate) MergePercentiles() {
	a.SRT.Finalize()
	a.ConnTime.Finalize()
	a.ReqSize.Finalize()
}

// Reset clears the interval counters. A full reset also clears the
// lifetime counters, the samples and the client table; the active gauge
// reflects live connections and survives both.
func (a *Aggregate) Reset(resetTotal bool) {
	for d := 0; d < 2; d++ {
		a.Packets[d].Reset(resetTotal)
		a.Bytes[d].Reset(resetTotal)
		a.Syn[d].Reset(resetTotal)
		a.SynAck[d].Reset(resetTotal)
		a.Fin[d].Reset(resetTotal)
		a.Rst[d].Reset(resetTotal)
		a.ZeroWindow[d].Reset(resetTotal)
		a.MaxFrame[d].Reset(resetTotal)
	}
	a.Connections.Reset(resetTotal)
	a.Failed.Reset(resetTotal)
	a.Closes.Reset(resetTotal)
	a.Gaps.Reset(resetTotal)
	a.Retransmits.Reset(resetTotal)
	if resetTotal {
		a.SRT.Reset()
		a.ConnTime.Reset()
		a.ReqSize.Reset()
		clear(a.Clients)
	}
}

func sum(c [2]aggregate.Counter) uint64 {
	return c[toServer].Total + c[toClient].Total
}

// Field renders column f.
func (a *Aggregate) Field(k aggregate.Key, f aggregate.Field, seconds float64) string {
	if s, ok := aggregate.KeyField(k, f); ok {
		return s
	}
	switch f {
	case aggregate.FieldPackets:
		return aggregate.FormatCount(sum(a.Packets))
	case aggregate.FieldPacketRate:
		return aggregate.FormatRate(rate(sum(a.Packets), seconds))
	case aggregate.FieldBytes:
		return aggregate.FormatCount(sum(a.Bytes))
	case aggregate.FieldBytesRate:
		return aggregate.FormatRate(rate(sum(a.Bytes), seconds))
	case aggregate.FieldConnections:
		return aggregate.FormatCount(a.Connections.Total)
	case aggregate.FieldConnectionRate:
		return aggregate.FormatRate(a.Connections.Rate(seconds))
	case aggregate.FieldFailed:
		return aggregate.FormatCount(a.Failed.Total)
	case aggregate.FieldActive:
		return aggregate.FormatCount(a.Active.Value())
	case aggregate.FieldCloses:
		return aggregate.FormatCount(a.Closes.Total)
	case aggregate.FieldGaps:
		return aggregate.FormatCount(a.Gaps.Total)
	case aggregate.FieldRetransmits:
		return aggregate.FormatCount(a.Retransmits.Total)
	case aggregate.FieldSyn:
		return aggregate.FormatCount(sum(a.Syn))
	case aggregate.FieldSynAck:
		return aggregate.FormatCount(sum(a.SynAck))
	case aggregate.FieldFin:
		return aggregate.FormatCount(sum(a.Fin))
	case aggregate.FieldRst:
		return aggregate.FormatCount(sum(a.Rst))
	case aggregate.FieldZeroWindow:
		return aggregate.FormatCount(sum(a.ZeroWindow))
	case aggregate.FieldMTUUp:
		return aggregate.FormatCount(a.MaxFrame[toServer].Total)
	case aggregate.FieldMTUDown:
		return aggregate.FormatCount(a.MaxFrame[toClient].Total)
	case aggregate.FieldSRTP50:
		return aggregate.FormatPercentile(a.SRT, 0.5)
	case aggregate.FieldSRTP95:
		return aggregate.FormatPercentile(a.SRT, 0.95)
	case aggregate.FieldSRTP99:
		return aggregate.FormatPercentile(a.SRT, 0.99)
	case aggregate.FieldSRTMax:
		return aggregate.FormatPercentile(a.SRT, 1)
	case aggregate.FieldConnP50:
		return aggregate.FormatPercentile(a.ConnTime, 0.5)
	case aggregate.FieldConnP95:
		return aggregate.FormatPercentile(a.ConnTime, 0.95)
	case aggregate.FieldConnMax:
		return aggregate.FormatPercentile(a.ConnTime, 1)
	case aggregate.FieldReqSizeP50:
		return aggregate.FormatPercentile(a.ReqSize, 0.5)
	case aggregate.FieldReqSizeP95:
		return aggregate.FormatPercentile(a.ReqSize, 0.95)
	case aggregate.FieldTopClient:
		return a.Clients.Format()
	}
	return aggregate.NoValue
}

func rate(v uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(v) / seconds
}

// Value is the ordering key of column f.
func (a *Aggregate) Value(k aggregate.Key, f aggregate.Field) (float64, bool) {
	if v, ok := aggregate.KeyValue(k, f); ok {
		return v, true
	}
	switch f {
	case aggregate.FieldPackets, aggregate.FieldPacketRate:
		return float64(sum(a.Packets)), true
	case aggregate.FieldBytes, aggregate.FieldBytesRate:
		return float64(sum(a.Bytes)), true
	case aggregate.FieldConnections, aggregate.FieldConnectionRate:
		return float64(a.Connections.Total), true
	case aggregate.FieldFailed:
		return float64(a.Failed.Total), true
	case aggregate.FieldActive:
		return float64(a.Active.Value()), true
	case aggregate.FieldCloses:
		return float64(a.Closes.Total), true
	case aggregate.FieldGaps:
		return float64(a.Gaps.Total), true
	case aggregate.FieldRetransmits:
		return float64(a.Retransmits.Total), true
	case aggregate.FieldSyn:
		return float64(sum(a.Syn)), true
	case aggregate.FieldSynAck:
		return float64(sum(a.SynAck)), true
	case aggregate.FieldFin:
		return float64(sum(a.Fin)), true
	case aggregate.FieldRst:
		return float64(sum(a.Rst)), true
	case aggregate.FieldZeroWindow:
		return float64(sum(a.ZeroWindow)), true
	case aggregate.FieldMTUUp:
		return float64(a.MaxFrame[toServer].Total), true
	case aggregate.FieldMTUDown:
		return float64(a.MaxFrame[toClient].Total), true
	case aggregate.FieldSRTP50:
		return aggregate.PercentileValue(a.SRT, 0.5)
	case aggregate.FieldSRTP95:
		return aggregate.PercentileValue(a.SRT, 0.95)
	case aggregate.FieldSRTP99:
		return aggregate.PercentileValue(a.SRT, 0.99)
	case aggregate.FieldSRTMax:
		return aggregate.PercentileValue(a.SRT, 1)
	case aggregate.FieldConnP50:
		return aggregate.PercentileValue(a.ConnTime, 0.5)
	case aggregate.FieldConnP95:
		return aggregate.PercentileValue(a.ConnTime, 0.95)
	case aggregate.FieldConnMax:
		return aggregate.PercentileValue(a.ConnTime, 1)
	case aggregate.FieldReqSizeP50:
		return aggregate.PercentileValue(a.ReqSize, 0.5)
	case aggregate.FieldReqSizeP95:
		return aggregate.PercentileValue(a.ReqSize, 0.95)
	case aggregate.FieldTopClient:
		if _, n, ok := a.Clients.Top(); ok {
			return float64(n), true
		}
	}
	return 0, false
}

var directionTags = [2]metrics.Tag{
	toServer: {Key: "direction", Value: "up"},
	toClient: {Key: "direction", Value: "down"},
}

// Metrics returns the metric lines of key k.
func (a *Aggregate) Metrics(prefix string, k aggregate.Key, scope metrics.Scope) []metrics.Line {
	tags := k.Tags()
	withDir := func(d int) []metrics.Tag {
		return append(append([]metrics.Tag(nil), tags...), directionTags[d])
	}

	var lines []metrics.Line
	counter := func(name string, v uint64, t []metrics.Tag) {
		lines = append(lines, metrics.Line{Name: prefix + "." + name, Value: float64(v), Type: metrics.Counter, Tags: t})
	}
	for d := 0; d < 2; d++ {
		dt := withDir(d)
		counter("packets", a.Packets[d].Value(scope), dt)
		counter("bytes", a.Bytes[d].Value(scope), dt)
		counter("syn", a.Syn[d].Value(scope), dt)
		counter("synack", a.SynAck[d].Value(scope), dt)
		counter("fin", a.Fin[d].Value(scope), dt)
		counter("rst", a.Rst[d].Value(scope), dt)
		counter("zero_window", a.ZeroWindow[d].Value(scope), dt)
		lines = append(lines, metrics.Line{
			Name: prefix + ".mtu", Value: float64(a.MaxFrame[d].Value(scope)), Type: metrics.Gauge, Tags: dt,
		})
	}
	counter("connections", a.Connections.Value(scope), tags)
	counter("failed", a.Failed.Value(scope), tags)
	counter("closes", a.Closes.Value(scope), tags)
	counter("gaps", a.Gaps.Value(scope), tags)
	counter("retransmits", a.Retransmits.Value(scope), tags)
	lines = append(lines, metrics.Line{
		Name: prefix + ".active", Value: float64(a.Active.Value()), Type: metrics.Gauge, Tags: tags,
	})

	lines = aggregate.PercentileLines(lines, prefix+".srt", a.SRT, metrics.Timer, tags)
	lines = aggregate.PercentileLines(lines, prefix+".conn_time", a.ConnTime, metrics.Timer, tags)
	lines = aggregate.PercentileLines(lines, prefix+".req_size", a.ReqSize, metrics.Histogram, tags)
	return lines
}
