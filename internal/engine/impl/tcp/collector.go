package tcp

import (
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/flow"
	"Go2FlowSpectra/internal/engine/hostname"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	"github.com/sirupsen/logrus"
)

// Name is the registered collector name.
const Name = "tcp"

func init() {
	factory.RegisterCollector(Name, func(deps factory.Deps) (model.Collector, error) {
		e := deps.Config.Engine
		return New(Options{
			IdleTimeout: e.TCPIdleTimeout.Std(),
			PerIP:       e.PerIPAggregation,
			MaxSamples:  e.MaxPercentileSamples,
		}, deps.Directory, deps.Logger), nil
	})
}

// DefaultIdleTimeout applies when Options.IdleTimeout is not positive.
const DefaultIdleTimeout = 15 * time.Second

// Options configures a TCP collector.
type Options struct {
	IdleTimeout time.Duration
	PerIP       bool
	MaxSamples  int
}

// Collector tracks TCP connections and aggregates them per server.
// The flow table belongs to the ingest goroutine; the aggregate table is
// guarded by its own lock.
type Collector struct {
	opts  Options
	dir   *hostname.Directory
	log   logrus.FieldLogger
	roles *flow.RoleDetector

	flows    map[flow.Identity]*tracker
	table    *aggregate.Table[*Aggregate]
	lastTick time.Time
}

// New creates a TCP collector resolving server names through dir.
func New(opts Options, dir *hostname.Directory, log logrus.FieldLogger) *Collector {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	maxSamples := opts.MaxSamples
	return &Collector{
		opts:  opts,
		dir:   dir,
		log:   log.WithField("collector", Name),
		roles: flow.NewRoleDetector(),
		flows: make(map[flow.Identity]*tracker),
		table: aggregate.NewTable(func() *Aggregate { return NewAggregate(maxSamples) }),
	}
}

func (c *Collector) Name() string { return Name }

// ProcessPacket feeds one segment to its connection tracker, creating the
// tracker when the server name resolves.
func (c *Collector) ProcessPacket(pkt *model.PacketInfo) {
	if !pkt.IsTCP() {
		return
	}
	ft := pkt.FiveTuple
	id, d := flow.NewIdentity(ft.SrcIP, ft.DstIP, ft.SrcPort, ft.DstPort, true)

	t, ok := c.flows[id]
	if !ok {
		server := c.roles.ServerPosition(id, d, pkt.TCP.SYN, pkt.TCP.ACK)
		name, found := c.dir.Lookup(id.IP[server])
		if !found {
			return
		}
		key := aggregate.Key{Name: name, ServerPort: id.Port[server]}
		if c.opts.PerIP {
			key.ServerIP = id.IP[server]
		}
		t = newTracker(key, id, server, pkt.Timestamp)
		c.flows[id] = t
	}

	ev := t.process(pkt, d)
	c.table.Apply(t.key, func(a *Aggregate) { a.AddFlow(ev) })
}

// AdvanceTick evicts every connection idle for longer than the idle
// timeout. Ticks older than the last one are ignored.
func (c *Collector) AdvanceTick(now time.Time) {
	if now.Before(c.lastTick) {
		return
	}
	c.lastTick = now
	evicted := 0
	for id, t := range c.flows {
		if t.idle(now) <= c.opts.IdleTimeout {
			continue
		}
		c.expire(t)
		delete(c.flows, id)
		evicted++
	}
	if evicted > 0 {
		c.log.WithField("evicted", evicted).Debug("Idle connections evicted")
	}
}

// Flush force-finalises every live connection.
func (c *Collector) Flush() {
	for id, t := range c.flows {
		c.expire(t)
		delete(c.flows, id)
	}
}

func (c *Collector) expire(t *tracker) {
	if ev, ok := t.expire(); ok {
		c.table.Apply(t.key, func(a *Aggregate) { a.AddFlow(ev) })
	}
}

// FlowCount returns the number of live connection trackers.
func (c *Collector) FlowCount() int {
	return len(c.flows)
}

func (c *Collector) DefaultFields() []aggregate.Field {
	fields := []aggregate.Field{aggregate.FieldName}
	if c.opts.PerIP {
		fields = append(fields, aggregate.FieldIP)
	}
	return append(fields,
		aggregate.FieldPort,
		aggregate.FieldConnections,
		aggregate.FieldConnectionRate,
		aggregate.FieldActive,
		aggregate.FieldFailed,
		aggregate.FieldCloses,
		aggregate.FieldPackets,
		aggregate.FieldBytes,
		aggregate.FieldBytesRate,
		aggregate.FieldSRTP50,
		aggregate.FieldSRTP95,
		aggregate.FieldConnP95,
		aggregate.FieldGaps,
		aggregate.FieldRetransmits,
		aggregate.FieldTopClient,
	)
}

func (c *Collector) Status(q aggregate.Query) *aggregate.Status {
	if len(q.Fields) == 0 {
		q.Fields = c.DefaultFields()
	}
	return c.table.Status(q)
}

func (c *Collector) Metrics(scope metrics.Scope) []metrics.Line {
	return c.table.Metrics(Name, scope)
}

func (c *Collector) ResetMetrics(resetTotal bool) {
	c.table.Reset(resetTotal)
}

func (c *Collector) DrainMetrics(resetTotal bool) []metrics.Line {
	return c.table.DrainInterval(Name, resetTotal)
}
