package tls

import (
	"net/netip"
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
const Name = "tls"

// DefaultIdleTimeout applies when Options.IdleTimeout is not positive.
const DefaultIdleTimeout = 15 * time.Second

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

// Options configures a TLS collector.
type Options struct {
	IdleTimeout time.Duration
	PerIP       bool
	MaxSamples  int
}

// handshake follows the opening of one TLS session.
type handshake struct {
	key      aggregate.Key
	client   flow.Direction
	addr     netip.Addr
	start    time.Time
	done     bool
	lastSeen time.Time
}

// Collector measures the time from ClientHello to the first handshake
// message of the server.
type Collector struct {
	opts Options
	dir  *hostname.Directory
	log  logrus.FieldLogger

	flows    map[flow.Identity]*handshake
	table    *aggregate.Table[*Aggregate]
	lastTick time.Time
}

func New(opts Options, dir *hostname.Directory, log logrus.FieldLogger) *Collector {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	maxSamples := opts.MaxSamples
	return &Collector{
		opts:  opts,
		dir:   dir,
		log:   log.WithField("collector", Name),
		flows: make(map[flow.Identity]*handshake),
		table: aggregate.NewTable(func() *Aggregate { return NewAggregate(maxSamples) }),
	}
}

func (c *Collector) Name() string { return Name }

// ProcessPacket tracks TLS handshakes carried by TCP segments. Payloads
// that are not TLS records are ignored.
func (c *Collector) ProcessPacket(pkt *model.PacketInfo) {
	if !pkt.IsTCP() {
		return
	}
	ft := pkt.FiveTuple
	id, d := flow.NewIdentity(ft.SrcIP, ft.DstIP, ft.SrcPort, ft.DstPort, true)
	hs, tracked := c.flows[id]

	var records []record
	if len(pkt.Payload) > 0 {
		records, _ = parseRecords(pkt.Payload)
	}
	ch, isHello := findClientHello(records)

	if !tracked {
		if !isHello {
			return
		}
		key, ok := c.resolve(id, d, ch.sni)
		if !ok {
			return
		}
		hs = &handshake{key: key, client: d, addr: ft.SrcIP}
		c.flows[id] = hs
	}
	hs.lastSeen = pkt.Timestamp

	ev := Event{Packet: true, Frame: pkt.Length, Client: hs.addr}
	switch {
	case isHello && d == hs.client && hs.start.IsZero():
		// Retransmitted hellos neither restart nor recount the session.
		hs.start = pkt.Timestamp
		ev.Hello = true
		ev.Domain = hostname.Normalize(ch.sni)
		ev.Ticket = ch.ticket
	case !hs.done && d != hs.client && !hs.start.IsZero():
		if r, ok := firstHandshake(records); ok {
			hs.done = true
			ev.Completed = true
			ev.Latency = pkt.Timestamp.Sub(hs.start)
			if typ, _ := r.handshakeType(); typ == typeServerHello {
				if sh, err := parseServerHello(r); err == nil {
					ev.Version = sh.version
				}
			}
		}
	}
	c.table.Apply(hs.key, func(a *Aggregate) { a.AddFlow(ev) })
}

// resolve builds the aggregation key of a handshake whose ClientHello was
// sent from position d. An unknown server learns its name from the SNI.
func (c *Collector) resolve(id flow.Identity, d flow.Direction, sni string) (aggregate.Key, bool) {
	server := int(d.Peer())
	ip := id.IP[server]
	name, ok := c.dir.Lookup(ip)
	if (!ok || name == aggregate.UnknownName) && sni != "" {
		c.dir.Update(sni, ip)
		name, ok = hostname.Normalize(sni), true
	}
	if !ok {
		return aggregate.Key{}, false
	}
	key := aggregate.Key{Name: name, ServerPort: id.Port[server]}
	if c.opts.PerIP {
		key.ServerIP = ip
	}
	return key, true
}

// findClientHello returns the first ClientHello in records. A hello cut
// short by segmentation still counts, with whatever fields were captured.
func findClientHello(records []record) (hello, bool) {
	for _, r := range records {
		if typ, ok := r.handshakeType(); ok && typ == typeClientHello {
			h, _ := parseClientHello(r)
			return h, true
		}
	}
	return hello{}, false
}

func firstHandshake(records []record) (record, bool) {
	for _, r := range records {
		if r.contentType == contentHandshake {
			return r, true
		}
	}
	return record{}, false
}

// AdvanceTick evicts idle handshakes; one that never completed is reported
// as a failure.
func (c *Collector) AdvanceTick(now time.Time) {
	if now.Before(c.lastTick) {
		return
	}
	c.lastTick = now
	for id, hs := range c.flows {
		if now.Sub(hs.lastSeen) > c.opts.IdleTimeout {
			c.evict(id, hs)
		}
	}
}

// Flush evicts every tracked session.
func (c *Collector) Flush() {
	if n := len(c.flows); n > 0 {
		c.log.WithField("sessions", n).Debug("Flushing tracked sessions")
	}
	for id, hs := range c.flows {
		c.evict(id, hs)
	}
}

func (c *Collector) evict(id flow.Identity, hs *handshake) {
	delete(c.flows, id)
	if !hs.done {
		c.table.Apply(hs.key, func(a *Aggregate) { a.AddFlow(Event{Failed: true}) })
	}
}

// FlowCount returns the number of tracked sessions.
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
		aggregate.FieldDomain,
		aggregate.FieldVersion,
		aggregate.FieldHandshakes,
		aggregate.FieldHandshakeFailures,
		aggregate.FieldTickets,
		aggregate.FieldConnP50,
		aggregate.FieldConnP95,
		aggregate.FieldConnMax,
		aggregate.FieldBytes,
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
