package dns

import (
	"time"
	"unicode/utf8"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/hostname"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	"github.com/sirupsen/logrus"
)

// Name is the registered collector name.
const Name = "dns"

// Timeout is how long a query waits for its answer before it is reported
// as timed out.
const Timeout = 5 * time.Second

func init() {
	factory.RegisterCollector(Name, func(deps factory.Deps) (model.Collector, error) {
		e := deps.Config.Engine
		return New(Options{
			PerIP:      e.PerIPAggregation,
			MaxSamples: e.MaxPercentileSamples,
		}, deps.Directory, deps.Logger), nil
	})
}

// Options configures a DNS collector.
type Options struct {
	PerIP      bool
	MaxSamples int
}

// exchange is a query awaiting its response.
type exchange struct {
	key  aggregate.Key
	sent time.Time
}

// Collector correlates DNS queries and responses by transaction id and
// teaches the hostname directory the addresses it sees in answers.
type Collector struct {
	opts Options
	dir  *hostname.Directory
	log  logrus.FieldLogger

	pending  map[uint16]*exchange
	table    *aggregate.Table[*Aggregate]
	lastTick time.Time
}

func New(opts Options, dir *hostname.Directory, log logrus.FieldLogger) *Collector {
	maxSamples := opts.MaxSamples
	return &Collector{
		opts:    opts,
		dir:     dir,
		log:     log.WithField("collector", Name),
		pending: make(map[uint16]*exchange),
		table:   aggregate.NewTable(func() *Aggregate { return NewAggregate(maxSamples) }),
	}
}

func (c *Collector) Name() string { return Name }

// ProcessPacket handles one decoded DNS message.
func (c *Collector) ProcessPacket(pkt *model.PacketInfo) {
	m := pkt.DNS
	if m == nil {
		return
	}
	if m.Response {
		c.answer(pkt, m)
		return
	}

	if !utf8.ValidString(m.Name) {
		return
	}
	name := hostname.Normalize(m.Name)
	if name == "" {
		return
	}
	transport := "udp"
	if m.OverTCP {
		transport = "tcp"
	}
	key := aggregate.Key{
		Name:       name,
		ServerPort: pkt.FiveTuple.DstPort,
		QType:      m.QType,
		Transport:  transport,
	}
	if c.opts.PerIP {
		key.ServerIP = pkt.FiveTuple.DstIP
	}

	// A reused transaction id replaces the pending query without reporting it.
	c.pending[m.ID] = &exchange{key: key, sent: pkt.Timestamp}
	ev := Event{Query: true, Client: pkt.FiveTuple.SrcIP, Frame: pkt.Length}
	c.table.Apply(key, func(a *Aggregate) { a.AddFlow(ev) })
}

func (c *Collector) answer(pkt *model.PacketInfo, m *model.DNSInfo) {
	ex, ok := c.pending[m.ID]
	if !ok {
		return
	}
	delete(c.pending, m.ID)

	c.dir.Update(ex.key.Name, m.Answers...)
	ev := Event{
		Response:  true,
		Frame:     pkt.Length,
		RTT:       pkt.Timestamp.Sub(ex.sent),
		RCode:     m.RCode,
		Truncated: m.Truncated,
		Empty:     m.AnswerCount == 0,
	}
	c.table.Apply(ex.key, func(a *Aggregate) { a.AddFlow(ev) })
}

// AdvanceTick reports every query older than Timeout as timed out.
func (c *Collector) AdvanceTick(now time.Time) {
	if now.Before(c.lastTick) {
		return
	}
	c.lastTick = now
	for id, ex := range c.pending {
		if now.Sub(ex.sent) > Timeout {
			c.timeout(id, ex)
		}
	}
}

// Flush reports every pending query as timed out.
func (c *Collector) Flush() {
	n := len(c.pending)
	for id, ex := range c.pending {
		c.timeout(id, ex)
	}
	if n > 0 {
		c.log.WithField("pending", n).Debug("Pending queries flushed as timeouts")
	}
}

func (c *Collector) timeout(id uint16, ex *exchange) {
	delete(c.pending, id)
	c.table.Apply(ex.key, func(a *Aggregate) { a.AddFlow(Event{TimedOut: true}) })
}

// PendingCount returns the number of unanswered queries.
func (c *Collector) PendingCount() int {
	return len(c.pending)
}

func (c *Collector) DefaultFields() []aggregate.Field {
	fields := []aggregate.Field{aggregate.FieldName}
	if c.opts.PerIP {
		fields = append(fields, aggregate.FieldIP)
	}
	return append(fields,
		aggregate.FieldType,
		aggregate.FieldTransport,
		aggregate.FieldRequests,
		aggregate.FieldRequestRate,
		aggregate.FieldResponses,
		aggregate.FieldTimeouts,
		aggregate.FieldNXDomain,
		aggregate.FieldServFail,
		aggregate.FieldEmpty,
		aggregate.FieldSRTP50,
		aggregate.FieldSRTP95,
		aggregate.FieldSRTMax,
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
