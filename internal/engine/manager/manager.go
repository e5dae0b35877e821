package manager

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/hostname"
	_ "Go2FlowSpectra/internal/engine/impl/dns" // Registers the dns collector
	_ "Go2FlowSpectra/internal/engine/impl/tcp" // Registers the tcp collector
	_ "Go2FlowSpectra/internal/engine/impl/tls" // Registers the tls collector
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	"github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02_15-04-05"

// Manager feeds packets to every collector from a single ingest goroutine
// and drives the writers, the resetters and the timeout ticks.
type Manager struct {
	log        logrus.FieldLogger
	dir        *hostname.Directory
	collectors []model.Collector
	writers    []model.Writer
	exporters  []model.MetricsWriter
	live       bool

	metricsInterval time.Duration
	resetPeriod     time.Duration

	packetChannel chan *model.PacketInfo
	workerWg      sync.WaitGroup

	done          chan struct{}
	snapshotterWg sync.WaitGroup
	resetterWg    sync.WaitGroup
	stopOnce      sync.Once

	// Packet-time clock, written by the ingest goroutine.
	clockMu     sync.Mutex
	lastSecond  int64
	ticked      bool
	periodStart time.Time
	lastPacket  time.Time
}

// NewManager creates the collectors enabled in cfg. In live mode writers are
// driven by their own snapshot intervals and counters are reset
// periodically; otherwise a single snapshot is written when Stop is called.
func NewManager(cfg *config.Config, writers []model.Writer, live bool, log logrus.FieldLogger) (*Manager, error) {
	dir := hostname.NewDirectory(!cfg.Engine.HideUnknown)
	for name, ips := range cfg.Engine.Hosts {
		for _, s := range ips {
			ip, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid address %q for host %q: %w", s, name, err)
			}
			dir.Update(name, ip)
		}
	}

	collectors, err := factory.Create(factory.Deps{Config: cfg, Directory: dir, Logger: log})
	if err != nil {
		return nil, err
	}

	return &Manager{
		log:             log,
		dir:             dir,
		collectors:      collectors,
		writers:         writers,
		live:            live,
		metricsInterval: cfg.Engine.MetricsInterval.Std(),
		resetPeriod:     cfg.Engine.ResetPeriod.Std(),
		packetChannel:   make(chan *model.PacketInfo, cfg.Engine.SizeOfPacketChannel),
		done:            make(chan struct{}),
	}, nil
}

// Start begins the ingest worker and, in live mode, the snapshotters and
// resetter. Metrics writers are fed by the resetter rather than a
// snapshotter of their own.
func (m *Manager) Start() {
	if m.live {
		for _, writer := range m.writers {
			if mw, ok := writer.(model.MetricsWriter); ok {
				m.exporters = append(m.exporters, mw)
				m.log.WithField("interval", m.metricsInterval).Info("Metrics writer follows the metrics interval")
				continue
			}
			m.snapshotterWg.Add(1)
			go m.runSnapshotter(writer)
			m.log.WithField("interval", writer.GetInterval()).Info("Started snapshotter for writer")
		}

		m.resetterWg.Add(1)
		go m.runResetter()
		m.log.WithFields(logrus.Fields{
			"metrics_interval": m.metricsInterval,
			"reset_period":     m.resetPeriod,
		}).Info("Started resetter")
	}

	m.workerWg.Add(1)
	go m.worker()
	m.log.WithField("collectors", len(m.collectors)).Info("Manager started")
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer model.Writer) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		m.log.WithField("interval", interval).Warn("Invalid writer interval, snapshotter will not run")
		<-m.done
		m.write(writer)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.write(writer)
		case <-m.done:
			m.write(writer)
			return
		}
	}
}

func (m *Manager) write(writer model.Writer) {
	timestamp := time.Now().Format(timestampLayout)
	if err := writer.Write(m.Snapshot(), timestamp); err != nil {
		m.log.WithError(err).Error("Error writing snapshot")
	}
}

// runResetter drains the interval counters into the metrics writers every
// metrics interval, and also clears the lifetime state every reset period.
func (m *Manager) runResetter() {
	defer m.resetterWg.Done()
	interval := time.NewTicker(m.metricsInterval)
	defer interval.Stop()
	period := time.NewTicker(m.resetPeriod)
	defer period.Stop()

	for {
		select {
		case <-interval.C:
			m.drainMetrics(false)
		case <-period.C:
			m.drainMetrics(true)
			m.log.Debug("Lifetime counters reset")
		case <-m.done:
			m.drainMetrics(false)
			m.log.Debug("Resetter shutting down")
			return
		}
	}
}

// Reset resets every collector. A full reset also starts a new display
// period for rate computations.
func (m *Manager) Reset(resetTotal bool) {
	for _, c := range m.collectors {
		c.ResetMetrics(resetTotal)
	}
	if resetTotal {
		m.newPeriod()
	}
}

// drainMetrics collects the interval lines of every collector, resetting
// each one as it is read, and hands them to the metrics writers.
func (m *Manager) drainMetrics(resetTotal bool) {
	var lines []metrics.Line
	for _, c := range m.collectors {
		lines = append(lines, c.DrainMetrics(resetTotal)...)
	}
	if resetTotal {
		m.newPeriod()
	}
	for _, w := range m.exporters {
		if err := w.WriteMetrics(lines); err != nil {
			m.log.WithError(err).Error("Error writing metrics")
		}
	}
}

func (m *Manager) newPeriod() {
	m.clockMu.Lock()
	m.periodStart = m.lastPacket
	m.clockMu.Unlock()
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for info := range m.packetChannel {
		m.ingest(info)
	}
}

// ingest advances the packet clock, ticking every collector once per new
// second, then hands the packet to each collector.
func (m *Manager) ingest(info *model.PacketInfo) {
	sec := info.Timestamp.Unix()
	m.clockMu.Lock()
	tick := !m.ticked || sec > m.lastSecond
	if tick {
		if !m.ticked {
			m.periodStart = info.Timestamp
		}
		m.ticked = true
		m.lastSecond = sec
	}
	if info.Timestamp.After(m.lastPacket) {
		m.lastPacket = info.Timestamp
	}
	m.clockMu.Unlock()

	if tick {
		now := info.Timestamp.Truncate(time.Second)
		for _, c := range m.collectors {
			c.AdvanceTick(now)
		}
	}
	for _, c := range m.collectors {
		c.ProcessPacket(info)
	}
}

// InputChannel returns the channel packets are submitted on.
func (m *Manager) InputChannel() chan<- *model.PacketInfo {
	return m.packetChannel
}

// Elapsed returns the packet time covered by the current display period.
func (m *Manager) Elapsed() time.Duration {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	return m.lastPacket.Sub(m.periodStart)
}

// Snapshot renders every collector with its default columns.
func (m *Manager) Snapshot() []model.Snapshot {
	seconds := m.Elapsed().Seconds()
	now := time.Now()
	snapshots := make([]model.Snapshot, 0, len(m.collectors))
	for _, c := range m.collectors {
		snapshots = append(snapshots, model.Snapshot{
			Collector: c.Name(),
			Timestamp: now,
			Status:    c.Status(aggregate.Query{Seconds: seconds}),
			Metrics:   c.Metrics(metrics.Interval),
		})
	}
	return snapshots
}

// Collectors returns the collectors in configuration order.
func (m *Manager) Collectors() []model.Collector {
	return m.collectors
}

// Collector returns the collector registered under name.
func (m *Manager) Collector(name string) (model.Collector, bool) {
	for _, c := range m.collectors {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Directory returns the hostname directory shared by the collectors.
func (m *Manager) Directory() *hostname.Directory {
	return m.dir
}

// Stop drains the input channel, force-reports every pending flow and
// writes a final snapshot before closing the writers.
func (m *Manager) Stop() {
	m.stopOnce.Do(m.stop)
}

func (m *Manager) stop() {
	m.log.Info("Manager stopping...")
	close(m.packetChannel)
	m.workerWg.Wait()

	for _, c := range m.collectors {
		c.Flush()
	}

	close(m.done)
	if m.live {
		m.snapshotterWg.Wait()
		m.resetterWg.Wait()
	} else {
		for _, w := range m.writers {
			m.write(w)
		}
	}

	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			m.log.WithError(err).Warn("Error closing writer")
		}
	}
	m.log.Info("Manager stopped.")
}
