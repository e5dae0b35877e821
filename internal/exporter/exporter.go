package exporter

import (
	"sort"
	"strings"

	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const namespace = "flowspectra"

// Source yields the collectors to export.
type Source interface {
	Collectors() []model.Collector
}

// Exporter implements prometheus.Collector over the lifetime metric lines
// of every collector. Metric families depend on the traffic seen, so the
// exporter is unchecked and describes nothing up front.
type Exporter struct {
	src Source
	log logrus.FieldLogger
}

// New creates an exporter reading from src.
func New(src Source, log logrus.FieldLogger) *Exporter {
	return &Exporter{src: src, log: log}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, c := range e.src.Collectors() {
		for _, l := range c.Metrics(metrics.Lifetime) {
			m, err := constMetric(l)
			if err != nil {
				e.log.WithError(err).WithField("metric", l.Name).Debug("Skipping metric")
				continue
			}
			ch <- m
		}
	}
}

// NewRegistry returns a registry holding the exporter and the Go runtime
// and process collectors.
func NewRegistry(src Source, log logrus.FieldLogger) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := registry.Register(New(src, log)); err != nil {
		return nil, err
	}
	return registry, nil
}

func constMetric(l metrics.Line) (prometheus.Metric, error) {
	tags := append([]metrics.Tag(nil), l.Tags...)
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	labels := make([]string, len(tags))
	values := make([]string, len(tags))
	for i, t := range tags {
		labels[i] = sanitize(t.Key)
		values[i] = t.Value
	}

	name := sanitize(l.Name)
	valueType := prometheus.GaugeValue
	switch l.Type {
	case metrics.Counter:
		name += "_total"
		valueType = prometheus.CounterValue
	case metrics.Timer:
		name += "_ms"
	}
	desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), "Lifetime value of "+l.Name+".", labels, nil)
	return prometheus.NewConstMetric(desc, valueType, l.Value, values...)
}

var nameReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_", " ", "_")

func sanitize(s string) string {
	return nameReplacer.Replace(s)
}
