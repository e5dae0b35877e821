package aggregate

import (
	"net/netip"
	"testing"

	"Go2FlowSpectra/internal/engine/statistic"
	"Go2FlowSpectra/internal/metrics"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

// hits is a minimal aggregate: a request counter plus a latency sample.
type hits struct {
	n   Counter
	lat *statistic.Percentile
}

func newHits() *hits { return &hits{lat: statistic.NewPercentile(0)} }

func (h *hits) Merge(o *hits) {
	h.n.Merge(o.n)
	h.lat.Merge(o.lat)
}

func (h *hits) MergePercentiles() { h.lat.Finalize() }

func (h *hits) Reset(resetTotal bool) {
	h.n.Reset(resetTotal)
	if resetTotal {
		h.lat.Reset()
	}
}

func (h *hits) Field(k Key, f Field, seconds float64) string {
	if s, ok := KeyField(k, f); ok {
		return s
	}
	switch f {
	case FieldRequests:
		return FormatCount(h.n.Total)
	case FieldRequestRate:
		return FormatRate(h.n.Rate(seconds))
	case FieldSRTP50:
		return FormatPercentile(h.lat, 0.5)
	}
	return NoValue
}

func (h *hits) Value(k Key, f Field) (float64, bool) {
	if v, ok := KeyValue(k, f); ok {
		return v, true
	}
	switch f {
	case FieldRequests:
		return float64(h.n.Total), true
	case FieldSRTP50:
		return PercentileValue(h.lat, 0.5)
	}
	return 0, false
}

func (h *hits) Metrics(prefix string, k Key, scope metrics.Scope) []metrics.Line {
	lines := []metrics.Line{{Name: prefix + ".hits", Value: float64(h.n.Value(scope)), Type: metrics.Counter, Tags: k.Tags()}}
	return PercentileLines(lines, prefix+".srt", h.lat, metrics.Timer, k.Tags())
}

func fill(t *Table[*hits], k Key, n int, lat ...float64) {
	t.Apply(k, func(h *hits) {
		h.n.Add(uint64(n))
		for _, v := range lat {
			h.lat.AddPoint(v)
		}
	})
}

func newTestTable() *Table[*hits] {
	t := NewTable(newHits)
	fill(t, Key{Name: "a", ServerPort: 80}, 1, 10)
	fill(t, Key{Name: "b", ServerPort: 443}, 3, 5)
	fill(t, Key{Name: "c", ServerPort: 53}, 2)
	return t
}

func names(st *Status) []string {
	var out []string
	for _, r := range st.Rows {
		out = append(out, r.Key.Name)
	}
	return out
}

func TestTableStatus(t *testing.T) {
	table := newTestTable()
	q := Query{Fields: []Field{FieldName, FieldPort, FieldRequests, FieldRequestRate}, SortBy: FieldRequests, Seconds: 2}

	st := table.Status(q)
	assert.DeepEqual(t, st.Header, []string{"NAME", "PORT", "REQ", "REQ_RATE"})
	assert.DeepEqual(t, names(st), []string{"a", "c", "b"})
	assert.DeepEqual(t, st.Rows[2].Values, []string{"b", "443", "3", "1.5"})
	assert.DeepEqual(t, st.Total.Values, []string{"Total", "-", "6", "3.0"})
	assert.Assert(t, st.Total.Key.IsTotal())

	q.Reverse = true
	q.Limit = 2
	st = table.Status(q)
	assert.DeepEqual(t, names(st), []string{"b", "c"})
	// the total row always covers every key
	assert.Equal(t, st.Total.Values[2], "6")
}

func TestTableSortMissingValuesFirst(t *testing.T) {
	st := newTestTable().Status(Query{Fields: []Field{FieldName, FieldSRTP50}, SortBy: FieldSRTP50})
	assert.DeepEqual(t, names(st), []string{"c", "b", "a"})
	assert.DeepEqual(t, st.Rows[0].Values, []string{"c", "-"})
	assert.DeepEqual(t, st.Total.Values, []string{"Total", "10.0"})
}

func TestTableSortByName(t *testing.T) {
	st := newTestTable().Status(Query{Fields: []Field{FieldName}, SortBy: FieldName, Reverse: true})
	assert.DeepEqual(t, names(st), []string{"c", "b", "a"})
}

func TestTableResetAndMetrics(t *testing.T) {
	table := newTestTable()
	table.Reset(false)

	lines := table.Metrics("web", metrics.Interval)
	want := []string{
		"web.hits:0|c|#name:a,port:80",
		"web.srt.p50:10|ms|#name:a,port:80",
		"web.srt.p95:10|ms|#name:a,port:80",
		"web.srt.p99:10|ms|#name:a,port:80",
		"web.srt.max:10|ms|#name:a,port:80",
		"web.hits:0|c|#name:b,port:443",
		"web.srt.p50:5|ms|#name:b,port:443",
		"web.srt.p95:5|ms|#name:b,port:443",
		"web.srt.p99:5|ms|#name:b,port:443",
		"web.srt.max:5|ms|#name:b,port:443",
		"web.hits:0|c|#name:c,port:53",
	}
	var got []string
	for _, l := range lines {
		got = append(got, l.String())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}

	var lifetime uint64
	table.Total(func(h *hits) { lifetime = h.n.Total })
	assert.Equal(t, lifetime, uint64(6))

	table.Reset(true)
	table.Total(func(h *hits) { lifetime = h.n.Total })
	assert.Equal(t, lifetime, uint64(0))
	assert.Equal(t, table.Len(), 3)
}

func TestTableView(t *testing.T) {
	table := newTestTable()
	var n uint64
	assert.Assert(t, table.View(Key{Name: "b", ServerPort: 443}, func(h *hits) { n = h.n.Total }))
	assert.Equal(t, n, uint64(3))
	assert.Assert(t, !table.View(Key{Name: "z"}, func(*hits) {}))

	keys := table.Keys()
	assert.Equal(t, keys[0].Name, "a")
}

func TestCounters(t *testing.T) {
	var c Counter
	c.Add(4)
	c.Inc()
	c.Reset(false)
	assert.Equal(t, c.Value(metrics.Interval), uint64(0))
	assert.Equal(t, c.Value(metrics.Lifetime), uint64(5))
	assert.Equal(t, c.Rate(2), 2.5)
	assert.Equal(t, c.Rate(0), 0.0)

	c.Merge(Counter{Interval: 1, Total: 1})
	assert.Equal(t, c, Counter{Interval: 1, Total: 6})

	var m Max
	m.Observe(7)
	m.Reset(false)
	m.Observe(3)
	assert.Equal(t, m, Max{Interval: 3, Total: 7})

	var g Gauge
	g.Dec()
	g.Inc()
	g.Inc()
	g.Dec()
	assert.Equal(t, g.Value(), uint64(1))
}

func TestClients(t *testing.T) {
	c := Clients{}
	assert.Equal(t, c.Format(), NoValue)

	c.Add(netip.MustParseAddr("10.0.0.9"), 2)
	c.Add(netip.MustParseAddr("10.0.0.3"), 2)
	c.Add(netip.Addr{}, 10)
	assert.Equal(t, len(c), 2)
	assert.Equal(t, c.Format(), "10.0.0.3(2)")

	c.Merge(Clients{netip.MustParseAddr("10.0.0.9"): 1})
	assert.Equal(t, c.Format(), "10.0.0.9(3)")
}

func TestKey(t *testing.T) {
	k := Key{Name: "ns", ServerIP: netip.MustParseAddr("192.0.2.1"), ServerPort: 53, QType: 1, Transport: "udp"}
	assert.Equal(t, k.String(), "ns/192.0.2.1:53[1/udp]")
	assert.DeepEqual(t, k.Tags(), []metrics.Tag{
		{Key: "name", Value: "ns"},
		{Key: "ip", Value: "192.0.2.1"},
		{Key: "port", Value: "53"},
		{Key: "qtype", Value: "1"},
		{Key: "transport", Value: "udp"},
	})

	fake := Key{Name: TotalName}
	assert.Assert(t, fake != TotalKey)
	assert.Assert(t, !fake.IsTotal())
	assert.Equal(t, TotalKey.String(), "Total")
	assert.Equal(t, TotalKey.Compare(Key{Name: "zzz"}), 1)
	assert.Equal(t, Key{Name: "a", ServerPort: 80}.Compare(Key{Name: "a", ServerPort: 443}), -1)
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields("req, srt_p95,,NAME")
	assert.NilError(t, err)
	assert.DeepEqual(t, fields, []Field{FieldRequests, FieldSRTP95, FieldName})

	all, err := ParseFields(" ALL ")
	assert.NilError(t, err)
	assert.Equal(t, len(all), int(fieldCount))
	assert.Equal(t, all[len(all)-1], FieldTopClient)

	_, err = ParseFields("req,bogus")
	assert.ErrorContains(t, err, "unknown field: bogus")
	assert.Equal(t, Field(-1).String(), "Field(-1)")
}

func TestTableDrainInterval(t *testing.T) {
	table := newTestTable()
	hitsOf := func(lines []metrics.Line) []float64 {
		var out []float64
		for _, l := range lines {
			if l.Name == "web.hits" {
				out = append(out, l.Value)
			}
		}
		return out
	}

	assert.DeepEqual(t, hitsOf(table.DrainInterval("web", false)), []float64{1, 3, 2})
	fill(table, Key{Name: "a", ServerPort: 80}, 4)
	assert.DeepEqual(t, hitsOf(table.DrainInterval("web", false)), []float64{4, 0, 0})
	assert.DeepEqual(t, hitsOf(table.DrainInterval("web", false)), []float64{0, 0, 0})

	var lifetime uint64
	table.Total(func(h *hits) { lifetime = h.n.Total })
	assert.Equal(t, lifetime, uint64(10))

	table.DrainInterval("web", true)
	table.Total(func(h *hits) { lifetime = h.n.Total })
	assert.Equal(t, lifetime, uint64(0))
}

func TestTableTotalKeepsEverySample(t *testing.T) {
	table := NewTable(func() *hits { return &hits{lat: statistic.NewPercentile(2)} })
	for i, name := range []string{"a", "b", "c", "d"} {
		base := float64(10 * (i + 1))
		fill(table, Key{Name: name}, 1, base, base+1)
	}
	q := Query{Fields: []Field{FieldSRTP50}, SortBy: FieldName}
	for range 50 {
		st := table.Status(q)
		assert.DeepEqual(t, st.Total.Values, []string{"30.0"})
	}
	var n int
	table.Total(func(h *hits) { n = h.lat.Len() })
	assert.Equal(t, n, 8)
}
