package aggregate

import (
	"slices"
	"sync"

	"Go2FlowSpectra/internal/metrics"
)

// Aggregate is the contract every per-protocol aggregate fulfils. A is the
// concrete pointer type itself, so merges never cross protocol families.
type Aggregate[A any] interface {
	// Merge folds other into the receiver.
	Merge(other A)
	// MergePercentiles sorts every owned accumulator. Idempotent.
	MergePercentiles()
	// Reset clears interval counters, and lifetime state when resetTotal is set.
	Reset(resetTotal bool)
	// Field renders column f for key k over a display period of seconds.
	Field(k Key, f Field, seconds float64) string
	// Value extracts the ordering key of column f.
	Value(k Key, f Field) (float64, bool)
	// Metrics returns the metric lines for k, named under prefix.
	Metrics(prefix string, k Key, scope metrics.Scope) []metrics.Line
}

// Query selects and orders the rows of a status snapshot.
type Query struct {
	Fields  []Field
	SortBy  Field
	Reverse bool
	Limit   int
	Seconds float64
}

// Row is one rendered key.
type Row struct {
	Key    Key      `json:"-"`
	Values []string `json:"values"`
}

// Status is a rendered snapshot of a table.
type Status struct {
	Header []string `json:"header"`
	Rows   []Row    `json:"rows"`
	Total  Row      `json:"total"`
}

// Table owns the aggregates of one collector. Every access goes through its
// single mutex.
type Table[A Aggregate[A]] struct {
	mu     sync.Mutex
	aggs   map[Key]A
	newAgg func() A
}

// NewTable creates an empty table; newAgg builds a zeroed aggregate.
func NewTable[A Aggregate[A]](newAgg func() A) *Table[A] {
	return &Table[A]{
		aggs:   make(map[Key]A),
		newAgg: newAgg,
	}
}

// Apply runs fn on the aggregate of key, creating it on first use.
func (t *Table[A]) Apply(key Key, fn func(A)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg, ok := t.aggs[key]
	if !ok {
		agg = t.newAgg()
		t.aggs[key] = agg
	}
	fn(agg)
}

// View runs fn on the aggregate of key if it exists.
func (t *Table[A]) View(key Key, fn func(A)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg, ok := t.aggs[key]
	if ok {
		agg.MergePercentiles()
		fn(agg)
	}
	return ok
}

// Keys returns every key in ascending order.
func (t *Table[A]) Keys() []Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedKeysLocked()
}

func (t *Table[A]) sortedKeysLocked() []Key {
	keys := make([]Key, 0, len(t.aggs))
	for k := range t.aggs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, Key.Compare)
	return keys
}

// Len returns the number of keys.
func (t *Table[A]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.aggs)
}

// Total merges every aggregate into a fresh one and hands it to fn.
func (t *Table[A]) Total(fn func(A)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.totalLocked())
}

// totalLocked merges the aggregates in key order.
func (t *Table[A]) totalLocked() A {
	total := t.newAgg()
	for _, k := range t.sortedKeysLocked() {
		total.Merge(t.aggs[k])
	}
	total.MergePercentiles()
	return total
}

// Status renders the table sorted by q.SortBy, ascending unless q.Reverse,
// with a synthetic total row.
func (t *Table[A]) Status(q Query) *Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]Key, 0, len(t.aggs))
	for k, agg := range t.aggs {
		agg.MergePercentiles()
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		return t.compareLocked(a, b, q.SortBy)
	})
	if q.Reverse {
		slices.Reverse(keys)
	}
	if q.Limit > 0 && len(keys) > q.Limit {
		keys = keys[:q.Limit]
	}

	status := &Status{
		Header: make([]string, len(q.Fields)),
		Rows:   make([]Row, 0, len(keys)),
	}
	for i, f := range q.Fields {
		status.Header[i] = f.String()
	}
	for _, k := range keys {
		status.Rows = append(status.Rows, render(k, t.aggs[k], q))
	}
	status.Total = render(TotalKey, t.totalLocked(), q)
	return status
}

func render[A Aggregate[A]](k Key, agg A, q Query) Row {
	row := Row{Key: k, Values: make([]string, len(q.Fields))}
	for i, f := range q.Fields {
		row.Values[i] = agg.Field(k, f, q.Seconds)
	}
	return row
}

// compareLocked orders two keys ascending by column f. Rows without a value
// sort first; ties fall back to key order.
func (t *Table[A]) compareLocked(a, b Key, f Field) int {
	if f == FieldName || f == FieldIP || f == FieldTransport {
		return a.Compare(b)
	}
	va, oka := t.aggs[a].Value(a, f)
	vb, okb := t.aggs[b].Value(b, f)
	switch {
	case oka && !okb:
		return 1
	case !oka && okb:
		return -1
	case oka && okb && va != vb:
		if va < vb {
			return -1
		}
		return 1
	}
	return a.Compare(b)
}

// Metrics returns the metric lines of every key, in key order.
func (t *Table[A]) Metrics(prefix string, scope metrics.Scope) []metrics.Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked(prefix, scope)
}

// DrainInterval returns the interval metric lines and resets every
// aggregate under the same lock hold, so no update falls between the read
// and the reset.
func (t *Table[A]) DrainInterval(prefix string, resetTotal bool) []metrics.Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.metricsLocked(prefix, metrics.Interval)
	for _, agg := range t.aggs {
		agg.Reset(resetTotal)
	}
	return lines
}

func (t *Table[A]) metricsLocked(prefix string, scope metrics.Scope) []metrics.Line {
	var lines []metrics.Line
	for _, k := range t.sortedKeysLocked() {
		agg := t.aggs[k]
		agg.MergePercentiles()
		lines = append(lines, agg.Metrics(prefix, k, scope)...)
	}
	return lines
}

// Reset resets every aggregate.
func (t *Table[A]) Reset(resetTotal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, agg := range t.aggs {
		agg.Reset(resetTotal)
	}
}
