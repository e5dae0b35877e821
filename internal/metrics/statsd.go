package metrics

import (
	"bytes"
	"strconv"
	"strings"
)

// MaxDatagramSize is the largest UDP payload a statsd batch may occupy.
const MaxDatagramSize = 65507

// Type is the statsd metric type tag.
type Type string

const (
	Counter   Type = "c"
	Gauge     Type = "g"
	Timer     Type = "ms"
	Histogram Type = "h"
	Set       Type = "s"
)

// Scope selects which counter generation a metric line is built from.
type Scope int

const (
	// Interval lines carry the counters accumulated since the last interval reset.
	Interval Scope = iota
	// Lifetime lines carry the counters accumulated since the last full reset.
	Lifetime
)

// Tag is a single dimensional tag.
type Tag struct {
	Key   string
	Value string
}

// Line is one pre-formatted metric sample.
type Line struct {
	Name  string
	Value float64
	Type  Type
	Tags  []Tag
}

var tagReplacer = strings.NewReplacer(",", "_", "|", "_", "#", "_", "\n", "_", " ", "_")

// String renders the line as `metric.name:value|type|#tag1:val1,tag2:val2`.
func (l Line) String() string {
	var b strings.Builder
	b.WriteString(l.Name)
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(l.Value, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(string(l.Type))
	if len(l.Tags) > 0 {
		b.WriteString("|#")
		for i, t := range l.Tags {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(tagReplacer.Replace(t.Key))
			b.WriteByte(':')
			b.WriteString(tagReplacer.Replace(t.Value))
		}
	}
	return b.String()
}

// TagValue returns the value of the named tag, or "" when absent.
func (l Line) TagValue(key string) string {
	for _, t := range l.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// Batch packs newline separated lines into payloads of at most maxSize bytes.
// A line that alone exceeds maxSize is dropped and counted in the second
// return value.
func Batch(lines []Line, maxSize int) ([][]byte, int) {
	if maxSize <= 0 {
		maxSize = MaxDatagramSize
	}
	var batches [][]byte
	var cur bytes.Buffer
	dropped := 0
	for _, l := range lines {
		s := l.String()
		if len(s) > maxSize {
			dropped++
			continue
		}
		extra := len(s)
		if cur.Len() > 0 {
			extra++
		}
		if cur.Len()+extra > maxSize {
			batches = append(batches, bytes.Clone(cur.Bytes()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		batches = append(batches, bytes.Clone(cur.Bytes()))
	}
	return batches, dropped
}
