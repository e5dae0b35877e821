package metrics

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestLineString(t *testing.T) {
	l := Line{
		Name:  "dns.queries",
		Value: 3,
		Type:  Counter,
		Tags:  []Tag{{Key: "name", Value: "a b,c"}, {Key: "port", Value: "53"}},
	}
	assert.Equal(t, l.String(), "dns.queries:3|c|#name:a_b_c,port:53")
	assert.Equal(t, l.TagValue("port"), "53")
	assert.Equal(t, l.TagValue("ip"), "")

	assert.Equal(t, Line{Name: "tcp.srt.p50", Value: 0.25, Type: Timer}.String(), "tcp.srt.p50:0.25|ms")
}

func TestBatch(t *testing.T) {
	lines := []Line{
		{Name: "a", Value: 1, Type: Counter},
		{Name: "b", Value: 2, Type: Counter},
		{Name: strings.Repeat("x", 20), Value: 1, Type: Counter},
		{Name: "c", Value: 3, Type: Counter},
	}
	batches, dropped := Batch(lines, 11)
	assert.Equal(t, dropped, 1)
	assert.Equal(t, len(batches), 2)
	assert.Equal(t, string(batches[0]), "a:1|c\nb:2|c")
	assert.Equal(t, string(batches[1]), "c:3|c")
}

func TestBatchDefaultSize(t *testing.T) {
	batches, dropped := Batch([]Line{{Name: "a", Value: 1, Type: Gauge}}, 0)
	assert.Equal(t, dropped, 0)
	assert.Equal(t, len(batches), 1)

	batches, _ = Batch(nil, 0)
	assert.Equal(t, len(batches), 0)
}
