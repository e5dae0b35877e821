package aggregate

import (
	"fmt"
	"strconv"
	"strings"

	"Go2FlowSpectra/internal/engine/statistic"
	"Go2FlowSpectra/internal/metrics"
)

// NoValue is rendered for fields that do not apply to an aggregate.
const NoValue = "-"

// Field enumerates the columns an aggregate can render.
type Field int

const (
	FieldName Field = iota
	FieldIP
	FieldPort
	FieldType
	FieldTransport
	FieldDomain
	FieldVersion
	FieldPackets
	FieldPacketRate
	FieldBytes
	FieldBytesRate
	FieldConnections
	FieldConnectionRate
	FieldFailed
	FieldActive
	FieldCloses
	FieldGaps
	FieldRetransmits
	FieldSyn
	FieldSynAck
	FieldFin
	FieldRst
	FieldZeroWindow
	FieldMTUUp
	FieldMTUDown
	FieldRequests
	FieldRequestRate
	FieldResponses
	FieldTimeouts
	FieldTruncated
	FieldNXDomain
	FieldServFail
	FieldEmpty
	FieldHandshakes
	FieldHandshakeFailures
	FieldTickets
	FieldSRTP50
	FieldSRTP95
	FieldSRTP99
	FieldSRTMax
	FieldConnP50
	FieldConnP95
	FieldConnMax
	FieldReqSizeP50
	FieldReqSizeP95
	FieldTopClient
	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldName:              "NAME",
	FieldIP:                "IP",
	FieldPort:              "PORT",
	FieldType:              "TYPE",
	FieldTransport:         "PROTO",
	FieldDomain:            "DOMAIN",
	FieldVersion:           "VERSION",
	FieldPackets:           "PKTS",
	FieldPacketRate:        "PKTS_RATE",
	FieldBytes:             "BYTES",
	FieldBytesRate:         "BYTES_RATE",
	FieldConnections:       "CONN",
	FieldConnectionRate:    "CONN_RATE",
	FieldFailed:            "FAIL",
	FieldActive:            "ACTIVE",
	FieldCloses:            "CLOSE",
	FieldGaps:              "GAPS",
	FieldRetransmits:       "RETRANS",
	FieldSyn:               "SYN",
	FieldSynAck:            "SYNACK",
	FieldFin:               "FIN",
	FieldRst:               "RST",
	FieldZeroWindow:        "ZWIN",
	FieldMTUUp:             "MTU_UP",
	FieldMTUDown:           "MTU_DOWN",
	FieldRequests:          "REQ",
	FieldRequestRate:       "REQ_RATE",
	FieldResponses:         "RESP",
	FieldTimeouts:          "TIMEOUT",
	FieldTruncated:         "TRUNC",
	FieldNXDomain:          "NXDOMAIN",
	FieldServFail:          "SERVFAIL",
	FieldEmpty:             "EMPTY",
	FieldHandshakes:        "HS",
	FieldHandshakeFailures: "HS_FAIL",
	FieldTickets:           "TICKET",
	FieldSRTP50:            "SRT_P50",
	FieldSRTP95:            "SRT_P95",
	FieldSRTP99:            "SRT_P99",
	FieldSRTMax:            "SRT_MAX",
	FieldConnP50:           "CONN_P50",
	FieldConnP95:           "CONN_P95",
	FieldConnMax:           "CONN_MAX",
	FieldReqSizeP50:        "REQ_SIZE_P50",
	FieldReqSizeP95:        "REQ_SIZE_P95",
	FieldTopClient:         "TOP_CLIENT",
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// ParseField looks a field up by its column label, case-insensitively.
func ParseField(name string) (Field, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for f, n := range fieldNames {
		if n == upper {
			return Field(f), nil
		}
	}
	return 0, fmt.Errorf("unknown field: %s", name)
}

// AllFields returns every column in declaration order.
func AllFields() []Field {
	fields := make([]Field, fieldCount)
	for i := range fields {
		fields[i] = Field(i)
	}
	return fields
}

// ParseFields parses a comma separated list of column labels. The single
// word "all" selects every column.
func ParseFields(list string) ([]Field, error) {
	if strings.EqualFold(strings.TrimSpace(list), "all") {
		return AllFields(), nil
	}
	var fields []Field
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		f, err := ParseField(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// KeyField renders the key-derived columns shared by every aggregate.
func KeyField(k Key, f Field) (string, bool) {
	switch f {
	case FieldName:
		return k.Name, true
	case FieldIP:
		if k.total || !k.ServerIP.IsValid() {
			return NoValue, true
		}
		return k.ServerIP.String(), true
	case FieldPort:
		if k.total || k.ServerPort == 0 {
			return NoValue, true
		}
		return strconv.Itoa(int(k.ServerPort)), true
	case FieldType:
		if k.total || k.QType == 0 {
			return NoValue, true
		}
		return strconv.Itoa(int(k.QType)), true
	case FieldTransport:
		if k.total || k.Transport == "" {
			return NoValue, true
		}
		return k.Transport, true
	}
	return "", false
}

// KeyValue is the ordering key extractor for key-derived columns.
func KeyValue(k Key, f Field) (float64, bool) {
	switch f {
	case FieldPort:
		return float64(k.ServerPort), true
	case FieldType:
		return float64(k.QType), true
	}
	return 0, false
}

// FormatCount renders an unsigned counter.
func FormatCount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// FormatRate renders a per-second rate with one decimal.
func FormatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// FormatPercentile renders quantile q of p, or NoValue when p is empty.
func FormatPercentile(p *statistic.Percentile, q float64) string {
	if p == nil || p.Len() == 0 {
		return NoValue
	}
	return strconv.FormatFloat(p.Get(q), 'f', 1, 64)
}

// PercentileValue is the ordering key for quantile q of p.
func PercentileValue(p *statistic.Percentile, q float64) (float64, bool) {
	if p == nil || p.Len() == 0 {
		return 0, false
	}
	return p.Get(q), true
}

var percentileSuffixes = []struct {
	name string
	q    float64
}{{"p50", 0.5}, {"p95", 0.95}, {"p99", 0.99}, {"max", 1}}

// PercentileLines appends the p50/p95/p99/max lines of p under name. An
// empty accumulator contributes nothing.
func PercentileLines(lines []metrics.Line, name string, p *statistic.Percentile, t metrics.Type, tags []metrics.Tag) []metrics.Line {
	if p == nil || p.Len() == 0 {
		return lines
	}
	for _, s := range percentileSuffixes {
		lines = append(lines, metrics.Line{Name: name + "." + s.name, Value: p.Get(s.q), Type: t, Tags: tags})
	}
	return lines
}
