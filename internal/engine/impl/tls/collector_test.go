package tls

import (
	stdtls "crypto/tls"
	"net/netip"
	"testing"
	"time"

	"Go2FlowSpectra/internal/engine/aggregate"
	"Go2FlowSpectra/internal/engine/hostname"
	"Go2FlowSpectra/internal/logger"
	"Go2FlowSpectra/internal/model"

	"golang.org/x/crypto/cryptobyte"
	"gotest.tools/v3/assert"
)

var (
	clientIP = netip.MustParseAddr("10.1.0.5")
	serverIP = netip.MustParseAddr("151.101.1.69")
	base     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func handshakeRecord(msgType uint8, body func(b *cryptobyte.Builder)) []byte {
	var b cryptobyte.Builder
	b.AddUint8(contentHandshake)
	b.AddUint16(stdtls.VersionTLS10)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(msgType)
		b.AddUint24LengthPrefixed(body)
	})
	return b.BytesOrPanic()
}

func clientHello(sni string, ticket bool) []byte {
	return handshakeRecord(typeClientHello, func(b *cryptobyte.Builder) {
		b.AddUint16(stdtls.VersionTLS12)
		b.AddBytes(make([]byte, 32))
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(stdtls.TLS_AES_128_GCM_SHA256)
		})
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint8(0) })
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			if sni != "" {
				b.AddUint16(extServerName)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0)
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(sni)) })
					})
				})
			}
			if ticket {
				b.AddUint16(extSessionTicket)
				b.AddUint16(0)
			}
			b.AddUint16(extSupportedVersions)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(0x2a2a) // GREASE
					b.AddUint16(stdtls.VersionTLS13)
					b.AddUint16(stdtls.VersionTLS12)
				})
			})
		})
	})
}

func serverHello(version uint16) []byte {
	return handshakeRecord(typeServerHello, func(b *cryptobyte.Builder) {
		b.AddUint16(stdtls.VersionTLS12)
		b.AddBytes(make([]byte, 32))
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {})
		b.AddUint16(stdtls.TLS_AES_128_GCM_SHA256)
		b.AddUint8(0)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(extSupportedVersions)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(version) })
		})
	})
}

func segment(fromClient bool, at time.Duration, payload []byte) *model.PacketInfo {
	ft := model.FiveTuple{SrcIP: clientIP, DstIP: serverIP, SrcPort: 51000, DstPort: 443, Protocol: model.ProtoTCP}
	if !fromClient {
		ft = model.FiveTuple{SrcIP: serverIP, DstIP: clientIP, SrcPort: 443, DstPort: 51000, Protocol: model.ProtoTCP}
	}
	return &model.PacketInfo{
		Timestamp: base.Add(at),
		FiveTuple: ft,
		Length:    54 + len(payload),
		Payload:   payload,
		TCP:       &model.TCPInfo{ACK: true, PSH: len(payload) > 0},
	}
}

func view(t *testing.T, c *Collector, key aggregate.Key) *Aggregate {
	t.Helper()
	var got *Aggregate
	ok := c.table.View(key, func(a *Aggregate) { got = a })
	assert.Assert(t, ok, "no aggregate for %s", key)
	return got
}

func TestParseClientHello(t *testing.T) {
	records, err := parseRecords(clientHello("www.example.org", true))
	assert.NilError(t, err)
	assert.Equal(t, len(records), 1)

	h, err := parseClientHello(records[0])
	assert.NilError(t, err)
	assert.Equal(t, h.sni, "www.example.org")
	assert.Assert(t, h.ticket)
	assert.Equal(t, h.version, uint16(stdtls.VersionTLS13))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := parseRecords([]byte{0x16, 0x03})
	assert.ErrorIs(t, err, ErrShortRecord)

	_, err = parseRecords([]byte("GET / HTTP/1.1\r\n"))
	assert.ErrorIs(t, err, ErrNotTLS)

	// A hello cut inside its extensions keeps the header fields.
	full := clientHello("cut.example", false)
	records, err := parseRecords(full[:60])
	assert.NilError(t, err)
	assert.Equal(t, records[0].length, len(full)-recordHeaderLen)
	_, err = parseClientHello(records[0])
	assert.ErrorIs(t, err, ErrShortRecord)
}

func TestHandshakeLatency(t *testing.T) {
	dir := hostname.NewDirectory(false)
	c := New(Options{}, dir, logger.Discard())

	c.ProcessPacket(segment(true, 0, nil)) // not a hello, not tracked
	assert.Equal(t, c.FlowCount(), 0)

	c.ProcessPacket(segment(true, 10*time.Millisecond, clientHello("WWW.Example.org", true)))
	c.ProcessPacket(segment(false, 11*time.Millisecond, nil))
	c.ProcessPacket(segment(false, 35*time.Millisecond, serverHello(stdtls.VersionTLS13)))
	c.ProcessPacket(segment(false, 40*time.Millisecond, serverHello(stdtls.VersionTLS13)))

	// The server name was learned from the SNI.
	name, ok := dir.Lookup(serverIP)
	assert.Assert(t, ok)
	assert.Equal(t, name, "www.example.org")

	key := aggregate.Key{Name: "www.example.org", ServerPort: 443}
	a := view(t, c, key)
	assert.Equal(t, a.Handshakes.Total, uint64(1))
	assert.Equal(t, a.Completed.Total, uint64(1))
	assert.Equal(t, a.Tickets.Total, uint64(1))
	assert.Equal(t, a.Packets.Total, uint64(4))
	assert.Equal(t, a.Latency.Len(), 1)
	assert.Equal(t, a.Latency.Get(0.5), 25.0)

	st := c.Status(aggregate.Query{Fields: []aggregate.Field{
		aggregate.FieldName, aggregate.FieldDomain, aggregate.FieldVersion, aggregate.FieldHandshakes, aggregate.FieldConnMax,
	}})
	assert.DeepEqual(t, st.Rows[0].Values, []string{"www.example.org", "www.example.org", "TLS 1.3", "1", "25.0"})

	c.Flush()
	a = view(t, c, key)
	assert.Equal(t, a.Failures.Total, uint64(0))
}

func TestUnansweredHandshakeFails(t *testing.T) {
	dir := hostname.NewDirectory(false)
	dir.Update("known.example", serverIP)
	c := New(Options{IdleTimeout: time.Second}, dir, logger.Discard())

	c.ProcessPacket(segment(true, 0, clientHello("", false)))
	c.AdvanceTick(base.Add(500 * time.Millisecond))
	assert.Equal(t, c.FlowCount(), 1)

	c.AdvanceTick(base.Add(2 * time.Second))
	assert.Equal(t, c.FlowCount(), 0)
	a := view(t, c, aggregate.Key{Name: "known.example", ServerPort: 443})
	assert.Equal(t, a.Handshakes.Total, uint64(1))
	assert.Equal(t, a.Failures.Total, uint64(1))
	assert.Equal(t, a.Latency.Len(), 0)
}

func TestHelloWithoutNameIsDropped(t *testing.T) {
	c := New(Options{}, hostname.NewDirectory(false), logger.Discard())
	c.ProcessPacket(segment(true, 0, clientHello("", false)))
	assert.Equal(t, c.FlowCount(), 0)
	assert.Equal(t, c.table.Len(), 0)
}

func TestRepeatedHelloIsCountedOnce(t *testing.T) {
	dir := hostname.NewDirectory(false)
	c := New(Options{}, dir, logger.Discard())

	hello := clientHello("www.example.org", true)
	c.ProcessPacket(segment(true, 0, hello))
	c.ProcessPacket(segment(true, 5*time.Millisecond, hello)) // retransmitted before the answer
	c.ProcessPacket(segment(false, 20*time.Millisecond, serverHello(stdtls.VersionTLS13)))
	c.ProcessPacket(segment(true, 30*time.Millisecond, hello)) // retransmitted after completion
	c.ProcessPacket(segment(false, 45*time.Millisecond, serverHello(stdtls.VersionTLS13)))

	a := view(t, c, aggregate.Key{Name: "www.example.org", ServerPort: 443})
	assert.Equal(t, a.Handshakes.Total, uint64(1))
	assert.Equal(t, a.Tickets.Total, uint64(1))
	assert.Equal(t, a.Completed.Total, uint64(1))
	assert.Equal(t, a.Packets.Total, uint64(5))
	assert.Equal(t, a.Latency.Len(), 1)
	assert.Equal(t, a.Latency.Get(1), 20.0)
}
