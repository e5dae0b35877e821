package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/query"
	"Go2FlowSpectra/internal/writer"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	psnet "github.com/shirou/gopsutil/v3/net"
	"gotest.tools/v3/assert"
)

func writeDNSCapture(t *testing.T) string {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 53}}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{SrcMAC: mac, DstMAC: mac, EthernetType: layers.EthernetTypeIPv4},
		ip, udp, &layers.DNS{
			ID: 7, RD: true, QDCount: 1,
			Questions: []layers.DNSQuestion{{Name: []byte("replay.example"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
		})
	assert.NilError(t, err)

	path := filepath.Join(t.TempDir(), "dns.pcap")
	f, err := os.Create(path)
	assert.NilError(t, err)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	assert.NilError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
	assert.NilError(t, w.WritePacket(ci, data))
	return path
}

func TestReplayCommand(t *testing.T) {
	path := writeDNSCapture(t)
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"replay", path, "--collectors", "dns", "--log-level", "ERROR"})
	assert.NilError(t, root.Execute())

	got := out.String()
	assert.Assert(t, strings.Contains(got, "[dns]"), got)
	assert.Assert(t, strings.Contains(got, "replay.example"), got)
	assert.Assert(t, !strings.Contains(got, "[tcp]"), got)
}

func TestReplayRejectsUnknownCollector(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"replay", writeDNSCapture(t), "--collectors", "ftp"})
	err := root.Execute()
	assert.ErrorContains(t, err, `unknown collector "ftp"`)
}

func TestPrintInterfaces(t *testing.T) {
	ifaces := []psnet.InterfaceStat{
		{Index: 2, Name: "eth0", MTU: 1500, HardwareAddr: "02:00:00:00:00:01", Flags: []string{"up", "broadcast"},
			Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.1/24"}}},
		{Index: 1, Name: "lo", MTU: 65536, Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
	}
	var out bytes.Buffer
	assert.NilError(t, printInterfaces(&out, ifaces, false))
	assert.Equal(t, out.String(),
		"NAME  MTU   MAC                FLAGS         ADDRESSES\n"+
			"eth0  1500  02:00:00:00:00:01  up,broadcast  10.0.0.1/24\n")

	out.Reset()
	assert.NilError(t, printInterfaces(&out, ifaces, true))
	assert.Assert(t, strings.HasPrefix(strings.Split(out.String(), "\n")[1], "lo "))
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	err := printRecords(&out, []writer.Record{
		{Collector: "dns", Key: "Total", Total: true, Columns: map[string]string{"REQ": "2", "NAME": "Total"}},
	})
	assert.NilError(t, err)
	assert.Equal(t, out.String(), "dns\tTotal\tNAME=Total REQ=2\n")
}

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"name=example.org", "port=443"})
	assert.NilError(t, err)
	assert.DeepEqual(t, tags, map[string]string{"name": "example.org", "port": "443"})

	_, err = parseTags([]string{"name"})
	assert.ErrorContains(t, err, "expected key=value")
}

func TestClickhouseConfig(t *testing.T) {
	cfg := config.Default()
	_, err := clickhouseConfig(cfg)
	assert.ErrorContains(t, err, "no enabled clickhouse writer")

	cfg.Writers = append(cfg.Writers,
		config.WriterDef{Type: "clickhouse", ClickHouse: config.ClickHouseConfig{Host: "off"}},
		config.WriterDef{Type: "clickhouse", Enabled: true, ClickHouse: config.ClickHouseConfig{Host: "ch", Port: 9000}},
	)
	ch, err := clickhouseConfig(cfg)
	assert.NilError(t, err)
	assert.Equal(t, ch.Host, "ch")
}

func TestPrintTotals(t *testing.T) {
	var out bytes.Buffer
	assert.NilError(t, printTotals(&out, []query.Total{{Metric: "dns.queries", Name: "example.org", Value: 12}}))
	assert.Equal(t, out.String(), "METRIC       NAME         VALUE\ndns.queries  example.org  12\n")
}
