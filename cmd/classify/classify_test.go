package classify

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/report"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var loginFrame = []byte("YMSG\x00\x10\x00\x00\x00\x00\x00\x01\x00\x00\x00\x00\x00\x00\x00\x2a")

func serializePacket(t *testing.T, udp bool, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		SrcIP: net.IPv4(192, 168, 1, 10),
		DstIP: net.IPv4(98, 136, 48, 1),
	}

	var transport gopacket.SerializableLayer
	if udp {
		ip.Protocol = layers.IPProtocolUDP
		u := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
		require.NoError(t, u.SetNetworkLayerForChecksum(ip))
		transport = u
	} else {
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort),
			Seq: 1, ACK: true, PSH: true, Window: 1024,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		transport = tcp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)))
	return buf.Bytes()
}

// writeFixture creates a capture with one YMSG login and one unrelated UDP datagram.
func writeFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, data := range [][]byte{
		serializePacket(t, false, 40000, 5050, loginFrame),
		serializePacket(t, true, 40001, 9000, []byte("not a messenger datagram")),
	} {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestClassify_JSON(t *testing.T) {
	out, err := execute(t, "-r", writeFixture(t), "--format", "json")
	require.NoError(t, err)

	var r report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, uint64(2), r.Summary.Packets)
	assert.Equal(t, 2, r.Summary.Flows)
	assert.Equal(t, 1, r.Summary.YMSGFlows)
	assert.Equal(t, uint64(1), r.Summary.YMSGPackets)
}

func TestClassify_YAML(t *testing.T) {
	out, err := execute(t, "--read-file", writeFixture(t), "--format", "yaml")
	require.NoError(t, err)

	var r report.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &r))
	assert.Equal(t, 1, r.Summary.YMSGFlows)

	var kinds []string
	for _, f := range r.Flows {
		if f.MatchKind != "" {
			kinds = append(kinds, f.MatchKind)
		}
	}
	assert.Len(t, kinds, 1)
}

func TestClassify_Text(t *testing.T) {
	out, err := execute(t, "-r", writeFixture(t))
	require.NoError(t, err)

	assert.Contains(t, out, "FLOW")
	assert.Contains(t, out, "CLASSIFICATION")
	assert.Contains(t, out, "1 YMSG flows")
}

func TestClassify_WriteFile(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "ymsg.pcap")
	_, err := execute(t, "-r", writeFixture(t), "--format", "json", "-w", dump)
	require.NoError(t, err)

	f, err := os.Open(dump)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	data, _, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(data, loginFrame))

	// The UDP datagram was not on a messenger flow
	_, _, err = r.ReadPacketData()
	assert.Error(t, err)
}

func TestClassify_InputErrors(t *testing.T) {
	_, err := execute(t, "--format", "json")
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = execute(t, "-r", "a.pcap", "-i", "eth0")
	assert.ErrorIs(t, err, ErrConflictingInput)

	_, err = execute(t, "-r", writeFixture(t), "--format", "xml")
	assert.ErrorIs(t, err, report.ErrUnknownFormat)

	_, err = execute(t, "-r", filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestLoadOptions_ConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("classify.read_file", "from-config.pcap")
	viper.Set("classify.format", "yaml")
	viper.Set("detector.ymsg.http_detection", false)
	viper.Set("detector.ymsg.video_timeout", "45s")

	cmd := NewCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--video-timeout", "10s"}))

	opts, err := loadOptions(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-config.pcap", opts.readFile)
	assert.Equal(t, report.FormatYAML, opts.format)
	assert.False(t, opts.ymsg.HTTPDetection)
	// Flags set on the command line win over the config
	assert.Equal(t, 10*time.Second, opts.ymsg.VideoTimeout)
}

func TestLoadOptions_InvalidVideoTimeout(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := NewCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-r", "x.pcap", "--video-timeout", "0s"}))

	_, err := loadOptions(cmd)
	assert.Error(t, err)
}
