package detector

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// endpointAddr is one side of a test connection
type endpointAddr struct {
	ip   string
	port uint16
}

func serialize(ts time.Time, src, dst endpointAddr, transport gopacket.SerializableLayer, proto layers.IPProtocol, payload []byte) gopacket.Packet {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       1234,
		SrcIP:    net.ParseIP(src.ip).To4(),
		DstIP:    net.ParseIP(dst.ip).To4(),
		Protocol: proto,
	}

	switch l := transport.(type) {
	case *layers.TCP:
		_ = l.SetNetworkLayerForChecksum(ip)
	case *layers.UDP:
		_ = l.SetNetworkLayerForChecksum(ip)
	}

	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)); err != nil {
		panic(err)
	}

	packet := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().Timestamp = ts
	packet.Metadata().CaptureLength = len(buf.Bytes())
	packet.Metadata().Length = len(buf.Bytes())
	return packet
}

// tcpPacket builds an Ethernet/IPv4/TCP packet carrying payload
func tcpPacket(ts time.Time, src, dst endpointAddr, seq uint32, payload []byte) gopacket.Packet {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.port),
		DstPort: layers.TCPPort(dst.port),
		Seq:     seq,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}
	return serialize(ts, src, dst, tcp, layers.IPProtocolTCP, payload)
}

// udpPacket builds an Ethernet/IPv4/UDP packet carrying payload
func udpPacket(ts time.Time, src, dst endpointAddr, payload []byte) gopacket.Packet {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.port),
		DstPort: layers.UDPPort(dst.port),
	}
	return serialize(ts, src, dst, udp, layers.IPProtocolUDP, payload)
}

// tcpConn tracks sequence numbers for both directions of a test connection
type tcpConn struct {
	client, server endpointAddr
	seq            [2]uint32
	now            time.Time
}

func newTCPConn(client, server endpointAddr) *tcpConn {
	return &tcpConn{client: client, server: server, seq: [2]uint32{1000, 500000}, now: testEpoch}
}

// send builds the next in-order segment; dir 0 is client to server
func (c *tcpConn) send(dir int, payload []byte) gopacket.Packet {
	src, dst := c.client, c.server
	if dir == 1 {
		src, dst = dst, src
	}
	p := tcpPacket(c.now, src, dst, c.seq[dir], payload)
	c.seq[dir] += uint32(len(payload))
	return p
}

// ymsgFrame builds one YMSG frame with the given service and body
func ymsgFrame(service uint16, body []byte) []byte {
	b := []byte("YMSG\x00\x10\x00\x00")
	b = append(b, byte(len(body)>>8), byte(len(body)))
	b = append(b, byte(service>>8), byte(service))
	b = append(b, 0, 0, 0, 0, 0, 0, 0, 1)
	return append(b, body...)
}
