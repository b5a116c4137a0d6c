package messaging

import (
	"strings"
	"testing"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// conversation drives one flow between a client and a server endpoint and records
// results the way the detector does.
type conversation struct {
	sig            *YMSGSignature
	flow           *signatures.FlowContext
	client, server *signatures.Endpoint
	clientPort     uint16
	serverPort     uint16
	transport      string
	now            time.Time
}

func newConversation(sig *YMSGSignature, client, server *signatures.Endpoint, serverPort uint16) *conversation {
	return &conversation{
		sig:        sig,
		flow:       signatures.NewFlowContext("flow-"+client.Address+"-"+server.Address, baseTime),
		client:     client,
		server:     server,
		clientPort: 40000,
		serverPort: serverPort,
		transport:  signatures.TransportTCP,
		now:        baseTime,
	}
}

func newDefaultConversation() *conversation {
	return newConversation(NewYMSGSignature(),
		signatures.NewEndpoint("192.168.1.10"), signatures.NewEndpoint("98.136.48.1"), 5050)
}

func (c *conversation) context(payload []byte, dir uint8) *signatures.DetectionContext {
	c.flow.PacketCount++
	if len(payload) > 0 {
		c.flow.DataPackets++
	}
	ctx := &signatures.DetectionContext{
		Payload:   payload,
		Transport: c.transport,
		Direction: dir,
		Timestamp: c.now,
		FlowID:    c.flow.FlowID,
		Flow:      c.flow,
		SrcIP:     c.client.Address,
		DstIP:     c.server.Address,
		SrcPort:   c.clientPort,
		DstPort:   c.serverPort,
		Src:       c.client,
		Dst:       c.server,
	}
	if dir == 1 {
		ctx.SrcIP, ctx.DstIP = ctx.DstIP, ctx.SrcIP
		ctx.SrcPort, ctx.DstPort = ctx.DstPort, ctx.SrcPort
		ctx.Src, ctx.Dst = ctx.Dst, ctx.Src
	}
	return ctx
}

func (c *conversation) record(ctx *signatures.DetectionContext, result *signatures.DetectionResult) {
	if result == nil {
		return
	}
	c.flow.AddProtocol(result.Protocol, true)
	ctx.Src.Tag(result.Protocol)
	ctx.Dst.Tag(result.Protocol)
}

// send runs the signature on one packet from the client (dir 0) or server (dir 1)
func (c *conversation) send(payload string, dir uint8) *signatures.DetectionResult {
	ctx := c.context([]byte(payload), dir)
	result := c.sig.Detect(ctx)
	c.record(ctx, result)
	return result
}

func tagBoth(c *conversation) {
	c.client.Tag(ProtocolYMSG)
	c.server.Tag(ProtocolYMSG)
}

func padTo(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("x", n-len(s))
}

func TestYMSGSignature_Metadata(t *testing.T) {
	sig := NewYMSGSignature()
	assert.Equal(t, "Yahoo Messenger Detector", sig.Name())
	assert.Equal(t, []string{"YMSG"}, sig.Protocols())
	assert.Equal(t, 145, sig.Priority())
	assert.Equal(t, signatures.LayerApplication, sig.Layer())
	assert.Equal(t, []string{"HTTP", "TLS"}, sig.HostProtocols())

	var _ signatures.LeafSignature = sig
}

func TestDetect_NativeFrame(t *testing.T) {
	c := newDefaultConversation()

	// 24-byte frame: header with body_length 4, followed by 4 body bytes
	result := c.send(string(frame(0, []byte{1, 2, 3, 4})), 0)
	require.NotNil(t, result)
	assert.Equal(t, ProtocolYMSG, result.Protocol)
	assert.Equal(t, signatures.MatchPrimary, result.Kind)
	assert.Equal(t, signatures.ConfidenceDefinite, result.Confidence)
	assert.Equal(t, "native-frame", result.Metadata["rule"])
	assert.Equal(t, "single-frame", result.Metadata["detail"])
	assert.Equal(t, 1, result.Metadata["frames"])
	assert.Equal(t, Finished, ClassificationOf(c.flow))
	assert.Equal(t, "YMSG", c.flow.TopLevel())
	assert.True(t, c.client.HasTag(ProtocolYMSG))
}

func TestDetect_FrameChain(t *testing.T) {
	c := newDefaultConversation()
	chain := append(frame(1, []byte("abc")), frame(2, []byte("defgh"))...)

	result := c.send(string(chain), 1)
	require.NotNil(t, result)
	assert.Equal(t, "frame-chain", result.Metadata["detail"])
	assert.Equal(t, 2, result.Metadata["frames"])
}

func TestDetect_LoginServicesUpdateEndpoints(t *testing.T) {
	c := newDefaultConversation()

	require.NotNil(t, c.send(string(frame(24, []byte("conf"))), 0))
	assert.True(t, SideChannelOf(c.client).Snapshot().ConferenceLoggedIn)
	assert.True(t, SideChannelOf(c.server).Snapshot().ConferenceLoggedIn)

	// logoff from the server side clears only the server's flags
	require.NotNil(t, c.send(string(frame(27, nil)), 1))
	assert.True(t, SideChannelOf(c.client).Snapshot().ConferenceLoggedIn)
	assert.False(t, SideChannelOf(c.server).Snapshot().ConferenceLoggedIn)
}

func TestDetect_FinishedFastPath(t *testing.T) {
	c := newDefaultConversation()
	require.NotNil(t, c.send(string(frame(1, nil)), 0))

	assert.Nil(t, c.send("arbitrary follow-up data", 1))
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG), "finished flows are not excluded")

	// native frames keep matching on a finished flow
	assert.NotNil(t, c.send(string(frame(2, nil)), 0))
}

func TestDetect_NoMatchExcludes(t *testing.T) {
	c := newDefaultConversation()
	assert.Nil(t, c.send("SSH-2.0-OpenSSH_9.0\r\n", 0))
	assert.True(t, c.flow.IsExcluded(ProtocolYMSG))

	// exclusion is final, even for a valid frame
	assert.Nil(t, c.send(string(frame(1, nil)), 0))
	assert.Equal(t, "", c.flow.TopLevel())
}

func TestDetect_EmptyPayloadAndRetransmission(t *testing.T) {
	c := newDefaultConversation()
	assert.Nil(t, c.send("", 0))

	ctx := c.context(frame(1, nil), 0)
	ctx.Retransmission = true
	assert.Nil(t, c.sig.Detect(ctx))
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG))
	assert.Equal(t, Unset, ClassificationOf(c.flow))
}

func TestDetect_UDPExcluded(t *testing.T) {
	c := newDefaultConversation()
	c.transport = signatures.TransportUDP
	assert.Nil(t, c.send(string(frame(1, nil)), 0))
	assert.True(t, c.flow.IsExcluded(ProtocolYMSG))
}

func TestDetect_HostProtocolGate(t *testing.T) {
	c := newDefaultConversation()
	c.flow.AddProtocol("SSH", false)
	assert.Nil(t, c.send(string(frame(1, nil)), 0), "SSH is not a host protocol")
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG))

	h := newDefaultConversation()
	h.flow.AddProtocol("TLS", false)
	result := h.send(string(frame(1, nil)), 0)
	require.NotNil(t, result)
	assert.Equal(t, []string{"YMSG", "TLS"}, h.flow.Protocols)
}

func TestDetect_BareMagicSuppressesEarlyPackets(t *testing.T) {
	c := newDefaultConversation()
	connect := padTo("CONNECT scs.msg.yahoo.com:5050 HTTP/1.0\r\n", 60)

	assert.Nil(t, c.send("YMSG", 0))
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG))

	assert.Nil(t, c.send(connect, 0), "packet 2 is suppressed")
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG))

	result := c.send(connect, 0)
	require.NotNil(t, result, "suppression ends with the third packet")
	assert.Equal(t, "https-connect", result.Metadata["rule"])
}

func TestDetect_Connect(t *testing.T) {
	c := newDefaultConversation()
	result := c.send("CONNECT scs.msg.yahoo.com:5050 HTTP/1.1\r\n\r\n", 0)
	require.NotNil(t, result)
	assert.Equal(t, signatures.MatchCorrelated, result.Kind)
	assert.Equal(t, Tentative, ClassificationOf(c.flow))

	// tentative flows are left alone
	assert.Nil(t, c.send(string(frame(1, nil)), 1))
	assert.Equal(t, Tentative, ClassificationOf(c.flow))

	short := newDefaultConversation()
	assert.Nil(t, short.send("CONNECT scs.msg.yahoo.com:5050 HTTP/1.", 0), "literal alone is too short")
}

func TestDetect_WebChat(t *testing.T) {
	c := newDefaultConversation()
	payload := "content-length: 120\r\n\r\n<Ymsg Command=\"6\" Status=\"1\"><Data/></Ymsg>"
	result := c.send(payload, 1)
	require.NotNil(t, result)
	assert.Equal(t, signatures.MatchPrimary, result.Kind)
	assert.Equal(t, "web-chat", result.Metadata["rule"])
	assert.Equal(t, Finished, ClassificationOf(c.flow))
}

func TestDetect_HTTPTunnel(t *testing.T) {
	messengerPost := "POST /Messenger.Notify HTTP/1.1\r\n" +
		"Connection: Close\r\n" +
		"Host: 10.0.0.5\r\n" +
		"Content-Length: 20\r\n" +
		"User-Agent: Mozilla/5.0 (compatible)\r\n" +
		"Cache-Control: no-cache\r\n\r\n"

	tests := []struct {
		name    string
		payload string
		tagged  bool
		detail  string
	}{
		{"relay token tagged", padTo("POST /relay?token=abc HTTP/1.1\r\n", 120), true, "relay-token"},
		{"relay token untagged", padTo("GET /relay?token=abc HTTP/1.1\r\n", 120), false, ""},
		{"head relay", padTo("HEAD /relay?token=abc HTTP/1.1\r\n", 120), true, "relay-token"},
		{"mobile post", padTo("POST /x HTTP/1.1\r\nUser-Agent: YahooMobileMessenger/1.0\r\n", 120), false, "mobile-user-agent"},
		{"messenger post tagged", padTo(messengerPost, 120), true, "messenger-post"},
		{"messenger post untagged", padTo(messengerPost, 120), false, ""},
		{"filetransfer host", padTo("POST /upload HTTP/1.1\r\nHost: filetransfer.msg.yahoo.com.example\r\n", 120), false, "filetransfer-host"},
		{"embedded frame line", padTo("POST /notify HTTP/1.1\r\nContent-Length: 40\r\n\r\nYMSG", 120), false, "embedded-frame"},
		{"session line", "POST /chat HTTP/1.1\r\n" + strings.Repeat("X-A: b\r\n", 7) + sessionDocument(300) + "\r\n", false, "session-line"},
		{"get messenger tagged", padTo("GET /Messenger.Version HTTP/1.1\r\n", 120), true, "messenger-get"},
		{"get mobile agent", padTo("GET /login HTTP/1.1\r\nUser-Agent: YahooMobileMessenger/2.1\r\n", 120), false, "messenger-user-agent"},
		{"get desktop agent", padTo("GET /login HTTP/1.1\r\nUser-Agent: Y!%20Messenger/8.1\r\n", 120), false, "messenger-user-agent"},
		{"get messenger host", padTo("GET /login HTTP/1.1\r\nHost: scs.msg.yahoo.com\r\n", 120), false, "messenger-host"},
		{"get other host", padTo("GET /login HTTP/1.1\r\nHost: www.example.com\r\n", 120), false, ""},
		{"too short", "GET /login HTTP/1.1\r\nUser-Agent: Y!%20Messenger/8.1\r\n\r\n", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newDefaultConversation()
			if tt.tagged {
				tagBoth(c)
			}
			result := c.send(tt.payload, 0)
			if tt.detail == "" {
				assert.Nil(t, result)
				assert.True(t, c.flow.IsExcluded(ProtocolYMSG))
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, signatures.MatchCorrelated, result.Kind)
			assert.Equal(t, "http-tunnel", result.Metadata["rule"])
			assert.Equal(t, tt.detail, result.Metadata["detail"])
			assert.Equal(t, Tentative, ClassificationOf(c.flow))
		})
	}
}

func TestDetect_HTTPTunnelDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPDetection = false
	c := newConversation(NewYMSGSignatureWithConfig(cfg),
		signatures.NewEndpoint("192.168.1.10"), signatures.NewEndpoint("98.136.48.1"), 80)

	assert.Nil(t, c.send(padTo("GET /login HTTP/1.1\r\nHost: scs.msg.yahoo.com\r\n", 120), 0))
	assert.True(t, c.flow.IsExcluded(ProtocolYMSG))
}

func TestDetect_Greeting(t *testing.T) {
	untagged := newDefaultConversation()
	assert.Nil(t, untagged.send("YAHOO!", 0))
	assert.True(t, untagged.flow.IsExcluded(ProtocolYMSG))

	c := newDefaultConversation()
	c.client.Tag(ProtocolYMSG)
	result := c.send("YAHOO!", 0)
	require.NotNil(t, result)
	assert.Equal(t, signatures.MatchPrimary, result.Kind)
	assert.Equal(t, "greeting", result.Metadata["detail"])
	assert.Equal(t, Finished, ClassificationOf(c.flow))
}

func TestDetect_VideoSideChannel(t *testing.T) {
	client := signatures.NewEndpoint("192.168.1.10")
	peer := signatures.NewEndpoint("192.168.1.20")
	sig := NewYMSGSignature()

	control := newConversation(sig, client, peer, 5050)
	tagBoth(control)
	result := control.send("<SNDIMG>", 0)
	require.NotNil(t, result)
	assert.Equal(t, signatures.MatchPrimary, result.Kind)
	assert.Equal(t, "video-marker", result.Metadata["detail"])

	snap := SideChannelOf(client).Snapshot()
	assert.False(t, snap.VideoDirection)
	assert.Equal(t, baseTime, snap.VideoLastSeen)

	// a new flow to the video port within the timeout
	video := newConversation(sig, client, peer, videoPort)
	video.clientPort = 41000
	video.now = baseTime.Add(10 * time.Second)
	result = video.send("\x00\x01binary-video-data", 0)
	require.NotNil(t, result)
	assert.Equal(t, "video-lan", result.Metadata["detail"])

	// the same sequence after the timeout does not match
	late := newConversation(sig, client, peer, videoPort)
	late.clientPort = 42000
	late.now = baseTime.Add(DefaultConfig().VideoTimeout)
	assert.Nil(t, late.send("\x00\x01binary-video-data", 0))
	assert.True(t, late.flow.IsExcluded(ProtocolYMSG))
}

func TestDetect_VideoSourceDirection(t *testing.T) {
	client := signatures.NewEndpoint("192.168.1.10")
	peer := signatures.NewEndpoint("192.168.1.20")
	sig := NewYMSGSignature()

	control := newConversation(sig, client, peer, 5050)
	tagBoth(control)
	require.NotNil(t, control.send("<REQIMG>", 0))
	assert.True(t, SideChannelOf(peer).Snapshot().VideoDirection)

	// REQIMG sets direction true, so only the source side qualifies
	video := newConversation(sig, client, peer, videoPort)
	video.now = baseTime.Add(time.Second)
	result := video.send("frame", 0)
	require.NotNil(t, result)
	assert.Equal(t, "video-lan", result.Metadata["detail"])
}

func TestDetect_HTTPProxyReply(t *testing.T) {
	c := newDefaultConversation()
	c.flow.AddProtocol("HTTP", false)

	assert.Nil(t, c.send("POST /proxy HTTP/1.1\r\n\r\n", 0))
	assert.Equal(t, ProxyWaitingDirection, ProxyStageOf(c.flow))
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG))

	result := c.send(proxyReply(), 1)
	require.NotNil(t, result)
	assert.Equal(t, signatures.MatchCorrelated, result.Kind)
	assert.Equal(t, "http-proxy", result.Metadata["rule"])
	assert.Equal(t, "proxy-reply", result.Metadata["detail"])
	assert.Equal(t, Finished, ClassificationOf(c.flow))
	assert.Equal(t, []string{"YMSG", "HTTP"}, c.flow.Protocols)
}

func TestDetect_HTTPProxySession(t *testing.T) {
	c := newDefaultConversation()
	c.flow.AddProtocol("HTTP", false)

	assert.Nil(t, c.send("GET /proxy HTTP/1.1\r\n\r\n", 0))

	result := c.send(sessionDocument(260), 0)
	require.NotNil(t, result)
	assert.Equal(t, "proxy-session", result.Metadata["detail"])
}

func TestDetect_HTTPProxyFailedReplyStaysEligible(t *testing.T) {
	c := newDefaultConversation()
	c.flow.AddProtocol("HTTP", false)

	assert.Nil(t, c.send("GET / HTTP/1.1\r\n\r\n", 0))
	assert.Nil(t, c.send("HTTP/1.1 404 Not Found\r\n\r\n", 1))
	assert.Equal(t, ProxyWaitingReply, ProxyStageOf(c.flow))
	assert.False(t, c.flow.IsExcluded(ProtocolYMSG))

	assert.NotNil(t, c.send(proxyReply(), 1))
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "unset", Unset.String())
	assert.Equal(t, "tentative", Tentative.String())
	assert.Equal(t, "finished", Finished.String())
	assert.Equal(t, "unknown", Classification(9).String())
}

func FuzzYMSGDetect(f *testing.F) {
	f.Add([]byte("YMSG"), uint8(0), true)
	f.Add(frame(24, []byte("x")), uint8(1), false)
	f.Add([]byte("<SNDIMG>"), uint8(0), true)
	f.Add([]byte(proxyReply()), uint8(1), true)

	f.Fuzz(func(t *testing.T, payload []byte, dir uint8, http bool) {
		c := newDefaultConversation()
		tagBoth(c)
		if http {
			c.flow.AddProtocol("HTTP", false)
		}
		for i := 0; i < 3; i++ {
			ctx := c.context(payload, dir%2)
			result := c.sig.Detect(ctx)
			c.record(ctx, result)
			if c.flow.IsExcluded(ProtocolYMSG) {
				assert.Nil(t, c.sig.Detect(c.context(payload, dir%2)))
			}
		}
	})
}
