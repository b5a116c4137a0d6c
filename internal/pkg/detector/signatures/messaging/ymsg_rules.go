package messaging

import (
	"bytes"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

// Classification is how far YMSG detection got on a flow. It only moves forward.
type Classification int

const (
	Unset Classification = iota
	Tentative
	Finished
)

func (c Classification) String() string {
	switch c {
	case Unset:
		return "unset"
	case Tentative:
		return "tentative"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// flowState is the YMSG scratch state stored in a flow
type flowState struct {
	classification Classification
	sipComm        bool
	proxy          ProxyHandshake
}

func (s *flowState) advance(to Classification) {
	if to > s.classification {
		s.classification = to
	}
}

// stateOf returns the YMSG state of flow, creating it on first use
func stateOf(flow *signatures.FlowContext) *flowState {
	if st, ok := flow.State(ProtocolYMSG).(*flowState); ok {
		return st
	}
	st := &flowState{}
	flow.SetState(ProtocolYMSG, st)
	return st
}

// ClassificationOf returns the YMSG classification recorded on flow
func ClassificationOf(flow *signatures.FlowContext) Classification {
	if st, ok := flow.State(ProtocolYMSG).(*flowState); ok {
		return st.classification
	}
	return Unset
}

// ProxyStageOf returns the proxy handshake stage recorded on flow
func ProxyStageOf(flow *signatures.FlowContext) ProxyStage {
	if st, ok := flow.State(ProtocolYMSG).(*flowState); ok {
		return st.proxy.Stage
	}
	return ProxyNotStarted
}

// Outcome is the result of running the TCP rules against one packet
type Outcome struct {
	Matched bool
	Kind    signatures.MatchKind
	// Rule names the rule that decided the packet, "excluded" when none did
	Rule string
	// Detail names the check inside the rule that matched, if the rule has several
	Detail string
}

type decision int

const (
	decisionNext  decision = iota // rule does not apply, try the next one
	decisionDefer                 // stop here without a match or exclusion
	decisionMatch                 // stop here with a match
)

type verdict struct {
	decision decision
	kind     signatures.MatchKind
	advance  Classification
	detail   string
}

var next = verdict{decision: decisionNext}

var deferred = verdict{decision: decisionDefer}

func primary(detail string) verdict {
	return verdict{decision: decisionMatch, kind: signatures.MatchPrimary, advance: Finished, detail: detail}
}

func correlated(detail string, advance Classification) verdict {
	return verdict{decision: decisionMatch, kind: signatures.MatchCorrelated, advance: advance, detail: detail}
}

// evaluation is the per-packet input shared by the rules
type evaluation struct {
	ctx      *signatures.DetectionContext
	state    *flowState
	src, dst *SideChannel
}

// tagged reports whether either endpoint already carries the YMSG tag
func (e *evaluation) tagged() bool {
	return e.ctx.Src.HasTag(ProtocolYMSG) || e.ctx.Dst.HasTag(ProtocolYMSG)
}

type tcpRule struct {
	name string
	eval func(*TCPClassifier, *evaluation) verdict
}

// Rules run in this order; the first one that does not return next decides the packet.
var tcpRules = []tcpRule{
	{"native-frame", (*TCPClassifier).ruleNativeFrame},
	{"finished", (*TCPClassifier).ruleFinished},
	{"bare-magic", (*TCPClassifier).ruleBareMagic},
	{"sip-suppression", (*TCPClassifier).ruleSIPSuppression},
	{"http-tunnel", (*TCPClassifier).ruleHTTPTunnel},
	{"web-chat", (*TCPClassifier).ruleWebChat},
	{"https-connect", (*TCPClassifier).ruleConnect},
	{"tag-gated", (*TCPClassifier).ruleTagGated},
	{"http-proxy", (*TCPClassifier).ruleHTTPProxy},
}

// TCPClassifier evaluates the ordered YMSG heuristics against TCP packets
type TCPClassifier struct {
	cfg Config
}

// NewTCPClassifier creates a classifier using cfg
func NewTCPClassifier(cfg Config) *TCPClassifier {
	return &TCPClassifier{cfg: cfg}
}

// Classify runs the rules against ctx. ctx.Flow must be set. When no rule decides the
// packet, YMSG is excluded for the flow.
func (c *TCPClassifier) Classify(ctx *signatures.DetectionContext) Outcome {
	st := stateOf(ctx.Flow)
	ev := &evaluation{
		ctx:   ctx,
		state: st,
		src:   SideChannelOf(ctx.Src),
		dst:   SideChannelOf(ctx.Dst),
	}

	for _, r := range tcpRules {
		v := r.eval(c, ev)
		switch v.decision {
		case decisionDefer:
			return Outcome{Rule: r.name}
		case decisionMatch:
			st.advance(v.advance)
			return Outcome{Matched: true, Kind: v.kind, Rule: r.name, Detail: v.detail}
		}
	}

	ctx.Flow.Exclude(ProtocolYMSG)
	return Outcome{Rule: "excluded"}
}

func (c *TCPClassifier) ruleNativeFrame(ev *evaluation) verdict {
	p := ev.ctx.Payload
	h, ok := ParseHeader(p)
	if !ok {
		return next
	}
	detail := "single-frame"
	if len(p)-HeaderLen != int(h.BodyLength) {
		if !ValidateChain(p) {
			return next
		}
		detail = "frame-chain"
	}
	ev.src.applyService(h.Service, true)
	ev.dst.applyService(h.Service, false)
	return primary(detail)
}

func (c *TCPClassifier) ruleFinished(ev *evaluation) verdict {
	if ev.state.classification == Finished && ev.ctx.Flow.TopLevel() == ProtocolYMSG {
		return deferred
	}
	return next
}

func (c *TCPClassifier) ruleBareMagic(ev *evaluation) verdict {
	if bytes.Equal(ev.ctx.Payload, ymsgMagic) {
		ev.state.sipComm = true
		return deferred
	}
	return next
}

func (c *TCPClassifier) ruleSIPSuppression(ev *evaluation) verdict {
	if ev.state.sipComm && ev.ctx.Flow.TopLevel() == "" && ev.ctx.Flow.DataPackets < 3 {
		return deferred
	}
	return next
}

var relayTokenPrefixes = [][]byte{
	[]byte("POST /relay?token="),
	[]byte("GET /relay?token="),
	[]byte("GET /?token="),
	[]byte("HEAD /relay?token="),
}

// Header lines 1..5 of the file-transfer POST sent by the desktop client
var messengerPostHeaders = []string{
	"Connection: Close",
	"Host: ",
	"Content-Length: ",
	"User-Agent: Mozilla/5.0",
	"Cache-Control: no-cache",
}

const (
	mobileUserAgent  = "YahooMobileMessenger/"
	desktopUserAgent = "Y!%20Messenger/"
)

func (c *TCPClassifier) ruleHTTPTunnel(ev *evaluation) verdict {
	p := ev.ctx.Payload
	if !c.cfg.HTTPDetection || len(p) <= 100 {
		return next
	}

	for _, prefix := range relayTokenPrefixes {
		if bytes.HasPrefix(p, prefix) && ev.tagged() {
			return correlated("relay-token", Tentative)
		}
	}

	if bytes.HasPrefix(p, []byte("POST ")) {
		if v := c.inspectPost(ev); v.decision != decisionNext {
			return v
		}
	}

	if bytes.HasPrefix(p, []byte("GET /Messenger.")) && ev.tagged() {
		return correlated("messenger-get", Tentative)
	}

	if bytes.HasPrefix(p, []byte("GET /")) {
		lines := ev.ctx.Lines()
		if bytes.HasPrefix(lines.UserAgent, []byte(mobileUserAgent)) ||
			bytes.HasPrefix(lines.UserAgent, []byte(desktopUserAgent)) {
			return correlated("messenger-user-agent", Tentative)
		}
		if bytes.HasSuffix(lines.Host, []byte("msg.yahoo.com")) {
			return correlated("messenger-host", Tentative)
		}
	}
	return next
}

func (c *TCPClassifier) inspectPost(ev *evaluation) verdict {
	p := ev.ctx.Payload
	lines := ev.ctx.Lines()

	if bytes.HasPrefix(lines.UserAgent, []byte(mobileUserAgent)) {
		return correlated("mobile-user-agent", Tentative)
	}

	if ev.tagged() && lines.Count() > 5 && bytes.HasPrefix(p[5:], []byte("/Messenger.")) {
		shape := true
		for i, prefix := range messengerPostHeaders {
			if !lines.LineHasPrefix(i+1, prefix) {
				shape = false
				break
			}
		}
		if shape {
			return correlated("messenger-post", Tentative)
		}
	}

	if bytes.HasPrefix(lines.Host, []byte("filetransfer.msg.yahoo.com")) {
		return correlated("filetransfer-host", Tentative)
	}

	for _, line := range lines.Lines {
		if bytes.HasPrefix(line, ymsgMagic) {
			return correlated("embedded-frame", Tentative)
		}
	}

	if lines.Count() > 8 && isSessionDocument(lines.Line(8), 250) {
		return correlated("session-line", Tentative)
	}
	return next
}

func (c *TCPClassifier) ruleWebChat(ev *evaluation) verdict {
	p := ev.ctx.Payload
	if len(p) <= 50 || !bytes.HasPrefix(p, []byte("content-length: ")) {
		return next
	}
	lines := ev.ctx.Lines()
	if lines.Count() > 2 && len(lines.Line(1)) == 0 && lines.LineHasPrefix(2, "<Ymsg Command=") {
		return primary("web-chat")
	}
	return next
}

var connectLiteral = []byte("CONNECT scs.msg.yahoo.com:5050 HTTP/1.")

func (c *TCPClassifier) ruleConnect(ev *evaluation) verdict {
	p := ev.ctx.Payload
	if len(p) > len(connectLiteral) && bytes.HasPrefix(p, connectLiteral) {
		return correlated("connect-scs", Tentative)
	}
	return next
}

const videoPort = 5100

var (
	yahooGreeting = []byte("YAHOO!")
	sendImage     = []byte("<SNDIMG>")
	videoMarkers  = [][]byte{sendImage, []byte("<REQIMG>"), []byte("<RVWCFG>"), []byte("<RUPCFG>")}
)

func (c *TCPClassifier) ruleTagGated(ev *evaluation) verdict {
	if !ev.tagged() {
		return next
	}
	p := ev.ctx.Payload

	if bytes.Equal(p, yahooGreeting) {
		return primary("greeting")
	}

	if len(p) == 8 {
		for _, marker := range videoMarkers {
			if bytes.Equal(p, marker) {
				direction := !bytes.Equal(p, sendImage)
				ev.src.markVideo(direction, ev.ctx.Timestamp)
				ev.dst.markVideo(direction, ev.ctx.Timestamp)
				return primary("video-marker")
			}
		}
	}

	if ev.ctx.DstPort == videoPort {
		if ev.src.videoActive(ev.ctx.Timestamp, c.cfg.VideoTimeout, true) ||
			ev.dst.videoActive(ev.ctx.Timestamp, c.cfg.VideoTimeout, false) {
			return primary("video-lan")
		}
	}
	return next
}

func (c *TCPClassifier) ruleHTTPProxy(ev *evaluation) verdict {
	if ev.ctx.Flow.TopLevel() != ProtocolHTTP {
		return next
	}
	if ok, detail := ev.state.proxy.Step(ev.ctx); ok {
		return correlated(detail, Finished)
	}
	return deferred
}
