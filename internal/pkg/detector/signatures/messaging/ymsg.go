// Package messaging contains signatures for instant-messaging protocols.
//
// The Yahoo Messenger signature recognizes native YMSG framing, the HTTP and HTTP-proxy
// tunneled variants used by web and mobile clients, and the LAN video side channel. It is
// a leaf signature: it keeps inspecting flows already classified as HTTP or TLS and stacks
// YMSG on top of them. Detection is stateful per flow and shares a small amount of state
// between flows through the endpoints they touch.
package messaging

import (
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
)

const (
	ProtocolYMSG = "YMSG"
	ProtocolHTTP = "HTTP"
)

// Config controls the Yahoo Messenger heuristics
type Config struct {
	// HTTPDetection enables the HTTP-tunnel heuristics
	HTTPDetection bool
	// VideoTimeout bounds how long a video marker keeps port 5100 classifiable
	VideoTimeout time.Duration
	// HostProtocols are the top-level protocols detection may continue beneath
	HostProtocols []string
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		HTTPDetection: constants.DefaultYMSGHTTPDetection,
		VideoTimeout:  constants.DefaultYMSGVideoTimeout,
		HostProtocols: append([]string(nil), constants.DefaultYMSGHostProtocols...),
	}
}

// YMSGSignature detects Yahoo Messenger traffic
type YMSGSignature struct {
	cfg Config
	tcp *TCPClassifier
}

// NewYMSGSignature creates a Yahoo Messenger signature with the default configuration
func NewYMSGSignature() *YMSGSignature {
	return NewYMSGSignatureWithConfig(DefaultConfig())
}

// NewYMSGSignatureWithConfig creates a Yahoo Messenger signature using cfg
func NewYMSGSignatureWithConfig(cfg Config) *YMSGSignature {
	return &YMSGSignature{
		cfg: cfg,
		tcp: NewTCPClassifier(cfg),
	}
}

func (y *YMSGSignature) Name() string {
	return "Yahoo Messenger Detector"
}

func (y *YMSGSignature) Protocols() []string {
	return []string{ProtocolYMSG}
}

func (y *YMSGSignature) Priority() int {
	return 145
}

func (y *YMSGSignature) Layer() signatures.LayerType {
	return signatures.LayerApplication
}

func (y *YMSGSignature) HostProtocols() []string {
	return y.cfg.HostProtocols
}

func (y *YMSGSignature) Detect(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	if len(ctx.Payload) == 0 || ctx.Flow == nil || ctx.Flow.IsExcluded(ProtocolYMSG) {
		return nil
	}

	switch ClassificationOf(ctx.Flow) {
	case Unset:
		if ctx.Retransmission {
			return nil
		}
		switch ctx.Transport {
		case signatures.TransportTCP:
			if !y.hostAllowed(ctx.Flow.TopLevel()) {
				return nil
			}
			return y.classifyTCP(ctx)
		case signatures.TransportUDP:
			classifyUDP(ctx)
		}
	case Finished:
		if ctx.Transport == signatures.TransportTCP && !ctx.Retransmission {
			return y.classifyTCP(ctx)
		}
	}
	// Tentative flows already carry the tag
	return nil
}

// hostAllowed reports whether detection may run beneath the flow's top-level protocol
func (y *YMSGSignature) hostAllowed(top string) bool {
	if top == "" {
		return true
	}
	for _, p := range y.cfg.HostProtocols {
		if p == top {
			return true
		}
	}
	return false
}

func (y *YMSGSignature) classifyTCP(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	out := y.tcp.Classify(ctx)
	if !out.Matched {
		if out.Rule == "excluded" {
			logger.Debug("YMSG excluded", "flow_id", ctx.FlowID, "packets", ctx.Flow.PacketCount, "data_packets", ctx.Flow.DataPackets)
		}
		return nil
	}

	logger.Debug("YMSG rule matched",
		"flow_id", ctx.FlowID,
		"rule", out.Rule,
		"detail", out.Detail,
		"kind", out.Kind.String())

	confidence := signatures.KindConfidence(out.Kind)
	if out.Detail == "frame-chain" || out.Detail == "single-frame" {
		confidence = signatures.ConfidenceDefinite
	}

	metadata := map[string]interface{}{
		"rule":           out.Rule,
		"kind":           out.Kind.String(),
		"classification": ClassificationOf(ctx.Flow).String(),
	}
	if out.Detail != "" {
		metadata["detail"] = out.Detail
	}
	if h, ok := ParseHeader(ctx.Payload); ok && out.Rule == "native-frame" {
		metadata["service"] = h.Service
		metadata["version"] = h.Version
		metadata["session_id"] = h.SessionID
		metadata["frames"] = CountFrames(ctx.Payload)
	}

	return &signatures.DetectionResult{
		Protocol:   ProtocolYMSG,
		Kind:       out.Kind,
		Confidence: confidence,
		Metadata:   metadata,
	}
}

// classifyUDP excludes YMSG from UDP flows; no UDP variant is recognized
func classifyUDP(ctx *signatures.DetectionContext) {
	ctx.Flow.Exclude(ProtocolYMSG)
}
