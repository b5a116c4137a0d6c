package signatures

import (
	"time"

	"github.com/google/gopacket"
)

// LayerType represents the OSI layer of a protocol
type LayerType int

const (
	LayerLink LayerType = iota
	LayerNetwork
	LayerTransport
	LayerApplication
)

// Signature defines a protocol detection rule
type Signature interface {
	// Name returns the signature name
	Name() string

	// Protocols returns the list of protocols this signature can detect
	Protocols() []string

	// Priority returns the detection priority (higher = checked first)
	Priority() int

	// Layer returns the OSI layer this signature operates on
	Layer() LayerType

	// Detect attempts to detect a protocol from the given context
	// Returns nil if the protocol is not detected
	Detect(ctx *DetectionContext) *DetectionResult
}

// LeafSignature is implemented by signatures that refine a flow already carrying a
// top-level protocol (for example an application tunneled over HTTP). The detector runs
// them on every packet after the regular first-match pass, and their results are stacked
// on top of the flow's protocol list.
type LeafSignature interface {
	Signature

	// HostProtocols returns the top-level protocols this signature may run beneath.
	HostProtocols() []string
}

// PortHinter is implemented by signatures with well-known ports. The detector tries them
// first when a packet uses one of these ports.
type PortHinter interface {
	Ports() []uint16
}

// Transport names used in DetectionContext.Transport
const (
	TransportTCP = "TCP"
	TransportUDP = "UDP"
)

// DetectionContext provides packet info and state for detection
type DetectionContext struct {
	// Packet is the full gopacket.Packet (nil when the context is built by hand)
	Packet gopacket.Packet

	// Payload is the application layer payload (if available)
	Payload []byte

	// Transport protocol ("TCP", "UDP", etc.)
	Transport string

	// Network layer information
	SrcIP string
	DstIP string

	// Transport layer information
	SrcPort uint16
	DstPort uint16

	// Direction is 0 for packets sent by the flow initiator, 1 for replies
	Direction uint8

	// Retransmission is set for TCP segments that carry no new sequence space
	Retransmission bool

	// Timestamp is the packet capture time
	Timestamp time.Time

	// Flow tracking
	FlowID string
	Flow   *FlowContext

	// Endpoints of this packet; either may be nil
	Src *Endpoint
	Dst *Endpoint

	lines     *LineInfo
	unixLines *LineInfo
}

// Lines returns the payload split into CRLF-terminated lines, parsed on first use.
func (c *DetectionContext) Lines() *LineInfo {
	if c.lines == nil {
		c.lines = ParseLines(c.Payload)
	}
	return c.lines
}

// UnixLines returns the payload split into LF-terminated lines, parsed on first use.
func (c *DetectionContext) UnixLines() *LineInfo {
	if c.unixLines == nil {
		c.unixLines = ParseUnixLines(c.Payload)
	}
	return c.unixLines
}

// MatchKind tells the host how strong a detection is
type MatchKind int

const (
	// MatchPrimary is a definitive, self-contained signature of the protocol
	MatchPrimary MatchKind = iota
	// MatchCorrelated is a contextual signature, often relying on endpoint history
	MatchCorrelated
)

func (k MatchKind) String() string {
	switch k {
	case MatchPrimary:
		return "primary"
	case MatchCorrelated:
		return "correlated"
	default:
		return "unknown"
	}
}

// DetectionResult contains the outcome of protocol detection
type DetectionResult struct {
	// Protocol name (e.g., "YMSG", "HTTP", "TLS")
	Protocol string

	// Kind distinguishes definitive from contextual matches
	Kind MatchKind

	// Confidence score (0.0 - 1.0)
	Confidence float64

	// Metadata contains protocol-specific information
	Metadata map[string]interface{}
}
