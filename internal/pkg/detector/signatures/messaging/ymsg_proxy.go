package messaging

import (
	"bytes"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

// ProxyStage is the progress of the HTTP-proxy handshake on one flow
type ProxyStage int

const (
	// ProxyNotStarted means no packet was inspected yet
	ProxyNotStarted ProxyStage = iota
	// ProxyWaitingDirection means the first direction is pinned and more data is expected
	ProxyWaitingDirection
	// ProxyWaitingReply means a packet from the opposite direction has been seen
	ProxyWaitingReply
)

func (s ProxyStage) String() string {
	switch s {
	case ProxyNotStarted:
		return "not-started"
	case ProxyWaitingDirection:
		return "waiting-direction"
	case ProxyWaitingReply:
		return "waiting-reply"
	default:
		return "unknown"
	}
}

var (
	sessionPrefix = []byte("<Session ")
	ymsgCommand   = []byte("Ymsg Command=")
)

// ProxyHandshake recognizes YMSG carried through a generic HTTP proxy: a session document
// sent in the pinned direction, or a reply whose unix lines 4 and 8 open the session and
// the YMSG command.
type ProxyHandshake struct {
	Stage     ProxyStage
	Direction uint8
}

// Step feeds one packet to the handshake and reports whether it completed, with the name
// of the matching check.
func (p *ProxyHandshake) Step(ctx *signatures.DetectionContext) (bool, string) {
	if p.Stage == ProxyNotStarted {
		p.Stage = ProxyWaitingDirection
		p.Direction = ctx.Direction
		return false, ""
	}

	if ctx.Direction == p.Direction {
		if isSessionDocument(ctx.Payload, 250) {
			return true, "proxy-session"
		}
		return false, ""
	}

	p.Stage = ProxyWaitingReply
	lines := ctx.UnixLines()
	if lines.Count() >= 9 &&
		lines.LineHasPrefix(4, "<Session ") &&
		lines.LineHasPrefix(8, "<Ymsg ") {
		return true, "proxy-reply"
	}
	return false, ""
}

// isSessionDocument reports whether b is longer than minLen, opens a <Session element and
// carries a YMSG command attribute.
func isSessionDocument(b []byte, minLen int) bool {
	return len(b) > minLen &&
		bytes.HasPrefix(b, sessionPrefix) &&
		bytes.Contains(b, ymsgCommand)
}
