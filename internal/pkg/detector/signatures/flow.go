package signatures

import (
	"net"
	"sort"
	"strconv"
	"time"
)

// FlowContext tracks state for multi-packet protocol flows.
//
// A flow is owned by one processing context at a time; its fields are not synchronized.
type FlowContext struct {
	// FlowID is the unique flow identifier (5-tuple hash)
	FlowID string

	// Timestamps
	FirstSeen time.Time
	LastSeen  time.Time

	// Protocols is the detected protocol stack. Index 0 is the top-level protocol.
	Protocols []string

	// PacketCount counts every packet seen on the flow, including the current one
	PacketCount uint64

	// DataPackets counts packets that carried payload, including the current one.
	// Handshake segments and pure ACKs are not counted.
	DataPackets uint64

	// Generic metadata storage
	Metadata map[string]interface{}

	initiator string
	states    map[string]interface{}
	excluded  map[string]struct{}

	tcpNext [2]uint32
	tcpSeen [2]bool
}

// NewFlowContext creates an empty flow context first seen at now
func NewFlowContext(flowID string, now time.Time) *FlowContext {
	return &FlowContext{
		FlowID:    flowID,
		FirstSeen: now,
		LastSeen:  now,
		Protocols: make([]string, 0, 2),
		Metadata:  make(map[string]interface{}),
		states:    make(map[string]interface{}),
		excluded:  make(map[string]struct{}),
	}
}

// TopLevel returns the most specific protocol detected so far, or "" if none
func (f *FlowContext) TopLevel() string {
	if len(f.Protocols) == 0 {
		return ""
	}
	return f.Protocols[0]
}

// HasProtocol reports whether protocol is anywhere in the stack
func (f *FlowContext) HasProtocol(protocol string) bool {
	for _, p := range f.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// AddProtocol records protocol in the stack. Leaf protocols become the new top-level;
// other protocols only become top-level on a flow with no protocol yet.
func (f *FlowContext) AddProtocol(protocol string, leaf bool) {
	if f.HasProtocol(protocol) {
		return
	}
	if leaf {
		f.Protocols = append([]string{protocol}, f.Protocols...)
		return
	}
	f.Protocols = append(f.Protocols, protocol)
}

// Exclude rules protocol out for the rest of the flow. Exclusions are never removed.
func (f *FlowContext) Exclude(protocol string) {
	f.excluded[protocol] = struct{}{}
}

// IsExcluded reports whether protocol was ruled out for this flow
func (f *FlowContext) IsExcluded(protocol string) bool {
	_, ok := f.excluded[protocol]
	return ok
}

// Excluded returns the excluded protocols in sorted order
func (f *FlowContext) Excluded() []string {
	out := make([]string, 0, len(f.excluded))
	for p := range f.excluded {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// State returns the scratch state a signature stored under key, or nil.
// Each signature uses its own key so unrelated protocols never share state.
func (f *FlowContext) State(key string) interface{} {
	return f.states[key]
}

// SetState stores signature scratch state under key
func (f *FlowContext) SetState(key string, state interface{}) {
	f.states[key] = state
}

// Direction returns 0 when the packet was sent by the flow initiator and 1 otherwise.
// The first call pins the initiator.
func (f *FlowContext) Direction(srcIP string, srcPort uint16) uint8 {
	key := net.JoinHostPort(srcIP, strconv.Itoa(int(srcPort)))
	if f.initiator == "" {
		f.initiator = key
	}
	if key == f.initiator {
		return 0
	}
	return 1
}

// TrackTCP records a TCP segment for direction dir and reports whether it is a
// retransmission, i.e. it ends at or before the highest sequence number already seen.
// Sequence comparisons are done modulo 2^32.
func (f *FlowContext) TrackTCP(dir uint8, seq uint32, payloadLen int) bool {
	if payloadLen == 0 || dir > 1 {
		return false
	}
	end := seq + uint32(payloadLen)
	if f.tcpSeen[dir] && int32(end-f.tcpNext[dir]) <= 0 {
		return true
	}
	f.tcpNext[dir] = end
	f.tcpSeen[dir] = true
	return false
}
