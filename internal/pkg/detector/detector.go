package detector

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	unknownAddress  = "unknown"
	unknownProtocol = "unknown"
)

// Config controls table lifetimes
type Config struct {
	FlowTTL     time.Duration
	EndpointTTL time.Duration
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		FlowTTL:     constants.DefaultFlowTTL,
		EndpointTTL: constants.DefaultEndpointTTL,
	}
}

// Detector is the central protocol detection service.
//
// Regular signatures classify a flow once, first match wins. Leaf signatures keep running
// on every packet and stack their protocol on top of what the flow already carries.
// Detect may be called concurrently for different flows; packets of one flow must be
// passed in order by a single caller.
type Detector struct {
	signatures []signatures.Signature
	leaves     []signatures.LeafSignature
	portMap    map[uint16]signatures.Signature // Port → signature fast lookup
	flows      *FlowTracker
	endpoints  *EndpointTable
	metrics    *Metrics
	mu         sync.RWMutex
}

// New creates a new protocol detector with the default configuration
func New() *Detector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new protocol detector
func NewWithConfig(cfg Config) *Detector {
	flows := NewFlowTracker(cfg.FlowTTL)
	endpoints := NewEndpointTable(cfg.EndpointTTL)
	return &Detector{
		signatures: make([]signatures.Signature, 0),
		portMap:    make(map[uint16]signatures.Signature),
		flows:      flows,
		endpoints:  endpoints,
		metrics:    newMetrics(flows, endpoints),
	}
}

// RegisterSignature registers a new protocol signature
func (d *Detector) RegisterSignature(sig signatures.Signature) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if leaf, ok := sig.(signatures.LeafSignature); ok {
		d.leaves = append(d.leaves, leaf)
		sort.SliceStable(d.leaves, func(i, j int) bool {
			return d.leaves[i].Priority() > d.leaves[j].Priority()
		})
		logger.Debug("Registered leaf signature",
			"name", sig.Name(),
			"protocols", sig.Protocols(),
			"priority", sig.Priority(),
			"hosts", leaf.HostProtocols())
		return
	}

	d.signatures = append(d.signatures, sig)

	// Sort signatures by priority (descending)
	sort.SliceStable(d.signatures, func(i, j int) bool {
		return d.signatures[i].Priority() > d.signatures[j].Priority()
	})

	var ports []uint16
	if hinter, ok := sig.(signatures.PortHinter); ok {
		ports = hinter.Ports()
	}
	for _, port := range ports {
		// First registered signature wins
		if _, exists := d.portMap[port]; !exists {
			d.portMap[port] = sig
		}
	}

	logger.Debug("Registered protocol signature",
		"name", sig.Name(),
		"protocols", sig.Protocols(),
		"priority", sig.Priority(),
		"layer", sig.Layer(),
		"ports", ports)
}

// GetSignatures returns all registered signatures, regular ones first
func (d *Detector) GetSignatures() []signatures.Signature {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sigs := make([]signatures.Signature, 0, len(d.signatures)+len(d.leaves))
	sigs = append(sigs, d.signatures...)
	for _, leaf := range d.leaves {
		sigs = append(sigs, leaf)
	}
	return sigs
}

// Detect performs protocol detection on a packet.
//
// It returns the most specific detection made on this packet. When nothing new was
// detected the result carries the flow's current top-level protocol (or "unknown") with
// zero confidence.
func (d *Detector) Detect(packet gopacket.Packet) *signatures.DetectionResult {
	return d.DetectContext(d.buildContext(packet))
}

// DetectContext runs detection on an already built context. ctx.Flow must be set.
func (d *Detector) DetectContext(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	d.mu.RLock()
	sigs := d.signatures
	leaves := d.leaves
	d.mu.RUnlock()

	d.metrics.PacketsTotal.WithLabelValues(ctx.Transport).Inc()

	var detected *signatures.DetectionResult
	if ctx.Flow.TopLevel() == "" {
		detected = d.detectRegular(ctx, sigs)
	}

	for _, leaf := range leaves {
		if excludedAll(ctx.Flow, leaf.Protocols()) {
			continue
		}
		result := leaf.Detect(ctx)
		if result != nil {
			d.record(ctx, result, true)
			detected = result
			continue
		}
		for _, p := range leaf.Protocols() {
			if ctx.Flow.IsExcluded(p) {
				d.metrics.ExclusionsTotal.WithLabelValues(p).Inc()
				logger.Debug("Protocol excluded", "flow_id", ctx.FlowID, "protocol", p)
			}
		}
	}

	if detected != nil {
		return detected
	}

	protocol := ctx.Flow.TopLevel()
	if protocol == "" {
		protocol = unknownProtocol
	}
	return &signatures.DetectionResult{
		Protocol:   protocol,
		Confidence: 0.0,
		Metadata:   make(map[string]interface{}),
	}
}

// detectRegular runs the first-match pass, trying port hints first
func (d *Detector) detectRegular(ctx *signatures.DetectionContext, sigs []signatures.Signature) *signatures.DetectionResult {
	// Fast path: well-known ports with a confident answer skip the full scan
	for _, port := range []uint16{ctx.DstPort, ctx.SrcPort} {
		if hint := d.getPortHint(port); hint != nil && !excludedAll(ctx.Flow, hint.Protocols()) {
			if result := hint.Detect(ctx); result != nil && result.Confidence >= signatures.ConfidenceHigh {
				d.record(ctx, result, false)
				return result
			}
		}
	}

	for _, sig := range sigs {
		if excludedAll(ctx.Flow, sig.Protocols()) {
			continue
		}
		if result := sig.Detect(ctx); result != nil {
			d.record(ctx, result, false)
			return result
		}
	}
	return nil
}

// record reports a detection: the flow stack, both endpoints and metrics are updated.
// DetectionsTotal counts flows, so repeated matches on one flow are not counted again.
func (d *Detector) record(ctx *signatures.DetectionContext, result *signatures.DetectionResult, leaf bool) {
	known := ctx.Flow.HasProtocol(result.Protocol)
	ctx.Flow.AddProtocol(result.Protocol, leaf)
	ctx.Src.Tag(result.Protocol)
	ctx.Dst.Tag(result.Protocol)

	if !known {
		d.metrics.DetectionsTotal.WithLabelValues(result.Protocol, result.Kind.String()).Inc()
	}

	logger.Debug("Protocol detected",
		"flow_id", ctx.FlowID,
		"protocol", result.Protocol,
		"kind", result.Kind.String(),
		"confidence", result.Confidence,
		"stack", ctx.Flow.Protocols)
}

// getPortHint returns a signature hint based on well-known port
func (d *Detector) getPortHint(port uint16) signatures.Signature {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.portMap[port]
}

func excludedAll(flow *signatures.FlowContext, protocols []string) bool {
	if len(protocols) == 0 {
		return false
	}
	for _, p := range protocols {
		if !flow.IsExcluded(p) {
			return false
		}
	}
	return true
}

// BuildContext creates a detection context from a packet, updating flow and endpoint state
func (d *Detector) BuildContext(packet gopacket.Packet) *signatures.DetectionContext {
	return d.buildContext(packet)
}

func (d *Detector) buildContext(packet gopacket.Packet) *signatures.DetectionContext {
	ctx := &signatures.DetectionContext{
		Packet:    packet,
		Transport: "unknown",
		SrcIP:     unknownAddress,
		DstIP:     unknownAddress,
	}

	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ctx.Timestamp = md.Timestamp
	} else {
		ctx.Timestamp = time.Now()
	}

	// Extract network layer info
	if netLayer := packet.NetworkLayer(); netLayer != nil {
		switch net := netLayer.(type) {
		case *layers.IPv4:
			ctx.SrcIP = net.SrcIP.String()
			ctx.DstIP = net.DstIP.String()
		case *layers.IPv6:
			ctx.SrcIP = net.SrcIP.String()
			ctx.DstIP = net.DstIP.String()
		}
	}

	// Extract transport layer info
	var tcp *layers.TCP
	if transLayer := packet.TransportLayer(); transLayer != nil {
		switch trans := transLayer.(type) {
		case *layers.TCP:
			tcp = trans
			ctx.Transport = signatures.TransportTCP
			ctx.SrcPort = uint16(trans.SrcPort)
			ctx.DstPort = uint16(trans.DstPort)
		case *layers.UDP:
			ctx.Transport = signatures.TransportUDP
			ctx.SrcPort = uint16(trans.SrcPort)
			ctx.DstPort = uint16(trans.DstPort)
		}
	}

	// Use LayerContents() so protocols decoded by gopacket keep their headers
	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		ctx.Payload = appLayer.LayerContents()
	}

	// Some decoders consume the payload; fall back to the transport payload
	if len(ctx.Payload) == 0 {
		if transLayer := packet.TransportLayer(); transLayer != nil {
			ctx.Payload = transLayer.LayerPayload()
		}
	}

	ctx.FlowID = generateFlowID(ctx.SrcIP, ctx.DstIP, ctx.SrcPort, ctx.DstPort, ctx.Transport)
	ctx.Flow = d.flows.GetOrCreate(ctx.FlowID, ctx.Timestamp)
	ctx.Flow.PacketCount++
	if len(ctx.Payload) > 0 {
		ctx.Flow.DataPackets++
	}
	ctx.Flow.LastSeen = ctx.Timestamp

	ctx.Direction = ctx.Flow.Direction(ctx.SrcIP, ctx.SrcPort)
	if tcp != nil {
		ctx.Retransmission = ctx.Flow.TrackTCP(ctx.Direction, tcp.Seq, len(ctx.Payload))
	}

	ctx.Src = d.endpoints.GetOrCreate(ctx.SrcIP)
	ctx.Dst = d.endpoints.GetOrCreate(ctx.DstIP)

	return ctx
}

// generateFlowID creates a deterministic numeric flow ID from connection 5-tuple
// Uses FNV-1a hash for fast, collision-resistant hashing without string allocations
func generateFlowID(srcIP, dstIP string, srcPort, dstPort uint16, transport string) string {
	h := fnv.New64a()

	// Normalize direction (sort IPs and ports) for bidirectional flow matching
	ip1, ip2, port1, port2 := srcIP, dstIP, srcPort, dstPort
	if srcIP > dstIP || (srcIP == dstIP && srcPort > dstPort) {
		ip1, ip2, port1, port2 = dstIP, srcIP, dstPort, srcPort
	}

	h.Write([]byte(ip1))
	h.Write([]byte{':'})
	h.Write([]byte(ip2))
	h.Write([]byte{':'})
	h.Write([]byte{byte(port1 >> 8), byte(port1)})
	h.Write([]byte{':'})
	h.Write([]byte{byte(port2 >> 8), byte(port2)})
	h.Write([]byte{':'})
	h.Write([]byte(transport))

	return fmt.Sprintf("%x", h.Sum64())
}

// Flows returns the tracked flows ordered by first packet time
func (d *Detector) Flows() []*signatures.FlowContext {
	return d.flows.Snapshot()
}

// Endpoint returns the state kept for address, or nil
func (d *Detector) Endpoint(address string) *signatures.Endpoint {
	return d.endpoints.Get(address)
}

// Metrics returns the detector's collectors
func (d *Detector) Metrics() *Metrics {
	return d.metrics
}

// GetStats returns detector statistics
func (d *Detector) GetStats() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return map[string]interface{}{
		"signatures_registered": len(d.signatures) + len(d.leaves),
		"leaf_signatures":       len(d.leaves),
		"active_flows":          d.flows.Size(),
		"active_endpoints":      d.endpoints.Size(),
	}
}

// ClearFlows clears flow and endpoint tracking data
func (d *Detector) ClearFlows() {
	d.flows.Clear()
	d.endpoints.Clear()
}

// Shutdown stops all background goroutines
func (d *Detector) Shutdown() {
	if d.flows != nil {
		d.flows.Close()
	}
	if d.endpoints != nil {
		d.endpoints.Close()
	}
}
