// Package report runs captured packets through a detector and summarizes the flows it
// classified.
package report

import (
	"context"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/capture"
	"github.com/endorses/ymsgcat/internal/pkg/detector"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures/messaging"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/endorses/ymsgcat/internal/pkg/version"
	"github.com/google/uuid"
)

// PacketSink receives packets that belong to YMSG flows
type PacketSink interface {
	WritePacket(pkt capture.PacketInfo) error
}

// matchKey stores the last YMSG match in the flow's metadata, so it is evicted with the flow
const matchKey = "report.ymsg_match"

// match is the last YMSG detection made on a flow
type match struct {
	kind   string
	rule   string
	detail string
}

// Collector feeds packets to a detector and summarizes what it reported per flow
type Collector struct {
	det     *detector.Detector
	runID   string
	source  string
	sink    PacketSink
	started time.Time

	packets     uint64
	ymsgPackets uint64
}

// NewCollector creates a collector for packets read from source. sink may be nil.
func NewCollector(det *detector.Detector, source string, sink PacketSink) *Collector {
	return &Collector{
		det:     det,
		runID:   uuid.NewString(),
		source:  source,
		sink:    sink,
		started: time.Now(),
	}
}

// RunID identifies this run in logs and reports
func (c *Collector) RunID() string {
	return c.runID
}

// Run consumes packets until the channel is closed or ctx is cancelled
func (c *Collector) Run(ctx context.Context, packets <-chan capture.PacketInfo) {
	log := logger.With("run_id", c.runID, "source", c.source)
	log.Info("Classification started")

	for {
		select {
		case <-ctx.Done():
			log.WithField("packets", c.packets).Info("Classification interrupted")
			return
		case pkt, ok := <-packets:
			if !ok {
				log.WithField("packets", c.packets).Info("Classification finished")
				return
			}
			c.Process(pkt)
		}
	}
}

// Process classifies one packet
func (c *Collector) Process(pkt capture.PacketInfo) {
	c.packets++

	ctx := c.det.BuildContext(pkt.Packet)
	result := c.det.DetectContext(ctx)

	if result != nil && result.Protocol == messaging.ProtocolYMSG && result.Confidence > 0 {
		m := match{kind: result.Kind.String()}
		m.rule, _ = result.Metadata["rule"].(string)
		m.detail, _ = result.Metadata["detail"].(string)
		ctx.Flow.Metadata[matchKey] = m
	}

	if !ctx.Flow.HasProtocol(messaging.ProtocolYMSG) {
		return
	}
	c.ymsgPackets++
	if c.sink != nil {
		if err := c.sink.WritePacket(pkt); err != nil {
			logger.Debug("Packet not written", "flow_id", ctx.FlowID, "error", err)
		}
	}
}

// Report summarizes every flow the detector still tracks
func (c *Collector) Report() *Report {
	flows := c.det.Flows()

	r := &Report{
		RunID:     c.runID,
		Build:     version.Get(),
		Source:    c.source,
		StartedAt: c.started.UTC(),
		Duration:  time.Since(c.started).Round(time.Millisecond).String(),
		Summary: Summary{
			Packets:     c.packets,
			YMSGPackets: c.ymsgPackets,
			Flows:       len(flows),
		},
		Flows: make([]FlowSummary, 0, len(flows)),
	}

	for _, f := range flows {
		fs := summarize(f)
		if m, ok := f.Metadata[matchKey].(match); ok {
			fs.MatchKind = m.kind
			fs.Rule = m.rule
			fs.Detail = m.detail
		}
		if f.HasProtocol(messaging.ProtocolYMSG) {
			r.Summary.YMSGFlows++
		}
		if f.IsExcluded(messaging.ProtocolYMSG) {
			r.Summary.ExcludedFlows++
		}
		r.Flows = append(r.Flows, fs)
	}
	return r
}

func summarize(f *signatures.FlowContext) FlowSummary {
	fs := FlowSummary{
		ID:        f.FlowID,
		Protocols: append([]string(nil), f.Protocols...),
		Packets:   f.PacketCount,
		FirstSeen: f.FirstSeen.UTC(),
		LastSeen:  f.LastSeen.UTC(),
		Excluded:  f.Excluded(),
	}
	if top := f.TopLevel(); top != "" {
		fs.Protocol = top
	} else {
		fs.Protocol = "unknown"
	}
	if c := messaging.ClassificationOf(f); c != messaging.Unset {
		fs.Classification = c.String()
	}
	if st := messaging.ProxyStageOf(f); st != messaging.ProxyNotStarted {
		fs.ProxyStage = st.String()
	}
	return fs
}
