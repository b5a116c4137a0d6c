package detector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the detector's Prometheus collectors. Each detector owns its registry so
// several detectors (tests, multiple captures) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// PacketsTotal counts packets handed to Detect, by transport
	PacketsTotal *prometheus.CounterVec

	// DetectionsTotal counts flows on which a protocol was first detected, by protocol and the
	// kind of that first match
	DetectionsTotal *prometheus.CounterVec

	// ExclusionsTotal counts flows on which a protocol was ruled out
	ExclusionsTotal *prometheus.CounterVec

	// ActiveFlows and ActiveEndpoints track the table sizes
	ActiveFlows     prometheus.GaugeFunc
	ActiveEndpoints prometheus.GaugeFunc
}

func newMetrics(flows *FlowTracker, endpoints *EndpointTable) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ymsgcat_detector_packets_total",
				Help: "Total number of packets inspected by the detector",
			},
			[]string{"transport"},
		),
		DetectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ymsgcat_detector_detections_total",
				Help: "Total number of flows on which a protocol was detected",
			},
			[]string{"protocol", "kind"},
		),
		ExclusionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ymsgcat_detector_exclusions_total",
				Help: "Total number of flows on which a protocol was excluded",
			},
			[]string{"protocol"},
		),
		ActiveFlows: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ymsgcat_detector_active_flows",
				Help: "Number of flows currently tracked",
			},
			func() float64 { return float64(flows.Size()) },
		),
		ActiveEndpoints: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ymsgcat_detector_active_endpoints",
				Help: "Number of endpoints currently tracked",
			},
			func() float64 { return float64(endpoints.Size()) },
		),
	}

	m.registry.MustRegister(
		m.PacketsTotal,
		m.DetectionsTotal,
		m.ExclusionsTotal,
		m.ActiveFlows,
		m.ActiveEndpoints,
	)
	return m
}

// Registry returns the registry holding the detector's collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
