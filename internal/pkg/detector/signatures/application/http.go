package application

import (
	"bytes"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

var httpPorts = []uint16{80, 8080}

// HTTPSignature detects HTTP/1.x requests and responses
type HTTPSignature struct {
	methods        [][]byte
	statusPrefixes [][]byte
}

// NewHTTPSignature creates a new HTTP signature detector
func NewHTTPSignature() *HTTPSignature {
	return &HTTPSignature{
		methods: [][]byte{
			[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "),
			[]byte("HEAD "), []byte("OPTIONS "), []byte("PATCH "), []byte("TRACE "),
			[]byte("CONNECT "),
		},
		statusPrefixes: [][]byte{
			[]byte("HTTP/1.0 "), []byte("HTTP/1.1 "),
		},
	}
}

func (h *HTTPSignature) Name() string {
	return "HTTP Detector"
}

func (h *HTTPSignature) Protocols() []string {
	return []string{"HTTP"}
}

func (h *HTTPSignature) Priority() int {
	return 80 // High priority for common protocol
}

func (h *HTTPSignature) Layer() signatures.LayerType {
	return signatures.LayerApplication
}

func (h *HTTPSignature) Ports() []uint16 {
	return httpPorts
}

func (h *HTTPSignature) Detect(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	if len(ctx.Payload) < 16 {
		return nil
	}

	for _, method := range h.methods {
		if bytes.HasPrefix(ctx.Payload, method) {
			return h.detectRequest(ctx)
		}
	}

	for _, prefix := range h.statusPrefixes {
		if bytes.HasPrefix(ctx.Payload, prefix) {
			return h.detectResponse(ctx)
		}
	}

	return nil
}

func (h *HTTPSignature) detectRequest(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	lines := ctx.Lines()
	if lines.Count() == 0 {
		return nil
	}

	// Request line: METHOD /path HTTP/version
	parts := bytes.SplitN(lines.Line(0), []byte(" "), 3)
	if len(parts) < 3 || !bytes.HasPrefix(parts[2], []byte("HTTP/")) {
		return nil
	}

	metadata := map[string]interface{}{
		"type":    "request",
		"method":  string(parts[0]),
		"path":    string(parts[1]),
		"version": string(parts[2]),
	}

	indicators := []signatures.Indicator{
		{Name: "method", Weight: 0.4, Confidence: 1.0},
		{Name: "version", Weight: 0.3, Confidence: 1.0},
	}

	if lines.Host != nil {
		metadata["host"] = string(lines.Host)
		indicators = append(indicators, signatures.Indicator{
			Name: "host_header", Weight: 0.3, Confidence: 1.0,
		})
	}
	if lines.UserAgent != nil {
		metadata["user_agent"] = string(lines.UserAgent)
	}

	return h.result(ctx, indicators, metadata)
}

func (h *HTTPSignature) detectResponse(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	lines := ctx.Lines()
	if lines.Count() == 0 {
		return nil
	}

	// Status line: HTTP/version status_code reason
	parts := bytes.SplitN(lines.Line(0), []byte(" "), 3)
	if len(parts) < 2 || len(parts[1]) != 3 {
		return nil
	}

	metadata := map[string]interface{}{
		"type":        "response",
		"version":     string(parts[0]),
		"status_code": string(parts[1]),
	}
	if len(parts) == 3 && len(parts[2]) > 0 {
		metadata["reason"] = string(parts[2])
	}

	indicators := []signatures.Indicator{
		{Name: "version", Weight: 0.5, Confidence: 1.0},
		{Name: "status_code", Weight: 0.5, Confidence: 1.0},
	}

	return h.result(ctx, indicators, metadata)
}

func (h *HTTPSignature) result(ctx *signatures.DetectionContext, indicators []signatures.Indicator, metadata map[string]interface{}) *signatures.DetectionResult {
	confidence := signatures.AdjustConfidence(
		signatures.ScoreDetection(indicators),
		signatures.PortFactor(ctx.SrcPort, ctx.DstPort, httpPorts),
	)

	return &signatures.DetectionResult{
		Protocol:   "HTTP",
		Kind:       signatures.MatchPrimary,
		Confidence: confidence,
		Metadata:   metadata,
	}
}
