// Package testing measures signature false-positive rates against random and near-miss
// payloads.
package testing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/detector"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

// FalsePositiveResult contains the results of false positive testing
type FalsePositiveResult struct {
	Protocol          string
	TotalTests        int
	FalsePositives    int
	FalsePositiveRate float64
	Duration          time.Duration
}

// FalsePositiveTester tests signatures against random data to measure false positive rates
type FalsePositiveTester struct {
	detector  *detector.Detector
	generator *RandomPacketGenerator
	mu        sync.Mutex
	results   map[string]*FalsePositiveResult
}

// NewFalsePositiveTester creates a new false positive tester
func NewFalsePositiveTester(det *detector.Detector) *FalsePositiveTester {
	return &FalsePositiveTester{
		detector:  det,
		generator: NewRandomPacketGenerator(),
		results:   make(map[string]*FalsePositiveResult),
	}
}

// TestSignature tests a single signature against numTests random payloads
func (t *FalsePositiveTester) TestSignature(sig signatures.Signature, numTests int) *FalsePositiveResult {
	payloads := make([][]byte, numTests)
	for i := range payloads {
		payloads[i] = t.generator.GenerateRandomPayload(1500)
	}
	return t.run(sig, payloads)
}

// TestSignatureWithPatterns tests a signature against common patterns and near misses
func (t *FalsePositiveTester) TestSignatureWithPatterns(sig signatures.Signature) *FalsePositiveResult {
	var payloads [][]byte
	payloads = append(payloads, t.generator.GenerateCommonPatterns()...)
	payloads = append(payloads, t.generator.GenerateNearMisses()...)
	payloads = append(payloads, t.generator.GenerateVariableLengthPayloads()...)
	return t.run(sig, payloads)
}

// TestAllSignatures tests all registered signatures
func (t *FalsePositiveTester) TestAllSignatures(numTestsPerSignature int) map[string]*FalsePositiveResult {
	results := make(map[string]*FalsePositiveResult)
	for _, sig := range t.detector.GetSignatures() {
		results[sig.Name()] = t.TestSignature(sig, numTestsPerSignature)
	}
	return results
}

func (t *FalsePositiveTester) run(sig signatures.Signature, payloads [][]byte) *FalsePositiveResult {
	start := time.Now()

	result := &FalsePositiveResult{
		Protocol:   sig.Name(),
		TotalTests: len(payloads),
	}

	for _, payload := range payloads {
		if detResult := sig.Detect(newDetectionContext(payload)); detResult != nil && detResult.Confidence > 0 {
			result.FalsePositives++
		}
	}

	result.Duration = time.Since(start)
	if result.TotalTests > 0 {
		result.FalsePositiveRate = float64(result.FalsePositives) / float64(result.TotalTests) * 100
	}

	t.mu.Lock()
	t.results[sig.Name()] = result
	t.mu.Unlock()

	return result
}

// GetResults returns a copy of the accumulated test results
func (t *FalsePositiveTester) GetResults() map[string]*FalsePositiveResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	resultsCopy := make(map[string]*FalsePositiveResult, len(t.results))
	for k, v := range t.results {
		resultsCopy[k] = v
	}
	return resultsCopy
}

// ValidateThresholds returns one message per signature whose rate exceeds maxRate
func (t *FalsePositiveTester) ValidateThresholds(maxRate float64) []string {
	violations := []string{}
	for _, name := range t.sortedNames() {
		result := t.results[name]
		if result.FalsePositiveRate > maxRate {
			violations = append(violations, fmt.Sprintf(
				"%s: %.4f%% (threshold: %.4f%%)", name, result.FalsePositiveRate, maxRate))
		}
	}
	return violations
}

// GenerateReport renders the accumulated results as a markdown table
func (t *FalsePositiveTester) GenerateReport() string {
	var b strings.Builder
	b.WriteString("# False Positive Testing Report\n\n")
	b.WriteString("| Signature | Total Tests | False Positives | FP Rate (%) | Duration |\n")
	b.WriteString("|-----------|-------------|-----------------|-------------|----------|\n")

	for _, name := range t.sortedNames() {
		r := t.results[name]
		fmt.Fprintf(&b, "| %s | %d | %d | %.4f | %s |\n",
			name, r.TotalTests, r.FalsePositives, r.FalsePositiveRate, r.Duration)
	}
	return b.String()
}

func (t *FalsePositiveTester) sortedNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.results))
	for name := range t.results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newDetectionContext creates a first-packet context on a fresh TCP flow with fresh
// endpoints, so stateful signatures see no history.
func newDetectionContext(payload []byte) *signatures.DetectionContext {
	flow := signatures.NewFlowContext("fp-flow", time.Now())
	flow.PacketCount = 1
	flow.DataPackets = 1
	return &signatures.DetectionContext{
		Payload:   payload,
		Transport: signatures.TransportTCP,
		SrcIP:     "192.0.2.1",
		DstIP:     "192.0.2.2",
		SrcPort:   12345,
		DstPort:   5050,
		Timestamp: time.Now(),
		FlowID:    flow.FlowID,
		Flow:      flow,
		Src:       signatures.NewEndpoint("192.0.2.1"),
		Dst:       signatures.NewEndpoint("192.0.2.2"),
	}
}
