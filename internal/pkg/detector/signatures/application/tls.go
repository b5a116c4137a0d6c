package application

import (
	"encoding/binary"
	"fmt"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

var tlsPorts = []uint16{443, 8443}

// TLSSignature detects TLS/SSL record headers
type TLSSignature struct {
	// TLS record types
	contentTypes map[byte]string
	// TLS handshake types
	handshakeTypes map[byte]string
}

// NewTLSSignature creates a new TLS signature detector
func NewTLSSignature() *TLSSignature {
	return &TLSSignature{
		contentTypes: map[byte]string{
			20: "ChangeCipherSpec",
			21: "Alert",
			22: "Handshake",
			23: "ApplicationData",
			24: "Heartbeat",
		},
		handshakeTypes: map[byte]string{
			1:  "ClientHello",
			2:  "ServerHello",
			11: "Certificate",
			12: "ServerKeyExchange",
			14: "ServerHelloDone",
			16: "ClientKeyExchange",
			20: "Finished",
		},
	}
}

func (t *TLSSignature) Name() string {
	return "TLS/SSL Detector"
}

func (t *TLSSignature) Protocols() []string {
	return []string{"TLS"}
}

func (t *TLSSignature) Priority() int {
	return 110
}

func (t *TLSSignature) Layer() signatures.LayerType {
	return signatures.LayerApplication
}

func (t *TLSSignature) Ports() []uint16 {
	return tlsPorts
}

func (t *TLSSignature) Detect(ctx *signatures.DetectionContext) *signatures.DetectionResult {
	if len(ctx.Payload) < 5 {
		return nil
	}

	// TLS record format:
	// byte 0: Content Type (20-24)
	// bytes 1-2: Version (0x0300 = SSL 3.0 ... 0x0304 = TLS 1.3)
	// bytes 3-4: Length
	contentType := ctx.Payload[0]
	major, minor := ctx.Payload[1], ctx.Payload[2]
	length := binary.BigEndian.Uint16(ctx.Payload[3:5])

	contentTypeName, ok := t.contentTypes[contentType]
	if !ok || major != 0x03 || minor > 0x04 {
		return nil
	}

	// Max TLS record is 16KB
	if length > 16384 {
		return nil
	}

	metadata := map[string]interface{}{
		"version":       versionString(major, minor),
		"content_type":  contentTypeName,
		"record_length": int(length),
	}

	if contentType == 22 && len(ctx.Payload) >= 6 {
		if name, ok := t.handshakeTypes[ctx.Payload[5]]; ok {
			metadata["handshake_type"] = name
			if ctx.Payload[5] == 1 {
				if sni := extractSNI(ctx.Payload); sni != "" {
					metadata["sni"] = sni
				}
			}
		}
	}

	indicators := []signatures.Indicator{
		{Name: "content_type", Weight: 0.4, Confidence: 1.0},
		{Name: "version", Weight: 0.4, Confidence: 1.0},
		{Name: "length_valid", Weight: 0.2, Confidence: 1.0},
	}
	confidence := signatures.AdjustConfidence(
		signatures.ScoreDetection(indicators),
		signatures.PortFactor(ctx.SrcPort, ctx.DstPort, tlsPorts),
	)

	return &signatures.DetectionResult{
		Protocol:   "TLS",
		Kind:       signatures.MatchPrimary,
		Confidence: confidence,
		Metadata:   metadata,
	}
}

func versionString(major, minor byte) string {
	version := uint16(major)<<8 | uint16(minor)
	switch version {
	case 0x0300:
		return "SSL 3.0"
	case 0x0301:
		return "TLS 1.0"
	case 0x0302:
		return "TLS 1.1"
	case 0x0303:
		return "TLS 1.2"
	case 0x0304:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}

// extractSNI walks a ClientHello record to the server_name extension.
//
//	record header (5) | handshake header (4) | version (2) | random (32) | session id |
//	cipher suites | compression methods | extensions
func extractSNI(payload []byte) string {
	pos := 43
	if pos >= len(payload) {
		return ""
	}
	pos += 1 + int(payload[pos])

	if pos+2 > len(payload) {
		return ""
	}
	pos += 2 + int(binary.BigEndian.Uint16(payload[pos:pos+2]))

	if pos+1 > len(payload) {
		return ""
	}
	pos += 1 + int(payload[pos])

	if pos+2 > len(payload) {
		return ""
	}
	end := pos + 2 + int(binary.BigEndian.Uint16(payload[pos:pos+2]))
	pos += 2

	for pos+4 <= end && pos+4 <= len(payload) {
		extType := binary.BigEndian.Uint16(payload[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(payload[pos+2 : pos+4]))
		pos += 4
		if extType == 0 && pos+extLen <= len(payload) {
			return parseServerName(payload[pos : pos+extLen])
		}
		pos += extLen
	}
	return ""
}

// parseServerName reads the first host_name entry of a server_name extension
func parseServerName(data []byte) string {
	if len(data) < 5 || data[2] != 0 {
		return ""
	}
	n := int(binary.BigEndian.Uint16(data[3:5]))
	if len(data) < 5+n {
		return ""
	}
	return string(data[5 : 5+n])
}
