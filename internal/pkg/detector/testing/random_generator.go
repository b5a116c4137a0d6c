package testing

import (
	"crypto/rand"
	"math/big"
)

// RandomPacketGenerator generates random packet payloads for false positive testing
type RandomPacketGenerator struct{}

// NewRandomPacketGenerator creates a new random packet generator
func NewRandomPacketGenerator() *RandomPacketGenerator {
	return &RandomPacketGenerator{}
}

// GenerateRandomPayload creates a random byte slice of specified length
func (g *RandomPacketGenerator) GenerateRandomPayload(length int) []byte {
	payload := make([]byte, length)
	if _, err := rand.Read(payload); err != nil {
		panic(err)
	}
	return payload
}

// GeneratePrintablePayload creates a payload with printable ASCII characters
func (g *RandomPacketGenerator) GeneratePrintablePayload(length int) []byte {
	payload := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(95))
		if err != nil {
			panic(err)
		}
		payload[i] = byte(32 + n.Int64()) // ASCII 32-126
	}
	return payload
}

// GenerateWithPattern creates a payload with a specific byte pattern
func (g *RandomPacketGenerator) GenerateWithPattern(length int, pattern []byte) []byte {
	payload := make([]byte, length)
	for i := 0; i < length; i++ {
		payload[i] = pattern[i%len(pattern)]
	}
	return payload
}

// GenerateNearMisses returns payloads that resemble messenger traffic without being it:
// frames with a broken length, magic followed by noise, and plain web requests.
func (g *RandomPacketGenerator) GenerateNearMisses() [][]byte {
	truncated := append([]byte("YMSG\x00\x10\x00\x00\x00\x40\x00\x01"), g.GenerateRandomPayload(20)...)
	noise := append([]byte("YMSG"), g.GenerateRandomPayload(60)...)
	noise[8], noise[9] = 0xFF, 0xFF // body length past the end

	return [][]byte{
		truncated,
		noise,
		[]byte("YAHOO"),
		[]byte("<SNDIMG"),
		[]byte("GET /index.html HTTP/1.1\r\nHost: www.example.com\r\nUser-Agent: curl/8.0\r\n\r\n"),
		[]byte("POST /upload HTTP/1.1\r\nHost: files.example.com\r\nContent-Length: 12\r\n\r\n"),
		[]byte("CONNECT example.com:443 HTTP/1.1\r\n\r\n"),
		[]byte("content-length: 10\r\nno blank line here\r\n"),
	}
}

// GenerateCommonPatterns returns common patterns that might trigger false positives
func (g *RandomPacketGenerator) GenerateCommonPatterns() [][]byte {
	sequential := make([]byte, 256)
	for i := range sequential {
		sequential[i] = byte(i)
	}
	return [][]byte{
		make([]byte, 1500),
		g.GenerateWithPattern(1500, []byte{0xFF}),
		g.GenerateWithPattern(1500, []byte{0xAA, 0x55}),
		sequential,
		g.GeneratePrintablePayload(512),
	}
}

// GenerateVariableLengthPayloads generates payloads of various common sizes
func (g *RandomPacketGenerator) GenerateVariableLengthPayloads() [][]byte {
	sizes := []int{1, 4, 6, 8, 20, 24, 64, 101, 256, 1024, 1500}
	payloads := make([][]byte, len(sizes))
	for i, size := range sizes {
		payloads[i] = g.GenerateRandomPayload(size)
	}
	return payloads
}
