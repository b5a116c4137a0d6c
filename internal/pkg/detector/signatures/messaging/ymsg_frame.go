package messaging

import (
	"bytes"
	"encoding/binary"
)

// HeaderLen is the size of the fixed YMSG frame header
const HeaderLen = 20

var ymsgMagic = []byte("YMSG")

// Header is the fixed part of a YMSG frame. Multi-byte fields are big-endian on the wire.
//
//	0      4        6         8          10        12       16          20
//	| YMSG | version | reserved | body len | service | status | session id |
type Header struct {
	Version    uint16
	Reserved   uint16
	BodyLength uint16
	Service    uint16
	Status     uint32
	SessionID  uint32
}

// FrameLen returns the length of the frame this header starts, header included
func (h Header) FrameLen() int {
	return HeaderLen + int(h.BodyLength)
}

// ParseHeader decodes the header at the start of b. It fails when b is shorter than a
// header or does not start with the YMSG magic.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderLen || !bytes.Equal(b[:4], ymsgMagic) {
		return Header{}, false
	}
	return Header{
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Reserved:   binary.BigEndian.Uint16(b[6:8]),
		BodyLength: binary.BigEndian.Uint16(b[8:10]),
		Service:    binary.BigEndian.Uint16(b[10:12]),
		Status:     binary.BigEndian.Uint32(b[12:16]),
		SessionID:  binary.BigEndian.Uint32(b[16:20]),
	}, true
}

// ValidateChain reports whether payload is exactly a sequence of back-to-back YMSG frames.
//
// Every step consumes at least HeaderLen bytes and the loop is additionally capped at
// len(payload) iterations, so no length field can make the walk wrap or spin. A truncated
// header, a magic mismatch, or a frame running past the end fails the chain.
func ValidateChain(payload []byte) bool {
	total := 0
	for i := 0; i < len(payload); i++ {
		h, ok := ParseHeader(payload[total:])
		if !ok {
			return false
		}
		total += h.FrameLen()
		if total >= len(payload) {
			return total == len(payload)
		}
	}
	return false
}

// CountFrames returns the number of frames in a payload accepted by ValidateChain, or 0.
func CountFrames(payload []byte) int {
	if !ValidateChain(payload) {
		return 0
	}
	n := 0
	for off := 0; off < len(payload); n++ {
		h, _ := ParseHeader(payload[off:])
		off += h.FrameLen()
	}
	return n
}
