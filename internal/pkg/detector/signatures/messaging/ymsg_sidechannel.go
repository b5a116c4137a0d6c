package messaging

import (
	"sync"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

const sideChannelKey = "ymsg.sidechannel"

// Service codes that log an endpoint into, or out of, a conference or chat room
var (
	loginServices  = map[uint16]bool{24: true, 152: true, 74: true}
	logoffServices = map[uint16]bool{27: true, 155: true, 160: true}
)

// SideChannel is the YMSG state attached to an endpoint and shared by every flow that
// touches it. The zero value is ready to use. Methods on a nil SideChannel are no-ops.
type SideChannel struct {
	mu                 sync.Mutex
	conferenceLoggedIn bool
	voiceConfLoggedIn  bool
	videoDirection     bool
	videoLastSeen      time.Time
}

// SideChannelSnapshot is a copy of a SideChannel's fields
type SideChannelSnapshot struct {
	ConferenceLoggedIn bool
	VoiceConfLoggedIn  bool
	VideoDirection     bool
	VideoLastSeen      time.Time
}

// SideChannelOf returns the side channel attached to e, creating it on first use.
// It returns nil for a nil endpoint.
func SideChannelOf(e *signatures.Endpoint) *SideChannel {
	v := e.Attachment(sideChannelKey, func() interface{} { return &SideChannel{} })
	if v == nil {
		return nil
	}
	return v.(*SideChannel)
}

// Snapshot returns a consistent copy of the side channel
func (s *SideChannel) Snapshot() SideChannelSnapshot {
	if s == nil {
		return SideChannelSnapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SideChannelSnapshot{
		ConferenceLoggedIn: s.conferenceLoggedIn,
		VoiceConfLoggedIn:  s.voiceConfLoggedIn,
		VideoDirection:     s.videoDirection,
		VideoLastSeen:      s.videoLastSeen,
	}
}

// applyService updates the login flags for a frame's service code
func (s *SideChannel) applyService(service uint16, source bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case loginServices[service]:
		s.conferenceLoggedIn = true
	case logoffServices[service] && source:
		s.conferenceLoggedIn = false
		s.voiceConfLoggedIn = false
	}
}

// markVideo records a video-control marker seen at t
func (s *SideChannel) markVideo(direction bool, t time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoDirection = direction
	s.videoLastSeen = t
}

// videoActive reports whether a marker with the wanted direction was seen less than
// timeout before now.
func (s *SideChannel) videoActive(now time.Time, timeout time.Duration, want bool) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoLastSeen.IsZero() || s.videoDirection != want {
		return false
	}
	elapsed := now.Sub(s.videoLastSeen)
	return elapsed >= 0 && elapsed < timeout
}
