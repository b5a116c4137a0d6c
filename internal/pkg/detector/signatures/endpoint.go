package signatures

import (
	"sync"
	"time"
)

// Endpoint is the state kept for one network address across all flows touching it.
// Any number of flows may use the same endpoint concurrently; all access is locked.
type Endpoint struct {
	Address string

	mu          sync.RWMutex
	tags        map[string]struct{}
	attachments map[string]interface{}
	lastSeen    time.Time
}

// NewEndpoint creates an endpoint for address
func NewEndpoint(address string) *Endpoint {
	return &Endpoint{
		Address:     address,
		tags:        make(map[string]struct{}),
		attachments: make(map[string]interface{}),
		lastSeen:    time.Now(),
	}
}

// HasTag reports whether protocol was ever detected on a flow involving this endpoint.
// A nil endpoint has no tags.
func (e *Endpoint) HasTag(protocol string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tags[protocol]
	return ok
}

// Tag marks protocol as detected on this endpoint
func (e *Endpoint) Tag(protocol string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags[protocol] = struct{}{}
}

// Tags returns the number of protocols tagged on this endpoint
func (e *Endpoint) Tags() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tags)
}

// Attachment returns the value stored under key, creating it with create on first use.
// The returned value is shared by every caller and must synchronize its own fields.
func (e *Endpoint) Attachment(key string, create func() interface{}) interface{} {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.attachments[key]
	if !ok {
		v = create()
		e.attachments[key] = v
	}
	return v
}

// Touch records activity at t
func (e *Endpoint) Touch(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = t
}

// LastSeen returns the last activity time
func (e *Endpoint) LastSeen() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSeen
}
