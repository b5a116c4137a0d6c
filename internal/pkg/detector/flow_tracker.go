package detector

import (
	"sort"
	"sync"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

type flowEntry struct {
	flow    *signatures.FlowContext
	touched time.Time
}

// FlowTracker manages flow contexts for stateful protocol detection.
//
// Expiry uses wall-clock activity, not packet timestamps, so replaying an old capture
// does not evict flows that are still being read.
type FlowTracker struct {
	flows map[string]*flowEntry
	ttl   time.Duration
	mu    sync.RWMutex
	done  chan struct{}
}

// NewFlowTracker creates a new flow tracker
func NewFlowTracker(ttl time.Duration) *FlowTracker {
	tracker := &FlowTracker{
		flows: make(map[string]*flowEntry),
		ttl:   ttl,
		done:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go tracker.cleanup()

	return tracker
}

// GetOrCreate retrieves an existing flow or creates one first seen at now
func (f *FlowTracker) GetOrCreate(flowID string, now time.Time) *signatures.FlowContext {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.flows[flowID]
	if !ok {
		entry = &flowEntry{flow: signatures.NewFlowContext(flowID, now)}
		f.flows[flowID] = entry
	}
	entry.touched = time.Now()

	return entry.flow
}

// Clear removes all flows
func (f *FlowTracker) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flows = make(map[string]*flowEntry)
}

// Size returns the number of tracked flows
func (f *FlowTracker) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.flows)
}

// Snapshot returns the tracked flows ordered by first packet time
func (f *FlowTracker) Snapshot() []*signatures.FlowContext {
	f.mu.RLock()
	out := make([]*signatures.FlowContext, 0, len(f.flows))
	for _, entry := range f.flows {
		out = append(out, entry.flow)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FlowID < out[j].FlowID
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

// Expire removes flows idle for longer than the TTL at now and returns how many were removed
func (f *FlowTracker) Expire(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for flowID, entry := range f.flows {
		if now.Sub(entry.touched) > f.ttl {
			delete(f.flows, flowID)
			removed++
		}
	}
	return removed
}

// cleanup periodically removes expired flows
func (f *FlowTracker) cleanup() {
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Expire(time.Now())
		case <-f.done:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (f *FlowTracker) Close() {
	select {
	case <-f.done:
		// Already closed
		return
	default:
		close(f.done)
	}
}
