package detector

import (
	"sync"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
)

// EndpointTable holds per-address state shared by every flow touching an address
type EndpointTable struct {
	endpoints map[string]*signatures.Endpoint
	ttl       time.Duration
	mu        sync.RWMutex
	done      chan struct{}
}

// NewEndpointTable creates a new endpoint table
func NewEndpointTable(ttl time.Duration) *EndpointTable {
	table := &EndpointTable{
		endpoints: make(map[string]*signatures.Endpoint),
		ttl:       ttl,
		done:      make(chan struct{}),
	}

	go table.cleanup()

	return table
}

// GetOrCreate returns the endpoint for address, creating it on first use.
// Unknown addresses have no endpoint and yield nil.
func (t *EndpointTable) GetOrCreate(address string) *signatures.Endpoint {
	if address == "" || address == unknownAddress {
		return nil
	}

	t.mu.RLock()
	e, ok := t.endpoints[address]
	t.mu.RUnlock()

	if !ok {
		t.mu.Lock()
		if e, ok = t.endpoints[address]; !ok {
			e = signatures.NewEndpoint(address)
			t.endpoints[address] = e
		}
		t.mu.Unlock()
	}

	e.Touch(time.Now())
	return e
}

// Get returns the endpoint for address, or nil
func (t *EndpointTable) Get(address string) *signatures.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.endpoints[address]
}

// Size returns the number of tracked endpoints
func (t *EndpointTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.endpoints)
}

// Clear removes all endpoints
func (t *EndpointTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.endpoints = make(map[string]*signatures.Endpoint)
}

// Expire removes endpoints idle for longer than the TTL at now and returns how many
// were removed. Their tags and side-channel state go with them.
func (t *EndpointTable) Expire(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for addr, e := range t.endpoints {
		if now.Sub(e.LastSeen()) > t.ttl {
			delete(t.endpoints, addr)
			removed++
		}
	}
	return removed
}

func (t *EndpointTable) cleanup() {
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Expire(time.Now())
		case <-t.done:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (t *EndpointTable) Close() {
	select {
	case <-t.done:
		return
	default:
		close(t.done)
	}
}
