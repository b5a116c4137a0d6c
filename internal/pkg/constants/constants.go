// Package constants provides shared constants used across ymsgcat components.
package constants

import "time"

// Flow and endpoint table lifetimes
const (
	// DefaultFlowTTL is how long an idle flow is kept in the flow table
	DefaultFlowTTL = 10 * time.Minute

	// DefaultEndpointTTL is how long an idle endpoint keeps its tags and side-channel state.
	// Endpoint state outlives individual flows, so it is kept longer than flows.
	DefaultEndpointTTL = 30 * time.Minute

	// CleanupInterval is how often the flow and endpoint tables evict idle entries
	CleanupInterval = 1 * time.Minute
)

// Yahoo Messenger detection defaults
const (
	// DefaultYMSGVideoTimeout bounds how long a video-control marker seen on an endpoint
	// keeps port 5100 connections to that endpoint classifiable.
	DefaultYMSGVideoTimeout = 30 * time.Second

	// DefaultYMSGHTTPDetection enables the HTTP-tunnel heuristics.
	DefaultYMSGHTTPDetection = true
)

// DefaultYMSGHostProtocols lists the top-level protocols YMSG detection may run beneath.
var DefaultYMSGHostProtocols = []string{"HTTP", "TLS"}

// Capture configuration
const (
	// DefaultSnapLen is the snapshot length for live capture
	DefaultSnapLen = 65535

	// PacketChannelBuffer is the standard buffer for packet processing channels (strategy: medium)
	PacketChannelBuffer = 100

	// DefaultPcapBufferSize is the kernel buffer for live capture. The libpcap default
	// (~2MB) drops packets on busy interfaces.
	DefaultPcapBufferSize = 16 * 1024 * 1024

	// DefaultPcapTimeout is the live capture read timeout; it bounds how long shutdown waits
	DefaultPcapTimeout = 200 * time.Millisecond
)

// Output files
const (
	// WriterChannelBuffer is the queue between the classifier and the pcap writer
	WriterChannelBuffer = 1000

	// WriterSyncInterval is how often the pcap writer syncs to disk
	WriterSyncInterval = 5 * time.Second
)

// Signal handling and servers
const (
	// SignalChannelBuffer is the buffer for os/signal notifications
	SignalChannelBuffer = 1

	// MetricsShutdownTimeout bounds the graceful stop of the metrics server
	MetricsShutdownTimeout = 5 * time.Second
)
