// Package bpfutil provides utilities for BPF filter construction.
package bpfutil

import (
	"net"
)

// ExtractPortFromAddr extracts the port from a "host:port" address string.
// Returns empty string if the address is empty, invalid, or has no port.
// Handles both IPv4 ("host:port") and IPv6 ("[::1]:port") formats.
func ExtractPortFromAddr(addr string) string {
	if addr == "" {
		return ""
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}

	return port
}

// ExcludeListener extends filter so traffic to or from the TCP port of addr is dropped.
// A live capture uses it to keep the tool's own metrics endpoint out of the classified
// traffic. filter is returned unchanged when addr carries no port.
func ExcludeListener(filter, addr string) string {
	port := ExtractPortFromAddr(addr)
	if port == "" || port == "0" {
		return filter
	}

	exclusion := "not tcp port " + port
	if filter == "" {
		return exclusion
	}
	return "(" + filter + ") and " + exclusion
}
