// Package capture opens packet sources (pcap files and live interfaces) and streams their
// decoded packets to a consumer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PacketInfo is a decoded packet with the link type of the source it came from
type PacketInfo struct {
	LinkType layers.LinkType
	Packet   gopacket.Packet
}

// Handle is the raw packet reader behind a Source. pcap handles and the pcapgo readers
// all satisfy it.
type Handle interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Source is an opened capture
type Source struct {
	name   string
	handle Handle
	filter *pcap.BPF
	close  func() error
	err    error
}

// Name returns the file path or device name the source reads from
func (s *Source) Name() string {
	return s.name
}

// LinkType returns the link type of the captured packets
func (s *Source) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

// Err returns the read error that ended the last Stream, if any. A clean end of file is
// not an error.
func (s *Source) Err() error {
	return s.err
}

// Close releases the underlying handle or file
func (s *Source) Close() error {
	if s.close == nil {
		return nil
	}
	closeFn := s.close
	s.close = nil
	return closeFn()
}

// setFilter compiles expr for user-space matching. Live sources filter in the kernel
// instead.
func (s *Source) setFilter(expr string) error {
	if expr == "" {
		return nil
	}
	bpf, err := pcap.NewBPF(s.handle.LinkType(), constants.DefaultSnapLen, expr)
	if err != nil {
		return fmt.Errorf("invalid BPF filter %q: %w", expr, err)
	}
	s.filter = bpf
	return nil
}

// Stream decodes packets and sends them on the returned channel until the source is
// exhausted, a read fails or ctx is cancelled. The channel is closed when streaming stops.
func (s *Source) Stream(ctx context.Context) <-chan PacketInfo {
	out := make(chan PacketInfo, constants.PacketChannelBuffer)
	linkType := s.handle.LinkType()

	go func() {
		defer close(out)

		for {
			if ctx.Err() != nil {
				return
			}

			data, ci, err := s.handle.ReadPacketData()
			if err != nil {
				if errors.Is(err, pcap.NextErrorTimeoutExpired) {
					continue
				}
				if !errors.Is(err, io.EOF) {
					s.err = fmt.Errorf("read %s: %w", s.name, err)
					logger.WarnContext(ctx, "Packet source stopped", "source", s.name, "error", err)
				}
				return
			}

			if s.filter != nil && !s.filter.Matches(ci, data) {
				continue
			}

			packet := gopacket.NewPacket(data, linkType, gopacket.Default)
			md := packet.Metadata()
			md.CaptureInfo = ci
			md.Truncated = md.Truncated || ci.CaptureLength < ci.Length

			select {
			case out <- PacketInfo{LinkType: linkType, Packet: packet}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
