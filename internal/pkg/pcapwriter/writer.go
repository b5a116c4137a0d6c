// Package pcapwriter writes selected packets to a pcap file from a background goroutine.
package pcapwriter

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/capture"
	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	// ErrClosed is returned when writing to a closed writer
	ErrClosed = errors.New("pcap writer is closed")
	// ErrBufferFull is returned when the write queue is full and the packet was dropped
	ErrBufferFull = errors.New("pcap write buffer full")
)

// Config for the pcap writer
type Config struct {
	FilePath     string
	LinkType     layers.LinkType
	SnapLen      uint32
	BufferSize   int           // queue length between caller and write loop
	SyncInterval time.Duration // how often to sync to disk
	// Blocking makes WritePacket wait for queue space instead of dropping. Offline runs
	// set it since the reader is faster than the disk.
	Blocking bool
}

// DefaultConfig returns the default configuration for an Ethernet capture
func DefaultConfig() Config {
	return Config{
		LinkType:     layers.LinkTypeEthernet,
		SnapLen:      constants.DefaultSnapLen,
		BufferSize:   constants.WriterChannelBuffer,
		SyncInterval: constants.WriterSyncInterval,
	}
}

// Writer appends packets to a pcap file. Unless configured as blocking, WritePacket never
// waits: packets that do not fit in the queue are dropped and counted.
type Writer struct {
	filePath string
	blocking bool
	file     *os.File
	writer   *pcapgo.Writer
	queue    chan capture.PacketInfo
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   atomic.Bool

	packets atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64
}

// New creates the file, writes the pcap header and starts the write loop
func New(cfg Config) (*Writer, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.WriterChannelBuffer
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = constants.WriterSyncInterval
	}
	if cfg.SnapLen == 0 {
		cfg.SnapLen = constants.DefaultSnapLen
	}

	file, err := os.Create(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create PCAP file: %w", err)
	}

	pw := pcapgo.NewWriter(file)
	if err := pw.WriteFileHeader(cfg.SnapLen, cfg.LinkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write PCAP header: %w", err)
	}

	w := &Writer{
		filePath: cfg.FilePath,
		blocking: cfg.Blocking,
		file:     file,
		writer:   pw,
		queue:    make(chan capture.PacketInfo, cfg.BufferSize),
	}

	w.wg.Add(1)
	go w.writeLoop(cfg.SyncInterval)

	logger.Info("Created PCAP writer",
		"file", cfg.FilePath,
		"link_type", cfg.LinkType.String(),
		"buffer_size", cfg.BufferSize)

	return w, nil
}

// WritePacket queues pkt for writing. It must not race with Close.
func (w *Writer) WritePacket(pkt capture.PacketInfo) error {
	if w.closed.Load() {
		return ErrClosed
	}

	if w.blocking {
		w.queue <- pkt
		return nil
	}

	select {
	case w.queue <- pkt:
		return nil
	default:
		w.dropped.Add(1)
		logger.Warn("Packet dropped due to full write buffer", "file", w.filePath)
		return ErrBufferFull
	}
}

func (w *Writer) writeLoop(syncInterval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case pkt, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.write(pkt); err != nil {
				logger.Error("Failed to write packet", "error", err, "file", w.filePath)
			}

		case <-ticker.C:
			w.mu.Lock()
			if err := w.file.Sync(); err != nil {
				logger.Warn("Failed to sync PCAP file", "error", err, "file", w.filePath)
			}
			w.mu.Unlock()
		}
	}
}

func (w *Writer) write(pkt capture.PacketInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := pkt.Packet.Data()
	if err := w.writer.WritePacket(pkt.Packet.Metadata().CaptureInfo, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	w.packets.Add(1)
	w.bytes.Add(int64(len(data)))
	return nil
}

// Close drains the queue, then syncs and closes the file
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	// The loop exits once the closed queue is empty
	close(w.queue)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		logger.Warn("Failed to sync PCAP file", "error", err, "file", w.filePath)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close PCAP file: %w", err)
	}

	logger.Info("Closed PCAP writer",
		"file", w.filePath,
		"packets", w.packets.Load(),
		"bytes", w.bytes.Load(),
		"dropped", w.dropped.Load())

	return nil
}

// Stats returns the number of packets and bytes written and packets dropped
func (w *Writer) Stats() (packets, bytes, dropped int64) {
	return w.packets.Load(), w.bytes.Load(), w.dropped.Load()
}

// FilePath returns the file path being written to
func (w *Writer) FilePath() string {
	return w.filePath
}
