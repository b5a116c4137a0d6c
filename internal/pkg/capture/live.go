package capture

import (
	"fmt"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/google/gopacket/pcap"
)

// LiveConfig controls live capture on a device
type LiveConfig struct {
	Filter      string
	Promiscuous bool
	SnapLen     int
	// Timeout is the read timeout. BlockForever would keep Stream from noticing a
	// cancelled context until the next packet arrives.
	Timeout    time.Duration
	BufferSize int
}

// DefaultLiveConfig returns the default live capture settings
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		SnapLen:    constants.DefaultSnapLen,
		Timeout:    constants.DefaultPcapTimeout,
		BufferSize: constants.DefaultPcapBufferSize,
	}
}

// OpenLive starts capturing on device
func OpenLive(device string, cfg LiveConfig) (*Source, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = constants.DefaultSnapLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultPcapTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.DefaultPcapBufferSize
	}

	// The buffer size can only be set before activation
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(cfg.Timeout); err != nil {
		return nil, err
	}
	if err := inactive.SetBufferSize(cfg.BufferSize); err != nil {
		return nil, err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate capture on %s: %w", device, err)
	}

	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid BPF filter %q: %w", cfg.Filter, err)
		}
	}

	logger.Info("Started live capture",
		"device", device,
		"promiscuous", cfg.Promiscuous,
		"snaplen", cfg.SnapLen,
		"filter", cfg.Filter)

	return &Source{
		name:   device,
		handle: handle,
		close: func() error {
			handle.Close()
			return nil
		},
	}, nil
}
