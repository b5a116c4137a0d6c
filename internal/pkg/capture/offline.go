package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/google/gopacket/pcapgo"
)

// pcapng files start with a section header block
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// OpenOffline opens a pcap or pcapng file. filter is an optional BPF expression applied
// to every packet read.
func OpenOffline(path, filter string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	r := bufio.NewReader(file)
	magic, err := r.Peek(len(pcapngMagic))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header %s: %w", path, err)
	}

	var handle Handle
	format := "pcap"
	if bytes.Equal(magic, pcapngMagic) {
		format = "pcapng"
		handle, err = pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	} else {
		handle, err = pcapgo.NewReader(r)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to parse %s file %s: %w", format, path, err)
	}

	src := &Source{
		name:   path,
		handle: handle,
		close:  file.Close,
	}
	if err := src.setFilter(filter); err != nil {
		src.Close()
		return nil, err
	}

	logger.Info("Opened capture file", "file", path, "format", format, "link_type", handle.LinkType().String())
	return src, nil
}
