package signatures

import "bytes"

// MaxParsedLines caps the number of lines a payload is split into
const MaxParsedLines = 64

var (
	userAgentPrefix = []byte("User-Agent: ")
	hostPrefix      = []byte("Host:")
)

// LineInfo is a payload split into header-style lines. Lines alias the payload.
type LineInfo struct {
	Lines [][]byte

	// UserAgent and Host hold the values of the first matching header lines, or nil
	UserAgent []byte
	Host      []byte
}

// Count returns the number of parsed lines
func (l *LineInfo) Count() int {
	return len(l.Lines)
}

// Line returns line i, or nil when the payload has fewer lines
func (l *LineInfo) Line(i int) []byte {
	if i < 0 || i >= len(l.Lines) {
		return nil
	}
	return l.Lines[i]
}

// LineHasPrefix reports whether line i exists and starts with prefix
func (l *LineInfo) LineHasPrefix(i int, prefix string) bool {
	line := l.Line(i)
	return len(line) >= len(prefix) && string(line[:len(prefix)]) == prefix
}

// ParseLines splits payload on CRLF terminators. A payload without any terminator yields no
// lines; otherwise the unterminated remainder after the last CRLF is the final line.
// User-Agent and Host header values are extracted on the way.
func ParseLines(payload []byte) *LineInfo {
	return splitLines(payload, []byte("\r\n"), true)
}

// ParseUnixLines splits payload on bare LF terminators, with the same remainder rule as
// ParseLines. No header values are extracted.
func ParseUnixLines(payload []byte) *LineInfo {
	return splitLines(payload, []byte("\n"), false)
}

func splitLines(payload, sep []byte, headers bool) *LineInfo {
	info := &LineInfo{}
	if len(payload) < 3 {
		return info
	}

	rest := payload
	for {
		idx := bytes.Index(rest, sep)
		if idx < 0 {
			break
		}
		line := rest[:idx]
		info.Lines = append(info.Lines, line)
		if headers {
			info.extractHeader(line)
		}
		rest = rest[idx+len(sep):]
		if len(info.Lines) >= MaxParsedLines-1 {
			return info
		}
	}

	if len(info.Lines) > 0 {
		info.Lines = append(info.Lines, rest)
	}
	return info
}

func (l *LineInfo) extractHeader(line []byte) {
	switch {
	case l.UserAgent == nil && len(line) > len(userAgentPrefix) && bytes.HasPrefix(line, userAgentPrefix):
		l.UserAgent = line[len(userAgentPrefix):]
	case l.Host == nil && len(line) > len(hostPrefix) && bytes.HasPrefix(line, hostPrefix):
		value := line[len(hostPrefix):]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		l.Host = value
	}
}
