// Package output provides utilities for consistent CLI output formatting.
package output

import (
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether w is a file attached to a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WriteJSON encodes v to w followed by a newline. Output is indented for terminals and
// compact otherwise, so piped output stays one document per line.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if IsTerminal(w) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
