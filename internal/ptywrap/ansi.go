package ptywrap

import (
	"bytes"
	"regexp"
)

// ansiEscapeRe strips CSI/OSC/simple ESC sequences for classification
// purposes. Raw bytes are never mutated by this — only the copy handed to
// the marker parser and idle detector's cursor-pattern check.
var ansiEscapeRe = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[()][AB012]|[=>])`)

// stripANSI removes escape sequences from data, returning plain text safe
// to run the Parser and prompt-pattern checks against.
func stripANSI(data []byte) string {
	return ansiEscapeRe.ReplaceAllString(string(data), "")
}

// containsDSRQuery reports a Device Status Report (cursor position) query:
// ESC [ 6 n or ESC [ ? 6 n. Some CLIs query cursor position on startup and
// hang waiting for a response if nothing answers.
func containsDSRQuery(data []byte) bool {
	return bytes.Contains(data, []byte("\x1b[6n")) || bytes.Contains(data, []byte("\x1b[?6n"))
}

// containsDA1Query reports a Primary Device Attributes query: ESC [ c or
// ESC [ 0 c (not ESC [ <digit> c, which is cursor-forward).
func containsDA1Query(data []byte) bool {
	for i := 0; i+2 < len(data); i++ {
		if data[i] == '\x1b' && data[i+1] == '[' && data[i+2] == 'c' {
			return true
		}
	}
	return bytes.Contains(data, []byte("\x1b[0c"))
}
