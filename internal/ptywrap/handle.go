// Package ptywrap owns exactly one child process attached to a
// pseudo-terminal: it streams output into a bounded ring buffer, recognises
// structured markers in that output via internal/markers, gates writes
// behind the idle detector, and exposes the event stream the Agent Manager
// consumes.
package ptywrap

import "io"

// Handle abstracts PTY operations across Unix and Windows: one small
// interface, two platform-specific constructors behind a build tag.
type Handle interface {
	io.ReadWriteCloser
	// Resize changes the PTY window size.
	Resize(cols, rows uint16) error
}
