//go:build !windows

package ptywrap

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// unixHandle wraps a Unix PTY master file descriptor.
type unixHandle struct {
	f *os.File
}

func (p *unixHandle) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixHandle) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixHandle) Close() error                { return p.f.Close() }

func (p *unixHandle) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startWithSize starts the command in a Unix PTY at the given dimensions.
// pty.StartWithSize calls cmd.Start() internally.
func startWithSize(cmd *exec.Cmd, cols, rows int) (Handle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, err
	}
	return &unixHandle{f: f}, nil
}
