//go:build windows

package ptywrap

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/UserExistsError/conpty"
)

// windowsHandle wraps a Windows ConPTY pseudo-console.
type windowsHandle struct {
	cpty *conpty.ConPty
}

func (p *windowsHandle) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsHandle) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsHandle) Close() error                { return p.cpty.Close() }

func (p *windowsHandle) Resize(cols, rows uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

// startWithSize starts the command via Windows ConPTY at the given
// dimensions. ConPTY manages process creation internally, so this builds a
// command line from the exec.Cmd and starts the process through ConPTY.
// After this call, cmd.Process is set so callers can manage the process
// lifecycle the same way as on Unix.
func startWithSize(cmd *exec.Cmd, cols, rows int) (Handle, error) {
	cmdLine := buildCmdLine(cmd.Args)
	if len(cmd.Args) == 0 {
		cmdLine = escapeArg(cmd.Path)
	}

	opts := []conpty.ConPtyOption{
		conpty.ConPtyDimensions(cols, rows),
	}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cpty, err := conpty.Start(cmdLine, opts...)
	if err != nil {
		return nil, err
	}

	pid := cpty.Pid()
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("find conpty process %d: %w", pid, err)
	}
	cmd.Process = proc

	return &windowsHandle{cpty: cpty}, nil
}
