//go:build linux

package ptywrap

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// processSleeping reports whether pid (and, best-effort, its immediate
// children) are in the Linux "S" (interruptible sleep) state, read from
// /proc/<pid>/stat. Used only as an optional corroborating signal — any
// read failure yields false rather than an error, since this signal is
// advisory.
func processSleeping(pid int) bool {
	if !stateIsSleeping(pid) {
		return false
	}
	children := childPIDs(pid)
	for _, c := range children {
		if !stateIsSleeping(c) {
			return false
		}
	}
	return true
}

func stateIsSleeping(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// Format: pid (comm) state ... — comm may contain spaces/parens, so
	// split on the last ')' before reading the state field.
	s := string(data)
	idx := strings.LastIndex(s, ")")
	if idx < 0 || idx+2 >= len(s) {
		return false
	}
	fields := strings.Fields(s[idx+2:])
	if len(fields) == 0 {
		return false
	}
	return fields[0] == "S"
}

// childPIDs does a best-effort scan of /proc for processes whose PPID is
// pid. Returns nil (not an error) if /proc cannot be read.
func childPIDs(pid int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var children []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childPid := 0
		if _, err := fmt.Sscanf(e.Name(), "%d", &childPid); err != nil {
			continue
		}
		f, err := os.Open(fmt.Sprintf("/proc/%d/stat", childPid))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 4096), 4096)
		if scanner.Scan() {
			line := scanner.Text()
			idx := strings.LastIndex(line, ")")
			if idx >= 0 && idx+2 < len(line) {
				fields := strings.Fields(line[idx+2:])
				if len(fields) >= 2 && fields[1] == fmt.Sprintf("%d", pid) {
					children = append(children, childPid)
				}
			}
		}
		f.Close()
	}
	return children
}
