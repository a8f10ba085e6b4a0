//go:build !linux

package agentsup

// readRSSBytes has no portable implementation outside /proc; non-Linux
// builds simply report no memory signal rather than an error.
func readRSSBytes(pid int) int64 { return 0 }
