// Package termctl holds the operator CLI's local terminal control: raw
// mode, window size, SIGWINCH handling, and the Alt+Q local-disconnect
// sentinel.
package termctl

import (
	"os"

	"golang.org/x/term"
)

// RawModeGuard restores the terminal's prior mode on Restore.
type RawModeGuard struct {
	fd       int
	oldState *term.State
}

// EnableRawMode switches stdin to raw mode so keystrokes (including control
// sequences) reach the remote PTY byte-for-byte.
func EnableRawMode() (*RawModeGuard, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawModeGuard{fd: fd, oldState: oldState}, nil
}

func (g *RawModeGuard) Restore() {
	term.Restore(g.fd, g.oldState)
}
