// Package terminal owns the interactive OS process behind a session: one
// shell attached to a pseudo-terminal, with an accumulating output buffer
// addressed by absolute offsets so callers can read just the increment
// produced since their last look.
package terminal

import "errors"

// ErrClosed is returned for operations on a terminal that has been closed.
var ErrClosed = errors.New("terminal: closed")

// Terminal is the pane capability surface consumed by the session state
// machine. Implementations exist per target OS; session logic stays
// OS-agnostic.
type Terminal interface {
	// WriteInput forwards raw bytes to the shell's tty.
	WriteInput(p []byte) error

	// ReadSince returns the output produced at or after the given absolute
	// offset, plus the offset to use for the next read. Offsets older than
	// the retained buffer window are clamped.
	ReadSince(offset int64) (data string, next int64)

	// End returns the current absolute end offset of the output stream.
	End() int64

	// Interrupt delivers an interrupt to the foreground process group,
	// best-effort. The terminal itself stays usable.
	Interrupt() error

	// Resize changes the pty dimensions.
	Resize(rows, cols uint16) error

	// Alive reports whether the underlying shell process is still running.
	Alive() bool

	// Close tears down the pty and the shell process. Safe to call more
	// than once.
	Close() error
}

// Options configures a new terminal.
type Options struct {
	Shell string   // shell binary, default /bin/bash on POSIX
	Args  []string // shell arguments
	Dir   string   // initial working directory
	Env   []string // full environment for the shell process

	Rows uint16 // default 24
	Cols uint16 // default 500, wide to avoid echo wrapping

	// MaxBufferBytes caps the retained output window. Older output is
	// discarded; offsets remain stable. Default 4 MiB.
	MaxBufferBytes int

	// MaxMemoryMB is a resource hint applied to the shell process where
	// the platform supports it (RLIMIT_AS on POSIX). Zero means no limit.
	MaxMemoryMB int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Rows == 0 {
		out.Rows = 24
	}
	if out.Cols == 0 {
		out.Cols = 500
	}
	if out.MaxBufferBytes <= 0 {
		out.MaxBufferBytes = 4 << 20
	}
	return out
}
