//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

type unixTerminal struct {
	cmd  *exec.Cmd
	ptmx *os.File
	buf  *outputBuffer

	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Start spawns the shell on a new pty and begins draining its output.
func Start(opts Options) (Terminal, error) {
	o := opts.withDefaults()
	shell := o.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.Command(shell, o.Args...)
	cmd.Dir = o.Dir
	if len(o.Env) > 0 {
		cmd.Env = o.Env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: o.Rows, Cols: o.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	t := &unixTerminal{
		cmd:  cmd,
		ptmx: ptmx,
		buf:  newOutputBuffer(o.MaxBufferBytes),
		done: make(chan struct{}),
	}

	if o.MaxMemoryMB > 0 {
		// Resource hint only; unsupported platforms ignore it.
		applyMemoryLimit(cmd.Process.Pid, o.MaxMemoryMB)
	}

	go t.readLoop()
	return t, nil
}

func (t *unixTerminal) readLoop() {
	defer close(t.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			t.buf.Append(buf[:n])
		}
		if err != nil {
			// EIO on Linux when the slave side goes away.
			return
		}
	}
}

func (t *unixTerminal) WriteInput(p []byte) error {
	if !t.Alive() {
		return ErrClosed
	}
	_, err := t.ptmx.Write(p)
	return err
}

func (t *unixTerminal) ReadSince(offset int64) (string, int64) {
	return t.buf.ReadSince(offset)
}

func (t *unixTerminal) End() int64 { return t.buf.End() }

// Interrupt writes ETX to the master so the tty line discipline delivers
// SIGINT to whatever process group currently owns the foreground. Signalling
// the shell's pid directly would miss foreground jobs under job control.
func (t *unixTerminal) Interrupt() error {
	return t.WriteInput([]byte{0x03})
}

func (t *unixTerminal) Resize(rows, cols uint16) error {
	if !t.Alive() {
		return ErrClosed
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (t *unixTerminal) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *unixTerminal) Close() error {
	t.closeOnce.Do(func() {
		if t.cmd.Process != nil {
			// The shell is its own session leader, so -pid reaches the
			// whole process group.
			_ = unix.Kill(-t.cmd.Process.Pid, unix.SIGKILL)
		}
		_ = t.ptmx.Close()
		<-t.done
		if err := t.cmd.Wait(); err != nil {
			// Non-zero exit after a kill is expected; only record
			// genuinely unexpected wait failures.
			if _, ok := err.(*exec.ExitError); !ok {
				t.closeErr = fmt.Errorf("wait shell: %w", err)
			}
		}
	})
	return t.closeErr
}
