//go:build windows

package terminal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/UserExistsError/conpty"
)

type winTerminal struct {
	cpty *conpty.ConPty
	buf  *outputBuffer

	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Start spawns the shell on a ConPTY and begins draining its output.
func Start(opts Options) (Terminal, error) {
	o := opts.withDefaults()
	if !conpty.IsConPtyAvailable() {
		return nil, fmt.Errorf("start conpty: ConPTY not available on this Windows build")
	}
	shell := o.Shell
	if shell == "" {
		shell = "cmd.exe"
	}

	ptyOpts := []conpty.ConPtyOption{
		conpty.ConPtyDimensions(int(o.Cols), int(o.Rows)),
	}
	if o.Dir != "" {
		ptyOpts = append(ptyOpts, conpty.ConPtyWorkDir(o.Dir))
	}

	cpty, err := conpty.Start(buildCommandLine(shell, o.Args), ptyOpts...)
	if err != nil {
		return nil, fmt.Errorf("start conpty: %w", err)
	}

	t := &winTerminal{
		cpty: cpty,
		buf:  newOutputBuffer(o.MaxBufferBytes),
		done: make(chan struct{}),
	}
	go t.readLoop()
	go func() {
		_, _ = cpty.Wait(context.Background())
	}()
	return t, nil
}

func buildCommandLine(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, syscall.EscapeArg(command))
	for _, a := range args {
		parts = append(parts, syscall.EscapeArg(a))
	}
	return strings.Join(parts, " ")
}

func (t *winTerminal) readLoop() {
	defer close(t.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := t.cpty.Read(buf)
		if n > 0 {
			t.buf.Append(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (t *winTerminal) WriteInput(p []byte) error {
	if !t.Alive() {
		return ErrClosed
	}
	_, err := t.cpty.Write(p)
	return err
}

func (t *winTerminal) ReadSince(offset int64) (string, int64) {
	return t.buf.ReadSince(offset)
}

func (t *winTerminal) End() int64 { return t.buf.End() }

// Interrupt writes ETX; ConPTY translates it into CTRL_C for the attached
// console process.
func (t *winTerminal) Interrupt() error {
	return t.WriteInput([]byte{0x03})
}

func (t *winTerminal) Resize(rows, cols uint16) error {
	if !t.Alive() {
		return ErrClosed
	}
	return t.cpty.Resize(int(cols), int(rows))
}

func (t *winTerminal) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *winTerminal) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.cpty.Close()
		<-t.done
	})
	return t.closeErr
}
