package session

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shellpane/shellpane/internal/terminal"
)

// fakeTerm scripts pane behavior so the state machine can be exercised
// deterministically without an OS shell. Commands found in script complete
// immediately with their output; unknown commands hang until the test
// appends output or a prompt by hand.
type fakeTerm struct {
	mu         sync.Mutex
	data       []byte
	script     map[string]string
	cwd        string
	exitCode   int
	alive      bool
	interrupts int
	closes     int
	inputs     []string
}

var fakeProbeRe = regexp.MustCompile(`^echo "(__SHELLPANE_RC_[0-9a-f]+__)\$\?:\$PWD"$`)

func newFakeTerm(script map[string]string) *fakeTerm {
	f := &fakeTerm{script: script, cwd: "/work", alive: true}
	f.append("$ ") // initial prompt
	return f
}

func (f *fakeTerm) append(s string) {
	f.data = append(f.data, s...)
}

func (f *fakeTerm) appendOutput(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.append(s)
}

// finish simulates the hanging foreground command returning to the prompt.
func (f *fakeTerm) finish() {
	f.appendOutput("$ ")
}

func (f *fakeTerm) WriteInput(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return terminal.ErrClosed
	}
	s := string(p)
	f.inputs = append(f.inputs, s)

	if len(p) == 1 && p[0] < 0x20 {
		if p[0] == 0x03 {
			f.interrupts++
			f.append("^C\n$ ")
		}
		return nil
	}

	line := strings.TrimSuffix(s, "\n")
	f.append(line + "\n") // tty echo

	if m := fakeProbeRe.FindStringSubmatch(line); m != nil {
		f.append(m[1] + itoa(f.exitCode) + ":" + f.cwd + "\n$ ")
		return nil
	}
	if out, ok := f.script[line]; ok {
		f.append(out)
		f.append("$ ")
	}
	// Unknown commands hang: echo only, no prompt.
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		return "-" + string(b)
	}
	return string(b)
}

func (f *fakeTerm) ReadSince(offset int64) (string, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(f.data)) {
		offset = int64(len(f.data))
	}
	return string(f.data[offset:]), int64(len(f.data))
}

func (f *fakeTerm) End() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data))
}

func (f *fakeTerm) Interrupt() error {
	return f.WriteInput([]byte{0x03})
}

func (f *fakeTerm) Resize(rows, cols uint16) error { return nil }

func (f *fakeTerm) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTerm) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.alive = false
	return nil
}

// newTestSession wires a session to a fake terminal with short clocks.
func newTestSession(id string, f *fakeTerm) *Session {
	s := New(id, Options{
		WorkDir:         "/work",
		NoChangeTimeout: 40 * time.Millisecond,
		HardTimeout:     300 * time.Millisecond,
		PollInterval:    2 * time.Millisecond,
		startTerminal: func(terminal.Options) (terminal.Terminal, error) {
			return f, nil
		},
	})
	return s
}
