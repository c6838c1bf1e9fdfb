//go:build !windows

package session

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/shellpane/shellpane/pkg/types"
)

// requireBash skips tests that need a real interactive shell.
func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	if testing.Short() {
		t.Skip("skipping pty integration test in short mode")
	}
}

func newBashSession(t *testing.T, id string) *Session {
	t.Helper()
	s := New(id, Options{
		WorkDir:         t.TempDir(),
		NoChangeTimeout: 2 * time.Second,
		HardTimeout:     30 * time.Second,
	})
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIntegration_EchoAndExitCode(t *testing.T) {
	requireBash(t)
	s := newBashSession(t, "it-echo")

	r, err := s.Execute(context.Background(), "echo 'hello world'", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsSuccess() {
		t.Fatalf("result: %+v", r)
	}
	if !strings.Contains(r.Stdout, "hello world") {
		t.Fatalf("stdout = %q", r.Stdout)
	}

	r, err = s.Execute(context.Background(), "false", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.ReturnCode != 1 || r.Status != types.StatusCompleted {
		t.Fatalf("false: rc=%d status=%s", r.ReturnCode, r.Status)
	}
}

func TestIntegration_VariablePersistence(t *testing.T) {
	requireBash(t)
	s := newBashSession(t, "it-vars")

	if r, err := s.Execute(context.Background(), "A='xxxx'", ExecOpts{}); err != nil || !r.IsSuccess() {
		t.Fatalf("assign: %+v err=%v", r, err)
	}
	r, err := s.Execute(context.Background(), "echo $A", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Stdout, "xxxx") {
		t.Fatalf("variable did not persist: %q", r.Stdout)
	}
	if got := r.AgentObservation(); !strings.HasPrefix(got, "[Session ID: it-vars]\n") {
		t.Fatalf("observation = %q", got)
	}
}

func TestIntegration_SessionIsolation(t *testing.T) {
	requireBash(t)
	s1 := newBashSession(t, "it-iso-1")
	s2 := newBashSession(t, "it-iso-2")

	if _, err := s1.Execute(context.Background(), "X='a'", ExecOpts{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Execute(context.Background(), "X='b'", ExecOpts{}); err != nil {
		t.Fatal(err)
	}

	r1, err := s1.Execute(context.Background(), "echo \"X=$X\"", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s2.Execute(context.Background(), "echo \"X=$X\"", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r1.Stdout, "X=a") {
		t.Fatalf("s1 stdout = %q", r1.Stdout)
	}
	if !strings.Contains(r2.Stdout, "X=b") {
		t.Fatalf("s2 stdout = %q", r2.Stdout)
	}
}

func TestIntegration_CwdTracksCd(t *testing.T) {
	requireBash(t)
	s := newBashSession(t, "it-cwd")

	r, err := s.Execute(context.Background(), "cd /tmp", ExecOpts{})
	if err != nil || !r.IsSuccess() {
		t.Fatalf("cd: %+v err=%v", r, err)
	}
	// Resolve symlinks (macOS /tmp -> /private/tmp).
	if cwd := s.Cwd(); !strings.HasSuffix(cwd, "/tmp") {
		t.Fatalf("cwd = %q", cwd)
	}
}

func TestIntegration_NoChangeTimeoutOnSleep(t *testing.T) {
	requireBash(t)
	s := newBashSession(t, "it-sleep")

	r, err := s.Execute(context.Background(), "sleep 30", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != types.StatusNoChangeTimeout {
		t.Fatalf("status = %s", r.Status)
	}
	if r.ReturnCode != types.TimeoutReturnCode {
		t.Fatalf("rc = %d", r.ReturnCode)
	}

	// Interrupt it and confirm the pane is still usable.
	if _, err := s.Execute(context.Background(), "C-c", ExecOpts{IsInput: true}); err != nil {
		t.Fatal(err)
	}
	r, err = s.Execute(context.Background(), "echo back", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Stdout, "back") {
		t.Fatalf("pane unusable after interrupt: %+v", r)
	}
}

func TestIntegration_InteractiveInput(t *testing.T) {
	requireBash(t)
	s := newBashSession(t, "it-input")

	r, err := s.Execute(context.Background(), "read -p 'name: ' NAME && echo \"got $NAME\"", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != types.StatusNoChangeTimeout {
		t.Fatalf("read should stall: %+v", r)
	}
	r, err = s.Execute(context.Background(), "gopher", ExecOpts{IsInput: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.Stdout, "got gopher") {
		t.Fatalf("stdout = %q", r.Stdout)
	}
}
