package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shellpane/shellpane/pkg/types"
)

func TestSession_ConstructedInert(t *testing.T) {
	s := New("inert", Options{WorkDir: t.TempDir()})
	if s.Initialized() {
		t.Fatal("new session must not be initialized")
	}
	if s.PrevStatus() != "" {
		t.Fatalf("prev status = %q, want empty", s.PrevStatus())
	}
	if s.Closed() {
		t.Fatal("new session must not be closed")
	}
	_ = s.Close()
}

func TestSession_EmptyCommandGuards(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("guards", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r, err := s.Execute(context.Background(), "", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.IsSuccess() {
		t.Fatal("empty command with nothing running must fail")
	}
	if !strings.Contains(r.ErrorMessage, "ERROR: No previous running command to retrieve logs from") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}

	r, err = s.Execute(context.Background(), "", ExecOpts{IsInput: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.ErrorMessage, "ERROR: No previous running command to interact with") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}
}

func TestSession_MultipleCommandsRejected(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("multi", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r, err := s.Execute(context.Background(), "echo one; echo two", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed (synchronous validation failure)", r.Status)
	}
	if !strings.Contains(r.ErrorMessage, "Cannot execute multiple commands at once") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}
	// Pipelines are one command and must not trip the guard.
	f2 := newFakeTerm(map[string]string{"ls | grep test": "test.go\n"})
	s2 := newTestSession("multi2", f2)
	if err := s2.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	r, err = s2.Execute(context.Background(), "ls | grep test", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsSuccess() {
		t.Fatalf("pipeline rejected: %+v", r)
	}
}

func TestSession_CompletedCommand(t *testing.T) {
	f := newFakeTerm(map[string]string{"echo FIRST": "FIRST\n"})
	s := newTestSession("completed", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r, err := s.Execute(context.Background(), "echo FIRST", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsSuccess() {
		t.Fatalf("result not success: %+v", r)
	}
	if !strings.Contains(r.Stdout, "FIRST") {
		t.Fatalf("stdout = %q", r.Stdout)
	}
	if strings.Contains(r.Stdout, "$ ") {
		t.Fatalf("prompt leaked into stdout: %q", r.Stdout)
	}
	if r.SessionID != "completed" {
		t.Fatalf("session id = %q", r.SessionID)
	}
	if s.PrevStatus() != types.StatusCompleted {
		t.Fatalf("prev status = %s", s.PrevStatus())
	}
	if s.Cwd() != "/work" {
		t.Fatalf("cwd = %q", s.Cwd())
	}
}

func TestSession_OutputIsolation(t *testing.T) {
	f := newFakeTerm(map[string]string{
		"echo FIRST":  "FIRST\n",
		"echo SECOND": "SECOND\n",
		"echo THIRD":  "THIRD\n",
	})
	s := newTestSession("isolation", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var results []types.CommandResult
	for _, cmd := range []string{"echo FIRST", "echo SECOND", "echo THIRD"} {
		r, err := s.Execute(context.Background(), cmd, ExecOpts{})
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, r)
	}
	markers := []string{"FIRST", "SECOND", "THIRD"}
	for i, r := range results {
		if !strings.Contains(r.Stdout, markers[i]) {
			t.Fatalf("result %d missing own marker: %q", i, r.Stdout)
		}
		for j, m := range markers {
			if j != i && strings.Contains(r.Stdout, m) {
				t.Fatalf("result %d leaked marker %s: %q", i, m, r.Stdout)
			}
		}
	}
}

func TestSession_NoChangeTimeout(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("nochange", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r, err := s.Execute(context.Background(), "hang", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != types.StatusNoChangeTimeout {
		t.Fatalf("status = %s, want no_change_timeout", r.Status)
	}
	if r.ReturnCode != types.TimeoutReturnCode {
		t.Fatalf("return code = %d, want -1", r.ReturnCode)
	}
	if !strings.Contains(r.ErrorMessage, "no new output after") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}
	if !r.IsRunning() {
		t.Fatal("no-change timeout must report the command as still running")
	}
}

func TestSession_ContinuationReturnsOnlyIncrement(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("cont", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Execute(context.Background(), "hang", ExecOpts{}); err != nil {
		t.Fatal(err)
	}

	f.appendOutput("chunk-one\n")
	r, err := s.Execute(context.Background(), "", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.Stdout, ContinuationPrefix) {
		t.Fatalf("continuation missing prefix: %q", r.Stdout)
	}
	if !strings.Contains(r.Stdout, "chunk-one") {
		t.Fatalf("continuation missing new output: %q", r.Stdout)
	}

	// Next retrieval must not repeat chunk-one.
	f.appendOutput("chunk-two\n")
	f.finish()
	r, err = s.Execute(context.Background(), "", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(r.Stdout, "chunk-one") {
		t.Fatalf("continuation repeated old output: %q", r.Stdout)
	}
	if !strings.Contains(r.Stdout, "chunk-two") {
		t.Fatalf("continuation missing second increment: %q", r.Stdout)
	}
	if r.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed after prompt returned", r.Status)
	}
}

func TestSession_HardTimeoutInterrupts(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("hard", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	start := time.Now()
	r, err := s.Execute(context.Background(), "hang", ExecOpts{Blocking: true, Timeout: 60 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != types.StatusHardTimeout {
		t.Fatalf("status = %s, want hard_timeout (blocking disables only the no-change clock)", r.Status)
	}
	if r.ReturnCode != types.TimeoutReturnCode {
		t.Fatalf("return code = %d, want -1", r.ReturnCode)
	}
	if !strings.Contains(r.ErrorMessage, "timed out after") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("returned before the hard budget: %s", elapsed)
	}
	if f.interrupts == 0 {
		t.Fatal("hard timeout must attempt to interrupt the foreground process")
	}
}

func TestSession_SecondCommandWhileRunningRejected(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("conflict", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Execute(context.Background(), "hang", ExecOpts{}); err != nil {
		t.Fatal(err)
	}
	r, err := s.Execute(context.Background(), "echo nope", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.IsSuccess() {
		t.Fatal("second command while one is outstanding must fail")
	}
	if !strings.Contains(r.ErrorMessage, "still running") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}
}

func TestSession_CanceledCallLeavesCommandOutstanding(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("canceled", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	r, err := s.Execute(ctx, "hang", ExecOpts{Blocking: true})
	if err == nil {
		t.Fatal("canceled call must surface the context error")
	}
	if !r.IsRunning() {
		t.Fatalf("status = %s, want a running status after cancellation", r.Status)
	}

	// The foreground is still owned by the canceled command: a new command
	// must be rejected, not written into the pane.
	r, err = s.Execute(context.Background(), "echo nope", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.IsSuccess() {
		t.Fatal("new command accepted while the canceled one still owns the pane")
	}
	if !strings.Contains(r.ErrorMessage, "still running") {
		t.Fatalf("error = %q", r.ErrorMessage)
	}
	for _, in := range f.inputs {
		if strings.Contains(in, "echo nope") {
			t.Fatalf("rejected command reached the pane: %q", f.inputs)
		}
	}

	// Retrieval with an empty command still works once the pane returns.
	f.finish()
	r, err = s.Execute(context.Background(), "", ExecOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed after prompt returned", r.Status)
	}
}

func TestSession_InputForwardedVerbatim(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("verbatim", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Execute(context.Background(), "hang", ExecOpts{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Execute(context.Background(), "  spaced reply  ", ExecOpts{IsInput: true}); err != nil {
		t.Fatal(err)
	}
	var sent bool
	for _, in := range f.inputs {
		if in == "  spaced reply  \n" {
			sent = true
		}
	}
	if !sent {
		t.Fatalf("input was not forwarded verbatim: %q", f.inputs)
	}
}

func TestSession_WhitespaceInputIsKeystrokes(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("ws-input", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Whitespace-only input is literal keystrokes, not the empty-command
	// guard.
	r, err := s.Execute(context.Background(), "   ", ExecOpts{IsInput: true})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(r.ErrorMessage, "No previous running command") {
		t.Fatalf("whitespace input misrouted to the empty-command guard: %q", r.ErrorMessage)
	}
	var sent bool
	for _, in := range f.inputs {
		if in == "   \n" {
			sent = true
		}
	}
	if !sent {
		t.Fatalf("whitespace input not forwarded: %q", f.inputs)
	}
}

func TestSession_SpecialKeyInterruptsRunningCommand(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("keys", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Execute(context.Background(), "hang", ExecOpts{}); err != nil {
		t.Fatal(err)
	}
	r, err := s.Execute(context.Background(), "C-c", ExecOpts{IsInput: true})
	if err != nil {
		t.Fatal(err)
	}
	if f.interrupts == 0 {
		t.Fatal("C-c must be delivered as a control byte, not literal text")
	}
	if r.Status != types.StatusCompleted {
		t.Fatalf("status after interrupt = %s", r.Status)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	f := newFakeTerm(nil)
	s := newTestSession("close", f)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if f.closes != 1 {
		t.Fatalf("pane closed %d times, want exactly once", f.closes)
	}
	if !s.Closed() {
		t.Fatal("session must report closed")
	}
}

func TestIsSpecialKey(t *testing.T) {
	for _, k := range []string{"C-c", "C-z", "C-d"} {
		if !IsSpecialKey(k) {
			t.Fatalf("%q must be a special key", k)
		}
	}
	for _, k := range []string{"", "ls", "c-c", "C-c extra"} {
		if IsSpecialKey(k) {
			t.Fatalf("%q must not be a special key", k)
		}
	}
}
