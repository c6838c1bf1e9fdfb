package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellpane/shellpane/internal/shellsplit"
	"github.com/shellpane/shellpane/internal/terminal"
	"github.com/shellpane/shellpane/pkg/types"
)

// DefaultPrompt is the minimal, parser-friendly prompt installed in every
// pane at initialize time.
const DefaultPrompt = "$ "

const (
	// DefaultNoChangeTimeout is how long unchanged pane output is
	// tolerated before a non-blocking call returns early.
	DefaultNoChangeTimeout = 30 * time.Second
	// DefaultHardTimeout is the wall-clock budget for one execute call.
	DefaultHardTimeout = 120 * time.Second
	// DefaultPollInterval is the pane read cadence. Tunable; nothing in
	// the engine depends on its exact value.
	DefaultPollInterval = 100 * time.Millisecond

	// probeTimeout bounds the wait for the hidden exit-code probe.
	probeTimeout = 3 * time.Second
	// initTimeout bounds the wait for the first prompt after spawn.
	initTimeout = 10 * time.Second
)

const (
	errNoCommandForLogs  = "ERROR: No previous running command to retrieve logs from"
	errNoCommandForInput = "ERROR: No previous running command to interact with"
	errMultipleCommands  = "Cannot execute multiple commands at once"
	errStillRunning      = "ERROR: Previous command is still running. Send an empty command to retrieve its logs, or use is_input to interact with it"
)

// Options configures a session at construction time.
type Options struct {
	WorkDir  string
	Username string // cosmetic, recorded on logs only

	NoChangeTimeout time.Duration
	HardTimeout     time.Duration
	PollInterval    time.Duration
	MaxMemoryMB     int

	Shell     string   // default /bin/bash
	ShellArgs []string // default --norc --noprofile -i for bash

	// UseMarkerDetector selects the echoed-marker completion strategy
	// instead of prompt reappearance, for shells with customized prompts.
	UseMarkerDetector bool

	Logger *slog.Logger

	// startTerminal is swappable in tests.
	startTerminal func(terminal.Options) (terminal.Terminal, error)
}

// Session is the state machine over one terminal pane. All activity is
// serialized through its mutex: at most one execute call runs at a time,
// and at most one real command may be outstanding.
type Session struct {
	ID string

	mu   sync.Mutex
	opts Options

	term     terminal.Terminal
	detector Detector
	prompt   string
	logger   *slog.Logger

	createdAt  time.Time
	cwd        string
	prevStatus types.CommandStatus // "" until the first command finishes a call
	prevOutput string
	runningCmd string // the command still in flight, if any
	cmdStart   int64  // pane offset where the current command's output begins

	initialized bool
	closed      bool
}

// New constructs an inert session. Initialize must be called before Execute.
func New(id string, opts Options) *Session {
	if opts.NoChangeTimeout <= 0 {
		opts.NoChangeTimeout = DefaultNoChangeTimeout
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = DefaultHardTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.ShellArgs == nil && strings.HasSuffix(opts.Shell, "bash") {
		opts.ShellArgs = []string{"--norc", "--noprofile", "-i"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.startTerminal == nil {
		opts.startTerminal = terminal.Start
	}

	s := &Session{
		ID:        id,
		opts:      opts,
		prompt:    DefaultPrompt,
		logger:    opts.Logger.With("session_id", id),
		createdAt: time.Now().UTC(),
		cwd:       opts.WorkDir,
	}
	// Leak safety only; production callers close sessions explicitly.
	runtime.SetFinalizer(s, func(s *Session) { _ = s.Close() })
	return s
}

// Initialize spawns the pane and installs the minimal prompt. A failure to
// spawn propagates: no CommandResult can exist yet.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if s.closed {
		return fmt.Errorf("session %s: already closed", s.ID)
	}

	workDir, err := filepath.Abs(s.opts.WorkDir)
	if err != nil {
		return fmt.Errorf("session %s: resolve work dir: %w", s.ID, err)
	}

	env := append(os.Environ(),
		"PS1="+DefaultPrompt,
		"PS2=",
		"PROMPT_COMMAND=",
		"TERM=dumb",
	)
	term, err := s.opts.startTerminal(terminal.Options{
		Shell:       s.opts.Shell,
		Args:        s.opts.ShellArgs,
		Dir:         workDir,
		Env:         env,
		MaxMemoryMB: s.opts.MaxMemoryMB,
	})
	if err != nil {
		return fmt.Errorf("session %s: spawn pane: %w", s.ID, err)
	}
	s.term = term
	if s.opts.UseMarkerDetector {
		s.detector = NewMarkerDetector(term)
	} else {
		s.detector = &PromptDetector{Prompt: s.prompt}
	}

	// Wait for the shell to come up and print its first prompt.
	deadline := time.Now().Add(initTimeout)
	for {
		view, _ := term.ReadSince(0)
		if strings.HasSuffix(sanitize(view), s.prompt) {
			break
		}
		if time.Now().After(deadline) {
			_ = term.Close()
			s.term = nil
			return fmt.Errorf("session %s: shell did not produce a prompt within %s", s.ID, initTimeout)
		}
		time.Sleep(s.opts.PollInterval)
	}

	s.cmdStart = term.End()
	s.cwd = workDir
	s.initialized = true
	s.logger.Debug("session initialized", "work_dir", workDir, "shell", s.opts.Shell, "username", s.opts.Username)
	return nil
}

// ExecOpts modulates one Execute call.
type ExecOpts struct {
	// IsInput forwards the text to the running foreground process instead
	// of starting a new command.
	IsInput bool
	// Blocking disables the no-change clock; the hard clock still applies.
	Blocking bool
	// Timeout overrides the session's hard timeout for this call.
	Timeout time.Duration
}

// Execute runs one command, forwards input to a running command, or
// retrieves fresh logs for one, depending on command/IsInput. It always
// returns a CommandResult; the error is non-nil only for pane-level
// failures the caller must normalize.
func (s *Session) Execute(ctx context.Context, command string, opts ExecOpts) (types.CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !opts.IsInput {
		// Interactive input goes to the pane verbatim; only real commands
		// are trimmed.
		command = strings.TrimSpace(command)
	}
	if !s.initialized || s.closed || s.term == nil {
		return s.errorResult(command, "session is not available"), fmt.Errorf("session %s: not initialized or closed", s.ID)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.opts.HardTimeout
	}
	running := s.prevStatus.IsRunning() && s.term.Alive()

	if command == "" {
		if !running {
			if opts.IsInput {
				return s.errorResult(command, errNoCommandForInput), nil
			}
			return s.errorResult(command, errNoCommandForLogs), nil
		}
		// Retrieve-logs continuation: keep waiting on the outstanding
		// command without writing anything.
		return s.waitForCompletion(ctx, s.runningCmd, opts, timeout, true)
	}

	if opts.IsInput {
		if err := s.sendInput(command); err != nil {
			return s.errorResult(command, fmt.Sprintf("failed to send input: %v", err)), err
		}
		if !running {
			// Keystrokes with nothing in flight: the shell handles them
			// as a fresh command line; treat it like a normal wait.
			s.runningCmd = command
			s.cmdStart = s.term.End()
			s.prevOutput = ""
			s.detector.Reset()
			return s.waitForCompletion(ctx, command, opts, timeout, false)
		}
		return s.waitForCompletion(ctx, s.runningCmd, opts, timeout, true)
	}

	if running {
		r := s.errorResult(command, errStillRunning)
		r.Status = s.prevStatus
		return r, nil
	}
	if !shellsplit.IsSingleCommand(command) {
		r := s.errorResult(command, errMultipleCommands)
		r.ReturnCode = 1
		return r, nil
	}

	s.cmdStart = s.term.End()
	s.runningCmd = command
	s.prevOutput = ""
	s.detector.Reset()
	if err := s.term.WriteInput([]byte(command + "\n")); err != nil {
		s.runningCmd = ""
		return s.errorResult(command, fmt.Sprintf("failed to write command to pane: %v", err)), err
	}
	return s.waitForCompletion(ctx, command, opts, timeout, false)
}

// sendInput forwards either a named special key or literal keystrokes plus
// enter to the pane.
func (s *Session) sendInput(input string) error {
	if b, ok := specialKeyByte(input); ok {
		return s.term.WriteInput([]byte{b})
	}
	return s.term.WriteInput([]byte(input + "\n"))
}

// waitForCompletion is the poll loop racing completion detection against
// the two timeout clocks.
func (s *Session) waitForCompletion(ctx context.Context, command string, opts ExecOpts, timeout time.Duration, continuation bool) (types.CommandResult, error) {
	start := time.Now()
	lastChange := start
	lastView := ""

	for {
		select {
		case <-ctx.Done():
			// The caller went away; the foreground command did not. Record
			// it as still outstanding so the next call hits the
			// one-command guard instead of writing into an owned pane.
			raw, _ := s.term.ReadSince(s.cmdStart)
			r := s.finishTimeout(command, sanitize(raw), types.StatusContinue,
				fmt.Sprintf("execution canceled: %v", ctx.Err()), continuation)
			return r, ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}

		raw, _ := s.term.ReadSince(s.cmdStart)
		view := sanitize(raw)
		if view != lastView {
			lastChange = time.Now()
			lastView = view
		}

		if s.detector.Finished(view) {
			return s.finishCompleted(command, view, continuation), nil
		}
		if time.Since(start) > timeout {
			// Best-effort interrupt; the pane stays alive either way.
			if err := s.term.Interrupt(); err != nil {
				s.logger.Warn("interrupt after hard timeout failed", "error", err)
			}
			msg := fmt.Sprintf("The command timed out after %d seconds. It was interrupted best-effort and may still be running; send an empty command to retrieve more logs, or C-c as input to insist.", int(timeout.Seconds()))
			return s.finishTimeout(command, view, types.StatusHardTimeout, msg, continuation), nil
		}
		if !opts.Blocking && time.Since(lastChange) > s.opts.NoChangeTimeout {
			msg := fmt.Sprintf("The command has no new output after %d seconds. Send an empty command to retrieve additional logs, text with is_input to interact with the process, or a special key such as C-c to interrupt it.", int(s.opts.NoChangeTimeout.Seconds()))
			return s.finishTimeout(command, view, types.StatusNoChangeTimeout, msg, continuation), nil
		}
	}
}

func (s *Session) finishCompleted(command, view string, continuation bool) types.CommandResult {
	rc, cwd := s.queryExitCode()
	output := extractOutput(s.detector.Scrub(view), command, s.prompt)
	if continuation {
		output = ContinuationPrefix + strings.TrimPrefix(output, s.prevOutput)
	}
	if cwd != "" {
		s.cwd = cwd
	}

	s.prevStatus = types.StatusCompleted
	s.prevOutput = ""
	s.runningCmd = ""
	s.cmdStart = s.term.End()

	return types.CommandResult{
		ReturnCode: rc,
		Stdout:     output,
		Status:     types.StatusCompleted,
		Command:    command,
		SessionID:  s.ID,
	}
}

func (s *Session) finishTimeout(command, view string, status types.CommandStatus, msg string, continuation bool) types.CommandResult {
	full := extractOutput(s.detector.Scrub(view), command, s.prompt)
	output := full
	if continuation {
		output = ContinuationPrefix + strings.TrimPrefix(full, s.prevOutput)
	}
	s.prevOutput = full
	s.prevStatus = status

	return types.CommandResult{
		ReturnCode:   types.TimeoutReturnCode,
		Stdout:       output,
		Status:       status,
		ErrorMessage: msg,
		Command:      command,
		SessionID:    s.ID,
	}
}

var exitProbeRe = regexp.MustCompile(`__SHELLPANE_RC_[0-9a-f]+__(\d+):([^\n]*)`)

// queryExitCode recovers the finished command's exit code and working
// directory through a hidden probe, without corrupting the visible output:
// everything the probe prints lands past cmdStart's next reset point.
func (s *Session) queryExitCode() (int, string) {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	marker := "__SHELLPANE_RC_" + nonce + "__"
	probeStart := s.term.End()
	if err := s.term.WriteInput([]byte(`echo "` + marker + `$?:$PWD"` + "\n")); err != nil {
		s.logger.Warn("exit code probe write failed", "error", err)
		return 0, ""
	}

	deadline := time.Now().Add(probeTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(s.opts.PollInterval)
		raw, _ := s.term.ReadSince(probeStart)
		view := sanitize(raw)
		// The echoed probe line still contains the literal "$?", so only
		// the expanded output line matches the digits group.
		for _, m := range exitProbeRe.FindAllStringSubmatch(view, -1) {
			if !strings.Contains(m[0], marker) {
				continue
			}
			rc, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return rc, strings.TrimSpace(m[2])
		}
	}
	s.logger.Warn("exit code probe timed out; assuming 0")
	return 0, ""
}

func (s *Session) errorResult(command, msg string) types.CommandResult {
	return types.CommandResult{
		ReturnCode:   1,
		Status:       types.StatusCompleted,
		ErrorMessage: msg,
		Command:      command,
		SessionID:    s.ID,
	}
}

// Close tears the pane down exactly once. Errors are logged, never
// returned; a second call is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)
	if s.term != nil {
		if err := s.term.Close(); err != nil {
			s.logger.Warn("pane teardown failed", "error", err)
		}
		s.term = nil
	}
	s.logger.Debug("session closed")
	return nil
}

// Cwd returns the pane's current working directory as last observed.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// PrevStatus returns the terminal status of the most recent call, or ""
// before any command has run.
func (s *Session) PrevStatus() types.CommandStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevStatus
}

// Initialized reports whether the pane has been spawned.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Info snapshots the session for the management surface.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionInfo{
		ID:         s.ID,
		WorkDir:    s.opts.WorkDir,
		Cwd:        s.cwd,
		CreatedAt:  s.createdAt,
		PrevStatus: string(s.prevStatus),
		Closed:     s.closed,
	}
}
