package types

import (
	"fmt"
	"strings"
	"time"
)

// CommandStatus is the terminal status of a single execute call.
type CommandStatus string

const (
	// StatusContinue means the command is still running and no terminal
	// result has been observed yet.
	StatusContinue CommandStatus = "continue"
	// StatusCompleted means the command finished and its exit code is known.
	StatusCompleted CommandStatus = "completed"
	// StatusNoChangeTimeout means pane output stopped changing before the
	// command completed.
	StatusNoChangeTimeout CommandStatus = "no_change_timeout"
	// StatusHardTimeout means the wall-clock budget was exhausted.
	StatusHardTimeout CommandStatus = "hard_timeout"
)

// IsRunning reports whether the status describes a command that is still
// alive in its pane.
func (s CommandStatus) IsRunning() bool {
	switch s {
	case StatusContinue, StatusNoChangeTimeout, StatusHardTimeout:
		return true
	default:
		return false
	}
}

// TimeoutReturnCode is the return code reserved for timeout outcomes.
const TimeoutReturnCode = -1

// CommandResult is the immutable value produced by every execute call.
type CommandResult struct {
	ReturnCode   int           `json:"return_code"`
	Stdout       string        `json:"stdout"`
	Stderr       string        `json:"stderr,omitempty"`
	Status       CommandStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Command      string        `json:"command"`
	SessionID    string        `json:"session_id,omitempty"`
}

// IsSuccess reports whether the command completed with exit code zero and
// no error message.
func (r CommandResult) IsSuccess() bool {
	return r.ReturnCode == 0 && r.Status == StatusCompleted && r.ErrorMessage == ""
}

// IsRunning reports whether the underlying command may still be running.
func (r CommandResult) IsRunning() bool {
	return r.Status.IsRunning()
}

// Message is a one-line human summary of the result.
func (r CommandResult) Message() string {
	if r.IsSuccess() {
		return fmt.Sprintf("Command `%s` executed with exit code 0.", r.Command)
	}
	if r.ErrorMessage != "" {
		return fmt.Sprintf("Command `%s` failed: %s", r.Command, r.ErrorMessage)
	}
	return fmt.Sprintf("Command `%s` finished with status %s (exit code %d).", r.Command, r.Status, r.ReturnCode)
}

// AgentObservation is the terse rendering handed back to an agent on
// success: the session tag plus the incremental stdout.
func (r CommandResult) AgentObservation() string {
	var b strings.Builder
	if r.SessionID != "" {
		fmt.Fprintf(&b, "[Session ID: %s]\n", r.SessionID)
	}
	b.WriteString(r.Stdout)
	return b.String()
}

// FormatOutput is the verbose rendering used for failures and diagnostics.
func (r CommandResult) FormatOutput() string {
	var parts []string
	if r.SessionID != "" {
		parts = append(parts, fmt.Sprintf("Session ID: %s", r.SessionID))
	}
	if r.Stdout != "" {
		parts = append(parts, fmt.Sprintf("STDOUT:\n%s", r.Stdout))
	}
	if r.Stderr != "" {
		parts = append(parts, fmt.Sprintf("STDERR:\n%s", r.Stderr))
	}
	parts = append(parts, fmt.Sprintf("Status: %s", r.Status))
	parts = append(parts, fmt.Sprintf("Exit code: %d", r.ReturnCode))
	if r.ErrorMessage != "" {
		parts = append(parts, fmt.Sprintf("Error: %s", r.ErrorMessage))
	}
	return strings.Join(parts, "\n\n")
}

// ExecRequest is the boundary input for one execute call.
type ExecRequest struct {
	Command    string            `json:"command"`
	SessionID  string            `json:"session_id,omitempty"`
	IsInput    bool              `json:"is_input,omitempty"`
	Blocking   bool              `json:"blocking,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
}

// SessionInfo describes one live session for the management surface.
type SessionInfo struct {
	ID         string    `json:"id"`
	WorkDir    string    `json:"work_dir"`
	Cwd        string    `json:"cwd"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	PrevStatus string    `json:"prev_status,omitempty"`
	Closed     bool      `json:"closed"`
}
