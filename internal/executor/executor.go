// Package executor is the stateless-per-call façade callers drive: it
// resolves session-or-subprocess mode, applies the command policy, injects
// environment, and normalizes every outcome into a CommandResult. No error
// or panic crosses this boundary raw.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shellpane/shellpane/internal/events"
	"github.com/shellpane/shellpane/internal/session"
	"github.com/shellpane/shellpane/pkg/observability"
	"github.com/shellpane/shellpane/pkg/types"
)

const errCommandNotAllowed = "Command not allowed"

// envExportTimeout bounds each injected export command.
const envExportTimeout = 10 * time.Second

// HistoryRecorder persists finished commands; the sqlite store implements
// it. Recording failures never affect the command result.
type HistoryRecorder interface {
	RecordCommand(ctx context.Context, res types.CommandResult, duration time.Duration) error
}

// Options wires an Executor.
type Options struct {
	Sessions *session.Manager // required for session mode
	Policy   *Policy          // nil means allow everything
	Broker   *events.Broker   // optional
	History  HistoryRecorder  // optional
	Logger   *slog.Logger

	DefaultTimeout  time.Duration // hard budget when the request has none
	SubprocessShell string        // default /bin/bash -c (cmd /C on Windows)
}

type Executor struct {
	sessions *session.Manager
	policy   *Policy
	broker   *events.Broker
	history  HistoryRecorder
	logger   *slog.Logger

	defaultTimeout  time.Duration
	subprocessShell string
}

func New(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = session.DefaultHardTimeout
	}
	return &Executor{
		sessions:        opts.Sessions,
		policy:          opts.Policy,
		broker:          opts.Broker,
		history:         opts.History,
		logger:          opts.Logger,
		defaultTimeout:  opts.DefaultTimeout,
		subprocessShell: opts.SubprocessShell,
	}
}

// AllowCommand and DenyCommand mutate the policy in place.
func (e *Executor) AllowCommand(pattern string) {
	if e.policy != nil {
		e.policy.AllowCommand(pattern)
	}
}

func (e *Executor) DenyCommand(pattern string) {
	if e.policy != nil {
		e.policy.DenyCommand(pattern)
	}
}

// IsCommandAllowed exposes the policy check for callers that want to
// pre-validate.
func (e *Executor) IsCommandAllowed(command string) bool {
	if e.policy == nil {
		return strings.TrimSpace(command) != ""
	}
	return e.policy.IsCommandAllowed(command)
}

// ExecuteCommand runs one request and always returns a CommandResult, even
// for internal failures.
func (e *Executor) ExecuteCommand(ctx context.Context, req types.ExecRequest) (res types.CommandResult) {
	started := time.Now()
	ctx, span := observability.TraceCommand(ctx, req.SessionID, req.Command, req.IsInput)

	defer func() {
		if r := recover(); r != nil {
			res = types.CommandResult{
				ReturnCode:   1,
				Status:       types.StatusCompleted,
				ErrorMessage: fmt.Sprintf("Error executing command in session: internal panic: %v", r),
				Command:      req.Command,
				SessionID:    req.SessionID,
			}
		}
		observability.EndCommand(span, string(res.Status), res.ReturnCode, res.ErrorMessage)
		e.record(ctx, res, time.Since(started))
		e.publish(req, res)
	}()

	timeout := e.parseTimeout(req.Timeout)
	if req.SessionID == "" {
		return e.runSubprocess(ctx, req, timeout)
	}
	return e.runInSession(ctx, req, timeout)
}

func (e *Executor) runInSession(ctx context.Context, req types.ExecRequest, timeout time.Duration) types.CommandResult {
	command := strings.TrimSpace(req.Command)

	// Permission policy applies to commands, never to raw interactive input.
	if !req.IsInput && command != "" && e.policy != nil && !e.policy.IsCommandAllowed(command) {
		e.logger.Info("command rejected by policy", "session_id", req.SessionID, "command", command)
		return types.CommandResult{
			ReturnCode:   1,
			Status:       types.StatusCompleted,
			ErrorMessage: errCommandNotAllowed,
			Command:      req.Command,
			SessionID:    req.SessionID,
		}
	}

	if e.sessions == nil {
		return e.sessionError(req, fmt.Errorf("session manager not configured"))
	}
	sess, err := e.sessions.GetOrCreate(req.SessionID, req.WorkingDir, nil)
	if err != nil {
		return e.sessionError(req, err)
	}

	if len(req.Env) > 0 && !req.IsInput {
		e.injectEnv(ctx, sess, req.Env)
	}

	if e.broker != nil && !req.IsInput && command != "" {
		e.broker.Publish(types.Event{
			ID:        uuid.NewString(),
			SessionID: req.SessionID,
			Kind:      types.EventCommandStarted,
			Command:   command,
			Timestamp: time.Now().UTC(),
		})
	}

	res, err := sess.Execute(ctx, req.Command, session.ExecOpts{
		IsInput:  req.IsInput,
		Blocking: req.Blocking,
		Timeout:  timeout,
	})
	if err != nil {
		if res.ErrorMessage == "" {
			res.ErrorMessage = fmt.Sprintf("Error executing command in session: %v", err)
		} else {
			res.ErrorMessage = fmt.Sprintf("Error executing command in session: %s", res.ErrorMessage)
		}
		if res.Status == "" {
			res.Status = types.StatusCompleted
		}
		if res.ReturnCode == 0 {
			res.ReturnCode = 1
		}
	}
	res.SessionID = req.SessionID
	if res.Command == "" {
		res.Command = req.Command
	}
	return res
}

// injectEnv exports each entry inside the session before the real command.
// Failures are logged and do not abort the main command.
func (e *Executor) injectEnv(ctx context.Context, sess *session.Session, env map[string]string) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd := fmt.Sprintf("export %s=%s", k, shellQuote(env[k]))
		r, err := sess.Execute(ctx, cmd, session.ExecOpts{Timeout: envExportTimeout})
		if err != nil || !r.IsSuccess() {
			e.logger.Warn("environment export failed", "session_id", sess.ID, "key", k, "error", err, "result_error", r.ErrorMessage)
		}
	}
}

func (e *Executor) sessionError(req types.ExecRequest, err error) types.CommandResult {
	e.logger.Error("session execution failed", "session_id", req.SessionID, "error", err)
	return types.CommandResult{
		ReturnCode:   1,
		Status:       types.StatusCompleted,
		ErrorMessage: fmt.Sprintf("Error executing command in session: %v", err),
		Command:      req.Command,
		SessionID:    req.SessionID,
	}
}

func (e *Executor) parseTimeout(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return e.defaultTimeout
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	// Bare numbers are seconds.
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	e.logger.Warn("unparseable timeout, using default", "timeout", raw, "default", e.defaultTimeout)
	return e.defaultTimeout
}

func (e *Executor) record(ctx context.Context, res types.CommandResult, d time.Duration) {
	if e.history == nil {
		return
	}
	if err := e.history.RecordCommand(ctx, res, d); err != nil {
		e.logger.Warn("history record failed", "session_id", res.SessionID, "error", err)
	}
}

func (e *Executor) publish(req types.ExecRequest, res types.CommandResult) {
	if e.broker == nil || req.SessionID == "" {
		return
	}
	kind := types.EventCommandFinished
	switch {
	case req.IsInput:
		kind = types.EventInputSent
	case res.Status == types.StatusNoChangeTimeout || res.Status == types.StatusHardTimeout:
		kind = types.EventCommandTimeout
	}
	e.broker.Publish(types.Event{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Kind:      kind,
		Command:   req.Command,
		Status:    res.Status,
		ExitCode:  res.ReturnCode,
		Timestamp: time.Now().UTC(),
	})
}

// shellQuote single-quotes a value for safe interpolation into a shell
// command line.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
