package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/shellpane/shellpane/pkg/types"
)

// runSubprocess is the backward-compatible one-shot mode: a single
// independent process, no session, no state across calls.
func (e *Executor) runSubprocess(ctx context.Context, req types.ExecRequest, timeout time.Duration) types.CommandResult {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return types.CommandResult{
			ReturnCode:   1,
			Status:       types.StatusCompleted,
			ErrorMessage: "Command is required",
			Command:      req.Command,
		}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, flag := e.subprocessInvocation()
	cmd := exec.CommandContext(cctx, shell, flag, command)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if cctx.Err() == context.DeadlineExceeded {
		return types.CommandResult{
			ReturnCode:   types.TimeoutReturnCode,
			Stdout:       stdout.String(),
			Stderr:       stderr.String(),
			Status:       types.StatusHardTimeout,
			ErrorMessage: fmt.Sprintf("The command timed out after %d seconds.", int(timeout.Seconds())),
			Command:      req.Command,
		}
	}

	rc := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			rc = ee.ExitCode()
		} else {
			return types.CommandResult{
				ReturnCode:   1,
				Stdout:       stdout.String(),
				Stderr:       stderr.String(),
				Status:       types.StatusCompleted,
				ErrorMessage: fmt.Sprintf("Error executing command: %v", err),
				Command:      req.Command,
			}
		}
	}

	res := types.CommandResult{
		ReturnCode: rc,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Status:     types.StatusCompleted,
		Command:    req.Command,
	}
	if rc != 0 {
		res.ErrorMessage = fmt.Sprintf("Command exited with code %d", rc)
	}
	return res
}

func (e *Executor) subprocessInvocation() (shell, flag string) {
	if e.subprocessShell != "" {
		return e.subprocessShell, "-c"
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe", "/C"
	}
	return "/bin/bash", "-c"
}
