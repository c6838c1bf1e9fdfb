package session

import (
	"regexp"
	"strings"
)

// ContinuationPrefix marks output retrieved for a command that previously
// returned with a non-completed status, so the caller sees only the new
// increment instead of the whole prior transcript.
const ContinuationPrefix = "[Below is the output of the previous command.]\n"

var (
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
)

// sanitize normalizes raw pty output: ANSI control sequences are dropped
// and line endings collapse to \n.
func sanitize(raw string) string {
	s := csiRe.ReplaceAllString(raw, "")
	s = oscRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x07", "")
	return s
}

// extractOutput trims a sanitized pane view down to what the command itself
// produced: the echoed command line is removed from the front and any
// trailing bare prompt from the back.
func extractOutput(view, command, prompt string) string {
	out := view

	// The tty echoes the typed command before any output appears.
	if command != "" {
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			first := strings.TrimSpace(out[:i])
			if first == strings.TrimSpace(command) {
				out = out[i+1:]
			}
		} else if strings.TrimSpace(out) == strings.TrimSpace(command) {
			out = ""
		}
	}

	// Drop the prompt that reappeared after completion, plus any blank
	// tail it sits on.
	bare := strings.TrimRight(prompt, " ")
	for {
		trimmed := strings.TrimRight(out, " \t")
		i := strings.LastIndexByte(trimmed, '\n')
		last := trimmed[i+1:]
		if last != bare && last != strings.TrimSpace(prompt) {
			break
		}
		if i < 0 {
			out = ""
			break
		}
		out = trimmed[:i+1]
	}
	return out
}
