package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/shellpane/shellpane/internal/terminal"
)

// Detector decides when the foreground command in a pane has finished.
// Implementations are interchangeable strategies: prompt reappearance for
// the controlled prompt the session installs, or an echoed marker for
// shells whose prompt cannot be trusted.
type Detector interface {
	// Reset is called when a new command is issued.
	Reset()
	// Finished inspects the sanitized pane view captured since the command
	// was issued and reports whether the command has returned to the shell.
	Finished(view string) bool
	// Scrub removes any detector-injected artifacts from output handed
	// back to the caller.
	Scrub(view string) string
}

// PromptDetector treats the session's known prompt marker reappearing as
// the last pane line as completion.
type PromptDetector struct {
	Prompt string
}

func (d *PromptDetector) Reset() {}

func (d *PromptDetector) Finished(view string) bool {
	if view == "" {
		return false
	}
	trimmed := strings.TrimRight(view, " \t")
	last := trimmed
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		last = trimmed[i+1:]
	} else {
		// Nothing but the echoed command so far.
		return false
	}
	return last == strings.TrimRight(d.Prompt, " ")
}

func (d *PromptDetector) Scrub(view string) string { return view }

// MarkerDetector is the fallback strategy for customized prompts: once the
// pane has been quiet for a couple of polls it injects a hidden command
// that echoes a unique marker, and treats the marker's appearance as
// completion. The echoed probe line itself never matches because the
// marker only counts at the start of its own line.
type MarkerDetector struct {
	term terminal.Terminal

	marker     string
	markerRe   *regexp.Regexp
	probeSent  bool
	lastView   string
	quietPolls int
}

func NewMarkerDetector(term terminal.Terminal) *MarkerDetector {
	d := &MarkerDetector{term: term}
	d.Reset()
	return d
}

func (d *MarkerDetector) Reset() {
	d.marker = fmt.Sprintf("__SHELLPANE_DONE_%s__", uuid.NewString()[:8])
	d.markerRe = regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(d.marker) + `$`)
	d.probeSent = false
	d.lastView = ""
	d.quietPolls = 0
}

func (d *MarkerDetector) Finished(view string) bool {
	if d.probeSent && d.markerRe.MatchString(view) {
		return true
	}
	if view == d.lastView {
		d.quietPolls++
	} else {
		d.quietPolls = 0
		d.lastView = view
	}
	// A quiet pane suggests the command is done; probe to find out. If the
	// probe was swallowed as stdin by a still-running program, re-arm
	// after a longer quiet stretch.
	if d.quietPolls >= 2 && (!d.probeSent || d.quietPolls%20 == 0) {
		_ = d.term.WriteInput([]byte("echo \"" + d.marker + "\"\n"))
		d.probeSent = true
	}
	return false
}

func (d *MarkerDetector) Scrub(view string) string {
	if d.marker == "" || !strings.Contains(view, d.marker) {
		return view
	}
	lines := strings.Split(view, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		if strings.Contains(ln, d.marker) {
			continue
		}
		kept = append(kept, ln)
	}
	return strings.Join(kept, "\n")
}
