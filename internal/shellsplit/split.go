// Package shellsplit detects top-level command boundaries in a line of
// shell input. It understands quoting, escapes, command substitution and
// grouping well enough to tell "one command" from "several commands"; it is
// not a full shell parser. Pipelines and &&/|| chains count as a single
// command. When the input cannot be scanned cleanly (unterminated quote or
// substitution) the whole string is treated as one literal command.
package shellsplit

import "strings"

// Split returns the top-level commands in input, separated by unquoted `;`
// or newlines. Empty segments are dropped.
func Split(input string) []string {
	segs, err := scan(input)
	if err != nil {
		// Degrade to a single literal command rather than failing.
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IsSingleCommand reports whether input contains at most one top-level
// command.
func IsSingleCommand(input string) bool {
	return len(Split(input)) <= 1
}

type scanErr string

func (e scanErr) Error() string { return string(e) }

// scan walks the input once, tracking quote and nesting state, and cuts at
// top-level separators.
func scan(input string) ([]string, error) {
	var (
		segs    []string
		start   int
		depth   int // () {} $() ` ` nesting
		single  bool
		double  bool
		backtk  bool
		heredoc bool
	)
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case single:
			if c == '\'' {
				single = false
			}
		case double:
			if c == '\\' && i+1 < len(input) {
				i++
			} else if c == '"' {
				double = false
			}
		case backtk:
			if c == '`' {
				backtk = false
			}
		case c == '\\':
			i++ // escaped character, including escaped separators
		case c == '\'':
			single = true
		case c == '"':
			double = true
		case c == '`':
			backtk = true
		case c == '(' || c == '{':
			depth++
		case c == ')' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == '<' && i+1 < len(input) && input[i+1] == '<':
			// Heredoc bodies may contain anything; give up on splitting
			// past this point and keep the remainder together.
			heredoc = true
		case depth == 0 && !heredoc && (c == ';' || c == '\n'):
			segs = append(segs, input[start:i])
			start = i + 1
		}
		i++
	}
	if single || double || backtk {
		return nil, scanErr("unterminated quote")
	}
	if depth > 0 {
		return nil, scanErr("unterminated group")
	}
	segs = append(segs, input[start:])
	return segs, nil
}

// BaseCommand returns the first word of the first top-level command, used
// for policy matching. Quotes around the word are removed.
func BaseCommand(input string) string {
	cmds := Split(input)
	if len(cmds) == 0 {
		return ""
	}
	fields := strings.Fields(cmds[0])
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], `"'`)
}
