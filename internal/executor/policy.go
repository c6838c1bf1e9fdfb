package executor

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/shellpane/shellpane/internal/shellsplit"
)

// Policy is the caller-configurable allow/deny list consulted before a
// command reaches a session. Patterns are globs matched against both the
// full command text and its base command; entries that fail to compile are
// kept as literal matches. Raw interactive input is never checked here.
type Policy struct {
	mu      sync.RWMutex
	allowed map[string]glob.Glob
	denied  map[string]glob.Glob
	logger  *slog.Logger
}

func NewPolicy(allow, deny []string, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{
		allowed: make(map[string]glob.Glob),
		denied:  make(map[string]glob.Glob),
		logger:  logger,
	}
	for _, pat := range allow {
		p.AllowCommand(pat)
	}
	for _, pat := range deny {
		p.DenyCommand(pat)
	}
	return p
}

func compilePattern(pattern string) glob.Glob {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil // literal fallback
	}
	return g
}

// AllowCommand whitelists a pattern and lifts any matching deny entry.
func (p *Policy) AllowCommand(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed[pattern] = compilePattern(pattern)
	delete(p.denied, pattern)
}

// DenyCommand blacklists a pattern.
func (p *Policy) DenyCommand(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied[pattern] = compilePattern(pattern)
	delete(p.allowed, pattern)
}

func matches(pattern string, g glob.Glob, command, base string) bool {
	if g != nil {
		return g.Match(command) || g.Match(base)
	}
	return pattern == command || pattern == base
}

// IsCommandAllowed reports whether the literal command text may run. The
// empty command is never allowed through the policy gate.
func (p *Policy) IsCommandAllowed(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	base := shellsplit.BaseCommand(command)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for pat, g := range p.allowed {
		if matches(pat, g, command, base) {
			return true
		}
	}
	for pat, g := range p.denied {
		if matches(pat, g, command, base) {
			return false
		}
	}
	return true
}

type policyFile struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadFile replaces the policy's contents from a yaml file.
func (p *Policy) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	p.mu.Lock()
	p.allowed = make(map[string]glob.Glob)
	p.denied = make(map[string]glob.Glob)
	p.mu.Unlock()
	for _, pat := range pf.Allow {
		p.AllowCommand(pat)
	}
	for _, pat := range pf.Deny {
		p.DenyCommand(pat)
	}
	p.logger.Info("command policy loaded", "path", path, "allow", len(pf.Allow), "deny", len(pf.Deny))
	return nil
}

// Watch reloads the policy file whenever it changes, until stop is closed.
// Reload failures keep the previous policy and are logged.
func (p *Policy) Watch(path string, stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.LoadFile(path); err != nil {
					p.logger.Warn("policy reload failed, keeping previous policy", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.logger.Warn("policy watcher error", "error", err)
			}
		}
	}()
	return nil
}
