// Package config loads the server's yaml configuration with defaults and
// validation. Durations are written as strings ("30s", "2m") and parsed at
// load time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sessions SessionsConfig `yaml:"sessions"`
	History  HistoryConfig  `yaml:"history"`
	Policy   PolicyConfig   `yaml:"policy"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type AuthConfig struct {
	// Type: none | api_key
	Type   string `yaml:"type"`
	APIKey string `yaml:"api_key"`
	// Header the key is read from, default X-API-Key.
	Header string `yaml:"header"`
}

type LoggingConfig struct {
	// Level: debug | info | warn | error
	Level string `yaml:"level"`
	// Format: text | json
	Format string `yaml:"format"`
}

type SessionsConfig struct {
	Shell           string `yaml:"shell"`
	WorkDir         string `yaml:"work_dir"`
	MaxSessions     int    `yaml:"max_sessions"`
	MaxMemoryMB     int    `yaml:"max_memory_mb"`
	NoChangeTimeout string `yaml:"no_change_timeout"`
	HardTimeout     string `yaml:"hard_timeout"`
	PollInterval    string `yaml:"poll_interval"`
	// ExpireAfter is the max idle age used by the sweep endpoint when the
	// caller does not pass one.
	ExpireAfter string `yaml:"expire_after"`
	// CompletionDetector: prompt | marker
	CompletionDetector string `yaml:"completion_detector"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type PolicyConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
	// File is an optional yaml policy file that overrides Allow/Deny and
	// can be hot-reloaded.
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
		},
		Auth: AuthConfig{
			Type:   "none",
			Header: "X-API-Key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Sessions: SessionsConfig{
			MaxSessions:     100,
			NoChangeTimeout: "30s",
			HardTimeout:     "120s",
			PollInterval:    "100ms",
			ExpireAfter:     "1h",
		},
	}
}

// Load reads path into a Config on top of defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"server.read_timeout":        c.Server.ReadTimeout,
		"server.write_timeout":       c.Server.WriteTimeout,
		"sessions.no_change_timeout": c.Sessions.NoChangeTimeout,
		"sessions.hard_timeout":      c.Sessions.HardTimeout,
		"sessions.poll_interval":     c.Sessions.PollInterval,
		"sessions.expire_after":      c.Sessions.ExpireAfter,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config %s: invalid duration %q", name, v)
		}
	}
	switch c.Auth.Type {
	case "", "none", "api_key":
	default:
		return fmt.Errorf("config auth.type: unsupported %q", c.Auth.Type)
	}
	if c.Auth.Type == "api_key" && c.Auth.APIKey == "" {
		return fmt.Errorf("config auth.api_key is required when auth.type is api_key")
	}
	switch c.Sessions.CompletionDetector {
	case "", "prompt", "marker":
	default:
		return fmt.Errorf("config sessions.completion_detector: unsupported %q", c.Sessions.CompletionDetector)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("config history.path is required when history is enabled")
	}
	return nil
}

// Duration parses a duration field that Validate has already vetted,
// falling back when empty.
func Duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
