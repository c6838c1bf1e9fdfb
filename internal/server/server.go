// Package server assembles the engine: config, logging, policy, session
// manager, history store, executor and the HTTP API, with graceful shutdown
// and an idle-session reaper.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shellpane/shellpane/internal/api"
	"github.com/shellpane/shellpane/internal/config"
	"github.com/shellpane/shellpane/internal/events"
	"github.com/shellpane/shellpane/internal/executor"
	"github.com/shellpane/shellpane/internal/session"
	"github.com/shellpane/shellpane/internal/store/sqlite"
	"github.com/shellpane/shellpane/pkg/observability"
)

// reapInterval is how often the idle-session sweeper runs.
const reapInterval = time.Minute

type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	broker   *events.Broker
	sessions *session.Manager
	policy   *executor.Policy
	history  *sqlite.Store
	exec     *executor.Executor

	httpServer *http.Server
	httpLn     net.Listener

	stopWatch      chan struct{}
	shutdownTraces func(context.Context) error
}

func New(cfg *config.Config) (*Server, error) {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	s := &Server{cfg: cfg, logger: logger, broker: events.NewBroker(), stopWatch: make(chan struct{})}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Init(context.Background())
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		s.shutdownTraces = shutdown
	}

	s.policy = executor.NewPolicy(cfg.Policy.Allow, cfg.Policy.Deny, logger)
	if cfg.Policy.File != "" {
		if err := s.policy.LoadFile(cfg.Policy.File); err != nil {
			return nil, err
		}
		if cfg.Policy.Watch {
			if err := s.policy.Watch(cfg.Policy.File, s.stopWatch); err != nil {
				return nil, fmt.Errorf("watch policy file: %w", err)
			}
		}
	}

	if cfg.History.Enabled {
		store, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		s.history = store
	}

	s.sessions = session.NewManager(sessionDefaults(cfg.Sessions), cfg.Sessions.MaxSessions, s.broker, logger)

	s.exec = executor.New(executor.Options{
		Sessions:       s.sessions,
		Policy:         s.policy,
		Broker:         s.broker,
		History:        s.history,
		Logger:         logger,
		DefaultTimeout: config.Duration(cfg.Sessions.HardTimeout, session.DefaultHardTimeout),
	})

	app := api.NewApp(cfg, s.exec, s.sessions, s.broker, s.history, logger)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	s.httpLn = ln
	s.httpServer = &http.Server{
		Handler:      app.Router(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
	}
	return s, nil
}

// Addr returns the bound listen address, useful when the config port is 0.
func (s *Server) Addr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if maxAge := config.Duration(s.cfg.Sessions.ExpireAfter, 0); maxAge > 0 {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.sessions.CleanupExpired(maxAge)
				}
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("server listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) Close() error {
	close(s.stopWatch)
	s.sessions.ClearAll()
	if s.shutdownTraces != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.shutdownTraces(ctx)
	}
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

func sessionDefaults(sc config.SessionsConfig) session.Options {
	return session.Options{
		Shell:             sc.Shell,
		WorkDir:           sc.WorkDir,
		MaxMemoryMB:       sc.MaxMemoryMB,
		NoChangeTimeout:   config.Duration(sc.NoChangeTimeout, session.DefaultNoChangeTimeout),
		HardTimeout:       config.Duration(sc.HardTimeout, session.DefaultHardTimeout),
		PollInterval:      config.Duration(sc.PollInterval, session.DefaultPollInterval),
		UseMarkerDetector: sc.CompletionDetector == "marker",
	}
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
