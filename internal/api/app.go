// Package api exposes the session engine over HTTP: one execute endpoint
// plus a small management surface for listing, removing and sweeping
// sessions, reading history, and tailing events.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shellpane/shellpane/internal/config"
	"github.com/shellpane/shellpane/internal/events"
	"github.com/shellpane/shellpane/internal/executor"
	"github.com/shellpane/shellpane/internal/session"
	"github.com/shellpane/shellpane/internal/store/sqlite"
	"github.com/shellpane/shellpane/pkg/types"
)

type App struct {
	cfg      *config.Config
	exec     *executor.Executor
	sessions *session.Manager
	broker   *events.Broker
	history  *sqlite.Store // nil when history is disabled
	logger   *slog.Logger
}

func NewApp(cfg *config.Config, exec *executor.Executor, sessions *session.Manager, broker *events.Broker, history *sqlite.Store, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, exec: exec, sessions: sessions, broker: broker, history: history, logger: logger}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.authMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/execute", a.execute)

		r.Get("/sessions", a.listSessions)
		r.Delete("/sessions", a.clearSessions)
		r.Post("/sessions/cleanup", a.cleanupSessions)
		r.Get("/sessions/{id}", a.getSession)
		r.Delete("/sessions/{id}", a.removeSession)
		r.Get("/sessions/{id}/history", a.sessionHistory)
		r.Get("/sessions/{id}/events", a.sessionEvents)
	})

	return r
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	if a.cfg == nil || strings.EqualFold(a.cfg.Auth.Type, "none") || a.cfg.Auth.Type == "" {
		return next
	}
	header := a.cfg.Auth.Header
	if header == "" {
		header = "X-API-Key"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(header) != a.cfg.Auth.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) execute(w http.ResponseWriter, r *http.Request) {
	var req types.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Command) == "" && req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "command is required"})
		return
	}

	res := a.exec.ExecuteCommand(r.Context(), req)
	status := http.StatusOK
	if res.ErrorMessage == "Command not allowed" {
		status = http.StatusForbidden
	}
	writeJSON(w, status, res)
}

func (a *App) listSessions(w http.ResponseWriter, r *http.Request) {
	infos := a.sessions.Infos()
	if infos == nil {
		infos = []types.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s := a.sessions.Get(id)
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *App) removeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.sessions.Remove(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

func (a *App) clearSessions(w http.ResponseWriter, r *http.Request) {
	n := a.sessions.ClearAll()
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (a *App) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxAgeSeconds int `json:"max_age_seconds"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	maxAge := config.Duration(a.cfg.Sessions.ExpireAfter, time.Hour)
	if req.MaxAgeSeconds > 0 {
		maxAge = time.Duration(req.MaxAgeSeconds) * time.Second
	}
	n := a.sessions.CleanupExpired(maxAge)
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (a *App) sessionHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "history not enabled"})
		return
	}
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := a.history.History(r.Context(), id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []sqlite.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
