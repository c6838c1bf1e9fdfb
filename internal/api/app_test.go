package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/shellpane/shellpane/internal/config"
	"github.com/shellpane/shellpane/internal/events"
	"github.com/shellpane/shellpane/internal/executor"
	"github.com/shellpane/shellpane/internal/session"
	"github.com/shellpane/shellpane/internal/store/sqlite"
	"github.com/shellpane/shellpane/pkg/types"
)

func newTestApp(t *testing.T) (*App, *session.Manager) {
	t.Helper()
	cfg := config.Default()
	broker := events.NewBroker()
	mgr := session.NewManager(session.Options{}, 10, broker, nil)
	t.Cleanup(func() { mgr.ClearAll() })

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	exec := executor.New(executor.Options{
		Sessions: mgr,
		Policy:   executor.NewPolicy(nil, []string{"rm -rf /"}, nil),
		Broker:   broker,
		History:  store,
	})
	return NewApp(cfg, exec, mgr, broker, store, nil), mgr
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestExecute_Subprocess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash subprocess test")
	}
	app, _ := newTestApp(t)

	rec := doJSON(t, app.Router(), http.MethodPost, "/api/v1/execute", types.ExecRequest{Command: "echo hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var res types.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.IsSuccess() || !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecute_DeniedCommandIs403(t *testing.T) {
	app, _ := newTestApp(t)

	rec := doJSON(t, app.Router(), http.MethodPost, "/api/v1/execute", types.ExecRequest{Command: "rm -rf /", SessionID: "s1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var res types.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.ErrorMessage != "Command not allowed" || res.ReturnCode != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecute_RejectsEmptyRequest(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/api/v1/execute", types.ExecRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessions_ListEmpty(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var infos []types.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Fatalf("infos = %v", infos)
	}
}

func TestSessions_GetMissingIs404(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/sessions/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessions_Cleanup(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/api/v1/sessions/cleanup", map[string]any{"max_age_seconds": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["removed"] != 0 {
		t.Fatalf("removed = %d", out["removed"])
	}
}

func TestSessions_ClearAll(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodDelete, "/api/v1/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHistory_EmptySession(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/sessions/s1/history?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHistory_BadLimit(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/sessions/s1/history?limit=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuth_APIKey(t *testing.T) {
	app, _ := newTestApp(t)
	app.cfg.Auth.Type = "api_key"
	app.cfg.Auth.APIKey = "secret"
	router := app.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	router.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("with key: status = %d", ok.Code)
	}
}
