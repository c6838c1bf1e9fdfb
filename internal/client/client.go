// Package client is the thin HTTP client the CLI uses against a running
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shellpane/shellpane/internal/store/sqlite"
	"github.com/shellpane/shellpane/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Session commands can legitimately run for minutes; the command's
		// own timeouts bound them server-side.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Execute runs one command (or sends input) through the server.
func (c *Client) Execute(ctx context.Context, req types.ExecRequest) (types.CommandResult, error) {
	var out types.CommandResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/execute", nil, req, &out)
	// Policy denials come back 403 with a full result body; surface the
	// result, not a transport error.
	if err != nil && out.ErrorMessage != "" {
		return out, nil
	}
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	var out []types.SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (types.SessionInfo, error) {
	var out types.SessionInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) RemoveSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil, nil)
}

// ClearSessions removes every session and returns how many were removed.
func (c *Client) ClearSessions(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions", nil, nil, &out)
	return out.Removed, err
}

// CleanupSessions sweeps sessions idle longer than maxAge; zero uses the
// server default.
func (c *Client) CleanupSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	body := map[string]any{}
	if maxAge > 0 {
		body["max_age_seconds"] = int(maxAge / time.Second)
	}
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions/cleanup", nil, body, &out)
	return out.Removed, err
}

func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]sqlite.HistoryEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var out []sqlite.HistoryEntry
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/history"
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DialEvents opens the websocket event stream for one session.
func (c *Client) DialEvents(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/sessions/" + url.PathEscape(sessionID) + "/events"

	hdr := http.Header{}
	if c.apiKey != "" {
		hdr.Set("X-API-Key", c.apiKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial events: %w", err)
	}
	return conn, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if out != nil {
			// Decode the body anyway; execute returns a full result with 403.
			_ = json.Unmarshal(b, out)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
