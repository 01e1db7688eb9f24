// Package client talks to a running memocapture server over HTTP and WebSocket.
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

	"github.com/coder/websocket"

	"github.com/audiolibrelab/memocapture/internal/api"
	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/shortcut"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

// APIError is a failed response. It unwraps to the sentinel behind its code,
// so errors.Is works across the wire.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return api.ErrorForCode(e.Code) }

// Client is an HTTP client for the server API
type Client struct {
	base string
	http *http.Client
}

// New creates a client for addr, either "host:port" or a full URL
func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) do(ctx context.Context, method, path string, body any) (*api.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var resp api.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s %s response (HTTP %d): %w", method, path, res.StatusCode, err)
	}
	if !resp.Success {
		return nil, &APIError{StatusCode: res.StatusCode, Code: resp.Code, Message: resp.Error}
	}
	return &resp, nil
}

// Ping reports whether a server answers at the configured address
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	return err
}

func (c *Client) Start(ctx context.Context, title, taskID string) (*api.Response, error) {
	return c.do(ctx, http.MethodPost, "/api/recording/start", api.StartRequest{Title: title, TaskID: taskID})
}

func (c *Client) Stop(ctx context.Context) (*api.Response, error) {
	return c.do(ctx, http.MethodPost, "/api/recording/stop", nil)
}

func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/recording/cancel", nil)
	return err
}

// Status returns the recording status and the server's last error message
func (c *Client) Status(ctx context.Context) (events.RecordingStatus, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/recording/status", nil)
	if err != nil {
		return events.RecordingStatus{}, "", err
	}
	if resp.Status == nil {
		return events.RecordingStatus{}, resp.LastError, fmt.Errorf("status missing from response")
	}
	return *resp.Status, resp.LastError, nil
}

func (c *Client) Tasks(ctx context.Context, status tasks.Status) ([]*tasks.Task, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) Task(ctx context.Context, id string) (*tasks.Task, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return resp.Task, nil
}

func (c *Client) CreateTask(ctx context.Context, title string) (*tasks.Task, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/tasks", api.CreateTaskRequest{Title: title})
	if err != nil {
		return nil, err
	}
	return resp.Task, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch tasks.Patch) (*tasks.Task, error) {
	resp, err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), patch)
	if err != nil {
		return nil, err
	}
	return resp.Task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) OpenTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/open", nil)
	return err
}

func (c *Client) PlayTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/play", nil)
	return err
}

func (c *Client) Shortcuts(ctx context.Context) ([]shortcut.Binding, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/shortcuts", nil)
	if err != nil {
		return nil, err
	}
	return resp.Shortcuts, nil
}

func (c *Client) UpdateShortcut(ctx context.Context, action string, u shortcut.Update) (*shortcut.Binding, error) {
	resp, err := c.do(ctx, http.MethodPut, "/api/shortcuts/"+url.PathEscape(action), u)
	if err != nil {
		return nil, err
	}
	return resp.Shortcut, nil
}

func (c *Client) ResetShortcuts(ctx context.Context) ([]shortcut.Binding, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/shortcuts/reset", nil)
	if err != nil {
		return nil, err
	}
	return resp.Shortcuts, nil
}

func (c *Client) UpdateAudio(ctx context.Context, a config.AudioConfig) error {
	_, err := c.do(ctx, http.MethodPut, "/api/audio", api.AudioSettingsFrom(a))
	return err
}

// Quit asks the server process to shut down
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/app/quit", nil)
	return err
}

// Stream is a live feed of server events
type Stream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Events connects to the WebSocket feed. The first event is a status snapshot.
func (c *Client) Events(ctx context.Context) (*Stream, error) {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	return &Stream{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

// Next blocks until the next event arrives or the stream closes
func (s *Stream) Next() (events.Event, error) {
	_, data, err := s.conn.Read(s.ctx)
	if err != nil {
		return events.Event{}, err
	}
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return events.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Close gracefully closes the connection.
func (s *Stream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
