// Package client is a Go client for the interceptd operator API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/intercept/server"
)

// Client talks to one interceptd instance.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the API at baseURL (e.g. "http://127.0.0.1:7070").
// A bare host:port is accepted.
func New(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: http.DefaultClient}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(b))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health reports whether the API answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Status(ctx context.Context) (server.StatusView, error) {
	var v server.StatusView
	err := c.do(ctx, http.MethodGet, "/status", nil, &v)
	return v, err
}

func (c *Client) StatusMessages(ctx context.Context) ([]string, error) {
	var v []string
	err := c.do(ctx, http.MethodGet, "/status/messages", nil, &v)
	return v, err
}

func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/proxy/start", nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/proxy/stop", nil, nil)
}

func (c *Client) Config(ctx context.Context) (engine.Config, error) {
	var v engine.Config
	err := c.do(ctx, http.MethodGet, "/config", nil, &v)
	return v, err
}

func (c *Client) SetConfig(ctx context.Context, req server.ConfigRequest) (engine.Config, error) {
	var v engine.Config
	err := c.do(ctx, http.MethodPut, "/config", req, &v)
	return v, err
}

func (c *Client) Interfaces(ctx context.Context) ([]string, error) {
	var v []string
	err := c.do(ctx, http.MethodGet, "/interfaces", nil, &v)
	return v, err
}

func (c *Client) Connections(ctx context.Context) ([]server.ConnectionEvent, error) {
	var v []server.ConnectionEvent
	err := c.do(ctx, http.MethodGet, "/connections", nil, &v)
	return v, err
}

func (c *Client) ClearConnections(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/connections", nil, nil)
}

func (c *Client) Traffic(ctx context.Context) ([]server.LogEvent, error) {
	var v []server.LogEvent
	err := c.do(ctx, http.MethodGet, "/traffic", nil, &v)
	return v, err
}

func (c *Client) ClearTraffic(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/traffic", nil, nil)
}

// ExportCSV streams the "connections" or "traffic" CSV export to w.
func (c *Client) ExportCSV(ctx context.Context, kind string, w io.Writer) error {
	return c.do(ctx, http.MethodGet, "/"+kind+"/export", nil, w)
}

// ExportToDir asks the daemon to write both exports to its export directory
// and returns the written paths.
func (c *Client) ExportToDir(ctx context.Context) ([]string, error) {
	var v struct {
		Files []string `json:"files"`
	}
	err := c.do(ctx, http.MethodPost, "/export", nil, &v)
	return v.Files, err
}

func (c *Client) Intercept(ctx context.Context) (server.InterceptView, error) {
	var v server.InterceptView
	err := c.do(ctx, http.MethodGet, "/intercept", nil, &v)
	return v, err
}

// SetIntercept changes the given intercept settings; nil fields are left
// alone.
func (c *Client) SetIntercept(ctx context.Context, enabled *bool, direction *engine.Direction, view *codec.ViewMode) (server.InterceptView, error) {
	var v server.InterceptView
	req := server.InterceptSettings{Enabled: enabled, Direction: direction, View: view}
	err := c.do(ctx, http.MethodPut, "/intercept/settings", req, &v)
	return v, err
}

func (c *Client) Edit(ctx context.Context, text string) (server.InterceptView, error) {
	var v server.InterceptView
	err := c.do(ctx, http.MethodPut, "/intercept/data", server.InterceptEdit{Text: text}, &v)
	return v, err
}

func (c *Client) Forward(ctx context.Context) (server.InterceptView, error) {
	var v server.InterceptView
	err := c.do(ctx, http.MethodPost, "/intercept/forward", nil, &v)
	return v, err
}

func (c *Client) Drop(ctx context.Context) (server.InterceptView, error) {
	var v server.InterceptView
	err := c.do(ctx, http.MethodPost, "/intercept/drop", nil, &v)
	return v, err
}
