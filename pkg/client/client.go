// Package client is a Go client for the chartsense worker HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/chartsense/pkg/models"
)

// DefaultTimeout bounds each request when no http.Client is supplied.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx reply from the worker.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("worker returned %d", e.Status)
	}
	return fmt.Sprintf("worker returned %d: %s", e.Status, e.Message)
}

// Retention mirrors the worker's retention report.
type Retention struct {
	Cutoff       string   `json:"cutoff"`
	Removed      []string `json:"removed"`
	ClearedToday string   `json:"clearedToday"`
}

// Health is the worker's health report.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Backend       string `json:"backend"`
	Uptime        string `json:"uptime"`
	LastRetention string `json:"lastRetention"`
	SSEClients    int    `json:"sseClients"`
	WSClients     int    `json:"wsClients"`
}

// Provider is one entry of the provider catalogue.
type Provider struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DefaultModel string `json:"defaultModel"`
	Endpoint     string `json:"endpoint"`
	Info         string `json:"info"`
}

type reply struct {
	Success   bool                   `json:"success"`
	Error     string                 `json:"error"`
	SessionID int64                  `json:"sessionId"`
	Sessions  []models.SessionRecord `json:"sessions"`
	Stats     *models.SessionStats   `json:"stats"`
	Days      []string               `json:"days"`
	Retention *Retention             `json:"retention"`
}

// Client talks to a running worker.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the worker at baseURL, e.g. "http://127.0.0.1:37877".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the sessions of date, or of today when date is empty.
func (c *Client) List(ctx context.Context, date string) ([]models.SessionRecord, error) {
	path := "/api/sessions"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var r reply
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return r.Sessions, nil
}

// Stats returns aggregate statistics, or nil when nothing is stored.
func (c *Client) Stats(ctx context.Context) (*models.SessionStats, error) {
	var r reply
	if err := c.do(ctx, http.MethodGet, "/api/sessions/stats", nil, &r); err != nil {
		return nil, err
	}
	return r.Stats, nil
}

// Days returns the stored date keys, ascending.
func (c *Client) Days(ctx context.Context) ([]string, error) {
	var r reply
	if err := c.do(ctx, http.MethodGet, "/api/sessions/days", nil, &r); err != nil {
		return nil, err
	}
	return r.Days, nil
}

// Save stores a session and returns its id.
func (c *Client) Save(ctx context.Context, fields models.SessionFields) (int64, error) {
	var r reply
	if err := c.do(ctx, http.MethodPost, "/api/sessions", fields, &r); err != nil {
		return 0, err
	}
	return r.SessionID, nil
}

// SaveAnalysis stores a raw analysis; the worker parses its rating and confidence.
func (c *Client) SaveAnalysis(ctx context.Context, provider, text string) (int64, error) {
	body := map[string]string{"provider": provider, "text": text}
	var r reply
	if err := c.do(ctx, http.MethodPost, "/api/analysis", body, &r); err != nil {
		return 0, err
	}
	return r.SessionID, nil
}

// ClearToday deletes today's sessions.
func (c *Client) ClearToday(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/today", nil, &reply{})
}

// Retention runs a retention sweep now.
func (c *Client) Retention(ctx context.Context) (*Retention, error) {
	var r reply
	if err := c.do(ctx, http.MethodPost, "/api/retention", nil, &r); err != nil {
		return nil, err
	}
	return r.Retention, nil
}

// Providers lists the provider catalogue.
func (c *Client) Providers(ctx context.Context) ([]Provider, error) {
	var r struct {
		Providers []Provider `json:"providers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/providers", nil, &r); err != nil {
		return nil, err
	}
	return r.Providers, nil
}

// Prompt returns the analysis prompt, with instructions replacing the defaults when non-empty.
func (c *Client) Prompt(ctx context.Context, instructions string) (string, error) {
	path := "/api/prompt"
	if instructions != "" {
		path += "?instructions=" + url.QueryEscape(instructions)
	}
	var r struct {
		Prompt string `json:"prompt"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return "", err
	}
	return r.Prompt, nil
}

// Health fetches the health report. A starting worker yields an APIError with status 503.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Running reports whether a ready worker answers at the base URL.
func (c *Client) Running(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == "ok"
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var r reply
		if json.Unmarshal(data, &r) == nil && r.Error != "" {
			apiErr.Message = r.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
