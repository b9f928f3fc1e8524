// Package hookclient is a small HTTP client for the hookd REST API.
package hookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Call modes accepted by the server.
const (
	ModeSync    = "sync"
	ModeAsync   = "async"
	ModePromise = "promise"
)

// Client wraps the HTTP interactions with a hookd server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Tap describes a registered tap.
type Tap struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Stage  int      `json:"stage"`
	Before []string `json:"before,omitempty"`
	Plugin string   `json:"plugin,omitempty"`
}

// Hook describes a hook exposed by the server.
type Hook struct {
	Name         string   `json:"name"`
	Family       string   `json:"family,omitempty"`
	Args         []string `json:"args"`
	Taps         []Tap    `json:"taps"`
	Interceptors []string `json:"interceptors,omitempty"`
	Used         bool     `json:"used"`
}

// CallResult is the outcome of a successful hook call.
type CallResult struct {
	Hook   string `json:"hook"`
	Mode   string `json:"mode"`
	Result any    `json:"result"`
}

type callRequest struct {
	Mode string `json:"mode,omitempty"`
	Args []any  `json:"args"`
}

// APIError represents an error answered by the server.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("hookd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("hookd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the server at rawURL. When httpClient
// is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ListHooks returns every hook registered on the server.
func (c *Client) ListHooks(ctx context.Context) ([]Hook, error) {
	var out []Hook
	if err := c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "hooks"); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHook describes a single hook.
func (c *Client) GetHook(ctx context.Context, name string) (Hook, error) {
	var out Hook
	if err := c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "hooks", name); err != nil {
		return Hook{}, err
	}
	return out, nil
}

// Call invokes a hook. An empty mode lets the server pick one from the hook
// family.
func (c *Client) Call(ctx context.Context, name, mode string, args ...any) (CallResult, error) {
	if args == nil {
		args = []any{}
	}
	var out CallResult
	if err := c.do(ctx, http.MethodPost, callRequest{Mode: mode, Args: args}, &out, "api", "v1", "hooks", name, "call"); err != nil {
		return CallResult{}, err
	}
	return out, nil
}

// endpoint appends path segments to the base URL. Each segment is escaped
// exactly once, so hook names may contain spaces or slashes.
func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	raw := []string{c.baseURL.Path, "/"}
	escaped := []string{c.baseURL.EscapedPath(), "/"}
	for _, seg := range segments {
		raw = append(raw, seg)
		escaped = append(escaped, url.PathEscape(seg))
	}
	u.Path = path.Join(raw...)
	u.RawPath = path.Join(escaped...)
	return u.String()
}

func (c *Client) do(ctx context.Context, method string, payload, out any, segments ...string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(segments...), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
