package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowdeck/internal/pushconn"
)

const (
	SessionCookieName = "session_token"
	requestIDHeader   = "X-Request-ID"
	defaultTimeout    = 15 * time.Second
)

var ErrRejected = errors.New("request rejected by server")

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithDialer(d pushconn.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithSessionToken(token string) Option {
	return func(c *Client) {
		c.session = strings.TrimSpace(token)
	}
}

// WithLogLines limits log endpoints to the last n lines; 0 keeps the server default.
func WithLogLines(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.logLines = n
		}
	}
}

type Client struct {
	base     *url.URL
	http     *http.Client
	dialer   pushconn.Dialer
	logLines int

	mu      sync.RWMutex
	session string
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, errors.New("server url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		dialer: pushconn.RealDialer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	c.session = strings.TrimSpace(token)
	c.mu.Unlock()
}

// endpoint joins an already-escaped path onto the base URL.
func (c *Client) endpoint(p string, query url.Values) string {
	out := strings.TrimRight(c.base.String(), "/") + p
	if len(query) > 0 {
		out += "?" + query.Encode()
	}
	return out
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if token := c.SessionToken(); token != "" {
		h.Set("Cookie", (&http.Cookie{Name: SessionCookieName, Value: token}).String())
	}
	return h
}

func (c *Client) do(ctx context.Context, method, p string, query url.Values, body any, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, query), reader)
	if err != nil {
		return nil, err
	}
	req.Header = c.header()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, decodeError(resp.StatusCode, data)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("decode %s %s: %w", method, p, err)
		}
	}
	return resp, nil
}

func decodeError(code int, data []byte) error {
	msg := fmt.Sprintf("HTTP %d", code)
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		detail := ""
		switch d := body.Detail.(type) {
		case string:
			detail = d
		case nil:
		default:
			// validation errors arrive as a list of objects
			if b, err := json.Marshal(d); err == nil {
				detail = string(b)
			}
		}
		msg = firstNonEmpty(detail, body.Message, msg)
	}
	return &Error{StatusCode: code, Message: msg}
}

// action posts and treats a `success: false` body as a rejection.
func (c *Client) action(ctx context.Context, method, p string, body any) (ActionResult, error) {
	var out ActionResult
	out.Success = true
	if _, err := c.do(ctx, method, p, nil, body, &out); err != nil {
		return ActionResult{}, err
	}
	if !out.Success {
		msg := firstNonEmpty(out.Message, out.Detail, "operation failed")
		return out, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return out, nil
}

func taskPath(id string, suffix string) string {
	p := "/api/tasks/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) ListTasks(ctx context.Context) (TasksResponse, error) {
	var out TasksResponse
	_, err := c.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &out)
	return out, err
}

func (c *Client) ListHistory(ctx context.Context) ([]Task, error) {
	var out HistoryResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/history", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (c *Client) ClearHistory(ctx context.Context) error {
	_, err := c.action(ctx, http.MethodDelete, "/api/history", nil)
	return err
}

func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var out QueueStatus
	_, err := c.do(ctx, http.MethodGet, "/api/queue-status", nil, nil, &out)
	return out, err
}

func (c *Client) AddTask(ctx context.Context, in TaskInput) error {
	_, err := c.action(ctx, http.MethodPost, "/api/tasks", in)
	return err
}

func (c *Client) UpdateTask(ctx context.Context, id string, in TaskInput) error {
	_, err := c.action(ctx, http.MethodPut, taskPath(id, ""), in)
	return err
}

func (c *Client) RunTask(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodPost, taskPath(id, "run"), nil)
	return err
}

func (c *Client) StopTask(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodPost, taskPath(id, "stop"), nil)
	return err
}

func (c *Client) RetryTask(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodPost, taskPath(id, "retry"), nil)
	return err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodDelete, taskPath(id, ""), nil)
	return err
}

func (c *Client) ReorderTasks(ctx context.Context, order []string) error {
	if order == nil {
		order = []string{}
	}
	_, err := c.action(ctx, http.MethodPost, "/api/tasks/reorder", map[string]any{"order": order})
	return err
}

func (c *Client) StartQueue(ctx context.Context) (string, error) {
	res, err := c.action(ctx, http.MethodPost, "/api/start-queue", nil)
	return res.Message, err
}

func (c *Client) StopQueue(ctx context.Context) (string, error) {
	res, err := c.action(ctx, http.MethodPost, "/api/stop-queue", nil)
	return res.Message, err
}

func (c *Client) StopAll(ctx context.Context) (string, error) {
	res, err := c.action(ctx, http.MethodPost, "/api/stop-all", nil)
	return res.Message, err
}

func (c *Client) logQuery() url.Values {
	if c.logLines <= 0 {
		return nil
	}
	return url.Values{"lines": []string{strconv.Itoa(c.logLines)}}
}

func (c *Client) MainLog(ctx context.Context) (LogContent, error) {
	var out LogContent
	_, err := c.do(ctx, http.MethodGet, "/api/main-log", c.logQuery(), nil, &out)
	return out, err
}

func (c *Client) TaskLog(ctx context.Context, id string) (LogContent, error) {
	var out LogContent
	_, err := c.do(ctx, http.MethodGet, "/api/logs/"+url.PathEscape(id), c.logQuery(), nil, &out)
	return out, err
}

// LogStreamURL is the push endpoint for one task's live log.
func (c *Client) LogStreamURL(id string) string {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}
	rest := strings.TrimPrefix(strings.TrimRight(c.base.String(), "/"), c.base.Scheme)
	return scheme + rest + "/ws/logs/" + url.PathEscape(id)
}

func (c *Client) OpenLogStream(ctx context.Context, id string) (pushconn.Socket, error) {
	return c.dialer.Dial(ctx, c.LogStreamURL(id), c.header())
}

func (c *Client) ListQueues(ctx context.Context) (QueueList, error) {
	var out QueueList
	_, err := c.do(ctx, http.MethodGet, "/api/queues", nil, nil, &out)
	return out, err
}

func (c *Client) AddQueue(ctx context.Context, name, yamlPath string) (QueueInfo, error) {
	var out struct {
		ActionResult
		Queue QueueInfo `json:"queue"`
	}
	out.Success = true
	if _, err := c.do(ctx, http.MethodPost, "/api/queues", nil, map[string]string{"name": name, "yaml_path": yamlPath}, &out); err != nil {
		return QueueInfo{}, err
	}
	if !out.Success {
		return QueueInfo{}, fmt.Errorf("%w: %s", ErrRejected, firstNonEmpty(out.Message, out.Detail, "add queue failed"))
	}
	return out.Queue, nil
}

func (c *Client) RemoveQueue(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodDelete, "/api/queues/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) SelectQueue(ctx context.Context, id string) error {
	_, err := c.action(ctx, http.MethodPost, "/api/queues/"+url.PathEscape(id)+"/select", nil)
	return err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

func (c *Client) AuthStatus(ctx context.Context) (AuthStatus, error) {
	var out AuthStatus
	_, err := c.do(ctx, http.MethodGet, "/api/auth/status", nil, nil, &out)
	return out, err
}

// Login stores and returns the session cookie issued by the server.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, map[string]string{"password": password}, nil)
	if err != nil {
		return "", err
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookieName && ck.Value != "" {
			c.SetSessionToken(ck.Value)
			return ck.Value, nil
		}
	}
	return "", errors.New("login response carried no session cookie")
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	c.SetSessionToken("")
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
