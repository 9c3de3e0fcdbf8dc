// Package supabase talks to a hosted Supabase project: GoTrue for auth,
// PostgREST for rows and the storage API for attachments.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gastos/internal/log"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

const maxErrorBody = 64 << 10

var _ remote.Backend = (*Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	logger  *log.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentBackend) }
}

// New creates a client for the project at projectURL.
func New(projectURL, anonKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(projectURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", projectURL)
	}
	if anonKey == "" {
		return nil, errors.New("missing supabase anon key")
	}
	c := &Client{
		base:    u,
		anonKey: anonKey,
		http:    newHTTPClientWithPooling(),
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newHTTPClientWithPooling keeps connections to the project warm. There is
// no client-level timeout: every call carries its own deadline.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

type request struct {
	method      string
	path        string
	query       url.Values
	token       string
	body        io.Reader
	contentType string
	headers     map[string]string
}

// Close releases pooled idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends r and decodes a 2xx JSON body into dest when dest is not nil.
// Other statuses are returned as *resilience.BackendError.
func (c *Client) do(ctx context.Context, r request, dest any) error {
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token := r.token
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Backend request",
		log.FieldMethod, r.method,
		log.FieldPath, r.path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", r.path, err)
	}
	return nil
}

// errorBody covers both the PostgREST and the GoTrue error shapes. GoTrue
// sends a numeric code, PostgREST a string one.
type errorBody struct {
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	be := &resilience.BackendError{Status: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		be.Message = strings.TrimSpace(string(raw))
		if be.Message == "" {
			be.Message = http.StatusText(resp.StatusCode)
		}
		return be
	}
	be.Message = firstNonEmpty(body.Message, body.Msg, body.ErrorDescription, body.Error, http.StatusText(resp.StatusCode))
	be.Details = body.Details
	be.Hint = body.Hint
	if json.Unmarshal(body.Code, &be.Code) != nil {
		be.Code = body.ErrorCode
	}
	return be
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// Ping asks the auth service for its health, which needs no session.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/health"}, nil)
}
