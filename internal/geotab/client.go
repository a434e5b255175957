// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package geotab is a MyGeotab JSON-RPC client covering the calls the
// synchronizer needs: Authenticate, Get, Set, Add and ExecuteMultiCall.
package geotab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/state"
)

// Options configures a Client. Zero values take the defaults shown.
type Options struct {
	Server   string // my.geotab.com; a value with a scheme is used as is (tests)
	Username string
	Password string
	Database string

	HTTPClient        *http.Client  // timeout from Timeout
	Timeout           time.Duration // 30s
	RequestsPerSecond float64       // 5; negative means unlimited
	MaxRetries        int           // 3
	BaseDelay         time.Duration // 500ms
	MaxDelay          time.Duration // 10s

	Sessions *state.SessionCache
	Logger   *slog.Logger
}

// Client talks to one MyGeotab database. It is safe for concurrent use; all
// calls share one rate limiter and one session.
type Client struct {
	server     string
	username   string
	password   string
	database   string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sessions   *state.SessionCache
	log        *slog.Logger
	now        func() time.Time
}

// NewClient returns a client for opts.
func NewClient(opts Options) *Client {
	server := strings.TrimRight(strings.TrimSpace(opts.Server), "/")
	if server == "" {
		server = "my.geotab.com"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	} else if opts.RequestsPerSecond == 0 {
		limit = rate.Limit(5)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = state.NewSessionCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		server:     server,
		username:   opts.Username,
		password:   opts.Password,
		database:   opts.Database,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		sessions:   sessions,
		log:        logger.With("component", "geotab"),
		now:        time.Now,
	}
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type rpcError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Errors  []struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId"`
}

// Authenticate signs in and caches the session. The session is redirected
// to the server named in the response path when it is not "ThisServer".
func (c *Client) Authenticate(ctx context.Context) error {
	var res struct {
		Credentials credentials `json:"credentials"`
		Path        string      `json:"path"`
	}
	params := map[string]any{
		"database": c.database,
		"userName": c.username,
		"password": c.password,
	}
	if err := c.post(ctx, c.server, "Authenticate", params, &res); err != nil {
		return fmt.Errorf("authenticate %s@%s: %w", c.username, c.database, err)
	}
	if res.Credentials.SessionID == "" {
		return fmt.Errorf("authenticate %s@%s: %w", c.username, c.database, ErrNoSession)
	}
	server := c.server
	if p := strings.TrimSpace(res.Path); p != "" && !strings.EqualFold(p, "ThisServer") {
		server = p
	}
	c.sessions.Set(state.Session{
		Database: res.Credentials.Database,
		UserName: res.Credentials.UserName,
		Server:   server,
		ID:       res.Credentials.SessionID,
	})
	c.log.Debug("authenticated", "user", c.username, "database", c.database, "server", server)
	return nil
}

// Call invokes method with params and the cached credentials, decoding the
// result into out. An expired session is renewed once.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, out any) error {
	for renewed := false; ; renewed = true {
		sess, ok := c.sessions.Get()
		if !ok {
			if err := c.Authenticate(ctx); err != nil {
				return err
			}
			if sess, ok = c.sessions.Get(); !ok {
				return ErrNoSession
			}
		}
		withCreds := make(map[string]any, len(params)+1)
		for k, v := range params {
			withCreds[k] = v
		}
		withCreds["credentials"] = credentials{Database: sess.Database, UserName: sess.UserName, SessionID: sess.ID}

		err := c.post(ctx, sess.Server, method, withCreds, out)
		if err != nil && IsInvalidUser(err) && !renewed {
			c.log.Info("session rejected, re-authenticating", "method", method)
			c.sessions.Invalidate(sess.ID)
			continue
		}
		return err
	}
}

func endpoint(server string) string {
	if strings.Contains(server, "://") {
		return server + "/apiv1"
	}
	return "https://" + server + "/apiv1"
}

// post sends one JSON-RPC request, retrying transport failures, 429 and 5xx
// responses with capped exponential backoff.
func (c *Client) post(ctx context.Context, server, method string, params map[string]any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return err
	}
	url := endpoint(server)

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				c.log.Debug("request failed, retrying", "method", method, "attempt", attempt+1, "error", err)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
			if attempt < c.maxRetries {
				c.log.Debug("server busy, retrying", "method", method, "status", resp.StatusCode, "attempt", attempt+1)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
					return waitErr
				}
				continue
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}
		return decodeResponse(respBody, out)
	}
}

func decodeResponse(body []byte, out any) error {
	var res rpcResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("geotab: decode response: %w", err)
	}
	if res.Error != nil {
		apiErr := &APIError{Name: res.Error.Name, Message: res.Error.Message}
		if len(res.Error.Errors) > 0 {
			apiErr.Name = res.Error.Errors[0].Name
			if res.Error.Errors[0].Message != "" {
				apiErr.Message = res.Error.Errors[0].Message
			}
		}
		return apiErr
	}
	if out == nil || len(res.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Result, out); err != nil {
		return fmt.Errorf("geotab: decode result: %w", err)
	}
	return nil
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errNilEntity = errors.New("geotab: entity has no id")
