package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/icloud-go/internal/session"
)

// requestTimeout bounds every API call. Downloads use their own streaming
// client without a whole-request timeout.
const requestTimeout = 60 * time.Second

// ReauthFunc re-establishes the global session. The client invokes it when
// the server reports "Invalid global session"; the caller retries afterwards.
// Passed in at wiring time to break the client/authenticator cycle.
type ReauthFunc func(ctx context.Context) error

// Client is the HTTP transport for the iCloud web API. It impersonates the
// web client, captures session-relevant response headers into the Session,
// persists the session before any response is handed back, and normalizes
// JSON error envelopes into APIError values.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	streaming  *http.Client // no whole-request timeout, for downloads
	logger     *slog.Logger

	mu    sync.Mutex
	sess  *session.Session
	jar   *session.Jar
	store *session.Store

	reauth    ReauthFunc
	reauthing bool
}

// NewClient loads the persisted session state from store and returns a
// transport bound to the endpoint group. A fresh client ID is generated if
// the session has none; it stays stable for the lifetime of the jar file.
func NewClient(endpoints Endpoints, store *session.Store, clientID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	sess, jar := store.Load()

	if sess.ClientID == "" {
		if clientID == "" {
			clientID = "auth-" + strings.ToLower(uuid.New().String())
		}

		sess.ClientID = clientID
	}

	return &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: requestTimeout, Jar: jar},
		streaming:  &http.Client{Jar: jar},
		logger:     logger,
		sess:       sess,
		jar:        jar,
		store:      store,
	}
}

// SetReauth installs the re-authentication callback. Must be called before
// the first API request that can hit an expired session.
func (c *Client) SetReauth(fn ReauthFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reauth = fn
}

// Endpoints returns the endpoint group the client talks to.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Session returns a copy of the current session state.
func (c *Client) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return *c.sess
}

// ClientID returns the stable per-jar client identifier.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sess.ClientID
}

// Response is a completed API response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("icloud: decoding response body: %w", err)
	}

	return nil
}

// request describes one API call for Do.
type request struct {
	method  string
	url     string
	query   url.Values
	body    any    // marshaled to JSON unless rawBody is set
	rawBody []byte // pre-encoded body, sent as-is
	headers map[string]string
	// allow lists non-2xx statuses returned to the caller instead of
	// being raised as errors (e.g. 409 during signin/complete).
	allow []int
}

// Do executes one API call. Ordering guarantee: the session file is
// persisted with any captured headers before Do returns, so a crash after
// Do never loses a freshly issued token.
func (c *Client) Do(ctx context.Context, req request) (*Response, error) {
	var bodyReader io.Reader

	switch {
	case req.rawBody != nil:
		bodyReader = bytes.NewReader(req.rawBody)
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("icloud: encoding request body: %w", err)
		}

		bodyReader = bytes.NewReader(data)
	}

	target := req.url
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("icloud: creating request: %w", err)
	}

	c.defaultHeaders(httpReq)

	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("api request",
		slog.String("method", req.method),
		slog.String("url", req.url),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("icloud: request canceled: %w", ctx.Err())
		}

		return nil, &ConnectionError{Err: err}
	}

	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	// Capture tracked headers and persist before the caller can observe
	// the response.
	c.captureSession(resp.Header)

	if readErr != nil {
		return nil, &ConnectionError{Err: readErr}
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}

	if apiErr := c.evaluate(out, req.allow); apiErr != nil {
		c.maybeReauth(ctx, apiErr)
		return nil, apiErr
	}

	return out, nil
}

// defaultHeaders sets the browser-impersonation headers on every request.
func (c *Client) defaultHeaders(req *http.Request) {
	req.Header.Set("Origin", c.endpoints.Home)
	req.Header.Set("Referer", c.endpoints.Home+"/")
	req.Header.Set("User-Agent", userAgent)

	if req.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

// AuthHeaders returns the OAuth-style header set required by the auth
// endpoints, including the session correlation tokens once obtained.
func (c *Client) AuthHeaders(overrides map[string]string) map[string]string {
	c.mu.Lock()
	sess := *c.sess
	c.mu.Unlock()

	headers := map[string]string{
		"Accept":                           "*/*",
		"Content-Type":                     "application/json",
		"X-Apple-OAuth-Client-Id":          oauthClientID,
		"X-Apple-OAuth-Client-Type":        "firstPartyAuth",
		"X-Apple-OAuth-Redirect-URI":       c.endpoints.Home,
		"X-Apple-OAuth-Require-Grant-Code": "true",
		"X-Apple-OAuth-Response-Mode":      "web_message",
		"X-Apple-OAuth-Response-Type":      "code",
		"X-Apple-OAuth-State":              sess.ClientID,
		"X-Apple-Widget-Key":               oauthClientID,
	}

	if sess.Scnt != "" {
		headers["scnt"] = sess.Scnt
	}

	if sess.SessionID != "" {
		headers["X-Apple-ID-Session-Id"] = sess.SessionID
	}

	for k, v := range overrides {
		headers[k] = v
	}

	return headers
}

// captureSession applies tracked response headers to the session and
// persists it. Persistence failures are logged, not fatal: losing a token
// update is recoverable by re-authentication.
func (c *Client) captureSession(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess.Apply(h.Get)

	// Saved unconditionally: the jar may have changed even when no tracked
	// header did, and a generated client ID must reach disk.
	if err := c.store.Save(c.sess, c.jar); err != nil {
		c.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}
}

// evaluate normalizes a completed response into an error, or nil when the
// caller should see it. The JSON error envelope always wins, even when the
// HTTP status is a success.
func (c *Client) evaluate(resp *Response, allow []int) *APIError {
	for _, status := range allow {
		if resp.StatusCode == status {
			return nil
		}
	}

	contentType := resp.Header.Get("Content-Type")
	isJSON := strings.Contains(contentType, "application/json") || strings.Contains(contentType, "text/json")

	ok := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices

	if !ok && (!isJSON || resp.StatusCode == 421 || resp.StatusCode == 450 || resp.StatusCode == 500) {
		return classifyError(fmt.Sprintf("%d", resp.StatusCode), http.StatusText(resp.StatusCode))
	}

	if !isJSON || len(resp.Body) == 0 || resp.StatusCode == http.StatusNoContent {
		if ok {
			return nil
		}

		return classifyError(fmt.Sprintf("%d", resp.StatusCode), http.StatusText(resp.StatusCode))
	}

	code, reason := extractEnvelopeError(resp.Body)
	if reason != "" {
		return classifyError(code, reason)
	}

	if !ok {
		return classifyError(fmt.Sprintf("%d", resp.StatusCode), http.StatusText(resp.StatusCode))
	}

	return nil
}

// envelope is the common error shape of API response bodies.
type envelope struct {
	HasError        bool            `json:"hasError"`
	ServiceErrors   []serviceError  `json:"service_errors"`
	ErrorMessage    string          `json:"errorMessage"`
	Reason          string          `json:"reason"`
	ErrorReason     string          `json:"errorReason"`
	Error           json.RawMessage `json:"error"`
	ErrorCode       json.RawMessage `json:"errorCode"`
	ServerErrorCode json.RawMessage `json:"serverErrorCode"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// extractEnvelopeError pulls (code, reason) from a JSON body, returning an
// empty reason when the body carries no error.
func extractEnvelopeError(body []byte) (string, string) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Not a JSON object (e.g. an array body); nothing to normalize.
		return "", ""
	}

	if env.HasError && len(env.ServiceErrors) > 0 {
		return env.ServiceErrors[0].Code, env.ServiceErrors[0].Message
	}

	reason := env.ErrorMessage
	if reason == "" {
		reason = env.Reason
	}

	if reason == "" {
		reason = env.ErrorReason
	}

	errStr := rawAsString(env.Error)
	if reason == "" {
		reason = errStr
	}

	if reason == "" && len(env.Error) > 0 && string(env.Error) != "null" && string(env.Error) != "false" && string(env.Error) != "0" {
		reason = "Unknown reason"
	}

	code := rawAsString(env.ErrorCode)
	if code == "" {
		code = rawAsString(env.ServerErrorCode)
	}

	if code == "" {
		code = errStr
	}

	return code, reason
}

// rawAsString renders a JSON scalar (string or number) as a plain string.
func rawAsString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}

// maybeReauth fires the re-auth callback when the server reports an expired
// global session. Guarded against recursion: requests issued while
// re-authenticating never trigger another re-auth.
func (c *Client) maybeReauth(ctx context.Context, apiErr error) {
	if !IsSessionExpired(apiErr) {
		return
	}

	c.mu.Lock()
	fn := c.reauth
	busy := c.reauthing

	if fn != nil && !busy {
		c.reauthing = true
	}
	c.mu.Unlock()

	if fn == nil || busy {
		return
	}

	defer func() {
		c.mu.Lock()
		c.reauthing = false
		c.mu.Unlock()
	}()

	c.logger.Error("session error, re-authenticating...")

	if err := fn(ctx); err != nil {
		c.logger.Error("re-authentication failed", slog.String("error", err.Error()))
	}
}

// PostText issues a POST with a text/plain content type, the convention for
// the photo database's records endpoints, and returns the fully read
// response after error normalization.
func (c *Client) PostText(ctx context.Context, target string, query url.Values, payload []byte) (*Response, error) {
	return c.Do(ctx, request{
		method:  http.MethodPost,
		url:     target,
		query:   query,
		rawBody: payload,
		headers: map[string]string{"Content-Type": "text/plain"},
	})
}

// Stream issues a plain GET for a download URL. When rangeFrom is positive
// a Range header requests resumption from that byte offset. The caller owns
// the response body. No session capture happens here: download URLs are
// pre-authorized and never carry tracked headers.
func (c *Client) Stream(ctx context.Context, downloadURL string, rangeFrom int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("icloud: creating download request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if rangeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeFrom))
	}

	resp, err := c.streaming.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("icloud: download canceled: %w", ctx.Err())
		}

		return nil, &ConnectionError{Err: err}
	}

	return resp, nil
}
