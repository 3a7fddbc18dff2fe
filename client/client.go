// Package client is the authenticated HTTP client for the task API.
//
// Every request carries the current access token in the AccessToken header.
// A 401 triggers at most one concurrent token refresh; requests that fail
// while a refresh is in flight wait in FIFO order and are re-issued once the
// new token arrives.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/broady/taskdeck"
)

// DefaultTimeout bounds each HTTP round trip made by a Client created without
// WithHTTPClient.
const DefaultTimeout = 15 * time.Second

const maxErrorBody = 1 << 20

// Client sends requests to the task API on behalf of a SessionStore.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	session *SessionStore
	logger  *slog.Logger

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger used for refresh transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, session *SessionStore, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if session == nil {
		session = NewSessionStore(nil, nil)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		session: session,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the session store the client authenticates with.
func (c *Client) Session() *SessionStore {
	return c.session
}

// URL resolves path (which may carry a query string) against the base URL.
func (c *Client) URL(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	u := c.baseURL.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	return u, nil
}

// JSON sends in (if non-nil) as a JSON body and decodes a successful response
// into out (if non-nil). Error responses are returned as *taskdeck.Error.
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	u, err := c.URL(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Do sends req with the current access token, handling a 401 as described in
// the package documentation. A request is re-issued at most once. When the
// session cannot be refreshed the 401 response is returned unchanged and the
// session is cleared; when the refresh itself fails the error wraps
// ErrSessionExpired.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := makeReplayable(req); err != nil {
		return nil, err
	}
	return c.do(req, false)
}

func (c *Client) do(req *http.Request, retried bool) (*http.Response, error) {
	token := c.session.AccessToken()
	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || retried {
		return resp, nil
	}
	return c.handleUnauthorized(req, resp, token)
}

// send issues a copy of req carrying token.
func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	if token != "" {
		r.Header.Set(taskdeck.AccessTokenHeader, token)
	} else {
		r.Header.Del(taskdeck.AccessTokenHeader)
	}
	return c.http.Do(r)
}

// makeReplayable buffers a request body that cannot be re-read so the request
// can be sent a second time.
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// decodeError turns an error response into *taskdeck.Error. Bodies of the
// form {"code":..,"message":..} keep their code; a bare {"message":..} or an
// unreadable body gets a code derived from the status.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var e taskdeck.Error
	if err := json.Unmarshal(data, &e); err != nil || (e.Code == "" && e.Message == "") {
		e = taskdeck.Error{Message: strings.TrimSpace(string(data))}
	}
	if e.Code == "" {
		e.Code = taskdeck.CodeFromHTTPStatus(resp.StatusCode)
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	e.Status = resp.StatusCode
	return &e
}

// IsUnauthenticated reports whether err means the caller must sign in again.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrSessionExpired) || taskdeck.HasCode(err, taskdeck.CodeUnauthenticated)
}
