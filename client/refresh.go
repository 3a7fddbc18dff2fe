package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/broady/taskdeck"
)

// RefreshPath is the endpoint that exchanges a refresh token for a new access
// token.
const RefreshPath = "/auth/refresh"

// ErrSessionExpired is wrapped by errors returned when the access token could
// not be refreshed. The session has been cleared by the time it is returned.
var ErrSessionExpired = errors.New("session expired")

type refreshResult struct {
	token string
	err   error
}

// handleUnauthorized runs the refresh state machine for a request that got a
// 401 while using token. The client is either idle or refreshing:
//
//   - no refresh token: the session is torn down and resp is returned as is.
//   - token is stale: a refresh already replaced it, so re-issue once.
//   - refreshing: wait in the queue, then re-issue or fail with the refresh
//     error.
//   - idle: become the one request that refreshes, drain the queue in order
//     and re-issue.
func (c *Client) handleUnauthorized(req *http.Request, resp *http.Response, token string) (*http.Response, error) {
	ctx := req.Context()

	c.mu.Lock()
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "unauthorized without refresh token, signing out")
		c.session.Logout(ctx)
		return resp, nil
	}
	if current := c.session.AccessToken(); current != token {
		c.mu.Unlock()
		discard(resp)
		return c.do(req, true)
	}
	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		queued := len(c.waiters)
		c.mu.Unlock()
		discard(resp)

		c.logger.DebugContext(ctx, "waiting for token refresh", slog.Int("queued", queued))
		select {
		case res := <-ch:
			if res.err != nil {
				return nil, res.err
			}
			return c.do(req, true)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()
	discard(resp)

	// The refresh serves every queued request, so it must outlive the
	// request that happened to start it.
	newToken, err := c.refresh(context.WithoutCancel(ctx), token, refreshToken)
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		// Tear down before going idle so no request can start another
		// refresh with the rejected token.
		c.session.Logout(ctx)
	case !c.session.SetAccessToken(ctx, newToken):
		err = fmt.Errorf("%w: signed out during refresh", ErrSessionExpired)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "token refresh settled",
		slog.Int("waiters", len(waiters)),
		slog.Bool("ok", err == nil))
	for _, ch := range waiters {
		ch <- refreshResult{token: newToken, err: err}
	}

	if err != nil {
		return nil, err
	}
	return c.do(req, true)
}

// refresh calls the refresh endpoint directly, bypassing Do so a 401 from the
// endpoint cannot recurse.
func (c *Client) refresh(ctx context.Context, accessToken, refreshToken string) (string, error) {
	u, err := c.URL(RefreshPath)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(taskdeck.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set(taskdeck.AccessTokenHeader, accessToken)
	}

	c.logger.DebugContext(ctx, "refreshing access token")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	var out taskdeck.RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return "", taskdeck.NewError(taskdeck.CodeUnauthenticated, "refresh returned no access token")
	}
	return out.AccessToken, nil
}
