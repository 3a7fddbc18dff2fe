package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/cache"
)

// fakeAPI accepts one access token at a time and rotates it on refresh.
type fakeAPI struct {
	mu          sync.Mutex
	valid       string
	refreshFail bool
	rejectAll   bool

	refreshes     atomic.Int32
	refreshHeader string
	refreshBody   taskdeck.RefreshRequest

	// beforeRefresh runs inside the refresh handler before it answers.
	beforeRefresh func()

	okTokens []string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(taskdeck.AccessTokenHeader)
		f.mu.Lock()
		ok := token == f.valid && !f.rejectAll
		if ok {
			f.okTokens = append(f.okTokens, token)
		}
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, taskdeck.NewError(taskdeck.CodeUnauthenticated, "access token expired"))
			return
		}
		writeJSON(w, http.StatusOK, taskdeck.TaskPage{Data: []taskdeck.Task{}, Meta: taskdeck.NewPageMeta(1, 10, 0)})
	})
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(taskdeck.AccessTokenHeader)
		f.mu.Lock()
		ok := token == f.valid
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
			return
		}
		var req taskdeck.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, taskdeck.NewError(taskdeck.CodeInvalidArgument, err.Error()))
			return
		}
		writeJSON(w, http.StatusCreated, taskdeck.Task{ID: "t1", Name: req.Name})
	})
	mux.HandleFunc("POST "+RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		n := f.refreshes.Add(1)
		f.mu.Lock()
		f.refreshHeader = r.Header.Get(taskdeck.AccessTokenHeader)
		json.NewDecoder(r.Body).Decode(&f.refreshBody)
		f.mu.Unlock()

		if f.beforeRefresh != nil {
			f.beforeRefresh()
		}
		if f.refreshFail {
			writeJSON(w, http.StatusUnauthorized, taskdeck.NewError(taskdeck.CodeUnauthenticated, "refresh token revoked"))
			return
		}
		token := fmt.Sprintf("fresh-%d", n)
		f.mu.Lock()
		f.valid = token
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, taskdeck.RefreshResponse{AccessToken: token})
	})
	mux.HandleFunc("GET /missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Task not found"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAPI, sess taskdeck.Session) (*Client, *SessionStore, *cache.Sessions) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	persisted := cache.NewSessions(cache.NewMemoryStore())
	store := NewSessionStore(persisted, nil)
	store.SetSession(context.Background(), sess)

	c, err := New(srv.URL, store)
	require.NoError(t, err)
	return c, store, persisted
}

// waitForQueue blocks until n requests are parked behind the refresh.
func waitForQueue(t *testing.T, c *Client, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		queued := len(c.waiters)
		c.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("timed out waiting for %d queued requests", n)
}

func TestClient_AttachesAccessToken(t *testing.T) {
	api := &fakeAPI{valid: "good"}
	c, _, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "good", RefreshToken: "r"})

	var page taskdeck.TaskPage
	require.NoError(t, c.JSON(context.Background(), http.MethodGet, "/tasks?page=1", nil, &page))
	assert.Equal(t, 1, page.Meta.Page)
	assert.Equal(t, []string{"good"}, api.okTokens)
	assert.Zero(t, api.refreshes.Load())
}

func TestClient_ErrorEnvelope(t *testing.T) {
	api := &fakeAPI{valid: "good"}
	c, _, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "good"})

	err := c.JSON(context.Background(), http.MethodGet, "/missing", nil, nil)
	var apiErr *taskdeck.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, taskdeck.CodeNotFound, apiErr.Code)
	assert.Equal(t, "Task not found", apiErr.Message)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_RefreshesOnceAndRetries(t *testing.T) {
	api := &fakeAPI{valid: "current"}
	c, store, persisted := newTestClient(t, api, taskdeck.Session{AccessToken: "stale", RefreshToken: "refresh-1"})

	var created taskdeck.Task
	err := c.JSON(context.Background(), http.MethodPost, "/tasks", taskdeck.CreateTaskRequest{Name: "Buy milk"}, &created)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", created.Name, "body must be replayed on re-issue")

	assert.EqualValues(t, 1, api.refreshes.Load())
	assert.Equal(t, "stale", api.refreshHeader, "refresh carries the current access token")
	assert.Equal(t, "refresh-1", api.refreshBody.RefreshToken)
	assert.Equal(t, "fresh-1", store.AccessToken())
	assert.Equal(t, "refresh-1", store.RefreshToken())

	saved, ok, err := persisted.LoadSession(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh-1", saved.AccessToken)
}

func TestClient_SingleFlightRefresh(t *testing.T) {
	const n = 8
	api := &fakeAPI{valid: "current"}
	c, store, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "stale", RefreshToken: "r"})

	g, ctx := errgroup.WithContext(context.Background())
	for range n {
		g.Go(func() error {
			var page taskdeck.TaskPage
			return c.JSON(ctx, http.MethodGet, "/tasks", nil, &page)
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, api.refreshes.Load())
	assert.Equal(t, "fresh-1", store.AccessToken())
	assert.Len(t, api.okTokens, n)
	for _, tok := range api.okTokens {
		assert.Equal(t, "fresh-1", tok)
	}
}

func TestClient_QueuedRequestsResumeWithNewToken(t *testing.T) {
	api := &fakeAPI{valid: "current"}
	c, _, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "stale", RefreshToken: "r"})
	api.beforeRefresh = func() { waitForQueue(t, c, 3) }

	g, ctx := errgroup.WithContext(context.Background())
	for range 4 {
		g.Go(func() error {
			return c.JSON(ctx, http.MethodGet, "/tasks", nil, nil)
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, api.refreshes.Load())
	assert.Equal(t, []string{"fresh-1", "fresh-1", "fresh-1", "fresh-1"}, api.okTokens)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.refreshing)
	assert.Empty(t, c.waiters)
}

func TestClient_RefreshFailureRejectsQueue(t *testing.T) {
	api := &fakeAPI{valid: "current", refreshFail: true}
	c, store, persisted := newTestClient(t, api, taskdeck.Session{
		User:         &taskdeck.User{ID: "u1"},
		AccessToken:  "stale",
		RefreshToken: "revoked",
	})
	api.beforeRefresh = func() { waitForQueue(t, c, 2) }

	var loggedOut atomic.Int32
	store.OnLogout(func(context.Context) { loggedOut.Add(1) })

	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.True(t, taskdeck.HasCode(err, taskdeck.CodeUnauthenticated), "refresh error is surfaced: %v", err)
		assert.True(t, IsUnauthenticated(err))
	}
	assert.EqualValues(t, 1, api.refreshes.Load())
	assert.EqualValues(t, 1, loggedOut.Load())
	assert.False(t, store.Session().SignedIn())
	assert.Nil(t, store.Session().User)

	_, ok, err := persisted.LoadSession(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "persisted session must be cleared")
}

// messageHook runs a callback when a log record with a given message is
// handled.
type messageHook struct {
	message string
	fn      func()
}

func (h *messageHook) Enabled(context.Context, slog.Level) bool { return true }

func (h *messageHook) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.message {
		h.fn()
	}
	return nil
}

func (h *messageHook) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *messageHook) WithGroup(string) slog.Handler      { return h }

func TestClient_FailedRefreshTearsDownBeforeGoingIdle(t *testing.T) {
	api := &fakeAPI{valid: "current", refreshFail: true}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	store := NewSessionStore(nil, nil)
	store.SetSession(context.Background(), taskdeck.Session{
		User:         &taskdeck.User{ID: "u1"},
		AccessToken:  "stale",
		RefreshToken: "revoked",
	})

	var (
		c       *Client
		once    sync.Once
		lateErr error
	)
	hook := &messageHook{message: "token refresh settled", fn: func() {
		once.Do(func() {
			lateErr = c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil)
		})
	}}
	c, err := New(srv.URL, store, WithLogger(slog.New(hook)))
	require.NoError(t, err)

	err = c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil)
	assert.ErrorIs(t, err, ErrSessionExpired)

	require.Error(t, lateErr)
	assert.True(t, IsUnauthenticated(lateErr))
	assert.EqualValues(t, 1, api.refreshes.Load(), "the revoked refresh token is used once")
	assert.False(t, store.Session().SignedIn())
}

func TestClient_LogoutDuringRefreshIsKept(t *testing.T) {
	api := &fakeAPI{valid: "current"}
	c, store, persisted := newTestClient(t, api, taskdeck.Session{
		User:         &taskdeck.User{ID: "u1"},
		AccessToken:  "stale",
		RefreshToken: "refresh",
	})
	api.beforeRefresh = func() { store.Logout(context.Background()) }

	err := c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, IsUnauthenticated(err))

	assert.Equal(t, taskdeck.Session{}, store.Session())
	_, ok, err := persisted.LoadSession(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "a refreshed token must not bring the session back")
}

func TestClient_NoRefreshTokenTearsDown(t *testing.T) {
	api := &fakeAPI{valid: "current"}
	c, store, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "stale"})

	err := c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil)
	assert.True(t, taskdeck.HasCode(err, taskdeck.CodeUnauthenticated), "got %v", err)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, api.refreshes.Load(), "no refresh without a refresh token")
	assert.Equal(t, "", store.AccessToken())
}

func TestClient_RetriedRequestIsNotRefreshedAgain(t *testing.T) {
	api := &fakeAPI{valid: "current", rejectAll: true}
	c, _, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "stale", RefreshToken: "r"})

	err := c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil)

	var apiErr *taskdeck.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.EqualValues(t, 1, api.refreshes.Load())
}

func TestClient_CanceledWaiterLeavesRefreshRunning(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{valid: "current"}
	c, _, _ := newTestClient(t, api, taskdeck.Session{AccessToken: "stale", RefreshToken: "r"})
	api.beforeRefresh = func() { <-release }

	first := make(chan error, 1)
	go func() { first <- c.JSON(context.Background(), http.MethodGet, "/tasks", nil, nil) }()

	// Wait until the first request owns the refresh.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.refreshing
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- c.JSON(ctx, http.MethodGet, "/tasks", nil, nil) }()
	waitForQueue(t, c, 1)
	cancel()
	assert.True(t, errors.Is(<-second, context.Canceled))

	close(release)
	require.NoError(t, <-first)
	assert.EqualValues(t, 1, api.refreshes.Load())
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/api", nil)
	require.ErrorContains(t, err, "absolute")
}

func TestClient_URL(t *testing.T) {
	c, err := New("http://example.com/api", nil)
	require.NoError(t, err)
	u, err := c.URL("/tasks?page=2&status=DONE")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api/tasks?page=2&status=DONE", u.String())
}
