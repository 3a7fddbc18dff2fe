package taskapi_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/cache"
	"github.com/broady/taskdeck/client"
	"github.com/broady/taskdeck/notify"
	"github.com/broady/taskdeck/server"
	"github.com/broady/taskdeck/taskapi"
	"github.com/broady/taskdeck/tasks"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	srv      *httptest.Server
	api      *server.API
	clock    *clock
	store    *cache.MemoryStore
	sessions *client.SessionStore
	svc      *taskapi.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: t0}
	app, api := server.New(server.Config{Now: clk.Now, AccessTTL: time.Minute})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	store := cache.NewMemoryStore()
	sessions := client.NewSessionStore(cache.NewSessions(store), nil)
	c, err := client.New(srv.URL, sessions)
	require.NoError(t, err)

	return &harness{
		srv:      srv,
		api:      api,
		clock:    clk,
		store:    store,
		sessions: sessions,
		svc:      taskapi.New(c),
	}
}

func (h *harness) login(t *testing.T) taskdeck.Session {
	t.Helper()
	sess, err := h.svc.Login(context.Background(), taskdeck.LoginRequest{
		Email:    "demo@example.com",
		Password: "password",
	})
	require.NoError(t, err)
	return sess
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess := h.login(t)
	require.NotNil(t, sess.User)
	assert.Equal(t, "Demo User", sess.User.Name)
	assert.True(t, h.sessions.Session().SignedIn())

	persisted, ok, err := cache.NewSessions(h.store).LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess.AccessToken, persisted.AccessToken)
	assert.Equal(t, sess.RefreshToken, persisted.RefreshToken)
}

func TestLogin_Rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Login(ctx, taskdeck.LoginRequest{Email: "demo@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, taskdeck.HasCode(err, taskdeck.CodeUnauthenticated))
	assert.False(t, h.sessions.Session().SignedIn())

	_, err = h.svc.Login(ctx, taskdeck.LoginRequest{Email: "nope", Password: "x"})
	assert.True(t, taskdeck.HasCode(err, taskdeck.CodeInvalidArgument))
}

func TestSignup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Signup(ctx, taskdeck.SignupRequest{Name: "Ada", Email: "ada@example.com", Password: "engine"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", sess.User.Email)

	page, err := h.svc.List(ctx, taskdeck.ListParams{})
	require.NoError(t, err)
	assert.Len(t, page.Data, 3)
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	created, err := h.svc.Create(ctx, taskdeck.CreateTaskRequest{Name: "Buy milk", Priority: taskdeck.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, taskdeck.StatusTodo, created.Status)

	got, err := h.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", got.Name)

	done := taskdeck.StatusDone
	updated, err := h.svc.Update(ctx, created.ID, taskdeck.UpdateTaskRequest{
		Status: &done,
		Tags:   taskdeck.Some("groceries"),
	})
	require.NoError(t, err)
	assert.Equal(t, taskdeck.StatusDone, updated.Status)
	require.NotNil(t, updated.Tags)
	assert.Equal(t, "groceries", *updated.Tags)
	assert.NotNil(t, updated.CompletedAt)

	page, err := h.svc.List(ctx, taskdeck.ListParams{Search: "groceries"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, created.ID, page.Data[0].ID)

	require.NoError(t, h.svc.Delete(ctx, created.ID))

	_, err = h.svc.Get(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, taskdeck.HasCode(err, taskdeck.CodeNotFound))
	assert.Equal(t, "Task not found", taskdeck.AsError(err).Message)
}

func TestCreate_ValidatesLocally(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, err := h.svc.Create(context.Background(), taskdeck.CreateTaskRequest{Name: "  "})
	assert.True(t, taskdeck.HasCode(err, taskdeck.CodeInvalidArgument))
	assert.Equal(t, 3, h.api.Store.Len())
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.login(t)

	h.clock.Advance(2 * time.Minute)

	page, err := h.svc.List(ctx, taskdeck.ListParams{})
	require.NoError(t, err)
	assert.Len(t, page.Data, 3)

	current := h.sessions.Session()
	assert.NotEqual(t, sess.AccessToken, current.AccessToken)
	assert.Equal(t, sess.RefreshToken, current.RefreshToken)
}

func TestRevokedSessionLogsOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	var loggedOut int
	h.sessions.OnLogout(func(context.Context) { loggedOut++ })

	h.api.Auth.ExpireAccessTokens()
	h.api.Auth.RevokeRefreshTokens()

	_, err := h.svc.List(ctx, taskdeck.ListParams{})
	require.Error(t, err)
	assert.True(t, client.IsUnauthenticated(err))
	assert.False(t, h.sessions.Session().SignedIn())
	assert.Equal(t, 1, loggedOut)

	_, ok, err := cache.NewSessions(h.store).LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineAgainstServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	notes := notify.NewStore()
	engine := tasks.NewEngine(h.svc, cache.NewSnapshots(h.store, notes, nil), notes,
		tasks.WithOutbox(cache.NewOutbox(h.store)),
		tasks.WithClock(h.clock.Now))
	ops := engine.Operations(taskdeck.ListParams{})

	page, err := ops.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, page.Data, 3)

	first := page.Data[0]
	require.Equal(t, taskdeck.StatusTodo, first.Status)
	toggled := ops.ToggleStatus(ctx, first)
	assert.Equal(t, taskdeck.StatusDone, toggled.Status)
	engine.Wait()

	remote, err := h.api.Store.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, taskdeck.StatusDone, remote.Status)
	assert.NotNil(t, remote.CompletedAt)

	pending, err := engine.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var messages []string
	for _, n := range notes.List() {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages, "Synced successfully")
	assert.Contains(t, messages, `Task "Sample Task 1" marked as DONE`)

	created, err := ops.Create(ctx, taskdeck.CreateTaskRequest{Name: "Write report"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, ops.Tasks()[0].ID)
	assert.Equal(t, 4, h.api.Store.Len())

	require.NoError(t, ops.Delete(ctx, created.ID))
	assert.Equal(t, 3, h.api.Store.Len())
}

func TestEngineFallsBackWhenServerIsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	notes := notify.NewStore()
	engine := tasks.NewEngine(h.svc, cache.NewSnapshots(h.store, notes, nil), notes,
		tasks.WithOutbox(cache.NewOutbox(h.store)))
	ops := engine.Operations(taskdeck.ListParams{})

	_, err := ops.Fetch(ctx)
	require.NoError(t, err)

	h.srv.Close()

	page, err := ops.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, page.Meta.Cached)
	assert.Len(t, page.Data, 3)
	assert.Equal(t, "You are offline, showing cached tasks", notes.List()[0].Message)

	ops.ToggleStatus(ctx, page.Data[1])
	engine.Wait()

	pending, err := engine.Pending(ctx)
	require.NoError(t, err)
	assert.Contains(t, pending, page.Data[1].ID)
	assert.Equal(t, "Offline update only. Sync will retry later.", notes.List()[0].Message)
}
