package server_test

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/server"
	"github.com/broady/taskdeck/testutil"
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

type env struct {
	h     http.Handler
	api   *server.API
	clock *clock
	login taskdeck.LoginResponse
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := &clock{now: t0}
	app, api := server.New(server.Config{Now: clk.Now, AccessTTL: time.Minute})
	e := &env{h: app.Handler(), api: api, clock: clk}

	w := testutil.NewRequest().
		POST("/auth/login").
		WithJSON(taskdeck.LoginRequest{Email: "demo@example.com", Password: "password"}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.DecodeJSON(t, w, &e.login)
	return e
}

func (e *env) authed() *testutil.RequestBuilder {
	return testutil.NewRequest().WithAccessToken(e.login.AccessToken)
}

func (e *env) list(t *testing.T, query map[string]string) taskdeck.TaskPage {
	t.Helper()
	b := e.authed().GET("/tasks")
	for k, v := range query {
		b.WithQuery(k, v)
	}
	w := b.Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
	var page taskdeck.TaskPage
	testutil.DecodeJSON(t, w, &page)
	return page
}

func names(tasks []taskdeck.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}
	return out
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "demo@example.com", e.login.User.Email)
	assert.NotEmpty(t, e.login.AccessToken)
	assert.NotEmpty(t, e.login.RefreshToken)
	assert.NotEqual(t, e.login.AccessToken, e.login.RefreshToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	e := newEnv(t)
	w := testutil.NewRequest().
		POST("/auth/login").
		WithJSON(taskdeck.LoginRequest{Email: "demo@example.com", Password: "nope"}).
		Serve(e.h)

	testutil.AssertStatus(t, w, http.StatusUnauthorized)
	errResp := testutil.AssertJSONError(t, w, "unauthenticated")
	assert.Equal(t, "Invalid email or password", errResp.Message)
}

func TestLogin_Validation(t *testing.T) {
	e := newEnv(t)
	w := testutil.NewRequest().
		POST("/auth/login").
		WithJSON(taskdeck.LoginRequest{Email: "not-an-email", Password: "x"}).
		Serve(e.h)

	testutil.AssertStatus(t, w, http.StatusBadRequest)
	errResp := testutil.AssertJSONError(t, w, "invalid_argument")
	assert.Contains(t, errResp.Details, "email")
}

func TestSignup(t *testing.T) {
	e := newEnv(t)
	req := taskdeck.SignupRequest{Name: "Ada", Email: "ada@example.com", Password: "engine"}

	w := testutil.NewRequest().POST("/auth/signup").WithJSON(req).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusCreated)
	var resp taskdeck.LoginResponse
	testutil.DecodeJSON(t, w, &resp)
	assert.Equal(t, "Ada", resp.User.Name)
	assert.NotEmpty(t, resp.User.ID)

	w = testutil.NewRequest().GET("/tasks").WithAccessToken(resp.AccessToken).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)

	w = testutil.NewRequest().
		POST("/auth/login").
		WithJSON(taskdeck.LoginRequest{Email: "ADA@example.com", Password: "engine"}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)

	w = testutil.NewRequest().POST("/auth/signup").WithJSON(req).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusConflict)
	testutil.AssertJSONError(t, w, "conflict")
}

func TestTasks_RequireAccessToken(t *testing.T) {
	e := newEnv(t)

	for _, tc := range []struct {
		name  string
		token string
		msg   string
	}{
		{"missing", "", "Missing access token"},
		{"unknown", "bogus", "Access token expired"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := testutil.NewRequest().GET("/tasks")
			if tc.token != "" {
				b.WithAccessToken(tc.token)
			}
			w := b.Serve(e.h)
			testutil.AssertStatus(t, w, http.StatusUnauthorized)
			errResp := testutil.AssertJSONError(t, w, "unauthenticated")
			assert.Equal(t, tc.msg, errResp.Message)
		})
	}
}

func TestList(t *testing.T) {
	e := newEnv(t)

	page := e.list(t, nil)
	assert.Equal(t, []string{"Sample Task 1", "Sample Task 2", "Completed Task"}, names(page.Data))
	require.NotNil(t, page.Meta.Total)
	assert.Equal(t, 3, *page.Meta.Total)
	assert.Equal(t, 1, page.Meta.Page)
	assert.Equal(t, 1, page.Meta.TotalPages)
	assert.False(t, page.Meta.HasNextPage)
	assert.False(t, page.Meta.Cached)
}

func TestList_Filters(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name  string
		query map[string]string
		want  []string
	}{
		{"all", map[string]string{"status": "ALL"}, []string{"Sample Task 1", "Sample Task 2", "Completed Task"}},
		{"done", map[string]string{"status": "DONE"}, []string{"Completed Task"}},
		{"in progress", map[string]string{"status": "IN_PROGRESS"}, []string{"Sample Task 2"}},
		{"search name", map[string]string{"search": "completed"}, []string{"Completed Task"}},
		{"search description", map[string]string{"search": "ANOTHER"}, []string{"Sample Task 2"}},
		{"search tags", map[string]string{"search": "urgent"}, []string{"Sample Task 1"}},
		{"status and search", map[string]string{"status": "TODO", "search": "sample"}, []string{"Sample Task 1"}},
		{"no match", map[string]string{"search": "zzz"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := e.list(t, tt.query)
			assert.Equal(t, tt.want, names(page.Data))
		})
	}
}

func TestList_Pagination(t *testing.T) {
	e := newEnv(t)

	page := e.list(t, map[string]string{"page": "2", "limit": "2"})
	assert.Equal(t, []string{"Completed Task"}, names(page.Data))
	assert.Equal(t, 2, page.Meta.TotalPages)
	assert.True(t, page.Meta.HasPreviousPage)
	assert.False(t, page.Meta.HasNextPage)

	page = e.list(t, map[string]string{"page": "5", "limit": "2"})
	assert.Empty(t, page.Data)
}

func TestList_InvalidQuery(t *testing.T) {
	e := newEnv(t)

	w := e.authed().GET("/tasks").WithQuery("status", "SOMEDAY").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	testutil.AssertJSONError(t, w, "invalid_argument")

	w = e.authed().GET("/tasks").WithQuery("limit", "lots").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	testutil.AssertJSONError(t, w, "invalid_argument")
}

func TestGetTask(t *testing.T) {
	e := newEnv(t)

	w := e.authed().GET("/tasks/2").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
	var env taskdeck.TaskEnvelope
	testutil.DecodeJSON(t, w, &env)
	assert.Equal(t, "Sample Task 2", env.Data.Name)
	assert.Equal(t, taskdeck.StatusInProgress, env.Data.Status)

	w = e.authed().GET("/tasks/404").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusNotFound)
	errResp := testutil.AssertJSONError(t, w, "not_found")
	assert.Equal(t, "Task not found", errResp.Message)
}

func TestCreateTask(t *testing.T) {
	e := newEnv(t)
	desc := "2 litres"

	w := e.authed().
		POST("/tasks").
		WithJSON(taskdeck.CreateTaskRequest{Name: "  Buy milk ", Description: &desc}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusCreated)

	var created taskdeck.Task
	testutil.DecodeJSON(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Buy milk", created.Name)
	assert.Equal(t, taskdeck.PriorityLow, created.Priority)
	assert.Equal(t, taskdeck.StatusTodo, created.Status)
	assert.Nil(t, created.CompletedAt)
	assert.True(t, created.CreatedAt.Equal(t0))

	page := e.list(t, nil)
	require.Len(t, page.Data, 4)
	assert.Equal(t, created.ID, page.Data[0].ID, "newest first")
}

func TestCreateTask_DoneIsStamped(t *testing.T) {
	e := newEnv(t)

	w := e.authed().
		POST("/tasks").
		WithJSON(taskdeck.CreateTaskRequest{Name: "Already done", Status: taskdeck.StatusDone, Priority: taskdeck.PriorityHigh}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusCreated)

	var created taskdeck.Task
	testutil.DecodeJSON(t, w, &created)
	require.NotNil(t, created.CompletedAt)
	assert.True(t, created.CompletedAt.Equal(t0))
	assert.Equal(t, taskdeck.PriorityHigh, created.Priority)
}

func TestCreateTask_Invalid(t *testing.T) {
	e := newEnv(t)

	for _, body := range []string{
		`{"name":"   "}`,
		`{"name":"x","priority":"URGENT"}`,
		`{"name":`,
	} {
		w := e.authed().POST("/tasks").WithBody(body).Serve(e.h)
		testutil.AssertStatus(t, w, http.StatusBadRequest)
		testutil.AssertJSONError(t, w, "invalid_argument")
	}
	assert.Equal(t, 3, e.api.Store.Len())
}

func TestUpdateTask(t *testing.T) {
	e := newEnv(t)
	e.clock.Advance(5 * time.Second)

	w := e.authed().PATCH("/tasks/1").WithBody(`{"status":"DONE","tags":null}`).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)

	var updated taskdeck.Task
	testutil.DecodeJSON(t, w, &updated)
	assert.Equal(t, "Sample Task 1", updated.Name)
	assert.Equal(t, taskdeck.StatusDone, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.True(t, updated.CompletedAt.Equal(t0.Add(5*time.Second)))
	assert.Nil(t, updated.Tags)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	w = e.authed().PUT("/tasks/1").WithBody(`{"status":"TODO","name":" Renamed "}`).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.DecodeJSON(t, w, &updated)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Nil(t, updated.CompletedAt)
}

func TestUpdateTask_Errors(t *testing.T) {
	e := newEnv(t)

	w := e.authed().PATCH("/tasks/1").WithBody(`{"name":"  "}`).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	testutil.AssertJSONError(t, w, "invalid_argument")

	w = e.authed().PATCH("/tasks/1").WithBody(`{"status":"LATER"}`).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = e.authed().PATCH("/tasks/nope").WithBody(`{"status":"DONE"}`).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusNotFound)
	testutil.AssertJSONError(t, w, "not_found")
}

func TestDeleteTask(t *testing.T) {
	e := newEnv(t)

	w := e.authed().DELETE("/tasks/3").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusNoContent)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 2, e.api.Store.Len())

	w = e.authed().DELETE("/tasks/3").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusNotFound)
	testutil.AssertJSONError(t, w, "not_found")
}

func TestAccessTokenExpiry(t *testing.T) {
	e := newEnv(t)
	e.clock.Advance(time.Minute)

	w := e.authed().GET("/tasks").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
	errResp := testutil.AssertJSONError(t, w, "unauthenticated")
	assert.Equal(t, "Access token expired", errResp.Message)

	w = testutil.NewRequest().
		POST("/auth/refresh").
		WithAccessToken(e.login.AccessToken).
		WithJSON(taskdeck.RefreshRequest{RefreshToken: e.login.RefreshToken}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
	var refreshed taskdeck.RefreshResponse
	testutil.DecodeJSON(t, w, &refreshed)
	require.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, e.login.AccessToken, refreshed.AccessToken)

	w = testutil.NewRequest().GET("/tasks").WithAccessToken(refreshed.AccessToken).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
}

func TestRefresh_RevokesPresentedToken(t *testing.T) {
	e := newEnv(t)

	w := testutil.NewRequest().
		POST("/auth/refresh").
		WithAccessToken(e.login.AccessToken).
		WithJSON(taskdeck.RefreshRequest{RefreshToken: e.login.RefreshToken}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)

	w = e.authed().GET("/tasks").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}

func TestRefresh_Invalid(t *testing.T) {
	e := newEnv(t)

	w := testutil.NewRequest().
		POST("/auth/refresh").
		WithJSON(taskdeck.RefreshRequest{RefreshToken: "stolen"}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
	testutil.AssertJSONError(t, w, "unauthenticated")

	w = testutil.NewRequest().POST("/auth/refresh").WithJSON(map[string]string{}).Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	e.api.Auth.RevokeRefreshTokens()
	w = testutil.NewRequest().
		POST("/auth/refresh").
		WithJSON(taskdeck.RefreshRequest{RefreshToken: e.login.RefreshToken}).
		Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}

func TestExpireAccessTokens(t *testing.T) {
	e := newEnv(t)
	e.api.Auth.ExpireAccessTokens()

	w := e.authed().GET("/tasks/1").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)

	w := testutil.NewRequest().GET("/healthz").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertJSONResponse(t, w, map[string]any{"status": "ok", "tasks": 3})
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)

	w := testutil.NewRequest().GET("/projects").Serve(e.h)
	testutil.AssertStatus(t, w, http.StatusNotFound)
	testutil.AssertJSONError(t, w, "not_found")
}
