package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/broady/taskdeck"
)

// Config configures the mock API.
type Config struct {
	// Seed is the initial task list. Nil means SampleTasks.
	Seed []taskdeck.Task

	// Accounts that can log in. Nil means DemoAccount only.
	Accounts []Account

	AccessTTL time.Duration
	Logger    *slog.Logger

	// Now overrides time.Now for both the store and token expiry.
	Now func() time.Time
}

// API is the mock task backend: a Store behind token auth.
type API struct {
	Store *Store
	Auth  *Auth
}

// NewAPI builds the store and auth from cfg.
func NewAPI(cfg Config) *API {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	seed := cfg.Seed
	if seed == nil {
		seed = SampleTasks(now())
	}
	accounts := cfg.Accounts
	if accounts == nil {
		accounts = []Account{DemoAccount()}
	}
	opts := []AuthOption{WithAuthClock(now)}
	if cfg.AccessTTL > 0 {
		opts = append(opts, WithAccessTTL(cfg.AccessTTL))
	}

	store := NewStore(seed)
	store.now = now
	return &API{
		Store: store,
		Auth:  NewAuth(accounts, opts...),
	}
}

// New returns an App serving a fresh API built from cfg.
func New(cfg Config) (*App, *API) {
	api := NewAPI(cfg)
	app := NewApp()
	if cfg.Logger != nil {
		app.WithLogger(cfg.Logger)
	}
	api.Register(app)
	return app, api
}

// Register adds the API routes to app.
func (api *API) Register(app *App) {
	auth := RequireAuth(api.Auth)

	app.Handle("GET /healthz", NewHandler(api.health))

	app.Handle("POST /auth/login", NewHandler(api.login))
	app.Handle("POST /auth/signup", NewHandler(api.signup).Status(201))
	app.Handle("POST /auth/refresh", NewHandler(api.refresh))

	app.Handle("GET /tasks", NewHandler(api.listTasks).WithUnaryInterceptor(auth))
	app.Handle("POST /tasks", NewHandler(api.createTask).Status(201).WithUnaryInterceptor(auth))
	app.Handle("GET /tasks/{id}", NewHandler(api.getTask).WithUnaryInterceptor(auth))
	app.Handle("PATCH /tasks/{id}", NewHandler(api.updateTask).WithUnaryInterceptor(auth))
	app.Handle("PUT /tasks/{id}", NewHandler(api.updateTask).WithUnaryInterceptor(auth))
	app.Handle("DELETE /tasks/{id}", NewHandler(api.deleteTask).Status(204).WithUnaryInterceptor(auth))
}

// RequireAuth rejects requests without a live access token in the
// AccessToken header and passes the token's user on to the handler.
func RequireAuth(auth *Auth) UnaryInterceptor {
	return func(ctx *Context, req any, next HandlerFunc) (any, error) {
		u, err := auth.Authenticate(Header(ctx, taskdeck.AccessTokenHeader))
		if err != nil {
			return nil, err
		}
		return next(WithUser(ctx, u), req)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Tasks  int    `json:"tasks"`
}

func (api *API) health(ctx context.Context, _ Empty) (healthResponse, error) {
	return healthResponse{Status: "ok", Tasks: api.Store.Len()}, nil
}

func (api *API) login(ctx context.Context, req taskdeck.LoginRequest) (taskdeck.LoginResponse, error) {
	return api.Auth.Login(req)
}

func (api *API) signup(ctx context.Context, req taskdeck.SignupRequest) (taskdeck.LoginResponse, error) {
	return api.Auth.Signup(req)
}

func (api *API) refresh(ctx context.Context, req taskdeck.RefreshRequest) (taskdeck.RefreshResponse, error) {
	return api.Auth.Refresh(req.RefreshToken, Header(ctx, taskdeck.AccessTokenHeader))
}

func (api *API) listTasks(ctx context.Context, params taskdeck.ListParams) (taskdeck.TaskPage, error) {
	return api.Store.List(params), nil
}

func (api *API) getTask(ctx context.Context, _ Empty) (taskdeck.TaskEnvelope, error) {
	t, err := api.Store.Get(PathValue(ctx, "id"))
	if err != nil {
		return taskdeck.TaskEnvelope{}, err
	}
	return taskdeck.TaskEnvelope{Data: t}, nil
}

func (api *API) createTask(ctx context.Context, req taskdeck.CreateTaskRequest) (taskdeck.Task, error) {
	req.Name = strings.TrimSpace(req.Name)
	return api.Store.Create(req), nil
}

func (api *API) updateTask(ctx context.Context, req taskdeck.UpdateTaskRequest) (taskdeck.Task, error) {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return taskdeck.Task{}, taskdeck.NewError(taskdeck.CodeInvalidArgument, "name: must not be blank").
				WithDetail("field", "name")
		}
		req.Name = &name
	}
	return api.Store.Update(PathValue(ctx, "id"), req)
}

func (api *API) deleteTask(ctx context.Context, _ Empty) (Empty, error) {
	return nil, api.Store.Delete(PathValue(ctx, "id"))
}
