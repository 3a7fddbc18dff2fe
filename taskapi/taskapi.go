// Package taskapi wraps the task REST endpoints in typed calls.
package taskapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/client"
)

// Service calls the task API through an authenticated client.
type Service struct {
	c *client.Client
}

// New returns a Service using c.
func New(c *client.Client) *Service {
	return &Service{c: c}
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}

// List fetches one page of tasks.
func (s *Service) List(ctx context.Context, params taskdeck.ListParams) (taskdeck.TaskPage, error) {
	var page taskdeck.TaskPage
	err := s.c.JSON(ctx, http.MethodGet, "/tasks?"+params.Query().Encode(), nil, &page)
	if page.Data == nil {
		page.Data = []taskdeck.Task{}
	}
	return page, err
}

// Get fetches a single task.
func (s *Service) Get(ctx context.Context, id string) (taskdeck.Task, error) {
	var env taskdeck.TaskEnvelope
	err := s.c.JSON(ctx, http.MethodGet, taskPath(id), nil, &env)
	return env.Data, err
}

// Create adds a task. The request is validated before it is sent.
func (s *Service) Create(ctx context.Context, req taskdeck.CreateTaskRequest) (taskdeck.Task, error) {
	if err := taskdeck.Validate(req); err != nil {
		return taskdeck.Task{}, err
	}
	var t taskdeck.Task
	err := s.c.JSON(ctx, http.MethodPost, "/tasks", req, &t)
	return t, err
}

// Update applies a partial update and returns the server's copy.
func (s *Service) Update(ctx context.Context, id string, req taskdeck.UpdateTaskRequest) (taskdeck.Task, error) {
	var t taskdeck.Task
	err := s.c.JSON(ctx, http.MethodPatch, taskPath(id), req, &t)
	return t, err
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.c.JSON(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// Login exchanges credentials for a session and installs it on the client.
func (s *Service) Login(ctx context.Context, req taskdeck.LoginRequest) (taskdeck.Session, error) {
	return s.startSession(ctx, "/auth/login", req)
}

// Signup creates an account and signs in as it.
func (s *Service) Signup(ctx context.Context, req taskdeck.SignupRequest) (taskdeck.Session, error) {
	return s.startSession(ctx, "/auth/signup", req)
}

func (s *Service) startSession(ctx context.Context, path string, req any) (taskdeck.Session, error) {
	if err := taskdeck.Validate(req); err != nil {
		return taskdeck.Session{}, err
	}
	var resp taskdeck.LoginResponse
	if err := s.c.JSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return taskdeck.Session{}, err
	}
	user := resp.User
	sess := taskdeck.Session{
		User:         &user,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	s.c.Session().SetSession(ctx, sess)
	return sess, nil
}

// Logout drops the session locally. The mock API keeps no server-side
// session to revoke.
func (s *Service) Logout(ctx context.Context) {
	s.c.Session().Logout(ctx)
}
