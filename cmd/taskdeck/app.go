package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/cache"
	"github.com/broady/taskdeck/client"
	"github.com/broady/taskdeck/notify"
	"github.com/broady/taskdeck/taskapi"
	"github.com/broady/taskdeck/tasks"
)

var errSignedOut = errors.New("not signed in; run `taskdeck login` first")

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// session is everything a client command works with: the cache database,
// the signed-in API client and the task engine on top of them.
type session struct {
	ctx    context.Context
	logger *slog.Logger
	out    *printer

	store    *cache.SQLiteStore
	sessions *client.SessionStore
	svc      *taskapi.Service
	engine   *tasks.Engine
	notes    *notify.Store
	inbox    *cache.Inbox
	seen     map[string]bool
}

func openSession(g *Globals, env *Env) (*session, error) {
	ctx := env.ctx
	logger := newLogger(g.LogLevel, env.stderr)

	if g.Cache != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(g.Cache), 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	store, err := cache.OpenSQLite(ctx, g.Cache)
	if err != nil {
		return nil, err
	}

	notes := notify.NewStore()
	inbox := cache.NewInbox(store)
	saved, err := inbox.Load(ctx)
	if err != nil {
		logger.WarnContext(ctx, "load notifications failed", slog.Any("error", err))
	}
	notes.Restore(saved)
	seen := make(map[string]bool, len(saved))
	for _, n := range saved {
		seen[n.ID] = true
	}

	sessions := client.NewSessionStore(cache.NewSessions(store), logger)
	if _, err := sessions.Restore(ctx); err != nil {
		logger.WarnContext(ctx, "restore session failed", slog.Any("error", err))
	}
	c, err := client.New(g.Server, sessions,
		client.WithHTTPClient(&http.Client{Timeout: g.Timeout}),
		client.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, err
	}
	svc := taskapi.New(c)

	engine := tasks.NewEngine(svc, cache.NewSnapshots(store, notes, logger), notes,
		tasks.WithOutbox(cache.NewOutbox(store)),
		tasks.WithLogger(logger))
	sessions.OnLogout(func(ctx context.Context) {
		engine.Reset(ctx)
		notes.ClearAll()
	})

	return &session{
		ctx:      ctx,
		logger:   logger,
		out:      newPrinter(env.stdout, env.stderr, g.Color),
		store:    store,
		sessions: sessions,
		svc:      svc,
		engine:   engine,
		notes:    notes,
		inbox:    inbox,
		seen:     seen,
	}, nil
}

// withSession opens a session, runs fn and closes the session whatever fn
// returns.
func withSession(g *Globals, env *Env, fn func(*session) error) (err error) {
	s, err := openSession(g, env)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

// Close waits for background syncs, prints the notifications raised during
// the run and saves the list for `taskdeck notifications`.
func (s *session) Close() error {
	s.engine.Wait()

	list := s.notes.List()
	for _, n := range slices.Backward(list) {
		if !s.seen[n.ID] {
			s.out.notification(n)
		}
	}
	if err := s.inbox.Save(context.WithoutCancel(s.ctx), list); err != nil {
		s.logger.Warn("save notifications failed", slog.Any("error", err))
	}
	return s.store.Close()
}

func (s *session) requireSignedIn() error {
	if !s.sessions.Session().SignedIn() {
		return errSignedOut
	}
	return nil
}

// view loads the default task list into the engine so local changes land in
// the cached page and snapshot. Failures only matter to the caller's later
// steps, so they are logged.
func (s *session) view() *tasks.Operations {
	ops := s.engine.Operations(taskdeck.ListParams{})
	if _, err := ops.Fetch(s.ctx); err != nil {
		s.logger.DebugContext(s.ctx, "load task list failed", slog.Any("error", err))
	}
	return ops
}

// find returns a task from the loaded view or, failing that, the server.
func (s *session) find(ops *tasks.Operations, id string) (taskdeck.Task, error) {
	for _, t := range ops.Tasks() {
		if t.ID == id {
			return t, nil
		}
	}
	t, err := s.engine.Get(s.ctx, id)
	if err != nil {
		return taskdeck.Task{}, fmt.Errorf("task %s: %w", id, err)
	}
	return t, nil
}

// normalizeEnum upper-cases a status or priority typed on the command line.
func normalizeEnum(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
}
