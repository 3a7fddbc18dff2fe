package client

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/broady/taskdeck"
)

// SessionPersister stores the session across restarts. cache.Sessions
// implements it.
type SessionPersister interface {
	SaveSession(ctx context.Context, s taskdeck.Session) error
	LoadSession(ctx context.Context) (taskdeck.Session, bool, error)
	ClearSession(ctx context.Context) error
}

// SessionStore holds the credentials used by a Client. Every change is
// written through to the persister; persistence failures are logged and do
// not affect the in-memory session.
type SessionStore struct {
	state   *taskdeck.Atom[taskdeck.Session]
	persist SessionPersister
	logger  *slog.Logger

	mu       sync.Mutex
	onLogout []func(context.Context)
}

// NewSessionStore returns an empty, signed-out store. persist and logger may
// be nil.
func NewSessionStore(persist SessionPersister, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		state:   taskdeck.NewAtom(taskdeck.Session{}),
		persist: persist,
		logger:  logger,
	}
}

// Restore loads the persisted session, if any. It reports whether a session
// was found.
func (s *SessionStore) Restore(ctx context.Context) (bool, error) {
	if s.persist == nil {
		return false, nil
	}
	sess, ok, err := s.persist.LoadSession(ctx)
	if err != nil || !ok {
		return false, err
	}
	s.state.Set(sess)
	return true, nil
}

// Session returns the current session.
func (s *SessionStore) Session() taskdeck.Session {
	return s.state.Get()
}

// AccessToken returns the current access token, or "" when signed out.
func (s *SessionStore) AccessToken() string {
	return s.state.Get().AccessToken
}

// RefreshToken returns the current refresh token, or "" when signed out.
func (s *SessionStore) RefreshToken() string {
	return s.state.Get().RefreshToken
}

// SetSession replaces the whole session, typically after login.
func (s *SessionStore) SetSession(ctx context.Context, sess taskdeck.Session) {
	s.state.Set(sess)
	s.save(ctx, sess)
}

// SetAccessToken swaps in a refreshed access token, keeping the user and
// refresh token. It reports false and changes nothing when the session was
// logged out in the meantime.
func (s *SessionStore) SetAccessToken(ctx context.Context, token string) bool {
	stored := false
	sess := s.state.Update(func(cur taskdeck.Session) taskdeck.Session {
		if cur.RefreshToken == "" {
			return cur
		}
		stored = true
		cur.AccessToken = token
		return cur
	})
	if stored {
		s.save(ctx, sess)
	}
	return stored
}

// Logout clears the user and both tokens, removes the persisted session and
// runs the OnLogout hooks.
func (s *SessionStore) Logout(ctx context.Context) {
	s.state.Set(taskdeck.Session{})
	if s.persist != nil {
		if err := s.persist.ClearSession(ctx); err != nil {
			s.logger.WarnContext(ctx, "clear session failed", slog.Any("error", err))
		}
	}

	s.mu.Lock()
	hooks := slices.Clone(s.onLogout)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

// OnLogout registers fn to run after every Logout, including the forced
// logout when a refresh fails.
func (s *SessionStore) OnLogout(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Subscribe yields the current session and then every change until ctx is
// done.
func (s *SessionStore) Subscribe(ctx context.Context) iter.Seq[taskdeck.Session] {
	return s.state.Subscribe(ctx)
}

func (s *SessionStore) save(ctx context.Context, sess taskdeck.Session) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveSession(ctx, sess); err != nil {
		s.logger.WarnContext(ctx, "save session failed", slog.Any("error", err))
	}
}
