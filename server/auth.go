package server

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/broady/taskdeck"
)

// DefaultAccessTTL is how long an access token stays valid.
const DefaultAccessTTL = 15 * time.Minute

// Account is a user the mock API accepts.
type Account struct {
	User     taskdeck.User
	Password string
}

// DemoAccount is the account seeded into the demo server.
func DemoAccount() Account {
	return Account{
		User: taskdeck.User{
			ID:    "demo",
			Name:  "Demo User",
			Email: "demo@example.com",
		},
		Password: "password",
	}
}

type grant struct {
	userID  string
	expires time.Time
}

// Auth issues and checks tokens. It is not a security mechanism: tokens are
// opaque random strings kept in memory and passwords are compared in clear.
type Auth struct {
	mu       sync.Mutex
	accounts map[string]Account // by lower-cased email
	access   map[string]grant
	refresh  map[string]string // refresh token -> user id
	ttl      time.Duration
	now      func() time.Time
}

// AuthOption configures an Auth.
type AuthOption func(*Auth)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) AuthOption {
	return func(a *Auth) {
		a.ttl = ttl
	}
}

// WithAuthClock overrides time.Now.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *Auth) {
		a.now = now
	}
}

// NewAuth returns an Auth accepting accounts.
func NewAuth(accounts []Account, opts ...AuthOption) *Auth {
	a := &Auth{
		accounts: make(map[string]Account, len(accounts)),
		access:   make(map[string]grant),
		refresh:  make(map[string]string),
		ttl:      DefaultAccessTTL,
		now:      time.Now,
	}
	for _, acct := range accounts {
		a.accounts[strings.ToLower(acct.User.Email)] = acct
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var errBadCredentials = taskdeck.NewError(taskdeck.CodeUnauthenticated, "Invalid email or password")

// Login checks credentials and starts a session.
func (a *Auth) Login(req taskdeck.LoginRequest) (taskdeck.LoginResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accounts[strings.ToLower(req.Email)]
	if !ok || acct.Password != req.Password {
		return taskdeck.LoginResponse{}, errBadCredentials
	}
	return a.issue(acct.User), nil
}

// Signup creates an account and starts a session for it.
func (a *Auth) Signup(req taskdeck.SignupRequest) (taskdeck.LoginResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	email := strings.ToLower(req.Email)
	if _, exists := a.accounts[email]; exists {
		return taskdeck.LoginResponse{}, taskdeck.NewError(taskdeck.CodeConflict, "An account with this email already exists")
	}
	u := taskdeck.User{ID: uuid.NewString(), Name: strings.TrimSpace(req.Name), Email: req.Email}
	a.accounts[email] = Account{User: u, Password: req.Password}
	return a.issue(u), nil
}

// Refresh exchanges a refresh token for a new access token. The access token
// presented alongside it, if any, is revoked.
func (a *Auth) Refresh(refreshToken, accessToken string) (taskdeck.RefreshResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	userID, ok := a.refresh[refreshToken]
	if !ok {
		return taskdeck.RefreshResponse{}, taskdeck.NewError(taskdeck.CodeUnauthenticated, "Invalid refresh token")
	}
	if g, ok := a.access[accessToken]; ok && g.userID == userID {
		delete(a.access, accessToken)
	}
	return taskdeck.RefreshResponse{AccessToken: a.grantAccess(userID)}, nil
}

// Authenticate returns the user owning a live access token.
func (a *Auth) Authenticate(accessToken string) (taskdeck.User, error) {
	if accessToken == "" {
		return taskdeck.User{}, taskdeck.NewError(taskdeck.CodeUnauthenticated, "Missing access token")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.access[accessToken]
	if !ok || !a.now().Before(g.expires) {
		delete(a.access, accessToken)
		return taskdeck.User{}, taskdeck.NewError(taskdeck.CodeUnauthenticated, "Access token expired")
	}
	for _, acct := range a.accounts {
		if acct.User.ID == g.userID {
			return acct.User, nil
		}
	}
	return taskdeck.User{}, taskdeck.NewError(taskdeck.CodeUnauthenticated, "Unknown user")
}

// ExpireAccessTokens invalidates every access token, forcing clients to
// refresh.
func (a *Auth) ExpireAccessTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.access)
}

// RevokeRefreshTokens invalidates every refresh token.
func (a *Auth) RevokeRefreshTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.refresh)
}

// issue must be called with a.mu held.
func (a *Auth) issue(u taskdeck.User) taskdeck.LoginResponse {
	refresh := newToken()
	a.refresh[refresh] = u.ID
	return taskdeck.LoginResponse{
		User:         u,
		AccessToken:  a.grantAccess(u.ID),
		RefreshToken: refresh,
	}
}

// grantAccess must be called with a.mu held.
func (a *Auth) grantAccess(userID string) string {
	token := newToken()
	a.access[token] = grant{userID: userID, expires: a.now().Add(a.ttl)}
	return token
}

func newToken() string {
	b := make([]byte, 24)
	rand.Read(b)
	return hex.EncodeToString(b)
}
