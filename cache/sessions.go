package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/broady/taskdeck"
)

// SessionKey is where the signed-in session is kept.
const SessionKey = "session"

// Sessions persists the authentication session so it survives restarts.
type Sessions struct {
	store Store
}

// NewSessions returns a session adapter over store.
func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

// SaveSession stores s, replacing any previous session.
func (p *Sessions) SaveSession(ctx context.Context, s taskdeck.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return p.store.Set(ctx, SessionKey, data)
}

// LoadSession returns the stored session; ok is false when none is stored.
func (p *Sessions) LoadSession(ctx context.Context) (s taskdeck.Session, ok bool, err error) {
	data, err := p.store.Get(ctx, SessionKey)
	if errors.Is(err, ErrNotFound) {
		return taskdeck.Session{}, false, nil
	}
	if err != nil {
		return taskdeck.Session{}, false, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return taskdeck.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return s, true, nil
}

// ClearSession removes the stored session.
func (p *Sessions) ClearSession(ctx context.Context) error {
	return p.store.Delete(ctx, SessionKey)
}
