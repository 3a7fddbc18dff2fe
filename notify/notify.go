// Package notify is the process-wide list of user-facing messages.
//
// Notifications are kept newest first. They can be marked read one at a time
// or cleared all at once; there is no individual removal and no size bound.
// Long-lived entries and short toasts share the same list and differ only in
// their Lifetime.
package notify

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/broady/taskdeck"
)

// Type is the severity of a notification.
type Type string

const (
	Success Type = "success"
	Error   Type = "error"
	Warning Type = "warning"
	Info    Type = "info"
)

// Lifetime says how long a front end should keep a notification on screen.
type Lifetime int

const (
	// Sticky notifications stay in the notification list until cleared.
	Sticky Lifetime = iota
	// Toast notifications are shown briefly. They are still recorded in the
	// list so nothing is lost, but front ends may hide them once read.
	Toast
)

func (l Lifetime) String() string {
	if l == Toast {
		return "toast"
	}
	return "sticky"
}

// Notification is a single message.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Lifetime  Lifetime  `json:"lifetime"`
	CreatedAt time.Time `json:"createdAt"`

	// Action is an optional follow-up the user can trigger, such as retry.
	Action func() `json:"-"`
}

// Option customizes a notification in Add.
type Option func(*Notification)

// WithAction attaches a follow-up action.
func WithAction(fn func()) Option {
	return func(n *Notification) {
		n.Action = fn
	}
}

// AsToast marks the notification as short-lived.
func AsToast() Option {
	return func(n *Notification) {
		n.Lifetime = Toast
	}
}

// Store holds the notification list. The zero value is not usable; call
// NewStore.
type Store struct {
	list  *taskdeck.Atom[[]Notification]
	newID func() string
	now   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		list:  taskdeck.NewAtom[[]Notification](nil),
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Add prepends an unread notification and returns it.
func (s *Store) Add(typ Type, message string, opts ...Option) Notification {
	n := Notification{
		ID:        s.newID(),
		Type:      typ,
		Message:   message,
		CreatedAt: s.now(),
	}
	for _, opt := range opts {
		opt(&n)
	}
	s.list.Update(func(old []Notification) []Notification {
		next := make([]Notification, 0, len(old)+1)
		next = append(next, n)
		return append(next, old...)
	})
	return n
}

// MarkRead flags the notification with the given id as read. It reports
// whether the id was found.
func (s *Store) MarkRead(id string) bool {
	found := false
	s.list.Update(func(old []Notification) []Notification {
		i := slices.IndexFunc(old, func(n Notification) bool { return n.ID == id })
		if i < 0 || old[i].Read {
			found = i >= 0
			return old
		}
		found = true
		next := slices.Clone(old)
		next[i].Read = true
		return next
	})
	return found
}

// MarkAllRead flags every notification as read.
func (s *Store) MarkAllRead() {
	s.list.Update(func(old []Notification) []Notification {
		next := slices.Clone(old)
		for i := range next {
			next[i].Read = true
		}
		return next
	})
}

// ClearAll empties the list.
func (s *Store) ClearAll() {
	s.list.Set(nil)
}

// Restore replaces the list with a previously saved one, newest first.
func (s *Store) Restore(list []Notification) {
	s.list.Set(slices.Clone(list))
}

// List returns the notifications, newest first. The slice is a copy.
func (s *Store) List() []Notification {
	return slices.Clone(s.list.Get())
}

// Unread returns the number of unread notifications.
func (s *Store) Unread() int {
	n := 0
	for _, item := range s.list.Get() {
		if !item.Read {
			n++
		}
	}
	return n
}

// Subscribe yields the current list and every later version of it until ctx
// is canceled.
func (s *Store) Subscribe(ctx context.Context) iter.Seq[[]Notification] {
	return s.list.Subscribe(ctx)
}
