package taskdeck

import (
	"context"
	"iter"
	"sync"
)

// Atom holds a single value that can be read, written, and subscribed to.
// It is the state container behind the session and notification stores.
// Safe for concurrent use.
//
// Subscribers always receive the latest value; intermediate updates may be
// skipped if a subscriber is slow.
//
// Example:
//
//	session := taskdeck.NewAtom(taskdeck.Session{})
//	session.Update(func(s taskdeck.Session) taskdeck.Session {
//	    s.AccessToken = token
//	    return s
//	})
type Atom[T any] struct {
	mu          sync.RWMutex
	value       T
	subscribers map[int64]chan T
	nextSubID   int64
}

// NewAtom creates a new Atom with the given initial value.
func NewAtom[T any](initial T) *Atom[T] {
	return &Atom[T]{
		value:       initial,
		subscribers: make(map[int64]chan T),
	}
}

// Get returns the current value.
func (a *Atom[T]) Get() T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// Set replaces the value and broadcasts it to all subscribers.
func (a *Atom[T]) Set(value T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = value
	a.broadcast(value)
}

// Update atomically applies fn to the current value and returns the result.
// fn must not call back into the Atom.
func (a *Atom[T]) Update(fn func(T) T) T {
	a.mu.Lock()
	defer a.mu.Unlock()
	value := fn(a.value)
	a.value = value
	a.broadcast(value)
	return value
}

// Subscribe returns an iterator that yields the current value and all future
// updates until ctx is canceled.
func (a *Atom[T]) Subscribe(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		ch := make(chan T, 1)

		a.mu.Lock()
		current := a.value
		id := a.nextSubID
		a.nextSubID++
		a.subscribers[id] = ch
		a.mu.Unlock()
		defer a.removeSubscriber(id)

		if !yield(current) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case v := <-ch:
				if !yield(v) {
					return
				}
			}
		}
	}
}

func (a *Atom[T]) removeSubscriber(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subscribers, id)
}

// broadcast delivers v without blocking; a full channel drops its stale value
// so the newest one wins. Callers hold a.mu, which keeps deliveries in order.
func (a *Atom[T]) broadcast(v T) {
	for _, ch := range a.subscribers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
