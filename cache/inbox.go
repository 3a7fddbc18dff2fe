package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/broady/taskdeck/notify"
)

// InboxKey is where the notification list is kept between runs.
const InboxKey = "notifications"

// MaxInbox bounds the number of notifications kept.
const MaxInbox = 100

// Inbox persists the notification list for front ends that do not stay
// running, such as the command line.
type Inbox struct {
	store Store
}

// NewInbox returns an inbox adapter over store.
func NewInbox(store Store) *Inbox {
	return &Inbox{store: store}
}

// Load returns the saved notifications, newest first.
func (b *Inbox) Load(ctx context.Context) ([]notify.Notification, error) {
	data, err := b.store.Get(ctx, InboxKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []notify.Notification
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return list, nil
}

// Save replaces the saved list, keeping the newest MaxInbox entries.
func (b *Inbox) Save(ctx context.Context, list []notify.Notification) error {
	if len(list) == 0 {
		return b.store.Delete(ctx, InboxKey)
	}
	data, err := json.Marshal(list[:min(len(list), MaxInbox)])
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	return b.store.Set(ctx, InboxKey, data)
}
