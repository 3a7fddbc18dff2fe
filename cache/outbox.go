package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/broady/taskdeck"
)

// OutboxKey is where local changes not yet confirmed by the server are kept.
const OutboxKey = "pendingSync"

// PendingChange is the merged, unsynced patch for one task.
type PendingChange struct {
	Patch    taskdeck.UpdateTaskRequest `json:"patch"`
	Seq      int64                      `json:"seq"`
	QueuedAt time.Time                  `json:"queuedAt"`
}

type outboxDoc struct {
	Next    int64                    `json:"next"`
	Changes map[string]PendingChange `json:"changes"`
}

// Outbox records optimistic changes per task until the server accepts them.
// Each Record bumps a sequence number so a late success for an older change
// does not drop a newer one.
type Outbox struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewOutbox returns an outbox over store.
func NewOutbox(store Store) *Outbox {
	return &Outbox{store: store, now: time.Now}
}

// Record merges patch into the pending change for id and returns its new
// sequence number.
func (o *Outbox) Record(ctx context.Context, id string, patch taskdeck.UpdateTaskRequest) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	doc, err := o.load(ctx)
	if err != nil {
		return 0, err
	}
	doc.Next++
	change := doc.Changes[id]
	change.Patch = change.Patch.Merge(patch)
	change.Seq = doc.Next
	change.QueuedAt = o.now()
	doc.Changes[id] = change
	return doc.Next, o.save(ctx, doc)
}

// Done drops the pending change for id if nothing newer than seq was recorded.
func (o *Outbox) Done(ctx context.Context, id string, seq int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	doc, err := o.load(ctx)
	if err != nil {
		return err
	}
	change, ok := doc.Changes[id]
	if !ok || change.Seq > seq {
		return nil
	}
	delete(doc.Changes, id)
	return o.save(ctx, doc)
}

// Forget drops any pending change for id, e.g. after the task was deleted.
func (o *Outbox) Forget(ctx context.Context, id string) error {
	return o.Done(ctx, id, 1<<62)
}

// Pending returns a copy of all pending changes keyed by task id.
func (o *Outbox) Pending(ctx context.Context) (map[string]PendingChange, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	doc, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	return maps.Clone(doc.Changes), nil
}

// Clear drops every pending change.
func (o *Outbox) Clear(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.Delete(ctx, OutboxKey)
}

func (o *Outbox) load(ctx context.Context) (outboxDoc, error) {
	doc := outboxDoc{Changes: make(map[string]PendingChange)}
	data, err := o.store.Get(ctx, OutboxKey)
	if errors.Is(err, ErrNotFound) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode outbox: %w", err)
	}
	if doc.Changes == nil {
		doc.Changes = make(map[string]PendingChange)
	}
	return doc, nil
}

func (o *Outbox) save(ctx context.Context, doc outboxDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}
	return o.store.Set(ctx, OutboxKey, data)
}
