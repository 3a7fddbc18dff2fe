package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/notify"
)

// SnapshotKey is where the last task page is kept.
const SnapshotKey = "cachedTasks"

// Notifier receives user-facing reports of cache failures.
type Notifier interface {
	Add(typ notify.Type, message string, opts ...notify.Option) notify.Notification
}

// Snapshots mirrors the latest task page into a Store. It is best effort:
// failures are logged and reported as warning toasts, never returned, so a
// broken cache cannot abort the caller's in-memory update.
type Snapshots struct {
	store  Store
	notes  Notifier
	logger *slog.Logger
}

// NewSnapshots returns a snapshot adapter over store. notes and logger may be
// nil.
func NewSnapshots(store Store, notes Notifier, logger *slog.Logger) *Snapshots {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshots{store: store, notes: notes, logger: logger}
}

// Save overwrites the stored snapshot with page.
func (s *Snapshots) Save(ctx context.Context, page taskdeck.TaskPage) {
	page.Meta.Cached = false
	data, err := json.Marshal(page)
	if err == nil {
		err = s.store.Set(ctx, SnapshotKey, data)
	}
	if err != nil {
		s.report(ctx, "saving", err)
	}
}

// Load returns the stored snapshot. ok is false when there is none or it
// could not be read.
func (s *Snapshots) Load(ctx context.Context) (page taskdeck.TaskPage, ok bool) {
	data, err := s.store.Get(ctx, SnapshotKey)
	if errors.Is(err, ErrNotFound) {
		return taskdeck.TaskPage{}, false
	}
	if err == nil {
		err = json.Unmarshal(data, &page)
	}
	if err != nil {
		s.report(ctx, "loading", err)
		return taskdeck.TaskPage{}, false
	}
	return page, true
}

// Clear removes the stored snapshot.
func (s *Snapshots) Clear(ctx context.Context) {
	if err := s.store.Delete(ctx, SnapshotKey); err != nil {
		s.report(ctx, "clearing", err)
	}
}

func (s *Snapshots) report(ctx context.Context, op string, err error) {
	s.logger.WarnContext(ctx, "task snapshot "+op+" failed",
		slog.String("key", SnapshotKey),
		slog.Any("error", err))
	if s.notes != nil {
		s.notes.Add(notify.Warning, fmt.Sprintf("Error %s tasks: %v", op, err), notify.AsToast())
	}
}
