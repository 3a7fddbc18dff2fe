// Package tasks keeps the local view of the task list in step with the API.
//
// An Engine owns the query cache shared by every view of the list. Changes
// are applied to the cache and the offline snapshot first and sent to the
// server afterwards; a failed sync leaves the local change in place and
// records it in the outbox for a later Resync.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/cache"
	"github.com/broady/taskdeck/client"
	"github.com/broady/taskdeck/notify"
)

// Remote is the task API. taskapi.Service implements it.
type Remote interface {
	List(ctx context.Context, params taskdeck.ListParams) (taskdeck.TaskPage, error)
	Get(ctx context.Context, id string) (taskdeck.Task, error)
	Create(ctx context.Context, req taskdeck.CreateTaskRequest) (taskdeck.Task, error)
	Update(ctx context.Context, id string, req taskdeck.UpdateTaskRequest) (taskdeck.Task, error)
	Delete(ctx context.Context, id string) error
}

const (
	msgSynced       = "Synced successfully"
	msgOfflineOnly  = "Offline update only. Sync will retry later."
	msgOfflineCache = "You are offline, showing cached tasks"
)

// fetchAttempts is the number of times Fetch asks the server before falling
// back to the snapshot.
const fetchAttempts = 2

// resyncConcurrency bounds the parallel updates sent by Resync.
const resyncConcurrency = 4

// Engine is the process-wide task cache and its sync machinery.
type Engine struct {
	remote    Remote
	snapshots *cache.Snapshots
	outbox    *cache.Outbox
	notes     *notify.Store
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	queries map[string]taskdeck.TaskPage
	seq     map[string]int64
	nextSeq int64
	// unsynced holds the seq of the newest local change to a task that the
	// server has not confirmed yet.
	unsynced map[string]int64

	bg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutbox records unsynced changes in o so they survive restarts.
func WithOutbox(o *cache.Outbox) Option {
	return func(e *Engine) {
		e.outbox = o
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides time.Now for timestamps set locally.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine returns an engine syncing with remote, mirroring into snapshots
// and reporting through notes.
func NewEngine(remote Remote, snapshots *cache.Snapshots, notes *notify.Store, opts ...Option) *Engine {
	e := &Engine{
		remote:    remote,
		snapshots: snapshots,
		notes:     notes,
		logger:    slog.Default(),
		now:       time.Now,
		queries:   make(map[string]taskdeck.TaskPage),
		seq:       make(map[string]int64),
		unsynced:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Notifications returns the store the engine reports to.
func (e *Engine) Notifications() *notify.Store {
	return e.notes
}

// Operations returns the operations bound to the list selected by params.
func (e *Engine) Operations(params taskdeck.ListParams) *Operations {
	params = params.Normalize()
	return &Operations{
		e:        e,
		params:   params,
		key:      params.Key(),
		drafts:   make(map[string]taskdeck.EditableTaskFields),
		deleting: make(map[string]bool),
		updating: make(map[string]bool),
	}
}

// Query returns the cached page for params.
func (e *Engine) Query(params taskdeck.ListParams) (taskdeck.TaskPage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	page, ok := e.queries[params.Key()]
	if !ok {
		return taskdeck.TaskPage{}, false
	}
	return page.Clone(), true
}

// Fetch loads the page selected by params, asking the server twice before
// giving up. On success the page replaces the cached one and the snapshot.
// On failure the snapshot is served instead, marked as cached, with a
// warning. Without a snapshot the error is returned.
func (e *Engine) Fetch(ctx context.Context, params taskdeck.ListParams) (taskdeck.TaskPage, error) {
	params = params.Normalize()
	key := params.Key()

	var (
		page taskdeck.TaskPage
		err  error
	)
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		page, err = e.remote.List(ctx, params)
		if err == nil || !retryable(ctx, err) {
			break
		}
		e.logger.DebugContext(ctx, "fetch tasks failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}

	if err == nil {
		e.mu.Lock()
		e.queries[key] = page.Clone()
		e.mu.Unlock()
		e.snapshots.Save(ctx, page)
		return page, nil
	}

	e.logger.WarnContext(ctx, "fetch tasks failed, trying snapshot",
		slog.String("query", key),
		slog.Any("error", err))

	snap, ok := e.snapshots.Load(ctx)
	if !ok {
		code := taskdeck.CodeUnavailable
		if client.IsUnauthenticated(err) {
			code = taskdeck.CodeUnauthenticated
		}
		return taskdeck.TaskPage{}, fmt.Errorf("%w: %w", taskdeck.NewError(code, "unable to fetch tasks"), err)
	}

	snap.Meta.Cached = true
	e.mu.Lock()
	e.queries[key] = snap.Clone()
	e.mu.Unlock()
	e.notes.Add(notify.Warning, msgOfflineCache)
	return snap, nil
}

// retryable reports whether a failed list call is worth repeating.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !client.IsUnauthenticated(err) && !taskdeck.HasCode(err, taskdeck.CodeInvalidArgument)
}

// Get returns a single task from the server, falling back to any cached copy
// when the server cannot be reached. A task with local changes the server has
// not accepted yet keeps its local state.
func (e *Engine) Get(ctx context.Context, id string) (taskdeck.Task, error) {
	t, err := e.remote.Get(ctx, id)
	if err == nil {
		if local, ok := e.localChange(ctx, t); ok {
			return local, nil
		}
		e.replace(t, 0)
		return t, nil
	}
	if taskdeck.HasCode(err, taskdeck.CodeNotFound) || client.IsUnauthenticated(err) {
		return taskdeck.Task{}, err
	}

	if cached, ok := e.lookup(id); ok {
		e.notes.Add(notify.Warning, "You are offline, showing a cached task", notify.AsToast())
		return cached, nil
	}
	if snap, ok := e.snapshots.Load(ctx); ok {
		if cached, ok := snap.Find(id); ok {
			e.notes.Add(notify.Warning, "You are offline, showing a cached task", notify.AsToast())
			return cached, nil
		}
	}
	return taskdeck.Task{}, err
}

// localChange returns the local version of the server copy t when t has
// unsynced changes, either in memory or in the outbox.
func (e *Engine) localChange(ctx context.Context, t taskdeck.Task) (taskdeck.Task, bool) {
	e.mu.Lock()
	_, dirty := e.unsynced[t.ID]
	e.mu.Unlock()

	var pending *cache.PendingChange
	if e.outbox != nil {
		all, err := e.outbox.Pending(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "read outbox failed", slog.Any("error", err))
		} else if pc, ok := all[t.ID]; ok {
			pending, dirty = &pc, true
		}
	}
	if !dirty {
		return taskdeck.Task{}, false
	}
	if cached, ok := e.lookup(t.ID); ok {
		return cached, true
	}
	if pending != nil {
		return t.Apply(pending.Patch, e.now()), true
	}
	return t, true
}

// Resync sends every change still in the outbox. It returns the number of
// tasks synced and the errors of those that were not.
func (e *Engine) Resync(ctx context.Context) (int, error) {
	if e.outbox == nil {
		return 0, nil
	}
	pending, err := e.outbox.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		synced int
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resyncConcurrency)
	for id, pc := range pending {
		g.Go(func() error {
			local := e.latest(id)
			t, err := e.remote.Update(gctx, id, pc.Patch)
			switch {
			case taskdeck.HasCode(err, taskdeck.CodeNotFound):
				// Deleted elsewhere; nothing left to sync.
				e.forget(gctx, id)
				return nil
			case err != nil:
				mu.Lock()
				errs = append(errs, fmt.Errorf("task %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			e.replace(t, local)
			e.markDone(gctx, id, pc.Seq)
			mu.Lock()
			synced++
			mu.Unlock()
			return nil
		})
	}
	// Failures are collected in errs; no task cancels the others.
	_ = g.Wait()

	if synced > 0 {
		e.saveAll(ctx)
		e.notes.Add(notify.Success, msgSynced, notify.AsToast())
	}
	if len(errs) > 0 {
		e.notes.Add(notify.Warning, msgOfflineOnly, notify.AsToast())
	}
	return synced, errors.Join(errs...)
}

// Pending returns the changes not yet accepted by the server.
func (e *Engine) Pending(ctx context.Context) (map[string]cache.PendingChange, error) {
	if e.outbox == nil {
		return nil, nil
	}
	return e.outbox.Pending(ctx)
}

// Reset drops the query cache, the snapshot and the outbox. It is run on
// logout.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	e.queries = make(map[string]taskdeck.TaskPage)
	e.seq = make(map[string]int64)
	e.unsynced = make(map[string]int64)
	e.mu.Unlock()

	e.snapshots.Clear(ctx)
	if e.outbox != nil {
		if err := e.outbox.Clear(ctx); err != nil {
			e.logger.WarnContext(ctx, "clear outbox failed", slog.Any("error", err))
		}
	}
}

// Wait blocks until background syncs started by ToggleStatus have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// change identifies one local edit: seq orders it against other local edits
// of the same task, outboxSeq is its entry in the outbox.
type change struct {
	seq       int64
	outboxSeq int64
}

// applyLocal rewrites id in every cached page, persists the snapshot for key
// and records the change in the outbox. It returns the rewritten task, if
// any page held it.
func (e *Engine) applyLocal(ctx context.Context, key, id string, patch taskdeck.UpdateTaskRequest) (change, taskdeck.Task, bool) {
	now := e.now()

	e.mu.Lock()
	e.nextSeq++
	c := change{seq: e.nextSeq}
	e.seq[id] = c.seq
	e.unsynced[id] = c.seq
	var (
		updated taskdeck.Task
		found   bool
	)
	// Pages are owned by the engine; Query hands out clones.
	for _, page := range e.queries {
		for i, t := range page.Data {
			if t.ID == id {
				page.Data[i] = t.Apply(patch, now)
				updated, found = page.Data[i], true
			}
		}
	}
	e.mu.Unlock()

	e.save(ctx, key)
	if e.outbox != nil {
		seq, err := e.outbox.Record(ctx, id, patch)
		if err != nil {
			e.logger.WarnContext(ctx, "record pending change failed",
				slog.String("task", id),
				slog.Any("error", err))
		}
		c.outboxSeq = seq
	}
	return c, updated, found
}

// latest returns the sequence number of the newest local change to id.
func (e *Engine) latest(id string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq[id]
}

// sync sends patch for id and adopts the server's copy. A reply for a change
// that has since been superseded locally is not adopted.
func (e *Engine) sync(ctx context.Context, key, id string, patch taskdeck.UpdateTaskRequest, c change) (taskdeck.Task, error) {
	t, err := e.remote.Update(ctx, id, patch)
	if err != nil {
		e.logger.WarnContext(ctx, "sync task failed",
			slog.String("task", id),
			slog.Any("error", err))
		return taskdeck.Task{}, err
	}
	if e.replace(t, c.seq) {
		e.save(ctx, key)
	}
	if c.outboxSeq != 0 {
		e.markDone(ctx, id, c.outboxSeq)
	}
	return t, nil
}

// replace swaps t into every cached page holding it. With a non-zero seq the
// swap only happens when no local change newer than seq exists.
func (e *Engine) replace(t taskdeck.Task, seq int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != 0 && e.seq[t.ID] > seq {
		return false
	}
	if seq != 0 && e.unsynced[t.ID] <= seq {
		delete(e.unsynced, t.ID)
	}
	for _, page := range e.queries {
		for i, cur := range page.Data {
			if cur.ID == t.ID {
				page.Data[i] = t
			}
		}
	}
	return true
}

// remove drops id from every cached page.
func (e *Engine) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seq, id)
	delete(e.unsynced, id)
	for k, page := range e.queries {
		kept := make([]taskdeck.Task, 0, len(page.Data))
		for _, t := range page.Data {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		if len(kept) != len(page.Data) {
			e.queries[k] = taskdeck.TaskPage{Data: kept, Meta: page.Meta}
		}
	}
}

// prepend inserts t at the top of the page cached under key.
func (e *Engine) prepend(key string, t taskdeck.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	page, ok := e.queries[key]
	if !ok {
		return false
	}
	data := make([]taskdeck.Task, 0, len(page.Data)+1)
	data = append(data, t)
	data = append(data, page.Data...)
	e.queries[key] = taskdeck.TaskPage{Data: data, Meta: page.Meta}
	return true
}

func (e *Engine) lookup(id string) (taskdeck.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, page := range e.queries {
		if t, ok := page.Find(id); ok {
			return t, true
		}
	}
	return taskdeck.Task{}, false
}

// save mirrors the page cached under key into the snapshot. Nothing is
// written when the key holds no page.
func (e *Engine) save(ctx context.Context, key string) {
	e.mu.Lock()
	page, ok := e.queries[key]
	if ok {
		page = page.Clone()
	}
	e.mu.Unlock()
	if ok {
		e.snapshots.Save(ctx, page)
	}
}

// saveAll rewrites the snapshot's tasks from the query cache.
func (e *Engine) saveAll(ctx context.Context) {
	snap, ok := e.snapshots.Load(ctx)
	if !ok {
		return
	}
	changed := false
	for i, t := range snap.Data {
		if cur, ok := e.lookup(t.ID); ok {
			snap.Data[i] = cur
			changed = true
		}
	}
	if changed {
		e.snapshots.Save(ctx, snap)
	}
}

func (e *Engine) markDone(ctx context.Context, id string, seq int64) {
	if e.outbox == nil {
		return
	}
	if err := e.outbox.Done(ctx, id, seq); err != nil {
		e.logger.WarnContext(ctx, "clear pending change failed",
			slog.String("task", id),
			slog.Any("error", err))
	}
}

func (e *Engine) forget(ctx context.Context, id string) {
	e.mu.Lock()
	delete(e.unsynced, id)
	e.mu.Unlock()
	if e.outbox == nil {
		return
	}
	if err := e.outbox.Forget(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "forget pending change failed",
			slog.String("task", id),
			slog.Any("error", err))
	}
}
