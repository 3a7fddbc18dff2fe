package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/notify"
)

// Operations acts on the task list selected by one set of ListParams. It
// also holds that view's edit drafts and per-row busy markers.
type Operations struct {
	e      *Engine
	params taskdeck.ListParams
	key    string

	mu        sync.Mutex
	editingID string
	drafts    map[string]taskdeck.EditableTaskFields
	deleting  map[string]bool
	updating  map[string]bool
}

// Params returns the normalized list parameters.
func (o *Operations) Params() taskdeck.ListParams {
	return o.params
}

// Fetch loads this view's page. See Engine.Fetch.
func (o *Operations) Fetch(ctx context.Context) (taskdeck.TaskPage, error) {
	return o.e.Fetch(ctx, o.params)
}

// Page returns the cached page for this view.
func (o *Operations) Page() (taskdeck.TaskPage, bool) {
	return o.e.Query(o.params)
}

// Tasks returns the cached tasks for this view, or nil before the first
// fetch.
func (o *Operations) Tasks() []taskdeck.Task {
	page, _ := o.Page()
	return page.Data
}

// ToggleStatus flips task between DONE and TODO. Any status other than DONE
// becomes DONE. The change is applied locally before ToggleStatus returns;
// the server is updated in the background and a failure there leaves the
// local change in place.
func (o *Operations) ToggleStatus(ctx context.Context, task taskdeck.Task) taskdeck.Task {
	e := o.e
	next := task.Status.Toggled()
	patch := taskdeck.UpdateTaskRequest{Status: &next}
	if next == taskdeck.StatusDone {
		patch.CompletedAt = taskdeck.Some(e.now())
	} else {
		patch.CompletedAt = taskdeck.Null[time.Time]()
	}

	c, updated, ok := e.applyLocal(ctx, o.key, task.ID, patch)
	if !ok {
		updated = task.Apply(patch, e.now())
	}
	e.notes.Add(notify.Info, fmt.Sprintf("Task \"%s\" marked as %s", task.Name, next))

	bg := context.WithoutCancel(ctx)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if _, err := e.sync(bg, o.key, task.ID, patch, c); err != nil {
			e.notes.Add(notify.Warning, msgOfflineOnly, notify.AsToast())
			return
		}
		e.notes.Add(notify.Success, msgSynced, notify.AsToast())
	}()
	return updated
}

// Create adds a task on the server and then to the top of this view. The
// name must not be blank; nothing is sent otherwise. Creation is not
// optimistic: on failure nothing changes locally and the error is returned.
func (o *Operations) Create(ctx context.Context, req taskdeck.CreateTaskRequest) (taskdeck.Task, error) {
	e := o.e
	req.Name = strings.TrimSpace(req.Name)
	if err := taskdeck.Validate(req); err != nil {
		return taskdeck.Task{}, err
	}

	created, err := e.remote.Create(ctx, req)
	if err != nil {
		return taskdeck.Task{}, err
	}
	now := e.now()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = now
	}

	if e.prepend(o.key, created) {
		e.save(ctx, o.key)
	}
	e.notes.Add(notify.Success, fmt.Sprintf("Task \"%s\" created successfully", created.Name))
	return created, nil
}

// Update applies patch locally and then on the server. On a sync failure the
// local change is kept, a warning is shown and the error is returned.
func (o *Operations) Update(ctx context.Context, id string, patch taskdeck.UpdateTaskRequest) (taskdeck.Task, error) {
	e := o.e
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return taskdeck.Task{}, taskdeck.NewError(taskdeck.CodeInvalidArgument, "name: required").
				WithDetail("name", "required")
		}
		patch.Name = &name
	}
	if err := taskdeck.Validate(patch); err != nil {
		return taskdeck.Task{}, err
	}

	o.setBusy(o.updating, id, true)
	defer o.setBusy(o.updating, id, false)

	c, _, _ := e.applyLocal(ctx, o.key, id, patch)
	updated, err := e.sync(ctx, o.key, id, patch, c)
	if err != nil {
		e.notes.Add(notify.Warning, msgOfflineOnly, notify.AsToast())
		return taskdeck.Task{}, err
	}
	e.notes.Add(notify.Info, fmt.Sprintf("Task \"%s\" updated successfully", updated.Name))
	return updated, nil
}

// Delete removes a task on the server and then from the cache. While the
// call is in flight Deleting(id) reports true.
func (o *Operations) Delete(ctx context.Context, id string) error {
	e := o.e
	o.setBusy(o.deleting, id, true)
	defer o.setBusy(o.deleting, id, false)

	if err := e.remote.Delete(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "delete task failed",
			slog.String("task", id),
			slog.Any("error", err))
		e.notes.Add(notify.Error, fmt.Sprintf("Error deleting task: %s", errorMessage(err)), notify.AsToast())
		return err
	}
	e.remove(id)
	e.save(ctx, o.key)
	e.forget(ctx, id)
	e.notes.Add(notify.Success, "Task deleted")
	return nil
}

// BeginEdit puts task into edit mode with a draft of its current fields. Only
// one task per view is edited at a time; starting another drops the previous
// draft.
func (o *Operations) BeginEdit(task taskdeck.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.editingID != "" && o.editingID != task.ID {
		delete(o.drafts, o.editingID)
	}
	o.editingID = task.ID
	o.drafts[task.ID] = taskdeck.DraftOf(task)
}

// ChangeEditField sets one field of the draft for id.
func (o *Operations) ChangeEditField(id string, field taskdeck.EditField, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	draft, ok := o.drafts[id]
	if !ok {
		return taskdeck.Errorf(taskdeck.CodeInvalidArgument, "task %s is not being edited", id)
	}
	draft, err := draft.With(field, value)
	if err != nil {
		return err
	}
	o.drafts[id] = draft
	return nil
}

// SaveEdit sends the draft for id through Update. On success the draft is
// discarded and edit mode ends; on failure the draft is kept so the edit can
// be retried.
func (o *Operations) SaveEdit(ctx context.Context, id string) (taskdeck.Task, error) {
	o.mu.Lock()
	draft, ok := o.drafts[id]
	o.mu.Unlock()
	if !ok {
		return taskdeck.Task{}, taskdeck.Errorf(taskdeck.CodeInvalidArgument, "task %s is not being edited", id)
	}

	updated, err := o.Update(ctx, id, draft.Update())
	if err != nil {
		return taskdeck.Task{}, err
	}

	o.mu.Lock()
	delete(o.drafts, id)
	if o.editingID == id {
		o.editingID = ""
	}
	o.mu.Unlock()
	return updated, nil
}

// CancelEdit leaves edit mode and discards the draft.
func (o *Operations) CancelEdit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.editingID != "" {
		delete(o.drafts, o.editingID)
		o.editingID = ""
	}
}

// Editing returns the id of the task in edit mode.
func (o *Operations) Editing() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editingID, o.editingID != ""
}

// Draft returns the current draft for id.
func (o *Operations) Draft(id string) (taskdeck.EditableTaskFields, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.drafts[id]
	return d, ok
}

// Deleting reports whether a delete of id is in flight.
func (o *Operations) Deleting(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deleting[id]
}

// Updating reports whether an update of id is in flight.
func (o *Operations) Updating(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updating[id]
}

func (o *Operations) setBusy(m map[string]bool, id string, busy bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if busy {
		m[id] = true
	} else {
		delete(m, id)
	}
}

func errorMessage(err error) string {
	if e := taskdeck.AsError(err); e.Message != "" {
		return e.Message
	}
	return err.Error()
}
