// Package taskdeck holds the task domain shared by the mock API server, the
// authenticated client and the task operations core: tasks, pages of tasks,
// request bodies, sessions, the error envelope and a small state container.
package taskdeck

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"

	// StatusAll is only meaningful as a list filter and means "no filter".
	StatusAll Status = "ALL"
)

// Valid reports whether s is a concrete task status. StatusAll is not.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Toggled returns the status a toggle moves to. DONE goes back to TODO and
// every other status goes to DONE; IN_PROGRESS is never a toggle target.
func (s Status) Toggled() Status {
	if s == StatusDone {
		return StatusTodo
	}
	return StatusDone
}

// Task is a single to-do item.
// CompletedAt is non-nil only while Status is StatusDone.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Archived    bool       `json:"archived"`
	ParentID    *string    `json:"parentId"`
	Tags        *string    `json:"tags"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TagList splits the comma-joined tags, dropping blanks.
func (t Task) TagList() []string {
	if t.Tags == nil {
		return nil
	}
	var out []string
	for _, tag := range strings.Split(*t.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// Matches reports whether the task contains query, case-insensitively, in its
// name, description or tags. An empty query matches everything.
func (t Task) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(t.Name), q) {
		return true
	}
	if t.Description != nil && strings.Contains(strings.ToLower(*t.Description), q) {
		return true
	}
	return t.Tags != nil && strings.Contains(strings.ToLower(*t.Tags), q)
}

// Apply returns a copy of t with the fields present in p overwritten.
// CompletedAt is kept consistent with Status: moving to DONE stamps it with now
// unless p carries its own value, and any other status clears it.
func (t Task) Apply(p UpdateTaskRequest, now time.Time) Task {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description.Set {
		t.Description = p.Description.Ptr()
	}
	if p.Tags.Set {
		t.Tags = p.Tags.Ptr()
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Archived != nil {
		t.Archived = *p.Archived
	}
	if p.CompletedAt.Set {
		t.CompletedAt = p.CompletedAt.Ptr()
	}
	if t.Status != StatusDone {
		t.CompletedAt = nil
	} else if t.CompletedAt == nil {
		done := now
		t.CompletedAt = &done
	}
	t.UpdatedAt = now
	return t
}

// CountByStatus tallies tasks per status. StatusAll holds the total.
func CountByStatus(tasks []Task) map[Status]int {
	counts := map[Status]int{
		StatusAll:        len(tasks),
		StatusTodo:       0,
		StatusInProgress: 0,
		StatusDone:       0,
	}
	for _, t := range tasks {
		if _, ok := counts[t.Status]; ok && t.Status != StatusAll {
			counts[t.Status]++
		}
	}
	return counts
}

// PageMeta describes where a page sits in a paginated listing.
type PageMeta struct {
	Page            int  `json:"page"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	Total           *int `json:"total,omitempty"`
	Limit           *int `json:"limit,omitempty"`

	// Cached is set when the page came from the offline snapshot instead of
	// the server.
	Cached bool `json:"cached,omitempty"`
}

// NewPageMeta computes pagination metadata for page (1-based) of total items
// split into pages of limit items.
func NewPageMeta(page, limit, total int) PageMeta {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return PageMeta{
		Page:            page,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
		Total:           &total,
		Limit:           &limit,
	}
}

// TaskPage is one page of tasks as returned by GET /tasks. It is also the
// shape of the offline snapshot.
type TaskPage struct {
	Data []Task   `json:"data"`
	Meta PageMeta `json:"meta"`
}

// Clone returns a copy of p whose Data slice can be modified independently.
func (p TaskPage) Clone() TaskPage {
	data := make([]Task, len(p.Data))
	copy(data, p.Data)
	return TaskPage{Data: data, Meta: p.Meta}
}

// Find returns the task with the given id.
func (p TaskPage) Find(id string) (Task, bool) {
	for _, t := range p.Data {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskEnvelope wraps a single task as returned by GET /tasks/{id}.
type TaskEnvelope struct {
	Data Task `json:"data"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListParams selects a page of tasks. The zero value lists the first page
// with the default limit and no filter.
type ListParams struct {
	Page   int    `json:"page" schema:"page" validate:"gte=0"`
	Limit  int    `json:"limit" schema:"limit" validate:"gte=0,lte=100"`
	Status Status `json:"status,omitempty" schema:"status" validate:"omitempty,oneof=ALL TODO IN_PROGRESS DONE"`
	Search string `json:"search,omitempty" schema:"search" validate:"max=200"`
}

// Normalize fills in defaults and folds StatusAll into the empty filter.
func (p ListParams) Normalize() ListParams {
	if p.Page <= 0 {
		p.Page = DefaultPage
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Status == StatusAll {
		p.Status = ""
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// Filtered reports whether p narrows the listing by status or search.
func (p ListParams) Filtered() bool {
	n := p.Normalize()
	return n.Status != "" || n.Search != ""
}

// Key is the composite query-cache key for p.
func (p ListParams) Key() string {
	n := p.Normalize()
	status := n.Status
	if status == "" {
		status = StatusAll
	}
	return fmt.Sprintf("tasks|%d|%d|%s|%s", n.Page, n.Limit, status, n.Search)
}

// Query encodes p as URL query parameters for GET /tasks.
func (p ListParams) Query() url.Values {
	n := p.Normalize()
	q := url.Values{}
	q.Set("page", strconv.Itoa(n.Page))
	q.Set("limit", strconv.Itoa(n.Limit))
	if n.Status != "" {
		q.Set("status", string(n.Status))
	}
	if n.Search != "" {
		q.Set("search", n.Search)
	}
	return q
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Name        string   `json:"name" validate:"notblank,max=200"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=2000"`
	Priority    Priority `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Status      Status   `json:"status,omitempty" validate:"omitempty,oneof=TODO IN_PROGRESS DONE"`
	Tags        *string  `json:"tags,omitempty" validate:"omitempty,max=500"`
	Archived    bool     `json:"archived,omitempty"`
}

// UpdateTaskRequest is the body of PATCH /tasks/{id}. Absent fields are left
// alone; Nullable fields can also be cleared with an explicit null.
type UpdateTaskRequest struct {
	Name        *string             `json:"name,omitempty" validate:"omitempty,notblank,max=200"`
	Description Nullable[string]    `json:"description,omitzero" validate:"omitempty,max=2000"`
	Tags        Nullable[string]    `json:"tags,omitzero" validate:"omitempty,max=500"`
	Priority    *Priority           `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Status      *Status             `json:"status,omitempty" validate:"omitempty,oneof=TODO IN_PROGRESS DONE"`
	Archived    *bool               `json:"archived,omitempty"`
	CompletedAt Nullable[time.Time] `json:"completedAt,omitzero"`
}

// Merge layers next on top of p: fields present in next win.
func (p UpdateTaskRequest) Merge(next UpdateTaskRequest) UpdateTaskRequest {
	if next.Name != nil {
		p.Name = next.Name
	}
	if next.Description.Set {
		p.Description = next.Description
	}
	if next.Tags.Set {
		p.Tags = next.Tags
	}
	if next.Priority != nil {
		p.Priority = next.Priority
	}
	if next.Status != nil {
		p.Status = next.Status
	}
	if next.Archived != nil {
		p.Archived = next.Archived
	}
	if next.CompletedAt.Set {
		p.CompletedAt = next.CompletedAt
	}
	return p
}

// EditField names a field of EditableTaskFields.
type EditField string

const (
	FieldName        EditField = "name"
	FieldDescription EditField = "description"
	FieldTags        EditField = "tags"
	FieldPriority    EditField = "priority"
	FieldStatus      EditField = "status"
)

// EditableTaskFields is the draft a task is edited through. Optional fields
// hold "" while being edited and become null when saved empty.
type EditableTaskFields struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        string   `json:"tags"`
	Priority    Priority `json:"priority"`
	Status      Status   `json:"status"`
}

// DraftOf starts an edit draft from t.
func DraftOf(t Task) EditableTaskFields {
	d := EditableTaskFields{
		Name:     t.Name,
		Priority: t.Priority,
		Status:   t.Status,
	}
	if t.Description != nil {
		d.Description = *t.Description
	}
	if t.Tags != nil {
		d.Tags = *t.Tags
	}
	return d
}

// With returns a copy of d with field set to value.
func (d EditableTaskFields) With(field EditField, value string) (EditableTaskFields, error) {
	switch field {
	case FieldName:
		d.Name = value
	case FieldDescription:
		d.Description = value
	case FieldTags:
		d.Tags = value
	case FieldPriority:
		d.Priority = Priority(value)
	case FieldStatus:
		d.Status = Status(value)
	default:
		return d, Errorf(CodeInvalidArgument, "unknown field %q", field)
	}
	return d, nil
}

// Update turns the draft into an update request: the name is trimmed and
// blank optional fields are sent as null.
func (d EditableTaskFields) Update() UpdateTaskRequest {
	name := strings.TrimSpace(d.Name)
	req := UpdateTaskRequest{
		Name:        &name,
		Description: blankAsNull(d.Description),
		Tags:        blankAsNull(d.Tags),
	}
	if d.Priority != "" {
		p := d.Priority
		req.Priority = &p
	}
	if d.Status != "" {
		s := d.Status
		req.Status = &s
	}
	return req
}

func blankAsNull(s string) Nullable[string] {
	if s = strings.TrimSpace(s); s == "" {
		return Null[string]()
	}
	return Some(s)
}
