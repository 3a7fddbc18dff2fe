package server

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/broady/taskdeck"
)

// Store is the in-memory task table behind the mock API. Newest tasks come
// first.
type Store struct {
	mu    sync.RWMutex
	tasks []taskdeck.Task
	now   func() time.Time
	newID func() string
}

// NewStore returns a store holding a copy of seed.
func NewStore(seed []taskdeck.Task) *Store {
	return &Store{
		tasks: slices.Clone(seed),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// SampleTasks returns the three tasks the demo server starts with.
func SampleTasks(now time.Time) []taskdeck.Task {
	str := func(s string) *string { return &s }
	done := now
	return []taskdeck.Task{
		{
			ID:          "1",
			Name:        "Sample Task 1",
			Description: str("This is a sample task description"),
			Priority:    taskdeck.PriorityHigh,
			Status:      taskdeck.StatusTodo,
			Tags:        str("work,urgent"),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "2",
			Name:        "Sample Task 2",
			Description: str("Another sample task"),
			Priority:    taskdeck.PriorityMedium,
			Status:      taskdeck.StatusInProgress,
			Tags:        str("personal"),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "3",
			Name:        "Completed Task",
			Description: str("This task is done"),
			Priority:    taskdeck.PriorityLow,
			Status:      taskdeck.StatusDone,
			Tags:        str("completed"),
			CompletedAt: &done,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// List filters by status and search, then returns the requested page.
func (s *Store) List(params taskdeck.ListParams) taskdeck.TaskPage {
	params = params.Normalize()

	s.mu.RLock()
	matched := make([]taskdeck.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if params.Status != "" && t.Status != params.Status {
			continue
		}
		if params.Search != "" && !t.Matches(params.Search) {
			continue
		}
		matched = append(matched, t)
	}
	s.mu.RUnlock()

	start := min((params.Page-1)*params.Limit, len(matched))
	end := min(start+params.Limit, len(matched))
	return taskdeck.TaskPage{
		Data: slices.Clone(matched[start:end]),
		Meta: taskdeck.NewPageMeta(params.Page, params.Limit, len(matched)),
	}
}

// Get returns the task with id.
func (s *Store) Get(id string) (taskdeck.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return s.tasks[i], nil
	}
	return taskdeck.Task{}, errTaskNotFound
}

// Create adds a task with a fresh id, defaulting priority to LOW and status
// to TODO.
func (s *Store) Create(req taskdeck.CreateTaskRequest) taskdeck.Task {
	now := s.now()
	t := taskdeck.Task{
		ID:          s.newID(),
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		Archived:    req.Archived,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Priority == "" {
		t.Priority = taskdeck.PriorityLow
	}
	if t.Status == "" {
		t.Status = taskdeck.StatusTodo
	}
	if t.Status == taskdeck.StatusDone {
		t.CompletedAt = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = slices.Insert(s.tasks, 0, t)
	return t
}

// Update applies req to the task with id.
func (s *Store) Update(id string, req taskdeck.UpdateTaskRequest) (taskdeck.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return taskdeck.Task{}, errTaskNotFound
	}
	s.tasks[i] = s.tasks[i].Apply(req, s.now())
	return s.tasks[i], nil
}

// Delete removes the task with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return errTaskNotFound
	}
	s.tasks = slices.Delete(s.tasks, i, i+1)
	return nil
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.tasks, func(t taskdeck.Task) bool { return t.ID == id })
}

var errTaskNotFound = taskdeck.NewError(taskdeck.CodeNotFound, "Task not found")
