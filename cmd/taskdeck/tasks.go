package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize/english"

	"github.com/broady/taskdeck"
)

type ListCmd struct {
	Status string `help:"Only tasks with this status." default:"ALL" enum:"ALL,TODO,IN_PROGRESS,DONE"`
	Search string `help:"Only tasks whose name, description or tags contain this text." short:"s"`
	Page   int    `help:"Page to show." default:"1"`
	Limit  int    `help:"Tasks per page." default:"10"`
}

func (c *ListCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		params := taskdeck.ListParams{
			Page:   c.Page,
			Limit:  c.Limit,
			Status: taskdeck.Status(c.Status),
			Search: c.Search,
		}
		if err := taskdeck.Validate(params); err != nil {
			return err
		}
		page, err := s.engine.Operations(params).Fetch(s.ctx)
		if err != nil {
			return err
		}
		pending, err := s.engine.Pending(s.ctx)
		if err != nil {
			return err
		}
		marked := make(map[string]bool, len(pending))
		for id := range pending {
			marked[id] = true
		}
		s.out.taskTable(page.Data, marked)
		s.out.pageFooter(page.Meta, taskdeck.CountByStatus(page.Data))
		if len(pending) > 0 {
			s.out.Printf("* %s not synced yet; run `taskdeck sync`\n",
				english.Plural(len(pending), "change", ""))
		}
		return nil
	})
}

type ShowCmd struct {
	ID string `arg:"" help:"Task ID."`
}

func (c *ShowCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		t, err := s.engine.Get(s.ctx, c.ID)
		if err != nil {
			return err
		}
		s.out.task(t)
		return nil
	})
}

type AddCmd struct {
	Name        string   `arg:"" help:"Task name."`
	Description string   `help:"Longer description." short:"d"`
	Priority    string   `help:"LOW, MEDIUM or HIGH." short:"p"`
	Status      string   `help:"TODO, IN_PROGRESS or DONE."`
	Tags        []string `help:"Tags, comma separated." short:"t" sep:","`
}

func (c *AddCmd) request() taskdeck.CreateTaskRequest {
	req := taskdeck.CreateTaskRequest{
		Name:     c.Name,
		Priority: taskdeck.Priority(normalizeEnum(c.Priority)),
		Status:   taskdeck.Status(normalizeEnum(c.Status)),
	}
	if d := strings.TrimSpace(c.Description); d != "" {
		req.Description = &d
	}
	if tags := joinTags(c.Tags); tags != "" {
		req.Tags = &tags
	}
	return req
}

func (c *AddCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		t, err := s.view().Create(s.ctx, c.request())
		if err != nil {
			return err
		}
		s.out.Printf("Created %s %s\n", t.ID, t.Name)
		return nil
	})
}

type ToggleCmd struct {
	IDs []string `arg:"" name:"id" help:"Task IDs."`
}

func (c *ToggleCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		ops := s.view()
		var errs []error
		for _, id := range c.IDs {
			t, err := s.find(ops, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			t = ops.ToggleStatus(s.ctx, t)
			s.out.Printf("%s %s %s\n", statusBox(t.Status), t.ID, t.Name)
		}
		return errors.Join(errs...)
	})
}

type EditCmd struct {
	ID               string   `arg:"" help:"Task ID."`
	Name             string   `help:"New name."`
	Description      string   `help:"New description." short:"d"`
	Tags             []string `help:"Replace the tags, comma separated." short:"t" sep:","`
	Priority         string   `help:"LOW, MEDIUM or HIGH." short:"p"`
	Status           string   `help:"TODO, IN_PROGRESS or DONE."`
	ClearDescription bool     `help:"Remove the description."`
	ClearTags        bool     `help:"Remove all tags."`
}

type editChange struct {
	field taskdeck.EditField
	value string
}

// changes lists the draft fields the flags set, in a stable order.
func (c *EditCmd) changes() []editChange {
	var out []editChange
	if c.Name != "" {
		out = append(out, editChange{taskdeck.FieldName, c.Name})
	}
	switch {
	case c.ClearDescription:
		out = append(out, editChange{taskdeck.FieldDescription, ""})
	case c.Description != "":
		out = append(out, editChange{taskdeck.FieldDescription, c.Description})
	}
	switch {
	case c.ClearTags:
		out = append(out, editChange{taskdeck.FieldTags, ""})
	case len(c.Tags) > 0:
		out = append(out, editChange{taskdeck.FieldTags, joinTags(c.Tags)})
	}
	if c.Priority != "" {
		out = append(out, editChange{taskdeck.FieldPriority, normalizeEnum(c.Priority)})
	}
	if c.Status != "" {
		out = append(out, editChange{taskdeck.FieldStatus, normalizeEnum(c.Status)})
	}
	return out
}

func (c *EditCmd) Run(g *Globals, env *Env) error {
	changes := c.changes()
	if len(changes) == 0 {
		return errors.New("nothing to change; pass at least one field flag")
	}
	return withSession(g, env, func(s *session) error {
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		ops := s.view()
		t, err := s.find(ops, c.ID)
		if err != nil {
			return err
		}
		ops.BeginEdit(t)
		for _, ch := range changes {
			if err := ops.ChangeEditField(t.ID, ch.field, ch.value); err != nil {
				return err
			}
		}
		updated, err := ops.SaveEdit(s.ctx, t.ID)
		if err != nil {
			return err
		}
		s.out.task(updated)
		return nil
	})
}

type RmCmd struct {
	IDs []string `arg:"" name:"id" help:"Task IDs."`
}

func (c *RmCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		ops := s.view()
		var errs []error
		for _, id := range c.IDs {
			if err := ops.Delete(s.ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("task %s: %w", id, err))
				continue
			}
			s.out.Printf("Deleted %s\n", id)
		}
		return errors.Join(errs...)
	})
}

type SyncCmd struct {
	Pending bool `help:"List unsynced changes instead of sending them."`
}

func (c *SyncCmd) Run(g *Globals, env *Env) error {
	return withSession(g, env, func(s *session) error {
		pending, err := s.engine.Pending(s.ctx)
		if err != nil {
			return err
		}
		if c.Pending || len(pending) == 0 {
			if len(pending) == 0 {
				s.out.Printf("Everything is synced.\n")
				return nil
			}
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			for _, id := range ids {
				s.out.Printf("%s\tqueued %s\n", id, s.out.ago(pending[id].QueuedAt))
			}
			return nil
		}
		if err := s.requireSignedIn(); err != nil {
			return err
		}
		n, err := s.engine.Resync(s.ctx)
		s.out.Printf("Synced %s.\n", english.Plural(n, "change", ""))
		return err
	})
}

func joinTags(tags []string) string {
	var out []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, ",")
}
