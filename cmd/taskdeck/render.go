package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/broady/taskdeck"
	"github.com/broady/taskdeck/notify"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiDim    = "\x1b[2m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

// printer writes command output to stdout and notifications to stderr.
type printer struct {
	out   io.Writer
	err   io.Writer
	color bool
	now   func() time.Time
}

func newPrinter(stdout, stderr io.Writer, mode string) *printer {
	return &printer{
		out:   stdout,
		err:   stderr,
		color: useColor(mode, stdout),
		now:   time.Now,
	}
}

// useColor resolves --color. In auto mode color is used only on a terminal
// and never when NO_COLOR is set.
func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) paint(code, s string) string {
	if !p.color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func statusBox(s taskdeck.Status) string {
	switch s {
	case taskdeck.StatusDone:
		return "[x]"
	case taskdeck.StatusInProgress:
		return "[~]"
	}
	return "[ ]"
}

func priorityColor(pr taskdeck.Priority) string {
	switch pr {
	case taskdeck.PriorityHigh:
		return ansiRed
	case taskdeck.PriorityMedium:
		return ansiYellow
	}
	return ansiDim
}

func (p *printer) ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, p.now(), "ago", "from now")
}

// taskTable prints one row per task.
func (p *printer) taskTable(list []taskdeck.Task, pending map[string]bool) {
	if len(list) == 0 {
		p.Printf("No tasks.\n")
		return
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tPRIORITY\tTAGS\tUPDATED")
	for _, t := range list {
		name := t.Name
		if t.Status == taskdeck.StatusDone {
			name = p.paint(ansiDim, name)
		}
		if pending[t.ID] {
			name += " *"
		}
		tags := strings.Join(t.TagList(), ",")
		if tags == "" {
			tags = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			statusBox(t.Status),
			t.ID,
			name,
			p.paint(priorityColor(t.Priority), string(t.Priority)),
			tags,
			p.ago(t.UpdatedAt))
	}
	tw.Flush()
}

func (p *printer) pageFooter(meta taskdeck.PageMeta, counts map[taskdeck.Status]int) {
	var b strings.Builder
	fmt.Fprintf(&b, "Page %d of %d", meta.Page, max(meta.TotalPages, 1))
	if meta.Total != nil {
		fmt.Fprintf(&b, ", %s tasks", humanize.Comma(int64(*meta.Total)))
	}
	fmt.Fprintf(&b, " (%d to do, %d in progress, %d done on this page)",
		counts[taskdeck.StatusTodo], counts[taskdeck.StatusInProgress], counts[taskdeck.StatusDone])
	if meta.Cached {
		b.WriteString(" " + p.paint(ansiYellow, "(cached)"))
	}
	p.Printf("%s\n", b.String())
}

func (p *printer) task(t taskdeck.Task) {
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("ID", t.ID)
	row("Name", p.paint(ansiBold, t.Name))
	row("Status", statusBox(t.Status)+" "+string(t.Status))
	row("Priority", p.paint(priorityColor(t.Priority), string(t.Priority)))
	if t.Description != nil {
		row("Description", *t.Description)
	}
	if tags := t.TagList(); len(tags) > 0 {
		row("Tags", strings.Join(tags, ", "))
	}
	if t.Archived {
		row("Archived", "yes")
	}
	row("Created", p.ago(t.CreatedAt))
	row("Updated", p.ago(t.UpdatedAt))
	if t.CompletedAt != nil {
		row("Completed", p.ago(*t.CompletedAt))
	}
	tw.Flush()
}

func noteSymbol(t notify.Type) (string, string) {
	switch t {
	case notify.Success:
		return "✓", ansiGreen
	case notify.Error:
		return "✗", ansiRed
	case notify.Warning:
		return "!", ansiYellow
	}
	return "•", ansiCyan
}

// notification prints n to stderr as it is raised.
func (p *printer) notification(n notify.Notification) {
	sym, code := noteSymbol(n.Type)
	fmt.Fprintf(p.err, "%s %s\n", p.paint(code, sym), n.Message)
}

// notificationList prints stored notifications to stdout, newest first.
func (p *printer) notificationList(list []notify.Notification) {
	if len(list) == 0 {
		p.Printf("No notifications.\n")
		return
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for _, n := range list {
		sym, code := noteSymbol(n.Type)
		msg := n.Message
		if !n.Read {
			msg = p.paint(ansiBold, msg)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.paint(code, sym), msg, p.paint(ansiDim, p.ago(n.CreatedAt)))
	}
	tw.Flush()
}
