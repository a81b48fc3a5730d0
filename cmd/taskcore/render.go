package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/plan"
	"github.com/aristath/taskcore/internal/scheduler"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)

	statusColors = map[scheduler.Status]lipgloss.Color{
		scheduler.StatusExecuted:  lipgloss.Color("10"),
		scheduler.StatusError:     lipgloss.Color("9"),
		scheduler.StatusRerouted:  lipgloss.Color("11"),
		scheduler.StatusCancelled: lipgloss.Color("8"),
		scheduler.StatusExecuting: lipgloss.Color("12"),
	}
)

func statusText(s scheduler.Status) string {
	style := lipgloss.NewStyle()
	if c, ok := statusColors[s]; ok {
		style = style.Foreground(c)
	}
	return style.Render(s.String())
}

func renderHeader(p *plan.Plan, runID string) string {
	name := p.Name
	if name == "" {
		name = "plan"
	}
	return titleStyle.Render(fmt.Sprintf("%s: %d tasks", name, len(p.Tasks))) +
		" " + labelStyle.Render("run "+runID)
}

func renderCycle(r *orchestrator.CycleReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("cycle %d", r.Cycle)))
	b.WriteString(labelStyle.Render(fmt.Sprintf(" (%s)", r.Duration.Round(time.Millisecond))))

	line := func(label string, ids []string) {
		if len(ids) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n  %s %s", labelStyle.Render(fmt.Sprintf("%-10s", label)), strings.Join(ids, ", "))
	}
	line("promoted", r.Promoted)
	line("dispatched", r.Dispatched)
	line("executed", r.Executed)
	line("errored", r.Errored)
	line("rerouted", r.Rerouted)
	line("cancelled", r.Cancelled)

	for _, id := range r.SkippedForResources {
		fmt.Fprintf(&b, "\n  %s %s short %s", labelStyle.Render(fmt.Sprintf("%-10s", "skipped")), id, r.Denials[id])
	}
	line("never fits", r.Unsatisfiable)
	for _, id := range append(append([]string{}, r.Errored...), r.Rerouted...) {
		if err := r.Failures[id]; err != nil {
			fmt.Fprintf(&b, "\n  %s %s: %v", labelStyle.Render(fmt.Sprintf("%-10s", "failure")), id, err)
		}
	}
	return b.String()
}

func renderSummary(tasks []*scheduler.Task, usage orchestrator.UsageReport, unresolved map[string][]string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tasks"))

	width := 0
	for _, t := range tasks {
		width = max(width, len(t.ID))
	}
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n%-*s  p%-2d  %s", width, t.ID, t.Priority, statusText(t.Status))
	}

	if len(unresolved) > 0 {
		b.WriteString("\n" + titleStyle.Render("waiting"))
		b.WriteString("\n" + scheduler.FormatUnresolved(unresolved))
	}

	if len(usage.Resources) > 0 {
		b.WriteString("\n" + titleStyle.Render("resources"))
		for _, u := range usage.Resources {
			fmt.Fprintf(&b, "\n%s %d/%d available", u.Type, u.Available, u.Capacity)
		}
	}

	statuses := make([]string, 0, len(usage.Tasks))
	for status := range usage.Tasks {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	counts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		counts = append(counts, fmt.Sprintf("%s=%d", s, usage.Tasks[s]))
	}
	b.WriteString("\n" + labelStyle.Render(strings.Join(counts, " ")))

	return boxStyle.Render(b.String())
}

func renderEvent(ev events.Event) string {
	var detail string
	switch e := ev.(type) {
	case events.TaskDispatched:
		detail = fmt.Sprintf("priority %d", e.Priority)
	case events.TaskExecuted:
		detail = fmt.Sprintf("in %s, priority now %d", e.Duration.Round(time.Millisecond), e.Priority)
	case events.TaskErrored:
		detail = fmt.Sprintf("%v, priority now %d", e.Err, e.Priority)
	case events.TaskRerouted:
		detail = fmt.Sprintf("condition %q: %v", e.Condition, e.Err)
		if len(e.Waiting) > 0 {
			detail += "; waiting: " + strings.Join(e.Waiting, ", ")
		}
	case events.TaskSkipped:
		detail = fmt.Sprintf("short %v", e.Shortfall)
	case events.CycleCompleted:
		detail = fmt.Sprintf("cycle %d: %d dispatched, %d executed", e.Cycle, e.Dispatched, e.Executed)
	}

	head := labelStyle.Render(fmt.Sprintf("%-16s", ev.EventType()))
	if id := ev.TaskID(); id != "" {
		head += " " + id
	}
	if detail != "" {
		head += " " + detail
	}
	return head
}
