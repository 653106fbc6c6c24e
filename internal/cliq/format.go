// Event formatting: pure mapping from a classified notification event to a
// chat message payload. No I/O happens here; the dispatcher owns delivery.
package cliq

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

// Formatter turns notification events into Cliq message payloads. It is a
// pure value type; the zero value works, AppBaseURL just becomes a bare path.
type Formatter struct {
	// AppBaseURL prefixes deep links in buttons, e.g. "tasker://" or
	// "https://tasker.app".
	AppBaseURL string

	// Now is the clock used for relative due-date phrasing. Nil means
	// time.Now.
	Now func() time.Time
}

// Format builds the payload for an event. Unknown event types degrade to a
// plain text notification rather than failing the dispatch.
func (f Formatter) Format(ev domain.Event) Message {
	switch ev.Type {
	case domain.EventTaskAssigned:
		return f.taskAssigned(ev)
	case domain.EventTaskCreated:
		return f.taskCreated(ev)
	case domain.EventTaskCompleted:
		return f.taskCompleted(ev)
	case domain.EventTaskUpdated:
		return f.taskUpdated(ev)
	case domain.EventTaskDeleted:
		return f.taskDeleted(ev)
	case domain.EventTaskDueSoon:
		return f.taskDueSoon(ev)
	case domain.EventTaskOverdue:
		return f.taskOverdue(ev)
	case domain.EventCommentAdded:
		return f.commentAdded(ev)
	case domain.EventProjectCreated:
		return f.projectCreated(ev)
	case domain.EventProjectInvite:
		return f.projectInvite(ev)
	case domain.EventMemberJoined:
		return f.memberJoined(ev)
	case domain.EventMemberLeft:
		return f.memberLeft(ev)
	default:
		return Message{Text: "🔔 Notification from Tasker"}
	}
}

func (f Formatter) taskAssigned(ev domain.Event) Message {
	t := ev.Task
	return Message{
		Text: "📋 New task assigned to you!",
		Card: &Card{Title: priorityIcon(t.Priority) + " " + t.Title, Theme: ThemeModernInline},
		Slides: []Slide{
			{Type: "text", Title: "Description", Data: orDefault(t.Description, "No description")},
			{Type: "label", Title: "Details", Data: []map[string]string{
				{"Priority": priorityText(t.Priority)},
				{"Due": f.dueDateText(t.DueDate)},
			}},
		},
		Buttons: []Button{
			urlButton("👁 View Task", f.taskURL(t.ID)),
			invokeButton("✓ Complete", "+", "completeTaskFromNotification", map[string]any{"taskId": t.ID}),
		},
	}
}

func (f Formatter) taskCreated(ev domain.Event) Message {
	t := ev.Task
	return Message{
		Text: "📋 New task created in project",
		Card: &Card{Title: priorityIcon(t.Priority) + " " + t.Title, Theme: ThemeModernInline},
		Slides: []Slide{
			{Type: "text", Data: "Created by " + orDefault(ev.ActorName, "a team member")},
		},
	}
}

func (f Formatter) taskCompleted(ev domain.Event) Message {
	t := ev.Task
	return Message{
		Text: "✅ Task completed!",
		Card: &Card{Title: "✅ " + t.Title, Theme: ThemeModernInline},
		Slides: []Slide{
			{Type: "text", Data: "Completed by " + orDefault(ev.ActorName, "a team member")},
		},
	}
}

func (f Formatter) taskUpdated(ev domain.Event) Message {
	t := ev.Task
	body := "Task was updated"
	if len(ev.ChangedFields) > 0 {
		body = "Updated: " + strings.Join(humanizeFields(ev.ChangedFields), ", ")
	}
	return Message{
		Text:   "📝 Task updated: " + t.Title,
		Card:   &Card{Title: "📝 " + t.Title, Theme: ThemeModernInline},
		Slides: []Slide{{Type: "text", Data: body}},
	}
}

func (f Formatter) taskDeleted(ev domain.Event) Message {
	t := ev.Task
	return Message{
		Text:   "🗑️ Task deleted: " + t.Title,
		Card:   &Card{Title: "🗑️ " + t.Title, Theme: ThemeModernInline},
		Slides: []Slide{{Type: "text", Data: "Deleted by " + orDefault(ev.ActorName, "a team member")}},
	}
}

func (f Formatter) taskDueSoon(ev domain.Event) Message {
	t := ev.Task
	icon, text := "📅", fmt.Sprintf("Due in %d hours", ev.HoursUntilDue)
	switch {
	case ev.HoursUntilDue <= 1:
		icon, text = "⚠️", "Due in less than 1 hour!"
	case ev.HoursUntilDue <= 3:
		icon = "⏰"
	}
	return Message{
		Text: icon + " " + text,
		Card: &Card{Title: icon + " " + t.Title, Theme: ThemeModernInline},
		Buttons: []Button{
			urlButton("👁 View", f.taskURL(t.ID)),
			invokeButton("✓ Complete Now", "+", "completeTaskFromNotification", map[string]any{"taskId": t.ID}),
			invokeButton("⏰ Snooze 1h", "+", "snoozeReminder", map[string]any{"taskId": t.ID, "hours": 1}),
		},
	}
}

func (f Formatter) taskOverdue(ev domain.Event) Message {
	t := ev.Task
	return Message{
		Text: fmt.Sprintf("🔥 Task is %d day(s) overdue!", ev.DaysOverdue),
		Card: &Card{Title: "🔥 OVERDUE: " + t.Title, Theme: ThemeModernInline},
		Slides: []Slide{
			{Type: "label", Data: []map[string]string{
				{"Originally Due": f.dueDateText(t.DueDate)},
				{"Days Overdue": fmt.Sprintf("%d", ev.DaysOverdue)},
			}},
		},
		Buttons: []Button{
			invokeButton("✓ Complete Now", "+", "completeTaskFromNotification", map[string]any{"taskId": t.ID}),
			invokeButton("📅 Extend Deadline", "+", "extendDeadline", map[string]any{"taskId": t.ID}),
		},
	}
}

func (f Formatter) commentAdded(ev domain.Event) Message {
	t := ev.Task
	return Message{
		Text:   fmt.Sprintf("💬 New comment on %q", t.Title),
		Card:   &Card{Title: "💬 " + orDefault(ev.ActorName, "Someone") + " commented", Theme: ThemeModernInline},
		Slides: []Slide{{Type: "text", Data: ev.CommentPreview}},
		Buttons: []Button{
			urlButton("👁 View Task", f.taskURL(t.ID)),
			invokeButton("💬 Reply", "+", "replyToComment", map[string]any{"taskId": t.ID}),
		},
	}
}

func (f Formatter) projectCreated(ev domain.Event) Message {
	p := ev.Project
	return Message{
		Text:   "📁 New project created!",
		Card:   &Card{Title: "📁 " + p.Name, Theme: ThemeModernInline},
		Slides: []Slide{{Type: "text", Data: orDefault(p.Description, "No description")}},
	}
}

func (f Formatter) projectInvite(ev domain.Event) Message {
	p := ev.Project
	return Message{
		Text: "📨 You've been invited to join a project!",
		Card: &Card{Title: "📁 " + p.Name, Theme: ThemeModernInline},
		Slides: []Slide{
			{Type: "text", Data: fmt.Sprintf("Invited by %s as %s",
				orDefault(ev.ActorName, "a team member"), orDefault(ev.Role, "member"))},
			{Type: "text", Data: orDefault(p.Description, "No description")},
		},
		Buttons: []Button{
			invokeButton("✓ Accept", "+", "acceptProjectInvite", map[string]any{"projectId": p.ID}),
			invokeButton("✗ Decline", "-", "declineProjectInvite", map[string]any{"projectId": p.ID}),
		},
	}
}

func (f Formatter) memberJoined(ev domain.Event) Message {
	p := ev.Project
	return Message{
		Text:   "👋 New member joined " + p.Name,
		Card:   &Card{Title: "👋 " + ev.MemberName + " joined", Theme: ThemeModernInline},
		Slides: []Slide{{Type: "text", Data: "Joined as " + orDefault(ev.Role, "member")}},
	}
}

func (f Formatter) memberLeft(ev domain.Event) Message {
	p := ev.Project
	return Message{
		Text: "👋 Member left " + p.Name,
		Card: &Card{Title: "👋 " + ev.MemberName + " left", Theme: ThemeModernInline},
	}
}

// taskURL builds the deep link for a task.
func (f Formatter) taskURL(id string) string {
	base := strings.TrimSuffix(f.AppBaseURL, "/")
	return base + "/task/" + id
}

// dueDateText renders a due date relative to today: "Today", "Tomorrow",
// "In 3 days", "2 days overdue", or a short absolute date further out.
func (f Formatter) dueDateText(due *time.Time) string {
	if due == nil {
		return "No due date"
	}
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	d := due.In(now.Location())
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
	diff := int(dueDay.Sub(today).Hours() / 24)

	switch {
	case diff == 0:
		return "Today"
	case diff == 1:
		return "Tomorrow"
	case diff == -1:
		return "Yesterday"
	case diff < 0:
		return fmt.Sprintf("%d days overdue", -diff)
	case diff <= 7:
		return fmt.Sprintf("In %d days", diff)
	default:
		return d.Format("Mon, Jan 2")
	}
}

var fieldCaser = cases.Title(language.English)

// humanizeFields turns snake_case field names into display labels, e.g.
// "due_date" → "Due Date".
func humanizeFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, fld := range fields {
		out = append(out, fieldCaser.String(strings.ReplaceAll(fld, "_", " ")))
	}
	return out
}

func priorityIcon(p string) string {
	switch p {
	case "urgent":
		return "🔴"
	case "high":
		return "🟠"
	case "medium":
		return "🟡"
	case "low":
		return "🟢"
	default:
		return "📋"
	}
}

func priorityText(p string) string {
	switch p {
	case "urgent":
		return "🔴 Urgent"
	case "high":
		return "🟠 High"
	case "medium":
		return "🟡 Medium"
	case "low":
		return "🟢 Low"
	default:
		return "Normal"
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
