// Notification event types and the ephemeral event value passed through the
// pipeline. Events are constructed by the change source or a scheduled
// scanner, consumed once by the dispatcher, and never persisted; only the
// delivery outcome is recorded.
package domain

import "time"

// EventType classifies a state change worth notifying about.
type EventType string

// Event types emitted by the change source and the scheduled scanners.
const (
	EventTaskCreated    EventType = "task_created"
	EventTaskAssigned   EventType = "task_assigned"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskUpdated    EventType = "task_updated"
	EventTaskDeleted    EventType = "task_deleted"
	EventTaskDueSoon    EventType = "task_due_soon"
	EventTaskOverdue    EventType = "task_overdue"
	EventCommentAdded   EventType = "comment_added"
	EventProjectCreated EventType = "project_created"
	EventProjectInvite  EventType = "project_invite"
	EventMemberJoined   EventType = "member_joined"
	EventMemberLeft     EventType = "member_left"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTaskCreated, EventTaskAssigned, EventTaskCompleted,
		EventTaskUpdated, EventTaskDeleted, EventTaskDueSoon, EventTaskOverdue,
		EventCommentAdded, EventProjectCreated, EventProjectInvite,
		EventMemberJoined, EventMemberLeft:
		return true
	}
	return false
}

// Event is one classified state change flowing from a source to the
// dispatcher. Exactly one of Task or Project is set depending on the subject;
// the remaining fields carry per-type extras and are zero otherwise.
type Event struct {
	Type EventType

	Task    *Task
	Project *Project

	// ActorName is the display name of the user who caused the change, when
	// known ("assigned by", "completed by", "invited by", ...).
	ActorName string

	// ChangedFields lists the task fields a task_updated event touched.
	ChangedFields []string

	// HoursUntilDue accompanies task_due_soon.
	HoursUntilDue int

	// DaysOverdue accompanies task_overdue.
	DaysOverdue int

	// Role accompanies project_invite and member_joined.
	Role string

	// MemberName accompanies member_joined and member_left.
	MemberName string

	// CommentPreview accompanies comment_added (already truncated).
	CommentPreview string

	// OccurredAt is when the source observed the change.
	OccurredAt time.Time
}
