// Package domain defines the persistence models for identity links, linking
// codes, notification preferences, project channel bindings, tasks, projects,
// and the delivery log. These types are mapped with GORM and form the core
// data layer of the notification backend.
package domain

import (
	"time"
)

// Task statuses understood by the notification pipeline. The CRUD layer owns
// the full task lifecycle; this subsystem only needs to distinguish completed
// work from everything else.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// IdentityLink binds one chat-platform identity to one application identity.
// It is the only trust relationship the dispatcher relies on when resolving
// a recipient.
//
// Invariants:
//   - At most one active link per ChatUserID (enforced by the primary key:
//     re-linking a chat identity overwrites its single row).
//   - An AppUserID may appear on multiple rows; only rows with IsActive=true
//     are canonical, and callers must tolerate zero matches.
//   - Links are deactivated on unlink, never hard-deleted, to preserve the
//     audit trail.
type IdentityLink struct {
	ChatUserID   string     `json:"chat_user_id"   gorm:"type:varchar(64);primaryKey"`
	ChatUserName string     `json:"chat_user_name" gorm:"type:varchar(255)"`
	ChatEmail    string     `json:"chat_email,omitempty" gorm:"type:varchar(255)"`
	AppUserID    string     `json:"app_user_id"    gorm:"type:varchar(64);not null;index:idx_links_app_user"`
	AppEmail     string     `json:"app_email"      gorm:"type:varchar(255);not null"`
	IsActive     bool       `json:"is_active"      gorm:"not null;index"`
	LinkedAt     time.Time  `json:"linked_at"`
	UnlinkedAt   *time.Time `json:"unlinked_at,omitempty"`
}

// TableName returns the database table name for IdentityLink.
func (IdentityLink) TableName() string { return "identity_links" }

// LinkingCode is a single-use capability token issued to an authenticated
// application user who wants to link a chat identity. The 6-character code is
// shown in the application and typed into the chat platform; the 4-digit
// challenge number travels the opposite direction and must be confirmed inside
// the authenticated application session before the code becomes consumable.
//
// Lifecycle: created → verified (challenge confirmed) → used (exactly once).
// Expired codes are inert regardless of state.
type LinkingCode struct {
	Code            string     `json:"code"             gorm:"type:char(6);primaryKey"`
	AppUserID       string     `json:"app_user_id"      gorm:"type:varchar(64);not null;index"`
	AppEmail        string     `json:"app_email"        gorm:"type:varchar(255);not null"`
	ChallengeNumber int        `json:"challenge_number" gorm:"not null"`
	Verified        bool       `json:"verified"         gorm:"not null"`
	Used            bool       `json:"used"             gorm:"not null"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"       gorm:"not null;index"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
}

// TableName returns the database table name for LinkingCode.
func (LinkingCode) TableName() string { return "linking_codes" }

// Expired reports whether the code is past its TTL at the given instant.
func (c *LinkingCode) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// QuietHours is a recurring daily window during which notifications are
// suppressed. The range may wrap past midnight (e.g. start=22, end=8).
// Hours are 0–23, server-local.
type QuietHours struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

// Contains reports whether the given hour falls inside the window.
// A wrap-around range (start > end) covers [start,24) plus [0,end).
func (q QuietHours) Contains(hour int) bool {
	if !q.Enabled {
		return false
	}
	if q.StartHour <= q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	return hour >= q.StartHour || hour < q.EndHour
}

// ProjectOverride is a per-project notification switch inside a user's
// preferences. Enabled=false mutes one project without touching the rest.
type ProjectOverride struct {
	Enabled bool       `json:"enabled"`
	MutedAt *time.Time `json:"muted_at,omitempty"`
}

// UserPreferences is the per-user notification settings document. When no row
// exists for a user, DefaultPreferences applies. The dispatcher only ever
// reads this model; mutation happens through the preference endpoints.
type UserPreferences struct {
	UserID string `json:"user_id" gorm:"type:varchar(64);primaryKey"`

	// Global switch. False silences everything regardless of the rest.
	Enabled bool `json:"enabled" gorm:"not null"`

	// Per-event-type switches.
	TaskAssigned   bool `json:"task_assigned"   gorm:"not null"`
	TaskCreated    bool `json:"task_created"    gorm:"not null"`
	TaskCompleted  bool `json:"task_completed"  gorm:"not null"`
	TaskUpdated    bool `json:"task_updated"    gorm:"not null"`
	TaskDeleted    bool `json:"task_deleted"    gorm:"not null"`
	TaskDueSoon    bool `json:"task_due_soon"   gorm:"not null"`
	TaskOverdue    bool `json:"task_overdue"    gorm:"not null"`
	CommentAdded   bool `json:"comment_added"   gorm:"not null"`
	ProjectCreated bool `json:"project_created" gorm:"not null"`
	ProjectInvite  bool `json:"project_invite"  gorm:"not null"`
	MemberJoined   bool `json:"member_joined"   gorm:"not null"`
	MemberLeft     bool `json:"member_left"     gorm:"not null"`

	// Recurring daily suppression window.
	QuietHours QuietHours `json:"quiet_hours" gorm:"embedded;embeddedPrefix:quiet_"`

	// Temporary suppression with auto-expiry. A nil DNDUntil with DNDEnabled
	// set means "until explicitly disabled".
	DNDEnabled bool       `json:"dnd_enabled" gorm:"not null"`
	DNDUntil   *time.Time `json:"dnd_until,omitempty"`

	// Per-project mute switches, keyed by project ID.
	ProjectOverrides map[string]ProjectOverride `json:"project_overrides" gorm:"serializer:json"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserPreferences.
func (UserPreferences) TableName() string { return "user_preferences" }

// DefaultPreferences returns the compiled-in defaults used when a user has no
// stored preferences: everything on except task_updated and member_left, no
// quiet hours, no DND.
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:         userID,
		Enabled:        true,
		TaskAssigned:   true,
		TaskCreated:    true,
		TaskCompleted:  true,
		TaskUpdated:    false,
		TaskDeleted:    true,
		TaskDueSoon:    true,
		TaskOverdue:    true,
		CommentAdded:   true,
		ProjectCreated: true,
		ProjectInvite:  true,
		MemberJoined:   true,
		MemberLeft:     false,
		QuietHours:     QuietHours{Enabled: false, StartHour: 22, EndHour: 8},
	}
}

// EventEnabled reports whether the per-type switch for the given event type
// is on. Unknown types default to enabled so new event types are not silently
// dropped for users with stale preference rows.
func (p *UserPreferences) EventEnabled(t EventType) bool {
	switch t {
	case EventTaskAssigned:
		return p.TaskAssigned
	case EventTaskCreated:
		return p.TaskCreated
	case EventTaskCompleted:
		return p.TaskCompleted
	case EventTaskUpdated:
		return p.TaskUpdated
	case EventTaskDeleted:
		return p.TaskDeleted
	case EventTaskDueSoon:
		return p.TaskDueSoon
	case EventTaskOverdue:
		return p.TaskOverdue
	case EventCommentAdded:
		return p.CommentAdded
	case EventProjectCreated:
		return p.ProjectCreated
	case EventProjectInvite:
		return p.ProjectInvite
	case EventMemberJoined:
		return p.MemberJoined
	case EventMemberLeft:
		return p.MemberLeft
	default:
		return true
	}
}

// ProjectChannel binds a project to a chat channel so project-level events can
// be announced to the whole team. One binding per project.
type ProjectChannel struct {
	ProjectID   string    `json:"project_id"   gorm:"type:varchar(64);primaryKey"`
	ChannelName string    `json:"channel_name" gorm:"type:varchar(255);not null"`
	ChannelID   string    `json:"channel_id"   gorm:"type:varchar(64)"`
	LinkedBy    string    `json:"linked_by"    gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for ProjectChannel.
func (ProjectChannel) TableName() string { return "project_channels" }

// Task is the subset of the task record this subsystem reads and annotates.
// The CRUD layer owns the record; the notification pipeline only queries it
// and updates the two notification-guard fields via conditional writes.
//
// Guard fields:
//   - OverdueNotifiedAt: when the last overdue notification went out. Compared
//     by calendar day so a long-overdue task is re-notified once per day.
//   - DueSoonNotifiedFor: the due date a due-soon notification was sent for.
//     Moving the due date re-arms the notification because the stored value no
//     longer matches.
type Task struct {
	ID          string     `json:"id"          gorm:"type:char(36);primaryKey"`
	ProjectID   string     `json:"project_id"  gorm:"type:varchar(64);index"`
	Title       string     `json:"title"       gorm:"type:varchar(255);not null"`
	Description string     `json:"description" gorm:"type:text"`
	Status      string     `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index"`
	Priority    string     `json:"priority"    gorm:"type:varchar(16)"`
	Assignees   []string   `json:"assignees"   gorm:"serializer:json"`
	CreatedBy   string     `json:"created_by"  gorm:"type:varchar(64)"`
	CompletedBy string     `json:"completed_by,omitempty" gorm:"type:varchar(64)"`
	DueDate     *time.Time `json:"due_date,omitempty"     gorm:"index"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	OverdueNotifiedAt  *time.Time `json:"-"`
	DueSoonNotifiedFor *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string { return "tasks" }

// Project is the subset of the project record the pipeline reads.
type Project struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"        gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedBy   string    `json:"created_by"  gorm:"type:varchar(64)"`
	Members     []string  `json:"members"     gorm:"serializer:json"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }

// DeliveryLog is an append-only record of one dispatched notification. It
// backs the history endpoint and the "already notified" idempotency
// heuristics; it is never updated after insert.
type DeliveryLog struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	RecipientID string    `json:"recipient_id" gorm:"type:varchar(64);not null;index:idx_delivery_recipient,priority:1"`
	EventType   string    `json:"event_type"   gorm:"type:varchar(32);not null"`
	Summary     string    `json:"summary"      gorm:"type:varchar(512)"`
	SentAt      time.Time `json:"sent_at"      gorm:"not null;index:idx_delivery_recipient,priority:2"`
}

// TableName returns the database table name for DeliveryLog.
func (DeliveryLog) TableName() string { return "delivery_log" }
