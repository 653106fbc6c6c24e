// Package watch implements change detection over the task and project
// stores: a classifier that turns raw store changes into typed notification
// events, a poller that feeds it, and the scheduled scanners that synthesize
// time-driven events (overdue, due soon) no change stream can observe.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/services"
)

// ChangeKind mirrors the three change types a store watch delivers.
type ChangeKind int

// Change kinds.
const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

// Change is one raw notification from a watched store. Exactly one of Task
// or Project is set.
type Change struct {
	Kind    ChangeKind
	Task    *domain.Task
	Project *domain.Project
}

// EventSink receives classified events. Implemented by services.Dispatcher.
type EventSink interface {
	NotifyUser(ctx context.Context, appUserID string, ev domain.Event) (services.DispatchResult, error)
	NotifyProjectChannel(ctx context.Context, projectID string, ev domain.Event) (services.DispatchResult, error)
	NotifyTaskEvent(ctx context.Context, ev domain.Event, actorID string) []services.DispatchResult
	FanOut(ctx context.Context, userIDs []string, ev domain.Event) []services.DispatchResult
}

// NameResolver maps a user ID to a display name for "assigned by ..." lines.
// Returning "" falls back to a generic phrase; the user directory belongs to
// the CRUD layer, so the resolver is injected.
type NameResolver func(ctx context.Context, userID string) string

// Source classifies store changes into typed events and forwards them to the
// sink. It keeps a prior-snapshot cache per record so "modified" changes are
// diffed structurally instead of guessed field by field, and it drops the
// initial snapshot replay every fresh watch delivers (an "added" change whose
// record was created before the grace window is history, not news).
//
// Changes may arrive concurrently from independent watches; the snapshot
// cache is the only shared state and is mutex-guarded.
type Source struct {
	Sink  EventSink
	Log   zerolog.Logger
	Names NameResolver

	// GraceWindow bounds how old an "added" record may be and still count as
	// new. Zero means 45s.
	GraceWindow time.Duration

	// Now injects the clock; nil means time.Now.
	Now func() time.Time

	mu       sync.Mutex
	tasks    map[string]domain.Task
	projects map[string]struct{}
}

func (s *Source) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Source) grace() time.Duration {
	if s.GraceWindow > 0 {
		return s.GraceWindow
	}
	return 45 * time.Second
}

func (s *Source) name(ctx context.Context, userID string) string {
	if s.Names == nil || userID == "" {
		return ""
	}
	return s.Names(ctx, userID)
}

// HandleChange classifies one change and dispatches the resulting events.
// Safe for concurrent use.
func (s *Source) HandleChange(ctx context.Context, ch Change) {
	switch {
	case ch.Task != nil:
		s.handleTask(ctx, ch)
	case ch.Project != nil:
		s.handleProject(ctx, ch)
	}
}

func (s *Source) handleTask(ctx context.Context, ch Change) {
	t := ch.Task
	now := s.now()

	switch ch.Kind {
	case ChangeAdded:
		s.remember(*t)
		// Initial snapshot replay: every fresh watch re-delivers existing
		// records once. Old creations are history, not news.
		if now.Sub(t.CreatedAt) > s.grace() {
			return
		}
		s.Log.Info().Str("task_id", t.ID).Str("title", t.Title).Msg("task created")
		ev := domain.Event{
			Type:       domain.EventTaskAssigned,
			Task:       t,
			ActorName:  s.name(ctx, t.CreatedBy),
			OccurredAt: now,
		}
		// Direct fan-out instead of NotifyTaskEvent: the channel gets exactly
		// one announcement, the task_created below.
		assignees := make([]string, 0, len(t.Assignees))
		for _, uid := range t.Assignees {
			if uid == t.CreatedBy {
				continue
			}
			assignees = append(assignees, uid)
		}
		if len(assignees) > 0 {
			s.Sink.FanOut(ctx, assignees, ev)
		}
		if t.ProjectID != "" {
			created := ev
			created.Type = domain.EventTaskCreated
			if _, err := s.Sink.NotifyProjectChannel(ctx, t.ProjectID, created); err != nil {
				s.Log.Warn().Err(err).Str("task_id", t.ID).Msg("channel announce failed")
			}
		}

	case ChangeModified:
		prev, known := s.swap(*t)
		if !known {
			// No prior snapshot (watch attached mid-stream): nothing to diff
			// against, so only the completion transition is detectable.
			prev = *t
			prev.Status = ""
		}
		if t.Status == domain.TaskStatusCompleted && prev.Status != domain.TaskStatusCompleted {
			s.Log.Info().Str("task_id", t.ID).Msg("task completed")
			actor := t.CompletedBy
			ev := domain.Event{
				Type:       domain.EventTaskCompleted,
				Task:       t,
				ActorName:  s.name(ctx, actor),
				OccurredAt: now,
			}
			if t.CreatedBy != "" && t.CreatedBy != actor {
				if _, err := s.Sink.NotifyUser(ctx, t.CreatedBy, ev); err != nil {
					s.Log.Warn().Err(err).Str("task_id", t.ID).Msg("creator notify failed")
				}
			}
			if t.ProjectID != "" {
				if _, err := s.Sink.NotifyProjectChannel(ctx, t.ProjectID, ev); err != nil {
					s.Log.Warn().Err(err).Str("task_id", t.ID).Msg("channel announce failed")
				}
			}
			return
		}
		if !known {
			return
		}
		changed := diffTasks(prev, *t)
		if len(changed) == 0 {
			return
		}
		s.Log.Info().Str("task_id", t.ID).Strs("fields", changed).Msg("task updated")
		ev := domain.Event{
			Type:          domain.EventTaskUpdated,
			Task:          t,
			ChangedFields: changed,
			OccurredAt:    now,
		}
		s.Sink.NotifyTaskEvent(ctx, ev, "")

	case ChangeRemoved:
		s.forget(t.ID)
		s.Log.Info().Str("task_id", t.ID).Msg("task deleted")
		if t.ProjectID != "" {
			ev := domain.Event{
				Type:       domain.EventTaskDeleted,
				Task:       t,
				OccurredAt: now,
			}
			if _, err := s.Sink.NotifyProjectChannel(ctx, t.ProjectID, ev); err != nil {
				s.Log.Warn().Err(err).Str("task_id", t.ID).Msg("channel announce failed")
			}
		}
	}
}

func (s *Source) handleProject(ctx context.Context, ch Change) {
	p := ch.Project
	now := s.now()

	if ch.Kind != ChangeAdded {
		return
	}
	s.mu.Lock()
	if s.projects == nil {
		s.projects = make(map[string]struct{})
	}
	_, seen := s.projects[p.ID]
	s.projects[p.ID] = struct{}{}
	s.mu.Unlock()

	if seen || now.Sub(p.CreatedAt) > s.grace() {
		return
	}
	s.Log.Info().Str("project_id", p.ID).Str("name", p.Name).Msg("project created")
	ev := domain.Event{
		Type:       domain.EventProjectCreated,
		Project:    p,
		ActorName:  s.name(ctx, p.CreatedBy),
		OccurredAt: now,
	}
	if p.CreatedBy != "" {
		if _, err := s.Sink.NotifyUser(ctx, p.CreatedBy, ev); err != nil {
			s.Log.Warn().Err(err).Str("project_id", p.ID).Msg("creator notify failed")
		}
	}
}

// remember stores a task snapshot.
func (s *Source) remember(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = make(map[string]domain.Task)
	}
	s.tasks[t.ID] = t
}

// swap replaces the cached snapshot and returns the previous one.
func (s *Source) swap(t domain.Task) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = make(map[string]domain.Task)
	}
	prev, ok := s.tasks[t.ID]
	s.tasks[t.ID] = t
	return prev, ok
}

func (s *Source) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// diffTasks returns the names of fields that differ between two snapshots,
// restricted to fields a user would recognize. Guard-field and bookkeeping
// changes are invisible on purpose.
func diffTasks(prev, cur domain.Task) []string {
	var changed []string
	if prev.Title != cur.Title {
		changed = append(changed, "title")
	}
	if prev.Description != cur.Description {
		changed = append(changed, "description")
	}
	if prev.Status != cur.Status {
		changed = append(changed, "status")
	}
	if prev.Priority != cur.Priority {
		changed = append(changed, "priority")
	}
	if !equalTimePtr(prev.DueDate, cur.DueDate) {
		changed = append(changed, "due_date")
	}
	if !equalStrings(prev.Assignees, cur.Assignees) {
		changed = append(changed, "assignees")
	}
	if prev.ProjectID != cur.ProjectID {
		changed = append(changed, "project")
	}
	return changed
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
