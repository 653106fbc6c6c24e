// Package services – PreferenceService
//
// This file implements preference storage and the Resolve gate the dispatcher
// consults before every user-targeted send. Resolution is a fixed rule chain,
// first match wins:
//
//  1. no stored row            → compiled-in defaults
//  2. global switch off        → deny
//  3. event-type switch off    → deny
//  4. active do-not-disturb    → deny (elapsed windows are cleared lazily)
//  5. inside quiet hours       → deny (wrap-around ranges supported)
//  6. project muted            → deny
//  7. otherwise                → allow
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/repo"
)

// PreferenceService reads and mutates per-user notification preferences.
type PreferenceService struct {
	DB *gorm.DB

	// Now injects the clock; nil means time.Now.
	Now func() time.Time
}

// SettingsPatch is a partial preference update. Nil fields are left
// untouched; the patch is merged over the stored row (or the defaults when
// the user has never customized anything).
type SettingsPatch struct {
	Enabled        *bool `json:"enabled,omitempty"`
	TaskAssigned   *bool `json:"task_assigned,omitempty"`
	TaskCreated    *bool `json:"task_created,omitempty"`
	TaskCompleted  *bool `json:"task_completed,omitempty"`
	TaskUpdated    *bool `json:"task_updated,omitempty"`
	TaskDeleted    *bool `json:"task_deleted,omitempty"`
	TaskDueSoon    *bool `json:"task_due_soon,omitempty"`
	TaskOverdue    *bool `json:"task_overdue,omitempty"`
	CommentAdded   *bool `json:"comment_added,omitempty"`
	ProjectCreated *bool `json:"project_created,omitempty"`
	ProjectInvite  *bool `json:"project_invite,omitempty"`
	MemberJoined   *bool `json:"member_joined,omitempty"`
	MemberLeft     *bool `json:"member_left,omitempty"`

	QuietHours *domain.QuietHours `json:"quiet_hours,omitempty"`
}

func (s *PreferenceService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// resolveWithDefaults returns the effective preferences for a user: the
// stored row when one exists, the compiled-in defaults otherwise.
func resolveWithDefaults(stored *domain.UserPreferences, userID string) domain.UserPreferences {
	if stored == nil {
		return domain.DefaultPreferences(userID)
	}
	return *stored
}

// Get returns the effective preferences and whether a stored row backs them.
// An elapsed DND window is reported as disabled and cleared in storage so the
// UI stays fresh.
func (s *PreferenceService) Get(ctx context.Context, userID string) (domain.UserPreferences, bool, error) {
	stored, err := repo.GetPreferences(ctx, s.DB, userID)
	if err != nil {
		return domain.UserPreferences{}, false, err
	}
	prefs := resolveWithDefaults(stored, userID)

	if prefs.DNDEnabled && prefs.DNDUntil != nil && !s.now().Before(*prefs.DNDUntil) {
		prefs.DNDEnabled = false
		prefs.DNDUntil = nil
		if stored != nil {
			if err := repo.ClearExpiredDND(ctx, s.DB, userID, s.now()); err != nil {
				return domain.UserPreferences{}, false, err
			}
		}
	}
	return prefs, stored != nil, nil
}

// Update merges a partial settings patch over the user's current (or default)
// preferences and persists the result.
func (s *PreferenceService) Update(ctx context.Context, userID string, patch SettingsPatch) (domain.UserPreferences, error) {
	tr := otel.Tracer("services/PreferenceService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	stored, err := repo.GetPreferences(ctx, s.DB, userID)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	prefs := resolveWithDefaults(stored, userID)

	applyBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	applyBool(&prefs.Enabled, patch.Enabled)
	applyBool(&prefs.TaskAssigned, patch.TaskAssigned)
	applyBool(&prefs.TaskCreated, patch.TaskCreated)
	applyBool(&prefs.TaskCompleted, patch.TaskCompleted)
	applyBool(&prefs.TaskUpdated, patch.TaskUpdated)
	applyBool(&prefs.TaskDeleted, patch.TaskDeleted)
	applyBool(&prefs.TaskDueSoon, patch.TaskDueSoon)
	applyBool(&prefs.TaskOverdue, patch.TaskOverdue)
	applyBool(&prefs.CommentAdded, patch.CommentAdded)
	applyBool(&prefs.ProjectCreated, patch.ProjectCreated)
	applyBool(&prefs.ProjectInvite, patch.ProjectInvite)
	applyBool(&prefs.MemberJoined, patch.MemberJoined)
	applyBool(&prefs.MemberLeft, patch.MemberLeft)
	if patch.QuietHours != nil {
		prefs.QuietHours = *patch.QuietHours
	}

	if err := repo.SavePreferences(ctx, s.DB, &prefs); err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

// MuteProject sets or clears the per-project override for one project.
func (s *PreferenceService) MuteProject(ctx context.Context, userID, projectID string, muted bool) (domain.UserPreferences, error) {
	if userID == "" || projectID == "" {
		return domain.UserPreferences{}, ErrInvalidInput
	}
	stored, err := repo.GetPreferences(ctx, s.DB, userID)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	prefs := resolveWithDefaults(stored, userID)
	if prefs.ProjectOverrides == nil {
		prefs.ProjectOverrides = make(map[string]domain.ProjectOverride)
	}
	if muted {
		now := s.now()
		prefs.ProjectOverrides[projectID] = domain.ProjectOverride{Enabled: false, MutedAt: &now}
	} else {
		delete(prefs.ProjectOverrides, projectID)
	}
	if err := repo.SavePreferences(ctx, s.DB, &prefs); err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

// SetDoNotDisturb enables DND, optionally for a bounded number of hours, or
// disables it. durationHours <= 0 with enabled=true means "until disabled".
func (s *PreferenceService) SetDoNotDisturb(ctx context.Context, userID string, enabled bool, durationHours int) (domain.UserPreferences, error) {
	if userID == "" {
		return domain.UserPreferences{}, ErrInvalidInput
	}
	stored, err := repo.GetPreferences(ctx, s.DB, userID)
	if err != nil {
		return domain.UserPreferences{}, err
	}
	prefs := resolveWithDefaults(stored, userID)

	prefs.DNDEnabled = enabled
	prefs.DNDUntil = nil
	if enabled && durationHours > 0 {
		until := s.now().Add(time.Duration(durationHours) * time.Hour)
		prefs.DNDUntil = &until
	}
	if err := repo.SavePreferences(ctx, s.DB, &prefs); err != nil {
		return domain.UserPreferences{}, err
	}
	return prefs, nil
}

// Resolve decides whether a notification of the given type, optionally scoped
// to a project, may be delivered to the user right now. It never mutates
// preferences except for the lazy clear of an elapsed DND window.
func (s *PreferenceService) Resolve(ctx context.Context, userID string, eventType domain.EventType, projectID string) (bool, error) {
	tr := otel.Tracer("services/PreferenceService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("event.type", string(eventType)),
		),
	)
	defer span.End()

	stored, err := repo.GetPreferences(ctx, s.DB, userID)
	if err != nil {
		return false, err
	}
	prefs := resolveWithDefaults(stored, userID)
	now := s.now()

	if !prefs.Enabled {
		return false, nil
	}
	if !prefs.EventEnabled(eventType) {
		return false, nil
	}

	if prefs.DNDEnabled {
		if prefs.DNDUntil == nil || now.Before(*prefs.DNDUntil) {
			return false, nil
		}
		// Window elapsed: self-healing expiry, no sweep job required.
		if stored != nil {
			if err := repo.ClearExpiredDND(ctx, s.DB, userID, now); err != nil {
				return false, err
			}
		}
	}

	if prefs.QuietHours.Contains(now.Hour()) {
		return false, nil
	}

	if projectID != "" {
		if ov, ok := prefs.ProjectOverrides[projectID]; ok && !ov.Enabled {
			return false, nil
		}
	}
	return true, nil
}
