// Package repo implements the data persistence layer for the notification
// backend, backed by GORM. This file provides repository functions for
// per-user notification preferences and project channel bindings.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

// GetPreferences returns the stored preferences row for a user, or nil when
// the user has never customized anything (callers apply the compiled-in
// defaults).
func GetPreferences(ctx context.Context, db *gorm.DB, userID string) (*domain.UserPreferences, error) {
	var p domain.UserPreferences
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePreferences upserts the full preferences row for a user.
func SavePreferences(ctx context.Context, db *gorm.DB, p *domain.UserPreferences) error {
	return db.WithContext(ctx).Save(p).Error
}

// ClearExpiredDND lazily disables an elapsed do-not-disturb window. The
// conditional WHERE keeps the write atomic across concurrent resolvers; a
// lost race just means someone else already cleared it.
func ClearExpiredDND(ctx context.Context, db *gorm.DB, userID string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.UserPreferences{}).
		Where("user_id = ? AND dnd_enabled = ? AND dnd_until IS NOT NULL AND dnd_until <= ?",
			userID, true, now).
		Updates(map[string]any{"dnd_enabled": false, "dnd_until": nil}).Error
}

// GetProjectChannel returns the channel binding for a project, or nil when the
// project has no channel linked.
func GetProjectChannel(ctx context.Context, db *gorm.DB, projectID string) (*domain.ProjectChannel, error) {
	var ch domain.ProjectChannel
	err := db.WithContext(ctx).Where("project_id = ?", projectID).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// UpsertProjectChannel writes the channel binding for a project.
func UpsertProjectChannel(ctx context.Context, db *gorm.DB, ch *domain.ProjectChannel) error {
	return db.WithContext(ctx).Save(ch).Error
}

// DeleteProjectChannel removes a project's channel binding. Deleting a missing
// binding is not an error.
func DeleteProjectChannel(ctx context.Context, db *gorm.DB, projectID string) error {
	return db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Delete(&domain.ProjectChannel{}).Error
}
