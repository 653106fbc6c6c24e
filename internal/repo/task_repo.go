// Package repo implements the data persistence layer for the notification
// backend, backed by GORM. This file provides the read and guard-field
// operations the change poller and the scheduled scanners run against the
// task and project stores. The CRUD layer owns these records; nothing here
// mutates them except the two notification-guard columns, and those only via
// conditional writes so concurrent scanner instances race safely.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

// GetTask fetches a task by ID, or nil when it does not exist.
func GetTask(ctx context.Context, db *gorm.DB, id string) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetProject fetches a project by ID, or nil when it does not exist.
func GetProject(ctx context.Context, db *gorm.DB, id string) (*domain.Project, error) {
	var p domain.Project
	err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListTasksChangedSince returns tasks created or updated after the watermark,
// oldest first, for the change poller.
func ListTasksChangedSince(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.Task, error) {
	var out []domain.Task
	err := db.WithContext(ctx).
		Where("updated_at > ?", since).
		Order("updated_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListProjectsChangedSince returns projects created or updated after the
// watermark, oldest first.
func ListProjectsChangedSince(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.Project, error) {
	var out []domain.Project
	err := db.WithContext(ctx).
		Where("updated_at > ?", since).
		Order("updated_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListOverdueTasks returns non-completed tasks whose due date lies before the
// start of the current day.
func ListOverdueTasks(ctx context.Context, db *gorm.DB, startOfDay time.Time) ([]domain.Task, error) {
	var out []domain.Task
	err := db.WithContext(ctx).
		Where("status <> ? AND due_date IS NOT NULL AND due_date < ?",
			domain.TaskStatusCompleted, startOfDay).
		Order("due_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListDueSoonTasks returns non-completed tasks whose due date falls inside
// (now, until].
func ListDueSoonTasks(ctx context.Context, db *gorm.DB, now, until time.Time) ([]domain.Task, error) {
	var out []domain.Task
	err := db.WithContext(ctx).
		Where("status <> ? AND due_date IS NOT NULL AND due_date >= ? AND due_date <= ?",
			domain.TaskStatusCompleted, now, until).
		Order("due_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ClaimOverdueNotification attempts to stamp today's overdue notification on
// a task. The conditional write succeeds at most once per calendar day per
// task, no matter how many scanner instances sweep concurrently: the guard is
// "no stamp yet, or stamped before the start of today". Returns whether this
// caller won the claim.
func ClaimOverdueNotification(ctx context.Context, db *gorm.DB, taskID string, now, startOfDay time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND (overdue_notified_at IS NULL OR overdue_notified_at < ?)",
			taskID, startOfDay).
		Update("overdue_notified_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimDueSoonNotification attempts to record that a due-soon notification was
// sent for the task's current due date. Storing the due date itself, rather
// than a boolean, makes the guard self-re-arming: moving the deadline changes
// the comparison value and the next sweep claims again. Returns whether this
// caller won the claim.
func ClaimDueSoonNotification(ctx context.Context, db *gorm.DB, taskID string, dueDate time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND (due_soon_notified_for IS NULL OR due_soon_notified_for <> ?)",
			taskID, dueDate).
		Update("due_soon_notified_for", dueDate)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
