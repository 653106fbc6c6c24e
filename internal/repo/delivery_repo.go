// Package repo implements the data persistence layer for the notification
// backend, backed by GORM. This file provides the append-only delivery log
// and its cursor-paginated read surface.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

// AppendDelivery inserts one delivery record. Rows are never updated after
// insert.
func AppendDelivery(ctx context.Context, db *gorm.DB, recipientID string, eventType domain.EventType, summary string, sentAt time.Time) (*domain.DeliveryLog, error) {
	entry := &domain.DeliveryLog{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		EventType:   string(eventType),
		Summary:     summary,
		SentAt:      sentAt.UTC(),
	}
	return entry, db.WithContext(ctx).Create(entry).Error
}

// ListDeliveriesPage returns up to limit deliveries for a recipient, newest
// first. afterID is an opaque cursor naming the last record of the previous
// page; pass "" for the first page. The (SentAt, ID) pair orders rows
// deterministically even when timestamps collide.
func ListDeliveriesPage(ctx context.Context, db *gorm.DB, recipientID, afterID string, limit int) ([]domain.DeliveryLog, error) {
	if limit <= 0 {
		limit = 20
	}
	q := db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("sent_at DESC, id DESC").
		Limit(limit)

	if afterID != "" {
		var after domain.DeliveryLog
		err := db.WithContext(ctx).Where("id = ?", afterID).First(&after).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Stale cursor: treat as first page rather than failing the read.
			err = nil
		} else if err != nil {
			return nil, err
		} else {
			q = q.Where("sent_at < ? OR (sent_at = ? AND id < ?)",
				after.SentAt, after.SentAt, after.ID)
		}
	}

	var out []domain.DeliveryLog
	err := q.Find(&out).Error
	return out, err
}

// CountDeliveries returns the total number of deliveries logged for a
// recipient.
func CountDeliveries(ctx context.Context, db *gorm.DB, recipientID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.DeliveryLog{}).
		Where("recipient_id = ?", recipientID).
		Count(&total).Error
	return total, err
}
