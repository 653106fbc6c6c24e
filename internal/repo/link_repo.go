// Package repo implements the data persistence layer for the notification
// backend, backed by GORM. This file provides repository functions for
// identity links and linking codes.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

// GetActiveLink returns the active identity link for a chat user, or nil when
// the chat user has never linked or has unlinked. Absence is an expected
// outcome for the dispatcher, not an error.
func GetActiveLink(ctx context.Context, db *gorm.DB, chatUserID string) (*domain.IdentityLink, error) {
	var link domain.IdentityLink
	err := db.WithContext(ctx).
		Where("chat_user_id = ? AND is_active = ?", chatUserID, true).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetActiveLinkForAppUser returns the active link pointing at an application
// user, or nil when none exists. At most one row can match thanks to the
// partial unique index, but callers must tolerate zero.
func GetActiveLinkForAppUser(ctx context.Context, db *gorm.DB, appUserID string) (*domain.IdentityLink, error) {
	var link domain.IdentityLink
	err := db.WithContext(ctx).
		Where("app_user_id = ? AND is_active = ?", appUserID, true).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// UpsertActiveLink writes an active link row keyed by chat user, replacing any
// previous row for that chat identity. Meant to run inside the consume
// transaction so the code and the link commit together.
func UpsertActiveLink(tx *gorm.DB, link *domain.IdentityLink) error {
	link.IsActive = true
	link.UnlinkedAt = nil
	return tx.Save(link).Error
}

// DeactivateLinks marks every active link of an application user inactive and
// timestamps the deactivation. Returns how many rows changed; zero means there
// was nothing to do, which is a success for unlink.
func DeactivateLinks(ctx context.Context, db *gorm.DB, appUserID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.IdentityLink{}).
		Where("app_user_id = ? AND is_active = ?", appUserID, true).
		Updates(map[string]any{"is_active": false, "unlinked_at": now})
	return res.RowsAffected, res.Error
}

// CreateLinkingCode inserts a fresh code row. A primary-key conflict surfaces
// as an error so the caller can regenerate on the (negligible) collision.
func CreateLinkingCode(ctx context.Context, db *gorm.DB, code *domain.LinkingCode) error {
	return db.WithContext(ctx).Create(code).Error
}

// GetLinkingCode fetches a code row by its 6-character key, or nil when
// unknown.
func GetLinkingCode(ctx context.Context, db *gorm.DB, code string) (*domain.LinkingCode, error) {
	var lc domain.LinkingCode
	err := db.WithContext(ctx).Where("code = ?", code).First(&lc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lc, nil
}

// MarkCodeVerified sets verified=true. Idempotent: re-verifying an already
// verified code is a no-op.
func MarkCodeVerified(ctx context.Context, db *gorm.DB, code string) error {
	return db.WithContext(ctx).Model(&domain.LinkingCode{}).
		Where("code = ?", code).
		Update("verified", true).Error
}

// ConsumeLinkingCode flips used=false→true with a conditional write and
// reports whether this caller won the flip. Running inside the same
// transaction as UpsertActiveLink guarantees a crash cannot leave the code
// consumed without its link, or the reverse.
func ConsumeLinkingCode(tx *gorm.DB, code string, now time.Time) (bool, error) {
	res := tx.Model(&domain.LinkingCode{}).
		Where("code = ? AND used = ?", code, false).
		Updates(map[string]any{"used": true, "used_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PurgeExpiredCodes deletes codes past their TTL. Expired codes are inert
// either way; purging keeps the table small.
func PurgeExpiredCodes(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&domain.LinkingCode{})
	return res.RowsAffected, res.Error
}
