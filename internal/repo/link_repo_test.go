package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

func newLinkRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("link_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestGetActiveLink_Absent_ReturnsNilNil(t *testing.T) {
	db := newLinkRepoDB(t, &domain.IdentityLink{})

	link, err := GetActiveLink(context.Background(), db, "chat-1")
	if err != nil {
		t.Fatalf("GetActiveLink: %v", err)
	}
	if link != nil {
		t.Fatalf("expected nil link, got %+v", link)
	}
}

func TestUpsertActiveLink_ReplacesRowForChatUser(t *testing.T) {
	db := newLinkRepoDB(t, &domain.IdentityLink{})
	ctx := context.Background()

	first := &domain.IdentityLink{
		ChatUserID: "chat-1",
		AppUserID:  "app-1",
		AppEmail:   "a@example.com",
		LinkedAt:   time.Now().UTC(),
	}
	if err := UpsertActiveLink(db, first); err != nil {
		t.Fatalf("UpsertActiveLink: %v", err)
	}

	// Re-link the same chat identity to another app user.
	second := &domain.IdentityLink{
		ChatUserID: "chat-1",
		AppUserID:  "app-2",
		AppEmail:   "b@example.com",
		LinkedAt:   time.Now().UTC(),
	}
	if err := UpsertActiveLink(db, second); err != nil {
		t.Fatalf("UpsertActiveLink (relink): %v", err)
	}

	got, err := GetActiveLink(ctx, db, "chat-1")
	if err != nil {
		t.Fatalf("GetActiveLink: %v", err)
	}
	if got == nil || got.AppUserID != "app-2" {
		t.Fatalf("expected relink to app-2, got %+v", got)
	}

	var count int64
	if err := db.Model(&domain.IdentityLink{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single row per chat user, got %d", count)
	}
}

func TestDeactivateLinks_CountsAndGetForAppUser(t *testing.T) {
	db := newLinkRepoDB(t, &domain.IdentityLink{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := UpsertActiveLink(db, &domain.IdentityLink{
		ChatUserID: "chat-1", AppUserID: "app-1", AppEmail: "a@example.com", LinkedAt: now,
	}); err != nil {
		t.Fatalf("UpsertActiveLink: %v", err)
	}

	got, err := GetActiveLinkForAppUser(ctx, db, "app-1")
	if err != nil || got == nil || got.ChatUserID != "chat-1" {
		t.Fatalf("GetActiveLinkForAppUser = %+v, %v", got, err)
	}

	n, err := DeactivateLinks(ctx, db, "app-1", now)
	if err != nil {
		t.Fatalf("DeactivateLinks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deactivated, got %d", n)
	}

	// Row survives for the audit trail, but no longer resolves.
	got, err = GetActiveLinkForAppUser(ctx, db, "app-1")
	if err != nil {
		t.Fatalf("GetActiveLinkForAppUser after unlink: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no active link after unlink, got %+v", got)
	}

	// Second unlink is a no-op, not an error.
	n, err = DeactivateLinks(ctx, db, "app-1", now)
	if err != nil || n != 0 {
		t.Fatalf("second DeactivateLinks = %d, %v; want 0, nil", n, err)
	}
}

func TestConsumeLinkingCode_WinsExactlyOnce(t *testing.T) {
	db := newLinkRepoDB(t, &domain.LinkingCode{})
	ctx := context.Background()
	now := time.Now().UTC()

	lc := &domain.LinkingCode{
		Code:            "AB12CD",
		AppUserID:       "app-1",
		AppEmail:        "a@example.com",
		ChallengeNumber: 1234,
		Verified:        true,
		ExpiresAt:       now.Add(10 * time.Minute),
	}
	if err := CreateLinkingCode(ctx, db, lc); err != nil {
		t.Fatalf("CreateLinkingCode: %v", err)
	}

	won, err := ConsumeLinkingCode(db, "AB12CD", now)
	if err != nil {
		t.Fatalf("ConsumeLinkingCode: %v", err)
	}
	if !won {
		t.Fatalf("first consume should win")
	}

	won, err = ConsumeLinkingCode(db, "AB12CD", now)
	if err != nil {
		t.Fatalf("ConsumeLinkingCode (second): %v", err)
	}
	if won {
		t.Fatalf("second consume must lose")
	}

	got, err := GetLinkingCode(ctx, db, "AB12CD")
	if err != nil || got == nil {
		t.Fatalf("GetLinkingCode: %+v, %v", got, err)
	}
	if !got.Used || got.UsedAt == nil {
		t.Fatalf("expected used code with timestamp, got %+v", got)
	}
}

func TestMarkCodeVerified_Idempotent(t *testing.T) {
	db := newLinkRepoDB(t, &domain.LinkingCode{})
	ctx := context.Background()

	lc := &domain.LinkingCode{
		Code: "ZZ99XX", AppUserID: "app-1", AppEmail: "a@example.com",
		ChallengeNumber: 4321, ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := CreateLinkingCode(ctx, db, lc); err != nil {
		t.Fatalf("CreateLinkingCode: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := MarkCodeVerified(ctx, db, "ZZ99XX"); err != nil {
			t.Fatalf("MarkCodeVerified #%d: %v", i+1, err)
		}
	}

	got, _ := GetLinkingCode(ctx, db, "ZZ99XX")
	if got == nil || !got.Verified {
		t.Fatalf("expected verified code, got %+v", got)
	}
}

func TestPurgeExpiredCodes_DeletesOnlyExpired(t *testing.T) {
	db := newLinkRepoDB(t, &domain.LinkingCode{})
	ctx := context.Background()
	now := time.Now().UTC()

	old := &domain.LinkingCode{
		Code: "OLD111", AppUserID: "a", AppEmail: "a@x.com",
		ChallengeNumber: 1000, ExpiresAt: now.Add(-time.Minute),
	}
	fresh := &domain.LinkingCode{
		Code: "NEW222", AppUserID: "b", AppEmail: "b@x.com",
		ChallengeNumber: 2000, ExpiresAt: now.Add(time.Minute),
	}
	for _, lc := range []*domain.LinkingCode{old, fresh} {
		if err := CreateLinkingCode(ctx, db, lc); err != nil {
			t.Fatalf("CreateLinkingCode(%s): %v", lc.Code, err)
		}
	}

	n, err := PurgeExpiredCodes(ctx, db, now)
	if err != nil {
		t.Fatalf("PurgeExpiredCodes: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if got, _ := GetLinkingCode(ctx, db, "NEW222"); got == nil {
		t.Fatalf("fresh code must survive purge")
	}
	if got, _ := GetLinkingCode(ctx, db, "OLD111"); got != nil {
		t.Fatalf("expired code must be gone")
	}
}
