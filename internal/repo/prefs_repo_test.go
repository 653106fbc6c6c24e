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

func newPrefsRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("prefs_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.UserPreferences{}, &domain.ProjectChannel{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetPreferences_AbsentIsNilNil(t *testing.T) {
	db := newPrefsRepoDB(t)

	p, err := GetPreferences(context.Background(), db, "u1")
	if err != nil || p != nil {
		t.Fatalf("GetPreferences(absent) = %+v, %v; want nil, nil", p, err)
	}
}

func TestSavePreferences_RoundTripsOverrides(t *testing.T) {
	db := newPrefsRepoDB(t)
	ctx := context.Background()

	p := domain.DefaultPreferences("u1")
	p.TaskDueSoon = false
	mutedAt := time.Now().UTC().Truncate(time.Second)
	p.ProjectOverrides = map[string]domain.ProjectOverride{
		"proj-1": {Enabled: false, MutedAt: &mutedAt},
	}
	if err := SavePreferences(ctx, db, &p); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	got, err := GetPreferences(ctx, db, "u1")
	if err != nil || got == nil {
		t.Fatalf("GetPreferences: %+v, %v", got, err)
	}
	if got.TaskDueSoon {
		t.Fatalf("task_due_soon override lost: %+v", got)
	}
	ov, okOv := got.ProjectOverrides["proj-1"]
	if !okOv || ov.Enabled {
		t.Fatalf("project override lost: %+v", got.ProjectOverrides)
	}
}

func TestClearExpiredDND_OnlyClearsElapsed(t *testing.T) {
	db := newPrefsRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := domain.DefaultPreferences("u-expired")
	past := now.Add(-time.Minute)
	expired.DNDEnabled = true
	expired.DNDUntil = &past
	if err := SavePreferences(ctx, db, &expired); err != nil {
		t.Fatalf("SavePreferences (expired): %v", err)
	}

	active := domain.DefaultPreferences("u-active")
	future := now.Add(time.Hour)
	active.DNDEnabled = true
	active.DNDUntil = &future
	if err := SavePreferences(ctx, db, &active); err != nil {
		t.Fatalf("SavePreferences (active): %v", err)
	}

	indefinite := domain.DefaultPreferences("u-indefinite")
	indefinite.DNDEnabled = true
	if err := SavePreferences(ctx, db, &indefinite); err != nil {
		t.Fatalf("SavePreferences (indefinite): %v", err)
	}

	for _, uid := range []string{"u-expired", "u-active", "u-indefinite"} {
		if err := ClearExpiredDND(ctx, db, uid, now); err != nil {
			t.Fatalf("ClearExpiredDND(%s): %v", uid, err)
		}
	}

	got, _ := GetPreferences(ctx, db, "u-expired")
	if got.DNDEnabled || got.DNDUntil != nil {
		t.Fatalf("expired DND should clear, got %+v", got)
	}
	got, _ = GetPreferences(ctx, db, "u-active")
	if !got.DNDEnabled {
		t.Fatalf("active DND must survive")
	}
	got, _ = GetPreferences(ctx, db, "u-indefinite")
	if !got.DNDEnabled {
		t.Fatalf("indefinite DND must survive")
	}
}

func TestProjectChannel_UpsertGetDelete(t *testing.T) {
	db := newPrefsRepoDB(t)
	ctx := context.Background()

	ch, err := GetProjectChannel(ctx, db, "proj-1")
	if err != nil || ch != nil {
		t.Fatalf("GetProjectChannel(absent) = %+v, %v; want nil, nil", ch, err)
	}

	if err := UpsertProjectChannel(ctx, db, &domain.ProjectChannel{
		ProjectID: "proj-1", ChannelName: "team-alpha", LinkedBy: "u1",
	}); err != nil {
		t.Fatalf("UpsertProjectChannel: %v", err)
	}

	// Re-binding replaces the channel.
	if err := UpsertProjectChannel(ctx, db, &domain.ProjectChannel{
		ProjectID: "proj-1", ChannelName: "team-beta", LinkedBy: "u2",
	}); err != nil {
		t.Fatalf("UpsertProjectChannel (rebind): %v", err)
	}

	ch, err = GetProjectChannel(ctx, db, "proj-1")
	if err != nil || ch == nil || ch.ChannelName != "team-beta" {
		t.Fatalf("GetProjectChannel = %+v, %v; want team-beta", ch, err)
	}

	if err := DeleteProjectChannel(ctx, db, "proj-1"); err != nil {
		t.Fatalf("DeleteProjectChannel: %v", err)
	}
	ch, _ = GetProjectChannel(ctx, db, "proj-1")
	if ch != nil {
		t.Fatalf("binding should be gone, got %+v", ch)
	}

	// Deleting again is a no-op.
	if err := DeleteProjectChannel(ctx, db, "proj-1"); err != nil {
		t.Fatalf("second DeleteProjectChannel: %v", err)
	}
}
