package watch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

func newPollerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newScannerDB(t)
	if err := db.AutoMigrate(&domain.Project{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestPoll_ClassifiesNewVersusEditedRows(t *testing.T) {
	db := newPollerDB(t)
	sink := &fakeSink{}
	current := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	src := &Source{Sink: sink, Log: zerolog.Nop(), Now: clock}
	p := &Poller{DB: db, Source: src, Log: zerolog.Nop(), Now: clock}
	ctx := context.Background()

	// Pre-existing row: the first poll delivers it as added, but its creation
	// timestamp is old so the source stays silent and just warms its cache.
	seedTask(t, db, domain.Task{
		ID: "t-old", Title: "old", Status: domain.TaskStatusPending,
		CreatedAt: current.Add(-time.Hour), UpdatedAt: current.Add(-time.Hour),
	})
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if calls := sink.snapshot(); len(calls) != 0 {
		t.Fatalf("warm-up poll must be silent, got %+v", calls)
	}

	// A brand-new row after the watermark dispatches as a creation.
	current = current.Add(time.Minute)
	seedTask(t, db, domain.Task{
		ID: "t-new", ProjectID: "p1", Title: "new", Status: domain.TaskStatusPending,
		CreatedBy: "creator", Assignees: []string{"u1"},
		CreatedAt: current, UpdatedAt: current,
	})
	current = current.Add(time.Second)
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll #2: %v", err)
	}
	calls := sink.snapshot()
	if len(calls) != 2 || calls[0].ev.Type != domain.EventTaskAssigned || calls[1].ev.Type != domain.EventTaskCreated {
		t.Fatalf("new row must dispatch as creation, got %+v", calls)
	}

	// Editing the old row after the watermark dispatches as an update.
	current = current.Add(time.Minute)
	if err := db.Model(&domain.Task{}).Where("id = ?", "t-old").
		Updates(map[string]any{"title": "renamed", "updated_at": current}).Error; err != nil {
		t.Fatalf("edit row: %v", err)
	}
	current = current.Add(time.Second)
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll #3: %v", err)
	}
	calls = sink.snapshot()
	last := calls[len(calls)-1]
	if last.ev.Type != domain.EventTaskUpdated {
		t.Fatalf("edited row must dispatch as update, got %+v", last)
	}
}

func TestPoll_WatermarkHoldsOnUntouchedTables(t *testing.T) {
	db := newPollerDB(t)
	sink := &fakeSink{}
	current := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	src := &Source{Sink: sink, Log: zerolog.Nop(), Now: clock}
	p := &Poller{DB: db, Source: src, Log: zerolog.Nop(), Now: clock}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		current = current.Add(time.Second)
		if err := p.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if calls := sink.snapshot(); len(calls) != 0 {
		t.Fatalf("polling an unchanged store must be silent, got %+v", calls)
	}
}
