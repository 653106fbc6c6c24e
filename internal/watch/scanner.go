package watch

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/repo"
)

// Scanner default intervals.
const (
	defaultOverdueInterval = 24 * time.Hour
	defaultDueSoonInterval = time.Hour
	defaultDueSoonWindow   = 24 * time.Hour
)

// Scanner runs the time-driven sweeps: overdue tasks once per interval and
// due-soon tasks on a tighter cadence. Both sweeps claim a per-task guard
// column before dispatching, so concurrent or restarted scanners never
// double-notify — losing the claim means another pass already owns the task.
type Scanner struct {
	DB   *gorm.DB
	Sink EventSink
	Log  zerolog.Logger

	// OverdueInterval is the overdue sweep cadence. Zero means daily.
	OverdueInterval time.Duration
	// DueSoonInterval is the due-soon sweep cadence. Zero means hourly.
	DueSoonInterval time.Duration
	// DueSoonWindow is how far ahead the due-soon sweep looks. Zero means 24h.
	DueSoonWindow time.Duration

	// Now injects the clock; nil means time.Now.
	Now func() time.Time

	stop chan struct{}
	done chan struct{}
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scanner) overdueInterval() time.Duration {
	if s.OverdueInterval > 0 {
		return s.OverdueInterval
	}
	return defaultOverdueInterval
}

func (s *Scanner) dueSoonInterval() time.Duration {
	if s.DueSoonInterval > 0 {
		return s.DueSoonInterval
	}
	return defaultDueSoonInterval
}

func (s *Scanner) dueSoonWindow() time.Duration {
	if s.DueSoonWindow > 0 {
		return s.DueSoonWindow
	}
	return defaultDueSoonWindow
}

// Start launches both sweep loops in the background. Each loop runs one
// sweep immediately, then on its ticker. Call Stop to shut down.
func (s *Scanner) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{}, 2)

	go s.loop(ctx, s.overdueInterval(), s.CheckOverdueTasks)
	go s.loop(ctx, s.dueSoonInterval(), s.CheckDueSoonTasks)

	s.Log.Info().
		Dur("overdue_interval", s.overdueInterval()).
		Dur("due_soon_interval", s.dueSoonInterval()).
		Msg("scanners started")
}

// Stop signals both loops and waits for them to exit.
func (s *Scanner) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	<-s.done
	s.Log.Info().Msg("scanners stopped")
}

func (s *Scanner) loop(ctx context.Context, interval time.Duration, sweep func(context.Context) error) {
	defer func() { s.done <- struct{}{} }()

	if err := sweep(ctx); err != nil {
		s.Log.Error().Err(err).Msg("sweep failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				s.Log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// CheckOverdueTasks notifies assignees of every open task whose due date has
// passed, at most once per calendar day per task.
func (s *Scanner) CheckOverdueTasks(ctx context.Context) error {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	tasks, err := repo.ListOverdueTasks(ctx, s.DB, startOfDay)
	if err != nil {
		return err
	}

	notified := 0
	for i := range tasks {
		t := tasks[i]
		won, err := repo.ClaimOverdueNotification(ctx, s.DB, t.ID, now, startOfDay)
		if err != nil {
			s.Log.Error().Err(err).Str("task_id", t.ID).Msg("overdue claim failed")
			continue
		}
		if !won {
			continue
		}
		ev := domain.Event{
			Type:        domain.EventTaskOverdue,
			Task:        &t,
			DaysOverdue: daysOverdue(*t.DueDate, startOfDay),
			OccurredAt:  now,
		}
		s.Sink.FanOut(ctx, t.Assignees, ev)
		notified++
	}
	if notified > 0 {
		s.Log.Info().Int("tasks", notified).Msg("overdue reminders sent")
	}
	return nil
}

// CheckDueSoonTasks notifies assignees of open tasks due within the window,
// once per distinct due date. Moving a deadline re-arms the reminder because
// the guard stores the due date it fired for.
func (s *Scanner) CheckDueSoonTasks(ctx context.Context) error {
	now := s.now()
	until := now.Add(s.dueSoonWindow())

	tasks, err := repo.ListDueSoonTasks(ctx, s.DB, now, until)
	if err != nil {
		return err
	}

	notified := 0
	for i := range tasks {
		t := tasks[i]
		won, err := repo.ClaimDueSoonNotification(ctx, s.DB, t.ID, *t.DueDate)
		if err != nil {
			s.Log.Error().Err(err).Str("task_id", t.ID).Msg("due-soon claim failed")
			continue
		}
		if !won {
			continue
		}
		ev := domain.Event{
			Type:          domain.EventTaskDueSoon,
			Task:          &t,
			HoursUntilDue: hoursUntil(now, *t.DueDate),
			OccurredAt:    now,
		}
		s.Sink.FanOut(ctx, t.Assignees, ev)
		notified++
	}
	if notified > 0 {
		s.Log.Info().Int("tasks", notified).Msg("due-soon reminders sent")
	}
	return nil
}

// daysOverdue counts whole calendar days between the due date's day and
// today. A task due any time yesterday is one day overdue all of today.
func daysOverdue(due, startOfDay time.Time) int {
	dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, startOfDay.Location())
	d := int(startOfDay.Sub(dueDay).Hours() / 24)
	if d < 1 {
		d = 1
	}
	return d
}

// hoursUntil rounds the remaining time to the nearest hour, never below one.
func hoursUntil(now, due time.Time) int {
	h := int(math.Round(due.Sub(now).Hours()))
	if h < 1 {
		h = 1
	}
	return h
}
