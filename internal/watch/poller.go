package watch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/repo"
)

const defaultPollInterval = 5 * time.Second

// Poller tails the task and project tables by updated_at watermark and feeds
// every changed row into the Source, which decides whether the row is new,
// modified, or a replay. Deletions do not surface here; the write path
// reports them directly because a poll over surviving rows cannot see them.
type Poller struct {
	DB     *gorm.DB
	Source *Source
	Log    zerolog.Logger

	// Interval is the poll cadence. Zero means 5s.
	Interval time.Duration

	// Now injects the clock; nil means time.Now.
	Now func() time.Time

	watermark time.Time
	stop      chan struct{}
	done      chan struct{}
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return defaultPollInterval
}

// Start begins polling in the background. The first poll runs immediately so
// the Source's snapshot cache warms from the current table state. Call Stop
// to shut down.
func (p *Poller) Start(ctx context.Context) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := p.Poll(ctx); err != nil {
			p.Log.Error().Err(err).Msg("poll failed")
		}
		ticker := time.NewTicker(p.interval())
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Poll(ctx); err != nil {
					p.Log.Error().Err(err).Msg("poll failed")
				}
			}
		}
	}()

	p.Log.Info().Dur("interval", p.interval()).Msg("store poller started")
}

// Stop signals the loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.Log.Info().Msg("store poller stopped")
}

// Poll runs one sweep: every row updated since the last watermark is handed
// to the Source. Rows created since the watermark count as added, the rest
// as modified. The watermark only advances on success so a failed sweep is
// retried in full.
func (p *Poller) Poll(ctx context.Context) error {
	since := p.watermark
	next := p.now()

	tasks, err := repo.ListTasksChangedSince(ctx, p.DB, since)
	if err != nil {
		return err
	}
	for i := range tasks {
		t := tasks[i]
		kind := ChangeModified
		if t.CreatedAt.After(since) {
			kind = ChangeAdded
		}
		p.Source.HandleChange(ctx, Change{Kind: kind, Task: &t})
	}

	projects, err := repo.ListProjectsChangedSince(ctx, p.DB, since)
	if err != nil {
		return err
	}
	for i := range projects {
		pr := projects[i]
		kind := ChangeModified
		if pr.CreatedAt.After(since) {
			kind = ChangeAdded
		}
		p.Source.HandleChange(ctx, Change{Kind: kind, Project: &pr})
	}

	p.watermark = next
	return nil
}
