// Package services – Dispatcher
//
// This file implements the dispatch path: resolve the recipient through the
// identity map, gate through preferences, format the payload, send it over
// the webhook client, and record the outcome in the delivery log. Skips
// (no mapping, no channel, disabled by user) are expected outcomes, logged at
// info level; only an exhausted send is an error.
//
// Fan-out to many recipients runs concurrently under a semaphore so one slow
// or failing delivery never blocks the others.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avelis/go-tasker-notify/internal/cliq"
	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/repo"
)

// Dispatch skip and failure reasons, returned in DispatchResult.Reason.
const (
	ReasonNoMapping      = "no_mapping"
	ReasonNoChannel      = "no_channel"
	ReasonDisabledByUser = "disabled_by_user"
	ReasonDeliveryFailed = "delivery_failed"
	ReasonSent           = "sent"
)

var dispatchOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_dispatch_total",
		Help: "Dispatch outcomes by event type and reason.",
	},
	[]string{"event_type", "reason"},
)

func init() {
	prometheus.MustRegister(dispatchOutcomes)
}

// Sender abstracts the outbound webhook client so tests can fake delivery
// and other chat platforms can be plugged in.
type Sender interface {
	SendToUser(ctx context.Context, chatUserID, appUserID string, msg cliq.Message) error
	SendToChannel(ctx context.Context, channelName string, msg cliq.Message) error
}

// PayloadFormatter maps a classified event to a platform payload.
type PayloadFormatter interface {
	Format(ev domain.Event) cliq.Message
}

// DispatchResult reports one recipient's outcome. Sent=false with a skip
// reason is not an error.
type DispatchResult struct {
	Recipient string `json:"recipient"`
	Sent      bool   `json:"sent"`
	Reason    string `json:"reason"`
}

// Dispatcher turns approved events into outbound messages.
type Dispatcher struct {
	DB        *gorm.DB
	Prefs     *PreferenceService
	Sender    Sender
	Formatter PayloadFormatter
	Log       zerolog.Logger

	// MaxConcurrent bounds parallel sends during fan-out. Zero means 4.
	MaxConcurrent int

	// Now injects the clock; nil means time.Now.
	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NotifyUser delivers one event to one application user. The returned result
// distinguishes delivery from the expected skips; the error is non-nil only
// for storage failures or an exhausted send.
func (d *Dispatcher) NotifyUser(ctx context.Context, appUserID string, ev domain.Event) (DispatchResult, error) {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "NotifyUser",
		trace.WithAttributes(
			attribute.String("user.id", appUserID),
			attribute.String("event.type", string(ev.Type)),
		),
	)
	defer span.End()

	res := DispatchResult{Recipient: appUserID}

	link, err := repo.GetActiveLinkForAppUser(ctx, d.DB, appUserID)
	if err != nil {
		return res, err
	}
	if link == nil {
		res.Reason = ReasonNoMapping
		d.count(ev.Type, ReasonNoMapping)
		d.Log.Info().Str("user_id", appUserID).Str("event", string(ev.Type)).
			Msg("skipping notification: user not linked")
		return res, nil
	}

	allow, err := d.Prefs.Resolve(ctx, appUserID, ev.Type, eventProjectID(ev))
	if err != nil {
		return res, err
	}
	if !allow {
		res.Reason = ReasonDisabledByUser
		d.count(ev.Type, ReasonDisabledByUser)
		d.Log.Info().Str("user_id", appUserID).Str("event", string(ev.Type)).
			Msg("skipping notification: disabled by preferences")
		return res, nil
	}

	msg := d.Formatter.Format(ev)
	msg.NotificationType = string(ev.Type)

	if err := d.Sender.SendToUser(ctx, link.ChatUserID, appUserID, msg); err != nil {
		res.Reason = ReasonDeliveryFailed
		d.count(ev.Type, ReasonDeliveryFailed)
		d.Log.Error().Err(err).
			Str("user_id", appUserID).
			Str("chat_user_id", link.ChatUserID).
			Str("event", string(ev.Type)).
			Msg("notification delivery failed")
		return res, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if _, err := repo.AppendDelivery(ctx, d.DB, appUserID, ev.Type, msg.Text, d.now()); err != nil {
		// The message is out; a log write failure must not fail the dispatch.
		d.Log.Error().Err(err).Str("user_id", appUserID).Msg("delivery log write failed")
	}

	res.Sent = true
	res.Reason = ReasonSent
	d.count(ev.Type, ReasonSent)
	return res, nil
}

// NotifyProjectChannel announces an event to the chat channel bound to a
// project. Channel sends bypass user preferences: the binding is a team-level
// decision.
func (d *Dispatcher) NotifyProjectChannel(ctx context.Context, projectID string, ev domain.Event) (DispatchResult, error) {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "NotifyProjectChannel",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("event.type", string(ev.Type)),
		),
	)
	defer span.End()

	res := DispatchResult{Recipient: "project:" + projectID}

	ch, err := repo.GetProjectChannel(ctx, d.DB, projectID)
	if err != nil {
		return res, err
	}
	if ch == nil || ch.ChannelName == "" {
		res.Reason = ReasonNoChannel
		d.count(ev.Type, ReasonNoChannel)
		d.Log.Info().Str("project_id", projectID).Str("event", string(ev.Type)).
			Msg("skipping notification: no channel bound")
		return res, nil
	}

	msg := d.Formatter.Format(ev)
	msg.NotificationType = string(ev.Type)

	if err := d.Sender.SendToChannel(ctx, ch.ChannelName, msg); err != nil {
		res.Reason = ReasonDeliveryFailed
		d.count(ev.Type, ReasonDeliveryFailed)
		d.Log.Error().Err(err).
			Str("project_id", projectID).
			Str("channel", ch.ChannelName).
			Str("event", string(ev.Type)).
			Msg("channel delivery failed")
		return res, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if _, err := repo.AppendDelivery(ctx, d.DB, res.Recipient, ev.Type, msg.Text, d.now()); err != nil {
		d.Log.Error().Err(err).Str("project_id", projectID).Msg("delivery log write failed")
	}

	res.Sent = true
	res.Reason = ReasonSent
	d.count(ev.Type, ReasonSent)
	return res, nil
}

// FanOut delivers one event to many users concurrently, bounded by
// MaxConcurrent. Each recipient gets an independent outcome; one failure
// never blocks or fails the rest. Results are returned in input order.
func (d *Dispatcher) FanOut(ctx context.Context, userIDs []string, ev domain.Event) []DispatchResult {
	limit := d.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	results := make([]DispatchResult, len(userIDs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, uid := range userIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, uid string) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := d.NotifyUser(ctx, uid, ev)
			if err != nil && res.Reason == "" {
				res.Reason = ReasonDeliveryFailed
			}
			results[i] = res
		}(i, uid)
	}
	wg.Wait()
	return results
}

// NotifyTaskEvent runs the standard routing for a task event: every assignee
// except the actor gets a direct notification, and the owning project's
// channel gets an announcement of the same event. Callers that announce a
// different event type to the channel (the create path) fan out to assignees
// directly instead.
func (d *Dispatcher) NotifyTaskEvent(ctx context.Context, ev domain.Event, actorID string) []DispatchResult {
	if ev.Task == nil {
		return nil
	}
	recipients := make([]string, 0, len(ev.Task.Assignees))
	for _, uid := range ev.Task.Assignees {
		if uid == actorID {
			continue
		}
		recipients = append(recipients, uid)
	}

	results := d.FanOut(ctx, recipients, ev)

	if ev.Task.ProjectID != "" {
		res, err := d.NotifyProjectChannel(ctx, ev.Task.ProjectID, ev)
		if err != nil {
			d.Log.Warn().Err(err).Str("project_id", ev.Task.ProjectID).
				Msg("project channel notification failed")
		}
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) count(t domain.EventType, reason string) {
	dispatchOutcomes.WithLabelValues(string(t), reason).Inc()
}

// eventProjectID extracts the project scope of an event for the per-project
// preference override, if any.
func eventProjectID(ev domain.Event) string {
	if ev.Task != nil {
		return ev.Task.ProjectID
	}
	if ev.Project != nil {
		return ev.Project.ID
	}
	return ""
}
