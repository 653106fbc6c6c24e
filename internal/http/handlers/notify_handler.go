// Notification HTTP handlers.
//
// This file exposes the ingest and introspection endpoints of the dispatch
// pipeline:
//   - POST   /events                      (synchronous event ingest)
//   - PUT    /projects/{id}/channel       (bind a project to a chat channel)
//   - DELETE /projects/{id}/channel       (remove the binding)
//   - GET    /users/{id}/deliveries       (delivery history, cursor-paginated)
//
// The /events endpoint exists for changes the store poller cannot observe:
// deletions, comments, membership changes, and invites are reported here
// synchronously by the task application's write path.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/repo"
	"github.com/avelis/go-tasker-notify/internal/services"
	"github.com/avelis/go-tasker-notify/internal/utils"
)

//
// DTOs
//

// IngestEventRequest is the JSON payload for reporting one state change.
// Exactly one of Task or Project must be set. Recipients overrides the
// default routing when present.
type IngestEventRequest struct {
	Type           string          `json:"type" binding:"required"`
	Task           *domain.Task    `json:"task,omitempty"`
	Project        *domain.Project `json:"project,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	ActorName      string          `json:"actor_name,omitempty"`
	Recipients     []string        `json:"recipients,omitempty"`
	ChangedFields  []string        `json:"changed_fields,omitempty"`
	Role           string          `json:"role,omitempty"`
	MemberName     string          `json:"member_name,omitempty"`
	CommentPreview string          `json:"comment_preview,omitempty"`
}

// IngestEventResponse reports the per-recipient dispatch outcomes.
type IngestEventResponse struct {
	Results []services.DispatchResult `json:"results"`
}

// BindChannelRequest is the JSON payload for linking a project to a channel.
type BindChannelRequest struct {
	ChannelName string `json:"channel_name" binding:"required"`
	ChannelID   string `json:"channel_id"`
	LinkedBy    string `json:"linked_by"`
}

// DeliveriesResponse wraps a page of delivery records with the cursor for
// the next page. NextAfterID is empty on the last page.
type DeliveriesResponse struct {
	Deliveries  []domain.DeliveryLog `json:"deliveries"`
	Total       int64                `json:"total"`
	NextAfterID string               `json:"next_after_id,omitempty"`
}

//
// Handlers
//

// IngestEvent accepts one state change and dispatches the notifications it
// implies. With explicit recipients the event fans out to exactly those
// users; otherwise task events route to assignees plus the project channel,
// and project events route to the project channel.
func (h *Handlers) IngestEvent(c *gin.Context) {
	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	et := domain.EventType(strings.TrimSpace(req.Type))
	if !et.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown event type")
		return
	}
	if req.Task == nil && req.Project == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "task or project required")
		return
	}

	ev := domain.Event{
		Type:           et,
		Task:           req.Task,
		Project:        req.Project,
		ActorName:      req.ActorName,
		ChangedFields:  req.ChangedFields,
		Role:           req.Role,
		MemberName:     req.MemberName,
		CommentPreview: req.CommentPreview,
		OccurredAt:     time.Now(),
	}

	ctx := c.Request.Context()
	var results []services.DispatchResult
	switch {
	case len(req.Recipients) > 0:
		results = h.sink.FanOut(ctx, req.Recipients, ev)
	case ev.Task != nil:
		results = h.sink.NotifyTaskEvent(ctx, ev, req.ActorID)
	default:
		res, err := h.sink.NotifyProjectChannel(ctx, ev.Project.ID, ev)
		if err != nil {
			fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, err.Error())
			return
		}
		results = []services.DispatchResult{res}
	}

	ok(c, http.StatusOK, IngestEventResponse{Results: results})
}

// BindProjectChannel links a project to a chat channel so project events are
// announced to the whole team. Re-binding replaces the previous channel.
func (h *Handlers) BindProjectChannel(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))
	if projectID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "project id required")
		return
	}

	var req BindChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel_name required")
		return
	}

	binding := &domain.ProjectChannel{
		ProjectID:   projectID,
		ChannelName: strings.TrimSpace(req.ChannelName),
		ChannelID:   req.ChannelID,
		LinkedBy:    req.LinkedBy,
	}
	if err := repo.UpsertProjectChannel(c.Request.Context(), h.db, binding); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, binding)
}

// UnbindProjectChannel removes a project's channel binding. Idempotent.
func (h *Handlers) UnbindProjectChannel(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))
	if projectID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "project id required")
		return
	}

	if err := repo.DeleteProjectChannel(c.Request.Context(), h.db, projectID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ListDeliveries returns a user's delivery history, newest first, paginated
// by opaque after_id cursor. A stale cursor falls back to the first page.
func (h *Handlers) ListDeliveries(c *gin.Context) {
	uid, okID := pathUserID(c)
	if !okID {
		return
	}

	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	limit := utils.ClampLimit(utils.AtoiDefault(c.Query("limit"), defaultLimit), defaultLimit, maxLimit)
	afterID := c.Query("after_id")

	ctx := c.Request.Context()
	items, err := repo.ListDeliveriesPage(ctx, h.db, uid, afterID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	total, err := repo.CountDeliveries(ctx, h.db, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := DeliveriesResponse{Deliveries: items, Total: total}
	if len(items) == limit {
		resp.NextAfterID = items[len(items)-1].ID
	}
	ok(c, http.StatusOK, resp)
}
