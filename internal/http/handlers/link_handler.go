// Identity linking HTTP handlers.
//
// This file exposes the REST endpoints for the linking protocol that binds a
// chat-platform identity to an application identity:
//   - POST   /link/code                  (issue a linking code, app side)
//   - POST   /link/code/{code}/verify    (confirm the challenge, app side)
//   - GET    /link/code/{code}           (probe code state, chat side)
//   - POST   /link                       (consume the code, chat side)
//   - GET    /link/{app_user_id}         (inspect the active link)
//   - DELETE /link/{app_user_id}         (sever the link)
//
// Handlers are transport-thin: they validate input, delegate to application
// services, and translate domain/service errors into HTTP results.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/repo"
	"github.com/avelis/go-tasker-notify/internal/services"
)

//
// Service contracts (context-aware)
//

// LinkService defines the linking-protocol operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type LinkService interface {
	// GenerateCode issues a fresh single-use code for an app user.
	GenerateCode(ctx context.Context, appUserID, appEmail string) (*domain.LinkingCode, error)
	// VerifyChallenge confirms the 4-digit challenge inside the app session.
	VerifyChallenge(ctx context.Context, code string, challenge int, appUserID string) error
	// Status reports a code's verified/used/expired state.
	Status(ctx context.Context, code string) (*services.CodeStatus, error)
	// LinkWithCode consumes a verified code and activates the identity link.
	LinkWithCode(ctx context.Context, code, chatUserID, chatUserName, chatEmail string) (*domain.IdentityLink, error)
	// Unlink deactivates every active link for the app user.
	Unlink(ctx context.Context, appUserID string) (int64, error)
	// Lookup resolves the active link for a chat identity.
	Lookup(ctx context.Context, chatUserID string) (*domain.IdentityLink, error)
}

// PrefService defines the preference operations consumed by HTTP handlers.
type PrefService interface {
	Get(ctx context.Context, userID string) (domain.UserPreferences, bool, error)
	Update(ctx context.Context, userID string, patch services.SettingsPatch) (domain.UserPreferences, error)
	MuteProject(ctx context.Context, userID, projectID string, muted bool) (domain.UserPreferences, error)
	SetDoNotDisturb(ctx context.Context, userID string, enabled bool, durationHours int) (domain.UserPreferences, error)
}

// NotifySink defines the dispatch operations consumed by HTTP handlers.
type NotifySink interface {
	NotifyUser(ctx context.Context, appUserID string, ev domain.Event) (services.DispatchResult, error)
	NotifyProjectChannel(ctx context.Context, projectID string, ev domain.Event) (services.DispatchResult, error)
	NotifyTaskEvent(ctx context.Context, ev domain.Event, actorID string) []services.DispatchResult
	FanOut(ctx context.Context, userIDs []string, ev domain.Event) []services.DispatchResult
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for linking, preferences, and dispatch.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic. DB is used read-only for delivery history
// and channel bindings.
type Handlers struct {
	linkSvc LinkService
	prefSvc PrefService
	sink    NotifySink
	db      *gorm.DB
}

// New constructs and returns a Handlers instance bound to the given services.
func New(linkSvc LinkService, prefSvc PrefService, sink NotifySink, db *gorm.DB) *Handlers {
	return &Handlers{linkSvc: linkSvc, prefSvc: prefSvc, sink: sink, db: db}
}

//
// DTOs
//

// GenerateCodeRequest is the JSON payload for issuing a linking code.
type GenerateCodeRequest struct {
	AppUserID string `json:"app_user_id" binding:"required"`
	AppEmail  string `json:"app_email" binding:"required,email"`
}

// GenerateCodeResponse returns the issued code and its challenge number.
// The challenge is shown in the chat platform and must be confirmed inside
// the authenticated app session.
type GenerateCodeResponse struct {
	Code            string `json:"code"`
	ChallengeNumber int    `json:"challenge_number"`
	ExpiresAt       string `json:"expires_at"`
}

// VerifyChallengeRequest is the JSON payload for confirming a challenge.
type VerifyChallengeRequest struct {
	AppUserID string `json:"app_user_id" binding:"required"`
	Challenge int    `json:"challenge" binding:"required"`
}

// LinkRequest is the JSON payload for consuming a code from the chat side.
type LinkRequest struct {
	Code         string `json:"code" binding:"required"`
	ChatUserID   string `json:"chat_user_id" binding:"required"`
	ChatUserName string `json:"chat_user_name"`
	ChatEmail    string `json:"chat_email"`
}

//
// Handlers
//

// GenerateLinkCode issues a fresh linking code for an authenticated app user.
func (h *Handlers) GenerateLinkCode(c *gin.Context) {
	var req GenerateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "app_user_id and app_email are required")
		return
	}

	lc, err := h.linkSvc.GenerateCode(c.Request.Context(), req.AppUserID, req.AppEmail)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusCreated, GenerateCodeResponse{
		Code:            lc.Code,
		ChallengeNumber: lc.ChallengeNumber,
		ExpiresAt:       lc.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// VerifyLinkChallenge confirms the 4-digit challenge for a pending code.
// Idempotent: re-verifying an already verified code succeeds.
func (h *Handlers) VerifyLinkChallenge(c *gin.Context) {
	code := c.Param("code")

	var req VerifyChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "app_user_id and challenge are required")
		return
	}

	err := h.linkSvc.VerifyChallenge(c.Request.Context(), code, req.Challenge, req.AppUserID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCodeNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "linking code not found")
		case errors.Is(err, services.ErrNotCodeOwner):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "code belongs to a different user")
		case errors.Is(err, services.ErrCodeExpired):
			fail(c, http.StatusGone, ErrCodeExpired, "linking code expired")
		case errors.Is(err, services.ErrCodeUsed):
			fail(c, http.StatusConflict, ErrCodeUsed, "linking code already used")
		case errors.Is(err, services.ErrChallengeMismatch):
			fail(c, http.StatusBadRequest, ErrCodeChallengeMismatch, "challenge number does not match")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	noContent(c)
}

// LinkCodeStatus reports a code's verified/used/expired state. The chat side
// polls this while waiting for the user to confirm the challenge in the app.
func (h *Handlers) LinkCodeStatus(c *gin.Context) {
	st, err := h.linkSvc.Status(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, services.ErrCodeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "linking code not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

// Link consumes a verified code and activates the identity link. The code is
// burned exactly once even under concurrent attempts.
func (h *Handlers) Link(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code and chat_user_id are required")
		return
	}

	link, err := h.linkSvc.LinkWithCode(c.Request.Context(), req.Code, req.ChatUserID, req.ChatUserName, req.ChatEmail)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCodeNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "linking code not found")
		case errors.Is(err, services.ErrCodeExpired):
			fail(c, http.StatusGone, ErrCodeExpired, "linking code expired")
		case errors.Is(err, services.ErrCodeUsed):
			fail(c, http.StatusConflict, ErrCodeUsed, "linking code already used")
		case errors.Is(err, services.ErrCodeNotVerified):
			fail(c, http.StatusPreconditionFailed, ErrCodeNotVerified, "challenge not confirmed yet")
		case errors.Is(err, services.ErrAlreadyLinked):
			fail(c, http.StatusConflict, ErrCodeAlreadyLinked, "chat identity already linked to this account")
		case errors.Is(err, services.ErrInvalidInput):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, link)
}

// GetLink returns the active identity link for an app user, if any.
func (h *Handlers) GetLink(c *gin.Context) {
	appUserID := strings.TrimSpace(c.Param("app_user_id"))
	if appUserID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "app_user_id required")
		return
	}

	link, err := repo.GetActiveLinkForAppUser(c.Request.Context(), h.db, appUserID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if link == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no active link for this user")
		return
	}
	ok(c, http.StatusOK, link)
}

// Unlink deactivates every active link for the app user. Idempotent; the
// response reports how many links were severed.
func (h *Handlers) Unlink(c *gin.Context) {
	appUserID := strings.TrimSpace(c.Param("app_user_id"))
	if appUserID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "app_user_id required")
		return
	}

	n, err := h.linkSvc.Unlink(c.Request.Context(), appUserID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"removed": n})
}
