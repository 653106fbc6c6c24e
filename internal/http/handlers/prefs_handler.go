// Preference HTTP handlers.
//
// This file exposes the REST endpoints for per-user notification settings:
//   - GET    /users/{id}/preferences                       (read, with defaults)
//   - PATCH  /users/{id}/preferences                       (partial update)
//   - PUT    /users/{id}/preferences/projects/{project_id} (mute/unmute a project)
//   - PUT    /users/{id}/dnd                               (do-not-disturb)
//
// Handlers are transport-thin: they validate input, delegate to the
// preference service, and return the resolved settings so clients always see
// the effective state after a write.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avelis/go-tasker-notify/internal/services"
)

// MuteProjectRequest is the JSON payload for muting or unmuting one project.
type MuteProjectRequest struct {
	Muted bool `json:"muted"`
}

// DNDRequest is the JSON payload for toggling do-not-disturb.
// DurationHours > 0 arms an automatic expiry; zero means indefinite.
type DNDRequest struct {
	Enabled       bool `json:"enabled"`
	DurationHours int  `json:"duration_hours" binding:"gte=0,lte=168"`
}

// PreferencesResponse wraps the effective settings and whether the user has
// ever customized them.
type PreferencesResponse struct {
	Preferences any  `json:"preferences"`
	Customized  bool `json:"customized"`
}

// pathUserID extracts and validates the :id path parameter.
func pathUserID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id required")
		return "", false
	}
	return id, true
}

// GetPreferences returns the user's effective notification settings. Users
// who never customized anything get the defaults with customized=false.
func (h *Handlers) GetPreferences(c *gin.Context) {
	uid, okID := pathUserID(c)
	if !okID {
		return
	}

	prefs, customized, err := h.prefSvc.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, PreferencesResponse{Preferences: prefs, Customized: customized})
}

// UpdatePreferences merges a partial settings patch over the stored row and
// returns the result. Omitted fields are left untouched.
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	uid, okID := pathUserID(c)
	if !okID {
		return
	}

	var patch services.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if patch.QuietHours != nil {
		q := patch.QuietHours
		if q.StartHour < 0 || q.StartHour > 23 || q.EndHour < 0 || q.EndHour > 23 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quiet hours must be within 0-23")
			return
		}
	}

	prefs, err := h.prefSvc.Update(c.Request.Context(), uid, patch)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, PreferencesResponse{Preferences: prefs, Customized: true})
}

// MuteProject mutes or unmutes notifications for a single project without
// touching the user's other settings.
func (h *Handlers) MuteProject(c *gin.Context) {
	uid, okID := pathUserID(c)
	if !okID {
		return
	}
	projectID := strings.TrimSpace(c.Param("project_id"))
	if projectID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "project id required")
		return
	}

	var req MuteProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	prefs, err := h.prefSvc.MuteProject(c.Request.Context(), uid, projectID, req.Muted)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, PreferencesResponse{Preferences: prefs, Customized: true})
}

// SetDND toggles do-not-disturb, optionally with an automatic expiry after
// duration_hours. Expiry is lazy: the next dispatch after the deadline clears
// the flag.
func (h *Handlers) SetDND(c *gin.Context) {
	uid, okID := pathUserID(c)
	if !okID {
		return
	}

	var req DNDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration_hours must be within 0-168")
		return
	}

	prefs, err := h.prefSvc.SetDoNotDisturb(c.Request.Context(), uid, req.Enabled, req.DurationHours)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, PreferencesResponse{Preferences: prefs, Customized: true})
}
