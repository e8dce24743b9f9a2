package handlers

import (
	"net/http"
	"time"

	"github.com/rl337/authface/middleware"
	"github.com/rl337/authface/services/session"
	"github.com/rl337/authface/services/token"
	"github.com/rl337/authface/utils"
	"go.uber.org/zap"
)

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Uptime         string `json:"uptime"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	LastCleanup    string `json:"last_cleanup"`
}

// SessionsResponse is returned by GET /api/v1/admin/sessions
type SessionsResponse struct {
	ActiveSessions int    `json:"active_sessions"`
	PendingLogins  int    `json:"pending_logins"`
	LastCleanup    string `json:"last_cleanup"`
}

// SessionHandler reports on the session registry
type SessionHandler struct {
	sessions *session.Registry
	states   *session.StateStore
	started  time.Time
	now      func() time.Time
	logger   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler. Uptime is measured from
// started. A nil now uses time.Now.
func NewSessionHandler(sessions *session.Registry, states *session.StateStore, started time.Time, now func() time.Time, logger *zap.Logger) *SessionHandler {
	if now == nil {
		now = time.Now
	}
	return &SessionHandler{
		sessions: sessions,
		states:   states,
		started:  started,
		now:      now,
		logger:   logger,
	}
}

// HandleStatus handles GET /status
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := h.now().Sub(h.started).Truncate(time.Second)

	_ = utils.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:         "running",
		ActiveSessions: h.sessions.Len(),
		Uptime:         uptime.String(),
		UptimeSeconds:  int64(uptime.Seconds()),
		LastCleanup:    h.sessions.LastCleanup().UTC().Format(time.RFC3339),
	})
}

// HandleMe handles GET /api/v1/me
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, meResponse(claims))
}

// HandleSessions handles GET /api/v1/admin/sessions
func (h *SessionHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, SessionsResponse{
		ActiveSessions: h.sessions.Len(),
		PendingLogins:  h.states.Len(),
		LastCleanup:    h.sessions.LastCleanup().UTC().Format(time.RFC3339),
	})
}

// MeResponse describes the caller as seen in their token
type MeResponse struct {
	UserResponse
	ExpiresAt string `json:"expires_at"`
}

func meResponse(claims *token.Claims) MeResponse {
	resp := MeResponse{
		UserResponse: UserResponse{
			Subject:  claims.Subject,
			Name:     claims.Name,
			Email:    claims.Email,
			Tier:     token.TierOf(claims).String(),
			Provider: claims.Provider,
		},
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}
