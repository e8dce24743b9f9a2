package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rl337/authface/internal/observability"
	"github.com/rl337/authface/middleware"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services"
	"github.com/rl337/authface/services/audit"
	"github.com/rl337/authface/services/identity"
	"github.com/rl337/authface/services/session"
	"github.com/rl337/authface/services/token"
	"github.com/rl337/authface/utils"
	"go.uber.org/zap"
)

const (
	tokenReasonLogin   = "login"
	tokenReasonRefresh = "refresh"

	jwksCacheControl = "public, max-age=300"
)

// IdentityExchanger starts and completes provider authorization flows
type IdentityExchanger interface {
	AuthorizationURL(providerID, redirectURI string) (identity.AuthorizationRequest, error)
	Exchange(ctx context.Context, providerID, code, redirectURI string) (*models.Identity, error)
}

// TokenService mints and verifies bearer tokens
type TokenService interface {
	Create(identity *models.Identity, ttl time.Duration) (string, error)
	Verify(tokenString string) (*token.Claims, error)
	JWKS() token.JWKS
}

// AuthHandlerConfig carries the settings the auth endpoints need
type AuthHandlerConfig struct {
	TokenTTL      time.Duration
	RedirectURI   func(providerID string) string
	SecureCookies bool
	Now           func() time.Time
}

// AuthHandler serves the login, callback, token, verify, logout, and key set
// endpoints.
type AuthHandler struct {
	exchanger IdentityExchanger
	tokens    TokenService
	sessions  *session.Registry
	states    *session.StateStore
	audit     *audit.AuditService
	metrics   *observability.Metrics
	cfg       AuthHandlerConfig
	logger    *zap.Logger
}

// LoginResponse is returned by GET /auth/{provider}
type LoginResponse struct {
	AuthURL  string `json:"auth_url"`
	Provider string `json:"provider"`
}

// UserResponse describes the authenticated principal
type UserResponse struct {
	Subject  string  `json:"sub"`
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Tier     string  `json:"tier"`
	Provider string  `json:"provider"`
}

// CallbackResponse is returned after a successful provider callback
type CallbackResponse struct {
	Token     string       `json:"token"`
	SessionID string       `json:"session_id"`
	User      UserResponse `json:"user"`
}

// SessionRequest names a session handle
type SessionRequest struct {
	SessionID string `json:"session_id" validate:"required,handle"`
}

// TokenResponse is returned by POST /token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// VerifyRequest carries a token to check
type VerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyResponse reports the outcome of a token check
type VerifyResponse struct {
	Valid  bool          `json:"valid"`
	Claims *token.Claims `json:"claims,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// NewAuthHandler creates a new AuthHandler. A nil audit service disables the
// audit trail.
func NewAuthHandler(
	exchanger IdentityExchanger,
	tokens TokenService,
	sessions *session.Registry,
	states *session.StateStore,
	auditService *audit.AuditService,
	metrics *observability.Metrics,
	cfg AuthHandlerConfig,
	logger *zap.Logger,
) *AuthHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthHandler{
		exchanger: exchanger,
		tokens:    tokens,
		sessions:  sessions,
		states:    states,
		audit:     auditService,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// HandleLogin handles GET /auth/{provider}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	if err := utils.ValidateProviderID(providerID); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	redirectURI := h.cfg.RedirectURI(providerID)
	req, err := h.exchanger.AuthorizationURL(providerID, redirectURI)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.states.Save(req.State, providerID, redirectURI)

	_ = utils.WriteJSON(w, http.StatusOK, LoginResponse{
		AuthURL:  req.URL,
		Provider: providerID,
	})
}

// HandleCallback handles GET /callback/{provider}
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	query := r.URL.Query()
	meta := requestMeta(r)

	if providerErr := query.Get("error"); providerErr != "" {
		h.metrics.RecordLogin(providerID, observability.OutcomeFailure)
		h.recordAudit(h.audit.LogLoginFailed(providerID, errors.New(providerErr), meta))
		_ = utils.WriteBadRequest(w, "Authorization was denied by the identity provider", map[string]interface{}{
			"error":             providerErr,
			"error_description": query.Get("error_description"),
		})
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	for _, p := range []struct{ name, value string }{{"code", code}, {"state", state}} {
		if err := utils.ValidateRequired(p.value, p.name); err != nil {
			HandleServiceError(w, services.ErrMissingParameter.Wrap(err).WithDetail("parameter", p.name), h.logger)
			return
		}
	}

	pending, err := h.states.Consume(state, providerID)
	if err != nil {
		h.logger.Warn("callback state rejected",
			zap.String("provider", providerID),
			zap.String("request_id", meta.RequestID))
		HandleServiceError(w, err, h.logger)
		return
	}

	principal, err := h.exchanger.Exchange(r.Context(), providerID, code, pending.RedirectURI)
	if err != nil {
		h.metrics.RecordLogin(providerID, observability.OutcomeFailure)
		h.recordAudit(h.audit.LogLoginFailed(providerID, err, meta))
		h.logger.Warn("provider exchange failed",
			zap.String("provider", providerID),
			zap.String("request_id", meta.RequestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	handle, err := session.NewHandle()
	if err != nil {
		HandleServiceError(w, services.ErrInternal.Wrap(err), h.logger)
		return
	}

	// The session only becomes live once the client can be handed its token.
	signed, err := h.tokens.Create(principal, h.cfg.TokenTTL)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.sessions.Add(handle, principal)
	h.metrics.SetActiveSessions(h.sessions.Len())
	h.metrics.RecordLogin(providerID, observability.OutcomeSuccess)
	h.metrics.RecordTokenIssued(tokenReasonLogin)
	h.recordAudit(h.audit.LogLogin(principal, handle, meta))

	h.logger.Info("login succeeded",
		zap.String("provider", providerID),
		zap.String("subject", principal.Subject),
		zap.String("tier", principal.Tier.String()),
		zap.String("request_id", meta.RequestID))

	h.setTokenCookie(w, signed, int(h.cfg.TokenTTL.Seconds()))
	_ = utils.WriteJSON(w, http.StatusOK, CallbackResponse{
		Token:     signed,
		SessionID: handle,
		User:      userResponse(principal),
	})
}

// HandleToken handles POST /token
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	principal, ok := h.sessions.Get(req.SessionID)
	if !ok {
		HandleServiceError(w, services.ErrSessionNotFound, h.logger)
		return
	}
	if principal.IsExpired(h.cfg.Now()) {
		HandleServiceError(w, services.ErrSessionExpired, h.logger)
		return
	}

	signed, err := h.tokens.Create(principal, h.cfg.TokenTTL)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.metrics.RecordTokenIssued(tokenReasonRefresh)
	h.recordAudit(h.audit.LogTokenRefreshed(principal, req.SessionID, h.cfg.TokenTTL, requestMeta(r)))

	_ = utils.WriteJSON(w, http.StatusOK, TokenResponse{
		Token:     signed,
		ExpiresIn: int64(h.cfg.TokenTTL.Seconds()),
	})
}

// HandleVerify handles POST /verify. Verification failures are reported in
// the body with status 200.
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	claims, err := h.tokens.Verify(req.Token)
	if err != nil {
		if !services.IsVerificationError(err) {
			HandleServiceError(w, err, h.logger)
			return
		}
		h.metrics.RecordTokenVerification(observability.OutcomeFailure)
		_ = utils.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: false, Reason: verifyReason(err)})
		return
	}

	h.metrics.RecordTokenVerification(observability.OutcomeSuccess)
	_ = utils.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: true, Claims: claims})
}

// HandleLogout handles POST /logout. Unknown sessions are not an error.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	principal, _ := h.sessions.Get(req.SessionID)
	if h.sessions.Remove(req.SessionID) {
		h.metrics.SetActiveSessions(h.sessions.Len())
		h.recordAudit(h.audit.LogSessionRevoked(principal, req.SessionID, requestMeta(r)))
	}

	h.setTokenCookie(w, "", -1)
	utils.WriteNoContent(w)
}

// HandleJWKS handles GET /.well-known/jwks.json
func (h *AuthHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", jwksCacheControl)
	_ = utils.WriteJSON(w, http.StatusOK, h.tokens.JWKS())
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthTokenCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) recordAudit(err error) {
	if err != nil {
		h.logger.Warn("audit event dropped", zap.Error(err))
	}
}

func verifyReason(err error) string {
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		return "expired"
	case errors.Is(err, services.ErrAlgorithmNotAllowed):
		return "algorithm_not_allowed"
	default:
		return "invalid"
	}
}

func userResponse(principal *models.Identity) UserResponse {
	return UserResponse{
		Subject:  principal.Subject,
		Name:     principal.DisplayName,
		Email:    principal.Email,
		Tier:     principal.Tier.String(),
		Provider: principal.Provider,
	}
}

func requestMeta(r *http.Request) audit.RequestMeta {
	return audit.RequestMeta{
		RequestID: middleware.GetRequestIDFromContext(r.Context()),
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
