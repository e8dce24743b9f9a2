package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rl337/authface/internal/observability"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services"
	"github.com/rl337/authface/services/token"
	"github.com/rl337/authface/utils"
	"go.uber.org/zap"
)

// TokenVerifier checks a bearer token and returns its claims
type TokenVerifier interface {
	Verify(token string) (*token.Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier TokenVerifier
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. metrics may be nil.
func NewAuthMiddleware(verifier TokenVerifier, metrics *observability.Metrics, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// AuthTokenCookieName is the cookie set by the login callback. The
// Authorization header takes precedence over it.
const AuthTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		raw := ExtractToken(r)
		if raw == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.verifier.Verify(raw)
		if err != nil {
			m.metrics.RecordTokenVerification(observability.OutcomeFailure)
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			message := "Invalid token"
			if errors.Is(err, services.ErrTokenExpired) {
				message = "Token expired"
			}
			_ = utils.WriteUnauthorized(w, message)
			return
		}
		m.metrics.RecordTokenVerification(observability.OutcomeSuccess)

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Subject),
			zap.String("provider", claims.Provider),
			zap.String("tier", claims.Tier))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTier is a middleware that requires at least the given tier.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireTier(min models.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			tier := token.TierOf(claims)
			if !tier.AtLeast(min) {
				m.logger.Warn("insufficient tier",
					zap.String("request_id", requestID),
					zap.String("required_tier", min.String()),
					zap.String("tier", tier.String()))
				_ = utils.WriteForbidden(w, services.ErrInsufficientTier.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ExtractToken returns the bearer token from the Authorization header or the
// auth_token cookie. The header wins when both are present.
func ExtractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(AuthTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
