package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rl337/authface/middleware"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services/session"
	"github.com/rl337/authface/services/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSessionHandler(now time.Time) (*SessionHandler, *session.Registry, *session.StateStore) {
	clock := func() time.Time { return now }
	sessions := session.NewRegistry(clock)
	states := session.NewStateStore(0, clock)
	started := now.Add(-90 * time.Minute)
	return NewSessionHandler(sessions, states, started, clock, zap.NewNop()), sessions, states
}

func TestHandleStatus(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	handler, sessions, _ := newTestSessionHandler(now)
	sessions.Add("handle-one", testPrincipal(now.Add(time.Hour)))
	sessions.Add("handle-two", testPrincipal(now.Add(2*time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	handler.HandleStatus(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, 2, resp.ActiveSessions)
	assert.Equal(t, "1h30m0s", resp.Uptime)
	assert.Equal(t, int64(5400), resp.UptimeSeconds)
	assert.Equal(t, "2024-03-01T12:00:00Z", resp.LastCleanup)
}

func TestHandleMe(t *testing.T) {
	handler, _, _ := newTestSessionHandler(time.Now())

	t.Run("returns the caller's claims", func(t *testing.T) {
		expires := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
		claims := &token.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-42",
				ExpiresAt: jwt.NewNumericDate(expires),
			},
			Email:    models.StringPtr("ada@preferred.company.com"),
			Tier:     "preferred",
			Provider: "microsoft",
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()

		handler.HandleMe(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "user-42", resp["sub"])
		assert.Nil(t, resp["name"])
		assert.Equal(t, "ada@preferred.company.com", resp["email"])
		assert.Equal(t, "preferred", resp["tier"])
		assert.Equal(t, "microsoft", resp["provider"])
		assert.Equal(t, "2024-03-02T12:00:00Z", resp["expires_at"])
	})

	t.Run("unknown tier reads as free", func(t *testing.T) {
		claims := &token.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-7"},
			Tier:             "platinum",
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()

		handler.HandleMe(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp MeResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "free", resp.Tier)
		assert.Empty(t, resp.ExpiresAt)
	})

	t.Run("without claims", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		w := httptest.NewRecorder()

		handler.HandleMe(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandleSessions(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	handler, sessions, states := newTestSessionHandler(now)
	sessions.Add("handle-one", testPrincipal(now.Add(time.Hour)))
	states.Save("state-1", "google", testRedirectURI)
	states.Save("state-2", "google", testRedirectURI)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/sessions", nil)
	w := httptest.NewRecorder()

	handler.HandleSessions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.ActiveSessions)
	assert.Equal(t, 2, resp.PendingLogins)
	assert.Equal(t, "2024-03-01T12:00:00Z", resp.LastCleanup)
}
