package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rl337/authface/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var auditRowColumns = []string{
	"id", "action", "subject", "provider", "tier", "session_id",
	"details", "ip_address", "user_agent", "request_id", "error_message", "timestamp",
}

func TestAuditRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	log := models.NewAuditLog(models.AuditActionLoginSucceeded).
		WithIdentity(&models.Identity{Subject: "s1", Provider: "google", Tier: models.TierAdmin}).
		WithSession("handle").
		WithRequest("req-1", "127.0.0.1", "test")

	mock.ExpectExec(`INSERT INTO auth_audit_logs`).
		WithArgs(log.ID, log.Action, "s1", "google", "admin", models.SessionRef("handle"),
			nil, "127.0.0.1", "test", "req-1", nil, log.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_GetBySubject(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())
	ts := time.Now().UTC()

	rows := sqlmock.NewRows(auditRowColumns).
		AddRow(uuid.NewString(), "login_succeeded", "s1", "google", "admin", "h1", []byte(`{"ttl_hours":24}`), "", "", "", nil, ts).
		AddRow(uuid.NewString(), "session_revoked", "s1", "google", "admin", "h1", nil, "", "", "", nil, ts)
	mock.ExpectQuery(`WHERE provider = \$1 AND subject = \$2`).
		WithArgs("google", "s1", 10, 0).
		WillReturnRows(rows)

	logs, err := repo.GetBySubject(context.Background(), "google", "s1", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.NotNil(t, logs[0].Subject)
	assert.Equal(t, "s1", *logs[0].Subject)
	assert.JSONEq(t, `{"ttl_hours":24}`, string(logs[0].Details))
	assert.Nil(t, logs[0].ErrorMessage)
	assert.Equal(t, models.AuditActionSessionRevoked, logs[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_GetByAction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	mock.ExpectQuery(`WHERE action = \$1`).
		WithArgs(models.AuditActionLoginFailed, 5, 0).
		WillReturnRows(sqlmock.NewRows(auditRowColumns))

	logs, err := repo.GetByAction(context.Background(), models.AuditActionLoginFailed, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
