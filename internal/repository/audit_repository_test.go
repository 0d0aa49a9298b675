package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authguard-api/internal/models"
)

var auditCols = []string{"id", "event_type", "user_id", "ip_address", "user_agent", "session_id", "metadata", "created_at"}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)
	userID := "user-1"

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_logs`)).
		WithArgs(sqlmock.AnyArg(), models.AuditLoginSuccess, &userID, "10.0.0.1", "ua", nil, []byte(`{"request_id":"r-1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AuditLog{
		EventType: models.AuditLoginSuccess,
		UserID:    &userID,
		IPAddress: "10.0.0.1",
		UserAgent: "ua",
		Metadata:  types.JSONText(`{"request_id":"r-1"}`),
	}
	require.NoError(t, repo.Create(context.Background(), log))
	assert.NotEmpty(t, log.ID)
}

func TestAuditRepositoryListByUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_logs WHERE user_id = $1`)).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs("user-1", 20, 20).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow("a-1", "LOGOUT", "user-1", "10.0.0.1", "ua", "s-1", []byte(`{}`), now))

	logs, total, err := repo.ListByUser(context.Background(), "user-1", 20, 20)
	require.NoError(t, err)
	assert.Equal(t, 21, total)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditLogout, logs[0].EventType)
	require.NotNil(t, logs[0].SessionID)
	assert.Equal(t, "s-1", *logs[0].SessionID)
}

func TestAuditRepositoryListByEventTypes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)
	since := time.Now().Add(-24 * time.Hour)
	kinds := models.SecurityEventTypes()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE event_type = ANY($1) AND created_at >= $2`)).
		WithArgs(pq.Array(kinds), since, 50).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow("a-1", "LOGIN_FAILED", nil, "10.0.0.1", "ua", nil, []byte(`{"reason":"invalid_credentials"}`), since))

	logs, err := repo.ListByEventTypes(context.Background(), kinds, since, 50)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].UserID)
	assert.JSONEq(t, `{"reason":"invalid_credentials"}`, string(logs[0].Metadata))
}

func TestAuditRepositorySearchBuildsFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE 1=1 AND created_at >= $1 AND user_id = $2 ORDER BY created_at DESC LIMIT $3`)).
		WithArgs(since, "user-1", 100).
		WillReturnRows(sqlmock.NewRows(auditCols))

	logs, err := repo.Search(context.Background(), models.AuditExportFilter{Since: since, UserID: "user-1", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAuditRepositoryDeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)
	cutoff := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_logs WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
