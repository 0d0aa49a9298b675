package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authguard-api/internal/models"
)

func TestLoginAttemptRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLoginAttemptRepository(db)
	reason := models.FailureInvalidCredentials

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO login_attempts`)).
		WithArgs(sqlmock.AnyArg(), nil, "ana@example.com", "10.0.0.1", "ua", false, &reason, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	attempt := &models.LoginAttempt{
		Identifier:    "ana@example.com",
		IPAddress:     "10.0.0.1",
		UserAgent:     "ua",
		FailureReason: &reason,
	}
	require.NoError(t, repo.Create(context.Background(), attempt))
	assert.NotEmpty(t, attempt.ID)
}

func TestLoginAttemptRepositoryCounts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLoginAttemptRepository(db)
	since := time.Now().Add(-15 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE identifier = $1 AND created_at >= $2 AND success = FALSE AND failure_reason IS DISTINCT FROM 'session_error'`)).
		WithArgs("ana", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE ip_address = $1 AND created_at >= $2 AND success = FALSE AND failure_reason IS DISTINCT FROM 'session_error'`)).
		WithArgs("10.0.0.1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	n, err := repo.CountFailedByIdentifier(context.Background(), "ana", since)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = repo.CountFailedByIP(context.Background(), "10.0.0.1", since)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestLoginAttemptRepositoryNthFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLoginAttemptRepository(db)
	since := time.Now().Add(-15 * time.Minute)
	third := since.Add(3 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at ASC OFFSET $3 LIMIT 1`)).
		WithArgs("ana", since, 2).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(third))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT created_at FROM login_attempts WHERE ip_address = $1`)).
		WithArgs("10.0.0.1", since, 0).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	at, err := repo.NthFailedByIdentifier(context.Background(), "ana", since, 2)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, third.Equal(*at))

	at, err = repo.NthFailedByIP(context.Background(), "10.0.0.1", since, -1)
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestLoginAttemptRepositoryDistinctIPs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLoginAttemptRepository(db)
	since := time.Now().Add(-30 * time.Minute)
	last := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY ip_address`)).
		WithArgs("ana", since).
		WillReturnRows(sqlmock.NewRows([]string{"ip_address", "attempts", "last_attempt"}).
			AddRow("10.0.0.1", 3, last).
			AddRow("10.0.0.2", 1, last))

	ips, err := repo.DistinctIPsForIdentifier(context.Background(), "ana", since)
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "10.0.0.1", ips[0].IP)
	assert.Equal(t, 3, ips[0].Attempts)
}

func TestLoginAttemptRepositoryDeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLoginAttemptRepository(db)
	cutoff := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM login_attempts WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
