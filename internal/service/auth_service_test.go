package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/hashing"
)

const testPassword = "correct horse battery"

type memoryCredentials struct {
	users []*models.Credential
}

func (m *memoryCredentials) FindByIdentifierWithSecret(ctx context.Context, identifier string) (*models.Credential, error) {
	for _, u := range m.users {
		if NormalizeIdentifier(u.Email) == identifier || NormalizeIdentifier(u.Username) == identifier {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryCredentials) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memoryLedger struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
}

func (m *memoryLedger) Create(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt.CreatedAt = time.Now().UTC()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memoryLedger) failures(match func(models.LoginAttempt) bool, since time.Time) []models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LoginAttempt
	for _, a := range m.attempts {
		if !a.Success && (a.FailureReason == nil || *a.FailureReason != models.FailureSessionError) && !a.CreatedAt.Before(since) && match(a) {
			out = append(out, a)
		}
	}
	return out
}

func (m *memoryLedger) CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	return len(m.failures(func(a models.LoginAttempt) bool { return a.Identifier == identifier }, since)), nil
}

func (m *memoryLedger) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	return len(m.failures(func(a models.LoginAttempt) bool { return a.IPAddress == ip }, since)), nil
}

func (m *memoryLedger) NthFailedByIdentifier(ctx context.Context, identifier string, since time.Time, offset int) (*time.Time, error) {
	return nthOf(m.failures(func(a models.LoginAttempt) bool { return a.Identifier == identifier }, since), offset), nil
}

func (m *memoryLedger) NthFailedByIP(ctx context.Context, ip string, since time.Time, offset int) (*time.Time, error) {
	return nthOf(m.failures(func(a models.LoginAttempt) bool { return a.IPAddress == ip }, since), offset), nil
}

func (m *memoryLedger) DistinctIPsForIdentifier(ctx context.Context, identifier string, since time.Time) ([]models.IPAttemptSummary, error) {
	seen := map[string]int{}
	for _, a := range m.failures(func(a models.LoginAttempt) bool { return a.Identifier == identifier }, since) {
		seen[a.IPAddress]++
	}
	var out []models.IPAttemptSummary
	for ip, n := range seen {
		out = append(out, models.IPAttemptSummary{IP: ip, Attempts: n})
	}
	return out, nil
}

func (m *memoryLedger) all() []models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LoginAttempt(nil), m.attempts...)
}

func nthOf(attempts []models.LoginAttempt, offset int) *time.Time {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(attempts) {
		return nil
	}
	sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].CreatedAt.Before(attempts[j].CreatedAt) })
	at := attempts[offset].CreatedAt
	return &at
}

type authFixture struct {
	svc        *AuthService
	ledger     *memoryLedger
	sessions   *memorySessions
	auditStore *stubAuditStore
	blacklist  *memoryBlacklist
	publisher  *recordingPublisher
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	hasher, err := hashing.NewHasher(hashing.AlgorithmBcrypt, 4)
	require.NoError(t, err)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	creds := &memoryCredentials{users: []*models.Credential{
		{ID: "user-1", Email: "ana@example.com", Username: "ana", SecretHash: hash, Status: models.UserStatusActive, Role: models.RoleUser},
		{ID: "user-2", Email: "budi@example.com", Username: "budi", SecretHash: hash, Status: models.UserStatusSuspended, Role: models.RoleUser},
	}}

	ledger := &memoryLedger{}
	gate := NewRateGate(ledger, RateGateConfig{})
	security := NewSecurityService(nil, gate, ledger, nil, nil)
	codec := newTestTokenService()
	auditStore := &stubAuditStore{}
	audit := NewAuditService(auditStore, 0, nil)
	sessionMem := newMemorySessions(newMemoryRefreshTokens())
	sessions := NewSessionService(sessionMem, sessionMem.tokens, creds, codec, audit, nil, nil, SessionConfig{RevokeOnReuse: true})
	blacklistStore := newMemoryBlacklist()
	blacklist := NewBlacklistService(codec, blacklistStore, nil, nil, nil)

	publisher := &recordingPublisher{}
	notifier := NewNotificationService(publisher, NotificationConfig{Enabled: true}, nil)
	notifier.Start(context.Background())
	t.Cleanup(notifier.Stop)

	svc := NewAuthService(AuthDependencies{
		Credentials:   creds,
		Hasher:        hasher,
		Security:      security,
		Lockout:       gate,
		Sessions:      sessions,
		Tokens:        codec,
		Blacklist:     blacklist,
		Audit:         audit,
		Notifications: notifier,
	}, nil, nil, AuthConfig{RejectBots: true})

	return &authFixture{svc: svc, ledger: ledger, sessions: sessionMem, auditStore: auditStore, blacklist: blacklistStore, publisher: publisher}
}

func (f *authFixture) eventsOf(eventType models.AuditEventType) []models.AuditLog {
	var out []models.AuditLog
	for _, e := range f.auditStore.created {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func loginRequest(identifier, password string) models.LoginRequest {
	return models.LoginRequest{Identifier: identifier, Password: password, Request: browserRequest}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)

	res, err := f.svc.Login(context.Background(), loginRequest("ANA@example.com", testPassword))
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, int64(900), res.ExpiresIn)
	assert.True(t, res.NewDevice)
	assert.Equal(t, "user-1", res.User.ID)

	attempts := f.ledger.all()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "ana@example.com", attempts[0].Identifier)

	success := f.eventsOf(models.AuditLoginSuccess)
	require.Len(t, success, 1)
	require.NotNil(t, success[0].SessionID)
	assert.Equal(t, res.SessionID, *success[0].SessionID)

	require.Eventually(t, func() bool { return f.publisher.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAuthServiceLoginReusesDeviceSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)

	assert.False(t, second.NewDevice)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), loginRequest("ana@example.com", "nope"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
	assert.ErrorIs(t, err, ErrBadCredentials)

	attempts := f.ledger.all()
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	require.NotNil(t, attempts[0].FailureReason)
	assert.Equal(t, models.FailureInvalidCredentials, *attempts[0].FailureReason)
	require.NotNil(t, attempts[0].UserID)
	assert.Equal(t, "user-1", *attempts[0].UserID)
	assert.Len(t, f.eventsOf(models.AuditLoginFailed), 1)
}

func TestAuthServiceLoginSessionFailureIsRecorded(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.sessions.createErr = errors.New("db down")

	for i := 0; i < 6; i++ {
		_, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, appErrors.FromError(err).Status)
	}

	attempts := f.ledger.all()
	require.Len(t, attempts, 6)
	for _, a := range attempts {
		assert.False(t, a.Success)
		require.NotNil(t, a.FailureReason)
		assert.Equal(t, models.FailureSessionError, *a.FailureReason)
		require.NotNil(t, a.UserID)
		assert.Equal(t, "user-1", *a.UserID)
	}
	failed := f.eventsOf(models.AuditLoginFailed)
	require.Len(t, failed, 6)
	require.NotNil(t, failed[0].UserID)
	assert.Equal(t, "user-1", *failed[0].UserID)
	assert.Empty(t, f.eventsOf(models.AuditAccountLocked))

	f.sessions.createErr = nil
	res, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuthServiceLoginUnknownUserIsGeneric(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), loginRequest("ghost@example.com", testPassword))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Message, appErrors.FromError(err).Message)

	attempts := f.ledger.all()
	require.Len(t, attempts, 1)
	assert.Nil(t, attempts[0].UserID)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), loginRequest("budi", testPassword))
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, appErrors.FromError(err).Status)
	assert.ErrorIs(t, err, ErrAccountInactive)

	attempts := f.ledger.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.FailureAccountInactive, *attempts[0].FailureReason)
}

func TestAuthServiceLockoutIsReportedOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, loginRequest("ana", "wrong"))
		require.ErrorIs(t, err, ErrBadCredentials)
	}
	require.Len(t, f.eventsOf(models.AuditAccountLocked), 1)
	require.Eventually(t, func() bool { return f.publisher.count() == 1 }, time.Second, 10*time.Millisecond)

	_, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusTooManyRequests, appErr.Status)
	assert.Greater(t, appErr.RetryAfter, 0)
	assert.ErrorIs(t, err, ErrIdentifierThrottled)

	assert.Len(t, f.eventsOf(models.AuditAccountLocked), 1)
	assert.Len(t, f.eventsOf(models.AuditRateLimited), 1)
	assert.Len(t, f.ledger.all(), 6)
}

func TestAuthServiceRejectsBots(t *testing.T) {
	f := newAuthFixture(t)
	req := loginRequest("ana", testPassword)
	req.Request.UserAgent = "curl/8.4.0"

	_, err := f.svc.Login(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBotRejected)
	assert.Equal(t, http.StatusUnauthorized, appErrors.FromError(err).Status)

	attempts := f.ledger.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.FailureBotDetected, *attempts[0].FailureReason)
}

func TestAuthServiceLoginValidation(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), loginRequest("", ""))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.ledger.all())
}

func TestAuthServiceRefresh(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)

	res, err := f.svc.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken, Request: browserRequest})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)

	events := f.eventsOf(models.AuditTokenRefresh)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, "user-1", *events[0].UserID)

	claims, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.SessionID, claims.SessionID)
}

func TestAuthServiceLogoutRevokesAccess(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)

	claims, err := f.svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, login.AccessToken, claims, browserRequest))
	assert.Len(t, f.blacklist.entries, 1)
	assert.Len(t, f.eventsOf(models.AuditLogout), 1)

	_, err = f.svc.Authenticate(ctx, login.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutAll(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	laptopLogin, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)
	phone := loginRequest("ana", testPassword)
	phone.Request.UserAgent = iphoneUA
	phoneLogin, err := f.svc.Login(ctx, phone)
	require.NoError(t, err)
	require.NotEqual(t, laptopLogin.SessionID, phoneLogin.SessionID)

	claims, err := f.svc.Authenticate(ctx, laptopLogin.AccessToken)
	require.NoError(t, err)

	revoked, err := f.svc.LogoutAll(ctx, laptopLogin.AccessToken, claims, browserRequest)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	// the phone token is not blacklisted but its session is gone
	_, err = f.svc.Authenticate(ctx, phoneLogin.AccessToken)
	assert.Error(t, err)
}

func TestAuthServiceSessionManagement(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	laptopLogin, err := f.svc.Login(ctx, loginRequest("ana", testPassword))
	require.NoError(t, err)
	phone := loginRequest("ana", testPassword)
	phone.Request.UserAgent = iphoneUA
	phoneLogin, err := f.svc.Login(ctx, phone)
	require.NoError(t, err)

	claims, err := f.svc.Authenticate(ctx, laptopLogin.AccessToken)
	require.NoError(t, err)

	views, err := f.svc.ListSessions(ctx, claims)
	require.NoError(t, err)
	require.Len(t, views, 2)
	current := 0
	for _, v := range views {
		if v.Current {
			current++
			assert.Equal(t, laptopLogin.SessionID, v.ID)
		}
	}
	assert.Equal(t, 1, current)

	foreign := &models.AccessClaims{UserID: "user-9", SessionID: "x"}
	err = f.svc.RevokeUserSession(ctx, foreign, phoneLogin.SessionID, browserRequest)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.RevokeUserSession(ctx, claims, phoneLogin.SessionID, browserRequest))
	_, err = f.svc.Authenticate(ctx, phoneLogin.AccessToken)
	assert.Error(t, err)

	revoked, err := f.svc.LogoutOthers(ctx, claims, browserRequest)
	require.NoError(t, err)
	assert.Zero(t, revoked)

	_, err = f.svc.Authenticate(ctx, laptopLogin.AccessToken)
	assert.NoError(t, err)
}

func TestAuthServiceMe(t *testing.T) {
	f := newAuthFixture(t)

	info, err := f.svc.Me(context.Background(), &models.AccessClaims{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", info.Email)

	_, err = f.svc.Me(context.Background(), &models.AccessClaims{UserID: "missing"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, sql.ErrNoRows))
}

func TestAuthServiceAuthenticateRejectsGarbage(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Authenticate(context.Background(), "")
	assert.Error(t, err)
	_, err = f.svc.Authenticate(context.Background(), "not.a.jwt")
	assert.Error(t, err)
}
