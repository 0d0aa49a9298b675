package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/authguard-api/internal/models"
	"github.com/noah-isme/authguard-api/internal/repository"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/hashing"
)

type memorySessions struct {
	items      map[string]*models.Session
	tokens     *memoryRefreshTokens
	seq        int
	createErr  error
	reissueErr error
}

func newMemorySessions(tokens *memoryRefreshTokens) *memorySessions {
	return &memorySessions{items: map[string]*models.Session{}, tokens: tokens}
}

func (m *memorySessions) Create(ctx context.Context, session *models.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.seq++
	session.ID = fmt.Sprintf("session-%d", m.seq)
	clone := *session
	m.items[session.ID] = &clone
	return nil
}

func (m *memorySessions) FindByID(ctx context.Context, id string) (*models.Session, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (m *memorySessions) FindActiveByFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) (*models.Session, error) {
	for _, s := range m.items {
		if s.UserID == userID && s.DeviceFingerprint == fingerprint && s.IsActive(now) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memorySessions) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	var out []models.Session
	for _, s := range m.items {
		if s.UserID == userID && s.IsActive(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memorySessions) Touch(ctx context.Context, id string, at time.Time) error {
	if s, ok := m.items[id]; ok {
		s.LastUsedAt = at
	}
	return nil
}

func (m *memorySessions) Reissue(ctx context.Context, id string, device models.DeviceInfo, expiresAt, at time.Time, next *models.RefreshToken) error {
	if m.reissueErr != nil {
		return m.reissueErr
	}
	s, ok := m.items[id]
	if !ok || s.RevokedAt != nil {
		return repository.ErrSessionNotActive
	}
	s.ExpiresAt = expiresAt
	s.LastUsedAt = at
	s.IPAddress = device.IPAddress
	s.UserAgent = device.UserAgent
	if m.tokens != nil {
		_, _ = m.tokens.RevokeAllForSession(ctx, id, at)
		next.SessionID = id
		_ = m.tokens.Create(ctx, next)
	}
	return nil
}

func (m *memorySessions) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	s, ok := m.items[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	s.RevokedAt = &at
	return true, nil
}

func (m *memorySessions) RevokeAllForUser(ctx context.Context, userID, keepID string, at time.Time) ([]string, error) {
	var ids []string
	for id, s := range m.items {
		if s.UserID == userID && s.RevokedAt == nil && id != keepID {
			s.RevokedAt = &at
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memoryRefreshTokens struct {
	items map[string]*models.RefreshToken
}

func newMemoryRefreshTokens() *memoryRefreshTokens {
	return &memoryRefreshTokens{items: map[string]*models.RefreshToken{}}
}

func (m *memoryRefreshTokens) Create(ctx context.Context, token *models.RefreshToken) error {
	clone := *token
	m.items[token.TokenHash] = &clone
	return nil
}

func (m *memoryRefreshTokens) FindValid(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	t, ok := m.items[hash]
	if !ok || !t.IsValid(now) {
		return nil, sql.ErrNoRows
	}
	clone := *t
	return &clone, nil
}

func (m *memoryRefreshTokens) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	t, ok := m.items[hash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *t
	return &clone, nil
}

func (m *memoryRefreshTokens) Rotate(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error {
	old, ok := m.items[oldHash]
	if !ok || !old.IsValid(now) {
		return repository.ErrTokenNotRotatable
	}
	old.RevokedAt = &now
	old.RotatedAt = &now
	next.SessionID = old.SessionID
	next.CreatedAt = now
	clone := *next
	m.items[next.TokenHash] = &clone
	return nil
}

func (m *memoryRefreshTokens) RevokeAllForSession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	var n int64
	for _, t := range m.items {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memoryRefreshTokens) activeFor(sessionID string) int {
	n := 0
	for _, t := range m.items {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

type stubCredentials struct {
	users map[string]*models.Credential
}

func (s *stubCredentials) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	c, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

type recordedEvent struct {
	eventType models.AuditEventType
	userID    *string
	actx      models.AuditContext
	metadata  interface{}
}

type stubAuditRecorder struct {
	events []recordedEvent
}

func (a *stubAuditRecorder) Record(ctx context.Context, eventType models.AuditEventType, userID *string, actx models.AuditContext, metadata interface{}) {
	a.events = append(a.events, recordedEvent{eventType: eventType, userID: userID, actx: actx, metadata: metadata})
}

type sessionFixture struct {
	svc      *SessionService
	sessions *memorySessions
	tokens   *memoryRefreshTokens
	audit    *stubAuditRecorder
	clock    *time.Time
}

func newSessionFixture(cfg SessionConfig) *sessionFixture {
	tokens := newMemoryRefreshTokens()
	sessions := newMemorySessions(tokens)
	creds := &stubCredentials{users: map[string]*models.Credential{
		"user-1": {ID: "user-1", Email: "ana@example.com", Status: models.UserStatusActive, Role: models.RoleUser},
		"user-2": {ID: "user-2", Email: "budi@example.com", Status: models.UserStatusSuspended, Role: models.RoleUser},
	}}
	audit := &stubAuditRecorder{}
	clock := time.Now().UTC()
	svc := NewSessionService(sessions, tokens, creds, newTestTokenService(), audit, nil, nil, cfg)
	f := &sessionFixture{svc: svc, sessions: sessions, tokens: tokens, audit: audit, clock: &clock}
	svc.now = func() time.Time { return *f.clock }
	return f
}

func (f *sessionFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

var laptop = models.DeviceInfo{
	Fingerprint: "fp-laptop",
	IPAddress:   "10.0.0.1",
	UserAgent:   chromeWindowsUA,
}

func TestCreateSessionIssuesRefreshToken(t *testing.T) {
	f := newSessionFixture(SessionConfig{DefaultTTL: time.Hour, RememberTTL: 48 * time.Hour})

	issue, err := f.svc.CreateSession(context.Background(), "user-1", laptop, false)
	require.NoError(t, err)
	assert.True(t, issue.Created)
	assert.NotEmpty(t, issue.RefreshToken)
	assert.Equal(t, f.clock.Add(time.Hour), issue.Session.ExpiresAt)
	// refresh ttl (24h) is capped by the session expiry
	assert.Equal(t, issue.Session.ExpiresAt, issue.RefreshExpiresAt)

	stored, err := f.tokens.FindByHash(context.Background(), hashing.TokenDigest(issue.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, issue.Session.ID, stored.SessionID)
}

func TestCreateSessionRememberMe(t *testing.T) {
	f := newSessionFixture(SessionConfig{DefaultTTL: time.Hour, RememberTTL: 48 * time.Hour})

	issue, err := f.svc.CreateSession(context.Background(), "user-1", laptop, true)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(48*time.Hour), issue.Session.ExpiresAt)
	assert.Equal(t, f.clock.Add(24*time.Hour), issue.RefreshExpiresAt)
}

func TestFindOrCreateReusesDeviceSession(t *testing.T) {
	f := newSessionFixture(SessionConfig{DefaultTTL: time.Hour})
	ctx := context.Background()

	first, err := f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	require.True(t, first.Created)

	f.advance(10 * time.Minute)
	second, err := f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, f.tokens.activeFor(first.Session.ID))

	_, err = f.svc.Rotate(ctx, first.RefreshToken, laptop)
	require.Error(t, err)
}

func TestFindOrCreateReissueFailureKeepsPreviousToken(t *testing.T) {
	f := newSessionFixture(SessionConfig{DefaultTTL: time.Hour})
	ctx := context.Background()

	first, err := f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	expires := first.Session.ExpiresAt

	f.sessions.reissueErr = errors.New("db down")
	f.advance(10 * time.Minute)
	_, err = f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	stored, err := f.sessions.FindByID(ctx, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, expires, stored.ExpiresAt)
	assert.Equal(t, 1, f.tokens.activeFor(first.Session.ID))

	f.sessions.reissueErr = nil
	_, err = f.svc.Rotate(ctx, first.RefreshToken, laptop)
	assert.NoError(t, err)
}

func TestFindOrCreateFallsBackWhenSessionRevokedConcurrently(t *testing.T) {
	f := newSessionFixture(SessionConfig{DefaultTTL: time.Hour})
	ctx := context.Background()

	first, err := f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.NoError(t, err)

	f.sessions.reissueErr = repository.ErrSessionNotActive
	second, err := f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
}

func TestFindOrCreateNewDeviceCreatesSession(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	ctx := context.Background()

	first, err := f.svc.FindOrCreate(ctx, "user-1", laptop, false)
	require.NoError(t, err)

	phone := laptop
	phone.Fingerprint = "fp-phone"
	second, err := f.svc.FindOrCreate(ctx, "user-1", phone, false)
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
}

func TestRotateIssuesNewPair(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	ctx := context.Background()

	issue, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)

	pair, err := f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.NoError(t, err)
	assert.Equal(t, issue.Session.ID, pair.SessionID)
	assert.NotEqual(t, issue.RefreshToken, pair.RefreshToken)
	assert.NotEmpty(t, pair.AccessToken)

	old, err := f.tokens.FindByHash(ctx, hashing.TokenDigest(issue.RefreshToken))
	require.NoError(t, err)
	assert.NotNil(t, old.RevokedAt)
	assert.NotNil(t, old.RotatedAt)
	assert.Equal(t, 1, f.tokens.activeFor(issue.Session.ID))
}

func TestRotateRejectsGarbage(t *testing.T) {
	f := newSessionFixture(SessionConfig{})

	_, err := f.svc.Rotate(context.Background(), "not-a-token", laptop)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestRotateReuseWithinGraceKeepsSession(t *testing.T) {
	f := newSessionFixture(SessionConfig{RevokeOnReuse: true, ReuseGracePeriod: 30 * time.Second})
	ctx := context.Background()

	issue, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.NoError(t, err)

	f.advance(5 * time.Second)
	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.Error(t, err)

	active, err := f.svc.IsActive(ctx, issue.Session.ID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Empty(t, f.audit.events)
}

func TestRotateReuseAfterGraceRevokesSession(t *testing.T) {
	f := newSessionFixture(SessionConfig{RevokeOnReuse: true, ReuseGracePeriod: 30 * time.Second})
	ctx := context.Background()

	issue, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	pair, err := f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.NoError(t, err)

	f.advance(time.Minute)
	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.Error(t, err)

	active, err := f.svc.IsActive(ctx, issue.Session.ID)
	require.NoError(t, err)
	assert.False(t, active)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, models.AuditSuspiciousActivity, f.audit.events[0].eventType)
	assert.Equal(t, issue.Session.ID, f.audit.events[0].actx.SessionID)

	// the newest token of the chain is dead too
	_, err = f.svc.Rotate(ctx, pair.RefreshToken, laptop)
	require.Error(t, err)
}

func TestRotateReuseWithoutRevocationOnlyAudits(t *testing.T) {
	f := newSessionFixture(SessionConfig{RevokeOnReuse: false})
	ctx := context.Background()

	issue, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.NoError(t, err)

	f.advance(time.Second)
	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.Error(t, err)

	active, err := f.svc.IsActive(ctx, issue.Session.ID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Len(t, f.audit.events, 1)
}

func TestRotateRejectsInactiveUser(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	ctx := context.Background()

	issue, err := f.svc.CreateSession(ctx, "user-2", laptop, false)
	require.NoError(t, err)

	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.Error(t, err)

	active, err := f.svc.IsActive(ctx, issue.Session.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRotateRejectsRevokedSession(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	ctx := context.Background()

	issue, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	revoked, err := f.svc.RevokeSession(ctx, issue.Session.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	// memory store does not cascade, so the token is still valid here
	_, err = f.svc.Rotate(ctx, issue.RefreshToken, laptop)
	require.Error(t, err)

	revoked, err = f.svc.RevokeSession(ctx, issue.Session.ID)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeOtherSessionsKeepsCurrent(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	ctx := context.Background()

	current, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	_, err = f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)
	_, err = f.svc.CreateSession(ctx, "user-1", laptop, false)
	require.NoError(t, err)

	n, err := f.svc.RevokeOtherSessions(ctx, "user-1", current.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := f.svc.ListActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, current.Session.ID, active[0].ID)

	_, err = f.svc.RevokeOtherSessions(ctx, "user-1", "")
	require.Error(t, err)
}

func TestRevokeAllSessions(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateSession(ctx, "user-1", laptop, false)
		require.NoError(t, err)
	}

	n, err := f.svc.RevokeAllSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.RevokeAllSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newSessionFixture(SessionConfig{})

	_, err := f.svc.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	active, err := f.svc.IsActive(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, active)
}
