package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nexora/internal/db"
	"nexora/internal/supabase"
)

type fakeProvider struct {
	mu         sync.Mutex
	exchanged  []string
	refreshed  []string
	signedOut  []string
	session    *supabase.Session
	refresh    *supabase.Session
	refreshErr error
	onExchange func()
}

func (p *fakeProvider) AuthorizeURL(provider, redirectTo, challenge string) string {
	return "https://backend.test/auth/v1/authorize?provider=" + provider + "&code_challenge=" + challenge
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code, verifier string) (*supabase.Session, error) {
	p.exchanged = append(p.exchanged, code+":"+verifier)
	if p.onExchange != nil {
		p.onExchange()
	}
	return p.session, nil
}

func (p *fakeProvider) RefreshSession(ctx context.Context, refreshToken string) (*supabase.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, used := range p.refreshed {
		if used == refreshToken {
			return nil, errors.New("Invalid Refresh Token: Already Used")
		}
	}
	p.refreshed = append(p.refreshed, refreshToken)
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refresh, nil
}

func (p *fakeProvider) SignOut(ctx context.Context, accessToken string) error {
	p.signedOut = append(p.signedOut, accessToken)
	return nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbc, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dbc))
	t.Cleanup(func() { dbc.Close() })
	return dbc
}

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func testSession(t *testing.T, exp time.Time) *supabase.Session {
	return &supabase.Session{
		AccessToken:  signedToken(t, "user-1", exp),
		RefreshToken: "refresh-1",
		ExpiresAt:    exp.Unix(),
		User: supabase.User{
			ID:    "user-1",
			Email: "alice@example.com",
			UserMetadata: map[string]any{
				"user_name":  "alice",
				"avatar_url": "https://avatars/alice.png",
			},
		},
	}
}

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestStoreSealsSessions(t *testing.T) {
	dbc := openTestDB(t)
	store := NewStore(dbc, "secret-one-0123456789")
	ctx := context.Background()
	sess := testSession(t, time.Now().Add(time.Hour))

	require.NoError(t, store.Save(ctx, "sid", sess, time.Now().Add(time.Hour)))

	var raw []byte
	require.NoError(t, dbc.QueryRow(`SELECT sealed FROM sessions WHERE id='sid'`).Scan(&raw))
	assert.NotContains(t, string(raw), "refresh-1")

	got, err := store.Load(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, got.AccessToken)
	assert.Equal(t, "alice", got.User.Metadata("user_name"))

	other := NewStore(dbc, "secret-two-0123456789")
	_, err = other.Load(ctx, "sid")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStoreExpiryAndPrune(t *testing.T) {
	store := NewStore(openTestDB(t), "secret-0123456789")
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "old", testSession(t, time.Now()), time.Now().Add(-time.Minute)))
	require.NoError(t, store.Save(ctx, "new", testSession(t, time.Now()), time.Now().Add(time.Hour)))

	_, err := store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrNoSession)

	n, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Load(ctx, "new")
	assert.NoError(t, err)
}

func TestVerifierIsSingleUse(t *testing.T) {
	store := NewStore(openTestDB(t), "secret-0123456789")
	ctx := context.Background()
	require.NoError(t, store.SaveVerifier(ctx, "state", "verifier"))

	v, err := store.TakeVerifier(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, "verifier", v)

	_, err = store.TakeVerifier(ctx, "state")
	assert.ErrorIs(t, err, ErrNoSession)
}

func newTestManager(t *testing.T, p *fakeProvider) *Manager {
	store := NewStore(openTestDB(t), "secret-0123456789")
	m := NewManager(store, p, Options{RedirectURL: "http://localhost:8080/auth/callback"}, zap.NewNop())
	require.NoError(t, m.Start(context.Background()))
	return m
}

func signIn(t *testing.T, m *Manager, ac *Context) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	target, err := m.BeginSignIn(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, "https://backend.test/auth/v1/authorize?provider=github"))
	state := cookieFrom(t, rec, stateCookie)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil)
	req.AddCookie(state)
	rec = httptest.NewRecorder()
	require.NoError(t, m.CompleteSignIn(context.Background(), rec, req, ac))
	return cookieFrom(t, rec, sessionCookie)
}

func TestSignInFlow(t *testing.T) {
	p := &fakeProvider{session: testSession(t, time.Now().Add(time.Hour))}
	m := newTestManager(t, p)

	ac := Anonymous()
	var loadingDuringExchange bool
	p.onExchange = func() { loadingDuringExchange = ac.Loading() }

	cookie := signIn(t, m, ac)
	assert.True(t, loadingDuringExchange)
	assert.False(t, ac.Loading())
	require.True(t, ac.SignedIn())
	assert.Equal(t, "alice", ac.Identity().DisplayName())
	require.Len(t, p.exchanged, 1)
	assert.True(t, strings.HasPrefix(p.exchanged[0], "abc:"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded := m.Load(httptest.NewRecorder(), req)
	require.True(t, loaded.SignedIn())
	assert.Equal(t, "user-1", loaded.Identity().ID)
	assert.Equal(t, "https://avatars/alice.png", loaded.Identity().AvatarURL)
	assert.Empty(t, p.refreshed)
}

func TestCallbackRequiresStartedSignIn(t *testing.T) {
	m := newTestManager(t, &fakeProvider{})
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil)
	err := m.CompleteSignIn(context.Background(), httptest.NewRecorder(), req, Anonymous())
	assert.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied&error_description=User+denied", nil)
	err = m.CompleteSignIn(context.Background(), httptest.NewRecorder(), req, Anonymous())
	assert.EqualError(t, err, "User denied")
}

func TestLoadRefreshesExpiredToken(t *testing.T) {
	p := &fakeProvider{
		session: testSession(t, time.Now().Add(-time.Minute)),
		refresh: testSession(t, time.Now().Add(time.Hour)),
	}
	m := newTestManager(t, p)
	cookie := signIn(t, m, Anonymous())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	ac := m.Load(rec, req)
	require.True(t, ac.SignedIn())
	assert.Equal(t, []string{"refresh-1"}, p.refreshed)
	renewed := cookieFrom(t, rec, sessionCookie)
	assert.Equal(t, cookie.Value, renewed.Value)
	assert.True(t, renewed.Expires.After(time.Now().Add(29*24*time.Hour)))
	assert.Equal(t, p.refresh.AccessToken, ac.AccessToken())

	// The refreshed session was persisted.
	ac = m.Load(httptest.NewRecorder(), req)
	assert.Len(t, p.refreshed, 1)
	assert.Equal(t, p.refresh.AccessToken, ac.AccessToken())
}

func TestConcurrentLoadsRefreshOnce(t *testing.T) {
	p := &fakeProvider{
		session: testSession(t, time.Now().Add(-time.Minute)),
		refresh: testSession(t, time.Now().Add(time.Hour)),
	}
	m := newTestManager(t, p)
	cookie := signIn(t, m, Anonymous())

	const visitors = 5
	var wg sync.WaitGroup
	signedIn := make([]bool, visitors)
	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(cookie)
			signedIn[i] = m.Load(httptest.NewRecorder(), req).SignedIn()
		}(i)
	}
	wg.Wait()

	for i, ok := range signedIn {
		assert.True(t, ok, "request %d", i)
	}
	assert.Equal(t, []string{"refresh-1"}, p.refreshed)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	assert.True(t, m.Load(httptest.NewRecorder(), req).SignedIn())
}

func TestLoadFailedRefreshIsAnonymous(t *testing.T) {
	p := &fakeProvider{
		session:    testSession(t, time.Now().Add(-time.Minute)),
		refreshErr: errors.New("refresh token revoked"),
	}
	m := newTestManager(t, p)
	cookie := signIn(t, m, Anonymous())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	assert.False(t, m.Load(httptest.NewRecorder(), req).SignedIn())
}

func TestLoadWithoutCookie(t *testing.T) {
	m := newTestManager(t, &fakeProvider{})
	ac := m.Load(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ac.SignedIn())
	assert.Nil(t, ac.Identity())
}

func TestSignOut(t *testing.T) {
	p := &fakeProvider{session: testSession(t, time.Now().Add(time.Hour))}
	m := newTestManager(t, p)
	ac := Anonymous()
	cookie := signIn(t, m, ac)
	token := ac.AccessToken()

	rec := httptest.NewRecorder()
	m.SignOut(context.Background(), rec, ac)
	assert.False(t, ac.SignedIn())
	assert.False(t, ac.Loading())
	assert.Equal(t, []string{token}, p.signedOut)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	assert.False(t, m.Load(httptest.NewRecorder(), req).SignedIn())
}

func TestContextRoundTrip(t *testing.T) {
	assert.False(t, FromContext(context.Background()).SignedIn())

	ac := NewSignedIn("sid", testSession(t, time.Now().Add(time.Hour)))
	ctx := WithContext(context.Background(), ac)
	assert.Same(t, ac, FromContext(ctx))

	var nilCtx *Context
	assert.Nil(t, nilCtx.Identity())
	assert.False(t, nilCtx.Loading())
}
