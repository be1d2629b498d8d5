package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"nexora/internal/supabase"
)

const sessionCookie = "nexora_session"
const stateCookie = "nexora_oauth_state"

// refreshSkew refreshes access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// Provider is the hosted auth service. *supabase.Client satisfies it.
type Provider interface {
	AuthorizeURL(provider, redirectTo, codeChallenge string) string
	ExchangeCode(ctx context.Context, authCode, verifier string) (*supabase.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*supabase.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

type Options struct {
	// ProviderName is the OAuth provider to sign in with, "github" by default.
	ProviderName string
	RedirectURL  string
	MaxAge       time.Duration
	SecureCookie bool
}

// Manager ties visitors (by cookie) to persisted backend sessions and runs
// the sign-in and sign-out flows.
type Manager struct {
	store    *Store
	provider Provider
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	// refreshes runs at most one token refresh per session id.
	refreshes singleflight.Group
}

func NewManager(store *Store, provider Provider, opts Options, log *zap.Logger) *Manager {
	if opts.ProviderName == "" {
		opts.ProviderName = "github"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, provider: provider, opts: opts, log: log, now: time.Now}
}

// Start prunes sessions that expired while the process was down.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.store.Prune(ctx)
	if err != nil {
		return err
	}
	m.log.Info("session store ready", zap.Int64("pruned", n))
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// BeginSignIn records a PKCE verifier for this visitor and returns the
// provider URL to redirect to.
func (m *Manager) BeginSignIn(ctx context.Context, w http.ResponseWriter) (string, error) {
	state := uuid.New().String()
	verifier, challenge := supabase.NewCodeVerifier()
	if err := m.store.SaveVerifier(ctx, state, verifier); err != nil {
		return "", err
	}
	m.setCookie(w, stateCookie, state, m.now().Add(verifierMaxAge))
	return m.provider.AuthorizeURL(m.opts.ProviderName, m.opts.RedirectURL, challenge), nil
}

// CompleteSignIn handles the provider callback: it exchanges the code for a
// session, persists it and signs ac in.
func (m *Manager) CompleteSignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, ac *Context) error {
	ac.setLoading(true)
	defer ac.setLoading(false)

	q := r.URL.Query()
	if desc := q.Get("error_description"); desc != "" {
		return errors.New(desc)
	}
	if e := q.Get("error"); e != "" {
		return errors.New(e)
	}
	code := q.Get("code")
	if code == "" {
		return errors.New("sign-in callback without a code")
	}

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" {
		return errors.New("sign-in was not started from this browser")
	}
	m.clearCookie(w, stateCookie)
	verifier, err := m.store.TakeVerifier(ctx, c.Value)
	if err != nil {
		return errors.New("sign-in attempt expired, please try again")
	}

	session, err := m.provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		m.log.Error("code exchange failed", zap.Error(err))
		return err
	}

	id := uuid.New().String()
	expires := m.now().Add(m.opts.MaxAge)
	if err := m.store.Save(ctx, id, session, expires); err != nil {
		return err
	}
	m.setCookie(w, sessionCookie, id, expires)
	ac.signIn(id, session)
	m.log.Info("signed in", zap.String("user_id", session.User.ID))
	return nil
}

func (m *Manager) expired(session *supabase.Session) bool {
	deadline := time.Unix(session.ExpiresAt, 0)
	if claims, err := supabase.ParseAccessToken(session.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
		deadline = claims.ExpiresAt
	}
	if session.ExpiresAt == 0 && deadline.Unix() == 0 {
		return false
	}
	return !m.now().Add(refreshSkew).Before(deadline)
}

// Load hydrates the visitor's persisted session. Unknown cookies, expired
// sessions and failed refreshes all yield an anonymous context. A refreshed
// session also renews the cookie.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) *Context {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return Anonymous()
	}
	ctx := r.Context()
	session, err := m.store.Load(ctx, c.Value)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.log.Error("load session", zap.Error(err))
		}
		return Anonymous()
	}

	if m.expired(session) {
		v, err, _ := m.refreshes.Do(c.Value, func() (any, error) {
			return m.refresh(context.WithoutCancel(ctx), c.Value)
		})
		if err != nil {
			return Anonymous()
		}
		session = v.(*supabase.Session)
		m.setCookie(w, sessionCookie, c.Value, m.now().Add(m.opts.MaxAge))
	}
	return NewSignedIn(c.Value, session)
}

// refresh renews the access token of session id. The row is read again
// first: a request that loaded it earlier may find it already refreshed, and
// the spent refresh token must not be used twice.
func (m *Manager) refresh(ctx context.Context, id string) (*supabase.Session, error) {
	session, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.expired(session) {
		return session, nil
	}
	refreshed, err := m.provider.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		m.log.Warn("session refresh failed", zap.String("user_id", session.User.ID), zap.Error(err))
		_ = m.store.Delete(ctx, id)
		return nil, err
	}
	if err := m.store.Save(ctx, id, refreshed, m.now().Add(m.opts.MaxAge)); err != nil {
		m.log.Error("save refreshed session", zap.Error(err))
	}
	return refreshed, nil
}

// SignOut revokes the backend session, forgets it locally and clears ac.
// A failed revoke is logged; the visitor is signed out locally regardless.
func (m *Manager) SignOut(ctx context.Context, w http.ResponseWriter, ac *Context) {
	ac.setLoading(true)
	defer ac.setLoading(false)

	if token := ac.AccessToken(); token != "" {
		if err := m.provider.SignOut(ctx, token); err != nil {
			m.log.Warn("backend sign-out failed", zap.Error(err))
		}
	}
	ac.mu.Lock()
	id := ac.sessionID
	ac.mu.Unlock()
	if id != "" {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Error("delete session", zap.Error(err))
		}
	}
	m.clearCookie(w, sessionCookie)
	ac.clear()
}
