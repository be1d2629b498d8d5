package auth

import (
	"context"
	"sync"

	"nexora/internal/models"
	"nexora/internal/supabase"
)

// Context is one visitor's auth state: who is signed in, if anyone, and
// whether a sign-in or sign-out is running. A nil identity means logged out.
type Context struct {
	mu          sync.Mutex
	sessionID   string
	identity    *models.Identity
	accessToken string
	loading     bool
}

func Anonymous() *Context {
	return &Context{}
}

// NewSignedIn is the auth context of a visitor holding session.
func NewSignedIn(sessionID string, session *supabase.Session) *Context {
	return &Context{
		sessionID:   sessionID,
		identity:    identityOf(session),
		accessToken: session.AccessToken,
	}
}

func identityOf(session *supabase.Session) *models.Identity {
	return &models.Identity{
		ID:        session.User.ID,
		Email:     session.User.Email,
		UserName:  session.User.Metadata("user_name"),
		AvatarURL: session.User.Metadata("avatar_url"),
	}
}

// Identity returns a copy of the signed-in identity, or nil.
func (c *Context) Identity() *models.Identity {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil
	}
	ident := *c.identity
	return &ident
}

func (c *Context) SignedIn() bool {
	return c.Identity() != nil
}

// Loading is true while a sign-in or sign-out is in progress.
func (c *Context) Loading() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Context) AccessToken() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Context) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

func (c *Context) signIn(sessionID string, session *supabase.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.identity = identityOf(session)
	c.accessToken = session.AccessToken
}

func (c *Context) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.identity = nil
	c.accessToken = ""
}

type ctxKey struct{}

// WithContext attaches a to ctx. Backend calls made with the returned
// context run as the signed-in user.
func WithContext(ctx context.Context, a *Context) context.Context {
	ctx = context.WithValue(ctx, ctxKey{}, a)
	if token := a.AccessToken(); token != "" {
		ctx = supabase.WithAccessToken(ctx, token)
	}
	return ctx
}

// FromContext returns the visitor's auth context, anonymous when none was
// attached.
func FromContext(ctx context.Context) *Context {
	if a, ok := ctx.Value(ctxKey{}).(*Context); ok && a != nil {
		return a
	}
	return Anonymous()
}
