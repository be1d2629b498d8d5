package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"nexora/internal/auth"
	"nexora/internal/data"
	"nexora/internal/models"
	"nexora/internal/query"
)

//go:embed templates/*.html
var templateFS embed.FS

// Sessions is the visitor auth flow. *auth.Manager satisfies it.
type Sessions interface {
	Load(w http.ResponseWriter, r *http.Request) *auth.Context
	BeginSignIn(ctx context.Context, w http.ResponseWriter) (string, error)
	CompleteSignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, ac *auth.Context) error
	SignOut(ctx context.Context, w http.ResponseWriter, ac *auth.Context)
}

type Handler struct {
	store    *data.Store
	cache    *query.Cache
	sessions Sessions
	tpls     *template.Template
	log      *zap.Logger
}

func New(store *data.Store, cache *query.Cache, sessions Sessions, log *zap.Logger) *Handler {
	tpls := template.Must(template.New("").Funcs(template.FuncMap{
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("Jan 2, 2006")
		},
		"initial": func(s string) string {
			for _, r := range s {
				return string(r)
			}
			return "?"
		},
	}).ParseFS(templateFS, "templates/*.html"))
	return &Handler{store: store, cache: cache, sessions: sessions, tpls: tpls, log: log}
}

// Routes registers every page on a new mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /communities", h.Communities)
	mux.HandleFunc("GET /community/{id}", h.CommunityByID)

	mux.HandleFunc("GET /create", h.RequireAuth(h.NewPost))
	mux.HandleFunc("POST /create", h.RequireAuth(h.CreatePost))
	mux.HandleFunc("GET /community/create", h.RequireAuth(h.NewCommunity))
	mux.HandleFunc("POST /community/create", h.RequireAuth(h.CreateCommunity))

	mux.HandleFunc("GET /auth/signin", h.SignIn)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/signout", h.SignOut)

	mux.HandleFunc("/", h.NotFound)

	return WithRecover(h.WithAuth(mux), h.log)
}

// WithAuth hydrates the visitor's auth context for every request.
func (h *Handler) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := h.sessions.Load(w, r)
		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
	})
}

// RequireAuth shows the login-required page to anonymous visitors.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.FromContext(r.Context()).SignedIn() {
			h.render(w, r, http.StatusUnauthorized, "login_required", map[string]any{
				"Title": "Login Required",
			})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, page map[string]any) {
	ac := auth.FromContext(r.Context())
	page["User"] = ac.Identity()
	page["Logged"] = ac.SignedIn()
	page["AuthLoading"] = ac.Loading()
	if _, ok := page["Title"]; !ok {
		page["Title"] = "Nexora"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.tpls.ExecuteTemplate(w, name, page); err != nil {
		h.log.Error("render", zap.String("template", name), zap.Error(err))
	}
}

func (h *Handler) failure(w http.ResponseWriter, r *http.Request, err error) {
	h.render(w, r, http.StatusBadGateway, "error", map[string]any{
		"Title":   "Something went wrong",
		"Message": err.Error(),
	})
}

// -------- Pages

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	posts, err := query.Fetch(r.Context(), h.cache, query.Posts(), query.PostsPolicy, h.store.FetchPosts)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "home", map[string]any{
		"Title": "Nexora",
		"Posts": posts,
	})
}

func (h *Handler) Communities(w http.ResponseWriter, r *http.Request) {
	communities, err := query.Fetch(r.Context(), h.cache, query.Communities(), query.CommunityPolicy, h.store.FetchCommunities)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "communities", map[string]any{
		"Title":       "Communities",
		"Communities": communities,
	})
}

// fetchCommunity caches a missing community as nil so a bad id is not
// retried.
func (h *Handler) fetchCommunity(ctx context.Context, id int64) (*models.Community, error) {
	return query.Fetch(ctx, h.cache, query.Community(id), query.CommunityPolicy, func(ctx context.Context) (*models.Community, error) {
		c, err := h.store.FetchCommunity(ctx, id)
		if errors.Is(err, data.ErrNotFound) {
			return nil, nil
		}
		return c, err
	})
}

func (h *Handler) CommunityByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.NotFound(w, r)
		return
	}

	community, posts, err := h.loadCommunityPage(r.Context(), id)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if community == nil {
		h.render(w, r, http.StatusNotFound, "notfound", map[string]any{
			"Title":   "Community not found",
			"Message": "This community does not exist.",
		})
		return
	}
	h.render(w, r, http.StatusOK, "community", map[string]any{
		"Title":     community.Name,
		"Community": community,
		"Posts":     posts,
	})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	target, err := h.sessions.BeginSignIn(r.Context(), w)
	if err != nil {
		h.log.Error("begin sign-in", zap.Error(err))
		h.failure(w, r, errors.New("Sign in failed, please try again"))
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if err := h.sessions.CompleteSignIn(r.Context(), w, r, ac); err != nil {
		h.log.Warn("sign-in callback", zap.Error(err))
		h.render(w, r, http.StatusUnauthorized, "error", map[string]any{
			"Title":   "Sign in failed",
			"Message": err.Error(),
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(r.Context(), w, auth.FromContext(r.Context()))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "notfound", map[string]any{
		"Title":   "Not Found",
		"Message": "There is nothing here.",
	})
}
