// Package data holds the data access functions: each one turns a typed
// request into a single backend call and normalizes the answer.
package data

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"nexora/internal/models"
	"nexora/internal/supabase"
)

const (
	DefaultPostsRPC = "get_posts_with_counts"
	DefaultBucket   = "post-images"

	postsTable       = "posts"
	communitiesTable = "communities"
	uploadPrefix     = "post-images/"
)

// Backend is the subset of the hosted service the store talks to.
// *supabase.Client satisfies it.
type Backend interface {
	Select(ctx context.Context, table string, q supabase.Query, out any) error
	Insert(ctx context.Context, table string, row any, out any) error
	RPC(ctx context.Context, fn string, args any, out any) error
	Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error
	PublicURL(bucket, path string) string
}

type Options struct {
	PostsRPC string
	Bucket   string
}

type Store struct {
	backend  Backend
	log      *zap.Logger
	postsRPC string
	bucket   string
	now      func() time.Time
}

func New(backend Backend, log *zap.Logger, opts Options) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PostsRPC == "" {
		opts.PostsRPC = DefaultPostsRPC
	}
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	return &Store{
		backend:  backend,
		log:      log,
		postsRPC: opts.PostsRPC,
		bucket:   opts.Bucket,
		now:      time.Now,
	}
}

// fail logs a backend failure and converts it to a ServiceError.
func (s *Store) fail(op, prefix string, err error) *ServiceError {
	s.log.Error("backend call failed", zap.String("op", op), zap.Error(err))
	return &ServiceError{Op: op, Message: prefix + err.Error(), Err: err}
}

// FetchPosts returns the feed, newest first, with like and comment counts.
// When the counting RPC is unavailable the plain table is read instead and
// every row carries zero counts and no avatar. The RPC error is only logged.
func (s *Store) FetchPosts(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	err := s.backend.RPC(ctx, s.postsRPC, nil, &posts)
	if err == nil {
		if posts == nil {
			posts = []models.Post{}
		}
		return posts, nil
	}
	s.log.Warn("posts rpc failed, using fallback query",
		zap.String("rpc", s.postsRPC),
		zap.Error(err),
	)

	var rows []models.Post
	err = s.backend.Select(ctx, postsTable, supabase.Query{
		Columns: "id,title,content,created_at,image_url",
		Order:   []supabase.Order{{Column: "created_at", Desc: true}},
	}, &rows)
	if err != nil {
		return nil, s.fail("fetch posts fallback", "Database error: ", err)
	}

	posts = make([]models.Post, 0, len(rows))
	for _, row := range rows {
		likes, comments := 0, 0
		row.AvatarURL = nil
		row.LikeCount = &likes
		row.CommentCount = &comments
		posts = append(posts, row)
	}
	return posts, nil
}

// FetchCommunities lists every community, newest first.
func (s *Store) FetchCommunities(ctx context.Context) ([]models.Community, error) {
	communities := []models.Community{}
	err := s.backend.Select(ctx, communitiesTable, supabase.Query{
		Columns: "*",
		Order:   []supabase.Order{{Column: "created_at", Desc: true}},
	}, &communities)
	if err != nil {
		return nil, s.fail("fetch communities", "", err)
	}
	return communities, nil
}

// FetchCommunityOptions lists communities by name for the post form picker.
func (s *Store) FetchCommunityOptions(ctx context.Context) ([]models.Community, error) {
	communities := []models.Community{}
	err := s.backend.Select(ctx, communitiesTable, supabase.Query{
		Columns: "id,name,description",
		Order:   []supabase.Order{{Column: "name"}},
	}, &communities)
	if err != nil {
		return nil, s.fail("fetch community options", "", err)
	}
	return communities, nil
}

// FetchCommunity returns ErrNotFound when no community has the id.
func (s *Store) FetchCommunity(ctx context.Context, id int64) (*models.Community, error) {
	var rows []models.Community
	err := s.backend.Select(ctx, communitiesTable, supabase.Query{
		Columns: "*",
		Filters: []supabase.Filter{supabase.Eq("id", id)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, s.fail("fetch community", "", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// FetchCommunityPosts returns the posts of one community with the community
// name joined in.
func (s *Store) FetchCommunityPosts(ctx context.Context, communityID int64) ([]models.Post, error) {
	posts := []models.Post{}
	err := s.backend.Select(ctx, postsTable, supabase.Query{
		Columns: "*, communities(name)",
		Filters: []supabase.Filter{supabase.Eq("community_id", communityID)},
		Order:   []supabase.Order{{Column: "created_at", Desc: true}},
	}, &posts)
	if err != nil {
		return nil, s.fail("fetch community posts", "", err)
	}
	return posts, nil
}

func (s *Store) CreatePost(ctx context.Context, post models.NewPost) (*models.Post, error) {
	created := &models.Post{}
	if err := s.backend.Insert(ctx, postsTable, post, created); err != nil {
		return nil, s.fail("create post", "", err)
	}
	return created, nil
}

func (s *Store) CreateCommunity(ctx context.Context, community models.NewCommunity) (*models.Community, error) {
	created := &models.Community{}
	if err := s.backend.Insert(ctx, communitiesTable, community, created); err != nil {
		return nil, s.fail("create community", "", err)
	}
	return created, nil
}

// ImageFile is an image picked for upload.
type ImageFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadPath builds a collision resistant object key: a ULID (millisecond
// timestamp plus 80 random bits) followed by the original extension.
func UploadPath(name string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return uploadPrefix + strings.ToLower(id.String()) + strings.ToLower(filepath.Ext(name))
}

// UploadImage stores the file and returns its public URL.
func (s *Store) UploadImage(ctx context.Context, file ImageFile) (string, error) {
	path := UploadPath(file.Name, s.now())
	if err := s.backend.Upload(ctx, s.bucket, path, file.ContentType, file.Body); err != nil {
		svcErr := s.fail("upload image", "", err)
		return "", &UploadError{ServiceError: *svcErr}
	}
	return s.backend.PublicURL(s.bucket, path), nil
}
