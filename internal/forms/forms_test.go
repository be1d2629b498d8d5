package forms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexora/internal/data"
	"nexora/internal/models"
	"nexora/internal/query"
)

type fakeService struct {
	calls []string

	uploadURL string
	uploadErr error

	postErr      error
	posts        []models.NewPost
	communityErr error
	communities  []models.NewCommunity
}

func (s *fakeService) UploadImage(ctx context.Context, file data.ImageFile) (string, error) {
	s.calls = append(s.calls, "upload")
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return s.uploadURL, nil
}

func (s *fakeService) CreatePost(ctx context.Context, post models.NewPost) (*models.Post, error) {
	s.calls = append(s.calls, "insert post")
	if s.postErr != nil {
		return nil, s.postErr
	}
	s.posts = append(s.posts, post)
	return &models.Post{ID: 1, Title: post.Title, ImageURL: post.ImageURL}, nil
}

func (s *fakeService) CreateCommunity(ctx context.Context, c models.NewCommunity) (*models.Community, error) {
	s.calls = append(s.calls, "insert community")
	if s.communityErr != nil {
		return nil, s.communityErr
	}
	s.communities = append(s.communities, c)
	return &models.Community{ID: 5, Name: c.Name}, nil
}

type recordingCache struct {
	keys []query.Key
}

func (c *recordingCache) Invalidate(keys ...query.Key) {
	c.keys = append(c.keys, keys...)
}

func (c *recordingCache) count(key query.Key) int {
	n := 0
	for _, k := range c.keys {
		if k == key {
			n++
		}
	}
	return n
}

var alice = &models.Identity{ID: "user-1", Email: "alice@example.com"}

func pngFile(size int64) *data.ImageFile {
	return &data.ImageFile{Name: "a.png", ContentType: "image/png", Size: size, Body: strings.NewReader("png")}
}

func TestValidateCommunity(t *testing.T) {
	tests := []struct {
		name, desc string
		ident      *models.Identity
		want       string
	}{
		{"Abc", "0123456789", nil, "You must be logged in to create a community"},
		{"", "", alice, "Community name is required"},
		{"   ", "0123456789", alice, "Community name is required"},
		{"Ab", "0123456789", alice, "Community name must be at least 3 characters long"},
		{"  Ab  ", "0123456789", alice, "Community name must be at least 3 characters long"},
		{"Abc", "", alice, "Community description is required"},
		{"Abc", " 012345678 ", alice, "Community description must be at least 10 characters long"},
		{"Abc", "0123456789", alice, ""},
		{"Åbç", "ÅÅÅÅÅÅÅÅÅÅ", alice, ""},
	}
	for _, tt := range tests {
		err := ValidateCommunity(tt.ident, tt.name, tt.desc)
		if tt.want == "" {
			assert.NoError(t, err, "%q/%q", tt.name, tt.desc)
			continue
		}
		require.Error(t, err, "%q/%q", tt.name, tt.desc)
		assert.Equal(t, tt.want, err.Error())
	}
}

func TestValidatePostOrder(t *testing.T) {
	err := ValidatePost(nil, "", "", URLImage{})
	assert.Equal(t, "You must be logged in to create a post", err.Error())

	err = ValidatePost(alice, " ", "", URLImage{})
	assert.Equal(t, "Title is required", err.Error())

	err = ValidatePost(alice, "t", "\n", URLImage{})
	assert.Equal(t, "Content is required", err.Error())

	err = ValidatePost(alice, "t", "c", URLImage{URL: "  "})
	assert.Equal(t, "Image URL is required", err.Error())

	err = ValidatePost(alice, "t", "c", FileImage{})
	assert.Equal(t, "Please select an image file", err.Error())

	assert.NoError(t, ValidatePost(alice, "t", "c", URLImage{URL: "https://img"}))
	assert.NoError(t, ValidatePost(alice, "t", "c", FileImage{File: pngFile(10)}))
}

func TestValidateImageFile(t *testing.T) {
	assert.NoError(t, ValidateImageFile(pngFile(MaxImageSize)))

	err := ValidateImageFile(pngFile(MaxImageSize + 1))
	assert.Equal(t, "Image file size must be less than 5MB", err.Error())

	err = ValidateImageFile(&data.ImageFile{Name: "a.pdf", ContentType: "application/pdf", Size: 10})
	assert.Equal(t, "Please select a valid image file", err.Error())

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "image", vErr.Field)
}

func TestCommunityFormRejectsShortNameWithoutCalls(t *testing.T) {
	svc := &fakeService{}
	cache := &recordingCache{}
	f := NewCommunityForm(svc, cache, nil)
	f.Name = "Ab"
	f.Description = "0123456789"

	_, err := f.Submit(context.Background(), alice)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "name", vErr.Field)
	assert.Empty(t, svc.calls)
	assert.Empty(t, cache.keys)
	assert.Equal(t, Idle, f.Phase())
	assert.Equal(t, err, f.Err())
}

func TestCommunityFormRejectsShortDescriptionWithoutCalls(t *testing.T) {
	svc := &fakeService{}
	f := NewCommunityForm(svc, &recordingCache{}, nil)
	f.Name = "Gophers"
	f.Description = "too short"

	_, err := f.Submit(context.Background(), alice)
	require.Error(t, err)
	assert.Empty(t, svc.calls)
}

func TestCommunityFormSubmits(t *testing.T) {
	svc := &fakeService{}
	cache := &recordingCache{}
	f := NewCommunityForm(svc, cache, nil)
	f.Name = " Abc "
	f.Description = "0123456789"

	var phases []Phase
	f.OnTransition = func(from, to Phase) { phases = append(phases, to) }

	out, err := f.Submit(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "/communities", out.Redirect)
	assert.Equal(t, []string{"insert community"}, svc.calls)
	assert.Equal(t, []models.NewCommunity{{Name: "Abc", Description: "0123456789", UserID: "user-1"}}, svc.communities)
	assert.Equal(t, []query.Key{query.Communities(), query.CommunityOptions()}, cache.keys)
	assert.Equal(t, []Phase{Validating, Submitting, Succeeded}, phases)
}

func TestCommunityFormFailureKeepsValues(t *testing.T) {
	svc := &fakeService{communityErr: &data.ServiceError{Message: "duplicate key value"}}
	cache := &recordingCache{}
	f := NewCommunityForm(svc, cache, nil)
	f.Name = "Gophers"
	f.Description = "All things Go, all day."

	var phases []Phase
	f.OnTransition = func(from, to Phase) { phases = append(phases, to) }

	_, err := f.Submit(context.Background(), alice)
	require.Error(t, err)
	assert.Equal(t, "duplicate key value", f.Err().Error())
	assert.Equal(t, Idle, f.Phase())
	assert.Equal(t, "Gophers", f.Name)
	assert.Equal(t, "All things Go, all day.", f.Description)
	assert.Empty(t, cache.keys)
	assert.Equal(t, []Phase{Validating, Submitting, Failed, Idle}, phases)

	svc.communityErr = nil
	_, err = f.Submit(context.Background(), alice)
	require.NoError(t, err)
	assert.Nil(t, f.Err())
}

func TestUnauthenticatedSubmitStopsAtIdentity(t *testing.T) {
	svc := &fakeService{}

	cf := NewCommunityForm(svc, &recordingCache{}, nil)
	_, err := cf.Submit(context.Background(), nil)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "identity", vErr.Field)

	pf := NewPostForm(svc, &recordingCache{}, nil)
	_, err = pf.Submit(context.Background(), &models.Identity{})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "identity", vErr.Field)

	assert.Empty(t, svc.calls)
}

func TestPostFormURLMode(t *testing.T) {
	svc := &fakeService{}
	cache := &recordingCache{}
	f := NewPostForm(svc, cache, nil)
	f.Title = " Hello "
	f.Content = " World "
	f.SetImageURL(" https://img/cat.png ")

	out, err := f.Submit(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "/", out.Redirect)
	assert.Equal(t, Succeeded, f.Phase())
	assert.Equal(t, []string{"insert post"}, svc.calls)
	assert.Equal(t, models.NewPost{
		Title:    "Hello",
		Content:  "World",
		ImageURL: "https://img/cat.png",
		UserID:   "user-1",
	}, svc.posts[0])
	assert.Equal(t, 1, cache.count(query.Posts()))
	assert.Len(t, cache.keys, 1)
}

func TestPostFormInvalidatesCommunityFeed(t *testing.T) {
	svc := &fakeService{}
	cache := &recordingCache{}
	f := NewPostForm(svc, cache, nil)
	f.Title, f.Content = "t", "c"
	f.SetImageURL("https://img")
	id := int64(9)
	f.CommunityID = &id

	_, err := f.Submit(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.count(query.Posts()))
	assert.Equal(t, 1, cache.count(query.CommunityPosts(9)))
	assert.Equal(t, &id, svc.posts[0].CommunityID)
}

func TestPostFormFileModeUploadsBeforeInsert(t *testing.T) {
	svc := &fakeService{uploadURL: "https://backend/public/post-images/x.png"}
	f := NewPostForm(svc, &recordingCache{}, nil)
	f.Title, f.Content = "t", "c"
	f.SetImageMode(ModeFile)
	require.NoError(t, f.SelectFile(pngFile(1024)))

	_, err := f.Submit(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"upload", "insert post"}, svc.calls)
	assert.Equal(t, "https://backend/public/post-images/x.png", svc.posts[0].ImageURL)
}

func TestPostFormOversizedFileRejectedBeforeUpload(t *testing.T) {
	svc := &fakeService{}
	f := NewPostForm(svc, &recordingCache{}, nil)
	f.Title, f.Content = "t", "c"
	f.SetImageMode(ModeFile)

	err := f.SelectFile(pngFile(MaxImageSize + 1))
	require.Error(t, err)
	assert.Equal(t, err, f.Err())
	assert.Nil(t, f.Image().(FileImage).File)

	_, err = f.Submit(context.Background(), alice)
	assert.Equal(t, "Please select an image file", err.Error())
	assert.Empty(t, svc.calls)
}

func TestPostFormOversizedFileStagedDirectly(t *testing.T) {
	// A file staged without SelectFile is still checked at submit.
	svc := &fakeService{}
	f := NewPostForm(svc, &recordingCache{}, nil)
	f.Title, f.Content = "t", "c"
	f.image = FileImage{File: pngFile(MaxImageSize + 1)}

	_, err := f.Submit(context.Background(), alice)
	assert.Equal(t, "Image file size must be less than 5MB", err.Error())
	assert.Empty(t, svc.calls)
}

func TestPostFormUploadFailureAbortsInsert(t *testing.T) {
	svc := &fakeService{uploadErr: errors.New("bucket not found")}
	cache := &recordingCache{}
	f := NewPostForm(svc, cache, nil)
	f.Title, f.Content = "t", "c"
	f.SetImageMode(ModeFile)
	require.NoError(t, f.SelectFile(pngFile(10)))

	_, err := f.Submit(context.Background(), alice)
	var upErr *data.UploadError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "Image upload failed: bucket not found", err.Error())
	assert.Equal(t, []string{"upload"}, svc.calls)
	assert.Empty(t, cache.keys)
	assert.Equal(t, Idle, f.Phase())
	assert.NotNil(t, f.Image().(FileImage).File)
}

func TestPostFormInsertFailureKeepsValues(t *testing.T) {
	svc := &fakeService{postErr: &data.ServiceError{Message: "new row violates row-level security policy"}}
	f := NewPostForm(svc, &recordingCache{}, nil)
	f.Title, f.Content = "t", "c"
	f.SetImageURL("https://img")

	_, err := f.Submit(context.Background(), alice)
	require.Error(t, err)
	assert.Equal(t, "new row violates row-level security policy", f.Err().Error())
	assert.Equal(t, "t", f.Title)
	assert.Equal(t, URLImage{URL: "https://img"}, f.Image())
}

func TestSwitchingImageModeClearsState(t *testing.T) {
	f := NewPostForm(&fakeService{}, &recordingCache{}, nil)
	f.SetImageURL("https://img")
	f.SetImageMode(ModeFile)
	assert.Equal(t, FileImage{}, f.Image())

	require.Error(t, f.SelectFile(&data.ImageFile{ContentType: "text/plain"}))
	require.NoError(t, f.SelectFile(pngFile(10)))
	require.Error(t, f.SelectFile(pngFile(MaxImageSize+1)))
	require.NotNil(t, f.Err())

	f.SetImageMode(ModeURL)
	assert.Equal(t, URLImage{}, f.Image())
	assert.Nil(t, f.Err())

	f.SetImageMode(ModeFile)
	f.SetImageURL("ignored in file mode")
	assert.Equal(t, FileImage{}, f.Image())
}

func TestSelectFileRequiresFileMode(t *testing.T) {
	f := NewPostForm(&fakeService{}, &recordingCache{}, nil)
	require.Error(t, f.SelectFile(pngFile(10)))
	assert.Equal(t, URLImage{}, f.Image())
}
