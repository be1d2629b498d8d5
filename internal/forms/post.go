package forms

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"nexora/internal/data"
	"nexora/internal/models"
	"nexora/internal/query"
)

// PostService is what creating a post needs from the data layer.
// *data.Store satisfies it.
type PostService interface {
	UploadImage(ctx context.Context, file data.ImageFile) (string, error)
	CreatePost(ctx context.Context, post models.NewPost) (*models.Post, error)
}

type PostOutcome struct {
	Post     *models.Post
	Redirect string
}

type PostForm struct {
	machine

	Title       string
	Content     string
	CommunityID *int64

	image ImageSource
	svc   PostService
	cache Invalidator
}

func NewPostForm(svc PostService, cache Invalidator, log *zap.Logger) *PostForm {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostForm{
		machine: machine{log: log},
		image:   URLImage{},
		svc:     svc,
		cache:   cache,
	}
}

func (f *PostForm) Image() ImageSource { return f.image }

// SetImageMode switches between URL entry and file upload. Whatever was
// staged for either mode and any visible error are cleared.
func (f *PostForm) SetImageMode(mode ImageMode) {
	f.image = emptyImage(mode)
	f.err = nil
}

// SetImageURL stages url while in URL mode; it is ignored in file mode.
func (f *PostForm) SetImageURL(url string) {
	if _, ok := f.image.(URLImage); ok {
		f.image = URLImage{URL: url}
	}
}

// SelectFile stages file while in file mode. A file that is not an image or
// is larger than 5 MiB is rejected and the previous selection is kept.
func (f *PostForm) SelectFile(file *data.ImageFile) error {
	if _, ok := f.image.(FileImage); !ok {
		return invalid("image", "Switch to file upload before selecting a file")
	}
	if err := ValidateImageFile(file); err != nil {
		f.err = err
		return err
	}
	f.image = FileImage{File: file}
	f.err = nil
	return nil
}

// Submit validates the form and creates the post. In file mode the image is
// uploaded first and the post is only inserted once the upload succeeded.
// On any failure the entered values are kept for another try.
func (f *PostForm) Submit(ctx context.Context, ident *models.Identity) (*PostOutcome, error) {
	err := f.begin(func() error {
		return ValidatePost(ident, f.Title, f.Content, f.image)
	})
	if err != nil {
		return nil, err
	}

	var imageURL string
	switch img := f.image.(type) {
	case FileImage:
		imageURL, err = f.svc.UploadImage(ctx, *img.File)
		if err != nil {
			return nil, f.fail(asUploadError(err))
		}
	case URLImage:
		imageURL = strings.TrimSpace(img.URL)
	}

	post, err := f.svc.CreatePost(ctx, models.NewPost{
		Title:       strings.TrimSpace(f.Title),
		Content:     strings.TrimSpace(f.Content),
		ImageURL:    imageURL,
		CommunityID: f.CommunityID,
		UserID:      ident.ID,
	})
	if err != nil {
		return nil, f.fail(err)
	}

	f.cache.Invalidate(query.Posts())
	if f.CommunityID != nil {
		f.cache.Invalidate(query.CommunityPosts(*f.CommunityID))
	}
	f.to(Succeeded)
	return &PostOutcome{Post: post, Redirect: "/"}, nil
}
