package forms

import "nexora/internal/data"

type ImageMode string

const (
	ModeURL  ImageMode = "url"
	ModeFile ImageMode = "file"
)

// ImageSource is where a post's image comes from: either a URL typed by the
// user or a file to upload. Exactly one is staged at a time.
type ImageSource interface {
	Mode() ImageMode
	isImageSource()
}

type URLImage struct {
	URL string
}

func (URLImage) Mode() ImageMode { return ModeURL }
func (URLImage) isImageSource()  {}

// FileImage holds the selected file; File is nil until one is picked.
type FileImage struct {
	File *data.ImageFile
}

func (FileImage) Mode() ImageMode { return ModeFile }
func (FileImage) isImageSource()  {}

// emptyImage returns the blank source for mode. Unknown modes fall back to
// URL entry.
func emptyImage(mode ImageMode) ImageSource {
	if mode == ModeFile {
		return FileImage{}
	}
	return URLImage{}
}
