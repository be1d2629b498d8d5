// Package forms holds the create-post and create-community controllers and
// the validation rules they run before anything is sent to the backend.
package forms

import (
	"strings"
	"unicode/utf8"

	"nexora/internal/data"
	"nexora/internal/models"
)

const (
	MaxImageSize      = 5 * 1024 * 1024
	MinNameLen        = 3
	MinDescriptionLen = 10
)

// ValidationError is a local, user-correctable rejection. It never reaches
// the backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func requireIdentity(ident *models.Identity, what string) error {
	if ident == nil || ident.ID == "" {
		return invalid("identity", "You must be logged in to create a "+what)
	}
	return nil
}

func required(field, value, message string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, message)
	}
	return nil
}

func minLen(field, value string, n int, message string) error {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < n {
		return invalid(field, message)
	}
	return nil
}

// ValidateImageFile checks a picked file before it is staged or uploaded.
func ValidateImageFile(file *data.ImageFile) error {
	if file == nil {
		return invalid("image", "Please select an image file")
	}
	if !strings.HasPrefix(file.ContentType, "image/") {
		return invalid("image", "Please select a valid image file")
	}
	if file.Size > MaxImageSize {
		return invalid("image", "Image file size must be less than 5MB")
	}
	return nil
}

func validateImage(image ImageSource) error {
	switch img := image.(type) {
	case FileImage:
		return ValidateImageFile(img.File)
	case URLImage:
		return required("image", img.URL, "Image URL is required")
	}
	return invalid("image", "Image URL is required")
}

// ValidatePost checks the identity, then title, content and image, and
// reports only the first failure.
func ValidatePost(ident *models.Identity, title, content string, image ImageSource) error {
	if err := requireIdentity(ident, "post"); err != nil {
		return err
	}
	if err := required("title", title, "Title is required"); err != nil {
		return err
	}
	if err := required("content", content, "Content is required"); err != nil {
		return err
	}
	return validateImage(image)
}

// ValidateCommunity checks the identity, then name and description, and
// reports only the first failure.
func ValidateCommunity(ident *models.Identity, name, description string) error {
	if err := requireIdentity(ident, "community"); err != nil {
		return err
	}
	if err := required("name", name, "Community name is required"); err != nil {
		return err
	}
	if err := minLen("name", name, MinNameLen, "Community name must be at least 3 characters long"); err != nil {
		return err
	}
	if err := required("description", description, "Community description is required"); err != nil {
		return err
	}
	return minLen("description", description, MinDescriptionLen, "Community description must be at least 10 characters long")
}
