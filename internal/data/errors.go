package data

import "errors"

// ErrNotFound is returned by detail lookups that match no row. It is a
// state, not a failure.
var ErrNotFound = errors.New("not found")

// ServiceError is any failed call to the backend. Message is the detail the
// service gave us.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// UploadError is a failed object upload. It is reported apart from row-level
// service errors.
type UploadError struct {
	ServiceError
}

func (e *UploadError) Error() string {
	return "Image upload failed: " + e.Message
}

func (e *UploadError) Unwrap() error {
	return &e.ServiceError
}
