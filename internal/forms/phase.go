package forms

import (
	"errors"

	"go.uber.org/zap"

	"nexora/internal/data"
	"nexora/internal/query"
)

// Phase is where a form is in its submission:
// Idle -> Validating -> Submitting -> Succeeded | Failed.
// A failed validation or submission goes back to Idle with the error kept.
type Phase int

const (
	Idle Phase = iota
	Validating
	Submitting
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Invalidator drops cached query results. *query.Cache satisfies it.
type Invalidator interface {
	Invalidate(keys ...query.Key)
}

// machine is the submission state shared by both forms.
type machine struct {
	phase Phase
	err   error
	log   *zap.Logger

	// OnTransition, when set, sees every phase change.
	OnTransition func(from, to Phase)
}

func (m *machine) Phase() Phase { return m.phase }

// Err is the error to show next to the form, or nil.
func (m *machine) Err() error { return m.err }

func (m *machine) to(p Phase) {
	from := m.phase
	m.phase = p
	m.log.Debug("form transition", zap.Stringer("from", from), zap.Stringer("to", p))
	if m.OnTransition != nil {
		m.OnTransition(from, p)
	}
}

// begin runs validation and moves to Submitting when it passes.
func (m *machine) begin(validate func() error) error {
	m.to(Validating)
	if err := validate(); err != nil {
		m.err = err
		m.to(Idle)
		return err
	}
	m.err = nil
	m.to(Submitting)
	return nil
}

func (m *machine) fail(err error) error {
	m.err = err
	m.to(Failed)
	m.to(Idle)
	return err
}

func asUploadError(err error) error {
	var upErr *data.UploadError
	if errors.As(err, &upErr) {
		return err
	}
	return &data.UploadError{ServiceError: data.ServiceError{Op: "upload image", Message: err.Error(), Err: err}}
}
