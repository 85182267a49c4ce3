package screening

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned for submit and clear while a submission is in flight.
	ErrBusy = errors.New("submission in progress")
	// ErrNoCandidate is returned when submitting without a selected image.
	ErrNoCandidate = errors.New("no image selected")
	// ErrSubmissionNotPermitted is returned when the caller may not submit.
	ErrSubmissionNotPermitted = errors.New("submission not permitted")
)

// ValidationError rejects a payload whose declared media type is not an image.
type ValidationError struct {
	Name      string
	MediaType string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid file type %q for %q: please upload an image file", e.MediaType, e.Name)
}

// SubmissionError covers transport failures and non-success responses from the inference service.
type SubmissionError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis failed: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// MissingResultError describes a report view reached without a result.
// It is rendered as a terminal state, never returned up the stack as a failure.
type MissingResultError struct{}

func (MissingResultError) Error() string {
	return "No analysis result found. Please upload an image first."
}

// ExportPreconditionError is returned when export is requested before the report is mounted.
type ExportPreconditionError struct {
	Reason string
}

func (e *ExportPreconditionError) Error() string {
	return "report not ready for export: " + e.Reason
}
