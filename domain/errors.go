package domain

import (
	"context"
	"errors"
	"fmt"

	"discovery-worker/sanitizer"
)

type ErrorCode string

const (
	CodeListingFetchFailed ErrorCode = "LISTING_FETCH_FAILED"
	CodeListingParseFailed ErrorCode = "LISTING_PARSE_FAILED"
	CodeProfileFetchFailed ErrorCode = "PROFILE_FETCH_FAILED"
	CodeProfileParseFailed ErrorCode = "PROFILE_PARSE_FAILED"
	CodeMergeFailed        ErrorCode = "MERGE_FAILED"
	CodeNormalizeFailed    ErrorCode = "NORMALIZE_FAILED"
	CodeCancelled          ErrorCode = "CANCELLED"
)

type Step string

const (
	StepListingFetch Step = "listing-fetch"
	StepListingParse Step = "listing-parse"
	StepProfileFetch Step = "profile-fetch"
	StepProfileParse Step = "profile-parse"
	StepMerge        Step = "merge"
	StepNormalize    Step = "normalize"
)

var (
	// ErrCancelled marks work abandoned because the run was cancelled. It is
	// never reported as a PipelineError.
	ErrCancelled = fmt.Errorf("%s: %w", CodeCancelled, context.Canceled)
	// ErrNoData means every source finished but none produced a usable record.
	ErrNoData = errors.New("no usable records from any source")
	// ErrUnsupportedSchemaVersion is returned by readers of the output envelope.
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
)

// PipelineError is the only error shape that leaves the pipeline. Target and
// Message are sanitized at construction.
type PipelineError struct {
	Code     ErrorCode `json:"code"`
	Provider string    `json:"provider"`
	Step     Step      `json:"step"`
	Target   string    `json:"target,omitempty"`
	Message  string    `json:"message"`
	cause    error
}

func NewPipelineError(code ErrorCode, provider string, step Step, target string, cause error) *PipelineError {
	msg := string(code)
	if cause != nil {
		msg = cause.Error()
	}
	return &PipelineError{
		Code:     code,
		Provider: provider,
		Step:     step,
		Target:   sanitizer.Sanitize(target),
		Message:  sanitizer.Sanitize(msg),
		cause:    cause,
	}
}

func (e *PipelineError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s [%s/%s]: %s", e.Code, e.Provider, e.Step, e.Message)
	}
	return fmt.Sprintf("%s [%s/%s] %s: %s", e.Code, e.Provider, e.Step, e.Target, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.cause
}

// IsCancellation reports whether err stems from a cancelled run.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
