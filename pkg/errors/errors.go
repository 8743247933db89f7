// Package errors provides custom error types for the detonator SDK.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the base error type for all SDK errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "sandbox.SubmitFile")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindNetwork means the sandbox backend could not be reached at all.
	// Recoverable: the caller may retry the whole job later.
	KindNetwork

	// KindTimeout means a phase window (guest start, analysis) expired.
	KindTimeout

	// KindBusy means the backend rejected a request because its VM pool
	// is exhausted. Retried with longer backoff than plain network errors.
	KindBusy

	// KindNotFound maps to HTTP 404 on a task or report resource.
	KindNotFound

	// KindMissingReport means the task reached "reported" but the report
	// itself is gone. Triggers a full resubmission under a new filename.
	KindMissingReport

	// KindTaskMissing means the backend lost track of a submitted task.
	KindTaskMissing

	// KindSubmission means the file could not be submitted within the
	// bounded retry budget.
	KindSubmission

	// KindAnalysisFailed means the sandbox reported the analysis as failed.
	KindAnalysisFailed

	// KindProcessing means report normalization or artifact extraction
	// failed after a report was obtained.
	KindProcessing

	// KindInvalidInput covers bad configuration or unusable submissions.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindBusy:
		return "busy"
	case KindNotFound:
		return "not_found"
	case KindMissingReport:
		return "missing_report"
	case KindTaskMissing:
		return "task_missing"
	case KindSubmission:
		return "submission"
	case KindAnalysisFailed:
		return "analysis_failed"
	case KindProcessing:
		return "processing"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPError represents a non-2xx response from the sandbox API.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsHTTPError checks if err is an HTTPError and returns it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsNotFound checks for a 404 response or a KindNotFound error.
func IsNotFound(err error) bool {
	if GetKind(err) == KindNotFound {
		return true
	}
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsServerError checks if the error is a 5xx server error.
func IsServerError(err error) bool {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode >= 500
	}
	return false
}

// IsNetwork checks if the error is a connectivity error.
func IsNetwork(err error) bool {
	return GetKind(err) == KindNetwork
}

// IsTimeout checks if the error is a phase timeout.
func IsTimeout(err error) bool {
	return GetKind(err) == KindTimeout
}

// IsBusy checks if the backend reported VM pool exhaustion.
func IsBusy(err error) bool {
	return GetKind(err) == KindBusy
}

// IsMissingReport checks for the report-gone-after-reported condition.
func IsMissingReport(err error) bool {
	return GetKind(err) == KindMissingReport
}

// IsRecoverable reports whether the caller may retry the whole job later.
// Connectivity failures, busy backends and phase timeouts are recoverable;
// submission exhaustion, failed analyses and processing errors are not.
func IsRecoverable(err error) bool {
	switch GetKind(err) {
	case KindNetwork, KindBusy, KindTimeout:
		return true
	}
	return false
}

// Common errors.
var (
	// ErrBackendUnreachable is returned when the sandbox cannot be reached.
	ErrBackendUnreachable = &Error{Kind: KindNetwork, Message: "sandbox backend unreachable"}

	// ErrBackendBusy is returned when the VM pool has no available machine.
	ErrBackendBusy = &Error{Kind: KindBusy, Message: "sandbox VM pool exhausted"}

	// ErrTaskMissing is returned when a submitted task disappears.
	ErrTaskMissing = &Error{Kind: KindTaskMissing, Message: "task went missing"}

	// ErrMissingReport is returned when a reported task has no report.
	ErrMissingReport = &Error{Kind: KindMissingReport, Message: "task or report not found"}

	// ErrMissingAPIKey is returned when the auth token is missing.
	ErrMissingAPIKey = &Error{Kind: KindInvalidInput, Message: "API key is required"}
)
