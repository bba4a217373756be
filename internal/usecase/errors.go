package usecase

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers. A rejected verification
// is a Verdict, never an error.
type ErrorKind int

const (
	// KindInternal covers persistence and signing failures.
	KindInternal ErrorKind = iota
	// KindInvalidRequest is missing or malformed input; nothing is recorded.
	KindInvalidRequest
	// KindNotFound is an identity with no enrolled reference; nothing is recorded.
	KindNotFound
	// KindServiceUnavailable means every requested evidence path failed. Retryable.
	KindServiceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// ErrAllEvidenceFailed is wrapped when no requested evidence path produced a result.
var ErrAllEvidenceFailed = errors.New("all evidence paths failed")

// VerificationError is the error type returned by the use case.
type VerificationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *VerificationError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return KindInternal
}

func invalidRequest(message string, err error) error {
	return &VerificationError{Kind: KindInvalidRequest, Message: message, Err: err}
}

func notFound(message string, err error) error {
	return &VerificationError{Kind: KindNotFound, Message: message, Err: err}
}

func unavailable(message string, err error) error {
	return &VerificationError{Kind: KindServiceUnavailable, Message: message, Err: err}
}

func internal(message string, err error) error {
	return &VerificationError{Kind: KindInternal, Message: message, Err: err}
}
