package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWrongType       = errors.New("declared media type is not an image")
	ErrTooLarge        = errors.New("file size exceeds maximum allowed")
	ErrDecodeFailed    = errors.New("image could not be decoded")
	ErrEngineFailed    = errors.New("background removal failed")
	ErrHandleRevoked   = errors.New("display handle is revoked or unknown")
	ErrScopeClosed     = errors.New("resource scope is closed")
	ErrSessionActive   = errors.New("session is still processing")
	ErrNoSession       = errors.New("no session")
	ErrSessionNotFound = errors.New("session not found")
	ErrClosed          = errors.New("orchestrator is shut down")
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation-error"
	KindDecode     ErrorKind = "decode-error"
	KindEngine     ErrorKind = "engine-error"
	KindResource   ErrorKind = "resource-error"
)

type RejectReason string

const (
	ReasonWrongType RejectReason = "wrong-type"
	ReasonTooLarge  RejectReason = "too-large"
)

// ErrorRecord is attached to a failed session and cleared on reset.
type ErrorRecord struct {
	Kind    ErrorKind    `json:"kind"`
	Reason  RejectReason `json:"reason,omitempty"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
}

func (r ErrorRecord) Error() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", r.Kind, r.Reason, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Unwrap maps the record back to the sentinel errors so callers can use errors.Is.
func (r ErrorRecord) Unwrap() error {
	switch {
	case r.Reason == ReasonWrongType:
		return ErrWrongType
	case r.Reason == ReasonTooLarge:
		return ErrTooLarge
	case r.Kind == KindDecode:
		return ErrDecodeFailed
	case r.Kind == KindEngine:
		return ErrEngineFailed
	case r.Kind == KindResource:
		return ErrHandleRevoked
	}
	return nil
}

func NewValidationError(reason RejectReason) ErrorRecord {
	switch reason {
	case ReasonTooLarge:
		return ErrorRecord{
			Kind:    KindValidation,
			Reason:  ReasonTooLarge,
			Title:   "File too large",
			Message: "Please upload an image smaller than 10MB",
		}
	default:
		return ErrorRecord{
			Kind:    KindValidation,
			Reason:  ReasonWrongType,
			Title:   "Invalid file type",
			Message: "Please upload an image file (JPEG, PNG, etc.)",
		}
	}
}

func NewDecodeError() ErrorRecord {
	return ErrorRecord{
		Kind:    KindDecode,
		Title:   "Processing failed",
		Message: "The image could not be read. Please try another file.",
	}
}

func NewEngineError() ErrorRecord {
	return ErrorRecord{
		Kind:    KindEngine,
		Title:   "Processing failed",
		Message: "There was an issue removing the background. Please try again.",
	}
}

func NewResourceError() ErrorRecord {
	return ErrorRecord{
		Kind:    KindResource,
		Title:   "Image unavailable",
		Message: "This image is no longer available. Please process it again.",
	}
}
