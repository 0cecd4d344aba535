// Package services holds the business logic for documents, chat sessions, and
// the question-answering pipeline. This file centralizes the error values so
// handlers and socket transports can classify failures consistently.
//
// Every returned error belongs to one kind (ErrValidation, ErrNotFound,
// ErrForbidden, ErrUpstream); specific errors wrap their kind with %w.
// Translation into status codes happens in the transport layer.
package services

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrUpstream   = errors.New("upstream failure")
	ErrTimeout    = errors.New("upstream timeout")
)

// Validation errors.
var (
	ErrEmptyQuery          = fmt.Errorf("%w: query text is required", ErrValidation)
	ErrMissingDocumentID   = fmt.Errorf("%w: document_id is required", ErrValidation)
	ErrQueryTooLong        = fmt.Errorf("%w: query is too long", ErrValidation)
	ErrUnsupportedFile     = fmt.Errorf("%w: only PDF files are supported", ErrValidation)
	ErrEmptyFile           = fmt.Errorf("%w: uploaded file is empty", ErrValidation)
	ErrFileTooLarge        = fmt.Errorf("%w: uploaded file is too large", ErrValidation)
	ErrSessionMismatch     = fmt.Errorf("%w: chat session belongs to a different document", ErrValidation)
	ErrIdempotencyMismatch = fmt.Errorf("%w: idempotency key was used for a different conversation", ErrValidation)
)

// Lookup and ownership errors.
var (
	ErrSessionNotFound   = fmt.Errorf("%w: chat session not found", ErrNotFound)
	ErrDocumentNotFound  = fmt.Errorf("%w: document not found", ErrNotFound)
	ErrSessionForbidden  = fmt.Errorf("%w: access denied to this chat session", ErrForbidden)
	ErrDocumentForbidden = fmt.Errorf("%w: access denied to this document", ErrForbidden)
)

// ValidationError carries a client-facing message for a rejected input
// together with the underlying cause.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// UpstreamError reports a failed call to storage, the index, the database, or
// the model provider. It matches both ErrUpstream and its cause with
// errors.Is, and ErrTimeout when the cause is a deadline.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() []error {
	if e.Timeout() {
		return []error{ErrUpstream, ErrTimeout, e.Err}
	}
	return []error{ErrUpstream, e.Err}
}

// Timeout reports whether the upstream call ran out of time.
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrTimeout)
}

func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}

// IsTimeout reports whether err stems from a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Message returns the client-safe text for err: the specific message for
// validation, not-found, and forbidden errors, and a generic one otherwise.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return clientText(err)
	default:
		return "internal server error"
	}
}

// clientText strips the "<kind>: " prefix added by the sentinel wrapping.
func clientText(err error) string {
	msg := err.Error()
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrForbidden} {
		p := kind.Error() + ": "
		if len(msg) > len(p) && msg[:len(p)] == p {
			msg = msg[len(p):]
			break
		}
	}
	if msg != "" {
		msg = string(toUpperFirst(msg))
	}
	return msg
}

func toUpperFirst(s string) []byte {
	b := []byte(s)
	if len(b) > 0 && b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return b
}
