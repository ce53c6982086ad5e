package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by snapferry wraps exactly one of these.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrConnection       = errors.New("connection error")
	ErrNotFound         = errors.New("not found")
	ErrCollaborator     = errors.New("collaborator error")
	ErrTransfer         = errors.New("transfer error")
	ErrMalformedArchive = errors.New("malformed archive")
)

// ErrPermissionDenied is wrapped by transports when the remote side refuses
// an operation for lack of permission, whatever the protocol reported.
var ErrPermissionDenied = errors.New("permission denied")

type Error struct {
	Kind       error
	Op         string
	Err        error
	Suggestion string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %v", e.Op, e.Kind)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf("\nSuggestion: %s", e.Suggestion)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) *Error { return newError(ErrConfiguration, op, err) }

func Connection(op string, err error) *Error { return newError(ErrConnection, op, err) }

func NotFound(op string, err error) *Error { return newError(ErrNotFound, op, err) }

func Collaborator(op string, err error) *Error { return newError(ErrCollaborator, op, err) }

func Transfer(op string, err error) *Error { return newError(ErrTransfer, op, err) }

func Malformed(op string, err error) *Error { return newError(ErrMalformedArchive, op, err) }

// WithSuggestion attaches a human hint shown under the error message.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// KindOf reports which error kind err carries, or nil if none.
func KindOf(err error) error {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return nil
}
