// Package stageerr defines the error taxonomy shared by every pipeline stage.
//
// Each stage returns a *Error tagged with the Kind of failure; the
// orchestrator hands it back to the Lambda runtime unchanged so the trigger
// can decide whether to redeliver the event.
package stageerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a pipeline failure by the stage that produced it.
type Kind int

const (
	// InvalidEvent indicates the trigger payload named no object.
	InvalidEvent Kind = iota
	// ConfigUnavailable indicates the filter configuration could not be loaded or is invalid.
	ConfigUnavailable
	// InvalidKeyFormat indicates the object key does not end in .json.gz.
	InvalidKeyFormat
	// FetchError indicates the object could not be streamed from the store to scratch.
	FetchError
	// DecompressError indicates malformed gzip data or an I/O failure while inflating.
	DecompressError
	// ParseError indicates the log document or one of its records is malformed.
	ParseError
	// NotifyError indicates at least one notification dispatch failed.
	NotifyError
)

var kindNames = map[Kind]string{
	InvalidEvent:      "InvalidEvent",
	ConfigUnavailable: "ConfigUnavailable",
	InvalidKeyFormat:  "InvalidKeyFormat",
	FetchError:        "FetchError",
	DecompressError:   "DecompressError",
	ParseError:        "ParseError",
	NotifyError:       "NotifyError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a stage failure. Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a stage error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf is New with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// Is reports whether err carries a stage error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
